// Package audio provides the in-memory audio sources shared between a live
// producer (microphone capture, websocket ingest, file decode) and the
// realtime transcription pipeline.
//
// The central types are:
//
//   - [Buffer]: a growable store of interleaved frames that can discard
//     already-consumed frames from the front.
//   - [AwaitableBuffer]: a [Buffer] guarded by a single mutex that lets one
//     consumer wait for new frames, for initialization, or for the producer
//     to flush.
//   - [Slice], [Concat] and [Silence]: read-only views used to hand a
//     transcriber exactly the span it needs without copying the buffer.
//
// Frame indices are "virtual": they count every frame ever appended to a
// source, including frames that were discarded later. Reads below the discard
// watermark fail with [ErrDiscardedRange].
package audio

import (
	"fmt"
	"time"
)

// Format describes the PCM layout of an audio stream. It is fixed once a
// source is initialized and never changes afterwards.
type Format struct {
	// SampleRate in Hz (e.g., 16000 for STT, 48000 for Opus).
	SampleRate uint32

	// Channels is the number of interleaved channels per frame.
	Channels uint16

	// BitsPerSample is the PCM sample width used when frames are serialized
	// as bytes: 8 (unsigned), 16, 24 or 32 (signed, little-endian).
	BitsPerSample uint16
}

// Validate reports whether f describes a usable PCM format.
func (f Format) Validate() error {
	if f.SampleRate == 0 {
		return fmt.Errorf("audio: sample rate must be positive")
	}
	if f.Channels == 0 {
		return fmt.Errorf("audio: channel count must be positive")
	}
	switch f.BitsPerSample {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("audio: unsupported bits per sample %d", f.BitsPerSample)
	}
	return nil
}

// FrameSize returns the number of bytes one serialized frame occupies.
func (f Format) FrameSize() int {
	return int(f.Channels) * int(f.BitsPerSample) / 8
}

// FramesIn converts d to a frame count, rounding down. Negative durations
// yield zero.
func (f Format) FramesIn(d time.Duration) int64 {
	if d <= 0 || f.SampleRate == 0 {
		return 0
	}
	secs := int64(d / time.Second)
	rem := int64(d % time.Second)
	return secs*int64(f.SampleRate) + rem*int64(f.SampleRate)/int64(time.Second)
}

// DurationOf converts a frame count to a duration.
func (f Format) DurationOf(frames int64) time.Duration {
	if frames <= 0 || f.SampleRate == 0 {
		return 0
	}
	rate := int64(f.SampleRate)
	secs := frames / rate
	rem := frames % rate
	return time.Duration(secs)*time.Second + time.Duration(rem*int64(time.Second)/rate)
}

// String returns a compact human-readable representation, e.g. "16000Hz/1ch/16bit".
func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch/%dbit", f.SampleRate, f.Channels, f.BitsPerSample)
}
