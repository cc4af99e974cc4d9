package audio

import (
	"context"
	"time"
)

// Source is a random-access, read-only view of interleaved audio frames.
//
// FrameCount returns the index one past the last readable frame. For
// discardable sources this includes frames already discarded: indices are
// stable for the lifetime of the source.
//
// Slices returned by Samples and Frames may alias internal storage and must be
// treated as read-only. A read starting at or past FrameCount returns an empty
// slice; a read near the end returns fewer frames than requested.
type Source interface {
	// Format returns the PCM layout. The zero Format is returned while the
	// source is not initialized.
	Format() Format

	// FrameCount returns the index one past the last readable frame.
	FrameCount() int64

	// Duration returns the time covered by frames [0, FrameCount).
	Duration() time.Duration

	// Samples returns up to maxFrames frames starting at startFrame as
	// interleaved float samples in [-1, 1].
	Samples(startFrame int64, maxFrames int) ([]float32, error)

	// Frames returns up to maxFrames frames starting at startFrame serialized
	// as little-endian PCM at the source's BitsPerSample.
	Frames(startFrame int64, maxFrames int) ([]byte, error)

	// CopyFrames serializes up to maxFrames frames starting at startFrame into
	// dst and returns the number of frames written. dst must hold at least
	// maxFrames*FrameSize bytes or the copy is truncated to whole frames.
	CopyFrames(dst []byte, startFrame int64, maxFrames int) (int, error)
}

// Discardable is a [Source] that can drop frames from its front once they are
// no longer needed. Discarding is monotonic and irreversible.
type Discardable interface {
	Source

	// DiscardFrames drops count frames from the front of the retained range.
	DiscardFrames(count int64) error

	// DiscardedFrames returns the number of frames discarded so far, which is
	// also the lowest readable frame index.
	DiscardedFrames() int64
}

// Awaitable is a live [Source] that a single consumer can block on while a
// single producer appends frames.
type Awaitable interface {
	Source

	// Flushed reports whether the producer declared that no more frames will
	// arrive.
	Flushed() bool

	// WaitForInitialization blocks until the format is known and the first
	// frame arrived, or ctx is done.
	WaitForInitialization(ctx context.Context) error

	// WaitForFrames blocks until FrameCount exceeds minFrames, the source is
	// flushed, or ctx is done.
	WaitForFrames(ctx context.Context, minFrames int64) error

	// WaitForDuration blocks until Duration exceeds minDuration, the source
	// is flushed, or ctx is done.
	WaitForDuration(ctx context.Context, minDuration time.Duration) error
}

// ReadAllSamples reads every readable sample of src starting at startFrame.
// It is a convenience for transcription backends that need the whole clip.
func ReadAllSamples(src Source, startFrame int64) ([]float32, error) {
	n := src.FrameCount() - startFrame
	if n <= 0 {
		return nil, nil
	}
	return src.Samples(startFrame, int(n))
}

// ReadAllFrames reads every readable frame of src as PCM bytes.
func ReadAllFrames(src Source, startFrame int64) ([]byte, error) {
	n := src.FrameCount() - startFrame
	if n <= 0 {
		return nil, nil
	}
	return src.Frames(startFrame, int(n))
}
