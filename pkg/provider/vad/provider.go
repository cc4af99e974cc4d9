// Package vad defines the contract for Voice Activity Detection backends used
// by the realtime pipeline.
//
// A [Detector] scans an audio source and lazily yields the speech spans it
// finds. The last span of a pass may be marked Incomplete when speech was
// still ongoing at the end of the source, i.e. the detector had not yet seen
// enough trailing silence to close it. The realtime orchestrator runs the
// detector repeatedly over the unprocessed tail of a live buffer, so a
// Detector must not assume it sees a source only once per lifetime.
//
// An [Engine] creates Detectors from a [Config]. Engines must be safe for
// concurrent use; a single Detector is used by one goroutine at a time.
package vad

import (
	"context"
	"iter"
	"time"

	"github.com/MrWong99/rtscribe/pkg/audio"
)

// Config holds the detection parameters for a Detector.
type Config struct {
	// MinSpeechDuration is the shortest run of speech frames reported as a
	// span. Shorter bursts are treated as noise. Default: 150 ms.
	MinSpeechDuration time.Duration

	// MinSilenceDuration is the amount of trailing silence needed to close a
	// span. Default: 150 ms.
	MinSilenceDuration time.Duration

	// SpeechThreshold is the backend-specific level above which a frame is
	// classified as speech. Zero selects the backend default.
	SpeechThreshold float64

	// SilenceThreshold is the level below which a frame is classified as
	// silence. Must be ≤ SpeechThreshold. Zero selects the backend default.
	SilenceThreshold float64
}

// DefaultConfig returns a Config with the default durations and backend
// default thresholds.
func DefaultConfig() Config {
	return Config{
		MinSpeechDuration:  150 * time.Millisecond,
		MinSilenceDuration: 150 * time.Millisecond,
	}
}

// Detector finds speech spans in audio.
type Detector interface {
	// DetectSegments reads src once and yields speech spans ordered by start
	// time. Span times are relative to the start of src. The sequence is
	// finite and stops early when the consumer stops iterating or ctx is done.
	// A non-nil error ends the sequence.
	DetectSegments(ctx context.Context, src audio.Source) iter.Seq2[Segment, error]
}

// Engine is the factory for Detectors.
type Engine interface {
	// NewDetector returns a Detector for cfg. It returns an error if cfg is
	// invalid for the backend.
	NewDetector(cfg Config) (Detector, error)
}
