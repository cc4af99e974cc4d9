// Package stt defines the contract for Speech-to-Text backends used by the
// realtime pipeline.
//
// A backend is a [Factory] that creates a [Transcriptor] for a fixed set of
// [Options]. A Transcriptor transcribes one bounded clip per call and yields
// the recognized [Segment] values lazily. The realtime orchestrator creates a
// fresh Transcriptor whenever the options change (detected language, prompt
// carry-over), so implementations should keep Create cheap and share heavy
// resources (loaded models, HTTP clients) at the Factory level.
//
// Factories must be safe for concurrent use. A single Transcriptor is used by
// one goroutine at a time.
package stt

import (
	"context"
	"errors"
	"iter"

	"github.com/MrWong99/rtscribe/pkg/audio"
)

// ErrClosed is returned when a closed Transcriptor is used.
var ErrClosed = errors.New("stt: transcriptor is closed")

// Options configures a Transcriptor.
type Options struct {
	// Language is the BCP-47 or ISO 639-1 code to recognize (e.g., "en", "de").
	// Ignored when LanguageAutoDetect is set.
	Language string

	// LanguageAutoDetect asks the backend to detect the spoken language. The
	// detected code is reported on each Segment.
	LanguageAutoDetect bool

	// TokenDetails requests per-token detail in Segment.Tokens. Backends that
	// cannot provide tokens leave the field nil.
	TokenDetails bool

	// Prompt is free text passed to the backend as context for the clip
	// (previous transcript, domain vocabulary). Empty means no prompt.
	Prompt string
}

// Transcriptor transcribes bounded audio clips.
type Transcriptor interface {
	// Transcribe reads src once and yields the recognized segments in start
	// time order. Segment times are relative to the start of src. The
	// sequence is finite and not restartable; it stops early when the
	// consumer stops iterating or ctx is done. A non-nil error ends the
	// sequence.
	Transcribe(ctx context.Context, src audio.Source) iter.Seq2[Segment, error]

	// Close releases resources held for this transcriptor. Calling Close more
	// than once is safe and returns nil.
	Close() error
}

// Factory creates Transcriptors. It is the top-level type implemented by each
// backend.
type Factory interface {
	// Create returns a Transcriptor configured with opts. It returns an error
	// if opts are not supported by the backend (e.g., unknown language).
	Create(opts Options) (Transcriptor, error)
}

// Single returns a sequence that yields exactly one error. Backends use it to
// report setup failures from Transcribe.
func Single(err error) iter.Seq2[Segment, error] {
	return func(yield func(Segment, error) bool) {
		yield(Segment{}, err)
	}
}
