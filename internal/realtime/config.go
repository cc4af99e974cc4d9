package realtime

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/rtscribe/pkg/provider/stt"
)

// Config holds the per-session transcription options and the tunable
// durations of the processing loop. The zero value is not usable; start from
// [DefaultConfig].
type Config struct {
	// Language is the language passed to the transcriptor when
	// LanguageAutoDetect is false.
	Language string

	// LanguageAutoDetect lets the backend detect the spoken language.
	LanguageAutoDetect bool

	// DetectLanguageOnce pins the first detected language for the rest of
	// the session. Only meaningful with LanguageAutoDetect.
	DetectLanguageOnce bool

	// TokenDetails requests per-token detail from the backend.
	TokenDetails bool

	// Prompt is the initial prompt passed to every clip.
	Prompt string

	// Recognizing enables preview events for speech still in progress.
	Recognizing bool

	// ConcatenateSegmentsToPrompt appends every recognized text to the
	// running prompt of the session.
	ConcatenateSegmentsToPrompt bool

	// ProcessingInterval is how much new audio must arrive before the next
	// detection pass when nothing changed since the last one.
	ProcessingInterval time.Duration

	// PaddingDuration is added around every speech span before
	// transcription.
	PaddingDuration time.Duration

	// MinDurationWithPadding is the shortest clip sent to a backend. Shorter
	// clips are padded with synthesized silence.
	MinDurationWithPadding time.Duration

	// MinTranscriptDuration is the shortest speech span worth transcribing.
	MinTranscriptDuration time.Duration

	// SilenceDiscardInterval bounds how much speechless audio is kept before
	// half of it is released.
	SilenceDiscardInterval time.Duration
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		LanguageAutoDetect:     true,
		ProcessingInterval:     100 * time.Millisecond,
		PaddingDuration:        125 * time.Millisecond,
		MinDurationWithPadding: 1100 * time.Millisecond,
		MinTranscriptDuration:  200 * time.Millisecond,
		SilenceDiscardInterval: 5 * time.Second,
	}
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if c.ProcessingInterval <= 0 {
		errs = append(errs, fmt.Errorf("realtime: processing interval must be positive, got %s", c.ProcessingInterval))
	}
	if c.SilenceDiscardInterval <= 0 {
		errs = append(errs, fmt.Errorf("realtime: silence discard interval must be positive, got %s", c.SilenceDiscardInterval))
	}
	for _, f := range []struct {
		name string
		d    time.Duration
	}{
		{"padding duration", c.PaddingDuration},
		{"min duration with padding", c.MinDurationWithPadding},
		{"min transcript duration", c.MinTranscriptDuration},
	} {
		if f.d < 0 {
			errs = append(errs, fmt.Errorf("realtime: %s must not be negative, got %s", f.name, f.d))
		}
	}
	if !c.LanguageAutoDetect && c.DetectLanguageOnce {
		errs = append(errs, errors.New("realtime: detect language once requires language auto-detection"))
	}
	return errors.Join(errs...)
}

// options returns the base transcriptor options before per-clip
// substitutions.
func (c Config) options() stt.Options {
	return stt.Options{
		Language:           c.Language,
		LanguageAutoDetect: c.LanguageAutoDetect,
		TokenDetails:       c.TokenDetails,
		Prompt:             c.Prompt,
	}
}
