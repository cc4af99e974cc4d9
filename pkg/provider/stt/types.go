package stt

import "time"

// Segment is one recognized span of speech.
type Segment struct {
	// Start is the offset of the segment from the start of the transcribed
	// source.
	Start time.Duration

	// Duration is the length of the segment.
	Duration time.Duration

	// Text is the recognized speech content.
	Text string

	// Language is the detected or configured language code. Empty when the
	// backend does not report it.
	Language string

	// Confidence is the overall confidence in [0, 1], or nil when the backend
	// does not report one.
	Confidence *float32

	// Tokens holds per-token detail in order when [Options.TokenDetails] was
	// requested and the backend supports it.
	Tokens []Token
}

// End returns Start + Duration.
func (s Segment) End() time.Duration { return s.Start + s.Duration }

// Token is the smallest unit a backend recognizes (a word or sub-word piece).
// Every field is optional because backends differ in what they expose.
type Token struct {
	ID                  *int
	Text                string
	Start               *time.Duration
	Duration            *time.Duration
	Confidence          *float32
	ConfidenceLog       *float32
	TimestampConfidence *float32
}

// Ptr returns a pointer to v. Backends use it to fill optional fields.
func Ptr[T any](v T) *T { return &v }
