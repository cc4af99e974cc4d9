package vad

import "time"

// Segment is one span of detected speech.
type Segment struct {
	// Start is the offset of the span from the start of the scanned source.
	Start time.Duration

	// Duration is the length of the span.
	Duration time.Duration

	// Incomplete is set on the last span of a pass when speech was still
	// ongoing at the end of the source.
	Incomplete bool
}

// End returns Start + Duration.
func (s Segment) End() time.Duration { return s.Start + s.Duration }
