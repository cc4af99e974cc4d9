package realtime

import (
	"fmt"

	"github.com/MrWong99/rtscribe/pkg/provider/stt"
)

// EventType discriminates the variants of [Event].
type EventType int

const (
	// SessionStarted is always the first event of a session.
	SessionStarted EventType = iota + 1

	// SessionStopped ends a session whose source was flushed and fully
	// transcribed.
	SessionStopped

	// SessionCanceled ends a session whose context was canceled.
	SessionCanceled

	// SegmentRecognizing carries a preview of speech still in progress. A
	// later event may revise it.
	SegmentRecognizing

	// SegmentRecognized carries a final segment. Recognized segments arrive
	// in non-decreasing start order.
	SegmentRecognized
)

// String returns the snake_case name used on the wire.
func (t EventType) String() string {
	switch t {
	case SessionStarted:
		return "session_started"
	case SessionStopped:
		return "session_stopped"
	case SessionCanceled:
		return "session_canceled"
	case SegmentRecognizing:
		return "segment_recognizing"
	case SegmentRecognized:
		return "segment_recognized"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Terminal reports whether t ends a session.
func (t EventType) Terminal() bool {
	return t == SessionStopped || t == SessionCanceled
}

// Event is one item of a session's event stream. Segment is set only for
// SegmentRecognizing and SegmentRecognized; its times are absolute offsets
// into the source stream.
type Event struct {
	Type      EventType
	SessionID string
	Segment   stt.Segment
}
