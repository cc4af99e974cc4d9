package realtime

import (
	"encoding/json"
	"time"

	"github.com/MrWong99/rtscribe/pkg/provider/stt"
)

// MessageError is the Message type of a session that failed.
const MessageError = "error"

// Message is the JSON form of an [Event], shared by the websocket protocol
// and the event sinks. Times are whole milliseconds.
type Message struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Segment   *SegmentMessage `json:"segment,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// SegmentMessage is the JSON form of a [stt.Segment].
type SegmentMessage struct {
	StartMS    int64          `json:"start_ms"`
	DurationMS int64          `json:"duration_ms"`
	Text       string         `json:"text"`
	Language   string         `json:"language,omitempty"`
	Confidence *float32       `json:"confidence,omitempty"`
	Tokens     []TokenMessage `json:"tokens,omitempty"`
}

// TokenMessage is the JSON form of a [stt.Token].
type TokenMessage struct {
	ID                  *int     `json:"id,omitempty"`
	Text                string   `json:"text"`
	StartMS             *int64   `json:"start_ms,omitempty"`
	DurationMS          *int64   `json:"duration_ms,omitempty"`
	Confidence          *float32 `json:"confidence,omitempty"`
	ConfidenceLog       *float32 `json:"confidence_log,omitempty"`
	TimestampConfidence *float32 `json:"timestamp_confidence,omitempty"`
}

// NewMessage converts ev. The segment is included only for segment events.
func NewMessage(ev Event) Message {
	m := Message{Type: ev.Type.String(), SessionID: ev.SessionID}
	if ev.Type == SegmentRecognizing || ev.Type == SegmentRecognized {
		seg := NewSegmentMessage(ev.Segment)
		m.Segment = &seg
	}
	return m
}

// ErrorMessage reports err for a session.
func ErrorMessage(sessionID string, err error) Message {
	return Message{Type: MessageError, SessionID: sessionID, Error: err.Error()}
}

// NewSegmentMessage converts seg.
func NewSegmentMessage(seg stt.Segment) SegmentMessage {
	sm := SegmentMessage{
		StartMS:    seg.Start.Milliseconds(),
		DurationMS: seg.Duration.Milliseconds(),
		Text:       seg.Text,
		Language:   seg.Language,
		Confidence: seg.Confidence,
	}
	for _, tok := range seg.Tokens {
		sm.Tokens = append(sm.Tokens, TokenMessage{
			ID:                  tok.ID,
			Text:                tok.Text,
			StartMS:             millis(tok.Start),
			DurationMS:          millis(tok.Duration),
			Confidence:          tok.Confidence,
			ConfidenceLog:       tok.ConfidenceLog,
			TimestampConfidence: tok.TimestampConfidence,
		})
	}
	return sm
}

// Segment converts sm back into a segment.
func (sm SegmentMessage) Segment() stt.Segment {
	seg := stt.Segment{
		Start:      time.Duration(sm.StartMS) * time.Millisecond,
		Duration:   time.Duration(sm.DurationMS) * time.Millisecond,
		Text:       sm.Text,
		Language:   sm.Language,
		Confidence: sm.Confidence,
	}
	for _, tm := range sm.Tokens {
		seg.Tokens = append(seg.Tokens, stt.Token{
			ID:                  tm.ID,
			Text:                tm.Text,
			Start:               duration(tm.StartMS),
			Duration:            duration(tm.DurationMS),
			Confidence:          tm.Confidence,
			ConfidenceLog:       tm.ConfidenceLog,
			TimestampConfidence: tm.TimestampConfidence,
		})
	}
	return seg
}

// MarshalJSON encodes ev as a [Message].
func (ev Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(NewMessage(ev))
}

// ParseEventType is the inverse of [EventType.String]. It reports false for
// unknown names.
func ParseEventType(s string) (EventType, bool) {
	for t := SessionStarted; t <= SegmentRecognized; t++ {
		if t.String() == s {
			return t, true
		}
	}
	return 0, false
}

func millis(d *time.Duration) *int64 {
	if d == nil {
		return nil
	}
	return stt.Ptr(d.Milliseconds())
}

func duration(ms *int64) *time.Duration {
	if ms == nil {
		return nil
	}
	return stt.Ptr(time.Duration(*ms) * time.Millisecond)
}
