package realtime_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/rtscribe/internal/realtime"
	"github.com/MrWong99/rtscribe/pkg/provider/stt"
)

func TestEvent_MarshalJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ev   realtime.Event
		want string
	}{
		{
			name: "started",
			ev:   realtime.Event{Type: realtime.SessionStarted, SessionID: "s1"},
			want: `{"type":"session_started","session_id":"s1"}`,
		},
		{
			name: "stopped drops segment",
			ev:   realtime.Event{Type: realtime.SessionStopped, SessionID: "s1", Segment: stt.Segment{Text: "x"}},
			want: `{"type":"session_stopped","session_id":"s1"}`,
		},
		{
			name: "recognized",
			ev: realtime.Event{
				Type:      realtime.SegmentRecognized,
				SessionID: "s1",
				Segment: stt.Segment{
					Start:      1500 * time.Millisecond,
					Duration:   250 * time.Millisecond,
					Text:       "hello",
					Language:   "en",
					Confidence: stt.Ptr[float32](0.5),
					Tokens: []stt.Token{{
						ID:    stt.Ptr(7),
						Text:  "hello",
						Start: stt.Ptr(1500 * time.Millisecond),
					}},
				},
			},
			want: `{"type":"segment_recognized","session_id":"s1","segment":{"start_ms":1500,"duration_ms":250,"text":"hello","language":"en","confidence":0.5,"tokens":[{"id":7,"text":"hello","start_ms":1500}]}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := json.Marshal(tt.ev)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("got  %s\nwant %s", got, tt.want)
			}
		})
	}
}

func TestSegmentMessage_Segment(t *testing.T) {
	t.Parallel()

	seg := stt.Segment{
		Start:    2 * time.Second,
		Duration: 300 * time.Millisecond,
		Text:     "hi",
		Tokens: []stt.Token{
			{Text: "hi", Start: stt.Ptr(2 * time.Second), Duration: stt.Ptr(300 * time.Millisecond)},
			{Text: "."},
		},
	}
	back := realtime.NewSegmentMessage(seg).Segment()
	if back.Start != seg.Start || back.Duration != seg.Duration || back.Text != seg.Text {
		t.Errorf("segment = %+v, want %+v", back, seg)
	}
	if len(back.Tokens) != 2 || *back.Tokens[0].Duration != 300*time.Millisecond || back.Tokens[1].Start != nil {
		t.Errorf("tokens = %+v", back.Tokens)
	}
}

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	m := realtime.ErrorMessage("s1", errors.New("stt down"))
	b, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(b), `"type":"error"`) || !strings.Contains(string(b), `"error":"stt down"`) {
		t.Errorf("got %s", b)
	}
}

func TestParseEventType(t *testing.T) {
	t.Parallel()

	for _, et := range []realtime.EventType{
		realtime.SessionStarted, realtime.SessionStopped, realtime.SessionCanceled,
		realtime.SegmentRecognizing, realtime.SegmentRecognized,
	} {
		got, ok := realtime.ParseEventType(et.String())
		if !ok || got != et {
			t.Errorf("ParseEventType(%q) = %v, %v", et.String(), got, ok)
		}
	}
	if _, ok := realtime.ParseEventType("bogus"); ok {
		t.Error("ParseEventType(bogus) reported ok")
	}
}
