// Package storetest provides a behavioural test suite shared by every
// [store.TranscriptStore] implementation.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/rtscribe/internal/store"
	"github.com/MrWong99/rtscribe/pkg/audio"
	"github.com/MrWong99/rtscribe/pkg/provider/stt"
)

// Run exercises s through the whole [store.TranscriptStore] contract. Session
// IDs are prefixed with the test name so the suite can share a database with
// other tests.
func Run(t *testing.T, s store.TranscriptStore) {
	t.Helper()
	ctx := context.Background()
	prefix := t.Name() + "-" + time.Now().Format("150405.000000000") + "-"
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	format := audio.Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}

	t.Run("Ping", func(t *testing.T) {
		if err := s.Ping(ctx); err != nil {
			t.Fatalf("Ping: %v", err)
		}
	})

	t.Run("SessionLifecycle", func(t *testing.T) {
		id := prefix + "lifecycle"
		err := s.CreateSession(ctx, store.Session{
			ID: id, Status: store.StatusActive, Language: "en", Format: format, StartedAt: started,
		})
		if err != nil {
			t.Fatalf("CreateSession: %v", err)
		}

		got, err := s.Session(ctx, id)
		if err != nil {
			t.Fatalf("Session: %v", err)
		}
		if got.Status != store.StatusActive || got.Language != "en" || got.Format != format {
			t.Errorf("Session = %+v", got)
		}
		if !got.StartedAt.Equal(started) {
			t.Errorf("StartedAt = %v, want %v", got.StartedAt, started)
		}
		if !got.EndedAt.IsZero() {
			t.Errorf("EndedAt = %v, want zero for an active session", got.EndedAt)
		}

		ended := started.Add(90 * time.Second)
		if err := s.FinishSession(ctx, id, store.StatusStopped, ended); err != nil {
			t.Fatalf("FinishSession: %v", err)
		}
		got, err = s.Session(ctx, id)
		if err != nil {
			t.Fatalf("Session: %v", err)
		}
		if got.Status != store.StatusStopped {
			t.Errorf("Status = %q, want %q", got.Status, store.StatusStopped)
		}
		if !got.EndedAt.Equal(ended) {
			t.Errorf("EndedAt = %v, want %v", got.EndedAt, ended)
		}
	})

	t.Run("DuplicateSession", func(t *testing.T) {
		sess := store.Session{ID: prefix + "dup", Status: store.StatusActive, StartedAt: started}
		if err := s.CreateSession(ctx, sess); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
		if err := s.CreateSession(ctx, sess); err == nil {
			t.Fatal("second CreateSession succeeded, want error")
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, err := s.Session(ctx, prefix+"missing"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("Session err = %v, want ErrNotFound", err)
		}
		err := s.FinishSession(ctx, prefix+"missing", store.StatusStopped, started)
		if !errors.Is(err, store.ErrNotFound) {
			t.Errorf("FinishSession err = %v, want ErrNotFound", err)
		}
	})

	t.Run("Segments", func(t *testing.T) {
		id := prefix + "segments"
		if err := s.CreateSession(ctx, store.Session{ID: id, Status: store.StatusActive, StartedAt: started}); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
		want := []stt.Segment{
			{
				Start:      1200 * time.Millisecond,
				Duration:   2 * time.Second,
				Text:       "hello world",
				Language:   "en",
				Confidence: stt.Ptr[float32](0.5),
				Tokens: []stt.Token{
					{ID: stt.Ptr(7), Text: "hello", Start: stt.Ptr(1200 * time.Millisecond), Duration: stt.Ptr(400 * time.Millisecond), Confidence: stt.Ptr[float32](0.25)},
					{Text: " world"},
				},
			},
			{Start: 4 * time.Second, Duration: time.Second, Text: "second one"},
		}
		// Insert out of order; reads come back by seq.
		if err := s.AppendSegment(ctx, id, 1, want[1]); err != nil {
			t.Fatalf("AppendSegment(1): %v", err)
		}
		if err := s.AppendSegment(ctx, id, 0, want[0]); err != nil {
			t.Fatalf("AppendSegment(0): %v", err)
		}

		got, err := s.Segments(ctx, id)
		if err != nil {
			t.Fatalf("Segments: %v", err)
		}
		if len(got) != len(want) {
			t.Fatalf("len(Segments) = %d, want %d", len(got), len(want))
		}
		for i := range want {
			compareSegment(t, i, got[i], want[i])
		}

		if err := s.AppendSegment(ctx, id, 0, want[0]); err == nil {
			t.Error("duplicate seq accepted, want error")
		}
	})

	t.Run("SegmentsEmpty", func(t *testing.T) {
		got, err := s.Segments(ctx, prefix+"nothing")
		if err != nil {
			t.Fatalf("Segments: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("Segments = %+v, want none", got)
		}
	})

	t.Run("Search", func(t *testing.T) {
		first, second := prefix+"search-a", prefix+"search-b"
		for i, id := range []string{first, second} {
			err := s.CreateSession(ctx, store.Session{
				ID: id, Status: store.StatusActive, StartedAt: started.Add(time.Duration(i) * time.Hour),
			})
			if err != nil {
				t.Fatalf("CreateSession: %v", err)
			}
		}
		segs := map[string][]string{
			first:  {"the zyxquorp reactor is online", "nothing to see"},
			second: {"restart the Zyxquorp reactor now"},
		}
		for id, texts := range segs {
			for seq, text := range texts {
				if err := s.AppendSegment(ctx, id, seq, stt.Segment{Text: text}); err != nil {
					t.Fatalf("AppendSegment: %v", err)
				}
			}
		}

		hits, err := s.Search(ctx, "zyxquorp reactor", 0)
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(hits) != 2 {
			t.Fatalf("Search returned %d hits, want 2: %+v", len(hits), hits)
		}
		if hits[0].SessionID != first || hits[0].Seq != 0 {
			t.Errorf("hits[0] = %s/%d, want %s/0", hits[0].SessionID, hits[0].Seq, first)
		}
		if hits[1].SessionID != second || hits[1].Segment.Text != "restart the Zyxquorp reactor now" {
			t.Errorf("hits[1] = %+v", hits[1])
		}

		limited, err := s.Search(ctx, "zyxquorp", 1)
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(limited) != 1 {
			t.Errorf("Search with limit 1 returned %d hits", len(limited))
		}

		none, err := s.Search(ctx, "zyxquorp offline", 0)
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(none) != 0 {
			t.Errorf("Search returned %+v, want no hits", none)
		}
	})
}

func compareSegment(t *testing.T, i int, got, want stt.Segment) {
	t.Helper()
	if got.Start != want.Start || got.Duration != want.Duration || got.Text != want.Text || got.Language != want.Language {
		t.Errorf("segment %d = %+v, want %+v", i, got, want)
	}
	if (got.Confidence == nil) != (want.Confidence == nil) {
		t.Errorf("segment %d confidence = %v, want %v", i, got.Confidence, want.Confidence)
	} else if want.Confidence != nil && *got.Confidence != *want.Confidence {
		t.Errorf("segment %d confidence = %v, want %v", i, *got.Confidence, *want.Confidence)
	}
	if len(got.Tokens) != len(want.Tokens) {
		t.Fatalf("segment %d has %d tokens, want %d", i, len(got.Tokens), len(want.Tokens))
	}
	for j, tok := range want.Tokens {
		g := got.Tokens[j]
		if g.Text != tok.Text {
			t.Errorf("segment %d token %d text = %q, want %q", i, j, g.Text, tok.Text)
		}
		if (g.ID == nil) != (tok.ID == nil) || (tok.ID != nil && *g.ID != *tok.ID) {
			t.Errorf("segment %d token %d id = %v, want %v", i, j, g.ID, tok.ID)
		}
		if (g.Start == nil) != (tok.Start == nil) || (tok.Start != nil && *g.Start != *tok.Start) {
			t.Errorf("segment %d token %d start = %v, want %v", i, j, g.Start, tok.Start)
		}
	}
}
