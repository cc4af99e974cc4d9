package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/rtscribe/pkg/audio"
	"github.com/MrWong99/rtscribe/pkg/provider/stt"
	sttmock "github.com/MrWong99/rtscribe/pkg/provider/stt/mock"
)

func testClip(t *testing.T) audio.Source {
	t.Helper()
	f := audio.Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}
	return audio.NewSilence(time.Second, f)
}

func collectSegments(t *testing.T, tr stt.Transcriptor, clip audio.Source) ([]stt.Segment, error) {
	t.Helper()
	var (
		segs    []stt.Segment
		lastErr error
	)
	for seg, err := range tr.Transcribe(context.Background(), clip) {
		if err != nil {
			lastErr = err
			continue
		}
		segs = append(segs, seg)
	}
	return segs, lastErr
}

func TestSTTFallback_PrimarySuccess(t *testing.T) {
	primary := &sttmock.Factory{Segments: []stt.Segment{{Text: "primary"}}}
	secondary := &sttmock.Factory{Segments: []stt.Segment{{Text: "secondary"}}}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	tr, err := fb.Create(stt.Options{Language: "en"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	segs, err := collectSegments(t, tr, testClip(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(segs) != 1 || segs[0].Text != "primary" {
		t.Fatalf("segments = %+v, want one from primary", segs)
	}
	if len(primary.Calls()) != 1 {
		t.Fatalf("primary called %d times, want 1", len(primary.Calls()))
	}
	if len(secondary.Calls()) != 0 {
		t.Fatalf("secondary called %d times, want 0", len(secondary.Calls()))
	}
	if got := primary.Options()[0].Language; got != "en" {
		t.Errorf("primary language = %q, want en", got)
	}
	_ = tr.Close()
}

func TestSTTFallback_FailoverBeforeFirstSegment(t *testing.T) {
	tests := []struct {
		name    string
		primary *sttmock.Factory
	}{
		{"create fails", &sttmock.Factory{CreateErr: errors.New("primary down")}},
		{"transcribe fails", &sttmock.Factory{TranscribeErr: errors.New("primary down")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			secondary := &sttmock.Factory{Segments: []stt.Segment{{Text: "secondary"}}}

			fb := NewSTTFallback(tt.primary, "primary", FallbackConfig{
				CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
			})
			fb.AddFallback("secondary", secondary)

			tr, _ := fb.Create(stt.Options{})
			segs, err := collectSegments(t, tr, testClip(t))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(segs) != 1 || segs[0].Text != "secondary" {
				t.Fatalf("segments = %+v, want one from secondary", segs)
			}
			if len(secondary.Calls()) != 1 {
				t.Fatalf("secondary called %d times, want 1", len(secondary.Calls()))
			}
		})
	}
}

func TestSTTFallback_NoFailoverAfterSegment(t *testing.T) {
	errLate := errors.New("connection reset")
	primary := &sttmock.Factory{
		Segments:      []stt.Segment{{Text: "partial"}},
		TranscribeErr: errLate,
	}
	secondary := &sttmock.Factory{Segments: []stt.Segment{{Text: "secondary"}}}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	tr, _ := fb.Create(stt.Options{})
	segs, err := collectSegments(t, tr, testClip(t))
	if !errors.Is(err, errLate) {
		t.Fatalf("err = %v, want %v", err, errLate)
	}
	if errors.Is(err, ErrAllFailed) {
		t.Error("late failure reported as ErrAllFailed")
	}
	if len(segs) != 1 || segs[0].Text != "partial" {
		t.Fatalf("segments = %+v, want only the partial one", segs)
	}
	if len(secondary.Calls()) != 0 {
		t.Fatalf("secondary called %d times, want 0", len(secondary.Calls()))
	}
}

func TestSTTFallback_AllFail(t *testing.T) {
	primary := &sttmock.Factory{CreateErr: errors.New("primary down")}
	secondary := &sttmock.Factory{TranscribeErr: errors.New("secondary down")}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	tr, _ := fb.Create(stt.Options{})
	_, err := collectSegments(t, tr, testClip(t))
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestSTTFallback_ClosedTranscriptor(t *testing.T) {
	fb := NewSTTFallback(&sttmock.Factory{}, "primary", FallbackConfig{})
	tr, _ := fb.Create(stt.Options{})
	_ = tr.Close()

	_, err := collectSegments(t, tr, testClip(t))
	if !errors.Is(err, stt.ErrClosed) {
		t.Fatalf("err = %v, want stt.ErrClosed", err)
	}
}

func TestSTTFallback_OpenCircuitSkipsPrimary(t *testing.T) {
	primary := &sttmock.Factory{TranscribeErr: errors.New("primary down")}
	secondary := &sttmock.Factory{Segments: []stt.Segment{{Text: "secondary"}}}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})
	fb.AddFallback("secondary", secondary)

	for range 3 {
		tr, _ := fb.Create(stt.Options{})
		if _, err := collectSegments(t, tr, testClip(t)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if n := len(primary.Calls()); n != 1 {
		t.Errorf("primary called %d times, want 1 before its circuit opened", n)
	}
	if n := len(secondary.Calls()); n != 3 {
		t.Errorf("secondary called %d times, want 3", n)
	}
}

func TestSTTFallback_Check(t *testing.T) {
	primary := &sttmock.Factory{TranscribeErr: errors.New("primary down")}
	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})

	if err := fb.Check(context.Background()); err != nil {
		t.Fatalf("Check before failures: %v", err)
	}
	tr, _ := fb.Create(stt.Options{})
	if _, err := collectSegments(t, tr, testClip(t)); !errors.Is(err, ErrAllFailed) {
		t.Fatalf("transcribe err = %v, want ErrAllFailed", err)
	}
	if got := fb.States(); len(got) != 1 || got[0].State != StateOpen {
		t.Errorf("States() = %v, want primary open", got)
	}
	if err := fb.Check(context.Background()); !errors.Is(err, ErrAllFailed) {
		t.Errorf("Check = %v, want ErrAllFailed", err)
	}
}

func TestSTTFallback_CancellationKeepsCircuitClosed(t *testing.T) {
	primary := &sttmock.Factory{Segments: []stt.Segment{{Text: "primary"}}}
	secondary := &sttmock.Factory{Segments: []stt.Segment{{Text: "secondary"}}}
	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})
	fb.AddFallback("secondary", secondary)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for range 3 {
		tr, err := fb.Create(stt.Options{})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		var lastErr error
		for _, err := range tr.Transcribe(ctx, testClip(t)) {
			if err != nil {
				lastErr = err
			}
		}
		if !errors.Is(lastErr, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", lastErr)
		}
	}

	if n := len(secondary.Calls()); n != 0 {
		t.Errorf("secondary called %d times for canceled clips, want 0", n)
	}
	for _, st := range fb.States() {
		if st.State != StateClosed {
			t.Errorf("%s state = %v, want closed", st.Name, st.State)
		}
	}
	if err := fb.Check(context.Background()); err != nil {
		t.Errorf("Check after cancellations: %v", err)
	}

	tr, _ := fb.Create(stt.Options{})
	segs, err := collectSegments(t, tr, testClip(t))
	if err != nil || len(segs) != 1 || segs[0].Text != "primary" {
		t.Errorf("segments = %v, err = %v, want primary to serve", segs, err)
	}
}
