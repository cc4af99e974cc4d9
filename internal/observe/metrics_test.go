package observe

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns metrics backed by a manual reader.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// attrKey renders the attributes of a data point as "k=v,k=v" in sorted
// key order.
func attrKey(set attribute.Set) string {
	s := ""
	for i, kv := range set.ToSlice() {
		if i > 0 {
			s += ","
		}
		s += fmt.Sprintf("%s=%s", kv.Key, kv.Value.Emit())
	}
	return s
}

// sums returns the value of every data point of an int64 sum by attrKey.
func sums(t *testing.T, rm metricdata.ResourceMetrics, name string) map[string]int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %s not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %s is %T, not an int64 sum", name, met.Data)
	}
	out := map[string]int64{}
	for _, dp := range sum.DataPoints {
		out[attrKey(dp.Attributes)] = dp.Value
	}
	return out
}

// counts returns the sample count of every histogram data point by attrKey.
func counts(t *testing.T, rm metricdata.ResourceMetrics, name string) map[string]uint64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %s not found", name)
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric %s is %T, not a float64 histogram", name, met.Data)
	}
	out := map[string]uint64{}
	for _, dp := range hist.DataPoints {
		out[attrKey(dp.Attributes)] = dp.Count
	}
	return out
}

func TestOutcome(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want string
	}{
		{nil, OutcomeOK},
		{context.Canceled, OutcomeCanceled},
		{fmt.Errorf("clip: %w", context.DeadlineExceeded), OutcomeCanceled},
		{errors.New("whisper: 500"), OutcomeError},
	}
	for _, tt := range tests {
		if got := Outcome(tt.err); got != tt.want {
			t.Errorf("Outcome(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestRecordClip(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordClip(ctx, "recognized", 300*time.Millisecond, nil)
	m.RecordClip(ctx, "recognized", 2*time.Second, errors.New("timeout from backend"))
	m.RecordClip(ctx, "recognizing", 50*time.Millisecond, nil)
	m.RecordClip(ctx, "recognizing", 10*time.Millisecond, context.Canceled)
	m.RecordVADPass(ctx, 2*time.Millisecond)

	rm := collect(t, reader)
	want := map[string]uint64{
		"kind=recognized,outcome=ok":        1,
		"kind=recognized,outcome=error":     1,
		"kind=recognizing,outcome=ok":       1,
		"kind=recognizing,outcome=canceled": 1,
	}
	got := counts(t, rm, "rtscribe.stt.clip.duration")
	for k, v := range want {
		if got[k] != v {
			t.Errorf("clip samples %s = %d, want %d (all: %v)", k, got[k], v, got)
		}
	}
	if got := counts(t, rm, "rtscribe.vad.pass.duration"); got[""] != 1 {
		t.Errorf("vad samples = %v, want one", got)
	}
}

func TestCounters(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSegment(ctx, "recognized")
	m.RecordSegment(ctx, "recognized")
	m.RecordSegment(ctx, "recognizing")
	m.RecordDiscard(ctx, 16000)
	m.RecordDiscard(ctx, 8000)
	m.RecordBreakerTransition(ctx, "deepgram", "open")
	m.RecordBreakerTransition(ctx, "deepgram", "half-open")
	m.RecordBreakerTransition(ctx, "deepgram", "open")

	rm := collect(t, reader)
	tests := []struct {
		metric string
		key    string
		want   int64
	}{
		{"rtscribe.segments", "kind=recognized", 2},
		{"rtscribe.segments", "kind=recognizing", 1},
		{"rtscribe.frames.discarded", "", 24000},
		{"rtscribe.provider.breaker.transitions", "provider=deepgram,state=open", 2},
		{"rtscribe.provider.breaker.transitions", "provider=deepgram,state=half-open", 1},
	}
	for _, tt := range tests {
		if got := sums(t, rm, tt.metric)[tt.key]; got != tt.want {
			t.Errorf("%s{%s} = %d, want %d", tt.metric, tt.key, got, tt.want)
		}
	}
}

func TestSessionStarted(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx, cancel := context.WithCancel(context.Background())

	first := m.SessionStarted(ctx)
	second := m.SessionStarted(ctx)
	if got := sums(t, collect(t, reader), "rtscribe.sessions.active")[""]; got != 2 {
		t.Errorf("active sessions = %d, want 2", got)
	}

	// Ending after cancellation still records.
	cancel()
	first("stopped")
	second("canceled")

	rm := collect(t, reader)
	if got := sums(t, rm, "rtscribe.sessions.active")[""]; got != 0 {
		t.Errorf("active sessions = %d, want 0", got)
	}
	ended := sums(t, rm, "rtscribe.sessions")
	if ended["reason=stopped"] != 1 || ended["reason=canceled"] != 1 {
		t.Errorf("ended sessions = %v", ended)
	}
}

func TestDefaultMetrics(t *testing.T) {
	t.Parallel()
	if DefaultMetrics() == nil || DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics() is not a stable non-nil instance")
	}
}
