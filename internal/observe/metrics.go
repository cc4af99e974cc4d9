// Package observe ties rtscribe into OpenTelemetry: metric instruments for
// the transcription pipeline, span helpers, session-aware structured
// logging, and the HTTP middleware joining them.
//
// Metrics are exported to Prometheus by [InitProvider]. [DefaultMetrics]
// records into the global meter provider; tests build their own with
// [NewMetrics] and a manual reader.
package observe

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope of all rtscribe metrics.
const meterName = "github.com/MrWong99/rtscribe"

// Clip outcomes recorded by [Metrics.RecordClip].
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeCanceled = "canceled"
)

// Metrics holds the instruments of one meter provider. Record through the
// methods; the fields are exported for tests and custom views.
type Metrics struct {
	// ClipDuration is the wall time of transcribing one clip, by kind
	// ("recognized" or "recognizing") and outcome.
	ClipDuration metric.Float64Histogram

	// VADDuration is the wall time of one detection pass.
	VADDuration metric.Float64Histogram

	// Segments counts emitted segments by kind.
	Segments metric.Int64Counter

	// FramesDiscarded counts frames released from session buffers.
	FramesDiscarded metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes by provider
	// and new state.
	BreakerTransitions metric.Int64Counter

	// Sessions counts ended sessions by reason.
	Sessions metric.Int64Counter

	// ActiveSessions is the number of running sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration is the request latency by method, route and
	// status. For websocket sessions it is the connection lifetime.
	HTTPRequestDuration metric.Float64Histogram
}

// clipBuckets spans fast local models to slow remote APIs, in seconds.
var clipBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := builder{m: mp.Meter(meterName)}
	met := &Metrics{
		ClipDuration: b.histogram("rtscribe.stt.clip.duration", "Latency of transcribing one clip.",
			metric.WithExplicitBucketBoundaries(clipBuckets...)),
		VADDuration: b.histogram("rtscribe.vad.pass.duration", "Latency of one voice activity detection pass.",
			metric.WithExplicitBucketBoundaries(clipBuckets...)),
		Segments:           b.counter("rtscribe.segments", "Emitted segments by kind."),
		FramesDiscarded:    b.counter("rtscribe.frames.discarded", "Audio frames released from session buffers."),
		BreakerTransitions: b.counter("rtscribe.provider.breaker.transitions", "Circuit breaker state changes by provider and new state."),
		Sessions:           b.counter("rtscribe.sessions", "Ended transcription sessions by reason."),
		ActiveSessions:     b.upDown("rtscribe.sessions.active", "Running transcription sessions."),
		HTTPRequestDuration: b.histogram("rtscribe.http.request.duration", "HTTP request latency by method, route and status.",
			metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 300, 3600)),
	}
	if b.err != nil {
		return nil, b.err
	}
	return met, nil
}

// builder collects instrument creation errors so NewMetrics reads as a
// list.
type builder struct {
	m   metric.Meter
	err error
}

func (b *builder) histogram(name, desc string, opts ...metric.Float64HistogramOption) metric.Float64Histogram {
	h, err := b.m.Float64Histogram(name, append(opts, metric.WithDescription(desc), metric.WithUnit("s"))...)
	b.err = errors.Join(b.err, err)
	return h
}

func (b *builder) counter(name, desc string) metric.Int64Counter {
	c, err := b.m.Int64Counter(name, metric.WithDescription(desc))
	b.err = errors.Join(b.err, err)
	return c
}

func (b *builder) upDown(name, desc string) metric.Int64UpDownCounter {
	c, err := b.m.Int64UpDownCounter(name, metric.WithDescription(desc))
	b.err = errors.Join(b.err, err)
	return c
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide [Metrics] on the global meter
// provider. Instruments created before [InitProvider] runs are forwarded to
// the SDK once it is installed.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Outcome classifies err for [Metrics.RecordClip].
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCanceled
	default:
		return OutcomeError
	}
}

// RecordClip records the transcription of one clip of the given kind.
func (m *Metrics) RecordClip(ctx context.Context, kind string, d time.Duration, err error) {
	m.ClipDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", Outcome(err)),
	))
}

// RecordVADPass records one detection pass.
func (m *Metrics) RecordVADPass(ctx context.Context, d time.Duration) {
	m.VADDuration.Record(ctx, d.Seconds())
}

// RecordSegment counts one emitted segment.
func (m *Metrics) RecordSegment(ctx context.Context, kind string) {
	m.Segments.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordDiscard counts frames released from a session buffer.
func (m *Metrics) RecordDiscard(ctx context.Context, frames int64) {
	m.FramesDiscarded.Add(ctx, frames)
}

// RecordBreakerTransition counts a circuit breaker moving to state to.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("state", to),
	))
}

// SessionStarted increments the active session gauge. The returned function
// decrements it and counts the session under reason; call it exactly once.
func (m *Metrics) SessionStarted(ctx context.Context) (ended func(reason string)) {
	m.ActiveSessions.Add(ctx, 1)
	ctx = context.WithoutCancel(ctx)
	return func(reason string) {
		m.ActiveSessions.Add(ctx, -1)
		m.Sessions.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
}
