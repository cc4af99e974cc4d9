// Package server exposes the realtime transcriber over HTTP.
//
// Clients stream audio to the websocket endpoint /v1/transcribe:
//
//  1. A text frame with a [StartRequest] ({"type":"start", ...}).
//  2. Binary frames with audio in the negotiated encoding.
//  3. Optionally {"type":"stop"} to flush the stream. Closing the connection
//     normally has the same effect.
//
// The server answers with one text frame per event, encoded as a
// [realtime.Message], and closes the connection after the terminal event.
// Recognized events are vocabulary-corrected before they are sent, persisted
// and published.
//
// Read-only JSON endpoints list active sessions and query stored
// transcripts. Health and metrics handlers are mounted when configured.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/rtscribe/internal/health"
	"github.com/MrWong99/rtscribe/internal/observe"
	"github.com/MrWong99/rtscribe/internal/realtime"
	"github.com/MrWong99/rtscribe/internal/sink"
	"github.com/MrWong99/rtscribe/internal/store"
	"github.com/MrWong99/rtscribe/internal/transcript"
)

const (
	defaultStartTimeout = 10 * time.Second
	defaultWriteTimeout = 5 * time.Second
	defaultReadLimit    = 1 << 20
)

// ErrorPublisher is implemented by sinks that also report session failures.
type ErrorPublisher interface {
	PublishError(sessionID string, err error) error
}

// Server serves transcription sessions. Create it with [New].
type Server struct {
	factory   *realtime.Factory
	corrector *transcript.Corrector
	store     store.TranscriptStore
	sinks     []sink.Handler
	health    *health.Handler
	metrics   *observe.Metrics
	promHTTP  http.Handler
	sessions  *SessionManager

	accept       websocket.AcceptOptions
	startTimeout time.Duration
	writeTimeout time.Duration
	readLimit    int64

	draining atomic.Bool
}

// Option is a functional option for [New].
type Option func(*Server)

// WithCorrector corrects recognized text against a vocabulary.
func WithCorrector(c *transcript.Corrector) Option {
	return func(s *Server) { s.corrector = c }
}

// WithStore persists sessions and serves the transcript endpoints.
func WithStore(st store.TranscriptStore) Option {
	return func(s *Server) { s.store = st }
}

// WithSink adds an event sink. Sinks receive every event of every session.
func WithSink(h sink.Handler) Option {
	return func(s *Server) { s.sinks = append(s.sinks, h) }
}

// WithHealth mounts /healthz and /readyz and flags the handler as draining
// on shutdown.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics sets the metrics used by the HTTP middleware. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMetricsHandler mounts h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.promHTTP = h }
}

// WithOriginPatterns allows cross-origin websocket clients from the given
// host patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.accept.OriginPatterns = patterns }
}

// WithTimeouts overrides how long a client may take to send the start
// message and how long a single event write may block.
func WithTimeouts(start, write time.Duration) Option {
	return func(s *Server) {
		if start > 0 {
			s.startTimeout = start
		}
		if write > 0 {
			s.writeTimeout = write
		}
	}
}

// New returns a Server creating its sessions with factory.
func New(factory *realtime.Factory, opts ...Option) (*Server, error) {
	if factory == nil {
		return nil, errors.New("server: realtime factory is required")
	}
	s := &Server{
		factory:      factory,
		sessions:     NewSessionManager(),
		startTimeout: defaultStartTimeout,
		writeTimeout: defaultWriteTimeout,
		readLimit:    defaultReadLimit,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s, nil
}

// Sessions returns the manager tracking active sessions.
func (s *Server) Sessions() *SessionManager { return s.sessions }

// Handler returns the HTTP handler with every route mounted.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/transcribe", s.handleTranscribe)
	mux.HandleFunc("GET /v1/sessions", s.handleActiveSessions)
	mux.HandleFunc("GET /v1/sessions/{id}", s.handleStoredSession)
	mux.HandleFunc("GET /v1/search", s.handleSearch)
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.promHTTP != nil {
		mux.Handle("GET /metrics", s.promHTTP)
	}
	return observe.Middleware(s.metrics)(mux)
}

// Drain stops accepting sessions and waits for the active ones to finish.
// When ctx expires first, the remaining sessions are canceled and given
// until the write timeout to deliver their canceled event.
func (s *Server) Drain(ctx context.Context) error {
	s.draining.Store(true)
	if s.health != nil {
		s.health.SetDraining(true)
	}
	n := s.sessions.Len()
	if n == 0 {
		return nil
	}
	slog.Info("draining transcription sessions", "active", n)

	if err := s.sessions.Wait(ctx); err == nil {
		return nil
	}
	slog.Warn("drain deadline exceeded, canceling sessions", "active", s.sessions.Len())
	s.sessions.CancelAll()

	waitCtx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()
	return s.sessions.Wait(waitCtx)
}
