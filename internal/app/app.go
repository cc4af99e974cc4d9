// Package app wires all rtscribe subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is canceled, and Shutdown
// drains sessions and tears everything down in order.
//
// For testing, inject implementations via functional options (WithStore,
// WithSink, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/rtscribe/internal/config"
	"github.com/MrWong99/rtscribe/internal/health"
	"github.com/MrWong99/rtscribe/internal/observe"
	"github.com/MrWong99/rtscribe/internal/realtime"
	"github.com/MrWong99/rtscribe/internal/resilience"
	"github.com/MrWong99/rtscribe/internal/server"
	"github.com/MrWong99/rtscribe/internal/sink"
	natssink "github.com/MrWong99/rtscribe/internal/sink/nats"
	"github.com/MrWong99/rtscribe/internal/store"
	"github.com/MrWong99/rtscribe/internal/store/postgres"
	"github.com/MrWong99/rtscribe/internal/store/sqlite"
	"github.com/MrWong99/rtscribe/internal/transcript"
	"github.com/MrWong99/rtscribe/pkg/provider/stt"
	"github.com/MrWong99/rtscribe/pkg/provider/vad"
)

const readHeaderTimeout = 10 * time.Second

// NamedSTT is an STT backend together with the provider name it was created
// from. The name labels circuit breakers and logs.
type NamedSTT struct {
	Name    string
	Factory stt.Factory
}

// Providers holds the backends created from the config registry. STT and VAD
// are required; PreviewSTT and STTFallbacks are optional.
type Providers struct {
	STT          stt.Factory
	STTFallbacks []NamedSTT
	PreviewSTT   stt.Factory
	VAD          vad.Engine
}

// App owns all subsystem lifetimes of the transcription server.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics   *observe.Metrics
	promHTTP  http.Handler
	logLevel  *slog.LevelVar
	sessionID func() string

	// Subsystems, initialised in New and torn down in Shutdown.
	factory     *realtime.Factory
	sttFallback *resilience.STTFallback
	corrector   *transcript.Corrector
	store       store.TranscriptStore
	sinks       []sink.Handler
	health      *health.Handler
	server      *server.Server
	http        *http.Server

	mu   sync.Mutex
	addr net.Addr

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a transcript store instead of opening one from config.
// The caller keeps ownership and closes it.
func WithStore(s store.TranscriptStore) Option {
	return func(a *App) { a.store = s }
}

// WithSink adds an event sink in addition to the configured ones.
func WithSink(h sink.Handler) Option {
	return func(a *App) { a.sinks = append(a.sinks, h) }
}

// WithMetrics sets the metrics instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.promHTTP = h }
}

// WithLogLevel lets configuration reloads change the log level.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// WithSessionIDs overrides session ID generation.
func WithSessionIDs(fn func() string) Option {
	return func(a *App) { a.sessionID = fn }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
//
// New connects the transcript store and the NATS sink synchronously, so a
// misconfigured dependency fails startup instead of the first session.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.STT == nil {
		return nil, errors.New("app: an stt provider is required")
	}
	if providers.VAD == nil {
		return nil, errors.New("app: a vad provider is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Realtime factory ──────────────────────────────────────────────
	if err := a.initFactory(); err != nil {
		return nil, fmt.Errorf("app: init realtime: %w", err)
	}

	// ── 2. Vocabulary corrector ──────────────────────────────────────────
	a.corrector = transcript.NewCorrector(cfg.Vocabulary)

	var checkers []health.Checker
	if a.sttFallback != nil {
		checkers = append(checkers, health.Checker{Name: "stt", Check: a.sttFallback.Check})
	}

	// ── 3. Transcript store ──────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	if a.store != nil {
		checkers = append(checkers, health.Checker{Name: "store", Check: a.store.Ping})
	}

	// ── 4. NATS sink ─────────────────────────────────────────────────────
	nc, err := a.initNATS()
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init nats: %w", err)
	}
	if nc != nil {
		checkers = append(checkers, health.Checker{Name: "nats", Check: nc.Check})
	}

	// ── 5. HTTP server ───────────────────────────────────────────────────
	a.health = health.New(checkers...)
	srvOpts := []server.Option{
		server.WithCorrector(a.corrector),
		server.WithHealth(a.health),
		server.WithMetrics(a.metrics),
	}
	if a.store != nil {
		srvOpts = append(srvOpts, server.WithStore(a.store))
	}
	for _, h := range a.sinks {
		srvOpts = append(srvOpts, server.WithSink(h))
	}
	if a.promHTTP != nil {
		srvOpts = append(srvOpts, server.WithMetricsHandler(a.promHTTP))
	}
	if patterns := cfg.Server.OriginPatterns; len(patterns) > 0 {
		srvOpts = append(srvOpts, server.WithOriginPatterns(patterns...))
	}
	a.server, err = server.New(a.factory, srvOpts...)
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init server: %w", err)
	}
	a.http = &http.Server{
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initFactory builds the realtime factory sessions are created with.
func (a *App) initFactory() error {
	opts := []realtime.Option{realtime.WithMetrics(a.metrics)}
	if a.sessionID != nil {
		opts = append(opts, realtime.WithSessionID(a.sessionID))
	}
	primary, fb := buildSTT(a.cfg, a.providers, a.metrics)
	f, err := newFactory(a.cfg, a.providers, primary, opts...)
	if err != nil {
		return err
	}
	a.factory = f
	a.sttFallback = fb
	return nil
}

// BuildFactory creates a realtime factory from cfg and p. The primary STT
// backend is wrapped in a circuit-breaking fallback chain when fallbacks are
// configured; breaker transitions are counted in m. opts are passed on to
// every Transcriber.
func BuildFactory(cfg *config.Config, p *Providers, m *observe.Metrics, opts ...realtime.Option) (*realtime.Factory, error) {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	primary, _ := buildSTT(cfg, p, m)
	return newFactory(cfg, p, primary, append(opts, realtime.WithMetrics(m))...)
}

// buildSTT returns the backend sessions transcribe with. The fallback chain
// is nil when no fallbacks are configured.
func buildSTT(cfg *config.Config, p *Providers, m *observe.Metrics) (stt.Factory, *resilience.STTFallback) {
	if len(p.STTFallbacks) == 0 {
		return p.STT, nil
	}
	fbCfg := cfg.Providers.CircuitBreaker.Fallback()
	fbCfg.CircuitBreaker.OnStateChange = func(name string, _, to resilience.State) {
		m.RecordBreakerTransition(context.Background(), name, to.String())
	}
	fb := resilience.NewSTTFallback(p.STT, cfg.Providers.STT.Name, fbCfg)
	for _, f := range p.STTFallbacks {
		fb.AddFallback(f.Name, f.Factory)
	}
	slog.Info("stt fallback chain enabled", "primary", cfg.Providers.STT.Name, "fallbacks", len(p.STTFallbacks))
	return fb, fb
}

func newFactory(cfg *config.Config, p *Providers, primary stt.Factory, opts ...realtime.Option) (*realtime.Factory, error) {
	if p.PreviewSTT != nil {
		opts = append(opts, realtime.WithPreviewFactory(p.PreviewSTT))
	}
	return realtime.NewFactory(primary, p.VAD, cfg.Realtime.Detector(), cfg.Realtime.Session(), opts...)
}

// initStore opens the configured transcript store unless one was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil || a.cfg.Store.Driver == "" {
		return nil
	}

	var (
		s   store.TranscriptStore
		err error
	)
	switch a.cfg.Store.Driver {
	case config.StorePostgres:
		s, err = postgres.New(ctx, a.cfg.Store.DSN)
	case config.StoreSQLite:
		s, err = sqlite.Open(ctx, a.cfg.Store.DSN)
	default:
		return fmt.Errorf("unknown driver %q", a.cfg.Store.Driver)
	}
	if err != nil {
		return err
	}
	a.store = s
	a.closers = append(a.closers, s.Close)
	slog.Info("transcript store opened", "driver", a.cfg.Store.Driver)
	return nil
}

// initNATS connects the NATS event publisher when a URL is configured.
func (a *App) initNATS() (*natssink.Sink, error) {
	nc := a.cfg.Sink.NATS
	if nc.URL == "" {
		return nil, nil
	}
	s, err := natssink.Connect(nc.URL, nc.SubjectPrefix, natssink.WithName(nc.Name))
	if err != nil {
		return nil, err
	}
	a.sinks = append(a.sinks, s)
	a.closers = append(a.closers, s.Close)
	return s, nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Server returns the HTTP transcription server.
func (a *App) Server() *server.Server { return a.server }

// Factory returns the realtime factory sessions are created with.
func (a *App) Factory() *realtime.Factory { return a.factory }

// Addr returns the listening address once Run has started, or nil.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable parts of a changed config. It is
// meant to be called from a [config.Watcher] change callback. Running
// sessions keep their settings; new sessions pick up the change.
func (a *App) ApplyConfig(next *config.Config, d config.ConfigDiff) {
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.RealtimeChanged {
		if err := a.factory.SetConfig(next.Realtime.Session()); err != nil {
			slog.Warn("ignoring invalid realtime config", "err", err)
		} else {
			a.factory.SetDetectorConfig(next.Realtime.Detector())
			slog.Info("realtime defaults reloaded")
		}
	}
	if d.VocabularyChanged {
		a.corrector.SetVocabulary(next.Vocabulary)
		slog.Info("vocabulary reloaded", "terms", len(next.Vocabulary))
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "sections", d.RestartRequired)
	}
}

// SlogLevel converts a config log level to a slog level.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run listens on the configured address and serves until ctx is canceled.
// It returns ctx's error on cancellation, or the listener error if serving
// failed.
func (a *App) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	if t := a.cfg.Server.TLS; t != nil {
		cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
		if err != nil {
			ln.Close()
			return fmt.Errorf("app: load tls certificate: %w", err)
		}
		ln = tls.NewListener(ln, &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		})
	}
	a.mu.Lock()
	a.addr = ln.Addr()
	a.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.http.Serve(ln)
	}()
	slog.Info("app running", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown drains active sessions, stops the HTTP server and closes every
// subsystem. Sessions still running when ctx expires are canceled.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "active_sessions", a.server.Sessions().Len(), "closers", len(a.closers))

		// Websocket connections are hijacked, so http.Server.Shutdown does
		// not wait for them.
		if err := a.server.Drain(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain sessions: %w", err))
		}
		if err := a.http.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		a.closeAll()
		slog.Info("shutdown complete")
	})
	return errors.Join(errs...)
}

// closeAll runs the closers in order, logging failures.
func (a *App) closeAll() {
	for i, closer := range a.closers {
		if err := closer(); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
	a.closers = nil
}
