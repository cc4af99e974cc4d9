// Command rtscribe is the realtime speech transcription server.
//
// Usage:
//
//	rtscribe [serve] [-config config.yaml]
//	rtscribe file [-config config.yaml] [-speed 1] [-chunk 100ms] [-previews] input.wav
//
// serve accepts websocket transcription sessions. file streams a WAV file
// through the same pipeline in simulated real time and prints one JSON event
// per line.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/rtscribe/internal/app"
	"github.com/MrWong99/rtscribe/internal/config"
	"github.com/MrWong99/rtscribe/internal/observe"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// shutdownTimeout bounds how long active sessions may keep running after a
// shutdown signal before they are canceled.
const shutdownTimeout = 30 * time.Second

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cmd := "serve"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}
	switch cmd {
	case "serve":
		return runServe(args, stderr)
	case "file":
		return runFile(args, stdout, stderr)
	case "version":
		fmt.Fprintln(stdout, "rtscribe", version)
		return 0
	case "help":
		usage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "rtscribe: unknown command %q\n", cmd)
		usage(stderr)
		return 2
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, `Usage:
  rtscribe [serve] [-config config.yaml]
  rtscribe file [-config config.yaml] [-speed 1] [-chunk 100ms] [-previews] input.wav
  rtscribe version`)
}

// runServe runs the transcription server until SIGINT or SIGTERM.
func runServe(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, ok := loadConfig(*configPath, stderr)
	if !ok {
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(stderr, level, cfg.Server.LogFormat))

	slog.Info("rtscribe starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "rtscribe",
		ServiceVersion: version,
		SampleRatio:    cfg.Server.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := otelShutdown(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, closeProviders, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	defer closeProviders()

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(stderr, cfg)

	application, err := app.New(ctx, cfg, providers,
		app.WithMetricsHandler(promhttp.Handler()),
		app.WithLogLevel(level),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(_, next *config.Config, d config.ConfigDiff) {
		application.ApplyConfig(next, d)
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	slog.Info("shutdown signal received, draining sessions")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	slog.Info("goodbye")
	return code
}

// loadConfig loads the config file, printing a friendly message on failure.
func loadConfig(path string, stderr io.Writer) (*config.Config, bool) {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(stderr, "rtscribe: config file %q not found, copy configs/example.yaml to get started\n", path)
		} else {
			fmt.Fprintf(stderr, "rtscribe: %v\n", err)
		}
		return nil, false
	}
	return cfg, true
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║        rtscribe startup summary       ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printRow(w, "STT", providerLabel(cfg.Providers.STT))
	for _, fb := range cfg.Providers.STTFallbacks {
		printRow(w, "STT fallback", providerLabel(fb))
	}
	printRow(w, "Preview STT", providerLabel(cfg.Providers.PreviewSTT))
	printRow(w, "VAD", providerLabel(cfg.Providers.VAD))
	printRow(w, "Language", cfg.Realtime.Language)
	store := "(disabled)"
	if cfg.Store.Driver != "" {
		store = string(cfg.Store.Driver)
	}
	printRow(w, "Store", store)
	nats := "(disabled)"
	if cfg.Sink.NATS.URL != "" {
		nats = cfg.Sink.NATS.SubjectPrefix + ".>"
	}
	printRow(w, "NATS", nats)
	printRow(w, "Vocabulary", fmt.Sprintf("%d terms", len(cfg.Vocabulary)))
	if cfg.Server.ListenAddr != "" {
		printRow(w, "Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func providerLabel(e config.ProviderEntry) string {
	switch {
	case e.Name == "":
		return "(not configured)"
	case e.Model != "":
		return e.Name + " / " + e.Model
	default:
		return e.Name
	}
}

func printRow(w io.Writer, key, value string) {
	if r := []rune(value); len(r) > 19 {
		value = string(r[:18]) + "…"
	}
	fmt.Fprintf(w, "║  %-14s  : %-19s ║\n", key, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(w io.Writer, level slog.Leveler, format config.LogFormat) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
