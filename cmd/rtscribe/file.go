package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/rtscribe/internal/app"
	"github.com/MrWong99/rtscribe/internal/config"
	"github.com/MrWong99/rtscribe/internal/observe"
	"github.com/MrWong99/rtscribe/internal/realtime"
	"github.com/MrWong99/rtscribe/internal/transcript"
	"github.com/MrWong99/rtscribe/pkg/audio"
)

// fileOptions controls how a file is fed into the transcriber.
type fileOptions struct {
	// Speed is the playback rate relative to real time. Zero feeds the file
	// as fast as possible.
	Speed float64

	// Chunk is the amount of audio appended per step.
	Chunk time.Duration

	// Previews includes segment_recognizing events in the output.
	Previews bool
}

// runFile transcribes a WAV file as if it were a live stream.
func runFile(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("file", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	speed := fs.Float64("speed", 1, "playback speed relative to real time; 0 disables pacing")
	chunk := fs.Duration("chunk", 100*time.Millisecond, "audio appended per step")
	previews := fs.Bool("previews", false, "print segment_recognizing events")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "rtscribe: file expects exactly one WAV path")
		usage(stderr)
		return 2
	}
	opts := fileOptions{Speed: *speed, Chunk: *chunk, Previews: *previews}
	if opts.Speed < 0 || opts.Chunk <= 0 {
		fmt.Fprintln(stderr, "rtscribe: -speed must not be negative and -chunk must be positive")
		return 2
	}

	cfg, ok := loadConfig(*configPath, stderr)
	if !ok {
		return 1
	}
	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(stderr, level, cfg.Server.LogFormat))

	src, err := readWAV(fs.Arg(0))
	if err != nil {
		slog.Error("failed to read input", "err", err)
		return 1
	}

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	providers, closeProviders, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	defer closeProviders()

	factory, err := app.BuildFactory(cfg, providers, observe.DefaultMetrics())
	if err != nil {
		slog.Error("failed to create transcriber", "err", err)
		return 1
	}
	tr, err := factory.New(factory.Config())
	if err != nil {
		slog.Error("failed to create transcriber", "err", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("transcribing file", "path", fs.Arg(0), "format", src.Format().String(), "duration", src.Duration())
	corrector := transcript.NewCorrector(cfg.Vocabulary)
	if err := streamFile(ctx, tr, corrector, src, opts, stdout); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("transcription failed", "err", err)
		return 1
	}
	return 0
}

func readWAV(path string) (*audio.MemorySource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return audio.DecodeWAV(f)
}

// streamFile feeds src into an awaitable buffer in chunks while tr
// transcribes it, writing one JSON message per event to out.
func streamFile(ctx context.Context, tr *realtime.Transcriber, corrector *transcript.Corrector, src audio.Source, opts fileOptions, out io.Writer) error {
	buf := audio.NewAwaitableBuffer()
	if err := buf.Initialize(src.Format()); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer buf.Flush()
		return feed(gctx, buf, src, opts)
	})
	g.Go(func() error {
		enc := json.NewEncoder(out)
		events := tr.Transcribe(gctx, buf)
		if corrector != nil {
			events = corrector.Events(gctx, events)
		}
		for ev, err := range events {
			if err != nil {
				return err
			}
			if ev.Type == realtime.SegmentRecognizing && !opts.Previews {
				continue
			}
			if err := enc.Encode(realtime.NewMessage(ev)); err != nil {
				return fmt.Errorf("write event: %w", err)
			}
		}
		return nil
	})
	return g.Wait()
}

// feed appends src to buf chunk by chunk, sleeping between chunks to
// simulate a live source.
func feed(ctx context.Context, buf *audio.AwaitableBuffer, src audio.Source, opts fileOptions) error {
	f := src.Format()
	step := max(f.FramesIn(opts.Chunk), 1)
	delay := time.Duration(0)
	if opts.Speed > 0 {
		delay = time.Duration(float64(f.DurationOf(step)) / opts.Speed)
	}

	for pos := int64(0); pos < src.FrameCount(); pos += step {
		pcm, err := src.Frames(pos, int(step))
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		if err := buf.AppendPCM(pcm); err != nil {
			return err
		}
		if delay == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil
}
