package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/MrWong99/rtscribe/internal/app"
	"github.com/MrWong99/rtscribe/internal/config"
	"github.com/MrWong99/rtscribe/pkg/provider/stt"
	"github.com/MrWong99/rtscribe/pkg/provider/stt/deepgram"
	"github.com/MrWong99/rtscribe/pkg/provider/stt/openai"
	"github.com/MrWong99/rtscribe/pkg/provider/stt/whisper"
	"github.com/MrWong99/rtscribe/pkg/provider/vad"
	"github.com/MrWong99/rtscribe/pkg/provider/vad/energy"
)

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the backend
// from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Factory, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, openai.WithTimeout(d))
		}
		if n, ok := optInt(entry.Options, "max_retries"); ok {
			opts = append(opts, openai.WithMaxRetries(n))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Factory, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if terms := optStrings(entry.Options, "keyterms"); len(terms) > 0 {
			opts = append(opts, deepgram.WithKeyterms(terms...))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Factory, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if t, ok := optFloat(entry.Options, "temperature"); ok {
			opts = append(opts, whisper.WithTemperature(t))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Factory, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if n, ok := optInt(entry.Options, "threads"); ok && n > 0 {
			opts = append(opts, whisper.WithNativeThreads(uint(n)))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(config.ProviderEntry) (vad.Engine, error) {
		return energy.New(), nil
	})

	for _, name := range reg.STTNames() {
		slog.Debug("registered provider", "kind", "stt", "name", name)
	}
}

// buildProviders instantiates all providers named in cfg using the registry.
// The returned func closes every backend that holds resources, such as a
// loaded whisper model.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, func(), error) {
	ps := &app.Providers{}
	var closers []io.Closer
	closeAll := func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				slog.Warn("provider close error", "err", err)
			}
		}
	}
	track := func(f stt.Factory) {
		if c, ok := f.(io.Closer); ok {
			closers = append(closers, c)
		}
	}

	p, err := createSTT(reg, cfg.Providers.STT)
	if err != nil {
		return nil, nil, err
	}
	track(p)
	ps.STT = p

	for _, entry := range cfg.Providers.STTFallbacks {
		fb, err := createSTT(reg, entry)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		track(fb)
		ps.STTFallbacks = append(ps.STTFallbacks, app.NamedSTT{Name: entry.Name, Factory: fb})
	}

	if cfg.Providers.PreviewSTT.Name != "" {
		pv, err := createSTT(reg, cfg.Providers.PreviewSTT)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		track(pv)
		ps.PreviewSTT = pv
	}

	v, err := reg.CreateVAD(cfg.Providers.VAD)
	if err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("create vad provider %q: %w", cfg.Providers.VAD.Name, err)
	}
	ps.VAD = v
	slog.Info("provider created", "kind", "vad", "name", cfg.Providers.VAD.Name)

	return ps, closeAll, nil
}

func createSTT(reg *config.Registry, entry config.ProviderEntry) (stt.Factory, error) {
	f, err := reg.CreateSTT(entry)
	if err != nil {
		if errors.Is(err, config.ErrProviderNotRegistered) {
			return nil, fmt.Errorf("stt provider %q is not built in (known: %v): %w", entry.Name, reg.STTNames(), err)
		}
		return nil, fmt.Errorf("create stt provider %q: %w", entry.Name, err)
	}
	slog.Info("provider created", "kind", "stt", "name", entry.Name, "model", entry.Model)
	return f, nil
}

// ── Option helpers ────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optStrings extracts a list of strings. YAML sequences decode as []any.
func optStrings(opts map[string]any, key string) []string {
	switch v := opts[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{v}
	}
	return nil
}

// optInt extracts an integer. YAML integers decode as int.
func optInt(opts map[string]any, key string) (int, bool) {
	switch v := opts[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

func optFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// optDuration parses a Go duration string such as "30s". Invalid values are
// logged and ignored.
func optDuration(opts map[string]any, key string) time.Duration {
	s := optString(opts, key)
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		slog.Warn("ignoring invalid provider option", "key", key, "value", s, "err", err)
		return 0
	}
	return d
}
