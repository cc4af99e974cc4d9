package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"openai", "deepgram", "whisper", "whisper-native"},
	"vad": {"energy"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset optional fields.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = LogFormatText
	}
	if cfg.Providers.VAD.Name == "" {
		cfg.Providers.VAD.Name = "energy"
	}
	if cfg.Realtime.Language == "" {
		cfg.Realtime.Language = AutoLanguage
	}
	if cfg.Sink.NATS.URL != "" {
		if cfg.Sink.NATS.SubjectPrefix == "" {
			cfg.Sink.NATS.SubjectPrefix = "rtscribe"
		}
		if cfg.Sink.NATS.Name == "" {
			cfg.Sink.NATS.Name = "rtscribe"
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if r := cfg.Server.TraceSampleRatio; r != nil && (*r < 0 || *r > 1) {
		errs = append(errs, fmt.Errorf("server.trace_sample_ratio %v must be between 0 and 1", *r))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("stt", cfg.Providers.PreviewSTT.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)
	for i, fb := range cfg.Providers.STTFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("stt", fb.Name)
	}
	if cb := cfg.Providers.CircuitBreaker; cb.MaxFailures < 0 || cb.HalfOpenMax < 0 || cb.ResetTimeout < 0 {
		errs = append(errs, errors.New("providers.circuit_breaker values must not be negative"))
	}

	// Realtime
	if err := cfg.Realtime.Session().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("realtime: %w", err))
	}
	if cfg.Realtime.DetectLanguageOnce && cfg.Realtime.Language != AutoLanguage && cfg.Realtime.Language != "" {
		slog.Warn("realtime.detect_language_once has no effect with a fixed language",
			"language", cfg.Realtime.Language)
	}
	if v := cfg.Realtime.VAD; v.SpeechThreshold != 0 && v.SilenceThreshold > v.SpeechThreshold {
		errs = append(errs, fmt.Errorf("realtime.vad.silence_threshold %.4f exceeds speech_threshold %.4f", v.SilenceThreshold, v.SpeechThreshold))
	}

	// Store
	if cfg.Store.Driver != "" {
		if !cfg.Store.Driver.IsValid() {
			errs = append(errs, fmt.Errorf("store.driver %q is invalid; valid values: postgres, sqlite", cfg.Store.Driver))
		}
		if cfg.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required when store.driver is set"))
		}
	}

	// Sink
	if prefix := cfg.Sink.NATS.SubjectPrefix; strings.ContainsAny(prefix, " *>") {
		errs = append(errs, fmt.Errorf("sink.nats.subject_prefix %q must not contain spaces or wildcards", prefix))
	}

	// Vocabulary
	seen := make(map[string]int, len(cfg.Vocabulary))
	for i, term := range cfg.Vocabulary {
		if strings.TrimSpace(term) == "" {
			errs = append(errs, fmt.Errorf("vocabulary[%d] is empty", i))
			continue
		}
		if prev, ok := seen[term]; ok {
			errs = append(errs, fmt.Errorf("vocabulary[%d] %q is a duplicate of vocabulary[%d]", i, term, prev))
		}
		seen[term] = i
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
