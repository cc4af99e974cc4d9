package config_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/rtscribe/internal/config"
	"github.com/MrWong99/rtscribe/internal/realtime"
	"github.com/MrWong99/rtscribe/pkg/provider/stt"
	sttmock "github.com/MrWong99/rtscribe/pkg/provider/stt/mock"
	"github.com/MrWong99/rtscribe/pkg/provider/vad"
	vadmock "github.com/MrWong99/rtscribe/pkg/provider/vad/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
  log_format: json

providers:
  stt:
    name: openai
    api_key: sk-test
    model: whisper-1
  stt_fallbacks:
    - name: deepgram
      api_key: dg-test
      model: nova-3
  preview_stt:
    name: whisper
    base_url: http://localhost:8081
  circuit_breaker:
    max_failures: 3
    reset_timeout: 45s

realtime:
  language: de
  prompt: "Glossary: rtscribe"
  recognizing: true
  concatenate_segments_to_prompt: true
  processing_interval: 50ms
  silence_discard_interval: 10s
  vad:
    min_silence_duration: 300ms
    speech_threshold: 0.03
    silence_threshold: 0.01

store:
  driver: sqlite
  dsn: /var/lib/rtscribe/transcripts.db

sink:
  nats:
    url: nats://localhost:4222
    subject_prefix: transcripts

vocabulary:
  - Kubernetes
  - rtscribe
`

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("server.listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":9090")
	}
	if cfg.Server.LogFormat != config.LogFormatJSON {
		t.Errorf("server.log_format: got %q, want json", cfg.Server.LogFormat)
	}
	if cfg.Providers.STT.Model != "whisper-1" {
		t.Errorf("providers.stt.model: got %q", cfg.Providers.STT.Model)
	}
	if len(cfg.Providers.STTFallbacks) != 1 || cfg.Providers.STTFallbacks[0].Name != "deepgram" {
		t.Errorf("providers.stt_fallbacks: got %+v", cfg.Providers.STTFallbacks)
	}
	if cfg.Providers.VAD.Name != "energy" {
		t.Errorf("providers.vad.name default: got %q, want energy", cfg.Providers.VAD.Name)
	}
	if cfg.Providers.CircuitBreaker.ResetTimeout != 45*time.Second {
		t.Errorf("circuit_breaker.reset_timeout: got %v", cfg.Providers.CircuitBreaker.ResetTimeout)
	}
	if cfg.Realtime.ProcessingInterval != 50*time.Millisecond {
		t.Errorf("realtime.processing_interval: got %v, want 50ms", cfg.Realtime.ProcessingInterval)
	}
	if cfg.Store.Driver != config.StoreSQLite {
		t.Errorf("store.driver: got %q", cfg.Store.Driver)
	}
	if cfg.Sink.NATS.SubjectPrefix != "transcripts" || cfg.Sink.NATS.Name != "rtscribe" {
		t.Errorf("sink.nats: got %+v", cfg.Sink.NATS)
	}
	if len(cfg.Vocabulary) != 2 {
		t.Errorf("vocabulary: got %d terms, want 2", len(cfg.Vocabulary))
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader("providers:\n  stt:\n    name: whisper\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr default: got %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo || cfg.Server.LogFormat != config.LogFormatText {
		t.Errorf("log defaults: got %q/%q", cfg.Server.LogLevel, cfg.Server.LogFormat)
	}
	if cfg.Realtime.Language != config.AutoLanguage {
		t.Errorf("language default: got %q, want auto", cfg.Realtime.Language)
	}
	if cfg.Sink.NATS.SubjectPrefix != "" {
		t.Errorf("subject prefix should stay empty without a NATS url, got %q", cfg.Sink.NATS.SubjectPrefix)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	_, err := config.LoadFromReader(strings.NewReader("providers:\n  stt:\n    name: whisper\n    modle: x\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestLoadFromReader_BadDuration(t *testing.T) {
	_, err := config.LoadFromReader(strings.NewReader("providers:\n  stt:\n    name: whisper\nrealtime:\n  padding_duration: soon\n"))
	if err == nil {
		t.Fatal("expected error for unparsable duration, got nil")
	}
}

// ── Conversion ────────────────────────────────────────────────────────────────

func TestRealtimeConfig_Session(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := cfg.Realtime.Session()
	def := realtime.DefaultConfig()

	if got.LanguageAutoDetect || got.Language != "de" {
		t.Errorf("language: got %q auto=%v, want de without auto-detection", got.Language, got.LanguageAutoDetect)
	}
	if !got.Recognizing || !got.ConcatenateSegmentsToPrompt {
		t.Error("recognizing and prompt concatenation should be enabled")
	}
	if got.ProcessingInterval != 50*time.Millisecond {
		t.Errorf("ProcessingInterval: got %v", got.ProcessingInterval)
	}
	if got.SilenceDiscardInterval != 10*time.Second {
		t.Errorf("SilenceDiscardInterval: got %v", got.SilenceDiscardInterval)
	}
	if got.PaddingDuration != def.PaddingDuration {
		t.Errorf("PaddingDuration: got %v, want default %v", got.PaddingDuration, def.PaddingDuration)
	}
	if err := got.Validate(); err != nil {
		t.Errorf("converted config invalid: %v", err)
	}
}

func TestRealtimeConfig_AutoLanguage(t *testing.T) {
	got := config.RealtimeConfig{Language: config.AutoLanguage, DetectLanguageOnce: true}.Session()
	if !got.LanguageAutoDetect || got.Language != "" {
		t.Errorf("got %q auto=%v, want auto-detection", got.Language, got.LanguageAutoDetect)
	}
	if !got.DetectLanguageOnce {
		t.Error("DetectLanguageOnce should carry over with auto-detection")
	}

	fixed := config.RealtimeConfig{Language: "en", DetectLanguageOnce: true}.Session()
	if fixed.DetectLanguageOnce {
		t.Error("DetectLanguageOnce must be dropped for a fixed language")
	}
}

func TestRealtimeConfig_Detector(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := cfg.Realtime.Detector()
	def := vad.DefaultConfig()
	if got.MinSilenceDuration != 300*time.Millisecond {
		t.Errorf("MinSilenceDuration: got %v", got.MinSilenceDuration)
	}
	if got.MinSpeechDuration != def.MinSpeechDuration {
		t.Errorf("MinSpeechDuration: got %v, want default", got.MinSpeechDuration)
	}
	if got.SpeechThreshold != 0.03 || got.SilenceThreshold != 0.01 {
		t.Errorf("thresholds: got %v/%v", got.SpeechThreshold, got.SilenceThreshold)
	}
}

// ── Registry ──────────────────────────────────────────────────────────────────

func TestRegistry_Unknown(t *testing.T) {
	reg := config.NewRegistry()
	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateSTT: expected ErrProviderNotRegistered, got %v", err)
	}
	if _, err := reg.CreateVAD(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateVAD: expected ErrProviderNotRegistered, got %v", err)
	}
}

func TestRegistry_Registered(t *testing.T) {
	reg := config.NewRegistry()
	wantSTT := &sttmock.Factory{}
	wantVAD := &vadmock.Engine{}
	var gotEntry config.ProviderEntry
	reg.RegisterSTT("stub", func(e config.ProviderEntry) (stt.Factory, error) {
		gotEntry = e
		return wantSTT, nil
	})
	reg.RegisterVAD("stub", func(config.ProviderEntry) (vad.Engine, error) {
		return wantVAD, nil
	})

	got, err := reg.CreateSTT(config.ProviderEntry{Name: "stub", Model: "m"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != wantSTT {
		t.Error("returned factory is not the expected instance")
	}
	if gotEntry.Model != "m" {
		t.Errorf("constructor saw model %q, want m", gotEntry.Model)
	}
	engine, err := reg.CreateVAD(config.ProviderEntry{Name: "stub"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if engine != wantVAD {
		t.Error("returned engine is not the expected instance")
	}
	if names := reg.STTNames(); len(names) != 1 || names[0] != "stub" {
		t.Errorf("STTNames: got %v", names)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	reg := config.NewRegistry()
	wantErr := errors.New("factory boom")
	reg.RegisterSTT("broken", func(config.ProviderEntry) (stt.Factory, error) {
		return nil, wantErr
	})
	_, err := reg.CreateSTT(config.ProviderEntry{Name: "broken"})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected factory error %v, got %v", wantErr, err)
	}
}
