package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/rtscribe/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{ListenAddr: ":8080", LogLevel: config.LogInfo},
		Providers: config.ProvidersConfig{
			STT:          config.ProviderEntry{Name: "openai", Model: "whisper-1"},
			STTFallbacks: []config.ProviderEntry{{Name: "deepgram"}},
		},
		Realtime:   config.RealtimeConfig{Language: config.AutoLanguage},
		Store:      config.StoreConfig{Driver: config.StoreSQLite, DSN: "a.db"},
		Vocabulary: []string{"rtscribe"},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(baseConfig(), baseConfig())
	if d.Changed() {
		t.Errorf("expected no changes for identical configs, got %+v", d)
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*config.Config)
		check  func(*testing.T, config.ConfigDiff)
	}{
		{
			name:   "log level",
			mutate: func(c *config.Config) { c.Server.LogLevel = config.LogDebug },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
					t.Errorf("got %+v, want log level change to debug", d)
				}
				if len(d.RestartRequired) != 0 {
					t.Errorf("log level is hot-reloadable, got restart %v", d.RestartRequired)
				}
			},
		},
		{
			name:   "realtime duration",
			mutate: func(c *config.Config) { c.Realtime.PaddingDuration = 300 * time.Millisecond },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.RealtimeChanged {
					t.Error("expected RealtimeChanged")
				}
			},
		},
		{
			name:   "vad tuning",
			mutate: func(c *config.Config) { c.Realtime.VAD.SpeechThreshold = 0.2 },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.RealtimeChanged {
					t.Error("expected RealtimeChanged")
				}
			},
		},
		{
			name:   "vocabulary",
			mutate: func(c *config.Config) { c.Vocabulary = append(c.Vocabulary, "Kubernetes") },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.VocabularyChanged {
					t.Error("expected VocabularyChanged")
				}
			},
		},
		{
			name:   "fallback model",
			mutate: func(c *config.Config) { c.Providers.STTFallbacks[0].Model = "nova-3" },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !slices.Equal(d.RestartRequired, []string{"providers"}) {
					t.Errorf("RestartRequired = %v, want [providers]", d.RestartRequired)
				}
			},
		},
		{
			name: "listen addr and store",
			mutate: func(c *config.Config) {
				c.Server.ListenAddr = ":9090"
				c.Store.DSN = "b.db"
			},
			check: func(t *testing.T, d config.ConfigDiff) {
				if !slices.Equal(d.RestartRequired, []string{"server", "store"}) {
					t.Errorf("RestartRequired = %v, want [server store]", d.RestartRequired)
				}
				if d.RealtimeChanged || d.LogLevelChanged {
					t.Errorf("unexpected hot changes: %+v", d)
				}
			},
		},
		{
			name:   "tls",
			mutate: func(c *config.Config) { c.Server.TLS = &config.TLSConfig{CertFile: "c.pem", KeyFile: "k.pem"} },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !slices.Equal(d.RestartRequired, []string{"server"}) {
					t.Errorf("RestartRequired = %v, want [server]", d.RestartRequired)
				}
			},
		},
		{
			name: "trace sampling",
			mutate: func(c *config.Config) {
				r := 0.5
				c.Server.TraceSampleRatio = &r
			},
			check: func(t *testing.T, d config.ConfigDiff) {
				if !slices.Equal(d.RestartRequired, []string{"server"}) {
					t.Errorf("RestartRequired = %v, want [server]", d.RestartRequired)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			next := baseConfig()
			tt.mutate(next)
			d := config.Diff(baseConfig(), next)
			if !d.Changed() {
				t.Fatal("Changed() = false")
			}
			tt.check(t, d)
		})
	}
}
