package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RealtimeChanged is set when any session default or VAD tuning changed.
	// New values apply to sessions started after the reload.
	RealtimeChanged bool

	VocabularyChanged bool

	// RestartRequired lists sections that changed but only take effect on
	// restart.
	RestartRequired []string
}

// Changed reports whether d carries any change.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.RealtimeChanged || d.VocabularyChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.RealtimeChanged = old.Realtime != new.Realtime
	d.VocabularyChanged = !slices.Equal(old.Vocabulary, new.Vocabulary)

	if old.Server.ListenAddr != new.Server.ListenAddr || old.Server.LogFormat != new.Server.LogFormat ||
		!ptrEqual(old.Server.TLS, new.Server.TLS) || !slices.Equal(old.Server.OriginPatterns, new.Server.OriginPatterns) ||
		!ptrEqual(old.Server.TraceSampleRatio, new.Server.TraceSampleRatio) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Store != new.Store {
		d.RestartRequired = append(d.RestartRequired, "store")
	}
	if old.Sink != new.Sink {
		d.RestartRequired = append(d.RestartRequired, "sink")
	}
	return d
}

func providersEqual(a, b ProvidersConfig) bool {
	if a.CircuitBreaker != b.CircuitBreaker || len(a.STTFallbacks) != len(b.STTFallbacks) {
		return false
	}
	if !entryEqual(a.STT, b.STT) || !entryEqual(a.PreviewSTT, b.PreviewSTT) || !entryEqual(a.VAD, b.VAD) {
		return false
	}
	for i := range a.STTFallbacks {
		if !entryEqual(a.STTFallbacks[i], b.STTFallbacks[i]) {
			return false
		}
	}
	return true
}

// entryEqual ignores Options; they are opaque to the loader.
func entryEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}

func ptrEqual[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
