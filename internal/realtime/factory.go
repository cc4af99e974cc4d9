package realtime

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/rtscribe/pkg/provider/stt"
	"github.com/MrWong99/rtscribe/pkg/provider/vad"
)

// Factory creates one [Transcriber] per session. Every Transcriber gets its
// own detector because detectors are not safe for concurrent use.
//
// Factory is safe for concurrent use. The default [Config] can be replaced at
// runtime with [Factory.SetConfig]; running sessions keep the Config they
// were created with.
type Factory struct {
	factory stt.Factory
	engine  vad.Engine
	opts    []Option

	mu     sync.RWMutex
	cfg    Config
	vadCfg vad.Config
}

// NewFactory returns a Factory that transcribes with factory and detects
// speech with detectors created by engine from vadCfg. opts apply to every
// Transcriber.
func NewFactory(factory stt.Factory, engine vad.Engine, vadCfg vad.Config, cfg Config, opts ...Option) (*Factory, error) {
	if factory == nil {
		return nil, errors.New("realtime: transcriptor factory is required")
	}
	if engine == nil {
		return nil, errors.New("realtime: voice activity engine is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Factory{
		factory: factory,
		engine:  engine,
		vadCfg:  vadCfg,
		opts:    opts,
		cfg:     cfg,
	}, nil
}

// Config returns the current default session Config.
func (f *Factory) Config() Config {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.cfg
}

// SetConfig replaces the default session Config for new sessions.
func (f *Factory) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = cfg
	return nil
}

// SetDetectorConfig replaces the voice activity tuning for new sessions.
func (f *Factory) SetDetectorConfig(cfg vad.Config) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vadCfg = cfg
}

// New returns a Transcriber for one session using cfg.
func (f *Factory) New(cfg Config) (*Transcriber, error) {
	f.mu.RLock()
	vadCfg := f.vadCfg
	f.mu.RUnlock()

	det, err := f.engine.NewDetector(vadCfg)
	if err != nil {
		return nil, fmt.Errorf("realtime: create detector: %w", err)
	}
	return New(f.factory, det, cfg, f.opts...)
}
