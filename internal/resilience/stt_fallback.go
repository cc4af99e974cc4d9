package resilience

import (
	"context"
	"errors"
	"iter"

	"github.com/MrWong99/rtscribe/pkg/audio"
	"github.com/MrWong99/rtscribe/pkg/provider/stt"
)

// STTFallback implements [stt.Factory] with automatic failover across multiple
// STT backends. Each backend has its own circuit breaker.
//
// A clip is retried on the next backend only while nothing was yielded for it.
// Once a segment reached the consumer, a later failure ends the clip with that
// error.
type STTFallback struct {
	group *FallbackGroup[stt.Factory]
}

// Compile-time interface assertion.
var _ stt.Factory = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Factory, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional STT backend as a fallback.
func (f *STTFallback) AddFallback(name string, factory stt.Factory) {
	f.group.AddFallback(name, factory)
}

// States reports the breaker state of every backend, primary first.
func (f *STTFallback) States() []BreakerState {
	return f.group.States()
}

// Check fails while every backend's circuit is open.
func (f *STTFallback) Check(ctx context.Context) error {
	return f.group.Check(ctx)
}

// Create returns a Transcriptor that picks a backend per clip. Backends are
// created lazily, so Create itself never fails.
func (f *STTFallback) Create(opts stt.Options) (stt.Transcriptor, error) {
	return &fallbackTranscriptor{group: f.group, opts: opts}, nil
}

type fallbackTranscriptor struct {
	group  *FallbackGroup[stt.Factory]
	opts   stt.Options
	closed bool
}

// Transcribe tries each healthy backend in order until one transcribes the
// whole clip.
func (t *fallbackTranscriptor) Transcribe(ctx context.Context, src audio.Source) iter.Seq2[stt.Segment, error] {
	if t.closed {
		return stt.Single(stt.ErrClosed)
	}
	return func(yield func(stt.Segment, error) bool) {
		yielded := false
		err := t.group.Execute(func(factory stt.Factory) error {
			tr, err := factory.Create(t.opts)
			if err != nil {
				return err
			}
			defer tr.Close()

			for seg, err := range tr.Transcribe(ctx, src) {
				if err != nil {
					if yielded || ctx.Err() != nil {
						return Permanent(err)
					}
					return err
				}
				yielded = true
				if !yield(seg, nil) {
					return nil
				}
			}
			return nil
		})
		if err != nil {
			if errors.Is(err, ErrAllFailed) && ctx.Err() != nil {
				err = ctx.Err()
			}
			yield(stt.Segment{}, err)
		}
	}
}

func (t *fallbackTranscriptor) Close() error {
	t.closed = true
	return nil
}
