// Package mock provides test doubles for the stt package interfaces.
//
// Use Factory to verify which Options each clip was transcribed with and to
// script the segments a clip produces. Every Transcribe call is recorded with
// the clip's frame count and duration so tests can assert padding.
//
// Example:
//
//	f := &mock.Factory{Segments: []stt.Segment{{Text: "hello", Duration: time.Second}}}
//	tr, _ := f.Create(stt.Options{Language: "en"})
//	for seg, err := range tr.Transcribe(ctx, clip) { ... }
package mock

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/MrWong99/rtscribe/pkg/audio"
	"github.com/MrWong99/rtscribe/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcriptor.Transcribe.
type TranscribeCall struct {
	// Options the Transcriptor was created with.
	Options stt.Options
	// Frames is the clip's FrameCount at call time.
	Frames int64
	// Duration is the clip's Duration at call time.
	Duration time.Duration
}

// Factory is a mock implementation of stt.Factory.
type Factory struct {
	mu sync.Mutex

	// Segments is yielded for every clip when SegmentsFn is nil.
	Segments []stt.Segment

	// SegmentsFn, if set, computes the segments for each clip. call is the
	// zero-based index of the Transcribe call across all transcriptors.
	SegmentsFn func(call int, opts stt.Options, clip audio.Source) ([]stt.Segment, error)

	// CreateErr, if non-nil, is returned by Create.
	CreateErr error

	// TranscribeErr, if non-nil, is yielded by every Transcribe call after
	// the scripted segments.
	TranscribeErr error

	// CreateCalls records the Options of every Create call in order.
	CreateCalls []stt.Options

	// TranscribeCalls records every Transcribe call in order.
	TranscribeCalls []TranscribeCall

	// CloseCallCount is the number of times any created Transcriptor was
	// closed.
	CloseCallCount int
}

// Create records the call and returns a Transcriptor bound to f.
func (f *Factory) Create(opts stt.Options) (stt.Transcriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CreateCalls = append(f.CreateCalls, opts)
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	return &Transcriptor{factory: f, opts: opts}, nil
}

// Calls returns a copy of the recorded Transcribe calls. Thread-safe.
func (f *Factory) Calls() []TranscribeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]TranscribeCall(nil), f.TranscribeCalls...)
}

// Options returns a copy of the recorded Create options. Thread-safe.
func (f *Factory) Options() []stt.Options {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]stt.Options(nil), f.CreateCalls...)
}

// Reset clears all recorded calls. Thread-safe.
func (f *Factory) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CreateCalls = nil
	f.TranscribeCalls = nil
	f.CloseCallCount = 0
}

// Ensure Factory implements stt.Factory at compile time.
var _ stt.Factory = (*Factory)(nil)

// Transcriptor is the stt.Transcriptor returned by Factory.Create.
type Transcriptor struct {
	factory *Factory
	opts    stt.Options
}

// Transcribe records the call and yields the factory's scripted segments.
func (t *Transcriptor) Transcribe(ctx context.Context, clip audio.Source) iter.Seq2[stt.Segment, error] {
	return func(yield func(stt.Segment, error) bool) {
		f := t.factory
		f.mu.Lock()
		call := len(f.TranscribeCalls)
		f.TranscribeCalls = append(f.TranscribeCalls, TranscribeCall{
			Options:  t.opts,
			Frames:   clip.FrameCount(),
			Duration: clip.Duration(),
		})
		segs, fn, tail := f.Segments, f.SegmentsFn, f.TranscribeErr
		f.mu.Unlock()

		if fn != nil {
			var err error
			segs, err = fn(call, t.opts, clip)
			if err != nil {
				yield(stt.Segment{}, err)
				return
			}
		}
		for _, s := range segs {
			if err := ctx.Err(); err != nil {
				yield(stt.Segment{}, err)
				return
			}
			if !yield(s, nil) {
				return
			}
		}
		if tail != nil {
			yield(stt.Segment{}, tail)
		}
	}
}

// Close records the call.
func (t *Transcriptor) Close() error {
	t.factory.mu.Lock()
	defer t.factory.mu.Unlock()
	t.factory.CloseCallCount++
	return nil
}

// Ensure Transcriptor implements stt.Transcriptor at compile time.
var _ stt.Transcriptor = (*Transcriptor)(nil)
