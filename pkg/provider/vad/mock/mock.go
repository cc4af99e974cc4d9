// Package mock provides test doubles for the vad package interfaces.
//
// Use Engine to verify that detectors are created with the expected Config.
// Use Detector to script the spans a pass yields and to inspect which windows
// were scanned.
//
// Example:
//
//	det := &mock.Detector{SegmentsFn: mock.Timeline([]vad.Segment{
//	    {Start: 0, Duration: time.Second},
//	})}
//	eng := &mock.Engine{Detector: det}
package mock

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/MrWong99/rtscribe/pkg/audio"
	"github.com/MrWong99/rtscribe/pkg/provider/vad"
)

// NewDetectorCall records a single invocation of Engine.NewDetector.
type NewDetectorCall struct {
	// Cfg is the Config passed to NewDetector.
	Cfg vad.Config
}

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Detector is returned by NewDetector. If nil, NewDetector returns a new
	// Detector that never finds speech.
	Detector vad.Detector

	// NewDetectorErr, if non-nil, is returned as the error from NewDetector.
	NewDetectorErr error

	// NewDetectorCalls records every call to NewDetector in order.
	NewDetectorCalls []NewDetectorCall
}

// NewDetector records the call and returns Detector, NewDetectorErr.
func (e *Engine) NewDetector(cfg vad.Config) (vad.Detector, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewDetectorCalls = append(e.NewDetectorCalls, NewDetectorCall{Cfg: cfg})
	if e.NewDetectorErr != nil {
		return nil, e.NewDetectorErr
	}
	if e.Detector != nil {
		return e.Detector, nil
	}
	return &Detector{}, nil
}

// Ensure Engine implements vad.Engine at compile time.
var _ vad.Engine = (*Engine)(nil)

// DetectCall records a single invocation of Detector.DetectSegments.
type DetectCall struct {
	// Start is the window's position in the underlying source when the
	// scanned source is an *audio.Slice, zero otherwise.
	Start time.Duration
	// Duration is the window's Duration at call time.
	Duration time.Duration
}

// Detector is a mock implementation of vad.Detector.
type Detector struct {
	mu sync.Mutex

	// Segments is yielded for every pass when SegmentsFn is nil.
	Segments []vad.Segment

	// SegmentsFn, if set, computes the spans for each pass.
	SegmentsFn func(call DetectCall) ([]vad.Segment, error)

	// Err, if non-nil, is yielded by every pass instead of spans.
	Err error

	// Block, if non-nil, makes every pass wait until it is closed or the
	// context is done.
	Block <-chan struct{}

	// Notify, if non-nil, receives every call after it was recorded. Sends
	// are non-blocking, so give the channel enough buffer.
	Notify chan DetectCall

	// DetectCalls records every call in order.
	DetectCalls []DetectCall
}

// DetectSegments records the call and yields the scripted spans.
func (d *Detector) DetectSegments(ctx context.Context, src audio.Source) iter.Seq2[vad.Segment, error] {
	return func(yield func(vad.Segment, error) bool) {
		call := DetectCall{Duration: src.Duration()}
		if s, ok := src.(*audio.Slice); ok {
			call.Start = s.Start()
		}

		d.mu.Lock()
		d.DetectCalls = append(d.DetectCalls, call)
		segs, fn, err, block, notify := d.Segments, d.SegmentsFn, d.Err, d.Block, d.Notify
		d.mu.Unlock()

		if block != nil {
			select {
			case <-block:
			case <-ctx.Done():
				yield(vad.Segment{}, ctx.Err())
				return
			}
		}
		if notify != nil {
			defer func() {
				select {
				case notify <- call:
				default:
				}
			}()
		}
		if err != nil {
			yield(vad.Segment{}, err)
			return
		}
		if fn != nil {
			if segs, err = fn(call); err != nil {
				yield(vad.Segment{}, err)
				return
			}
		}
		for _, s := range segs {
			if !yield(s, nil) {
				return
			}
		}
	}
}

// Calls returns a copy of the recorded calls. Thread-safe.
func (d *Detector) Calls() []DetectCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DetectCall(nil), d.DetectCalls...)
}

// Ensure Detector implements vad.Detector at compile time.
var _ vad.Detector = (*Detector)(nil)

// Timeline returns a SegmentsFn that reports spans given in absolute source
// time, translated into each scanned window. A span that extends past the
// window end is cut at the end and marked Incomplete. Spans ending before the
// window are dropped.
func Timeline(spans []vad.Segment) func(DetectCall) ([]vad.Segment, error) {
	return func(call DetectCall) ([]vad.Segment, error) {
		winEnd := call.Start + call.Duration
		var out []vad.Segment
		for _, s := range spans {
			if s.End() <= call.Start || s.Start >= winEnd {
				continue
			}
			start := max(s.Start, call.Start)
			end := s.End()
			incomplete := false
			if end > winEnd {
				incomplete = true
				end = winEnd
			}
			out = append(out, vad.Segment{
				Start:      start - call.Start,
				Duration:   end - start,
				Incomplete: incomplete,
			})
		}
		return out, nil
	}
}
