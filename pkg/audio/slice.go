package audio

import (
	"fmt"
	"time"
)

// Compile-time assertion that Slice satisfies Source.
var _ Source = (*Slice)(nil)

// Slice is a read-only window over frames [start, start+length) of another
// source. Reads are translated by the start offset and never copy sample data
// beyond what the underlying source does.
//
// The window is clamped to the underlying source's current FrameCount on
// every call, so a Slice over a live buffer grows until it reaches its
// length. Closing or discarding the underlying source is the caller's
// business; a Slice owns nothing.
type Slice struct {
	src    Source
	start  int64
	length int64
}

// NewSlice returns a window over src covering [start, start+duration). A
// negative duration leaves the window open-ended.
func NewSlice(src Source, start, duration time.Duration) (*Slice, error) {
	if start < 0 {
		return nil, fmt.Errorf("%w: negative slice start %s", ErrInvalidRange, start)
	}
	f := src.Format()
	length := int64(-1)
	if duration >= 0 {
		length = f.FramesIn(duration)
	}
	return &Slice{src: src, start: f.FramesIn(start), length: length}, nil
}

// NewSliceFrames returns a window over src covering frames
// [startFrame, startFrame+frames). A negative frames value leaves the window
// open-ended.
func NewSliceFrames(src Source, startFrame, frames int64) (*Slice, error) {
	if startFrame < 0 {
		return nil, fmt.Errorf("%w: negative slice start frame %d", ErrInvalidRange, startFrame)
	}
	return &Slice{src: src, start: startFrame, length: frames}, nil
}

// Start returns the position of the window in the underlying source.
func (s *Slice) Start() time.Duration { return s.src.Format().DurationOf(s.start) }

// StartFrame returns the index of the first frame of the window in the
// underlying source.
func (s *Slice) StartFrame() int64 { return s.start }

func (s *Slice) Format() Format { return s.src.Format() }

// FrameCount implements [Source].
func (s *Slice) FrameCount() int64 {
	n := max(s.src.FrameCount()-s.start, 0)
	if s.length >= 0 {
		n = min(n, s.length)
	}
	return n
}

func (s *Slice) Duration() time.Duration { return s.Format().DurationOf(s.FrameCount()) }

// window clamps a slice-relative read to the visible frames and returns the
// absolute start and the frame count to request from the underlying source.
func (s *Slice) window(startFrame int64, maxFrames int) (int64, int, error) {
	lo, hi, err := clampRange(startFrame, maxFrames, s.FrameCount())
	if err != nil {
		return 0, 0, err
	}
	return s.start + lo, int(hi - lo), nil
}

func (s *Slice) Samples(startFrame int64, maxFrames int) ([]float32, error) {
	abs, n, err := s.window(startFrame, maxFrames)
	if err != nil {
		return nil, err
	}
	return s.src.Samples(abs, n)
}

func (s *Slice) Frames(startFrame int64, maxFrames int) ([]byte, error) {
	abs, n, err := s.window(startFrame, maxFrames)
	if err != nil {
		return nil, err
	}
	return s.src.Frames(abs, n)
}

func (s *Slice) CopyFrames(dst []byte, startFrame int64, maxFrames int) (int, error) {
	abs, n, err := s.window(startFrame, maxFrames)
	if err != nil {
		return 0, err
	}
	return s.src.CopyFrames(dst, abs, n)
}
