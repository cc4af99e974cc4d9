package audio

import (
	"errors"
	"fmt"
	"time"
)

// Compile-time assertion that Concat satisfies Source.
var _ Source = (*Concat)(nil)

// Concat presents several sources of the same format as one logical source.
// Reads are dispatched to the owning part by cumulative frame ranges. A read
// contained in a single part returns that part's result unchanged; only
// reads spanning a boundary are assembled into a fresh slice.
//
// Part lengths are sampled once at construction, so every part except the
// last should be immutable.
type Concat struct {
	format Format
	parts  []Source
	// offsets[i] is the first frame of parts[i]; offsets[len(parts)] is the
	// total frame count.
	offsets []int64
}

// NewConcat joins sources in order. At least one source is required and all
// sources must share the same format.
func NewConcat(sources ...Source) (*Concat, error) {
	if len(sources) == 0 {
		return nil, errors.New("audio: concat needs at least one source")
	}
	f := sources[0].Format()
	c := &Concat{format: f, parts: sources, offsets: make([]int64, len(sources)+1)}
	for i, s := range sources {
		if s.Format() != f {
			return nil, fmt.Errorf("audio: concat part %d has format %s, want %s", i, s.Format(), f)
		}
		c.offsets[i+1] = c.offsets[i] + s.FrameCount()
	}
	return c, nil
}

func (c *Concat) Format() Format          { return c.format }
func (c *Concat) FrameCount() int64       { return c.offsets[len(c.parts)] }
func (c *Concat) Duration() time.Duration { return c.format.DurationOf(c.FrameCount()) }

// part returns the index of the part holding frame.
func (c *Concat) part(frame int64) int {
	for i := range c.parts {
		if frame < c.offsets[i+1] {
			return i
		}
	}
	return len(c.parts) - 1
}

func (c *Concat) Samples(startFrame int64, maxFrames int) ([]float32, error) {
	lo, hi, err := clampRange(startFrame, maxFrames, c.FrameCount())
	if err != nil || lo == hi {
		return nil, err
	}
	i := c.part(lo)
	if hi <= c.offsets[i+1] {
		return c.parts[i].Samples(lo-c.offsets[i], int(hi-lo))
	}
	out := make([]float32, 0, (hi-lo)*int64(c.format.Channels))
	for pos := lo; pos < hi; i++ {
		n := min(hi, c.offsets[i+1]) - pos
		s, err := c.parts[i].Samples(pos-c.offsets[i], int(n))
		if err != nil {
			return nil, err
		}
		out = append(out, s...)
		pos += n
	}
	return out, nil
}

func (c *Concat) Frames(startFrame int64, maxFrames int) ([]byte, error) {
	lo, hi, err := clampRange(startFrame, maxFrames, c.FrameCount())
	if err != nil || lo == hi {
		return nil, err
	}
	i := c.part(lo)
	if hi <= c.offsets[i+1] {
		return c.parts[i].Frames(lo-c.offsets[i], int(hi-lo))
	}
	out := make([]byte, (hi-lo)*int64(c.format.FrameSize()))
	n, err := c.CopyFrames(out, lo, int(hi-lo))
	if err != nil {
		return nil, err
	}
	return out[:n*c.format.FrameSize()], nil
}

func (c *Concat) CopyFrames(dst []byte, startFrame int64, maxFrames int) (int, error) {
	fs := c.format.FrameSize()
	lo, hi, err := clampRange(startFrame, min(maxFrames, len(dst)/fs), c.FrameCount())
	if err != nil {
		return 0, err
	}
	written := 0
	for i, pos := c.part(lo), lo; pos < hi; i++ {
		want := min(hi, c.offsets[i+1]) - pos
		n, err := c.parts[i].CopyFrames(dst[written*fs:], pos-c.offsets[i], int(want))
		if err != nil {
			return written, err
		}
		written += n
		if int64(n) < want {
			break
		}
		pos += want
	}
	return written, nil
}
