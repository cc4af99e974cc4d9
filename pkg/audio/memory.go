package audio

import (
	"fmt"
	"time"
)

// Compile-time assertion that MemorySource satisfies Source.
var _ Source = (*MemorySource)(nil)

// MemorySource is an immutable [Source] over samples that are fully loaded
// into memory, either as floats or as serialized PCM bytes.
type MemorySource struct {
	format  Format
	samples []float32
	pcm     []byte
	frames  int64
}

// NewMemorySource wraps interleaved float samples. The slice is not copied and
// must not be modified afterwards.
func NewMemorySource(samples []float32, f Format) (*MemorySource, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if len(samples)%int(f.Channels) != 0 {
		return nil, fmt.Errorf("%w: %d samples is not a whole number of %d-channel frames", ErrInvalidRange, len(samples), f.Channels)
	}
	return &MemorySource{format: f, samples: samples, frames: int64(len(samples) / int(f.Channels))}, nil
}

// NewMemorySourcePCM wraps little-endian PCM bytes. The slice is not copied.
func NewMemorySourcePCM(pcm []byte, f Format) (*MemorySource, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if len(pcm)%f.FrameSize() != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of %d-byte frames", ErrInvalidRange, len(pcm), f.FrameSize())
	}
	return &MemorySource{format: f, pcm: pcm, frames: int64(len(pcm) / f.FrameSize())}, nil
}

func (m *MemorySource) Format() Format          { return m.format }
func (m *MemorySource) FrameCount() int64       { return m.frames }
func (m *MemorySource) Duration() time.Duration { return m.format.DurationOf(m.frames) }

func (m *MemorySource) Samples(startFrame int64, maxFrames int) ([]float32, error) {
	lo, hi, err := clampRange(startFrame, maxFrames, m.frames)
	if err != nil {
		return nil, err
	}
	if m.samples != nil {
		ch := int64(m.format.Channels)
		return m.samples[lo*ch : hi*ch : hi*ch], nil
	}
	fs := int64(m.format.FrameSize())
	return DecodePCM(m.pcm[lo*fs:hi*fs], m.format.BitsPerSample)
}

func (m *MemorySource) Frames(startFrame int64, maxFrames int) ([]byte, error) {
	lo, hi, err := clampRange(startFrame, maxFrames, m.frames)
	if err != nil {
		return nil, err
	}
	if m.pcm != nil {
		fs := int64(m.format.FrameSize())
		return m.pcm[lo*fs : hi*fs : hi*fs], nil
	}
	ch := int64(m.format.Channels)
	return EncodePCM(m.samples[lo*ch:hi*ch], m.format.BitsPerSample)
}

func (m *MemorySource) CopyFrames(dst []byte, startFrame int64, maxFrames int) (int, error) {
	return copyFrames(m, dst, startFrame, maxFrames)
}

// clampRange validates a read request against [0, end) and returns the
// clamped frame range.
func clampRange(startFrame int64, maxFrames int, end int64) (int64, int64, error) {
	if startFrame < 0 {
		return 0, 0, fmt.Errorf("%w: negative start frame %d", ErrInvalidRange, startFrame)
	}
	if maxFrames < 0 {
		return 0, 0, fmt.Errorf("%w: negative frame count %d", ErrInvalidRange, maxFrames)
	}
	if startFrame >= end {
		return end, end, nil
	}
	return startFrame, startFrame + min(int64(maxFrames), end-startFrame), nil
}

// copyFrames implements CopyFrames on top of Frames for sources that have no
// cheaper path.
func copyFrames(src Source, dst []byte, startFrame int64, maxFrames int) (int, error) {
	fs := src.Format().FrameSize()
	if fs == 0 {
		return 0, ErrNotInitialized
	}
	maxFrames = min(maxFrames, len(dst)/fs)
	pcm, err := src.Frames(startFrame, maxFrames)
	if err != nil {
		return 0, err
	}
	copy(dst, pcm)
	return len(pcm) / fs, nil
}
