package audio

import "time"

// Compile-time assertion that Silence satisfies Source.
var _ Source = (*Silence)(nil)

// Silence is a synthesized source of a fixed number of zero-valued frames.
type Silence struct {
	format Format
	frames int64
}

// NewSilence returns duration worth of silence in format f.
func NewSilence(duration time.Duration, f Format) *Silence {
	return &Silence{format: f, frames: f.FramesIn(duration)}
}

// NewSilenceFrames returns frames frames of silence in format f.
func NewSilenceFrames(frames int64, f Format) *Silence {
	return &Silence{format: f, frames: max(frames, 0)}
}

func (s *Silence) Format() Format          { return s.format }
func (s *Silence) FrameCount() int64       { return s.frames }
func (s *Silence) Duration() time.Duration { return s.format.DurationOf(s.frames) }

func (s *Silence) Samples(startFrame int64, maxFrames int) ([]float32, error) {
	lo, hi, err := clampRange(startFrame, maxFrames, s.frames)
	if err != nil {
		return nil, err
	}
	return make([]float32, (hi-lo)*int64(s.format.Channels)), nil
}

func (s *Silence) Frames(startFrame int64, maxFrames int) ([]byte, error) {
	lo, hi, err := clampRange(startFrame, maxFrames, s.frames)
	if err != nil {
		return nil, err
	}
	out := make([]byte, (hi-lo)*int64(s.format.FrameSize()))
	fillSilence(out, s.format.BitsPerSample)
	return out, nil
}

func (s *Silence) CopyFrames(dst []byte, startFrame int64, maxFrames int) (int, error) {
	fs := s.format.FrameSize()
	if fs == 0 {
		return 0, ErrNotInitialized
	}
	lo, hi, err := clampRange(startFrame, min(maxFrames, len(dst)/fs), s.frames)
	if err != nil {
		return 0, err
	}
	n := int(hi - lo)
	fillSilence(dst[:n*fs], s.format.BitsPerSample)
	return n, nil
}

// fillSilence writes the PCM zero level. 8-bit PCM is unsigned and centred
// on 128.
func fillSilence(pcm []byte, bitsPerSample uint16) {
	var v byte
	if bitsPerSample == 8 {
		v = 128
	}
	for i := range pcm {
		pcm[i] = v
	}
}
