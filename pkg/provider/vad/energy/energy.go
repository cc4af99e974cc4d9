// Package energy provides a pure-Go [vad.Engine] that classifies fixed
// windows by RMS energy with hysteresis.
//
// It needs no model files or CGO and is accurate enough for close-talking
// microphones with a reasonable noise floor. For noisy input, raise the
// thresholds via [vad.Config].
package energy

import (
	"context"
	"fmt"
	"iter"
	"math"
	"time"

	"github.com/MrWong99/rtscribe/pkg/audio"
	"github.com/MrWong99/rtscribe/pkg/provider/vad"
)

const (
	defaultSpeechThreshold  = 0.015
	defaultSilenceThreshold = 0.008

	// windowDuration is the analysis window length.
	windowDuration = 20 * time.Millisecond

	// readChunk is the number of windows fetched from the source per read.
	readChunk = 50
)

// Engine creates energy Detectors. The zero value is ready to use.
type Engine struct{}

// New returns an Engine.
func New() *Engine { return &Engine{} }

// NewDetector validates cfg and returns a Detector.
func (e *Engine) NewDetector(cfg vad.Config) (vad.Detector, error) {
	if cfg.SpeechThreshold == 0 {
		cfg.SpeechThreshold = defaultSpeechThreshold
	}
	if cfg.SilenceThreshold == 0 {
		cfg.SilenceThreshold = min(defaultSilenceThreshold, cfg.SpeechThreshold)
	}
	if cfg.SpeechThreshold < 0 || cfg.SpeechThreshold > 1 {
		return nil, fmt.Errorf("energy: speech threshold %v out of range [0, 1]", cfg.SpeechThreshold)
	}
	if cfg.SilenceThreshold < 0 || cfg.SilenceThreshold > cfg.SpeechThreshold {
		return nil, fmt.Errorf("energy: silence threshold %v must be in [0, %v]", cfg.SilenceThreshold, cfg.SpeechThreshold)
	}
	if cfg.MinSpeechDuration < 0 || cfg.MinSilenceDuration < 0 {
		return nil, fmt.Errorf("energy: durations must not be negative")
	}
	return &Detector{cfg: cfg}, nil
}

// Ensure Engine implements vad.Engine at compile time.
var _ vad.Engine = (*Engine)(nil)

// Detector is the energy-based [vad.Detector]. It keeps no state between
// passes and is safe for concurrent use.
type Detector struct {
	cfg vad.Config
}

// Ensure Detector implements vad.Detector at compile time.
var _ vad.Detector = (*Detector)(nil)

// DetectSegments implements [vad.Detector].
func (d *Detector) DetectSegments(ctx context.Context, src audio.Source) iter.Seq2[vad.Segment, error] {
	return func(yield func(vad.Segment, error) bool) {
		f := src.Format()
		win := f.FramesIn(windowDuration)
		if win == 0 {
			yield(vad.Segment{}, fmt.Errorf("energy: %w", audio.ErrNotInitialized))
			return
		}
		total := src.FrameCount()
		minSpeech := f.FramesIn(d.cfg.MinSpeechDuration)
		minSilence := f.FramesIn(d.cfg.MinSilenceDuration)

		var (
			inSpeech    bool
			spanStart   int64
			lastSpeech  int64 // end of the last speech window
			silenceRun  int64
			pos         int64
			ch          = int(f.Channels)
			chunkFrames = int(win) * readChunk
		)

		emit := func(start, end int64, incomplete bool) bool {
			if end-start < minSpeech {
				return true
			}
			return yield(vad.Segment{
				Start:      f.DurationOf(start),
				Duration:   f.DurationOf(end) - f.DurationOf(start),
				Incomplete: incomplete,
			}, nil)
		}

		for pos < total {
			if err := ctx.Err(); err != nil {
				yield(vad.Segment{}, err)
				return
			}
			samples, err := src.Samples(pos, chunkFrames)
			if err != nil {
				yield(vad.Segment{}, fmt.Errorf("energy: read frames at %d: %w", pos, err))
				return
			}
			if len(samples) == 0 {
				break
			}
			frames := int64(len(samples) / ch)
			for off := int64(0); off < frames; off += win {
				end := min(off+win, frames)
				level := rms(samples[off*int64(ch) : end*int64(ch)])
				wStart, wEnd := pos+off, pos+end

				switch {
				case !inSpeech && level >= d.cfg.SpeechThreshold:
					inSpeech = true
					spanStart = wStart
					lastSpeech = wEnd
					silenceRun = 0
				case inSpeech && level < d.cfg.SilenceThreshold:
					silenceRun += wEnd - wStart
					if silenceRun >= minSilence {
						inSpeech = false
						if !emit(spanStart, lastSpeech, false) {
							return
						}
					}
				case inSpeech:
					lastSpeech = wEnd
					silenceRun = 0
				}
			}
			pos += frames
		}

		if inSpeech {
			emit(spanStart, lastSpeech, true)
		}
	}
}

// rms returns the root-mean-square level of samples in [0, 1].
func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
