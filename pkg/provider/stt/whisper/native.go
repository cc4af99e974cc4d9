// This file contains the NativeFactory implementation backed by the
// whisper.cpp CGO bindings.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"
	"sync/atomic"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/rtscribe/pkg/audio"
	"github.com/MrWong99/rtscribe/pkg/provider/stt"
)

// Compile-time assertion that NativeFactory satisfies stt.Factory.
var _ stt.Factory = (*NativeFactory)(nil)

// NativeFactory creates Transcriptors that run whisper.cpp in-process. The
// model is loaded once and shared; each clip gets its own whisper context,
// so transcriptors may run concurrently.
type NativeFactory struct {
	model   whisperlib.Model
	threads uint
}

// NativeOption is a functional option for configuring a NativeFactory.
type NativeOption func(*NativeFactory)

// WithNativeThreads sets the number of inference threads per clip. Zero
// keeps the whisper.cpp default.
func WithNativeThreads(n uint) NativeOption {
	return func(f *NativeFactory) { f.threads = n }
}

// NewNative loads the whisper.cpp model at modelPath. The caller must call
// Close when the factory is no longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeFactory, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	f := &NativeFactory{model: model}
	for _, o := range opts {
		o(f)
	}
	return f, nil
}

// Close releases the whisper model.
func (f *NativeFactory) Close() error {
	if f.model != nil {
		return f.model.Close()
	}
	return nil
}

// Create implements [stt.Factory].
func (f *NativeFactory) Create(opts stt.Options) (stt.Transcriptor, error) {
	if opts.LanguageAutoDetect && !f.model.IsMultilingual() {
		return nil, errors.New("whisper: language detection needs a multilingual model")
	}
	return &nativeTranscriptor{factory: f, opts: opts}, nil
}

// nativeTranscriptor runs one whisper context per clip.
type nativeTranscriptor struct {
	factory *NativeFactory
	opts    stt.Options
	closed  atomic.Bool
}

// Compile-time assertion that nativeTranscriptor satisfies stt.Transcriptor.
var _ stt.Transcriptor = (*nativeTranscriptor)(nil)

func (t *nativeTranscriptor) Close() error {
	t.closed.Store(true)
	return nil
}

// Transcribe runs inference over the whole clip and then yields its
// segments. whisper.cpp does not support cancellation mid-inference, so ctx
// is checked before inference and between segments.
func (t *nativeTranscriptor) Transcribe(ctx context.Context, src audio.Source) iter.Seq2[stt.Segment, error] {
	if t.closed.Load() {
		return stt.Single(stt.ErrClosed)
	}
	return func(yield func(stt.Segment, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(stt.Segment{}, err)
			return
		}
		samples, err := audio.ReadAllSamples(src, 0)
		if err != nil {
			yield(stt.Segment{}, fmt.Errorf("whisper: read clip: %w", err))
			return
		}
		samples = audio.ToMono16k(samples, src.Format())

		// Each context is NOT thread-safe, but the model can be shared.
		wctx, err := t.factory.model.NewContext()
		if err != nil {
			yield(stt.Segment{}, fmt.Errorf("whisper: create context: %w", err))
			return
		}
		lang := autoLanguage
		if !t.opts.LanguageAutoDetect && t.opts.Language != "" {
			lang = t.opts.Language
		}
		if err := wctx.SetLanguage(lang); err != nil {
			slog.Warn("whisper: failed to set language, using default", "language", lang, "error", err)
		}
		if t.factory.threads > 0 {
			wctx.SetThreads(t.factory.threads)
		}
		if t.opts.Prompt != "" {
			wctx.SetInitialPrompt(t.opts.Prompt)
		}
		wctx.SetTokenTimestamps(t.opts.TokenDetails)

		if err := wctx.Process(samples, nil, nil, nil); err != nil {
			yield(stt.Segment{}, fmt.Errorf("whisper: process audio: %w", err))
			return
		}

		detected := lang
		if lang == autoLanguage {
			detected = wctx.DetectedLanguage()
		}

		for {
			if err := ctx.Err(); err != nil {
				yield(stt.Segment{}, err)
				return
			}
			segment, err := wctx.NextSegment()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(stt.Segment{}, fmt.Errorf("whisper: read segment: %w", err))
				return
			}
			text := strings.TrimSpace(segment.Text)
			if text == "" {
				continue
			}
			seg := stt.Segment{
				Start:    segment.Start,
				Duration: segment.End - segment.Start,
				Text:     text,
				Language: detected,
			}
			var sum float32
			var n int
			for _, tok := range segment.Tokens {
				if !wctx.IsText(tok) {
					continue
				}
				sum += tok.P
				n++
				if t.opts.TokenDetails {
					seg.Tokens = append(seg.Tokens, stt.Token{
						ID:         stt.Ptr(tok.Id),
						Text:       tok.Text,
						Start:      stt.Ptr(tok.Start),
						Duration:   stt.Ptr(tok.End - tok.Start),
						Confidence: stt.Ptr(tok.P),
					})
				}
			}
			if n > 0 {
				seg.Confidence = stt.Ptr(sum / float32(n))
			}
			if !yield(seg, nil) {
				return
			}
		}
	}
}
