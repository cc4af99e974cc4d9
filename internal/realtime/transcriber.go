// Package realtime turns a live audio stream into an ordered stream of
// transcription events.
//
// A [Transcriber] repeatedly runs a voice activity detector over the
// unprocessed tail of an [audio.Awaitable] source. Every closed speech span is
// cut out, padded and handed to a fresh [stt.Transcriptor]; the resulting
// segments are emitted as [SegmentRecognized] events with absolute times. The
// open span at the end of a pass can optionally be previewed with
// [SegmentRecognizing] events. Audio before the processed watermark is
// discarded when the source supports it, so memory stays bounded for
// arbitrarily long sessions.
//
// The source must have exactly one producer and is read by exactly one
// Transcribe call at a time.
package realtime

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/rtscribe/internal/observe"
	"github.com/MrWong99/rtscribe/pkg/audio"
	"github.com/MrWong99/rtscribe/pkg/provider/stt"
	"github.com/MrWong99/rtscribe/pkg/provider/vad"
)

// errStopped signals that the consumer stopped iterating.
var errStopped = errors.New("realtime: consumer stopped")

// Transcriber is the realtime orchestrator for one session at a time. Create
// one per stream with [New] or [Factory.New].
type Transcriber struct {
	factory  stt.Factory
	preview  stt.Factory
	detector vad.Detector
	cfg      Config
	metrics  *observe.Metrics
	newID    func() string
}

// Option is a functional option for [New].
type Option func(*Transcriber)

// WithPreviewFactory sets the backend used for [SegmentRecognizing] previews.
// Defaults to the main factory.
func WithPreviewFactory(f stt.Factory) Option {
	return func(t *Transcriber) { t.preview = f }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(t *Transcriber) { t.metrics = m }
}

// WithSessionID overrides the session identifier generator. Defaults to
// random UUIDs.
func WithSessionID(fn func() string) Option {
	return func(t *Transcriber) { t.newID = fn }
}

// New returns a Transcriber that detects speech with detector and transcribes
// it with factory. cfg must pass [Config.Validate].
func New(factory stt.Factory, detector vad.Detector, cfg Config, opts ...Option) (*Transcriber, error) {
	if factory == nil {
		return nil, errors.New("realtime: transcriptor factory is required")
	}
	if detector == nil {
		return nil, errors.New("realtime: voice activity detector is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	t := &Transcriber{
		factory:  factory,
		detector: detector,
		cfg:      cfg,
		newID:    uuid.NewString,
	}
	for _, o := range opts {
		o(t)
	}
	if t.preview == nil {
		t.preview = t.factory
	}
	if t.metrics == nil {
		t.metrics = observe.DefaultMetrics()
	}
	return t, nil
}

// Transcribe consumes src until it is flushed and yields the session's
// events.
//
// The first event is always [SessionStarted] and the last is [SessionStopped]
// after a flush or [SessionCanceled] after ctx is done. A detector or
// transcriptor failure yields a [*CollaboratorError] and ends the sequence
// without a terminal event. If ctx is done before the source is initialized
// the sequence yields ctx.Err() only.
func (t *Transcriber) Transcribe(ctx context.Context, src audio.Awaitable) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		if err := src.WaitForInitialization(ctx); err != nil {
			yield(Event{}, err)
			return
		}

		s := &session{
			t:     t,
			id:    t.newID(),
			src:   src,
			yield: yield,
		}
		s.prompt.WriteString(t.cfg.Prompt)
		s.run(ctx)
	}
}

// session holds the mutable state of one Transcribe call.
type session struct {
	t     *Transcriber
	id    string
	src   audio.Awaitable
	yield func(Event, error) bool

	format    audio.Format
	watermark int64
	prompt    strings.Builder
	language  string
}

func (s *session) emit(typ EventType, seg stt.Segment) error {
	if !s.yield(Event{Type: typ, SessionID: s.id, Segment: seg}, nil) {
		return errStopped
	}
	return nil
}

func (s *session) run(ctx context.Context) {
	ctx, span := observe.StartSpan(observe.WithSession(ctx, s.id), "realtime.session")
	defer span.End()
	log := observe.Logger(ctx)

	reason := "stopped"
	ended := s.t.metrics.SessionStarted(ctx)
	defer func() { ended(reason) }()

	if s.emit(SessionStarted, stt.Segment{}) != nil {
		reason = "abandoned"
		return
	}
	s.format = s.src.Format()
	log.Info("transcription session started", "format", s.format.String())

	err := s.stream(ctx, log)
	if err == nil {
		err = s.drain(ctx)
	}
	switch {
	case errors.Is(err, errStopped):
		reason = "abandoned"
		log.Debug("consumer stopped reading events")
	case err != nil && ctx.Err() != nil:
		reason = "canceled"
		log.Info("transcription session canceled")
		_ = s.emit(SessionCanceled, stt.Segment{})
	case err != nil:
		reason = "failed"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("transcription session failed", "err", err)
		s.yield(Event{}, err)
	default:
		log.Info("transcription session stopped", "duration", s.src.Duration())
		_ = s.emit(SessionStopped, stt.Segment{})
	}
}

// stream runs detection passes until the source is flushed.
func (s *session) stream(ctx context.Context, log *slog.Logger) error {
	if s.format.Validate() != nil {
		return nil
	}
	interval := s.format.FramesIn(s.t.cfg.ProcessingInterval)
	silence := s.format.FramesIn(s.t.cfg.SilenceDiscardInterval)
	var last int64

	for !s.src.Flushed() {
		if err := ctx.Err(); err != nil {
			return err
		}
		total := s.src.FrameCount()
		if total == last {
			if err := s.src.WaitForFrames(ctx, last+interval); err != nil {
				return err
			}
			continue
		}
		last = total

		closed, open, err := s.detect(ctx, total)
		if err != nil {
			return err
		}

		var end int64 = -1
		for _, seg := range closed {
			start := s.watermark + s.format.FramesIn(seg.Start)
			stop := s.watermark + s.format.FramesIn(seg.End())
			if err := s.transcribe(ctx, s.t.factory, SegmentRecognized, start, stop); err != nil {
				return err
			}
			end = stop
		}

		if s.t.cfg.Recognizing && open != nil {
			start := s.watermark + s.format.FramesIn(open.Start)
			stop := s.watermark + s.format.FramesIn(open.End())
			if err := s.transcribe(ctx, s.t.preview, SegmentRecognizing, start, stop); err != nil {
				return err
			}
		}

		switch {
		case end >= 0:
			s.advance(ctx, log, min(end, total))
		case open == nil && total-s.watermark > silence:
			s.advance(ctx, log, s.watermark+silence/2)
		}
	}
	return nil
}

// detect runs one detection pass over [watermark, total) and splits the
// result into closed spans and the trailing open span.
func (s *session) detect(ctx context.Context, total int64) ([]vad.Segment, *vad.Segment, error) {
	window, err := audio.NewSliceFrames(s.src, s.watermark, total-s.watermark)
	if err != nil {
		return nil, nil, err
	}
	start := time.Now()
	defer func() { s.t.metrics.RecordVADPass(ctx, time.Since(start)) }()

	var closed []vad.Segment
	var open *vad.Segment
	for seg, err := range s.t.detector.DetectSegments(ctx, window) {
		if err != nil {
			return nil, nil, &CollaboratorError{Stage: StageVAD, Err: err}
		}
		if seg.Incomplete {
			open = &seg
			continue
		}
		closed = append(closed, seg)
	}
	return closed, open, nil
}

// advance moves the watermark forward and releases the audio before it.
func (s *session) advance(ctx context.Context, log *slog.Logger, to int64) {
	if to <= s.watermark {
		return
	}
	log.Debug("watermark advanced",
		"from", s.format.DurationOf(s.watermark),
		"to", s.format.DurationOf(to),
	)
	s.watermark = to

	d, ok := s.src.(audio.Discardable)
	if !ok {
		return
	}
	n := s.watermark - d.DiscardedFrames()
	if n <= 0 {
		return
	}
	if err := d.DiscardFrames(n); err != nil {
		log.Warn("failed to discard processed audio", "frames", n, "err", err)
		return
	}
	s.t.metrics.RecordDiscard(ctx, n)
}

// drain transcribes everything after the watermark once the source is
// flushed.
func (s *session) drain(ctx context.Context) error {
	if s.format.Validate() != nil {
		return nil
	}
	return s.transcribe(ctx, s.t.factory, SegmentRecognized, s.watermark, s.src.FrameCount())
}

// clipOptions applies the detected language and the running prompt to the
// base options.
func (s *session) clipOptions() stt.Options {
	opts := s.t.cfg.options()
	if opts.LanguageAutoDetect && s.t.cfg.DetectLanguageOnce && s.language != "" {
		opts.LanguageAutoDetect = false
		opts.Language = s.language
	}
	if s.t.cfg.ConcatenateSegmentsToPrompt {
		opts.Prompt = s.prompt.String()
	}
	return opts
}

// transcribe transcribes frames [start, stop) of the source and emits one
// event of typ per resulting segment.
func (s *session) transcribe(ctx context.Context, factory stt.Factory, typ EventType, start, stop int64) error {
	cfg := s.t.cfg
	if stop <= start || s.format.DurationOf(stop-start) < cfg.MinTranscriptDuration {
		return nil
	}
	// Spans reaching below the watermark refer to audio that may already be
	// gone.
	if start < s.watermark {
		return nil
	}

	pad := s.format.FramesIn(cfg.PaddingDuration)
	clipStart := max(start-pad, s.watermark)
	clipEnd := min(stop+pad, s.src.FrameCount())
	slice, err := audio.NewSliceFrames(s.src, clipStart, clipEnd-clipStart)
	if err != nil {
		return err
	}

	var clip audio.Source = slice
	origin := clipStart
	if minFrames := s.format.FramesIn(cfg.MinDurationWithPadding); clipEnd-clipStart < minFrames {
		missing := minFrames - (clipEnd - clipStart)
		lead := missing / 2
		// An odd remainder goes to the trailing silence.
		leading := audio.NewSilenceFrames(lead, s.format)
		trailing := audio.NewSilenceFrames(missing-lead, s.format)
		if clip, err = audio.NewConcat(leading, slice, trailing); err != nil {
			return err
		}
		origin -= lead
	}

	opts := s.clipOptions()
	ctx, span := observe.StartSpan(ctx, "realtime.transcribe",
		trace.WithAttributes(
			attribute.String("kind", typ.String()),
			attribute.Int64("clip_frames", clip.FrameCount()),
		),
	)
	defer span.End()

	tr, err := factory.Create(opts)
	if err != nil {
		return &CollaboratorError{Stage: StageSTT, Err: err}
	}
	defer func() {
		if err := tr.Close(); err != nil {
			observe.Logger(ctx).Warn("failed to close transcriptor", "err", err)
		}
	}()

	kind := "recognized"
	if typ == SegmentRecognizing {
		kind = "recognizing"
	}
	began := time.Now()
	var clipErr error
	defer func() { s.t.metrics.RecordClip(ctx, kind, time.Since(began), clipErr) }()

	for seg, err := range tr.Transcribe(ctx, clip) {
		if err != nil {
			clipErr = err
			span.RecordError(err)
			return &CollaboratorError{Stage: StageSTT, Err: err}
		}
		seg = s.place(seg, origin, clipStart, clipEnd)
		if typ == SegmentRecognized {
			s.accept(seg)
		}
		s.t.metrics.RecordSegment(ctx, kind)
		if err := s.emit(typ, seg); err != nil {
			return err
		}
	}
	return nil
}

// place converts clip-relative segment and token times to absolute source
// times, keeping segments inside the audible part of the clip.
func (s *session) place(seg stt.Segment, origin, clipStart, clipEnd int64) stt.Segment {
	first := max(origin+s.format.FramesIn(seg.Start), clipStart)
	start := s.format.DurationOf(first)
	if limit := s.format.DurationOf(clipEnd) - start; seg.Duration > limit {
		seg.Duration = max(limit, 0)
	}
	seg.Start = start
	shift := s.format.DurationOf(origin)
	if origin < 0 {
		shift = -s.format.DurationOf(-origin)
	}
	for i := range seg.Tokens {
		if seg.Tokens[i].Start != nil {
			seg.Tokens[i].Start = stt.Ptr(max(*seg.Tokens[i].Start+shift, 0))
		}
	}
	return seg
}

// accept records the language and prompt carry-over of a final segment.
func (s *session) accept(seg stt.Segment) {
	if s.t.cfg.DetectLanguageOnce && s.language == "" && seg.Language != "" {
		s.language = seg.Language
	}
	if s.t.cfg.ConcatenateSegmentsToPrompt && seg.Text != "" {
		// Backends trim segment text; keep words of adjacent segments apart.
		if s.prompt.Len() > 0 && !endsInSpace(s.prompt.String()) && !startsWithSpace(seg.Text) {
			s.prompt.WriteByte(' ')
		}
		s.prompt.WriteString(seg.Text)
	}
}

func startsWithSpace(text string) bool {
	r, _ := utf8.DecodeRuneInString(text)
	return unicode.IsSpace(r)
}

func endsInSpace(text string) bool {
	r, _ := utf8.DecodeLastRuneInString(text)
	return unicode.IsSpace(r)
}
