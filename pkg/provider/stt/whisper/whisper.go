// Package whisper provides whisper.cpp-backed STT factories.
//
// [Factory] talks to a running whisper-server binary, which exposes a REST
// API at POST /inference. Every clip is encoded as WAV and uploaded as a
// multipart form; the server answers with verbose JSON segments.
//
// [NativeFactory] links whisper.cpp through its CGO bindings and runs the
// model in-process. The static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH.
//
// whisper.cpp is a batch engine, which matches the per-clip contract of
// [stt.Transcriptor]: the realtime orchestrator decides clip boundaries.
//
// Usage:
//
//	f, err := whisper.New("http://localhost:8080", whisper.WithModel("base"))
//	tr, err := f.Create(stt.Options{Language: "en"})
//	for seg, err := range tr.Transcribe(ctx, clip) { ... }
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"math"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MrWong99/rtscribe/pkg/audio"
	"github.com/MrWong99/rtscribe/pkg/provider/stt"
)

// autoLanguage asks whisper.cpp to detect the spoken language.
const autoLanguage = "auto"

// Compile-time assertion that Factory implements stt.Factory.
var _ stt.Factory = (*Factory)(nil)

// Option is a functional option for configuring a Factory.
type Option func(*Factory)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with; this is the default.
func WithModel(model string) Option {
	return func(f *Factory) { f.model = model }
}

// WithHTTPClient replaces the HTTP client. The default has a 30 s timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Factory) { f.httpClient = c }
}

// WithTemperature sets the decoding temperature. Defaults to 0.
func WithTemperature(t float64) Option {
	return func(f *Factory) { f.temperature = t }
}

// Factory creates Transcriptors backed by a whisper.cpp HTTP server. It is
// safe for concurrent use.
type Factory struct {
	serverURL   string
	model       string
	temperature float64
	httpClient  *http.Client
}

// New creates a Factory for the whisper.cpp HTTP server at serverURL (e.g.,
// "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Factory, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	f := &Factory{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(f)
	}
	return f, nil
}

// Create implements [stt.Factory]. No connection is made until the first
// clip is transcribed.
func (f *Factory) Create(opts stt.Options) (stt.Transcriptor, error) {
	return &transcriptor{factory: f, opts: opts}, nil
}

// transcriptor is the HTTP-backed stt.Transcriptor.
type transcriptor struct {
	factory *Factory
	opts    stt.Options
	closed  atomic.Bool
}

// Compile-time assertion that transcriptor implements stt.Transcriptor.
var _ stt.Transcriptor = (*transcriptor)(nil)

func (t *transcriptor) Close() error {
	t.closed.Store(true)
	return nil
}

// Transcribe uploads src as one WAV file and yields the returned segments.
func (t *transcriptor) Transcribe(ctx context.Context, src audio.Source) iter.Seq2[stt.Segment, error] {
	if t.closed.Load() {
		return stt.Single(stt.ErrClosed)
	}
	return func(yield func(stt.Segment, error) bool) {
		resp, err := t.infer(ctx, src)
		if err != nil {
			yield(stt.Segment{}, err)
			return
		}
		for _, s := range resp.segments(t.opts) {
			if !yield(s, nil) {
				return
			}
		}
	}
}

// infer encodes src as a WAV file and POSTs it to the /inference endpoint as
// multipart/form-data.
func (t *transcriptor) infer(ctx context.Context, src audio.Source) (*inferenceResponse, error) {
	clip, err := audio.ToMono16kSource(src)
	if err != nil {
		return nil, fmt.Errorf("whisper: convert clip: %w", err)
	}
	wav, err := audio.EncodeWAV(clip)
	if err != nil {
		return nil, fmt.Errorf("whisper: encode wav: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, fmt.Errorf("whisper: write wav data: %w", err)
	}

	fields := map[string]string{
		"response_format": "verbose_json",
		"temperature":     strconv.FormatFloat(t.factory.temperature, 'f', -1, 64),
		"language":        t.language(),
		"prompt":          t.opts.Prompt,
		"model":           t.factory.model,
	}
	if t.opts.TokenDetails {
		fields["word_timestamps"] = "true"
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("whisper: write %s field: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.factory.serverURL+"/inference", &body)
	if err != nil {
		return nil, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := t.factory.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out inferenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return &out, nil
}

func (t *transcriptor) language() string {
	if t.opts.LanguageAutoDetect || t.opts.Language == "" {
		return autoLanguage
	}
	return t.opts.Language
}

// inferenceResponse is the verbose_json body returned by whisper-server.
type inferenceResponse struct {
	Language string           `json:"language"`
	Text     string           `json:"text"`
	Segments []segmentPayload `json:"segments"`
}

type segmentPayload struct {
	ID         int           `json:"id"`
	Text       string        `json:"text"`
	Start      float64       `json:"start"`
	End        float64       `json:"end"`
	AvgLogprob *float64      `json:"avg_logprob"`
	Words      []wordPayload `json:"words"`
}

type wordPayload struct {
	Word        string   `json:"word"`
	Start       float64  `json:"start"`
	End         float64  `json:"end"`
	Probability *float64 `json:"probability"`
}

// segments converts the response into stt segments. Servers started without
// verbose output only return text, which becomes a single segment with
// unknown timing.
func (r *inferenceResponse) segments(opts stt.Options) []stt.Segment {
	lang := r.Language
	if lang == "" && !opts.LanguageAutoDetect {
		lang = opts.Language
	}
	if len(r.Segments) == 0 {
		text := strings.TrimSpace(r.Text)
		if text == "" {
			return nil
		}
		return []stt.Segment{{Text: text, Language: lang}}
	}

	out := make([]stt.Segment, 0, len(r.Segments))
	for _, p := range r.Segments {
		text := strings.TrimSpace(p.Text)
		if text == "" {
			continue
		}
		seg := stt.Segment{
			Start:    seconds(p.Start),
			Duration: seconds(p.End) - seconds(p.Start),
			Text:     text,
			Language: lang,
		}
		if p.AvgLogprob != nil {
			seg.Confidence = stt.Ptr(float32(math.Exp(*p.AvgLogprob)))
		}
		if opts.TokenDetails {
			for _, w := range p.Words {
				tok := stt.Token{
					Text:     w.Word,
					Start:    stt.Ptr(seconds(w.Start)),
					Duration: stt.Ptr(seconds(w.End) - seconds(w.Start)),
				}
				if w.Probability != nil {
					tok.Confidence = stt.Ptr(float32(*w.Probability))
				}
				seg.Tokens = append(seg.Tokens, tok)
			}
		}
		out = append(out, seg)
	}
	return out
}

// seconds converts fractional seconds to a Duration rounded to the
// millisecond, which is the precision whisper reports.
func seconds(s float64) time.Duration {
	return time.Duration(math.Round(s*1000)) * time.Millisecond
}
