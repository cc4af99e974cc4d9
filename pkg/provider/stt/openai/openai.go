// Package openai provides an STT factory backed by the OpenAI audio
// transcription API. Each clip is uploaded as a WAV file and transcribed with
// the verbose JSON response format, which carries segment timings and,
// when requested, word timings.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"math"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/rtscribe/pkg/audio"
	"github.com/MrWong99/rtscribe/pkg/provider/stt"
)

// DefaultModel is the default OpenAI transcription model. It is the only
// model that returns segment timings.
const DefaultModel = oai.AudioModelWhisper1

// Ensure Factory implements the stt.Factory interface.
var _ stt.Factory = (*Factory)(nil)

// Factory implements stt.Factory using the OpenAI API.
type Factory struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the factory.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
	maxRetries   int
}

// Option is a functional option for Factory.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Any server that
// implements the /audio/transcriptions endpoint works.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) { c.organization = org }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithMaxRetries sets how often a failed request is retried. The SDK
// default is 2.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// New constructs a new OpenAI transcription Factory.
// If model is empty, DefaultModel (whisper-1) is used.
func New(apiKey string, model string, opts ...Option) (*Factory, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = string(DefaultModel)
	}

	cfg := &config{maxRetries: -1}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}
	if cfg.maxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(cfg.maxRetries))
	}

	return &Factory{client: oai.NewClient(reqOpts...), model: model}, nil
}

// ModelID returns the configured model.
func (f *Factory) ModelID() string { return f.model }

// Create implements stt.Factory.
func (f *Factory) Create(opts stt.Options) (stt.Transcriptor, error) {
	return &transcriptor{factory: f, opts: opts}, nil
}

type transcriptor struct {
	factory *Factory
	opts    stt.Options
	closed  atomic.Bool
}

var _ stt.Transcriptor = (*transcriptor)(nil)

func (t *transcriptor) Close() error {
	t.closed.Store(true)
	return nil
}

// Transcribe implements stt.Transcriptor.
func (t *transcriptor) Transcribe(ctx context.Context, src audio.Source) iter.Seq2[stt.Segment, error] {
	if t.closed.Load() {
		return stt.Single(stt.ErrClosed)
	}
	return func(yield func(stt.Segment, error) bool) {
		resp, err := t.transcribe(ctx, src)
		if err != nil {
			yield(stt.Segment{}, err)
			return
		}
		for _, seg := range resp.segments(t.opts) {
			if !yield(seg, nil) {
				return
			}
		}
	}
}

func (t *transcriptor) transcribe(ctx context.Context, src audio.Source) (*verboseTranscription, error) {
	wav, err := audio.EncodeWAV(src)
	if err != nil {
		return nil, fmt.Errorf("openai stt: encode wav: %w", err)
	}

	params := oai.AudioTranscriptionNewParams{
		File:           oai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
		Model:          oai.AudioModel(t.factory.model),
		ResponseFormat: oai.AudioResponseFormatVerboseJSON,
	}
	if !t.opts.LanguageAutoDetect && t.opts.Language != "" {
		params.Language = oai.String(t.opts.Language)
	}
	if t.opts.Prompt != "" {
		params.Prompt = oai.String(t.opts.Prompt)
	}
	if t.opts.TokenDetails {
		params.TimestampGranularities = []string{"word", "segment"}
	}

	resp, err := t.factory.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai stt: transcribe: %w", err)
	}

	var out verboseTranscription
	if raw := resp.RawJSON(); raw != "" {
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			return nil, fmt.Errorf("openai stt: parse verbose response: %w", err)
		}
	}
	if out.Text == "" {
		out.Text = resp.Text
	}
	return &out, nil
}

// verboseTranscription is the verbose_json response body. The SDK type only
// models the text field, so the raw JSON is decoded again.
type verboseTranscription struct {
	Language string `json:"language"`
	Text     string `json:"text"`
	Segments []struct {
		ID         int     `json:"id"`
		Start      float64 `json:"start"`
		End        float64 `json:"end"`
		Text       string  `json:"text"`
		AvgLogprob float64 `json:"avg_logprob"`
	} `json:"segments"`
	Words []struct {
		Word  string  `json:"word"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"words"`
}

// segments converts the response into stt segments. Words are returned by
// the API as one flat list and are assigned to the segment whose time range
// contains their start.
func (v *verboseTranscription) segments(opts stt.Options) []stt.Segment {
	lang := languageCode(v.Language)
	if lang == "" && !opts.LanguageAutoDetect {
		lang = opts.Language
	}
	if len(v.Segments) == 0 {
		text := strings.TrimSpace(v.Text)
		if text == "" {
			return nil
		}
		return []stt.Segment{{Text: text, Language: lang}}
	}

	out := make([]stt.Segment, 0, len(v.Segments))
	w := 0
	for _, s := range v.Segments {
		seg := stt.Segment{
			Start:      seconds(s.Start),
			Duration:   seconds(s.End) - seconds(s.Start),
			Text:       strings.TrimSpace(s.Text),
			Language:   lang,
			Confidence: stt.Ptr(float32(math.Exp(s.AvgLogprob))),
		}
		for ; opts.TokenDetails && w < len(v.Words) && v.Words[w].Start < s.End; w++ {
			word := v.Words[w]
			seg.Tokens = append(seg.Tokens, stt.Token{
				ID:       stt.Ptr(w),
				Text:     word.Word,
				Start:    stt.Ptr(seconds(word.Start)),
				Duration: stt.Ptr(seconds(word.End) - seconds(word.Start)),
			})
		}
		if seg.Text == "" {
			continue
		}
		out = append(out, seg)
	}
	return out
}

// languageCode maps the English language names returned by the API
// ("german") to ISO 639-1 codes. Unknown names are returned unchanged.
func languageCode(name string) string {
	if code, ok := languageCodes[strings.ToLower(name)]; ok {
		return code
	}
	return name
}

var languageCodes = map[string]string{
	"english": "en", "german": "de", "french": "fr", "spanish": "es",
	"italian": "it", "portuguese": "pt", "dutch": "nl", "polish": "pl",
	"russian": "ru", "ukrainian": "uk", "japanese": "ja", "chinese": "zh",
	"korean": "ko", "turkish": "tr", "swedish": "sv", "czech": "cs",
}

func seconds(s float64) time.Duration {
	return time.Duration(math.Round(s*1000)) * time.Millisecond
}
