// Package deepgram provides a Deepgram-backed STT factory using the Deepgram
// streaming WebSocket API. Every clip opens one connection, streams the clip
// as linear16 PCM, requests a flush with CloseStream and collects the final
// results until Deepgram closes the socket.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/rtscribe/pkg/audio"
	"github.com/MrWong99/rtscribe/pkg/provider/stt"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"

	// multiLanguage enables Deepgram's multilingual code-switching model,
	// the streaming counterpart of language detection.
	multiLanguage = "multi"

	// chunkDuration is the amount of audio sent per websocket message.
	chunkDuration = 100 * time.Millisecond
)

// Option is a functional option for configuring the Deepgram Factory.
type Option func(*Factory)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(f *Factory) { f.model = model }
}

// WithEndpoint overrides the streaming endpoint URL. Used for self-hosted
// deployments and tests.
func WithEndpoint(endpoint string) Option {
	return func(f *Factory) { f.endpoint = endpoint }
}

// WithKeyterms sets vocabulary hints that increase recognition probability
// for uncommon words such as product or person names.
func WithKeyterms(terms ...string) Option {
	return func(f *Factory) { f.keyterms = append(f.keyterms, terms...) }
}

// Factory implements stt.Factory backed by the Deepgram streaming API.
type Factory struct {
	apiKey   string
	model    string
	endpoint string
	keyterms []string
}

// Compile-time assertion that Factory implements stt.Factory.
var _ stt.Factory = (*Factory)(nil)

// New creates a new Deepgram Factory. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Factory, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	f := &Factory{
		apiKey:   apiKey,
		model:    defaultModel,
		endpoint: deepgramEndpoint,
	}
	for _, o := range opts {
		o(f)
	}
	return f, nil
}

// Create implements [stt.Factory].
func (f *Factory) Create(opts stt.Options) (stt.Transcriptor, error) {
	return &transcriptor{factory: f, opts: opts}, nil
}

// buildURL constructs the streaming endpoint URL for a clip in format af.
func (f *Factory) buildURL(opts stt.Options, af audio.Format) (string, error) {
	u, err := url.Parse(f.endpoint)
	if err != nil {
		return "", err
	}

	lang := opts.Language
	if opts.LanguageAutoDetect || lang == "" {
		lang = multiLanguage
	}

	q := u.Query()
	q.Set("model", f.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("interim_results", "false")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.FormatUint(uint64(af.SampleRate), 10))
	q.Set("channels", strconv.Itoa(int(af.Channels)))
	for _, kt := range f.keyterms {
		q.Add("keyterm", kt)
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- transcriptor ----

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

// Transcribe streams src to Deepgram and yields every final result.
func (t *transcriptor) Transcribe(ctx context.Context, src audio.Source) iter.Seq2[stt.Segment, error] {
	if t.closed.Load() {
		return stt.Single(stt.ErrClosed)
	}
	return func(yield func(stt.Segment, error) bool) {
		// Deepgram's linear16 is 16-bit; re-encode other widths.
		af := src.Format()
		af.BitsPerSample = 16

		wsURL, err := t.factory.buildURL(t.opts, af)
		if err != nil {
			yield(stt.Segment{}, fmt.Errorf("deepgram: build URL: %w", err))
			return
		}

		headers := http.Header{}
		headers.Set("Authorization", "Token "+t.factory.apiKey)

		conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
		if err != nil {
			yield(stt.Segment{}, fmt.Errorf("deepgram: dial: %w", err))
			return
		}
		defer conn.CloseNow()

		sendErr := make(chan error, 1)
		go func() { sendErr <- sendClip(ctx, conn, src) }()

		for {
			_, msg, err := conn.Read(ctx)
			if err != nil {
				if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
					if err := <-sendErr; err != nil {
						yield(stt.Segment{}, err)
					}
					return
				}
				if ctxErr := ctx.Err(); ctxErr != nil {
					err = ctxErr
				}
				yield(stt.Segment{}, fmt.Errorf("deepgram: read: %w", err))
				return
			}

			seg, ok := parseDeepgramResponse(msg, t.opts)
			if !ok {
				continue
			}
			if !yield(seg, nil) {
				return
			}
		}
	}
}

// sendClip writes the clip as binary linear16 messages followed by
// CloseStream, which tells Deepgram to flush and close the socket.
func sendClip(ctx context.Context, conn *websocket.Conn, src audio.Source) error {
	f := src.Format()
	chunk := int(max(f.FramesIn(chunkDuration), 1))
	for pos := int64(0); pos < src.FrameCount(); pos += int64(chunk) {
		samples, err := src.Samples(pos, chunk)
		if err != nil {
			return fmt.Errorf("deepgram: read clip: %w", err)
		}
		pcm, err := audio.EncodePCM(samples, 16)
		if err != nil {
			return fmt.Errorf("deepgram: encode clip: %w", err)
		}
		if err := conn.Write(ctx, websocket.MessageBinary, pcm); err != nil {
			return fmt.Errorf("deepgram: write audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return fmt.Errorf("deepgram: close stream: %w", err)
	}
	return nil
}

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type     string  `json:"type"`
	IsFinal  bool    `json:"is_final"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Channel  struct {
		Alternatives []struct {
			Transcript string   `json:"transcript"`
			Confidence float64  `json:"confidence"`
			Languages  []string `json:"languages"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
				Confidence float64 `json:"confidence"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseDeepgramResponse parses a raw Deepgram WebSocket message into a
// Segment. Returns (zero, false) for messages that carry no final text.
func parseDeepgramResponse(data []byte, opts stt.Options) (stt.Segment, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return stt.Segment{}, false
	}
	if resp.Type != "Results" || !resp.IsFinal || len(resp.Channel.Alternatives) == 0 {
		return stt.Segment{}, false
	}
	alt := resp.Channel.Alternatives[0]
	text := strings.TrimSpace(alt.Transcript)
	if text == "" {
		return stt.Segment{}, false
	}

	seg := stt.Segment{
		Start:      seconds(resp.Start),
		Duration:   seconds(resp.Duration),
		Text:       text,
		Confidence: stt.Ptr(float32(alt.Confidence)),
	}
	switch {
	case len(alt.Languages) > 0:
		seg.Language = alt.Languages[0]
	case !opts.LanguageAutoDetect:
		seg.Language = opts.Language
	}
	if opts.TokenDetails {
		for _, w := range alt.Words {
			seg.Tokens = append(seg.Tokens, stt.Token{
				Text:       w.Word,
				Start:      stt.Ptr(seconds(w.Start)),
				Duration:   stt.Ptr(seconds(w.End) - seconds(w.Start)),
				Confidence: stt.Ptr(float32(w.Confidence)),
			})
		}
	}
	return seg, true
}

func seconds(s float64) time.Duration {
	return time.Duration(math.Round(s*1000)) * time.Millisecond
}
