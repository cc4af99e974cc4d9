package server

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/MrWong99/rtscribe/internal/config"
	"github.com/MrWong99/rtscribe/internal/realtime"
	"github.com/MrWong99/rtscribe/pkg/audio"
	"github.com/MrWong99/rtscribe/pkg/audio/opus"
)

// Client control message types.
const (
	msgStart = "start"
	msgStop  = "stop"
)

// Encoding names accepted in the start message.
const (
	EncodingPCMS16LE  = "pcm_s16le"
	EncodingPCM       = "pcm"
	EncodingFloat32LE = "float32le"
	EncodingOpus      = "opus"
)

var errProtocol = errors.New("server: protocol violation")

// controlMessage is any text frame sent by the client.
type controlMessage struct {
	Type string `json:"type"`
}

// StartRequest opens a session. Unset optional fields fall back to the
// server defaults.
type StartRequest struct {
	Type          string `json:"type"`
	SampleRate    uint32 `json:"sample_rate"`
	Channels      uint16 `json:"channels"`
	BitsPerSample uint16 `json:"bits_per_sample,omitempty"`
	Encoding      string `json:"encoding"`

	// Language is a language code or "auto".
	Language     string `json:"language,omitempty"`
	Prompt       string `json:"prompt,omitempty"`
	Recognizing  *bool  `json:"recognizing,omitempty"`
	TokenDetails *bool  `json:"token_details,omitempty"`
}

func parseStart(data []byte) (StartRequest, error) {
	var req StartRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("%w: start message: %v", errProtocol, err)
	}
	if req.Type != msgStart {
		return req, fmt.Errorf("%w: first message must be %q, got %q", errProtocol, msgStart, req.Type)
	}
	if req.Encoding == "" {
		req.Encoding = EncodingPCMS16LE
	}
	if req.Channels == 0 {
		req.Channels = 1
	}
	return req, nil
}

// Format returns the buffer format for the requested encoding.
func (r StartRequest) Format() (audio.Format, error) {
	var f audio.Format
	switch r.Encoding {
	case EncodingPCMS16LE:
		f = audio.Format{SampleRate: r.SampleRate, Channels: r.Channels, BitsPerSample: 16}
	case EncodingPCM:
		bits := r.BitsPerSample
		if bits == 0 {
			bits = 16
		}
		f = audio.Format{SampleRate: r.SampleRate, Channels: r.Channels, BitsPerSample: bits}
	case EncodingFloat32LE:
		f = audio.Format{SampleRate: r.SampleRate, Channels: r.Channels, BitsPerSample: 16}
	case EncodingOpus:
		if r.SampleRate != 0 && r.SampleRate != opus.SampleRate {
			return f, fmt.Errorf("%w: opus streams are decoded at %d Hz, got sample_rate %d", errProtocol, opus.SampleRate, r.SampleRate)
		}
		f = opus.Format(int(r.Channels))
	default:
		return f, fmt.Errorf("%w: unknown encoding %q", errProtocol, r.Encoding)
	}
	if err := f.Validate(); err != nil {
		return f, fmt.Errorf("%w: %v", errProtocol, err)
	}
	return f, nil
}

// Session applies the per-session overrides to base.
func (r StartRequest) Session(base realtime.Config) realtime.Config {
	cfg := base
	switch r.Language {
	case "":
	case config.AutoLanguage:
		cfg.LanguageAutoDetect = true
		cfg.Language = ""
	default:
		cfg.LanguageAutoDetect = false
		cfg.DetectLanguageOnce = false
		cfg.Language = r.Language
	}
	if r.Prompt != "" {
		cfg.Prompt = r.Prompt
	}
	if r.Recognizing != nil {
		cfg.Recognizing = *r.Recognizing
	}
	if r.TokenDetails != nil {
		cfg.TokenDetails = *r.TokenDetails
	}
	return cfg
}

// ingest appends binary client frames to a buffer. PCM payloads may split
// frames across messages; the remainder is carried into the next message.
type ingest struct {
	buf      *audio.AwaitableBuffer
	encoding string
	frame    int
	pending  []byte
	opus     *opus.Decoder
}

func newIngest(buf *audio.AwaitableBuffer, req StartRequest, f audio.Format) (*ingest, error) {
	in := &ingest{buf: buf, encoding: req.Encoding, frame: f.FrameSize()}
	switch req.Encoding {
	case EncodingFloat32LE:
		in.frame = 4 * int(f.Channels)
	case EncodingOpus:
		dec, err := opus.NewDecoder(int(f.Channels))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errProtocol, err)
		}
		in.opus = dec
	}
	return in, nil
}

// write consumes one binary message.
func (in *ingest) write(data []byte) error {
	if in.opus != nil {
		return in.opus.DecodeInto(in.buf, data)
	}

	if len(in.pending) > 0 {
		data = append(in.pending, data...)
		in.pending = nil
	}
	whole := len(data) - len(data)%in.frame
	if rest := data[whole:]; len(rest) > 0 {
		in.pending = append([]byte(nil), rest...)
	}
	if whole == 0 {
		return nil
	}
	data = data[:whole]

	if in.encoding == EncodingFloat32LE {
		samples := make([]float32, len(data)/4)
		for i := range samples {
			samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
		}
		return in.buf.AppendSamples(samples)
	}
	return in.buf.AppendPCM(data)
}

func parseControl(data []byte) (controlMessage, error) {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("%w: control message: %v", errProtocol, err)
	}
	if msg.Type != msgStop {
		return msg, fmt.Errorf("%w: unexpected message type %q", errProtocol, msg.Type)
	}
	return msg, nil
}
