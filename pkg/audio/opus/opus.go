// Package opus decodes Opus packets received from a client into PCM frames
// for an [audio.AwaitableBuffer].
package opus

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/MrWong99/rtscribe/pkg/audio"
)

// SampleRate is the rate Opus packets are decoded at.
const SampleRate = 48000

// maxFrameSize is the largest Opus frame (120 ms at 48 kHz) in samples per
// channel.
const maxFrameSize = SampleRate * 120 / 1000

// Format returns the PCM layout produced by a [Decoder] with the given
// channel count.
func Format(channels int) audio.Format {
	return audio.Format{SampleRate: SampleRate, Channels: uint16(channels), BitsPerSample: 16}
}

// Decoder turns a stream of Opus packets into 16-bit PCM. A Decoder keeps
// inter-packet state and must be used for a single stream only.
type Decoder struct {
	dec      *gopus.Decoder
	channels int
}

// NewDecoder creates a decoder for a mono or stereo stream.
func NewDecoder(channels int) (*Decoder, error) {
	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("opus: unsupported channel count %d", channels)
	}
	dec, err := gopus.NewDecoder(SampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("opus: create decoder: %w", err)
	}
	return &Decoder{dec: dec, channels: channels}, nil
}

// Format returns the PCM layout of decoded frames.
func (d *Decoder) Format() audio.Format { return Format(d.channels) }

// Decode decodes one packet into little-endian 16-bit interleaved PCM.
func (d *Decoder) Decode(packet []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(packet, maxFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("opus: decode: %w", err)
	}
	return int16sToBytes(pcm), nil
}

// DecodeInto decodes one packet and appends the frames to buf. buf must have
// been initialized with [Decoder.Format].
func (d *Decoder) DecodeInto(buf *audio.AwaitableBuffer, packet []byte) error {
	pcm, err := d.Decode(packet)
	if err != nil {
		return err
	}
	return buf.AppendPCM(pcm)
}

// Encoder produces Opus packets from 16-bit PCM. It is used by the file
// command to simulate a live client.
type Encoder struct {
	enc      *gopus.Encoder
	channels int
}

// NewEncoder creates an encoder tuned for speech.
func NewEncoder(channels int) (*Encoder, error) {
	enc, err := gopus.NewEncoder(SampleRate, channels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("opus: create encoder: %w", err)
	}
	return &Encoder{enc: enc, channels: channels}, nil
}

// FrameSize is the number of samples per channel in one 20 ms packet.
const FrameSize = SampleRate * 20 / 1000

// Encode encodes exactly one 20 ms frame of little-endian 16-bit interleaved
// PCM.
func (e *Encoder) Encode(pcm []byte) ([]byte, error) {
	if want := FrameSize * e.channels * 2; len(pcm) != want {
		return nil, fmt.Errorf("opus: frame is %d bytes, want %d", len(pcm), want)
	}
	packet, err := e.enc.Encode(bytesToInt16s(pcm), FrameSize, len(pcm))
	if err != nil {
		return nil, fmt.Errorf("opus: encode: %w", err)
	}
	return packet, nil
}

func int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

func bytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}
