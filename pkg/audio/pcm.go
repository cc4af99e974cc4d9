package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DecodePCM converts little-endian PCM bytes at the given sample width into
// float samples in [-1, 1]. 8-bit samples are unsigned; wider samples are
// signed. Trailing bytes that do not form a whole sample are ignored.
func DecodePCM(pcm []byte, bitsPerSample uint16) ([]float32, error) {
	bps := int(bitsPerSample) / 8
	if bps <= 0 || bps > 4 || bitsPerSample%8 != 0 {
		return nil, fmt.Errorf("audio: unsupported bits per sample %d", bitsPerSample)
	}
	n := len(pcm) / bps
	out := make([]float32, n)
	switch bitsPerSample {
	case 8:
		for i := range n {
			out[i] = (float32(pcm[i]) - 128) / 128
		}
	case 16:
		for i := range n {
			out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
		}
	case 24:
		for i := range n {
			b := pcm[i*3:]
			v := int32(b[0]) | int32(b[1])<<8 | int32(int8(b[2]))<<16
			out[i] = float32(v) / 8388608
		}
	case 32:
		for i := range n {
			out[i] = float32(float64(int32(binary.LittleEndian.Uint32(pcm[i*4:]))) / 2147483648)
		}
	}
	return out, nil
}

// EncodePCM serializes float samples as little-endian PCM. Samples outside
// [-1, 1] are clamped.
func EncodePCM(samples []float32, bitsPerSample uint16) ([]byte, error) {
	out := make([]byte, len(samples)*int(bitsPerSample)/8)
	if _, err := EncodePCMInto(out, samples, bitsPerSample); err != nil {
		return nil, err
	}
	return out, nil
}

// EncodePCMInto serializes as many whole samples as fit into dst and returns
// the number of samples written.
func EncodePCMInto(dst []byte, samples []float32, bitsPerSample uint16) (int, error) {
	bps := int(bitsPerSample) / 8
	if bps <= 0 || bps > 4 || bitsPerSample%8 != 0 {
		return 0, fmt.Errorf("audio: unsupported bits per sample %d", bitsPerSample)
	}
	n := min(len(samples), len(dst)/bps)
	for i := range n {
		s := clamp(samples[i])
		switch bitsPerSample {
		case 8:
			dst[i] = uint8(math.Round(float64(s)*127) + 128)
		case 16:
			binary.LittleEndian.PutUint16(dst[i*2:], uint16(int16(math.Round(float64(s)*32767))))
		case 24:
			v := int32(math.Round(float64(s) * 8388607))
			dst[i*3] = byte(v)
			dst[i*3+1] = byte(v >> 8)
			dst[i*3+2] = byte(v >> 16)
		case 32:
			binary.LittleEndian.PutUint32(dst[i*4:], uint32(int32(math.Round(float64(s)*2147483647))))
		}
	}
	return n, nil
}

func clamp(s float32) float32 {
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}
