package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// EncodeWAV serializes every readable frame of src as an in-memory RIFF/WAV
// file. HTTP transcription backends upload the result as a multipart file.
func EncodeWAV(src Source) ([]byte, error) {
	f := src.Format()
	if err := f.Validate(); err != nil {
		return nil, err
	}
	pcm, err := ReadAllFrames(src, 0)
	if err != nil {
		return nil, err
	}
	dataSize := len(pcm)
	buf := make([]byte, 44+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], f.Channels)
	binary.LittleEndian.PutUint32(buf[24:28], f.SampleRate)
	binary.LittleEndian.PutUint32(buf[28:32], f.SampleRate*uint32(f.FrameSize()))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(f.FrameSize()))
	binary.LittleEndian.PutUint16(buf[34:36], f.BitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)
	return buf, nil
}

// WriteWAV streams every readable frame of src into w as a WAV file.
func WriteWAV(w io.WriteSeeker, src Source) error {
	f := src.Format()
	if err := f.Validate(); err != nil {
		return err
	}
	samples, err := ReadAllSamples(src, 0)
	if err != nil {
		return err
	}
	scale, offset := intScale(f.BitsPerSample)
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(float64(clamp(s))*scale) + offset
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: int(f.Channels), SampleRate: int(f.SampleRate)},
		Data:           data,
		SourceBitDepth: int(f.BitsPerSample),
	}
	enc := wav.NewEncoder(w, int(f.SampleRate), int(f.BitsPerSample), int(f.Channels), 1)
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("audio: write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("audio: close wav encoder: %w", err)
	}
	return nil
}

// DecodeWAV reads an integer PCM WAV file fully into memory.
func DecodeWAV(r io.ReadSeeker) (*MemorySource, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, errors.New("audio: not a valid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("audio: decode wav: %w", err)
	}
	f := Format{
		SampleRate:    dec.SampleRate,
		Channels:      dec.NumChans,
		BitsPerSample: dec.BitDepth,
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	scale, offset := intScale(f.BitsPerSample)
	samples := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float32(float64(v-offset) / scale)
	}
	// Drop a truncated trailing frame.
	samples = samples[:len(samples)-len(samples)%int(f.Channels)]
	return NewMemorySource(samples, f)
}

// intScale returns the full-scale magnitude and zero offset of integer PCM
// at the given width.
func intScale(bitsPerSample uint16) (float64, int) {
	if bitsPerSample == 8 {
		return 127, 128
	}
	return float64(int64(1)<<(bitsPerSample-1) - 1), 0
}
