package audio_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/rtscribe/pkg/audio"
)

func TestSlice_TranslatesReads(t *testing.T) {
	t.Parallel()
	src, err := audio.NewMemorySource(ramp(0, 16000), mono16k)
	if err != nil {
		t.Fatal(err)
	}
	s, err := audio.NewSlice(src, 250*time.Millisecond, 500*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if got := s.FrameCount(); got != 8000 {
		t.Errorf("FrameCount = %d, want 8000", got)
	}
	if got := s.Start(); got != 250*time.Millisecond {
		t.Errorf("Start = %s, want 250ms", got)
	}
	samples, err := s.Samples(0, 1)
	if err != nil {
		t.Fatal(err)
	}
	if want := float32(4000) / 65536; samples[0] != want {
		t.Errorf("first sample = %v, want %v", samples[0], want)
	}
	tail, err := s.Samples(7990, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(tail) != 10 {
		t.Errorf("tail len = %d, want 10", len(tail))
	}
}

func TestSlice_GrowsWithLiveSource(t *testing.T) {
	t.Parallel()
	buf := audio.NewAwaitableBuffer()
	if err := buf.Initialize(mono16k); err != nil {
		t.Fatal(err)
	}
	if err := buf.AppendSamples(make([]float32, 100)); err != nil {
		t.Fatal(err)
	}
	s, err := audio.NewSliceFrames(buf, 50, -1)
	if err != nil {
		t.Fatal(err)
	}
	if got := s.FrameCount(); got != 50 {
		t.Errorf("FrameCount = %d, want 50", got)
	}
	if err := buf.AppendSamples(make([]float32, 100)); err != nil {
		t.Fatal(err)
	}
	if got := s.FrameCount(); got != 150 {
		t.Errorf("FrameCount after append = %d, want 150", got)
	}
}

func TestSlice_BelowDiscardWatermark(t *testing.T) {
	t.Parallel()
	b := newBuffer(t)
	if err := b.AppendSamples(make([]float32, 100)); err != nil {
		t.Fatal(err)
	}
	s, _ := audio.NewSliceFrames(b, 10, 50)
	if err := b.DiscardFrames(20); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Samples(0, 5); !errors.Is(err, audio.ErrDiscardedRange) {
		t.Errorf("err = %v, want ErrDiscardedRange", err)
	}
	if _, err := s.Samples(10, 5); err != nil {
		t.Errorf("read above watermark: %v", err)
	}
}

func TestSilence(t *testing.T) {
	t.Parallel()
	for _, bits := range []uint16{8, 16} {
		f := audio.Format{SampleRate: 16000, Channels: 2, BitsPerSample: bits}
		s := audio.NewSilence(10*time.Millisecond, f)
		if got := s.FrameCount(); got != 160 {
			t.Fatalf("FrameCount = %d, want 160", got)
		}
		pcm, err := s.Frames(0, 1000)
		if err != nil {
			t.Fatal(err)
		}
		samples, _ := audio.DecodePCM(pcm, bits)
		for i, v := range samples {
			if v != 0 {
				t.Fatalf("%d-bit sample %d = %v, want 0", bits, i, v)
			}
		}
	}
}

func TestConcat_DispatchesAcrossParts(t *testing.T) {
	t.Parallel()
	speech, _ := audio.NewMemorySource(ramp(1, 100), mono16k)
	c, err := audio.NewConcat(
		audio.NewSilenceFrames(50, mono16k),
		speech,
		audio.NewSilenceFrames(50, mono16k),
	)
	if err != nil {
		t.Fatal(err)
	}
	if got := c.FrameCount(); got != 200 {
		t.Fatalf("FrameCount = %d, want 200", got)
	}

	all, err := c.Samples(0, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 200 {
		t.Fatalf("len = %d, want 200", len(all))
	}
	if all[49] != 0 || all[50] != float32(1)/65536 || all[149] != float32(100)/65536 || all[150] != 0 {
		t.Errorf("boundaries wrong: %v %v %v %v", all[49], all[50], all[149], all[150])
	}

	inner, err := c.Samples(60, 10)
	if err != nil {
		t.Fatal(err)
	}
	if inner[0] != float32(11)/65536 {
		t.Errorf("inner[0] = %v, want %v", inner[0], float32(11)/65536)
	}

	pcm, err := c.Frames(40, 20)
	if err != nil {
		t.Fatal(err)
	}
	if len(pcm) != 40 {
		t.Errorf("Frames len = %d, want 40", len(pcm))
	}

	dst := make([]byte, 400)
	n, err := c.CopyFrames(dst, 0, 200)
	if err != nil || n != 200 {
		t.Errorf("CopyFrames = (%d, %v), want (200, nil)", n, err)
	}
}

func TestConcat_FormatMismatch(t *testing.T) {
	t.Parallel()
	other := mono16k
	other.Channels = 2
	if _, err := audio.NewConcat(audio.NewSilenceFrames(1, mono16k), audio.NewSilenceFrames(1, other)); err == nil {
		t.Error("expected error for mixed formats")
	}
	if _, err := audio.NewConcat(); err == nil {
		t.Error("expected error for no sources")
	}
}

func TestWAV_RoundTrip(t *testing.T) {
	t.Parallel()
	src, _ := audio.NewMemorySource(ramp(0, 1600), mono16k)

	data, err := audio.EncodeWAV(src)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("RIFF")) || len(data) != 44+3200 {
		t.Fatalf("unexpected wav header or size %d", len(data))
	}
	decoded, err := audio.DecodeWAV(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if decoded.Format() != mono16k || decoded.FrameCount() != 1600 {
		t.Errorf("decoded %s with %d frames", decoded.Format(), decoded.FrameCount())
	}

	path := filepath.Join(t.TempDir(), "clip.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := audio.WriteWAV(f, decoded); err != nil {
		t.Fatalf("WriteWAV: %v", err)
	}
	f.Close()

	f, err = os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	again, err := audio.DecodeWAV(f)
	if err != nil {
		t.Fatalf("DecodeWAV file: %v", err)
	}
	if again.FrameCount() != 1600 {
		t.Errorf("FrameCount = %d, want 1600", again.FrameCount())
	}
}
