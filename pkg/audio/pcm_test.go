package audio_test

import (
	"math"
	"testing"

	"github.com/MrWong99/rtscribe/pkg/audio"
)

func TestPCMRoundTrip(t *testing.T) {
	t.Parallel()

	in := []float32{0, 0.5, -0.5, 0.999, -1}
	for _, bits := range []uint16{8, 16, 24, 32} {
		t.Run(audio.Format{SampleRate: 1, Channels: 1, BitsPerSample: bits}.String(), func(t *testing.T) {
			t.Parallel()
			pcm, err := audio.EncodePCM(in, bits)
			if err != nil {
				t.Fatalf("EncodePCM: %v", err)
			}
			if len(pcm) != len(in)*int(bits)/8 {
				t.Fatalf("len(pcm) = %d, want %d", len(pcm), len(in)*int(bits)/8)
			}
			out, err := audio.DecodePCM(pcm, bits)
			if err != nil {
				t.Fatalf("DecodePCM: %v", err)
			}
			tol := 1.5 / float64(int64(1)<<(bits-1))
			for i := range in {
				if math.Abs(float64(out[i]-in[i])) > tol {
					t.Errorf("sample %d = %v, want %v (±%v)", i, out[i], in[i], tol)
				}
			}
		})
	}
}

func TestEncodePCM_Clamps(t *testing.T) {
	t.Parallel()
	pcm, err := audio.EncodePCM([]float32{2, -2}, 16)
	if err != nil {
		t.Fatalf("EncodePCM: %v", err)
	}
	out, _ := audio.DecodePCM(pcm, 16)
	if out[0] < 0.999 || out[1] > -0.999 {
		t.Errorf("clamped = %v, want ≈[1 -1]", out)
	}
}

func TestDecodePCM_UnsupportedWidth(t *testing.T) {
	t.Parallel()
	if _, err := audio.DecodePCM([]byte{1, 2}, 12); err == nil {
		t.Error("expected error for 12-bit PCM")
	}
	if _, err := audio.EncodePCM([]float32{0}, 40); err == nil {
		t.Error("expected error for 40-bit PCM")
	}
}
