package audio

// Downmix averages interleaved multi-channel samples into mono. If channels
// is 1 the input is returned unchanged.
func Downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	mono := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += samples[i*channels+ch]
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}

// Resample converts mono samples from srcRate to dstRate using linear
// interpolation. If the rates match the input is returned unchanged.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstLen {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))

		s0 := samples[idx]
		s1 := s0
		if idx+1 < len(samples) {
			s1 = samples[idx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}

// ToMono16k prepares samples of format f for backends that only accept 16 kHz
// mono input (whisper.cpp and most VAD models).
func ToMono16k(samples []float32, f Format) []float32 {
	mono := Downmix(samples, int(f.Channels))
	return Resample(mono, int(f.SampleRate), 16000)
}

// Mono16k is the layout whisper.cpp and most VAD models expect.
var Mono16k = Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}

// ToMono16kSource reads every frame of src and returns it as a 16 kHz mono
// source. Sources already in that layout are returned unchanged.
func ToMono16kSource(src Source) (Source, error) {
	f := src.Format()
	if f.SampleRate == Mono16k.SampleRate && f.Channels == 1 {
		return src, nil
	}
	samples, err := ReadAllSamples(src, 0)
	if err != nil {
		return nil, err
	}
	return NewMemorySource(ToMono16k(samples, f), Format{SampleRate: 16000, Channels: 1, BitsPerSample: f.BitsPerSample})
}
