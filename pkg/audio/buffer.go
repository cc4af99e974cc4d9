package audio

import (
	"fmt"
	"time"
)

// defaultInitialFrames is the initial capacity of a [Buffer] in frames
// (10 s of 16 kHz audio).
const defaultInitialFrames = 160_000

// Compile-time assertion that Buffer satisfies Discardable.
var _ Discardable = (*Buffer)(nil)

// BufferOption is a functional option for configuring a [Buffer].
type BufferOption func(*Buffer)

// WithStoreSamples controls whether frames are retained as float samples.
// Defaults to true.
func WithStoreSamples(store bool) BufferOption {
	return func(b *Buffer) { b.storeSamples = store }
}

// WithStoreBytes controls whether frames are retained as serialized PCM.
// Defaults to false. Storing the representation the consumer reads avoids a
// conversion per read; storing both trades memory for CPU.
func WithStoreBytes(store bool) BufferOption {
	return func(b *Buffer) { b.storeBytes = store }
}

// WithInitialCapacity sets the number of frames preallocated on
// initialization.
func WithInitialCapacity(frames int) BufferOption {
	return func(b *Buffer) {
		if frames > 0 {
			b.initialFrames = frames
		}
	}
}

// Buffer is a growable store of interleaved frames that supports discarding
// frames from the front. It is not safe for concurrent use; wrap it in an
// [AwaitableBuffer] to share it between a producer and a consumer.
//
// Discarding reslices the backing storage instead of moving data, so slices
// returned by earlier reads stay valid and unchanged.
type Buffer struct {
	format        Format
	initialized   bool
	storeSamples  bool
	storeBytes    bool
	initialFrames int

	samples   []float32
	pcm       []byte
	appended  int64
	discarded int64
}

// NewBuffer returns an uninitialized Buffer. Call [Buffer.Initialize] once the
// stream format is known.
func NewBuffer(opts ...BufferOption) *Buffer {
	b := &Buffer{
		storeSamples:  true,
		initialFrames: defaultInitialFrames,
	}
	for _, o := range opts {
		o(b)
	}
	if !b.storeSamples && !b.storeBytes {
		b.storeSamples = true
	}
	return b
}

// Initialize fixes the buffer format. Calling it again with the same format is
// a no-op; a different format is rejected.
func (b *Buffer) Initialize(f Format) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if b.initialized {
		if b.format != f {
			return fmt.Errorf("audio: buffer already initialized as %s, got %s", b.format, f)
		}
		return nil
	}
	b.format = f
	b.initialized = true
	if b.storeSamples {
		b.samples = make([]float32, 0, b.initialFrames*int(f.Channels))
	}
	if b.storeBytes {
		b.pcm = make([]byte, 0, b.initialFrames*f.FrameSize())
	}
	return nil
}

// Initialized reports whether the format is known.
func (b *Buffer) Initialized() bool { return b.initialized }

// Format returns the buffer format, or the zero Format before initialization.
func (b *Buffer) Format() Format { return b.format }

// FrameCount returns the number of frames ever appended, including discarded
// ones.
func (b *Buffer) FrameCount() int64 { return b.appended }

// RetainedFrames returns the number of frames still held in memory.
func (b *Buffer) RetainedFrames() int64 { return b.appended - b.discarded }

// DiscardedFrames returns the number of frames dropped from the front.
func (b *Buffer) DiscardedFrames() int64 { return b.discarded }

// Duration returns the time covered by every frame ever appended.
func (b *Buffer) Duration() time.Duration { return b.format.DurationOf(b.appended) }

// AppendSamples appends interleaved float samples. len(samples) must be a
// multiple of the channel count.
func (b *Buffer) AppendSamples(samples []float32) error {
	if !b.initialized {
		return ErrNotInitialized
	}
	ch := int(b.format.Channels)
	if len(samples)%ch != 0 {
		return fmt.Errorf("%w: %d samples is not a whole number of %d-channel frames", ErrInvalidRange, len(samples), ch)
	}
	if b.storeSamples {
		b.samples = append(b.samples, samples...)
	}
	if b.storeBytes {
		pcm, err := EncodePCM(samples, b.format.BitsPerSample)
		if err != nil {
			return err
		}
		b.pcm = append(b.pcm, pcm...)
	}
	b.appended += int64(len(samples) / ch)
	return nil
}

// AppendPCM appends little-endian PCM frames at the buffer's BitsPerSample.
// len(pcm) must be a multiple of the frame size.
func (b *Buffer) AppendPCM(pcm []byte) error {
	if !b.initialized {
		return ErrNotInitialized
	}
	fs := b.format.FrameSize()
	if len(pcm)%fs != 0 {
		return fmt.Errorf("%w: %d bytes is not a whole number of %d-byte frames", ErrInvalidRange, len(pcm), fs)
	}
	if b.storeSamples {
		samples, err := DecodePCM(pcm, b.format.BitsPerSample)
		if err != nil {
			return err
		}
		b.samples = append(b.samples, samples...)
	}
	if b.storeBytes {
		b.pcm = append(b.pcm, pcm...)
	}
	b.appended += int64(len(pcm) / fs)
	return nil
}

// DiscardFrames drops count frames from the front. count must be positive and
// must not exceed [Buffer.RetainedFrames].
func (b *Buffer) DiscardFrames(count int64) error {
	if !b.initialized {
		return ErrNotInitialized
	}
	if count <= 0 {
		return fmt.Errorf("%w: discard count %d must be positive", ErrInvalidRange, count)
	}
	if count > b.RetainedFrames() {
		return fmt.Errorf("%w: cannot discard %d frames, only %d retained", ErrInvalidRange, count, b.RetainedFrames())
	}
	if b.storeSamples {
		b.samples = compact(b.samples[count*int64(b.format.Channels):])
	}
	if b.storeBytes {
		b.pcm = compact(b.pcm[count*int64(b.format.FrameSize()):])
	}
	b.discarded += count
	return nil
}

// compact moves s into a fresh array once most of its capacity is dead
// weight. The old array is left untouched for readers still holding slices.
func compact[T any](s []T) []T {
	if len(s) > 0 && cap(s) > 4*len(s) && cap(s) > 4096 {
		c := make([]T, len(s), 2*len(s))
		copy(c, s)
		return c
	}
	return s
}

// retainedRange translates a virtual read request into indices relative to
// the retained storage.
func (b *Buffer) retainedRange(startFrame int64, maxFrames int) (int64, int64, error) {
	if !b.initialized {
		return 0, 0, ErrNotInitialized
	}
	if startFrame < b.discarded {
		return 0, 0, fmt.Errorf("%w: frame %d is below the discard watermark %d", ErrDiscardedRange, startFrame, b.discarded)
	}
	lo, hi, err := clampRange(startFrame-b.discarded, maxFrames, b.RetainedFrames())
	if err != nil {
		return 0, 0, err
	}
	return lo, hi, nil
}

// Samples implements [Source].
func (b *Buffer) Samples(startFrame int64, maxFrames int) ([]float32, error) {
	lo, hi, err := b.retainedRange(startFrame, maxFrames)
	if err != nil {
		return nil, err
	}
	if b.storeSamples {
		ch := int64(b.format.Channels)
		return b.samples[lo*ch : hi*ch : hi*ch], nil
	}
	fs := int64(b.format.FrameSize())
	return DecodePCM(b.pcm[lo*fs:hi*fs], b.format.BitsPerSample)
}

// Frames implements [Source].
func (b *Buffer) Frames(startFrame int64, maxFrames int) ([]byte, error) {
	lo, hi, err := b.retainedRange(startFrame, maxFrames)
	if err != nil {
		return nil, err
	}
	if b.storeBytes {
		fs := int64(b.format.FrameSize())
		return b.pcm[lo*fs : hi*fs : hi*fs], nil
	}
	ch := int64(b.format.Channels)
	return EncodePCM(b.samples[lo*ch:hi*ch], b.format.BitsPerSample)
}

// CopyFrames implements [Source].
func (b *Buffer) CopyFrames(dst []byte, startFrame int64, maxFrames int) (int, error) {
	if !b.initialized {
		return 0, ErrNotInitialized
	}
	fs := b.format.FrameSize()
	lo, hi, err := b.retainedRange(startFrame, min(maxFrames, len(dst)/fs))
	if err != nil {
		return 0, err
	}
	if b.storeBytes {
		return copy(dst, b.pcm[lo*int64(fs):hi*int64(fs)]) / fs, nil
	}
	ch := int64(b.format.Channels)
	n, err := EncodePCMInto(dst, b.samples[lo*ch:hi*ch], b.format.BitsPerSample)
	if err != nil {
		return 0, err
	}
	return n / int(ch), nil
}
