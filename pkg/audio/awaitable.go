package audio

import (
	"context"
	"sync"
	"time"
)

// Compile-time assertions that AwaitableBuffer satisfies both source roles.
var (
	_ Awaitable   = (*AwaitableBuffer)(nil)
	_ Discardable = (*AwaitableBuffer)(nil)
)

// AwaitableBuffer is a [Buffer] shared between one producer and one consumer.
//
// All state lives behind a single mutex. Every append, flush and [Notify]
// closes the current wake channel and replaces it, so waiters observe each
// change at most one wake-up late and never miss one. Initialization is a
// one-shot barrier released by the first successful append after
// [AwaitableBuffer.Initialize], or by Flush on a stream that never produced a
// frame.
//
// All methods are safe for concurrent use.
type AwaitableBuffer struct {
	mu      sync.Mutex
	buf     *Buffer
	flushed bool
	wake    chan struct{}
	ready   chan struct{}
	isReady bool
}

// NewAwaitableBuffer returns an uninitialized AwaitableBuffer. opts configure
// the underlying [Buffer].
func NewAwaitableBuffer(opts ...BufferOption) *AwaitableBuffer {
	return &AwaitableBuffer{
		buf:   NewBuffer(opts...),
		wake:  make(chan struct{}),
		ready: make(chan struct{}),
	}
}

// Initialize fixes the stream format. The initialization barrier is released
// only once the first frames arrive.
func (a *AwaitableBuffer) Initialize(f Format) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.Initialize(f)
}

// Initialized reports whether the format is known.
func (a *AwaitableBuffer) Initialized() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.Initialized()
}

// AppendSamples appends interleaved float samples and wakes waiters.
func (a *AwaitableBuffer) AppendSamples(samples []float32) error {
	return a.append(func() error { return a.buf.AppendSamples(samples) })
}

// AppendPCM appends little-endian PCM frames and wakes waiters.
func (a *AwaitableBuffer) AppendPCM(pcm []byte) error {
	return a.append(func() error { return a.buf.AppendPCM(pcm) })
}

func (a *AwaitableBuffer) append(fn func() error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.flushed {
		return ErrAlreadyFlushed
	}
	if err := fn(); err != nil {
		return err
	}
	if !a.isReady {
		a.isReady = true
		close(a.ready)
	}
	a.broadcastLocked()
	return nil
}

// Flush marks the stream as complete. Later appends fail with
// [ErrAlreadyFlushed]. Flush is idempotent and releases
// [AwaitableBuffer.WaitForInitialization] even if no frame ever arrived.
func (a *AwaitableBuffer) Flush() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.flushed {
		return
	}
	a.flushed = true
	if !a.isReady {
		a.isReady = true
		close(a.ready)
	}
	a.broadcastLocked()
}

// Flushed implements [Awaitable].
func (a *AwaitableBuffer) Flushed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.flushed
}

// Notify wakes every waiter without changing state. Waiters re-check their
// condition and go back to sleep if it still does not hold.
func (a *AwaitableBuffer) Notify() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.broadcastLocked()
}

func (a *AwaitableBuffer) broadcastLocked() {
	close(a.wake)
	a.wake = make(chan struct{})
}

// WaitForInitialization implements [Awaitable].
func (a *AwaitableBuffer) WaitForInitialization(ctx context.Context) error {
	a.mu.Lock()
	ready := a.ready
	a.mu.Unlock()
	select {
	case <-ready:
		return nil
	default:
	}
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitForFrames implements [Awaitable].
func (a *AwaitableBuffer) WaitForFrames(ctx context.Context, minFrames int64) error {
	return a.waitUntil(ctx, func() bool { return a.buf.FrameCount() > minFrames })
}

// WaitForDuration implements [Awaitable].
func (a *AwaitableBuffer) WaitForDuration(ctx context.Context, minDuration time.Duration) error {
	return a.waitUntil(ctx, func() bool { return a.buf.Duration() > minDuration })
}

// waitUntil blocks until cond holds, the buffer is flushed, or ctx is done.
// cond is evaluated with the mutex held.
func (a *AwaitableBuffer) waitUntil(ctx context.Context, cond func() bool) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		a.mu.Lock()
		if a.flushed || cond() {
			a.mu.Unlock()
			return nil
		}
		wake := a.wake
		a.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Format implements [Source].
func (a *AwaitableBuffer) Format() Format {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.Format()
}

// FrameCount implements [Source].
func (a *AwaitableBuffer) FrameCount() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.FrameCount()
}

// Duration implements [Source].
func (a *AwaitableBuffer) Duration() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.Duration()
}

// RetainedFrames returns the number of frames still held in memory.
func (a *AwaitableBuffer) RetainedFrames() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.RetainedFrames()
}

// DiscardedFrames implements [Discardable].
func (a *AwaitableBuffer) DiscardedFrames() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.DiscardedFrames()
}

// DiscardFrames implements [Discardable].
func (a *AwaitableBuffer) DiscardFrames(count int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.DiscardFrames(count)
}

// Samples implements [Source].
func (a *AwaitableBuffer) Samples(startFrame int64, maxFrames int) ([]float32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.Samples(startFrame, maxFrames)
}

// Frames implements [Source].
func (a *AwaitableBuffer) Frames(startFrame int64, maxFrames int) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.Frames(startFrame, maxFrames)
}

// CopyFrames implements [Source].
func (a *AwaitableBuffer) CopyFrames(dst []byte, startFrame int64, maxFrames int) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.CopyFrames(dst, startFrame, maxFrames)
}
