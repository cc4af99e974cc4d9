// Package sink fans a session's event stream out to external consumers.
package sink

import (
	"context"
	"errors"

	"github.com/MrWong99/rtscribe/internal/realtime"
)

// Handler consumes the events of one session in order.
type Handler interface {
	Handle(ctx context.Context, ev realtime.Event) error
}

// HandlerFunc adapts a function to [Handler].
type HandlerFunc func(ctx context.Context, ev realtime.Event) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, ev realtime.Event) error { return f(ctx, ev) }

// Multi delivers every event to all handlers, in order, and joins their
// errors. A failing handler does not stop delivery to the others. Nil
// handlers are skipped.
type Multi []Handler

// Handle implements [Handler].
func (m Multi) Handle(ctx context.Context, ev realtime.Event) error {
	var errs []error
	for _, h := range m {
		if h == nil {
			continue
		}
		if err := h.Handle(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
