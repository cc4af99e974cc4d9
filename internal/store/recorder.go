package store

import (
	"context"
	"time"

	"github.com/MrWong99/rtscribe/internal/realtime"
)

// Recorder writes the events of one session to a [TranscriptStore]. It is
// not safe for concurrent use; feed it from the goroutine that consumes the
// session's event stream.
type Recorder struct {
	store   TranscriptStore
	meta    Session
	seq     int
	created bool
	done    bool
	clock   func() time.Time
}

// NewRecorder returns a Recorder that creates meta on SessionStarted. The ID
// of meta is taken from the first event when empty.
func NewRecorder(s TranscriptStore, meta Session) *Recorder {
	return &Recorder{store: s, meta: meta, clock: time.Now}
}

// Handle persists ev. SessionStarted creates the session row,
// SegmentRecognized appends a segment, and terminal events finish the
// session. Previews are ignored.
func (r *Recorder) Handle(ctx context.Context, ev realtime.Event) error {
	switch ev.Type {
	case realtime.SessionStarted:
		if r.meta.ID == "" {
			r.meta.ID = ev.SessionID
		}
		r.meta.Status = StatusActive
		r.meta.StartedAt = r.clock().UTC()
		if err := r.store.CreateSession(ctx, r.meta); err != nil {
			return err
		}
		r.created = true
		return nil
	case realtime.SegmentRecognized:
		seq := r.seq
		r.seq++
		return r.store.AppendSegment(ctx, r.meta.ID, seq, ev.Segment)
	case realtime.SessionStopped:
		return r.finish(ctx, StatusStopped)
	case realtime.SessionCanceled:
		return r.finish(ctx, StatusCanceled)
	}
	return nil
}

// Fail marks the session failed unless it already ended. ctx should outlive
// the session's own context.
func (r *Recorder) Fail(ctx context.Context) error {
	if !r.created || r.done {
		return nil
	}
	return r.finish(ctx, StatusFailed)
}

func (r *Recorder) finish(ctx context.Context, status Status) error {
	r.done = true
	return r.store.FinishSession(ctx, r.meta.ID, status, r.clock().UTC())
}
