// Package store persists transcription sessions and their recognized
// segments.
//
// [TranscriptStore] is implemented by the postgres (pgx) and sqlite
// (modernc.org/sqlite) subpackages. A [Recorder] feeds one session's event
// stream into a store.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/rtscribe/internal/realtime"
	"github.com/MrWong99/rtscribe/pkg/audio"
	"github.com/MrWong99/rtscribe/pkg/provider/stt"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("store: not found")

// Status is the lifecycle state of a stored session.
type Status string

const (
	StatusActive   Status = "active"
	StatusStopped  Status = "stopped"
	StatusCanceled Status = "canceled"
	StatusFailed   Status = "failed"
)

// Session is the metadata row of one transcription session.
type Session struct {
	ID       string
	Status   Status
	Language string
	Format   audio.Format

	StartedAt time.Time

	// EndedAt is zero while the session is active.
	EndedAt time.Time
}

// Hit is a segment returned by [TranscriptStore.Search].
type Hit struct {
	SessionID string
	Seq       int
	Segment   stt.Segment
}

// TranscriptStore persists sessions and recognized segments. Implementations
// are safe for concurrent use.
type TranscriptStore interface {
	// CreateSession inserts s. Creating an existing session is an error.
	CreateSession(ctx context.Context, s Session) error

	// FinishSession sets the final status and end time of session id.
	// It returns [ErrNotFound] for unknown sessions.
	FinishSession(ctx context.Context, id string, status Status, at time.Time) error

	// AppendSegment stores seg as the seq-th recognized segment of sessionID.
	AppendSegment(ctx context.Context, sessionID string, seq int, seg stt.Segment) error

	// Session returns the metadata of session id, or [ErrNotFound].
	Session(ctx context.Context, id string) (Session, error)

	// Segments returns the segments of sessionID ordered by seq.
	Segments(ctx context.Context, sessionID string) ([]stt.Segment, error)

	// Search returns up to limit segments whose text matches query, oldest
	// session first. limit <= 0 selects a default of 100.
	Search(ctx context.Context, query string, limit int) ([]Hit, error)

	// Ping checks connectivity. Used by the readiness probe.
	Ping(ctx context.Context) error

	Close() error
}

// DefaultSearchLimit is used when Search is called with limit <= 0.
const DefaultSearchLimit = 100

// EncodeTokens serializes tokens for a JSON column. Nil tokens encode as
// "[]".
func EncodeTokens(tokens []stt.Token) ([]byte, error) {
	msgs := realtime.NewSegmentMessage(stt.Segment{Tokens: tokens}).Tokens
	if msgs == nil {
		msgs = []realtime.TokenMessage{}
	}
	b, err := json.Marshal(msgs)
	if err != nil {
		return nil, fmt.Errorf("store: encode tokens: %w", err)
	}
	return b, nil
}

// DecodeTokens is the inverse of [EncodeTokens].
func DecodeTokens(b []byte) ([]stt.Token, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var msgs []realtime.TokenMessage
	if err := json.Unmarshal(b, &msgs); err != nil {
		return nil, fmt.Errorf("store: decode tokens: %w", err)
	}
	return realtime.SegmentMessage{Tokens: msgs}.Segment().Tokens, nil
}
