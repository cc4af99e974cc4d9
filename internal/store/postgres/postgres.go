// Package postgres implements [store.TranscriptStore] on PostgreSQL using a
// pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/rtscribe/internal/store"
	"github.com/MrWong99/rtscribe/pkg/audio"
	"github.com/MrWong99/rtscribe/pkg/provider/stt"
)

var _ store.TranscriptStore = (*Store)(nil)

const ddl = `
CREATE TABLE IF NOT EXISTS transcript_sessions (
    id               TEXT         PRIMARY KEY,
    status           TEXT         NOT NULL,
    language         TEXT         NOT NULL DEFAULT '',
    sample_rate      INTEGER      NOT NULL DEFAULT 0,
    channels         INTEGER      NOT NULL DEFAULT 0,
    bits_per_sample  INTEGER      NOT NULL DEFAULT 0,
    started_at       TIMESTAMPTZ  NOT NULL,
    ended_at         TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS transcript_segments (
    session_id   TEXT     NOT NULL REFERENCES transcript_sessions (id) ON DELETE CASCADE,
    seq          INTEGER  NOT NULL,
    start_ns     BIGINT   NOT NULL,
    duration_ns  BIGINT   NOT NULL,
    text         TEXT     NOT NULL,
    language     TEXT     NOT NULL DEFAULT '',
    confidence   REAL,
    tokens       JSONB    NOT NULL DEFAULT '[]',
    PRIMARY KEY (session_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_transcript_segments_fts
    ON transcript_segments USING GIN (to_tsvector('simple', text));
`

// Store is safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the database at dsn, verifies connectivity and runs
// [Migrate].
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Migrate creates the tables and indexes if they do not exist. It is
// idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("postgres store: migrate: %w", err)
	}
	return nil
}

// CreateSession implements [store.TranscriptStore].
func (s *Store) CreateSession(ctx context.Context, sess store.Session) error {
	const q = `
		INSERT INTO transcript_sessions
		    (id, status, language, sample_rate, channels, bits_per_sample, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, q,
		sess.ID,
		string(sess.Status),
		sess.Language,
		int32(sess.Format.SampleRate),
		int32(sess.Format.Channels),
		int32(sess.Format.BitsPerSample),
		sess.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres store: create session %q: %w", sess.ID, err)
	}
	return nil
}

// FinishSession implements [store.TranscriptStore].
func (s *Store) FinishSession(ctx context.Context, id string, status store.Status, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE transcript_sessions SET status = $2, ended_at = $3 WHERE id = $1`,
		id, string(status), at)
	if err != nil {
		return fmt.Errorf("postgres store: finish session %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres store: finish session %q: %w", id, store.ErrNotFound)
	}
	return nil
}

// AppendSegment implements [store.TranscriptStore].
func (s *Store) AppendSegment(ctx context.Context, sessionID string, seq int, seg stt.Segment) error {
	tokens, err := store.EncodeTokens(seg.Tokens)
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO transcript_segments
		    (session_id, seq, start_ns, duration_ns, text, language, confidence, tokens)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = s.pool.Exec(ctx, q,
		sessionID,
		int32(seq),
		seg.Start.Nanoseconds(),
		seg.Duration.Nanoseconds(),
		seg.Text,
		seg.Language,
		seg.Confidence,
		tokens,
	)
	if err != nil {
		return fmt.Errorf("postgres store: append segment %s/%d: %w", sessionID, seq, err)
	}
	return nil
}

// Session implements [store.TranscriptStore].
func (s *Store) Session(ctx context.Context, id string) (store.Session, error) {
	const q = `
		SELECT id, status, language, sample_rate, channels, bits_per_sample, started_at, ended_at
		FROM   transcript_sessions
		WHERE  id = $1`

	var (
		sess                          store.Session
		status                        string
		rate, channels, bitsPerSample int32
		ended                         pgtype.Timestamptz
	)
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&sess.ID, &status, &sess.Language, &rate, &channels, &bitsPerSample, &sess.StartedAt, &ended,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Session{}, fmt.Errorf("postgres store: session %q: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return store.Session{}, fmt.Errorf("postgres store: session %q: %w", id, err)
	}
	sess.Status = store.Status(status)
	sess.Format = audio.Format{
		SampleRate:    uint32(rate),
		Channels:      uint16(channels),
		BitsPerSample: uint16(bitsPerSample),
	}
	if ended.Valid {
		sess.EndedAt = ended.Time
	}
	return sess, nil
}

// Segments implements [store.TranscriptStore].
func (s *Store) Segments(ctx context.Context, sessionID string) ([]stt.Segment, error) {
	const q = `
		SELECT session_id, seq, start_ns, duration_ns, text, language, confidence, tokens
		FROM   transcript_segments
		WHERE  session_id = $1
		ORDER  BY seq`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: segments: %w", err)
	}
	hits, err := collectHits(rows)
	if err != nil {
		return nil, err
	}
	segs := make([]stt.Segment, len(hits))
	for i, h := range hits {
		segs[i] = h.Segment
	}
	return segs, nil
}

// Search implements [store.TranscriptStore] with PostgreSQL full-text search.
// The query is passed to plainto_tsquery, so no operator syntax is needed.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]store.Hit, error) {
	if limit <= 0 {
		limit = store.DefaultSearchLimit
	}
	const q = `
		SELECT g.session_id, g.seq, g.start_ns, g.duration_ns, g.text, g.language, g.confidence, g.tokens
		FROM   transcript_segments g
		JOIN   transcript_sessions s ON s.id = g.session_id
		WHERE  to_tsvector('simple', g.text) @@ plainto_tsquery('simple', $1)
		ORDER  BY s.started_at, g.session_id, g.seq
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, query, int32(limit))
	if err != nil {
		return nil, fmt.Errorf("postgres store: search: %w", err)
	}
	return collectHits(rows)
}

// Ping implements [store.TranscriptStore].
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func collectHits(rows pgx.Rows) ([]store.Hit, error) {
	hits, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Hit, error) {
		var (
			h                   store.Hit
			seq                 int32
			startNS, durationNS int64
			tokens              []byte
		)
		if err := row.Scan(
			&h.SessionID,
			&seq,
			&startNS,
			&durationNS,
			&h.Segment.Text,
			&h.Segment.Language,
			&h.Segment.Confidence,
			&tokens,
		); err != nil {
			return store.Hit{}, err
		}
		h.Seq = int(seq)
		h.Segment.Start = time.Duration(startNS)
		h.Segment.Duration = time.Duration(durationNS)
		var err error
		h.Segment.Tokens, err = store.DecodeTokens(tokens)
		return h, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	if hits == nil {
		hits = []store.Hit{}
	}
	return hits, nil
}
