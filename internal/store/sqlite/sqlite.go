// Package sqlite implements [store.TranscriptStore] on an embedded SQLite
// database using the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/rtscribe/internal/store"
	"github.com/MrWong99/rtscribe/pkg/audio"
	"github.com/MrWong99/rtscribe/pkg/provider/stt"
)

var _ store.TranscriptStore = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id               TEXT     PRIMARY KEY,
    status           TEXT     NOT NULL,
    language         TEXT     NOT NULL DEFAULT '',
    sample_rate      INTEGER  NOT NULL DEFAULT 0,
    channels         INTEGER  NOT NULL DEFAULT 0,
    bits_per_sample  INTEGER  NOT NULL DEFAULT 0,
    started_at       INTEGER  NOT NULL,
    ended_at         INTEGER
);

CREATE TABLE IF NOT EXISTS segments (
    session_id   TEXT     NOT NULL REFERENCES sessions (id) ON DELETE CASCADE,
    seq          INTEGER  NOT NULL,
    start_ns     INTEGER  NOT NULL,
    duration_ns  INTEGER  NOT NULL,
    text         TEXT     NOT NULL,
    language     TEXT     NOT NULL DEFAULT '',
    confidence   REAL,
    tokens       TEXT     NOT NULL DEFAULT '[]',
    PRIMARY KEY (session_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions (started_at);
`

// Store is a SQLite-backed transcript store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database file at path and initializes
// the schema. Parent directories are created.
func Open(ctx context.Context, path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite store: create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	// A single writer connection serializes transactions.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: init schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) CreateSession(ctx context.Context, sess store.Session) error {
	const q = `
		INSERT INTO sessions (id, status, language, sample_rate, channels, bits_per_sample, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, q,
		sess.ID,
		string(sess.Status),
		sess.Language,
		int64(sess.Format.SampleRate),
		int64(sess.Format.Channels),
		int64(sess.Format.BitsPerSample),
		sess.StartedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("sqlite store: create session %q: %w", sess.ID, err)
	}
	return nil
}

func (s *Store) FinishSession(ctx context.Context, id string, status store.Status, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, ended_at = ? WHERE id = ?`,
		string(status), at.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("sqlite store: finish session %q: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite store: finish session %q: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("sqlite store: finish session %q: %w", id, store.ErrNotFound)
	}
	return nil
}

func (s *Store) AppendSegment(ctx context.Context, sessionID string, seq int, seg stt.Segment) error {
	tokens, err := store.EncodeTokens(seg.Tokens)
	if err != nil {
		return err
	}
	var confidence sql.NullFloat64
	if seg.Confidence != nil {
		confidence = sql.NullFloat64{Float64: float64(*seg.Confidence), Valid: true}
	}
	const q = `
		INSERT INTO segments (session_id, seq, start_ns, duration_ns, text, language, confidence, tokens)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, q,
		sessionID,
		seq,
		seg.Start.Nanoseconds(),
		seg.Duration.Nanoseconds(),
		seg.Text,
		seg.Language,
		confidence,
		string(tokens),
	)
	if err != nil {
		return fmt.Errorf("sqlite store: append segment %s/%d: %w", sessionID, seq, err)
	}
	return nil
}

func (s *Store) Session(ctx context.Context, id string) (store.Session, error) {
	const q = `
		SELECT id, status, language, sample_rate, channels, bits_per_sample, started_at, ended_at
		FROM sessions WHERE id = ?`

	var (
		sess                          store.Session
		status                        string
		rate, channels, bitsPerSample int64
		started                       int64
		ended                         sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, q, id).Scan(
		&sess.ID, &status, &sess.Language, &rate, &channels, &bitsPerSample, &started, &ended,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Session{}, fmt.Errorf("sqlite store: session %q: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return store.Session{}, fmt.Errorf("sqlite store: session %q: %w", id, err)
	}
	sess.Status = store.Status(status)
	sess.Format = audio.Format{
		SampleRate:    uint32(rate),
		Channels:      uint16(channels),
		BitsPerSample: uint16(bitsPerSample),
	}
	sess.StartedAt = time.Unix(0, started)
	if ended.Valid {
		sess.EndedAt = time.Unix(0, ended.Int64)
	}
	return sess, nil
}

func (s *Store) Segments(ctx context.Context, sessionID string) ([]stt.Segment, error) {
	const q = `
		SELECT session_id, seq, start_ns, duration_ns, text, language, confidence, tokens
		FROM segments WHERE session_id = ? ORDER BY seq`

	hits, err := s.queryHits(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: segments: %w", err)
	}
	segs := make([]stt.Segment, len(hits))
	for i, h := range hits {
		segs[i] = h.Segment
	}
	return segs, nil
}

// Search matches every whitespace-separated word of query as a
// case-insensitive substring of the segment text.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]store.Hit, error) {
	if limit <= 0 {
		limit = store.DefaultSearchLimit
	}
	words := strings.Fields(query)
	if len(words) == 0 {
		return []store.Hit{}, nil
	}

	var (
		where strings.Builder
		args  = make([]any, 0, len(words)+1)
	)
	for i, w := range words {
		if i > 0 {
			where.WriteString(" AND ")
		}
		where.WriteString(`g.text LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(w)+"%")
	}
	args = append(args, limit)

	q := `
		SELECT g.session_id, g.seq, g.start_ns, g.duration_ns, g.text, g.language, g.confidence, g.tokens
		FROM segments g JOIN sessions s ON s.id = g.session_id
		WHERE ` + where.String() + `
		ORDER BY s.started_at, g.session_id, g.seq
		LIMIT ?`

	hits, err := s.queryHits(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: search: %w", err)
	}
	return hits, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) queryHits(ctx context.Context, q string, args ...any) ([]store.Hit, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hits := []store.Hit{}
	for rows.Next() {
		var (
			h                   store.Hit
			startNS, durationNS int64
			confidence          sql.NullFloat64
			tokens              string
		)
		if err := rows.Scan(
			&h.SessionID, &h.Seq, &startNS, &durationNS,
			&h.Segment.Text, &h.Segment.Language, &confidence, &tokens,
		); err != nil {
			return nil, err
		}
		h.Segment.Start = time.Duration(startNS)
		h.Segment.Duration = time.Duration(durationNS)
		if confidence.Valid {
			c := float32(confidence.Float64)
			h.Segment.Confidence = &c
		}
		if h.Segment.Tokens, err = store.DecodeTokens([]byte(tokens)); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
