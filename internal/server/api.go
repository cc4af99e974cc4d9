package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/MrWong99/rtscribe/internal/observe"
	"github.com/MrWong99/rtscribe/internal/realtime"
	"github.com/MrWong99/rtscribe/internal/store"
)

const maxSearchLimit = 1000

// SessionResponse is the JSON form of a stored session.
type SessionResponse struct {
	ID            string                    `json:"id"`
	Status        store.Status              `json:"status"`
	Language      string                    `json:"language,omitempty"`
	SampleRate    uint32                    `json:"sample_rate"`
	Channels      uint16                    `json:"channels"`
	BitsPerSample uint16                    `json:"bits_per_sample"`
	StartedAt     time.Time                 `json:"started_at"`
	EndedAt       *time.Time                `json:"ended_at,omitempty"`
	Segments      []realtime.SegmentMessage `json:"segments"`
}

// HitResponse is one search result.
type HitResponse struct {
	SessionID string                  `json:"session_id"`
	Seq       int                     `json:"seq"`
	Segment   realtime.SegmentMessage `json:"segment"`
}

// handleActiveSessions serves GET /v1/sessions.
func (s *Server) handleActiveSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.sessions.Active()})
}

// handleStoredSession serves GET /v1/sessions/{id}.
func (s *Server) handleStoredSession(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotImplemented, "transcript store is not configured")
		return
	}
	id := r.PathValue("id")

	sess, err := s.store.Session(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		observe.Logger(r.Context()).Error("load session", "session_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	segs, err := s.store.Segments(r.Context(), id)
	if err != nil {
		observe.Logger(r.Context()).Error("load segments", "session_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to load segments")
		return
	}

	resp := SessionResponse{
		ID:            sess.ID,
		Status:        sess.Status,
		Language:      sess.Language,
		SampleRate:    sess.Format.SampleRate,
		Channels:      sess.Format.Channels,
		BitsPerSample: sess.Format.BitsPerSample,
		StartedAt:     sess.StartedAt.UTC(),
		Segments:      make([]realtime.SegmentMessage, len(segs)),
	}
	if !sess.EndedAt.IsZero() {
		ended := sess.EndedAt.UTC()
		resp.EndedAt = &ended
	}
	for i, seg := range segs {
		resp.Segments[i] = realtime.NewSegmentMessage(seg)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSearch serves GET /v1/search?q=...&limit=...
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotImplemented, "transcript store is not configured")
		return
	}
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}
	limit := store.DefaultSearchLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxSearchLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	hits, err := s.store.Search(r.Context(), q, limit)
	if err != nil {
		observe.Logger(r.Context()).Error("search transcripts", "err", err)
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	resp := make([]HitResponse, len(hits))
	for i, h := range hits {
		resp[i] = HitResponse{SessionID: h.SessionID, Seq: h.Seq, Segment: realtime.NewSegmentMessage(h.Segment)}
	}
	writeJSON(w, http.StatusOK, map[string]any{"hits": resp})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
