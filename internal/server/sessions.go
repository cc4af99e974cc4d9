package server

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/rtscribe/pkg/audio"
)

// SessionInfo holds metadata about an active websocket session.
type SessionInfo struct {
	// ID is the realtime session identifier. Empty until the session
	// started event was produced.
	ID string `json:"id"`

	RemoteAddr string       `json:"remote_addr"`
	Format     audio.Format `json:"-"`
	Encoding   string       `json:"encoding"`
	Language   string       `json:"language,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
}

// SessionManager tracks the active sessions of a [Server] so they can be
// listed and canceled on shutdown. All methods are safe for concurrent use.
type SessionManager struct {
	mu       sync.Mutex
	next     uint64
	sessions map[uint64]*managedSession
	wg       sync.WaitGroup
}

type managedSession struct {
	info   SessionInfo
	cancel context.CancelFunc
}

// NewSessionManager returns an empty SessionManager.
func NewSessionManager() *SessionManager {
	return &SessionManager{sessions: make(map[uint64]*managedSession)}
}

// Track registers a session and returns its context, derived from ctx, and
// a handle whose Done must be called when the session ends.
func (sm *SessionManager) Track(ctx context.Context, info SessionInfo) (context.Context, *SessionHandle) {
	ctx, cancel := context.WithCancel(ctx)
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.next++
	key := sm.next
	sm.sessions[key] = &managedSession{info: info, cancel: cancel}
	sm.wg.Add(1)
	return ctx, &SessionHandle{sm: sm, key: key, cancel: cancel}
}

// SessionHandle updates and releases one tracked session.
type SessionHandle struct {
	sm     *SessionManager
	key    uint64
	cancel context.CancelFunc
	once   sync.Once
}

// SetID records the realtime session ID once it is known.
func (h *SessionHandle) SetID(id string) {
	h.sm.mu.Lock()
	defer h.sm.mu.Unlock()
	if s, ok := h.sm.sessions[h.key]; ok {
		s.info.ID = id
	}
}

// Done removes the session and cancels its context. It is idempotent.
func (h *SessionHandle) Done() {
	h.once.Do(func() {
		h.cancel()
		h.sm.mu.Lock()
		delete(h.sm.sessions, h.key)
		h.sm.mu.Unlock()
		h.sm.wg.Done()
	})
}

// Active returns the active sessions ordered by start time.
func (sm *SessionManager) Active() []SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	out := make([]SessionInfo, 0, len(sm.sessions))
	for _, key := range slices.Sorted(maps.Keys(sm.sessions)) {
		out = append(out, sm.sessions[key].info)
	}
	return out
}

// Len returns the number of active sessions.
func (sm *SessionManager) Len() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}

// CancelAll cancels every active session. Canceled sessions end with a
// session canceled event.
func (sm *SessionManager) CancelAll() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for _, s := range sm.sessions {
		s.cancel()
	}
}

// Wait blocks until every tracked session called Done or ctx is done.
func (sm *SessionManager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		sm.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
