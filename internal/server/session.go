package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/rtscribe/internal/observe"
	"github.com/MrWong99/rtscribe/internal/realtime"
	"github.com/MrWong99/rtscribe/internal/sink"
	"github.com/MrWong99/rtscribe/internal/store"
	"github.com/MrWong99/rtscribe/pkg/audio"
)

// handleTranscribe upgrades the request and runs one session on it.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	log := observe.Logger(r.Context())

	conn, err := websocket.Accept(w, r, &s.accept)
	if err != nil {
		log.Warn("websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(s.readLimit)

	err = s.serve(r.Context(), conn, r.RemoteAddr)
	var collab *realtime.CollaboratorError
	switch {
	case err == nil:
	case errors.As(err, &collab):
		log.Error("transcription session failed", "remote", r.RemoteAddr, "stage", collab.Stage, "err", err)
	default:
		log.Warn("transcription session aborted", "remote", r.RemoteAddr, "err", err)
	}
}

// serve runs the handshake, then the reader and the event writer until the
// session ends.
func (s *Server) serve(ctx context.Context, conn *websocket.Conn, remote string) error {
	req, format, err := s.handshake(ctx, conn)
	if err != nil {
		s.reject(conn, err)
		if errors.Is(err, errProtocol) {
			return nil
		}
		return err
	}

	cfg := req.Session(s.factory.Config())
	if err := cfg.Validate(); err != nil {
		s.reject(conn, fmt.Errorf("%w: %v", errProtocol, err))
		return nil
	}
	tr, err := s.factory.New(cfg)
	if err != nil {
		s.reject(conn, err)
		return err
	}

	buf := audio.NewAwaitableBuffer()
	if err := buf.Initialize(format); err != nil {
		s.reject(conn, err)
		return err
	}
	in, err := newIngest(buf, req, format)
	if err != nil {
		s.reject(conn, err)
		return nil
	}

	sessCtx, handle := s.sessions.Track(ctx, SessionInfo{
		RemoteAddr: remote,
		Format:     format,
		Encoding:   req.Encoding,
		Language:   cfg.Language,
		StartedAt:  time.Now().UTC(),
	})
	defer handle.Done()

	var rec *store.Recorder
	handlers := make(sink.Multi, 0, len(s.sinks)+1)
	if s.store != nil {
		rec = store.NewRecorder(s.store, store.Session{Language: cfg.Language, Format: format})
		handlers = append(handlers, rec)
	}
	handlers = append(handlers, s.sinks...)

	st := &wsSession{
		srv:      s,
		conn:     conn,
		handle:   handle,
		handlers: handlers,
		rec:      rec,
		log:      observe.Logger(ctx).With("remote", remote),
	}

	g, gctx := errgroup.WithContext(sessCtx)
	g.Go(func() error {
		// Reads must not be bound to the session context: canceling a read
		// closes the connection, and the canceled event still has to be sent.
		return st.readAudio(context.WithoutCancel(ctx), in, buf)
	})
	g.Go(func() error {
		err := st.streamEvents(gctx, tr, buf)
		st.finished.Store(true)
		if err != nil {
			conn.Close(websocket.StatusInternalError, "transcription failed")
		} else {
			conn.Close(websocket.StatusNormalClosure, "session ended")
		}
		return err
	})
	return g.Wait()
}

// handshake reads and validates the start message.
func (s *Server) handshake(ctx context.Context, conn *websocket.Conn) (StartRequest, audio.Format, error) {
	hsCtx, cancel := context.WithTimeout(ctx, s.startTimeout)
	defer cancel()

	typ, data, err := conn.Read(hsCtx)
	if err != nil {
		return StartRequest{}, audio.Format{}, fmt.Errorf("server: read start message: %w", err)
	}
	if typ != websocket.MessageText {
		return StartRequest{}, audio.Format{}, fmt.Errorf("%w: expected a text start message", errProtocol)
	}
	req, err := parseStart(data)
	if err != nil {
		return req, audio.Format{}, err
	}
	format, err := req.Format()
	return req, format, err
}

// reject reports err to the client before the session started and closes
// the connection.
func (s *Server) reject(conn *websocket.Conn, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()
	_ = wsjson.Write(ctx, conn, realtime.ErrorMessage("", err))

	status := websocket.StatusInternalError
	if errors.Is(err, errProtocol) {
		status = websocket.StatusPolicyViolation
	}
	conn.Close(status, closeReason(err))
}

// wsSession is the state shared by the two goroutines of one connection.
type wsSession struct {
	srv      *Server
	conn     *websocket.Conn
	handle   *SessionHandle
	handlers sink.Multi
	rec      *store.Recorder
	log      *slog.Logger

	id         string
	finished   atomic.Bool
	clientGone atomic.Bool
}

// readAudio feeds binary frames into buf until the client stops, closes or
// the event writer finished. A normal close flushes the stream; any other
// read failure cancels the session.
func (ws *wsSession) readAudio(ctx context.Context, in *ingest, buf *audio.AwaitableBuffer) error {
	for {
		typ, data, err := ws.conn.Read(ctx)
		if err != nil {
			if ws.finished.Load() {
				return nil
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				buf.Flush()
				return nil
			}
			return fmt.Errorf("server: read: %w", err)
		}

		switch typ {
		case websocket.MessageBinary:
			if err := in.write(data); err != nil {
				if errors.Is(err, audio.ErrAlreadyFlushed) {
					ws.log.Debug("dropping audio received after stop", "bytes", len(data))
					continue
				}
				return fmt.Errorf("server: ingest audio: %w", err)
			}
		case websocket.MessageText:
			msg, err := parseControl(data)
			if err != nil {
				return err
			}
			if msg.Type == msgStop {
				buf.Flush()
			}
		}
	}
}

// streamEvents runs the transcriber and delivers every event to the
// handlers and the client.
func (ws *wsSession) streamEvents(ctx context.Context, tr *realtime.Transcriber, buf *audio.AwaitableBuffer) error {
	events := tr.Transcribe(ctx, buf)
	if ws.srv.corrector != nil {
		events = ws.srv.corrector.Events(ctx, events)
	}
	// Persistence and publishing outlive a canceled session.
	hctx := context.WithoutCancel(ctx)
	log := ws.log

	for ev, err := range events {
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			ws.fail(hctx, log, err)
			return err
		}

		if ev.Type == realtime.SessionStarted {
			ws.id = ev.SessionID
			ws.handle.SetID(ev.SessionID)
			log = log.With("session_id", ev.SessionID)
			log.Info("transcription session started")
		}
		if err := ws.handlers.Handle(hctx, ev); err != nil {
			log.Warn("event handler failed", "event", ev.Type.String(), "err", err)
		}
		ws.send(realtime.NewMessage(ev))

		if ev.Type.Terminal() {
			log.Info("transcription session ended", "event", ev.Type.String())
		}
	}
	return nil
}

// fail reports a collaborator error to every consumer.
func (ws *wsSession) fail(ctx context.Context, log *slog.Logger, err error) {
	if ws.rec != nil {
		if ferr := ws.rec.Fail(ctx); ferr != nil {
			log.Warn("marking session failed", "err", ferr)
		}
	}
	for _, h := range ws.srv.sinks {
		if p, ok := h.(ErrorPublisher); ok {
			if perr := p.PublishError(ws.id, err); perr != nil {
				log.Warn("publishing session error", "err", perr)
			}
		}
	}
	ws.send(realtime.ErrorMessage(ws.id, err))
}

// send writes msg unless an earlier write failed.
func (ws *wsSession) send(msg realtime.Message) {
	if ws.clientGone.Load() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), ws.srv.writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, ws.conn, msg); err != nil {
		ws.clientGone.Store(true)
		ws.log.Debug("client stopped receiving events", "err", err)
	}
}

// closeReason fits err into a close frame, which allows 123 bytes.
func closeReason(err error) string {
	const limit = 123
	r := err.Error()
	if len(r) > limit {
		r = strings.ToValidUTF8(r[:limit], "")
	}
	return r
}
