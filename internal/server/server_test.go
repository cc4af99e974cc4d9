package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/rtscribe/internal/health"
	"github.com/MrWong99/rtscribe/internal/realtime"
	"github.com/MrWong99/rtscribe/internal/server"
	"github.com/MrWong99/rtscribe/internal/store"
	"github.com/MrWong99/rtscribe/internal/store/sqlite"
	"github.com/MrWong99/rtscribe/internal/transcript"
	"github.com/MrWong99/rtscribe/pkg/provider/stt"
	sttmock "github.com/MrWong99/rtscribe/pkg/provider/stt/mock"
	"github.com/MrWong99/rtscribe/pkg/provider/vad"
	vadmock "github.com/MrWong99/rtscribe/pkg/provider/vad/mock"
)

// recordingSink collects every event and published error.
type recordingSink struct {
	mu     sync.Mutex
	events []realtime.Event
	errs   []string
}

func (s *recordingSink) Handle(_ context.Context, ev realtime.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) PublishError(sessionID string, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, sessionID+": "+err.Error())
	return nil
}

func (s *recordingSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Type.String()
	}
	return out
}

type fixture struct {
	srv   *server.Server
	http  *httptest.Server
	stt   *sttmock.Factory
	store *sqlite.Store
	sink  *recordingSink
}

func newFixture(t *testing.T, sttFactory *sttmock.Factory, opts ...server.Option) *fixture {
	t.Helper()
	det := &vadmock.Detector{SegmentsFn: vadmock.Timeline([]vad.Segment{
		{Start: 200 * time.Millisecond, Duration: 400 * time.Millisecond},
	})}
	factory, err := realtime.NewFactory(sttFactory, &vadmock.Engine{Detector: det}, vad.DefaultConfig(),
		realtime.DefaultConfig(),
		realtime.WithSessionID(func() string { return "sess-1" }),
	)
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}

	st, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "t.db"))
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	sink := &recordingSink{}
	opts = append([]server.Option{
		server.WithStore(st),
		server.WithSink(sink),
		server.WithCorrector(transcript.NewCorrector([]string{"Kubernetes"})),
		server.WithTimeouts(2*time.Second, 2*time.Second),
	}, opts...)
	srv, err := server.New(factory, opts...)
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	return &fixture{srv: srv, http: hs, stt: sttFactory, store: st, sink: sink}
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/v1/transcribe"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func writeJSONMsg(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func writeBinary(t *testing.T, conn *websocket.Conn, data []byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageBinary, data); err != nil {
		t.Fatalf("write binary: %v", err)
	}
}

// readUntilClose returns every message and the close status.
func readUntilClose(t *testing.T, conn *websocket.Conn) ([]realtime.Message, websocket.StatusCode) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var msgs []realtime.Message
	for {
		var m realtime.Message
		if err := wsjson.Read(ctx, conn, &m); err != nil {
			return msgs, websocket.CloseStatus(err)
		}
		msgs = append(msgs, m)
	}
}

func start16k() map[string]any {
	return map[string]any{"type": "start", "sample_rate": 16000, "channels": 1, "encoding": "pcm_s16le"}
}

func types(msgs []realtime.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Type
	}
	return out
}

func TestTranscribe_FullSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &sttmock.Factory{Segments: []stt.Segment{
		{Text: "is kubernetis running", Duration: 400 * time.Millisecond},
	}})
	conn := f.dial(t)

	writeJSONMsg(t, conn, start16k())
	// One second of audio split inside a frame.
	pcm := make([]byte, 32000)
	writeBinary(t, conn, pcm[:10001])
	writeBinary(t, conn, pcm[10001:])
	writeJSONMsg(t, conn, map[string]string{"type": "stop"})

	msgs, status := readUntilClose(t, conn)
	if status != websocket.StatusNormalClosure {
		t.Errorf("close status = %v, want normal closure", status)
	}
	want := []string{"session_started", "segment_recognized", "session_stopped"}
	if got := types(msgs); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("message types = %v, want %v", got, want)
	}
	if msgs[1].SessionID != "sess-1" || msgs[1].Segment == nil {
		t.Fatalf("recognized message = %+v", msgs[1])
	}
	if got := msgs[1].Segment.Text; got != "is Kubernetes running" {
		t.Errorf("segment text = %q, want the corrected text", got)
	}

	if got := f.sink.types(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("sink events = %v, want %v", got, want)
	}

	ctx := context.Background()
	sess, err := f.store.Session(ctx, "sess-1")
	if err != nil {
		t.Fatalf("store.Session: %v", err)
	}
	if sess.Status != store.StatusStopped {
		t.Errorf("stored status = %q, want %q", sess.Status, store.StatusStopped)
	}
	segs, err := f.store.Segments(ctx, "sess-1")
	if err != nil {
		t.Fatalf("store.Segments: %v", err)
	}
	if len(segs) != 1 || segs[0].Text != "is Kubernetes running" {
		t.Errorf("stored segments = %+v", segs)
	}
}

func TestTranscribe_SessionOptions(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &sttmock.Factory{Segments: []stt.Segment{{Text: "hallo"}}})
	conn := f.dial(t)

	start := start16k()
	start["language"] = "de"
	start["prompt"] = "Begrüßung"
	writeJSONMsg(t, conn, start)
	writeBinary(t, conn, make([]byte, 32000))
	writeJSONMsg(t, conn, map[string]string{"type": "stop"})
	readUntilClose(t, conn)

	opts := f.stt.Options()
	if len(opts) == 0 {
		t.Fatal("transcriptor was never created")
	}
	if opts[0].Language != "de" || opts[0].LanguageAutoDetect {
		t.Errorf("options = %+v, want fixed language de", opts[0])
	}
	if !strings.HasPrefix(opts[0].Prompt, "Begrüßung") {
		t.Errorf("prompt = %q, want the session prompt", opts[0].Prompt)
	}
}

func TestTranscribe_ClientCloseFlushes(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &sttmock.Factory{Segments: []stt.Segment{{Text: "bye"}}})
	conn := f.dial(t)

	writeJSONMsg(t, conn, start16k())
	writeBinary(t, conn, make([]byte, 32000))
	if err := conn.Close(websocket.StatusNormalClosure, "done"); err != nil {
		t.Logf("close: %v", err)
	}

	waitForStatus(t, f.store, "sess-1", store.StatusStopped)
}

func TestTranscribe_AbruptDisconnectCancels(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &sttmock.Factory{})
	conn := f.dial(t)

	writeJSONMsg(t, conn, start16k())
	writeBinary(t, conn, make([]byte, 3200))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var first realtime.Message
	if err := wsjson.Read(ctx, conn, &first); err != nil {
		t.Fatalf("read: %v", err)
	}
	if first.Type != "session_started" {
		t.Fatalf("first message = %q, want session_started", first.Type)
	}
	conn.CloseNow()

	waitForStatus(t, f.store, "sess-1", store.StatusCanceled)
}

func TestTranscribe_CollaboratorFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &sttmock.Factory{TranscribeErr: errors.New("backend exploded")})
	conn := f.dial(t)

	writeJSONMsg(t, conn, start16k())
	writeBinary(t, conn, make([]byte, 32000))
	writeJSONMsg(t, conn, map[string]string{"type": "stop"})

	msgs, status := readUntilClose(t, conn)
	if status != websocket.StatusInternalError {
		t.Errorf("close status = %v, want internal error", status)
	}
	if len(msgs) == 0 || msgs[len(msgs)-1].Type != realtime.MessageError {
		t.Fatalf("messages = %v, want a trailing error", types(msgs))
	}
	if !strings.Contains(msgs[len(msgs)-1].Error, "backend exploded") {
		t.Errorf("error = %q", msgs[len(msgs)-1].Error)
	}
	waitForStatus(t, f.store, "sess-1", store.StatusFailed)

	f.sink.mu.Lock()
	defer f.sink.mu.Unlock()
	if len(f.sink.errs) != 1 || !strings.HasPrefix(f.sink.errs[0], "sess-1: ") {
		t.Errorf("published errors = %v", f.sink.errs)
	}
}

func TestTranscribe_RejectsBadStart(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		start any
	}{
		{"wrong type", map[string]any{"type": "stop"}},
		{"unknown encoding", map[string]any{"type": "start", "sample_rate": 16000, "encoding": "mp3"}},
		{"missing sample rate", map[string]any{"type": "start", "encoding": "pcm_s16le"}},
		{"opus at wrong rate", map[string]any{"type": "start", "sample_rate": 16000, "encoding": "opus"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, &sttmock.Factory{})
			conn := f.dial(t)
			writeJSONMsg(t, conn, tt.start)

			msgs, status := readUntilClose(t, conn)
			if status != websocket.StatusPolicyViolation {
				t.Errorf("close status = %v, want policy violation", status)
			}
			if len(msgs) != 1 || msgs[0].Type != realtime.MessageError || msgs[0].Error == "" {
				t.Errorf("messages = %+v, want one error", msgs)
			}
		})
	}
}

func TestDrain(t *testing.T) {
	t.Parallel()
	h := health.New()
	f := newFixture(t, &sttmock.Factory{}, server.WithHealth(h))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := f.srv.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	resp, err := http.Get(f.http.URL + "/v1/transcribe")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 while draining", resp.StatusCode)
	}

	resp, err = http.Get(f.http.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("/readyz status = %d, want 503 while draining", resp.StatusCode)
	}
}

func TestDrain_CancelsAfterDeadline(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &sttmock.Factory{})
	conn := f.dial(t)

	writeJSONMsg(t, conn, start16k())
	writeBinary(t, conn, make([]byte, 3200))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var first realtime.Message
	if err := wsjson.Read(ctx, conn, &first); err != nil {
		t.Fatalf("read: %v", err)
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer drainCancel()
	if err := f.srv.Drain(drainCtx); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	msgs, _ := readUntilClose(t, conn)
	if len(msgs) == 0 || msgs[len(msgs)-1].Type != "session_canceled" {
		t.Errorf("messages after drain = %v, want session_canceled last", types(msgs))
	}
	waitIdle(t, f.srv)
}

func TestAPI(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &sttmock.Factory{Segments: []stt.Segment{{Text: "zyxquorp reactor online"}}})
	conn := f.dial(t)
	writeJSONMsg(t, conn, start16k())
	writeBinary(t, conn, make([]byte, 32000))
	writeJSONMsg(t, conn, map[string]string{"type": "stop"})
	readUntilClose(t, conn)
	waitIdle(t, f.srv)

	tests := []struct {
		name       string
		path       string
		wantStatus int
		check      func(t *testing.T, body []byte)
	}{
		{
			name:       "stored session",
			path:       "/v1/sessions/sess-1",
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body []byte) {
				var resp server.SessionResponse
				if err := json.Unmarshal(body, &resp); err != nil {
					t.Fatalf("decode: %v", err)
				}
				if resp.Status != store.StatusStopped || resp.SampleRate != 16000 || resp.EndedAt == nil {
					t.Errorf("session = %+v", resp)
				}
				if len(resp.Segments) != 1 || resp.Segments[0].Text != "zyxquorp reactor online" {
					t.Errorf("segments = %+v", resp.Segments)
				}
			},
		},
		{name: "unknown session", path: "/v1/sessions/nope", wantStatus: http.StatusNotFound},
		{
			name:       "search",
			path:       "/v1/search?q=reactor&limit=5",
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body []byte) {
				var resp struct {
					Hits []server.HitResponse `json:"hits"`
				}
				if err := json.Unmarshal(body, &resp); err != nil {
					t.Fatalf("decode: %v", err)
				}
				if len(resp.Hits) != 1 || resp.Hits[0].SessionID != "sess-1" {
					t.Errorf("hits = %+v", resp.Hits)
				}
			},
		},
		{name: "search without query", path: "/v1/search", wantStatus: http.StatusBadRequest},
		{name: "search bad limit", path: "/v1/search?q=x&limit=-1", wantStatus: http.StatusBadRequest},
		{
			name:       "active sessions",
			path:       "/v1/sessions",
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body []byte) {
				if !strings.Contains(string(body), `"sessions":[]`) {
					t.Errorf("body = %s, want no active sessions", body)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(f.http.URL + tt.path)
			if err != nil {
				t.Fatalf("GET: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if tt.check != nil {
				var body json.RawMessage
				if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
					t.Fatalf("decode: %v", err)
				}
				tt.check(t, body)
			}
		})
	}
}

func TestAPI_NoStore(t *testing.T) {
	t.Parallel()
	factory, err := realtime.NewFactory(&sttmock.Factory{}, &vadmock.Engine{}, vad.DefaultConfig(), realtime.DefaultConfig())
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}
	srv, err := server.New(factory)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, path := range []string{"/v1/sessions/x", "/v1/search?q=x"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusNotImplemented {
			t.Errorf("GET %s = %d, want 501", path, rec.Code)
		}
	}
}

func TestNew_RequiresFactory(t *testing.T) {
	t.Parallel()
	if _, err := server.New(nil); err == nil {
		t.Fatal("expected error for nil factory")
	}
}

func waitIdle(t *testing.T, srv *server.Server) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Sessions().Wait(ctx); err != nil {
		t.Fatalf("sessions still active: %v", err)
	}
}

func waitForStatus(t *testing.T, st store.TranscriptStore, id string, want store.Status) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var last store.Status
	for time.Now().Before(deadline) {
		sess, err := st.Session(context.Background(), id)
		if err == nil {
			last = sess.Status
			if last == want {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("session %s status = %q, want %q", id, last, want)
}
