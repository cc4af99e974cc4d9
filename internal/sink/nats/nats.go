// Package nats publishes session events to a NATS server.
//
// Every event is encoded as a [realtime.Message] JSON object and published
// to the subject "<prefix>.<session_id>.<event_type>", for example
// "rtscribe.3f0c.segment_recognized". Consumers subscribe to
// "<prefix>.*.segment_recognized" for final transcripts of all sessions or to
// "<prefix>.<session_id>.>" for one session.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/MrWong99/rtscribe/internal/realtime"
	"github.com/MrWong99/rtscribe/internal/sink"
)

var _ sink.Handler = (*Sink)(nil)

// Publisher is the subset of [nats.Conn] used by [Sink].
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Sink publishes events. It is safe for concurrent use by multiple sessions.
type Sink struct {
	pub    Publisher
	conn   *nats.Conn
	prefix string
}

// Option configures [Connect].
type Option func(*options)

type options struct {
	name    string
	timeout time.Duration
}

// WithName sets the client connection name shown by the server.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithTimeout sets the dial timeout. Default: 5s.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// Connect dials url (comma-separated for several servers) and returns a
// Sink publishing under prefix. The connection reconnects indefinitely.
func Connect(url, prefix string, opts ...Option) (*Sink, error) {
	o := options{name: "rtscribe", timeout: 5 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	conn, err := nats.Connect(url,
		nats.Name(o.name),
		nats.Timeout(o.timeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats reconnected", "url", c.ConnectedUrlRedacted())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats sink: connect: %w", err)
	}
	slog.Info("connected to NATS", "url", conn.ConnectedUrlRedacted(), "prefix", prefix)

	s := New(conn, prefix)
	s.conn = conn
	return s, nil
}

// New returns a Sink publishing through pub. Tests use it with a fake
// publisher.
func New(pub Publisher, prefix string) *Sink {
	return &Sink{pub: pub, prefix: strings.TrimSuffix(prefix, ".")}
}

// Subject returns the subject for messages of type typ in session id.
func (s *Sink) Subject(sessionID, typ string) string {
	return s.prefix + "." + token(sessionID) + "." + typ
}

// Handle publishes ev. It implements [sink.Handler].
func (s *Sink) Handle(_ context.Context, ev realtime.Event) error {
	return s.publish(realtime.NewMessage(ev))
}

// PublishError publishes a session failure under the "error" type.
func (s *Sink) PublishError(sessionID string, err error) error {
	return s.publish(realtime.ErrorMessage(sessionID, err))
}

func (s *Sink) publish(msg realtime.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("nats sink: encode %s: %w", msg.Type, err)
	}
	subject := s.Subject(msg.SessionID, msg.Type)
	if err := s.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("nats sink: publish %s: %w", subject, err)
	}
	return nil
}

// Check reports whether the connection is usable. Suitable as a readiness
// check.
func (s *Sink) Check(ctx context.Context) error {
	if s.conn == nil {
		return nil
	}
	if st := s.conn.Status(); st != nats.CONNECTED {
		return fmt.Errorf("nats sink: connection %s", st)
	}
	return s.conn.FlushWithContext(ctx)
}

// Close drains pending messages and closes the connection.
func (s *Sink) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Drain()
	if errors.Is(err, nats.ErrConnectionClosed) {
		return nil
	}
	return err
}

// token makes id usable as a single subject token.
func token(id string) string {
	if id == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, id)
}
