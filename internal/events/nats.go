package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/oklog/ulid/v2"

	"github.com/ashureev/goally/internal/domain"
)

// DefaultSubjectPrefix prefixes every published subject.
const DefaultSubjectPrefix = "goally.events"

// Envelope is the JSON message published for each event.
type Envelope struct {
	ID     string    `json:"id"`
	Type   string    `json:"type"`
	UserID string    `json:"user_id"`
	At     time.Time `json:"at"`
	Data   any       `json:"data"`
}

type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSRecorder publishes events to NATS core subjects
// "<prefix>.<type>.<user_id>".
type NATSRecorder struct {
	conn   *nats.Conn
	pub    publisher
	prefix string
	now    func() time.Time
}

// NATSConfig holds NATS connection configuration.
type NATSConfig struct {
	URL            string
	SubjectPrefix  string
	ConnectTimeout time.Duration
}

// ConnectNATS dials NATS and returns a recorder publishing on it.
func ConnectNATS(cfg NATSConfig, logger *slog.Logger) (*NATSRecorder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name("goally-events"),
		nats.Timeout(cfg.ConnectTimeout),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	logger.Info("Connected to NATS", "url", cfg.URL)
	r := newNATSRecorder(nc, cfg.SubjectPrefix)
	r.conn = nc
	return r, nil
}

func newNATSRecorder(pub publisher, prefix string) *NATSRecorder {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSRecorder{pub: pub, prefix: prefix, now: time.Now}
}

// Close drains and closes the connection.
func (r *NATSRecorder) Close() error {
	if r.conn == nil {
		return nil
	}
	return r.conn.Drain()
}

func (r *NATSRecorder) publish(typ, userID string, data any) error {
	env := Envelope{
		ID:     ulid.Make().String(),
		Type:   typ,
		UserID: userID,
		At:     r.now().UTC(),
		Data:   data,
	}
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", typ, err)
	}
	subject := fmt.Sprintf("%s.%s.%s", r.prefix, typ, subjectToken(userID))
	if err := r.pub.Publish(subject, b); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func (r *NATSRecorder) RecordReschedule(_ context.Context, ev *domain.RescheduleEvent) error {
	return r.publish(TypeReschedule, ev.UserID, ev)
}

func (r *NATSRecorder) RecordReminder(_ context.Context, t *domain.Task) error {
	return r.publish(TypeReminder, t.UserID, t)
}

func (r *NATSRecorder) RecordCommit(_ context.Context, ev CommitEvent) error {
	return r.publish(TypeCommit, ev.UserID, ev)
}

// subjectToken makes s safe as a single NATS subject token.
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	b := []byte(s)
	for i, c := range b {
		switch c {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			b[i] = '_'
		}
	}
	return string(b)
}
