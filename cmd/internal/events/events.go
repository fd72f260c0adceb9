// Package events publishes pipeline lifecycle events for back-office consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// Subjects.
const (
	ScanAccepted          = "attendance.scan.accepted"
	VerificationCompleted = "attendance.verification.completed"
	Committed             = "attendance.committed"
	CommitFailed          = "attendance.commit.failed"
	RunCancelled          = "attendance.cancelled"
)

// Publisher publishes JSON-encoded events.
type Publisher interface {
	Publish(ctx context.Context, subject string, data any) error
	Close() error
}

// ScanAcceptedEvent is published when a scan starts a run.
type ScanAcceptedEvent struct {
	RunID     string    `json:"run_id"`
	TokenFP   string    `json:"token_fp"`
	CourseID  string    `json:"course_id"`
	StartedAt time.Time `json:"started_at"`
}

// VerificationCompletedEvent is published when the liveliness result is acknowledged.
type VerificationCompletedEvent struct {
	RunID       string    `json:"run_id"`
	SessionID   string    `json:"session_id"`
	Challenge   string    `json:"challenge"`
	Outcome     string    `json:"outcome"`
	Reason      string    `json:"reason,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// CommitEvent is published after each commit attempt.
type CommitEvent struct {
	RunID    string    `json:"run_id"`
	TokenFP  string    `json:"token_fp"`
	CourseID string    `json:"course_id"`
	Attempt  int       `json:"attempt"`
	Message  string    `json:"message,omitempty"`
	Kind     string    `json:"kind,omitempty"`
	At       time.Time `json:"at"`
}

// CancelledEvent is published when a run ends without a commit.
type CancelledEvent struct {
	RunID  string    `json:"run_id"`
	Phase  string    `json:"phase"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// NATSPublisher publishes to a NATS server.
type NATSPublisher struct {
	conn *nats.Conn
	log  *slog.Logger
}

// NewNATSPublisher connects to url. The connection reconnects on its own.
func NewNATSPublisher(url, name string, log *slog.Logger) (*NATSPublisher, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	conn, err := nats.Connect(strings.TrimSpace(url),
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("events.nats.disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("events.nats.reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSPublisher{conn: conn, log: log}, nil
}

// Publish implements Publisher.
func (n *NATSPublisher) Publish(ctx context.Context, subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	n.log.DebugContext(ctx, "events.publish", "subject", subject, "bytes", len(payload))
	return n.conn.Publish(subject, payload)
}

// Close flushes pending messages and closes the connection.
func (n *NATSPublisher) Close() error {
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
		return err
	}
	return nil
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, string, any) error { return nil }

func (Nop) Close() error { return nil }
