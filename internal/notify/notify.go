// Package notify delivers user notifications. Delivery is fire-and-forget:
// Dispatch logs failures and never returns them to the triggering operation.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// Event types.
const (
	EventActionReminder  = "action.reminder"
	EventActionMissed    = "action.missed"
	EventActionCompleted = "action.completed"
	EventPlanRefreshed   = "plan.refreshed"
)

// Event is a notification about one plant.
type Event struct {
	Type     string    `json:"type"`
	PlantID  string    `json:"plant_id"`
	DayIndex int       `json:"day_index,omitempty"`
	ActionID string    `json:"action_id,omitempty"`
	Message  string    `json:"message"`
	Link     string    `json:"link,omitempty"`
	At       time.Time `json:"at"`
}

// Notifier delivers an event to a user.
type Notifier interface {
	Notify(ctx context.Context, userID string, ev Event) error
}

// Dispatch sends ev through n and logs any failure. It is the only way core
// operations emit notifications.
func Dispatch(ctx context.Context, n Notifier, logger *slog.Logger, userID string, ev Event) {
	if n == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	if err := n.Notify(ctx, userID, ev); err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("Notification failed",
			"type", ev.Type,
			"user_id", userID,
			"plant_id", ev.PlantID,
			"error", err)
	}
}

// Publisher is the subset of *nats.Conn used for delivery.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSNotifier publishes events as JSON to <prefix>.<userID>.
type NATSNotifier struct {
	pub    Publisher
	conn   *nats.Conn
	prefix string
}

// NewNATSNotifier connects to a NATS server.
func NewNATSNotifier(url, prefix string) (*NATSNotifier, error) {
	conn, err := nats.Connect(url,
		nats.Name("cropcare"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NATSNotifier{pub: conn, conn: conn, prefix: prefix}, nil
}

// NewPublisherNotifier wraps an existing publisher.
func NewPublisherNotifier(pub Publisher, prefix string) *NATSNotifier {
	return &NATSNotifier{pub: pub, prefix: prefix}
}

// Notify implements Notifier.
func (n *NATSNotifier) Notify(ctx context.Context, userID string, ev Event) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before publish: %w", err)
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return n.pub.Publish(n.Subject(userID), data)
}

// Subject returns the subject events for userID are published on.
func (n *NATSNotifier) Subject(userID string) string {
	return n.prefix + "." + subjectToken(userID)
}

// Close drains the connection if this notifier owns one.
func (n *NATSNotifier) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Drain()
}

// subjectToken makes userID safe as a single NATS subject token.
func subjectToken(userID string) string {
	if userID == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, userID)
}

// LogNotifier writes events to a logger. Used when no broker is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, userID string, ev Event) error {
	n.logger.Info("Notification",
		"type", ev.Type,
		"user_id", userID,
		"plant_id", ev.PlantID,
		"action_id", ev.ActionID,
		"message", ev.Message,
		"link", ev.Link)
	return nil
}
