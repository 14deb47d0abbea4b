package shared

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// NotificationChannel is the redis pub/sub channel for workflow notifications.
const NotificationChannel = "storekeep:notifications"

// Notification is a status or alert message published for external consumers.
type Notification struct {
	Kind     string         `json:"kind"`
	Message  string         `json:"message"`
	Entity   string         `json:"entity"`
	EntityID string         `json:"entity_id"`
	Meta     map[string]any `json:"meta,omitempty"`
	At       time.Time      `json:"at"`
}

// Notifier publishes workflow and stock notifications to redis. A nil Notifier
// drops messages, matching how other optional collaborators behave.
type Notifier struct {
	client  *redis.Client
	printer *message.Printer
}

// NewNotifier builds a Notifier on top of the given redis client.
func NewNotifier(client *redis.Client) *Notifier {
	return &Notifier{client: client, printer: message.NewPrinter(language.English)}
}

// Publish sends the notification. Publishing is best-effort from the caller's
// point of view but errors are still surfaced for logging.
func (n *Notifier) Publish(ctx context.Context, note Notification) error {
	if n == nil || n.client == nil {
		return nil
	}
	if note.At.IsZero() {
		note.At = time.Now().UTC()
	}
	payload, err := json.Marshal(note)
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, NotificationChannel, payload).Err()
}

// FormatQty renders a quantity with thousand separators for message texts.
func (n *Notifier) FormatQty(qty int64) string {
	if n == nil || n.printer == nil {
		return message.NewPrinter(language.English).Sprintf("%d", qty)
	}
	return n.printer.Sprintf("%d", qty)
}

// FormatAmount renders a monetary amount with two fraction digits.
func (n *Notifier) FormatAmount(amount decimal.Decimal) string {
	p := n.printer
	if p == nil {
		p = message.NewPrinter(language.English)
	}
	f, _ := amount.Round(2).Float64()
	return p.Sprintf("%.2f", f)
}
