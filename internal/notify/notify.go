package notify

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/multierr"

	"github.com/hamed0406/sitewatch/internal/domain"
)

// Message is one event for one recipient.
type Message struct {
	Recipient string
	Type      domain.NotificationType
	Title     string
	Body      string
}

// Notifier delivers a message. A nil error means delivered.
type Notifier interface {
	Send(ctx context.Context, m Message) error
}

// Multi fans out to every channel and returns all failures combined.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, msg Message) error {
	var err error
	for _, n := range m {
		if n == nil {
			continue
		}
		err = multierr.Append(err, n.Send(ctx, msg))
	}
	return err
}

// Nop accepts everything. Used when no channel is configured.
type Nop struct{}

func (Nop) Send(context.Context, Message) error { return nil }

// Func adapts a function to Notifier.
type Func func(ctx context.Context, m Message) error

func (f Func) Send(ctx context.Context, m Message) error { return f(ctx, m) }

type Options struct {
	TelegramToken string
	SlackWebhook  string
	WebhookURL    string
	WebhookSecret string
}

// New builds a Multi from the configured channels, or Nop when there are none.
func New(o Options) Notifier {
	var m Multi
	if o.TelegramToken != "" {
		m = append(m, NewTelegram(o.TelegramToken))
	}
	if o.SlackWebhook != "" {
		m = append(m, NewSlack(o.SlackWebhook))
	}
	if o.WebhookURL != "" {
		m = append(m, NewWebhook(o.WebhookURL, o.WebhookSecret))
	}
	if len(m) == 0 {
		return Nop{}
	}
	return m
}

func defaultClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}
