package mailer

import (
	"context"
	"time"

	mg "github.com/mailgun/mailgun-go/v4"

	"github.com/letterflow/letterflow/internal/domain/gateway"
)

// Mailgun sends transactional email through the Mailgun API.
type Mailgun struct {
	Domain  string
	APIKey  string
	Sender  string
	Timeout time.Duration
}

func NewMailgun(domain, apiKey, sender string, timeout time.Duration) *Mailgun {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Mailgun{Domain: domain, APIKey: apiKey, Sender: sender, Timeout: timeout}
}

// Send sends one email. html is optional; if provided it is used as the HTML
// body alongside the text fallback.
func (m *Mailgun) Send(ctx context.Context, to, subject, text, html string) error {
	client := mg.NewMailgun(m.Domain, m.APIKey)
	msg := client.NewMessage(m.Sender, subject, text, to)
	if html != "" {
		msg.SetHtml(html)
	}
	c, cancel := context.WithTimeout(ctx, m.Timeout)
	defer cancel()
	_, _, err := client.Send(c, msg)
	return err
}

var _ gateway.EmailGateway = (*Mailgun)(nil)
