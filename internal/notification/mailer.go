// Package notification mails customers about settled orders.
package notification

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

type Message struct {
	ToEmail string
	ToName  string
	Subject string
	Text    string
	HTML    string
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
	// BaseURL overrides the SendGrid host, used against local stubs.
	BaseURL string
}

type SendGridMailer struct {
	client *sendgrid.Client
	from   *mail.Email
	logger *slog.Logger
}

func NewSendGridMailer(config SendGridConfig, logger *slog.Logger) *SendGridMailer {
	client := sendgrid.NewSendClient(config.APIKey)
	if config.BaseURL != "" {
		client.BaseURL = config.BaseURL + "/v3/mail/send"
	}
	return &SendGridMailer{
		client: client,
		from:   mail.NewEmail(config.FromName, config.FromEmail),
		logger: logger,
	}
}

func (m *SendGridMailer) Send(ctx context.Context, msg Message) error {
	to := mail.NewEmail(msg.ToName, msg.ToEmail)
	message := mail.NewSingleEmail(m.from, msg.Subject, to, msg.Text, msg.HTML)

	resp, err := m.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sendgrid: send: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sendgrid: unexpected status %d: %s", resp.StatusCode, resp.Body)
	}

	m.logger.Info("email sent", "subject", msg.Subject, "status", resp.StatusCode)
	return nil
}

// LogMailer stands in when no SendGrid key is configured.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(_ context.Context, msg Message) error {
	m.logger.Info("email not sent, mailer disabled", "subject", msg.Subject)
	return nil
}
