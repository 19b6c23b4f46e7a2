package notify

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"

	"github.com/angeloszaimis/fleet-watcher/config"
)

// MailSender delivers composed messages. *mail.Client satisfies it.
type MailSender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

type Email struct {
	name       string
	from       string
	recipients []string
	sender     MailSender
}

type EmailOption func(*Email)

// WithMailSender replaces the SMTP client.
func WithMailSender(s MailSender) EmailOption {
	return func(e *Email) { e.sender = s }
}

func NewEmail(name string, cfg config.SMTPConfig, recipients []string, opts ...EmailOption) (*Email, error) {
	e := &Email{name: name, from: cfg.From, recipients: recipients}
	for _, opt := range opts {
		opt(e)
	}
	if e.sender != nil {
		return e, nil
	}

	clientOpts := []mail.Option{mail.WithTLSPolicy(mail.TLSOpportunistic)}
	if cfg.Port != 0 {
		clientOpts = append(clientOpts, mail.WithPort(cfg.Port))
	}
	if cfg.Username != "" {
		clientOpts = append(clientOpts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password))
	}

	client, err := mail.NewClient(cfg.Host, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	e.sender = client
	return e, nil
}

func (e *Email) Name() string { return e.name }
func (e *Email) Kind() Kind   { return KindEmail }

func (e *Email) Send(ctx context.Context, msg Message) error {
	m := mail.NewMsg()
	if err := m.From(e.from); err != nil {
		return fmt.Errorf("from address: %w", err)
	}
	if err := m.To(e.recipients...); err != nil {
		return fmt.Errorf("recipients: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Body)

	if err := e.sender.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
