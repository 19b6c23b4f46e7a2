package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/angeloszaimis/fleet-watcher/config"
)

const DefaultSMSBaseURL = "https://api.twilio.com/2010-04-01"

// SMS posts one message per recipient to a Twilio-compatible REST gateway.
type SMS struct {
	name       string
	cfg        config.SMSConfig
	recipients []string
	client     *http.Client
}

func NewSMS(name string, cfg config.SMSConfig, recipients []string) *SMS {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultSMSBaseURL
	}
	return &SMS{
		name:       name,
		cfg:        cfg,
		recipients: recipients,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *SMS) Name() string { return s.name }
func (s *SMS) Kind() Kind   { return KindSMS }

// Send texts the subject line; bodies are too long for SMS.
func (s *SMS) Send(ctx context.Context, msg Message) error {
	endpoint := strings.TrimSuffix(s.cfg.BaseURL, "/") +
		"/Accounts/" + url.PathEscape(s.cfg.AccountSID) + "/Messages.json"

	var errs error
	for _, to := range s.recipients {
		errs = multierr.Append(errs, s.post(ctx, endpoint, to, msg.Subject))
	}
	return errs
}

func (s *SMS) post(ctx context.Context, endpoint, to, body string) error {
	form := url.Values{
		"From": {s.cfg.From},
		"To":   {to},
		"Body": {body},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(s.cfg.AccountSID, s.cfg.AuthToken)

	res, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms to %s: %w", to, err)
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusMultipleChoices {
		detail, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("sms to %s: gateway returned %d: %s", to, res.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}
