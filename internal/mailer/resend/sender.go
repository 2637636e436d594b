package resend

import (
	"context"
	"errors"
	"fmt"

	"github.com/resend/resend-go/v3"

	"safenotify/internal/mailer"
)

// Sender implements mailer.Sender using the Resend API.
type Sender struct {
	client *resend.Client
	config Config
}

func New(cfg Config) (*Sender, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("resend: api key is required")
	}
	if cfg.SenderEmail == "" {
		return nil, errors.New("resend: sender email is required")
	}
	return &Sender{client: resend.NewClient(cfg.APIKey), config: cfg}, nil
}

func (s *Sender) from(email *mailer.Email) string {
	if email.From != "" {
		return email.From
	}
	return mailer.Address(s.config.SenderName, s.config.SenderEmail)
}

func (s *Sender) Send(ctx context.Context, email *mailer.Email) (string, error) {
	if err := email.Validate(); err != nil {
		return "", err
	}
	req := &resend.SendEmailRequest{
		From:    s.from(email),
		To:      email.To,
		Subject: email.Subject,
		Html:    email.HTML,
	}
	resp, err := s.client.Emails.SendWithContext(ctx, req)
	if err != nil {
		return "", fmt.Errorf("resend: send: %w", err)
	}
	if resp == nil {
		return "", nil
	}
	return resp.Id, nil
}

var _ mailer.Sender = (*Sender)(nil)
