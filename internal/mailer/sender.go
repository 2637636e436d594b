package mailer

import (
	"context"
	"fmt"
	"strings"
)

// Sender delivers one prepared Email and returns the transport's message id.
type Sender interface {
	Send(ctx context.Context, email *Email) (messageID string, err error)
}

// Email is a fully rendered message.
type Email struct {
	To      []string
	Subject string
	HTML    string
	From    string // optional; senders fall back to their configured address
}

// Validate checks the fields every transport requires.
func (e *Email) Validate() error {
	if e == nil || len(e.To) == 0 || strings.TrimSpace(e.To[0]) == "" {
		return ErrNoRecipient
	}
	if strings.TrimSpace(e.Subject) == "" {
		return ErrNoSubject
	}
	if e.HTML == "" {
		return ErrNoContent
	}
	return nil
}

// Address formats name and email as "Name <email>", or just email.
func Address(name, email string) string {
	if name == "" {
		return email
	}
	return fmt.Sprintf("%s <%s>", name, email)
}
