package mailer

import (
	"context"

	"github.com/google/uuid"

	logx "safenotify/pkg/logx"
)

// LogSender writes messages to the log instead of sending them.
type LogSender struct {
	log logx.Logger
}

func NewLogSender(log logx.Logger) *LogSender {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogSender{log: log.With(logx.String("comp", "mailer.log"))}
}

func (s *LogSender) Send(ctx context.Context, email *Email) (string, error) {
	if err := email.Validate(); err != nil {
		return "", err
	}
	id := "dry-" + uuid.NewString()
	s.log.Info("email (dry run)",
		logx.Strings("to", email.To),
		logx.String("subject", email.Subject),
		logx.Int("html_bytes", len(email.HTML)),
		logx.String("message_id", id),
	)
	return id, nil
}
