package domain

import "time"

// ScheduleDefinition describes one cron-triggered notification job.
// Rows are edited by the admin surface; the registry only reads them and
// writes back LastRun/NextRun.
type ScheduleDefinition struct {
	ID             int64
	Name           string
	CronExpression string
	Kind           Kind
	Description    string
	Enabled        bool
	LastRun        *time.Time
	NextRun        *time.Time
}

// TemplateDefinition is the subject/body pair for one kind.
// Content is administrator-authored HTML and is never escaped.
type TemplateDefinition struct {
	Kind    Kind
	Subject string
	Content string
	Enabled bool
}

type SendStatus string

const (
	StatusSent   SendStatus = "sent"
	StatusFailed SendStatus = "failed"
)

// SendLogEntry records one notification attempt. Entries are never mutated
// after they are written.
type SendLogEntry struct {
	ID             string
	Kind           Kind
	RecipientID    string
	RecipientEmail string
	Subject        string
	Status         SendStatus
	ErrorMessage   string
	MessageID      string
	SentAt         time.Time
}

// Recipient is one resolved addressee for a kind, with the template
// variables specific to them.
type Recipient struct {
	ID        string
	Email     string
	Name      string
	Variables map[string]string
}
