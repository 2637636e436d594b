package storage

import (
	"context"
	"errors"
	"time"

	"safenotify/internal/domain"
)

var (
	ErrDisabled      = errors.New("storage disabled")
	ErrUnknownDriver = errors.New("unknown storage driver")
)

// Config configures storage.
//
// Driver values:
//   - "memory": process-local, lost on exit
//   - "sqlite": SQLite database file at Path
//   - "postgres": PostgreSQL reachable via DSN
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
	MaxConns    int32         // postgres only; 0 means pgx default
}

// ScheduleStore is what the registry needs.
type ScheduleStore interface {
	ListSchedules(ctx context.Context) ([]domain.ScheduleDefinition, error)
	ListEnabledSchedules(ctx context.Context) ([]domain.ScheduleDefinition, error)
	GetSchedule(ctx context.Context, id int64) (domain.ScheduleDefinition, bool, error)
	// UpsertSchedule inserts d (assigning an ID when d.ID == 0) or updates the
	// editable columns of an existing row. LastRun/NextRun are left untouched on update.
	UpsertSchedule(ctx context.Context, d domain.ScheduleDefinition) (domain.ScheduleDefinition, error)
	DeleteSchedule(ctx context.Context, id int64) (bool, error)
	// UpdateScheduleRun records a tick. A zero next clears next_run.
	UpdateScheduleRun(ctx context.Context, id int64, lastRun, next time.Time) error
}

// TemplateStore is what dispatch needs.
type TemplateStore interface {
	GetTemplate(ctx context.Context, kind domain.Kind) (domain.TemplateDefinition, bool, error)
	UpsertTemplate(ctx context.Context, t domain.TemplateDefinition) error
}

// SendLogStore backs the send ledger.
type SendLogStore interface {
	AppendSendLog(ctx context.Context, e domain.SendLogEntry) error
	// ListSendLogs returns entries for (kind, recipientID) with after < SentAt <= upTo.
	ListSendLogs(ctx context.Context, kind domain.Kind, recipientID string, after, upTo time.Time) ([]domain.SendLogEntry, error)
	// RecentSendLogs returns up to limit entries, newest first.
	RecentSendLogs(ctx context.Context, limit int) ([]domain.SendLogEntry, error)
}

// Directory exposes the compliance data used to resolve recipients.
type Directory interface {
	// PendingEducation returns incomplete assignments due on or after asOf's day.
	PendingEducation(ctx context.Context, asOf time.Time) ([]domain.EducationDue, error)
	// TeamsWithoutTBM returns leaders of teams with no TBM record on day.
	TeamsWithoutTBM(ctx context.Context, day time.Time) ([]domain.TeamLeader, error)
	// PendingInspections returns incomplete inspections due no later than until.
	PendingInspections(ctx context.Context, until time.Time) ([]domain.InspectionDue, error)
	PendingApprovals(ctx context.Context) ([]domain.ApprovalPending, error)
}

// Store is the full persistence API used by the app.
type Store interface {
	ScheduleStore
	TemplateStore
	SendLogStore
	Directory
	Close() error
}

// dayKey is the calendar-day key used for TBM records ("2006-01-02").
func dayKey(t time.Time) string { return t.Format(time.DateOnly) }

// startOfDay truncates t to midnight in t's location.
func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
