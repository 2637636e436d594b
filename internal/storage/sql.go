package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/pressly/goose/v3"

	"safenotify/internal/domain"
	logx "safenotify/pkg/logx"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// sqlStore implements Store over database/sql. The sqlite and postgres
// backends differ only in connection setup, placeholders and dialect.
type sqlStore struct {
	db      *sql.DB
	log     logx.Logger
	dialect goose.Dialect
	closeFn func() error
}

func newSQLStore(db *sql.DB, dialect goose.Dialect, log logx.Logger) *sqlStore {
	return &sqlStore{db: db, log: log, dialect: dialect, closeFn: db.Close}
}

func (s *sqlStore) migrate(ctx context.Context) error {
	dir := "migrations/sqlite"
	if s.dialect == goose.DialectPostgres {
		dir = "migrations/postgres"
	}
	sub, err := fs.Sub(migrationsFS, dir)
	if err != nil {
		return err
	}
	p, err := goose.NewProvider(s.dialect, s.db, sub)
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	results, err := p.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		s.log.Info("migration applied",
			logx.Int64("version", r.Source.Version),
			logx.Duration("took", r.Duration),
		)
	}
	return nil
}

// q rewrites '?' placeholders into '$n' for postgres.
func (s *sqlStore) q(query string) string {
	if s.dialect != goose.DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *sqlStore) Close() error {
	if s == nil || s.closeFn == nil {
		return nil
	}
	return s.closeFn()
}

// ---- schedules ----

const scheduleCols = `id, name, cron_expression, kind, description, enabled, last_run, next_run`

func (s *sqlStore) ListSchedules(ctx context.Context) ([]domain.ScheduleDefinition, error) {
	return s.querySchedules(ctx, `SELECT `+scheduleCols+` FROM schedules ORDER BY id`)
}

func (s *sqlStore) ListEnabledSchedules(ctx context.Context) ([]domain.ScheduleDefinition, error) {
	return s.querySchedules(ctx, `SELECT `+scheduleCols+` FROM schedules WHERE enabled = ? ORDER BY id`, true)
}

func (s *sqlStore) querySchedules(ctx context.Context, query string, args ...any) ([]domain.ScheduleDefinition, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ScheduleDefinition
	for rows.Next() {
		d, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(r rowScanner) (domain.ScheduleDefinition, error) {
	var (
		d             domain.ScheduleDefinition
		kind          string
		lastRun, next sql.NullInt64
	)
	if err := r.Scan(&d.ID, &d.Name, &d.CronExpression, &kind, &d.Description, &d.Enabled, &lastRun, &next); err != nil {
		return domain.ScheduleDefinition{}, err
	}
	// Unknown kinds are kept verbatim so the registry can reject them with a log line.
	d.Kind = domain.Kind(kind)
	d.LastRun = fromMillis(lastRun)
	d.NextRun = fromMillis(next)
	return d, nil
}

func (s *sqlStore) GetSchedule(ctx context.Context, id int64) (domain.ScheduleDefinition, bool, error) {
	if s == nil || s.db == nil {
		return domain.ScheduleDefinition{}, false, ErrDisabled
	}
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+scheduleCols+` FROM schedules WHERE id = ?`), id)
	d, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ScheduleDefinition{}, false, nil
	}
	if err != nil {
		return domain.ScheduleDefinition{}, false, err
	}
	return d, true, nil
}

func (s *sqlStore) UpsertSchedule(ctx context.Context, d domain.ScheduleDefinition) (domain.ScheduleDefinition, error) {
	if s == nil || s.db == nil {
		return d, ErrDisabled
	}
	kind := d.Kind.String()
	if d.ID == 0 {
		err := s.db.QueryRowContext(ctx, s.q(
			`INSERT INTO schedules(name, cron_expression, kind, description, enabled)
			 VALUES(?,?,?,?,?) RETURNING id`),
			d.Name, d.CronExpression, kind, d.Description, d.Enabled,
		).Scan(&d.ID)
		if err != nil {
			return d, err
		}
		d.LastRun, d.NextRun = nil, nil
		return d, nil
	}

	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO schedules(id, name, cron_expression, kind, description, enabled)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   name=excluded.name,
		   cron_expression=excluded.cron_expression,
		   kind=excluded.kind,
		   description=excluded.description,
		   enabled=excluded.enabled`),
		d.ID, d.Name, d.CronExpression, kind, d.Description, d.Enabled,
	)
	if err != nil {
		return d, err
	}
	got, _, err := s.GetSchedule(ctx, d.ID)
	if err != nil {
		return d, err
	}
	return got, nil
}

func (s *sqlStore) DeleteSchedule(ctx context.Context, id int64) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM schedules WHERE id = ?`), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqlStore) UpdateScheduleRun(ctx context.Context, id int64, lastRun, next time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, s.q(`UPDATE schedules SET last_run = ?, next_run = ? WHERE id = ?`),
		lastRun.UnixMilli(), toMillis(next), id)
	return err
}

// ---- templates ----

func (s *sqlStore) GetTemplate(ctx context.Context, kind domain.Kind) (domain.TemplateDefinition, bool, error) {
	if s == nil || s.db == nil {
		return domain.TemplateDefinition{}, false, ErrDisabled
	}
	t := domain.TemplateDefinition{Kind: kind}
	err := s.db.QueryRowContext(ctx, s.q(`SELECT subject, content, enabled FROM templates WHERE kind = ?`), kind.String()).
		Scan(&t.Subject, &t.Content, &t.Enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TemplateDefinition{}, false, nil
	}
	if err != nil {
		return domain.TemplateDefinition{}, false, err
	}
	return t, true, nil
}

func (s *sqlStore) UpsertTemplate(ctx context.Context, t domain.TemplateDefinition) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO templates(kind, subject, content, enabled) VALUES(?,?,?,?)
		 ON CONFLICT(kind) DO UPDATE SET subject=excluded.subject, content=excluded.content, enabled=excluded.enabled`),
		t.Kind.String(), t.Subject, t.Content, t.Enabled,
	)
	return err
}

// ---- send log ----

const sendLogCols = `id, kind, recipient_id, recipient_email, subject, status, error_message, message_id, sent_at`

func (s *sqlStore) AppendSendLog(ctx context.Context, e domain.SendLogEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.SentAt.IsZero() {
		e.SentAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO send_logs(`+sendLogCols+`) VALUES(?,?,?,?,?,?,?,?,?)`),
		e.ID, e.Kind.String(), e.RecipientID, e.RecipientEmail, e.Subject,
		string(e.Status), e.ErrorMessage, e.MessageID, e.SentAt.UnixMilli(),
	)
	return err
}

func (s *sqlStore) ListSendLogs(ctx context.Context, kind domain.Kind, recipientID string, after, upTo time.Time) ([]domain.SendLogEntry, error) {
	return s.querySendLogs(ctx,
		`SELECT `+sendLogCols+` FROM send_logs
		 WHERE kind = ? AND recipient_id = ? AND sent_at > ? AND sent_at <= ?
		 ORDER BY sent_at DESC`,
		kind.String(), recipientID, after.UnixMilli(), upTo.UnixMilli(),
	)
}

func (s *sqlStore) RecentSendLogs(ctx context.Context, limit int) ([]domain.SendLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.querySendLogs(ctx, `SELECT `+sendLogCols+` FROM send_logs ORDER BY sent_at DESC LIMIT ?`, limit)
}

func (s *sqlStore) querySendLogs(ctx context.Context, query string, args ...any) ([]domain.SendLogEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SendLogEntry
	for rows.Next() {
		var (
			e            domain.SendLogEntry
			kind, status string
			sentAt       int64
		)
		if err := rows.Scan(&e.ID, &kind, &e.RecipientID, &e.RecipientEmail, &e.Subject,
			&status, &e.ErrorMessage, &e.MessageID, &sentAt); err != nil {
			return nil, err
		}
		e.Kind = domain.Kind(kind)
		e.Status = domain.SendStatus(status)
		e.SentAt = time.UnixMilli(sentAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ---- directory ----

func (s *sqlStore) PendingEducation(ctx context.Context, asOf time.Time) ([]domain.EducationDue, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT u.id, u.email, u.name, a.course_name, a.due_date
		 FROM education_assignments a JOIN users u ON u.id = a.user_id
		 WHERE a.completed = ? AND a.due_date >= ?
		 ORDER BY a.due_date, u.id`),
		false, startOfDay(asOf).UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.EducationDue
	for rows.Next() {
		var e domain.EducationDue
		var due int64
		if err := rows.Scan(&e.UserID, &e.Email, &e.UserName, &e.CourseName, &due); err != nil {
			return nil, err
		}
		e.DueDate = time.UnixMilli(due)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqlStore) TeamsWithoutTBM(ctx context.Context, day time.Time) ([]domain.TeamLeader, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT u.id, u.email, u.name, t.name
		 FROM teams t JOIN users u ON u.id = t.leader_id
		 WHERE NOT EXISTS (SELECT 1 FROM tbm_records r WHERE r.team_id = t.id AND r.held_on = ?)
		 ORDER BY t.id`),
		dayKey(day),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TeamLeader
	for rows.Next() {
		var l domain.TeamLeader
		if err := rows.Scan(&l.UserID, &l.Email, &l.UserName, &l.TeamName); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *sqlStore) PendingInspections(ctx context.Context, until time.Time) ([]domain.InspectionDue, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT u.id, u.email, u.name, i.checklist_name, i.due_date
		 FROM inspections i JOIN users u ON u.id = i.assignee_id
		 WHERE i.completed = ? AND i.due_date <= ?
		 ORDER BY i.due_date, u.id`),
		false, until.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.InspectionDue
	for rows.Next() {
		var i domain.InspectionDue
		var due int64
		if err := rows.Scan(&i.UserID, &i.Email, &i.UserName, &i.ChecklistName, &due); err != nil {
			return nil, err
		}
		i.DueDate = time.UnixMilli(due)
		out = append(out, i)
	}
	return out, rows.Err()
}

func (s *sqlStore) PendingApprovals(ctx context.Context) ([]domain.ApprovalPending, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT u.id, u.email, u.name, a.document_title, a.requested_at
		 FROM approvals a JOIN users u ON u.id = a.approver_id
		 WHERE a.pending = ?
		 ORDER BY a.requested_at, u.id`),
		true,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ApprovalPending
	for rows.Next() {
		var a domain.ApprovalPending
		var at int64
		if err := rows.Scan(&a.UserID, &a.Email, &a.UserName, &a.DocumentTitle, &at); err != nil {
			return nil, err
		}
		a.RequestedAt = time.UnixMilli(at)
		out = append(out, a)
	}
	return out, rows.Err()
}

func toMillis(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func fromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}

var _ Store = (*sqlStore)(nil)
