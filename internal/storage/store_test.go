package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safenotify/internal/domain"
	logx "safenotify/pkg/logx"
)

func openTestSQLite(t *testing.T) *sqlStore {
	t.Helper()
	st, err := Open(context.Background(), Config{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "data", "safenotify.db"),
		BusyTimeout: time.Second,
	}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st.(*sqlStore)
}

func backends(t *testing.T) map[string]Store {
	t.Helper()
	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": openTestSQLite(t),
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	_, err := Open(context.Background(), Config{Driver: "mongo"}, logx.Nop())
	require.ErrorIs(t, err, ErrUnknownDriver)

	_, err = Open(context.Background(), Config{Driver: "sqlite"}, logx.Nop())
	require.Error(t, err)

	st, err := Open(context.Background(), Config{}, logx.Nop())
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, st)
}

func TestScheduleLifecycle(t *testing.T) {
	t.Parallel()
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			a, err := st.UpsertSchedule(ctx, domain.ScheduleDefinition{
				Name: "daily education", CronExpression: "0 9 * * *",
				Kind: domain.KindEducationReminder, Enabled: true,
			})
			require.NoError(t, err)
			require.NotZero(t, a.ID)

			b, err := st.UpsertSchedule(ctx, domain.ScheduleDefinition{
				ID: 40, Name: "tbm", CronExpression: "30 7 * * 1-5",
				Kind: domain.KindTBMReminder, Enabled: false,
			})
			require.NoError(t, err)
			assert.Equal(t, int64(40), b.ID)

			all, err := st.ListSchedules(ctx)
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, a.ID, all[0].ID)

			enabled, err := st.ListEnabledSchedules(ctx)
			require.NoError(t, err)
			require.Len(t, enabled, 1)
			assert.Equal(t, "daily education", enabled[0].Name)

			last := time.UnixMilli(time.Now().UnixMilli())
			next := last.Add(24 * time.Hour)
			require.NoError(t, st.UpdateScheduleRun(ctx, a.ID, last, next))

			// Editing a definition keeps its run bookkeeping.
			a.CronExpression = "0 10 * * *"
			a.LastRun, a.NextRun = nil, nil
			_, err = st.UpsertSchedule(ctx, a)
			require.NoError(t, err)

			got, ok, err := st.GetSchedule(ctx, a.ID)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "0 10 * * *", got.CronExpression)
			require.NotNil(t, got.LastRun)
			require.NotNil(t, got.NextRun)
			assert.True(t, last.Equal(*got.LastRun))
			assert.True(t, next.Equal(*got.NextRun))

			require.NoError(t, st.UpdateScheduleRun(ctx, a.ID, last, time.Time{}))
			got, _, err = st.GetSchedule(ctx, a.ID)
			require.NoError(t, err)
			assert.Nil(t, got.NextRun)

			removed, err := st.DeleteSchedule(ctx, b.ID)
			require.NoError(t, err)
			assert.True(t, removed)
			removed, err = st.DeleteSchedule(ctx, b.ID)
			require.NoError(t, err)
			assert.False(t, removed)

			_, ok, err = st.GetSchedule(ctx, b.ID)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestTemplates(t *testing.T) {
	t.Parallel()
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, ok, err := st.GetTemplate(ctx, domain.KindApprovalReminder)
			require.NoError(t, err)
			assert.False(t, ok)

			tpl := domain.TemplateDefinition{
				Kind: domain.KindApprovalReminder, Subject: "Approve {{documentTitle}}",
				Content: "<p>{{userName}}</p>", Enabled: true,
			}
			require.NoError(t, st.UpsertTemplate(ctx, tpl))
			tpl.Enabled = false
			require.NoError(t, st.UpsertTemplate(ctx, tpl))

			got, ok, err := st.GetTemplate(ctx, domain.KindApprovalReminder)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, tpl, got)
		})
	}
}

func TestSendLogWindow(t *testing.T) {
	t.Parallel()
	base := time.UnixMilli(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC).UnixMilli())

	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			add := func(id, recipient string, kind domain.Kind, at time.Time) {
				require.NoError(t, st.AppendSendLog(ctx, domain.SendLogEntry{
					ID: id, Kind: kind, RecipientID: recipient, RecipientEmail: recipient + "@example.com",
					Subject: "s", Status: domain.StatusSent, SentAt: at,
				}))
			}
			add("a", "u1", domain.KindEducationReminder, base.Add(-2*time.Hour))
			add("b", "u1", domain.KindEducationReminder, base.Add(-25*time.Hour))
			add("c", "u1", domain.KindTBMReminder, base.Add(-time.Hour))
			add("d", "u2", domain.KindEducationReminder, base.Add(-time.Hour))
			add("e", "u1", domain.KindEducationReminder, base)

			got, err := st.ListSendLogs(ctx, domain.KindEducationReminder, "u1", base.Add(-24*time.Hour), base)
			require.NoError(t, err)
			ids := make([]string, 0, len(got))
			for _, e := range got {
				ids = append(ids, e.ID)
			}
			assert.ElementsMatch(t, []string{"a", "e"}, ids)

			// Lower bound is exclusive.
			got, err = st.ListSendLogs(ctx, domain.KindEducationReminder, "u1", base, base.Add(time.Hour))
			require.NoError(t, err)
			assert.Empty(t, got)

			recent, err := st.RecentSendLogs(ctx, 2)
			require.NoError(t, err)
			require.Len(t, recent, 2)
			assert.Equal(t, "e", recent[0].ID)
			assert.True(t, base.Equal(recent[0].SentAt))
			assert.Equal(t, domain.StatusSent, recent[0].Status)
		})
	}
}

func TestMemoryDirectory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	today := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	m := NewMemory()

	m.AddEducation(domain.EducationDue{UserID: "u1", CourseName: "Safety101", DueDate: today.Add(48 * time.Hour)}, false)
	m.AddEducation(domain.EducationDue{UserID: "u2", CourseName: "Old", DueDate: today.Add(-48 * time.Hour)}, false)
	m.AddEducation(domain.EducationDue{UserID: "u3", CourseName: "Done", DueDate: today.Add(48 * time.Hour)}, true)
	edu, err := m.PendingEducation(ctx, today)
	require.NoError(t, err)
	require.Len(t, edu, 1)
	assert.Equal(t, "u1", edu[0].UserID)

	m.AddTeam("t1", domain.TeamLeader{UserID: "l1", TeamName: "Welding"})
	m.AddTeam("t2", domain.TeamLeader{UserID: "l2", TeamName: "Painting"})
	m.AddTBM("t1", today)
	leaders, err := m.TeamsWithoutTBM(ctx, today)
	require.NoError(t, err)
	require.Len(t, leaders, 1)
	assert.Equal(t, "Painting", leaders[0].TeamName)

	m.AddInspection(domain.InspectionDue{UserID: "u1", ChecklistName: "Crane", DueDate: today.Add(24 * time.Hour)}, false)
	m.AddInspection(domain.InspectionDue{UserID: "u2", ChecklistName: "Later", DueDate: today.Add(10 * 24 * time.Hour)}, false)
	insp, err := m.PendingInspections(ctx, today.Add(3*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, insp, 1)
	assert.Equal(t, "Crane", insp[0].ChecklistName)

	m.AddApproval(domain.ApprovalPending{UserID: "a1", DocumentTitle: "Permit"}, true)
	m.AddApproval(domain.ApprovalPending{UserID: "a2", DocumentTitle: "Closed"}, false)
	apr, err := m.PendingApprovals(ctx)
	require.NoError(t, err)
	require.Len(t, apr, 1)
	assert.Equal(t, "Permit", apr[0].DocumentTitle)
}

func TestSQLiteDirectory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestSQLite(t)
	today := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	ms := func(d time.Duration) int64 { return today.Add(d).UnixMilli() }

	exec := func(q string, args ...any) {
		t.Helper()
		_, err := st.db.ExecContext(ctx, q, args...)
		require.NoError(t, err)
	}
	exec(`INSERT INTO users(id, email, name) VALUES ('u1','kim@example.com','Kim'), ('u2','lee@example.com','Lee')`)
	exec(`INSERT INTO education_assignments(user_id, course_name, due_date, completed) VALUES (?,?,?,?)`, "u1", "Safety101", ms(48*time.Hour), false)
	exec(`INSERT INTO education_assignments(user_id, course_name, due_date, completed) VALUES (?,?,?,?)`, "u2", "Expired", ms(-48*time.Hour), false)
	exec(`INSERT INTO teams(id, name, leader_id) VALUES ('t1','Welding','u1'), ('t2','Painting','u2')`)
	exec(`INSERT INTO tbm_records(team_id, held_on) VALUES ('t1', ?)`, dayKey(today))
	exec(`INSERT INTO inspections(assignee_id, checklist_name, due_date, completed) VALUES (?,?,?,?)`, "u2", "Crane", ms(24*time.Hour), false)
	exec(`INSERT INTO inspections(assignee_id, checklist_name, due_date, completed) VALUES (?,?,?,?)`, "u1", "Ladder", ms(24*time.Hour), true)
	exec(`INSERT INTO approvals(approver_id, document_title, requested_at, pending) VALUES (?,?,?,?)`, "u1", "Hot work permit", ms(-time.Hour), true)

	edu, err := st.PendingEducation(ctx, today)
	require.NoError(t, err)
	require.Len(t, edu, 1)
	assert.Equal(t, domain.EducationDue{
		UserID: "u1", Email: "kim@example.com", UserName: "Kim",
		CourseName: "Safety101", DueDate: time.UnixMilli(ms(48 * time.Hour)),
	}, edu[0])

	leaders, err := st.TeamsWithoutTBM(ctx, today)
	require.NoError(t, err)
	require.Len(t, leaders, 1)
	assert.Equal(t, "Painting", leaders[0].TeamName)
	assert.Equal(t, "lee@example.com", leaders[0].Email)

	insp, err := st.PendingInspections(ctx, today.Add(72*time.Hour))
	require.NoError(t, err)
	require.Len(t, insp, 1)
	assert.Equal(t, "Crane", insp[0].ChecklistName)

	apr, err := st.PendingApprovals(ctx)
	require.NoError(t, err)
	require.Len(t, apr, 1)
	assert.Equal(t, "Hot work permit", apr[0].DocumentTitle)
}

func TestPostgresPlaceholders(t *testing.T) {
	t.Parallel()
	s := &sqlStore{dialect: goose.DialectPostgres}
	assert.Equal(t, `SELECT a FROM t WHERE x = $1 AND y > $2`, s.q(`SELECT a FROM t WHERE x = ? AND y > ?`))
	s = &sqlStore{dialect: goose.DialectSQLite3}
	assert.Equal(t, `x = ?`, s.q(`x = ?`))
}
