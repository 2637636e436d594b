package reminder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"safenotify/internal/dispatch"
	"safenotify/internal/domain"
	"safenotify/internal/ledger"
	"safenotify/internal/mailer"
	"safenotify/internal/storage"
	logx "safenotify/pkg/logx"
)

type mockBatch struct {
	mock.Mock
}

func (m *mockBatch) SendBatch(ctx context.Context, kind domain.Kind, rcpts []domain.Recipient) dispatch.BatchResult {
	args := m.Called(ctx, kind, rcpts)
	return args.Get(0).(dispatch.BatchResult)
}

type stubDedup struct {
	dup map[string]bool
	err error
}

func (s stubDedup) IsDuplicate(ctx context.Context, kind domain.Kind, id string) (bool, error) {
	return s.dup[id], s.err
}

var now = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newRunner(dir storage.Directory, d Deduper, b BatchSender) *Runner {
	r := NewRunner(Options{Location: time.UTC}, dir, d, b, logx.Nop())
	r.SetClock(func() time.Time { return now })
	return r
}

func TestHandlerTableIsClosed(t *testing.T) {
	t.Parallel()
	require.Len(t, Handlers, len(domain.Kinds()))
	for _, k := range domain.Kinds() {
		h, ok := Handlers[k]
		require.True(t, ok, k)
		assert.NotNil(t, h.Resolve)
	}
	assert.False(t, Handlers[domain.KindApprovalReminder].Dedup)
	assert.True(t, Handlers[domain.KindEducationReminder].Dedup)
}

func TestRecipientsVariables(t *testing.T) {
	t.Parallel()
	mem := storage.NewMemory()
	mem.AddEducation(domain.EducationDue{UserID: "u1", Email: "kim@example.com", UserName: "Kim", CourseName: "Safety101", DueDate: now.Add(48 * time.Hour)}, false)
	mem.AddTeam("t1", domain.TeamLeader{UserID: "l1", Email: "lee@example.com", UserName: "Lee", TeamName: "Welding"})
	mem.AddInspection(domain.InspectionDue{UserID: "u2", Email: "park@example.com", UserName: "Park", ChecklistName: "Crane", DueDate: now.Add(2 * 24 * time.Hour)}, false)
	mem.AddInspection(domain.InspectionDue{UserID: "u3", Email: "far@example.com", UserName: "Far", ChecklistName: "Later", DueDate: now.Add(9 * 24 * time.Hour)}, false)
	mem.AddApproval(domain.ApprovalPending{UserID: "a1", Email: "choi@example.com", UserName: "Choi", DocumentTitle: "Hot work permit", RequestedAt: now.Add(-90 * time.Minute)}, true)
	r := newRunner(mem, nil, nil)

	cases := []struct {
		kind domain.Kind
		want []domain.Recipient
	}{
		{domain.KindEducationReminder, []domain.Recipient{{ID: "u1", Email: "kim@example.com", Name: "Kim",
			Variables: map[string]string{"userName": "Kim", "courseName": "Safety101", "dueDate": "2026-03-04"}}}},
		{domain.KindTBMReminder, []domain.Recipient{{ID: "l1", Email: "lee@example.com", Name: "Lee",
			Variables: map[string]string{"userName": "Lee", "teamName": "Welding", "date": "2026-03-02"}}}},
		{domain.KindInspectionReminder, []domain.Recipient{{ID: "u2", Email: "park@example.com", Name: "Park",
			Variables: map[string]string{"userName": "Park", "checklistName": "Crane", "dueDate": "2026-03-04"}}}},
		{domain.KindApprovalReminder, []domain.Recipient{{ID: "a1", Email: "choi@example.com", Name: "Choi",
			Variables: map[string]string{"userName": "Choi", "documentTitle": "Hot work permit", "requestedAt": "2026-03-02 07:30"}}}},
	}
	for _, tc := range cases {
		t.Run(tc.kind.String(), func(t *testing.T) {
			got, err := r.Recipients(context.Background(), tc.kind)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := r.Recipients(context.Background(), domain.Kind("LEGACY"))
	require.Error(t, err)
}

func TestRunFiltersEmailAndDuplicates(t *testing.T) {
	t.Parallel()
	mem := storage.NewMemory()
	due := now.Add(24 * time.Hour)
	mem.AddEducation(domain.EducationDue{UserID: "u1", Email: "kim@example.com", CourseName: "A", DueDate: due}, false)
	mem.AddEducation(domain.EducationDue{UserID: "u2", Email: "", CourseName: "A", DueDate: due}, false)
	mem.AddEducation(domain.EducationDue{UserID: "u3", Email: "dup@example.com", CourseName: "A", DueDate: due}, false)

	b := &mockBatch{}
	b.On("SendBatch", mock.Anything, domain.KindEducationReminder, mock.MatchedBy(func(rs []domain.Recipient) bool {
		return len(rs) == 1 && rs[0].ID == "u1"
	})).Return(dispatch.BatchResult{Total: 1, Sent: 1}).Once()

	r := newRunner(mem, stubDedup{dup: map[string]bool{"u3": true}}, b)
	res, err := r.Run(context.Background(), domain.KindEducationReminder)
	require.NoError(t, err)
	assert.Equal(t, dispatch.BatchResult{Total: 1, Sent: 1}, res)
	b.AssertExpectations(t)
}

func TestRunDedupErrorKeepsRecipient(t *testing.T) {
	t.Parallel()
	mem := storage.NewMemory()
	mem.AddTeam("t1", domain.TeamLeader{UserID: "l1", Email: "lee@example.com", TeamName: "Welding"})

	b := &mockBatch{}
	b.On("SendBatch", mock.Anything, domain.KindTBMReminder, mock.MatchedBy(func(rs []domain.Recipient) bool {
		return len(rs) == 1
	})).Return(dispatch.BatchResult{Total: 1, Sent: 1}).Once()

	r := newRunner(mem, stubDedup{err: errors.New("db locked")}, b)
	_, err := r.Run(context.Background(), domain.KindTBMReminder)
	require.NoError(t, err)
	b.AssertExpectations(t)
}

func TestRunApprovalSkipsDedup(t *testing.T) {
	t.Parallel()
	mem := storage.NewMemory()
	mem.AddApproval(domain.ApprovalPending{UserID: "a1", Email: "choi@example.com", DocumentTitle: "Permit", RequestedAt: now}, true)

	b := &mockBatch{}
	b.On("SendBatch", mock.Anything, domain.KindApprovalReminder, mock.Anything).Return(dispatch.BatchResult{Total: 1, Sent: 1}).Once()

	r := newRunner(mem, stubDedup{dup: map[string]bool{"a1": true}}, b)
	_, err := r.Run(context.Background(), domain.KindApprovalReminder)
	require.NoError(t, err)
	b.AssertExpectations(t)
}

func TestRunNothingToSend(t *testing.T) {
	t.Parallel()
	b := &mockBatch{}
	r := newRunner(storage.NewMemory(), nil, b)
	res, err := r.Run(context.Background(), domain.KindEducationReminder)
	require.NoError(t, err)
	assert.Equal(t, dispatch.BatchResult{}, res)
	b.AssertNotCalled(t, "SendBatch", mock.Anything, mock.Anything, mock.Anything)
}

type failingDir struct{ storage.Directory }

func (failingDir) PendingEducation(context.Context, time.Time) ([]domain.EducationDue, error) {
	return nil, errors.New("connection reset")
}

func TestRunResolverErrorIsReturned(t *testing.T) {
	t.Parallel()
	r := newRunner(failingDir{}, nil, &mockBatch{})
	_, err := r.Run(context.Background(), domain.KindEducationReminder)
	require.ErrorContains(t, err, "connection reset")
}

type captureSender struct {
	emails []*mailer.Email
}

func (c *captureSender) Send(ctx context.Context, e *mailer.Email) (string, error) {
	c.emails = append(c.emails, e)
	return "m-1", nil
}

// Education reminder through the real dispatch and ledger: one send, one
// sent row, and a second run is suppressed by dedup.
func TestEducationReminderEndToEnd(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := storage.NewMemory()
	require.NoError(t, mem.UpsertTemplate(ctx, domain.TemplateDefinition{
		Kind: domain.KindEducationReminder, Subject: "Reminder: {{courseName}}",
		Content: "<p>{{userName}}: {{courseName}} due {{dueDate}}</p>", Enabled: true,
	}))
	mem.AddEducation(domain.EducationDue{UserID: "u1", Email: "kim@example.com", UserName: "Kim", CourseName: "Safety101", DueDate: now.Add(48 * time.Hour)}, false)

	snd := &captureSender{}
	l := ledger.New(mem, 0, logx.Nop())
	l.SetClock(func() time.Time { return now })
	svc := dispatch.New(dispatch.Config{Concurrency: 1}, mem, snd, l, logx.Nop())
	r := newRunner(mem, l, svc)

	res, err := r.Run(ctx, domain.KindEducationReminder)
	require.NoError(t, err)
	assert.Equal(t, dispatch.BatchResult{Total: 1, Sent: 1}, res)
	require.Len(t, snd.emails, 1)
	assert.Equal(t, "Reminder: Safety101", snd.emails[0].Subject)

	logs, err := mem.RecentSendLogs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.StatusSent, logs[0].Status)
	assert.Equal(t, "u1", logs[0].RecipientID)

	res, err = r.Run(ctx, domain.KindEducationReminder)
	require.NoError(t, err)
	assert.Equal(t, dispatch.BatchResult{}, res)
	assert.Len(t, snd.emails, 1)
}
