package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"safenotify/internal/domain"
)

// Memory is a process-local Store. It is safe for concurrent use and is the
// backend used by tests and dry runs.
type Memory struct {
	mu sync.RWMutex

	nextID    int64
	schedules map[int64]domain.ScheduleDefinition
	templates map[domain.Kind]domain.TemplateDefinition
	logs      []domain.SendLogEntry

	education   []memEducation
	teams       map[string]domain.TeamLeader
	tbm         map[string]map[string]struct{} // teamID -> day keys
	inspections []memInspection
	approvals   []memApproval
}

type memEducation struct {
	row       domain.EducationDue
	completed bool
}

type memInspection struct {
	row       domain.InspectionDue
	completed bool
}

type memApproval struct {
	row     domain.ApprovalPending
	pending bool
}

func NewMemory() *Memory {
	return &Memory{
		schedules: map[int64]domain.ScheduleDefinition{},
		templates: map[domain.Kind]domain.TemplateDefinition{},
		teams:     map[string]domain.TeamLeader{},
		tbm:       map[string]map[string]struct{}{},
	}
}

func (m *Memory) Close() error { return nil }

// ---- schedules ----

func (m *Memory) ListSchedules(ctx context.Context) ([]domain.ScheduleDefinition, error) {
	return m.listSchedules(false), nil
}

func (m *Memory) ListEnabledSchedules(ctx context.Context) ([]domain.ScheduleDefinition, error) {
	return m.listSchedules(true), nil
}

func (m *Memory) listSchedules(enabledOnly bool) []domain.ScheduleDefinition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.ScheduleDefinition, 0, len(m.schedules))
	for _, d := range m.schedules {
		if enabledOnly && !d.Enabled {
			continue
		}
		out = append(out, cloneSchedule(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) GetSchedule(ctx context.Context, id int64) (domain.ScheduleDefinition, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.schedules[id]
	if !ok {
		return domain.ScheduleDefinition{}, false, nil
	}
	return cloneSchedule(d), true, nil
}

func (m *Memory) UpsertSchedule(ctx context.Context, d domain.ScheduleDefinition) (domain.ScheduleDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == 0 {
		m.nextID++
		for {
			if _, taken := m.schedules[m.nextID]; !taken {
				break
			}
			m.nextID++
		}
		d.ID = m.nextID
	} else if d.ID > m.nextID {
		m.nextID = d.ID
	}
	if prev, ok := m.schedules[d.ID]; ok {
		d.LastRun, d.NextRun = prev.LastRun, prev.NextRun
	}
	m.schedules[d.ID] = cloneSchedule(d)
	return cloneSchedule(d), nil
}

func (m *Memory) DeleteSchedule(ctx context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schedules[id]; !ok {
		return false, nil
	}
	delete(m.schedules, id)
	return true, nil
}

func (m *Memory) UpdateScheduleRun(ctx context.Context, id int64, lastRun, next time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.schedules[id]
	if !ok {
		return nil
	}
	lr := lastRun
	d.LastRun = &lr
	if next.IsZero() {
		d.NextRun = nil
	} else {
		n := next
		d.NextRun = &n
	}
	m.schedules[id] = d
	return nil
}

func cloneSchedule(d domain.ScheduleDefinition) domain.ScheduleDefinition {
	if d.LastRun != nil {
		t := *d.LastRun
		d.LastRun = &t
	}
	if d.NextRun != nil {
		t := *d.NextRun
		d.NextRun = &t
	}
	return d
}

// ---- templates ----

func (m *Memory) GetTemplate(ctx context.Context, kind domain.Kind) (domain.TemplateDefinition, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.templates[kind]
	return t, ok, nil
}

func (m *Memory) UpsertTemplate(ctx context.Context, t domain.TemplateDefinition) error {
	m.mu.Lock()
	m.templates[t.Kind] = t
	m.mu.Unlock()
	return nil
}

// ---- send log ----

func (m *Memory) AppendSendLog(ctx context.Context, e domain.SendLogEntry) error {
	m.mu.Lock()
	m.logs = append(m.logs, e)
	m.mu.Unlock()
	return nil
}

func (m *Memory) ListSendLogs(ctx context.Context, kind domain.Kind, recipientID string, after, upTo time.Time) ([]domain.SendLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.SendLogEntry
	for _, e := range m.logs {
		if e.Kind != kind || e.RecipientID != recipientID {
			continue
		}
		if !e.SentAt.After(after) || e.SentAt.After(upTo) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *Memory) RecentSendLogs(ctx context.Context, limit int) ([]domain.SendLogEntry, error) {
	m.mu.RLock()
	out := make([]domain.SendLogEntry, len(m.logs))
	copy(out, m.logs)
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].SentAt.After(out[j].SentAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---- directory ----

func (m *Memory) AddEducation(e domain.EducationDue, completed bool) {
	m.mu.Lock()
	m.education = append(m.education, memEducation{row: e, completed: completed})
	m.mu.Unlock()
}

func (m *Memory) AddTeam(teamID string, leader domain.TeamLeader) {
	m.mu.Lock()
	m.teams[teamID] = leader
	m.mu.Unlock()
}

func (m *Memory) AddTBM(teamID string, day time.Time) {
	m.mu.Lock()
	days := m.tbm[teamID]
	if days == nil {
		days = map[string]struct{}{}
		m.tbm[teamID] = days
	}
	days[dayKey(day)] = struct{}{}
	m.mu.Unlock()
}

func (m *Memory) AddInspection(i domain.InspectionDue, completed bool) {
	m.mu.Lock()
	m.inspections = append(m.inspections, memInspection{row: i, completed: completed})
	m.mu.Unlock()
}

func (m *Memory) AddApproval(a domain.ApprovalPending, pending bool) {
	m.mu.Lock()
	m.approvals = append(m.approvals, memApproval{row: a, pending: pending})
	m.mu.Unlock()
}

func (m *Memory) PendingEducation(ctx context.Context, asOf time.Time) ([]domain.EducationDue, error) {
	from := startOfDay(asOf)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.EducationDue
	for _, e := range m.education {
		if e.completed || e.row.DueDate.Before(from) {
			continue
		}
		out = append(out, e.row)
	}
	return out, nil
}

func (m *Memory) TeamsWithoutTBM(ctx context.Context, day time.Time) ([]domain.TeamLeader, error) {
	key := dayKey(day)
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.teams))
	for id := range m.teams {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []domain.TeamLeader
	for _, id := range ids {
		if _, held := m.tbm[id][key]; held {
			continue
		}
		out = append(out, m.teams[id])
	}
	return out, nil
}

func (m *Memory) PendingInspections(ctx context.Context, until time.Time) ([]domain.InspectionDue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.InspectionDue
	for _, i := range m.inspections {
		if i.completed || i.row.DueDate.After(until) {
			continue
		}
		out = append(out, i.row)
	}
	return out, nil
}

func (m *Memory) PendingApprovals(ctx context.Context) ([]domain.ApprovalPending, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.ApprovalPending
	for _, a := range m.approvals {
		if a.pending {
			out = append(out, a.row)
		}
	}
	return out, nil
}

var _ Store = (*Memory)(nil)
