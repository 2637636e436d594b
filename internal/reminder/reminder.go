// Package reminder maps each notification kind to the directory query that
// resolves its recipients, and runs one kind end to end.
package reminder

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"safenotify/internal/dispatch"
	"safenotify/internal/domain"
	"safenotify/internal/storage"
	logx "safenotify/pkg/logx"
)

const (
	dateLayout     = time.DateOnly
	dateTimeLayout = "2006-01-02 15:04"

	DefaultInspectionLeadDays = 3
)

// Query is what a resolver sees.
type Query struct {
	Dir            storage.Directory
	Now            time.Time
	InspectionLead time.Duration
}

// Handler describes one kind.
type Handler struct {
	Resolve func(ctx context.Context, q Query) ([]domain.Recipient, error)
	// Dedup drops recipients notified for this kind within the ledger window.
	Dedup bool
}

// Handlers is the closed kind table.
var Handlers = map[domain.Kind]Handler{
	domain.KindEducationReminder:  {Resolve: resolveEducation, Dedup: true},
	domain.KindTBMReminder:        {Resolve: resolveTBM, Dedup: true},
	domain.KindInspectionReminder: {Resolve: resolveInspections, Dedup: true},
	domain.KindApprovalReminder:   {Resolve: resolveApprovals, Dedup: false},
}

func resolveEducation(ctx context.Context, q Query) ([]domain.Recipient, error) {
	rows, err := q.Dir.PendingEducation(ctx, q.Now)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Recipient, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.Recipient{
			ID: r.UserID, Email: r.Email, Name: r.UserName,
			Variables: map[string]string{
				"userName":   r.UserName,
				"courseName": r.CourseName,
				"dueDate":    r.DueDate.In(q.Now.Location()).Format(dateLayout),
			},
		})
	}
	return out, nil
}

func resolveTBM(ctx context.Context, q Query) ([]domain.Recipient, error) {
	rows, err := q.Dir.TeamsWithoutTBM(ctx, q.Now)
	if err != nil {
		return nil, err
	}
	day := q.Now.Format(dateLayout)
	out := make([]domain.Recipient, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.Recipient{
			ID: r.UserID, Email: r.Email, Name: r.UserName,
			Variables: map[string]string{
				"userName": r.UserName,
				"teamName": r.TeamName,
				"date":     day,
			},
		})
	}
	return out, nil
}

func resolveInspections(ctx context.Context, q Query) ([]domain.Recipient, error) {
	rows, err := q.Dir.PendingInspections(ctx, q.Now.Add(q.InspectionLead))
	if err != nil {
		return nil, err
	}
	out := make([]domain.Recipient, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.Recipient{
			ID: r.UserID, Email: r.Email, Name: r.UserName,
			Variables: map[string]string{
				"userName":      r.UserName,
				"checklistName": r.ChecklistName,
				"dueDate":       r.DueDate.In(q.Now.Location()).Format(dateLayout),
			},
		})
	}
	return out, nil
}

func resolveApprovals(ctx context.Context, q Query) ([]domain.Recipient, error) {
	rows, err := q.Dir.PendingApprovals(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Recipient, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.Recipient{
			ID: r.UserID, Email: r.Email, Name: r.UserName,
			Variables: map[string]string{
				"userName":      r.UserName,
				"documentTitle": r.DocumentTitle,
				"requestedAt":   r.RequestedAt.In(q.Now.Location()).Format(dateTimeLayout),
			},
		})
	}
	return out, nil
}

// Deduper answers the recent-notification question. *ledger.Ledger satisfies it.
type Deduper interface {
	IsDuplicate(ctx context.Context, kind domain.Kind, recipientID string) (bool, error)
}

// BatchSender is the dispatch surface the runner needs.
type BatchSender interface {
	SendBatch(ctx context.Context, kind domain.Kind, recipients []domain.Recipient) dispatch.BatchResult
}

type Options struct {
	InspectionLeadDays int
	Location           *time.Location
}

type Runner struct {
	dir    storage.Directory
	dedup  Deduper
	sender BatchSender
	log    logx.Logger

	mu   sync.RWMutex
	opts Options
	now  func() time.Time
}

func NewRunner(opts Options, dir storage.Directory, dedup Deduper, sender BatchSender, log logx.Logger) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Runner{
		dir:    dir,
		dedup:  dedup,
		sender: sender,
		log:    log.With(logx.String("comp", "reminder")),
		now:    time.Now,
	}
	r.SetOptions(opts)
	return r
}

// SetOptions swaps lead time and location (config reload).
func (r *Runner) SetOptions(opts Options) {
	if opts.InspectionLeadDays <= 0 {
		opts.InspectionLeadDays = DefaultInspectionLeadDays
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	r.mu.Lock()
	r.opts = opts
	r.mu.Unlock()
}

// SetClock replaces the time source. Tests only.
func (r *Runner) SetClock(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

func (r *Runner) query() Query {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Query{
		Dir:            r.dir,
		Now:            r.now().In(r.opts.Location),
		InspectionLead: time.Duration(r.opts.InspectionLeadDays) * 24 * time.Hour,
	}
}

// Recipients resolves kind without sending; recipients lacking an email are
// dropped and no dedup is applied.
func (r *Runner) Recipients(ctx context.Context, kind domain.Kind) ([]domain.Recipient, error) {
	h, ok := Handlers[kind]
	if !ok {
		return nil, fmt.Errorf("unknown notification kind %q", kind)
	}
	if r.dir == nil {
		return nil, storage.ErrDisabled
	}
	all, err := h.Resolve(ctx, r.query())
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", kind, err)
	}
	out := all[:0]
	for _, rc := range all {
		if strings.TrimSpace(rc.Email) == "" {
			r.log.Debug("recipient without email", logx.String("kind", kind.String()), logx.String("recipient", rc.ID))
			continue
		}
		out = append(out, rc)
	}
	return out, nil
}

// Run resolves, filters and sends one kind. Resolver errors are returned;
// per-recipient failures only show up in the BatchResult.
func (r *Runner) Run(ctx context.Context, kind domain.Kind) (dispatch.BatchResult, error) {
	rcpts, err := r.Recipients(ctx, kind)
	if err != nil {
		return dispatch.BatchResult{}, err
	}
	resolved := len(rcpts)

	if Handlers[kind].Dedup && r.dedup != nil {
		kept := rcpts[:0]
		for _, rc := range rcpts {
			dup, err := r.dedup.IsDuplicate(ctx, kind, rc.ID)
			if err != nil {
				// Dedup errors keep the recipient.
				r.log.Warn("dedup check failed", logx.String("kind", kind.String()), logx.String("recipient", rc.ID), logx.Err(err))
				kept = append(kept, rc)
				continue
			}
			if !dup {
				kept = append(kept, rc)
			}
		}
		rcpts = kept
	}

	r.log.Info("reminder run",
		logx.String("kind", kind.String()),
		logx.Int("resolved", resolved),
		logx.Int("to_send", len(rcpts)),
	)
	if len(rcpts) == 0 || r.sender == nil {
		return dispatch.BatchResult{}, nil
	}
	return r.sender.SendBatch(ctx, kind, rcpts), nil
}
