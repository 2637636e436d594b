// Package ledger records every notification attempt and answers the
// "was this recipient notified recently" question used for dedup.
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"safenotify/internal/domain"
	"safenotify/internal/storage"
	logx "safenotify/pkg/logx"
)

const DefaultWindow = 24 * time.Hour

type Ledger struct {
	store  storage.SendLogStore
	log    logx.Logger
	window time.Duration

	mu  sync.RWMutex
	now func() time.Time
}

func New(store storage.SendLogStore, window time.Duration, log logx.Logger) *Ledger {
	if log.IsZero() {
		log = logx.Nop()
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Ledger{
		store:  store,
		log:    log.With(logx.String("comp", "ledger")),
		window: window,
		now:    time.Now,
	}
}

// SetClock replaces the time source. Tests only.
func (l *Ledger) SetClock(now func() time.Time) {
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
}

func (l *Ledger) clock() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.now()
}

func (l *Ledger) Window() time.Duration { return l.window }

// Append persists e, filling ID and SentAt when empty. SentAt is truncated
// to milliseconds, the precision the SQL backends keep. A failed write is
// logged and swallowed; the returned entry is what was attempted.
func (l *Ledger) Append(ctx context.Context, e domain.SendLogEntry) domain.SendLogEntry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.SentAt.IsZero() {
		e.SentAt = l.clock()
	}
	e.SentAt = e.SentAt.Truncate(time.Millisecond)
	if l.store == nil {
		l.log.Warn("send log dropped: no store", logx.String("kind", e.Kind.String()), logx.String("recipient", e.RecipientID))
		return e
	}
	if err := l.store.AppendSendLog(ctx, e); err != nil {
		l.log.Error("send log write failed",
			logx.String("id", e.ID),
			logx.String("kind", e.Kind.String()),
			logx.String("recipient", e.RecipientID),
			logx.String("status", string(e.Status)),
			logx.Err(err),
		)
	}
	return e
}

// IsDuplicate reports whether any attempt (sent or failed) for kind and
// recipientID exists in (now-window, now], with now truncated to
// milliseconds so every backend draws the same boundary.
func (l *Ledger) IsDuplicate(ctx context.Context, kind domain.Kind, recipientID string) (bool, error) {
	if l.store == nil {
		return false, storage.ErrDisabled
	}
	now := l.clock().Truncate(time.Millisecond)
	rows, err := l.store.ListSendLogs(ctx, kind, recipientID, now.Add(-l.window), now)
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// Recent returns up to limit entries, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]domain.SendLogEntry, error) {
	if l.store == nil {
		return nil, storage.ErrDisabled
	}
	return l.store.RecentSendLogs(ctx, limit)
}
