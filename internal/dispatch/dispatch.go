// Package dispatch turns (kind, recipient, variables) into exactly one
// transport attempt and exactly one ledger row.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/errgroup"

	"safenotify/internal/domain"
	"safenotify/internal/mailer"
	"safenotify/internal/render"
	"safenotify/internal/storage"
	logx "safenotify/pkg/logx"
)

var (
	ErrTemplateNotFound = errors.New("template not found")
	ErrTemplateDisabled = errors.New("template disabled")
	ErrNoEmail          = errors.New("recipient email is empty")
)

const DefaultConcurrency = 4

// Recorder persists send attempts. *ledger.Ledger satisfies it.
type Recorder interface {
	Append(ctx context.Context, e domain.SendLogEntry) domain.SendLogEntry
}

type Config struct {
	Concurrency      int
	Defaults         map[string]string // merged under caller variables
	TemplateCacheTTL time.Duration     // 0 disables the cache
}

// Result is the outcome of one SendByType call.
type Result struct {
	Status    domain.SendStatus
	Err       error
	MessageID string
}

func (r Result) OK() bool { return r.Status == domain.StatusSent }

type BatchResult struct {
	Total  int
	Sent   int
	Failed int
}

type Service struct {
	templates storage.TemplateStore
	sender    mailer.Sender
	ledger    Recorder
	log       logx.Logger

	concurrency int
	cache       *ttlcache.Cache[domain.Kind, domain.TemplateDefinition]

	mu       sync.RWMutex
	defaults map[string]string
}

func New(cfg Config, templates storage.TemplateStore, sender mailer.Sender, ledger Recorder, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		templates:   templates,
		sender:      sender,
		ledger:      ledger,
		log:         log.With(logx.String("comp", "dispatch")),
		concurrency: cfg.Concurrency,
		defaults:    maps.Clone(cfg.Defaults),
	}
	if s.concurrency <= 0 {
		s.concurrency = DefaultConcurrency
	}
	if cfg.TemplateCacheTTL > 0 {
		s.cache = ttlcache.New[domain.Kind, domain.TemplateDefinition](
			ttlcache.WithTTL[domain.Kind, domain.TemplateDefinition](cfg.TemplateCacheTTL),
		)
	}
	return s
}

// SetDefaults replaces the default variables (config reload).
func (s *Service) SetDefaults(defaults map[string]string) {
	s.mu.Lock()
	s.defaults = maps.Clone(defaults)
	s.mu.Unlock()
}

// InvalidateTemplates drops cached templates so the next send re-reads them.
func (s *Service) InvalidateTemplates() {
	if s.cache != nil {
		s.cache.DeleteAll()
	}
}

// Variables returns defaults overlaid with vars; vars win on conflict.
func (s *Service) Variables(vars map[string]string) map[string]string {
	s.mu.RLock()
	out := make(map[string]string, len(s.defaults)+len(vars))
	maps.Copy(out, s.defaults)
	s.mu.RUnlock()
	maps.Copy(out, vars)
	return out
}

// Template returns the template for kind, through the cache when enabled.
func (s *Service) Template(ctx context.Context, kind domain.Kind) (domain.TemplateDefinition, bool, error) {
	if s.cache != nil {
		if it := s.cache.Get(kind); it != nil {
			return it.Value(), true, nil
		}
	}
	if s.templates == nil {
		return domain.TemplateDefinition{}, false, nil
	}
	tpl, ok, err := s.templates.GetTemplate(ctx, kind)
	if err != nil || !ok {
		return tpl, ok, err
	}
	if s.cache != nil {
		s.cache.Set(kind, tpl, ttlcache.DefaultTTL)
	}
	return tpl, true, nil
}

// SendByType renders the template for kind and sends it to email.
//
// Every call appends exactly one ledger row. A missing or disabled template
// yields a failed row and no transport call. A ledger write failure never
// changes the returned Result.
func (s *Service) SendByType(ctx context.Context, kind domain.Kind, email, recipientID string, vars map[string]string) Result {
	entry := domain.SendLogEntry{
		Kind:           kind,
		RecipientID:    recipientID,
		RecipientEmail: email,
	}

	tpl, ok, err := s.Template(ctx, kind)
	switch {
	case err != nil:
		return s.fail(ctx, entry, fmt.Errorf("%w: %v", ErrTemplateNotFound, err))
	case !ok:
		return s.fail(ctx, entry, ErrTemplateNotFound)
	case !tpl.Enabled:
		return s.fail(ctx, entry, ErrTemplateDisabled)
	}

	merged := s.Variables(vars)
	entry.Subject = render.Render(tpl.Subject, merged)

	if strings.TrimSpace(email) == "" {
		return s.fail(ctx, entry, ErrNoEmail)
	}

	msg := &mailer.Email{
		To:      []string{email},
		Subject: entry.Subject,
		HTML:    render.Render(tpl.Content, merged),
	}
	id, err := s.send(ctx, msg)
	if err != nil {
		s.log.Warn("send failed",
			logx.String("kind", kind.String()),
			logx.String("recipient", recipientID),
			logx.Err(err),
		)
		return s.fail(ctx, entry, err)
	}

	entry.Status = domain.StatusSent
	entry.MessageID = id
	s.record(ctx, entry)
	return Result{Status: domain.StatusSent, MessageID: id}
}

func (s *Service) send(ctx context.Context, msg *mailer.Email) (id string, err error) {
	if s.sender == nil {
		return "", errors.New("no mail transport configured")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transport panic: %v", r)
			s.log.Error("transport panic", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	return s.sender.Send(ctx, msg)
}

func (s *Service) fail(ctx context.Context, entry domain.SendLogEntry, err error) Result {
	entry.Status = domain.StatusFailed
	entry.ErrorMessage = err.Error()
	s.record(ctx, entry)
	return Result{Status: domain.StatusFailed, Err: err}
}

func (s *Service) record(ctx context.Context, entry domain.SendLogEntry) {
	if s.ledger == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("ledger panic", logx.Any("panic", r))
		}
	}()
	s.ledger.Append(ctx, entry)
}

// SendBatch dispatches to every recipient independently with bounded
// concurrency. One recipient's failure or panic never affects the others.
func (s *Service) SendBatch(ctx context.Context, kind domain.Kind, recipients []domain.Recipient) BatchResult {
	res := BatchResult{Total: len(recipients)}
	if len(recipients) == 0 {
		return res
	}

	var sent, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, rc := range recipients {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					failed.Add(1)
					s.log.Error("recipient panic",
						logx.String("kind", kind.String()),
						logx.String("recipient", rc.ID),
						logx.Any("panic", r),
					)
				}
			}()
			if s.SendByType(ctx, kind, rc.Email, rc.ID, rc.Variables).OK() {
				sent.Add(1)
			} else {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	res.Sent = int(sent.Load())
	res.Failed = int(failed.Load())
	s.log.Info("batch done",
		logx.String("kind", kind.String()),
		logx.Int("total", res.Total),
		logx.Int("sent", res.Sent),
		logx.Int("failed", res.Failed),
	)
	return res
}
