package app

import (
	"context"
	"errors"
	"fmt"

	"safenotify/internal/config"
	"safenotify/internal/domain"
	logx "safenotify/pkg/logx"
)

// applySeed upserts the templates and schedules of next that differ from
// prev, and deletes schedules that were dropped from the list. prev is nil
// on start, which upserts everything.
//
// Each touched schedule is reloaded in the registry. A bad cron expression
// leaves that schedule paused and does not stop the rest.
func (a *App) applySeed(ctx context.Context, prev, next *config.Config) error {
	var errs []error

	oldTpl := map[string]config.SeedTemplate{}
	oldSched := map[int64]config.SeedSchedule{}
	if prev != nil {
		for _, t := range prev.Seed.Templates {
			oldTpl[t.Kind] = t
		}
		for _, s := range prev.Seed.Schedules {
			oldSched[s.ID] = s
		}
	}

	tplChanged := 0
	for _, t := range next.Seed.Templates {
		if o, ok := oldTpl[t.Kind]; ok && seedTemplateEqual(o, t) {
			continue
		}
		kind, err := domain.ParseKind(t.Kind)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		err = a.store.UpsertTemplate(ctx, domain.TemplateDefinition{
			Kind:    kind,
			Subject: t.Subject,
			Content: t.Content,
			Enabled: t.IsEnabled(),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("seed template %s: %w", kind, err))
			continue
		}
		tplChanged++
	}
	if tplChanged > 0 {
		a.dispatch.InvalidateTemplates()
	}

	for _, id := range config.RemovedSchedules(prev, next) {
		if _, err := a.store.DeleteSchedule(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("seed schedule %d: delete: %w", id, err))
			continue
		}
		a.registry.Stop(ctx, id)
	}

	schedChanged := 0
	for _, s := range next.Seed.Schedules {
		if o, ok := oldSched[s.ID]; ok && seedScheduleEqual(o, s) {
			continue
		}
		kind, err := domain.ParseKind(s.Kind)
		if err != nil {
			errs = append(errs, fmt.Errorf("seed schedule %d: %w", s.ID, err))
			continue
		}
		_, err = a.store.UpsertSchedule(ctx, domain.ScheduleDefinition{
			ID:             s.ID,
			Name:           s.Name,
			CronExpression: s.Cron,
			Kind:           kind,
			Description:    s.Description,
			Enabled:        s.IsEnabled(),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("seed schedule %d: %w", s.ID, err))
			continue
		}
		schedChanged++
		if err := a.registry.Reload(ctx, s.ID); err != nil {
			errs = append(errs, err)
		}
	}

	if tplChanged > 0 || schedChanged > 0 {
		a.log.Info("seed applied", logx.Int("templates", tplChanged), logx.Int("schedules", schedChanged))
	}
	return errors.Join(errs...)
}

func seedTemplateEqual(a, b config.SeedTemplate) bool {
	return a.Kind == b.Kind && a.Subject == b.Subject && a.Content == b.Content && a.IsEnabled() == b.IsEnabled()
}

func seedScheduleEqual(a, b config.SeedSchedule) bool {
	return a.ID == b.ID && a.Name == b.Name && a.Cron == b.Cron && a.Kind == b.Kind &&
		a.Description == b.Description && a.IsEnabled() == b.IsEnabled()
}
