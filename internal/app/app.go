package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"safenotify/internal/config"
	"safenotify/internal/dispatch"
	"safenotify/internal/domain"
	"safenotify/internal/guard"
	"safenotify/internal/ledger"
	"safenotify/internal/registry"
	"safenotify/internal/reminder"
	"safenotify/internal/render"
	"safenotify/internal/runtime/supervisor"
	"safenotify/internal/storage"
	logx "safenotify/pkg/logx"
)

var ErrNoTemplate = errors.New("no template for kind")

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	store     storage.Store
	ledger    *ledger.Ledger
	dispatch  *dispatch.Service
	reminders *reminder.Runner
	guard     *guard.Guard
	registry  *registry.Registry

	schedEnabled bool
}

// NewApp loads cfgPath, opens storage and wires every component. It applies
// the config seeds once before returning. Nothing is triggered until Start.
func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath, logx.NewConsole("info"))
	cfgm.SetValidator(config.Validator)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	cfgm.SetLogger(log)

	a, err := build(ctx, cfgm, cfg, logSvc, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func build(ctx context.Context, cfgm *config.Manager, cfg *config.Config, logSvc *logx.Service, log logx.Logger) (*App, error) {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	dc, err := mapDispatchConfig(cfg)
	if err != nil {
		return nil, err
	}
	window, err := mapLedgerWindow(cfg)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(ctx, sc, log)
	if err != nil {
		return nil, err
	}
	sender, err := newSender(cfg, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	g := guard.New(log)
	led := ledger.New(store, window, log)
	disp := dispatch.New(dc, store, sender, led, log)
	rem := reminder.NewRunner(reminder.Options{}, store, led, disp, log)
	reg := registry.New(registry.Config{Timezone: cfg.Scheduler.Timezone}, store, g, rem, log)
	rem.SetOptions(mapReminderOptions(cfg, reg.Location()))

	a := &App{
		cfgm:         cfgm,
		log:          log.With(logx.String("comp", "app")),
		logs:         logSvc,
		store:        store,
		ledger:       led,
		dispatch:     disp,
		reminders:    rem,
		guard:        g,
		registry:     reg,
		schedEnabled: cfg.Scheduler.IsEnabled(),
	}
	if err := a.applySeed(ctx, nil, cfg); err != nil {
		a.log.Warn("seed partially applied", logx.Err(err))
	}
	a.log.Info("app ready",
		logx.String("storage", storageName(sc.Driver)),
		logx.String("mailer", cfg.Mailer.Driver),
		logx.Duration("dedup_window", window),
		logx.String("tz", reg.Location().String()),
	)
	return a, nil
}

func storageName(driver string) string {
	if driver == "" {
		return "memory"
	}
	return driver
}

func (a *App) Store() storage.Store         { return a.store }
func (a *App) Registry() *registry.Registry { return a.registry }
func (a *App) Logger() logx.Logger          { return a.log }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start loads every enabled schedule, starts cron triggering and begins
// watching the config file.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	if _, err := a.registry.LoadAll(ctx); err != nil {
		return err
	}
	if a.schedEnabled {
		a.registry.Start(a.sup.Context())
	} else {
		a.log.Info("scheduler disabled via config; schedules run only on demand")
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.GoRestart("config.watch", a.cfgm.Watch, supervisor.WithRestartBackoff(time.Second, 30*time.Second))

	a.log.Info("app started", logx.Bool("scheduler", a.schedEnabled))
	return nil
}

// applyConfig re-applies the live sections of next. Sections that are fixed
// at construction only get a warning.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	ch := config.Diff(prev, next)
	if ch.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Fields...)
	a.log.Debug("config change summary", fields...)

	if len(ch.Restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.Strings("sections", ch.Restart))
	}

	a.logs.Apply(mapLogConfig(next))
	a.dispatch.SetDefaults(next.Dispatch.Defaults)
	a.reminders.SetOptions(mapReminderOptions(next, a.registry.Location()))
	if err := a.applySeed(ctx, prev, next); err != nil {
		a.log.Warn("seed partially applied", logx.Err(err))
	}

	a.log.Info("config reloaded", fields...)
}

// RunNow fires schedule id once through the guard, as a cron tick would.
func (a *App) RunNow(ctx context.Context, id int64) (guard.Outcome, error) {
	return a.registry.RunNow(ctx, id)
}

// ScheduleStatus is one stored definition with its in-process state.
type ScheduleStatus struct {
	Def   domain.ScheduleDefinition
	State registry.State
	Next  time.Time
}

// Schedules lists every stored definition. Next is only known for
// registered jobs.
func (a *App) Schedules(ctx context.Context) ([]ScheduleStatus, error) {
	defs, err := a.store.ListSchedules(ctx)
	if err != nil {
		return nil, err
	}
	next := map[int64]time.Time{}
	for _, j := range a.registry.Jobs() {
		next[j.ID] = j.Next
	}
	out := make([]ScheduleStatus, 0, len(defs))
	for _, d := range defs {
		out = append(out, ScheduleStatus{Def: d, State: a.registry.State(d.ID), Next: next[d.ID]})
	}
	return out, nil
}

// LoadSchedules registers enabled schedules without starting cron, so
// Schedules can report next run times from a one-shot command.
func (a *App) LoadSchedules(ctx context.Context) (int, error) {
	return a.registry.LoadAll(ctx)
}

func (a *App) History(ctx context.Context, limit int) ([]domain.SendLogEntry, error) {
	return a.ledger.Recent(ctx, limit)
}

// Preview is a rendered template plus who a run would reach right now.
type Preview struct {
	Kind       domain.Kind
	Subject    string
	HTML       string
	Enabled    bool
	Tokens     []string
	Recipients []domain.Recipient
}

// Preview renders the template for kind with vars over the configured
// defaults. Nothing is sent or recorded.
func (a *App) Preview(ctx context.Context, kind domain.Kind, vars map[string]string) (Preview, error) {
	tpl, ok, err := a.dispatch.Template(ctx, kind)
	if err != nil {
		return Preview{}, err
	}
	if !ok {
		return Preview{}, fmt.Errorf("%w: %s", ErrNoTemplate, kind)
	}
	recipients, err := a.reminders.Recipients(ctx, kind)
	if err != nil {
		return Preview{}, err
	}
	merged := a.dispatch.Variables(vars)
	return Preview{
		Kind:       kind,
		Subject:    render.Render(tpl.Subject, merged),
		HTML:       render.Render(tpl.Content, merged),
		Enabled:    tpl.Enabled,
		Tokens:     render.Tokens(tpl.Subject + tpl.Content),
		Recipients: recipients,
	}, nil
}

// Stop shuts down in order: cron, supervised goroutines, storage, logs.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if a.sup != nil {
		a.sup.Cancel()
	}

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		// respect the caller's deadline; never extend it
		if dl, ok := ctx.Deadline(); ok && time.Until(dl) < limit {
			limit = max(time.Until(dl), 0)
		}
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("registry", 5*time.Second, func(c context.Context) error { a.registry.Close(c); return nil })
	if a.sup != nil {
		step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	}
	step("storage", time.Second, func(c context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
