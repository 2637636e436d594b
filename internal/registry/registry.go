// Package registry keeps one live cron job per enabled schedule definition.
//
// Definitions are read from the store; the registry never edits them except
// to write back lastRun/nextRun after each admitted tick. Every tick goes
// through the guard under the name "schedule#<id>", so renaming a definition
// never opens a second slot for it.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"safenotify/internal/dispatch"
	"safenotify/internal/domain"
	"safenotify/internal/guard"
	"safenotify/internal/storage"
	logx "safenotify/pkg/logx"
)

var (
	ErrNotFound    = errors.New("schedule not found")
	ErrInvalidCron = errors.New("invalid cron expression")
	ErrInvalidKind = errors.New("invalid notification kind")
)

type Config struct {
	Timezone string
}

// Runner executes the work for one kind. *reminder.Runner satisfies it.
type Runner interface {
	Run(ctx context.Context, kind domain.Kind) (dispatch.BatchResult, error)
}

// State is the lifecycle state of one definition inside this process.
type State int

const (
	Unregistered State = iota
	Enabled
	Paused
)

func (s State) String() string {
	switch s {
	case Unregistered:
		return "unregistered"
	case Enabled:
		return "enabled"
	case Paused:
		return "paused"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// JobInfo is a snapshot of one active job.
type JobInfo struct {
	ID   int64
	Name string
	Kind domain.Kind
	Spec string
	Next time.Time
	Prev time.Time
}

type job struct {
	def     domain.ScheduleDefinition
	sched   cron.Schedule
	entryID cron.EntryID
}

type Registry struct {
	store  storage.ScheduleStore
	guard  *guard.Guard
	runner Runner
	log    logx.Logger

	parser cron.ScheduleParser
	loc    *time.Location
	now    func() time.Time

	mu      sync.Mutex
	c       *cron.Cron
	jobs    map[int64]*job
	paused  map[int64]struct{}
	running bool
	baseCtx context.Context
}

func New(cfg Config, store storage.ScheduleStore, g *guard.Guard, runner Runner, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "registry"))
	if g == nil {
		g = guard.New(log)
	}
	r := &Registry{
		store:   store,
		guard:   g,
		runner:  runner,
		log:     log,
		parser:  newSpecParser(),
		loc:     loadLocation(cfg.Timezone, log),
		now:     time.Now,
		jobs:    map[int64]*job{},
		paused:  map[int64]struct{}{},
		baseCtx: context.Background(),
	}
	r.c = cron.New(
		cron.WithParser(r.parser),
		cron.WithLocation(r.loc),
		cron.WithLogger(cronLogger{log: log}),
	)
	return r
}

// specParser accepts standard five-field expressions and the fixed
// descriptors (@daily, @hourly, ...). Interval descriptors are refused.
type specParser struct{ p cron.Parser }

func newSpecParser() specParser {
	return specParser{p: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)}
}

func (s specParser) Parse(spec string) (cron.Schedule, error) {
	if strings.HasPrefix(strings.TrimSpace(spec), "@every") {
		return nil, fmt.Errorf("interval descriptor not supported: %q", spec)
	}
	return s.p.Parse(spec)
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Location is the timezone cron expressions are evaluated in.
func (r *Registry) Location() *time.Location { return r.loc }

// Start begins firing registered jobs. Handlers run with a context derived
// from ctx that is not cancelled by Close.
func (r *Registry) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.baseCtx = context.WithoutCancel(ctx)
	r.running = true
	r.c.Start()
	r.log.Info("registry started", logx.String("tz", r.loc.String()), logx.Int("jobs", len(r.jobs)))
}

// Close stops future firings and waits for the cron runner to stop, bounded
// by ctx. In-flight handlers are not aborted.
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	stopped := r.c.Stop()
	r.mu.Unlock()

	start := time.Now()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
	}
	r.log.Info("registry stopped", logx.Duration("took", time.Since(start)))
}

// LoadAll registers a job for every enabled definition. A definition that
// fails to register is logged and skipped. The error is only for a failed
// store read.
func (r *Registry) LoadAll(ctx context.Context) (int, error) {
	defs, err := r.store.ListEnabledSchedules(ctx)
	if err != nil {
		return 0, fmt.Errorf("load schedules: %w", err)
	}
	n := 0
	for _, d := range defs {
		r.mu.Lock()
		r.removeLocked(d.ID)
		err := r.addLocked(d)
		r.mu.Unlock()
		if err != nil {
			r.log.Error("schedule skipped",
				logx.Int64("id", d.ID),
				logx.String("name", d.Name),
				logx.String("spec", d.CronExpression),
				logx.Err(err),
			)
			continue
		}
		n++
	}
	r.log.Info("schedules loaded", logx.Int("registered", n), logx.Int("enabled", len(defs)))
	return n, nil
}

// Reload replaces whatever job exists for id with the current definition.
// Enabled → fresh job; disabled → paused; deleted → unregistered.
func (r *Registry) Reload(ctx context.Context, id int64) error {
	d, ok, err := r.store.GetSchedule(ctx, id)
	if err != nil {
		return fmt.Errorf("reload schedule %d: %w", id, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(id)

	switch {
	case !ok:
		delete(r.paused, id)
		r.log.Info("schedule unregistered", logx.Int64("id", id))
		return nil
	case !d.Enabled:
		r.paused[id] = struct{}{}
		r.log.Info("schedule paused", logx.Int64("id", id), logx.String("name", d.Name))
		return nil
	}

	if err := r.addLocked(d); err != nil {
		r.paused[id] = struct{}{}
		r.log.Error("schedule reload failed",
			logx.Int64("id", id),
			logx.String("name", d.Name),
			logx.String("spec", d.CronExpression),
			logx.Err(err),
		)
		return err
	}
	return nil
}

// Stop removes the job for id and reports whether one was removed. The id
// ends Paused while its row exists and Unregistered once it is deleted. A
// failed store read leaves a removed job Paused.
func (r *Registry) Stop(ctx context.Context, id int64) bool {
	_, exists, err := r.store.GetSchedule(ctx, id)
	if err != nil {
		r.log.Warn("stop: schedule lookup failed", logx.Int64("id", id), logx.Err(err))
		exists = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	removed := r.removeLocked(id)
	switch {
	case !exists:
		delete(r.paused, id)
		r.log.Info("schedule unregistered", logx.Int64("id", id), logx.Bool("removed", removed))
	case removed:
		r.paused[id] = struct{}{}
		r.log.Info("schedule stopped", logx.Int64("id", id))
	}
	return removed
}

// State reports the lifecycle state of id in this process.
func (r *Registry) State(id int64) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; ok {
		return Enabled
	}
	if _, ok := r.paused[id]; ok {
		return Paused
	}
	return Unregistered
}

// Jobs returns the active jobs sorted by ID.
func (r *Registry) Jobs() []JobInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now().In(r.loc)
	out := make([]JobInfo, 0, len(r.jobs))
	for id, j := range r.jobs {
		it := JobInfo{ID: id, Name: j.def.Name, Kind: j.def.Kind, Spec: j.def.CronExpression}
		e := r.c.Entry(j.entryID)
		it.Next, it.Prev = e.Next, e.Prev
		if it.Next.IsZero() {
			it.Next = j.sched.Next(now)
		}
		out = append(out, it)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

// RunNow executes the job body for id synchronously through the guard, as a
// tick would. Disabled definitions can be run this way too.
func (r *Registry) RunNow(ctx context.Context, id int64) (guard.Outcome, error) {
	d, ok, err := r.store.GetSchedule(ctx, id)
	if err != nil {
		return guard.Failed, fmt.Errorf("run schedule %d: %w", id, err)
	}
	if !ok {
		return guard.Failed, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if !d.Kind.Valid() {
		return guard.Failed, fmt.Errorf("%w: %q", ErrInvalidKind, d.Kind)
	}
	// A bad expression still runs; only nextRun is left empty.
	sched, _ := r.parser.Parse(d.CronExpression)
	return r.guard.RunExclusive(ctx, JobName(d.ID), r.body(d, sched)), nil
}

// JobName is the guard slot for schedule id.
func JobName(id int64) string {
	return fmt.Sprintf("schedule#%d", id)
}

func (r *Registry) addLocked(d domain.ScheduleDefinition) error {
	if !d.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, d.Kind)
	}
	spec := strings.TrimSpace(d.CronExpression)
	if spec == "" {
		return fmt.Errorf("%w: empty", ErrInvalidCron)
	}
	sched, err := r.parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCron, err)
	}

	name := JobName(d.ID)
	body := r.body(d, sched)
	eid := r.c.Schedule(sched, cron.FuncJob(func() {
		r.guard.RunExclusive(r.handlerContext(), name, body)
	}))
	r.jobs[d.ID] = &job{def: d, sched: sched, entryID: eid}
	delete(r.paused, d.ID)

	r.log.Debug("schedule registered",
		logx.Int64("id", d.ID),
		logx.String("name", d.Name),
		logx.String("kind", d.Kind.String()),
		logx.String("spec", spec),
		logx.Time("next", sched.Next(r.now().In(r.loc))),
	)
	return nil
}

func (r *Registry) removeLocked(id int64) bool {
	j, ok := r.jobs[id]
	if !ok {
		return false
	}
	r.c.Remove(j.entryID)
	delete(r.jobs, id)
	return true
}

func (r *Registry) handlerContext() context.Context {
	r.mu.Lock()
	ctx := r.baseCtx
	r.mu.Unlock()
	return ctx
}

// body is what runs inside the guard on every tick.
func (r *Registry) body(d domain.ScheduleDefinition, sched cron.Schedule) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		now := r.now().In(r.loc)
		var next time.Time
		if sched != nil {
			next = sched.Next(now)
		}
		if err := r.store.UpdateScheduleRun(ctx, d.ID, now, next); err != nil {
			r.log.Warn("run bookkeeping failed", logx.Int64("id", d.ID), logx.Err(err))
		}
		if r.runner == nil {
			return nil
		}
		res, err := r.runner.Run(ctx, d.Kind)
		if err != nil {
			return err
		}
		r.log.Info("schedule ran",
			logx.Int64("id", d.ID),
			logx.String("name", d.Name),
			logx.Int("total", res.Total),
			logx.Int("sent", res.Sent),
			logx.Int("failed", res.Failed),
		)
		return nil
	}
}

// cronLogger routes robfig/cron's own messages into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
