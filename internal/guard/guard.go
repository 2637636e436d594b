// Package guard prevents overlapping executions of the same named job.
//
// The guard is a membership set, not a queue: a name is present while its
// handler runs and absent otherwise. A second RunExclusive for a name that is
// present returns immediately without calling its handler. Different names
// never wait on each other. The guard is in-process only.
package guard

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	logx "safenotify/pkg/logx"
)

// Outcome reports what RunExclusive did with the handler.
type Outcome int

const (
	// Ran means the handler was admitted and returned nil.
	Ran Outcome = iota
	// Skipped means another run with the same name was in progress.
	Skipped
	// Failed means the handler was admitted and returned an error or panicked.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Ran:
		return "ran"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

type Guard struct {
	log logx.Logger

	mu      sync.Mutex
	running map[string]time.Time // name -> started
}

func New(log logx.Logger) *Guard {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Guard{log: log, running: map[string]time.Time{}}
}

// RunExclusive runs handler unless name is already running.
//
// Handler errors and panics are logged and reported through the Outcome; they
// never propagate, and the name is always released when handler returns.
func (g *Guard) RunExclusive(ctx context.Context, name string, handler func(ctx context.Context) error) Outcome {
	if ctx == nil {
		ctx = context.Background()
	}
	started, ok := g.tryEnter(name)
	if !ok {
		g.log.Info("skip: already running", logx.String("job", name))
		return Skipped
	}
	defer g.exit(name)

	err := runRecover(ctx, handler)
	took := time.Since(started)
	if err != nil {
		g.log.Error("job failed", logx.String("job", name), logx.Duration("took", took), logx.Err(err))
		return Failed
	}
	g.log.Debug("job done", logx.String("job", name), logx.Duration("took", took))
	return Ran
}

func runRecover(ctx context.Context, handler func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	if handler == nil {
		return nil
	}
	return handler(ctx)
}

func (g *Guard) tryEnter(name string) (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.running[name]; busy {
		return time.Time{}, false
	}
	now := time.Now()
	g.running[name] = now
	return now, true
}

func (g *Guard) exit(name string) {
	g.mu.Lock()
	delete(g.running, name)
	g.mu.Unlock()
}

// Running reports whether a handler for name is executing right now.
func (g *Guard) Running(name string) bool {
	g.mu.Lock()
	_, ok := g.running[name]
	g.mu.Unlock()
	return ok
}

// Names returns the currently running job names, sorted.
func (g *Guard) Names() []string {
	g.mu.Lock()
	out := make([]string, 0, len(g.running))
	for n := range g.running {
		out = append(out, n)
	}
	g.mu.Unlock()
	sort.Strings(out)
	return out
}
