package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"
	_ "time/tzdata"

	"github.com/alecthomas/kong"

	"safenotify/internal/app"
	"safenotify/internal/domain"
	"safenotify/internal/guard"
)

type cli struct {
	Config string `help:"Path to the config file (JSON or YAML)." default:"./config.yaml" type:"path" env:"SAFENOTIFY_CONFIG"`

	Serve     serveCmd     `cmd:"" default:"withargs" help:"Run the scheduler until interrupted."`
	Run       runCmd       `cmd:"" help:"Fire one schedule now through the overlap guard."`
	Schedules schedulesCmd `cmd:"" help:"List schedule definitions with state and next run."`
	History   historyCmd   `cmd:"" help:"Show recent send log entries."`
	Preview   previewCmd   `cmd:"" help:"Render a template without sending."`
}

func main() {
	var c cli
	kctx := kong.Parse(&c,
		kong.Name("safenotify"),
		kong.Description("Scheduled safety-compliance email notifications."),
		kong.UsageOnError(),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	kctx.BindTo(ctx, (*context.Context)(nil))
	kctx.FatalIfErrorf(kctx.Run(&c))
}

// open builds the app for a one-shot command; the returned func releases it.
func (c *cli) open(ctx context.Context) (*app.App, func(), error) {
	a, err := app.NewApp(ctx, c.Config)
	if err != nil {
		return nil, nil, err
	}
	return a, func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(stopCtx, app.StopAppStop)
	}, nil
}

type serveCmd struct{}

func (serveCmd) Run(ctx context.Context, c *cli) error {
	a, err := app.NewApp(ctx, c.Config)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return err
	}

	reason := app.StopSIGTERM
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = app.StopFatalError
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.Stop(stopCtx, reason)
	return a.Err()
}

type runCmd struct {
	ID int64 `help:"Schedule ID." required:""`
}

func (r runCmd) Run(ctx context.Context, c *cli) error {
	a, closeFn, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	out, err := a.RunNow(ctx, r.ID)
	if err != nil {
		return err
	}
	fmt.Printf("schedule %d: %s\n", r.ID, out)
	if out == guard.Failed {
		return fmt.Errorf("schedule %d failed", r.ID)
	}
	return nil
}

type schedulesCmd struct{}

func (schedulesCmd) Run(ctx context.Context, c *cli) error {
	a, closeFn, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	if _, err := a.LoadSchedules(ctx); err != nil {
		return err
	}
	list, err := a.Schedules(ctx)
	if err != nil {
		return err
	}
	loc := a.Registry().Location()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tKIND\tCRON\tSTATE\tLAST RUN\tNEXT RUN")
	for _, s := range list {
		last := "-"
		if s.Def.LastRun != nil {
			last = s.Def.LastRun.In(loc).Format(time.DateTime)
		}
		next := "-"
		if !s.Next.IsZero() {
			next = s.Next.In(loc).Format(time.DateTime)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n", s.Def.ID, s.Def.Name, s.Def.Kind, s.Def.CronExpression, s.State, last, next)
	}
	return w.Flush()
}

type historyCmd struct {
	Limit int `help:"Number of entries to show." default:"20"`
}

func (h historyCmd) Run(ctx context.Context, c *cli) error {
	a, closeFn, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	logs, err := a.History(ctx, h.Limit)
	if err != nil {
		return err
	}
	loc := a.Registry().Location()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SENT AT\tKIND\tRECIPIENT\tSTATUS\tSUBJECT\tERROR")
	for _, e := range logs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.SentAt.In(loc).Format(time.DateTime), e.Kind, e.RecipientEmail, e.Status, e.Subject, e.ErrorMessage)
	}
	return w.Flush()
}

type previewCmd struct {
	Kind string            `help:"Notification kind, e.g. EDUCATION_REMINDER." required:""`
	Var  map[string]string `help:"Template variable (repeatable)." placeholder:"KEY=VALUE"`
}

func (p previewCmd) Run(ctx context.Context, c *cli) error {
	kind, err := domain.ParseKind(p.Kind)
	if err != nil {
		return err
	}
	a, closeFn, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	pv, err := a.Preview(ctx, kind, p.Var)
	if err != nil {
		return err
	}
	if !pv.Enabled {
		fmt.Println("note: template is disabled; runs would record failures")
	}
	fmt.Printf("Subject: %s\n\n%s\n\n", pv.Subject, pv.HTML)
	if len(pv.Tokens) > 0 {
		tokens := append([]string(nil), pv.Tokens...)
		sort.Strings(tokens)
		fmt.Printf("variables: %s\n", strings.Join(tokens, ", "))
	}
	fmt.Printf("recipients now: %d\n", len(pv.Recipients))
	for _, r := range pv.Recipients {
		fmt.Printf("  %s <%s>\n", r.Name, r.Email)
	}
	return nil
}
