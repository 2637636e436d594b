package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"safenotify/internal/domain"
	logx "safenotify/pkg/logx"
)

var ErrInvalid = errors.New("invalid config")

// Validate checks everything that can be checked without opening
// connections. Cron expressions are only checked for presence; their syntax
// is the registry's concern so one bad schedule never rejects a whole file.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalid)
	}
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if lvl := strings.TrimSpace(cfg.Logging.Level); lvl != "" && !logx.ValidLevel(lvl) {
		add("logging.level: unknown level %q", lvl)
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add("scheduler.timezone: %v", err)
		}
	}

	switch d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); d {
	case "", "memory":
	case "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			add("storage.path is required for sqlite")
		}
	case "postgres", "postgresql", "pg":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			add("storage.dsn is required for postgres")
		}
	default:
		add("storage.driver: unknown driver %q", d)
	}
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		errs = append(errs, err)
	}
	if cfg.Storage.MaxConns < 0 {
		add("storage.max_conns must be >= 0")
	}

	switch d := strings.ToLower(strings.TrimSpace(cfg.Mailer.Driver)); d {
	case "", "log":
	case "resend":
		if strings.TrimSpace(cfg.Mailer.APIKey) == "" {
			add("mailer.api_key is required for resend")
		}
		if strings.TrimSpace(cfg.Mailer.FromEmail) == "" {
			add("mailer.from_email is required for resend")
		}
	default:
		add("mailer.driver: unknown driver %q", d)
	}
	if cfg.Mailer.RatePerSec < 0 {
		add("mailer.rate_per_sec must be >= 0")
	}

	if cfg.Dispatch.Concurrency < 0 {
		add("dispatch.concurrency must be >= 0")
	}
	if _, err := ParseDurationField("dispatch.template_cache_ttl", cfg.Dispatch.TemplateCacheTTL); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("ledger.dedup_window", cfg.Ledger.DedupWindow); err != nil {
		errs = append(errs, err)
	}
	if cfg.Reminders.InspectionLeadDays < 0 {
		add("reminders.inspection_lead_days must be >= 0")
	}

	kinds := map[domain.Kind]bool{}
	for i, t := range cfg.Seed.Templates {
		k, err := domain.ParseKind(t.Kind)
		if err != nil {
			add("seed.templates[%d]: %v", i, err)
			continue
		}
		if kinds[k] {
			add("seed.templates[%d]: duplicate kind %s", i, k)
		}
		kinds[k] = true
	}
	ids := map[int64]bool{}
	for i, s := range cfg.Seed.Schedules {
		if s.ID <= 0 {
			add("seed.schedules[%d]: id must be > 0", i)
		} else if ids[s.ID] {
			add("seed.schedules[%d]: duplicate id %d", i, s.ID)
		}
		ids[s.ID] = true
		if strings.TrimSpace(s.Name) == "" {
			add("seed.schedules[%d]: name is required", i)
		}
		if strings.TrimSpace(s.Cron) == "" {
			add("seed.schedules[%d]: cron is required", i)
		}
		if _, err := domain.ParseKind(s.Kind); err != nil {
			add("seed.schedules[%d]: %v", i, err)
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

// Validator adapts Validate to Manager.SetValidator.
func Validator(ctx context.Context, cfg *Config) error { return Validate(cfg) }
