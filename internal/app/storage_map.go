package app

import (
	"fmt"
	"strings"
	"time"

	"safenotify/internal/config"
	"safenotify/internal/dispatch"
	"safenotify/internal/ledger"
	"safenotify/internal/mailer"
	"safenotify/internal/mailer/resend"
	"safenotify/internal/reminder"
	"safenotify/internal/storage"
	logx "safenotify/pkg/logx"
)

const (
	defaultBusyTimeout      = 5 * time.Second
	defaultTemplateCacheTTL = time.Minute
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, defaultBusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(sc.Path),
		DSN:         strings.TrimSpace(sc.DSN),
		BusyTimeout: busy,
		MaxConns:    sc.MaxConns,
	}, nil
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	ttl, err := config.ParseDurationOrDefault("dispatch.template_cache_ttl", cfg.Dispatch.TemplateCacheTTL, defaultTemplateCacheTTL)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{
		Concurrency:      cfg.Dispatch.Concurrency,
		Defaults:         cfg.Dispatch.Defaults,
		TemplateCacheTTL: ttl,
	}, nil
}

func mapLedgerWindow(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("ledger.dedup_window", cfg.Ledger.DedupWindow, ledger.DefaultWindow)
}

func mapReminderOptions(cfg *config.Config, loc *time.Location) reminder.Options {
	return reminder.Options{
		InspectionLeadDays: cfg.Reminders.InspectionLeadDays,
		Location:           loc,
	}
}

// newSender builds the configured transport behind the rate limiter.
func newSender(cfg *config.Config, log logx.Logger) (mailer.Sender, error) {
	mc := cfg.Mailer
	var inner mailer.Sender
	switch d := strings.ToLower(strings.TrimSpace(mc.Driver)); d {
	case "", "log":
		inner = mailer.NewLogSender(log)
	case "resend":
		s, err := resend.New(resend.Config{
			APIKey:      mc.APIKey,
			SenderEmail: mc.FromEmail,
			SenderName:  mc.FromName,
		})
		if err != nil {
			return nil, err
		}
		inner = s
	default:
		return nil, fmt.Errorf("unknown mailer.driver: %s", d)
	}
	return mailer.NewLimited(inner, mc.RatePerSec, mc.Burst), nil
}
