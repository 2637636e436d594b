package config

import (
	"reflect"
	"strings"

	logx "safenotify/pkg/logx"
)

// Change summarizes a reload.
type Change struct {
	Sections []string    // changed top-level sections
	Fields   []logx.Field // safe attrs for logging; never includes secrets
	// Restart lists sections whose new values only take effect after restart.
	Restart []string
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// Diff compares two configs section by section.
func Diff(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	mark := func(section string, restart bool, fields ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		ch.Fields = append(ch.Fields, fields...)
		if restart {
			ch.Restart = append(ch.Restart, section)
		}
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		mark("logging", false,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Scheduler.IsEnabled() != newCfg.Scheduler.IsEnabled() ||
		strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) {
		mark("scheduler", true,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.IsEnabled()),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		mark("storage", true,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.String("storage.path", newCfg.Storage.Path),
			logx.Bool("storage.dsn_set", strings.TrimSpace(newCfg.Storage.DSN) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Mailer, newCfg.Mailer) {
		mark("mailer", true,
			logx.String("mailer.driver", newCfg.Mailer.Driver),
			logx.String("mailer.from_email", newCfg.Mailer.FromEmail),
			logx.Bool("mailer.api_key_set", strings.TrimSpace(newCfg.Mailer.APIKey) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Dispatch, newCfg.Dispatch) {
		// Defaults apply live; concurrency and cache TTL are fixed at construction.
		restart := oldCfg.Dispatch.Concurrency != newCfg.Dispatch.Concurrency ||
			strings.TrimSpace(oldCfg.Dispatch.TemplateCacheTTL) != strings.TrimSpace(newCfg.Dispatch.TemplateCacheTTL)
		mark("dispatch", restart,
			logx.Int("dispatch.concurrency", newCfg.Dispatch.Concurrency),
			logx.Int("dispatch.defaults", len(newCfg.Dispatch.Defaults)),
		)
	}

	if strings.TrimSpace(oldCfg.Ledger.DedupWindow) != strings.TrimSpace(newCfg.Ledger.DedupWindow) {
		mark("ledger", true, logx.String("ledger.dedup_window", newCfg.Ledger.DedupWindow))
	}

	if oldCfg.Reminders != newCfg.Reminders {
		mark("reminders", false, logx.Int("reminders.inspection_lead_days", newCfg.Reminders.InspectionLeadDays))
	}

	if !reflect.DeepEqual(oldCfg.Seed, newCfg.Seed) {
		mark("seed", false,
			logx.Int("seed.templates", len(newCfg.Seed.Templates)),
			logx.Int("seed.schedules", len(newCfg.Seed.Schedules)),
		)
	}
	return ch
}

// RemovedSchedules returns seed schedule IDs present in oldCfg but not in newCfg.
func RemovedSchedules(oldCfg, newCfg *Config) []int64 {
	if oldCfg == nil {
		return nil
	}
	keep := map[int64]bool{}
	if newCfg != nil {
		for _, s := range newCfg.Seed.Schedules {
			keep[s.ID] = true
		}
	}
	var out []int64
	for _, s := range oldCfg.Seed.Schedules {
		if !keep[s.ID] {
			out = append(out, s.ID)
		}
	}
	return out
}
