package config

import (
	"os"
	"strings"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   StorageConfig   `json:"storage"`
	Mailer    MailerConfig    `json:"mailer"`
	Dispatch  DispatchConfig  `json:"dispatch,omitempty"`
	Ledger    LedgerConfig    `json:"ledger,omitempty"`
	Reminders RemindersConfig `json:"reminders,omitempty"`

	// Seed stands in for the admin surface: its entries are upserted into the
	// store on start and on every accepted config change.
	Seed SeedConfig `json:"seed,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls cron triggering.
//
// Enabled is a pointer so an omitted key means "on".
type SchedulerConfig struct {
	Enabled  *bool  `json:"enabled,omitempty"`
	Timezone string `json:"timezone,omitempty"` // IANA name, empty = Local
}

func (s SchedulerConfig) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

// StorageConfig selects the persistence backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/safenotify.db", "busy_timeout": "5s" }
type StorageConfig struct {
	Driver      string `json:"driver"` // memory | sqlite | postgres
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`          // may reference env vars: "${DATABASE_URL}"
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	MaxConns    int32  `json:"max_conns,omitempty"`    // postgres pool size
}

// MailerConfig selects the transport.
type MailerConfig struct {
	Driver     string  `json:"driver"`            // log | resend
	APIKey     string  `json:"api_key,omitempty"` // may reference env vars: "${RESEND_API_KEY}" (never logged)
	FromEmail  string  `json:"from_email,omitempty"`
	FromName   string  `json:"from_name,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"` // 0 = unlimited
	Burst      int     `json:"burst,omitempty"`
}

type DispatchConfig struct {
	Concurrency      int               `json:"concurrency,omitempty"`
	Defaults         map[string]string `json:"defaults,omitempty"`
	TemplateCacheTTL string            `json:"template_cache_ttl,omitempty"` // "0s" disables
}

type LedgerConfig struct {
	DedupWindow string `json:"dedup_window,omitempty"` // default "24h"
}

type RemindersConfig struct {
	InspectionLeadDays int `json:"inspection_lead_days,omitempty"`
}

type SeedConfig struct {
	Templates []SeedTemplate `json:"templates,omitempty"`
	Schedules []SeedSchedule `json:"schedules,omitempty"`
}

type SeedTemplate struct {
	Kind    string `json:"kind"`
	Subject string `json:"subject"`
	Content string `json:"content"`
	Enabled *bool  `json:"enabled,omitempty"`
}

// SeedSchedule is identified by ID; removing it from the list deletes it.
type SeedSchedule struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Cron        string `json:"cron"`
	Kind        string `json:"kind"`
	Description string `json:"description,omitempty"`
	Enabled     *bool  `json:"enabled,omitempty"`
}

func (s SeedTemplate) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }
func (s SeedSchedule) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

// expandEnv resolves ${VAR} references in secret-bearing fields.
func (c *Config) expandEnv() {
	c.Storage.DSN = expand(c.Storage.DSN)
	c.Mailer.APIKey = expand(c.Mailer.APIKey)
}

func expand(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}
	return os.ExpandEnv(s)
}
