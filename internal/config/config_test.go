package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "safenotify/pkg/logx"
)

const sampleYAML = `
logging:
  level: info
  console: true
scheduler:
  timezone: Asia/Seoul
storage:
  driver: sqlite
  path: ./data/safenotify.db
  busy_timeout: 5s
mailer:
  driver: log
dispatch:
  concurrency: 8
  defaults:
    baseUrl: https://safety.example.com
  template_cache_ttl: 1m
ledger:
  dedup_window: 24h
reminders:
  inspection_lead_days: 2
seed:
  templates:
    - kind: EDUCATION_REMINDER
      subject: "Reminder: {{courseName}}"
      content: "<p>{{userName}}</p>"
  schedules:
    - id: 1
      name: daily education
      cron: "0 9 * * *"
      kind: EDUCATION_REMINDER
    - id: 2
      name: tbm
      cron: "30 7 * * 1-5"
      kind: TBM_REMINDER
      enabled: false
`

func TestDecodeYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("config.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))

	assert.True(t, cfg.Scheduler.IsEnabled())
	assert.Equal(t, "Asia/Seoul", cfg.Scheduler.Timezone)
	assert.Equal(t, 8, cfg.Dispatch.Concurrency)
	assert.Equal(t, "https://safety.example.com", cfg.Dispatch.Defaults["baseUrl"])
	require.Len(t, cfg.Seed.Schedules, 2)
	assert.True(t, cfg.Seed.Schedules[0].IsEnabled())
	assert.False(t, cfg.Seed.Schedules[1].IsEnabled())
	assert.True(t, cfg.Seed.Templates[0].IsEnabled())
}

func TestDecodeStrict(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		file string
		data string
	}{
		{"unknown json key", "c.json", `{"logging":{"level":"info"},"telegram":{}}`},
		{"trailing json", "c.json", `{"logging":{}} {"logging":{}}`},
		{"unknown yaml key", "c.yml", "mailer:\n  driver: log\n  smtp_host: x\n"},
		{"bad yaml", "c.yaml", "logging: [\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode(tc.file, []byte(tc.data))
			require.Error(t, err)
		})
	}
}

func TestDecodeExpandsSecrets(t *testing.T) {
	t.Setenv("SAFENOTIFY_TEST_KEY", "re_secret")
	cfg, err := Decode("c.json", []byte(`{"mailer":{"driver":"resend","api_key":"${SAFENOTIFY_TEST_KEY}","from_email":"desk@example.com"}}`))
	require.NoError(t, err)
	assert.Equal(t, "re_secret", cfg.Mailer.APIKey)
	require.NoError(t, Validate(cfg))
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults ok", func(c *Config) {}, ""},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad timezone", func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, "scheduler.timezone"},
		{"sqlite without path", func(c *Config) { c.Storage.Driver = "sqlite" }, "storage.path"},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = "postgres" }, "storage.dsn"},
		{"unknown storage", func(c *Config) { c.Storage.Driver = "mongo" }, "storage.driver"},
		{"bad busy timeout", func(c *Config) { c.Storage.BusyTimeout = "soon" }, "storage.busy_timeout"},
		{"resend without key", func(c *Config) { c.Mailer = MailerConfig{Driver: "resend", FromEmail: "a@b"} }, "mailer.api_key"},
		{"unknown mailer", func(c *Config) { c.Mailer.Driver = "smtp" }, "mailer.driver"},
		{"negative window", func(c *Config) { c.Ledger.DedupWindow = "-1h" }, "ledger.dedup_window"},
		{"bad template kind", func(c *Config) {
			c.Seed.Templates = []SeedTemplate{{Kind: "LEGACY"}}
		}, "seed.templates[0]"},
		{"duplicate template kind", func(c *Config) {
			c.Seed.Templates = []SeedTemplate{{Kind: "TBM_REMINDER"}, {Kind: "tbm_reminder"}}
		}, "duplicate kind"},
		{"schedule without cron", func(c *Config) {
			c.Seed.Schedules = []SeedSchedule{{ID: 1, Name: "x", Kind: "TBM_REMINDER"}}
		}, "cron is required"},
		{"duplicate schedule id", func(c *Config) {
			c.Seed.Schedules = []SeedSchedule{
				{ID: 1, Name: "a", Cron: "@daily", Kind: "TBM_REMINDER"},
				{ID: 1, Name: "b", Cron: "@daily", Kind: "TBM_REMINDER"},
			}
		}, "duplicate id"},
		{"bad cron syntax is accepted", func(c *Config) {
			c.Seed.Schedules = []SeedSchedule{{ID: 1, Name: "a", Cron: "61 * * * *", Kind: "TBM_REMINDER"}}
		}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{}
			tc.mutate(cfg)
			err := Validate(cfg)
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalid)
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()
	oldCfg, err := Decode("c.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	newCfg, err := Decode("c.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	assert.True(t, Diff(oldCfg, newCfg).Empty())

	newCfg.Logging.Level = "debug"
	newCfg.Mailer.APIKey = "re_new"
	newCfg.Seed.Schedules = newCfg.Seed.Schedules[:1]
	ch := Diff(oldCfg, newCfg)
	assert.Equal(t, []string{"logging", "mailer", "seed"}, ch.Sections)
	assert.Equal(t, []string{"mailer"}, ch.Restart)

	assert.Equal(t, []int64{2}, RemovedSchedules(oldCfg, newCfg))
	assert.Empty(t, RemovedSchedules(nil, newCfg))
}

func TestDurations(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("x", "", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, d)

	d, err = ParseDurationOrDefault("x", "90s", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	_, err = ParseDurationField("ledger.dedup_window", "a day")
	require.ErrorContains(t, err, "ledger.dedup_window")
}

func TestManagerLoadAndWatch(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "safenotify.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"logging":{"level":"info"}}`), 0o644))

	m := NewManager(path, logx.Nop())
	m.SetValidator(Validator)
	m.debounce = 20 * time.Millisecond

	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Same(t, cfg, m.Get())

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)

	// Rejected by the validator: nothing is published.
	require.NoError(t, os.WriteFile(path, []byte(`{"logging":{"level":"shouty"}}`), 0o644))
	select {
	case got := <-sub:
		t.Fatalf("unexpected publish: %+v", got.Logging)
	case <-time.After(300 * time.Millisecond):
	}
	assert.Equal(t, "info", m.Get().Logging.Level)

	require.NoError(t, os.WriteFile(path, []byte(`{"logging":{"level":"debug"}}`), 0o644))
	select {
	case got := <-sub:
		assert.Equal(t, "debug", got.Logging.Level)
	case <-time.After(3 * time.Second):
		t.Fatal("config reload was not published")
	}
	assert.Equal(t, "debug", m.Get().Logging.Level)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "c.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"storage":{"driver":"mongo"}}`), 0o644))
	m := NewManager(path, logx.Nop())
	m.SetValidator(Validator)
	_, err := m.Load()
	require.ErrorIs(t, err, ErrInvalid)
	assert.Nil(t, m.Get())
}
