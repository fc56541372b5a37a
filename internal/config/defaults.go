package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	DefaultPrimaryText   = "{mention}, Abyss will start in 15 minutes!"
	DefaultSecondaryText = "Round 2 of Abyss will start in 15 minutes!"
	DefaultEventText     = "⏰ Reminder: <b>{name}</b> starts in {lead} minutes!"

	DefaultDispatchRecordMax = 300
	DefaultSendTimeout       = 10 * time.Second
	DefaultPollTimeout       = 10 * time.Second
	DefaultBusyTimeout       = 5 * time.Second
	DefaultNotifyRatePerSec  = 1
)

// ApplyEnv fills secrets from the environment. Environment values win over the
// file so tokens can stay out of config.
func ApplyEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	if v := strings.TrimSpace(os.Getenv("TELEGRAM_TOKEN")); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		cfg.Storage.DSN = v
	}
}

// Validate checks the fields that would make the bot misbehave at runtime.
// It is also used as the hot-reload validator.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is empty (set it or TELEGRAM_TOKEN)"))
	}
	if len(cfg.Telegram.OwnerUserIDs) == 0 {
		errs = append(errs, errors.New("telegram.owner_user_ids must list at least one user"))
	}
	if _, err := cfg.Telegram.PollWait(); err != nil {
		errs = append(errs, err)
	}
	if cfg.Reminders.ChatID == 0 {
		errs = append(errs, errors.New("reminders.chat_id is required"))
	}
	if tz := strings.TrimSpace(cfg.Reminders.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("reminders.timezone: %w", err))
		}
	}
	if cfg.Reminders.DispatchRecordMax < 0 {
		errs = append(errs, errors.New("reminders.dispatch_record_max must be >= 0"))
	}
	if cfg.Notify.RatePerSec < 0 {
		errs = append(errs, errors.New("notify.rate_per_sec must be >= 0"))
	}
	if _, err := cfg.Notify.SendWait(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "file", "sqlite":
	case "postgres", "postgresql", "pg":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			errs = append(errs, errors.New("storage.dsn is required for postgres (or DATABASE_URL)"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	if _, err := cfg.Storage.BusyWait(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Location returns the display location, UTC when unset or invalid.
func (r RemindersConfig) Location() *time.Location {
	tz := strings.TrimSpace(r.Timezone)
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (r RemindersConfig) PrimaryTemplate() string {
	return orDefault(r.PrimaryText, DefaultPrimaryText)
}
func (r RemindersConfig) SecondaryTemplate() string {
	return orDefault(r.SecondaryText, DefaultSecondaryText)
}
func (r RemindersConfig) EventTemplate() string { return orDefault(r.EventText, DefaultEventText) }

func (r RemindersConfig) RecordMax() int {
	if r.DispatchRecordMax <= 0 {
		return DefaultDispatchRecordMax
	}
	return r.DispatchRecordMax
}

func (t TelegramConfig) PollWait() (time.Duration, error) {
	return waitField("telegram.poll_timeout", t.PollTimeout, DefaultPollTimeout)
}

func (n NotifyConfig) SendWait() (time.Duration, error) {
	return waitField("notify.send_timeout", n.SendTimeout, DefaultSendTimeout)
}

func (s StorageConfig) BusyWait() (time.Duration, error) {
	return waitField("storage.busy_timeout", s.BusyTimeout, DefaultBusyTimeout)
}

// waitField reads a Go duration such as "15s". Blank or zero yields def.
func waitField(key, raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %q is not a duration like \"15s\"", key, raw)
	case d < 0:
		return 0, fmt.Errorf("%s: %s is negative", key, d)
	case d == 0:
		return def, nil
	}
	return d, nil
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
