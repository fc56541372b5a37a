package config

import (
	"strconv"
	"strings"
)

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Reminders RemindersConfig `json:"reminders"`
	Notify    NotifyConfig    `json:"notify"`
	Storage   StorageConfig   `json:"storage"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// AdminUserIDs may manage events but not the recurring rule.
	AdminUserIDs []int64 `json:"admin_user_ids,omitempty"`
	GroupLog     string  `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

// GroupLogChatID returns the numeric chat id of group_log, or 0 when unset or invalid.
func (t TelegramConfig) GroupLogChatID() int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(t.GroupLog), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// RemindersConfig describes where reminders go and how they read.
//
// Text templates:
//   - primary_text, secondary_text: "{mention}" is replaced by Mention.
//   - event_text: "{name}" and "{lead}" (minutes) are replaced.
type RemindersConfig struct {
	ChatID        int64  `json:"chat_id"`
	ThreadID      int    `json:"thread_id,omitempty"`
	Mention       string `json:"mention,omitempty"`
	PrimaryText   string `json:"primary_text,omitempty"`
	SecondaryText string `json:"secondary_text,omitempty"`
	EventText     string `json:"event_text,omitempty"`
	// Timezone is an IANA name used to render times back to users. Matching
	// and storage are always UTC.
	Timezone string `json:"timezone,omitempty"`
	// DispatchRecordMax bounds the in-memory sent-reminder record.
	DispatchRecordMax int `json:"dispatch_record_max,omitempty"`
}

// NotifyConfig bounds outbound sends.
type NotifyConfig struct {
	RatePerSec int `json:"rate_per_sec,omitempty"`
	// SendTimeout is a Go duration string. Default "10s".
	SendTimeout string `json:"send_timeout,omitempty"`
}

// StorageConfig selects the persistence backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./abyssbot.db" }
type StorageConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path,omitempty"`
	// DSN is used by the postgres driver; DATABASE_URL overrides it.
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}
