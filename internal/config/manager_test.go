package config

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

const sampleJSON = `{
  "telegram": {"token": "t", "owner_user_ids": [1], "group_log": "-100", "poll_timeout": "10s"},
  "logging": {"level": "info", "console": true},
  "reminders": {"chat_id": -42, "mention": "<@&9>"},
  "notify": {"send_timeout": "5s"},
  "storage": {"driver": "file", "path": "./data"}
}`

const sampleYAML = `
telegram:
  token: t
  owner_user_ids: [1]
  group_log: "-100"
reminders:
  chat_id: -42
storage:
  driver: sqlite
  path: ./abyssbot.db
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoadJSONAndYAML(t *testing.T) {
	tests := []struct {
		name   string
		file   string
		body   string
		driver string
	}{
		{"json", "config.json", sampleJSON, "file"},
		{"yaml", "config.yaml", sampleYAML, "sqlite"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TELEGRAM_TOKEN", "")
			t.Setenv("DATABASE_URL", "")
			m := NewManager(writeFile(t, tt.file, tt.body))
			cfg, err := m.Load()
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.Storage.Driver != tt.driver || cfg.Reminders.ChatID != -42 {
				t.Fatalf("unexpected cfg: %+v", cfg)
			}
			if cfg.Telegram.GroupLogChatID() != -100 {
				t.Fatalf("group log = %d", cfg.Telegram.GroupLogChatID())
			}
			if err := Validate(cfg); err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if m.Get() != cfg {
				t.Fatal("Get should return committed config")
			}
		})
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	m := NewManager(writeFile(t, "config.json", `{"telegram":{"token":"t"},"bogus":1}`))
	if _, err := m.Parse(); err == nil || !strings.Contains(err.Error(), "bogus") {
		t.Fatalf("Parse err = %v, want unknown field", err)
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	m := NewManager(writeFile(t, "config.json", `{} {}`))
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected trailing data error")
	}
}

func TestEnvOverridesSecrets(t *testing.T) {
	t.Setenv("TELEGRAM_TOKEN", "from-env")
	t.Setenv("DATABASE_URL", "postgres://x")
	m := NewManager(writeFile(t, "config.json", sampleJSON))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Telegram.Token != "from-env" || cfg.Storage.DSN != "postgres://x" {
		t.Fatalf("env not applied: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		return &Config{
			Telegram:  TelegramConfig{Token: "t", OwnerUserIDs: []int64{1}},
			Reminders: RemindersConfig{ChatID: 5},
		}
	}
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"ok", func(*Config) {}, ""},
		{"no token", func(c *Config) { c.Telegram.Token = "" }, "telegram.token"},
		{"no owners", func(c *Config) { c.Telegram.OwnerUserIDs = nil }, "owner_user_ids"},
		{"no chat", func(c *Config) { c.Reminders.ChatID = 0 }, "reminders.chat_id"},
		{"bad tz", func(c *Config) { c.Reminders.Timezone = "Mars/Base" }, "reminders.timezone"},
		{"bad timeout", func(c *Config) { c.Notify.SendTimeout = "soon" }, "notify.send_timeout"},
		{"pg without dsn", func(c *Config) { c.Storage.Driver = "postgres" }, "storage.dsn"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mongo" }, "unknown driver"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := base()
			tt.mutate(c)
			err := Validate(c)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestWaitFields(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{name: "blank", raw: "", want: DefaultSendTimeout},
		{name: "zero", raw: "0s", want: DefaultSendTimeout},
		{name: "set", raw: " 3s ", want: 3 * time.Second},
		{name: "negative", raw: "-1s", wantErr: true},
		{name: "garbage", raw: "soon", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := NotifyConfig{SendTimeout: tt.raw}.SendWait()
			if (err != nil) != tt.wantErr {
				t.Fatalf("SendWait(%q) err = %v", tt.raw, err)
			}
			if err != nil {
				if !strings.Contains(err.Error(), "notify.send_timeout") {
					t.Fatalf("error %q does not name the key", err)
				}
				return
			}
			if got != tt.want {
				t.Fatalf("SendWait(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
	if d, err := (StorageConfig{}).BusyWait(); err != nil || d != DefaultBusyTimeout {
		t.Fatalf("BusyWait = %v, %v", d, err)
	}
	if d, err := (TelegramConfig{PollTimeout: "30s"}).PollWait(); err != nil || d != 30*time.Second {
		t.Fatalf("PollWait = %v, %v", d, err)
	}
}

func TestPublishKeepsNewest(t *testing.T) {
	t.Parallel()
	m := NewManager("unused.json")
	ch := m.Subscribe(1)
	a, b := &Config{}, &Config{}
	m.publish(a)
	m.publish(b)
	if got := <-ch; got != b {
		t.Fatal("subscriber should see the newest config")
	}
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after Unsubscribe")
	}
}

func TestWatchPublishesOnChange(t *testing.T) {
	t.Setenv("TELEGRAM_TOKEN", "")
	t.Setenv("DATABASE_URL", "")
	path := writeFile(t, "config.json", sampleJSON)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	m.SetValidator(func(ctx context.Context, cfg *Config) error { return Validate(cfg) })
	ch := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	updated := strings.Replace(sampleJSON, `"chat_id": -42`, `"chat_id": -43`, 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case cfg := <-ch:
		if cfg.Reminders.ChatID != -43 {
			t.Fatalf("chat_id = %d", cfg.Reminders.ChatID)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no config published")
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	o := &Config{Storage: StorageConfig{Driver: "file"}, Telegram: TelegramConfig{Token: "secret"}}
	n := &Config{Storage: StorageConfig{Driver: "sqlite"}, Telegram: TelegramConfig{Token: "secret"}, Reminders: RemindersConfig{ChatID: 1}}
	changed, attrs, restart := SummarizeChange(o, n)
	if !slices.Equal(changed, []string{"reminders", "storage"}) {
		t.Fatalf("changed = %v", changed)
	}
	if !restart {
		t.Fatal("storage change should require restart")
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs")
	}
}
