package config

import (
	"slices"
	"strings"

	logx "abyssbot/pkg/logx"
)

// SummarizeChange lists the sections that differ and log fields describing the
// new values. Secrets (token, dsn) are reported only as set/unset.
// restart is true when a changed section only takes effect after a restart.
func SummarizeChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, restart bool) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	o, n := oldCfg, newCfg

	if o.Telegram.Token != n.Telegram.Token ||
		strings.TrimSpace(o.Telegram.PollTimeout) != strings.TrimSpace(n.Telegram.PollTimeout) ||
		!slices.Equal(o.Telegram.OwnerUserIDs, n.Telegram.OwnerUserIDs) ||
		!slices.Equal(o.Telegram.AdminUserIDs, n.Telegram.AdminUserIDs) ||
		strings.TrimSpace(o.Telegram.GroupLog) != strings.TrimSpace(n.Telegram.GroupLog) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Int("telegram.owner_count", len(n.Telegram.OwnerUserIDs)),
			logx.Int("telegram.admin_count", len(n.Telegram.AdminUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(n.Telegram.GroupLog) != ""),
		)
		if o.Telegram.Token != n.Telegram.Token || o.Telegram.PollTimeout != n.Telegram.PollTimeout {
			restart = true
		}
	}

	if o.Logging != n.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", n.Logging.Level),
			logx.Bool("logging.console", n.Logging.Console),
			logx.Bool("logging.file_enabled", n.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", n.Logging.Telegram.Enabled),
		)
	}

	if o.Reminders != n.Reminders {
		changed = append(changed, "reminders")
		attrs = append(attrs,
			logx.Int64("reminders.chat_id", n.Reminders.ChatID),
			logx.Int("reminders.thread_id", n.Reminders.ThreadID),
			logx.String("reminders.timezone", n.Reminders.Timezone),
			logx.Int("reminders.dispatch_record_max", n.Reminders.RecordMax()),
		)
	}

	if o.Notify != n.Notify {
		changed = append(changed, "notify")
		attrs = append(attrs,
			logx.Int("notify.rate_per_sec", n.Notify.RatePerSec),
			logx.String("notify.send_timeout", n.Notify.SendTimeout),
		)
	}

	if o.Storage != n.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", n.Storage.Driver),
			logx.String("storage.path", n.Storage.Path),
			logx.Bool("storage.dsn_set", strings.TrimSpace(n.Storage.DSN) != ""),
		)
		restart = true
	}
	return changed, attrs, restart
}
