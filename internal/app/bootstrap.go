package app

import (
	"context"

	"abyssbot/internal/config"
	"abyssbot/internal/dispatch"
	"abyssbot/internal/notify"
	kit "abyssbot/internal/transport"
	logx "abyssbot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapNotifyConfig(cfg *config.Config) (notify.Config, error) {
	timeout, err := cfg.Notify.SendWait()
	if err != nil {
		return notify.Config{}, err
	}
	rps := cfg.Notify.RatePerSec
	if rps <= 0 {
		rps = config.DefaultNotifyRatePerSec
	}
	return notify.Config{RatePerSec: rps, SendTimeout: timeout}, nil
}

func mapDispatchConfig(cfg *config.Config) dispatch.Config {
	r := cfg.Reminders
	return dispatch.Config{
		Target:        kit.ChatTarget{ChatID: r.ChatID, ThreadID: r.ThreadID},
		Mention:       r.Mention,
		PrimaryText:   r.PrimaryTemplate(),
		SecondaryText: r.SecondaryTemplate(),
		EventText:     r.EventTemplate(),
		RecordMax:     r.RecordMax(),
	}
}

// logSender adapts the chat adapter to logx.SendFunc. Log lines are plain text.
func logSender(ad kit.Adapter) logx.SendFunc {
	return func(ctx context.Context, chatID int64, threadID int, text string) error {
		_, err := ad.SendText(ctx, kit.ChatTarget{ChatID: chatID, ThreadID: threadID}, text, &kit.SendOptions{DisablePreview: true})
		return err
	}
}
