package notify

import (
	"context"
	"signalbot/internal/config"
	"signalbot/internal/logger"
)

type Notifier interface {
	SendAlert(ctx context.Context, message string) error
}

type Nop struct{}

func (Nop) SendAlert(context.Context, string) error { return nil }

// FromConfig returns a Telegram notifier when credentials are present and a
// no-op one otherwise.
func FromConfig(cfg config.NotifyConfig, log *logger.Logger) Notifier {
	if cfg.TelegramToken == "" || cfg.TelegramChatID == "" {
		log.WithComponent("notify").Info("Telegram не настроен, уведомления отключены.")
		return Nop{}
	}
	return NewTelegram(cfg.TelegramApiUrl, cfg.TelegramToken, cfg.TelegramChatID, cfg.SendTimeout)
}
