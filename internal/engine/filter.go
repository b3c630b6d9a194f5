package engine

import (
	"context"
	"fmt"
	"signalbot/internal/config"

	"github.com/sirupsen/logrus"
)

// Admits gates opening a new position on symbol. Open positions are never
// affected. A spread equal to the ceiling is admitted.
func (e *Engine) Admits(ctx context.Context, symbol string, cfg config.EngineConfig) bool {
	entry := e.componentEntry("filter", symbol)

	if cfg.MaxSpread > 0 {
		info, err := e.broker.SymbolInfo(ctx, symbol)
		if err != nil {
			entry.WithError(err).Warn("Нет параметров символа, вход отклонён.")
			return false
		}
		tick, err := e.broker.Tick(ctx, symbol)
		if err != nil {
			entry.WithError(err).Warn("Нет котировки, вход отклонён.")
			return false
		}
		spread := spreadPoints(tick, info.Point)
		if spread > cfg.MaxSpread {
			entry.WithFields(logrus.Fields{
				"spread":     spread,
				"max_spread": cfg.MaxSpread,
			}).Warn("Спред выше допустимого, вход отклонён.")
			e.alert(ctx, fmt.Sprintf("%s: спред %s п. выше лимита %s п., вход пропущен.",
				symbol, formatFloatPlain(spread), formatFloatPlain(cfg.MaxSpread)))
			return false
		}
	}

	if cfg.NewsFilterEnabled && e.news != nil && !e.news.IsTradingAllowed(ctx, e.now()) {
		entry.Info("Новостное окно, вход отклонён.")
		return false
	}
	return true
}
