package engine

import (
	"context"
	"fmt"
	"signalbot/internal/config"
	"signalbot/internal/models"
	"signalbot/internal/store"
	"strings"

	"github.com/sirupsen/logrus"
)

// partialCloseComment marks partial close deals in broker history.
const partialCloseComment = "Partial Close"

// partialClose takes part of the profit once per ticket and moves the rest
// to break-even.
func (e *Engine) partialClose(ctx context.Context, cfg config.EngineConfig, info models.SymbolInfo, tick models.Tick, positions []models.Position) {
	for i := range positions {
		p := &positions[i]
		if e.partial[p.Ticket] {
			continue
		}
		if profitPoints(p.Direction, p.OpenPrice, exitPrice(p.Direction, tick), info.Point) < cfg.PartialTrigger {
			continue
		}

		entry := e.ticketEntry("position", p.Symbol, p.Ticket)

		done, err := e.partialInHistory(ctx, p)
		if err != nil {
			entry.WithError(err).Warn("Не удалось проверить историю частичных закрытий.")
			continue
		}
		if done {
			entry.Info("Частичное закрытие уже выполнялось, отмечаем.")
			e.markPartial(ctx, p.Ticket, nil, nil)
			continue
		}

		volume := floorToStep(p.Volume*cfg.PartialPercent/100, info.VolumeStep)
		if volume <= 0 || volume < info.VolumeMin || volume >= p.Volume {
			entry.WithFields(logrus.Fields{
				"volume":     p.Volume,
				"close":      volume,
				"volume_min": info.VolumeMin,
			}).Debug("Объём частичного закрытия недопустим, пропуск.")
			continue
		}

		if err := e.broker.ClosePosition(ctx, p.Ticket, volume, partialCloseComment); err != nil {
			entry.WithError(err).Error("Частичное закрытие не выполнено.")
			e.alert(ctx, fmt.Sprintf("%s #%d: частичное закрытие не выполнено: %v", p.Symbol, p.Ticket, err))
			continue
		}
		remaining := subtractVolume(p.Volume, volume)

		// the close already happened, so marking must survive cancellation
		markCtx := context.WithoutCancel(ctx)
		var stop *float64
		if err := sleepCtx(ctx, e.rt.SettleDelay); err == nil && improvesStop(p.Direction, p.StopLoss, p.OpenPrice) {
			if err := e.broker.ModifyStopLoss(ctx, p.Ticket, p.OpenPrice); err != nil {
				entry.WithError(err).Error("Не удалось перенести стоп в безубыток.")
				e.alert(markCtx, fmt.Sprintf("%s #%d: частично закрыта, но стоп не перенесён в безубыток. Проверьте стоп вручную.", p.Symbol, p.Ticket))
			} else {
				be := p.OpenPrice
				stop = &be
				p.StopLoss = be
			}
		}
		e.markPartial(markCtx, p.Ticket, stop, &remaining)
		p.Volume = remaining

		entry.WithFields(logrus.Fields{
			"closed":    volume,
			"remaining": remaining,
			"sl":        p.StopLoss,
		}).Info("Частичное закрытие выполнено.")
		e.alert(markCtx, fmt.Sprintf("%s #%d: закрыто %s лота, остаток %s.",
			p.Symbol, p.Ticket, formatFloatPlain(volume), formatFloatPlain(remaining)))
	}
}

func (e *Engine) partialInHistory(ctx context.Context, p *models.Position) (bool, error) {
	now := e.now()
	deals, err := e.broker.ClosedTrades(ctx, now.Add(-e.rt.PartialLookback), now, p.Symbol)
	if err != nil {
		return false, err
	}
	for _, d := range deals {
		if d.PositionTicket == p.Ticket && strings.Contains(d.Comment, partialCloseComment) {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) markPartial(ctx context.Context, ticket int64, stop, volume *float64) {
	e.partial[ticket] = true
	upd := store.TradeUpdate{
		StopLoss: stop,
		Volume:   volume,
		Extra:    map[string]any{models.ExtraPartialCloseDone: true},
	}
	if err := e.store.UpdateTrade(ctx, ticket, upd); err != nil {
		e.ticketEntry("position", "", ticket).WithError(err).Warn("Не удалось сохранить отметку частичного закрытия.")
	}
}
