package engine

import (
	"context"
	"errors"
	"fmt"
	"signalbot/internal/config"
	"signalbot/internal/models"
	"signalbot/internal/store"

	"github.com/sirupsen/logrus"
)

// processSymbol runs one symbol's share of a cycle: maintenance of open
// positions first, then signal handling when a new bar has formed.
func (e *Engine) processSymbol(ctx context.Context, cfg config.EngineConfig, symbol string, cycle *cycleInfo) error {
	st := e.symbol(symbol)

	tick, err := e.broker.Tick(ctx, symbol)
	if err != nil {
		return fmt.Errorf("Не удалось получить котировку: %w", err)
	}
	info, err := e.broker.SymbolInfo(ctx, symbol)
	if err != nil {
		return fmt.Errorf("Не удалось получить параметры символа: %w", err)
	}
	positions, err := e.broker.OpenPositions(ctx, symbol)
	if err != nil {
		return fmt.Errorf("Не удалось получить позиции: %w", err)
	}
	st.price = tick.Bid

	switch {
	case !st.tracked:
		st.remember(positions)
	case st.drifted(positions):
		e.componentEntry("reconcile", symbol).WithFields(logrus.Fields{
			"known":  len(st.known),
			"broker": len(positions),
		}).Info("Обнаружено расхождение позиций, запускаем сверку.")
		if _, err := e.Reconcile(ctx); err != nil {
			e.componentEntry("reconcile", symbol).WithError(err).Warn("Сверка не выполнена.")
			st.remember(positions)
		}
	}

	if len(positions) == 0 {
		st.clearTrailing()
	}
	if cfg.TrailingEnabled && len(positions) > 0 {
		e.trail(ctx, cfg, st, info, tick, positions)
	}
	if cfg.PartialCloseEnabled && len(positions) > 0 {
		e.partialClose(ctx, cfg, info, tick, positions)
	}

	candles, err := e.broker.Candles(ctx, symbol, cfg.Timeframe, e.rt.HistoryBars)
	if err != nil {
		return fmt.Errorf("Не удалось получить свечи: %w", err)
	}
	if !st.observeBar(candles) {
		return nil
	}
	return e.onNewBar(ctx, cfg, st, symbol, info, tick, positions, candles, cycle)
}

// applyStop moves the broker stop and mirrors it in the store. Failures are
// logged; the next cycle naturally retries.
func (e *Engine) applyStop(ctx context.Context, p *models.Position, stop float64, reason string) bool {
	entry := e.componentEntry("position", p.Symbol).WithFields(logrus.Fields{
		"ticket": p.Ticket,
		"from":   p.StopLoss,
		"to":     stop,
		"reason": reason,
	})
	if err := e.broker.ModifyStopLoss(ctx, p.Ticket, stop); err != nil {
		entry.WithError(err).Warn("Не удалось передвинуть стоп.")
		return false
	}
	p.StopLoss = stop
	if err := e.store.UpdateTrade(ctx, p.Ticket, store.TradeUpdate{StopLoss: &stop}); err != nil && !errors.Is(err, store.ErrNotFound) {
		entry.WithError(err).Warn("Не удалось сохранить стоп.")
	}
	entry.Info("Стоп передвинут.")
	return true
}
