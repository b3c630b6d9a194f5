package engine

import (
	"context"
	"signalbot/internal/config"
	"signalbot/internal/models"
	"time"

	"github.com/sirupsen/logrus"
)

func (e *Engine) onNewBar(ctx context.Context, cfg config.EngineConfig, st *symbolState, symbol string, info models.SymbolInfo, tick models.Tick, positions []models.Position, candles []models.Candle, cycle *cycleInfo) error {
	mc := e.marketContext(cfg, symbol, info, tick, positions, candles, cycle)
	sig := e.decide(ctx, mc)
	st.lastSignal = sig

	entry := e.componentEntry("engine", symbol).WithFields(logrus.Fields{
		"action":     sig.Action,
		"confidence": sig.Confidence,
		"tag":        sig.Tag,
	})
	entry.Debug("Получен сигнал.")

	switch sig.Action {
	case models.ActionBuy, models.ActionSell:
		if sig.Confidence < cfg.MinConfidence {
			entry.Debug("Уверенность ниже порога, сигнал пропущен.")
			return nil
		}
		dir := sig.Action.Direction()
		if len(positions) == 0 {
			e.openPosition(ctx, cfg, st, symbol, dir, sig, tick)
			return nil
		}
		opposite := filterDirection(positions, dir.Opposite())
		if len(opposite) > 0 {
			// reversal closes only; a new entry waits for a later bar
			e.closeExposure(ctx, st, opposite, sig)
		}
	case models.ActionHold:
		if sig.StopLoss == nil {
			return nil
		}
		for i := range positions {
			p := &positions[i]
			candidate := roundToPoint(*sig.StopLoss, info)
			if improvesStop(p.Direction, p.StopLoss, candidate) && stopOnCorrectSide(p.Direction, candidate, tick) {
				e.applyStop(ctx, p, candidate, "signal")
			}
		}
	}
	return nil
}

// decide never fails: provider errors, panics and timeouts become HOLD with
// zero confidence.
func (e *Engine) decide(ctx context.Context, mc models.MarketContext) (sig models.Signal) {
	if e.rt.SignalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.rt.SignalTimeout)
		defer cancel()
	}
	entry := e.componentEntry("signal", mc.Symbol).WithField("provider", e.signals.Name())
	defer func() {
		if r := recover(); r != nil {
			entry.WithField("panic", r).Error("Паника в провайдере сигналов.")
			sig = models.HoldSignal()
		}
	}()

	sig, err := e.signals.Decide(ctx, mc)
	if err != nil {
		entry.WithError(err).Warn("Провайдер сигналов вернул ошибку, считаем HOLD.")
		return models.HoldSignal()
	}
	switch sig.Action {
	case models.ActionBuy, models.ActionSell, models.ActionHold:
		return sig
	default:
		entry.WithField("action", sig.Action).Warn("Неизвестное действие, считаем HOLD.")
		return models.HoldSignal()
	}
}

func (e *Engine) marketContext(cfg config.EngineConfig, symbol string, info models.SymbolInfo, tick models.Tick, positions []models.Position, candles []models.Candle, cycle *cycleInfo) models.MarketContext {
	mc := models.MarketContext{
		Timestamp:  e.now(),
		Symbol:     symbol,
		Timeframe:  cfg.Timeframe,
		Price:      tick.Bid,
		Candles:    candles,
		Direction:  models.DirectionFlat,
		OpenTrades: len(cycle.positions),
		DailyPnL:   cycle.risk.DailyPnL,
		Equity:     cycle.account.Equity,
		Balance:    cycle.account.Balance,
		Meta: map[string]any{
			"session_id": e.session,
			"point":      info.Point,
			"digits":     info.Digits,
			"ask":        tick.Ask,
		},
	}
	if cycle.risk.DailyPnL < 0 {
		mc.DailyDrawdown = -cycle.risk.DailyPnL
	}
	if len(positions) > 0 {
		// the oldest position defines the exposure the provider sees
		first := positions[0]
		for _, p := range positions[1:] {
			if p.OpenTime.Before(first.OpenTime) {
				first = p
			}
		}
		mc.Direction = first.Direction
		mc.EntryPrice = first.OpenPrice
		mc.BarsHeld = barsSince(candles, first.OpenTime)
	}
	return mc
}

func barsSince(candles []models.Candle, t time.Time) int {
	n := 0
	for _, c := range candles {
		if !c.Time.Before(t) {
			n++
		}
	}
	return n
}

func filterDirection(positions []models.Position, dir models.Direction) []models.Position {
	var out []models.Position
	for _, p := range positions {
		if p.Direction == dir {
			out = append(out, p)
		}
	}
	return out
}
