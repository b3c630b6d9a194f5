package engine

import (
	"context"
	"signalbot/internal/config"
	"signalbot/internal/models"
)

// publishStatus builds the aggregate snapshot and hands it to the sink at
// most once per status interval. It never affects engine state.
func (e *Engine) publishStatus(ctx context.Context, cfg config.EngineConfig, cycle cycleInfo) {
	now := e.now()
	if !e.lastStatus.IsZero() && now.Sub(e.lastStatus) < e.rt.StatusInterval {
		return
	}
	e.lastStatus = now

	snap := models.StatusSnapshot{
		Time:        now,
		State:       string(e.State()),
		Balance:     cycle.account.Balance,
		Equity:      cycle.account.Equity,
		DailyPnL:    cycle.risk.DailyPnL,
		FloatingPnL: cycle.risk.Floating,
		Positions:   cycle.positions,
	}
	for i, symbol := range cfg.Symbols {
		st := e.symbol(symbol)
		status := models.SymbolStatus{
			Symbol:     symbol,
			Price:      st.price,
			Signal:     st.lastSignal.Action,
			Confidence: st.lastSignal.Confidence,
			LastBar:    st.lastBar,
		}
		if i == 0 {
			snap.Price = status.Price
			snap.Signal = status.Signal
			snap.Confidence = status.Confidence
		}
		snap.Symbols = append(snap.Symbols, status)
	}

	history, err := e.store.TradeHistory(ctx, e.rt.RecentTrades)
	if err != nil {
		e.logEntry().WithError(err).Warn("Не удалось получить историю сделок для статуса.")
	}
	snap.RecentTrades = history

	e.snapMu.Lock()
	e.snapshot = snap
	e.snapMu.Unlock()

	if e.status != nil {
		e.status.Publish(snap)
	}
}
