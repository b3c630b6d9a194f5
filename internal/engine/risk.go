package engine

import (
	"context"
	"errors"
	"fmt"
	"signalbot/internal/broker"
	"signalbot/internal/config"
	"signalbot/internal/models"
	"signalbot/internal/store"
	"time"
)

// RiskState is recomputed every cycle and never persisted.
type RiskState struct {
	Equity   float64
	Balance  float64
	Realized float64
	Floating float64
	DailyPnL float64
}

type RiskDecision struct {
	Halt   bool
	Reason string
}

// Evaluate applies the two independent circuit breakers. A zero limit
// disables its check.
func Evaluate(s RiskState, cfg config.EngineConfig) RiskDecision {
	if cfg.MinEquity > 0 && s.Equity < cfg.MinEquity {
		return RiskDecision{
			Halt:   true,
			Reason: fmt.Sprintf("Эквити %.2f ниже минимума %.2f", s.Equity, cfg.MinEquity),
		}
	}
	if cfg.MaxDailyLoss > 0 && s.DailyPnL < -cfg.MaxDailyLoss {
		return RiskDecision{
			Halt:   true,
			Reason: fmt.Sprintf("Дневной убыток %.2f превысил лимит %.2f", -s.DailyPnL, cfg.MaxDailyLoss),
		}
	}
	return RiskDecision{}
}

// loadCycle reads the account, all open positions and today's deals once per
// cycle.
func (e *Engine) loadCycle(ctx context.Context) (cycleInfo, error) {
	acc, err := withRetry(ctx, e, "account", func() (models.Account, error) {
		return e.broker.AccountInfo(ctx)
	})
	if err != nil {
		return cycleInfo{}, fmt.Errorf("Не удалось получить счёт: %w", err)
	}
	positions, err := withRetry(ctx, e, "positions", func() ([]models.Position, error) {
		return e.broker.OpenPositions(ctx, "")
	})
	if err != nil {
		return cycleInfo{}, fmt.Errorf("Не удалось получить позиции: %w", err)
	}
	now := e.now()
	deals, err := withRetry(ctx, e, "deals", func() ([]models.Deal, error) {
		return e.broker.ClosedTrades(ctx, startOfLocalDay(now), now, "")
	})
	if err != nil {
		return cycleInfo{}, fmt.Errorf("Не удалось получить историю сделок: %w", err)
	}
	return cycleInfo{
		account:   acc,
		positions: positions,
		risk:      dailyRisk(acc, positions, deals),
	}, nil
}

func dailyRisk(acc models.Account, positions []models.Position, deals []models.Deal) RiskState {
	s := RiskState{Equity: acc.Equity, Balance: acc.Balance}
	for _, d := range deals {
		s.Realized += d.NetProfit()
	}
	for _, p := range positions {
		s.Floating += p.Profit + p.Swap
	}
	s.DailyPnL = s.Realized + s.Floating
	return s
}

func startOfLocalDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// halt flattens every open position of every symbol. Each position gets one
// close request, retried only on failure.
func (e *Engine) halt(ctx context.Context, decision RiskDecision) {
	e.stop.Store(true)
	entry := e.componentEntry("risk", "")
	entry.WithField("reason", decision.Reason).Error("Риск-лимит нарушен, закрываем все позиции.")
	e.alert(ctx, fmt.Sprintf("РИСК-СТОП: %s. Все позиции закрываются, торговля остановлена.", decision.Reason))

	positions, err := withRetry(ctx, e, "positions", func() ([]models.Position, error) {
		return e.broker.OpenPositions(ctx, "")
	})
	if err != nil {
		entry.WithError(err).Error("Не удалось получить позиции для закрытия.")
		e.alert(ctx, "Не удалось получить позиции для закрытия, проверьте терминал вручную.")
		return
	}

	failed := 0
	for _, p := range positions {
		err := withRetryVoid(ctx, e, "close", func() error {
			err := e.broker.ClosePosition(ctx, p.Ticket, 0, "risk halt")
			if errors.Is(err, broker.ErrPositionNotFound) {
				return nil
			}
			return err
		})
		if err != nil {
			failed++
			e.ticketEntry("risk", p.Symbol, p.Ticket).WithError(err).Error("Не удалось закрыть позицию.")
			continue
		}
		if err := e.store.CloseTrade(ctx, p.Ticket, p.CurrentPrice, p.Profit+p.Swap); err != nil && !errors.Is(err, store.ErrNotFound) {
			e.ticketEntry("risk", p.Symbol, p.Ticket).WithError(err).Warn("Не удалось отметить закрытие в хранилище.")
		}
		delete(e.partial, p.Ticket)
		e.ticketEntry("risk", p.Symbol, p.Ticket).Info("Позиция закрыта по риск-стопу.")
	}
	if failed > 0 {
		e.alert(ctx, fmt.Sprintf("Не удалось закрыть позиций: %d. Требуется ручная проверка.", failed))
	}
}
