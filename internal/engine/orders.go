package engine

import (
	"context"
	"errors"
	"fmt"
	"signalbot/internal/broker"
	"signalbot/internal/config"
	"signalbot/internal/models"
	"signalbot/internal/store"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const orderComment = "signalbot"

// openPosition places a market order for a flat symbol and records it. A
// failed order is alerted and left for a later bar.
func (e *Engine) openPosition(ctx context.Context, cfg config.EngineConfig, st *symbolState, symbol string, dir models.Direction, sig models.Signal, tick models.Tick) {
	entry := e.componentEntry("engine", symbol)
	if !e.Admits(ctx, symbol, cfg) {
		return
	}

	volume := e.Size(ctx, symbol, dir, sig.StopLoss, cfg)
	req := broker.OrderRequest{
		ClientID:   uuid.NewString(),
		Symbol:     symbol,
		Direction:  dir,
		Volume:     volume,
		StopLoss:   deref(sig.StopLoss),
		TakeProfit: deref(sig.TakeProfit),
		Deviation:  cfg.Deviation,
		Magic:      cfg.Magic,
		Comment:    orderComment,
	}
	entry = entry.WithFields(logrus.Fields{
		"client_id": req.ClientID,
		"direction": dir,
		"volume":    volume,
		"sl":        req.StopLoss,
		"tp":        req.TakeProfit,
	})
	entry.Info("Попытка ордера.")

	res, err := e.broker.PlaceOrder(ctx, req)
	if err != nil {
		entry.WithError(err).Error("Ордер отклонён.")
		e.alert(ctx, fmt.Sprintf("%s: ордер %s %s не выполнен: %v", symbol, dir, formatFloatPlain(volume), err))
		return
	}

	price := res.FillPrice
	if price <= 0 {
		price = entryPrice(dir, tick)
	}
	filled := res.Volume
	if filled <= 0 {
		filled = volume
	}
	rec := models.TradeRecord{
		Ticket:     res.Ticket,
		Symbol:     symbol,
		Direction:  dir,
		Volume:     filled,
		OpenPrice:  price,
		OpenTime:   e.now(),
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Status:     models.TradeStatusOpen,
		Magic:      cfg.Magic,
		Comment:    orderComment,
		Extra: map[string]any{
			"client_id":  req.ClientID,
			"signal_tag": sig.Tag,
			"confidence": sig.Confidence,
		},
	}
	st.known[res.Ticket] = true
	if err := e.store.SaveOpenTrade(ctx, rec); err != nil {
		entry.WithError(err).Error("Не удалось сохранить сделку.")
		e.alert(ctx, fmt.Sprintf("%s #%d открыта, но не сохранена: %v", symbol, res.Ticket, err))
	}

	entry.WithFields(logrus.Fields{"ticket": res.Ticket, "price": price}).Info("Позиция открыта.")
	e.alert(ctx, fmt.Sprintf("%s: открыта %s %s по %s (#%d).",
		symbol, dir, formatFloatPlain(filled), formatFloatPlain(price), res.Ticket))
}

// closeExposure fully closes positions opposite to the signal.
func (e *Engine) closeExposure(ctx context.Context, st *symbolState, positions []models.Position, sig models.Signal) {
	for _, p := range positions {
		entry := e.componentEntry("engine", p.Symbol).WithFields(logrus.Fields{
			"ticket": p.Ticket,
			"signal": sig.Action,
		})
		err := e.broker.ClosePosition(ctx, p.Ticket, 0, "reverse signal")
		if err != nil && !errors.Is(err, broker.ErrPositionNotFound) {
			entry.WithError(err).Error("Не удалось закрыть позицию по сигналу.")
			e.alert(ctx, fmt.Sprintf("%s #%d: закрытие по сигналу не выполнено: %v", p.Symbol, p.Ticket, err))
			continue
		}
		delete(st.known, p.Ticket)
		delete(st.extremes, p.Ticket)
		delete(e.partial, p.Ticket)
		if err := e.store.CloseTrade(ctx, p.Ticket, p.CurrentPrice, p.Profit+p.Swap); err != nil && !errors.Is(err, store.ErrNotFound) {
			entry.WithError(err).Warn("Не удалось отметить закрытие в хранилище.")
		}
		entry.Info("Позиция закрыта по противоположному сигналу.")
		e.alert(ctx, fmt.Sprintf("%s #%d закрыта по сигналу %s.", p.Symbol, p.Ticket, sig.Action))
	}
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
