package engine

import (
	"context"
	"fmt"
	"math"
	"signalbot/internal/models"
	"signalbot/internal/store"
	"time"

	"github.com/sirupsen/logrus"
)

const reconciledComment = "reconciled"

type ReconcileResult struct {
	Closed   int
	Inserted int
	Updated  int
	Restored int
}

func (r ReconcileResult) Mutations() int {
	return r.Closed + r.Inserted + r.Updated
}

// Reconcile aligns the store with the broker's open positions across all
// symbols. Running it twice without a broker change mutates nothing the
// second time.
func (e *Engine) Reconcile(ctx context.Context) (ReconcileResult, error) {
	var res ReconcileResult
	entry := e.componentEntry("reconcile", "")

	records, err := e.store.ActiveTrades(ctx)
	if err != nil {
		return res, fmt.Errorf("Не удалось прочитать открытые сделки: %w", err)
	}
	positions, err := withRetry(ctx, e, "positions", func() ([]models.Position, error) {
		return e.broker.OpenPositions(ctx, "")
	})
	if err != nil {
		return res, fmt.Errorf("Не удалось получить позиции: %w", err)
	}

	live := make(map[int64]models.Position, len(positions))
	for _, p := range positions {
		live[p.Ticket] = p
	}
	stored := make(map[int64]bool, len(records))

	for _, rec := range records {
		stored[rec.Ticket] = true
		pos, ok := live[rec.Ticket]
		if !ok {
			if err := e.closeMissing(ctx, rec); err != nil {
				e.ticketEntry("reconcile", rec.Symbol, rec.Ticket).WithError(err).Warn("Не удалось закрыть сделку в хранилище.")
				continue
			}
			res.Closed++
			continue
		}

		if rec.PartiallyClosed() && !e.partial[rec.Ticket] {
			e.partial[rec.Ticket] = true
			res.Restored++
		}
		if upd := driftUpdate(rec, pos); !upd.Empty() {
			if err := e.store.UpdateTrade(ctx, rec.Ticket, upd); err != nil {
				e.ticketEntry("reconcile", rec.Symbol, rec.Ticket).WithError(err).Warn("Не удалось синхронизировать сделку.")
				continue
			}
			res.Updated++
		}
	}

	for _, p := range positions {
		if stored[p.Ticket] {
			continue
		}
		if err := e.store.SaveOpenTrade(ctx, recordFromPosition(p, e.now())); err != nil {
			e.ticketEntry("reconcile", p.Symbol, p.Ticket).WithError(err).Warn("Не удалось добавить позицию в хранилище.")
			continue
		}
		res.Inserted++
		e.ticketEntry("reconcile", p.Symbol, p.Ticket).Info("Позиция брокера добавлена в хранилище.")
	}

	for ticket := range e.partial {
		if _, ok := live[ticket]; !ok {
			delete(e.partial, ticket)
		}
	}
	e.rememberAll(positions)

	entry.WithFields(logrus.Fields{
		"closed":   res.Closed,
		"inserted": res.Inserted,
		"updated":  res.Updated,
		"restored": res.Restored,
	}).Info("Сверка завершена.")
	return res, nil
}

func (e *Engine) rememberAll(positions []models.Position) {
	bySymbol := map[string][]models.Position{}
	for _, p := range positions {
		bySymbol[p.Symbol] = append(bySymbol[p.Symbol], p)
	}
	for symbol := range e.symbols {
		if _, ok := bySymbol[symbol]; !ok {
			bySymbol[symbol] = nil
		}
	}
	for symbol, list := range bySymbol {
		e.symbol(symbol).remember(list)
	}
}

// closeMissing marks a record closed using the broker's closing deals. The
// inferred reason only feeds the alert text.
func (e *Engine) closeMissing(ctx context.Context, rec models.TradeRecord) error {
	now := e.now()
	from := rec.OpenTime.Add(-time.Minute)
	if rec.OpenTime.IsZero() {
		from = now.Add(-e.rt.PartialLookback)
	}

	var closePrice, profit float64
	reason := "неизвестна"
	deals, err := e.broker.ClosedTrades(ctx, from, now, rec.Symbol)
	if err != nil {
		e.componentEntry("reconcile", rec.Symbol).WithError(err).Warn("История сделок недоступна, закрываем без цены.")
	} else {
		var last *models.Deal
		for i := range deals {
			d := deals[i]
			if d.PositionTicket != rec.Ticket {
				continue
			}
			profit += d.NetProfit()
			if d.Entry == models.DealEntryOut && (last == nil || !d.Time.Before(last.Time)) {
				last = &deals[i]
			}
		}
		if last != nil {
			closePrice = last.Price
			reason = closeReason(last.Reason)
		}
	}

	if err := e.store.CloseTrade(ctx, rec.Ticket, closePrice, profit); err != nil {
		return err
	}
	e.componentEntry("reconcile", rec.Symbol).WithFields(logrus.Fields{
		"ticket": rec.Ticket,
		"price":  closePrice,
		"profit": profit,
		"reason": reason,
	}).Info("Сделка закрыта у брокера, отмечаем в хранилище.")
	e.alert(ctx, fmt.Sprintf("%s #%d закрыта (%s). Цена %s, результат %.2f.",
		rec.Symbol, rec.Ticket, reason, formatFloatPlain(closePrice), profit))
	return nil
}

func closeReason(r models.DealReason) string {
	switch r {
	case models.DealReasonSL:
		return "стоп-лосс"
	case models.DealReasonTP:
		return "тейк-профит"
	case models.DealReasonStopOut:
		return "стоп-аут"
	case models.DealReasonExpert:
		return "робот"
	default:
		return "вручную"
	}
}

func driftUpdate(rec models.TradeRecord, pos models.Position) store.TradeUpdate {
	var upd store.TradeUpdate
	if differs(rec.StopLoss, pos.StopLoss) {
		sl := pos.StopLoss
		upd.StopLoss = &sl
	}
	if differs(rec.TakeProfit, pos.TakeProfit) {
		tp := pos.TakeProfit
		upd.TakeProfit = &tp
	}
	if differs(rec.Volume, pos.Volume) {
		vol := pos.Volume
		upd.Volume = &vol
	}
	return upd
}

func differs(a, b float64) bool {
	return math.Abs(a-b) > 1e-9
}

func recordFromPosition(p models.Position, now time.Time) models.TradeRecord {
	openTime := p.OpenTime
	if openTime.IsZero() {
		openTime = now
	}
	return models.TradeRecord{
		Ticket:     p.Ticket,
		Symbol:     p.Symbol,
		Direction:  p.Direction,
		Volume:     p.Volume,
		OpenPrice:  p.OpenPrice,
		OpenTime:   openTime,
		StopLoss:   p.StopLoss,
		TakeProfit: p.TakeProfit,
		Status:     models.TradeStatusOpen,
		Magic:      p.Magic,
		Comment:    reconciledComment,
	}
}
