package engine

import (
	"context"
	"signalbot/internal/models"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcileAlignsStoreWithBroker(t *testing.T) {
	h := newHarness(t, testEngineConfig(), nil)
	ctx := context.Background()

	gone := models.TradeRecord{Ticket: 1, Symbol: testSymbol, Direction: models.DirectionLong, Volume: 0.1, OpenPrice: 2000, OpenTime: testNow.Add(-time.Hour), Status: models.TradeStatusOpen}
	drifted := models.TradeRecord{Ticket: 2, Symbol: testSymbol, Direction: models.DirectionShort, Volume: 0.2, OpenPrice: 2010, StopLoss: 2020, Status: models.TradeStatusOpen,
		Extra: map[string]any{models.ExtraPartialCloseDone: true}}
	require.NoError(t, h.store.SaveOpenTrade(ctx, gone))
	require.NoError(t, h.store.SaveOpenTrade(ctx, drifted))

	h.broker.addPosition(models.Position{Ticket: 2, Symbol: testSymbol, Direction: models.DirectionShort, Volume: 0.1, OpenPrice: 2010, StopLoss: 2015})
	h.broker.addPosition(models.Position{Ticket: 3, Symbol: "EURUSD", Direction: models.DirectionLong, Volume: 1, OpenPrice: 1.08, OpenTime: testNow})
	h.broker.deals = []models.Deal{
		{Ticket: 10, PositionTicket: 1, Symbol: testSymbol, Entry: models.DealEntryIn, Commission: -1, Time: testNow.Add(-time.Hour)},
		{Ticket: 11, PositionTicket: 1, Symbol: testSymbol, Entry: models.DealEntryOut, Price: 2010, Profit: 100, Reason: models.DealReasonTP, Time: testNow.Add(-time.Minute)},
	}
	baseline := h.store.mutations()

	res, err := h.engine.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{Closed: 1, Inserted: 1, Updated: 1, Restored: 1}, res)

	closed, _ := h.store.get(1)
	assert.Equal(t, models.TradeStatusClosed, closed.Status)
	assert.Equal(t, 2010.0, closed.ClosePrice)
	assert.Equal(t, 99.0, closed.Profit)

	synced, _ := h.store.get(2)
	assert.Equal(t, 2015.0, synced.StopLoss)
	assert.Equal(t, 0.1, synced.Volume)
	assert.True(t, h.engine.partial[2])

	inserted, ok := h.store.get(3)
	require.True(t, ok)
	assert.Equal(t, reconciledComment, inserted.Comment)
	assert.Equal(t, models.TradeStatusOpen, inserted.Status)

	require.NotEmpty(t, h.notifier.messages)
	assert.True(t, strings.Contains(h.notifier.messages[0], "тейк-профит"))

	afterFirst := h.store.mutations()
	assert.Equal(t, baseline+3, afterFirst)

	again, err := h.engine.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Mutations())
	assert.Zero(t, again.Restored)
	assert.Equal(t, afterFirst, h.store.mutations())
}

func TestReconcileRebuildsKnownTickets(t *testing.T) {
	h := newHarness(t, testEngineConfig(), nil)
	h.broker.addPosition(models.Position{Ticket: 8, Symbol: testSymbol, Direction: models.DirectionLong, Volume: 0.1})

	_, err := h.engine.Reconcile(context.Background())
	require.NoError(t, err)

	st := h.engine.symbol(testSymbol)
	assert.True(t, st.tracked)
	assert.Equal(t, map[int64]bool{8: true}, st.known)
}

func TestCloseReasonIsAdvisory(t *testing.T) {
	assert.Equal(t, "стоп-лосс", closeReason(models.DealReasonSL))
	assert.Equal(t, "тейк-профит", closeReason(models.DealReasonTP))
	assert.Equal(t, "вручную", closeReason(models.DealReasonClient))
}
