package engine

import (
	"context"
	"errors"
	"signalbot/internal/broker"
	"signalbot/internal/config"
	"signalbot/internal/logger"
	"signalbot/internal/models"
	"signalbot/internal/store"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testSymbol = "XAUUSD"

var testNow = time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

type closeCall struct {
	ticket  int64
	volume  float64
	comment string
}

type modifyCall struct {
	ticket int64
	stop   float64
}

type fakeBroker struct {
	mu         sync.Mutex
	connected  bool
	connectErr error
	account    models.Account
	infos      map[string]models.SymbolInfo
	ticks      map[string]models.Tick
	candles    map[string][]models.Candle
	positions  []models.Position
	deals      []models.Deal
	placeErr   error
	placeHook  func(ctx context.Context)
	closeErr   error
	modifyErr  error
	nextTicket int64

	placed   []broker.OrderRequest
	closes   []closeCall
	modifies []modifyCall
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		connected: true,
		account:   models.Account{Balance: 10000, Equity: 10000, Currency: "USD"},
		infos: map[string]models.SymbolInfo{
			testSymbol: {Symbol: testSymbol, Point: 0.01, Digits: 2, ContractSize: 100, VolumeMin: 0.01, VolumeMax: 50, VolumeStep: 0.01},
		},
		ticks: map[string]models.Tick{
			testSymbol: {Symbol: testSymbol, Bid: 2000.00, Ask: 2000.10, Time: testNow},
		},
		candles:    map[string][]models.Candle{testSymbol: barsEnding(testNow, 5)},
		nextTicket: 1000,
	}
}

func barsEnding(last time.Time, n int) []models.Candle {
	out := make([]models.Candle, n)
	for i := 0; i < n; i++ {
		t := last.Add(-time.Duration(n-1-i) * 15 * time.Minute)
		out[i] = models.Candle{Time: t, Open: 2000, High: 2001, Low: 1999, Close: 2000}
	}
	return out
}

func (f *fakeBroker) setTick(bid, ask float64) {
	f.mu.Lock()
	f.ticks[testSymbol] = models.Tick{Symbol: testSymbol, Bid: bid, Ask: ask, Time: testNow}
	f.mu.Unlock()
}

func (f *fakeBroker) addPosition(p models.Position) {
	f.mu.Lock()
	f.positions = append(f.positions, p)
	f.mu.Unlock()
}

func (f *fakeBroker) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeBroker) IsConnected(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeBroker) AccountInfo(context.Context) (models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.account, nil
}

func (f *fakeBroker) SymbolInfo(_ context.Context, symbol string) (models.SymbolInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.infos[symbol]
	if !ok {
		return models.SymbolInfo{}, errors.New("unknown symbol")
	}
	return info, nil
}

func (f *fakeBroker) Tick(_ context.Context, symbol string) (models.Tick, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tick, ok := f.ticks[symbol]
	if !ok {
		return models.Tick{}, errors.New("no tick")
	}
	return tick, nil
}

func (f *fakeBroker) Candles(_ context.Context, symbol, _ string, _ int) ([]models.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Candle(nil), f.candles[symbol]...), nil
}

func (f *fakeBroker) OpenPositions(_ context.Context, symbol string) ([]models.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Position
	for _, p := range f.positions {
		if symbol == "" || p.Symbol == symbol {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeBroker) ClosedTrades(_ context.Context, _, _ time.Time, symbol string) ([]models.Deal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Deal
	for _, d := range f.deals {
		if symbol == "" || d.Symbol == symbol {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeBroker) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderResult, error) {
	if f.placeHook != nil {
		f.placeHook(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, req)
	if f.placeErr != nil {
		return broker.OrderResult{}, f.placeErr
	}
	f.nextTicket++
	tick := f.ticks[req.Symbol]
	price := tick.Ask
	if req.Direction == models.DirectionShort {
		price = tick.Bid
	}
	f.positions = append(f.positions, models.Position{
		Ticket:     f.nextTicket,
		Symbol:     req.Symbol,
		Direction:  req.Direction,
		Volume:     req.Volume,
		OpenPrice:  price,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		OpenTime:   testNow,
		Magic:      req.Magic,
	})
	return broker.OrderResult{Ticket: f.nextTicket, FillPrice: price, Volume: req.Volume}, nil
}

func (f *fakeBroker) ClosePosition(_ context.Context, ticket int64, volume float64, comment string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes = append(f.closes, closeCall{ticket: ticket, volume: volume, comment: comment})
	if f.closeErr != nil {
		return f.closeErr
	}
	for i, p := range f.positions {
		if p.Ticket != ticket {
			continue
		}
		if volume <= 0 || volume >= p.Volume {
			f.positions = append(f.positions[:i], f.positions[i+1:]...)
		} else {
			f.positions[i].Volume = subtractVolume(p.Volume, volume)
		}
		f.deals = append(f.deals, models.Deal{
			Ticket:         int64(len(f.deals) + 1),
			PositionTicket: ticket,
			Symbol:         p.Symbol,
			Entry:          models.DealEntryOut,
			Volume:         volume,
			Comment:        comment,
			Time:           testNow,
		})
		return nil
	}
	return broker.ErrPositionNotFound
}

func (f *fakeBroker) ModifyStopLoss(_ context.Context, ticket int64, stop float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.modifies = append(f.modifies, modifyCall{ticket: ticket, stop: stop})
	if f.modifyErr != nil {
		return f.modifyErr
	}
	for i := range f.positions {
		if f.positions[i].Ticket == ticket {
			f.positions[i].StopLoss = stop
			return nil
		}
	}
	return broker.ErrPositionNotFound
}

type fakeStore struct {
	mu      sync.Mutex
	records map[int64]models.TradeRecord
	saves   int
	updates int
	closes  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: map[int64]models.TradeRecord{}}
}

func (s *fakeStore) mutations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves + s.updates + s.closes
}

func (s *fakeStore) get(ticket int64) (models.TradeRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[ticket]
	return rec, ok
}

func (s *fakeStore) SaveOpenTrade(_ context.Context, rec models.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	rec.Status = models.TradeStatusOpen
	s.records[rec.Ticket] = rec
	return nil
}

func (s *fakeStore) UpdateTrade(_ context.Context, ticket int64, upd store.TradeUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[ticket]
	if !ok {
		return store.ErrNotFound
	}
	s.updates++
	if upd.StopLoss != nil {
		rec.StopLoss = *upd.StopLoss
	}
	if upd.TakeProfit != nil {
		rec.TakeProfit = *upd.TakeProfit
	}
	if upd.Volume != nil {
		rec.Volume = *upd.Volume
	}
	if len(upd.Extra) > 0 {
		extra := map[string]any{}
		for k, v := range rec.Extra {
			extra[k] = v
		}
		for k, v := range upd.Extra {
			extra[k] = v
		}
		rec.Extra = extra
	}
	s.records[ticket] = rec
	return nil
}

func (s *fakeStore) CloseTrade(_ context.Context, ticket int64, closePrice, profit float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[ticket]
	if !ok {
		return store.ErrNotFound
	}
	if rec.Status == models.TradeStatusClosed {
		return nil
	}
	s.closes++
	rec.Status = models.TradeStatusClosed
	rec.ClosePrice = closePrice
	rec.Profit = profit
	closed := testNow
	rec.CloseTime = &closed
	s.records[ticket] = rec
	return nil
}

func (s *fakeStore) ActiveTrades(context.Context) ([]models.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.TradeRecord
	for _, rec := range s.records {
		if rec.Status == models.TradeStatusOpen {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *fakeStore) TradeHistory(_ context.Context, limit int) ([]models.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.TradeRecord
	for _, rec := range s.records {
		if len(out) >= limit {
			break
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *fakeStore) Close() error { return nil }

type fakeProvider struct {
	mu    sync.Mutex
	fn    func(mc models.MarketContext) (models.Signal, error)
	calls int
	last  models.MarketContext
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Decide(_ context.Context, mc models.MarketContext) (models.Signal, error) {
	p.mu.Lock()
	p.calls++
	p.last = mc
	fn := p.fn
	p.mu.Unlock()
	if fn == nil {
		return models.HoldSignal(), nil
	}
	return fn(mc)
}

func signalOf(sig models.Signal) *fakeProvider {
	return &fakeProvider{fn: func(models.MarketContext) (models.Signal, error) { return sig, nil }}
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *fakeNotifier) SendAlert(_ context.Context, message string) error {
	n.mu.Lock()
	n.messages = append(n.messages, message)
	n.mu.Unlock()
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

type fakeNews struct {
	mu      sync.Mutex
	allowed bool
	enabled bool
	buffer  time.Duration
}

func (n *fakeNews) IsTradingAllowed(context.Context, time.Time) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.allowed
}

func (n *fakeNews) SetEnabled(enabled bool) {
	n.mu.Lock()
	n.enabled = enabled
	n.mu.Unlock()
}

func (n *fakeNews) SetBuffer(buffer time.Duration) {
	n.mu.Lock()
	n.buffer = buffer
	n.mu.Unlock()
}

type fakeSink struct {
	mu        sync.Mutex
	snapshots []models.StatusSnapshot
}

func (s *fakeSink) Publish(snap models.StatusSnapshot) {
	s.mu.Lock()
	s.snapshots = append(s.snapshots, snap)
	s.mu.Unlock()
}

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		Symbols:      []string{testSymbol},
		Timeframe:    "M15",
		SizingPolicy: config.SizingFixed,
		LotSize:      0.10,
		MaxSpread:    50,
		Magic:        777,
		Deviation:    20,
	}
}

func testRuntime() config.RuntimeConfig {
	return config.RuntimeConfig{
		Retry:           config.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2},
		LoopInterval:    time.Millisecond,
		ErrorDelay:      time.Millisecond,
		ReconnectDelay:  time.Millisecond,
		SignalTimeout:   time.Second,
		HistoryBars:     50,
		PartialLookback: 30 * 24 * time.Hour,
		RecentTrades:    10,
	}
}

type harness struct {
	engine   *Engine
	broker   *fakeBroker
	store    *fakeStore
	provider *fakeProvider
	notifier *fakeNotifier
	news     *fakeNews
	sink     *fakeSink
}

func newHarness(t *testing.T, cfg config.EngineConfig, provider *fakeProvider) *harness {
	t.Helper()
	if provider == nil {
		provider = &fakeProvider{}
	}
	h := &harness{
		broker:   newFakeBroker(),
		store:    newFakeStore(),
		provider: provider,
		notifier: &fakeNotifier{},
		news:     &fakeNews{allowed: true},
		sink:     &fakeSink{},
	}
	e, err := New(Deps{
		Broker:   h.broker,
		Signals:  provider,
		Store:    h.store,
		News:     h.news,
		Notifier: h.notifier,
		Status:   h.sink,
		Logger:   logger.Discard(),
	}, cfg, testRuntime())
	require.NoError(t, err)
	e.now = func() time.Time { return testNow }
	h.engine = e
	return h
}

func ptr(v float64) *float64 {
	return &v
}
