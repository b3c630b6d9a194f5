package broker

import (
	"context"
	"signalbot/internal/models"
	"sync"
	"time"
)

type Serialized struct {
	mu    sync.Mutex
	inner Gateway
}

var _ Gateway = (*Serialized)(nil)

// Serialize guarantees that at most one call reaches g at any moment.
func Serialize(g Gateway) *Serialized {
	if s, ok := g.(*Serialized); ok {
		return s
	}
	return &Serialized{inner: g}
}

func (s *Serialized) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Connect(ctx)
}

func (s *Serialized) IsConnected(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.IsConnected(ctx)
}

func (s *Serialized) AccountInfo(ctx context.Context) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.AccountInfo(ctx)
}

func (s *Serialized) SymbolInfo(ctx context.Context, symbol string) (models.SymbolInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.SymbolInfo(ctx, symbol)
}

func (s *Serialized) Tick(ctx context.Context, symbol string) (models.Tick, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Tick(ctx, symbol)
}

func (s *Serialized) Candles(ctx context.Context, symbol, timeframe string, count int) ([]models.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Candles(ctx, symbol, timeframe, count)
}

func (s *Serialized) OpenPositions(ctx context.Context, symbol string) ([]models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.OpenPositions(ctx, symbol)
}

func (s *Serialized) ClosedTrades(ctx context.Context, from, to time.Time, symbol string) ([]models.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.ClosedTrades(ctx, from, to, symbol)
}

func (s *Serialized) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.PlaceOrder(ctx, req)
}

func (s *Serialized) ClosePosition(ctx context.Context, ticket int64, volume float64, comment string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.ClosePosition(ctx, ticket, volume, comment)
}

func (s *Serialized) ModifyStopLoss(ctx context.Context, ticket int64, stop float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.ModifyStopLoss(ctx, ticket, stop)
}
