package broker

import (
	"context"
	"errors"
	"signalbot/internal/models"
	"time"
)

var ErrPositionNotFound = errors.New("позиция не найдена")

type OrderRequest struct {
	ClientID   string
	Symbol     string
	Direction  models.Direction
	Volume     float64
	StopLoss   float64
	TakeProfit float64
	Deviation  int
	Magic      int64
	Comment    string
}

type OrderResult struct {
	Ticket    int64
	FillPrice float64
	Volume    float64
}

// Gateway is the only path to the trading terminal. Implementations are not
// required to be safe for concurrent use; wrap them with Serialize.
type Gateway interface {
	Connect(ctx context.Context) error
	IsConnected(ctx context.Context) bool
	AccountInfo(ctx context.Context) (models.Account, error)
	SymbolInfo(ctx context.Context, symbol string) (models.SymbolInfo, error)
	Tick(ctx context.Context, symbol string) (models.Tick, error)
	Candles(ctx context.Context, symbol, timeframe string, count int) ([]models.Candle, error)
	OpenPositions(ctx context.Context, symbol string) ([]models.Position, error)
	ClosedTrades(ctx context.Context, from, to time.Time, symbol string) ([]models.Deal, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	ClosePosition(ctx context.Context, ticket int64, volume float64, comment string) error
	ModifyStopLoss(ctx context.Context, ticket int64, stop float64) error
}
