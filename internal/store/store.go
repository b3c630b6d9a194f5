package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"signalbot/internal/config"
	"signalbot/internal/models"
)

var ErrNotFound = errors.New("сделка не найдена")

// TradeStore is the durable ledger of trades keyed by broker ticket.
// Implementations serialize their own writes.
type TradeStore interface {
	// SaveOpenTrade inserts an OPEN record or refreshes an existing one.
	SaveOpenTrade(ctx context.Context, rec models.TradeRecord) error
	// UpdateTrade applies the non-nil fields of upd and merges upd.Extra into
	// the stored extra data.
	UpdateTrade(ctx context.Context, ticket int64, upd TradeUpdate) error
	// CloseTrade marks the record CLOSED. Closing an already closed record is
	// a no-op.
	CloseTrade(ctx context.Context, ticket int64, closePrice, profit float64) error
	ActiveTrades(ctx context.Context) ([]models.TradeRecord, error)
	TradeHistory(ctx context.Context, limit int) ([]models.TradeRecord, error)
	Close() error
}

type TradeUpdate struct {
	StopLoss   *float64
	TakeProfit *float64
	Volume     *float64
	Extra      map[string]any
}

func (u TradeUpdate) Empty() bool {
	return u.StopLoss == nil && u.TakeProfit == nil && u.Volume == nil && len(u.Extra) == 0
}

func Open(ctx context.Context, cfg config.StorageConfig) (TradeStore, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return NewSQLiteStore(cfg.Path)
	case "postgres":
		return NewPostgresStore(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("Неизвестный драйвер хранилища: %s", cfg.Driver)
	}
}

func encodeExtra(extra map[string]any) ([]byte, error) {
	if len(extra) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(extra)
	if err != nil {
		return nil, fmt.Errorf("encode extra data: %w", err)
	}
	return data, nil
}

func decodeExtra(data []byte) map[string]any {
	if len(data) == 0 {
		return nil
	}
	var extra map[string]any
	if err := json.Unmarshal(data, &extra); err != nil {
		return nil
	}
	return extra
}

func mergeExtra(current []byte, patch map[string]any) ([]byte, error) {
	merged := decodeExtra(current)
	if merged == nil {
		merged = map[string]any{}
	}
	for k, v := range patch {
		merged[k] = v
	}
	return encodeExtra(merged)
}
