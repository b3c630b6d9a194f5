package store

import (
	"context"
	"errors"
	"fmt"
	"signalbot/internal/models"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ TradeStore = (*PostgresStore)(nil)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS trades (
	ticket      BIGINT PRIMARY KEY,
	symbol      TEXT             NOT NULL,
	direction   TEXT             NOT NULL,
	volume      DOUBLE PRECISION NOT NULL,
	open_price  DOUBLE PRECISION NOT NULL,
	open_time   TIMESTAMPTZ      NOT NULL,
	sl          DOUBLE PRECISION NOT NULL DEFAULT 0,
	tp          DOUBLE PRECISION NOT NULL DEFAULT 0,
	close_price DOUBLE PRECISION NOT NULL DEFAULT 0,
	close_time  TIMESTAMPTZ,
	profit      DOUBLE PRECISION NOT NULL DEFAULT 0,
	status      TEXT             NOT NULL DEFAULT 'OPEN',
	magic       BIGINT           NOT NULL DEFAULT 0,
	comment     TEXT             NOT NULL DEFAULT '',
	extra_data  JSONB
);
CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status);
CREATE INDEX IF NOT EXISTS idx_trades_open_time ON trades(open_time);
`

type PostgresStore struct {
	mu   sync.Mutex
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}

	return &PostgresStore{pool: pool, now: time.Now}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) SaveOpenTrade(ctx context.Context, rec models.TradeRecord) error {
	extra, err := encodeExtra(rec.Extra)
	if err != nil {
		return err
	}
	openTime := rec.OpenTime
	if openTime.IsZero() {
		openTime = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.pool.Exec(ctx, `
		INSERT INTO trades (ticket, symbol, direction, volume, open_price, open_time, sl, tp, status, magic, comment, extra_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'OPEN', $9, $10, $11)
		ON CONFLICT (ticket) DO UPDATE SET
			symbol = EXCLUDED.symbol,
			direction = EXCLUDED.direction,
			volume = EXCLUDED.volume,
			open_price = EXCLUDED.open_price,
			open_time = EXCLUDED.open_time,
			sl = EXCLUDED.sl,
			tp = EXCLUDED.tp,
			status = 'OPEN',
			close_price = 0,
			close_time = NULL,
			magic = EXCLUDED.magic,
			comment = EXCLUDED.comment,
			extra_data = COALESCE(EXCLUDED.extra_data, trades.extra_data)`,
		rec.Ticket, rec.Symbol, string(rec.Direction), rec.Volume, rec.OpenPrice, openTime.UTC(),
		rec.StopLoss, rec.TakeProfit, rec.Magic, rec.Comment, extra,
	)
	if err != nil {
		return fmt.Errorf("insert trade %d: %w", rec.Ticket, err)
	}
	return nil
}

func (s *PostgresStore) UpdateTrade(ctx context.Context, ticket int64, upd TradeUpdate) error {
	if upd.Empty() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin update trade %d: %w", ticket, err)
	}
	defer tx.Rollback(ctx)

	var current []byte
	err = tx.QueryRow(ctx, `SELECT extra_data FROM trades WHERE ticket = $1 FOR UPDATE`, ticket).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %d", ErrNotFound, ticket)
	}
	if err != nil {
		return fmt.Errorf("select trade %d: %w", ticket, err)
	}

	extra := current
	if len(upd.Extra) > 0 {
		extra, err = mergeExtra(current, upd.Extra)
		if err != nil {
			return err
		}
	}

	_, err = tx.Exec(ctx, `
		UPDATE trades SET
			sl = COALESCE($1, sl),
			tp = COALESCE($2, tp),
			volume = COALESCE($3, volume),
			extra_data = $4
		WHERE ticket = $5`,
		upd.StopLoss, upd.TakeProfit, upd.Volume, extra, ticket,
	)
	if err != nil {
		return fmt.Errorf("update trade %d: %w", ticket, err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) CloseTrade(ctx context.Context, ticket int64, closePrice, profit float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tag, err := s.pool.Exec(ctx, `
		UPDATE trades SET status = 'CLOSED', close_price = $1, close_time = $2, profit = $3
		WHERE ticket = $4 AND status = 'OPEN'`,
		closePrice, s.now().UTC(), profit, ticket,
	)
	if err != nil {
		return fmt.Errorf("close trade %d: %w", ticket, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists int
	err = s.pool.QueryRow(ctx, `SELECT 1 FROM trades WHERE ticket = $1`, ticket).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %d", ErrNotFound, ticket)
	}
	if err != nil {
		return fmt.Errorf("select trade %d: %w", ticket, err)
	}
	return nil
}

func (s *PostgresStore) ActiveTrades(ctx context.Context) ([]models.TradeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE status = 'OPEN' ORDER BY open_time, ticket`)
	if err != nil {
		return nil, fmt.Errorf("query active trades: %w", err)
	}
	return scanPostgresTrades(rows)
}

func (s *PostgresStore) TradeHistory(ctx context.Context, limit int) ([]models.TradeRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trades ORDER BY COALESCE(close_time, open_time) DESC, ticket DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query trade history: %w", err)
	}
	return scanPostgresTrades(rows)
}

func scanPostgresTrades(rows pgx.Rows) ([]models.TradeRecord, error) {
	defer rows.Close()

	var out []models.TradeRecord
	for rows.Next() {
		var (
			rec       models.TradeRecord
			direction string
			status    string
			closeTime *time.Time
			extra     []byte
		)
		if err := rows.Scan(&rec.Ticket, &rec.Symbol, &direction, &rec.Volume, &rec.OpenPrice, &rec.OpenTime,
			&rec.StopLoss, &rec.TakeProfit, &rec.ClosePrice, &closeTime, &rec.Profit, &status,
			&rec.Magic, &rec.Comment, &extra); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		rec.Direction = models.Direction(direction)
		rec.Status = models.TradeStatus(status)
		rec.OpenTime = rec.OpenTime.UTC()
		if closeTime != nil {
			ct := closeTime.UTC()
			rec.CloseTime = &ct
		}
		rec.Extra = decodeExtra(extra)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trades: %w", err)
	}
	return out, nil
}
