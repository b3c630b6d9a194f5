package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"signalbot/internal/models"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

var _ TradeStore = (*SQLiteStore)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS trades (
	ticket      INTEGER PRIMARY KEY,
	symbol      TEXT    NOT NULL,
	direction   TEXT    NOT NULL,
	volume      REAL    NOT NULL,
	open_price  REAL    NOT NULL,
	open_time   INTEGER NOT NULL,
	sl          REAL    NOT NULL DEFAULT 0,
	tp          REAL    NOT NULL DEFAULT 0,
	close_price REAL    NOT NULL DEFAULT 0,
	close_time  INTEGER,
	profit      REAL    NOT NULL DEFAULT 0,
	status      TEXT    NOT NULL DEFAULT 'OPEN',
	magic       INTEGER NOT NULL DEFAULT 0,
	comment     TEXT    NOT NULL DEFAULT '',
	extra_data  TEXT
);
CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status);
CREATE INDEX IF NOT EXISTS idx_trades_open_time ON trades(open_time);
`

const tradeColumns = `ticket, symbol, direction, volume, open_price, open_time, sl, tp,
	close_price, close_time, profit, status, magic, comment, extra_data`

type SQLiteStore struct {
	mu  sync.Mutex
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveOpenTrade(ctx context.Context, rec models.TradeRecord) error {
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

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO trades (ticket, symbol, direction, volume, open_price, open_time, sl, tp, status, magic, comment, extra_data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'OPEN', ?, ?, ?)
		ON CONFLICT(ticket) DO UPDATE SET
			symbol = excluded.symbol,
			direction = excluded.direction,
			volume = excluded.volume,
			open_price = excluded.open_price,
			open_time = excluded.open_time,
			sl = excluded.sl,
			tp = excluded.tp,
			status = 'OPEN',
			close_price = 0,
			close_time = NULL,
			magic = excluded.magic,
			comment = excluded.comment,
			extra_data = COALESCE(excluded.extra_data, trades.extra_data)`,
		rec.Ticket, rec.Symbol, string(rec.Direction), rec.Volume, rec.OpenPrice, openTime.UnixMilli(),
		rec.StopLoss, rec.TakeProfit, rec.Magic, rec.Comment, nullableText(extra),
	)
	if err != nil {
		return fmt.Errorf("insert trade %d: %w", rec.Ticket, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateTrade(ctx context.Context, ticket int64, upd TradeUpdate) error {
	if upd.Empty() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update trade %d: %w", ticket, err)
	}
	defer tx.Rollback()

	var current sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT extra_data FROM trades WHERE ticket = ?`, ticket).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %d", ErrNotFound, ticket)
	}
	if err != nil {
		return fmt.Errorf("select trade %d: %w", ticket, err)
	}

	extra := []byte(current.String)
	if len(upd.Extra) > 0 {
		extra, err = mergeExtra(extra, upd.Extra)
		if err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE trades SET
			sl = COALESCE(?, sl),
			tp = COALESCE(?, tp),
			volume = COALESCE(?, volume),
			extra_data = ?
		WHERE ticket = ?`,
		nullableFloat(upd.StopLoss), nullableFloat(upd.TakeProfit), nullableFloat(upd.Volume),
		nullableText(extra), ticket,
	)
	if err != nil {
		return fmt.Errorf("update trade %d: %w", ticket, err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) CloseTrade(ctx context.Context, ticket int64, closePrice, profit float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE trades SET status = 'CLOSED', close_price = ?, close_time = ?, profit = ?
		WHERE ticket = ? AND status = 'OPEN'`,
		closePrice, s.now().UnixMilli(), profit, ticket,
	)
	if err != nil {
		return fmt.Errorf("close trade %d: %w", ticket, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM trades WHERE ticket = ?`, ticket).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %d", ErrNotFound, ticket)
	}
	if err != nil {
		return fmt.Errorf("select trade %d: %w", ticket, err)
	}
	return nil
}

func (s *SQLiteStore) ActiveTrades(ctx context.Context) ([]models.TradeRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE status = 'OPEN' ORDER BY open_time, ticket`)
	if err != nil {
		return nil, fmt.Errorf("query active trades: %w", err)
	}
	defer rows.Close()
	return scanSQLiteTrades(rows)
}

func (s *SQLiteStore) TradeHistory(ctx context.Context, limit int) ([]models.TradeRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tradeColumns+` FROM trades ORDER BY COALESCE(close_time, open_time) DESC, ticket DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query trade history: %w", err)
	}
	defer rows.Close()
	return scanSQLiteTrades(rows)
}

func scanSQLiteTrades(rows *sql.Rows) ([]models.TradeRecord, error) {
	var out []models.TradeRecord
	for rows.Next() {
		var (
			rec       models.TradeRecord
			direction string
			status    string
			openTime  int64
			closeTime sql.NullInt64
			extra     sql.NullString
		)
		if err := rows.Scan(&rec.Ticket, &rec.Symbol, &direction, &rec.Volume, &rec.OpenPrice, &openTime,
			&rec.StopLoss, &rec.TakeProfit, &rec.ClosePrice, &closeTime, &rec.Profit, &status,
			&rec.Magic, &rec.Comment, &extra); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		rec.Direction = models.Direction(direction)
		rec.Status = models.TradeStatus(status)
		rec.OpenTime = time.UnixMilli(openTime).UTC()
		if closeTime.Valid {
			ct := time.UnixMilli(closeTime.Int64).UTC()
			rec.CloseTime = &ct
		}
		rec.Extra = decodeExtra([]byte(extra.String))
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trades: %w", err)
	}
	return out, nil
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableText(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	return string(data)
}
