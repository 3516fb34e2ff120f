package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/volkv/snipebot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

var _ domain.TradeStore = (*TradeStore)(nil)

const tradeSelectCols = `id, token_mint, entry_price, exit_price, amount,
	entry_time, exit_time, exit_reason, pnl_percent, pnl_usd, conviction, fingerprint`

func scanTrades(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var trades []domain.TradeRecord
	for rows.Next() {
		var t domain.TradeRecord
		var fingerprint []byte
		if err := rows.Scan(
			&t.ID, &t.TokenMint, &t.EntryPrice, &t.ExitPrice, &t.Amount,
			&t.EntryTime, &t.ExitTime, &t.ExitReason, &t.PnLPercent, &t.PnLUSD,
			&t.Conviction, &fingerprint,
		); err != nil {
			return nil, err
		}
		if len(fingerprint) > 0 {
			if err := json.Unmarshal(fingerprint, &t.Fingerprint); err != nil {
				return nil, fmt.Errorf("decode fingerprint for trade %d: %w", t.ID, err)
			}
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Insert writes a completed trade.
func (s *TradeStore) Insert(ctx context.Context, t domain.TradeRecord) error {
	var fingerprint []byte
	if t.Fingerprint != nil {
		var err error
		fingerprint, err = json.Marshal(t.Fingerprint)
		if err != nil {
			return fmt.Errorf("postgres: encode trade fingerprint: %w", err)
		}
	}

	const query = `
		INSERT INTO trades (
			token_mint, entry_price, exit_price, amount,
			entry_time, exit_time, exit_reason, pnl_percent, pnl_usd,
			conviction, fingerprint
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.pool.Exec(ctx, query,
		t.TokenMint, t.EntryPrice, t.ExitPrice, t.Amount,
		t.EntryTime, t.ExitTime, t.ExitReason, t.PnLPercent, t.PnLUSD,
		t.Conviction, fingerprint,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", t.TokenMint, err)
	}
	return nil
}

// ListRecent returns the most recently exited trades.
func (s *TradeStore) ListRecent(ctx context.Context, limit int) ([]domain.TradeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades
		 ORDER BY exit_time DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent trades: %w", err)
	}
	defer rows.Close()

	trades, err := scanTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan recent trades: %w", err)
	}
	return trades, nil
}

// ListBefore returns trades that exited before the given time, oldest first.
// The archiver uses this to select rows for cold storage.
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.TradeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades
		 WHERE exit_time < $1
		 ORDER BY exit_time ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before %s: %w", before, err)
	}
	defer rows.Close()

	trades, err := scanTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades before %s: %w", before, err)
	}
	return trades, nil
}

// DeleteBefore removes trades that exited before the given time. Called by
// the archiver after a successful upload.
func (s *TradeStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM trades WHERE exit_time < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades before %s: %w", before, err)
	}
	return tag.RowsAffected(), nil
}
