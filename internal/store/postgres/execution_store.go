package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/volkv/snipebot/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore using PostgreSQL.
// Every executor invocation, successful or not, lands here.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates a new ExecutionStore backed by the given connection pool.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

var _ domain.ExecutionStore = (*ExecutionStore)(nil)

const executionSelectCols = `id, token_mint, side, success, signature, price,
	amount_in, amount_out, slippage_pct, fee_lamports, attempts, latency_ms,
	reason, error, executed_at`

func scanExecutions(rows pgx.Rows) ([]domain.ExecutionRecord, error) {
	var recs []domain.ExecutionRecord
	for rows.Next() {
		var r domain.ExecutionRecord
		var side string
		var signature, reason, errMsg *string
		if err := rows.Scan(
			&r.ID, &r.TokenMint, &side, &r.Success, &signature, &r.Price,
			&r.AmountIn, &r.AmountOut, &r.SlippagePct, &r.FeeLamports,
			&r.Attempts, &r.LatencyMs, &reason, &errMsg, &r.ExecutedAt,
		); err != nil {
			return nil, err
		}
		r.Side = domain.OrderSide(side)
		if signature != nil {
			r.Signature = *signature
		}
		if reason != nil {
			r.Reason = *reason
		}
		if errMsg != nil {
			r.Err = *errMsg
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// Insert writes an execution record. Conflicting IDs are ignored so a replay
// after a crash cannot double-count an attempt.
func (s *ExecutionStore) Insert(ctx context.Context, r domain.ExecutionRecord) error {
	const query = `
		INSERT INTO executions (
			id, token_mint, side, success, signature, price,
			amount_in, amount_out, slippage_pct, fee_lamports,
			attempts, latency_ms, reason, error, executed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		r.ID, r.TokenMint, string(r.Side), r.Success, nullable(r.Signature), r.Price,
		r.AmountIn, r.AmountOut, r.SlippagePct, int64(r.FeeLamports),
		r.Attempts, r.LatencyMs, nullable(r.Reason), nullable(r.Err), r.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert execution %s: %w", r.ID, err)
	}
	return nil
}

// ListRecent returns the most recent execution records.
func (s *ExecutionStore) ListRecent(ctx context.Context, limit int) ([]domain.ExecutionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+executionSelectCols+` FROM executions
		 ORDER BY executed_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent executions: %w", err)
	}
	defer rows.Close()

	recs, err := scanExecutions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan recent executions: %w", err)
	}
	return recs, nil
}

// ListBefore returns executions older than the given time, oldest first.
func (s *ExecutionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ExecutionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+executionSelectCols+` FROM executions
		 WHERE executed_at < $1
		 ORDER BY executed_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions before %s: %w", before, err)
	}
	defer rows.Close()

	recs, err := scanExecutions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan executions before %s: %w", before, err)
	}
	return recs, nil
}

// DeleteBefore removes executions older than the given time. Called by the
// archiver after a successful upload.
func (s *ExecutionStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM executions WHERE executed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete executions before %s: %w", before, err)
	}
	return tag.RowsAffected(), nil
}

// nullable maps an empty string to SQL NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
