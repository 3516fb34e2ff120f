package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/volkv/snipebot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. Rows are
// keyed by token mint; the engine never holds two positions in one token.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

var _ domain.PositionStore = (*PositionStore)(nil)

const positionSelectCols = `token_mint, entry_price, entry_amount, entry_time, conviction,
	current_price, highest_price, stop_loss_price, trailing_active, trail_tighten,
	take_profit_hits, remaining_amount, pnl_percent, pnl_usd,
	status, exit_reason, exit_time, source_wallets`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var status string
	var exitReason *string
	var tpHits []bool

	err := row.Scan(
		&p.TokenMint, &p.EntryPrice, &p.EntryAmount, &p.EntryTime, &p.Conviction,
		&p.CurrentPrice, &p.HighestPrice, &p.StopLossPrice, &p.TrailingActive, &p.TrailTighten,
		&tpHits, &p.RemainingAmount, &p.PnLPercent, &p.PnLUSD,
		&status, &exitReason, &p.ExitTime, &p.SourceWallets,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Status = domain.PositionStatus(status)
	if exitReason != nil {
		p.ExitReason = *exitReason
	}
	for i := 0; i < len(tpHits) && i < domain.TakeProfitLevels; i++ {
		p.TakeProfitHits[i] = tpHits[i]
	}
	return p, nil
}

func scanPositions(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Upsert writes a position, replacing any existing row for the same mint.
// Replaying a create after a crash is therefore harmless.
func (s *PositionStore) Upsert(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			token_mint, entry_price, entry_amount, entry_time, conviction,
			current_price, highest_price, stop_loss_price, trailing_active, trail_tighten,
			take_profit_hits, remaining_amount, pnl_percent, pnl_usd,
			status, exit_reason, exit_time, source_wallets, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14,
			$15, $16, $17, $18, NOW()
		)
		ON CONFLICT (token_mint) DO UPDATE SET
			current_price    = EXCLUDED.current_price,
			highest_price    = EXCLUDED.highest_price,
			stop_loss_price  = EXCLUDED.stop_loss_price,
			trailing_active  = EXCLUDED.trailing_active,
			trail_tighten    = EXCLUDED.trail_tighten,
			take_profit_hits = EXCLUDED.take_profit_hits,
			remaining_amount = EXCLUDED.remaining_amount,
			pnl_percent      = EXCLUDED.pnl_percent,
			pnl_usd          = EXCLUDED.pnl_usd,
			status           = EXCLUDED.status,
			exit_reason      = EXCLUDED.exit_reason,
			exit_time        = EXCLUDED.exit_time,
			updated_at       = NOW()`

	var exitReason *string
	if p.ExitReason != "" {
		exitReason = &p.ExitReason
	}
	sourceWallets := p.SourceWallets
	if sourceWallets == nil {
		sourceWallets = []string{}
	}

	_, err := s.pool.Exec(ctx, query,
		p.TokenMint, p.EntryPrice, p.EntryAmount, p.EntryTime, p.Conviction,
		p.CurrentPrice, p.HighestPrice, p.StopLossPrice, p.TrailingActive, p.TrailTighten,
		p.TakeProfitHits[:], p.RemainingAmount, p.PnLPercent, p.PnLUSD,
		string(p.Status), exitReason, p.ExitTime, sourceWallets,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s: %w", p.TokenMint, err)
	}
	return nil
}

// GetByMint retrieves a single position by its token mint.
func (s *PositionStore) GetByMint(ctx context.Context, mint string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE token_mint = $1`, mint)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", mint, err)
	}
	return p, nil
}

// ListOpen returns all open positions, oldest entry first.
func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status = 'open'
		 ORDER BY entry_time ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions: %w", err)
	}
	return positions, nil
}

// ListClosed returns closed positions with pagination and optional time
// filtering on exit_time.
func (s *PositionStore) ListClosed(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE status = 'closed'`
	var args []any
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND exit_time >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND exit_time <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY exit_time DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed positions: %w", err)
	}
	return positions, nil
}
