package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/volkv/snipebot/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore using PostgreSQL. One row per
// token mint, written at position entry and read back by danger checks after
// a restart.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a new SnapshotStore backed by the given connection pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

var _ domain.SnapshotStore = (*SnapshotStore)(nil)

// Upsert writes the entry-time snapshot for a token.
func (s *SnapshotStore) Upsert(ctx context.Context, snap domain.TokenSnapshot) error {
	const query = `
		INSERT INTO token_snapshots (
			token_mint, mint_authority, freeze_authority, supply,
			liquidity_usd, holder_count, creator_wallet, creator_balance, taken_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (token_mint) DO UPDATE SET
			mint_authority   = EXCLUDED.mint_authority,
			freeze_authority = EXCLUDED.freeze_authority,
			supply           = EXCLUDED.supply,
			liquidity_usd    = EXCLUDED.liquidity_usd,
			holder_count     = EXCLUDED.holder_count,
			creator_wallet   = EXCLUDED.creator_wallet,
			creator_balance  = EXCLUDED.creator_balance,
			taken_at         = EXCLUDED.taken_at`

	_, err := s.pool.Exec(ctx, query,
		snap.TokenMint, snap.MintAuthority, snap.FreezeAuthority, snap.Supply,
		snap.LiquidityUSD, snap.HolderCount, snap.CreatorWallet, snap.CreatorBalance,
		snap.TakenAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert snapshot %s: %w", snap.TokenMint, err)
	}
	return nil
}

// GetByMint retrieves the entry-time snapshot for a token.
func (s *SnapshotStore) GetByMint(ctx context.Context, mint string) (domain.TokenSnapshot, error) {
	const query = `
		SELECT token_mint, mint_authority, freeze_authority, supply,
		       liquidity_usd, holder_count, creator_wallet, creator_balance, taken_at
		FROM token_snapshots WHERE token_mint = $1`

	var snap domain.TokenSnapshot
	err := s.pool.QueryRow(ctx, query, mint).Scan(
		&snap.TokenMint, &snap.MintAuthority, &snap.FreezeAuthority, &snap.Supply,
		&snap.LiquidityUSD, &snap.HolderCount, &snap.CreatorWallet, &snap.CreatorBalance,
		&snap.TakenAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TokenSnapshot{}, domain.ErrNotFound
		}
		return domain.TokenSnapshot{}, fmt.Errorf("postgres: get snapshot %s: %w", mint, err)
	}
	return snap, nil
}
