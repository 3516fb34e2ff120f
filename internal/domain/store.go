package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore persists positions. Upsert is idempotent by token mint for
// open positions, so a crashed process can replay a create without
// duplicating rows. The durable row is the source of truth on restart.
type PositionStore interface {
	Upsert(ctx context.Context, pos Position) error
	GetByMint(ctx context.Context, mint string) (Position, error)
	ListOpen(ctx context.Context) ([]Position, error)
	ListClosed(ctx context.Context, opts ListOpts) ([]Position, error)
}

// TradeStore persists completed trades.
type TradeStore interface {
	Insert(ctx context.Context, trade TradeRecord) error
	ListRecent(ctx context.Context, limit int) ([]TradeRecord, error)
	ListBefore(ctx context.Context, before time.Time) ([]TradeRecord, error)
}

// ExecutionStore persists individual execution outcomes.
type ExecutionStore interface {
	Insert(ctx context.Context, rec ExecutionRecord) error
	ListRecent(ctx context.Context, limit int) ([]ExecutionRecord, error)
	ListBefore(ctx context.Context, before time.Time) ([]ExecutionRecord, error)
}

// SnapshotStore persists the per-position token snapshot taken at entry.
type SnapshotStore interface {
	Upsert(ctx context.Context, snap TokenSnapshot) error
	GetByMint(ctx context.Context, mint string) (TokenSnapshot, error)
}
