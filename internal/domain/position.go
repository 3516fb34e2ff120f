package domain

import "time"

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

// TakeProfitLevels is the number of rungs on the take-profit ladder.
const TakeProfitLevels = 4

// Position represents an open or recently-closed holding of one token.
//
// Invariants maintained by the tracker:
//   - RemainingAmount never goes negative.
//   - StopLossPrice never decreases once TrailingActive is true.
//   - HighestPrice never decreases.
//   - Each TakeProfitHits flag flips false->true at most once.
//   - Status transitions open->closed exactly once.
type Position struct {
	TokenMint  string
	EntryPrice float64
	// EntryAmount is the token quantity acquired at entry. Take-profit sell
	// percentages are applied against this, not against RemainingAmount.
	EntryAmount float64
	EntryTime   time.Time
	// Conviction is the score the decision module attached to the buy.
	Conviction float64

	CurrentPrice  float64
	HighestPrice  float64
	StopLossPrice float64
	// TrailingActive is set once PnL first crosses the trailing activation
	// threshold. It is never cleared.
	TrailingActive bool
	// TrailTighten narrows the trailing width (whale-dump tighten_stop
	// response). Zero means no narrowing.
	TrailTighten float64

	TakeProfitHits  [TakeProfitLevels]bool
	RemainingAmount float64

	PnLPercent float64
	PnLUSD     float64

	Status     PositionStatus
	ExitReason string
	ExitTime   *time.Time

	// SourceWallets are the tracked wallets whose activity triggered the
	// entry; the danger monitor watches them for an exodus.
	SourceWallets []string
}

// IsOpen reports whether the position is still live.
func (p *Position) IsOpen() bool {
	return p.Status == PositionStatusOpen
}

// Age returns how long the position has been held.
func (p *Position) Age(now time.Time) time.Duration {
	return now.Sub(p.EntryTime)
}

// TokenSnapshot captures the on-chain state of a token at position entry.
// The danger monitor compares live state against this baseline.
type TokenSnapshot struct {
	TokenMint       string
	MintAuthority   string // empty when revoked
	FreezeAuthority string // empty when revoked
	Supply          float64
	LiquidityUSD    float64
	HolderCount     int
	CreatorWallet   string
	CreatorBalance  float64
	TakenAt         time.Time
}
