// Package position holds the live position book, the exit policies that
// decide when to leave a position, and the manager loop that drives them.
package position

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/volkv/snipebot/internal/domain"
)

// TakeProfitLevel is one rung of the take-profit ladder. SellPercent applies
// to the original entry amount, so the ladder's total is bounded regardless
// of execution order.
type TakeProfitLevel struct {
	TargetPercent float64
	SellPercent   float64
}

// ExitParams are the exit policy knobs.
type ExitParams struct {
	// HardStopFraction sets the initial stop at entry_price * fraction.
	HardStopFraction float64
	// TrailActivatePct is the PnL% at which the trailing stop arms.
	TrailActivatePct float64
	// Trail widths as fractions of the high-water mark. The width narrows
	// as profit grows.
	TrailWidthBase  float64
	TrailWidthMid   float64
	TrailWidthTight float64
	TrailMidPct     float64
	TrailTightPct   float64
	// Time stop: exit after MaxFlatHold when PnL% sits in
	// [FlatLowPct, FlatHighPct].
	MaxFlatHold time.Duration
	FlatLowPct  float64
	FlatHighPct float64

	TakeProfits []TakeProfitLevel
}

// minTrailWidth is the floor a tightened trail can reach.
const minTrailWidth = 0.02

// dustTokens treats a remainder this small as fully exited; swap rounding
// always leaves a few raw units behind.
const dustTokens = 1e-9

// Tracker is the in-memory book of open positions. Every mutation is written
// through to the durable store; the store is authoritative after a restart.
type Tracker struct {
	mu        sync.RWMutex
	positions map[string]*domain.Position

	store  domain.PositionStore
	params ExitParams
	logger *slog.Logger
}

// NewTracker creates an empty Tracker.
func NewTracker(store domain.PositionStore, params ExitParams, logger *slog.Logger) *Tracker {
	return &Tracker{
		positions: make(map[string]*domain.Position),
		store:     store,
		params:    params,
		logger:    logger.With(slog.String("component", "tracker")),
	}
}

// Restore loads open positions from the durable store into memory. Call once
// at startup before the manager loop begins.
func (t *Tracker) Restore(ctx context.Context) error {
	open, err := t.store.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("position: restore: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range open {
		p := open[i]
		t.positions[p.TokenMint] = &p
	}
	t.logger.Info("positions restored", slog.Int("count", len(open)))
	return nil
}

// Open records a freshly filled entry. The initial stop is set from the fill
// price and the position is persisted before it becomes visible.
func (t *Tracker) Open(ctx context.Context, req domain.BuyRequest, res domain.ExecutionResult) (domain.Position, error) {
	if !res.Success || res.AmountOut <= 0 {
		return domain.Position{}, fmt.Errorf("position: open %s: execution did not fill", req.TokenMint)
	}

	now := time.Now()
	pos := domain.Position{
		TokenMint:       req.TokenMint,
		EntryPrice:      res.Price,
		EntryAmount:     res.AmountOut,
		EntryTime:       now,
		Conviction:      req.Conviction,
		CurrentPrice:    res.Price,
		HighestPrice:    res.Price,
		StopLossPrice:   res.Price * t.params.HardStopFraction,
		RemainingAmount: res.AmountOut,
		Status:          domain.PositionStatusOpen,
		SourceWallets:   req.SourceWallets,
	}

	if err := t.store.Upsert(ctx, pos); err != nil {
		return domain.Position{}, err
	}

	t.mu.Lock()
	stored := pos
	t.positions[pos.TokenMint] = &stored
	t.mu.Unlock()

	t.logger.Info("position opened",
		slog.String("mint", pos.TokenMint),
		slog.Float64("entry_price", pos.EntryPrice),
		slog.Float64("amount", pos.EntryAmount),
		slog.Float64("stop", pos.StopLossPrice),
	)
	return pos, nil
}

// Lookup returns a copy of the position for a mint.
func (t *Tracker) Lookup(mint string) (domain.Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.positions[mint]
	if !ok {
		return domain.Position{}, false
	}
	return *p, true
}

// ListOpen returns copies of all open positions.
func (t *Tracker) ListOpen() []domain.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.Position, 0, len(t.positions))
	for _, p := range t.positions {
		if p.IsOpen() {
			out = append(out, *p)
		}
	}
	return out
}

// UpdatePrice folds a new price sample into the position: PnL, high-water
// mark, trailing activation, and the stop ratchet. The stop never moves down.
func (t *Tracker) UpdatePrice(ctx context.Context, mint string, price float64) (domain.Position, error) {
	t.mu.Lock()
	p, ok := t.positions[mint]
	if !ok || !p.IsOpen() {
		t.mu.Unlock()
		return domain.Position{}, domain.ErrNotFound
	}

	p.CurrentPrice = price
	if price > p.HighestPrice {
		p.HighestPrice = price
	}
	if p.EntryPrice > 0 {
		p.PnLPercent = (price - p.EntryPrice) / p.EntryPrice * 100
	}
	p.PnLUSD = (price - p.EntryPrice) * p.RemainingAmount

	if !p.TrailingActive && p.PnLPercent >= t.params.TrailActivatePct {
		p.TrailingActive = true
		t.logger.Info("trailing stop armed",
			slog.String("mint", mint),
			slog.Float64("pnl_pct", p.PnLPercent),
		)
	}
	if p.TrailingActive {
		t.ratchetLocked(p)
	}

	snapshot := *p
	t.mu.Unlock()

	if err := t.store.Upsert(ctx, snapshot); err != nil {
		return snapshot, err
	}
	return snapshot, nil
}

// Tighten narrows the trailing width in response to a tighten_stop
// recommendation and re-applies the ratchet immediately.
func (t *Tracker) Tighten(ctx context.Context, mint string, step float64) (domain.Position, error) {
	t.mu.Lock()
	p, ok := t.positions[mint]
	if !ok || !p.IsOpen() {
		t.mu.Unlock()
		return domain.Position{}, domain.ErrNotFound
	}

	p.TrailTighten += step
	if p.TrailingActive {
		t.ratchetLocked(p)
	}
	snapshot := *p
	t.mu.Unlock()

	t.logger.Info("trailing stop tightened",
		slog.String("mint", mint),
		slog.Float64("tighten", snapshot.TrailTighten),
		slog.Float64("stop", snapshot.StopLossPrice),
	)

	if err := t.store.Upsert(ctx, snapshot); err != nil {
		return snapshot, err
	}
	return snapshot, nil
}

// ratchetLocked raises the stop to the trailing candidate when it is higher.
// Caller holds t.mu.
func (t *Tracker) ratchetLocked(p *domain.Position) {
	width := t.trailWidth(p)
	candidate := p.HighestPrice * (1 - width)
	if candidate > p.StopLossPrice {
		p.StopLossPrice = candidate
	}
}

// trailWidth picks the trail width band for the position's PnL and applies
// any tighten adjustment.
func (t *Tracker) trailWidth(p *domain.Position) float64 {
	width := t.params.TrailWidthBase
	switch {
	case p.PnLPercent >= t.params.TrailTightPct:
		width = t.params.TrailWidthTight
	case p.PnLPercent >= t.params.TrailMidPct:
		width = t.params.TrailWidthMid
	}
	width -= p.TrailTighten
	if width < minTrailWidth {
		width = minTrailWidth
	}
	return width
}

// Reduce applies a partial fill: tokensSold leave the position, and when
// tpLevel is 0..3 the matching one-shot ladder flag is set.
func (t *Tracker) Reduce(ctx context.Context, mint string, tokensSold float64, tpLevel int) (domain.Position, error) {
	t.mu.Lock()
	p, ok := t.positions[mint]
	if !ok || !p.IsOpen() {
		t.mu.Unlock()
		return domain.Position{}, domain.ErrNotFound
	}

	p.RemainingAmount -= tokensSold
	if p.RemainingAmount < 0 {
		p.RemainingAmount = 0
	}
	if tpLevel >= 0 && tpLevel < domain.TakeProfitLevels {
		p.TakeProfitHits[tpLevel] = true
	}
	snapshot := *p
	t.mu.Unlock()

	t.logger.Info("position reduced",
		slog.String("mint", mint),
		slog.Float64("sold", tokensSold),
		slog.Float64("remaining", snapshot.RemainingAmount),
	)

	if err := t.store.Upsert(ctx, snapshot); err != nil {
		return snapshot, err
	}
	return snapshot, nil
}

// Close marks the position closed and returns the trade record for the
// durable trade log. Closing twice returns ErrNotFound.
func (t *Tracker) Close(ctx context.Context, mint string, exitPrice float64, reason string) (domain.TradeRecord, error) {
	t.mu.Lock()
	p, ok := t.positions[mint]
	if !ok || !p.IsOpen() {
		t.mu.Unlock()
		return domain.TradeRecord{}, domain.ErrNotFound
	}

	now := time.Now()
	p.Status = domain.PositionStatusClosed
	p.ExitReason = reason
	p.ExitTime = &now
	p.CurrentPrice = exitPrice
	if p.EntryPrice > 0 {
		p.PnLPercent = (exitPrice - p.EntryPrice) / p.EntryPrice * 100
	}
	p.PnLUSD = (exitPrice - p.EntryPrice) * p.EntryAmount
	p.RemainingAmount = 0

	snapshot := *p
	delete(t.positions, mint)
	t.mu.Unlock()

	trade := domain.TradeRecord{
		TokenMint:  snapshot.TokenMint,
		EntryPrice: snapshot.EntryPrice,
		ExitPrice:  exitPrice,
		Amount:     snapshot.EntryAmount,
		EntryTime:  snapshot.EntryTime,
		ExitTime:   now,
		ExitReason: reason,
		PnLPercent: snapshot.PnLPercent,
		PnLUSD:     snapshot.PnLUSD,
		Conviction: snapshot.Conviction,
	}

	t.logger.Info("position closed",
		slog.String("mint", mint),
		slog.String("reason", reason),
		slog.Float64("pnl_pct", snapshot.PnLPercent),
	)

	if err := t.store.Upsert(ctx, snapshot); err != nil {
		return trade, err
	}
	return trade, nil
}

// FullyExited reports whether a position's remainder is at or below dust.
func FullyExited(p domain.Position) bool {
	return p.RemainingAmount <= dustTokens
}
