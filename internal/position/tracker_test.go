package position

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/volkv/snipebot/internal/domain"
)

// memPositionStore is an in-memory PositionStore for tests.
type memPositionStore struct {
	mu   sync.Mutex
	rows map[string]domain.Position
}

func newMemPositionStore() *memPositionStore {
	return &memPositionStore{rows: make(map[string]domain.Position)}
}

func (s *memPositionStore) Upsert(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[pos.TokenMint] = pos
	return nil
}

func (s *memPositionStore) GetByMint(_ context.Context, mint string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.rows[mint]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *memPositionStore) ListOpen(_ context.Context) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, p := range s.rows {
		if p.Status == domain.PositionStatusOpen {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memPositionStore) ListClosed(_ context.Context, _ domain.ListOpts) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, p := range s.rows {
		if p.Status == domain.PositionStatusClosed {
			out = append(out, p)
		}
	}
	return out, nil
}

var _ domain.PositionStore = (*memPositionStore)(nil)

func testExitParams() ExitParams {
	return ExitParams{
		HardStopFraction: 0.75,
		TrailActivatePct: 20,
		TrailWidthBase:   0.15,
		TrailWidthMid:    0.12,
		TrailWidthTight:  0.10,
		TrailMidPct:      50,
		TrailTightPct:    100,
		MaxFlatHold:      4 * time.Hour,
		FlatLowPct:       -5,
		FlatHighPct:      10,
		TakeProfits: []TakeProfitLevel{
			{TargetPercent: 30, SellPercent: 20},
			{TargetPercent: 60, SellPercent: 25},
			{TargetPercent: 100, SellPercent: 25},
			{TargetPercent: 200, SellPercent: 20},
		},
	}
}

func testTracker(t *testing.T) (*Tracker, *memPositionStore) {
	t.Helper()
	store := newMemPositionStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewTracker(store, testExitParams(), logger), store
}

func openTestPosition(t *testing.T, tr *Tracker, mint string, entryPrice, amount float64) domain.Position {
	t.Helper()
	pos, err := tr.Open(context.Background(), domain.BuyRequest{
		ID:        "buy-" + mint,
		TokenMint: mint,
		AmountSOL: 0.5,
	}, domain.ExecutionResult{
		Success:   true,
		Price:     entryPrice,
		AmountOut: amount,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return pos
}

func TestOpenSetsHardStop(t *testing.T) {
	tr, store := testTracker(t)
	pos := openTestPosition(t, tr, "mintA", 100, 1000)

	if pos.StopLossPrice != 75 {
		t.Fatalf("stop = %v, want 75", pos.StopLossPrice)
	}
	if pos.RemainingAmount != 1000 || pos.EntryAmount != 1000 {
		t.Fatalf("amounts = %v/%v, want 1000/1000", pos.RemainingAmount, pos.EntryAmount)
	}
	if _, err := store.GetByMint(context.Background(), "mintA"); err != nil {
		t.Fatalf("position not persisted: %v", err)
	}
}

func TestOpenRejectsFailedExecution(t *testing.T) {
	tr, _ := testTracker(t)
	_, err := tr.Open(context.Background(), domain.BuyRequest{TokenMint: "m"}, domain.ExecutionResult{Success: false})
	if err == nil {
		t.Fatal("expected error opening from failed execution")
	}
}

func TestTrailingStopRatchet(t *testing.T) {
	tr, _ := testTracker(t)
	openTestPosition(t, tr, "mintA", 100, 1000)
	ctx := context.Background()

	// Below activation the stop stays at the hard stop.
	p, err := tr.UpdatePrice(ctx, "mintA", 110)
	if err != nil {
		t.Fatalf("UpdatePrice: %v", err)
	}
	if p.TrailingActive {
		t.Fatal("trailing armed below activation threshold")
	}
	if p.StopLossPrice != 75 {
		t.Fatalf("stop = %v, want 75", p.StopLossPrice)
	}

	// +25% arms the trail and ratchets with the base width.
	p, _ = tr.UpdatePrice(ctx, "mintA", 125)
	if !p.TrailingActive {
		t.Fatal("trailing not armed at +25%")
	}
	if want := 125 * 0.85; !closeTo(p.StopLossPrice, want) {
		t.Fatalf("stop = %v, want %v", p.StopLossPrice, want)
	}

	// +60% switches to the mid width.
	p, _ = tr.UpdatePrice(ctx, "mintA", 160)
	if want := 160 * 0.88; !closeTo(p.StopLossPrice, want) {
		t.Fatalf("stop = %v, want %v", p.StopLossPrice, want)
	}

	// A pullback never lowers the stop or the high-water mark.
	p, _ = tr.UpdatePrice(ctx, "mintA", 150)
	if want := 160 * 0.88; !closeTo(p.StopLossPrice, want) {
		t.Fatalf("stop moved down to %v on pullback", p.StopLossPrice)
	}
	if p.HighestPrice != 160 {
		t.Fatalf("high = %v, want 160", p.HighestPrice)
	}

	// +110% switches to the tight width.
	p, _ = tr.UpdatePrice(ctx, "mintA", 210)
	if want := 210 * 0.90; !closeTo(p.StopLossPrice, want) {
		t.Fatalf("stop = %v, want %v", p.StopLossPrice, want)
	}
}

func TestTightenNarrowsTrailWithFloor(t *testing.T) {
	tr, _ := testTracker(t)
	openTestPosition(t, tr, "mintA", 100, 1000)
	ctx := context.Background()

	tr.UpdatePrice(ctx, "mintA", 130)

	p, err := tr.Tighten(ctx, "mintA", 0.03)
	if err != nil {
		t.Fatalf("Tighten: %v", err)
	}
	// Base width 0.15 minus 0.03.
	if want := 130 * (1 - 0.12); !closeTo(p.StopLossPrice, want) {
		t.Fatalf("stop = %v, want %v", p.StopLossPrice, want)
	}

	// Repeated tightens bottom out at the floor width.
	for i := 0; i < 10; i++ {
		p, _ = tr.Tighten(ctx, "mintA", 0.03)
	}
	if want := 130 * (1 - minTrailWidth); !closeTo(p.StopLossPrice, want) {
		t.Fatalf("stop = %v, want floor %v", p.StopLossPrice, want)
	}
}

func TestReduceClampsAndSetsLadderFlag(t *testing.T) {
	tr, _ := testTracker(t)
	openTestPosition(t, tr, "mintA", 100, 1000)
	ctx := context.Background()

	p, err := tr.Reduce(ctx, "mintA", 200, 0)
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	if p.RemainingAmount != 800 {
		t.Fatalf("remaining = %v, want 800", p.RemainingAmount)
	}
	if !p.TakeProfitHits[0] {
		t.Fatal("ladder flag 0 not set")
	}

	// Over-selling clamps to zero rather than going negative.
	p, _ = tr.Reduce(ctx, "mintA", 5000, -1)
	if p.RemainingAmount != 0 {
		t.Fatalf("remaining = %v, want 0", p.RemainingAmount)
	}
	if !FullyExited(p) {
		t.Fatal("position with zero remainder not fully exited")
	}
}

func TestCloseProducesTradeAndIsOneShot(t *testing.T) {
	tr, store := testTracker(t)
	openTestPosition(t, tr, "mintA", 100, 1000)
	ctx := context.Background()

	trade, err := tr.Close(ctx, "mintA", 150, "take_profit_1")
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if trade.PnLPercent != 50 {
		t.Fatalf("pnl = %v, want 50", trade.PnLPercent)
	}
	if want := 50.0 * 1000; trade.PnLUSD != want {
		t.Fatalf("pnl usd = %v, want %v", trade.PnLUSD, want)
	}
	if trade.Outcome() != "win" {
		t.Fatalf("outcome = %q, want win", trade.Outcome())
	}

	if _, ok := tr.Lookup("mintA"); ok {
		t.Fatal("closed position still in book")
	}
	stored, err := store.GetByMint(ctx, "mintA")
	if err != nil {
		t.Fatalf("closed row missing: %v", err)
	}
	if stored.Status != domain.PositionStatusClosed {
		t.Fatalf("stored status = %q", stored.Status)
	}

	if _, err := tr.Close(ctx, "mintA", 150, "again"); err == nil {
		t.Fatal("second close did not fail")
	}
}

func TestRestoreLoadsOpenPositionsOnly(t *testing.T) {
	store := newMemPositionStore()
	ctx := context.Background()
	now := time.Now()
	store.Upsert(ctx, domain.Position{TokenMint: "open1", Status: domain.PositionStatusOpen, EntryTime: now})
	store.Upsert(ctx, domain.Position{TokenMint: "closedX", Status: domain.PositionStatusClosed, EntryTime: now})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tr := NewTracker(store, testExitParams(), logger)
	if err := tr.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if _, ok := tr.Lookup("open1"); !ok {
		t.Fatal("open position not restored")
	}
	if _, ok := tr.Lookup("closedX"); ok {
		t.Fatal("closed position restored")
	}
}

func closeTo(got, want float64) bool {
	diff := got - want
	if diff < 0 {
		diff = -diff
	}
	return diff < 1e-9
}
