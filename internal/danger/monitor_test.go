package danger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/volkv/snipebot/internal/domain"
)

type fakeLedger struct {
	mintInfo    domain.MintInfo
	mintInfoErr error
	holders     int
	holdersErr  error
	txs         []domain.LedgerTx
	txsErr      error
}

func (f *fakeLedger) SendTransaction(context.Context, []byte) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeLedger) ConfirmSignature(context.Context, string, uint64) error {
	return errors.New("not implemented")
}

func (f *fakeLedger) MintInfo(context.Context, string) (domain.MintInfo, error) {
	return f.mintInfo, f.mintInfoErr
}

func (f *fakeLedger) TokenHolderCount(context.Context, string) (int, error) {
	return f.holders, f.holdersErr
}

func (f *fakeLedger) RecentTokenTransactions(context.Context, string, time.Time) ([]domain.LedgerTx, error) {
	return f.txs, f.txsErr
}

type fakePrices struct {
	prices map[string]domain.TokenPrice
	err    error
}

func (f *fakePrices) SetPrice(context.Context, string, domain.TokenPrice) error { return nil }

func (f *fakePrices) GetPrice(_ context.Context, mint string) (domain.TokenPrice, error) {
	if f.err != nil {
		return domain.TokenPrice{}, f.err
	}
	p, ok := f.prices[mint]
	if !ok {
		return domain.TokenPrice{}, domain.ErrNotFound
	}
	return p, nil
}

type fakeWallets struct {
	balances map[string]float64
	err      error
}

func (f *fakeWallets) TokenBalance(_ context.Context, wallet, _ string) (float64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.balances[wallet], nil
}

type fakeFlows struct {
	windows []FlowWindow
}

func (f *fakeFlows) RecentFlow(_ string, n int) []FlowWindow {
	if len(f.windows) <= n {
		return f.windows
	}
	return f.windows[len(f.windows)-n:]
}

type memSnapshots struct {
	rows map[string]domain.TokenSnapshot
}

func (s *memSnapshots) Upsert(_ context.Context, snap domain.TokenSnapshot) error {
	if s.rows == nil {
		s.rows = make(map[string]domain.TokenSnapshot)
	}
	s.rows[snap.TokenMint] = snap
	return nil
}

func (s *memSnapshots) GetByMint(_ context.Context, mint string) (domain.TokenSnapshot, error) {
	snap, ok := s.rows[mint]
	if !ok {
		return domain.TokenSnapshot{}, domain.ErrNotFound
	}
	return snap, nil
}

func testParams() Params {
	return Params{
		SupplyInflatePct:      1,
		LiquidityEmergencyPct: 25,
		LiquidityCriticalPct:  10,
		ExodusPct:             50,
		HolderDropPct:         15,
		HolderWindow:          5 * time.Minute,
		CreatorSellSupplyPct:  2,
		WhaleTxSupplyPct:      5,
		SellPressurePct:       80,
		SellPressureMinutes:   3,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPosition() domain.Position {
	return domain.Position{
		TokenMint: "mintA",
		Status:    domain.PositionStatusOpen,
	}
}

func cleanBaseline() domain.TokenSnapshot {
	return domain.TokenSnapshot{
		TokenMint:    "mintA",
		Supply:       1_000_000,
		LiquidityUSD: 50_000,
		HolderCount:  1000,
		TakenAt:      time.Now(),
	}
}

func TestContractCheckAuthorityReAdded(t *testing.T) {
	check := &contractCheck{
		ledger:     &fakeLedger{mintInfo: domain.MintInfo{MintAuthority: "X", Supply: 1_000_000}},
		inflatePct: 1,
	}

	signal, err := check.Evaluate(context.Background(), testPosition(), cleanBaseline())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !signal.Dangerous {
		t.Fatal("re-added mint authority not flagged")
	}
	if signal.Severity != domain.SeverityEmergency {
		t.Fatalf("severity = %q, want emergency", signal.Severity)
	}
	if signal.Recommendation != domain.RecommendExitImmediately {
		t.Fatalf("recommendation = %q, want exit_immediately", signal.Recommendation)
	}
}

func TestContractCheckSupplyInflation(t *testing.T) {
	cases := []struct {
		name      string
		supply    float64
		dangerous bool
	}{
		{"inflated past threshold", 1_020_000, true},
		{"within threshold", 1_005_000, false},
		{"unchanged", 1_000_000, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			check := &contractCheck{
				ledger:     &fakeLedger{mintInfo: domain.MintInfo{Supply: tc.supply}},
				inflatePct: 1,
			}
			signal, err := check.Evaluate(context.Background(), testPosition(), cleanBaseline())
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if signal.Dangerous != tc.dangerous {
				t.Fatalf("dangerous = %v, want %v", signal.Dangerous, tc.dangerous)
			}
		})
	}
}

func TestLiquidityCheckTiers(t *testing.T) {
	cases := []struct {
		name         string
		liquidity    float64
		dangerous    bool
		wantSeverity domain.DangerSeverity
	}{
		{"emergency drain", 30_000, true, domain.SeverityEmergency},
		{"critical drain", 42_500, true, domain.SeverityCritical},
		{"small dip", 47_500, false, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			check := &liquidityCheck{
				prices: &fakePrices{prices: map[string]domain.TokenPrice{
					"mintA": {LiquidityUSD: tc.liquidity},
				}},
				emergencyPct: 25,
				criticalPct:  10,
			}
			signal, err := check.Evaluate(context.Background(), testPosition(), cleanBaseline())
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if signal.Dangerous != tc.dangerous {
				t.Fatalf("dangerous = %v, want %v", signal.Dangerous, tc.dangerous)
			}
			if tc.dangerous {
				if signal.Severity != tc.wantSeverity {
					t.Fatalf("severity = %q, want %q", signal.Severity, tc.wantSeverity)
				}
				if signal.Recommendation != domain.RecommendExitImmediately {
					t.Fatalf("recommendation = %q", signal.Recommendation)
				}
			}
		})
	}
}

func TestExodusCheck(t *testing.T) {
	pos := testPosition()
	pos.SourceWallets = []string{"w1", "w2", "w3"}

	check := &exodusCheck{
		wallets: &fakeWallets{balances: map[string]float64{"w1": 0, "w2": 0, "w3": 500}},
		exitPct: 50,
	}
	signal, err := check.Evaluate(context.Background(), pos, cleanBaseline())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !signal.Dangerous {
		t.Fatal("two of three exited wallets not flagged")
	}

	check.wallets = &fakeWallets{balances: map[string]float64{"w1": 0, "w2": 100, "w3": 500}}
	signal, _ = check.Evaluate(context.Background(), pos, cleanBaseline())
	if signal.Dangerous {
		t.Fatal("one of three exited wallets flagged")
	}
}

func TestHolderCheckDropWithinWindow(t *testing.T) {
	ledger := &fakeLedger{holders: 1000}
	check := newHolderCheck(ledger, 15, 5*time.Minute)
	ctx := context.Background()
	pos := testPosition()

	signal, err := check.Evaluate(ctx, pos, cleanBaseline())
	if err != nil || signal.Dangerous {
		t.Fatalf("first sample flagged: %v %v", signal, err)
	}

	ledger.holders = 900
	signal, _ = check.Evaluate(ctx, pos, cleanBaseline())
	if signal.Dangerous {
		t.Fatal("10% drop flagged at 15% threshold")
	}

	ledger.holders = 800
	signal, _ = check.Evaluate(ctx, pos, cleanBaseline())
	if !signal.Dangerous {
		t.Fatal("20% drop not flagged")
	}
	if signal.Severity != domain.SeverityCritical {
		t.Fatalf("severity = %q, want critical", signal.Severity)
	}
}

func TestHolderCheckPrunesOldSamples(t *testing.T) {
	check := newHolderCheck(&fakeLedger{}, 15, 5*time.Minute)
	now := time.Now()

	check.record("mintA", 1000, now.Add(-10*time.Minute))
	peak := check.record("mintA", 800, now)
	if peak != 800 {
		t.Fatalf("peak = %d, want 800 after pruning stale sample", peak)
	}
}

func TestCreatorCheck(t *testing.T) {
	base := cleanBaseline()
	base.CreatorWallet = "creator"
	base.CreatorBalance = 50_000

	// Sold 25k of a 1M supply: 2.5%.
	check := &creatorCheck{
		wallets:       &fakeWallets{balances: map[string]float64{"creator": 25_000}},
		sellSupplyPct: 2,
	}
	signal, err := check.Evaluate(context.Background(), testPosition(), base)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !signal.Dangerous {
		t.Fatal("creator dump not flagged")
	}

	// Sold 10k: 1%.
	check.wallets = &fakeWallets{balances: map[string]float64{"creator": 40_000}}
	signal, _ = check.Evaluate(context.Background(), testPosition(), base)
	if signal.Dangerous {
		t.Fatal("small creator sell flagged")
	}
}

func TestWhaleCheckRecommendsTighten(t *testing.T) {
	ledger := &fakeLedger{txs: []domain.LedgerTx{
		{Signature: "sig1", Side: domain.OrderSideBuy, Amount: 100_000},
		{Signature: "sig2", Side: domain.OrderSideSell, Amount: 60_000},
	}}
	check := newWhaleCheck(ledger, 5)

	signal, err := check.Evaluate(context.Background(), testPosition(), cleanBaseline())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !signal.Dangerous {
		t.Fatal("6% single-tx sell not flagged")
	}
	if signal.Recommendation != domain.RecommendTightenStop {
		t.Fatalf("recommendation = %q, want tighten_stop", signal.Recommendation)
	}
	if signal.Severity != domain.SeverityWarning {
		t.Fatalf("severity = %q, want warning", signal.Severity)
	}

	// A large buy is not a dump.
	ledger.txs = []domain.LedgerTx{{Signature: "sig3", Side: domain.OrderSideBuy, Amount: 90_000}}
	signal, _ = check.Evaluate(context.Background(), testPosition(), cleanBaseline())
	if signal.Dangerous {
		t.Fatal("whale buy flagged as dump")
	}
}

func TestSellPressureNeedsConsecutiveWindows(t *testing.T) {
	hot := FlowWindow{BuyVolume: 15, SellVolume: 85}
	cool := FlowWindow{BuyVolume: 60, SellVolume: 40}

	cases := []struct {
		name      string
		windows   []FlowWindow
		dangerous bool
	}{
		{"three hot windows", []FlowWindow{hot, hot, hot}, true},
		{"streak broken in middle", []FlowWindow{hot, cool, hot}, false},
		{"only two windows yet", []FlowWindow{hot, hot}, false},
		{"older cool window outside streak", []FlowWindow{cool, hot, hot, hot}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			check := &pressureCheck{
				flows:        &fakeFlows{windows: tc.windows},
				thresholdPct: 80,
				minutes:      3,
			}
			signal, err := check.Evaluate(context.Background(), testPosition(), cleanBaseline())
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if signal.Dangerous != tc.dangerous {
				t.Fatalf("dangerous = %v, want %v", signal.Dangerous, tc.dangerous)
			}
		})
	}
}

func TestMonitorFirstHitWins(t *testing.T) {
	// Liquidity is drained AND a whale dumped; the higher-severity
	// liquidity check runs first and wins.
	ledger := &fakeLedger{
		mintInfo: domain.MintInfo{Supply: 1_000_000},
		holders:  1000,
		txs:      []domain.LedgerTx{{Side: domain.OrderSideSell, Amount: 80_000}},
	}
	prices := &fakePrices{prices: map[string]domain.TokenPrice{
		"mintA": {LiquidityUSD: 20_000},
	}}
	snaps := &memSnapshots{}
	snaps.Upsert(context.Background(), cleanBaseline())

	m := NewMonitor(testParams(), ledger, prices, snaps, &fakeWallets{}, nil, nil, testLogger())
	signal := m.Evaluate(context.Background(), testPosition())

	if !signal.Dangerous {
		t.Fatal("drained liquidity not flagged")
	}
	if signal.Type != "liquidity_removal" {
		t.Fatalf("type = %q, want liquidity_removal", signal.Type)
	}
}

func TestMonitorFailsOpenOnCheckErrors(t *testing.T) {
	ledger := &fakeLedger{
		mintInfoErr: errors.New("rpc down"),
		holdersErr:  errors.New("rpc down"),
		txsErr:      errors.New("rpc down"),
	}
	prices := &fakePrices{err: errors.New("redis down")}
	snaps := &memSnapshots{}
	snaps.Upsert(context.Background(), cleanBaseline())

	m := NewMonitor(testParams(), ledger, prices, snaps, &fakeWallets{err: errors.New("down")}, nil, nil, testLogger())
	signal := m.Evaluate(context.Background(), testPosition())

	if signal.Dangerous {
		t.Fatal("data-source outage produced a danger signal")
	}
	if signal.Recommendation != domain.RecommendMonitor {
		t.Fatalf("recommendation = %q, want monitor", signal.Recommendation)
	}
}

func TestMonitorMissingBaselineIsSafe(t *testing.T) {
	m := NewMonitor(testParams(), &fakeLedger{}, &fakePrices{}, &memSnapshots{}, nil, nil, nil, testLogger())
	signal := m.Evaluate(context.Background(), testPosition())
	if signal.Dangerous {
		t.Fatal("missing baseline produced a danger signal")
	}
}

type staticCreators struct{ wallet string }

func (s *staticCreators) CreatorOf(string) (string, bool) { return s.wallet, s.wallet != "" }

func TestTakeSnapshotCapturesBaseline(t *testing.T) {
	ledger := &fakeLedger{
		mintInfo: domain.MintInfo{MintAuthority: "", FreezeAuthority: "", Supply: 1_000_000},
		holders:  1234,
	}
	prices := &fakePrices{prices: map[string]domain.TokenPrice{
		"mintA": {PriceUSD: 0.002, LiquidityUSD: 48_000},
	}}
	wallets := &fakeWallets{balances: map[string]float64{"creator": 70_000}}

	m := NewMonitor(testParams(), ledger, prices, &memSnapshots{}, wallets, nil, &staticCreators{wallet: "creator"}, testLogger())
	snap, err := m.TakeSnapshot(context.Background(), "mintA")
	if err != nil {
		t.Fatalf("TakeSnapshot: %v", err)
	}

	if snap.Supply != 1_000_000 || snap.HolderCount != 1234 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.LiquidityUSD != 48_000 {
		t.Fatalf("liquidity = %v, want 48000", snap.LiquidityUSD)
	}
	if snap.CreatorWallet != "creator" || snap.CreatorBalance != 70_000 {
		t.Fatalf("creator = %q/%v", snap.CreatorWallet, snap.CreatorBalance)
	}
}
