// Package danger watches live positions for on-chain risk: contract
// mutations, liquidity pulls, wallet exits, and hostile trade flow. Checks
// run in descending severity order and the first hit wins. Every check fails
// open on a data-source error so an RPC outage cannot itself force an exit.
package danger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/volkv/snipebot/internal/domain"
)

// Check is one pluggable risk strategy. Thresholds live in the check's own
// fields; the monitor only sequences them.
type Check interface {
	Name() string
	Evaluate(ctx context.Context, pos domain.Position, base domain.TokenSnapshot) (domain.DangerSignal, error)
}

// FlowWindow is one minute of aggregated trade flow for a token.
type FlowWindow struct {
	BuyVolume  float64
	SellVolume float64
	Start      time.Time
}

// TradeFlow exposes recent per-minute trade-flow windows, newest last. The
// live feed maintains these from the trade stream.
type TradeFlow interface {
	RecentFlow(mint string, n int) []FlowWindow
}

// CreatorResolver maps a mint to its creator wallet when known.
type CreatorResolver interface {
	CreatorOf(mint string) (string, bool)
}

// Params are the danger-check thresholds.
type Params struct {
	SupplyInflatePct      float64
	LiquidityEmergencyPct float64
	LiquidityCriticalPct  float64
	ExodusPct             float64
	HolderDropPct         float64
	HolderWindow          time.Duration
	CreatorSellSupplyPct  float64
	WhaleTxSupplyPct      float64
	SellPressurePct       float64
	SellPressureMinutes   int
}

// Monitor runs the ordered check set against one position per call and takes
// the entry baseline snapshot when a position opens.
type Monitor struct {
	checks    []Check
	ledger    domain.LedgerClient
	prices    domain.PriceCache
	snapshots domain.SnapshotStore
	wallets   domain.WalletRegistry
	creators  CreatorResolver
	logger    *slog.Logger

	mu       sync.Mutex
	baseline map[string]domain.TokenSnapshot
}

// NewMonitor builds a Monitor with the standard check order: contract change,
// liquidity removal, wallet exodus, holder collapse, creator sell, whale
// dump, sell pressure.
func NewMonitor(
	params Params,
	ledger domain.LedgerClient,
	prices domain.PriceCache,
	snapshots domain.SnapshotStore,
	wallets domain.WalletRegistry,
	flows TradeFlow,
	creators CreatorResolver,
	logger *slog.Logger,
) *Monitor {
	checks := []Check{
		&contractCheck{ledger: ledger, inflatePct: params.SupplyInflatePct},
		&liquidityCheck{prices: prices, emergencyPct: params.LiquidityEmergencyPct, criticalPct: params.LiquidityCriticalPct},
		&exodusCheck{wallets: wallets, exitPct: params.ExodusPct},
		newHolderCheck(ledger, params.HolderDropPct, params.HolderWindow),
		&creatorCheck{wallets: wallets, sellSupplyPct: params.CreatorSellSupplyPct},
		newWhaleCheck(ledger, params.WhaleTxSupplyPct),
		&pressureCheck{flows: flows, thresholdPct: params.SellPressurePct, minutes: params.SellPressureMinutes},
	}
	return &Monitor{
		checks:    checks,
		ledger:    ledger,
		prices:    prices,
		snapshots: snapshots,
		wallets:   wallets,
		creators:  creators,
		logger:    logger.With(slog.String("component", "danger_monitor")),
		baseline:  make(map[string]domain.TokenSnapshot),
	}
}

// Evaluate runs the check set for one position. The first dangerous verdict
// returns immediately; a check that errors is logged and skipped.
func (m *Monitor) Evaluate(ctx context.Context, pos domain.Position) domain.DangerSignal {
	base, err := m.baselineFor(ctx, pos.TokenMint)
	if err != nil {
		m.logger.Warn("no baseline snapshot, skipping checks",
			slog.String("mint", pos.TokenMint),
			slog.String("error", err.Error()),
		)
		return domain.Safe()
	}

	for _, check := range m.checks {
		signal, err := check.Evaluate(ctx, pos, base)
		if err != nil {
			m.logger.Warn("danger check degraded",
				slog.String("check", check.Name()),
				slog.String("mint", pos.TokenMint),
				slog.String("error", err.Error()),
			)
			continue
		}
		if signal.Dangerous {
			m.logger.Warn("danger signal",
				slog.String("check", check.Name()),
				slog.String("mint", pos.TokenMint),
				slog.String("severity", string(signal.Severity)),
				slog.String("recommendation", string(signal.Recommendation)),
				slog.String("reason", signal.Reason),
			)
			return signal
		}
	}
	return domain.Safe()
}

// TakeSnapshot captures the on-chain baseline of a token for later checks.
func (m *Monitor) TakeSnapshot(ctx context.Context, mint string) (domain.TokenSnapshot, error) {
	info, err := m.ledger.MintInfo(ctx, mint)
	if err != nil {
		return domain.TokenSnapshot{}, fmt.Errorf("danger: snapshot %s: %w", mint, err)
	}

	snap := domain.TokenSnapshot{
		TokenMint:       mint,
		MintAuthority:   info.MintAuthority,
		FreezeAuthority: info.FreezeAuthority,
		Supply:          info.Supply,
		TakenAt:         time.Now(),
	}

	if holders, err := m.ledger.TokenHolderCount(ctx, mint); err == nil {
		snap.HolderCount = holders
	} else {
		m.logger.Warn("snapshot holder count failed",
			slog.String("mint", mint),
			slog.String("error", err.Error()),
		)
	}
	if price, err := m.prices.GetPrice(ctx, mint); err == nil {
		snap.LiquidityUSD = price.LiquidityUSD
	}
	if m.creators != nil {
		if creator, ok := m.creators.CreatorOf(mint); ok {
			snap.CreatorWallet = creator
			if m.wallets != nil {
				if bal, err := m.wallets.TokenBalance(ctx, creator, mint); err == nil {
					snap.CreatorBalance = bal
				}
			}
		}
	}

	m.mu.Lock()
	m.baseline[mint] = snap
	m.mu.Unlock()
	return snap, nil
}

// Forget drops the cached baseline for a closed position.
func (m *Monitor) Forget(mint string) {
	m.mu.Lock()
	delete(m.baseline, mint)
	m.mu.Unlock()
}

// baselineFor returns the cached entry snapshot, falling back to the durable
// store after a restart.
func (m *Monitor) baselineFor(ctx context.Context, mint string) (domain.TokenSnapshot, error) {
	m.mu.Lock()
	snap, ok := m.baseline[mint]
	m.mu.Unlock()
	if ok {
		return snap, nil
	}

	if m.snapshots == nil {
		return domain.TokenSnapshot{}, domain.ErrNotFound
	}
	snap, err := m.snapshots.GetByMint(ctx, mint)
	if err != nil {
		return domain.TokenSnapshot{}, err
	}
	m.mu.Lock()
	m.baseline[mint] = snap
	m.mu.Unlock()
	return snap, nil
}
