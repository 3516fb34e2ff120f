package danger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/volkv/snipebot/internal/domain"
)

// contractCheck detects post-entry contract mutations: a re-added mint or
// freeze authority, or supply inflation past the threshold. Any of these
// means the token contract is hostile.
type contractCheck struct {
	ledger     domain.LedgerClient
	inflatePct float64
}

func (c *contractCheck) Name() string { return "contract_change" }

func (c *contractCheck) Evaluate(ctx context.Context, pos domain.Position, base domain.TokenSnapshot) (domain.DangerSignal, error) {
	info, err := c.ledger.MintInfo(ctx, pos.TokenMint)
	if err != nil {
		return domain.Safe(), err
	}

	if base.MintAuthority == "" && info.MintAuthority != "" {
		return exitSignal(c.Name(), domain.SeverityEmergency,
			fmt.Sprintf("mint authority re-added: %s", info.MintAuthority)), nil
	}
	if base.FreezeAuthority == "" && info.FreezeAuthority != "" {
		return exitSignal(c.Name(), domain.SeverityEmergency,
			fmt.Sprintf("freeze authority re-added: %s", info.FreezeAuthority)), nil
	}
	if base.Supply > 0 && info.Supply > base.Supply*(1+c.inflatePct/100) {
		inflated := (info.Supply - base.Supply) / base.Supply * 100
		return exitSignal(c.Name(), domain.SeverityEmergency,
			fmt.Sprintf("supply inflated %.2f%% since entry", inflated)), nil
	}
	return domain.Safe(), nil
}

// liquidityCheck compares pooled liquidity against the entry baseline.
type liquidityCheck struct {
	prices       domain.PriceCache
	emergencyPct float64
	criticalPct  float64
}

func (c *liquidityCheck) Name() string { return "liquidity_removal" }

func (c *liquidityCheck) Evaluate(ctx context.Context, pos domain.Position, base domain.TokenSnapshot) (domain.DangerSignal, error) {
	if base.LiquidityUSD <= 0 {
		return domain.Safe(), nil
	}
	price, err := c.prices.GetPrice(ctx, pos.TokenMint)
	if err != nil {
		return domain.Safe(), err
	}
	if price.LiquidityUSD <= 0 {
		return domain.Safe(), nil
	}

	dropPct := (base.LiquidityUSD - price.LiquidityUSD) / base.LiquidityUSD * 100
	switch {
	case dropPct >= c.emergencyPct:
		return exitSignal(c.Name(), domain.SeverityEmergency,
			fmt.Sprintf("liquidity down %.1f%% from entry", dropPct)), nil
	case dropPct >= c.criticalPct:
		return exitSignal(c.Name(), domain.SeverityCritical,
			fmt.Sprintf("liquidity down %.1f%% from entry", dropPct)), nil
	}
	return domain.Safe(), nil
}

// exodusCheck watches the tracked wallets whose activity triggered the entry.
// When most of them have dumped their bags, follow them out.
type exodusCheck struct {
	wallets domain.WalletRegistry
	exitPct float64
}

func (c *exodusCheck) Name() string { return "wallet_exodus" }

func (c *exodusCheck) Evaluate(ctx context.Context, pos domain.Position, _ domain.TokenSnapshot) (domain.DangerSignal, error) {
	if len(pos.SourceWallets) == 0 || c.wallets == nil {
		return domain.Safe(), nil
	}

	exited := 0
	for _, wallet := range pos.SourceWallets {
		bal, err := c.wallets.TokenBalance(ctx, wallet, pos.TokenMint)
		if err != nil {
			// Treat an unreadable wallet as still holding.
			continue
		}
		if bal <= 0 {
			exited++
		}
	}

	exitedPct := float64(exited) / float64(len(pos.SourceWallets)) * 100
	if exitedPct >= c.exitPct {
		return exitSignal(c.Name(), domain.SeverityCritical,
			fmt.Sprintf("%d of %d tracked wallets exited", exited, len(pos.SourceWallets))), nil
	}
	return domain.Safe(), nil
}

// holderCheck samples the holder count each cycle and flags a collapse
// within the trailing window.
type holderCheck struct {
	ledger  domain.LedgerClient
	dropPct float64
	window  time.Duration

	mu      sync.Mutex
	samples map[string][]holderSample
}

type holderSample struct {
	count int
	at    time.Time
}

func newHolderCheck(ledger domain.LedgerClient, dropPct float64, window time.Duration) *holderCheck {
	return &holderCheck{
		ledger:  ledger,
		dropPct: dropPct,
		window:  window,
		samples: make(map[string][]holderSample),
	}
}

func (c *holderCheck) Name() string { return "holder_collapse" }

func (c *holderCheck) Evaluate(ctx context.Context, pos domain.Position, _ domain.TokenSnapshot) (domain.DangerSignal, error) {
	count, err := c.ledger.TokenHolderCount(ctx, pos.TokenMint)
	if err != nil {
		return domain.Safe(), err
	}
	now := time.Now()
	peak := c.record(pos.TokenMint, count, now)
	if peak <= 0 {
		return domain.Safe(), nil
	}

	dropPct := float64(peak-count) / float64(peak) * 100
	if dropPct >= c.dropPct {
		return exitSignal(c.Name(), domain.SeverityCritical,
			fmt.Sprintf("holders down %.1f%% in %s (%d from %d)", dropPct, c.window, count, peak)), nil
	}
	return domain.Safe(), nil
}

// record appends the sample, prunes outside the window, and returns the peak
// holder count seen inside the window.
func (c *holderCheck) record(mint string, count int, now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := now.Add(-c.window)
	kept := c.samples[mint][:0]
	for _, s := range c.samples[mint] {
		if s.at.After(cutoff) {
			kept = append(kept, s)
		}
	}
	kept = append(kept, holderSample{count: count, at: now})
	c.samples[mint] = kept

	peak := 0
	for _, s := range kept {
		if s.count > peak {
			peak = s.count
		}
	}
	return peak
}

// creatorCheck watches the token creator's balance. A creator unloading a
// meaningful slice of supply tends to precede the rug.
type creatorCheck struct {
	wallets       domain.WalletRegistry
	sellSupplyPct float64
}

func (c *creatorCheck) Name() string { return "creator_sell" }

func (c *creatorCheck) Evaluate(ctx context.Context, pos domain.Position, base domain.TokenSnapshot) (domain.DangerSignal, error) {
	if base.CreatorWallet == "" || base.Supply <= 0 || c.wallets == nil {
		return domain.Safe(), nil
	}
	bal, err := c.wallets.TokenBalance(ctx, base.CreatorWallet, pos.TokenMint)
	if err != nil {
		return domain.Safe(), err
	}

	sold := base.CreatorBalance - bal
	if sold <= 0 {
		return domain.Safe(), nil
	}
	soldSupplyPct := sold / base.Supply * 100
	if soldSupplyPct >= c.sellSupplyPct {
		return exitSignal(c.Name(), domain.SeverityCritical,
			fmt.Sprintf("creator sold %.2f%% of supply", soldSupplyPct)), nil
	}
	return domain.Safe(), nil
}

// whaleCheck scans transactions since the previous cycle for a single sell
// moving a large slice of supply. It recommends tightening, not exiting.
type whaleCheck struct {
	ledger      domain.LedgerClient
	supplyPct   float64
	mu          sync.Mutex
	lastScanned map[string]time.Time
}

func newWhaleCheck(ledger domain.LedgerClient, supplyPct float64) *whaleCheck {
	return &whaleCheck{
		ledger:      ledger,
		supplyPct:   supplyPct,
		lastScanned: make(map[string]time.Time),
	}
}

func (c *whaleCheck) Name() string { return "whale_dump" }

func (c *whaleCheck) Evaluate(ctx context.Context, pos domain.Position, base domain.TokenSnapshot) (domain.DangerSignal, error) {
	if base.Supply <= 0 {
		return domain.Safe(), nil
	}

	c.mu.Lock()
	since, ok := c.lastScanned[pos.TokenMint]
	now := time.Now()
	c.lastScanned[pos.TokenMint] = now
	c.mu.Unlock()
	if !ok {
		since = now.Add(-time.Minute)
	}

	txs, err := c.ledger.RecentTokenTransactions(ctx, pos.TokenMint, since)
	if err != nil {
		return domain.Safe(), err
	}

	for _, tx := range txs {
		if tx.Side != domain.OrderSideSell {
			continue
		}
		movedPct := tx.Amount / base.Supply * 100
		if movedPct >= c.supplyPct {
			return domain.DangerSignal{
				Dangerous:      true,
				Type:           c.Name(),
				Severity:       domain.SeverityWarning,
				Reason:         fmt.Sprintf("single tx moved %.2f%% of supply (%s)", movedPct, tx.Signature),
				Recommendation: domain.RecommendTightenStop,
			}, nil
		}
	}
	return domain.Safe(), nil
}

// pressureCheck flags sustained one-sided sell flow: every one of the last N
// one-minute windows sell-dominated past the threshold. A single hot minute
// is noise; N in a row is distribution.
type pressureCheck struct {
	flows        TradeFlow
	thresholdPct float64
	minutes      int
}

func (c *pressureCheck) Name() string { return "sell_pressure" }

func (c *pressureCheck) Evaluate(_ context.Context, pos domain.Position, _ domain.TokenSnapshot) (domain.DangerSignal, error) {
	if c.flows == nil || c.minutes <= 0 {
		return domain.Safe(), nil
	}
	windows := c.flows.RecentFlow(pos.TokenMint, c.minutes)
	if len(windows) < c.minutes {
		return domain.Safe(), nil
	}

	for _, w := range windows {
		total := w.BuyVolume + w.SellVolume
		if total <= 0 {
			return domain.Safe(), nil
		}
		if w.SellVolume/total*100 < c.thresholdPct {
			// The streak is broken; the counter starts over.
			return domain.Safe(), nil
		}
	}
	return exitSignal(c.Name(), domain.SeverityCritical,
		fmt.Sprintf("sell flow above %.0f%% for %d consecutive minutes", c.thresholdPct, c.minutes)), nil
}

func exitSignal(checkName string, severity domain.DangerSeverity, reason string) domain.DangerSignal {
	return domain.DangerSignal{
		Dangerous:      true,
		Type:           checkName,
		Severity:       severity,
		Reason:         reason,
		Recommendation: domain.RecommendExitImmediately,
	}
}
