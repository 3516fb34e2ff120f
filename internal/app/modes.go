package app

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/volkv/snipebot/internal/config"
	"github.com/volkv/snipebot/internal/danger"
	"github.com/volkv/snipebot/internal/domain"
	"github.com/volkv/snipebot/internal/engine"
	"github.com/volkv/snipebot/internal/executor"
	"github.com/volkv/snipebot/internal/feed"
	"github.com/volkv/snipebot/internal/platform/jupiter"
	"github.com/volkv/snipebot/internal/position"
)

// TradeMode runs the full engine: the live trade feed, the buy-signal intake,
// the execution coordinator, and the position manager loop. With trading
// disabled in the configuration every order fails its precondition check, so
// the mode degrades to observation with the complete pipeline in place.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	logger := slog.Default()

	tracker := position.NewTracker(deps.PositionStore, exitParamsFrom(&a.cfg.Exit), logger)
	if err := tracker.Restore(ctx); err != nil {
		return fmt.Errorf("app: restore positions: %w", err)
	}

	feedClient := a.newFeed(deps)
	monitor := danger.NewMonitor(dangerParamsFrom(&a.cfg.Danger),
		deps.Ledger, deps.PriceCache, deps.SnapshotStore,
		deps.Ledger, feedClient, feedClient, logger)

	execParams := executorParamsFrom(a.cfg)
	buyer := executor.NewBuyExecutor(deps.Quotes, deps.Ledger, deps.PriceCache, deps.SignerKey, execParams, logger)
	seller := executor.NewSellExecutor(deps.Quotes, deps.Ledger, deps.PriceCache, deps.SignerKey, execParams, logger)

	coordinator := engine.NewCoordinator(engine.CoordinatorConfig{
		Queue:     engine.NewQueue(a.cfg.Trading.BuyTTL.Duration),
		Buyer:     buyer,
		Seller:    seller,
		Positions: tracker,
		Interval:  a.cfg.Trading.QueueInterval.Duration,
		ExecStore: deps.ExecutionStore,
		Notifier:  deps.Notifier,
		Bus:       deps.SignalBus,
		Logger:    logger,
	})
	intake := engine.NewIntake(deps.SignalBus, coordinator, a.cfg.Trading.DefaultBuySOL, logger)

	manager := position.NewManager(a.managerConfig(deps, tracker, coordinator, monitor, feedClient))

	coordinator.OnBuyExecuted(manager.HandleBuyExecuted)
	coordinator.OnSellExecuted(manager.HandleSellExecuted)
	coordinator.OnFailover(func(ctx context.Context) {
		endpoint := deps.Ledger.SwitchEndpoint()
		a.logger.WarnContext(ctx, "switched rpc endpoint", slog.String("endpoint", endpoint))
	})

	a.rewatch(tracker, feedClient)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return feedClient.Run(ctx) })
	g.Go(func() error { return intake.Run(ctx) })
	g.Go(func() error { return coordinator.Run(ctx) })
	g.Go(func() error { return manager.Run(ctx) })
	if deps.Archiver != nil {
		g.Go(func() error { return deps.Archiver.Run(ctx) })
	}
	return g.Wait()
}

// MonitorMode runs the feed and the position manager loop without the
// execution path. Exit decisions are logged instead of dispatched, which
// makes it safe to point at a production database for observation.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	logger := slog.Default()

	tracker := position.NewTracker(deps.PositionStore, exitParamsFrom(&a.cfg.Exit), logger)
	if err := tracker.Restore(ctx); err != nil {
		return fmt.Errorf("app: restore positions: %w", err)
	}

	feedClient := a.newFeed(deps)
	monitor := danger.NewMonitor(dangerParamsFrom(&a.cfg.Danger),
		deps.Ledger, deps.PriceCache, deps.SnapshotStore,
		deps.Ledger, feedClient, feedClient, logger)

	manager := position.NewManager(a.managerConfig(deps, tracker,
		&loggingSellQueuer{logger: a.logger}, monitor, feedClient))

	a.rewatch(tracker, feedClient)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return feedClient.Run(ctx) })
	g.Go(func() error { return manager.Run(ctx) })
	if deps.Archiver != nil {
		g.Go(func() error { return deps.Archiver.Run(ctx) })
	}
	return g.Wait()
}

// newFeed builds the PumpPortal client with SOL/USD resolved through the
// aggregator's price endpoint.
func (a *App) newFeed(deps *Dependencies) *feed.Client {
	solPrice := func(ctx context.Context) (float64, error) {
		price, err := deps.Quotes.Price(ctx, jupiter.WrappedSOLMint)
		if err != nil {
			return 0, err
		}
		return price.PriceUSD, nil
	}
	return feed.NewClient(a.cfg.Feed.WsURL, deps.PriceCache, solPrice,
		a.cfg.Feed.ReconnectDelay.Duration, slog.Default())
}

// managerConfig assembles the position-manager wiring shared by both modes.
func (a *App) managerConfig(
	deps *Dependencies,
	tracker *position.Tracker,
	sells position.SellQueuer,
	monitor *danger.Monitor,
	feedClient *feed.Client,
) position.ManagerConfig {
	return position.ManagerConfig{
		Tracker:     tracker,
		Sells:       sells,
		Danger:      monitor,
		Snapshot:    monitor,
		Prices:      deps.PriceCache,
		Feed:        deps.Quotes,
		Watch:       feedClient,
		Trades:      deps.TradeStore,
		Snapshots:   deps.SnapshotStore,
		Outcomes:    deps.Outcomes,
		Notifier:    deps.Notifier,
		Bus:         deps.SignalBus,
		Interval:    a.cfg.Trading.MonitorInterval.Duration,
		FanOut:      a.cfg.Trading.MonitorFanOut,
		TightenStep: a.cfg.Danger.TightenStep,
		Logger:      slog.Default(),
	}
}

// rewatch resubscribes feed coverage for positions restored from the store.
func (a *App) rewatch(tracker *position.Tracker, feedClient *feed.Client) {
	for _, pos := range tracker.ListOpen() {
		if err := feedClient.Watch(pos.TokenMint); err != nil {
			a.logger.Warn("resubscribe failed",
				slog.String("mint", pos.TokenMint),
				slog.String("error", err.Error()),
			)
		}
	}
}

// loggingSellQueuer stands in for the coordinator in monitor mode. It records
// the exit the engine would have dispatched.
type loggingSellQueuer struct {
	logger *slog.Logger
}

func (q *loggingSellQueuer) EnqueueSell(order domain.SellOrder) bool {
	q.logger.Info("exit suppressed in monitor mode",
		slog.String("mint", order.TokenMint),
		slog.Float64("percent", order.Percent),
		slog.String("urgency", order.Urgency.String()),
		slog.String("reason", order.Reason),
	)
	return true
}

// exitParamsFrom maps the exit section of the configuration onto the exit
// policy knobs.
func exitParamsFrom(cfg *config.ExitConfig) position.ExitParams {
	levels := make([]position.TakeProfitLevel, 0, len(cfg.TakeProfits))
	for _, lvl := range cfg.TakeProfits {
		levels = append(levels, position.TakeProfitLevel{
			TargetPercent: lvl.TargetPercent,
			SellPercent:   lvl.SellPercent,
		})
	}
	return position.ExitParams{
		HardStopFraction: cfg.HardStopFraction,
		TrailActivatePct: cfg.TrailActivatePct,
		TrailWidthBase:   cfg.TrailWidthBase,
		TrailWidthMid:    cfg.TrailWidthMid,
		TrailWidthTight:  cfg.TrailWidthTight,
		TrailMidPct:      cfg.TrailMidPct,
		TrailTightPct:    cfg.TrailTightPct,
		MaxFlatHold:      cfg.MaxFlatHold.Duration,
		FlatLowPct:       cfg.FlatLowPct,
		FlatHighPct:      cfg.FlatHighPct,
		TakeProfits:      levels,
	}
}

// dangerParamsFrom maps the danger section of the configuration onto the
// monitor thresholds.
func dangerParamsFrom(cfg *config.DangerConfig) danger.Params {
	return danger.Params{
		SupplyInflatePct:      cfg.SupplyInflatePct,
		LiquidityEmergencyPct: cfg.LiquidityEmergencyPct,
		LiquidityCriticalPct:  cfg.LiquidityCriticalPct,
		ExodusPct:             cfg.ExodusPct,
		HolderDropPct:         cfg.HolderDropPct,
		HolderWindow:          cfg.HolderWindow.Duration,
		CreatorSellSupplyPct:  cfg.CreatorSellSupplyPct,
		WhaleTxSupplyPct:      cfg.WhaleTxSupplyPct,
		SellPressurePct:       cfg.SellPressurePct,
		SellPressureMinutes:   cfg.SellPressureMinutes,
	}
}

// executorParamsFrom maps the trading section of the configuration onto the
// execution tuning knobs.
func executorParamsFrom(cfg *config.Config) executor.Params {
	return executor.Params{
		MaxRetries:           cfg.Trading.MaxRetries,
		BaseFeeLamports:      cfg.Trading.BaseFeeLamports,
		MaxFeeLamports:       cfg.Trading.MaxFeeLamports,
		RetryFeeFactor:       cfg.Trading.RetryFeeFactor,
		SellFeeFactor:        cfg.Trading.SellFeeFactor,
		SlippageNormalBps:    cfg.Trading.SlippageNormalBps,
		SlippageUrgentBps:    cfg.Trading.SlippageUrgentBps,
		SlippageEmergencyBps: cfg.Trading.SlippageEmergencyBps,
		MaxPriceImpactPct:    cfg.Trading.MaxPriceImpactPct,
		BuyRetryDelay:        cfg.Trading.BuyRetryDelay.Duration,
		SellRetryDelay:       cfg.Trading.SellRetryDelay.Duration,
		ConfirmTimeout:       cfg.Solana.ConfirmTimeout.Duration,
	}
}
