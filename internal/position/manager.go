package position

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/volkv/snipebot/internal/domain"
	"github.com/volkv/snipebot/internal/notify"
)

// PositionsChannel is the pub/sub channel position lifecycle events go out on.
const PositionsChannel = "snipebot:positions"

// SellQueuer enqueues sell orders with the coordinator.
type SellQueuer interface {
	EnqueueSell(order domain.SellOrder) bool
}

// DangerEvaluator runs the risk checks against one live position.
type DangerEvaluator interface {
	Evaluate(ctx context.Context, pos domain.Position) domain.DangerSignal
}

// SnapshotTaker captures the on-chain baseline of a token at entry.
type SnapshotTaker interface {
	TakeSnapshot(ctx context.Context, mint string) (domain.TokenSnapshot, error)
}

// MintWatcher subscribes live feed coverage for a mint while its position is
// open.
type MintWatcher interface {
	Watch(mint string) error
	Unwatch(mint string) error
}

// ManagerConfig wires a Manager.
type ManagerConfig struct {
	Tracker  *Tracker
	Sells    SellQueuer
	Danger   DangerEvaluator
	Snapshot SnapshotTaker

	Prices domain.PriceCache
	Feed   domain.PriceFeed
	Watch  MintWatcher

	Trades    domain.TradeStore
	Snapshots domain.SnapshotStore
	Outcomes  domain.OutcomeRecorder
	Notifier  *notify.Notifier
	Bus       domain.SignalBus

	Interval time.Duration
	// FanOut bounds how many positions are checked concurrently per sweep.
	FanOut int
	// TightenStep is how much each tighten_stop recommendation narrows
	// the trailing width.
	TightenStep float64

	Logger *slog.Logger
}

// Manager sweeps every open position on a fixed cadence: refresh the price,
// run the danger checks, then the stop-loss and take-profit policies. The
// first decision that produces an exit wins the cycle.
type Manager struct {
	cfg     ManagerConfig
	tracker *Tracker
	stops   *StopLossPolicy
	profits *TakeProfitPolicy
	logger  *slog.Logger
}

// NewManager creates a Manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.FanOut <= 0 {
		cfg.FanOut = 8
	}
	return &Manager{
		cfg:     cfg,
		tracker: cfg.Tracker,
		stops:   NewStopLossPolicy(cfg.Tracker.params),
		profits: NewTakeProfitPolicy(cfg.Tracker.params),
		logger:  cfg.Logger.With(slog.String("component", "position_manager")),
	}
}

// Run drives the sweep loop until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.logger.Info("position manager started",
		slog.Duration("interval", m.cfg.Interval),
		slog.Int("fan_out", m.cfg.FanOut),
	)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("position manager stopped")
			return ctx.Err()
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

// sweep checks all open positions with bounded concurrency. One slow RPC
// call must not stall the whole book.
func (m *Manager) sweep(ctx context.Context) {
	open := m.tracker.ListOpen()
	if len(open) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.FanOut)
	for _, pos := range open {
		pos := pos
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("position check panicked",
						slog.String("mint", pos.TokenMint),
						slog.Any("panic", r),
					)
				}
			}()
			m.checkPosition(gctx, pos)
			return nil
		})
	}
	_ = g.Wait()
}

// checkPosition runs one position through the cycle: price update, danger
// checks, stop loss, take profit. Ordering matters; a rug signal must beat a
// ladder exit to the queue.
func (m *Manager) checkPosition(ctx context.Context, pos domain.Position) {
	price, err := m.latestPrice(ctx, pos.TokenMint)
	if err != nil {
		m.logger.Warn("no price for position, skipping cycle",
			slog.String("mint", pos.TokenMint),
			slog.String("error", err.Error()),
		)
		return
	}

	updated, err := m.tracker.UpdatePrice(ctx, pos.TokenMint, price.PriceUSD)
	if err != nil {
		return
	}

	// Danger checks first; exit recommendations preempt everything else.
	if m.cfg.Danger != nil {
		signal := m.cfg.Danger.Evaluate(ctx, updated)
		if signal.Dangerous {
			switch signal.Recommendation {
			case domain.RecommendExitImmediately:
				m.enqueueExit(updated.TokenMint, ExitDecision{
					SellPercent: 100,
					Urgency:     domain.UrgencyEmergency,
					Reason:      signal.Type,
					Level:       -1,
				})
				m.notify(ctx, "danger_exit", "Danger exit",
					fmt.Sprintf("%s: %s", updated.TokenMint, signal.Reason))
				return
			case domain.RecommendTightenStop:
				if _, err := m.tracker.Tighten(ctx, updated.TokenMint, m.cfg.TightenStep); err == nil {
					// Re-read so the stop check below sees the
					// tightened stop.
					if p, ok := m.tracker.Lookup(updated.TokenMint); ok {
						updated = p
					}
				}
			}
		}
	}

	if decision, ok := m.stops.Evaluate(updated, time.Now()); ok {
		m.enqueueExit(updated.TokenMint, decision)
		return
	}

	if decision, ok := m.profits.Evaluate(updated); ok {
		m.enqueueExit(updated.TokenMint, decision)
	}
}

// latestPrice reads the feed-updated cache, falling back to the aggregator
// price endpoint when the cache is cold.
func (m *Manager) latestPrice(ctx context.Context, mint string) (domain.TokenPrice, error) {
	price, err := m.cfg.Prices.GetPrice(ctx, mint)
	if err == nil && price.PriceUSD > 0 {
		return price, nil
	}
	if m.cfg.Feed == nil {
		return domain.TokenPrice{}, fmt.Errorf("position: price for %s: %w", mint, domain.ErrNotFound)
	}
	return m.cfg.Feed.Price(ctx, mint)
}

func (m *Manager) enqueueExit(mint string, decision ExitDecision) {
	queued := m.cfg.Sells.EnqueueSell(domain.SellOrder{
		TokenMint: mint,
		Percent:   decision.SellPercent,
		Urgency:   decision.Urgency,
		Reason:    decision.Reason,
		QueuedAt:  time.Now(),
	})
	if queued {
		m.logger.Info("exit queued",
			slog.String("mint", mint),
			slog.String("reason", decision.Reason),
			slog.String("urgency", decision.Urgency.String()),
			slog.Float64("sell_pct", decision.SellPercent),
		)
	}
}

// HandleBuyExecuted is the coordinator's buy-completion hook: open the
// position, take the entry snapshot, and announce it.
func (m *Manager) HandleBuyExecuted(ctx context.Context, req domain.BuyRequest, res domain.ExecutionResult) {
	if !res.Success {
		return
	}

	pos, err := m.tracker.Open(ctx, req, res)
	if err != nil {
		m.logger.Error("open position failed",
			slog.String("mint", req.TokenMint),
			slog.String("error", err.Error()),
		)
		return
	}

	if m.cfg.Watch != nil {
		if err := m.cfg.Watch.Watch(req.TokenMint); err != nil {
			m.logger.Warn("feed watch failed",
				slog.String("mint", req.TokenMint),
				slog.String("error", err.Error()),
			)
		}
	}

	if m.cfg.Snapshot != nil && m.cfg.Snapshots != nil {
		snap, err := m.cfg.Snapshot.TakeSnapshot(ctx, req.TokenMint)
		if err != nil {
			m.logger.Warn("entry snapshot failed",
				slog.String("mint", req.TokenMint),
				slog.String("error", err.Error()),
			)
		} else if err := m.cfg.Snapshots.Upsert(ctx, snap); err != nil {
			m.logger.Warn("persist snapshot failed",
				slog.String("mint", req.TokenMint),
				slog.String("error", err.Error()),
			)
		}
	}

	m.notify(ctx, "position_opened", "Position opened",
		fmt.Sprintf("%s entry=%.8f amount=%.4f", pos.TokenMint, pos.EntryPrice, pos.EntryAmount))
	m.publish(ctx, "opened", pos, "")
}

// HandleSellExecuted is the coordinator's sell-completion hook: reduce or
// close the position and record the completed trade.
func (m *Manager) HandleSellExecuted(ctx context.Context, order domain.SellOrder, res domain.ExecutionResult) {
	if !res.Success {
		return
	}

	level := TakeProfitLevelFromReason(order.Reason)
	pos, err := m.tracker.Reduce(ctx, order.TokenMint, res.AmountIn, level)
	if err != nil {
		m.logger.Error("reduce position failed",
			slog.String("mint", order.TokenMint),
			slog.String("error", err.Error()),
		)
		return
	}

	if !FullyExited(pos) {
		m.publish(ctx, "reduced", pos, order.Reason)
		return
	}

	trade, err := m.tracker.Close(ctx, order.TokenMint, res.Price, order.Reason)
	if err != nil {
		m.logger.Error("close position failed",
			slog.String("mint", order.TokenMint),
			slog.String("error", err.Error()),
		)
		return
	}

	if m.cfg.Trades != nil {
		if err := m.cfg.Trades.Insert(ctx, trade); err != nil {
			m.logger.Error("persist trade failed",
				slog.String("mint", trade.TokenMint),
				slog.String("error", err.Error()),
			)
		}
	}
	if m.cfg.Outcomes != nil {
		if err := m.cfg.Outcomes.RecordOutcome(ctx, trade); err != nil {
			m.logger.Warn("record outcome failed",
				slog.String("mint", trade.TokenMint),
				slog.String("error", err.Error()),
			)
		}
	}

	if m.cfg.Watch != nil {
		_ = m.cfg.Watch.Unwatch(order.TokenMint)
	}
	// Drop the danger baseline for the closed mint if the evaluator caches
	// one.
	if f, ok := m.cfg.Danger.(interface{ Forget(string) }); ok {
		f.Forget(order.TokenMint)
	}

	m.notify(ctx, "position_closed", "Position closed",
		fmt.Sprintf("%s %s pnl=%.2f%% ($%.2f) reason=%s",
			trade.TokenMint, trade.Outcome(), trade.PnLPercent, trade.PnLUSD, trade.ExitReason))

	// The tracker already dropped the position from memory; rebuild the
	// event payload from the trade.
	m.publish(ctx, "closed", domain.Position{
		TokenMint:  order.TokenMint,
		EntryPrice: trade.EntryPrice,
		PnLPercent: trade.PnLPercent,
		PnLUSD:     trade.PnLUSD,
		Status:     domain.PositionStatusClosed,
		ExitReason: trade.ExitReason,
	}, order.Reason)
}

// positionEvent is the JSON shape published to the signal bus.
type positionEvent struct {
	Event      string  `json:"event"`
	TokenMint  string  `json:"token_mint"`
	EntryPrice float64 `json:"entry_price"`
	PnLPercent float64 `json:"pnl_percent"`
	PnLUSD     float64 `json:"pnl_usd"`
	Remaining  float64 `json:"remaining"`
	Reason     string  `json:"reason,omitempty"`
	At         int64   `json:"at"`
}

func (m *Manager) publish(ctx context.Context, event string, pos domain.Position, reason string) {
	if m.cfg.Bus == nil {
		return
	}
	payload, err := json.Marshal(positionEvent{
		Event:      event,
		TokenMint:  pos.TokenMint,
		EntryPrice: pos.EntryPrice,
		PnLPercent: pos.PnLPercent,
		PnLUSD:     pos.PnLUSD,
		Remaining:  pos.RemainingAmount,
		Reason:     reason,
		At:         time.Now().Unix(),
	})
	if err != nil {
		return
	}
	if err := m.cfg.Bus.Publish(ctx, PositionsChannel, payload); err != nil {
		m.logger.Warn("publish position event failed", slog.String("error", err.Error()))
	}
}

func (m *Manager) notify(ctx context.Context, event, title, message string) {
	if m.cfg.Notifier == nil {
		return
	}
	_ = m.cfg.Notifier.Notify(ctx, event, title, message)
}
