package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/volkv/snipebot/internal/domain"
	"github.com/volkv/snipebot/internal/notify"
)

// ExecutionsChannel is the pub/sub channel lifecycle events are published on.
const ExecutionsChannel = "snipebot:executions"

// BuyRunner executes one buy request to completion.
type BuyRunner interface {
	Execute(ctx context.Context, req domain.BuyRequest) domain.ExecutionResult
}

// SellRunner executes one sell order to completion.
type SellRunner interface {
	Execute(ctx context.Context, order domain.SellOrder, amountTokens float64) domain.ExecutionResult
}

// PositionResolver looks up the live position for a mint. The coordinator
// uses it to turn a sell percentage into a token quantity.
type PositionResolver interface {
	Lookup(mint string) (domain.Position, bool)
}

// completion carries an executor result back into the coordinator loop.
// All queue and store mutation happens on that single goroutine.
type completion struct {
	side domain.OrderSide
	buy  domain.BuyRequest
	sell domain.SellOrder
	res  domain.ExecutionResult
}

// Coordinator drains the order queue on a fixed schedule. Each tick it
// dispatches at most one sell and one buy, sells strictly first; executions
// run in their own goroutines and report back through a completion channel.
type Coordinator struct {
	queue     *Queue
	buyer     BuyRunner
	seller    SellRunner
	positions PositionResolver
	latency   *LatencyMonitor
	counters  executionCounters

	interval  time.Duration
	execStore domain.ExecutionStore
	notifier  *notify.Notifier
	bus       domain.SignalBus
	logger    *slog.Logger

	completions chan completion

	// Lifecycle hooks, all optional.
	onBuyExecuted  func(ctx context.Context, req domain.BuyRequest, res domain.ExecutionResult)
	onSellExecuted func(ctx context.Context, order domain.SellOrder, res domain.ExecutionResult)
	onFailover     func(ctx context.Context)
}

// CoordinatorConfig wires a Coordinator.
type CoordinatorConfig struct {
	Queue     *Queue
	Buyer     BuyRunner
	Seller    SellRunner
	Positions PositionResolver
	Interval  time.Duration
	ExecStore domain.ExecutionStore
	Notifier  *notify.Notifier
	Bus       domain.SignalBus
	Logger    *slog.Logger
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	return &Coordinator{
		queue:       cfg.Queue,
		buyer:       cfg.Buyer,
		seller:      cfg.Seller,
		positions:   cfg.Positions,
		latency:     NewLatencyMonitor(),
		interval:    cfg.Interval,
		execStore:   cfg.ExecStore,
		notifier:    cfg.Notifier,
		bus:         cfg.Bus,
		logger:      cfg.Logger.With(slog.String("component", "coordinator")),
		completions: make(chan completion, 16),
	}
}

// OnBuyExecuted registers a hook invoked after every buy completion.
func (c *Coordinator) OnBuyExecuted(fn func(ctx context.Context, req domain.BuyRequest, res domain.ExecutionResult)) {
	c.onBuyExecuted = fn
}

// OnSellExecuted registers a hook invoked after every sell completion.
func (c *Coordinator) OnSellExecuted(fn func(ctx context.Context, order domain.SellOrder, res domain.ExecutionResult)) {
	c.onSellExecuted = fn
}

// OnFailover registers a hook invoked when the latency monitor recommends
// abandoning the current RPC endpoint.
func (c *Coordinator) OnFailover(fn func(ctx context.Context)) {
	c.onFailover = fn
}

// EnqueueBuy queues a buy request, assigning an ID when absent. It reports
// false when a buy for the token is already pending or in flight.
func (c *Coordinator) EnqueueBuy(req domain.BuyRequest) bool {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	ok := c.queue.EnqueueBuy(req)
	if !ok {
		c.logger.Debug("duplicate buy suppressed", slog.String("mint", req.TokenMint))
	}
	return ok
}

// EnqueueSell queues a sell order, assigning an ID when absent. It reports
// false when a sell for the token is already pending or in flight.
func (c *Coordinator) EnqueueSell(order domain.SellOrder) bool {
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	ok := c.queue.EnqueueSell(order)
	if !ok {
		c.logger.Debug("duplicate sell suppressed", slog.String("mint", order.TokenMint))
	}
	return ok
}

// LatencyStats exposes the current latency window snapshot.
func (c *Coordinator) LatencyStats() LatencyStats {
	return c.latency.Stats()
}

// Stats exposes the lifetime execution counters.
func (c *Coordinator) Stats() ExecutionStats {
	return c.counters.snapshot()
}

// QueueStatus reports the current pending queue depths.
func (c *Coordinator) QueueStatus() (buys, sells int) {
	return c.queue.Depths()
}

// Run drives the scheduling loop until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.logger.Info("coordinator started", slog.Duration("interval", c.interval))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("coordinator stopped")
			return ctx.Err()
		case done := <-c.completions:
			c.handleCompletion(ctx, done)
		case <-ticker.C:
			c.dispatch(ctx)
		}
	}
}

// dispatch starts at most one sell and one buy execution. Exits always take
// priority over entries: protecting capital at risk beats deploying more.
func (c *Coordinator) dispatch(ctx context.Context) {
	if order, ok := c.queue.DequeueSell(); ok {
		c.dispatchSell(ctx, order)
	}

	req, expired, ok := c.queue.DequeueBuy(time.Now())
	for _, e := range expired {
		c.recordExpiredBuy(ctx, e)
	}
	if ok {
		c.dispatchBuy(ctx, req)
	}
}

func (c *Coordinator) dispatchSell(ctx context.Context, order domain.SellOrder) {
	pos, found := c.positions.Lookup(order.TokenMint)
	if !found || !pos.IsOpen() || pos.RemainingAmount <= 0 {
		c.logger.Warn("sell dropped, no open position",
			slog.String("mint", order.TokenMint),
			slog.String("reason", order.Reason),
		)
		c.queue.Release(order.TokenMint, domain.OrderSideSell)
		return
	}

	// Percent applies to the original entry amount; never sell more than
	// what remains.
	tokens := pos.EntryAmount * order.Percent / 100
	if tokens > pos.RemainingAmount {
		tokens = pos.RemainingAmount
	}

	c.logger.Info("dispatching sell",
		slog.String("mint", order.TokenMint),
		slog.String("urgency", order.Urgency.String()),
		slog.String("reason", order.Reason),
		slog.Float64("tokens", tokens),
	)

	go func() {
		res := c.seller.Execute(ctx, order, tokens)
		select {
		case c.completions <- completion{side: domain.OrderSideSell, sell: order, res: res}:
		case <-ctx.Done():
		}
	}()
}

func (c *Coordinator) dispatchBuy(ctx context.Context, req domain.BuyRequest) {
	c.logger.Info("dispatching buy",
		slog.String("mint", req.TokenMint),
		slog.Float64("amount_sol", req.AmountSOL),
	)

	go func() {
		res := c.buyer.Execute(ctx, req)
		select {
		case c.completions <- completion{side: domain.OrderSideBuy, buy: req, res: res}:
		case <-ctx.Done():
		}
	}()
}

// handleCompletion is the single writer for post-execution bookkeeping.
func (c *Coordinator) handleCompletion(ctx context.Context, done completion) {
	var mint, id, reason string
	switch done.side {
	case domain.OrderSideBuy:
		mint, id = done.buy.TokenMint, done.buy.ID
	case domain.OrderSideSell:
		mint, id, reason = done.sell.TokenMint, done.sell.ID, done.sell.Reason
	}

	c.queue.Release(mint, done.side)
	c.counters.record(done.res.Success, done.res.Attempts)
	c.persistExecution(ctx, id, mint, done.side, reason, done.res)

	// Failed attempts feed the monitor too; a confirmation timeout is the
	// loudest signal an endpoint can give.
	c.observeLatency(ctx, done.res.Latency)

	if done.res.Success {
		c.notify(ctx, "order_executed", fmt.Sprintf("%s executed", done.side),
			fmt.Sprintf("%s %s sig=%s price=%.8f attempts=%d", done.side, mint,
				done.res.Signature, done.res.Price, done.res.Attempts))
	} else {
		c.logger.Error("execution failed",
			slog.String("side", string(done.side)),
			slog.String("mint", mint),
			slog.Int("attempts", done.res.Attempts),
			slog.String("error", done.res.Err),
		)
		c.notify(ctx, "execution_failed", fmt.Sprintf("%s failed", done.side),
			fmt.Sprintf("%s %s attempts=%d err=%s", done.side, mint, done.res.Attempts, done.res.Err))
	}

	c.publishEvent(ctx, done.side, mint, reason, done.res)

	switch done.side {
	case domain.OrderSideBuy:
		if c.onBuyExecuted != nil {
			c.onBuyExecuted(ctx, done.buy, done.res)
		}
	case domain.OrderSideSell:
		if c.onSellExecuted != nil {
			c.onSellExecuted(ctx, done.sell, done.res)
		}
	}
}

// observeLatency feeds the monitor and escalates a failover recommendation.
func (c *Coordinator) observeLatency(ctx context.Context, latency time.Duration) {
	if latency <= 0 {
		return
	}
	if latency >= LatencyCritical {
		c.logger.Warn("critical execution latency", slog.Int64("latency_ms", latency.Milliseconds()))
	} else if latency >= LatencyWarn {
		c.logger.Warn("elevated execution latency", slog.Int64("latency_ms", latency.Milliseconds()))
	}

	if c.latency.Observe(latency) {
		stats := c.latency.Stats()
		c.logger.Error("rpc endpoint degraded, recommending failover",
			slog.Int("consecutive_critical", stats.ConsecutiveCritical),
			slog.Int64("avg_ms", stats.Average.Milliseconds()),
		)
		c.notify(ctx, "rpc_failover_recommended", "RPC failover recommended",
			fmt.Sprintf("%d consecutive critical latencies, avg %dms",
				stats.ConsecutiveCritical, stats.Average.Milliseconds()))
		if c.onFailover != nil {
			c.onFailover(ctx)
		}
	}
}

func (c *Coordinator) recordExpiredBuy(ctx context.Context, req domain.BuyRequest) {
	c.logger.Warn("buy expired before dispatch",
		slog.String("mint", req.TokenMint),
		slog.Time("queued_at", req.QueuedAt),
	)
	c.persistExecution(ctx, req.ID, req.TokenMint, domain.OrderSideBuy, "expired",
		domain.ExecutionResult{Success: false, Err: "expired before dispatch"})
}

func (c *Coordinator) persistExecution(ctx context.Context, id, mint string, side domain.OrderSide, reason string, res domain.ExecutionResult) {
	if c.execStore == nil {
		return
	}
	if id == "" {
		id = uuid.NewString()
	}
	rec := domain.ExecutionRecord{
		ID:          id,
		TokenMint:   mint,
		Side:        side,
		Success:     res.Success,
		Signature:   res.Signature,
		Price:       res.Price,
		AmountIn:    res.AmountIn,
		AmountOut:   res.AmountOut,
		SlippagePct: res.SlippagePct,
		FeeLamports: res.FeeLamports,
		Attempts:    res.Attempts,
		LatencyMs:   res.Latency.Milliseconds(),
		Reason:      reason,
		Err:         res.Err,
		ExecutedAt:  time.Now(),
	}
	if err := c.execStore.Insert(ctx, rec); err != nil {
		c.logger.Error("persist execution failed",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
	}
}

// executionEvent is the JSON shape published to the signal bus.
type executionEvent struct {
	Side      string  `json:"side"`
	TokenMint string  `json:"token_mint"`
	Success   bool    `json:"success"`
	Signature string  `json:"signature,omitempty"`
	Price     float64 `json:"price,omitempty"`
	Reason    string  `json:"reason,omitempty"`
	Error     string  `json:"error,omitempty"`
	At        int64   `json:"at"`
}

func (c *Coordinator) publishEvent(ctx context.Context, side domain.OrderSide, mint, reason string, res domain.ExecutionResult) {
	if c.bus == nil {
		return
	}
	payload, err := json.Marshal(executionEvent{
		Side:      string(side),
		TokenMint: mint,
		Success:   res.Success,
		Signature: res.Signature,
		Price:     res.Price,
		Reason:    reason,
		Error:     res.Err,
		At:        time.Now().Unix(),
	})
	if err != nil {
		return
	}
	if err := c.bus.Publish(ctx, ExecutionsChannel, payload); err != nil {
		c.logger.Warn("publish execution event failed", slog.String("error", err.Error()))
	}
}

func (c *Coordinator) notify(ctx context.Context, event, title, message string) {
	if c.notifier == nil {
		return
	}
	_ = c.notifier.Notify(ctx, event, title, message)
}
