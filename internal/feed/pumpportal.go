// Package feed streams live trades from the PumpPortal WebSocket API into
// the price cache and the per-minute trade-flow windows the danger checks
// read.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/volkv/snipebot/internal/danger"
	"github.com/volkv/snipebot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// defaultReconnectDelay is the base delay before attempting to
	// reconnect when no override is configured.
	defaultReconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second

	// flowWindowsKept bounds the per-mint flow history.
	flowWindowsKept = 10
)

// SolPriceFunc resolves the current SOL/USD price used to denominate feed
// samples.
type SolPriceFunc func(ctx context.Context) (float64, error)

// Client is a PumpPortal WebSocket client. It subscribes to per-token trade
// streams for watched mints and to the new-token stream for creator
// attribution, and publishes derived prices into the cache.
type Client struct {
	url            string
	prices         domain.PriceCache
	solPrice       SolPriceFunc
	reconnectDelay time.Duration
	logger         *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	watched map[string]struct{}

	creatorMu sync.RWMutex
	creators  map[string]string

	flows *flowBook
}

// NewClient creates a feed client. The connection is established by Run.
// A non-positive reconnectDelay selects the default.
func NewClient(url string, prices domain.PriceCache, solPrice SolPriceFunc, reconnectDelay time.Duration, logger *slog.Logger) *Client {
	if reconnectDelay <= 0 {
		reconnectDelay = defaultReconnectDelay
	}
	return &Client{
		url:            url,
		prices:         prices,
		solPrice:       solPrice,
		reconnectDelay: reconnectDelay,
		logger:         logger.With(slog.String("component", "pumpportal_feed")),
		watched:        make(map[string]struct{}),
		creators:       make(map[string]string),
		flows:          newFlowBook(flowWindowsKept),
	}
}

var _ danger.TradeFlow = (*Client)(nil)
var _ danger.CreatorResolver = (*Client)(nil)

// command is the PumpPortal subscription envelope.
type command struct {
	Method string   `json:"method"`
	Keys   []string `json:"keys,omitempty"`
}

// tradeMessage is a PumpPortal token trade event. New-token events share the
// envelope; they carry TxType "create" and no curve state.
type tradeMessage struct {
	Signature      string  `json:"signature"`
	Mint           string  `json:"mint"`
	TxType         string  `json:"txType"`
	TraderKey      string  `json:"traderPublicKey"`
	SolAmount      float64 `json:"solAmount"`
	TokenAmount    float64 `json:"tokenAmount"`
	VSolInCurve    float64 `json:"vSolInBondingCurve"`
	VTokensInCurve float64 `json:"vTokensInBondingCurve"`
}

// Run connects and pumps messages until ctx is cancelled, reconnecting with
// exponential backoff and restoring subscriptions after each reconnect.
func (c *Client) Run(ctx context.Context) error {
	delay := c.reconnectDelay
	for {
		if err := c.connect(ctx); err != nil {
			c.logger.Warn("connect failed",
				slog.String("url", c.url),
				slog.String("error", err.Error()),
			)
		} else {
			delay = c.reconnectDelay
			err := c.readLoop(ctx)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("connection lost", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// Watch subscribes to the trade stream for a mint. Safe to call before Run;
// the subscription is sent on (re)connect.
func (c *Client) Watch(mint string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.watched[mint]; ok {
		return nil
	}
	c.watched[mint] = struct{}{}
	if c.conn == nil {
		return nil
	}
	return c.send(command{Method: "subscribeTokenTrade", Keys: []string{mint}})
}

// Unwatch drops the trade subscription for a mint once its position closes.
func (c *Client) Unwatch(mint string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.watched[mint]; !ok {
		return nil
	}
	delete(c.watched, mint)
	c.flows.drop(mint)
	if c.conn == nil {
		return nil
	}
	return c.send(command{Method: "unsubscribeTokenTrade", Keys: []string{mint}})
}

// RecentFlow returns up to n most recent one-minute flow windows for a mint,
// oldest first.
func (c *Client) RecentFlow(mint string, n int) []danger.FlowWindow {
	return c.flows.recent(mint, n)
}

// CreatorOf returns the creator wallet observed on the mint's creation event.
func (c *Client) CreatorOf(mint string) (string, bool) {
	c.creatorMu.RLock()
	defer c.creatorMu.RUnlock()
	creator, ok := c.creators[mint]
	return creator, ok
}

func (c *Client) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	mints := make([]string, 0, len(c.watched))
	for mint := range c.watched {
		mints = append(mints, mint)
	}

	// Creator attribution needs the creation events.
	if err := c.send(command{Method: "subscribeNewToken"}); err != nil {
		c.mu.Unlock()
		conn.Close()
		return fmt.Errorf("feed: subscribe new tokens: %w", err)
	}
	if len(mints) > 0 {
		if err := c.send(command{Method: "subscribeTokenTrade", Keys: mints}); err != nil {
			c.mu.Unlock()
			conn.Close()
			return fmt.Errorf("feed: restore subscriptions: %w", err)
		}
	}
	c.mu.Unlock()

	c.logger.Info("connected", slog.String("url", c.url), slog.Int("watched", len(mints)))
	return nil
}

// send writes one command. Caller must hold c.mu.
func (c *Client) send(cmd command) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("feed: marshal command: %w", err)
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *Client) readLoop(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	defer func() {
		conn.Close()
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
	}()

	// ReadMessage blocks with no ctx awareness; closing the conn is the
	// only way to unblock it on shutdown.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.handleMessage(ctx, payload, time.Now())
	}
}

// handleMessage parses one feed event and routes it. Unknown or partial
// messages are dropped silently; the stream mixes event shapes.
func (c *Client) handleMessage(ctx context.Context, payload []byte, now time.Time) {
	var msg tradeMessage
	if err := json.Unmarshal(payload, &msg); err != nil || msg.Mint == "" {
		return
	}

	switch msg.TxType {
	case "create":
		c.creatorMu.Lock()
		c.creators[msg.Mint] = msg.TraderKey
		c.creatorMu.Unlock()
	case "buy", "sell":
		c.handleTrade(ctx, msg, now)
	}
}

func (c *Client) handleTrade(ctx context.Context, msg tradeMessage, now time.Time) {
	c.flows.add(msg.Mint, msg.TxType == "sell", msg.SolAmount, now)

	if msg.VTokensInCurve <= 0 || msg.VSolInCurve <= 0 {
		return
	}
	solUSD, err := c.solPrice(ctx)
	if err != nil || solUSD <= 0 {
		c.logger.Warn("no SOL/USD price, dropping sample", slog.String("mint", msg.Mint))
		return
	}

	price := domain.TokenPrice{
		PriceUSD:     msg.VSolInCurve / msg.VTokensInCurve * solUSD,
		LiquidityUSD: msg.VSolInCurve * solUSD,
		At:           now,
	}
	if err := c.prices.SetPrice(ctx, msg.Mint, price); err != nil {
		c.logger.Warn("cache price failed",
			slog.String("mint", msg.Mint),
			slog.String("error", err.Error()),
		)
	}
}
