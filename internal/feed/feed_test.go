package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/volkv/snipebot/internal/domain"
)

type memPrices struct {
	mu     sync.Mutex
	prices map[string]domain.TokenPrice
}

func newMemPrices() *memPrices {
	return &memPrices{prices: make(map[string]domain.TokenPrice)}
}

func (m *memPrices) SetPrice(_ context.Context, mint string, price domain.TokenPrice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[mint] = price
	return nil
}

func (m *memPrices) GetPrice(_ context.Context, mint string) (domain.TokenPrice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prices[mint]
	if !ok {
		return domain.TokenPrice{}, domain.ErrNotFound
	}
	return p, nil
}

func testClient(prices domain.PriceCache, solUSD float64) *Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient("wss://example.invalid/api/data", prices,
		func(context.Context) (float64, error) { return solUSD, nil }, 0, logger)
}

func TestHandleTradeCachesDerivedPrice(t *testing.T) {
	prices := newMemPrices()
	c := testClient(prices, 200)
	now := time.Now()

	// 30 SOL / 1e6 tokens in the curve at $200/SOL.
	c.handleMessage(context.Background(), []byte(`{
		"signature": "sig1",
		"mint": "mintA",
		"txType": "buy",
		"solAmount": 0.5,
		"tokenAmount": 16000,
		"vSolInBondingCurve": 30,
		"vTokensInBondingCurve": 1000000
	}`), now)

	price, err := prices.GetPrice(context.Background(), "mintA")
	if err != nil {
		t.Fatalf("price not cached: %v", err)
	}
	if want := 30.0 / 1_000_000 * 200; !almost(price.PriceUSD, want) {
		t.Fatalf("price = %v, want %v", price.PriceUSD, want)
	}
	if want := 30.0 * 200; !almost(price.LiquidityUSD, want) {
		t.Fatalf("liquidity = %v, want %v", price.LiquidityUSD, want)
	}
}

func TestHandleCreateRecordsCreator(t *testing.T) {
	c := testClient(newMemPrices(), 200)

	c.handleMessage(context.Background(), []byte(`{
		"mint": "mintA",
		"txType": "create",
		"traderPublicKey": "creatorWallet"
	}`), time.Now())

	creator, ok := c.CreatorOf("mintA")
	if !ok || creator != "creatorWallet" {
		t.Fatalf("creator = %q/%v", creator, ok)
	}
	if _, ok := c.CreatorOf("other"); ok {
		t.Fatal("unknown mint resolved a creator")
	}
}

func TestHandleMessageDropsGarbage(t *testing.T) {
	prices := newMemPrices()
	c := testClient(prices, 200)

	c.handleMessage(context.Background(), []byte(`not json`), time.Now())
	c.handleMessage(context.Background(), []byte(`{"txType":"buy"}`), time.Now())
	c.handleMessage(context.Background(), []byte(`{"mint":"m","txType":"buy","vSolInBondingCurve":0}`), time.Now())

	if len(prices.prices) != 0 {
		t.Fatal("garbage message produced a price sample")
	}
}

func TestFlowBookBucketsByMinute(t *testing.T) {
	b := newFlowBook(10)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	b.add("mintA", false, 10, base.Add(5*time.Second))
	b.add("mintA", true, 40, base.Add(30*time.Second))
	b.add("mintA", true, 85, base.Add(70*time.Second))
	b.add("mintA", false, 15, base.Add(80*time.Second))

	windows := b.recent("mintA", 3)
	if len(windows) != 2 {
		t.Fatalf("got %d windows, want 2", len(windows))
	}
	if windows[0].BuyVolume != 10 || windows[0].SellVolume != 40 {
		t.Fatalf("first window = %+v", windows[0])
	}
	if windows[1].BuyVolume != 15 || windows[1].SellVolume != 85 {
		t.Fatalf("second window = %+v", windows[1])
	}
}

func TestFlowBookCapsHistory(t *testing.T) {
	b := newFlowBook(3)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 6; i++ {
		b.add("mintA", true, 1, base.Add(time.Duration(i)*time.Minute))
	}

	windows := b.recent("mintA", 10)
	if len(windows) != 3 {
		t.Fatalf("got %d windows, want 3", len(windows))
	}
	if !windows[0].Start.Equal(base.Add(3 * time.Minute)) {
		t.Fatalf("oldest kept window starts %v", windows[0].Start)
	}
}

func TestWatchTracksSubscriptionsWithoutConnection(t *testing.T) {
	c := testClient(newMemPrices(), 200)

	if err := c.Watch("mintA"); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if err := c.Watch("mintA"); err != nil {
		t.Fatalf("double Watch: %v", err)
	}
	if len(c.watched) != 1 {
		t.Fatalf("watched = %d, want 1", len(c.watched))
	}

	if err := c.Unwatch("mintA"); err != nil {
		t.Fatalf("Unwatch: %v", err)
	}
	if len(c.watched) != 0 {
		t.Fatal("mint still watched after Unwatch")
	}
}

func almost(got, want float64) bool {
	diff := got - want
	if diff < 0 {
		diff = -diff
	}
	return diff < 1e-9
}

func TestRunReturnsOnCancelWithIdleConnection(t *testing.T) {
	upgrader := websocket.Upgrader{}
	connected := make(chan struct{}, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connected <- struct{}{}
		// Drain subscription commands, never send anything back.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewClient(url, newMemPrices(),
		func(context.Context) (float64, error) { return 200, nil },
		time.Millisecond, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("client never connected")
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation while the read was blocked")
	}
}
