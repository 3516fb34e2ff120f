package engine

import (
	"testing"
	"time"

	"github.com/volkv/snipebot/internal/domain"
)

func TestQueueDedupPerTokenAndSide(t *testing.T) {
	q := NewQueue(5 * time.Minute)

	if !q.EnqueueBuy(domain.BuyRequest{ID: "1", TokenMint: "A"}) {
		t.Fatal("first buy must enqueue")
	}
	if q.EnqueueBuy(domain.BuyRequest{ID: "2", TokenMint: "A"}) {
		t.Error("duplicate buy for same token must be suppressed")
	}
	// Opposite side is independent.
	if !q.EnqueueSell(domain.SellOrder{ID: "3", TokenMint: "A", Urgency: domain.UrgencyNormal}) {
		t.Error("sell for same token must be allowed alongside a buy")
	}
	// Different token is independent.
	if !q.EnqueueBuy(domain.BuyRequest{ID: "4", TokenMint: "B"}) {
		t.Error("buy for other token must be allowed")
	}
}

func TestQueueDedupCoversInFlight(t *testing.T) {
	q := NewQueue(5 * time.Minute)
	q.EnqueueBuy(domain.BuyRequest{ID: "1", TokenMint: "A", QueuedAt: time.Now()})

	if _, _, ok := q.DequeueBuy(time.Now()); !ok {
		t.Fatal("dequeue should return the buy")
	}
	// Now nothing pending, but A|buy is in flight.
	if q.EnqueueBuy(domain.BuyRequest{ID: "2", TokenMint: "A"}) {
		t.Error("buy must be suppressed while the previous one is in flight")
	}

	q.Release("A", domain.OrderSideBuy)
	if !q.EnqueueBuy(domain.BuyRequest{ID: "3", TokenMint: "A"}) {
		t.Error("buy must be allowed after the in-flight one completes")
	}
}

func TestQueueSellOrdering(t *testing.T) {
	q := NewQueue(0)
	q.EnqueueSell(domain.SellOrder{ID: "n1", TokenMint: "N1", Urgency: domain.UrgencyNormal})
	q.EnqueueSell(domain.SellOrder{ID: "u1", TokenMint: "U1", Urgency: domain.UrgencyUrgent})
	q.EnqueueSell(domain.SellOrder{ID: "e1", TokenMint: "E1", Urgency: domain.UrgencyEmergency})
	q.EnqueueSell(domain.SellOrder{ID: "e2", TokenMint: "E2", Urgency: domain.UrgencyEmergency})
	q.EnqueueSell(domain.SellOrder{ID: "u2", TokenMint: "U2", Urgency: domain.UrgencyUrgent})

	want := []string{"e1", "e2", "u1", "u2", "n1"}
	for i, id := range want {
		order, ok := q.DequeueSell()
		if !ok {
			t.Fatalf("dequeue %d: queue empty", i)
		}
		if order.ID != id {
			t.Errorf("dequeue %d = %s, want %s", i, order.ID, id)
		}
	}
	if _, ok := q.DequeueSell(); ok {
		t.Error("queue should be empty")
	}
}

func TestQueueBuyFIFO(t *testing.T) {
	q := NewQueue(5 * time.Minute)
	now := time.Now()
	q.EnqueueBuy(domain.BuyRequest{ID: "1", TokenMint: "A", QueuedAt: now})
	q.EnqueueBuy(domain.BuyRequest{ID: "2", TokenMint: "B", QueuedAt: now})

	req, _, ok := q.DequeueBuy(now)
	if !ok || req.ID != "1" {
		t.Errorf("first dequeue = %+v, want ID 1", req)
	}
	req, _, ok = q.DequeueBuy(now)
	if !ok || req.ID != "2" {
		t.Errorf("second dequeue = %+v, want ID 2", req)
	}
}

func TestQueueBuyTTLExpiry(t *testing.T) {
	q := NewQueue(5 * time.Minute)
	now := time.Now()
	q.EnqueueBuy(domain.BuyRequest{ID: "old", TokenMint: "A", QueuedAt: now.Add(-6 * time.Minute)})
	q.EnqueueBuy(domain.BuyRequest{ID: "fresh", TokenMint: "B", QueuedAt: now.Add(-time.Minute)})

	req, expired, ok := q.DequeueBuy(now)
	if !ok {
		t.Fatal("expected a dequeued buy")
	}
	if req.ID != "fresh" {
		t.Errorf("dequeued %s, want fresh", req.ID)
	}
	if len(expired) != 1 || expired[0].ID != "old" {
		t.Errorf("expired = %+v, want [old]", expired)
	}
}

func TestQueueDepths(t *testing.T) {
	q := NewQueue(time.Minute)
	q.EnqueueBuy(domain.BuyRequest{ID: "1", TokenMint: "A"})
	q.EnqueueSell(domain.SellOrder{ID: "2", TokenMint: "B"})
	q.EnqueueSell(domain.SellOrder{ID: "3", TokenMint: "C"})

	buys, sells := q.Depths()
	if buys != 1 || sells != 2 {
		t.Errorf("depths = (%d, %d), want (1, 2)", buys, sells)
	}
}
