// Package engine implements the order queue and the execution coordinator
// that schedules buys and sells against the executors.
package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/volkv/snipebot/internal/domain"
)

// Queue holds pending buy requests and sell orders. Duplicate suppression is
// keyed on (token mint, side) and spans both pending and in-flight work, so a
// token can have at most one buy and one sell anywhere in the pipeline.
type Queue struct {
	mu       sync.Mutex
	buys     []domain.BuyRequest
	sells    []domain.SellOrder
	inFlight map[string]struct{}
	buyTTL   time.Duration
}

// NewQueue creates a Queue. Buy requests older than buyTTL are dropped at
// dequeue time; a sniper entry quoted minutes ago is already stale.
func NewQueue(buyTTL time.Duration) *Queue {
	return &Queue{
		inFlight: make(map[string]struct{}),
		buyTTL:   buyTTL,
	}
}

func key(mint string, side domain.OrderSide) string {
	return mint + "|" + string(side)
}

// EnqueueBuy adds a buy request. It reports false when a buy for the same
// token is already pending or in flight.
func (q *Queue) EnqueueBuy(req domain.BuyRequest) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.containsLocked(req.TokenMint, domain.OrderSideBuy) {
		return false
	}
	if req.QueuedAt.IsZero() {
		req.QueuedAt = time.Now()
	}
	q.buys = append(q.buys, req)
	return true
}

// EnqueueSell adds a sell order. It reports false when a sell for the same
// token is already pending or in flight.
func (q *Queue) EnqueueSell(order domain.SellOrder) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.containsLocked(order.TokenMint, domain.OrderSideSell) {
		return false
	}
	if order.QueuedAt.IsZero() {
		order.QueuedAt = time.Now()
	}
	q.sells = append(q.sells, order)
	return true
}

// containsLocked reports whether a (mint, side) pair is pending or in flight.
// Caller holds q.mu.
func (q *Queue) containsLocked(mint string, side domain.OrderSide) bool {
	if _, ok := q.inFlight[key(mint, side)]; ok {
		return true
	}
	switch side {
	case domain.OrderSideBuy:
		for _, b := range q.buys {
			if b.TokenMint == mint {
				return true
			}
		}
	case domain.OrderSideSell:
		for _, s := range q.sells {
			if s.TokenMint == mint {
				return true
			}
		}
	}
	return false
}

// Contains reports whether a (mint, side) pair is pending or in flight.
func (q *Queue) Contains(mint string, side domain.OrderSide) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.containsLocked(mint, side)
}

// DequeueSell removes and returns the highest-priority sell order, marking it
// in flight. Ordering is emergency, then urgent, then normal; FIFO within a
// class. The boolean is false when no sell is pending.
func (q *Queue) DequeueSell() (domain.SellOrder, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.sells) == 0 {
		return domain.SellOrder{}, false
	}

	// Stable sort keeps FIFO order inside each urgency class.
	sort.SliceStable(q.sells, func(i, j int) bool {
		return q.sells[i].Urgency < q.sells[j].Urgency
	})

	order := q.sells[0]
	q.sells = q.sells[1:]
	q.inFlight[key(order.TokenMint, domain.OrderSideSell)] = struct{}{}
	return order, true
}

// DequeueBuy removes and returns the oldest non-expired buy request, marking
// it in flight. Expired requests are discarded and returned via the second
// slice so the caller can record them.
func (q *Queue) DequeueBuy(now time.Time) (domain.BuyRequest, []domain.BuyRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var expired []domain.BuyRequest
	for len(q.buys) > 0 {
		req := q.buys[0]
		q.buys = q.buys[1:]
		if q.buyTTL > 0 && now.Sub(req.QueuedAt) > q.buyTTL {
			expired = append(expired, req)
			continue
		}
		q.inFlight[key(req.TokenMint, domain.OrderSideBuy)] = struct{}{}
		return req, expired, true
	}
	return domain.BuyRequest{}, expired, false
}

// Release clears the in-flight marker for a (mint, side) pair. Called when
// its execution completes, successfully or not.
func (q *Queue) Release(mint string, side domain.OrderSide) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inFlight, key(mint, side))
}

// Depths returns the pending buy and sell counts.
func (q *Queue) Depths() (buys, sells int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buys), len(q.sells)
}
