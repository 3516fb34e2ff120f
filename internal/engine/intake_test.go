package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/volkv/snipebot/internal/domain"
)

type chanBus struct {
	msgs chan []byte
}

func (b *chanBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.msgs <- payload
	return nil
}

func (b *chanBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	return b.msgs, nil
}

var _ domain.SignalBus = (*chanBus)(nil)

type capturingQueuer struct {
	mu   sync.Mutex
	reqs []domain.BuyRequest
}

func (q *capturingQueuer) EnqueueBuy(req domain.BuyRequest) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.reqs = append(q.reqs, req)
	return true
}

func (q *capturingQueuer) queued() []domain.BuyRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]domain.BuyRequest(nil), q.reqs...)
}

func TestIntakeQueuesDecodedSignals(t *testing.T) {
	bus := &chanBus{msgs: make(chan []byte, 4)}
	queue := &capturingQueuer{}
	in := NewIntake(bus, queue, 0.5, slog.New(slog.NewTextHandler(io.Discard, nil)))

	bus.msgs <- []byte(`{"token_mint":"MintA","amount_sol":1.2,"conviction":0.9,"source_wallets":["w1","w2"]}`)
	bus.msgs <- []byte(`{"token_mint":"MintB","conviction":0.4}`)
	bus.msgs <- []byte(`not json`)
	bus.msgs <- []byte(`{"conviction":0.4}`)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go func() {
		for len(queue.queued()) < 2 && ctx.Err() == nil {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()
	if err := in.Run(ctx); err != context.Canceled && err != context.DeadlineExceeded {
		t.Fatalf("Run returned %v", err)
	}

	reqs := queue.queued()
	if len(reqs) != 2 {
		t.Fatalf("queued %d requests, want 2", len(reqs))
	}
	first := reqs[0]
	if first.TokenMint != "MintA" || first.AmountSOL != 1.2 || first.Conviction != 0.9 {
		t.Errorf("first request = %+v", first)
	}
	if len(first.SourceWallets) != 2 {
		t.Errorf("SourceWallets = %v, want 2 wallets", first.SourceWallets)
	}
	if second := reqs[1]; second.AmountSOL != 0.5 {
		t.Errorf("defaulted amount = %v, want 0.5", second.AmountSOL)
	}
	if reqs[1].QueuedAt.IsZero() {
		t.Error("QueuedAt not stamped")
	}
}
