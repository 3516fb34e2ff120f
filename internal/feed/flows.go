package feed

import (
	"sync"
	"time"

	"github.com/volkv/snipebot/internal/danger"
)

// flowBook aggregates trade volume into per-mint one-minute windows. The
// sell-pressure danger check reads these.
type flowBook struct {
	mu     sync.Mutex
	keep   int
	byMint map[string][]danger.FlowWindow
}

func newFlowBook(keep int) *flowBook {
	return &flowBook{
		keep:   keep,
		byMint: make(map[string][]danger.FlowWindow),
	}
}

// add folds one trade into the minute bucket it belongs to, appending a new
// bucket when the minute rolls over.
func (b *flowBook) add(mint string, sell bool, solAmount float64, at time.Time) {
	bucket := at.Truncate(time.Minute)

	b.mu.Lock()
	defer b.mu.Unlock()

	windows := b.byMint[mint]
	if n := len(windows); n == 0 || !windows[n-1].Start.Equal(bucket) {
		windows = append(windows, danger.FlowWindow{Start: bucket})
		if len(windows) > b.keep {
			windows = windows[len(windows)-b.keep:]
		}
	}

	w := &windows[len(windows)-1]
	if sell {
		w.SellVolume += solAmount
	} else {
		w.BuyVolume += solAmount
	}
	b.byMint[mint] = windows
}

// recent returns up to n most recent windows for a mint, oldest first.
func (b *flowBook) recent(mint string, n int) []danger.FlowWindow {
	b.mu.Lock()
	defer b.mu.Unlock()

	windows := b.byMint[mint]
	if len(windows) > n {
		windows = windows[len(windows)-n:]
	}
	out := make([]danger.FlowWindow, len(windows))
	copy(out, windows)
	return out
}

// drop forgets a mint's history once its position closes.
func (b *flowBook) drop(mint string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.byMint, mint)
}
