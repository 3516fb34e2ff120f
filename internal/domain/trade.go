package domain

import "time"

// TradeRecord is the durable row written for every completed (fully exited)
// trade. Fingerprint is an opaque JSON blob the learning collaborator uses to
// correlate the trade with the wallet signals that produced it.
type TradeRecord struct {
	ID          int64
	TokenMint   string
	EntryPrice  float64
	ExitPrice   float64
	Amount      float64
	EntryTime   time.Time
	ExitTime    time.Time
	ExitReason  string
	PnLPercent  float64
	PnLUSD      float64
	Conviction  float64
	Fingerprint map[string]any
}

// Outcome reports whether the trade closed at a profit.
func (t TradeRecord) Outcome() string {
	if t.PnLPercent > 0 {
		return "win"
	}
	return "loss"
}
