package position

import (
	"time"

	"github.com/volkv/snipebot/internal/domain"
)

// ExitDecision is a policy verdict: sell this percentage of the original
// entry at the given urgency. Level is the ladder index for take-profit
// exits, -1 otherwise.
type ExitDecision struct {
	SellPercent float64
	Urgency     domain.Urgency
	Reason      string
	Level       int
}

// StopLossPolicy decides price- and time-based full exits.
type StopLossPolicy struct {
	params ExitParams
}

// NewStopLossPolicy creates the policy.
func NewStopLossPolicy(params ExitParams) *StopLossPolicy {
	return &StopLossPolicy{params: params}
}

// Evaluate returns a full-exit decision when the position breached its stop
// or has sat flat past the hold limit. The boolean is false when no exit is
// due.
func (s *StopLossPolicy) Evaluate(p domain.Position, now time.Time) (ExitDecision, bool) {
	// Stop breach. An armed trail and the initial hard stop share one
	// price; only the reported reason differs.
	if p.CurrentPrice > 0 && p.CurrentPrice <= p.StopLossPrice {
		reason := "stop_loss"
		if p.TrailingActive {
			reason = "trailing_stop"
		}
		return ExitDecision{
			SellPercent: 100,
			Urgency:     domain.UrgencyUrgent,
			Reason:      reason,
			Level:       -1,
		}, true
	}

	// Time stop: a position neither winning nor losing is dead capital.
	if s.params.MaxFlatHold > 0 && p.Age(now) >= s.params.MaxFlatHold &&
		p.PnLPercent >= s.params.FlatLowPct && p.PnLPercent <= s.params.FlatHighPct {
		return ExitDecision{
			SellPercent: 100,
			Urgency:     domain.UrgencyNormal,
			Reason:      "time_stop",
			Level:       -1,
		}, true
	}

	return ExitDecision{}, false
}
