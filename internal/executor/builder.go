// Package executor implements buy and sell execution against the swap
// aggregator: quoting, fee escalation, transaction validation, submission,
// and confirmation with retries.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/volkv/snipebot/internal/domain"
)

// Params are the execution tuning knobs shared by both executors.
type Params struct {
	// MaxRetries is the number of additional attempts after the first.
	MaxRetries int

	BaseFeeLamports uint64
	MaxFeeLamports  uint64
	// RetryFeeFactor compounds per retry attempt.
	RetryFeeFactor float64
	// SellFeeFactor scales exit fees relative to entries.
	SellFeeFactor float64

	SlippageNormalBps    int
	SlippageUrgentBps    int
	SlippageEmergencyBps int

	// MaxPriceImpactPct rejects quotes that would move the pool more than
	// this percentage.
	MaxPriceImpactPct float64

	BuyRetryDelay  time.Duration
	SellRetryDelay time.Duration
	ConfirmTimeout time.Duration
}

// feeFor computes the priority fee in lamports for one attempt:
//
//	base * retryFactor^(attempt-1) * typeMultiplier * urgencyMultiplier
//
// capped at MaxFeeLamports. attempt is 1-based. Buys always use the normal
// urgency multiplier; urgency only escalates exits.
func (p Params) feeFor(side domain.OrderSide, urgency domain.Urgency, attempt int) uint64 {
	fee := float64(p.BaseFeeLamports)
	for i := 1; i < attempt; i++ {
		fee *= p.RetryFeeFactor
	}
	if side == domain.OrderSideSell {
		fee *= p.SellFeeFactor
		fee *= urgency.FeeMultiplier()
	}
	if capped := float64(p.MaxFeeLamports); fee > capped {
		fee = capped
	}
	return uint64(fee)
}

// slippageFor returns the slippage tolerance in basis points for an urgency
// class. Emergencies accept a much worse fill rather than risk a revert.
func (p Params) slippageFor(urgency domain.Urgency) int {
	switch urgency {
	case domain.UrgencyEmergency:
		return p.SlippageEmergencyBps
	case domain.UrgencyUrgent:
		return p.SlippageUrgentBps
	default:
		return p.SlippageNormalBps
	}
}

// validateSwap rejects transactions that must never reach the chain: unsigned
// payloads and quotes whose price impact exceeds the configured ceiling.
func (p Params) validateSwap(signed domain.SignedSwap, quote domain.SwapQuote) error {
	if !signed.Signed || len(signed.Payload) == 0 {
		return fmt.Errorf("executor: validate swap: %w", domain.ErrUnsignedTx)
	}
	if quote.PriceImpactPct > p.MaxPriceImpactPct {
		return fmt.Errorf("executor: price impact %.2f%% exceeds %.2f%%: %w",
			quote.PriceImpactPct, p.MaxPriceImpactPct, domain.ErrPriceImpact)
	}
	return nil
}

// sleepCtx waits for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
