package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/volkv/snipebot/internal/domain"
	"github.com/volkv/snipebot/internal/platform/jupiter"
)

// SellExecutor liquidates token positions back into SOL. Urgency drives both
// the fee escalation and the slippage tolerance: an emergency exit pays twice
// the fee and accepts a far worse fill rather than staying in the position.
type SellExecutor struct {
	quotes    domain.QuoteService
	ledger    domain.LedgerClient
	prices    domain.PriceCache
	signerKey []byte
	params    Params
	logger    *slog.Logger
}

// NewSellExecutor creates a SellExecutor.
func NewSellExecutor(
	quotes domain.QuoteService,
	ledger domain.LedgerClient,
	prices domain.PriceCache,
	signerKey []byte,
	params Params,
	logger *slog.Logger,
) *SellExecutor {
	return &SellExecutor{
		quotes:    quotes,
		ledger:    ledger,
		prices:    prices,
		signerKey: signerKey,
		params:    params,
		logger:    logger.With(slog.String("component", "sell_executor")),
	}
}

// Execute sells amountTokens of the order's mint. The caller resolves the
// token quantity from the position; the executor only checks it is positive.
// Terminal failures are reported in the result, not as an error.
func (e *SellExecutor) Execute(ctx context.Context, order domain.SellOrder, amountTokens float64) domain.ExecutionResult {
	// No key means the configuration has trading switched off.
	if len(e.signerKey) == 0 {
		return failedResult(0, domain.ErrTradingDisabled.Error())
	}
	if amountTokens <= 0 {
		return failedResult(0, domain.ErrInvalidAmount.Error())
	}
	if order.TokenMint == "" {
		return failedResult(0, domain.ErrInvalidMint.Error())
	}

	maxAttempts := 1 + e.params.MaxRetries
	var lastErr string
	var lastLatency time.Duration

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res, err := e.attempt(ctx, order, amountTokens, attempt)
		if err == nil {
			res.Attempts = attempt
			return res
		}
		lastErr = err.Error()
		if res.Latency > 0 {
			lastLatency = res.Latency
		}

		e.logger.Warn("sell attempt failed",
			slog.String("mint", order.TokenMint),
			slog.String("urgency", order.Urgency.String()),
			slog.String("reason", order.Reason),
			slog.Int("attempt", attempt),
			slog.String("error", lastErr),
		)

		if ctx.Err() != nil {
			return failedResultLatency(attempt, lastErr, lastLatency)
		}
		if attempt < maxAttempts {
			sleepCtx(ctx, e.params.SellRetryDelay)
		}
	}

	return failedResultLatency(maxAttempts, lastErr, lastLatency)
}

// attempt performs one quote-build-submit-confirm cycle for a sell.
func (e *SellExecutor) attempt(ctx context.Context, order domain.SellOrder, amountTokens float64, attempt int) (domain.ExecutionResult, error) {
	quote, err := e.quotes.Quote(ctx, order.TokenMint, jupiter.WrappedSOLMint,
		amountTokens, e.params.slippageFor(order.Urgency))
	if err != nil {
		return domain.ExecutionResult{}, err
	}

	fee := e.params.feeFor(domain.OrderSideSell, order.Urgency, attempt)

	signed, err := e.quotes.BuildSwapTransaction(ctx, quote, e.signerKey, fee)
	if err != nil {
		return domain.ExecutionResult{}, err
	}
	if err := e.params.validateSwap(signed, quote); err != nil {
		return domain.ExecutionResult{}, err
	}

	start := time.Now()
	signature, err := e.ledger.SendTransaction(ctx, signed.Payload)
	if err != nil {
		return domain.ExecutionResult{Latency: time.Since(start)}, err
	}

	confirmCtx, cancel := context.WithTimeout(ctx, e.params.ConfirmTimeout)
	err = e.ledger.ConfirmSignature(confirmCtx, signature, signed.LastValidHeight)
	cancel()
	if err != nil {
		return domain.ExecutionResult{Latency: time.Since(start)}, err
	}
	latency := time.Since(start)

	solOut := quote.OutAmount / 1e9

	e.logger.Info("sell confirmed",
		slog.String("mint", order.TokenMint),
		slog.String("signature", signature),
		slog.String("urgency", order.Urgency.String()),
		slog.String("reason", order.Reason),
		slog.Float64("tokens", amountTokens),
		slog.Float64("sol_out", solOut),
		slog.Uint64("fee_lamports", fee),
		slog.Int64("latency_ms", latency.Milliseconds()),
	)

	return domain.ExecutionResult{
		Success:     true,
		Signature:   signature,
		Price:       e.fillPriceUSD(ctx, solOut, amountTokens),
		AmountIn:    amountTokens,
		AmountOut:   solOut,
		SlippagePct: quote.PriceImpactPct,
		FeeLamports: fee,
		Latency:     latency,
	}, nil
}

// fillPriceUSD derives the realized USD price per token from the SOL
// proceeds. Returns 0 when no SOL price is cached.
func (e *SellExecutor) fillPriceUSD(ctx context.Context, solOut, tokens float64) float64 {
	if tokens <= 0 {
		return 0
	}
	sol, err := e.prices.GetPrice(ctx, jupiter.WrappedSOLMint)
	if err != nil || sol.PriceUSD <= 0 {
		return 0
	}
	return solOut * sol.PriceUSD / tokens
}
