package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/volkv/snipebot/internal/domain"
	"github.com/volkv/snipebot/internal/platform/jupiter"
)

// BuyExecutor acquires tokens with SOL. Each attempt re-quotes from scratch;
// a stale quote is the main reason swaps revert on fast pools.
type BuyExecutor struct {
	quotes    domain.QuoteService
	ledger    domain.LedgerClient
	prices    domain.PriceCache
	signerKey []byte
	params    Params
	logger    *slog.Logger
}

// NewBuyExecutor creates a BuyExecutor.
func NewBuyExecutor(
	quotes domain.QuoteService,
	ledger domain.LedgerClient,
	prices domain.PriceCache,
	signerKey []byte,
	params Params,
	logger *slog.Logger,
) *BuyExecutor {
	return &BuyExecutor{
		quotes:    quotes,
		ledger:    ledger,
		prices:    prices,
		signerKey: signerKey,
		params:    params,
		logger:    logger.With(slog.String("component", "buy_executor")),
	}
}

// Execute runs the full buy flow: quote, build, validate, submit, confirm,
// retrying with an escalated priority fee on failure. Terminal failures are
// reported in the result, not as an error.
func (e *BuyExecutor) Execute(ctx context.Context, req domain.BuyRequest) domain.ExecutionResult {
	// No key means the configuration has trading switched off.
	if len(e.signerKey) == 0 {
		return failedResult(0, domain.ErrTradingDisabled.Error())
	}
	if req.AmountSOL <= 0 {
		return failedResult(0, domain.ErrInvalidAmount.Error())
	}
	if req.TokenMint == "" {
		return failedResult(0, domain.ErrInvalidMint.Error())
	}

	maxAttempts := 1 + e.params.MaxRetries
	var lastErr string
	var lastLatency time.Duration

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res, err := e.attempt(ctx, req, attempt)
		if err == nil {
			res.Attempts = attempt
			return res
		}
		lastErr = err.Error()
		if res.Latency > 0 {
			lastLatency = res.Latency
		}

		e.logger.Warn("buy attempt failed",
			slog.String("mint", req.TokenMint),
			slog.Int("attempt", attempt),
			slog.String("error", lastErr),
		)

		// Every failure gets a fresh quote on retry; an oversized price
		// impact is market state and can clear between attempts.
		if ctx.Err() != nil {
			return failedResultLatency(attempt, lastErr, lastLatency)
		}
		if attempt < maxAttempts {
			sleepCtx(ctx, e.params.BuyRetryDelay)
		}
	}

	return failedResultLatency(maxAttempts, lastErr, lastLatency)
}

// attempt performs one quote-build-submit-confirm cycle.
func (e *BuyExecutor) attempt(ctx context.Context, req domain.BuyRequest, attempt int) (domain.ExecutionResult, error) {
	quote, err := e.quotes.Quote(ctx, jupiter.WrappedSOLMint, req.TokenMint,
		req.AmountSOL, e.params.slippageFor(domain.UrgencyNormal))
	if err != nil {
		return domain.ExecutionResult{}, err
	}

	fee := e.params.feeFor(domain.OrderSideBuy, domain.UrgencyNormal, attempt)

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
		// A timed-out confirmation is still a latency sample; slow
		// failures are what the endpoint monitor exists to catch.
		return domain.ExecutionResult{Latency: time.Since(start)}, err
	}
	latency := time.Since(start)

	tokensOut := e.uiAmount(ctx, req.TokenMint, quote.OutAmount)

	e.logger.Info("buy confirmed",
		slog.String("mint", req.TokenMint),
		slog.String("signature", signature),
		slog.Float64("amount_sol", req.AmountSOL),
		slog.Float64("tokens", tokensOut),
		slog.Uint64("fee_lamports", fee),
		slog.Int64("latency_ms", latency.Milliseconds()),
	)

	return domain.ExecutionResult{
		Success:     true,
		Signature:   signature,
		Price:       e.fillPriceUSD(ctx, req.AmountSOL, tokensOut),
		AmountIn:    req.AmountSOL,
		AmountOut:   tokensOut,
		SlippagePct: quote.PriceImpactPct,
		FeeLamports: fee,
		Latency:     latency,
	}, nil
}

// uiAmount converts a raw output amount into whole tokens using the mint's
// decimals. Falls back to the raw figure when the mint read fails.
func (e *BuyExecutor) uiAmount(ctx context.Context, mint string, raw float64) float64 {
	info, err := e.ledger.MintInfo(ctx, mint)
	if err != nil {
		e.logger.Warn("mint decimals unavailable, using raw amount",
			slog.String("mint", mint), slog.String("error", err.Error()))
		return raw
	}
	scale := 1.0
	for i := 0; i < info.Decimals; i++ {
		scale *= 10
	}
	return raw / scale
}

// fillPriceUSD derives the realized USD price per token using the cached SOL
// price. Returns 0 when no SOL price is available; the tracker will fall back
// to the feed price.
func (e *BuyExecutor) fillPriceUSD(ctx context.Context, amountSOL, tokens float64) float64 {
	if tokens <= 0 {
		return 0
	}
	sol, err := e.prices.GetPrice(ctx, jupiter.WrappedSOLMint)
	if err != nil || sol.PriceUSD <= 0 {
		return 0
	}
	return amountSOL * sol.PriceUSD / tokens
}

// failedResult builds a terminal failure result.
func failedResult(attempts int, errMsg string) domain.ExecutionResult {
	return domain.ExecutionResult{
		Success:  false,
		Attempts: attempts,
		Err:      errMsg,
	}
}

// failedResultLatency is failedResult with the last observed submit-confirm
// latency attached; the coordinator feeds it to the endpoint monitor.
func failedResultLatency(attempts int, errMsg string, latency time.Duration) domain.ExecutionResult {
	res := failedResult(attempts, errMsg)
	res.Latency = latency
	return res
}
