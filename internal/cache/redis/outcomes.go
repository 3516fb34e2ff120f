package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/volkv/snipebot/internal/domain"
)

// OutcomeStream is the Redis stream the learning module consumes to rescore
// the wallets behind each closed trade.
const OutcomeStream = "snipebot:outcomes"

// outcomeMaxLen bounds the stream; the consumer checkpoints well inside it.
const outcomeMaxLen = 10_000

// OutcomeFeed implements domain.OutcomeRecorder on a Redis stream. Unlike
// Pub/Sub, a stream retains entries until trimmed, so the learning module can
// catch up after downtime.
type OutcomeFeed struct {
	rdb *redis.Client
}

// NewOutcomeFeed creates an OutcomeFeed backed by the given Client.
func NewOutcomeFeed(c *Client) *OutcomeFeed {
	return &OutcomeFeed{rdb: c.Underlying()}
}

var _ domain.OutcomeRecorder = (*OutcomeFeed)(nil)

// RecordOutcome appends one closed trade to the outcome stream.
func (f *OutcomeFeed) RecordOutcome(ctx context.Context, trade domain.TradeRecord) error {
	fingerprint, err := json.Marshal(trade.Fingerprint)
	if err != nil {
		return fmt.Errorf("redis: encode trade fingerprint: %w", err)
	}

	err = f.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: OutcomeStream,
		MaxLen: outcomeMaxLen,
		Approx: true,
		Values: map[string]any{
			"token_mint":  trade.TokenMint,
			"entry_price": trade.EntryPrice,
			"exit_price":  trade.ExitPrice,
			"amount":      trade.Amount,
			"entry_time":  trade.EntryTime.Format(time.RFC3339),
			"exit_time":   trade.ExitTime.Format(time.RFC3339),
			"exit_reason": trade.ExitReason,
			"pnl_percent": trade.PnLPercent,
			"pnl_usd":     trade.PnLUSD,
			"outcome":     trade.Outcome(),
			"conviction":  trade.Conviction,
			"fingerprint": string(fingerprint),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: record outcome for %s: %w", trade.TokenMint, err)
	}
	return nil
}
