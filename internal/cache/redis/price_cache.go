package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/volkv/snipebot/internal/domain"
)

// priceTTL bounds how long a cached price survives without a feed update.
// Stale entries expire rather than feeding a dead price into exit decisions.
const priceTTL = 2 * time.Minute

// PriceCache implements domain.PriceCache using Redis hashes.
// Each token's latest sample is stored as a hash at key "price:{mint}" with
// fields "price", "liq", and "ts" (Unix nanosecond timestamp).
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(mint string) string {
	return "price:" + mint
}

// SetPrice stores the latest price sample for a token.
func (pc *PriceCache) SetPrice(ctx context.Context, mint string, price domain.TokenPrice) error {
	key := priceKey(mint)
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(price.PriceUSD, 'f', -1, 64),
		"liq":   strconv.FormatFloat(price.LiquidityUSD, 'f', -1, 64),
		"ts":    strconv.FormatInt(price.At.UnixNano(), 10),
	}

	pipe := pc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, priceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", mint, err)
	}
	return nil
}

// GetPrice retrieves the latest price sample for a token.
// It returns domain.ErrNotFound when no sample is cached.
func (pc *PriceCache) GetPrice(ctx context.Context, mint string) (domain.TokenPrice, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(mint)).Result()
	if err != nil {
		return domain.TokenPrice{}, fmt.Errorf("redis: get price %s: %w", mint, err)
	}
	if len(vals) == 0 {
		return domain.TokenPrice{}, domain.ErrNotFound
	}

	priceStr, ok := vals["price"]
	if !ok {
		return domain.TokenPrice{}, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return domain.TokenPrice{}, fmt.Errorf("redis: parse price %s: %w", mint, err)
	}

	out := domain.TokenPrice{PriceUSD: price}

	if liqStr, ok := vals["liq"]; ok {
		if liq, err := strconv.ParseFloat(liqStr, 64); err == nil {
			out.LiquidityUSD = liq
		}
	}
	if tsStr, ok := vals["ts"]; ok {
		if tsNano, err := strconv.ParseInt(tsStr, 10, 64); err == nil {
			out.At = time.Unix(0, tsNano)
		}
	}

	return out, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
