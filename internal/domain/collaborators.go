package domain

import (
	"context"
	"time"
)

// TokenPrice is a price-feed sample for one token.
type TokenPrice struct {
	PriceUSD     float64
	LiquidityUSD float64
	At           time.Time
}

// PriceFeed resolves the latest price and pooled liquidity for a token.
// Implementations return ErrNotFound when the token is unknown to the feed.
type PriceFeed interface {
	Price(ctx context.Context, mint string) (TokenPrice, error)
}

// PriceCache provides fast access to the latest prices.
type PriceCache interface {
	SetPrice(ctx context.Context, mint string, price TokenPrice) error
	GetPrice(ctx context.Context, mint string) (TokenPrice, error)
}

// WalletRegistry looks up wallet/token balances. It is backed by the external
// wallet-discovery system; this engine only reads from it.
type WalletRegistry interface {
	TokenBalance(ctx context.Context, wallet, mint string) (float64, error)
}

// SwapQuote is a priced route returned by the quote service.
type SwapQuote struct {
	InputMint      string
	OutputMint     string
	InAmount       float64
	OutAmount      float64
	PriceImpactPct float64
	SlippageBps    int
	Route          []byte // opaque route blob passed back when building
}

// SignedSwap is a fully built, signed transaction ready for submission.
type SignedSwap struct {
	Payload []byte
	// LastValidHeight is the block height after which the ledger will
	// reject the transaction.
	LastValidHeight uint64
	Signed          bool
}

// QuoteService obtains swap quotes and builds signed swap transactions.
type QuoteService interface {
	Quote(ctx context.Context, inputMint, outputMint string, amount float64, slippageBps int) (SwapQuote, error)
	BuildSwapTransaction(ctx context.Context, quote SwapQuote, signerKey []byte, priorityFeeLamports uint64) (SignedSwap, error)
}

// MintInfo is the authority and supply state of a token mint account.
type MintInfo struct {
	MintAuthority   string // empty when revoked
	FreezeAuthority string // empty when revoked
	Supply          float64
	Decimals        int
}

// LedgerTx is a summarized confirmed transaction touching a token.
type LedgerTx struct {
	Signature string
	// Side is buy or sell from the pool's perspective.
	Side      OrderSide
	Amount    float64
	BlockTime time.Time
}

// LedgerClient is the narrow window onto the chain RPC the engine needs.
// Submission, confirmation, and the account reads the danger monitor uses.
type LedgerClient interface {
	SendTransaction(ctx context.Context, payload []byte) (string, error)
	// ConfirmSignature blocks until the signature is confirmed, the
	// lastValidHeight passes, or ctx expires.
	ConfirmSignature(ctx context.Context, signature string, lastValidHeight uint64) error
	MintInfo(ctx context.Context, mint string) (MintInfo, error)
	TokenHolderCount(ctx context.Context, mint string) (int, error)
	RecentTokenTransactions(ctx context.Context, mint string, since time.Time) ([]LedgerTx, error)
}

// SignalBus provides pub/sub for lifecycle events consumed by the external
// alerting and dashboard systems.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// OutcomeRecorder receives every completed trade so the external learning
// module can rescore the wallets that produced it.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, trade TradeRecord) error
}
