package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Urgency is the sell-order priority class. It controls queue ordering, the
// priority-fee multiplier, and the slippage tolerance used when building the
// swap transaction.
type Urgency int

const (
	UrgencyEmergency Urgency = iota
	UrgencyUrgent
	UrgencyNormal
)

// String returns the lowercase name used in logs and persisted rows.
func (u Urgency) String() string {
	switch u {
	case UrgencyEmergency:
		return "emergency"
	case UrgencyUrgent:
		return "urgent"
	case UrgencyNormal:
		return "normal"
	default:
		return "unknown"
	}
}

// FeeMultiplier returns the priority-fee multiplier for this urgency class.
func (u Urgency) FeeMultiplier() float64 {
	switch u {
	case UrgencyEmergency:
		return 2.0
	case UrgencyUrgent:
		return 1.5
	default:
		return 1.0
	}
}

// BuyRequest asks the coordinator to acquire a token.
type BuyRequest struct {
	ID        string
	TokenMint string
	// AmountSOL is the quote-currency amount to spend.
	AmountSOL     float64
	Conviction    float64
	SourceWallets []string
	QueuedAt      time.Time
}

// SellOrder asks the coordinator to exit part or all of a position.
type SellOrder struct {
	ID        string
	TokenMint string
	// Percent of the original entry amount to sell, in (0, 100].
	Percent  float64
	Urgency  Urgency
	Reason   string
	QueuedAt time.Time
}

// ExecutionResult is the outcome of one executor invocation. Terminal
// failures are reported here rather than as Go errors so the coordinator can
// record every attempt uniformly.
type ExecutionResult struct {
	Success   bool
	Signature string
	// Price is the realized fill price in USD per token.
	Price float64
	// AmountIn / AmountOut are in the input and output token's units.
	AmountIn    float64
	AmountOut   float64
	SlippagePct float64
	FeeLamports uint64
	Attempts    int
	Latency     time.Duration
	Err         string
}

// ExecutionRecord is the persisted form of an execution outcome.
type ExecutionRecord struct {
	ID          string
	TokenMint   string
	Side        OrderSide
	Success     bool
	Signature   string
	Price       float64
	AmountIn    float64
	AmountOut   float64
	SlippagePct float64
	FeeLamports uint64
	Attempts    int
	LatencyMs   int64
	Reason      string
	Err         string
	ExecutedAt  time.Time
}
