package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/volkv/snipebot/internal/domain"
)

// BuySignalChannel is the bus channel the upstream conviction engine
// publishes buy signals on.
const BuySignalChannel = "snipebot:buy_signals"

// BuyQueuer accepts buy requests for scheduling.
type BuyQueuer interface {
	EnqueueBuy(req domain.BuyRequest) bool
}

// buySignal is the wire form of an upstream buy signal.
type buySignal struct {
	TokenMint     string   `json:"token_mint"`
	AmountSOL     float64  `json:"amount_sol"`
	Conviction    float64  `json:"conviction"`
	SourceWallets []string `json:"source_wallets"`
}

// Intake subscribes to the buy-signal channel and feeds decoded requests to
// the coordinator. Malformed payloads are logged and skipped.
type Intake struct {
	bus domain.SignalBus
	// defaultBuySOL is used when a signal omits the amount.
	defaultBuySOL float64
	buys          BuyQueuer
	logger        *slog.Logger
}

// NewIntake creates an Intake.
func NewIntake(bus domain.SignalBus, buys BuyQueuer, defaultBuySOL float64, logger *slog.Logger) *Intake {
	return &Intake{
		bus:           bus,
		defaultBuySOL: defaultBuySOL,
		buys:          buys,
		logger:        logger.With(slog.String("component", "intake")),
	}
}

// Run consumes buy signals until ctx is cancelled.
func (in *Intake) Run(ctx context.Context) error {
	msgs, err := in.bus.Subscribe(ctx, BuySignalChannel)
	if err != nil {
		return fmt.Errorf("engine: subscribe %s: %w", BuySignalChannel, err)
	}

	in.logger.Info("listening for buy signals", slog.String("channel", BuySignalChannel))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return errors.New("engine: buy signal subscription closed")
			}
			in.handle(payload)
		}
	}
}

func (in *Intake) handle(payload []byte) {
	var sig buySignal
	if err := json.Unmarshal(payload, &sig); err != nil {
		in.logger.Warn("dropping malformed buy signal", slog.String("error", err.Error()))
		return
	}
	if sig.TokenMint == "" {
		in.logger.Warn("dropping buy signal without token mint")
		return
	}

	amount := sig.AmountSOL
	if amount <= 0 {
		amount = in.defaultBuySOL
	}

	queued := in.buys.EnqueueBuy(domain.BuyRequest{
		TokenMint:     sig.TokenMint,
		AmountSOL:     amount,
		Conviction:    sig.Conviction,
		SourceWallets: sig.SourceWallets,
		QueuedAt:      time.Now(),
	})
	if queued {
		in.logger.Info("buy signal queued",
			slog.String("mint", sig.TokenMint),
			slog.Float64("amount_sol", amount),
			slog.Float64("conviction", sig.Conviction),
		)
	}
}
