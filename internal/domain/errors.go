package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrTradingDisabled = errors.New("trading disabled")
	ErrInvalidMint     = errors.New("invalid token mint")
	ErrInvalidAmount   = errors.New("amount must be positive")
	ErrNoSigner        = errors.New("no signer keypair configured")
	ErrConfirmTimeout  = errors.New("confirmation timed out")
	ErrUnsignedTx      = errors.New("transaction is not signed")
	ErrPriceImpact     = errors.New("price impact exceeds limit")
)
