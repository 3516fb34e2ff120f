// Package jupiter implements the swap aggregator client: quoting routes,
// building swap transactions, and signing them for submission.
package jupiter

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/volkv/snipebot/internal/crypto"
	"github.com/volkv/snipebot/internal/domain"
)

// WrappedSOLMint is the canonical wrapped-SOL mint address used as the input
// side of every buy and the output side of every sell.
const WrappedSOLMint = "So11111111111111111111111111111111111111112"

const lamportsPerSOL = 1_000_000_000

// DecimalsFunc resolves the decimal scale of a token mint. The ledger client
// provides this via its mint account reads.
type DecimalsFunc func(ctx context.Context, mint string) (int, error)

// Client talks to the Jupiter quote and swap APIs.
type Client struct {
	quoteHost  string
	swapHost   string
	decimals   DecimalsFunc
	httpClient *http.Client
}

var _ domain.QuoteService = (*Client)(nil)
var _ domain.PriceFeed = (*Client)(nil)

// NewClient creates a Jupiter API client. decimals is consulted when quoting
// sells, where the input amount is denominated in token units.
func NewClient(quoteHost, swapHost string, decimals DecimalsFunc) *Client {
	return &Client{
		quoteHost: quoteHost,
		swapHost:  swapHost,
		decimals:  decimals,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// quoteResponse is the subset of the /v6/quote response the engine uses.
type quoteResponse struct {
	InputMint      string `json:"inputMint"`
	OutputMint     string `json:"outputMint"`
	InAmount       string `json:"inAmount"`
	OutAmount      string `json:"outAmount"`
	PriceImpactPct string `json:"priceImpactPct"`
	SlippageBps    int    `json:"slippageBps"`
}

// Quote fetches a swap route. amount is expressed in SOL when inputMint is
// wrapped SOL, otherwise in whole tokens of the input mint.
func (c *Client) Quote(ctx context.Context, inputMint, outputMint string, amount float64, slippageBps int) (domain.SwapQuote, error) {
	if amount <= 0 {
		return domain.SwapQuote{}, fmt.Errorf("jupiter: quote %s->%s: %w", inputMint, outputMint, domain.ErrInvalidAmount)
	}

	rawAmount, err := c.toRawUnits(ctx, inputMint, amount)
	if err != nil {
		return domain.SwapQuote{}, err
	}

	q := url.Values{}
	q.Set("inputMint", inputMint)
	q.Set("outputMint", outputMint)
	q.Set("amount", strconv.FormatUint(rawAmount, 10))
	q.Set("slippageBps", strconv.Itoa(slippageBps))
	q.Set("swapMode", "ExactIn")

	body, err := c.get(ctx, c.quoteHost+"/v6/quote?"+q.Encode())
	if err != nil {
		return domain.SwapQuote{}, fmt.Errorf("jupiter: quote %s->%s: %w", inputMint, outputMint, err)
	}

	var qr quoteResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		return domain.SwapQuote{}, fmt.Errorf("jupiter: decode quote: %w", err)
	}

	impact, _ := strconv.ParseFloat(qr.PriceImpactPct, 64)
	inAmt, _ := strconv.ParseFloat(qr.InAmount, 64)
	outAmt, _ := strconv.ParseFloat(qr.OutAmount, 64)

	return domain.SwapQuote{
		InputMint:      qr.InputMint,
		OutputMint:     qr.OutputMint,
		InAmount:       inAmt,
		OutAmount:      outAmt,
		PriceImpactPct: impact * 100, // API reports a fraction
		SlippageBps:    qr.SlippageBps,
		// The full quote response is echoed back verbatim when building
		// the swap.
		Route: body,
	}, nil
}

// toRawUnits converts a UI amount to the mint's smallest units.
func (c *Client) toRawUnits(ctx context.Context, mint string, amount float64) (uint64, error) {
	if mint == WrappedSOLMint {
		return uint64(amount * lamportsPerSOL), nil
	}
	if c.decimals == nil {
		return 0, fmt.Errorf("jupiter: no decimals resolver for mint %s", mint)
	}
	dec, err := c.decimals(ctx, mint)
	if err != nil {
		return 0, fmt.Errorf("jupiter: resolving decimals for %s: %w", mint, err)
	}
	scale := 1.0
	for i := 0; i < dec; i++ {
		scale *= 10
	}
	return uint64(amount * scale), nil
}

// swapRequest is the /v6/swap request body.
type swapRequest struct {
	QuoteResponse             json.RawMessage `json:"quoteResponse"`
	UserPublicKey             string          `json:"userPublicKey"`
	WrapAndUnwrapSol          bool            `json:"wrapAndUnwrapSol"`
	PrioritizationFeeLamports uint64          `json:"prioritizationFeeLamports"`
}

// swapResponse is the /v6/swap response body.
type swapResponse struct {
	SwapTransaction      string `json:"swapTransaction"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

// BuildSwapTransaction asks the aggregator to assemble the transaction for a
// previously obtained quote, then signs it locally with signerKey.
func (c *Client) BuildSwapTransaction(ctx context.Context, quote domain.SwapQuote, signerKey []byte, priorityFeeLamports uint64) (domain.SignedSwap, error) {
	signer, err := crypto.NewSigner(signerKey)
	if err != nil {
		return domain.SignedSwap{}, fmt.Errorf("jupiter: build swap: %w", domain.ErrNoSigner)
	}

	reqBody, err := json.Marshal(swapRequest{
		QuoteResponse:             quote.Route,
		UserPublicKey:             encodeBase58(signer.PublicKeyBytes()),
		WrapAndUnwrapSol:          true,
		PrioritizationFeeLamports: priorityFeeLamports,
	})
	if err != nil {
		return domain.SignedSwap{}, fmt.Errorf("jupiter: marshal swap request: %w", err)
	}

	body, err := c.post(ctx, c.swapHost+"/v6/swap", reqBody)
	if err != nil {
		return domain.SignedSwap{}, fmt.Errorf("jupiter: build swap: %w", err)
	}

	var sr swapResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return domain.SignedSwap{}, fmt.Errorf("jupiter: decode swap response: %w", err)
	}

	txBytes, err := base64.StdEncoding.DecodeString(sr.SwapTransaction)
	if err != nil {
		return domain.SignedSwap{}, fmt.Errorf("jupiter: decode swap transaction: %w", err)
	}

	signed, err := signTransaction(txBytes, signer)
	if err != nil {
		return domain.SignedSwap{}, fmt.Errorf("jupiter: sign swap transaction: %w", err)
	}

	return domain.SignedSwap{
		Payload:         signed,
		LastValidHeight: sr.LastValidBlockHeight,
		Signed:          true,
	}, nil
}

// Price implements the price feed using the aggregator's price endpoint.
// Liquidity is not reported here; the real-time feed fills that in.
func (c *Client) Price(ctx context.Context, mint string) (domain.TokenPrice, error) {
	body, err := c.get(ctx, c.quoteHost+"/v6/price?ids="+url.QueryEscape(mint))
	if err != nil {
		return domain.TokenPrice{}, fmt.Errorf("jupiter: price %s: %w", mint, err)
	}

	var pr struct {
		Data map[string]struct {
			Price float64 `json:"price"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &pr); err != nil {
		return domain.TokenPrice{}, fmt.Errorf("jupiter: decode price: %w", err)
	}

	entry, ok := pr.Data[mint]
	if !ok {
		return domain.TokenPrice{}, fmt.Errorf("jupiter: price %s: %w", mint, domain.ErrNotFound)
	}
	return domain.TokenPrice{PriceUSD: entry.Price, At: time.Now()}, nil
}

// --------------------------------------------------------------------------
// Transaction signing
// --------------------------------------------------------------------------

// signTransaction places the fee payer's signature into the first signature
// slot of a serialized transaction. The wire layout is a compact-u16 count of
// 64-byte signatures followed by the message, which is the signed payload.
func signTransaction(tx []byte, signer *crypto.Signer) ([]byte, error) {
	sigCount, offset, err := decodeCompactU16(tx)
	if err != nil {
		return nil, err
	}
	if sigCount == 0 {
		return nil, fmt.Errorf("transaction reserves no signature slots")
	}
	msgStart := offset + sigCount*ed25519.SignatureSize
	if msgStart > len(tx) {
		return nil, fmt.Errorf("transaction truncated: %d bytes, need %d for signatures", len(tx), msgStart)
	}

	sig := signer.Sign(tx[msgStart:])

	out := make([]byte, len(tx))
	copy(out, tx)
	copy(out[offset:], sig)
	return out, nil
}

// decodeCompactU16 reads a compact-u16 length prefix and returns the value
// along with the number of bytes consumed.
func decodeCompactU16(b []byte) (int, int, error) {
	var value, shift int
	for i := 0; i < 3; i++ {
		if i >= len(b) {
			return 0, 0, fmt.Errorf("truncated compact-u16")
		}
		value |= int(b[i]&0x7f) << shift
		if b[i]&0x80 == 0 {
			return value, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, fmt.Errorf("compact-u16 too long")
}

// base58Alphabet is the Bitcoin alphabet used for account addresses.
const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// encodeBase58 encodes raw bytes as a base58 string.
func encodeBase58(in []byte) string {
	var zeros int
	for zeros < len(in) && in[zeros] == 0 {
		zeros++
	}

	buf := make([]byte, 0, len(in)*138/100+1)
	for _, b := range in[zeros:] {
		carry := int(b)
		for i := range buf {
			carry += int(buf[i]) << 8
			buf[i] = byte(carry % 58)
			carry /= 58
		}
		for carry > 0 {
			buf = append(buf, byte(carry%58))
			carry /= 58
		}
	}

	out := make([]byte, 0, zeros+len(buf))
	for i := 0; i < zeros; i++ {
		out = append(out, base58Alphabet[0])
	}
	for i := len(buf) - 1; i >= 0; i-- {
		out = append(out, base58Alphabet[buf[i]])
	}
	return string(out)
}

// --------------------------------------------------------------------------
// HTTP helpers
// --------------------------------------------------------------------------

func (c *Client) get(ctx context.Context, fullURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req)
}

func (c *Client) post(ctx context.Context, fullURL string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
