// Package solana implements the JSON-RPC ledger client used for transaction
// submission, confirmation, and the token account reads the danger checks
// depend on.
package solana

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/volkv/snipebot/internal/domain"
)

// confirmPollInterval is how often ConfirmSignature re-checks signature
// status while waiting.
const confirmPollInterval = 400 * time.Millisecond

// maxRecentTxLookups caps how many transactions RecentTokenTransactions
// hydrates per call, to bound RPC load during danger sweeps.
const maxRecentTxLookups = 25

// Client is a JSON-RPC client for a Solana-compatible RPC node.
type Client struct {
	mu           sync.RWMutex
	rpcURL       string
	fallbacks    []string
	fallbackNext int

	commitment string
	httpClient *http.Client
}

var _ domain.LedgerClient = (*Client)(nil)
var _ domain.WalletRegistry = (*Client)(nil)

// NewClient creates a ledger RPC client. fallbacks are alternate endpoints
// used when SwitchEndpoint is invoked after repeated latency violations.
func NewClient(rpcURL string, fallbacks []string, commitment string) *Client {
	if commitment == "" {
		commitment = "confirmed"
	}
	return &Client{
		rpcURL:     rpcURL,
		fallbacks:  fallbacks,
		commitment: commitment,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Endpoint returns the RPC endpoint currently in use.
func (c *Client) Endpoint() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rpcURL
}

// SwitchEndpoint rotates to the next configured fallback RPC endpoint. It
// returns the new endpoint, or the current one when no fallbacks exist.
func (c *Client) SwitchEndpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.fallbacks) == 0 {
		return c.rpcURL
	}
	c.rpcURL = c.fallbacks[c.fallbackNext%len(c.fallbacks)]
	c.fallbackNext++
	return c.rpcURL
}

// SendTransaction submits a signed transaction payload and returns its
// signature.
func (c *Client) SendTransaction(ctx context.Context, payload []byte) (string, error) {
	params := []any{
		base64.StdEncoding.EncodeToString(payload),
		map[string]any{
			"encoding":            "base64",
			"skipPreflight":       true,
			"preflightCommitment": c.commitment,
			"maxRetries":          0,
		},
	}

	var signature string
	if err := c.call(ctx, "sendTransaction", params, &signature); err != nil {
		return "", fmt.Errorf("solana: send transaction: %w", err)
	}
	return signature, nil
}

// ConfirmSignature polls signature status until the transaction confirms,
// the chain advances past lastValidHeight, or ctx expires.
func (c *Client) ConfirmSignature(ctx context.Context, signature string, lastValidHeight uint64) error {
	ticker := time.NewTicker(confirmPollInterval)
	defer ticker.Stop()

	for {
		status, err := c.signatureStatus(ctx, signature)
		if err == nil && status.confirmed {
			if status.txErr != "" {
				return fmt.Errorf("solana: transaction %s failed on chain: %s", signature, status.txErr)
			}
			return nil
		}

		if lastValidHeight > 0 {
			height, hErr := c.blockHeight(ctx)
			if hErr == nil && height > lastValidHeight {
				return fmt.Errorf("solana: transaction %s expired at height %d: %w", signature, height, domain.ErrConfirmTimeout)
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("solana: confirming %s: %w", signature, domain.ErrConfirmTimeout)
		case <-ticker.C:
		}
	}
}

type sigStatus struct {
	confirmed bool
	txErr     string
}

func (c *Client) signatureStatus(ctx context.Context, signature string) (sigStatus, error) {
	params := []any{
		[]string{signature},
		map[string]any{"searchTransactionHistory": false},
	}

	var result struct {
		Value []*struct {
			ConfirmationStatus string          `json:"confirmationStatus"`
			Err                json.RawMessage `json:"err"`
		} `json:"value"`
	}
	if err := c.call(ctx, "getSignatureStatuses", params, &result); err != nil {
		return sigStatus{}, err
	}
	if len(result.Value) == 0 || result.Value[0] == nil {
		return sigStatus{}, nil
	}

	v := result.Value[0]
	st := sigStatus{
		confirmed: v.ConfirmationStatus == "confirmed" || v.ConfirmationStatus == "finalized",
	}
	if len(v.Err) > 0 && string(v.Err) != "null" {
		st.txErr = string(v.Err)
	}
	return st, nil
}

func (c *Client) blockHeight(ctx context.Context) (uint64, error) {
	var height uint64
	if err := c.call(ctx, "getBlockHeight", []any{map[string]any{"commitment": c.commitment}}, &height); err != nil {
		return 0, fmt.Errorf("solana: get block height: %w", err)
	}
	return height, nil
}

// MintInfo fetches the mint account in jsonParsed form and returns its
// authority and supply state.
func (c *Client) MintInfo(ctx context.Context, mint string) (domain.MintInfo, error) {
	params := []any{
		mint,
		map[string]any{"encoding": "jsonParsed", "commitment": c.commitment},
	}

	var result struct {
		Value *struct {
			Data struct {
				Parsed struct {
					Info struct {
						MintAuthority   *string `json:"mintAuthority"`
						FreezeAuthority *string `json:"freezeAuthority"`
						Supply          string  `json:"supply"`
						Decimals        int     `json:"decimals"`
					} `json:"info"`
				} `json:"parsed"`
			} `json:"data"`
		} `json:"value"`
	}
	if err := c.call(ctx, "getAccountInfo", params, &result); err != nil {
		return domain.MintInfo{}, fmt.Errorf("solana: get mint %s: %w", mint, err)
	}
	if result.Value == nil {
		return domain.MintInfo{}, fmt.Errorf("solana: mint %s: %w", mint, domain.ErrNotFound)
	}

	info := result.Value.Data.Parsed.Info
	rawSupply, err := strconv.ParseFloat(info.Supply, 64)
	if err != nil {
		return domain.MintInfo{}, fmt.Errorf("solana: mint %s: parsing supply %q: %w", mint, info.Supply, err)
	}

	out := domain.MintInfo{
		// Scale raw units to whole tokens so supply comparisons line up
		// with feed amounts.
		Supply:   rawSupply / pow10(info.Decimals),
		Decimals: info.Decimals,
	}
	if info.MintAuthority != nil {
		out.MintAuthority = *info.MintAuthority
	}
	if info.FreezeAuthority != nil {
		out.FreezeAuthority = *info.FreezeAuthority
	}
	return out, nil
}

// TokenHolderCount counts token accounts holding the mint via a filtered
// program account scan. Expensive on public RPC; callers should rate-limit.
func (c *Client) TokenHolderCount(ctx context.Context, mint string) (int, error) {
	const tokenProgram = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	const tokenAccountSize = 165
	const mintFieldOffset = 0

	params := []any{
		tokenProgram,
		map[string]any{
			"commitment": c.commitment,
			"encoding":   "base64",
			"dataSlice":  map[string]any{"offset": 0, "length": 0},
			"filters": []any{
				map[string]any{"dataSize": tokenAccountSize},
				map[string]any{"memcmp": map[string]any{"offset": mintFieldOffset, "bytes": mint}},
			},
		},
	}

	var accounts []json.RawMessage
	if err := c.call(ctx, "getProgramAccounts", params, &accounts); err != nil {
		return 0, fmt.Errorf("solana: count holders of %s: %w", mint, err)
	}
	return len(accounts), nil
}

// TokenBalance sums a wallet's balance of one mint across its token
// accounts, in whole tokens.
func (c *Client) TokenBalance(ctx context.Context, wallet, mint string) (float64, error) {
	params := []any{
		wallet,
		map[string]any{"mint": mint},
		map[string]any{"encoding": "jsonParsed", "commitment": c.commitment},
	}

	var result struct {
		Value []struct {
			Account struct {
				Data struct {
					Parsed struct {
						Info struct {
							TokenAmount struct {
								UIAmount float64 `json:"uiAmount"`
							} `json:"tokenAmount"`
						} `json:"info"`
					} `json:"parsed"`
				} `json:"data"`
			} `json:"account"`
		} `json:"value"`
	}
	if err := c.call(ctx, "getTokenAccountsByOwner", params, &result); err != nil {
		return 0, fmt.Errorf("solana: balance of %s for %s: %w", mint, wallet, err)
	}

	total := 0.0
	for _, acc := range result.Value {
		total += acc.Account.Data.Parsed.Info.TokenAmount.UIAmount
	}
	return total, nil
}

// RecentTokenTransactions lists confirmed transactions touching the mint
// since the given time, classified by the pool's token balance delta.
func (c *Client) RecentTokenTransactions(ctx context.Context, mint string, since time.Time) ([]domain.LedgerTx, error) {
	sigs, err := c.signaturesSince(ctx, mint, since)
	if err != nil {
		return nil, err
	}
	if len(sigs) > maxRecentTxLookups {
		sigs = sigs[:maxRecentTxLookups]
	}

	txs := make([]domain.LedgerTx, 0, len(sigs))
	for _, s := range sigs {
		tx, err := c.tokenDelta(ctx, s.signature, mint)
		if err != nil {
			// Individual lookups can miss on pruned nodes; skip and
			// keep the scan going.
			continue
		}
		if tx.Amount == 0 {
			continue
		}
		tx.BlockTime = s.blockTime
		txs = append(txs, tx)
	}
	return txs, nil
}

type sigEntry struct {
	signature string
	blockTime time.Time
}

func (c *Client) signaturesSince(ctx context.Context, address string, since time.Time) ([]sigEntry, error) {
	params := []any{
		address,
		map[string]any{"limit": 100, "commitment": c.commitment},
	}

	var result []struct {
		Signature string          `json:"signature"`
		BlockTime *int64          `json:"blockTime"`
		Err       json.RawMessage `json:"err"`
	}
	if err := c.call(ctx, "getSignaturesForAddress", params, &result); err != nil {
		return nil, fmt.Errorf("solana: signatures for %s: %w", address, err)
	}

	out := make([]sigEntry, 0, len(result))
	for _, r := range result {
		if r.BlockTime == nil || len(r.Err) > 0 && string(r.Err) != "null" {
			continue
		}
		bt := time.Unix(*r.BlockTime, 0)
		if bt.Before(since) {
			continue
		}
		out = append(out, sigEntry{signature: r.Signature, blockTime: bt})
	}
	return out, nil
}

// tokenDelta fetches one transaction and computes the largest token balance
// change for the mint. A net outflow from the owner with the largest change
// is treated as a sell, an inflow as a buy.
func (c *Client) tokenDelta(ctx context.Context, signature, mint string) (domain.LedgerTx, error) {
	params := []any{
		signature,
		map[string]any{
			"encoding":                       "jsonParsed",
			"commitment":                     c.commitment,
			"maxSupportedTransactionVersion": 0,
		},
	}

	type tokenBalance struct {
		AccountIndex  int    `json:"accountIndex"`
		Mint          string `json:"mint"`
		UITokenAmount struct {
			UIAmount float64 `json:"uiAmount"`
		} `json:"uiTokenAmount"`
	}
	var result struct {
		Meta *struct {
			PreTokenBalances  []tokenBalance `json:"preTokenBalances"`
			PostTokenBalances []tokenBalance `json:"postTokenBalances"`
		} `json:"meta"`
	}
	if err := c.call(ctx, "getTransaction", params, &result); err != nil {
		return domain.LedgerTx{}, fmt.Errorf("solana: get transaction %s: %w", signature, err)
	}
	if result.Meta == nil {
		return domain.LedgerTx{}, fmt.Errorf("solana: transaction %s: %w", signature, domain.ErrNotFound)
	}

	pre := make(map[int]float64)
	for _, b := range result.Meta.PreTokenBalances {
		if b.Mint == mint {
			pre[b.AccountIndex] = b.UITokenAmount.UIAmount
		}
	}

	var largest float64
	for _, b := range result.Meta.PostTokenBalances {
		if b.Mint != mint {
			continue
		}
		delta := b.UITokenAmount.UIAmount - pre[b.AccountIndex]
		delete(pre, b.AccountIndex)
		if abs(delta) > abs(largest) {
			largest = delta
		}
	}
	// Accounts emptied to zero appear only in preTokenBalances.
	for _, amount := range pre {
		if abs(amount) > abs(largest) {
			largest = -amount
		}
	}

	tx := domain.LedgerTx{Signature: signature, Amount: abs(largest)}
	if largest < 0 {
		tx.Side = domain.OrderSideSell
	} else {
		tx.Side = domain.OrderSideBuy
	}
	return tx, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// rpcRequest is the JSON-RPC 2.0 request envelope.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// rpcResponse is the JSON-RPC 2.0 response envelope.
type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// call executes one JSON-RPC method and unmarshals the result into out.
func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	jsonBody, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint(), bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return fmt.Errorf("decode rpc response: %w", err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(rpcResp.Result, out)
}

func pow10(n int) float64 {
	v := 1.0
	for i := 0; i < n; i++ {
		v *= 10
	}
	return v
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
