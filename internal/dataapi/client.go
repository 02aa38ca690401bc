// Package dataapi is the HTTP client for the upstream blockchain data API.
//
// The upstream is treated as unreliable: every call can fail, rate-limit, or
// time out, and callers are expected to degrade rather than crash. Account
// data comes from per-chain REST endpoints; gas prices and chain stats go
// through the JSON-RPC passthrough.
package dataapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/mbd888/chainscout/internal/chains"
)

// Config holds the connection settings for the data API.
type Config struct {
	BaseURL string        // e.g. "https://web3.example.io"
	APIKey  string        // sent as X-API-KEY on every request
	Timeout time.Duration // per-request HTTP timeout
}

// Client is a plain HTTP client for the data API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	rpcID      atomic.Int64
}

// New creates a data API client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// apiError represents an error response body from the data API.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP POST to the data API and returns the response body.
func (c *Client) doRequest(ctx context.Context, path string, body any) (json.RawMessage, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// NativeBalance returns the native currency balance of an account in wei.
func (c *Client) NativeBalance(ctx context.Context, chain chains.Descriptor, address string) (*big.Int, error) {
	raw, err := c.doRequest(ctx, "/v1/"+chain.APISlug+"/mainnet/account/native-balance",
		map[string]string{"address": address})
	if err != nil {
		return nil, err
	}

	var result struct {
		Balance string `json:"balance"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode balance response: %w", err)
	}

	balance, ok := new(big.Int).SetString(result.Balance, 10)
	if !ok {
		return nil, fmt.Errorf("invalid balance %q", result.Balance)
	}
	return balance, nil
}

// TokenBalances returns the fungible token positions of an account.
func (c *Client) TokenBalances(ctx context.Context, chain chains.Descriptor, address string) ([]TokenBalance, error) {
	raw, err := c.doRequest(ctx, "/v1/"+chain.APISlug+"/mainnet/account/tokens",
		map[string]string{"address": address})
	if err != nil {
		return nil, err
	}

	var result struct {
		Items []TokenBalance `json:"items"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	return result.Items, nil
}

// NFTs returns the NFTs owned by an account.
func (c *Client) NFTs(ctx context.Context, chain chains.Descriptor, address string) ([]NFT, error) {
	raw, err := c.doRequest(ctx, "/v1/"+chain.APISlug+"/mainnet/account/nfts",
		map[string]string{"address": address})
	if err != nil {
		return nil, err
	}

	var result struct {
		Items []NFT `json:"items"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode nft response: %w", err)
	}
	return result.Items, nil
}

// GasPrice returns the current gas price in wei via the RPC passthrough.
func (c *Client) GasPrice(ctx context.Context, chain chains.Descriptor) (*big.Int, error) {
	return c.rpcQuantity(ctx, chain, "eth_gasPrice")
}

// ChainStats returns live chain identifiers: chain ID, head block, gas price.
func (c *Client) ChainStats(ctx context.Context, chain chains.Descriptor) (*ChainStats, error) {
	chainID, err := c.rpcQuantity(ctx, chain, "eth_chainId")
	if err != nil {
		return nil, err
	}
	block, err := c.rpcQuantity(ctx, chain, "eth_blockNumber")
	if err != nil {
		return nil, err
	}
	gas, err := c.rpcQuantity(ctx, chain, "eth_gasPrice")
	if err != nil {
		return nil, err
	}
	return &ChainStats{ChainID: chainID, BlockNumber: block, GasPrice: gas}, nil
}

// rpcRequest is a JSON-RPC 2.0 envelope for the passthrough endpoint.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int64  `json:"id"`
}

type rpcResponse struct {
	Result string `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// rpcQuantity issues a no-argument RPC call returning a hex quantity.
func (c *Client) rpcQuantity(ctx context.Context, chain chains.Descriptor, method string) (*big.Int, error) {
	raw, err := c.doRequest(ctx, "/v1/"+chain.APISlug+"/mainnet/rpc", rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  []any{},
		ID:      c.rpcID.Add(1),
	})
	if err != nil {
		return nil, err
	}

	var resp rpcResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode rpc response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("rpc error (%d): %s", resp.Error.Code, resp.Error.Message)
	}

	v, err := hexutil.DecodeBig(resp.Result)
	if err != nil {
		return nil, fmt.Errorf("decode %s result %q: %w", method, resp.Result, err)
	}
	return v, nil
}
