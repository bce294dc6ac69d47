// Package oneinch is a thin proxy client for the 1inch swap aggregator
// REST API. Quote and swap responses are passed through to callers
// unmodified; no routing logic lives here.
package oneinch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// DefaultBaseURL is the aggregator v5.2 endpoint.
const DefaultBaseURL = "https://api.1inch.dev/swap/v5.2"

const defaultTimeout = 15 * time.Second

// Client calls the aggregator API for one chain.
type Client struct {
	baseURL string
	apiKey  string
	chainID int
	client  *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint, mainly for tests.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = u
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.client = h
	}
}

// New creates a client. An empty API key is allowed; requests will then
// be rejected by the aggregator with an auth error the caller sees.
func New(apiKey string, chainID int, opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		chainID: chainID,
		client:  &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Quote returns the aggregator's quote payload for exchanging amount
// (in base units) of src for dst.
func (c *Client) Quote(ctx context.Context, src, dst, amount string) (json.RawMessage, error) {
	params := url.Values{}
	params.Set("src", src)
	params.Set("dst", dst)
	params.Set("amount", amount)
	return c.get(ctx, "quote", params)
}

// SwapTx returns the aggregator's prebuilt swap transaction payload.
// Slippage is a percentage, e.g. "1" for 1%.
func (c *Client) SwapTx(ctx context.Context, src, dst, amount, from, slippage string) (json.RawMessage, error) {
	params := url.Values{}
	params.Set("src", src)
	params.Set("dst", dst)
	params.Set("amount", amount)
	params.Set("from", from)
	params.Set("slippage", slippage)
	return c.get(ctx, "swap", params)
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values) (json.RawMessage, error) {
	reqURL := fmt.Sprintf("%s/%d/%s?%s", c.baseURL, c.chainID, endpoint, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call 1inch %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read 1inch %s response: %w", endpoint, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("1inch %s returned status %d: %s", endpoint, resp.StatusCode, string(body))
	}
	return json.RawMessage(body), nil
}
