package entropy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const randomOrgURL = "https://api.random.org/json-rpc/4/invoke"

const (
	lowWater       = 10
	maxFailBackoff = 10 * time.Minute
)

// Client draws true random numbers from random.org through a local pool.
// Float64 never touches the network; Refill tops the pool up and is called
// outside the climate tick.
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client

	mu          sync.Mutex
	pool        []float64
	refilling   bool
	lastFailAt  time.Time
	failBackoff time.Duration
}

// NewClient creates a random.org client. Returns nil if apiKey is empty.
func NewClient(apiKey string) *Client {
	if apiKey == "" {
		return nil
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: randomOrgURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// SetEndpoint points the client at another JSON-RPC endpoint.
func (c *Client) SetEndpoint(url string, hc *http.Client) {
	c.baseURL = url
	if hc != nil {
		c.client = hc
	}
}

// Float64 returns the next pooled value in [0, 1), or a crypto/rand value
// when the pool is empty.
func (c *Client) Float64() float64 {
	if c == nil {
		return cryptoRandFloat()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pool) == 0 {
		return cryptoRandFloat()
	}
	val := c.pool[0]
	c.pool = c.pool[1:]
	return val
}

// Pooled returns how many values are buffered.
func (c *Client) Pooled() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pool)
}

// Refill fetches a new batch when the pool is running low. Only one fetch
// runs at a time and draws are not blocked while it is in flight. After a
// failure the API is left alone for a doubling backoff (30s up to 10
// minutes).
func (c *Client) Refill(ctx context.Context) error {
	if c == nil {
		return nil
	}

	c.mu.Lock()
	if len(c.pool) >= lowWater || c.refilling {
		c.mu.Unlock()
		return nil
	}
	if c.failBackoff > 0 && time.Since(c.lastFailAt) < c.failBackoff {
		left := c.failBackoff - time.Since(c.lastFailAt)
		c.mu.Unlock()
		return fmt.Errorf("random.org backoff (%s remaining)", left.Round(time.Second))
	}
	c.refilling = true
	c.mu.Unlock()

	vals, err := c.fetch(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.refilling = false
	if err != nil {
		c.lastFailAt = time.Now()
		if c.failBackoff == 0 {
			c.failBackoff = 30 * time.Second
		} else {
			c.failBackoff = min(2*c.failBackoff, maxFailBackoff)
		}
		slog.Warn("random.org refill failed", "error", err, "backoff", c.failBackoff)
		return err
	}
	c.failBackoff = 0
	c.pool = append(c.pool, vals...)
	slog.Debug("random.org pool refilled", "count", len(vals))
	return nil
}

func (c *Client) fetch(ctx context.Context) ([]float64, error) {
	req := map[string]any{
		"jsonrpc": "2.0",
		"method":  "generateDecimalFractions",
		"params": map[string]any{
			"apiKey":        c.apiKey,
			"n":             100,
			"decimalPlaces": 6,
		},
		"id": 1,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("random.org call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("random.org returned %s", resp.Status)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var result struct {
		Result struct {
			Random struct {
				Data []float64 `json:"data"`
			} `json:"random"`
		} `json:"result"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if result.Error != nil {
		return nil, fmt.Errorf("random.org API error: %s", result.Error.Message)
	}

	vals := make([]float64, 0, len(result.Result.Random.Data))
	for _, v := range result.Result.Random.Data {
		if v >= 0 && v < 1 {
			vals = append(vals, v)
		}
	}
	return vals, nil
}
