// Package feed produces normalized ticks, orderbooks, trades and whale
// positions from exchange endpoints.
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// RESTClient posts /info queries to a Hyperliquid-style endpoint and decodes
// the response into loose JSON for the tolerant parsers.
type RESTClient struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

func NewRESTClient(baseURL string, timeout time.Duration, log *zap.Logger) *RESTClient {
	return &RESTClient{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

func (c *RESTClient) MetaAndAssetCtxs(ctx context.Context) (any, error) {
	return c.post(ctx, "/info", map[string]any{"type": "metaAndAssetCtxs"})
}

func (c *RESTClient) L2Book(ctx context.Context, coin string) (any, error) {
	return c.post(ctx, "/info", map[string]any{"type": "l2Book", "coin": coin})
}

func (c *RESTClient) LeaderboardPositions(ctx context.Context) (any, error) {
	return c.post(ctx, "/info", map[string]any{"type": "leaderboardPositions"})
}

// Get fetches an arbitrary URL and decodes loose JSON; the alt-exchange
// poller uses it against configured base URLs.
func (c *RESTClient) Get(ctx context.Context, url string) (any, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.do(httpReq)
}

func (c *RESTClient) post(ctx context.Context, path string, req any) (any, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	url := c.baseURL + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return c.do(httpReq)
}

func (c *RESTClient) do(httpReq *http.Request) (any, error) {
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}
	var data any
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, err
	}
	return data, nil
}
