// Package upstream fetches the full order list from the order service.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/erp/orderboard/internal/application/dashboard"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// maxResponseSize bounds a single order list response
const maxResponseSize = 64 << 20

// RetryConfig controls retries of failed fetches
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Config holds the client settings
type Config struct {
	BaseURL    string
	OrdersPath string
	Timeout    time.Duration
	Retry      RetryConfig
}

// Client fetches orders over HTTP with a bearer token
type Client struct {
	endpoint   string
	httpClient *http.Client
	retry      RetryConfig
	logger     *zap.Logger
}

var _ dashboard.OrderFetcher = (*Client)(nil)

// NewClient creates a client. A nil httpClient gets a traced default with
// cfg.Timeout.
func NewClient(cfg Config, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("upstream: base url is required")
	}
	endpoint, err := url.JoinPath(cfg.BaseURL, cfg.OrdersPath)
	if err != nil {
		return nil, fmt.Errorf("upstream: invalid orders url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 1
	}
	if cfg.Retry.InitialBackoff <= 0 {
		cfg.Retry.InitialBackoff = 200 * time.Millisecond
	}
	if cfg.Retry.MaxBackoff < cfg.Retry.InitialBackoff {
		cfg.Retry.MaxBackoff = cfg.Retry.InitialBackoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		endpoint:   endpoint,
		httpClient: httpClient,
		retry:      cfg.Retry,
		logger:     logger.Named("upstream"),
	}, nil
}

// FetchOrders returns the raw order documents visible to token. Network
// failures, 5xx and 429 responses are retried with exponential backoff.
func (c *Client) FetchOrders(ctx context.Context, token string) ([]json.RawMessage, error) {
	var lastErr *FetchError
	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt - 1)
			c.logger.Debug("retrying order fetch",
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, &FetchError{Kind: dashboard.CategoryNetwork, Err: ctx.Err()}
			}
		}

		docs, err := c.fetchOnce(ctx, token)
		if err == nil {
			return docs, nil
		}
		lastErr = err
		if !err.Retryable() || ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (c *Client) backoff(retry int) time.Duration {
	if retry > 30 {
		return c.retry.MaxBackoff
	}
	delay := c.retry.InitialBackoff * time.Duration(1<<uint(retry))
	if delay > c.retry.MaxBackoff {
		delay = c.retry.MaxBackoff
	}
	return delay
}

func (c *Client) fetchOnce(ctx context.Context, token string) ([]json.RawMessage, *FetchError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, &FetchError{Kind: dashboard.CategoryGeneric, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: dashboard.CategoryNetwork, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &FetchError{Kind: dashboard.CategoryNetwork, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &FetchError{
			Kind:       statusCategory(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Err:        errors.New(strings.TrimSpace(http.StatusText(resp.StatusCode))),
		}
	}

	docs, err := decodeOrderList(body)
	if err != nil {
		return nil, &FetchError{Kind: dashboard.CategoryGeneric, StatusCode: resp.StatusCode, Err: err}
	}
	return docs, nil
}

// decodeOrderList accepts a bare JSON array or an envelope with the array
// under "data"
func decodeOrderList(body []byte) ([]json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	var docs []json.RawMessage
	if len(body) > 0 && body[0] == '[' {
		if err := json.Unmarshal(body, &docs); err != nil {
			return nil, fmt.Errorf("decode order list: %w", err)
		}
		return docs, nil
	}
	var envelope struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode order list: %w", err)
	}
	if envelope.Data == nil {
		return nil, errors.New("decode order list: no order array in response")
	}
	return envelope.Data, nil
}
