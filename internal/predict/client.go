package predict

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"crop-planner/internal/models"
	"crop-planner/internal/resilience"
)

// StatusError reports a non-2xx answer from the prediction endpoint.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("Server error: %d", e.Code)
}

type Option func(*Client)

// WithTimeout bounds each request. Zero means wait indefinitely.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.client.Timeout = d }
}

// WithCircuitBreaker fails fast once the endpoint keeps failing.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *Client) { c.breaker = cb }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// Client posts measurements to the prediction endpoint. It never retries a
// submission.
type Client struct {
	endpoint string
	client   *http.Client
	breaker  *resilience.CircuitBreaker
}

func NewClient(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		client:   &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Endpoint() string {
	return c.endpoint
}

func (c *Client) Predict(ctx context.Context, req *models.PredictionRequest) (*models.PredictionResult, error) {
	if c.breaker == nil {
		return c.post(ctx, req)
	}
	return resilience.Execute(c.breaker, func() (*models.PredictionResult, error) {
		return c.post(ctx, req)
	})
}

func (c *Client) post(ctx context.Context, req *models.PredictionRequest) (*models.PredictionResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode prediction request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain so the keep-alive connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &StatusError{Code: resp.StatusCode}
	}

	var result models.PredictionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode prediction response: %w", err)
	}
	return &result, nil
}
