// Package content implements the upstream content service client. The
// engine stores item metadata only; renderable prompts live in the
// content system and are fetched over HTTP at serving time.
package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/skillforge/mastery-engine/internal/domain/item"
	"github.com/skillforge/mastery-engine/internal/domain/shared"
	"github.com/skillforge/mastery-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig configures the content service client.
type ClientConfig struct {
	// BaseURL of the content service, without a trailing slash.
	BaseURL string

	// APIKey, when set, is sent as a bearer token.
	APIKey string

	// Timeout bounds each HTTP round trip.
	Timeout time.Duration

	// Client-side protection against an overloaded content service.
	RateLimiterConfig    RateLimiterConfig
	CircuitBreakerConfig CircuitBreakerConfig
	RetryConfig          RetryConfig

	Logger *logger.Logger

	// Debug logs every outgoing request.
	Debug bool
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:              baseURL,
		Timeout:              10 * time.Second,
		RateLimiterConfig:    DefaultRateLimiterConfig(),
		CircuitBreakerConfig: DefaultCircuitBreakerConfig(),
		RetryConfig:          DefaultRetryConfig(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client is the content service API client. It implements
// item.ContentService.
type Client struct {
	config         ClientConfig
	httpClient     *http.Client
	log            *logger.Logger
	rateLimiter    *RateLimiter
	circuitBreaker *CircuitBreaker
}

// NewClient creates a new content service client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = logger.Default()
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		log:            config.Logger.With(logger.Component("content_client")),
		rateLimiter:    NewRateLimiter(config.RateLimiterConfig),
		circuitBreaker: NewCircuitBreaker(config.CircuitBreakerConfig),
	}
}

// contentDTO is the wire shape of an item's content body.
type contentDTO struct {
	ItemID      string `json:"item_id"`
	Prompt      string `json:"prompt"`
	ContentHash string `json:"content_hash"`
}

// apiError is the wire shape of an error response.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("content api error %s: %s", e.Code, e.Message)
}

// GetContent fetches the content body for an item. Implements
// item.ContentService. Returns shared.ErrItemNotFound when the content
// system does not know the item.
func (c *Client) GetContent(ctx context.Context, id shared.ItemID) (*item.Content, error) {
	if id.IsEmpty() {
		return nil, shared.ErrInvalidItemID
	}

	path := fmt.Sprintf("/api/v1/items/%s/content", url.PathEscape(id.String()))

	var dto contentDTO
	if err := c.doRequest(ctx, http.MethodGet, path, &dto); err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.Code == "NOT_FOUND" {
			return nil, shared.ErrItemNotFound
		}
		return nil, fmt.Errorf("get content for %s: %w", id, err)
	}

	return &item.Content{
		ItemID:      id,
		Prompt:      dto.Prompt,
		ContentHash: dto.ContentHash,
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST PLUMBING
// ══════════════════════════════════════════════════════════════════════════════

// doRequest runs one logical request through the circuit breaker and
// the retry loop, then decodes the body into result.
func (c *Client) doRequest(ctx context.Context, method, path string, result interface{}) error {
	if err := c.circuitBreaker.Allow(); err != nil {
		return fmt.Errorf("circuit breaker: %w", err)
	}

	body, err := c.requestWithRetry(ctx, method, path)
	if err != nil {
		c.circuitBreaker.RecordFailure()
		return err
	}
	c.circuitBreaker.RecordSuccess()

	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// requestWithRetry retries transient failures with exponential backoff.
// The rate limiter gates every attempt, and a 429 from upstream drains
// it for the advertised interval.
func (c *Client) requestWithRetry(ctx context.Context, method, path string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.config.RetryConfig.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.config.RetryConfig.CalculateBackoff(attempt)):
			}
		}

		if err := c.rateLimiter.Allow(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		body, err := c.roundTrip(ctx, method, path)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if !c.isRetryable(err) {
			return nil, err
		}
		var rateLimitErr *RateLimitError
		if errors.As(err, &rateLimitErr) {
			c.rateLimiter.RecordRateLimitHit(rateLimitErr.RetryAfter)
		}
	}
	return nil, fmt.Errorf("request failed after %d retries: %w", c.config.RetryConfig.MaxRetries, lastErr)
}

// roundTrip performs one HTTP exchange and returns the raw body on any
// 2xx/3xx status.
func (c *Client) roundTrip(ctx context.Context, method, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	if c.config.Debug {
		c.log.Debug("content api request",
			logger.String("method", method),
			logger.String("path", path),
		)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, statusError(resp, body)
	}
	return body, nil
}

// statusError maps a non-2xx response to a typed error.
func statusError(resp *http.Response, body []byte) error {
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return &RateLimitError{
			RetryAfter: retryAfterHint(resp.Header.Get("Retry-After")),
			Message:    "rate limit exceeded",
		}
	case http.StatusNotFound:
		return &apiError{Code: "NOT_FOUND", Message: "item content not found"}
	}

	var apiErr apiError
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
		return &apiErr
	}
	return fmt.Errorf("api error: status %d", resp.StatusCode)
}

// retryAfterHint parses a Retry-After header, defaulting to a minute.
func retryAfterHint(header string) time.Duration {
	if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return 60 * time.Second
}

// transientMarkers are substrings of net errors worth retrying.
var transientMarkers = []string{"timeout", "connection refused", "temporary", "reset", "EOF"}

func (c *Client) isRetryable(err error) bool {
	var rateLimitErr *RateLimitError
	var apiErr *apiError
	switch {
	case err == nil:
		return false
	case errors.As(err, &rateLimitErr):
		return true
	case errors.As(err, &apiErr):
		return apiErr.Code == "SERVER_ERROR" || apiErr.Code == "TEMPORARILY_UNAVAILABLE"
	}

	for _, marker := range transientMarkers {
		if strings.Contains(err.Error(), marker) {
			return true
		}
	}
	return false
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH AND STATUS
// ══════════════════════════════════════════════════════════════════════════════

// IsHealthy probes the content service directly, bypassing the rate
// limiter and circuit breaker so a tripped breaker cannot mask
// recovery.
func (c *Client) IsHealthy(ctx context.Context) bool {
	_, err := c.roundTrip(ctx, http.MethodGet, "/health")
	return err == nil
}

// ClientStatus is a point-in-time snapshot for admin inspection.
type ClientStatus struct {
	RateLimiter    RateLimiterStatus
	CircuitBreaker CircuitBreakerStatus
	IsHealthy      bool
}

// Status snapshots the client's protection state.
func (c *Client) Status(ctx context.Context) ClientStatus {
	return ClientStatus{
		RateLimiter:    c.rateLimiter.Status(),
		CircuitBreaker: c.circuitBreaker.Status(),
		IsHealthy:      c.IsHealthy(ctx),
	}
}

// Reset clears the rate limiter and circuit breaker.
func (c *Client) Reset() {
	c.rateLimiter.Reset()
	c.circuitBreaker.Reset()
}
