package content

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillforge/mastery-engine/internal/domain/shared"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := DefaultClientConfig(server.URL)
	cfg.RetryConfig.MaxRetries = 0
	return NewClient(cfg)
}

func TestClient_GetContent(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/items/item-1/content", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"item_id": "item-1",
			"prompt": "Solve for x: 2x + 3 = 9",
			"content_hash": "abc123"
		}`))
	})

	content, err := client.GetContent(context.Background(), shared.ItemID("item-1"))
	require.NoError(t, err)

	assert.Equal(t, shared.ItemID("item-1"), content.ItemID)
	assert.Equal(t, "Solve for x: 2x + 3 = 9", content.Prompt)
	assert.Equal(t, "abc123", content.ContentHash)
}

func TestClient_GetContent_NotFound(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.GetContent(context.Background(), shared.ItemID("missing"))
	assert.ErrorIs(t, err, shared.ErrItemNotFound)
}

func TestClient_GetContent_EmptyID(t *testing.T) {
	client := NewClient(DefaultClientConfig("http://localhost:0"))

	_, err := client.GetContent(context.Background(), shared.ItemID(""))
	assert.ErrorIs(t, err, shared.ErrInvalidItemID)
}

func TestClient_CircuitOpensAfterFailures(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"code":"INTERNAL","message":"boom"}`))
	})
	client.circuitBreaker = NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold:   2,
		SuccessThreshold:   1,
		Timeout:            time.Minute,
		HalfOpenMaxRetries: 1,
	})

	for i := 0; i < 2; i++ {
		_, err := client.GetContent(context.Background(), shared.ItemID("item-1"))
		require.Error(t, err)
	}

	_, err := client.GetContent(context.Background(), shared.ItemID("item-1"))
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestClient_RetriesServerError(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"code":"TEMPORARILY_UNAVAILABLE","message":"try later"}`))
			return
		}
		_, _ = w.Write([]byte(`{"item_id":"item-1","prompt":"p","content_hash":"h"}`))
	}))
	defer server.Close()

	cfg := DefaultClientConfig(server.URL)
	cfg.RetryConfig.MaxRetries = 2
	cfg.RetryConfig.InitialBackoff = time.Millisecond
	client := NewClient(cfg)

	content, err := client.GetContent(context.Background(), shared.ItemID("item-1"))
	require.NoError(t, err)
	assert.Equal(t, "p", content.Prompt)
	assert.Equal(t, 2, calls)
}

func TestRateLimiter_BlocksAfterBurst(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		RequestsPerSecond: 1.0,
		BurstSize:         2,
		WaitTimeout:       time.Millisecond,
	})

	assert.True(t, rl.TryAllow())
	assert.True(t, rl.TryAllow())
	assert.False(t, rl.TryAllow())
}

func TestRateLimiter_RecordRateLimitHitEmptiesBucket(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	require.True(t, rl.TryAllow())

	rl.RecordRateLimitHit(time.Second)
	assert.False(t, rl.TryAllow())
}

func TestCircuitBreaker_Transitions(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold:   2,
		SuccessThreshold:   1,
		Timeout:            10 * time.Millisecond,
		HalfOpenMaxRetries: 1,
	})

	require.NoError(t, cb.Allow())
	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)

	time.Sleep(15 * time.Millisecond)
	require.NoError(t, cb.Allow())
	assert.Equal(t, CircuitHalfOpen, cb.State())

	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestRetryConfig_BackoffIsCapped(t *testing.T) {
	cfg := RetryConfig{
		MaxRetries:        5,
		InitialBackoff:    time.Second,
		MaxBackoff:        4 * time.Second,
		BackoffMultiplier: 2.0,
	}

	assert.LessOrEqual(t, cfg.CalculateBackoff(10), 4*time.Second)
	assert.Equal(t, time.Second, cfg.CalculateBackoff(0))
}

func TestAPIError_IsNotRetryable(t *testing.T) {
	c := NewClient(DefaultClientConfig("http://localhost:0"))

	assert.False(t, c.isRetryable(&apiError{Code: "NOT_FOUND", Message: "nope"}))
	assert.True(t, c.isRetryable(&apiError{Code: "SERVER_ERROR", Message: "boom"}))
	assert.True(t, c.isRetryable(errors.New("connection refused")))
}
