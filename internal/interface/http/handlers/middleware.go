package handlers

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"
	"time"
)

// MiddlewareFunc wraps an http.Handler with extra behavior.
type MiddlewareFunc func(http.Handler) http.Handler

// Chain composes middleware so the first listed runs outermost.
func Chain(middlewares ...MiddlewareFunc) MiddlewareFunc {
	return func(final http.Handler) http.Handler {
		h := final
		for i := len(middlewares) - 1; i >= 0; i-- {
			h = middlewares[i](h)
		}
		return h
	}
}

// ChainHandler applies Chain directly to a handler.
func ChainHandler(handler http.Handler, middlewares ...MiddlewareFunc) http.Handler {
	return Chain(middlewares...)(handler)
}

// ══════════════════════════════════════════════════════════════════════════════
// API KEY AUTHENTICATION
// ══════════════════════════════════════════════════════════════════════════════

// APIKeyAuth guards the administrative endpoints (content registration,
// replay, calibration). Keys come from the header named at construction
// or from a Bearer token.
type APIKeyAuth struct {
	mu         sync.RWMutex
	headerName string
	validKeys  map[string]bool
}

// NewAPIKeyAuth creates an authenticator from the configured key list.
// Empty strings are ignored so a blank env var cannot open the door.
func NewAPIKeyAuth(headerName string, keys []string) *APIKeyAuth {
	a := &APIKeyAuth{
		headerName: headerName,
		validKeys:  make(map[string]bool, len(keys)),
	}
	for _, k := range keys {
		if k != "" {
			a.validKeys[k] = true
		}
	}
	return a
}

// AddKey registers an additional valid key at runtime.
func (a *APIKeyAuth) AddKey(key string) {
	a.mu.Lock()
	a.validKeys[key] = true
	a.mu.Unlock()
}

// RemoveKey revokes a key.
func (a *APIKeyAuth) RemoveKey(key string) {
	a.mu.Lock()
	delete(a.validKeys, key)
	a.mu.Unlock()
}

// IsValid reports whether key is accepted. Comparison is constant-time
// per candidate key.
func (a *APIKeyAuth) IsValid(key string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for k := range a.validKeys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			return true
		}
	}
	return false
}

// Middleware rejects requests without a valid key.
func (a *APIKeyAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := a.extractKey(r)
		switch {
		case key == "":
			writeRawError(w, http.StatusUnauthorized, "missing_api_key", "API key is required")
		case !a.IsValid(key):
			writeRawError(w, http.StatusUnauthorized, "invalid_api_key", "Invalid API key")
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func (a *APIKeyAuth) extractKey(r *http.Request) string {
	if key := r.Header.Get(a.headerName); key != "" {
		return key
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return token
	}
	return ""
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST GUARDS
// ══════════════════════════════════════════════════════════════════════════════

// TimeoutMiddleware bounds how long a handler may run. On deadline the
// client gets a 504 even if the handler goroutine is still working.
func TimeoutMiddleware(timeout time.Duration) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			finished := make(chan struct{})
			go func() {
				defer close(finished)
				next.ServeHTTP(w, r.WithContext(ctx))
			}()

			select {
			case <-finished:
			case <-ctx.Done():
				if ctx.Err() == context.DeadlineExceeded {
					writeRawError(w, http.StatusGatewayTimeout, "timeout", "Request timeout exceeded")
				}
			}
		})
	}
}

// RequestSizeLimitMiddleware caps request body size. Oversized declared
// lengths are rejected up front; chunked bodies are capped by
// MaxBytesReader while the handler reads.
func RequestSizeLimitMiddleware(maxBytes int64) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				writeRawError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// SecurityHeadersMiddleware sets the standard hardening headers for a
// JSON API that never serves markup.
func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

// writeRawError emits a minimal JSON error without pulling in the
// server package's response envelope.
func writeRawError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + code + `","message":"` + message + `"}`))
}
