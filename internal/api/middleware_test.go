package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"

	"github.com/lalithlochan/cirrus/internal/redis"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func newTestRateLimiter(t *testing.T, limit int, window time.Duration) *redis.RateLimiter {
	t.Helper()

	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	if err != nil {
		t.Fatalf("failed to parse miniredis port: %v", err)
	}

	client, err := redis.New(context.Background(), redis.Config{
		Host: mr.Host(),
		Port: port,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to connect to miniredis: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	return redis.NewRateLimiter(client, zap.NewNop(), redis.RateLimitConfig{
		Limit:  limit,
		Window: window,
	})
}

func TestRateLimitMiddlewareNilLimiterPassesThrough(t *testing.T) {
	mw := RateLimitMiddleware(nil, zap.NewNop(), IPKeyFunc)
	handler := mw(okHandler())

	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/unsubscribe", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i, rec.Code)
		}
	}
}

func TestRateLimitMiddlewareEmptyKeyPassesThrough(t *testing.T) {
	limiter := newTestRateLimiter(t, 1, time.Minute)
	mw := RateLimitMiddleware(limiter, zap.NewNop(), func(*http.Request) string { return "" })
	handler := mw(okHandler())

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/unsubscribe", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i, rec.Code)
		}
	}
}

func TestRateLimitMiddlewareRejectsOverLimit(t *testing.T) {
	limiter := newTestRateLimiter(t, 2, time.Minute)
	mw := RateLimitMiddleware(limiter, zap.NewNop(), IPKeyFunc)
	handler := mw(okHandler())

	newReq := func() *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/v1/unsubscribe", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.9")
		return req
	}

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, newReq())
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newReq())
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("429 response missing Retry-After header")
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("Content-Type = %q, want application/problem+json", ct)
	}
}

func TestRateLimitMiddlewareIsolatesKeys(t *testing.T) {
	limiter := newTestRateLimiter(t, 1, time.Minute)
	mw := RateLimitMiddleware(limiter, zap.NewNop(), IPKeyFunc)
	handler := mw(okHandler())

	send := func(ip string) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/unsubscribe", nil)
		req.Header.Set("X-Forwarded-For", ip)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := send("203.0.113.1"); code != http.StatusOK {
		t.Fatalf("first client status = %d, want 200", code)
	}
	if code := send("203.0.113.1"); code != http.StatusTooManyRequests {
		t.Fatalf("first client second request status = %d, want 429", code)
	}
	if code := send("203.0.113.2"); code != http.StatusOK {
		t.Errorf("second client status = %d, want 200", code)
	}
}

func TestIPKeyFunc(t *testing.T) {
	tests := []struct {
		name     string
		headers  map[string]string
		remote   string
		expected string
	}{
		{
			name:     "prefers X-Forwarded-For",
			headers:  map[string]string{"X-Forwarded-For": "203.0.113.1", "X-Real-IP": "203.0.113.2"},
			remote:   "10.0.0.1:5000",
			expected: "ip:203.0.113.1",
		},
		{
			name:     "falls back to X-Real-IP",
			headers:  map[string]string{"X-Real-IP": "203.0.113.2"},
			remote:   "10.0.0.1:5000",
			expected: "ip:203.0.113.2",
		},
		{
			name:     "falls back to remote address",
			remote:   "10.0.0.1:5000",
			expected: "ip:10.0.0.1:5000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := IPKeyFunc(req); got != tt.expected {
				t.Errorf("IPKeyFunc() = %q, want %q", got, tt.expected)
			}
		})
	}
}
