package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// countingLimiter allows the first `limit` calls per key.
type countingLimiter struct {
	mu    sync.Mutex
	seen  map[string]int
	err   error
	limit int
}

func (l *countingLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen[key]++
	return l.seen[key] <= l.limit, nil
}

func TestRateLimit(t *testing.T) {
	limiter := &countingLimiter{seen: make(map[string]int), limit: 2}
	h := RateLimit(limiter, 2, time.Minute)(okHandler())

	do := func(remote string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/bet", nil)
		req.RemoteAddr = remote
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	if got := do("10.0.0.1:1234"); got != http.StatusOK {
		t.Errorf("first request: status = %d, want 200", got)
	}
	if got := do("10.0.0.1:1234"); got != http.StatusOK {
		t.Errorf("second request: status = %d, want 200", got)
	}
	if got := do("10.0.0.1:1234"); got != http.StatusTooManyRequests {
		t.Errorf("third request: status = %d, want 429", got)
	}

	// Distinct client IPs are limited separately.
	if got := do("10.0.0.2:1234"); got != http.StatusOK {
		t.Errorf("other client: status = %d, want 200", got)
	}
}

func TestRateLimit_FailsOpen(t *testing.T) {
	limiter := &countingLimiter{seen: make(map[string]int), err: errors.New("redis down")}
	h := RateLimit(limiter, 1, time.Minute)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/bet", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 when the limiter errors", w.Code)
	}
}

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		want    string
	}{
		{"remote addr", "192.168.1.5:4000", nil, "192.168.1.5"},
		{"x-forwarded-for", "10.0.0.1:80", map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}, "203.0.113.9"},
		{"x-real-ip", "10.0.0.1:80", map[string]string{"X-Real-IP": "203.0.113.7"}, "203.0.113.7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := extractClientIP(req); got != tt.want {
				t.Errorf("extractClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}
