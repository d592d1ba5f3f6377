package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func frozenLimiter(perSecond float64, burst int) (*RateLimiter, *time.Time) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(perSecond, burst)
	rl.now = func() time.Time { return now }
	return rl, &now
}

func hit(h http.Handler, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/runs", http.NoBody)
	req.RemoteAddr = ip + ":40000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRateLimiterAllowsBurst(t *testing.T) {
	rl, _ := frozenLimiter(1, 3)
	handler := rl.Handler(okHandler)

	for i := range 3 {
		if rec := hit(handler, "192.168.1.1"); rec.Code != http.StatusOK {
			t.Errorf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}
}

func TestRateLimiterRejectsOverLimit(t *testing.T) {
	rl, _ := frozenLimiter(0.5, 2)
	handler := rl.Handler(okHandler)

	for range 2 {
		hit(handler, "192.168.1.1")
	}
	rec := hit(handler, "192.168.1.1")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "2" {
		t.Errorf("expected Retry-After 2, got %q", got)
	}
}

func TestRateLimiterRefills(t *testing.T) {
	rl, now := frozenLimiter(1, 1)
	handler := rl.Handler(okHandler)

	if rec := hit(handler, "10.0.0.1"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec := hit(handler, "10.0.0.1"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	*now = now.Add(time.Second)
	if rec := hit(handler, "10.0.0.1"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 after refill, got %d", rec.Code)
	}
}

func TestRateLimiterSetsRemaining(t *testing.T) {
	rl, _ := frozenLimiter(1, 3)
	rec := hit(rl.Handler(okHandler), "10.0.0.1")
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "2" {
		t.Errorf("expected 2 remaining, got %q", got)
	}
}

func TestRateLimiterPerClient(t *testing.T) {
	rl, _ := frozenLimiter(1, 2)
	handler := rl.Handler(okHandler)

	for range 2 {
		hit(handler, "10.0.0.1")
	}
	if rec := hit(handler, "10.0.0.1"); rec.Code != http.StatusTooManyRequests {
		t.Errorf("10.0.0.1: expected 429, got %d", rec.Code)
	}
	if rec := hit(handler, "10.0.0.2"); rec.Code != http.StatusOK {
		t.Errorf("10.0.0.2: expected 200, got %d", rec.Code)
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl, now := frozenLimiter(1, 1)
	handler := rl.Handler(okHandler)
	hit(handler, "10.0.0.1")
	*now = now.Add(time.Minute)
	hit(handler, "10.0.0.2")

	rl.cleanup(30 * time.Second)
	if n := rl.Len(); n != 1 {
		t.Fatalf("expected 1 client after cleanup, got %d", n)
	}
}
