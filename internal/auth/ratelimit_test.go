package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/axonops/axonops-auth-service/internal/config"
)

func TestRateLimiter_Disabled(t *testing.T) {
	rl := NewRateLimiter(config.RateLimitConfig{Enabled: false})

	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 100; i++ {
		r := httptest.NewRequest("POST", "/sessions/alice@example.net", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, w.Code)
		}
	}
}

func TestRateLimiter_BurstThenLimited(t *testing.T) {
	rl := NewRateLimiter(config.RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 1,
		Burst:             3,
	})

	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		r := httptest.NewRequest("POST", "/sessions/alice@example.net", nil)
		r.RemoteAddr = "10.0.0.1:12345"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		if w.Code != http.StatusOK {
			t.Fatalf("burst request %d: expected 200, got %d", i, w.Code)
		}
	}

	r := httptest.NewRequest("POST", "/sessions/alice@example.net", nil)
	r.RemoteAddr = "10.0.0.1:12345"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after burst, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "1" {
		t.Errorf("expected Retry-After header, got %q", w.Header().Get("Retry-After"))
	}
}

func TestRateLimiter_PerClientIsolation(t *testing.T) {
	rl := NewRateLimiter(config.RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 1,
		Burst:             1,
	})

	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Exhaust the first client's bucket.
	r := httptest.NewRequest("POST", "/sessions/alice@example.net", nil)
	r.RemoteAddr = "10.0.0.1:12345"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	r = httptest.NewRequest("POST", "/sessions/alice@example.net", nil)
	r.RemoteAddr = "10.0.0.1:12345"
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for exhausted client, got %d", w.Code)
	}

	// A different client still gets through.
	r = httptest.NewRequest("POST", "/sessions/alice@example.net", nil)
	r.RemoteAddr = "10.0.0.2:12345"
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for fresh client, got %d", w.Code)
	}
}

func TestTokenBucketRefill(t *testing.T) {
	tb := newTokenBucket(1, 100) // refills fast enough to observe

	if !tb.allow() {
		t.Fatal("first request should pass")
	}
	if tb.allow() {
		t.Fatal("bucket should be empty")
	}

	time.Sleep(50 * time.Millisecond)
	if !tb.allow() {
		t.Error("bucket should have refilled")
	}
}

func TestCleanupStaleClients(t *testing.T) {
	rl := NewRateLimiter(config.RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 1,
		Burst:             1,
	})

	rl.getClientBucket("10.0.0.1")
	rl.getClientBucket("10.0.0.2")
	if len(rl.clients) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(rl.clients))
	}

	time.Sleep(20 * time.Millisecond)
	rl.CleanupStaleClients(10 * time.Millisecond)
	if len(rl.clients) != 0 {
		t.Errorf("expected stale buckets removed, got %d", len(rl.clients))
	}
}

func TestGetClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "192.168.1.1:5000"
	if ip := getClientIP(r); ip != "192.168.1.1:5000" {
		t.Errorf("expected RemoteAddr fallback, got %q", ip)
	}

	r.Header.Set("X-Real-IP", "10.1.1.1")
	if ip := getClientIP(r); ip != "10.1.1.1" {
		t.Errorf("expected X-Real-IP, got %q", ip)
	}

	r.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	if ip := getClientIP(r); ip != "203.0.113.5" {
		t.Errorf("expected first X-Forwarded-For entry, got %q", ip)
	}
}
