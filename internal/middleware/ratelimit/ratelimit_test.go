package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLimiterPerClientBurst(t *testing.T) {
	rl := NewLimiter(Config{RequestsPerMinute: 4})
	defer rl.Stop()

	if !rl.Allow("198.51.100.1") {
		t.Fatal("first request should pass")
	}
	if rl.Allow("198.51.100.1") {
		t.Fatal("second immediate request should be throttled with burst 1")
	}
	if !rl.Allow("198.51.100.2") {
		t.Fatal("another client has its own bucket")
	}

	m := rl.GetMetrics()
	if m.TotalHits != 1 || m.ClientCount != 2 {
		t.Errorf("GetMetrics() = %+v, want 1 hit and 2 clients", m)
	}
}

func TestMiddlewareOnlyThrottlesSelectedRequests(t *testing.T) {
	rl := NewLimiter(Config{RequestsPerMinute: 4})
	defer rl.Stop()

	ip := func(*http.Request) string { return "198.51.100.9" }
	writes := func(r *http.Request) bool { return r.Method != http.MethodGet }
	h := rl.Middleware(ip, writes, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	codes := make([]int, 0, 4)
	for _, method := range []string{http.MethodPost, http.MethodGet, http.MethodGet, http.MethodPost} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(method, "/", nil))
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusTooManyRequests && rec.Header().Get("Retry-After") == "" {
			t.Error("throttled response lacks Retry-After")
		}
	}
	want := []int{http.StatusNoContent, http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("status codes = %v, want %v", codes, want)
		}
	}
}

func TestStopIsIdempotent(t *testing.T) {
	rl := NewLimiter(DefaultConfig())
	rl.Stop()
	rl.Stop()
}
