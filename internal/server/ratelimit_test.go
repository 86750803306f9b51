package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"file-exchanger/internal/rooms"
)

func TestRateLimiter_Allow(t *testing.T) {
	rl := newRateLimiter(5, time.Second)
	defer rl.Close()

	// First 5 requests should be allowed
	for i := 0; i < 5; i++ {
		if !rl.allow("192.168.1.1") {
			t.Errorf("Request %d should be allowed", i+1)
		}
	}

	// 6th request should be denied
	if rl.allow("192.168.1.1") {
		t.Error("6th request should be denied")
	}

	// Different IP should be allowed
	if !rl.allow("192.168.1.2") {
		t.Error("Request from different IP should be allowed")
	}
}

func TestRateLimiter_Window(t *testing.T) {
	rl := newRateLimiter(2, 100*time.Millisecond)
	defer rl.Close()

	// Use up the limit
	if !rl.allow("192.168.1.1") {
		t.Error("First request should be allowed")
	}
	if !rl.allow("192.168.1.1") {
		t.Error("Second request should be allowed")
	}
	if rl.allow("192.168.1.1") {
		t.Error("Third request should be denied")
	}

	// Wait for window to pass
	time.Sleep(110 * time.Millisecond)

	// Should be allowed again
	if !rl.allow("192.168.1.1") {
		t.Error("Request after window should be allowed")
	}
}

func TestRateLimiter_Prune(t *testing.T) {
	rl := newRateLimiter(5, time.Minute)
	defer rl.Close()

	rl.allow("192.168.1.1")
	rl.prune(time.Now().Add(3 * time.Minute))

	rl.mu.Lock()
	n := len(rl.visitors)
	rl.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected idle visitors pruned, %d left", n)
	}
}

func TestEndpointRateLimiter_Classify(t *testing.T) {
	erl := NewEndpointRateLimiter(DefaultEndpointRateLimitConfig())
	defer erl.Close()

	tests := []struct {
		method string
		path   string
		want   string
	}{
		{http.MethodPost, "/api/create-room", "authentication"},
		{http.MethodPost, "/api/join-room", "authentication"},
		{http.MethodPost, "/api/upload", "upload"},
		{http.MethodPost, "/api/room/ABC/upload", "upload"},
		{http.MethodGet, "/api/download/a.txt", "download"},
		{http.MethodGet, "/api/room/ABC/download/a.txt", "download"},
		{http.MethodGet, "/api/files", "api"},
		{http.MethodDelete, "/api/delete/a.txt", "api"},
		{http.MethodGet, "/api/server-info", "api"},
		{http.MethodOptions, "/api/upload", ""},
		{http.MethodGet, "/", ""},
		{http.MethodGet, "/health", ""},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, nil)
		if _, got := erl.classify(req); got != tt.want {
			t.Errorf("%s %s classified as %q, want %q", tt.method, tt.path, got, tt.want)
		}
	}
}

func TestEndpointRateLimiter_Middleware(t *testing.T) {
	erl := NewEndpointRateLimiter(EndpointRateLimitConfig{AuthRate: 3, AuthWindow: time.Minute})
	defer erl.Close()

	handler := erl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(path, ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.RemoteAddr = ip + ":12345"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	for i := 0; i < 3; i++ {
		if w := send("/api/join-room", "192.168.1.1"); w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, w.Code)
		}
	}

	w := send("/api/create-room", "192.168.1.1")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "60" {
		t.Errorf("expected Retry-After 60, got %q", w.Header().Get("Retry-After"))
	}
	if w.Header().Get("X-RateLimit-Limit-Type") != "authentication" {
		t.Errorf("unexpected limit type %q", w.Header().Get("X-RateLimit-Limit-Type"))
	}

	if w := send("/api/join-room", "192.168.1.2"); w.Code != http.StatusOK {
		t.Fatalf("other clients must not be limited, got %d", w.Code)
	}
	// Disabled categories pass through.
	if w := send("/api/upload", "192.168.1.1"); w.Code != http.StatusOK {
		t.Fatalf("upload has no limit configured, got %d", w.Code)
	}
}

func TestServer_RateLimitsJoins(t *testing.T) {
	env := newTestServer(t, func(c *Config, _ *rooms.Config) {
		c.RateLimits = EndpointRateLimitConfig{AuthRate: 2, AuthWindow: time.Minute}
	})

	env.createRoom(t, "secret")
	if rr := env.postJSON(t, "/api/join-room", map[string]string{"room_id": "AB", "password": "x"}); rr.Code == http.StatusTooManyRequests {
		t.Fatal("second auth request must pass")
	}
	if rr := env.postJSON(t, "/api/join-room", map[string]string{"room_id": "AB", "password": "x"}); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
}

func TestGetClientIP(t *testing.T) {
	trust, err := parseTrustedProxies([]string{"127.0.0.1", "10.1.0.0/16"})
	if err != nil {
		t.Fatalf("parseTrustedProxies: %v", err)
	}

	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xri        string
		expected   string
	}{
		{
			name:       "RemoteAddr only",
			remoteAddr: "192.168.1.1:12345",
			expected:   "192.168.1.1",
		},
		{
			name:       "X-Forwarded-For single IP",
			remoteAddr: "127.0.0.1:12345",
			xff:        "203.0.113.1",
			expected:   "203.0.113.1",
		},
		{
			name:       "X-Forwarded-For multiple IPs",
			remoteAddr: "127.0.0.1:12345",
			xff:        "203.0.113.1, 198.51.100.1, 10.1.2.3",
			expected:   "198.51.100.1",
		},
		{
			name:       "X-Forwarded-For only proxies",
			remoteAddr: "127.0.0.1:12345",
			xff:        "10.1.0.9, 10.1.2.3",
			expected:   "10.1.0.9",
		},
		{
			name:       "X-Real-IP",
			remoteAddr: "127.0.0.1:12345",
			xri:        "203.0.113.5",
			expected:   "203.0.113.5",
		},
		{
			name:       "X-Forwarded-For takes precedence",
			remoteAddr: "127.0.0.1:12345",
			xff:        "203.0.113.1",
			xri:        "203.0.113.5",
			expected:   "203.0.113.1",
		},
		{
			name:       "untrusted peer cannot spoof X-Forwarded-For",
			remoteAddr: "192.168.1.20:5555",
			xff:        "203.0.113.1",
			expected:   "192.168.1.20",
		},
		{
			name:       "untrusted peer cannot spoof X-Real-IP",
			remoteAddr: "192.168.1.20:5555",
			xri:        "203.0.113.5",
			expected:   "192.168.1.20",
		},
		{
			name:       "garbage X-Real-IP",
			remoteAddr: "127.0.0.1:12345",
			xri:        "not-an-ip",
			expected:   "127.0.0.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				req.Header.Set("X-Real-IP", tt.xri)
			}

			var got string
			trust.middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = getClientIP(r)
			})).ServeHTTP(httptest.NewRecorder(), req)
			if got != tt.expected {
				t.Errorf("got %q, expected %q", got, tt.expected)
			}
		})
	}
}

func TestGetClientIP_NoProxiesConfigured(t *testing.T) {
	trust, err := parseTrustedProxies(nil)
	if err != nil {
		t.Fatalf("parseTrustedProxies: %v", err)
	}
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	req.Header.Set("X-Forwarded-For", "203.0.113.1")

	if got := trust.resolve(req); got != "127.0.0.1" {
		t.Fatalf("got %q, want the peer address", got)
	}
	// Without the middleware the peer address is used as well.
	if got := getClientIP(req); got != "127.0.0.1" {
		t.Fatalf("getClientIP = %q, want 127.0.0.1", got)
	}
}

func TestParseTrustedProxies_Invalid(t *testing.T) {
	for _, in := range []string{"localhost", "10.0.0.0/33", "1.2.3"} {
		if _, err := parseTrustedProxies([]string{in}); err == nil {
			t.Errorf("parseTrustedProxies(%q): expected error", in)
		}
	}
}
