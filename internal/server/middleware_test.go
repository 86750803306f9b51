package server

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"file-exchanger/internal/rooms"
)

func TestCORS_Preflight(t *testing.T) {
	env := newTestServer(t)

	for _, path := range []string{"/api/upload", "/api/room/ABC/files", "/anything"} {
		rr := env.do(t, http.MethodOptions, path, nil, map[string]string{"Origin": "http://192.168.1.9:8888"})
		if rr.Code != http.StatusOK {
			t.Fatalf("OPTIONS %s: expected 200, got %d", path, rr.Code)
		}
		if rr.Body.Len() != 0 {
			t.Fatalf("OPTIONS %s: expected empty body, got %q", path, rr.Body.String())
		}
		h := rr.Header()
		if h.Get("Access-Control-Allow-Origin") != "*" {
			t.Errorf("Allow-Origin = %q", h.Get("Access-Control-Allow-Origin"))
		}
		if h.Get("Access-Control-Allow-Methods") != "GET, POST, DELETE, OPTIONS" {
			t.Errorf("Allow-Methods = %q", h.Get("Access-Control-Allow-Methods"))
		}
		if !strings.Contains(h.Get("Access-Control-Allow-Headers"), "X-Filename") {
			t.Errorf("Allow-Headers = %q", h.Get("Access-Control-Allow-Headers"))
		}
	}
}

func TestCORS_HeadersOnErrors(t *testing.T) {
	env := newTestServer(t)

	rr := env.do(t, http.MethodGet, "/api/download/missing.txt", nil, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("error responses must carry CORS headers")
	}
}

func TestCORS_AllowList(t *testing.T) {
	env := newTestServer(t, func(c *Config, _ *rooms.Config) {
		c.AllowedOrigins = []string{"http://Laptop.local:8888", "not a url"}
	})

	tests := []struct {
		origin string
		want   string
	}{
		{"http://laptop.local:8888", "http://laptop.local:8888"},
		{"http://LAPTOP.local:8888", "http://LAPTOP.local:8888"},
		{"http://evil.example", ""},
		{"", ""},
	}
	for _, tt := range tests {
		headers := map[string]string{}
		if tt.origin != "" {
			headers["Origin"] = tt.origin
		}
		rr := env.do(t, http.MethodGet, "/api/files", nil, headers)
		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
			t.Errorf("origin %q: Allow-Origin = %q, want %q", tt.origin, got, tt.want)
		}
	}
}

func TestNormalizeOrigins(t *testing.T) {
	got, allowAll := normalizeOrigins([]string{" HTTP://A.example ", "", "*", "bogus"})
	if !allowAll {
		t.Fatal("expected wildcard to allow all")
	}
	if len(got) != 1 || got[0] != "http://a.example" {
		t.Fatalf("unexpected origins %v", got)
	}
}

func TestFallback(t *testing.T) {
	env := newTestServer(t)

	tests := []struct {
		method string
		path   string
		status int
		html   bool
	}{
		{http.MethodGet, "/", http.StatusOK, true},
		{http.MethodGet, "/some/page", http.StatusOK, true},
		{http.MethodHead, "/", http.StatusOK, false},
		{http.MethodGet, "/api/unknown", http.StatusOK, true},
		{http.MethodGet, "/api/upload", http.StatusOK, true},
		{http.MethodGet, "/api/delete/a.txt", http.StatusOK, true},
		{http.MethodGet, "/api/create-room", http.StatusOK, true},
		{http.MethodPost, "/nope", http.StatusNotFound, false},
		{http.MethodPost, "/api/files", http.StatusNotFound, false},
		{http.MethodDelete, "/api/upload", http.StatusNotFound, false},
		{http.MethodPut, "/", http.StatusNotFound, false},
	}

	for _, tt := range tests {
		rr := env.do(t, tt.method, tt.path, nil, nil)
		if rr.Code != tt.status {
			t.Errorf("%s %s: expected %d, got %d", tt.method, tt.path, tt.status, rr.Code)
			continue
		}
		if tt.html {
			if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
				t.Errorf("%s %s: Content-Type = %q", tt.method, tt.path, ct)
			}
			if !strings.Contains(rr.Body.String(), "<html") {
				t.Errorf("%s %s: expected the landing page", tt.method, tt.path)
			}
		}
	}
}

func TestSecurityHeaders(t *testing.T) {
	env := newTestServer(t)
	rr := env.do(t, http.MethodGet, "/", nil, nil)

	for header, want := range map[string]string{
		"X-Frame-Options":        "DENY",
		"X-Content-Type-Options": "nosniff",
		"Referrer-Policy":        "no-referrer",
	} {
		if got := rr.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
	if !strings.Contains(rr.Header().Get("Content-Security-Policy"), "img-src 'self' data:") {
		t.Errorf("CSP must allow the QR code data URL: %q", rr.Header().Get("Content-Security-Policy"))
	}
}

func TestRequestID(t *testing.T) {
	env := newTestServer(t)

	rr := env.do(t, http.MethodGet, "/live", nil, nil)
	if len(rr.Header().Get("X-Request-Id")) != 36 {
		t.Fatalf("expected a generated UUID, got %q", rr.Header().Get("X-Request-Id"))
	}

	rr = env.do(t, http.MethodGet, "/live", nil, map[string]string{"X-Request-Id": "client-123"})
	if rr.Header().Get("X-Request-Id") != "client-123" {
		t.Fatalf("client id not kept: %q", rr.Header().Get("X-Request-Id"))
	}

	rr = env.do(t, http.MethodGet, "/live", nil, map[string]string{"X-Request-Id": strings.Repeat("x", maxRequestIDLength+1)})
	if len(rr.Header().Get("X-Request-Id")) != 36 {
		t.Fatal("oversized client id must be replaced")
	}
}

func TestCompression(t *testing.T) {
	env := newTestServer(t)
	env.do(t, http.MethodPost, "/api/upload", strings.NewReader(strings.Repeat("z", 4096)), map[string]string{"X-Filename": "z.txt"})

	rr := env.do(t, http.MethodGet, "/api/files", nil, map[string]string{"Accept-Encoding": "gzip"})
	if rr.Header().Get("Content-Encoding") != "gzip" {
		t.Fatal("expected a gzipped listing")
	}
	zr, err := gzip.NewReader(rr.Body)
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	body, _ := io.ReadAll(zr)
	if !strings.Contains(string(body), `"name":"z.txt"`) {
		t.Fatalf("unexpected listing %s", body)
	}

	rr = env.do(t, http.MethodGet, "/api/download/z.txt", nil, map[string]string{"Accept-Encoding": "gzip"})
	if rr.Header().Get("Content-Encoding") != "" {
		t.Fatal("downloads must not be compressed")
	}
	if rr.Body.Len() != 4096 {
		t.Fatalf("expected raw body, got %d bytes", rr.Body.Len())
	}
}

func TestShouldSkipCompression(t *testing.T) {
	tests := []struct {
		method string
		path   string
		want   bool
	}{
		{http.MethodGet, "/api/files", false},
		{http.MethodGet, "/", false},
		{http.MethodHead, "/", true},
		{http.MethodGet, "/api/download/a", true},
		{http.MethodGet, "/api/room/X/download/a", true},
		{http.MethodPost, "/api/upload", true},
		{http.MethodPost, "/api/room/X/upload", true},
		{http.MethodGet, "/metrics", true},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, nil)
		if got := shouldSkipCompression(req); got != tt.want {
			t.Errorf("%s %s: got %v, want %v", tt.method, tt.path, got, tt.want)
		}
	}
}
