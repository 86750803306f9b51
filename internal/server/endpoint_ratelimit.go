// endpoint_ratelimit.go - Per-endpoint rate limiting.
//
// Room creation and joins get the tightest budget since they are the
// password guessing surface; transfers and the rest of the API get their
// own buckets.
package server

import (
	"net/http"
	"strings"
	"time"
)

// EndpointRateLimiter manages rate limits for different endpoint types.
type EndpointRateLimiter struct {
	authLimiter     *rateLimiter
	uploadLimiter   *rateLimiter
	downloadLimiter *rateLimiter
	apiLimiter      *rateLimiter
}

// EndpointRateLimitConfig holds configuration for endpoint rate limits.
// A rate of zero or less disables that category.
type EndpointRateLimitConfig struct {
	AuthRate       int // create-room and join-room
	AuthWindow     time.Duration
	UploadRate     int
	UploadWindow   time.Duration
	DownloadRate   int
	DownloadWindow time.Duration
	APIRate        int // every other /api/ request
	APIWindow      time.Duration
}

// DefaultEndpointRateLimitConfig returns limits sized for a LAN with a
// handful of clients.
func DefaultEndpointRateLimitConfig() EndpointRateLimitConfig {
	return EndpointRateLimitConfig{
		AuthRate:       30,
		AuthWindow:     time.Minute,
		UploadRate:     600,
		UploadWindow:   time.Hour,
		DownloadRate:   1200,
		DownloadWindow: time.Hour,
		APIRate:        300,
		APIWindow:      time.Minute,
	}
}

// NewEndpointRateLimiter creates a rate limiter with the given configuration.
func NewEndpointRateLimiter(cfg EndpointRateLimitConfig) *EndpointRateLimiter {
	return &EndpointRateLimiter{
		authLimiter:     maybeLimiter(cfg.AuthRate, cfg.AuthWindow),
		uploadLimiter:   maybeLimiter(cfg.UploadRate, cfg.UploadWindow),
		downloadLimiter: maybeLimiter(cfg.DownloadRate, cfg.DownloadWindow),
		apiLimiter:      maybeLimiter(cfg.APIRate, cfg.APIWindow),
	}
}

func maybeLimiter(rate int, window time.Duration) *rateLimiter {
	if rate <= 0 {
		return nil
	}
	if window <= 0 {
		window = time.Minute
	}
	return newRateLimiter(rate, window)
}

// Close stops the cleanup goroutines.
func (erl *EndpointRateLimiter) Close() {
	for _, rl := range []*rateLimiter{erl.authLimiter, erl.uploadLimiter, erl.downloadLimiter, erl.apiLimiter} {
		if rl != nil {
			rl.Close()
		}
	}
}

// classify maps a request to its limiter. Only /api/ paths are limited.
func (erl *EndpointRateLimiter) classify(r *http.Request) (*rateLimiter, string) {
	path := r.URL.Path
	if !strings.HasPrefix(path, "/api/") || r.Method == http.MethodOptions {
		return nil, ""
	}

	switch {
	case path == "/api/create-room" || path == "/api/join-room":
		return erl.authLimiter, "authentication"
	case r.Method == http.MethodPost && (path == "/api/upload" || strings.HasSuffix(path, "/upload")):
		return erl.uploadLimiter, "upload"
	case r.Method == http.MethodGet && (strings.HasPrefix(path, "/api/download/") || strings.Contains(path, "/download/")):
		return erl.downloadLimiter, "download"
	default:
		return erl.apiLimiter, "api"
	}
}

// Middleware returns an HTTP middleware that applies endpoint-specific rate limits.
func (erl *EndpointRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limiter, limitType := erl.classify(r)
		if limiter == nil {
			next.ServeHTTP(w, r)
			return
		}

		ip := getClientIP(r)
		if !limiter.allow(ip) {
			Warn("rate_limit_exceeded", map[string]any{
				"rid":        RequestIDFromContext(r.Context()),
				"ip":         ip,
				"path":       r.URL.Path,
				"method":     r.Method,
				"limit_type": limitType,
			})

			w.Header().Set("Retry-After", "60")
			w.Header().Set("X-RateLimit-Limit-Type", limitType)
			http.Error(w, "Rate limit exceeded for "+limitType+" endpoints. Please try again later.", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}
