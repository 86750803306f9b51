package server

import (
	"net/http"
	"net/url"
	"strings"
)

const (
	corsAllowMethods = "GET, POST, DELETE, OPTIONS"
	corsAllowHeaders = "Content-Type, X-Filename, X-Password"
)

// corsPolicy decides which origins get an Access-Control-Allow-Origin header.
type corsPolicy struct {
	allowAll bool
	origins  map[string]struct{}
}

func newCORSPolicy(origins []string) *corsPolicy {
	normalized, allowAll := normalizeOrigins(origins)
	p := &corsPolicy{allowAll: allowAll, origins: make(map[string]struct{}, len(normalized))}
	for _, o := range normalized {
		p.origins[o] = struct{}{}
	}
	return p
}

func normalizeOrigins(origins []string) ([]string, bool) {
	if len(origins) == 0 {
		return nil, false
	}

	normalized := make([]string, 0, len(origins))
	allowAll := false

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}

		if trimmed == "*" {
			allowAll = true
			continue
		}

		normalizedOrigin, ok := normalizeOrigin(trimmed)
		if !ok {
			Warn("ignoring invalid origin in configuration", map[string]any{"origin": origin})
			continue
		}

		normalized = append(normalized, normalizedOrigin)
	}

	return normalized, allowAll
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}

	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

// allowOrigin returns the value for Access-Control-Allow-Origin, or "" when
// the request origin is not allowed.
func (p *corsPolicy) allowOrigin(r *http.Request) string {
	if p.allowAll {
		return "*"
	}
	originHeader := r.Header.Get("Origin")
	if originHeader == "" {
		return ""
	}
	normalizedOrigin, ok := normalizeOrigin(originHeader)
	if !ok {
		return ""
	}
	if _, exists := p.origins[normalizedOrigin]; exists {
		return originHeader
	}
	return ""
}

// middleware sets the CORS headers on every response and answers preflight
// requests for any path with an empty 200.
func (p *corsPolicy) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		if origin := p.allowOrigin(r); origin != "" {
			h.Set("Access-Control-Allow-Origin", origin)
			if origin != "*" {
				h.Add("Vary", "Origin")
			}
		}
		h.Set("Access-Control-Allow-Methods", corsAllowMethods)
		h.Set("Access-Control-Allow-Headers", corsAllowHeaders)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
