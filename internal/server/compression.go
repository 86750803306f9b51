// compression.go - gzip for listings, JSON and the landing page.
//
// File transfers are passed through untouched: downloads carry an exact
// Content-Length and uploads answer with a tiny JSON body.
package server

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"
)

// compressionResponseWriter wraps http.ResponseWriter to compress responses.
type compressionResponseWriter struct {
	http.ResponseWriter
	writer io.Writer
}

func (crw *compressionResponseWriter) Write(b []byte) (int, error) {
	return crw.writer.Write(b)
}

// CompressionMiddleware returns middleware that compresses HTTP responses.
func CompressionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Vary", "Accept-Encoding")

		if !acceptsCompression(r) || shouldSkipCompression(r) {
			next.ServeHTTP(w, r)
			return
		}

		gz := gzip.NewWriter(w)
		defer func() { _ = gz.Close() }()

		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Del("Content-Length")

		next.ServeHTTP(&compressionResponseWriter{ResponseWriter: w, writer: gz}, r)
	})
}

// acceptsCompression checks if the client accepts gzip encoding.
func acceptsCompression(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept-Encoding"), "gzip")
}

// shouldSkipCompression reports whether the response must be sent as is.
func shouldSkipCompression(r *http.Request) bool {
	path := r.URL.Path

	if r.Method == http.MethodHead {
		return true
	}
	if strings.HasPrefix(path, "/api/download/") || strings.Contains(path, "/download/") {
		return true
	}
	if r.Method == http.MethodPost && (path == "/api/upload" || strings.HasSuffix(path, "/upload")) {
		return true
	}
	if path == "/metrics" {
		return true
	}
	return false
}
