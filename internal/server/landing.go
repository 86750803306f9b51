package server

import (
	_ "embed"
	"net/http"
)

//go:embed web/index.html
var landingPage []byte

// handleFallback serves the landing page for any GET or HEAD that no route
// takes, /api/ paths and method mismatches included. Other methods get 404.
func (s *Server) handleFallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		_, _ = w.Write(landingPage)
	}
}
