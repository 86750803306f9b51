package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"file-exchanger/internal/rooms"
	"file-exchanger/internal/storage"
)

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Version string
	Commit  string
}

type Config struct {
	Addr  string // e.g. ":8888"
	Build BuildInfo

	Rooms  *rooms.Registry
	Shared *storage.Folder // nil disables the flat routes

	// Probes are checked by /health and /ready, keyed by component name.
	Probes map[string]Pinger

	// Auditor receives audit events. Nil logs them through DefaultLogger.
	Auditor Auditor

	AllowedOrigins []string
	// TrustedProxies lists IPs or CIDRs whose X-Forwarded-For and X-Real-IP
	// headers are believed. Empty means the peer address is the client.
	TrustedProxies []string
	MaxUploadBytes int64 // 0 means unlimited
	RateLimits     EndpointRateLimitConfig
}

type Server struct {
	httpServer *http.Server
	handler    http.Handler

	build     BuildInfo
	addr      string
	rooms     *rooms.Registry
	shared    *storage.Folder
	probes    map[string]Pinger
	auditor   Auditor
	metrics   *Metrics
	limiter   *EndpointRateLimiter
	maxUpload int64
	lan       *lanInfo
}

func New(cfg Config) *Server {
	s := &Server{
		build:     cfg.Build,
		addr:      cfg.Addr,
		rooms:     cfg.Rooms,
		shared:    cfg.Shared,
		probes:    cfg.Probes,
		auditor:   cfg.Auditor,
		metrics:   NewMetrics(),
		limiter:   NewEndpointRateLimiter(cfg.RateLimits),
		maxUpload: cfg.MaxUploadBytes,
		lan:       newLANInfo(discoverLocalIP),
	}
	if s.auditor == nil {
		s.auditor = LogAuditor{Logger: DefaultLogger}
	}
	if s.probes == nil {
		s.probes = map[string]Pinger{}
	}
	proxies, err := parseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		Warn("trusted_proxies_ignored", map[string]any{"error": err.Error()})
		proxies = &proxyTrust{}
	}

	// Wrap middleware: client ip -> requestID -> logging -> cors -> rate limit -> headers -> gzip -> router
	var handler http.Handler = s.routes()
	handler = CompressionMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = s.limiter.Middleware(handler)
	handler = newCORSPolicy(cfg.AllowedOrigins).middleware(handler)
	handler = loggingMiddleware(s.metrics)(handler)
	handler = requestIDMiddleware(handler)
	handler = proxies.middleware(handler)
	s.handler = handler

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.HandleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ready", s.HandleReady).Methods(http.MethodGet)
	r.HandleFunc("/live", s.HandleLive).Methods(http.MethodGet)
	r.Handle("/metrics", NewPrometheusExporter(s.metrics, s.build.Version, s.roomCount).Handler()).Methods(http.MethodGet)

	r.HandleFunc("/api/server-info", s.handleServerInfo).Methods(http.MethodGet)

	if s.shared != nil {
		flat := s.flatSpace()
		r.HandleFunc("/api/files", s.handleList(flat)).Methods(http.MethodGet)
		r.HandleFunc("/api/upload", s.handleUpload(flat)).Methods(http.MethodPost)
		r.HandleFunc("/api/download/{name}", s.handleDownload(flat)).Methods(http.MethodGet)
		r.HandleFunc("/api/delete/{name}", s.handleDelete(flat)).Methods(http.MethodDelete)
	} else {
		// Disabled, not unknown: no landing page here.
		for _, p := range []string{"/api/files", "/api/upload", "/api/download/{name}", "/api/delete/{name}"} {
			r.HandleFunc(p, http.NotFound)
		}
	}

	r.HandleFunc("/api/create-room", s.handleCreateRoom).Methods(http.MethodPost)
	r.HandleFunc("/api/join-room", s.handleJoinRoom).Methods(http.MethodPost)
	r.HandleFunc("/api/rooms", s.handleListRooms).Methods(http.MethodGet)

	room := s.roomSpace()
	r.HandleFunc("/api/room/{id}/files", s.handleList(room)).Methods(http.MethodGet)
	r.HandleFunc("/api/room/{id}/upload", s.handleUpload(room)).Methods(http.MethodPost)
	r.HandleFunc("/api/room/{id}/download/{name}", s.handleDownload(room)).Methods(http.MethodGet)
	r.HandleFunc("/api/room/{id}/delete/{name}", s.handleDelete(room)).Methods(http.MethodDelete)

	r.NotFoundHandler = http.HandlerFunc(s.handleFallback)
	r.MethodNotAllowedHandler = http.HandlerFunc(s.handleFallback)
	return r
}

func (s *Server) roomCount() int {
	if s.rooms == nil {
		return 0
	}
	return s.rooms.Len()
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Metrics exposes the server counters.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.httpServer.Serve(ln)
}

// Shutdown drains in-flight requests and stops background work.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.limiter.Close()
	return s.httpServer.Shutdown(ctx)
}

// Close stops background work of a server that was never started.
func (s *Server) Close() {
	s.limiter.Close()
}
