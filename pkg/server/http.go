package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/dasmlab/telephone/pkg/service"
)

// DefaultAllowedOrigin is the development frontend.
const DefaultAllowedOrigin = "http://localhost:5173"

const healthCheckTimeout = 5 * time.Second

// HealthChecker reports whether the translation backend is usable.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// Deps are the services the HTTP surface exposes.
type Deps struct {
	Relays   *service.RelayService
	Registry *service.Registry
	Sessions *service.SessionStore
	Health   HealthChecker
}

// Config tunes the HTTP server.
type Config struct {
	Port int
	// AllowedOrigins lists CORS and WebSocket origins; "*" allows any.
	AllowedOrigins []string
}

// HTTPServer serves the streaming WebSocket endpoint, the synchronous
// translate endpoint, asynchronous relays with SSE, health and metrics.
type HTTPServer struct {
	relays   *service.RelayService
	registry *service.Registry
	sessions *service.SessionStore
	health   HealthChecker
	origins  originPolicy
	upgrader websocket.Upgrader
	logger   *logrus.Logger
	port     int
	srv      *http.Server
}

// NewHTTPServer creates a new HTTP server.
func NewHTTPServer(deps Deps, cfg Config, logger *logrus.Logger) *HTTPServer {
	if logger == nil {
		logger = logrus.New()
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{DefaultAllowedOrigin}
	}
	s := &HTTPServer{
		relays:   deps.Relays,
		registry: deps.Registry,
		sessions: deps.Sessions,
		health:   deps.Health,
		origins:  newOriginPolicy(cfg.AllowedOrigins),
		logger:   logger,
		port:     cfg.Port,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.origins.allows(origin)
		},
	}
	return s
}

// Handler returns the router.
func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(s.origins))

	r.Get("/ws/{client_id}", s.handleWebSocket)
	r.Post("/translate", s.handleTranslate)

	r.Route("/api/v1/relays", func(api chi.Router) {
		api.Post("/", s.handleCreateRelay)
		api.Get("/{id}", s.handleGetRelay)
		api.Get("/{id}/events", s.handleRelayEvents)
	})

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Start listens on the configured port and serves until Shutdown.
func (s *HTTPServer) Start() error {
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.WithFields(logrus.Fields{
		"port": s.port,
	}).Info("Starting HTTP server")

	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve http: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for handlers to return.
// Hijacked WebSocket connections are not tracked; close them through the
// registry.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

type healthResponse struct {
	Status         string `json:"status"`
	Error          string `json:"error,omitempty"`
	Clients        int    `json:"clients"`
	ActiveRelays   int    `json:"active_relays"`
	StoredSessions int    `json:"stored_sessions"`
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:         "healthy",
		Clients:        s.registry.Len(),
		ActiveRelays:   s.relays.Active(),
		StoredSessions: s.sessions.Len(),
	}
	code := http.StatusOK
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := s.health.CheckHealth(ctx); err != nil {
			resp.Status = "unhealthy"
			resp.Error = err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
