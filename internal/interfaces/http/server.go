// Package http serves the local operator API: pipeline runs over POST,
// run history and health over GET, metrics for scrapers, and a websocket
// progress stream. The server binds loopback by default and is not meant
// to face a network.
package http

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/scanguard/scanguard/internal/config"
	"github.com/scanguard/scanguard/internal/net/ratelimit"
)

type ctxKey string

const requestIDKey ctxKey = "request_id"

// Server represents the ScanGuard HTTP server
type Server struct {
	router   *mux.Router
	server   *http.Server
	handlers *Handlers
	limiter  *ratelimit.Limiter
	config   ServerConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	RateRPS      float64
	RateBurst    int
}

// ServerConfigFrom builds server settings from pipeline configuration,
// filling gaps with local-only defaults. WriteTimeout is generous because a
// validate call can hold the response through two sandboxed executions.
func ServerConfigFrom(sc config.ServerConfig) ServerConfig {
	cfg := ServerConfig{
		Host:         sc.Host,
		Port:         sc.Port,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 12 * time.Minute,
		IdleTimeout:  60 * time.Second,
		RateRPS:      sc.RateRPS,
		RateBurst:    sc.RateBurst,
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.RateRPS <= 0 {
		cfg.RateRPS = 5
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 10
	}
	return cfg
}

// NewServer creates a new HTTP server instance
func NewServer(cfg ServerConfig, handlers *Handlers) (*Server, error) {
	// Check if port is available
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("port %d is busy or unavailable: %w", cfg.Port, err)
	}
	listener.Close()

	server := &Server{
		router:   mux.NewRouter(),
		handlers: handlers,
		limiter:  ratelimit.NewLimiter(cfg.RateRPS, cfg.RateBurst),
		config:   cfg,
	}

	server.setupRoutes()

	server.server = &http.Server{
		Addr:         addr,
		Handler:      server.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return server, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	// Middleware for all routes
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)
	s.router.Use(s.corsMiddleware)

	// Non-JSON endpoints stay outside the content-type middleware
	s.router.Handle("/metrics", s.handlers.Metrics()).Methods("GET")
	s.router.HandleFunc("/ws/progress", s.handlers.ProgressStream).Methods("GET")

	// API routes (JSON only)
	api := s.router.PathPrefix("/").Subrouter()
	api.Use(s.jsonContentTypeMiddleware)

	api.HandleFunc("/health", s.handlers.Health).Methods("GET")

	v1 := api.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/runs", s.handlers.Runs).Methods("GET")
	v1.HandleFunc("/runs/{id}", s.handlers.RunByID).Methods("GET")

	// Pipeline-triggering routes spawn subprocesses, so they are rate limited
	v1.HandleFunc("/validate", s.rateLimited(s.handlers.Validate)).Methods("POST")
	v1.HandleFunc("/fix", s.rateLimited(s.handlers.Fix)).Methods("POST")
	v1.HandleFunc("/compare", s.rateLimited(s.handlers.Compare)).Methods("POST")

	// 404 handler
	s.router.NotFoundHandler = s.jsonContentTypeMiddleware(http.HandlerFunc(s.handlers.NotFound))
}

// rateLimited sheds requests from clients that exceed their token bucket.
func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client := clientIP(r)
		if !s.limiter.Allow(client) {
			log.Warn().Str("client", client).Str("path", r.URL.Path).Msg("request rate limited")
			s.handlers.writeError(w, r, http.StatusTooManyRequests, "rate_limited",
				"Too many requests; retry after backoff")
			return
		}
		next(w, r)
	}
}

// requestIDMiddleware adds unique request ID to each request
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLoggingMiddleware logs all requests with structured format
func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Capture response status
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: 200}
		next.ServeHTTP(wrapper, r)

		log.Info().
			Str("request_id", requestIDFrom(r)).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("http request")
	})
}

// corsMiddleware adds CORS headers for local development
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Only allow localhost origins
		origin := r.Header.Get("Origin")
		if strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1") {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// jsonContentTypeMiddleware sets JSON content type for API responses
func (s *Server) jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().
		Str("addr", s.GetAddress()).
		Msg("starting HTTP server (local-only)")

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// GetAddress returns the server address
func (s *Server) GetAddress() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// requestIDFrom reads the request ID stamped by the middleware.
func requestIDFrom(r *http.Request) string {
	if id, ok := r.Context().Value(requestIDKey).(string); ok {
		return id
	}
	return "unknown"
}

// clientIP keys the rate limiter by remote host, ignoring the port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// responseWrapper captures HTTP status codes for logging
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade take over the connection through the
// logging wrapper.
func (rw *responseWrapper) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}
