// Package server provides the HTTP control surface of the resolution workbench.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jonathan/golden-record/internal/config"
	"github.com/jonathan/golden-record/internal/logger"
	"github.com/jonathan/golden-record/internal/samples"
	"github.com/jonathan/golden-record/internal/server/ratelimit"
	"github.com/jonathan/golden-record/internal/store"
)

// Drainer starts and reports the queue drain
type Drainer interface {
	Start(ctx context.Context) bool
	Running() bool
}

// Retrier re-runs one history record in the background
type Retrier interface {
	RetryAsync(ctx context.Context, id string) error
}

// Deps are the collaborators the HTTP surface drives
type Deps struct {
	Store     *store.Store
	Scheduler Drainer
	Retrier   Retrier
	Samples   *samples.Generator
	Logger    logger.Logger
	Server    config.ServerConfig
	RateLimit config.RateLimitConfig
}

// Server represents the HTTP server
type Server struct {
	httpServer  *http.Server
	router      chi.Router
	store       *store.Store
	scheduler   Drainer
	retrier     Retrier
	log         logger.Logger
	rateLimiter *ratelimit.Limiter
	origins     []string

	// work started by a request outlives the request
	baseCtx context.Context

	samplesMu sync.Mutex
	samples   *samples.Generator
}

// New creates a new server instance. ctx bounds the drains and retries the
// server starts on behalf of clients.
func New(ctx context.Context, deps Deps) *Server {
	log := deps.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	gen := deps.Samples
	if gen == nil {
		gen = samples.NewGenerator(uint64(time.Now().UnixNano()))
	}

	s := &Server{
		store:       deps.Store,
		scheduler:   deps.Scheduler,
		retrier:     deps.Retrier,
		log:         log.With(map[string]interface{}{"component": "server"}),
		rateLimiter: ratelimit.NewLimiter(ratelimit.FromConfig(deps.RateLimit)),
		origins:     deps.Server.AllowedOrigins,
		baseCtx:     ctx,
		samples:     gen,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.withRateLimit)
	r.Use(s.withLogging)
	r.Use(s.withCORS)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/state", s.handleState)
	r.Get("/events", s.handleEvents)

	r.Get("/mode", s.handleGetMode)
	r.Put("/mode", s.handleSetMode)

	r.Post("/queue", s.handleEnqueue)
	r.Post("/queue/samples", s.handleEnqueueSamples)
	r.Delete("/queue", s.handleClearQueue)

	r.Post("/drain/start", s.handleStartDrain)

	r.Get("/records/{id}", s.handleGetRecord)
	r.Post("/records/{id}/retry", s.handleRetry)
	r.Delete("/history", s.handleClearHistory)

	r.Get("/export.json", s.handleExport)
	r.Get("/export.csv", s.handleExport)

	s.router = r
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", deps.Server.Port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // the event stream is long-lived
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the routed handler with all middleware applied
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server starting", map[string]interface{}{"addr": s.httpServer.Addr})
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		s.rateLimiter.Stop()
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info("shutting down server", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := s.httpServer.Shutdown(shutdownCtx)
	s.rateLimiter.Stop()
	if err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.log.Info("server stopped", nil)
	return nil
}

// Close releases background resources when the server is used only as a handler
func (s *Server) Close() {
	s.rateLimiter.Stop()
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := s.allowOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowOrigin(origin string) string {
	if len(s.origins) == 0 || slices.Contains(s.origins, "*") {
		return "*"
	}
	if origin != "" && slices.Contains(s.origins, origin) {
		return origin
	}
	return ""
}

// withRateLimit adds rate limiting middleware
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := s.extractClientID(r)

		allowed, info := s.rateLimiter.Allow(clientID, r.URL.Path, r.Method)
		s.setRateLimitHeaders(w, info)
		if !allowed {
			s.rateLimitResponse(w, clientID, info)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("request completed", map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"remote_addr": r.RemoteAddr,
			"status":      ww.Status(),
			"bytes":       ww.BytesWritten(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.WithError(err).Warn("failed to encode JSON response", nil)
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// extractClientID extracts the client identifier from the request.
// It uses the IP address from RemoteAddr; forwarded headers are not trusted.
func (s *Server) extractClientID(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// setRateLimitHeaders sets standard rate limit headers on the response.
func (s *Server) setRateLimitHeaders(w http.ResponseWriter, info ratelimit.Info) {
	if info.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", info.Limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", info.Remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", info.ResetTime.Unix()))
	}
}

// rateLimitResponse writes a 429 Too Many Requests response with rate limit information.
func (s *Server) rateLimitResponse(w http.ResponseWriter, clientID string, info ratelimit.Info) {
	response := map[string]interface{}{
		"error":     "rate_limit_exceeded",
		"message":   "Rate limit exceeded. Please try again later.",
		"limit":     info.Limit,
		"remaining": info.Remaining,
		"reset_at":  info.ResetTime.Format(time.RFC3339),
	}

	if info.RetryAfter > 0 {
		retryAfter := int(info.RetryAfter.Seconds()) + 1
		response["retry_after"] = retryAfter
		w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
	}

	s.log.Warn("rate limit exceeded", map[string]interface{}{
		"client": clientID,
		"limit":  info.Limit,
	})

	s.jsonResponse(w, http.StatusTooManyRequests, response)
}
