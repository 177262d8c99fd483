// Package server provides the HTTP server and routing for the analytics
// service.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/vantage/internal/analytics/correlation"
	"github.com/aristath/vantage/internal/analytics/exposure"
	"github.com/aristath/vantage/internal/analytics/snapshot"
	"github.com/aristath/vantage/internal/analytics/stress"
	"github.com/aristath/vantage/internal/analytics/valuation"
	"github.com/aristath/vantage/internal/batch"
	"github.com/aristath/vantage/internal/database"
	"github.com/aristath/vantage/internal/events"
	"github.com/aristath/vantage/internal/portfolio"
)

// Config holds server configuration.
type Config struct {
	Log          zerolog.Logger
	Port         int
	DevMode      bool
	DataDir      string
	AnalyticsDB  *database.DB
	CacheDB      *database.DB
	Positions    *portfolio.PositionRepository
	Exposures    *exposure.Repository
	Correlations *correlation.Repository
	Stress       *stress.Repository
	Valuations   *valuation.Repository
	Snapshots    *snapshot.Repository
	Tracker      *batch.Tracker
	Orchestrator *batch.Orchestrator
	Events       *events.Manager
}

// Server is the HTTP server.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
}

// New creates a new HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "server").Logger(),
	}

	s.setupMiddleware(cfg.DevMode)

	batchHandlers := NewBatchHandlers(cfg.Orchestrator, cfg.Tracker, cfg.Events, cfg.Log)
	analyticsHandlers := NewAnalyticsHandlers(
		cfg.Positions, cfg.Exposures, cfg.Correlations, cfg.Stress, cfg.Valuations, cfg.Snapshots, cfg.Log,
	)
	systemHandlers := NewSystemHandlers(cfg.DataDir, []*database.DB{cfg.AnalyticsDB, cfg.CacheDB}, cfg.Log)

	batchHandlers.RegisterRoutes(s.router)
	analyticsHandlers.RegisterRoutes(s.router)
	systemHandlers.RegisterRoutes(s.router)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	// Long enough for the websocket stream to be useful.
	s.router.Use(middleware.Timeout(120 * time.Second))

	allowedOrigins := []string{"https://*", "http://*"}
	if devMode {
		allowedOrigins = []string{"*"}
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration_ms", time.Since(start)).
			Msg("Request")
	})
}

// Start begins serving; it blocks until the server stops.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP server starting")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Router exposes the router for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// writeJSON writes a JSON response with the standard envelope.
func writeJSON(w http.ResponseWriter, log zerolog.Logger, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// envelope wraps a payload in the {data, metadata} response shape.
func envelope(payload interface{}) map[string]interface{} {
	return map[string]interface{}{
		"data": payload,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	}
}
