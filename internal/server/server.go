// Package server provides the HTTP server and routing for coinwatch.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/coinwatch/internal/config"
	"github.com/aristath/coinwatch/internal/di"
)

// growthInterval is the sampling cadence for the growth tracker.
const growthInterval = 60 * time.Second

// Config holds server configuration
type Config struct {
	Log       zerolog.Logger
	Config    *config.Config
	Port      int
	DevMode   bool
	Container *di.Container
}

// Server represents the HTTP server
type Server struct {
	router          *chi.Mux
	server          *http.Server
	log             zerolog.Logger
	cfg             *config.Config
	container       *di.Container
	systemHandlers  *SystemHandlers
	webhookHandlers *WebhookHandlers
	adminHandlers   *AdminHandlers
	growth          *GrowthTracker
}

// New creates a new HTTP server wired to the container's services.
func New(cfg Config) *Server {
	growth := NewGrowthTracker(cfg.Container.RollingStore, cfg.Log)

	// The stream client is absent unless streaming is enabled; assigning the
	// concrete nil pointer to the interface directly would make it non-nil.
	var stream StreamSource
	if cfg.Container.StreamClient != nil {
		stream = cfg.Container.StreamClient
	}

	systemHandlers := NewSystemHandlers(
		cfg.Log,
		cfg.Config.DataDir,
		cfg.Container.WatchDB,
		cfg.Container.CacheDB,
		cfg.Container.MintsDB,
		cfg.Container.Scheduler,
		cfg.Container.Breakers,
		stream,
		growth,
		cfg.Container.HistoryRepo,
		cfg.Container.OutboxRepo,
		cfg.Container.MintRepo,
	)

	webhookHandlers := NewWebhookHandlers(
		cfg.Log,
		cfg.Config.HeliusWebhookSecret,
		cfg.Container.MintIngestor,
		cfg.Container.Metrics,
	)

	adminHandlers := NewAdminHandlers(
		cfg.Log,
		cfg.Container.WatchlistSvc,
		cfg.Container.HotlistSvc,
		cfg.Container.ScheduleRepo,
		cfg.Container.EventBus,
		cfg.Container.BackupService,
	)

	s := &Server{
		router:          chi.NewRouter(),
		log:             cfg.Log.With().Str("component", "server").Logger(),
		cfg:             cfg.Config,
		container:       cfg.Container,
		systemHandlers:  systemHandlers,
		webhookHandlers: webhookHandlers,
		adminHandlers:   adminHandlers,
		growth:          growth,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	// Recovery from panics
	s.router.Use(middleware.Recoverer)

	// Request ID
	s.router.Use(middleware.RequestID)

	// Real IP
	s.router.Use(middleware.RealIP)

	// Logging
	s.router.Use(s.loggingMiddleware)

	// Timeout
	s.router.Use(middleware.Timeout(60 * time.Second))

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Confirm", "X-Signature"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Compress responses
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	// Operational surface at the root
	s.router.Get("/health", s.systemHandlers.HandleHealth)
	s.router.Get("/status", s.systemHandlers.HandleStatus)
	s.router.Get("/memory", s.systemHandlers.HandleMemory)
	s.router.Post("/memory/gc", s.systemHandlers.HandleGC)
	s.router.Get("/database/stats", s.systemHandlers.HandleDatabaseStats)
	s.router.Get("/database/cleanup", s.systemHandlers.HandleCleanupPreview)
	s.router.Post("/database/cleanup", s.systemHandlers.HandleCleanup)
	s.router.Method(http.MethodGet, "/metrics", s.container.Metrics.Handler())

	// Webhook ingest
	s.router.Post("/webhooks/helius", s.webhookHandlers.HandleHelius)

	// Admin API
	s.router.Route("/api", func(r chi.Router) {
		eventsStreamHandler := NewEventsStreamHandler(s.container.EventBus, s.log)
		r.Get("/events/stream", eventsStreamHandler.ServeHTTP)

		s.adminHandlers.RegisterRoutes(r)
	})

	// Work processor management mounts its own /api/work subtree.
	s.container.WorkComponents.Handlers.RegisterRoutes(s.router)
}

// Start starts the HTTP server and the growth tracker.
func (s *Server) Start() error {
	s.growth.Start(growthInterval)
	s.log.Info().Msg("Growth tracker started")

	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	s.growth.Stop()
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
