// Package main is the entry point for the coinwatch monitoring agent.
// The agent watches a configured list of tokens, evaluates long-term and
// hot-list triggers on schedule, and delivers alerts over Telegram with
// at-most-once semantics.
//
// The application follows clean architecture principles:
// - Domain layer is pure (no infrastructure dependencies)
// - Dependency injection via DI container
// - Repository pattern for data access
// - Service layer for business logic
// - HTTP handlers for API endpoints
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/coinwatch/internal/config"
	"github.com/aristath/coinwatch/internal/di"
	"github.com/aristath/coinwatch/internal/server"
	"github.com/aristath/coinwatch/pkg/logger"
)

// main orchestrates the startup sequence:
// 1. Loads configuration from environment variables
// 2. Initializes logging
// 3. Wires all dependencies via the DI container (databases, repositories, services, jobs)
// 4. Overlays configuration from the settings database
// 5. Starts the HTTP server, outbox sender, work processor and price stream
// 6. Starts the cron scheduler
// 7. Waits for a shutdown signal and unwinds in reverse order
//
// The application uses a 3-database layout:
// - watch.db: Coins, subscriptions, triggers, alert history, outbox, settings
// - cache.db: Rolling samples, window state, snapshot cache (rebuildable)
// - mints.db: Append-only mint event audit trail
func main() {
	// Load configuration first to get the log level
	cfg, err := config.Load()
	if err != nil {
		// Use a fallback logger if config fails
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Msg("Starting coinwatch")

	// Wire all dependencies using the DI container
	container, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

	// Overlay config from the settings DB. The chat client and dispatcher were
	// built before the overlay, so re-apply their credentials and destinations.
	if err := cfg.UpdateFromSettings(container.SettingsRepo); err != nil {
		log.Warn().Err(err).Msg("Failed to update config from settings DB, using environment variables")
	}
	container.Chat.SetToken(cfg.TelegramBotToken)
	container.Dispatcher.SetChats(cfg.TelegramChatID, cfg.GroupChatID())

	srv := server.New(server.Config{
		Log:       log,
		Config:    cfg,
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
		Container: container,
	})

	// Start the server in a goroutine so background loops start concurrently
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Start the outbox sender: the single loop that talks to Telegram. The
	// done channel lets shutdown wait for its final drain pass.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	senderDone := make(chan struct{})
	go func() {
		container.Sender.Run(ctx)
		close(senderDone)
	}()

	// Start the work processor (event-driven backfill and metadata refresh)
	if container.WorkComponents != nil && container.WorkComponents.Processor != nil {
		go container.WorkComponents.Processor.Run()
		log.Info().Msg("Work processor started")
	}

	// Start the optional websocket price stream
	if container.StreamClient != nil {
		if err := container.StreamClient.Start(); err != nil {
			log.Warn().Err(err).Msg("Price stream failed to start, continuing without it")
		}
	}

	// Start the cron scheduler last so every tick finds a fully started system
	container.Scheduler.Start()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	// Stop accepting new ticks first; in-flight ticks get a bounded wait
	container.Scheduler.Stop()

	// Stop the work processor; in-progress jobs complete
	if container.WorkComponents != nil && container.WorkComponents.Processor != nil {
		container.WorkComponents.Processor.Stop()
		log.Info().Msg("Work processor stopped")
	}

	// Close the websocket connection
	if container.StreamClient != nil {
		if err := container.StreamClient.Stop(); err != nil {
			log.Error().Err(err).Msg("Error stopping price stream")
		}
	}

	// Cancel the sender and wait for its final outbox drain so queued alerts
	// are not stranded
	cancel()
	<-senderDone

	// Graceful HTTP shutdown with a bounded window for in-flight requests
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
