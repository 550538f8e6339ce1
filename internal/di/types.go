// Package di provides dependency injection type definitions.
//
// This package defines the Container type which holds all application
// dependencies. The Container is the single source of truth for all service
// instances and is passed to the HTTP server for access to services.
package di

import (
	"github.com/aristath/coinwatch/internal/alerts"
	"github.com/aristath/coinwatch/internal/clients/dexscreener"
	"github.com/aristath/coinwatch/internal/clients/stream"
	"github.com/aristath/coinwatch/internal/clients/telegram"
	"github.com/aristath/coinwatch/internal/config"
	"github.com/aristath/coinwatch/internal/database"
	"github.com/aristath/coinwatch/internal/events"
	"github.com/aristath/coinwatch/internal/hotlist"
	"github.com/aristath/coinwatch/internal/metrics"
	"github.com/aristath/coinwatch/internal/mints"
	"github.com/aristath/coinwatch/internal/reliability"
	"github.com/aristath/coinwatch/internal/rolling"
	"github.com/aristath/coinwatch/internal/scheduler"
	"github.com/aristath/coinwatch/internal/watchlist"
	"github.com/aristath/coinwatch/internal/work"
)

// Container holds all dependencies for the application.
//
// The container is created by Wire() and handed to the HTTP server; jobs and
// background loops hold only the dependencies they were constructed with.
//
// Architecture:
// - Databases: 3-database layout (watch, cache, mints)
// - Clients: external integrations (market data, chat delivery, price stream)
// - Repositories: data access layer over the databases
// - Services: trigger evaluation, alert pipeline, backups
// - Work components: background backfill/refresh processor
type Container struct {
	// Databases
	WatchDB *database.DB // Coins, watches, triggers, alert history, outbox, settings
	CacheDB *database.DB // Rolling samples, window state, snapshot cache (rebuildable)
	MintsDB *database.DB // Mint events from the webhook stream

	// Clients - external integrations
	Market       *dexscreener.Client // Market data snapshots
	Chat         *telegram.Client    // Alert delivery
	StreamClient *stream.Client      // Optional websocket ingest (nil unless WS_ENABLED)

	// Repositories - data access layer
	CoinRepo     *watchlist.CoinRepository
	WatchRepo    *watchlist.WatchRepository
	ScheduleRepo *watchlist.ScheduleRepository
	SettingsRepo *config.SettingsRepository
	EntryRepo    *hotlist.EntryRepository
	OutboxRepo   *alerts.OutboxRepository
	HistoryRepo  *alerts.HistoryRepository
	MintRepo     *mints.Repository
	StateRepo    *rolling.StateRepository
	RollingStore *rolling.Store

	// Services - evaluation and delivery
	EventBus      *events.Bus
	Breakers      *reliability.BreakerManager
	Metrics       *metrics.Registry
	WatchlistSvc  *watchlist.Service
	HotlistSvc    *hotlist.Service
	LongEvaluator *watchlist.Evaluator
	HotEvaluator  *hotlist.Evaluator
	Reporter      *watchlist.Reporter
	Dispatcher    *alerts.Dispatcher
	Sender        *alerts.Sender
	MintIngestor  *mints.Ingestor
	BackupService *reliability.BackupService // Enabled() is false without a bucket

	// Scheduler - cron-driven ticks
	Scheduler *scheduler.Scheduler

	// Work processor - event-driven background jobs (backfill, metadata refresh)
	WorkComponents *WorkComponents
}

// WorkComponents groups the background work processor with its registry so
// the server can expose manual-execution endpoints.
type WorkComponents struct {
	Registry   *work.Registry
	Completion *work.CompletionTracker
	Processor  *work.Processor
	Handlers   *work.Handlers
}

// Close releases every database. Safe to call with partially initialized
// containers; nil databases are skipped.
func (c *Container) Close() {
	for _, db := range []*database.DB{c.WatchDB, c.CacheDB, c.MintsDB} {
		if db != nil {
			db.Close()
		}
	}
}
