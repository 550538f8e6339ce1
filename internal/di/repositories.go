// Package di provides dependency injection for repository implementations.
package di

import (
	"fmt"

	"github.com/aristath/coinwatch/internal/alerts"
	"github.com/aristath/coinwatch/internal/config"
	"github.com/aristath/coinwatch/internal/hotlist"
	"github.com/aristath/coinwatch/internal/mints"
	"github.com/aristath/coinwatch/internal/rolling"
	"github.com/aristath/coinwatch/internal/watchlist"
	"github.com/rs/zerolog"
)

// InitializeRepositories creates all repositories and stores them in the container
func InitializeRepositories(container *Container, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}

	// Durable state lives in watch.db
	container.CoinRepo = watchlist.NewCoinRepository(container.WatchDB, log)
	container.WatchRepo = watchlist.NewWatchRepository(container.WatchDB, log)
	container.ScheduleRepo = watchlist.NewScheduleRepository(container.WatchDB, log)
	container.SettingsRepo = config.NewSettingsRepository(container.WatchDB.Conn(), log)
	container.EntryRepo = hotlist.NewEntryRepository(container.WatchDB, log)
	container.OutboxRepo = alerts.NewOutboxRepository(container.WatchDB, log)
	container.HistoryRepo = alerts.NewHistoryRepository(container.WatchDB, log)

	// Rebuildable window state lives in cache.db
	container.StateRepo = rolling.NewStateRepository(container.CacheDB, log)
	container.RollingStore = rolling.NewStore(container.CacheDB, log)

	// Webhook event log lives in mints.db
	container.MintRepo = mints.NewRepository(container.MintsDB, log)

	log.Info().Msg("All repositories initialized")

	return nil
}
