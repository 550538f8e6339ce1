// Package di provides dependency injection for database connections.
package di

import (
	"fmt"

	"github.com/aristath/coinwatch/internal/config"
	"github.com/aristath/coinwatch/internal/database"
	"github.com/rs/zerolog"
)

// InitializeDatabases opens the three databases and applies their schemas.
//
// watch.db carries the durable state (coins, watches, hot entries, alert
// history, outbox, settings); cache.db carries the rebuildable rolling window
// and snapshot cache; mints.db carries the webhook event log. Splitting them
// keeps a bloated sample table from slowing the durable tables and lets the
// cache database be deleted wholesale on corruption.
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	watchDB, err := database.New(database.Config{
		Path:    cfg.DatabasePath,
		Profile: database.ProfileStandard,
		Name:    "watch",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize watch database: %w", err)
	}
	container.WatchDB = watchDB

	cacheDB, err := database.New(database.Config{
		Path:    cfg.CacheDBPath(),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	if err != nil {
		watchDB.Close()
		return nil, fmt.Errorf("failed to initialize cache database: %w", err)
	}
	container.CacheDB = cacheDB

	mintsDB, err := database.New(database.Config{
		Path:    cfg.MintsDBPath(),
		Profile: database.ProfileLedger,
		Name:    "mints",
	})
	if err != nil {
		watchDB.Close()
		cacheDB.Close()
		return nil, fmt.Errorf("failed to initialize mints database: %w", err)
	}
	container.MintsDB = mintsDB

	// Apply schemas to all databases (single source of truth)
	for _, db := range []*database.DB{watchDB, cacheDB, mintsDB} {
		if err := db.Migrate(); err != nil {
			container.Close()
			return nil, fmt.Errorf("failed to apply schema to %s: %w", db.Name(), err)
		}
	}

	log.Info().Msg("All databases initialized and schemas applied")

	return container, nil
}
