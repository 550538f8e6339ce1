package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/coinwatch/internal/database"
)

// CheckDatabasesJob verifies integrity of the SQLite databases and watches
// WAL growth. Corruption cannot be auto-recovered, so it surfaces as a job
// failure loud enough for the operator.
type CheckDatabasesJob struct {
	log     zerolog.Logger
	watchDB *database.DB
	cacheDB *database.DB
	mintsDB *database.DB
}

// NewCheckDatabasesJob creates a new CheckDatabasesJob
func NewCheckDatabasesJob(watchDB, cacheDB, mintsDB *database.DB, log zerolog.Logger) *CheckDatabasesJob {
	return &CheckDatabasesJob{
		log:     log.With().Str("component", "db_check").Logger(),
		watchDB: watchDB,
		cacheDB: cacheDB,
		mintsDB: mintsDB,
	}
}

// Name returns the job name
func (j *CheckDatabasesJob) Name() string {
	return "check_databases"
}

// Run executes the database checks job
func (j *CheckDatabasesJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	databases := map[string]*database.DB{
		"watch": j.watchDB,
		"cache": j.cacheDB,
		"mints": j.mintsDB,
	}

	for name, db := range databases {
		if db == nil {
			j.log.Warn().Str("database", name).Msg("Database not initialized, skipping")
			continue
		}

		if err := db.HealthCheck(ctx); err != nil {
			j.log.Error().
				Err(err).
				Str("database", name).
				Msg("Database integrity check failed")
			return fmt.Errorf("database %s failed its health check: %w", name, err)
		}

		j.checkWAL(name, db)
	}

	j.log.Info().Msg("Database checks passed")
	return nil
}

// checkWAL logs when a WAL file has grown past the point where a checkpoint
// is overdue. Advisory only.
func (j *CheckDatabasesJob) checkWAL(name string, db *database.DB) {
	// PRAGMA wal_checkpoint returns: busy, log, checkpointed
	var busy, frames, checkpointed int
	err := db.QueryRow("PRAGMA wal_checkpoint(PASSIVE)").Scan(&busy, &frames, &checkpointed)
	if err != nil {
		j.log.Warn().
			Err(err).
			Str("database", name).
			Msg("Failed to check WAL checkpoint")
		return
	}

	if frames > 1000 {
		j.log.Warn().
			Str("database", name).
			Int("wal_frames", frames).
			Int("checkpointed", checkpointed).
			Msg("WAL file is large, checkpoint may be needed")
	}
}
