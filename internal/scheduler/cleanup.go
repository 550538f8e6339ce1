package scheduler

import (
	"time"

	"github.com/rs/zerolog"
)

// Retention horizons for the append-mostly tables. Samples have their own
// horizon inside the rolling store.
const (
	outboxRetention  = 7 * 24 * time.Hour
	historyRetention = 90 * 24 * time.Hour
	mintRetention    = 30 * 24 * time.Hour
)

// CleanupJob ages out rolling samples, delivered outbox rows, old alert
// history and old mint events in one hourly pass.
type CleanupJob struct {
	store   SampleCleaner
	outbox  OutboxPurger
	history HistoryPurger
	mints   MintPurger
	log     zerolog.Logger
}

// NewCleanupJob creates the hourly cleanup job.
func NewCleanupJob(store SampleCleaner, outbox OutboxPurger, history HistoryPurger, mints MintPurger, log zerolog.Logger) *CleanupJob {
	return &CleanupJob{
		store:   store,
		outbox:  outbox,
		history: history,
		mints:   mints,
		log:     log.With().Str("component", "cleanup").Logger(),
	}
}

// Name returns the job name
func (j *CleanupJob) Name() string {
	return "cleanup"
}

// Run purges every store. A failing store does not stop the others; the
// first error is reported after all passes ran.
func (j *CleanupJob) Run() error {
	now := time.Now().UTC()
	var firstErr error

	samples, err := j.store.Cleanup(now)
	if err != nil {
		j.log.Warn().Err(err).Msg("Failed to clean rolling samples")
		firstErr = err
	}

	delivered, err := j.outbox.PurgeDelivered(now.Add(-outboxRetention).Unix())
	if err != nil {
		j.log.Warn().Err(err).Msg("Failed to purge delivered outbox rows")
		if firstErr == nil {
			firstErr = err
		}
	}

	alerts, err := j.history.PurgeOlderThan(now.Add(-historyRetention).Unix())
	if err != nil {
		j.log.Warn().Err(err).Msg("Failed to purge alert history")
		if firstErr == nil {
			firstErr = err
		}
	}

	mintRows, err := j.mints.PurgeOlderThan(now.Add(-mintRetention).Unix())
	if err != nil {
		j.log.Warn().Err(err).Msg("Failed to purge mint events")
		if firstErr == nil {
			firstErr = err
		}
	}

	j.log.Info().
		Int64("samples", samples).
		Int64("outbox", delivered).
		Int64("alerts", alerts).
		Int64("mints", mintRows).
		Msg("Cleanup pass finished")

	return firstErr
}
