package scheduler

import (
	"github.com/rs/zerolog"

	"github.com/aristath/coinwatch/internal/metrics"
)

// StatusPollJob refreshes the storage and reliability gauges from their
// sources. Best-effort: a failed read leaves the previous gauge value and
// never fails the job.
type StatusPollJob struct {
	outbox   PendingCounter
	store    RowCounter
	watches  WatchCounter
	entries  EntryCounter
	breakers BreakerSource
	metrics  *metrics.Registry
	log      zerolog.Logger
}

// NewStatusPollJob creates the gauge refresh job.
func NewStatusPollJob(
	outbox PendingCounter,
	store RowCounter,
	watches WatchCounter,
	entries EntryCounter,
	breakers BreakerSource,
	registry *metrics.Registry,
	log zerolog.Logger,
) *StatusPollJob {
	return &StatusPollJob{
		outbox:   outbox,
		store:    store,
		watches:  watches,
		entries:  entries,
		breakers: breakers,
		metrics:  registry,
		log:      log.With().Str("component", "status_poll").Logger(),
	}
}

// Name returns the job name
func (j *StatusPollJob) Name() string {
	return "status_poll"
}

// Run reads each source and updates its gauge.
func (j *StatusPollJob) Run() error {
	if pending, err := j.outbox.PendingCount(); err != nil {
		j.log.Warn().Err(err).Msg("Failed to read outbox depth")
	} else {
		j.metrics.OutboxPending.Set(float64(pending))
	}

	if rows, err := j.store.TotalDataPoints(); err != nil {
		j.log.Warn().Err(err).Msg("Failed to count rolling samples")
	} else {
		j.metrics.RollingRows.Set(float64(rows))
	}

	if watches, err := j.watches.Count(); err != nil {
		j.log.Warn().Err(err).Msg("Failed to count watches")
	} else {
		j.metrics.CoinsActive.Set(float64(watches))
	}

	if entries, err := j.entries.Count(); err != nil {
		j.log.Warn().Err(err).Msg("Failed to count hot entries")
	} else {
		j.metrics.HotEntries.Set(float64(entries))
	}

	for _, breaker := range j.breakers.Status() {
		j.metrics.SetBreakerState(breaker.Name, breaker.State)
	}

	return nil
}
