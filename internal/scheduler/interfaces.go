package scheduler

import (
	"context"
	"time"

	"github.com/aristath/coinwatch/internal/reliability"
)

// Ticker is one evaluation pass. Satisfied by the long evaluator, the hot
// evaluator, the anchor reporter and the backup service.
type Ticker interface {
	Run(ctx context.Context) error
}

// SampleCleaner ages out rolling-window samples.
// Used by the cleanup job to enable testing with mocks.
type SampleCleaner interface {
	Cleanup(now time.Time) (int64, error)
}

// OutboxPurger removes delivered outbox rows past their retention.
type OutboxPurger interface {
	PurgeDelivered(cutoff int64) (int64, error)
}

// HistoryPurger removes aged alert-history rows.
type HistoryPurger interface {
	PurgeOlderThan(cutoff int64) (int64, error)
}

// MintPurger removes aged mint events.
type MintPurger interface {
	PurgeOlderThan(cutoff int64) (int64, error)
}

// WorkTrigger wakes the background work processor.
type WorkTrigger interface {
	Trigger()
}

// PendingCounter reads the outbox backlog depth.
type PendingCounter interface {
	PendingCount() (int64, error)
}

// RowCounter reads the total rolling-sample count.
type RowCounter interface {
	TotalDataPoints() (int64, error)
}

// WatchCounter reads the active long-watch count.
type WatchCounter interface {
	Count() (int64, error)
}

// EntryCounter reads the hot-entry count.
type EntryCounter interface {
	Count() (int64, error)
}

// BreakerSource exposes circuit-breaker snapshots.
type BreakerSource interface {
	Status() []reliability.BreakerStatus
}
