// Package di provides dependency injection for the work processor.
package di

import (
	"fmt"

	"github.com/aristath/coinwatch/internal/work"
	"github.com/rs/zerolog"
)

// InitializeWork registers the background work types and builds the
// processor. The processor goroutine is started by main after the HTTP
// server is up; triggers subscribe here so a coin added during startup is
// already queued for backfill by then.
func InitializeWork(container *Container, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}

	registry := work.NewRegistry()
	registry.Register(work.NewBackfillType(container.CoinRepo, container.RollingStore, container.Market, log))
	registry.Register(work.NewMetadataType(container.CoinRepo, container.Market, log))

	// Completion timestamps persist in watch.db so the metadata refresh
	// cadence survives restarts.
	completion, err := work.NewCompletionTracker(container.WatchDB, log)
	if err != nil {
		return fmt.Errorf("failed to initialize completion tracker: %w", err)
	}

	processor := work.NewProcessor(registry, completion, log)
	work.RegisterTriggers(container.EventBus, processor)

	container.WorkComponents = &WorkComponents{
		Registry:   registry,
		Completion: completion,
		Processor:  processor,
		Handlers:   work.NewHandlers(processor, registry),
	}

	log.Info().Msg("Work processor initialized")

	return nil
}
