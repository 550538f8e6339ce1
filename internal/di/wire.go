// Package di provides dependency injection wiring for the application.
package di

import (
	"fmt"

	"github.com/aristath/coinwatch/internal/config"
	"github.com/rs/zerolog"
)

// Wire initializes the full dependency graph in phases: databases, then
// repositories, then services, then the work processor, then the scheduled
// jobs. Each phase only reads what earlier phases produced. On any failure
// the already-opened databases are closed before returning.
func Wire(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container, err := InitializeDatabases(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize databases: %w", err)
	}

	if err := InitializeRepositories(container, log); err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to initialize repositories: %w", err)
	}

	if err := InitializeServices(container, cfg, log); err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := InitializeWork(container, log); err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to initialize work processor: %w", err)
	}

	if err := RegisterJobs(container, cfg, log); err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to register jobs: %w", err)
	}

	log.Info().Msg("Dependency injection wiring completed successfully")

	return container, nil
}
