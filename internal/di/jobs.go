// Package di provides dependency injection for scheduled jobs.
package di

import (
	"fmt"

	"github.com/aristath/coinwatch/internal/config"
	"github.com/aristath/coinwatch/internal/database"
	"github.com/aristath/coinwatch/internal/reliability"
	"github.com/aristath/coinwatch/internal/scheduler"
	"github.com/rs/zerolog"
)

// RegisterJobs builds the scheduler and registers every recurring job.
// Cadences for the evaluation jobs come from the persisted schedule config,
// so they reflect operator edits from the last run; changing them at runtime
// still requires a restart.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}

	schedCfg, err := container.ScheduleRepo.Get()
	if err != nil {
		return fmt.Errorf("failed to load schedule config: %w", err)
	}

	sched := scheduler.New(cfg.Timezone, container.Metrics, log)

	// Anchor reports fire at fixed wall-clock times in the configured zone.
	if len(schedCfg.AnchorTimesLocal) == 0 {
		log.Warn().Msg("No anchor times configured; anchor report job not scheduled")
	}
	for _, at := range schedCfg.AnchorTimesLocal {
		spec, err := scheduler.DailyAt(at)
		if err != nil {
			return fmt.Errorf("failed to parse anchor time: %w", err)
		}
		if err := sched.AddJob(spec, scheduler.NewAnchorReportJob(container.Reporter)); err != nil {
			return fmt.Errorf("failed to register anchor report job: %w", err)
		}
	}

	if err := sched.AddJob(scheduler.EveryHours(schedCfg.LongCheckpointHours), scheduler.NewCheckpointJob(container.LongEvaluator)); err != nil {
		return fmt.Errorf("failed to register checkpoint job: %w", err)
	}

	if err := sched.AddJob(scheduler.EveryMinutes(schedCfg.HotIntervalMinutes), scheduler.NewHotScanJob(container.HotEvaluator)); err != nil {
		return fmt.Errorf("failed to register hot scan job: %w", err)
	}

	cleanup := scheduler.NewCleanupJob(container.RollingStore, container.OutboxRepo, container.HistoryRepo, container.MintRepo, log)
	if err := sched.AddJob("@hourly", cleanup); err != nil {
		return fmt.Errorf("failed to register cleanup job: %w", err)
	}

	if container.BackupService.Enabled() {
		spec, err := scheduler.DailyAt("03:30")
		if err != nil {
			return fmt.Errorf("failed to parse backup time: %w", err)
		}
		if err := sched.AddJob(spec, scheduler.NewBackupJob(container.BackupService)); err != nil {
			return fmt.Errorf("failed to register backup job: %w", err)
		}
	} else {
		log.Info().Msg("Backups not configured; backup job not scheduled")
	}

	databases := map[string]*database.DB{
		"watch": container.WatchDB,
		"cache": container.CacheDB,
		"mints": container.MintsDB,
	}
	maintenance := reliability.NewMaintenanceJob(databases, cfg.DataDir, log)
	if err := sched.AddJob("0 4 * * 0", maintenance); err != nil {
		return fmt.Errorf("failed to register maintenance job: %w", err)
	}

	checkDBs := scheduler.NewCheckDatabasesJob(container.WatchDB, container.CacheDB, container.MintsDB, log)
	if err := sched.AddJob(scheduler.EveryHours(6), checkDBs); err != nil {
		return fmt.Errorf("failed to register database check job: %w", err)
	}

	statusPoll := scheduler.NewStatusPollJob(container.OutboxRepo, container.RollingStore, container.WatchRepo, container.EntryRepo, container.Breakers, container.Metrics, log)
	if err := sched.AddJob(scheduler.EveryMinutes(1), statusPoll); err != nil {
		return fmt.Errorf("failed to register status poll job: %w", err)
	}

	sweep := scheduler.NewWorkSweepJob(container.WorkComponents.Processor)
	if err := sched.AddJob(scheduler.EveryMinutes(5), sweep); err != nil {
		return fmt.Errorf("failed to register work sweep job: %w", err)
	}

	container.Scheduler = sched

	log.Info().
		Int("jobs", len(sched.Status())).
		Strs("anchor_times", schedCfg.AnchorTimesLocal).
		Int("checkpoint_hours", schedCfg.LongCheckpointHours).
		Int("hot_interval_minutes", schedCfg.HotIntervalMinutes).
		Msg("All scheduled jobs registered")

	return nil
}
