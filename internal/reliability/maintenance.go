package reliability

import (
	"fmt"
	"time"

	"github.com/aristath/coinwatch/internal/database"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
)

const (
	criticalDiskGB = 0.5
	lowDiskGB      = 5.0
)

// MaintenanceJob compacts the databases once a week: WAL truncation, VACUUM
// and a disk space check on the data volume. Vacuuming matters most for the
// cache database, where the rolling window inserts and deletes rows all day.
type MaintenanceJob struct {
	databases map[string]*database.DB
	dataDir   string
	log       zerolog.Logger
}

// NewMaintenanceJob creates the weekly maintenance job.
func NewMaintenanceJob(databases map[string]*database.DB, dataDir string, log zerolog.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		databases: databases,
		dataDir:   dataDir,
		log:       log.With().Str("component", "maintenance").Logger(),
	}
}

// Name returns the job name for the scheduler.
func (j *MaintenanceJob) Name() string {
	return "maintenance"
}

// Run executes one maintenance pass.
func (j *MaintenanceJob) Run() error {
	j.log.Info().Msg("Starting maintenance")
	startTime := time.Now()

	// Truncate WAL files first so vacuumed pages are not immediately
	// re-journaled.
	for name, db := range j.databases {
		if db == nil {
			continue
		}
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			j.log.Warn().Err(err).Str("database", name).Msg("WAL checkpoint failed")
		}
	}

	for name, db := range j.databases {
		if db == nil {
			continue
		}
		j.vacuumDatabase(name, db)
	}

	if err := j.checkDiskSpace(); err != nil {
		return err
	}

	j.log.Info().
		Dur("elapsed", time.Since(startTime)).
		Msg("Maintenance completed")

	return nil
}

// vacuumDatabase runs VACUUM and logs how much space came back.
// Failures are logged and skipped; a bloated file is not worth halting over.
func (j *MaintenanceJob) vacuumDatabase(name string, db *database.DB) {
	var sizeBefore int64
	if stats, err := db.GetStats(); err == nil {
		sizeBefore = stats.SizeBytes
	}

	if err := db.Vacuum(); err != nil {
		j.log.Warn().Err(err).Str("database", name).Msg("Vacuum failed")
		return
	}

	var sizeAfter int64
	if stats, err := db.GetStats(); err == nil {
		sizeAfter = stats.SizeBytes
	}

	j.log.Info().
		Str("database", name).
		Int64("size_before_bytes", sizeBefore).
		Int64("size_after_bytes", sizeAfter).
		Int64("reclaimed_bytes", sizeBefore-sizeAfter).
		Msg("Vacuum completed")
}

// checkDiskSpace fails the job when the data volume is nearly full.
func (j *MaintenanceJob) checkDiskSpace() error {
	usage, err := disk.Usage(j.dataDir)
	if err != nil {
		return fmt.Errorf("failed to read disk usage: %w", err)
	}

	freeGB := float64(usage.Free) / 1e9

	if freeGB < criticalDiskGB {
		j.log.Error().Float64("free_gb", freeGB).Msg("Data volume is nearly full")
		return fmt.Errorf("only %.2f GB free on data volume", freeGB)
	}

	if freeGB < lowDiskGB {
		j.log.Warn().Float64("free_gb", freeGB).Msg("Disk space running low")
	} else {
		j.log.Debug().Float64("free_gb", freeGB).Msg("Disk space check passed")
	}

	return nil
}
