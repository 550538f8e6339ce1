package watchlist

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aristath/coinwatch/internal/database"
	"github.com/aristath/coinwatch/internal/domain"
	"github.com/rs/zerolog"
)

// ScheduleRepository persists the singleton scheduling and cooldown config.
// The row is seeded by the schema, so Get never returns nil.
type ScheduleRepository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewScheduleRepository creates a schedule config repository.
func NewScheduleRepository(db *database.DB, log zerolog.Logger) *ScheduleRepository {
	return &ScheduleRepository{
		db:  db,
		log: log.With().Str("component", "schedule_repository").Logger(),
	}
}

// Get returns the current schedule config.
func (r *ScheduleRepository) Get() (*domain.ScheduleConfig, error) {
	row := r.db.QueryRow(`
		SELECT anchor_times, anchor_period_hours, long_checkpoint_hours,
			hot_interval_minutes, cooldown_hours, retrace_on, stall_on, breakout_on, mcap_on
		FROM schedule_config WHERE id = 1
	`)

	var cfg domain.ScheduleConfig
	var anchorJSON string
	err := row.Scan(&anchorJSON, &cfg.AnchorPeriodHours, &cfg.LongCheckpointHours,
		&cfg.HotIntervalMinutes, &cfg.CooldownHours,
		&cfg.RetraceOn, &cfg.StallOn, &cfg.BreakoutOn, &cfg.McapOn)
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule config: %w", err)
	}

	if err := json.Unmarshal([]byte(anchorJSON), &cfg.AnchorTimesLocal); err != nil {
		return nil, fmt.Errorf("failed to decode anchor times: %w", err)
	}
	return &cfg, nil
}

// Update validates and writes the full config row.
func (r *ScheduleRepository) Update(cfg *domain.ScheduleConfig) error {
	if err := ValidateScheduleConfig(cfg); err != nil {
		return err
	}

	anchorJSON, err := json.Marshal(cfg.AnchorTimesLocal)
	if err != nil {
		return fmt.Errorf("failed to encode anchor times: %w", err)
	}

	_, err = r.db.Exec(`
		UPDATE schedule_config SET
			anchor_times = ?, anchor_period_hours = ?, long_checkpoint_hours = ?,
			hot_interval_minutes = ?, cooldown_hours = ?,
			retrace_on = ?, stall_on = ?, breakout_on = ?, mcap_on = ?
		WHERE id = 1
	`, string(anchorJSON), cfg.AnchorPeriodHours, cfg.LongCheckpointHours,
		cfg.HotIntervalMinutes, cfg.CooldownHours,
		cfg.RetraceOn, cfg.StallOn, cfg.BreakoutOn, cfg.McapOn)
	if err != nil {
		return fmt.Errorf("failed to update schedule config: %w", err)
	}

	r.log.Info().
		Strs("anchor_times", cfg.AnchorTimesLocal).
		Int("long_checkpoint_hours", cfg.LongCheckpointHours).
		Int("hot_interval_minutes", cfg.HotIntervalMinutes).
		Int("cooldown_hours", cfg.CooldownHours).
		Msg("Schedule config updated")
	return nil
}

// ValidateScheduleConfig rejects configs the scheduler cannot run.
func ValidateScheduleConfig(cfg *domain.ScheduleConfig) error {
	if len(cfg.AnchorTimesLocal) == 0 {
		return fmt.Errorf("at least one anchor time is required")
	}
	for _, at := range cfg.AnchorTimesLocal {
		if _, err := time.Parse("15:04", at); err != nil {
			return fmt.Errorf("invalid anchor time %q: want HH:MM", at)
		}
	}
	if cfg.AnchorPeriodHours <= 0 {
		return fmt.Errorf("anchor period must be positive")
	}
	if cfg.LongCheckpointHours <= 0 {
		return fmt.Errorf("long checkpoint interval must be positive")
	}
	if cfg.HotIntervalMinutes <= 0 {
		return fmt.Errorf("hot interval must be positive")
	}
	if cfg.CooldownHours < 0 {
		return fmt.Errorf("cooldown must not be negative")
	}
	return nil
}
