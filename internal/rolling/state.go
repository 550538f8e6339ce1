package rolling

import (
	"database/sql"
	"fmt"

	"github.com/aristath/coinwatch/internal/database"
	"github.com/aristath/coinwatch/internal/domain"
	"github.com/rs/zerolog"
)

// StateRepository reads LongState rows and records trigger fire times.
// Aggregate columns are written by Store.Append; fire columns are written
// here, inside the evaluator's alert transaction.
type StateRepository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewStateRepository creates a LongState repository on the watch database.
func NewStateRepository(db *database.DB, log zerolog.Logger) *StateRepository {
	return &StateRepository{
		db:  db,
		log: log.With().Str("component", "state_repository").Logger(),
	}
}

const stateColumns = `
	coin_id, h12_high, h12_low, h24_high, h24_low, h72_high, h72_low,
	v12_sum, v24_sum, last_price, last_mcap, last_updated,
	last_retrace_fire, last_stall_fire, last_breakout_fire, last_mcap_fire
`

// Get returns the state for a coin, or nil when none exists yet.
func (r *StateRepository) Get(coinID int64) (*domain.LongState, error) {
	row := r.db.QueryRow(`SELECT `+stateColumns+` FROM long_states WHERE coin_id = ?`, coinID)

	state, err := scanState(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get long state: %w", err)
	}
	return state, nil
}

// StalestUpdate returns the oldest last_updated across all states, or nil
// when no states exist. The health check uses it to detect a stuck pipeline.
func (r *StateRepository) StalestUpdate() (*int64, error) {
	var stalest sql.NullInt64
	err := r.db.QueryRow(`SELECT MIN(last_updated) FROM long_states`).Scan(&stalest)
	if err != nil {
		return nil, fmt.Errorf("failed to read stalest update: %w", err)
	}
	if !stalest.Valid {
		return nil, nil
	}
	return &stalest.Int64, nil
}

// MarkFired records a trigger fire time. Runs inside the caller's
// transaction so the fire marker and the alert history row land together.
func (r *StateRepository) MarkFired(tx *sql.Tx, coinID int64, kind domain.AlertKind, ts int64) error {
	var column string
	switch kind {
	case domain.AlertRetrace:
		column = "last_retrace_fire"
	case domain.AlertStall:
		column = "last_stall_fire"
	case domain.AlertBreakout:
		column = "last_breakout_fire"
	case domain.AlertMcap:
		column = "last_mcap_fire"
	default:
		return fmt.Errorf("no fire column for alert kind %q", kind)
	}

	result, err := tx.Exec(`UPDATE long_states SET `+column+` = ? WHERE coin_id = ?`, ts, coinID)
	if err != nil {
		return fmt.Errorf("failed to mark %s fired: %w", kind, err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("no long state for coin %d", coinID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanState(row rowScanner) (*domain.LongState, error) {
	var state domain.LongState
	var h12High, h12Low, h24High, h24Low, h72High, h72Low sql.NullFloat64
	var v12Sum, v24Sum, lastPrice, lastMcap sql.NullFloat64
	var lastUpdated, retraceFire, stallFire, breakoutFire, mcapFire sql.NullInt64

	err := row.Scan(
		&state.CoinID,
		&h12High, &h12Low, &h24High, &h24Low, &h72High, &h72Low,
		&v12Sum, &v24Sum, &lastPrice, &lastMcap, &lastUpdated,
		&retraceFire, &stallFire, &breakoutFire, &mcapFire,
	)
	if err != nil {
		return nil, err
	}

	state.H12High = nullToPtr(h12High)
	state.H12Low = nullToPtr(h12Low)
	state.H24High = nullToPtr(h24High)
	state.H24Low = nullToPtr(h24Low)
	state.H72High = nullToPtr(h72High)
	state.H72Low = nullToPtr(h72Low)
	state.V12Sum = nullToPtr(v12Sum)
	state.V24Sum = nullToPtr(v24Sum)
	state.LastPrice = nullToPtr(lastPrice)
	state.LastMcap = nullToPtr(lastMcap)
	state.LastUpdated = nullIntToPtr(lastUpdated)
	state.LastRetraceFire = nullIntToPtr(retraceFire)
	state.LastStallFire = nullIntToPtr(stallFire)
	state.LastBreakoutFire = nullIntToPtr(breakoutFire)
	state.LastMcapFire = nullIntToPtr(mcapFire)
	return &state, nil
}

func nullIntToPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
