// Package hotlist manages short-lived one-shot alert entries with absolute
// anchors and the evaluator that fires them.
package hotlist

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/coinwatch/internal/database"
	"github.com/aristath/coinwatch/internal/domain"
	"github.com/rs/zerolog"
)

// EntryRepository persists hot entries and their per-target one-shot state.
type EntryRepository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewEntryRepository creates a hot entry repository on the watch database.
func NewEntryRepository(db *database.DB, log zerolog.Logger) *EntryRepository {
	return &EntryRepository{
		db:  db,
		log: log.With().Str("component", "hot_entry_repository").Logger(),
	}
}

const entryColumns = `id, coin_id, chain, contract_address, symbol, display_name,
	anchor_price, anchor_mcap, pct_targets, mcap_targets, failsafe_fired, added_at`

// EntryWithTriggers pairs an entry with its trigger states for evaluation and
// the admin listing.
type EntryWithTriggers struct {
	Entry    domain.HotEntry
	Triggers []domain.HotTrigger
}

// Create inserts an entry and one trigger row per target in a single
// transaction, and returns the new entry id.
func (r *EntryRepository) Create(entry *domain.HotEntry) (int64, error) {
	pctJSON, err := json.Marshal(entry.PctTargets)
	if err != nil {
		return 0, fmt.Errorf("failed to encode pct targets: %w", err)
	}
	mcapJSON, err := json.Marshal(entry.McapTargets)
	if err != nil {
		return 0, fmt.Errorf("failed to encode mcap targets: %w", err)
	}

	addedAt := entry.AddedAt
	if addedAt == 0 {
		addedAt = time.Now().UTC().Unix()
	}

	var id int64
	err = database.WithTransaction(r.db.Conn(), func(tx *sql.Tx) error {
		result, err := tx.Exec(`
			INSERT INTO hot_entries (
				coin_id, chain, contract_address, symbol, display_name,
				anchor_price, anchor_mcap, pct_targets, mcap_targets, failsafe_fired, added_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
		`, entry.CoinID, strings.ToLower(entry.Chain), strings.ToLower(entry.ContractAddress),
			entry.Symbol, entry.DisplayName, entry.AnchorPrice, entry.AnchorMcap,
			string(pctJSON), string(mcapJSON), addedAt)
		if err != nil {
			return fmt.Errorf("failed to insert hot entry: %w", err)
		}
		id, err = result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read hot entry id: %w", err)
		}

		for _, target := range entry.PctTargets {
			if err := insertTrigger(tx, id, domain.HotTriggerPct, target); err != nil {
				return err
			}
		}
		for _, target := range entry.McapTargets {
			if err := insertTrigger(tx, id, domain.HotTriggerMcap, target); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func insertTrigger(tx *sql.Tx, hotID int64, kind domain.HotTriggerKind, value float64) error {
	_, err := tx.Exec(`
		INSERT INTO hot_triggers (hot_id, kind, value, fired) VALUES (?, ?, ?, 0)
	`, hotID, string(kind), value)
	if err != nil {
		return fmt.Errorf("failed to insert hot trigger: %w", err)
	}
	return nil
}

// GetByID returns an entry by id, or nil when absent.
func (r *EntryRepository) GetByID(id int64) (*domain.HotEntry, error) {
	row := r.db.QueryRow(`SELECT `+entryColumns+` FROM hot_entries WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get hot entry: %w", err)
	}
	return entry, nil
}

// List returns all entries ordered by id.
func (r *EntryRepository) List() ([]domain.HotEntry, error) {
	rows, err := r.db.Query(`SELECT ` + entryColumns + ` FROM hot_entries ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list hot entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.HotEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan hot entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// Count returns the number of hot entries, for metrics.
func (r *EntryRepository) Count() (int64, error) {
	var count int64
	err := r.db.QueryRow(`SELECT COUNT(*) FROM hot_entries`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count hot entries: %w", err)
	}
	return count, nil
}

// ListWithTriggers returns every entry with its trigger states, the working
// set for one evaluator tick.
func (r *EntryRepository) ListWithTriggers() ([]EntryWithTriggers, error) {
	entries, err := r.List()
	if err != nil {
		return nil, err
	}

	triggers, err := r.allTriggers()
	if err != nil {
		return nil, err
	}

	out := make([]EntryWithTriggers, 0, len(entries))
	for _, entry := range entries {
		out = append(out, EntryWithTriggers{
			Entry:    entry,
			Triggers: triggers[entry.ID],
		})
	}
	return out, nil
}

// Triggers returns one entry's trigger states ordered by kind then value.
func (r *EntryRepository) Triggers(hotID int64) ([]domain.HotTrigger, error) {
	rows, err := r.db.Query(`
		SELECT hot_id, kind, value, fired, fired_at FROM hot_triggers
		WHERE hot_id = ? ORDER BY kind ASC, value ASC
	`, hotID)
	if err != nil {
		return nil, fmt.Errorf("failed to list hot triggers: %w", err)
	}
	return scanTriggerRows(rows)
}

func (r *EntryRepository) allTriggers() (map[int64][]domain.HotTrigger, error) {
	rows, err := r.db.Query(`
		SELECT hot_id, kind, value, fired, fired_at FROM hot_triggers
		ORDER BY hot_id ASC, kind ASC, value ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list hot triggers: %w", err)
	}
	triggers, err := scanTriggerRows(rows)
	if err != nil {
		return nil, err
	}

	byEntry := make(map[int64][]domain.HotTrigger)
	for _, trigger := range triggers {
		byEntry[trigger.HotID] = append(byEntry[trigger.HotID], trigger)
	}
	return byEntry, nil
}

// MarkFiredTx flips one unfired trigger to fired inside the caller's
// transaction. Firing an already-fired trigger is an error: fired rows are
// never re-inspected.
func (r *EntryRepository) MarkFiredTx(tx *sql.Tx, hotID int64, kind domain.HotTriggerKind, value float64, ts int64) error {
	result, err := tx.Exec(`
		UPDATE hot_triggers SET fired = 1, fired_at = ?
		WHERE hot_id = ? AND kind = ? AND value = ? AND fired = 0
	`, ts, hotID, string(kind), value)
	if err != nil {
		return fmt.Errorf("failed to mark hot trigger fired: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("no unfired %s trigger %g for entry %d", kind, value, hotID)
	}
	return nil
}

// SetFailsafeFiredTx marks the entry's failsafe as spent inside the caller's
// transaction.
func (r *EntryRepository) SetFailsafeFiredTx(tx *sql.Tx, hotID int64) error {
	result, err := tx.Exec(`
		UPDATE hot_entries SET failsafe_fired = 1 WHERE id = ? AND failsafe_fired = 0
	`, hotID)
	if err != nil {
		return fmt.Errorf("failed to set failsafe fired: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("failsafe already fired for entry %d", hotID)
	}
	return nil
}

// UnfiredCount returns how many user triggers are still armed.
func (r *EntryRepository) UnfiredCount(hotID int64) (int64, error) {
	var count int64
	err := r.db.QueryRow(`
		SELECT COUNT(*) FROM hot_triggers WHERE hot_id = ? AND fired = 0
	`, hotID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unfired triggers: %w", err)
	}
	return count, nil
}

// Delete removes an entry; its trigger rows cascade.
func (r *EntryRepository) Delete(hotID int64) error {
	_, err := r.db.Exec(`DELETE FROM hot_entries WHERE id = ?`, hotID)
	if err != nil {
		return fmt.Errorf("failed to delete hot entry: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(s scanner) (*domain.HotEntry, error) {
	var entry domain.HotEntry
	var coinID sql.NullInt64
	var displayName sql.NullString
	var anchorMcap sql.NullFloat64
	var pctJSON, mcapJSON string

	err := s.Scan(&entry.ID, &coinID, &entry.Chain, &entry.ContractAddress, &entry.Symbol,
		&displayName, &entry.AnchorPrice, &anchorMcap, &pctJSON, &mcapJSON,
		&entry.FailsafeFired, &entry.AddedAt)
	if err != nil {
		return nil, err
	}

	if coinID.Valid {
		entry.CoinID = &coinID.Int64
	}
	entry.DisplayName = displayName.String
	if anchorMcap.Valid {
		entry.AnchorMcap = &anchorMcap.Float64
	}
	entry.PctTargets, err = decodePctTargets(pctJSON)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(mcapJSON), &entry.McapTargets); err != nil {
		return nil, fmt.Errorf("failed to decode mcap targets: %w", err)
	}
	return &entry, nil
}

// decodePctTargets reads the pct target column. Rows written before targets
// became arrays hold a single signed scalar; those read as a one-element set.
func decodePctTargets(raw string) ([]float64, error) {
	var targets []float64
	if err := json.Unmarshal([]byte(raw), &targets); err == nil {
		return targets, nil
	}
	var single float64
	if err := json.Unmarshal([]byte(raw), &single); err == nil {
		return []float64{single}, nil
	}
	return nil, fmt.Errorf("failed to decode pct targets %q", raw)
}

func scanTriggerRows(rows *sql.Rows) ([]domain.HotTrigger, error) {
	defer rows.Close()

	var triggers []domain.HotTrigger
	for rows.Next() {
		var trigger domain.HotTrigger
		var kind string
		var firedAt sql.NullInt64

		err := rows.Scan(&trigger.HotID, &kind, &trigger.Value, &trigger.Fired, &firedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan hot trigger: %w", err)
		}

		trigger.Kind = domain.HotTriggerKind(kind)
		if firedAt.Valid {
			trigger.FiredAt = &firedAt.Int64
		}
		triggers = append(triggers, trigger)
	}
	return triggers, rows.Err()
}
