// Package mints ingests token-mint webhook events: signature verification,
// in-process dedup, first-mint detection, and the append-only audit trail.
package mints

import (
	"database/sql"
	"fmt"

	"github.com/aristath/coinwatch/internal/database"
	"github.com/aristath/coinwatch/internal/domain"
	"github.com/rs/zerolog"
)

// Repository persists mint events in mints.db. The signature column is the
// primary key; a replayed webhook delivery is reported as inserted=false.
type Repository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRepository creates a mint event repository.
func NewRepository(db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("component", "mint_repository").Logger(),
	}
}

const mintColumns = `signature, mint, ts, decimals, is_first`

// Insert writes one mint event. Returns false when the signature was already
// recorded.
func (r *Repository) Insert(event *domain.MintEvent) (bool, error) {
	result, err := r.db.Exec(`
		INSERT INTO mint_events (signature, mint, ts, decimals, is_first)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(signature) DO NOTHING
	`, event.Signature, event.Mint, event.Timestamp, event.Decimals, event.IsFirst)
	if err != nil {
		return false, fmt.Errorf("failed to insert mint event: %w", err)
	}
	affected, _ := result.RowsAffected()
	return affected == 1, nil
}

// HasMint reports whether any event for this mint was ever recorded.
func (r *Repository) HasMint(mint string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM mint_events WHERE mint = ?)
	`, mint).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check mint existence: %w", err)
	}
	return exists, nil
}

// Recent returns the newest events, newest first.
func (r *Repository) Recent(limit int) ([]domain.MintEvent, error) {
	rows, err := r.db.Query(`
		SELECT `+mintColumns+` FROM mint_events ORDER BY ts DESC, signature LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list mint events: %w", err)
	}
	return scanMintRows(rows)
}

// FirstMints returns first-mint events at or after the timestamp, newest
// first. This is the feed the mint report generator reads.
func (r *Repository) FirstMints(since int64, limit int) ([]domain.MintEvent, error) {
	rows, err := r.db.Query(`
		SELECT `+mintColumns+` FROM mint_events
		WHERE is_first = 1 AND ts >= ?
		ORDER BY ts DESC, signature LIMIT ?
	`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list first mints: %w", err)
	}
	return scanMintRows(rows)
}

// CountSince returns the number of events at or after the timestamp.
func (r *Repository) CountSince(since int64) (int64, error) {
	var count int64
	err := r.db.QueryRow(`
		SELECT COUNT(*) FROM mint_events WHERE ts >= ?
	`, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count mint events: %w", err)
	}
	return count, nil
}

// CountOlderThan returns how many events a purge at the given cutoff would
// remove.
func (r *Repository) CountOlderThan(cutoff int64) (int64, error) {
	var count int64
	err := r.db.QueryRow(`SELECT COUNT(*) FROM mint_events WHERE ts < ?`, cutoff).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count mint events: %w", err)
	}
	return count, nil
}

// PurgeOlderThan deletes events older than the cutoff and returns the number
// removed.
func (r *Repository) PurgeOlderThan(cutoff int64) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM mint_events WHERE ts < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge mint events: %w", err)
	}
	removed, _ := result.RowsAffected()
	return removed, nil
}

func scanMintRows(rows *sql.Rows) ([]domain.MintEvent, error) {
	defer rows.Close()

	var events []domain.MintEvent
	for rows.Next() {
		var event domain.MintEvent
		var decimals sql.NullInt64

		err := rows.Scan(&event.Signature, &event.Mint, &event.Timestamp,
			&decimals, &event.IsFirst)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mint event: %w", err)
		}

		if decimals.Valid {
			event.Decimals = &decimals.Int64
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
