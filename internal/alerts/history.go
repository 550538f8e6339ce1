// Package alerts owns the alert audit trail, the outbox, and delivery.
package alerts

import (
	"database/sql"
	"fmt"

	"github.com/aristath/coinwatch/internal/database"
	"github.com/aristath/coinwatch/internal/domain"
	"github.com/rs/zerolog"
)

// HistoryRepository persists the immutable alert audit records. The
// fingerprint column is unique; colliding inserts are the success path for
// "already seen" and report inserted=false.
type HistoryRepository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewHistoryRepository creates an alert history repository.
func NewHistoryRepository(db *database.DB, log zerolog.Logger) *HistoryRepository {
	return &HistoryRepository{
		db:  db,
		log: log.With().Str("component", "alert_history").Logger(),
	}
}

const historyColumns = `id, coin_id, hot_id, ts, kind, payload, fingerprint`

const historyInsert = `
	INSERT INTO alert_history (id, coin_id, hot_id, ts, kind, payload, fingerprint)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(fingerprint) DO NOTHING
`

// InsertTx writes a record inside the caller's transaction. Returns false
// when the fingerprint already exists.
func (r *HistoryRepository) InsertTx(tx *sql.Tx, record *domain.AlertRecord) (bool, error) {
	result, err := tx.Exec(historyInsert,
		record.ID, record.CoinID, record.HotID, record.Timestamp,
		string(record.Kind), record.PayloadJSON, record.Fingerprint)
	if err != nil {
		return false, fmt.Errorf("failed to insert alert history: %w", err)
	}
	affected, _ := result.RowsAffected()
	return affected == 1, nil
}

// Insert writes a record outside any transaction.
func (r *HistoryRepository) Insert(record *domain.AlertRecord) (bool, error) {
	result, err := r.db.Exec(historyInsert,
		record.ID, record.CoinID, record.HotID, record.Timestamp,
		string(record.Kind), record.PayloadJSON, record.Fingerprint)
	if err != nil {
		return false, fmt.Errorf("failed to insert alert history: %w", err)
	}
	affected, _ := result.RowsAffected()
	return affected == 1, nil
}

// Recent returns the newest records, newest first.
func (r *HistoryRepository) Recent(limit int) ([]domain.AlertRecord, error) {
	rows, err := r.db.Query(`
		SELECT `+historyColumns+` FROM alert_history ORDER BY ts DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert history: %w", err)
	}
	return scanHistoryRows(rows)
}

// ForCoin returns a coin's records, newest first.
func (r *HistoryRepository) ForCoin(coinID int64, limit int) ([]domain.AlertRecord, error) {
	rows, err := r.db.Query(`
		SELECT `+historyColumns+` FROM alert_history WHERE coin_id = ? ORDER BY ts DESC LIMIT ?
	`, coinID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list coin alert history: %w", err)
	}
	return scanHistoryRows(rows)
}

// CountByKindSince returns per-kind totals since a timestamp, for the anchor
// report and metrics.
func (r *HistoryRepository) CountByKindSince(since int64) (map[domain.AlertKind]int64, error) {
	rows, err := r.db.Query(`
		SELECT kind, COUNT(*) FROM alert_history WHERE ts >= ? GROUP BY kind
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count alert history: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.AlertKind]int64)
	for rows.Next() {
		var kind string
		var count int64
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("failed to scan alert count: %w", err)
		}
		counts[domain.AlertKind(kind)] = count
	}
	return counts, rows.Err()
}

// CountOlderThan returns how many records a purge at the given cutoff would
// remove.
func (r *HistoryRepository) CountOlderThan(cutoff int64) (int64, error) {
	var count int64
	err := r.db.QueryRow(`SELECT COUNT(*) FROM alert_history WHERE ts < ?`, cutoff).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count alert history: %w", err)
	}
	return count, nil
}

// PurgeOlderThan deletes records older than the cutoff and returns the
// number removed. Admin cleanup only; the table is otherwise append-only.
func (r *HistoryRepository) PurgeOlderThan(cutoff int64) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM alert_history WHERE ts < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge alert history: %w", err)
	}
	removed, _ := result.RowsAffected()
	return removed, nil
}

func scanHistoryRows(rows *sql.Rows) ([]domain.AlertRecord, error) {
	defer rows.Close()

	var records []domain.AlertRecord
	for rows.Next() {
		var record domain.AlertRecord
		var coinID, hotID sql.NullInt64
		var kind string

		err := rows.Scan(&record.ID, &coinID, &hotID, &record.Timestamp,
			&kind, &record.PayloadJSON, &record.Fingerprint)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert record: %w", err)
		}

		if coinID.Valid {
			record.CoinID = &coinID.Int64
		}
		if hotID.Valid {
			record.HotID = &hotID.Int64
		}
		record.Kind = domain.AlertKind(kind)
		records = append(records, record)
	}
	return records, rows.Err()
}
