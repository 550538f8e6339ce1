// Package rolling maintains per-coin time-series samples and the derived
// window state the evaluators read.
package rolling

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/coinwatch/internal/database"
	"github.com/aristath/coinwatch/internal/domain"
	"github.com/rs/zerolog"
)

const (
	// RetentionHours is one hour of slack over the widest window.
	RetentionHours = 73

	// WarmupHours gates evaluator output for newly added coins.
	WarmupHours = 12

	cleanupBatchSize = 5000
	lockStripes      = 64
)

// Store owns rolling_data_points and the aggregate columns of long_states.
// Appends for the same coin are serialized through a striped lock so the
// derived state always reflects a monotonic last_updated.
type Store struct {
	db    *database.DB
	locks [lockStripes]sync.Mutex
	log   zerolog.Logger
}

// NewStore creates a rolling window store on the watch database.
func NewStore(db *database.DB, log zerolog.Logger) *Store {
	return &Store{
		db:  db,
		log: log.With().Str("component", "rolling_store").Logger(),
	}
}

func (s *Store) coinLock(coinID int64) *sync.Mutex {
	return &s.locks[coinID%lockStripes]
}

// Append stores one sample and folds it into the coin's LongState in a single
// transaction. The fold updates aggregates, last_price and last_updated;
// last_mcap only moves when the sample carries a market cap; trigger last-fire
// columns are never touched here.
func (s *Store) Append(coinID int64, sample domain.RollingDataPoint) error {
	lock := s.coinLock(coinID)
	lock.Lock()
	defer lock.Unlock()

	return database.WithTransaction(s.db.Conn(), func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO rolling_data_points (coin_id, timestamp, price, volume, market_cap)
			VALUES (?, ?, ?, ?, ?)
		`, coinID, sample.Timestamp, sample.Price, sample.Volume, sample.MarketCap)
		if err != nil {
			return fmt.Errorf("failed to insert sample: %w", err)
		}

		agg, err := aggregatesTx(tx, coinID, time.Unix(sample.Timestamp, 0).UTC())
		if err != nil {
			return err
		}

		_, err = tx.Exec(`
			INSERT INTO long_states (
				coin_id, h12_high, h12_low, h24_high, h24_low, h72_high, h72_low,
				v12_sum, v24_sum, last_price, last_mcap, last_updated
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(coin_id) DO UPDATE SET
				h12_high = excluded.h12_high,
				h12_low = excluded.h12_low,
				h24_high = excluded.h24_high,
				h24_low = excluded.h24_low,
				h72_high = excluded.h72_high,
				h72_low = excluded.h72_low,
				v12_sum = excluded.v12_sum,
				v24_sum = excluded.v24_sum,
				last_price = excluded.last_price,
				last_mcap = COALESCE(excluded.last_mcap, long_states.last_mcap),
				last_updated = excluded.last_updated
		`, coinID,
			ptrValue(agg.H12High), ptrValue(agg.H12Low),
			ptrValue(agg.H24High), ptrValue(agg.H24Low),
			ptrValue(agg.H72High), ptrValue(agg.H72Low),
			ptrValue(agg.V12Sum), ptrValue(agg.V24Sum),
			sample.Price, sample.MarketCap, sample.Timestamp)
		if err != nil {
			return fmt.Errorf("failed to fold state: %w", err)
		}
		return nil
	})
}

// Aggregates computes window highs/lows and volume sums as of now. A field is
// nil iff no samples fall inside its window.
func (s *Store) Aggregates(coinID int64, now time.Time) (*domain.WindowAggregates, error) {
	var agg *domain.WindowAggregates
	err := database.WithTransaction(s.db.Conn(), func(tx *sql.Tx) error {
		var err error
		agg, err = aggregatesTx(tx, coinID, now)
		return err
	})
	return agg, err
}

func aggregatesTx(tx *sql.Tx, coinID int64, now time.Time) (*domain.WindowAggregates, error) {
	nowSec := now.UTC().Unix()
	h12 := nowSec - 12*3600
	h24 := nowSec - 24*3600
	h72 := nowSec - 72*3600

	row := tx.QueryRow(`
		SELECT
			MAX(CASE WHEN timestamp >= ? THEN price END),
			MIN(CASE WHEN timestamp >= ? THEN price END),
			MAX(CASE WHEN timestamp >= ? THEN price END),
			MIN(CASE WHEN timestamp >= ? THEN price END),
			MAX(price),
			MIN(price),
			SUM(CASE WHEN timestamp >= ? THEN volume END),
			SUM(CASE WHEN timestamp >= ? THEN volume END)
		FROM rolling_data_points
		WHERE coin_id = ? AND timestamp >= ?
	`, h12, h12, h24, h24, h12, h24, coinID, h72)

	var h12High, h12Low, h24High, h24Low, h72High, h72Low, v12Sum, v24Sum sql.NullFloat64
	err := row.Scan(&h12High, &h12Low, &h24High, &h24Low, &h72High, &h72Low, &v12Sum, &v24Sum)
	if err != nil {
		return nil, fmt.Errorf("failed to compute aggregates: %w", err)
	}

	return &domain.WindowAggregates{
		H12High: nullToPtr(h12High),
		H12Low:  nullToPtr(h12Low),
		H24High: nullToPtr(h24High),
		H24Low:  nullToPtr(h24Low),
		H72High: nullToPtr(h72High),
		H72Low:  nullToPtr(h72Low),
		V12Sum:  nullToPtr(v12Sum),
		V24Sum:  nullToPtr(v24Sum),
	}, nil
}

// SumVolume sums volume over [from, to]. Returns nil when no samples exist
// in the range.
func (s *Store) SumVolume(coinID int64, from, to int64) (*float64, error) {
	var sum sql.NullFloat64
	err := s.db.QueryRow(`
		SELECT SUM(volume) FROM rolling_data_points
		WHERE coin_id = ? AND timestamp >= ? AND timestamp <= ?
	`, coinID, from, to).Scan(&sum)
	if err != nil {
		return nil, fmt.Errorf("failed to sum volume: %w", err)
	}
	return nullToPtr(sum), nil
}

// Prices returns the price series over [from, to] in timestamp order.
func (s *Store) Prices(coinID int64, from, to int64) ([]float64, error) {
	rows, err := s.db.Query(`
		SELECT price FROM rolling_data_points
		WHERE coin_id = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`, coinID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to read price series: %w", err)
	}
	defer rows.Close()

	var prices []float64
	for rows.Next() {
		var price float64
		if err := rows.Scan(&price); err != nil {
			return nil, fmt.Errorf("failed to scan price: %w", err)
		}
		prices = append(prices, price)
	}
	return prices, rows.Err()
}

// PriceAt returns the newest price at or before the given timestamp, or nil
// when no sample that old exists.
func (s *Store) PriceAt(coinID int64, ts int64) (*float64, error) {
	var price sql.NullFloat64
	err := s.db.QueryRow(`
		SELECT price FROM rolling_data_points
		WHERE coin_id = ? AND timestamp <= ?
		ORDER BY timestamp DESC LIMIT 1
	`, coinID, ts).Scan(&price)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read price at %d: %w", ts, err)
	}
	return nullToPtr(price), nil
}

// DataPointsCount returns the number of stored samples for a coin.
func (s *Store) DataPointsCount(coinID int64) (int64, error) {
	var count int64
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM rolling_data_points WHERE coin_id = ?
	`, coinID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count samples: %w", err)
	}
	return count, nil
}

// TotalDataPoints returns the sample count across all coins, for metrics.
func (s *Store) TotalDataPoints() (int64, error) {
	var count int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM rolling_data_points`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count samples: %w", err)
	}
	return count, nil
}

// EarliestTimestamp returns the oldest sample timestamp for a coin, or nil
// when the coin has no samples.
func (s *Store) EarliestTimestamp(coinID int64) (*int64, error) {
	var earliest sql.NullInt64
	err := s.db.QueryRow(`
		SELECT MIN(timestamp) FROM rolling_data_points WHERE coin_id = ?
	`, coinID).Scan(&earliest)
	if err != nil {
		return nil, fmt.Errorf("failed to read earliest sample: %w", err)
	}
	if !earliest.Valid {
		return nil, nil
	}
	return &earliest.Int64, nil
}

// IsWarmupComplete reports whether the coin's earliest sample is at least
// minHours old. Coins without samples are never warmed up.
func (s *Store) IsWarmupComplete(coinID int64, minHours int, now time.Time) (bool, error) {
	earliest, err := s.EarliestTimestamp(coinID)
	if err != nil {
		return false, err
	}
	if earliest == nil {
		return false, nil
	}
	return now.UTC().Unix()-*earliest >= int64(minHours)*3600, nil
}

// DeleteCoinData removes a coin's samples and its state row in one
// transaction. Used when a coin leaves the watchlist.
func (s *Store) DeleteCoinData(coinID int64) error {
	lock := s.coinLock(coinID)
	lock.Lock()
	defer lock.Unlock()

	return database.WithTransaction(s.db.Conn(), func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM rolling_data_points WHERE coin_id = ?`, coinID); err != nil {
			return fmt.Errorf("failed to delete samples: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM long_states WHERE coin_id = ?`, coinID); err != nil {
			return fmt.Errorf("failed to delete state: %w", err)
		}
		return nil
	})
}

// Cleanup deletes samples older than the retention horizon in small batches
// so a large purge never holds the write lock long enough to starve appends.
// Returns the total number of rows removed.
func (s *Store) Cleanup(now time.Time) (int64, error) {
	cutoff := now.UTC().Unix() - RetentionHours*3600

	var total int64
	for {
		result, err := s.db.Exec(`
			DELETE FROM rolling_data_points WHERE id IN (
				SELECT id FROM rolling_data_points WHERE timestamp < ? LIMIT ?
			)
		`, cutoff, cleanupBatchSize)
		if err != nil {
			return total, fmt.Errorf("failed to delete expired samples: %w", err)
		}
		removed, _ := result.RowsAffected()
		total += removed
		if removed < cleanupBatchSize {
			break
		}
	}

	if total > 0 {
		s.log.Debug().Int64("removed", total).Msg("Rolling cleanup finished")
	}
	return total, nil
}

// RebuildState recomputes a coin's LongState aggregates from the samples.
// last_price and last_mcap come from the newest sample; trigger last-fire
// columns are preserved. Used after backfills and restores.
func (s *Store) RebuildState(coinID int64, now time.Time) error {
	lock := s.coinLock(coinID)
	lock.Lock()
	defer lock.Unlock()

	return database.WithTransaction(s.db.Conn(), func(tx *sql.Tx) error {
		agg, err := aggregatesTx(tx, coinID, now)
		if err != nil {
			return err
		}

		var ts sql.NullInt64
		var price sql.NullFloat64
		var mcap sql.NullFloat64
		err = tx.QueryRow(`
			SELECT timestamp, price, market_cap FROM rolling_data_points
			WHERE coin_id = ? ORDER BY timestamp DESC LIMIT 1
		`, coinID).Scan(&ts, &price, &mcap)
		if err == sql.ErrNoRows {
			// No samples: nothing to rebuild from.
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read newest sample: %w", err)
		}

		_, err = tx.Exec(`
			INSERT INTO long_states (
				coin_id, h12_high, h12_low, h24_high, h24_low, h72_high, h72_low,
				v12_sum, v24_sum, last_price, last_mcap, last_updated
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(coin_id) DO UPDATE SET
				h12_high = excluded.h12_high,
				h12_low = excluded.h12_low,
				h24_high = excluded.h24_high,
				h24_low = excluded.h24_low,
				h72_high = excluded.h72_high,
				h72_low = excluded.h72_low,
				v12_sum = excluded.v12_sum,
				v24_sum = excluded.v24_sum,
				last_price = excluded.last_price,
				last_mcap = COALESCE(excluded.last_mcap, long_states.last_mcap),
				last_updated = excluded.last_updated
		`, coinID,
			ptrValue(agg.H12High), ptrValue(agg.H12Low),
			ptrValue(agg.H24High), ptrValue(agg.H24Low),
			ptrValue(agg.H72High), ptrValue(agg.H72Low),
			ptrValue(agg.V12Sum), ptrValue(agg.V24Sum),
			price.Float64, nullToPtr(mcap), ts.Int64)
		if err != nil {
			return fmt.Errorf("failed to rebuild state: %w", err)
		}
		return nil
	})
}

func nullToPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// ptrValue converts *float64 to a driver-friendly value (nil stays NULL).
func ptrValue(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
