package watchlist

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aristath/coinwatch/internal/database"
	"github.com/aristath/coinwatch/internal/domain"
	"github.com/rs/zerolog"
)

// WatchRepository persists long-watch subscriptions, one per coin.
type WatchRepository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewWatchRepository creates a watch repository on the watch database.
func NewWatchRepository(db *database.DB, log zerolog.Logger) *WatchRepository {
	return &WatchRepository{
		db:  db,
		log: log.With().Str("component", "watch_repository").Logger(),
	}
}

// WatchedCoin pairs a coin with its long-watch subscription for evaluation.
type WatchedCoin struct {
	Coin  domain.Coin
	Watch domain.LongWatch
}

// DefaultWatch returns a subscription with all triggers on and stock thresholds.
func DefaultWatch(coinID int64) *domain.LongWatch {
	return &domain.LongWatch{
		CoinID:       coinID,
		RetraceOn:    true,
		StallOn:      true,
		BreakoutOn:   true,
		McapOn:       true,
		RetracePct:   domain.DefaultRetracePct,
		StallVolPct:  domain.DefaultStallVolPct,
		StallBandPct: domain.DefaultStallBandPct,
		BreakoutPct:  domain.DefaultBreakoutPct,
		BreakoutVolX: domain.DefaultBreakoutVolX,
		McapLevels:   []float64{},
	}
}

// Upsert writes the full subscription row for a coin.
func (r *WatchRepository) Upsert(watch *domain.LongWatch) error {
	levels, err := json.Marshal(watch.McapLevels)
	if err != nil {
		return fmt.Errorf("failed to encode mcap levels: %w", err)
	}

	addedAt := watch.AddedAt
	if addedAt == 0 {
		addedAt = time.Now().UTC().Unix()
	}

	_, err = r.db.Exec(`
		INSERT INTO long_watches (
			coin_id, retrace_on, stall_on, breakout_on, mcap_on,
			retrace_pct, stall_vol_pct, stall_band_pct, breakout_pct, breakout_vol_x,
			mcap_levels, added_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(coin_id) DO UPDATE SET
			retrace_on = excluded.retrace_on,
			stall_on = excluded.stall_on,
			breakout_on = excluded.breakout_on,
			mcap_on = excluded.mcap_on,
			retrace_pct = excluded.retrace_pct,
			stall_vol_pct = excluded.stall_vol_pct,
			stall_band_pct = excluded.stall_band_pct,
			breakout_pct = excluded.breakout_pct,
			breakout_vol_x = excluded.breakout_vol_x,
			mcap_levels = excluded.mcap_levels
	`, watch.CoinID, watch.RetraceOn, watch.StallOn, watch.BreakoutOn, watch.McapOn,
		watch.RetracePct, watch.StallVolPct, watch.StallBandPct, watch.BreakoutPct,
		watch.BreakoutVolX, string(levels), addedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert watch: %w", err)
	}
	return nil
}

// Get returns the subscription for a coin, or nil when none exists.
func (r *WatchRepository) Get(coinID int64) (*domain.LongWatch, error) {
	row := r.db.QueryRow(`
		SELECT coin_id, retrace_on, stall_on, breakout_on, mcap_on,
			retrace_pct, stall_vol_pct, stall_band_pct, breakout_pct, breakout_vol_x,
			mcap_levels, added_at
		FROM long_watches WHERE coin_id = ?
	`, coinID)

	watch, err := scanWatch(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get watch: %w", err)
	}
	return watch, nil
}

// ListActive returns subscriptions joined with their active coins, ordered
// by coin id so evaluation batching is stable.
func (r *WatchRepository) ListActive() ([]WatchedCoin, error) {
	rows, err := r.db.Query(`
		SELECT c.id, c.chain, c.token_address, c.symbol, c.name, c.decimals, c.is_active, c.created_at,
			w.coin_id, w.retrace_on, w.stall_on, w.breakout_on, w.mcap_on,
			w.retrace_pct, w.stall_vol_pct, w.stall_band_pct, w.breakout_pct, w.breakout_vol_x,
			w.mcap_levels, w.added_at
		FROM long_watches w
		JOIN coins c ON c.id = w.coin_id
		WHERE c.is_active = 1
		ORDER BY c.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list watches: %w", err)
	}
	defer rows.Close()

	var watched []WatchedCoin
	for rows.Next() {
		var wc WatchedCoin
		var name sql.NullString
		var decimals sql.NullInt64
		var levelsJSON string

		err := rows.Scan(
			&wc.Coin.ID, &wc.Coin.Chain, &wc.Coin.TokenAddress, &wc.Coin.Symbol,
			&name, &decimals, &wc.Coin.IsActive, &wc.Coin.CreatedAt,
			&wc.Watch.CoinID, &wc.Watch.RetraceOn, &wc.Watch.StallOn, &wc.Watch.BreakoutOn,
			&wc.Watch.McapOn, &wc.Watch.RetracePct, &wc.Watch.StallVolPct, &wc.Watch.StallBandPct,
			&wc.Watch.BreakoutPct, &wc.Watch.BreakoutVolX, &levelsJSON, &wc.Watch.AddedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan watch: %w", err)
		}

		wc.Coin.Name = name.String
		if decimals.Valid {
			wc.Coin.Decimals = &decimals.Int64
		}
		if err := json.Unmarshal([]byte(levelsJSON), &wc.Watch.McapLevels); err != nil {
			return nil, fmt.Errorf("failed to decode mcap levels for coin %d: %w", wc.Coin.ID, err)
		}
		watched = append(watched, wc)
	}
	return watched, rows.Err()
}

// Count returns the number of subscriptions on active coins.
func (r *WatchRepository) Count() (int64, error) {
	var count int64
	err := r.db.QueryRow(`
		SELECT COUNT(*) FROM long_watches w JOIN coins c ON c.id = w.coin_id WHERE c.is_active = 1
	`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count watches: %w", err)
	}
	return count, nil
}

// Delete removes the subscription for a coin. State and samples cascade from
// the coin row, not from here.
func (r *WatchRepository) Delete(coinID int64) error {
	_, err := r.db.Exec(`DELETE FROM long_watches WHERE coin_id = ?`, coinID)
	if err != nil {
		return fmt.Errorf("failed to delete watch: %w", err)
	}
	return nil
}

func scanWatch(row *sql.Row) (*domain.LongWatch, error) {
	var watch domain.LongWatch
	var levelsJSON string

	err := row.Scan(
		&watch.CoinID, &watch.RetraceOn, &watch.StallOn, &watch.BreakoutOn, &watch.McapOn,
		&watch.RetracePct, &watch.StallVolPct, &watch.StallBandPct, &watch.BreakoutPct,
		&watch.BreakoutVolX, &levelsJSON, &watch.AddedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(levelsJSON), &watch.McapLevels); err != nil {
		return nil, fmt.Errorf("failed to decode mcap levels: %w", err)
	}
	return &watch, nil
}
