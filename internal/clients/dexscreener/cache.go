package dexscreener

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/coinwatch/internal/database"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// DefaultSnapshotTTL is how long a cached pair counts as fresh.
const DefaultSnapshotTTL = 10 * time.Minute

type cachedPair struct {
	Pair     PairInfo `msgpack:"pair"`
	StoredAt int64    `msgpack:"stored_at"`
}

// SnapshotCache stores the last known-good pair per token in the cache
// database as msgpack blobs. Anomalous fetches are never written here, so a
// stale read always returns the last value that passed validation.
type SnapshotCache struct {
	db  *database.DB
	ttl time.Duration
	log zerolog.Logger
}

// NewSnapshotCache creates a snapshot cache with the default TTL.
func NewSnapshotCache(db *database.DB, log zerolog.Logger) *SnapshotCache {
	return &SnapshotCache{
		db:  db,
		ttl: DefaultSnapshotTTL,
		log: log.With().Str("component", "snapshot_cache").Logger(),
	}
}

// Store upserts the snapshot for a pair. Callers must only pass pairs that
// passed validation without anomaly flags.
func (c *SnapshotCache) Store(p *PairInfo) error {
	blob, err := msgpack.Marshal(&cachedPair{Pair: *p, StoredAt: time.Now().UTC().Unix()})
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	now := time.Now().UTC().Unix()
	_, err = c.db.Exec(`
		INSERT INTO pair_snapshots (key, data, created_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			data = excluded.data,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at
	`, p.Key(), blob, now, now+int64(c.ttl.Seconds()))
	if err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}
	return nil
}

// GetFresh returns the snapshot for a token if it has not expired.
// Returns nil, nil when absent or expired.
func (c *SnapshotCache) GetFresh(chain, tokenAddress string) (*PairInfo, error) {
	return c.get(chain, tokenAddress, true)
}

// GetStale returns the snapshot for a token regardless of expiry. Used as a
// fallback when the upstream returns garbage for a token we knew before.
func (c *SnapshotCache) GetStale(chain, tokenAddress string) (*PairInfo, error) {
	return c.get(chain, tokenAddress, false)
}

func (c *SnapshotCache) get(chain, tokenAddress string, respectExpiry bool) (*PairInfo, error) {
	key := TokenRequest{Chain: chain, TokenAddress: tokenAddress}.Key()

	query := `SELECT data FROM pair_snapshots WHERE key = ?`
	args := []interface{}{key}
	if respectExpiry {
		query += ` AND expires_at > ?`
		args = append(args, time.Now().UTC().Unix())
	}

	var blob []byte
	err := c.db.QueryRow(query, args...).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var cached cachedPair
	if err := msgpack.Unmarshal(blob, &cached); err != nil {
		// Corrupt blob: drop it rather than poisoning every future read.
		c.log.Warn().Str("key", key).Err(err).Msg("Dropping corrupt snapshot")
		_, _ = c.db.Exec(`DELETE FROM pair_snapshots WHERE key = ?`, key)
		return nil, nil
	}

	pair := cached.Pair
	pair.Meta.Source = "cache"
	return &pair, nil
}

// PurgeExpired deletes snapshots that expired more than grace ago.
// Returns the number of rows removed.
func (c *SnapshotCache) PurgeExpired(grace time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-grace).Unix()
	result, err := c.db.Exec(`DELETE FROM pair_snapshots WHERE expires_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge snapshots: %w", err)
	}
	removed, _ := result.RowsAffected()
	return removed, nil
}

// CountAnomaly bumps the hourly anomaly counter for a source tag.
// Counters feed the health endpoint; failures here are non-fatal.
func (c *SnapshotCache) CountAnomaly(source string) {
	bucket := time.Now().UTC().Truncate(time.Hour).Unix()
	_, err := c.db.Exec(`
		INSERT INTO anomaly_counters (bucket, source, count)
		VALUES (?, ?, 1)
		ON CONFLICT(bucket, source) DO UPDATE SET count = count + 1
	`, bucket, source)
	if err != nil {
		c.log.Warn().Err(err).Str("source", source).Msg("Failed to bump anomaly counter")
	}
}

// AnomalyCounts returns per-source anomaly totals over the trailing window.
func (c *SnapshotCache) AnomalyCounts(window time.Duration) (map[string]int64, error) {
	since := time.Now().UTC().Add(-window).Truncate(time.Hour).Unix()
	rows, err := c.db.Query(`
		SELECT source, SUM(count) FROM anomaly_counters
		WHERE bucket >= ? GROUP BY source
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to read anomaly counters: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var source string
		var count int64
		if err := rows.Scan(&source, &count); err != nil {
			return nil, fmt.Errorf("failed to scan anomaly counter: %w", err)
		}
		counts[source] = count
	}
	return counts, rows.Err()
}
