package dexscreener

import (
	"os"
	"testing"
	"time"

	"github.com/aristath/coinwatch/internal/database"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupCacheDB creates a temporary cache database with the snapshot tables.
func setupCacheDB(t *testing.T) (*database.DB, func()) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "test_cache_*.db")
	require.NoError(t, err)
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()

	db, err := database.New(database.Config{
		Path:    tmpPath,
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())

	cleanup := func() {
		_ = db.Close()
		_ = os.Remove(tmpPath)
	}
	return db, cleanup
}

// TestSnapshotCache_StoreAndGet tests the round trip through msgpack blobs
func TestSnapshotCache_StoreAndGet(t *testing.T) {
	db, cleanup := setupCacheDB(t)
	defer cleanup()

	cache := NewSnapshotCache(db, zerolog.Nop())

	pair := validPair()
	require.NoError(t, cache.Store(pair))

	got, err := cache.GetFresh("solana", "abc123")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, pair.Price, got.Price)
	assert.Equal(t, pair.Symbol, got.Symbol)
	require.NotNil(t, got.MarketCap)
	assert.Equal(t, *pair.MarketCap, *got.MarketCap)
	assert.Equal(t, "cache", got.Meta.Source)
}

// TestSnapshotCache_GetMissing tests nil-nil for unknown tokens
func TestSnapshotCache_GetMissing(t *testing.T) {
	db, cleanup := setupCacheDB(t)
	defer cleanup()

	cache := NewSnapshotCache(db, zerolog.Nop())

	got, err := cache.GetFresh("solana", "nothere")
	require.NoError(t, err)
	assert.Nil(t, got)
}

// TestSnapshotCache_Expiry tests fresh-versus-stale reads
func TestSnapshotCache_Expiry(t *testing.T) {
	db, cleanup := setupCacheDB(t)
	defer cleanup()

	cache := NewSnapshotCache(db, zerolog.Nop())
	cache.ttl = -time.Second // Everything stored is already expired

	require.NoError(t, cache.Store(validPair()))

	fresh, err := cache.GetFresh("solana", "abc123")
	require.NoError(t, err)
	assert.Nil(t, fresh)

	stale, err := cache.GetStale("solana", "abc123")
	require.NoError(t, err)
	require.NotNil(t, stale)
	assert.Equal(t, 1.23, stale.Price)
}

// TestSnapshotCache_Overwrite tests that newer snapshots replace older ones
func TestSnapshotCache_Overwrite(t *testing.T) {
	db, cleanup := setupCacheDB(t)
	defer cleanup()

	cache := NewSnapshotCache(db, zerolog.Nop())

	first := validPair()
	require.NoError(t, cache.Store(first))

	second := validPair()
	second.Price = 2.46
	require.NoError(t, cache.Store(second))

	got, err := cache.GetFresh("solana", "abc123")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2.46, got.Price)
}

// TestSnapshotCache_PurgeExpired tests cleanup of dead snapshots
func TestSnapshotCache_PurgeExpired(t *testing.T) {
	db, cleanup := setupCacheDB(t)
	defer cleanup()

	cache := NewSnapshotCache(db, zerolog.Nop())
	cache.ttl = -time.Hour

	expired := validPair()
	require.NoError(t, cache.Store(expired))

	cache.ttl = DefaultSnapshotTTL
	alive := validPair()
	alive.BaseTokenAddress = "def456"
	require.NoError(t, cache.Store(alive))

	removed, err := cache.PurgeExpired(0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	got, err := cache.GetStale("solana", "def456")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

// TestSnapshotCache_AnomalyCounts tests the hourly counter rollup
func TestSnapshotCache_AnomalyCounts(t *testing.T) {
	db, cleanup := setupCacheDB(t)
	defer cleanup()

	cache := NewSnapshotCache(db, zerolog.Nop())

	cache.CountAnomaly("invalid")
	cache.CountAnomaly("invalid")
	cache.CountAnomaly("anomalous")

	counts, err := cache.AnomalyCounts(2 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts["invalid"])
	assert.Equal(t, int64(1), counts["anomalous"])
}
