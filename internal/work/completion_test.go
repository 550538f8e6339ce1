package work

import (
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/coinwatch/internal/database"
)

// setupTestDB creates a temporary watch database for testing
func setupTestDB(t *testing.T) *database.DB {
	tmpFile, err := os.CreateTemp("", "test_watch_*.db")
	require.NoError(t, err)
	tmpFile.Close()

	db, err := database.New(database.Config{
		Path:    tmpFile.Name(),
		Profile: database.ProfileStandard,
		Name:    "watch",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())

	t.Cleanup(func() {
		db.Close()
		os.Remove(tmpFile.Name())
	})
	return db
}

func newTestTracker(t *testing.T, db *database.DB) *CompletionTracker {
	tracker, err := NewCompletionTracker(db, zerolog.Nop())
	require.NoError(t, err)
	return tracker
}

// TestCompletionTracker_MarkAndGet tests the basic record/read cycle
func TestCompletionTracker_MarkAndGet(t *testing.T) {
	tracker := newTestTracker(t, setupTestDB(t))

	_, exists := tracker.GetCompletion("coin:backfill", "42")
	assert.False(t, exists)

	item := NewWorkItem(&WorkType{ID: "coin:backfill"}, "42")
	completedAt := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	tracker.MarkCompletedAt(item, completedAt)

	got, exists := tracker.GetCompletion("coin:backfill", "42")
	require.True(t, exists)
	assert.Equal(t, completedAt.Unix(), got.Unix())

	// Other subjects are independent
	_, exists = tracker.GetCompletion("coin:backfill", "43")
	assert.False(t, exists)
}

// TestCompletionTracker_PersistsAcrossRestart tests the database mirror
func TestCompletionTracker_PersistsAcrossRestart(t *testing.T) {
	db := setupTestDB(t)

	first := newTestTracker(t, db)
	completedAt := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	first.MarkCompletedAt(NewWorkItem(&WorkType{ID: "coin:metadata"}, "7"), completedAt)

	// A fresh tracker on the same database sees the record
	second := newTestTracker(t, db)
	got, exists := second.GetCompletion("coin:metadata", "7")
	require.True(t, exists)
	assert.Equal(t, completedAt.Unix(), got.Unix())
}

// TestCompletionTracker_IsStale tests the staleness rules
func TestCompletionTracker_IsStale(t *testing.T) {
	tracker := newTestTracker(t, setupTestDB(t))
	item := NewWorkItem(&WorkType{ID: "coin:metadata"}, "7")

	// Zero interval means on-demand: always eligible
	assert.True(t, tracker.IsStale("coin:metadata", "7", 0))

	// Never completed
	assert.True(t, tracker.IsStale("coin:metadata", "7", time.Hour))

	tracker.MarkCompletedAt(item, time.Now().Add(-30*time.Minute))
	assert.False(t, tracker.IsStale("coin:metadata", "7", time.Hour))

	tracker.MarkCompletedAt(item, time.Now().Add(-2*time.Hour))
	assert.True(t, tracker.IsStale("coin:metadata", "7", time.Hour))
}

// TestCompletionTracker_Clear tests single-record removal
func TestCompletionTracker_Clear(t *testing.T) {
	db := setupTestDB(t)
	tracker := newTestTracker(t, db)

	tracker.MarkCompleted(NewWorkItem(&WorkType{ID: "coin:backfill"}, "42"))
	tracker.Clear("coin:backfill", "42")

	_, exists := tracker.GetCompletion("coin:backfill", "42")
	assert.False(t, exists)

	// The deletion is durable
	reloaded := newTestTracker(t, db)
	_, exists = reloaded.GetCompletion("coin:backfill", "42")
	assert.False(t, exists)
}

// TestCompletionTracker_ClearSubject tests removing all of a coin's records
func TestCompletionTracker_ClearSubject(t *testing.T) {
	db := setupTestDB(t)
	tracker := newTestTracker(t, db)

	tracker.MarkCompleted(NewWorkItem(&WorkType{ID: "coin:backfill"}, "42"))
	tracker.MarkCompleted(NewWorkItem(&WorkType{ID: "coin:metadata"}, "42"))
	tracker.MarkCompleted(NewWorkItem(&WorkType{ID: "coin:metadata"}, "99"))

	tracker.ClearSubject("42")

	_, exists := tracker.GetCompletion("coin:backfill", "42")
	assert.False(t, exists)
	_, exists = tracker.GetCompletion("coin:metadata", "42")
	assert.False(t, exists)
	_, exists = tracker.GetCompletion("coin:metadata", "99")
	assert.True(t, exists)

	reloaded := newTestTracker(t, db)
	_, exists = reloaded.GetCompletion("coin:metadata", "99")
	assert.True(t, exists)
}
