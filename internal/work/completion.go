package work

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/coinwatch/internal/database"
)

// CompletionTracker records when each (type, subject) pair last completed,
// backed by the work_completions table so refresh intervals survive
// restarts. Reads are served from an in-memory mirror.
type CompletionTracker struct {
	db  *database.DB
	log zerolog.Logger

	mu          sync.RWMutex
	completions map[string]time.Time
}

// NewCompletionTracker creates a tracker and loads the persisted records.
func NewCompletionTracker(db *database.DB, log zerolog.Logger) (*CompletionTracker, error) {
	t := &CompletionTracker{
		db:          db,
		log:         log.With().Str("component", "work_completion").Logger(),
		completions: make(map[string]time.Time),
	}

	rows, err := db.Query(`SELECT work_id, subject, completed_at FROM work_completions`)
	if err != nil {
		return nil, fmt.Errorf("failed to load work completions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var typeID, subject string
		var completedAt int64
		if err := rows.Scan(&typeID, &subject, &completedAt); err != nil {
			return nil, fmt.Errorf("failed to scan work completion: %w", err)
		}
		t.completions[makeKey(typeID, subject)] = time.Unix(completedAt, 0).UTC()
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load work completions: %w", err)
	}
	return t, nil
}

func makeKey(typeID, subject string) string {
	if subject == "" {
		return typeID
	}
	return typeID + ":" + subject
}

// MarkCompleted records a completion at the current time.
func (t *CompletionTracker) MarkCompleted(item *WorkItem) {
	t.MarkCompletedAt(item, time.Now().UTC())
}

// MarkCompletedAt records a completion at a specific time. The in-memory
// mirror always updates; losing the row to a write failure costs one
// redundant run after a restart, so the error is only logged.
func (t *CompletionTracker) MarkCompletedAt(item *WorkItem, completedAt time.Time) {
	t.mu.Lock()
	t.completions[makeKey(item.TypeID, item.Subject)] = completedAt
	t.mu.Unlock()

	_, err := t.db.Exec(`
		INSERT INTO work_completions (work_id, subject, completed_at)
		VALUES (?, ?, ?)
		ON CONFLICT(work_id, subject) DO UPDATE SET completed_at = excluded.completed_at
	`, item.TypeID, item.Subject, completedAt.Unix())
	if err != nil {
		t.log.Error().Err(err).Str("work", item.ID).Msg("Failed to persist work completion")
	}
}

// GetCompletion returns when a (type, subject) pair last completed.
func (t *CompletionTracker) GetCompletion(typeID, subject string) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	completedAt, exists := t.completions[makeKey(typeID, subject)]
	return completedAt, exists
}

// IsStale reports whether the work should run again: never completed, zero
// interval (on-demand), or the interval has elapsed.
func (t *CompletionTracker) IsStale(typeID, subject string, interval time.Duration) bool {
	if interval == 0 {
		return true
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	completedAt, exists := t.completions[makeKey(typeID, subject)]
	if !exists {
		return true
	}
	return time.Since(completedAt) > interval
}

// Clear removes the record for one (type, subject) pair, forcing the next
// eligibility check to treat it as never run.
func (t *CompletionTracker) Clear(typeID, subject string) {
	t.mu.Lock()
	delete(t.completions, makeKey(typeID, subject))
	t.mu.Unlock()

	_, err := t.db.Exec(`
		DELETE FROM work_completions WHERE work_id = ? AND subject = ?
	`, typeID, subject)
	if err != nil {
		t.log.Error().Err(err).Str("work", typeID).Msg("Failed to clear work completion")
	}
}

// ClearSubject removes all records for one subject, used when a coin
// leaves the watchlist.
func (t *CompletionTracker) ClearSubject(subject string) {
	if subject == "" {
		return
	}

	t.mu.Lock()
	for key := range t.completions {
		if _, sub := ParseWorkID(key); sub == subject {
			delete(t.completions, key)
		}
	}
	t.mu.Unlock()

	_, err := t.db.Exec(`DELETE FROM work_completions WHERE subject = ?`, subject)
	if err != nil {
		t.log.Error().Err(err).Str("subject", subject).Msg("Failed to clear subject completions")
	}
}
