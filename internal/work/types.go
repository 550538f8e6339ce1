package work

import (
	"context"
	"strings"
	"time"
)

// WorkTimeout is the maximum duration a work item can run before being cancelled.
const WorkTimeout = 5 * time.Minute

// MaxRetries is the maximum number of times a failed work item will be retried.
const MaxRetries = 5

// retryBackoff is the base delay before a failed item becomes eligible
// again; it grows linearly with the retry count.
const retryBackoff = 30 * time.Second

// Priority defines the execution priority of work types.
type Priority int

const (
	// PriorityLow is for deferrable work (metadata refresh).
	PriorityLow Priority = iota
	// PriorityMedium is for regular background work.
	PriorityMedium
	// PriorityHigh is for work a user is waiting on (warm-up backfill).
	PriorityHigh
)

// String returns a human-readable name for the priority.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "Low"
	case PriorityMedium:
		return "Medium"
	case PriorityHigh:
		return "High"
	default:
		return "Unknown"
	}
}

// WorkType defines a type of work that can be executed.
// Work types are registered once and can generate many work items.
type WorkType struct {
	// ID is the unique identifier for this work type (e.g. "coin:backfill").
	ID string

	// DependsOn lists work type IDs that must complete before this work can
	// run. Dependencies are scoped to the same subject.
	DependsOn []string

	// Interval is the minimum time between runs per subject (0 = on-demand).
	Interval time.Duration

	// Priority determines execution order when multiple items are eligible.
	Priority Priority

	// FindSubjects returns the subjects (coin ids) that need this work.
	// Returns []string{""} for global work, nil if nothing is needed.
	FindSubjects func() []string

	// Execute performs the work for one subject.
	Execute func(ctx context.Context, subject string) error
}

// WorkItem is one unit of work queued for execution.
type WorkItem struct {
	// ID is the full work ID including subject (e.g. "coin:backfill:42").
	ID string

	// TypeID is the work type ID (e.g. "coin:backfill").
	TypeID string

	// Subject is the coin id for per-coin work, empty for global work.
	Subject string

	// Retries is the number of failed attempts so far.
	Retries int

	// NotBefore gates retried items; zero means immediately eligible.
	NotBefore time.Time

	// CreatedAt is when this work item was created.
	CreatedAt time.Time
}

// NewWorkItem creates a work item from a work type and subject.
func NewWorkItem(workType *WorkType, subject string) *WorkItem {
	id := workType.ID
	if subject != "" {
		id = workType.ID + ":" + subject
	}

	return &WorkItem{
		ID:        id,
		TypeID:    workType.ID,
		Subject:   subject,
		CreatedAt: time.Now(),
	}
}

// ParseWorkID splits a full work ID into type ID and subject.
// "coin:backfill:42" returns ("coin:backfill", "42"); a two-part ID has no
// subject.
func ParseWorkID(id string) (typeID string, subject string) {
	parts := strings.Split(id, ":")
	if len(parts) <= 2 {
		return id, ""
	}
	return strings.Join(parts[:len(parts)-1], ":"), parts[len(parts)-1]
}
