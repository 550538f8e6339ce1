package work

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProcessor(t *testing.T, registry *Registry) *Processor {
	completion := newTestTracker(t, setupTestDB(t))
	return NewProcessorWithTimeout(registry, completion, 5*time.Second, zerolog.Nop())
}

// onceType registers a work type whose subject disappears after execution,
// the way backfill subjects do once seeded.
func onceType(id string, priority Priority, subject string, execute func(ctx context.Context, subject string) error) *WorkType {
	var done atomic.Bool
	return &WorkType{
		ID:       id,
		Priority: priority,
		FindSubjects: func() []string {
			if done.Load() {
				return nil
			}
			return []string{subject}
		},
		Execute: func(ctx context.Context, subject string) error {
			err := execute(ctx, subject)
			if err == nil {
				done.Store(true)
			}
			return err
		},
	}
}

// TestProcessor_TriggerRunsWork tests the trigger-scan-execute cycle
func TestProcessor_TriggerRunsWork(t *testing.T) {
	registry := NewRegistry()
	var executed atomic.Bool
	registry.Register(onceType("test:work", PriorityMedium, "", func(ctx context.Context, subject string) error {
		executed.Store(true)
		return nil
	}))

	p := newTestProcessor(t, registry)
	go p.Run()
	defer p.Stop()

	p.Trigger()

	require.Eventually(t, executed.Load, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		_, exists := p.completion.GetCompletion("test:work", "")
		return exists
	}, 2*time.Second, 10*time.Millisecond)
}

// TestProcessor_PriorityOrder tests that higher priority work runs first
func TestProcessor_PriorityOrder(t *testing.T) {
	registry := NewRegistry()

	var mu sync.Mutex
	var order []string
	record := func(ctx context.Context, subject string) error {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, subject)
		return nil
	}

	registry.Register(onceType("a:low", PriorityLow, "low", record))
	registry.Register(onceType("b:high", PriorityHigh, "high", record))

	p := newTestProcessor(t, registry)
	go p.Run()
	defer p.Stop()

	p.Trigger()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"high", "low"}, order)
}

// TestProcessor_DependencyGating tests that dependents wait for their
// dependency on the same subject
func TestProcessor_DependencyGating(t *testing.T) {
	registry := NewRegistry()

	var mu sync.Mutex
	var order []string
	record := func(id string) func(ctx context.Context, subject string) error {
		return func(ctx context.Context, subject string) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, id)
			return nil
		}
	}

	// The dependent outranks its dependency; gating must still hold it back
	base := onceType("base:seed", PriorityLow, "42", record("base:seed"))
	dependent := onceType("dependent:refine", PriorityHigh, "42", record("dependent:refine"))
	dependent.DependsOn = []string{"base:seed"}
	registry.Register(base)
	registry.Register(dependent)

	p := newTestProcessor(t, registry)
	go p.Run()
	defer p.Stop()

	p.Trigger()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"base:seed", "dependent:refine"}, order)
}

// TestProcessor_FailureGoesToRetryQueue tests that a failed item waits out
// its hold-off instead of hot-looping
func TestProcessor_FailureGoesToRetryQueue(t *testing.T) {
	registry := NewRegistry()
	var attempts atomic.Int32
	registry.Register(&WorkType{
		ID:       "test:flaky",
		Priority: PriorityMedium,
		FindSubjects: func() []string {
			// One fresh item; after that, retries own it
			if attempts.Load() > 0 {
				return nil
			}
			return []string{""}
		},
		Execute: func(ctx context.Context, subject string) error {
			attempts.Add(1)
			return errors.New("upstream down")
		},
	})

	p := newTestProcessor(t, registry)
	go p.Run()
	defer p.Stop()

	p.Trigger()

	require.Eventually(t, func() bool {
		return p.RetryQueueLen() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// One attempt, no completion, and the hold-off keeps it queued
	assert.Equal(t, int32(1), attempts.Load())
	_, exists := p.completion.GetCompletion("test:flaky", "")
	assert.False(t, exists)

	p.Trigger()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), attempts.Load())
	assert.Equal(t, 1, p.RetryQueueLen())
}

// TestProcessor_RetryAfterHoldoff tests that an elapsed hold-off lets the
// item run again and that success clears it
func TestProcessor_RetryAfterHoldoff(t *testing.T) {
	registry := NewRegistry()
	var attempts atomic.Int32
	wt := &WorkType{
		ID:           "test:flaky",
		Priority:     PriorityMedium,
		FindSubjects: func() []string { return nil },
		Execute: func(ctx context.Context, subject string) error {
			attempts.Add(1)
			return nil
		},
	}
	registry.Register(wt)

	p := newTestProcessor(t, registry)
	go p.Run()
	defer p.Stop()

	// Queue an item whose hold-off already elapsed
	p.pushRetryQueue(&WorkItem{
		ID:        "test:flaky",
		TypeID:    "test:flaky",
		Retries:   1,
		NotBefore: time.Now().Add(-time.Second),
	})

	p.Trigger()

	require.Eventually(t, func() bool { return attempts.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		_, exists := p.completion.GetCompletion("test:flaky", "")
		return exists
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, p.RetryQueueLen())
}

// TestProcessor_DropsAfterMaxRetries tests the retry bound
func TestProcessor_DropsAfterMaxRetries(t *testing.T) {
	registry := NewRegistry()
	var attempts atomic.Int32
	registry.Register(&WorkType{
		ID:           "test:doomed",
		Priority:     PriorityMedium,
		FindSubjects: func() []string { return nil },
		Execute: func(ctx context.Context, subject string) error {
			attempts.Add(1)
			return errors.New("permanently broken")
		},
	})

	p := newTestProcessor(t, registry)
	go p.Run()
	defer p.Stop()

	p.pushRetryQueue(&WorkItem{
		ID:        "test:doomed",
		TypeID:    "test:doomed",
		Retries:   MaxRetries - 1,
		NotBefore: time.Now().Add(-time.Second),
	})

	p.Trigger()

	require.Eventually(t, func() bool { return attempts.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return p.RetryQueueLen() == 0 }, 2*time.Second, 10*time.Millisecond)
}

// TestProcessor_SequentialExecution tests that items never run concurrently
func TestProcessor_SequentialExecution(t *testing.T) {
	registry := NewRegistry()

	var running atomic.Int32
	var overlapped atomic.Bool
	var completedCount atomic.Int32
	registry.Register(&WorkType{
		ID:       "test:slow",
		Priority: PriorityMedium,
		FindSubjects: func() []string {
			if completedCount.Load() >= 3 {
				return nil
			}
			return []string{"a", "b", "c"}
		},
		Interval: time.Hour,
		Execute: func(ctx context.Context, subject string) error {
			if running.Add(1) > 1 {
				overlapped.Store(true)
			}
			time.Sleep(20 * time.Millisecond)
			running.Add(-1)
			completedCount.Add(1)
			return nil
		},
	})

	p := newTestProcessor(t, registry)
	go p.Run()
	defer p.Stop()

	// Hammer the trigger while items execute
	for i := 0; i < 10; i++ {
		p.Trigger()
		time.Sleep(10 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return completedCount.Load() >= 3 }, 3*time.Second, 10*time.Millisecond)
	assert.False(t, overlapped.Load())
}

// TestProcessor_ExecuteNow tests the synchronous admin path
func TestProcessor_ExecuteNow(t *testing.T) {
	registry := NewRegistry()
	var got string
	registry.Register(&WorkType{
		ID:           "test:manual",
		FindSubjects: func() []string { return nil },
		Execute: func(ctx context.Context, subject string) error {
			got = subject
			return nil
		},
	})

	p := newTestProcessor(t, registry)

	require.NoError(t, p.ExecuteNow("test:manual", "42"))
	assert.Equal(t, "42", got)

	_, exists := p.completion.GetCompletion("test:manual", "42")
	assert.True(t, exists)

	err := p.ExecuteNow("test:unknown", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown work type")
}
