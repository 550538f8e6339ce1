package scheduler

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name    string
	runs    atomic.Int64
	active  atomic.Int64
	overlap atomic.Bool
	block   time.Duration
	err     error
}

func (j *countingJob) Name() string { return j.name }

func (j *countingJob) Run() error {
	if j.active.Add(1) > 1 {
		j.overlap.Store(true)
	}
	defer j.active.Add(-1)

	if j.block > 0 {
		time.Sleep(j.block)
	}
	j.runs.Add(1)
	return j.err
}

type recordingObserver struct {
	mu      sync.Mutex
	jobs    []string
	results []string
}

func (o *recordingObserver) ObserveJob(job, result string, seconds float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.jobs = append(o.jobs, job)
	o.results = append(o.results, result)
}

// TestScheduler_RunsJobs tests that a registered job fires repeatedly
func TestScheduler_RunsJobs(t *testing.T) {
	s := New(time.UTC, nil, zerolog.Nop())
	job := &countingJob{name: "tick"}
	require.NoError(t, s.AddJob("@every 10ms", job))

	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		return job.runs.Load() >= 3
	}, 2*time.Second, 10*time.Millisecond)
}

// TestScheduler_SuppressesOverlap tests that a slow job never runs on top of itself
func TestScheduler_SuppressesOverlap(t *testing.T) {
	s := New(time.UTC, nil, zerolog.Nop())
	job := &countingJob{name: "slow", block: 40 * time.Millisecond}
	require.NoError(t, s.AddJob("@every 10ms", job))

	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		return job.runs.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)

	assert.False(t, job.overlap.Load(), "a tick ran while the previous one was still in flight")
}

// TestScheduler_StopHaltsTicks tests that no new ticks fire after Stop
func TestScheduler_StopHaltsTicks(t *testing.T) {
	s := New(time.UTC, nil, zerolog.Nop())
	job := &countingJob{name: "tick"}
	require.NoError(t, s.AddJob("@every 10ms", job))

	s.Start()
	require.Eventually(t, func() bool {
		return job.runs.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	s.Stop()
	after := job.runs.Load()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, after, job.runs.Load())
}

// TestScheduler_ObserverSeesResults tests the per-run measurement hook
func TestScheduler_ObserverSeesResults(t *testing.T) {
	obs := &recordingObserver{}
	s := New(time.UTC, obs, zerolog.Nop())

	ok := &countingJob{name: "fine"}
	bad := &countingJob{name: "broken", err: errors.New("boom")}

	s.wrap(ok)()
	s.wrap(bad)()

	require.Equal(t, []string{"fine", "broken"}, obs.jobs)
	assert.Equal(t, []string{"ok", "error"}, obs.results)
}

// TestScheduler_Status tests the health snapshot of registered jobs
func TestScheduler_Status(t *testing.T) {
	s := New(time.UTC, nil, zerolog.Nop())
	require.NoError(t, s.AddJob("30 3 * * *", &countingJob{name: "backup"}))
	require.NoError(t, s.AddJob("@hourly", &countingJob{name: "cleanup"}))

	s.Start()
	defer s.Stop()

	status := s.Status()
	require.Len(t, status, 2)
	assert.Equal(t, "backup", status[0].Name)
	assert.Equal(t, "30 3 * * *", status[0].Schedule)
	assert.False(t, status[0].Next.IsZero())
	assert.Equal(t, "cleanup", status[1].Name)
}

// TestScheduler_RunNow tests immediate execution outside the schedule
func TestScheduler_RunNow(t *testing.T) {
	s := New(time.UTC, nil, zerolog.Nop())

	job := &countingJob{name: "manual"}
	require.NoError(t, s.RunNow(job))
	assert.Equal(t, int64(1), job.runs.Load())

	broken := &countingJob{name: "manual_bad", err: errors.New("boom")}
	assert.Error(t, s.RunNow(broken))
}

// TestScheduler_RejectsBadSpec tests schedule validation
func TestScheduler_RejectsBadSpec(t *testing.T) {
	s := New(time.UTC, nil, zerolog.Nop())
	assert.Error(t, s.AddJob("not a schedule", &countingJob{name: "x"}))
	assert.Empty(t, s.Status())
}
