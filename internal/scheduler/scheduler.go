// Package scheduler runs the recurring ticks that drive the watcher: anchor
// reports, long checkpoints, hot scans, cleanup, database checks and backups.
package scheduler

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// stopTimeout bounds how long Stop waits for in-flight ticks.
const stopTimeout = 30 * time.Second

// Job represents a scheduled job
type Job interface {
	Run() error
	Name() string
}

// JobObserver receives one measurement per completed job run. Satisfied by
// the metrics registry; nil disables observation.
type JobObserver interface {
	ObserveJob(job, result string, seconds float64)
}

// JobStatus is the observable snapshot of one registered job.
type JobStatus struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Prev     time.Time `json:"prev"`
	Next     time.Time `json:"next"`
}

type entry struct {
	id       cron.EntryID
	name     string
	schedule string
}

// Scheduler manages background jobs. Schedules resolve in the location given
// at construction, so "30 3 * * *" means 03:30 local wherever the operator
// configured the zone.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
	obs  JobObserver

	mu      sync.Mutex
	entries []entry
}

// New creates a new scheduler anchored to the given location. obs may be nil.
func New(loc *time.Location, obs JobObserver, log zerolog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		cron: cron.New(cron.WithLocation(loc)),
		log:  log.With().Str("component", "scheduler").Logger(),
		obs:  obs,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.entries)).Msg("Scheduler started")
}

// Stop stops accepting new ticks and waits up to 30 seconds for in-flight
// ticks to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
		s.log.Info().Msg("Scheduler stopped")
	case <-time.After(stopTimeout):
		s.log.Warn().Msg("Scheduler stopped with ticks still in flight")
	}
}

// AddJob registers a job with a cron schedule. A tick that collides with the
// same job still running is suppressed; distinct jobs may overlap freely.
// Schedule examples:
//   - "*/15 * * * *"  - Every 15 minutes
//   - "30 3 * * *"    - 03:30 local
//   - "@hourly"       - Every hour
//   - "@every 30s"    - Every 30 seconds
func (s *Scheduler) AddJob(schedule string, job Job) error {
	id, err := s.cron.AddFunc(schedule, s.wrap(job))
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.entries = append(s.entries, entry{id: id, name: job.Name(), schedule: schedule})
	s.mu.Unlock()

	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")

	return nil
}

// wrap guards a job with its running flag and reports the run to the
// observer. Split out so tests can drive ticks without waiting on cron.
func (s *Scheduler) wrap(job Job) func() {
	var running atomic.Bool
	return func() {
		if !running.CompareAndSwap(false, true) {
			s.log.Warn().Str("job", job.Name()).Msg("Previous run still in flight, skipping tick")
			return
		}
		defer running.Store(false)

		s.runJob(job)
	}
}

func (s *Scheduler) runJob(job Job) {
	s.log.Debug().Str("job", job.Name()).Msg("Running job")

	start := time.Now()
	err := job.Run()
	elapsed := time.Since(start)

	result := "ok"
	if err != nil {
		result = "error"
		s.log.Error().
			Err(err).
			Str("job", job.Name()).
			Dur("elapsed", elapsed).
			Msg("Job failed")
	} else {
		s.log.Debug().
			Str("job", job.Name()).
			Dur("elapsed", elapsed).
			Msg("Job completed")
	}

	if s.obs != nil {
		s.obs.ObserveJob(job.Name(), result, elapsed.Seconds())
	}
}

// RunNow executes a job immediately (outside schedule)
func (s *Scheduler) RunNow(job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("Running job immediately")
	return job.Run()
}

// Status returns the registered jobs with their previous and next run times,
// for the health endpoint.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]JobStatus, 0, len(s.entries))
	for _, e := range s.entries {
		ce := s.cron.Entry(e.id)
		statuses = append(statuses, JobStatus{
			Name:     e.name,
			Schedule: e.schedule,
			Prev:     ce.Prev,
			Next:     ce.Next,
		})
	}
	return statuses
}
