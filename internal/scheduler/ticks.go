package scheduler

import (
	"context"
	"time"
)

const (
	// tickTimeout bounds one evaluation pass.
	tickTimeout = 5 * time.Minute

	// backupTimeout allows for VACUUM INTO plus the archive upload.
	backupTimeout = 15 * time.Minute
)

// TickJob adapts a context-bound evaluation pass to the Job interface with a
// deadline, so a wedged upstream cannot pin a tick forever.
type TickJob struct {
	name    string
	timeout time.Duration
	tick    Ticker
}

// NewTickJob wraps an arbitrary pass under the given name and timeout.
func NewTickJob(name string, timeout time.Duration, tick Ticker) *TickJob {
	return &TickJob{name: name, timeout: timeout, tick: tick}
}

// NewCheckpointJob runs the long-list evaluation on each tick.
func NewCheckpointJob(evaluator Ticker) *TickJob {
	return NewTickJob("long_checkpoint", tickTimeout, evaluator)
}

// NewHotScanJob runs the hot-entry evaluation on each tick.
func NewHotScanJob(evaluator Ticker) *TickJob {
	return NewTickJob("hot_scan", tickTimeout, evaluator)
}

// NewAnchorReportJob publishes the long-list snapshot report.
func NewAnchorReportJob(reporter Ticker) *TickJob {
	return NewTickJob("anchor_report", tickTimeout, reporter)
}

// NewBackupJob archives the databases off-box.
func NewBackupJob(backups Ticker) *TickJob {
	return NewTickJob("backup", backupTimeout, backups)
}

// Name returns the job name
func (j *TickJob) Name() string {
	return j.name
}

// Run executes one pass under the job's deadline.
func (j *TickJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	return j.tick.Run(ctx)
}

// WorkSweepJob nudges the work processor so interval work types get picked
// up even when no event has woken it.
type WorkSweepJob struct {
	processor WorkTrigger
}

// NewWorkSweepJob creates the processor sweep job.
func NewWorkSweepJob(processor WorkTrigger) *WorkSweepJob {
	return &WorkSweepJob{processor: processor}
}

// Name returns the job name
func (j *WorkSweepJob) Name() string {
	return "work_sweep"
}

// Run wakes the processor. Never fails; the processor owns its own errors.
func (j *WorkSweepJob) Run() error {
	j.processor.Trigger()
	return nil
}
