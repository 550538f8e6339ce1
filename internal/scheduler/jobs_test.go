package scheduler

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/coinwatch/internal/database"
	"github.com/aristath/coinwatch/internal/metrics"
	"github.com/aristath/coinwatch/internal/reliability"
)

type fakeTick struct {
	err         error
	called      bool
	hadDeadline bool
}

func (f *fakeTick) Run(ctx context.Context) error {
	f.called = true
	_, f.hadDeadline = ctx.Deadline()
	return f.err
}

type fakeCleaner struct {
	removed int64
	err     error
}

func (f *fakeCleaner) Cleanup(now time.Time) (int64, error) {
	return f.removed, f.err
}

type fakePurger struct {
	removed int64
	err     error
	cutoff  int64
	called  bool
}

func (f *fakePurger) PurgeDelivered(cutoff int64) (int64, error) {
	f.called = true
	f.cutoff = cutoff
	return f.removed, f.err
}

func (f *fakePurger) PurgeOlderThan(cutoff int64) (int64, error) {
	f.called = true
	f.cutoff = cutoff
	return f.removed, f.err
}

// TestTickJob tests the deadline-bound adapter and the job names
func TestTickJob(t *testing.T) {
	tick := &fakeTick{}
	job := NewCheckpointJob(tick)

	assert.Equal(t, "long_checkpoint", job.Name())
	require.NoError(t, job.Run())
	assert.True(t, tick.called)
	assert.True(t, tick.hadDeadline, "evaluation pass should run under a deadline")

	assert.Equal(t, "hot_scan", NewHotScanJob(&fakeTick{}).Name())
	assert.Equal(t, "anchor_report", NewAnchorReportJob(&fakeTick{}).Name())
	assert.Equal(t, "backup", NewBackupJob(&fakeTick{}).Name())

	failing := NewHotScanJob(&fakeTick{err: errors.New("feed down")})
	assert.Error(t, failing.Run())
}

type fakeProcessor struct {
	triggers int
}

func (f *fakeProcessor) Trigger() { f.triggers++ }

// TestWorkSweepJob tests the processor nudge
func TestWorkSweepJob(t *testing.T) {
	processor := &fakeProcessor{}
	job := NewWorkSweepJob(processor)

	assert.Equal(t, "work_sweep", job.Name())
	require.NoError(t, job.Run())
	require.NoError(t, job.Run())
	assert.Equal(t, 2, processor.triggers)
}

// TestCleanupJob tests the retention cutoffs and error continuation
func TestCleanupJob(t *testing.T) {
	t.Run("purges every store", func(t *testing.T) {
		store := &fakeCleaner{removed: 100}
		outbox := &fakePurger{removed: 5}
		history := &fakePurger{removed: 9}
		mints := &fakePurger{removed: 40}

		job := NewCleanupJob(store, outbox, history, mints, zerolog.Nop())
		assert.Equal(t, "cleanup", job.Name())
		require.NoError(t, job.Run())

		now := time.Now().UTC().Unix()
		assert.InDelta(t, now-7*24*3600, outbox.cutoff, 5)
		assert.InDelta(t, now-90*24*3600, history.cutoff, 5)
		assert.InDelta(t, now-30*24*3600, mints.cutoff, 5)
	})

	t.Run("one failing store does not stop the rest", func(t *testing.T) {
		outbox := &fakePurger{err: errors.New("locked")}
		history := &fakePurger{}
		mints := &fakePurger{}

		job := NewCleanupJob(&fakeCleaner{}, outbox, history, mints, zerolog.Nop())
		err := job.Run()

		require.Error(t, err)
		assert.Contains(t, err.Error(), "locked")
		assert.True(t, history.called)
		assert.True(t, mints.called)
	})
}

type fakePending struct {
	n   int64
	err error
}

func (f fakePending) PendingCount() (int64, error) { return f.n, f.err }

type fakeRows struct{ n int64 }

func (f fakeRows) TotalDataPoints() (int64, error) { return f.n, nil }

type fakeCount struct{ n int64 }

func (f fakeCount) Count() (int64, error) { return f.n, nil }

type fakeBreakers struct{ statuses []reliability.BreakerStatus }

func (f fakeBreakers) Status() []reliability.BreakerStatus { return f.statuses }

// TestStatusPollJob tests gauge refresh from the sources
func TestStatusPollJob(t *testing.T) {
	reg := metrics.NewRegistry()
	job := NewStatusPollJob(
		fakePending{n: 4},
		fakeRows{n: 12000},
		fakeCount{n: 7},
		fakeCount{n: 3},
		fakeBreakers{statuses: []reliability.BreakerStatus{
			{Name: "market_data", State: "open"},
			{Name: "chat_send", State: "closed"},
		}},
		reg,
		zerolog.Nop(),
	)

	assert.Equal(t, "status_poll", job.Name())
	require.NoError(t, job.Run())

	assert.Equal(t, 4.0, testutil.ToFloat64(reg.OutboxPending))
	assert.Equal(t, 12000.0, testutil.ToFloat64(reg.RollingRows))
	assert.Equal(t, 7.0, testutil.ToFloat64(reg.CoinsActive))
	assert.Equal(t, 3.0, testutil.ToFloat64(reg.HotEntries))
	assert.Equal(t, 2.0, testutil.ToFloat64(reg.BreakerState.WithLabelValues("market_data")))
	assert.Equal(t, 0.0, testutil.ToFloat64(reg.BreakerState.WithLabelValues("chat_send")))
}

// TestStatusPollJob_SourceFailure tests that a bad source never fails the job
func TestStatusPollJob_SourceFailure(t *testing.T) {
	reg := metrics.NewRegistry()
	job := NewStatusPollJob(
		fakePending{err: errors.New("locked")},
		fakeRows{n: 10},
		fakeCount{n: 1},
		fakeCount{n: 1},
		fakeBreakers{},
		reg,
		zerolog.Nop(),
	)

	require.NoError(t, job.Run())
	assert.Equal(t, 0.0, testutil.ToFloat64(reg.OutboxPending))
	assert.Equal(t, 10.0, testutil.ToFloat64(reg.RollingRows))
}

// TestCheckDatabasesJob tests the health sweep over live databases
func TestCheckDatabasesJob(t *testing.T) {
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

	job := NewCheckDatabasesJob(db, nil, nil, zerolog.Nop())
	assert.Equal(t, "check_databases", job.Name())
	require.NoError(t, job.Run())
}
