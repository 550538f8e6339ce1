package di

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/aristath/coinwatch/internal/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		TelegramBotToken: "test-token",
		TelegramChatID:   "100",
		DatabasePath:     filepath.Join(dir, "watch.db"),
		DataDir:          dir,
		RateLimitDelay:   time.Millisecond,
		Timezone:         time.UTC,
		Port:             0,
		LogLevel:         "info",
	}
}

func TestWire(t *testing.T) {
	container, err := Wire(testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	defer container.Close()

	assert.NotNil(t, container.WatchDB)
	assert.NotNil(t, container.CacheDB)
	assert.NotNil(t, container.MintsDB)

	assert.NotNil(t, container.CoinRepo)
	assert.NotNil(t, container.WatchRepo)
	assert.NotNil(t, container.ScheduleRepo)
	assert.NotNil(t, container.SettingsRepo)
	assert.NotNil(t, container.EntryRepo)
	assert.NotNil(t, container.OutboxRepo)
	assert.NotNil(t, container.HistoryRepo)
	assert.NotNil(t, container.MintRepo)
	assert.NotNil(t, container.StateRepo)
	assert.NotNil(t, container.RollingStore)

	assert.NotNil(t, container.EventBus)
	assert.NotNil(t, container.Breakers)
	assert.NotNil(t, container.Metrics)
	assert.NotNil(t, container.Market)
	assert.NotNil(t, container.Chat)
	assert.NotNil(t, container.WatchlistSvc)
	assert.NotNil(t, container.HotlistSvc)
	assert.NotNil(t, container.LongEvaluator)
	assert.NotNil(t, container.HotEvaluator)
	assert.NotNil(t, container.Reporter)
	assert.NotNil(t, container.Dispatcher)
	assert.NotNil(t, container.Sender)
	assert.NotNil(t, container.MintIngestor)

	// No bucket configured: the backup service exists but stays inert.
	require.NotNil(t, container.BackupService)
	assert.False(t, container.BackupService.Enabled())

	// Streaming is opt-in.
	assert.Nil(t, container.StreamClient)

	require.NotNil(t, container.WorkComponents)
	assert.Equal(t, 2, container.WorkComponents.Registry.Count())
	assert.NotNil(t, container.WorkComponents.Processor)
	assert.NotNil(t, container.WorkComponents.Handlers)
}

func TestWire_SchedulesDefaultJobs(t *testing.T) {
	container, err := Wire(testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	defer container.Close()

	require.NotNil(t, container.Scheduler)

	names := make(map[string]int)
	for _, s := range container.Scheduler.Status() {
		names[s.Name]++
	}

	// Two anchor times ship in the schema defaults.
	assert.Equal(t, 2, names["anchor_report"])
	assert.Equal(t, 1, names["long_checkpoint"])
	assert.Equal(t, 1, names["hot_scan"])
	assert.Equal(t, 1, names["cleanup"])
	assert.Equal(t, 1, names["maintenance"])
	assert.Equal(t, 1, names["check_databases"])
	assert.Equal(t, 1, names["status_poll"])
	assert.Equal(t, 1, names["work_sweep"])

	// Backup stays unscheduled without a bucket.
	assert.Zero(t, names["backup"])
}

func TestWire_HealthChecksPass(t *testing.T) {
	container, err := Wire(testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	defer container.Close()

	ctx := context.Background()
	assert.NoError(t, container.WatchDB.HealthCheck(ctx))
	assert.NoError(t, container.CacheDB.HealthCheck(ctx))
	assert.NoError(t, container.MintsDB.HealthCheck(ctx))

	// Schema seeding means the singleton config is readable immediately.
	cfg, err := container.ScheduleRepo.Get()
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.AnchorTimesLocal)
}

func TestInitializeRepositories_NilContainer(t *testing.T) {
	assert.Error(t, InitializeRepositories(nil, zerolog.Nop()))
}

func TestInitializeWork_NilContainer(t *testing.T) {
	assert.Error(t, InitializeWork(nil, zerolog.Nop()))
}

func TestRegisterJobs_NilContainer(t *testing.T) {
	assert.Error(t, RegisterJobs(nil, testConfig(t), zerolog.Nop()))
}

func TestContainerClose_NilSafe(t *testing.T) {
	c := &Container{}
	assert.NotPanics(t, func() { c.Close() })
}
