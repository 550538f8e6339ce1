package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/coinwatch/internal/database"
	"github.com/aristath/coinwatch/internal/reliability"
	"github.com/aristath/coinwatch/internal/scheduler"
)

type mockJobSource struct {
	statuses []scheduler.JobStatus
}

func (m *mockJobSource) Status() []scheduler.JobStatus { return m.statuses }

type mockBreakerSource struct {
	statuses []reliability.BreakerStatus
}

func (m *mockBreakerSource) Status() []reliability.BreakerStatus { return m.statuses }

type mockStream struct {
	connected bool
	stale     bool
	samples   int64
}

func (m *mockStream) IsConnected() bool      { return m.connected }
func (m *mockStream) IsStale() bool          { return m.stale }
func (m *mockStream) SamplesIngested() int64 { return m.samples }

// mockCleaner satisfies all three cleanup store interfaces.
type mockCleaner struct {
	count     int64
	purged    int64
	countErr  error
	purgeErr  error
	gotCutoff int64
}

func (m *mockCleaner) CountOlderThan(cutoff int64) (int64, error) {
	m.gotCutoff = cutoff
	return m.count, m.countErr
}

func (m *mockCleaner) PurgeOlderThan(cutoff int64) (int64, error) {
	m.gotCutoff = cutoff
	return m.purged, m.purgeErr
}

func (m *mockCleaner) CountDeliveredBefore(cutoff int64) (int64, error) {
	return m.CountOlderThan(cutoff)
}

func (m *mockCleaner) PurgeDelivered(cutoff int64) (int64, error) {
	return m.PurgeOlderThan(cutoff)
}

type mockRowCounter struct {
	rows int64
	err  error
}

func (m *mockRowCounter) TotalDataPoints() (int64, error) { return m.rows, m.err }

func openTestDB(t *testing.T, name string) *database.DB {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), name),
		Profile: database.ProfileStandard,
		Name:    strings.TrimSuffix(name, ".db"),
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestSystemHandlers(t *testing.T) *SystemHandlers {
	t.Helper()

	return &SystemHandlers{
		log:         zerolog.Nop(),
		dataDir:     t.TempDir(),
		startupTime: time.Now().Add(-time.Minute),
		watchDB:     openTestDB(t, "watch.db"),
		cacheDB:     openTestDB(t, "cache.db"),
		mintsDB:     openTestDB(t, "mints.db"),
		jobs:        &mockJobSource{},
		breakers:    &mockBreakerSource{},
		growth:      NewGrowthTracker(&mockRowCounter{}, zerolog.Nop()),
		history:     &mockCleaner{},
		outbox:      &mockCleaner{},
		mints:       &mockCleaner{},
	}
}

func TestHandleHealth(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(h *SystemHandlers)
		wantCode   int
		wantStatus string
	}{
		{
			name:       "all systems nominal",
			setup:      func(h *SystemHandlers) {},
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
		},
		{
			name: "open breaker degrades",
			setup: func(h *SystemHandlers) {
				h.breakers = &mockBreakerSource{statuses: []reliability.BreakerStatus{
					{Name: "market_data", State: "open"},
				}}
			},
			wantCode:   http.StatusOK,
			wantStatus: "degraded",
		},
		{
			name: "half-open breaker does not degrade",
			setup: func(h *SystemHandlers) {
				h.breakers = &mockBreakerSource{statuses: []reliability.BreakerStatus{
					{Name: "market_data", State: "half-open"},
				}}
			},
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
		},
		{
			name: "overdue job degrades",
			setup: func(h *SystemHandlers) {
				h.jobs = &mockJobSource{statuses: []scheduler.JobStatus{
					{Name: "hot_scan", Schedule: "*/5 * * * *", Next: time.Now().Add(-5 * time.Minute)},
				}}
			},
			wantCode:   http.StatusOK,
			wantStatus: "degraded",
		},
		{
			name: "job within slack stays healthy",
			setup: func(h *SystemHandlers) {
				h.jobs = &mockJobSource{statuses: []scheduler.JobStatus{
					{Name: "hot_scan", Schedule: "*/5 * * * *", Next: time.Now().Add(-10 * time.Second)},
				}}
			},
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
		},
		{
			name: "stale stream degrades",
			setup: func(h *SystemHandlers) {
				h.stream = &mockStream{connected: false, stale: true}
			},
			wantCode:   http.StatusOK,
			wantStatus: "degraded",
		},
		{
			name: "closed database is unhealthy",
			setup: func(h *SystemHandlers) {
				require.NoError(t, h.cacheDB.Close())
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unhealthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestSystemHandlers(t)
			tt.setup(h)

			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			rec := httptest.NewRecorder()
			h.HandleHealth(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)

			var resp HealthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.GreaterOrEqual(t, resp.UptimeSeconds, int64(60))
			assert.Len(t, resp.Databases, 3)
		})
	}
}

func TestHandleHealth_StreamSnapshot(t *testing.T) {
	h := newTestSystemHandlers(t)
	h.stream = &mockStream{connected: true, stale: false, samples: 42}

	rec := httptest.NewRecorder()
	h.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Stream)
	assert.True(t, resp.Stream.Connected)
	assert.Equal(t, int64(42), resp.Stream.SamplesIngested)
}

func TestHandleHealth_NoStreamOmitted(t *testing.T) {
	h := newTestSystemHandlers(t)

	rec := httptest.NewRecorder()
	h.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Nil(t, resp.Stream)
}

func TestHandleStatus(t *testing.T) {
	h := newTestSystemHandlers(t)

	rec := httptest.NewRecorder()
	h.HandleStatus(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.GreaterOrEqual(t, resp["uptime_seconds"].(float64), float64(60))
}

func TestHandleMemory(t *testing.T) {
	h := newTestSystemHandlers(t)

	rec := httptest.NewRecorder()
	h.HandleMemory(rec, httptest.NewRequest(http.MethodGet, "/memory", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp MemoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Greater(t, resp.HeapAllocMB, 0.0)
	assert.Greater(t, resp.Goroutines, 0)
}

func TestHandleGC(t *testing.T) {
	h := newTestSystemHandlers(t)

	rec := httptest.NewRecorder()
	h.HandleGC(rec, httptest.NewRequest(http.MethodPost, "/memory/gc", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp["status"])
	assert.Contains(t, resp, "heap_before_mb")
	assert.Contains(t, resp, "heap_after_mb")
}

func TestHandleDatabaseStats(t *testing.T) {
	h := newTestSystemHandlers(t)
	require.NoError(t, os.WriteFile(filepath.Join(h.dataDir, "watch.db"), make([]byte, 2048), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(h.dataDir, "watch.db-wal"), make([]byte, 1024), 0644))

	rec := httptest.NewRecorder()
	h.HandleDatabaseStats(rec, httptest.NewRequest(http.MethodGet, "/database/stats", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp DatabaseStatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Databases, 1)
	assert.Equal(t, "watch.db", resp.Databases[0].Name)
	assert.Greater(t, resp.Databases[0].SizeMB, 0.0)
	assert.Greater(t, resp.Databases[0].WalMB, 0.0)
	assert.Greater(t, resp.TotalSizeMB, 0.0)
}

func TestHandleCleanupPreview(t *testing.T) {
	h := newTestSystemHandlers(t)
	h.history = &mockCleaner{count: 12}
	h.outbox = &mockCleaner{count: 3}
	h.mints = &mockCleaner{count: 40}

	rec := httptest.NewRecorder()
	h.HandleCleanupPreview(rec, httptest.NewRequest(http.MethodGet, "/database/cleanup?days=7", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp CleanupReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.DryRun)
	assert.Equal(t, 7, resp.DaysToKeep)
	assert.Equal(t, int64(12), resp.AlertHistory)
	assert.Equal(t, int64(3), resp.Outbox)
	assert.Equal(t, int64(40), resp.MintEvents)
}

func TestHandleCleanupPreview_BadDays(t *testing.T) {
	h := newTestSystemHandlers(t)

	rec := httptest.NewRecorder()
	h.HandleCleanupPreview(rec, httptest.NewRequest(http.MethodGet, "/database/cleanup?days=nope", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCleanup(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		confirm  bool
		wantCode int
		validate func(t *testing.T, h *SystemHandlers, resp *CleanupReport)
	}{
		{
			name:     "empty body defaults to dry run",
			body:     "",
			wantCode: http.StatusOK,
			validate: func(t *testing.T, h *SystemHandlers, resp *CleanupReport) {
				assert.True(t, resp.DryRun)
				assert.Equal(t, defaultCleanupDays, resp.DaysToKeep)
			},
		},
		{
			name:     "live run without confirmation header",
			body:     `{"dryRun": false}`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "live run with confirmation purges",
			body:     `{"daysToKeep": 14, "dryRun": false}`,
			confirm:  true,
			wantCode: http.StatusOK,
			validate: func(t *testing.T, h *SystemHandlers, resp *CleanupReport) {
				assert.False(t, resp.DryRun)
				assert.Equal(t, 14, resp.DaysToKeep)
				assert.Equal(t, int64(5), resp.AlertHistory)
			},
		},
		{
			name:     "zero retention rejected",
			body:     `{"daysToKeep": 0}`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "unknown field rejected",
			body:     `{"keepDays": 10}`,
			wantCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestSystemHandlers(t)
			h.history = &mockCleaner{count: 5, purged: 5}
			h.outbox = &mockCleaner{count: 2, purged: 2}
			h.mints = &mockCleaner{count: 9, purged: 9}

			req := httptest.NewRequest(http.MethodPost, "/database/cleanup", strings.NewReader(tt.body))
			if tt.confirm {
				req.Header.Set("X-Confirm", "true")
			}
			rec := httptest.NewRecorder()
			h.HandleCleanup(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.validate != nil {
				var resp CleanupReport
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				tt.validate(t, h, &resp)
			}
		})
	}
}

func TestHandleCleanup_CutoffMatchesRetention(t *testing.T) {
	h := newTestSystemHandlers(t)
	cleaner := &mockCleaner{}
	h.history = cleaner
	h.outbox = &mockCleaner{}
	h.mints = &mockCleaner{}

	req := httptest.NewRequest(http.MethodPost, "/database/cleanup", strings.NewReader(`{"daysToKeep": 10}`))
	rec := httptest.NewRecorder()
	h.HandleCleanup(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	want := time.Now().UTC().AddDate(0, 0, -10).Unix()
	assert.InDelta(t, want, cleaner.gotCutoff, 5)
}
