// Package server provides the HTTP server and routing for coinwatch.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/coinwatch/internal/database"
	"github.com/aristath/coinwatch/internal/reliability"
	"github.com/aristath/coinwatch/internal/scheduler"
)

const (
	// overdueSlack is how far past its next fire time a job may run before
	// the scheduler counts as wedged.
	overdueSlack = time.Minute

	// defaultCleanupDays is the retention applied when a cleanup request
	// names no horizon.
	defaultCleanupDays = 30
)

// JobSource exposes scheduler job snapshots.
type JobSource interface {
	Status() []scheduler.JobStatus
}

// BreakerSource exposes circuit-breaker snapshots.
type BreakerSource interface {
	Status() []reliability.BreakerStatus
}

// StreamSource exposes the optional websocket ingest status. Nil when
// streaming is disabled.
type StreamSource interface {
	IsConnected() bool
	IsStale() bool
	SamplesIngested() int64
}

// historyCleaner previews and purges aged alert-history rows.
type historyCleaner interface {
	CountOlderThan(cutoff int64) (int64, error)
	PurgeOlderThan(cutoff int64) (int64, error)
}

// outboxCleaner previews and purges delivered outbox rows.
type outboxCleaner interface {
	CountDeliveredBefore(cutoff int64) (int64, error)
	PurgeDelivered(cutoff int64) (int64, error)
}

// mintCleaner previews and purges aged mint events.
type mintCleaner interface {
	CountOlderThan(cutoff int64) (int64, error)
	PurgeOlderThan(cutoff int64) (int64, error)
}

// SystemHandlers serves the operational endpoints: health, memory, database
// stats and manual cleanup.
type SystemHandlers struct {
	log         zerolog.Logger
	dataDir     string
	startupTime time.Time
	watchDB     *database.DB
	cacheDB     *database.DB
	mintsDB     *database.DB
	jobs        JobSource
	breakers    BreakerSource
	stream      StreamSource
	growth      *GrowthTracker
	history     historyCleaner
	outbox      outboxCleaner
	mints       mintCleaner
}

// NewSystemHandlers creates the system handlers instance.
func NewSystemHandlers(
	log zerolog.Logger,
	dataDir string,
	watchDB *database.DB,
	cacheDB *database.DB,
	mintsDB *database.DB,
	jobs JobSource,
	breakers BreakerSource,
	stream StreamSource,
	growth *GrowthTracker,
	history historyCleaner,
	outbox outboxCleaner,
	mints mintCleaner,
) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("component", "system_handlers").Logger(),
		dataDir:     dataDir,
		startupTime: time.Now(),
		watchDB:     watchDB,
		cacheDB:     cacheDB,
		mintsDB:     mintsDB,
		jobs:        jobs,
		breakers:    breakers,
		stream:      stream,
		growth:      growth,
		history:     history,
		outbox:      outbox,
		mints:       mints,
	}
}

// HealthResponse is the full health report for GET /health.
type HealthResponse struct {
	Status        string                      `json:"status"`
	UptimeSeconds int64                       `json:"uptime_seconds"`
	Databases     map[string]string           `json:"databases"`
	Jobs          []scheduler.JobStatus       `json:"jobs"`
	Breakers      []reliability.BreakerStatus `json:"breakers"`
	Memory        MemorySnapshot              `json:"memory"`
	Growth        GrowthTrends                `json:"growth"`
	Stream        *StreamSnapshot             `json:"stream,omitempty"`
}

// MemorySnapshot is the short memory summary embedded in the health report.
type MemorySnapshot struct {
	HeapAllocMB float64 `json:"heap_alloc_mb"`
	SysMB       float64 `json:"sys_mb"`
	NumGC       uint32  `json:"num_gc"`
	Goroutines  int     `json:"goroutines"`
}

// StreamSnapshot reports the websocket ingest state when streaming is on.
type StreamSnapshot struct {
	Connected       bool  `json:"connected"`
	Stale           bool  `json:"stale"`
	SamplesIngested int64 `json:"samples_ingested"`
}

// HandleHealth reports overall process health. Any unreachable database
// makes the process unhealthy (503); an open breaker, an overdue job or a
// stale price stream degrade it but keep the 200. Databases get a ping, not
// a full integrity check; the periodic database job owns the expensive scan.
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	status := "healthy"

	databases := make(map[string]string, 3)
	for name, db := range map[string]*database.DB{
		"watch": h.watchDB,
		"cache": h.cacheDB,
		"mints": h.mintsDB,
	} {
		if err := db.QuickCheck(r.Context()); err != nil {
			databases[name] = err.Error()
			status = "unhealthy"
		} else {
			databases[name] = "ok"
		}
	}

	jobs := h.jobs.Status()
	breakers := h.breakers.Status()

	if status == "healthy" {
		for _, b := range breakers {
			if b.State == "open" {
				status = "degraded"
				break
			}
		}
	}
	if status == "healthy" {
		for _, j := range jobs {
			if !j.Next.IsZero() && now.Sub(j.Next) > overdueSlack {
				status = "degraded"
				break
			}
		}
	}

	var streamSnap *StreamSnapshot
	if h.stream != nil {
		streamSnap = &StreamSnapshot{
			Connected:       h.stream.IsConnected(),
			Stale:           h.stream.IsStale(),
			SamplesIngested: h.stream.SamplesIngested(),
		}
		if status == "healthy" && streamSnap.Stale {
			status = "degraded"
		}
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}

	h.writeJSON(w, code, HealthResponse{
		Status:        status,
		UptimeSeconds: int64(now.Sub(h.startupTime).Seconds()),
		Databases:     databases,
		Jobs:          jobs,
		Breakers:      breakers,
		Memory: MemorySnapshot{
			HeapAllocMB: float64(ms.HeapAlloc) / 1024 / 1024,
			SysMB:       float64(ms.Sys) / 1024 / 1024,
			NumGC:       ms.NumGC,
			Goroutines:  runtime.NumGoroutine(),
		},
		Growth: h.growth.Trends(),
		Stream: streamSnap,
	})
}

// HandleStatus is the cheap liveness probe.
func (h *SystemHandlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(h.startupTime).Seconds()),
	})
}

// MemoryResponse is the detailed report for GET /memory.
type MemoryResponse struct {
	AllocMB      float64      `json:"alloc_mb"`
	TotalAllocMB float64      `json:"total_alloc_mb"`
	SysMB        float64      `json:"sys_mb"`
	HeapAllocMB  float64      `json:"heap_alloc_mb"`
	HeapObjects  uint64       `json:"heap_objects"`
	NumGC        uint32       `json:"num_gc"`
	Goroutines   int          `json:"goroutines"`
	CPUPercent   float64      `json:"cpu_percent"`
	RAMPercent   float64      `json:"ram_percent"`
	Growth       GrowthTrends `json:"growth"`
}

// HandleMemory returns runtime memory statistics plus host CPU and RAM usage.
func (h *SystemHandlers) HandleMemory(w http.ResponseWriter, r *http.Request) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	cpuPct, ramPct := h.getSystemStats()

	h.writeJSON(w, http.StatusOK, MemoryResponse{
		AllocMB:      float64(ms.Alloc) / 1024 / 1024,
		TotalAllocMB: float64(ms.TotalAlloc) / 1024 / 1024,
		SysMB:        float64(ms.Sys) / 1024 / 1024,
		HeapAllocMB:  float64(ms.HeapAlloc) / 1024 / 1024,
		HeapObjects:  ms.HeapObjects,
		NumGC:        ms.NumGC,
		Goroutines:   runtime.NumGoroutine(),
		CPUPercent:   cpuPct,
		RAMPercent:   ramPct,
		Growth:       h.growth.Trends(),
	})
}

// HandleGC forces a garbage collection pass and reports how much heap it
// released.
func (h *SystemHandlers) HandleGC(w http.ResponseWriter, r *http.Request) {
	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	runtime.GC()
	runtime.ReadMemStats(&after)

	freedMB := (float64(before.HeapAlloc) - float64(after.HeapAlloc)) / 1024 / 1024

	h.log.Info().
		Float64("heap_before_mb", float64(before.HeapAlloc)/1024/1024).
		Float64("heap_after_mb", float64(after.HeapAlloc)/1024/1024).
		Msg("Manual garbage collection triggered")

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "success",
		"heap_before_mb": float64(before.HeapAlloc) / 1024 / 1024,
		"heap_after_mb":  float64(after.HeapAlloc) / 1024 / 1024,
		"freed_mb":       freedMB,
	})
}

// DBFileInfo holds the on-disk footprint of one database.
type DBFileInfo struct {
	Name   string  `json:"name"`
	SizeMB float64 `json:"size_mb"`
	WalMB  float64 `json:"wal_mb"`
}

// DatabaseStatsResponse is the report for GET /database/stats.
type DatabaseStatsResponse struct {
	Databases   []DBFileInfo `json:"databases"`
	TotalSizeMB float64      `json:"total_size_mb"`
	LastChecked string       `json:"last_checked"`
}

// HandleDatabaseStats reports database file sizes. A WAL file rivaling its
// database means checkpoints are falling behind.
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	infos := []DBFileInfo{}
	totalMB := 0.0

	for _, name := range []string{"watch.db", "cache.db", "mints.db"} {
		path := filepath.Join(h.dataDir, name)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		sizeMB := float64(info.Size()) / 1024 / 1024

		walMB := 0.0
		if walInfo, err := os.Stat(path + "-wal"); err == nil {
			walMB = float64(walInfo.Size()) / 1024 / 1024
		}

		totalMB += sizeMB + walMB
		infos = append(infos, DBFileInfo{Name: name, SizeMB: sizeMB, WalMB: walMB})
	}

	h.writeJSON(w, http.StatusOK, DatabaseStatsResponse{
		Databases:   infos,
		TotalSizeMB: totalMB,
		LastChecked: time.Now().Format(time.RFC3339),
	})
}

type cleanupRequest struct {
	DaysToKeep int  `json:"daysToKeep"`
	DryRun     bool `json:"dryRun"`
}

// CleanupReport summarizes one cleanup pass, real or previewed.
type CleanupReport struct {
	DryRun       bool   `json:"dry_run"`
	DaysToKeep   int    `json:"days_to_keep"`
	Cutoff       string `json:"cutoff"`
	AlertHistory int64  `json:"alert_history"`
	Outbox       int64  `json:"outbox"`
	MintEvents   int64  `json:"mint_events"`
}

// HandleCleanupPreview reports what a cleanup at the given horizon would
// remove, without removing anything. The horizon comes from the optional
// "days" query parameter.
func (h *SystemHandlers) HandleCleanupPreview(w http.ResponseWriter, r *http.Request) {
	days := defaultCleanupDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			h.writeError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = parsed
	}

	report, err := h.runCleanup(days, true)
	if err != nil {
		h.log.Error().Err(err).Msg("Cleanup preview failed")
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, report)
}

// HandleCleanup runs a cleanup pass over alert history, delivered outbox
// rows and mint events. Live runs require the X-Confirm: true header; rolling
// samples are not touched here because the hourly cleanup job owns their
// retention.
func (h *SystemHandlers) HandleCleanup(w http.ResponseWriter, r *http.Request) {
	req := cleanupRequest{DaysToKeep: defaultCleanupDays, DryRun: true}
	if err := decodeStrict(r, &req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	if req.DaysToKeep < 1 {
		h.writeError(w, http.StatusBadRequest, "daysToKeep must be at least 1")
		return
	}
	if !req.DryRun && r.Header.Get("X-Confirm") != "true" {
		h.writeError(w, http.StatusBadRequest, "live cleanup requires the X-Confirm: true header")
		return
	}

	report, err := h.runCleanup(req.DaysToKeep, req.DryRun)
	if err != nil {
		h.log.Error().Err(err).Msg("Cleanup failed")
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if !req.DryRun {
		h.log.Info().
			Int("days_to_keep", req.DaysToKeep).
			Int64("alert_history", report.AlertHistory).
			Int64("outbox", report.Outbox).
			Int64("mint_events", report.MintEvents).
			Msg("Manual cleanup completed")
	}

	h.writeJSON(w, http.StatusOK, report)
}

func (h *SystemHandlers) runCleanup(days int, dryRun bool) (*CleanupReport, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	cutoffUnix := cutoff.Unix()

	report := &CleanupReport{
		DryRun:     dryRun,
		DaysToKeep: days,
		Cutoff:     cutoff.Format(time.RFC3339),
	}

	var err error
	if dryRun {
		if report.AlertHistory, err = h.history.CountOlderThan(cutoffUnix); err != nil {
			return nil, err
		}
		if report.Outbox, err = h.outbox.CountDeliveredBefore(cutoffUnix); err != nil {
			return nil, err
		}
		if report.MintEvents, err = h.mints.CountOlderThan(cutoffUnix); err != nil {
			return nil, err
		}
		return report, nil
	}

	if report.AlertHistory, err = h.history.PurgeOlderThan(cutoffUnix); err != nil {
		return nil, err
	}
	if report.Outbox, err = h.outbox.PurgeDelivered(cutoffUnix); err != nil {
		return nil, err
	}
	if report.MintEvents, err = h.mints.PurgeOlderThan(cutoffUnix); err != nil {
		return nil, err
	}
	return report, nil
}

// getSystemStats calculates CPU and RAM usage percentages. The short 100ms
// CPU window keeps the handler responsive at the cost of a noisier reading.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}

// writeJSON writes a JSON response
func (h *SystemHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes a JSON error response
func (h *SystemHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// decodeStrict decodes a JSON body rejecting unknown fields.
func decodeStrict(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
