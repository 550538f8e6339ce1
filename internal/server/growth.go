package server

import (
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
)

// growthWindow bounds the sample ring; at the minute cadence it covers the
// last hour.
const growthWindow = 60

// RowCounter reads the total rolling-sample count.
type RowCounter interface {
	TotalDataPoints() (int64, error)
}

type growthSample struct {
	at   time.Time
	heap float64
	rows float64
}

// GrowthTracker samples heap size and rolling-store row count on an interval
// and fits a line through the recent window. On a fixed watchlist both slopes
// should hover near zero once the 72h window fills; a sustained positive
// slope means a leak or a stalled cleanup job.
type GrowthTracker struct {
	store RowCounter
	log   zerolog.Logger

	mu      sync.Mutex
	samples []growthSample

	stopCh   chan struct{}
	stopOnce sync.Once
}

// GrowthTrends holds the fitted slopes over the sample window.
type GrowthTrends struct {
	HeapBytesPerMin float64 `json:"heap_bytes_per_min"`
	RowsPerMin      float64 `json:"rows_per_min"`
	Samples         int     `json:"samples"`
}

// NewGrowthTracker creates a growth tracker reading row counts from the store.
func NewGrowthTracker(store RowCounter, log zerolog.Logger) *GrowthTracker {
	return &GrowthTracker{
		store:  store,
		log:    log.With().Str("component", "growth_tracker").Logger(),
		stopCh: make(chan struct{}),
	}
}

// Start launches the sampling loop. The first sample is taken immediately so
// trends become available two intervals after startup.
func (g *GrowthTracker) Start(interval time.Duration) {
	go func() {
		g.sample()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				g.sample()
			case <-g.stopCh:
				return
			}
		}
	}()
}

// Stop halts the sampling loop.
func (g *GrowthTracker) Stop() {
	g.stopOnce.Do(func() { close(g.stopCh) })
}

func (g *GrowthTracker) sample() {
	rows, err := g.store.TotalDataPoints()
	if err != nil {
		g.log.Warn().Err(err).Msg("Failed to count rolling samples")
		return
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	g.mu.Lock()
	defer g.mu.Unlock()

	g.samples = append(g.samples, growthSample{
		at:   time.Now(),
		heap: float64(ms.HeapAlloc),
		rows: float64(rows),
	})
	if len(g.samples) > growthWindow {
		g.samples = g.samples[len(g.samples)-growthWindow:]
	}
}

// Trends fits a least-squares line through the window and returns the slopes
// per minute. Fewer than three samples yield zero slopes.
func (g *GrowthTracker) Trends() GrowthTrends {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := len(g.samples)
	if n < 3 {
		return GrowthTrends{Samples: n}
	}

	xs := make([]float64, n)
	heap := make([]float64, n)
	rows := make([]float64, n)
	origin := g.samples[0].at
	for i, s := range g.samples {
		xs[i] = s.at.Sub(origin).Minutes()
		heap[i] = s.heap
		rows[i] = s.rows
	}

	_, heapSlope := stat.LinearRegression(xs, heap, nil, false)
	_, rowsSlope := stat.LinearRegression(xs, rows, nil, false)

	return GrowthTrends{
		HeapBytesPerMin: heapSlope,
		RowsPerMin:      rowsSlope,
		Samples:         n,
	}
}
