// Package metrics holds the Prometheus collectors for the agent.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aristath/coinwatch/internal/events"
)

// Registry holds all Prometheus metrics for the agent. Collectors register
// against a private registry so tests can build as many as they like.
type Registry struct {
	reg *prometheus.Registry

	// Upstream fetches
	FetchTotal *prometheus.CounterVec

	// Alert pipeline
	AlertsTotal   *prometheus.CounterVec
	OutboxPending prometheus.Gauge

	// Breakers, by name: 0 closed, 1 half-open, 2 open
	BreakerState *prometheus.GaugeVec

	// Storage depth
	RollingRows prometheus.Gauge
	CoinsActive prometheus.Gauge
	HotEntries  prometheus.Gauge

	// Scheduler
	JobDuration *prometheus.HistogramVec

	// Webhook ingest
	MintEventsTotal prometheus.Counter
}

// NewRegistry creates the collector set.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		FetchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coinwatch_fetch_total",
				Help: "Market data fetches by outcome",
			},
			[]string{"outcome"},
		),

		AlertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coinwatch_alerts_total",
				Help: "Alerts raised by kind",
			},
			[]string{"kind"},
		),

		OutboxPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "coinwatch_outbox_pending",
				Help: "Messages waiting in the delivery outbox",
			},
		),

		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "coinwatch_breaker_state",
				Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
			[]string{"name"},
		),

		RollingRows: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "coinwatch_rolling_rows",
				Help: "Rows in the rolling sample window",
			},
		),

		CoinsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "coinwatch_coins_active",
				Help: "Active coins on the long watchlist",
			},
		),

		HotEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "coinwatch_hot_entries",
				Help: "Entries on the hot list",
			},
		),

		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coinwatch_job_duration_seconds",
				Help:    "Scheduler job run duration in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"job", "result"},
		),

		MintEventsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "coinwatch_mint_events_total",
				Help: "Mint events persisted from the webhook",
			},
		),
	}

	r.reg.MustRegister(
		r.FetchTotal,
		r.AlertsTotal,
		r.OutboxPending,
		r.BreakerState,
		r.RollingRows,
		r.CoinsActive,
		r.HotEntries,
		r.JobDuration,
		r.MintEventsTotal,
	)

	return r
}

// Handler returns the /metrics exposition handler.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Observe subscribes the alert counters to the bus. Long and hot alerts
// count under their trigger kind, system alerts under "system".
func (r *Registry) Observe(bus *events.Bus) {
	bus.Subscribe(events.LongTrigger, func(event *events.Event) {
		if data, ok := event.Data.(*events.LongTriggerData); ok {
			r.AlertsTotal.WithLabelValues(string(data.TriggerType)).Inc()
		}
	})
	bus.Subscribe(events.HotAlert, func(event *events.Event) {
		if data, ok := event.Data.(*events.HotAlertData); ok {
			r.AlertsTotal.WithLabelValues(string(data.AlertType)).Inc()
		}
	})
	bus.Subscribe(events.SystemAlert, func(event *events.Event) {
		r.AlertsTotal.WithLabelValues("system").Inc()
	})
}

// RecordFetch counts one market data fetch by outcome.
func (r *Registry) RecordFetch(outcome string) {
	r.FetchTotal.WithLabelValues(outcome).Inc()
}

// RecordMintEvents counts persisted mint events.
func (r *Registry) RecordMintEvents(n int) {
	r.MintEventsTotal.Add(float64(n))
}

// ObserveJob records one scheduler job run.
func (r *Registry) ObserveJob(job, result string, seconds float64) {
	r.JobDuration.WithLabelValues(job, result).Observe(seconds)
}

// SetBreakerState maps a gobreaker state string onto the gauge.
func (r *Registry) SetBreakerState(name, state string) {
	var value float64
	switch state {
	case "half-open":
		value = 1
	case "open":
		value = 2
	}
	r.BreakerState.WithLabelValues(name).Set(value)
}
