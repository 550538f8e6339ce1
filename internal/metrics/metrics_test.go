package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/coinwatch/internal/domain"
	"github.com/aristath/coinwatch/internal/events"
)

// TestRegistry_ObserveCountsAlerts tests the bus-fed alert counters
func TestRegistry_ObserveCountsAlerts(t *testing.T) {
	reg := NewRegistry()
	bus := events.NewBus(zerolog.Nop())
	reg.Observe(bus)

	bus.Emit(events.LongTrigger, "test", &events.LongTriggerData{
		Symbol:      "WIF",
		TriggerType: domain.AlertRetrace,
		Fingerprint: "long:1:retrace:1",
	})
	bus.Emit(events.LongTrigger, "test", &events.LongTriggerData{
		Symbol:      "WIF",
		TriggerType: domain.AlertRetrace,
		Fingerprint: "long:1:retrace:2",
	})
	bus.Emit(events.HotAlert, "test", &events.HotAlertData{
		Symbol:      "PEPE",
		AlertType:   domain.AlertHotPct,
		Fingerprint: "hot:1:hot_pct:50:1",
	})
	bus.Emit(events.SystemAlert, "test", &events.SystemAlertData{
		Message:     "something broke",
		Fingerprint: "system:test:1",
	})

	assert.Equal(t, 2.0, testutil.ToFloat64(reg.AlertsTotal.WithLabelValues("retrace")))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.AlertsTotal.WithLabelValues("hot_pct")))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.AlertsTotal.WithLabelValues("system")))
}

// TestRegistry_BreakerStateMapping tests the state-to-gauge mapping
func TestRegistry_BreakerStateMapping(t *testing.T) {
	reg := NewRegistry()

	reg.SetBreakerState("market_data", "open")
	assert.Equal(t, 2.0, testutil.ToFloat64(reg.BreakerState.WithLabelValues("market_data")))

	reg.SetBreakerState("market_data", "half-open")
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.BreakerState.WithLabelValues("market_data")))

	reg.SetBreakerState("market_data", "closed")
	assert.Equal(t, 0.0, testutil.ToFloat64(reg.BreakerState.WithLabelValues("market_data")))
}

// TestRegistry_Recorders tests the plain counters and gauges
func TestRegistry_Recorders(t *testing.T) {
	reg := NewRegistry()

	reg.RecordFetch("success")
	reg.RecordFetch("success")
	reg.RecordFetch("error")
	assert.Equal(t, 2.0, testutil.ToFloat64(reg.FetchTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.FetchTotal.WithLabelValues("error")))

	reg.RecordMintEvents(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(reg.MintEventsTotal))

	reg.OutboxPending.Set(7)
	assert.Equal(t, 7.0, testutil.ToFloat64(reg.OutboxPending))

	reg.ObserveJob("long_checkpoint", "success", 1.2)
	assert.Equal(t, 1, testutil.CollectAndCount(reg.JobDuration))
}

// TestRegistry_HandlerServesExposition tests the /metrics endpoint body
func TestRegistry_HandlerServesExposition(t *testing.T) {
	reg := NewRegistry()
	reg.OutboxPending.Set(4)
	reg.RollingRows.Set(12000)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	reg.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "coinwatch_outbox_pending 4")
	assert.Contains(t, body, "coinwatch_rolling_rows 12000")
}

// TestRegistry_Independent tests that two registries do not collide
func TestRegistry_Independent(t *testing.T) {
	a := NewRegistry()
	b := NewRegistry()

	a.RecordFetch("success")
	assert.Equal(t, 1.0, testutil.ToFloat64(a.FetchTotal.WithLabelValues("success")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.FetchTotal.WithLabelValues("success")))
}
