package alerts

import (
	"strings"
	"testing"

	"github.com/aristath/coinwatch/internal/domain"
	"github.com/aristath/coinwatch/internal/events"
	"github.com/stretchr/testify/assert"
)

func ptr(v float64) *float64 { return &v }

// TestFormatLongTrigger tests the long-trigger message shapes
func TestFormatLongTrigger(t *testing.T) {
	t.Run("retrace", func(t *testing.T) {
		text := FormatLongTrigger(&events.LongTriggerData{
			Symbol:          "WIF",
			TriggerType:     domain.AlertRetrace,
			Price:           84.9,
			Volume24h:       125_000,
			RetraceFromHigh: ptr(15.1),
		})
		assert.Contains(t, text, "WIF")
		assert.Contains(t, text, "-15.1%")
		assert.Contains(t, text, "$84.90")
		assert.Contains(t, text, "$125.0K")
	})

	t.Run("mcap level", func(t *testing.T) {
		text := FormatLongTrigger(&events.LongTriggerData{
			Symbol:      "BONK",
			TriggerType: domain.AlertMcap,
			Price:       0.000025,
			Volume24h:   2_000_000,
			TargetLevel: ptr(5_000_000),
			MarketCap:   ptr(6_200_000),
		})
		assert.Contains(t, text, "*Level:* $5.00M")
		assert.Contains(t, text, "*Market cap:* $6.20M")
		assert.Contains(t, text, "$0.00002500")
	})

	t.Run("symbol markup is escaped", func(t *testing.T) {
		text := FormatLongTrigger(&events.LongTriggerData{
			Symbol:      "WIF_AI",
			TriggerType: domain.AlertBreakout,
			Price:       1.0,
		})
		assert.Contains(t, text, `WIF\_AI`)
	})
}

// TestFormatHotAlert tests the hot alert message shapes
func TestFormatHotAlert(t *testing.T) {
	t.Run("pct up", func(t *testing.T) {
		text := FormatHotAlert(&events.HotAlertData{
			Symbol:          "PEPE",
			AlertType:       domain.AlertHotPct,
			Price:           3.1,
			TargetValue:     ptr(50),
			DeltaFromAnchor: ptr(55.0),
		})
		assert.True(t, strings.HasPrefix(text, "📈"))
		assert.Contains(t, text, "+50%")
		assert.Contains(t, text, "*From anchor:* +55.0%")
	})

	t.Run("pct down", func(t *testing.T) {
		text := FormatHotAlert(&events.HotAlertData{
			Symbol:          "PEPE",
			AlertType:       domain.AlertHotPct,
			Price:           1.35,
			TargetValue:     ptr(-30),
			DeltaFromAnchor: ptr(-32.5),
		})
		assert.True(t, strings.HasPrefix(text, "📉"))
		assert.Contains(t, text, "-30%")
		assert.Contains(t, text, "-32.5%")
	})

	t.Run("failsafe", func(t *testing.T) {
		text := FormatHotAlert(&events.HotAlertData{
			Symbol:          "PEPE",
			AlertType:       domain.AlertFailsafe,
			Price:           0.4,
			DeltaFromAnchor: ptr(-60.0),
		})
		assert.Contains(t, text, "40%")
		assert.Contains(t, text, "-60.0%")
	})

	t.Run("entry added", func(t *testing.T) {
		text := FormatHotAlert(&events.HotAlertData{
			Symbol:    "PEPE",
			AlertType: domain.AlertEntryAdded,
			Price:     2.5,
		})
		assert.Contains(t, text, "Now tracking")
		assert.Contains(t, text, "*Anchor price:* $2.50")
		assert.NotContains(t, text, "[Website]")
	})

	t.Run("entry added with links", func(t *testing.T) {
		text := FormatHotAlert(&events.HotAlertData{
			Symbol:    "PEPE",
			AlertType: domain.AlertEntryAdded,
			Price:     2.5,
			Website:   "https://pepe.example",
			Social:    "https://x.example/pepe",
		})
		assert.Contains(t, text, "[Website](https://pepe.example)")
		assert.Contains(t, text, "[Community](https://x.example/pepe)")
	})
}

// TestFormatSystemAlert tests the admin notice shape
func TestFormatSystemAlert(t *testing.T) {
	text := FormatSystemAlert(&events.SystemAlertData{
		Message: "Circuit breaker market_data is open",
		Source:  "breakers",
	})
	assert.Contains(t, text, "*System*")
	assert.Contains(t, text, `market\_data`)
	assert.Contains(t, text, "_breakers_")
}

// TestFormatHelpers tests magnitude-aware number rendering
func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "$12.34", formatPrice(12.3399))
	assert.Equal(t, "$0.0450", formatPrice(0.045))
	assert.Equal(t, "$0.00000123", formatPrice(0.00000123))

	assert.Equal(t, "$1.50B", formatUSD(1_500_000_000))
	assert.Equal(t, "$5.00M", formatUSD(5_000_000))
	assert.Equal(t, "$125.0K", formatUSD(125_000))
	assert.Equal(t, "$950", formatUSD(950))
}
