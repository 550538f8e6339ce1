package formulas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rising(n int) []float64 {
	prices := make([]float64, n)
	for i := range prices {
		prices[i] = 10 + float64(i)
	}
	return prices
}

func falling(n int) []float64 {
	prices := make([]float64, n)
	for i := range prices {
		prices[i] = 100 - float64(i)
	}
	return prices
}

// TestCalculateRSI tests the RSI wrapper boundaries
func TestCalculateRSI(t *testing.T) {
	t.Run("all gains saturate at 100", func(t *testing.T) {
		rsi := CalculateRSI(rising(30), 14)
		require.NotNil(t, rsi)
		assert.InDelta(t, 100.0, *rsi, 1e-6)
	})

	t.Run("all losses saturate at 0", func(t *testing.T) {
		rsi := CalculateRSI(falling(30), 14)
		require.NotNil(t, rsi)
		assert.InDelta(t, 0.0, *rsi, 1e-6)
	})

	t.Run("mixed series stays inside the band", func(t *testing.T) {
		prices := []float64{10, 11, 10.5, 12, 11.2, 13, 12.4, 14, 13.1, 15, 14.2, 16, 15.3, 17, 16.1, 18}
		rsi := CalculateRSI(prices, 14)
		require.NotNil(t, rsi)
		assert.Greater(t, *rsi, 0.0)
		assert.Less(t, *rsi, 100.0)
	})

	t.Run("insufficient data", func(t *testing.T) {
		assert.Nil(t, CalculateRSI(rising(14), 14))
		assert.Nil(t, CalculateRSI(nil, 14))
		assert.Nil(t, CalculateRSI(rising(30), 0))
	})
}

// TestCalculateEMA tests the EMA wrapper boundaries
func TestCalculateEMA(t *testing.T) {
	t.Run("constant series is its own average", func(t *testing.T) {
		prices := make([]float64, 20)
		for i := range prices {
			prices[i] = 5.0
		}
		ema := CalculateEMA(prices, 12)
		require.NotNil(t, ema)
		assert.InDelta(t, 5.0, *ema, 1e-9)
	})

	t.Run("seeded with the simple average", func(t *testing.T) {
		// Seed over 1..12 is 6.5; one recursive step with k=2/13 lands on 7.5.
		prices := make([]float64, 13)
		for i := range prices {
			prices[i] = float64(i + 1)
		}
		ema := CalculateEMA(prices, 12)
		require.NotNil(t, ema)
		assert.InDelta(t, 7.5, *ema, 1e-9)
	})

	t.Run("insufficient data", func(t *testing.T) {
		assert.Nil(t, CalculateEMA(rising(11), 12))
		assert.Nil(t, CalculateEMA(nil, 12))
		assert.Nil(t, CalculateEMA(rising(30), 0))
	})
}
