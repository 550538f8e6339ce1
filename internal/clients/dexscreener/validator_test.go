package dexscreener

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func validPair() *PairInfo {
	mcap := 1_500_000.0
	liq := 80_000.0
	return &PairInfo{
		ChainID:          "solana",
		BaseTokenAddress: "abc123",
		Symbol:           "WIF",
		Name:             "dogwifhat",
		Price:            1.23,
		MarketCap:        &mcap,
		Volume24h:        250_000,
		PriceChange24h:   4.2,
		Liquidity:        &liq,
	}
}

// TestValidator_Validate tests the rejection rules
func TestValidator_Validate(t *testing.T) {
	v := NewValidator(zerolog.Nop())

	t.Run("valid pair passes", func(t *testing.T) {
		result := v.Validate(validPair())
		assert.True(t, result.Valid)
		assert.False(t, result.Anomalous)
		assert.Empty(t, result.Reason)
	})

	t.Run("zero price rejected", func(t *testing.T) {
		p := validPair()
		p.Price = 0
		result := v.Validate(p)
		assert.False(t, result.Valid)
		assert.Contains(t, result.Reason, "price")
	})

	t.Run("negative price rejected", func(t *testing.T) {
		p := validPair()
		p.Price = -0.5
		result := v.Validate(p)
		assert.False(t, result.Valid)
	})

	t.Run("negative volume rejected", func(t *testing.T) {
		p := validPair()
		p.Volume24h = -1
		result := v.Validate(p)
		assert.False(t, result.Valid)
		assert.Contains(t, result.Reason, "volume")
	})

	t.Run("price change beyond 1000 percent rejected", func(t *testing.T) {
		p := validPair()
		p.PriceChange24h = 1500
		result := v.Validate(p)
		assert.False(t, result.Valid)
		assert.Contains(t, result.Reason, "price change")
	})

	t.Run("price change at exactly 1000 percent passes", func(t *testing.T) {
		p := validPair()
		p.PriceChange24h = 1000
		result := v.Validate(p)
		assert.True(t, result.Valid)
		// Still anomalous: way past the 95% suspicion line.
		assert.True(t, result.Anomalous)
	})

	t.Run("zero market cap rejected when present", func(t *testing.T) {
		p := validPair()
		zero := 0.0
		p.MarketCap = &zero
		result := v.Validate(p)
		assert.False(t, result.Valid)
		assert.Contains(t, result.Reason, "market cap")
	})

	t.Run("absent market cap passes", func(t *testing.T) {
		p := validPair()
		p.MarketCap = nil
		result := v.Validate(p)
		assert.True(t, result.Valid)
	})

	t.Run("zero liquidity rejected when present", func(t *testing.T) {
		p := validPair()
		zero := 0.0
		p.Liquidity = &zero
		result := v.Validate(p)
		assert.False(t, result.Valid)
		assert.Contains(t, result.Reason, "liquidity")
	})

	t.Run("empty symbol rejected", func(t *testing.T) {
		p := validPair()
		p.Symbol = "   "
		result := v.Validate(p)
		assert.False(t, result.Valid)
		assert.Contains(t, result.Reason, "symbol")
	})

	t.Run("symbol with spaces rejected", func(t *testing.T) {
		p := validPair()
		p.Symbol = "BAD SYMBOL"
		result := v.Validate(p)
		assert.False(t, result.Valid)
	})

	t.Run("symbol too long rejected", func(t *testing.T) {
		p := validPair()
		p.Symbol = "TWENTYONECHARACTSLONG"
		result := v.Validate(p)
		assert.False(t, result.Valid)
	})

	t.Run("lowercase symbol passes", func(t *testing.T) {
		p := validPair()
		p.Symbol = "wif"
		result := v.Validate(p)
		assert.True(t, result.Valid)
	})
}

// TestValidator_Anomalies tests the anomaly flags on otherwise valid data
func TestValidator_Anomalies(t *testing.T) {
	v := NewValidator(zerolog.Nop())

	t.Run("extreme move flagged", func(t *testing.T) {
		p := validPair()
		p.PriceChange24h = 120
		result := v.Validate(p)
		assert.True(t, result.Valid)
		assert.True(t, result.Anomalous)
		assert.Contains(t, result.AnomalyReason, "extreme_price_move")
	})

	t.Run("extreme negative move flagged", func(t *testing.T) {
		p := validPair()
		p.PriceChange24h = -96
		result := v.Validate(p)
		assert.True(t, result.Valid)
		assert.True(t, result.Anomalous)
	})

	t.Run("thin volume move flagged", func(t *testing.T) {
		p := validPair()
		p.Volume24h = 50
		p.PriceChange24h = 15
		result := v.Validate(p)
		assert.True(t, result.Valid)
		assert.True(t, result.Anomalous)
		assert.Contains(t, result.AnomalyReason, "thin_volume_move")
	})

	t.Run("thin volume without move is fine", func(t *testing.T) {
		p := validPair()
		p.Volume24h = 50
		p.PriceChange24h = 2
		result := v.Validate(p)
		assert.True(t, result.Valid)
		assert.False(t, result.Anomalous)
	})

	t.Run("95 percent move is not anomalous", func(t *testing.T) {
		p := validPair()
		p.PriceChange24h = 95
		result := v.Validate(p)
		assert.True(t, result.Valid)
		assert.False(t, result.Anomalous)
	})
}

// TestValidator_AddRule tests pluggable custom rules
func TestValidator_AddRule(t *testing.T) {
	v := NewValidator(zerolog.Nop())
	v.AddRule(func(p *PairInfo) (bool, string) {
		if p.Volume24h < 1000 {
			return false, "volume below house minimum"
		}
		return true, ""
	})

	p := validPair()
	p.Volume24h = 500
	result := v.Validate(p)
	assert.False(t, result.Valid)
	assert.Equal(t, "volume below house minimum", result.Reason)

	p.Volume24h = 5000
	assert.True(t, v.Validate(p).Valid)
}
