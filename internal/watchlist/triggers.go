package watchlist

import "sort"

// cooldownElapsed reports whether a trigger may fire again. A trigger that
// never fired is always eligible.
func cooldownElapsed(lastFire *int64, cooldownSec, now int64) bool {
	if lastFire == nil {
		return true
	}
	return now-*lastFire >= cooldownSec
}

// retraceTriggered checks a drop from the 72h high. Returns the fire
// decision and the drop percent. A price equal to the high is a 0% drop and
// never fires while retracePct is positive.
func retraceTriggered(price, h72High, retracePct float64) (bool, float64) {
	if h72High <= 0 {
		return false, 0
	}
	fromHigh := (h72High - price) / h72High * 100
	return price <= h72High*(1-retracePct/100), fromHigh
}

// stallTriggered checks volume contraction combined with price compression.
// Both legs must hold: 24h volume down by stallVolPct against the rolling
// sum, and the whole 12h price range inside ±stallBandPct of the current
// price.
func stallTriggered(price, volume24h, v24Sum, h12High, h12Low, stallVolPct, stallBandPct float64) bool {
	volumeContracted := volume24h <= v24Sum*(1-stallVolPct/100)
	compressed := h12High <= price*(1+stallBandPct/100) && h12Low >= price*(1-stallBandPct/100)
	return volumeContracted && compressed
}

// breakoutTriggered checks a price push above the 12h high with volume
// expansion. Both legs must hold.
func breakoutTriggered(price, volume24h, h12High, v12Sum, breakoutPct, breakoutVolX float64) bool {
	if h12High <= 0 {
		return false
	}
	priceLeg := price >= h12High*(1+breakoutPct/100)
	volumeLeg := volume24h >= v12Sum*breakoutVolX
	return priceLeg && volumeLeg
}

// firstMcapTouch returns the lowest level newly crossed by the current
// market cap. A level counts as newly crossed when the previous market cap
// was below it (or unknown). At most one level fires per call.
func firstMcapTouch(marketCap float64, prevMcap *float64, levels []float64) (float64, bool) {
	if len(levels) == 0 {
		return 0, false
	}

	sorted := make([]float64, len(levels))
	copy(sorted, levels)
	sort.Float64s(sorted)

	for _, level := range sorted {
		if level <= 0 {
			continue
		}
		if marketCap >= level && (prevMcap == nil || *prevMcap < level) {
			return level, true
		}
	}
	return 0, false
}
