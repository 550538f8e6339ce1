package hotlist

// failsafeFraction is the share of the anchor below which the failsafe fires.
const failsafeFraction = 0.40

// pctTargetHit reports whether price crossed a signed percent target from the
// anchor. Positive targets arm above the anchor, negative targets below; a
// zero target never fires.
func pctTargetHit(price, anchorPrice, target float64) bool {
	threshold := anchorPrice * (1 + target/100)
	switch {
	case target > 0:
		return price >= threshold
	case target < 0:
		return price <= threshold
	default:
		return false
	}
}

// mcapTargetHit reports whether the market cap reached an absolute level.
// Undefined market cap never fires.
func mcapTargetHit(marketCap *float64, level float64) bool {
	return marketCap != nil && level > 0 && *marketCap >= level
}

// failsafeHit reports whether the position collapsed to 40% or less of its
// anchor, on either the price or the market cap leg. The mcap leg only counts
// when both the anchor and the current cap are defined.
func failsafeHit(price float64, marketCap *float64, anchorPrice float64, anchorMcap *float64) bool {
	if price <= anchorPrice*failsafeFraction {
		return true
	}
	if anchorMcap != nil && marketCap != nil && *marketCap <= *anchorMcap*failsafeFraction {
		return true
	}
	return false
}

// deltaFromAnchor returns the percent move of price from the anchor.
func deltaFromAnchor(price, anchorPrice float64) float64 {
	return (price - anchorPrice) / anchorPrice * 100
}
