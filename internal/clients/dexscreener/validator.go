package dexscreener

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
)

// Validation thresholds for incoming pair data.
const (
	maxAbsPriceChange24h = 1000.0 // Percent; beyond this the row is garbage
	anomalyPriceChange   = 95.0   // Percent; beyond this the move is suspect
	anomalyMinVolume     = 100.0  // USD; thin books make big moves meaningless
	anomalyVolumeMove    = 10.0   // Percent move that needs real volume behind it
)

var symbolPattern = regexp.MustCompile(`^[A-Za-z0-9_\-]{1,20}$`)

// ValidationResult classifies one fetched pair. Invalid rows are unusable;
// anomalous rows are usable but must never overwrite cached good data.
type ValidationResult struct {
	Valid         bool
	Reason        string
	Anomalous     bool
	AnomalyReason string
}

// Rule rejects structurally broken data. Returns ok=false with a reason.
type Rule func(p *PairInfo) (ok bool, reason string)

// AnomalyRule flags suspect-but-parseable data.
type AnomalyRule func(p *PairInfo) (anomalous bool, reason string)

// Validator runs an ordered rule list over fetched pairs.
type Validator struct {
	rules        []Rule
	anomalyRules []AnomalyRule
	log          zerolog.Logger
}

// NewValidator creates a validator with the standard rule set installed.
func NewValidator(log zerolog.Logger) *Validator {
	v := &Validator{
		log: log.With().Str("component", "pair_validator").Logger(),
	}
	v.rules = []Rule{
		rulePositivePrice,
		ruleNonNegativeVolume,
		ruleSanePriceChange,
		rulePositiveMarketCap,
		rulePositiveLiquidity,
		ruleSymbolShape,
	}
	v.anomalyRules = []AnomalyRule{
		anomalyExtremeMove,
		anomalyThinVolumeMove,
	}
	return v
}

// AddRule appends a custom rejection rule. Rules run in insertion order.
func (v *Validator) AddRule(r Rule) {
	v.rules = append(v.rules, r)
}

// Validate classifies a pair. The first failing rule wins; anomaly rules
// only run on valid rows.
func (v *Validator) Validate(p *PairInfo) ValidationResult {
	for _, rule := range v.rules {
		if ok, reason := rule(p); !ok {
			v.log.Debug().
				Str("token", p.Key()).
				Str("reason", reason).
				Msg("Rejected pair data")
			return ValidationResult{Valid: false, Reason: reason}
		}
	}
	for _, rule := range v.anomalyRules {
		if anomalous, reason := rule(p); anomalous {
			v.log.Warn().
				Str("token", p.Key()).
				Str("reason", reason).
				Float64("price", p.Price).
				Msg("Anomalous pair data")
			return ValidationResult{Valid: true, Anomalous: true, AnomalyReason: reason}
		}
	}
	return ValidationResult{Valid: true}
}

func rulePositivePrice(p *PairInfo) (bool, string) {
	if p.Price <= 0 || math.IsNaN(p.Price) || math.IsInf(p.Price, 0) {
		return false, fmt.Sprintf("price not positive: %v", p.Price)
	}
	return true, ""
}

func ruleNonNegativeVolume(p *PairInfo) (bool, string) {
	if p.Volume24h < 0 || math.IsNaN(p.Volume24h) {
		return false, fmt.Sprintf("volume negative: %v", p.Volume24h)
	}
	return true, ""
}

func ruleSanePriceChange(p *PairInfo) (bool, string) {
	if math.Abs(p.PriceChange24h) > maxAbsPriceChange24h {
		return false, fmt.Sprintf("price change out of range: %.1f%%", p.PriceChange24h)
	}
	return true, ""
}

func rulePositiveMarketCap(p *PairInfo) (bool, string) {
	if p.MarketCap != nil && *p.MarketCap <= 0 {
		return false, fmt.Sprintf("market cap not positive: %v", *p.MarketCap)
	}
	return true, ""
}

func rulePositiveLiquidity(p *PairInfo) (bool, string) {
	if p.Liquidity != nil && *p.Liquidity <= 0 {
		return false, fmt.Sprintf("liquidity not positive: %v", *p.Liquidity)
	}
	return true, ""
}

func ruleSymbolShape(p *PairInfo) (bool, string) {
	symbol := strings.TrimSpace(p.Symbol)
	if symbol == "" {
		return false, "empty symbol"
	}
	if !symbolPattern.MatchString(symbol) {
		return false, fmt.Sprintf("malformed symbol: %q", p.Symbol)
	}
	return true, ""
}

func anomalyExtremeMove(p *PairInfo) (bool, string) {
	if math.Abs(p.PriceChange24h) > anomalyPriceChange {
		return true, fmt.Sprintf("extreme_price_move: %.1f%%", p.PriceChange24h)
	}
	return false, ""
}

func anomalyThinVolumeMove(p *PairInfo) (bool, string) {
	if p.Volume24h < anomalyMinVolume && math.Abs(p.PriceChange24h) > anomalyVolumeMove {
		return true, fmt.Sprintf("thin_volume_move: vol=%.0f change=%.1f%%", p.Volume24h, p.PriceChange24h)
	}
	return false, ""
}
