package events

import (
	"encoding/json"
	"math"

	"github.com/aristath/coinwatch/internal/domain"
)

// EventData is the interface that all event data types must implement
// This allows for type-safe event data while maintaining flexibility
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// LongTriggerData contains data for LongTrigger events
type LongTriggerData struct {
	CoinID      int64            `json:"coin_id"`
	Symbol      string           `json:"symbol"`
	TriggerType domain.AlertKind `json:"trigger_type"`
	Price       float64          `json:"price"`
	Volume24h   float64          `json:"volume_24h"`

	// RetraceFromHigh is set for retrace triggers (percent below the 72h high)
	RetraceFromHigh *float64 `json:"retrace_from_high,omitempty"`
	// TargetLevel is set for mcap triggers (the ladder level crossed)
	TargetLevel *float64 `json:"target_level,omitempty"`
	// MarketCap is the observed market cap when defined
	MarketCap *float64 `json:"market_cap,omitempty"`

	Tick        int64  `json:"tick"`
	Fingerprint string `json:"fingerprint"`
}

// EventType returns the event type for LongTriggerData
func (d *LongTriggerData) EventType() EventType {
	return LongTrigger
}

// HotAlertData contains data for HotAlert events
type HotAlertData struct {
	HotID     int64            `json:"hot_id"`
	Symbol    string           `json:"symbol"`
	AlertType domain.AlertKind `json:"alert_type"`
	Price     float64          `json:"price"`

	// DeltaFromAnchor is the percent move from the anchor price
	DeltaFromAnchor *float64 `json:"delta_from_anchor,omitempty"`
	// TargetValue is the signed pct target that fired (pct alerts)
	TargetValue *float64 `json:"target_value,omitempty"`
	// McapLevel is the market-cap level that fired (mcap alerts)
	McapLevel *float64 `json:"mcap_level,omitempty"`

	// Website and Social carry token links from the upstream info block;
	// set on entry_added alerts only
	Website string `json:"website,omitempty"`
	Social  string `json:"social,omitempty"`

	Tick        int64  `json:"tick"`
	Fingerprint string `json:"fingerprint"`
}

// EventType returns the event type for HotAlertData
func (d *HotAlertData) EventType() EventType {
	return HotAlert
}

// SystemAlertData contains data for SystemAlert events
type SystemAlertData struct {
	Message     string `json:"message"`
	Source      string `json:"source"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// EventType returns the event type for SystemAlertData
func (d *SystemAlertData) EventType() EventType {
	return SystemAlert
}

// CoinAddedData contains data for CoinAdded events
type CoinAddedData struct {
	CoinID int64  `json:"coin_id"`
	Symbol string `json:"symbol"`
}

// EventType returns the event type for CoinAddedData
func (d *CoinAddedData) EventType() EventType {
	return CoinAdded
}

// PriorityFor maps an event payload to its delivery priority:
// retrace is high past a 30% drop, breakout always high, stall low,
// failsafe critical, hot pct high past a 50% move, everything else normal.
func PriorityFor(data EventData) Priority {
	switch d := data.(type) {
	case *LongTriggerData:
		switch d.TriggerType {
		case domain.AlertRetrace:
			if d.RetraceFromHigh != nil && *d.RetraceFromHigh > 30 {
				return PriorityHigh
			}
			return PriorityNormal
		case domain.AlertBreakout:
			return PriorityHigh
		case domain.AlertStall:
			return PriorityLow
		default:
			return PriorityNormal
		}
	case *HotAlertData:
		switch d.AlertType {
		case domain.AlertFailsafe:
			return PriorityCritical
		case domain.AlertHotPct:
			if d.DeltaFromAnchor != nil && math.Abs(*d.DeltaFromAnchor) > 50 {
				return PriorityHigh
			}
			return PriorityNormal
		default:
			return PriorityNormal
		}
	default:
		return PriorityNormal
	}
}

// MarshalJSON customizes JSON serialization for Event so the typed payload
// is inlined under "data"
func (e *Event) MarshalJSON() ([]byte, error) {
	type Alias Event
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*Alias
	}{
		Alias: (*Alias)(e),
	}

	if e.Data != nil {
		dataBytes, err := json.Marshal(e.Data)
		if err != nil {
			return nil, err
		}
		aux.Data = dataBytes
	}

	return json.Marshal(aux)
}
