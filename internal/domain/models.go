// Package domain provides core domain models and types.
package domain

// All timestamps in this package are absolute UTC unix seconds.

// AlertKind identifies the family of a fired alert.
type AlertKind string

const (
	AlertRetrace    AlertKind = "retrace"
	AlertStall      AlertKind = "stall"
	AlertBreakout   AlertKind = "breakout"
	AlertMcap       AlertKind = "mcap"
	AlertHotPct     AlertKind = "hot_pct"
	AlertHotMcap    AlertKind = "hot_mcap"
	AlertFailsafe   AlertKind = "failsafe"
	AlertEntryAdded AlertKind = "entry_added"
	AlertSystem     AlertKind = "system"
)

// HotTriggerKind distinguishes the two one-shot hot trigger families.
type HotTriggerKind string

const (
	HotTriggerPct  HotTriggerKind = "pct"
	HotTriggerMcap HotTriggerKind = "mcap"
)

// Coin is the identity of a tracked pair.
// (chain, tokenAddress) is unique; symbol is not and resolves via aliases.
type Coin struct {
	ID           int64  `json:"id"`
	Chain        string `json:"chain"`
	TokenAddress string `json:"token_address"`
	Symbol       string `json:"symbol"`
	Name         string `json:"name,omitempty"`
	Decimals     *int64 `json:"decimals,omitempty"`
	IsActive     bool   `json:"is_active"`
	CreatedAt    int64  `json:"created_at"`
}

// LongWatch is the per-coin subscription to long-term monitoring.
// Exactly zero or one per coin.
type LongWatch struct {
	CoinID       int64     `json:"coin_id"`
	RetraceOn    bool      `json:"retrace_on"`
	StallOn      bool      `json:"stall_on"`
	BreakoutOn   bool      `json:"breakout_on"`
	McapOn       bool      `json:"mcap_on"`
	RetracePct   float64   `json:"retrace_pct"`
	StallVolPct  float64   `json:"stall_vol_pct"`
	StallBandPct float64   `json:"stall_band_pct"`
	BreakoutPct  float64   `json:"breakout_pct"`
	BreakoutVolX float64   `json:"breakout_vol_x"`
	McapLevels   []float64 `json:"mcap_levels"`
	AddedAt      int64     `json:"added_at"`
}

// Default long-watch thresholds applied when a coin is added.
const (
	DefaultRetracePct   = 15.0
	DefaultStallVolPct  = 30.0
	DefaultStallBandPct = 5.0
	DefaultBreakoutPct  = 12.0
	DefaultBreakoutVolX = 1.5
)

// LongState is the rolling-window cache per coin. Every field is either nil
// (warm-up incomplete or window empty) or finite and non-negative.
// The sample table stays the source of truth; this row is rebuildable.
type LongState struct {
	CoinID           int64    `json:"coin_id"`
	H12High          *float64 `json:"h12_high"`
	H12Low           *float64 `json:"h12_low"`
	H24High          *float64 `json:"h24_high"`
	H24Low           *float64 `json:"h24_low"`
	H72High          *float64 `json:"h72_high"`
	H72Low           *float64 `json:"h72_low"`
	V12Sum           *float64 `json:"v12_sum"`
	V24Sum           *float64 `json:"v24_sum"`
	LastPrice        *float64 `json:"last_price"`
	LastMcap         *float64 `json:"last_mcap"`
	LastUpdated      *int64   `json:"last_updated"`
	LastRetraceFire  *int64   `json:"last_retrace_fire"`
	LastStallFire    *int64   `json:"last_stall_fire"`
	LastBreakoutFire *int64   `json:"last_breakout_fire"`
	LastMcapFire     *int64   `json:"last_mcap_fire"`
}

// RollingDataPoint is an append-only per-coin sample.
type RollingDataPoint struct {
	CoinID    int64    `json:"coin_id"`
	Timestamp int64    `json:"timestamp"`
	Price     float64  `json:"price"`
	Volume    float64  `json:"volume"`
	MarketCap *float64 `json:"market_cap,omitempty"`
}

// WindowAggregates holds the rolling highs/lows and volume sums for one coin.
// A nil field means no samples fall inside that window.
type WindowAggregates struct {
	H12High *float64 `json:"h12_high"`
	H12Low  *float64 `json:"h12_low"`
	H24High *float64 `json:"h24_high"`
	H24Low  *float64 `json:"h24_low"`
	H72High *float64 `json:"h72_high"`
	H72Low  *float64 `json:"h72_low"`
	V12Sum  *float64 `json:"v12_sum"`
	V24Sum  *float64 `json:"v24_sum"`
}

// HotEntry is a per-entry quick-alert configuration with absolute anchors.
// It may reference a Coin but is not required to.
type HotEntry struct {
	ID              int64     `json:"id"`
	CoinID          *int64    `json:"coin_id,omitempty"`
	Chain           string    `json:"chain"`
	ContractAddress string    `json:"contract_address"`
	Symbol          string    `json:"symbol"`
	DisplayName     string    `json:"display_name,omitempty"`
	AnchorPrice     float64   `json:"anchor_price"`
	AnchorMcap      *float64  `json:"anchor_mcap,omitempty"`
	PctTargets      []float64 `json:"pct_targets"`
	McapTargets     []float64 `json:"mcap_targets"`
	FailsafeFired   bool      `json:"failsafe_fired"`
	AddedAt         int64     `json:"added_at"`
}

// HotTrigger is one still-unfired one-shot trigger of a HotEntry.
// fired flips false to true exactly once; a fired row is never re-consulted.
type HotTrigger struct {
	HotID   int64          `json:"hot_id"`
	Kind    HotTriggerKind `json:"kind"`
	Value   float64        `json:"value"`
	Fired   bool           `json:"fired"`
	FiredAt *int64         `json:"fired_at,omitempty"`
}

// AlertRecord is an immutable audit record of an emitted alert.
// Fingerprint is the idempotency key shared with the outbox.
type AlertRecord struct {
	ID          string    `json:"id"`
	CoinID      *int64    `json:"coin_id,omitempty"`
	HotID       *int64    `json:"hot_id,omitempty"`
	Timestamp   int64     `json:"ts"`
	Kind        AlertKind `json:"kind"`
	PayloadJSON string    `json:"payload"`
	Fingerprint string    `json:"fingerprint"`
}

// OutboxMessage is a pending outbound chat message.
// Once SentOk is true the text is never resent, even after restart.
type OutboxMessage struct {
	ID                int64  `json:"id"`
	Timestamp         int64  `json:"ts"`
	ChatID            string `json:"chat_id"`
	Text              string `json:"text"`
	Fingerprint       string `json:"fingerprint"`
	SentOk            bool   `json:"sent_ok"`
	SentTimestamp     *int64 `json:"sent_ts,omitempty"`
	FailedPermanently bool   `json:"failed_permanently"`
	Attempts          int    `json:"attempts"`
}

// ScheduleConfig is the singleton tuning record for the scheduler and the
// evaluators. Global flags are kill-switches ANDed with per-coin flags.
type ScheduleConfig struct {
	AnchorTimesLocal    []string `json:"anchor_times_local"` // HH:MM in the configured timezone
	AnchorPeriodHours   int      `json:"anchor_period_hours"`
	LongCheckpointHours int      `json:"long_checkpoint_hours"`
	HotIntervalMinutes  int      `json:"hot_interval_minutes"`
	CooldownHours       int      `json:"cooldown_hours"`
	RetraceOn           bool     `json:"retrace_on"`
	StallOn             bool     `json:"stall_on"`
	BreakoutOn          bool     `json:"breakout_on"`
	McapOn              bool     `json:"mcap_on"`
}

// MintEvent is one on-chain token mint observation from the webhook stream.
type MintEvent struct {
	Signature string `json:"signature"`
	Mint      string `json:"mint"`
	Timestamp int64  `json:"ts"`
	Decimals  *int64 `json:"decimals,omitempty"`
	IsFirst   bool   `json:"is_first"`
}
