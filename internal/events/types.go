// Package events provides the in-process alert bus and its typed payloads.
package events

import (
	"time"
)

// EventType identifies the family of a bus event
type EventType string

const (
	// LongTrigger - a long-list trigger fired (retrace, stall, breakout, mcap)
	LongTrigger EventType = "long_trigger"
	// HotAlert - a hot-entry alert fired (pct, mcap, failsafe, entry added)
	HotAlert EventType = "hot_alert"
	// SystemAlert - operational notices (anomaly thresholds, breaker trips, send failures)
	SystemAlert EventType = "system_alert"
	// CoinAdded - a coin entered the long list; drives the backfill work trigger
	CoinAdded EventType = "coin_added"
)

// Priority classifies how urgently an alert should be treated downstream
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Event is a single message on the bus
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Data      EventData `json:"data"`
	Priority  Priority  `json:"priority"`
}
