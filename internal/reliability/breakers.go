// Package reliability provides circuit breakers and the backup service.
package reliability

import (
	"fmt"
	"sync"
	"time"

	"github.com/aristath/coinwatch/internal/events"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// Breaker names for the upstreams this process talks to.
const (
	BreakerMarketData  = "market_data"
	BreakerChatSend    = "chat_send"
	BreakerPersistence = "persistence"
)

// BreakerConfig tunes one circuit breaker policy object.
type BreakerConfig struct {
	Name                string
	MaxRequests         uint32        // Probes allowed while half-open
	Interval            time.Duration // Counts reset window while closed
	Timeout             time.Duration // Open duration before half-open
	ConsecutiveFailures uint32        // Trip threshold
	ErrorRateThreshold  float64       // Percent; applied once >= 10 requests seen
}

// DefaultBreakerConfig returns the standing policy for a named upstream.
func DefaultBreakerConfig(name string) BreakerConfig {
	cfg := BreakerConfig{
		Name:                name,
		MaxRequests:         3,
		Interval:            60 * time.Second,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
		ErrorRateThreshold:  50,
	}
	// Chat send tolerates more failures before tripping: 429s are expected
	// under burst load and are retried by the outbox anyway.
	if name == BreakerChatSend {
		cfg.ConsecutiveFailures = 10
		cfg.Timeout = 60 * time.Second
	}
	return cfg
}

// BreakerStatus is the observable snapshot of one breaker.
type BreakerStatus struct {
	Name      string           `json:"name"`
	State     string           `json:"state"`
	Counts    gobreaker.Counts `json:"counts"`
	ErrorRate float64          `json:"error_rate"`
}

// BreakerManager owns the circuit breaker policy objects for all upstreams.
// A breaker tripping open raises a critical system alert on the bus.
type BreakerManager struct {
	mu       sync.RWMutex
	breakers map[string]*gobreaker.CircuitBreaker
	configs  map[string]BreakerConfig

	bus *events.Bus
	log zerolog.Logger
}

// NewBreakerManager creates a breaker manager.
// bus is optional; when nil, state changes are only logged.
func NewBreakerManager(bus *events.Bus, log zerolog.Logger) *BreakerManager {
	return &BreakerManager{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		configs:  make(map[string]BreakerConfig),
		bus:      bus,
		log:      log.With().Str("component", "breakers").Logger(),
	}
}

// Register creates the breaker for one upstream. Call once per name at startup.
func (m *BreakerManager) Register(cfg BreakerConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.configs[cfg.Name] = cfg

	settings := gobreaker.Settings{
		Name:          cfg.Name,
		MaxRequests:   cfg.MaxRequests,
		Interval:      cfg.Interval,
		Timeout:       cfg.Timeout,
		ReadyToTrip:   m.tripCondition(cfg),
		OnStateChange: m.stateChangeHandler(),
	}

	m.breakers[cfg.Name] = gobreaker.NewCircuitBreaker(settings)
}

// Execute runs fn through the named breaker.
// gobreaker.ErrOpenState comes back immediately while the circuit is open.
func (m *BreakerManager) Execute(name string, fn func() (interface{}, error)) (interface{}, error) {
	m.mu.RLock()
	breaker, exists := m.breakers[name]
	m.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("circuit breaker not registered: %s", name)
	}

	return breaker.Execute(fn)
}

// State returns the current state string for a breaker, or "unknown".
func (m *BreakerManager) State(name string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	breaker, exists := m.breakers[name]
	if !exists {
		return "unknown"
	}
	return breaker.State().String()
}

// Status returns observable snapshots for every registered breaker.
func (m *BreakerManager) Status() []BreakerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make([]BreakerStatus, 0, len(m.breakers))
	for name, breaker := range m.breakers {
		counts := breaker.Counts()
		var errorRate float64
		if counts.Requests > 0 {
			errorRate = float64(counts.TotalFailures) / float64(counts.Requests) * 100
		}
		statuses = append(statuses, BreakerStatus{
			Name:      name,
			State:     breaker.State().String(),
			Counts:    counts,
			ErrorRate: errorRate,
		})
	}
	return statuses
}

func (m *BreakerManager) tripCondition(cfg BreakerConfig) func(counts gobreaker.Counts) bool {
	return func(counts gobreaker.Counts) bool {
		if counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
			return true
		}
		if counts.Requests >= 10 {
			errorRate := float64(counts.TotalFailures) / float64(counts.Requests) * 100
			if errorRate >= cfg.ErrorRateThreshold {
				return true
			}
		}
		return false
	}
}

func (m *BreakerManager) stateChangeHandler() func(name string, from, to gobreaker.State) {
	return func(name string, from, to gobreaker.State) {
		m.log.Warn().
			Str("breaker", name).
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("Circuit breaker state changed")

		if to == gobreaker.StateOpen && m.bus != nil {
			// Hour-bucketed fingerprint so a flapping breaker alerts at most
			// once per hour downstream.
			m.bus.Emit(events.SystemAlert, "breakers", &events.SystemAlertData{
				Message:     fmt.Sprintf("Circuit breaker %s is open; %s calls are suspended", name, name),
				Source:      "breakers",
				Fingerprint: fmt.Sprintf("system:breaker_open:%s:%d", name, time.Now().UTC().Unix()/3600),
			})
		}
	}
}
