// Package dexscreener fetches and validates market data for watched tokens.
package dexscreener

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aristath/coinwatch/internal/events"
	"github.com/aristath/coinwatch/internal/reliability"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL      = "https://api.dexscreener.com"
	maxAddressesPerCall = 30 // Upstream cap per request
	requestsPerMinute   = 300

	// Anomalies per hour before a system alert goes out.
	anomalyAlertThreshold = 25
)

// Client talks to the DEXScreener token API. All callers share one token
// bucket (300 requests/minute) plus an operator-configured minimum delay
// between requests. Calls go through the market_data circuit breaker.
type Client struct {
	httpClient *http.Client
	baseURL    string

	limiter     *rate.Limiter
	minDelay    time.Duration
	mu          sync.Mutex // Guards lastRequest
	lastRequest time.Time

	breakers  *reliability.BreakerManager
	validator *Validator
	cache     *SnapshotCache
	bus       *events.Bus

	anomalyMu    sync.Mutex
	anomalyHour  int64
	anomalyCount int

	log zerolog.Logger
}

// NewClient creates a market-data client.
// breakers, cache and bus are optional; nil disables the corresponding behavior.
func NewClient(minDelay time.Duration, breakers *reliability.BreakerManager, cache *SnapshotCache, bus *events.Bus, log zerolog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    defaultBaseURL,
		limiter:    rate.NewLimiter(rate.Every(time.Minute/requestsPerMinute), requestsPerMinute),
		minDelay:   minDelay,
		breakers:   breakers,
		validator:  NewValidator(log),
		cache:      cache,
		bus:        bus,
		log:        log.With().Str("component", "dexscreener").Logger(),
	}
}

// Cache exposes the snapshot cache for report and health consumers.
func (c *Client) Cache() *SnapshotCache {
	return c.cache
}

// BatchGetTokens fetches the best pair for each requested token, keyed by
// TokenRequest.Key(). Tokens whose fetch failed or whose data was rejected
// are absent from the map; callers must treat absence as "no data this tick".
// Anomalous pairs are returned flagged in Meta and are never cached.
func (c *Client) BatchGetTokens(ctx context.Context, requests []TokenRequest) (map[string]*PairInfo, error) {
	result := make(map[string]*PairInfo)
	if len(requests) == 0 {
		return result, nil
	}

	byChain := groupByChain(requests)

	var lastErr error
	for chain, addresses := range byChain {
		for _, chunk := range chunkAddresses(addresses, maxAddressesPerCall) {
			pairs, err := c.fetchChunk(ctx, chain, chunk)
			if err != nil {
				c.log.Warn().
					Str("chain", chain).
					Int("addresses", len(chunk)).
					Err(err).
					Msg("Batch fetch failed; tokens get no snapshot this tick")
				lastErr = err
				continue
			}
			c.selectAndValidate(chain, chunk, pairs, result)
		}
	}

	if len(result) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return result, nil
}

// GetToken fetches a single token. Returns nil, nil when the upstream has no
// usable pair for it.
func (c *Client) GetToken(ctx context.Context, chain, tokenAddress string) (*PairInfo, error) {
	req := TokenRequest{Chain: chain, TokenAddress: tokenAddress}
	batch, err := c.BatchGetTokens(ctx, []TokenRequest{req})
	if err != nil {
		return nil, err
	}
	return batch[req.Key()], nil
}

// Ping checks upstream reachability without consuming the token bucket.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("failed to create ping request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upstream unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("upstream unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// BreakerState reports the market_data breaker state for health output.
func (c *Client) BreakerState() string {
	if c.breakers == nil {
		return "disabled"
	}
	return c.breakers.State(reliability.BreakerMarketData)
}

func (c *Client) fetchChunk(ctx context.Context, chain string, addresses []string) ([]apiPair, error) {
	if err := c.throttle(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/tokens/v1/%s/%s", c.baseURL, chain, strings.Join(addresses, ","))

	do := func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("rate limited (429)")
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		}

		var pairs []apiPair
		if err := json.NewDecoder(resp.Body).Decode(&pairs); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		return pairs, nil
	}

	var raw interface{}
	var err error
	if c.breakers != nil {
		raw, err = c.breakers.Execute(reliability.BreakerMarketData, do)
	} else {
		raw, err = do()
	}
	if err != nil {
		return nil, err
	}
	return raw.([]apiPair), nil
}

// throttle enforces the shared token bucket plus the minimum inter-request
// delay. Holding the mutex across the delay serializes concurrent callers,
// which is exactly the global spacing the upstream expects.
func (c *Client) throttle(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if wait := c.minDelay - time.Since(c.lastRequest); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	c.lastRequest = time.Now()
	return nil
}

// selectAndValidate picks the best pair per requested address, validates it,
// and files the outcome into result. Pairs arrive in arbitrary order and may
// cover tokens we did not ask about.
func (c *Client) selectAndValidate(chain string, addresses []string, pairs []apiPair, result map[string]*PairInfo) {
	byAddress := make(map[string][]apiPair)
	for _, pair := range pairs {
		addr := strings.ToLower(pair.BaseToken.Address)
		byAddress[addr] = append(byAddress[addr], pair)
	}

	for _, addr := range addresses {
		candidates := byAddress[addr]
		if len(candidates) == 0 {
			c.log.Debug().Str("chain", chain).Str("address", addr).Msg("No pair in response")
			continue
		}

		best := bestPair(candidates)
		info, err := c.toPairInfo(chain, best)
		if err != nil {
			c.log.Debug().Str("chain", chain).Str("address", addr).Err(err).Msg("Unparseable pair")
			c.countAnomaly("malformed")
			continue
		}

		verdict := c.validator.Validate(info)
		if !verdict.Valid {
			c.countAnomaly("invalid")
			continue
		}
		if verdict.Anomalous {
			info.Meta.Anomalous = true
			info.Meta.AnomalyReason = verdict.AnomalyReason
			c.countAnomaly("anomalous")
			result[info.Key()] = info
			continue
		}

		if c.cache != nil {
			if err := c.cache.Store(info); err != nil {
				c.log.Warn().Str("token", info.Key()).Err(err).Msg("Failed to cache snapshot")
			}
		}
		result[info.Key()] = info
	}
}

func (c *Client) toPairInfo(chain string, pair *apiPair) (*PairInfo, error) {
	priceStr := strings.TrimSpace(pair.PriceUSD)
	if priceStr == "" {
		return nil, fmt.Errorf("missing priceUsd")
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return nil, fmt.Errorf("bad priceUsd %q: %w", pair.PriceUSD, err)
	}

	return &PairInfo{
		ChainID:          chain,
		BaseTokenAddress: strings.ToLower(pair.BaseToken.Address),
		Symbol:           pair.BaseToken.Symbol,
		Name:             pair.BaseToken.Name,
		Price:            price,
		MarketCap:        pair.MarketCap,
		FDV:              pair.FDV,
		Volume24h:        pair.volume24(),
		PriceChange24h:   pair.priceChange24(),
		Liquidity:        pair.liquidityUSD(),
		Links:            pair.links(),
		Meta: FetchMeta{
			FetchedAt: time.Now().UTC().Unix(),
			Source:    "live",
		},
	}, nil
}

// countAnomaly records a rejected or suspect pair and raises a system alert
// once the hourly count crosses the threshold.
func (c *Client) countAnomaly(source string) {
	if c.cache != nil {
		c.cache.CountAnomaly(source)
	}

	c.anomalyMu.Lock()
	defer c.anomalyMu.Unlock()

	hour := time.Now().UTC().Truncate(time.Hour).Unix()
	if hour != c.anomalyHour {
		c.anomalyHour = hour
		c.anomalyCount = 0
	}
	c.anomalyCount++

	if c.anomalyCount == anomalyAlertThreshold && c.bus != nil {
		c.bus.Emit(events.SystemAlert, "dexscreener", &events.SystemAlertData{
			Message:     fmt.Sprintf("Market data anomaly threshold crossed: %d rejected/suspect pairs this hour", c.anomalyCount),
			Source:      "dexscreener",
			Fingerprint: fmt.Sprintf("system:anomaly_threshold:%d", hour),
		})
	}
}

// bestPair prefers the deepest pool; volume breaks ties. Pairs without
// liquidity data rank below any pair that reports it.
func bestPair(pairs []apiPair) *apiPair {
	best := &pairs[0]
	for i := 1; i < len(pairs); i++ {
		if betterPair(&pairs[i], best) {
			best = &pairs[i]
		}
	}
	return best
}

func betterPair(a, b *apiPair) bool {
	liqA, liqB := -1.0, -1.0
	if l := a.liquidityUSD(); l != nil {
		liqA = *l
	}
	if l := b.liquidityUSD(); l != nil {
		liqB = *l
	}
	if liqA != liqB {
		return liqA > liqB
	}
	return a.volume24() > b.volume24()
}

func groupByChain(requests []TokenRequest) map[string][]string {
	seen := make(map[string]bool)
	byChain := make(map[string][]string)
	for _, req := range requests {
		key := req.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		chain := strings.ToLower(req.Chain)
		byChain[chain] = append(byChain[chain], strings.ToLower(req.TokenAddress))
	}
	return byChain
}

func chunkAddresses(addresses []string, size int) [][]string {
	var chunks [][]string
	for start := 0; start < len(addresses); start += size {
		end := start + size
		if end > len(addresses) {
			end = len(addresses)
		}
		chunks = append(chunks, addresses[start:end])
	}
	return chunks
}
