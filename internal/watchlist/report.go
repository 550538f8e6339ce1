package watchlist

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/coinwatch/internal/clients/dexscreener"
	"github.com/aristath/coinwatch/internal/events"
	"github.com/aristath/coinwatch/internal/rolling"
	"github.com/aristath/coinwatch/pkg/formulas"
)

const (
	rsiPeriod = 14
	emaPeriod = 12
)

// Reporter builds the anchor report: a scheduled snapshot of the long list
// with period change and momentum annotations, published to the admin chat
// as a system alert.
type Reporter struct {
	watches  *WatchRepository
	schedule *ScheduleRepository
	store    *rolling.Store
	market   MarketData
	bus      *events.Bus
	loc      *time.Location
	log      zerolog.Logger
}

// NewReporter creates the anchor report builder. loc is the zone anchor
// times are expressed in.
func NewReporter(
	watches *WatchRepository,
	schedule *ScheduleRepository,
	store *rolling.Store,
	market MarketData,
	bus *events.Bus,
	loc *time.Location,
	log zerolog.Logger,
) *Reporter {
	if loc == nil {
		loc = time.UTC
	}
	return &Reporter{
		watches:  watches,
		schedule: schedule,
		store:    store,
		market:   market,
		bus:      bus,
		loc:      loc,
		log:      log.With().Str("component", "anchor_report").Logger(),
	}
}

// Run builds and publishes one report for the current time.
func (r *Reporter) Run(ctx context.Context) error {
	return r.RunAt(ctx, time.Now().UTC())
}

// RunAt builds and publishes one report for a fixed time. Split out for tests.
func (r *Reporter) RunAt(ctx context.Context, now time.Time) error {
	cfg, err := r.schedule.Get()
	if err != nil {
		return fmt.Errorf("failed to load schedule config: %w", err)
	}

	watched, err := r.watches.ListActive()
	if err != nil {
		return fmt.Errorf("failed to list watched coins: %w", err)
	}

	slot := now.In(r.loc).Format("15:04")
	fingerprint := fmt.Sprintf("system:anchor:%s", now.In(r.loc).Format("2006-01-02T15:04"))

	if len(watched) == 0 {
		r.publish(fmt.Sprintf("Anchor %s\nNo coins on the long list.", slot), fingerprint)
		return nil
	}

	requests := make([]dexscreener.TokenRequest, 0, len(watched))
	for _, wc := range watched {
		requests = append(requests, dexscreener.TokenRequest{
			Chain:        wc.Coin.Chain,
			TokenAddress: wc.Coin.TokenAddress,
		})
	}

	pairs, err := r.market.BatchGetTokens(ctx, requests)
	if err != nil {
		return fmt.Errorf("failed to fetch snapshots for anchor report: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Anchor %s\n", slot))
	for i, wc := range watched {
		sb.WriteString(r.coinLine(wc, pairs[requests[i].Key()], cfg.AnchorPeriodHours, now))
		sb.WriteString("\n")
	}

	r.publish(strings.TrimRight(sb.String(), "\n"), fingerprint)
	r.log.Info().Int("coins", len(watched)).Str("slot", slot).Msg("Anchor report published")
	return nil
}

// coinLine renders one report row. Annotations degrade gracefully: a coin
// with no snapshot this tick still gets a line, a short history just loses
// its RSI/EMA tail.
func (r *Reporter) coinLine(wc WatchedCoin, pair *dexscreener.PairInfo, periodHours int, now time.Time) string {
	if pair == nil {
		return fmt.Sprintf("%s: no snapshot", wc.Coin.Symbol)
	}

	line := fmt.Sprintf("%s %s", wc.Coin.Symbol, formatReportPrice(pair.Price))

	if periodHours > 0 {
		prior, err := r.store.PriceAt(wc.Coin.ID, now.UTC().Unix()-int64(periodHours)*3600)
		if err != nil {
			r.log.Warn().Err(err).Int64("coin_id", wc.Coin.ID).Msg("Failed to read anchor-period price")
		} else if prior != nil && *prior > 0 {
			change := (pair.Price - *prior) / *prior * 100
			line += fmt.Sprintf(" %+.1f%%/%dh", change, periodHours)
		}
	}

	from := now.UTC().Unix() - 72*3600
	prices, err := r.store.Prices(wc.Coin.ID, from, now.UTC().Unix())
	if err != nil {
		r.log.Warn().Err(err).Int64("coin_id", wc.Coin.ID).Msg("Failed to read price series")
		return line
	}
	prices = append(prices, pair.Price)

	if rsi := formulas.CalculateRSI(prices, rsiPeriod); rsi != nil {
		line += fmt.Sprintf(" RSI %.0f", *rsi)
	}
	if ema := formulas.CalculateEMA(prices, emaPeriod); ema != nil {
		line += fmt.Sprintf(" EMA %s", formatReportPrice(*ema))
	}
	return line
}

func (r *Reporter) publish(message, fingerprint string) {
	r.bus.Emit(events.SystemAlert, "anchor_report", &events.SystemAlertData{
		Message:     message,
		Source:      "anchor_report",
		Fingerprint: fingerprint,
	})
}

// formatReportPrice matches the alert formatter's magnitude-aware precision.
func formatReportPrice(v float64) string {
	abs := v
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs >= 1:
		return fmt.Sprintf("$%.2f", v)
	case abs >= 0.01:
		return fmt.Sprintf("$%.4f", v)
	default:
		return fmt.Sprintf("$%.8f", v)
	}
}
