package watchlist

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aristath/coinwatch/internal/alerts"
	"github.com/aristath/coinwatch/internal/clients/dexscreener"
	"github.com/aristath/coinwatch/internal/database"
	"github.com/aristath/coinwatch/internal/domain"
	"github.com/aristath/coinwatch/internal/events"
	"github.com/aristath/coinwatch/internal/reliability"
	"github.com/aristath/coinwatch/internal/rolling"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MarketData is the slice of the market-data client the evaluator needs.
type MarketData interface {
	BatchGetTokens(ctx context.Context, requests []dexscreener.TokenRequest) (map[string]*dexscreener.PairInfo, error)
}

// Evaluator runs the long checkpoint: batch-fetch snapshots for every
// watched coin, fold them into the rolling store, and emit trigger events
// under warm-up, cooldown and first-touch rules.
type Evaluator struct {
	db       *database.DB
	watches  *WatchRepository
	schedule *ScheduleRepository
	store    *rolling.Store
	states   *rolling.StateRepository
	history  *alerts.HistoryRepository
	market   MarketData
	breakers *reliability.BreakerManager
	bus      *events.Bus
	log      zerolog.Logger
}

// NewEvaluator creates the long trigger evaluator. breakers is optional.
func NewEvaluator(
	db *database.DB,
	watches *WatchRepository,
	schedule *ScheduleRepository,
	store *rolling.Store,
	states *rolling.StateRepository,
	history *alerts.HistoryRepository,
	market MarketData,
	breakers *reliability.BreakerManager,
	bus *events.Bus,
	log zerolog.Logger,
) *Evaluator {
	return &Evaluator{
		db:       db,
		watches:  watches,
		schedule: schedule,
		store:    store,
		states:   states,
		history:  history,
		market:   market,
		breakers: breakers,
		bus:      bus,
		log:      log.With().Str("component", "long_evaluator").Logger(),
	}
}

// Run evaluates one checkpoint tick at the current time.
func (e *Evaluator) Run(ctx context.Context) error {
	return e.RunAt(ctx, time.Now().UTC())
}

// RunAt evaluates one checkpoint tick at a fixed time. Split out for tests.
func (e *Evaluator) RunAt(ctx context.Context, now time.Time) error {
	var (
		cfg     *domain.ScheduleConfig
		watched []WatchedCoin
	)
	err := e.persist(func() error {
		var err error
		if cfg, err = e.schedule.Get(); err != nil {
			return fmt.Errorf("failed to load schedule config: %w", err)
		}
		if watched, err = e.watches.ListActive(); err != nil {
			return fmt.Errorf("failed to load watchlist: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(watched) == 0 {
		e.log.Debug().Msg("Watchlist empty; nothing to evaluate")
		return nil
	}

	requests := make([]dexscreener.TokenRequest, 0, len(watched))
	for _, wc := range watched {
		requests = append(requests, dexscreener.TokenRequest{
			Chain:        wc.Coin.Chain,
			TokenAddress: wc.Coin.TokenAddress,
		})
	}

	batch, err := e.market.BatchGetTokens(ctx, requests)
	if err != nil {
		// Upstream outage: every coin gets a null snapshot, next tick retries.
		e.log.Warn().Err(err).Msg("Batch fetch failed; skipping checkpoint")
		return nil
	}

	tick := checkpointTick(now, cfg.LongCheckpointHours)

	evaluated, skipped, fired := 0, 0, 0
	err = e.persist(func() error {
		for _, wc := range watched {
			key := dexscreener.TokenRequest{Chain: wc.Coin.Chain, TokenAddress: wc.Coin.TokenAddress}.Key()
			count, err := e.evaluateCoin(wc, batch[key], cfg, tick, now)
			if err != nil {
				return fmt.Errorf("failed to evaluate %s: %w", wc.Coin.Symbol, err)
			}
			if count < 0 {
				skipped++
				continue
			}
			evaluated++
			fired += count
		}
		return nil
	})
	if err != nil {
		// Persistence trouble ends the tick; the scheduler re-runs it.
		return err
	}

	e.log.Info().
		Int("evaluated", evaluated).
		Int("skipped", skipped).
		Int("alerts", fired).
		Msg("Long checkpoint finished")
	return nil
}

// persist runs fn through the persistence breaker when one is wired. While
// the breaker is open the call fails immediately without touching storage,
// so repeated storage failures end checkpoints early until the probe
// succeeds again.
func (e *Evaluator) persist(fn func() error) error {
	if e.breakers == nil {
		return fn()
	}
	_, err := e.breakers.Execute(reliability.BreakerPersistence, func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// evaluateCoin folds one snapshot and tests the four triggers. Returns the
// number of alerts fired, or -1 when the coin was skipped this tick.
//
// Every trigger is tested against the state captured before this tick's
// sample is folded in: a price cannot break out over a high it just set
// itself, and the mcap first-touch compares against the previously seen cap.
func (e *Evaluator) evaluateCoin(wc WatchedCoin, pair *dexscreener.PairInfo, cfg *domain.ScheduleConfig, tick int64, now time.Time) (int, error) {
	coinID := wc.Coin.ID

	if pair == nil {
		e.log.Debug().Str("symbol", wc.Coin.Symbol).Msg("No snapshot this tick")
		return -1, nil
	}
	if pair.Meta.Anomalous {
		e.log.Warn().
			Str("symbol", wc.Coin.Symbol).
			Str("reason", pair.Meta.AnomalyReason).
			Msg("Anomalous snapshot; skipping fold and triggers")
		return -1, nil
	}

	state, err := e.states.Get(coinID)
	if err != nil {
		return 0, err
	}

	sample := domain.RollingDataPoint{
		CoinID:    coinID,
		Timestamp: now.UTC().Unix(),
		Price:     pair.Price,
		Volume:    pair.Volume24h,
		MarketCap: pair.MarketCap,
	}
	if err := e.store.Append(coinID, sample); err != nil {
		return 0, err
	}

	if state == nil {
		// First sample ever; the fold just seeded the state row.
		return 0, nil
	}

	warm, err := e.store.IsWarmupComplete(coinID, rolling.WarmupHours, now)
	if err != nil {
		return 0, err
	}
	if !warm {
		return 0, nil
	}

	nowSec := now.UTC().Unix()
	cooldownSec := int64(cfg.CooldownHours) * 3600
	fired := 0

	if wc.Watch.RetraceOn && cfg.RetraceOn && state.H72High != nil &&
		cooldownElapsed(state.LastRetraceFire, cooldownSec, nowSec) {
		if ok, fromHigh := retraceTriggered(pair.Price, *state.H72High, wc.Watch.RetracePct); ok {
			data := &events.LongTriggerData{
				CoinID:          coinID,
				Symbol:          wc.Coin.Symbol,
				TriggerType:     domain.AlertRetrace,
				Price:           pair.Price,
				Volume24h:       pair.Volume24h,
				RetraceFromHigh: &fromHigh,
				Tick:            tick,
			}
			emitted, err := e.fire(coinID, domain.AlertRetrace, data, tick, nowSec)
			if err != nil {
				return fired, err
			}
			if emitted {
				fired++
			}
		}
	}

	if wc.Watch.StallOn && cfg.StallOn &&
		state.V24Sum != nil && state.H12High != nil && state.H12Low != nil &&
		cooldownElapsed(state.LastStallFire, cooldownSec, nowSec) {
		if stallTriggered(pair.Price, pair.Volume24h, *state.V24Sum, *state.H12High, *state.H12Low,
			wc.Watch.StallVolPct, wc.Watch.StallBandPct) {
			data := &events.LongTriggerData{
				CoinID:      coinID,
				Symbol:      wc.Coin.Symbol,
				TriggerType: domain.AlertStall,
				Price:       pair.Price,
				Volume24h:   pair.Volume24h,
				Tick:        tick,
			}
			emitted, err := e.fire(coinID, domain.AlertStall, data, tick, nowSec)
			if err != nil {
				return fired, err
			}
			if emitted {
				fired++
			}
		}
	}

	if wc.Watch.BreakoutOn && cfg.BreakoutOn &&
		state.H12High != nil && state.V12Sum != nil &&
		cooldownElapsed(state.LastBreakoutFire, cooldownSec, nowSec) {
		if breakoutTriggered(pair.Price, pair.Volume24h, *state.H12High, *state.V12Sum,
			wc.Watch.BreakoutPct, wc.Watch.BreakoutVolX) {
			data := &events.LongTriggerData{
				CoinID:      coinID,
				Symbol:      wc.Coin.Symbol,
				TriggerType: domain.AlertBreakout,
				Price:       pair.Price,
				Volume24h:   pair.Volume24h,
				Tick:        tick,
			}
			emitted, err := e.fire(coinID, domain.AlertBreakout, data, tick, nowSec)
			if err != nil {
				return fired, err
			}
			if emitted {
				fired++
			}
		}
	}

	if wc.Watch.McapOn && cfg.McapOn && pair.MarketCap != nil &&
		len(wc.Watch.McapLevels) > 0 &&
		cooldownElapsed(state.LastMcapFire, cooldownSec, nowSec) {
		if level, ok := firstMcapTouch(*pair.MarketCap, state.LastMcap, wc.Watch.McapLevels); ok {
			data := &events.LongTriggerData{
				CoinID:      coinID,
				Symbol:      wc.Coin.Symbol,
				TriggerType: domain.AlertMcap,
				Price:       pair.Price,
				Volume24h:   pair.Volume24h,
				TargetLevel: &level,
				MarketCap:   pair.MarketCap,
				Tick:        tick,
			}
			emitted, err := e.fire(coinID, domain.AlertMcap, data, tick, nowSec)
			if err != nil {
				return fired, err
			}
			if emitted {
				fired++
			}
		}
	}

	return fired, nil
}

// fire records the trigger atomically (fire marker + audit row) and emits the
// event once the write is committed. A fingerprint collision means this alert
// already went out; the fire marker still advances.
func (e *Evaluator) fire(coinID int64, kind domain.AlertKind, data *events.LongTriggerData, tick, nowSec int64) (bool, error) {
	data.Fingerprint = longFingerprint(coinID, kind, tick)

	payload, err := json.Marshal(data)
	if err != nil {
		return false, fmt.Errorf("failed to encode alert payload: %w", err)
	}

	inserted := false
	err = database.WithTransaction(e.db.Conn(), func(tx *sql.Tx) error {
		if err := e.states.MarkFired(tx, coinID, kind, nowSec); err != nil {
			return err
		}
		var err error
		inserted, err = e.history.InsertTx(tx, &domain.AlertRecord{
			ID:          uuid.NewString(),
			CoinID:      &coinID,
			Timestamp:   nowSec,
			Kind:        kind,
			PayloadJSON: string(payload),
			Fingerprint: data.Fingerprint,
		})
		return err
	})
	if err != nil {
		return false, err
	}

	if !inserted {
		e.log.Debug().Str("fingerprint", data.Fingerprint).Msg("Duplicate alert suppressed")
		return false, nil
	}

	e.bus.Emit(events.LongTrigger, "long_evaluator", data)
	return true, nil
}

// checkpointTick discretizes time by the checkpoint period, making
// fingerprints stable within a tick and distinct across ticks.
func checkpointTick(now time.Time, checkpointHours int) int64 {
	period := int64(checkpointHours) * 3600
	if period <= 0 {
		period = 3600
	}
	return now.UTC().Unix() / period
}

func longFingerprint(coinID int64, kind domain.AlertKind, tick int64) string {
	return fmt.Sprintf("long:%d:%s:%d", coinID, kind, tick)
}
