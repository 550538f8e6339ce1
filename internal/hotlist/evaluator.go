package hotlist

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
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MarketData is the snapshot source the evaluator consumes.
type MarketData interface {
	BatchGetTokens(ctx context.Context, requests []dexscreener.TokenRequest) (map[string]*dexscreener.PairInfo, error)
}

// ScheduleSource supplies the live schedule configuration.
type ScheduleSource interface {
	Get() (*domain.ScheduleConfig, error)
}

// Evaluator runs the hot tick: it fetches a snapshot per entry, fires any
// armed one-shot triggers and the failsafe, and removes entries that are
// fully spent.
type Evaluator struct {
	db       *database.DB
	entries  *EntryRepository
	schedule ScheduleSource
	history  *alerts.HistoryRepository
	market   MarketData
	breakers *reliability.BreakerManager
	bus      *events.Bus
	log      zerolog.Logger
}

// NewEvaluator creates the hot evaluator. breakers is optional.
func NewEvaluator(
	db *database.DB,
	entries *EntryRepository,
	schedule ScheduleSource,
	history *alerts.HistoryRepository,
	market MarketData,
	breakers *reliability.BreakerManager,
	bus *events.Bus,
	log zerolog.Logger,
) *Evaluator {
	return &Evaluator{
		db:       db,
		entries:  entries,
		schedule: schedule,
		history:  history,
		market:   market,
		breakers: breakers,
		bus:      bus,
		log:      log.With().Str("component", "hot_evaluator").Logger(),
	}
}

// Run executes one hot tick at the current time.
func (e *Evaluator) Run(ctx context.Context) error {
	return e.RunAt(ctx, time.Now().UTC())
}

// RunAt executes one hot tick pinned to now.
func (e *Evaluator) RunAt(ctx context.Context, now time.Time) error {
	var (
		cfg     *domain.ScheduleConfig
		working []EntryWithTriggers
	)
	err := e.persist(func() error {
		var err error
		if cfg, err = e.schedule.Get(); err != nil {
			return fmt.Errorf("failed to load schedule config: %w", err)
		}
		if working, err = e.entries.ListWithTriggers(); err != nil {
			return fmt.Errorf("failed to load hot entries: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(working) == 0 {
		e.log.Debug().Msg("Hot list is empty; nothing to evaluate")
		return nil
	}

	requests := make([]dexscreener.TokenRequest, 0, len(working))
	for _, item := range working {
		requests = append(requests, dexscreener.TokenRequest{
			Chain:        item.Entry.Chain,
			TokenAddress: item.Entry.ContractAddress,
		})
	}

	pairs, err := e.market.BatchGetTokens(ctx, requests)
	if err != nil {
		e.log.Warn().Err(err).Int("entries", len(requests)).Msg("Batch fetch failed; skipping hot tick")
		return nil
	}

	tick := hotTick(now, cfg.HotIntervalMinutes)
	nowSec := now.UTC().Unix()

	evaluated := 0
	skipped := 0
	fired := 0
	removed := 0
	err = e.persist(func() error {
		for _, item := range working {
			key := dexscreener.TokenRequest{
				Chain:        item.Entry.Chain,
				TokenAddress: item.Entry.ContractAddress,
			}.Key()

			count, gone, err := e.evaluateEntry(item, pairs[key], tick, nowSec)
			if err != nil {
				return fmt.Errorf("failed to evaluate hot entry %s: %w", item.Entry.Symbol, err)
			}
			if count < 0 {
				skipped++
				continue
			}
			evaluated++
			fired += count
			if gone {
				removed++
			}
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
		Int("removed", removed).
		Msg("Hot tick complete")
	return nil
}

// persist runs fn through the persistence breaker when one is wired. While
// the breaker is open the call fails immediately without touching storage.
func (e *Evaluator) persist(fn func() error) error {
	if e.breakers == nil {
		return fn()
	}
	_, err := e.breakers.Execute(reliability.BreakerPersistence, func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// evaluateEntry fires this entry's armed triggers against one snapshot and
// removes the entry when every user trigger and the failsafe have fired.
// A negative count means the entry was skipped for lack of a usable snapshot.
func (e *Evaluator) evaluateEntry(item EntryWithTriggers, pair *dexscreener.PairInfo, tick, nowSec int64) (int, bool, error) {
	entry := item.Entry

	if pair == nil {
		e.log.Debug().Str("symbol", entry.Symbol).Msg("No snapshot for hot entry; skipping")
		return -1, false, nil
	}
	if pair.Meta.Anomalous {
		e.log.Warn().
			Str("symbol", entry.Symbol).
			Str("reason", pair.Meta.AnomalyReason).
			Msg("Anomalous snapshot; skipping hot entry")
		return -1, false, nil
	}

	price := pair.Price
	marketCap := pair.MarketCap
	delta := deltaFromAnchor(price, entry.AnchorPrice)

	fired := 0
	remaining := 0
	for _, trigger := range item.Triggers {
		if trigger.Fired {
			continue
		}

		var hit bool
		var data *events.HotAlertData
		switch trigger.Kind {
		case domain.HotTriggerPct:
			hit = pctTargetHit(price, entry.AnchorPrice, trigger.Value)
			data = &events.HotAlertData{
				HotID:           entry.ID,
				Symbol:          entry.Symbol,
				AlertType:       domain.AlertHotPct,
				Price:           price,
				DeltaFromAnchor: &delta,
				TargetValue:     &trigger.Value,
				Tick:            tick,
			}
		case domain.HotTriggerMcap:
			hit = mcapTargetHit(marketCap, trigger.Value)
			data = &events.HotAlertData{
				HotID:     entry.ID,
				Symbol:    entry.Symbol,
				AlertType: domain.AlertHotMcap,
				Price:     price,
				McapLevel: &trigger.Value,
				Tick:      tick,
			}
		}
		if !hit {
			remaining++
			continue
		}

		data.Fingerprint = hotTargetFingerprint(entry.ID, data.AlertType, trigger.Value, tick)
		if _, err := e.fire(entry.ID, trigger, data, nowSec); err != nil {
			return 0, false, err
		}
		fired++
	}

	failsafeFired := entry.FailsafeFired
	if !failsafeFired && failsafeHit(price, marketCap, entry.AnchorPrice, entry.AnchorMcap) {
		data := &events.HotAlertData{
			HotID:           entry.ID,
			Symbol:          entry.Symbol,
			AlertType:       domain.AlertFailsafe,
			Price:           price,
			DeltaFromAnchor: &delta,
			Tick:            tick,
			Fingerprint:     hotFingerprint(entry.ID, domain.AlertFailsafe, tick),
		}
		if err := e.fireFailsafe(entry.ID, data, nowSec); err != nil {
			return 0, false, err
		}
		fired++
		failsafeFired = true
	}

	// The entry leaves the list only once nothing can ever fire again.
	if failsafeFired && remaining == 0 {
		if err := e.entries.Delete(entry.ID); err != nil {
			return 0, false, err
		}
		e.log.Info().
			Str("symbol", entry.Symbol).
			Int64("hot_id", entry.ID).
			Msg("Hot entry fully spent; removed")
		return fired, true, nil
	}
	return fired, false, nil
}

// fire flips one trigger and records the alert in a single transaction, then
// emits the event only when a new history row was written.
func (e *Evaluator) fire(hotID int64, trigger domain.HotTrigger, data *events.HotAlertData, nowSec int64) (bool, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return false, fmt.Errorf("failed to encode alert payload: %w", err)
	}

	var inserted bool
	err = database.WithTransaction(e.db.Conn(), func(tx *sql.Tx) error {
		if err := e.entries.MarkFiredTx(tx, hotID, trigger.Kind, trigger.Value, nowSec); err != nil {
			return err
		}
		var err error
		inserted, err = e.history.InsertTx(tx, &domain.AlertRecord{
			ID:          uuid.NewString(),
			HotID:       &hotID,
			Timestamp:   nowSec,
			Kind:        data.AlertType,
			PayloadJSON: string(payload),
			Fingerprint: data.Fingerprint,
		})
		return err
	})
	if err != nil {
		return false, err
	}

	if !inserted {
		e.log.Debug().
			Str("fingerprint", data.Fingerprint).
			Msg("Duplicate hot alert suppressed")
		return false, nil
	}

	e.bus.Emit(events.HotAlert, "hot_evaluator", data)
	return true, nil
}

// fireFailsafe spends the entry's failsafe and records the alert in a single
// transaction. The entry itself stays; removal is decided separately.
func (e *Evaluator) fireFailsafe(hotID int64, data *events.HotAlertData, nowSec int64) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode alert payload: %w", err)
	}

	var inserted bool
	err = database.WithTransaction(e.db.Conn(), func(tx *sql.Tx) error {
		if err := e.entries.SetFailsafeFiredTx(tx, hotID); err != nil {
			return err
		}
		var err error
		inserted, err = e.history.InsertTx(tx, &domain.AlertRecord{
			ID:          uuid.NewString(),
			HotID:       &hotID,
			Timestamp:   nowSec,
			Kind:        domain.AlertFailsafe,
			PayloadJSON: string(payload),
			Fingerprint: data.Fingerprint,
		})
		return err
	})
	if err != nil {
		return err
	}

	if !inserted {
		e.log.Debug().
			Str("fingerprint", data.Fingerprint).
			Msg("Duplicate failsafe alert suppressed")
		return nil
	}

	e.bus.Emit(events.HotAlert, "hot_evaluator", data)
	return nil
}

// hotTick buckets now into the hot cadence so retries inside one interval
// share a fingerprint.
func hotTick(now time.Time, intervalMinutes int) int64 {
	period := int64(intervalMinutes) * 60
	if period <= 0 {
		period = 300
	}
	return now.UTC().Unix() / period
}

// hotFingerprint identifies entry-level alerts such as the failsafe.
func hotFingerprint(hotID int64, kind domain.AlertKind, tick int64) string {
	return fmt.Sprintf("hot:%d:%s:%d", hotID, kind, tick)
}

// hotTargetFingerprint identifies per-target alerts. The target value is part
// of the identity: two targets crossed in one tick are distinct alerts.
func hotTargetFingerprint(hotID int64, kind domain.AlertKind, value float64, tick int64) string {
	return fmt.Sprintf("hot:%d:%s:%g:%d", hotID, kind, value, tick)
}
