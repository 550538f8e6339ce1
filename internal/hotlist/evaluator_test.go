package hotlist

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aristath/coinwatch/internal/alerts"
	"github.com/aristath/coinwatch/internal/clients/dexscreener"
	"github.com/aristath/coinwatch/internal/database"
	"github.com/aristath/coinwatch/internal/domain"
	"github.com/aristath/coinwatch/internal/events"
	"github.com/aristath/coinwatch/internal/watchlist"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMarket struct {
	pairs map[string]*dexscreener.PairInfo
	err   error
	calls int
}

func (f *fakeMarket) BatchGetTokens(_ context.Context, requests []dexscreener.TokenRequest) (map[string]*dexscreener.PairInfo, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]*dexscreener.PairInfo, len(requests))
	for _, req := range requests {
		if pair, ok := f.pairs[req.Key()]; ok {
			out[req.Key()] = pair
		}
	}
	return out, nil
}

type hotHarness struct {
	db       *database.DB
	entries  *EntryRepository
	coins    *watchlist.CoinRepository
	schedule *watchlist.ScheduleRepository
	history  *alerts.HistoryRepository
	market   *fakeMarket
	bus      *events.Bus
	eval     *Evaluator
	emitted  []*events.HotAlertData
}

func newHotHarness(t *testing.T) (*hotHarness, func()) {
	t.Helper()

	db, cleanup := setupTestDB(t)
	log := zerolog.Nop()

	h := &hotHarness{
		db:       db,
		entries:  NewEntryRepository(db, log),
		coins:    watchlist.NewCoinRepository(db, log),
		schedule: watchlist.NewScheduleRepository(db, log),
		history:  alerts.NewHistoryRepository(db, log),
		market:   &fakeMarket{pairs: map[string]*dexscreener.PairInfo{}},
		bus:      events.NewBus(log),
	}
	h.eval = NewEvaluator(db, h.entries, h.schedule, h.history, h.market, nil, h.bus, log)
	h.bus.Subscribe(events.HotAlert, func(event *events.Event) {
		h.emitted = append(h.emitted, event.Data.(*events.HotAlertData))
	})
	return h, cleanup
}

// addEntry creates a hot entry keyed off the symbol.
func (h *hotHarness) addEntry(t *testing.T, symbol string, anchorPrice float64, anchorMcap *float64, pctTargets, mcapTargets []float64) int64 {
	t.Helper()

	id, err := h.entries.Create(&domain.HotEntry{
		Chain:           "solana",
		ContractAddress: "hot_" + strings.ToLower(symbol),
		Symbol:          symbol,
		AnchorPrice:     anchorPrice,
		AnchorMcap:      anchorMcap,
		PctTargets:      pctTargets,
		McapTargets:     mcapTargets,
	})
	require.NoError(t, err)
	return id
}

func (h *hotHarness) setPair(symbol string, pair *dexscreener.PairInfo) {
	h.market.pairs["solana:hot_"+strings.ToLower(symbol)] = pair
}

// alertCount counts history rows written for one entry.
func (h *hotHarness) alertCount(t *testing.T, hotID int64) int64 {
	t.Helper()

	var count int64
	err := h.db.QueryRow(`SELECT COUNT(*) FROM alert_history WHERE hot_id = ?`, hotID).Scan(&count)
	require.NoError(t, err)
	return count
}

// hotBase is aligned to a five-minute boundary so tick math stays readable.
var hotBase = time.Date(2025, 6, 10, 14, 30, 0, 0, time.UTC)

// TestHotEvaluator_PctTargetsBothDirections walks an entry with an up and a
// down target through four ticks
func TestHotEvaluator_PctTargetsBothDirections(t *testing.T) {
	h, cleanup := newHotHarness(t)
	defer cleanup()

	hotID := h.addEntry(t, "ABC", 2.00, nil, []float64{-30, 50}, nil)

	// 2.90 is below the 3.00 threshold and above the 1.40 one.
	h.setPair("ABC", &dexscreener.PairInfo{Price: 2.90})
	require.NoError(t, h.eval.RunAt(context.Background(), hotBase))
	assert.Empty(t, h.emitted)

	// 3.10 crosses +50.
	h.setPair("ABC", &dexscreener.PairInfo{Price: 3.10})
	require.NoError(t, h.eval.RunAt(context.Background(), hotBase.Add(5*time.Minute)))
	require.Len(t, h.emitted, 1)
	up := h.emitted[0]
	assert.Equal(t, domain.AlertHotPct, up.AlertType)
	assert.Equal(t, hotID, up.HotID)
	assert.Equal(t, 3.10, up.Price)
	require.NotNil(t, up.TargetValue)
	assert.Equal(t, 50.0, *up.TargetValue)
	require.NotNil(t, up.DeltaFromAnchor)
	assert.InDelta(t, 55.0, *up.DeltaFromAnchor, 1e-9)

	// Higher still, but +50 is one-shot.
	h.setPair("ABC", &dexscreener.PairInfo{Price: 3.50})
	require.NoError(t, h.eval.RunAt(context.Background(), hotBase.Add(10*time.Minute)))
	assert.Len(t, h.emitted, 1)

	// 1.35 crosses -30 on the way down.
	h.setPair("ABC", &dexscreener.PairInfo{Price: 1.35})
	require.NoError(t, h.eval.RunAt(context.Background(), hotBase.Add(15*time.Minute)))
	require.Len(t, h.emitted, 2)
	down := h.emitted[1]
	assert.Equal(t, domain.AlertHotPct, down.AlertType)
	require.NotNil(t, down.TargetValue)
	assert.Equal(t, -30.0, *down.TargetValue)
	require.NotNil(t, down.DeltaFromAnchor)
	assert.InDelta(t, -32.5, *down.DeltaFromAnchor, 1e-9)

	// Both targets are spent but the failsafe never fired, so the entry stays.
	entry, err := h.entries.GetByID(hotID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.False(t, entry.FailsafeFired)

	assert.Equal(t, int64(2), h.alertCount(t, hotID))
}

// TestHotEvaluator_McapTarget tests the absolute market-cap target and the
// undefined-mcap guard
func TestHotEvaluator_McapTarget(t *testing.T) {
	h, cleanup := newHotHarness(t)
	defer cleanup()

	hotID := h.addEntry(t, "DEF", 1.00, floatPtr(400_000), nil, []float64{1_000_000})

	// No market cap in the snapshot: the target cannot be judged.
	h.setPair("DEF", &dexscreener.PairInfo{Price: 1.2})
	require.NoError(t, h.eval.RunAt(context.Background(), hotBase))
	assert.Empty(t, h.emitted)

	// Exactly at the level fires.
	h.setPair("DEF", &dexscreener.PairInfo{Price: 1.3, MarketCap: floatPtr(1_000_000)})
	require.NoError(t, h.eval.RunAt(context.Background(), hotBase.Add(5*time.Minute)))
	require.Len(t, h.emitted, 1)
	data := h.emitted[0]
	assert.Equal(t, domain.AlertHotMcap, data.AlertType)
	assert.Equal(t, hotID, data.HotID)
	require.NotNil(t, data.McapLevel)
	assert.Equal(t, 1_000_000.0, *data.McapLevel)
	assert.Nil(t, data.TargetValue)

	// One-shot.
	h.setPair("DEF", &dexscreener.PairInfo{Price: 1.5, MarketCap: floatPtr(2_000_000)})
	require.NoError(t, h.eval.RunAt(context.Background(), hotBase.Add(10*time.Minute)))
	assert.Len(t, h.emitted, 1)
}

// TestHotEvaluator_FailsafeThenRemoval walks the collapse-then-recovery
// lifecycle: failsafe fires without removing the entry, and the entry leaves
// only once the last user target also fires
func TestHotEvaluator_FailsafeThenRemoval(t *testing.T) {
	h, cleanup := newHotHarness(t)
	defer cleanup()

	hotID := h.addEntry(t, "GHI", 1.00, nil, []float64{50}, nil)

	// Collapse to exactly 40% of the anchor.
	h.setPair("GHI", &dexscreener.PairInfo{Price: 0.40})
	require.NoError(t, h.eval.RunAt(context.Background(), hotBase))
	require.Len(t, h.emitted, 1)
	failsafe := h.emitted[0]
	assert.Equal(t, domain.AlertFailsafe, failsafe.AlertType)
	require.NotNil(t, failsafe.DeltaFromAnchor)
	assert.InDelta(t, -60.0, *failsafe.DeltaFromAnchor, 1e-9)

	entry, err := h.entries.GetByID(hotID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.True(t, entry.FailsafeFired)

	// Deeper lows do not re-fire the failsafe.
	h.setPair("GHI", &dexscreener.PairInfo{Price: 0.35})
	require.NoError(t, h.eval.RunAt(context.Background(), hotBase.Add(5*time.Minute)))
	assert.Len(t, h.emitted, 1)

	// Recovery to the +50 target fires it, and with the failsafe already
	// spent the entry is removed in the same tick.
	h.setPair("GHI", &dexscreener.PairInfo{Price: 1.50})
	require.NoError(t, h.eval.RunAt(context.Background(), hotBase.Add(10*time.Minute)))
	require.Len(t, h.emitted, 2)
	assert.Equal(t, domain.AlertHotPct, h.emitted[1].AlertType)

	entry, err = h.entries.GetByID(hotID)
	require.NoError(t, err)
	assert.Nil(t, entry)

	triggers, err := h.entries.Triggers(hotID)
	require.NoError(t, err)
	assert.Empty(t, triggers)

	// The audit trail survives the removal.
	assert.Equal(t, int64(2), h.alertCount(t, hotID))
}

// TestHotEvaluator_RemovalAfterTargetsThenCollapse covers the opposite order:
// all targets fire first, then the failsafe closes the entry out
func TestHotEvaluator_RemovalAfterTargetsThenCollapse(t *testing.T) {
	h, cleanup := newHotHarness(t)
	defer cleanup()

	hotID := h.addEntry(t, "JKL", 1.00, nil, []float64{10}, nil)

	h.setPair("JKL", &dexscreener.PairInfo{Price: 1.20})
	require.NoError(t, h.eval.RunAt(context.Background(), hotBase))
	require.Len(t, h.emitted, 1)

	// Every user target fired, but no failsafe yet: the entry stays.
	entry, err := h.entries.GetByID(hotID)
	require.NoError(t, err)
	require.NotNil(t, entry)

	h.setPair("JKL", &dexscreener.PairInfo{Price: 0.30})
	require.NoError(t, h.eval.RunAt(context.Background(), hotBase.Add(5*time.Minute)))
	require.Len(t, h.emitted, 2)
	assert.Equal(t, domain.AlertFailsafe, h.emitted[1].AlertType)

	entry, err = h.entries.GetByID(hotID)
	require.NoError(t, err)
	assert.Nil(t, entry)
}

// TestHotEvaluator_McapFailsafeLeg tests the market-cap collapse leg and its
// both-defined requirement
func TestHotEvaluator_McapFailsafeLeg(t *testing.T) {
	h, cleanup := newHotHarness(t)
	defer cleanup()

	// Price holds at 90% of the anchor; only the cap collapses.
	capLeg := h.addEntry(t, "MMM", 10.0, floatPtr(5_000_000), []float64{100}, nil)
	h.setPair("MMM", &dexscreener.PairInfo{Price: 9.0, MarketCap: floatPtr(2_000_000)})

	// No anchor mcap: the cap leg cannot arm, price leg holds.
	noAnchor := h.addEntry(t, "NNN", 10.0, nil, []float64{100}, nil)
	h.setPair("NNN", &dexscreener.PairInfo{Price: 9.0, MarketCap: floatPtr(1.0)})

	// Anchor mcap but no current cap: same.
	noCurrent := h.addEntry(t, "OOO", 10.0, floatPtr(5_000_000), []float64{100}, nil)
	h.setPair("OOO", &dexscreener.PairInfo{Price: 9.0})

	require.NoError(t, h.eval.RunAt(context.Background(), hotBase))

	require.Len(t, h.emitted, 1)
	assert.Equal(t, domain.AlertFailsafe, h.emitted[0].AlertType)
	assert.Equal(t, capLeg, h.emitted[0].HotID)

	for _, id := range []int64{noAnchor, noCurrent} {
		entry, err := h.entries.GetByID(id)
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.False(t, entry.FailsafeFired)
	}
}

// TestHotEvaluator_TwoTargetsOneTick tests that targets crossed in the same
// tick each produce their own alert
func TestHotEvaluator_TwoTargetsOneTick(t *testing.T) {
	h, cleanup := newHotHarness(t)
	defer cleanup()

	hotID := h.addEntry(t, "PQR", 1.00, nil, []float64{10, 20}, nil)

	h.setPair("PQR", &dexscreener.PairInfo{Price: 1.25})
	require.NoError(t, h.eval.RunAt(context.Background(), hotBase))

	require.Len(t, h.emitted, 2)
	assert.NotEqual(t, h.emitted[0].Fingerprint, h.emitted[1].Fingerprint)
	assert.Equal(t, int64(2), h.alertCount(t, hotID))

	values := []float64{*h.emitted[0].TargetValue, *h.emitted[1].TargetValue}
	assert.ElementsMatch(t, []float64{10, 20}, values)
}

// TestHotEvaluator_DuplicateAlertSuppressed tests that a fingerprint already
// in the history blocks the emit but still spends the trigger
func TestHotEvaluator_DuplicateAlertSuppressed(t *testing.T) {
	h, cleanup := newHotHarness(t)
	defer cleanup()

	hotID := h.addEntry(t, "STU", 1.00, nil, []float64{25}, nil)

	tick := hotTick(hotBase, 5)
	inserted, err := h.history.Insert(&domain.AlertRecord{
		ID:          uuid.NewString(),
		HotID:       &hotID,
		Timestamp:   hotBase.Unix() - 60,
		Kind:        domain.AlertHotPct,
		PayloadJSON: "{}",
		Fingerprint: hotTargetFingerprint(hotID, domain.AlertHotPct, 25, tick),
	})
	require.NoError(t, err)
	require.True(t, inserted)

	h.setPair("STU", &dexscreener.PairInfo{Price: 1.30})
	require.NoError(t, h.eval.RunAt(context.Background(), hotBase))

	assert.Empty(t, h.emitted)
	assert.Equal(t, int64(1), h.alertCount(t, hotID))

	triggers, err := h.entries.Triggers(hotID)
	require.NoError(t, err)
	require.Len(t, triggers, 1)
	assert.True(t, triggers[0].Fired)
}

// TestHotEvaluator_SkipsMissingAndAnomalous tests per-entry snapshot guards
func TestHotEvaluator_SkipsMissingAndAnomalous(t *testing.T) {
	h, cleanup := newHotHarness(t)
	defer cleanup()

	gone := h.addEntry(t, "GONE", 1.00, nil, []float64{10}, nil)
	bad := h.addEntry(t, "BAD", 1.00, nil, []float64{10}, nil)
	good := h.addEntry(t, "GOOD", 1.00, nil, []float64{10}, nil)

	h.setPair("BAD", &dexscreener.PairInfo{
		Price: 5.0,
		Meta:  dexscreener.FetchMeta{Anomalous: true, AnomalyReason: "price moved 400% in one tick"},
	})
	h.setPair("GOOD", &dexscreener.PairInfo{Price: 1.15})

	require.NoError(t, h.eval.RunAt(context.Background(), hotBase))

	require.Len(t, h.emitted, 1)
	assert.Equal(t, good, h.emitted[0].HotID)
	assert.Equal(t, int64(0), h.alertCount(t, gone))
	assert.Equal(t, int64(0), h.alertCount(t, bad))
}

// TestHotEvaluator_BatchFailureSkipsTick tests that a failed fetch skips the
// tick without error
func TestHotEvaluator_BatchFailureSkipsTick(t *testing.T) {
	h, cleanup := newHotHarness(t)
	defer cleanup()

	hotID := h.addEntry(t, "VWX", 1.00, nil, []float64{10}, nil)
	h.market.err = errors.New("dexscreener: status 503")

	require.NoError(t, h.eval.RunAt(context.Background(), hotBase))

	assert.Empty(t, h.emitted)
	count, err := h.entries.UnfiredCount(hotID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

// TestHotEvaluator_EmptyList tests that an empty hot list skips the fetch
func TestHotEvaluator_EmptyList(t *testing.T) {
	h, cleanup := newHotHarness(t)
	defer cleanup()

	require.NoError(t, h.eval.RunAt(context.Background(), hotBase))
	assert.Equal(t, 0, h.market.calls)
	assert.Empty(t, h.emitted)
}
