package hotlist

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aristath/coinwatch/internal/alerts"
	"github.com/aristath/coinwatch/internal/clients/dexscreener"
	"github.com/aristath/coinwatch/internal/domain"
	"github.com/aristath/coinwatch/internal/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CoinResolver looks up a long-list coin so the entry can reference it.
type CoinResolver interface {
	GetByChainAddress(chain, address string) (*domain.Coin, error)
}

// Service manages the hot list: creation with live anchors, removal, and
// listing.
type Service struct {
	entries  *EntryRepository
	schedule ScheduleSource
	history  *alerts.HistoryRepository
	coins    CoinResolver
	market   MarketData
	bus      *events.Bus
	log      zerolog.Logger
}

// NewService creates the hot list service.
func NewService(
	entries *EntryRepository,
	schedule ScheduleSource,
	history *alerts.HistoryRepository,
	coins CoinResolver,
	market MarketData,
	bus *events.Bus,
	log zerolog.Logger,
) *Service {
	return &Service{
		entries:  entries,
		schedule: schedule,
		history:  history,
		coins:    coins,
		market:   market,
		bus:      bus,
		log:      log.With().Str("component", "hotlist_service").Logger(),
	}
}

// AddEntryRequest carries the parameters for a new hot entry.
type AddEntryRequest struct {
	Chain       string    `json:"chain"`
	Address     string    `json:"address"`
	Symbol      string    `json:"symbol"`
	DisplayName string    `json:"display_name"`
	PctTargets  []float64 `json:"pct_targets"`
	McapTargets []float64 `json:"mcap_targets"`
	// Bulk suppresses the entry_added alert during imports.
	Bulk bool `json:"bulk"`
}

// AddEntry creates a hot entry anchored to a live snapshot taken now. Unless
// the request is part of a bulk import, an entry_added alert is recorded and
// emitted.
func (s *Service) AddEntry(ctx context.Context, req AddEntryRequest) (*domain.HotEntry, error) {
	chain := strings.ToLower(strings.TrimSpace(req.Chain))
	address := strings.ToLower(strings.TrimSpace(req.Address))
	if chain == "" || address == "" {
		return nil, fmt.Errorf("chain and address are required")
	}

	pctTargets, err := normalizePctTargets(req.PctTargets)
	if err != nil {
		return nil, err
	}
	mcapTargets, err := normalizeMcapTargets(req.McapTargets)
	if err != nil {
		return nil, err
	}

	pair, err := s.fetchAnchor(ctx, chain, address)
	if err != nil {
		return nil, err
	}

	symbol := strings.TrimSpace(req.Symbol)
	if symbol == "" {
		symbol = pair.Symbol
	}
	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		displayName = pair.Name
	}

	entry := &domain.HotEntry{
		Chain:           chain,
		ContractAddress: address,
		Symbol:          symbol,
		DisplayName:     displayName,
		AnchorPrice:     pair.Price,
		AnchorMcap:      pair.MarketCap,
		PctTargets:      pctTargets,
		McapTargets:     mcapTargets,
		AddedAt:         time.Now().UTC().Unix(),
	}

	coin, err := s.coins.GetByChainAddress(chain, address)
	if err != nil {
		return nil, fmt.Errorf("failed to look up coin: %w", err)
	}
	if coin != nil {
		entry.CoinID = &coin.ID
	}

	id, err := s.entries.Create(entry)
	if err != nil {
		return nil, err
	}
	entry.ID = id

	s.log.Info().
		Int64("hot_id", id).
		Str("symbol", symbol).
		Float64("anchor_price", entry.AnchorPrice).
		Int("pct_targets", len(pctTargets)).
		Int("mcap_targets", len(mcapTargets)).
		Bool("bulk", req.Bulk).
		Msg("Hot entry added")

	if !req.Bulk {
		if err := s.recordEntryAdded(entry, pair.Links); err != nil {
			return nil, err
		}
	}
	return entry, nil
}

// recordEntryAdded writes the birth alert and emits it on the bus. The birth
// message is the one place token links are worth the screen space.
func (s *Service) recordEntryAdded(entry *domain.HotEntry, links dexscreener.PairLinks) error {
	cfg, err := s.schedule.Get()
	if err != nil {
		return fmt.Errorf("failed to load schedule config: %w", err)
	}

	now := time.Now().UTC()
	tick := hotTick(now, cfg.HotIntervalMinutes)
	data := &events.HotAlertData{
		HotID:       entry.ID,
		Symbol:      entry.Symbol,
		AlertType:   domain.AlertEntryAdded,
		Price:       entry.AnchorPrice,
		Tick:        tick,
		Fingerprint: hotFingerprint(entry.ID, domain.AlertEntryAdded, tick),
	}
	if len(links.Websites) > 0 {
		data.Website = links.Websites[0]
	}
	if len(links.Socials) > 0 {
		data.Social = links.Socials[0]
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode alert payload: %w", err)
	}
	inserted, err := s.history.Insert(&domain.AlertRecord{
		ID:          uuid.NewString(),
		HotID:       &entry.ID,
		Timestamp:   now.Unix(),
		Kind:        domain.AlertEntryAdded,
		PayloadJSON: string(payload),
		Fingerprint: data.Fingerprint,
	})
	if err != nil {
		return fmt.Errorf("failed to record entry_added alert: %w", err)
	}
	if inserted {
		s.bus.Emit(events.HotAlert, "hotlist_service", data)
	}
	return nil
}

// fetchAnchor takes the live snapshot the entry anchors to. Anomalous
// snapshots are rejected rather than skipped: a bad anchor poisons every
// later comparison.
func (s *Service) fetchAnchor(ctx context.Context, chain, address string) (*dexscreener.PairInfo, error) {
	request := dexscreener.TokenRequest{Chain: chain, TokenAddress: address}
	pairs, err := s.market.BatchGetTokens(ctx, []dexscreener.TokenRequest{request})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch anchor snapshot: %w", err)
	}
	pair := pairs[request.Key()]
	if pair == nil {
		return nil, fmt.Errorf("no pair found for %s:%s", chain, address)
	}
	if pair.Meta.Anomalous {
		return nil, fmt.Errorf("anchor snapshot for %s:%s looks anomalous (%s); not creating entry", chain, address, pair.Meta.AnomalyReason)
	}
	return pair, nil
}

// RemoveEntry deletes an entry and its trigger states.
func (s *Service) RemoveEntry(hotID int64) error {
	entry, err := s.entries.GetByID(hotID)
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("hot entry %d does not exist", hotID)
	}
	if err := s.entries.Delete(hotID); err != nil {
		return err
	}
	s.log.Info().Int64("hot_id", hotID).Str("symbol", entry.Symbol).Msg("Hot entry removed")
	return nil
}

// Get returns one entry with its trigger states, or nil when absent.
func (s *Service) Get(hotID int64) (*EntryWithTriggers, error) {
	entry, err := s.entries.GetByID(hotID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}
	triggers, err := s.entries.Triggers(hotID)
	if err != nil {
		return nil, err
	}
	return &EntryWithTriggers{Entry: *entry, Triggers: triggers}, nil
}

// List returns every entry with its trigger states.
func (s *Service) List() ([]EntryWithTriggers, error) {
	return s.entries.ListWithTriggers()
}

// normalizePctTargets sorts, deduplicates and validates signed percent
// targets. Zero never fires and anything at or below -100 puts the threshold
// at or below zero, which no valid price can reach.
func normalizePctTargets(targets []float64) ([]float64, error) {
	out := dedupSorted(targets)
	for _, t := range out {
		if t == 0 {
			return nil, fmt.Errorf("pct target must be non-zero")
		}
		if t <= -100 {
			return nil, fmt.Errorf("pct target must be above -100, got %g", t)
		}
	}
	return out, nil
}

// normalizeMcapTargets sorts, deduplicates and validates absolute market-cap
// targets.
func normalizeMcapTargets(targets []float64) ([]float64, error) {
	out := dedupSorted(targets)
	for _, t := range out {
		if t <= 0 {
			return nil, fmt.Errorf("mcap target must be positive, got %g", t)
		}
	}
	return out, nil
}

func dedupSorted(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	seen := make(map[float64]bool, len(values))
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Float64s(out)
	return out
}
