package watchlist

import (
	"context"
	"fmt"
	"strings"

	"github.com/aristath/coinwatch/internal/clients/dexscreener"
	"github.com/aristath/coinwatch/internal/domain"
	"github.com/aristath/coinwatch/internal/events"
	"github.com/aristath/coinwatch/internal/rolling"
	"github.com/rs/zerolog"
)

// Service orchestrates watchlist membership for the admin surface: register a
// coin with default triggers, tune thresholds, remove it again.
type Service struct {
	coins   *CoinRepository
	watches *WatchRepository
	store   *rolling.Store
	market  MarketData
	bus     *events.Bus
	log     zerolog.Logger
}

// NewService creates the watchlist service.
func NewService(
	coins *CoinRepository,
	watches *WatchRepository,
	store *rolling.Store,
	market MarketData,
	bus *events.Bus,
	log zerolog.Logger,
) *Service {
	return &Service{
		coins:   coins,
		watches: watches,
		store:   store,
		market:  market,
		bus:     bus,
		log:     log.With().Str("component", "watchlist_service").Logger(),
	}
}

// AddCoin registers a coin for long monitoring with the default subscription.
// When symbol is empty it is resolved from a live snapshot. Re-adding an
// already watched coin is a no-op; re-adding a removed coin re-subscribes it.
func (s *Service) AddCoin(ctx context.Context, chain, address, symbol string) (*domain.Coin, error) {
	chain = strings.ToLower(strings.TrimSpace(chain))
	address = strings.ToLower(strings.TrimSpace(address))
	if chain == "" || address == "" {
		return nil, fmt.Errorf("chain and address are required")
	}

	existing, err := s.coins.GetByChainAddress(chain, address)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.resubscribe(existing)
	}

	if symbol == "" {
		symbol, err = s.lookupSymbol(ctx, chain, address)
		if err != nil {
			return nil, err
		}
	}

	coinID, err := s.coins.Create(&domain.Coin{
		Chain:        chain,
		TokenAddress: address,
		Symbol:       symbol,
	})
	if err != nil {
		return nil, err
	}
	if err := s.watches.Upsert(DefaultWatch(coinID)); err != nil {
		return nil, err
	}

	s.log.Info().
		Int64("coin_id", coinID).
		Str("symbol", symbol).
		Str("chain", chain).
		Msg("Coin added to watchlist")
	s.bus.Emit(events.CoinAdded, "watchlist_service", &events.CoinAddedData{
		CoinID: coinID,
		Symbol: symbol,
	})

	return s.coins.GetByID(coinID)
}

// resubscribe handles adds for a coin row that already exists.
func (s *Service) resubscribe(coin *domain.Coin) (*domain.Coin, error) {
	if !coin.IsActive {
		if err := s.coins.Reactivate(coin.ID); err != nil {
			return nil, err
		}
		coin.IsActive = true
	}

	watch, err := s.watches.Get(coin.ID)
	if err != nil {
		return nil, err
	}
	if watch != nil {
		return coin, nil
	}

	if err := s.watches.Upsert(DefaultWatch(coin.ID)); err != nil {
		return nil, err
	}
	s.log.Info().Int64("coin_id", coin.ID).Str("symbol", coin.Symbol).Msg("Coin re-subscribed")
	s.bus.Emit(events.CoinAdded, "watchlist_service", &events.CoinAddedData{
		CoinID: coin.ID,
		Symbol: coin.Symbol,
	})
	return coin, nil
}

// lookupSymbol resolves a symbol from a live snapshot.
func (s *Service) lookupSymbol(ctx context.Context, chain, address string) (string, error) {
	req := dexscreener.TokenRequest{Chain: chain, TokenAddress: address}
	batch, err := s.market.BatchGetTokens(ctx, []dexscreener.TokenRequest{req})
	if err != nil {
		return "", fmt.Errorf("failed to resolve symbol: %w", err)
	}
	pair := batch[req.Key()]
	if pair == nil || pair.Symbol == "" {
		return "", fmt.Errorf("no pair found for %s:%s; pass a symbol explicitly", chain, address)
	}
	return pair.Symbol, nil
}

// RemoveCoin unsubscribes a coin: the watch, state and samples go away, the
// coin row is deactivated so history and hot entries keep a valid reference.
// The watch goes first so a crash mid-removal leaves only inert state rows.
func (s *Service) RemoveCoin(coinID int64) error {
	coin, err := s.coins.GetByID(coinID)
	if err != nil {
		return err
	}
	if coin == nil {
		return fmt.Errorf("coin %d not found", coinID)
	}

	if err := s.watches.Delete(coinID); err != nil {
		return err
	}
	if err := s.store.DeleteCoinData(coinID); err != nil {
		return err
	}
	if err := s.coins.Deactivate(coinID); err != nil {
		return err
	}

	s.log.Info().Int64("coin_id", coinID).Str("symbol", coin.Symbol).Msg("Coin removed from watchlist")
	return nil
}

// List returns the active watchlist with subscriptions.
func (s *Service) List() ([]WatchedCoin, error) {
	return s.watches.ListActive()
}

// ThresholdUpdate is the named-options set for tuning one subscription.
// Nil fields keep their current values.
type ThresholdUpdate struct {
	RetraceOn    *bool      `json:"retrace_on,omitempty"`
	StallOn      *bool      `json:"stall_on,omitempty"`
	BreakoutOn   *bool      `json:"breakout_on,omitempty"`
	McapOn       *bool      `json:"mcap_on,omitempty"`
	RetracePct   *float64   `json:"retrace_pct,omitempty"`
	StallVolPct  *float64   `json:"stall_vol_pct,omitempty"`
	StallBandPct *float64   `json:"stall_band_pct,omitempty"`
	BreakoutPct  *float64   `json:"breakout_pct,omitempty"`
	BreakoutVolX *float64   `json:"breakout_vol_x,omitempty"`
	McapLevels   *[]float64 `json:"mcap_levels,omitempty"`
}

// UpdateThresholds applies a partial update to a coin's subscription.
func (s *Service) UpdateThresholds(coinID int64, update ThresholdUpdate) (*domain.LongWatch, error) {
	watch, err := s.watches.Get(coinID)
	if err != nil {
		return nil, err
	}
	if watch == nil {
		return nil, fmt.Errorf("coin %d is not on the watchlist", coinID)
	}

	if update.RetraceOn != nil {
		watch.RetraceOn = *update.RetraceOn
	}
	if update.StallOn != nil {
		watch.StallOn = *update.StallOn
	}
	if update.BreakoutOn != nil {
		watch.BreakoutOn = *update.BreakoutOn
	}
	if update.McapOn != nil {
		watch.McapOn = *update.McapOn
	}
	if update.RetracePct != nil {
		watch.RetracePct = *update.RetracePct
	}
	if update.StallVolPct != nil {
		watch.StallVolPct = *update.StallVolPct
	}
	if update.StallBandPct != nil {
		watch.StallBandPct = *update.StallBandPct
	}
	if update.BreakoutPct != nil {
		watch.BreakoutPct = *update.BreakoutPct
	}
	if update.BreakoutVolX != nil {
		watch.BreakoutVolX = *update.BreakoutVolX
	}
	if update.McapLevels != nil {
		watch.McapLevels = *update.McapLevels
	}

	if err := validateThresholds(watch); err != nil {
		return nil, err
	}
	if err := s.watches.Upsert(watch); err != nil {
		return nil, err
	}
	return watch, nil
}

// AddAlias points a name at a coin for command resolution.
func (s *Service) AddAlias(coinID int64, alias string) error {
	alias = strings.TrimSpace(alias)
	if alias == "" {
		return fmt.Errorf("alias must not be empty")
	}
	coin, err := s.coins.GetByID(coinID)
	if err != nil {
		return err
	}
	if coin == nil {
		return fmt.Errorf("coin %d not found", coinID)
	}
	return s.coins.AddAlias(coinID, alias)
}

// Resolve finds a coin by symbol or alias.
func (s *Service) Resolve(name string) (*domain.Coin, error) {
	return s.coins.Resolve(name)
}

func validateThresholds(watch *domain.LongWatch) error {
	pctFields := map[string]float64{
		"retrace_pct":    watch.RetracePct,
		"stall_vol_pct":  watch.StallVolPct,
		"stall_band_pct": watch.StallBandPct,
	}
	for name, value := range pctFields {
		if value <= 0 || value >= 100 {
			return fmt.Errorf("%s must be between 0 and 100 exclusive, got %g", name, value)
		}
	}
	if watch.BreakoutPct <= 0 {
		return fmt.Errorf("breakout_pct must be positive, got %g", watch.BreakoutPct)
	}
	if watch.BreakoutVolX <= 0 {
		return fmt.Errorf("breakout_vol_x must be positive, got %g", watch.BreakoutVolX)
	}
	for _, level := range watch.McapLevels {
		if level <= 0 {
			return fmt.Errorf("mcap levels must be positive, got %g", level)
		}
	}
	return nil
}
