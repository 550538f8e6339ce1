package work

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/coinwatch/internal/clients/dexscreener"
	"github.com/aristath/coinwatch/internal/domain"
)

// Work type IDs.
const (
	TypeBackfill = "coin:backfill"
	TypeMetadata = "coin:metadata"
)

// metadataInterval is how often a coin's symbol and name are re-read from
// the market feed.
const metadataInterval = 24 * time.Hour

// CoinSource is the watchlist surface the coin jobs read and update.
type CoinSource interface {
	GetByID(id int64) (*domain.Coin, error)
	ListActive() ([]domain.Coin, error)
	UpdateMetadata(id int64, symbol, name string, decimals *int64) error
}

// SampleStore is the rolling-window surface the backfill seeds.
type SampleStore interface {
	Append(coinID int64, sample domain.RollingDataPoint) error
	DataPointsCount(coinID int64) (int64, error)
	RebuildState(coinID int64, now time.Time) error
}

// MarketData fetches live token snapshots.
type MarketData interface {
	BatchGetTokens(ctx context.Context, requests []dexscreener.TokenRequest) (map[string]*dexscreener.PairInfo, error)
}

// NewBackfillType builds the warm-up backfill work type: any active coin
// with an empty rolling window gets a first sample and a state rebuild, so
// the evaluator has aggregates to fold from the next checkpoint on.
func NewBackfillType(coins CoinSource, store SampleStore, market MarketData, log zerolog.Logger) *WorkType {
	logger := log.With().Str("component", "work_backfill").Logger()

	return &WorkType{
		ID:       TypeBackfill,
		Priority: PriorityHigh,
		FindSubjects: func() []string {
			active, err := coins.ListActive()
			if err != nil {
				logger.Warn().Err(err).Msg("Failed to list coins for backfill")
				return nil
			}

			var subjects []string
			for _, coin := range active {
				count, err := store.DataPointsCount(coin.ID)
				if err != nil {
					logger.Warn().Err(err).Int64("coin_id", coin.ID).Msg("Failed to count samples")
					continue
				}
				if count == 0 {
					subjects = append(subjects, strconv.FormatInt(coin.ID, 10))
				}
			}
			return subjects
		},
		Execute: func(ctx context.Context, subject string) error {
			coin, err := subjectCoin(coins, subject)
			if err != nil {
				return err
			}

			pair, err := fetchPair(ctx, market, coin)
			if err != nil {
				return err
			}

			now := time.Now().UTC()
			ts := pair.Meta.FetchedAt
			if ts <= 0 {
				ts = now.Unix()
			}

			err = store.Append(coin.ID, domain.RollingDataPoint{
				CoinID:    coin.ID,
				Timestamp: ts,
				Price:     pair.Price,
				Volume:    pair.Volume24h,
				MarketCap: pair.MarketCap,
			})
			if err != nil {
				return fmt.Errorf("failed to seed rolling window for %s: %w", coin.Symbol, err)
			}

			if err := store.RebuildState(coin.ID, now); err != nil {
				return fmt.Errorf("failed to rebuild state for %s: %w", coin.Symbol, err)
			}

			logger.Info().Int64("coin_id", coin.ID).Str("symbol", coin.Symbol).
				Float64("price", pair.Price).Msg("Warm-up backfill seeded")
			return nil
		},
	}
}

// NewMetadataType builds the metadata refresh work type: symbol and name
// drift on upstream relists, so each coin re-reads them daily. Decimals are
// preserved; the market feed does not carry them.
func NewMetadataType(coins CoinSource, market MarketData, log zerolog.Logger) *WorkType {
	logger := log.With().Str("component", "work_metadata").Logger()

	return &WorkType{
		ID:       TypeMetadata,
		Priority: PriorityLow,
		Interval: metadataInterval,
		FindSubjects: func() []string {
			active, err := coins.ListActive()
			if err != nil {
				logger.Warn().Err(err).Msg("Failed to list coins for metadata refresh")
				return nil
			}

			subjects := make([]string, 0, len(active))
			for _, coin := range active {
				subjects = append(subjects, strconv.FormatInt(coin.ID, 10))
			}
			return subjects
		},
		Execute: func(ctx context.Context, subject string) error {
			coin, err := subjectCoin(coins, subject)
			if err != nil {
				return err
			}

			pair, err := fetchPair(ctx, market, coin)
			if err != nil {
				return err
			}

			symbol := pair.Symbol
			if symbol == "" {
				symbol = coin.Symbol
			}
			name := pair.Name
			if name == "" {
				name = coin.Name
			}

			if symbol == coin.Symbol && name == coin.Name {
				return nil
			}

			if err := coins.UpdateMetadata(coin.ID, symbol, name, coin.Decimals); err != nil {
				return fmt.Errorf("failed to refresh metadata for %s: %w", coin.Symbol, err)
			}

			logger.Info().Int64("coin_id", coin.ID).
				Str("symbol", symbol).Str("was", coin.Symbol).
				Msg("Coin metadata refreshed")
			return nil
		},
	}
}

func subjectCoin(coins CoinSource, subject string) (*domain.Coin, error) {
	coinID, err := strconv.ParseInt(subject, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid work subject %q: %w", subject, err)
	}

	coin, err := coins.GetByID(coinID)
	if err != nil {
		return nil, fmt.Errorf("failed to load coin %d: %w", coinID, err)
	}
	if coin == nil || !coin.IsActive {
		return nil, fmt.Errorf("coin %d is not on the watchlist", coinID)
	}
	return coin, nil
}

func fetchPair(ctx context.Context, market MarketData, coin *domain.Coin) (*dexscreener.PairInfo, error) {
	request := dexscreener.TokenRequest{Chain: coin.Chain, TokenAddress: coin.TokenAddress}
	pairs, err := market.BatchGetTokens(ctx, []dexscreener.TokenRequest{request})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", coin.Symbol, err)
	}

	pair := pairs[request.Key()]
	if pair == nil {
		return nil, fmt.Errorf("no pair found for %s:%s", coin.Chain, coin.TokenAddress)
	}
	if pair.Meta.Anomalous {
		return nil, fmt.Errorf("snapshot for %s looks anomalous (%s)", coin.Symbol, pair.Meta.AnomalyReason)
	}
	return pair, nil
}
