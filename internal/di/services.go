// Package di provides dependency injection for service implementations.
package di

import (
	"fmt"

	"github.com/aristath/coinwatch/internal/alerts"
	"github.com/aristath/coinwatch/internal/clients/dexscreener"
	"github.com/aristath/coinwatch/internal/clients/stream"
	"github.com/aristath/coinwatch/internal/clients/telegram"
	"github.com/aristath/coinwatch/internal/config"
	"github.com/aristath/coinwatch/internal/database"
	"github.com/aristath/coinwatch/internal/events"
	"github.com/aristath/coinwatch/internal/hotlist"
	"github.com/aristath/coinwatch/internal/metrics"
	"github.com/aristath/coinwatch/internal/mints"
	"github.com/aristath/coinwatch/internal/reliability"
	"github.com/aristath/coinwatch/internal/watchlist"
	"github.com/rs/zerolog"
)

// InitializeServices creates the clients, evaluators and the alert pipeline.
//
// Order matters: the bus and breakers come first because every client routes
// through a breaker and every breaker trip lands on the bus; the dispatcher
// subscribes before any evaluator exists so no early emission can race past
// the outbox.
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}

	// Event bus and metrics registry
	container.EventBus = events.NewBus(log)
	container.Metrics = metrics.NewRegistry()
	container.Metrics.Observe(container.EventBus)

	// Circuit breakers for every upstream this process talks to
	container.Breakers = reliability.NewBreakerManager(container.EventBus, log)
	container.Breakers.Register(reliability.DefaultBreakerConfig(reliability.BreakerMarketData))
	container.Breakers.Register(reliability.DefaultBreakerConfig(reliability.BreakerChatSend))
	container.Breakers.Register(reliability.DefaultBreakerConfig(reliability.BreakerPersistence))

	// Market data client with the snapshot cache in cache.db
	snapshotCache := dexscreener.NewSnapshotCache(container.CacheDB, log)
	container.Market = dexscreener.NewClient(
		cfg.RateLimitDelay,
		container.Breakers,
		snapshotCache,
		container.EventBus,
		log,
	)

	// Chat delivery client
	container.Chat = telegram.NewClient(cfg.TelegramBotToken, container.Breakers, log)

	// Alert pipeline: the dispatcher turns bus events into outbox rows, the
	// sender drains the outbox into the chat client. The dispatcher registers
	// now so nothing emitted later can bypass the fingerprint dedup.
	container.Dispatcher = alerts.NewDispatcher(
		container.OutboxRepo,
		cfg.TelegramChatID,
		cfg.GroupChatID(),
		log,
	)
	container.Dispatcher.Register(container.EventBus)
	container.Sender = alerts.NewSender(container.OutboxRepo, container.Chat, container.EventBus, log)

	// Watchlist and hot list services for the admin surface
	container.WatchlistSvc = watchlist.NewService(
		container.CoinRepo,
		container.WatchRepo,
		container.RollingStore,
		container.Market,
		container.EventBus,
		log,
	)
	container.HotlistSvc = hotlist.NewService(
		container.EntryRepo,
		container.ScheduleRepo,
		container.HistoryRepo,
		container.CoinRepo,
		container.Market,
		container.EventBus,
		log,
	)

	// Trigger evaluators and the anchor reporter
	container.LongEvaluator = watchlist.NewEvaluator(
		container.WatchDB,
		container.WatchRepo,
		container.ScheduleRepo,
		container.RollingStore,
		container.StateRepo,
		container.HistoryRepo,
		container.Market,
		container.Breakers,
		container.EventBus,
		log,
	)
	container.HotEvaluator = hotlist.NewEvaluator(
		container.WatchDB,
		container.EntryRepo,
		container.ScheduleRepo,
		container.HistoryRepo,
		container.Market,
		container.Breakers,
		container.EventBus,
		log,
	)
	container.Reporter = watchlist.NewReporter(
		container.WatchRepo,
		container.ScheduleRepo,
		container.RollingStore,
		container.Market,
		container.EventBus,
		cfg.Timezone,
		log,
	)

	// Webhook ingest
	container.MintIngestor = mints.NewIngestor(container.MintRepo, log)

	// Backup service. Without a configured bucket the store stays a nil
	// interface and Enabled() reports false, so the daily job is a logged
	// no-op. All three databases go into the archive: watch and mints are
	// the durable state, and cache holds the 72h sample window that polling
	// cannot replay after a box loss.
	var blob reliability.BlobStore
	if cfg.Backup != nil && cfg.Backup.Bucket != "" {
		store, err := reliability.NewObjectStore(
			cfg.Backup.Endpoint,
			cfg.Backup.Region,
			cfg.Backup.Bucket,
			cfg.Backup.AccessKeyID,
			cfg.Backup.SecretKey,
			log,
		)
		if err != nil {
			return fmt.Errorf("failed to initialize backup store: %w", err)
		}
		blob = store
	}
	prefix, keep := "", 0
	if cfg.Backup != nil {
		prefix, keep = cfg.Backup.Prefix, cfg.Backup.KeepCount
	}
	container.BackupService = reliability.NewBackupService(
		map[string]*database.DB{
			"watch": container.WatchDB,
			"cache": container.CacheDB,
			"mints": container.MintsDB,
		},
		blob,
		cfg.DataDir,
		prefix,
		keep,
		log,
	)

	// Optional websocket price stream densifying the window between polls
	if cfg.WSEnabled {
		container.StreamClient = stream.NewClient(
			cfg.WSURL,
			container.CoinRepo,
			container.CoinRepo,
			container.RollingStore,
			dexscreener.NewValidator(log),
			log,
		)
		// A new watchlist coin widens the stream subscription in place.
		streamClient := container.StreamClient
		container.EventBus.Subscribe(events.CoinAdded, func(*events.Event) {
			if err := streamClient.Resubscribe(); err != nil {
				log.Warn().Err(err).Msg("Failed to resubscribe price stream")
			}
		})
	}

	log.Info().Msg("All services initialized")

	return nil
}
