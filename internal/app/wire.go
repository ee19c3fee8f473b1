package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/listingengine/internal/blob/s3"
	"github.com/alanyoungcy/listingengine/internal/cache/redis"
	"github.com/alanyoungcy/listingengine/internal/config"
	"github.com/alanyoungcy/listingengine/internal/domain"
	"github.com/alanyoungcy/listingengine/internal/notify"
	"github.com/alanyoungcy/listingengine/internal/platform/payments"
	"github.com/alanyoungcy/listingengine/internal/server/handler"
	"github.com/alanyoungcy/listingengine/internal/service"
	"github.com/alanyoungcy/listingengine/internal/store/memory"
	"github.com/alanyoungcy/listingengine/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the modes need. Optional
// ones are nil interfaces when their backend is not configured.
type Dependencies struct {
	Ledger  domain.Ledger
	Refunds domain.RefundQueue

	// Redis-backed, optional.
	Cache   domain.ListingCache
	Bus     domain.SignalBus
	Limiter domain.RateLimiter
	Locks   domain.LockManager
	Cursors domain.CursorStore

	// S3-backed, optional.
	Archiver   domain.Archiver
	BlobReader domain.BlobReader

	// Transfer is nil when no payment gateway is configured.
	Transfer domain.Transferrer
	Notifier *notify.Notifier

	// Health holds one probe per external backend.
	Health map[string]handler.HealthCheck
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Health: map[string]handler.HealthCheck{}}

	unitCost, err := cfg.UnitCost()
	if err != nil {
		return fail(fmt.Errorf("wire: quota unit cost: %w", err))
	}

	// --- Ledger ---
	switch cfg.Store.Backend {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.Ledger = postgres.NewLedger(pgClient.Pool(), unitCost)
		deps.Health["postgres"] = pgClient.Pool().Ping
	default:
		logger.WarnContext(ctx, "wire: using in-memory ledger; listings are lost on restart")
		deps.Ledger = memory.NewState(unitCost)
	}

	if err := service.NewCurrencyService(deps.Ledger, logger).Add(ctx, cfg.Currencies.Accepted...); err != nil {
		return fail(fmt.Errorf("wire: seed currencies: %w", err))
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Bus = redis.NewSignalBusWithMaxLen(redisClient, cfg.Redis.EventStreamMax)
		deps.Cache = redis.NewListingCache(redisClient, cfg.Redis.CacheTTL.Duration)
		deps.Limiter = redis.NewRateLimiter(redisClient)
		deps.Locks = redis.NewLockManager(redisClient)
		deps.Cursors = redis.NewCursorStore(redisClient)
		deps.Refunds = redis.NewRefundQueue(redisClient, cfg.Refund.Stream)
		deps.Health["redis"] = redisClient.Ping
	} else {
		deps.Refunds = memory.NewRefundQueue()
	}

	// --- S3 ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			KeyPrefix:      cfg.S3.KeyPrefix,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(deps.Ledger, s3blob.NewWriter(s3Client))
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Health["s3"] = s3Client.Health
	}

	// --- Payment gateway ---
	if cfg.Refund.TransferURL != "" {
		deps.Transfer = payments.NewClient(cfg.Refund.TransferURL, cfg.Refund.TransferAPIKey, cfg.Refund.TransferTimeout.Duration)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
