package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/marketpool/settlement/internal/blob/s3"
	"github.com/marketpool/settlement/internal/cache/redis"
	"github.com/marketpool/settlement/internal/config"
	"github.com/marketpool/settlement/internal/domain"
	"github.com/marketpool/settlement/internal/market"
	"github.com/marketpool/settlement/internal/notify"
	"github.com/marketpool/settlement/internal/oracle"
	"github.com/marketpool/settlement/internal/service"
	"github.com/marketpool/settlement/internal/store/postgres"
	"github.com/marketpool/settlement/internal/token"
)

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// In-memory engine. The registry is the live source of truth for market
	// state; stores and caches mirror it.
	Registry *market.Registry
	Oracles  *oracle.Directory
	Token    *token.Ledger

	// Stores
	MarketStore domain.MarketStore
	StakeStore  domain.StakeStore
	PayoutStore domain.PayoutStore

	// Caches
	MarketCache domain.MarketCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage, nil unless S3 is enabled.
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader

	// Services
	Markets    *service.MarketService
	Settlement *service.SettlementService
	OracleSvc  *service.OracleService
	TokenSvc   *service.TokenService

	// Operator alerts, nil unless a notify channel is configured.
	Alerter *notify.Alerter
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Registry: market.NewRegistry(),
		Oracles:  oracle.NewDirectory(),
		Token:    token.NewLedger(),
	}

	// --- PostgreSQL ---
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
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.MarketStore = postgres.NewMarketStore(pool)
	deps.StakeStore = postgres.NewStakeStore(pool)
	deps.PayoutStore = postgres.NewPayoutStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.MarketCache = redis.NewMarketCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- S3 blob storage (optional, archives settled ledgers) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
	}

	// --- Services ---
	deps.Markets = service.NewMarketService(
		deps.Registry, deps.Oracles, deps.Token,
		deps.MarketStore, deps.StakeStore,
		deps.MarketCache, deps.SignalBus, logger,
	)
	deps.Settlement = service.NewSettlementService(
		deps.Registry,
		deps.MarketStore, deps.StakeStore, deps.PayoutStore,
		deps.MarketCache, deps.SignalBus, deps.LockManager,
		deps.BlobWriter, logger,
	)
	deps.OracleSvc = service.NewOracleService(deps.Oracles, logger)
	deps.TokenSvc = service.NewTokenService(deps.Token, cfg.AdminAddress(), logger)

	// --- Operator alerts ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) > 0 {
		channels := []string{service.ChannelMarkets, service.ChannelSettlement}
		deps.Alerter = notify.NewAlerter(deps.SignalBus, senders, channels, cfg.Notify.Events, logger)
	}

	return deps, cleanup, nil
}
