package app

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"log/slog"

	s3blob "github.com/volkv/snipebot/internal/blob/s3"
	"github.com/volkv/snipebot/internal/cache/redis"
	"github.com/volkv/snipebot/internal/config"
	"github.com/volkv/snipebot/internal/crypto"
	"github.com/volkv/snipebot/internal/domain"
	"github.com/volkv/snipebot/internal/notify"
	"github.com/volkv/snipebot/internal/platform/jupiter"
	"github.com/volkv/snipebot/internal/platform/solana"
	"github.com/volkv/snipebot/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Stores
	PositionStore  domain.PositionStore
	TradeStore     domain.TradeStore
	ExecutionStore domain.ExecutionStore
	SnapshotStore  domain.SnapshotStore

	// Caches and messaging
	PriceCache domain.PriceCache
	SignalBus  domain.SignalBus
	Outcomes   domain.OutcomeRecorder

	// External services
	Ledger *solana.Client
	Quotes *jupiter.Client

	// SignerKey is nil unless trading is enabled in trade mode.
	SignerKey ed25519.PrivateKey

	// Archiver is nil unless archiving is enabled.
	Archiver *s3blob.Archiver

	// Notifications
	Notifier *notify.Notifier
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

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	tradeStore := postgres.NewTradeStore(pool)
	execStore := postgres.NewExecutionStore(pool)
	deps.PositionStore = postgres.NewPositionStore(pool)
	deps.TradeStore = tradeStore
	deps.ExecutionStore = execStore
	deps.SnapshotStore = postgres.NewSnapshotStore(pool)

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

	deps.PriceCache = redis.NewPriceCache(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	deps.Outcomes = redis.NewOutcomeFeed(redisClient)

	// --- Chain RPC and swap aggregator ---
	deps.Ledger = solana.NewClient(cfg.Solana.RPCURL, cfg.Solana.FallbackRPCs, cfg.Solana.Commitment)
	deps.Quotes = jupiter.NewClient(cfg.Jupiter.QuoteHost, cfg.Jupiter.SwapHost,
		func(ctx context.Context, mint string) (int, error) {
			info, err := deps.Ledger.MintInfo(ctx, mint)
			if err != nil {
				return 0, err
			}
			return info.Decimals, nil
		})

	// --- Signing key (live trading only) ---
	if cfg.Mode == "trade" && cfg.Trading.Enabled {
		key, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: signing key: %w", err)
		}
		deps.SignerKey = key
	}

	// --- S3 cold storage ---
	if cfg.Archive.Enabled {
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

		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			tradeStore,
			execStore,
			cfg.Archive.RetentionDays,
			cfg.Archive.Interval.Duration,
			logger,
		)
	}

	// --- Notifications ---
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
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
