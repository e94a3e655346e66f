package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/trustbet/relayd/internal/blob/s3"
	"github.com/trustbet/relayd/internal/cache/redis"
	"github.com/trustbet/relayd/internal/config"
	"github.com/trustbet/relayd/internal/crypto"
	"github.com/trustbet/relayd/internal/domain"
	"github.com/trustbet/relayd/internal/service"
	"github.com/trustbet/relayd/internal/store/postgres"
)

// Dependencies bundles the infrastructure-level dependencies the relayer
// needs. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	Identity *crypto.Identity

	JobStore     domain.JobStore
	ReceiptCache domain.ReceiptCache
	RateLimiter  domain.RateLimiter

	// Archiver is nil unless S3 storage is enabled.
	Archiver service.SettlementArchiver
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Relayer identity ---
	keyHex, err := crypto.LoadPrivateKey(crypto.KeySource{
		RawHex:        cfg.Relayer.PrivateKey,
		EncryptedPath: cfg.Relayer.EncryptedKeyPath,
		Password:      cfg.Relayer.KeyPassword,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("wire: relayer key: %w", err)
	}
	identity, err := crypto.NewIdentity(keyHex)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: relayer identity: %w", err)
	}
	deps.Identity = identity
	logger.InfoContext(ctx, "relayer identity loaded",
		slog.String("address", identity.Address().Hex()),
	)

	// --- PostgreSQL job journal ---
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
	deps.JobStore = postgres.NewJobStore(pgClient.Pool())

	// --- Redis receipt cache and rate limiter ---
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

	deps.ReceiptCache = redis.NewReceiptCache(redisClient, cfg.Redis.ReceiptTTL.Duration)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)

	// --- S3 settlement archive (optional) ---
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
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client))
	}

	return deps, cleanup, nil
}
