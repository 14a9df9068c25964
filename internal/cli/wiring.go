package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/user/patentscope-crawler/internal/adapter/chromedp_browser"
	"github.com/user/patentscope-crawler/internal/adapter/postgres"
	redis_adapter "github.com/user/patentscope-crawler/internal/adapter/redis"
	"github.com/user/patentscope-crawler/internal/repository"
	"github.com/user/patentscope-crawler/internal/usecase"
	"github.com/user/patentscope-crawler/pkg/config"
)

func extractorConfig(cfg *config.Config) usecase.ExtractorConfig {
	ec := usecase.DefaultExtractorConfig()
	ec.BaseURL = cfg.BaseURL
	ec.MaxAttempts = cfg.MaxAttempts
	ec.Timeout = cfg.PageTimeout()
	ec.LandmarkWait = cfg.LandmarkWait()
	return ec
}

func poolConfig(cfg *config.Config) usecase.PoolConfig {
	pc := usecase.DefaultPoolConfig()
	pc.QueueSize = cfg.QueueSize
	return pc
}

func browserFactory(cfg *config.Config, logger *zap.Logger) repository.BrowserFactory {
	identities := chromedp_browser.NewIdentityPool(cfg.ProxyList(), nil)
	return chromedp_browser.NewFactory(chromedp_browser.Options{
		Headless:  cfg.Headless,
		BaseURL:   cfg.BaseURL,
		PhaseWait: 2 * time.Second,
	}, identities, logger)
}

// openCache connects to Redis. An unreachable Redis disables caching instead of failing start-up.
func openCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*redis_adapter.RecordCacheImpl, func()) {
	if !cfg.CacheEnabled {
		logger.Info("Record cache disabled")
		return nil, func() {}
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Warn("Redis unreachable, running without record cache", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		_ = rdb.Close()
		return nil, func() {}
	}
	logger.Info("Redis connection established", zap.String("addr", cfg.RedisAddr))
	return redis_adapter.NewRecordCache(rdb, cfg.CacheTTL()), func() { _ = rdb.Close() }
}

// openArchive connects to PostgreSQL when POSTGRES_URL is set.
func openArchive(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*postgres.RecordRepoImpl, func(), error) {
	if cfg.PostgresURL == "" {
		logger.Info("Record archive disabled")
		return nil, func() {}, nil
	}
	dbpool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	repo := postgres.NewRecordRepo(dbpool)
	if err := repo.EnsureSchema(ctx); err != nil {
		dbpool.Close()
		return nil, nil, fmt.Errorf("initialize schema: %w", err)
	}
	logger.Info("PostgreSQL connection pool established")
	return repo, dbpool.Close, nil
}
