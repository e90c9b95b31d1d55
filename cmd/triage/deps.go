package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mailtriage/internal/config"
	"mailtriage/internal/engine"
	"mailtriage/internal/repository"
	"mailtriage/pkg/db"
	"mailtriage/pkg/redis"
)

// openStore 配置了数据库时使用 PostgreSQL（并执行迁移），否则退回内存存储
func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (engine.Store, *pgxpool.Pool, error) {
	if !cfg.DB.Enabled() {
		log.Warn("DB not configured, using in-memory store; state is lost on restart")
		return repository.NewMemoryStore(), nil, nil
	}

	log.Info("Initializing database connection...",
		zap.String("db_host", cfg.DB.Host),
		zap.Int("db_port", cfg.DB.Port),
	)
	pool, err := db.NewConnection(ctx, cfg.DB, log)
	if err != nil {
		return nil, nil, fmt.Errorf("init db: %w", err)
	}
	if err := db.Migrate(ctx, pool, log); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	log.Info("Database connection established successfully")
	return repository.NewPostgresStore(pool), pool, nil
}

// openRedis 未配置地址时返回 nil，去重与重试计数降级为进程内实现
func openRedis(ctx context.Context, cfg *config.Config, log *zap.Logger) (*goredis.Client, error) {
	if cfg.Redis.Addr == "" {
		log.Warn("Redis not configured, dedup disabled and retry attempts kept in memory")
		return nil, nil
	}
	rdb, err := redis.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}
	log.Info("Redis connected", zap.String("addr", cfg.Redis.Addr))
	return rdb, nil
}
