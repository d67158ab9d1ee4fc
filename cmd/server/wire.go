package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/adapter/notify"
	"github.com/rl1809/storefront/internal/adapter/storage"
	"github.com/rl1809/storefront/internal/config"
	"github.com/rl1809/storefront/internal/port"
)

// dialTimeout bounds how long a backend may take to answer the first ping.
const dialTimeout = 5 * time.Second

func nop() {}

// buildSource opens the catalog backend named by catalog.driver.
func buildSource(ctx context.Context, cfg *config.Config, log *zap.Logger) (port.CatalogSource, func(), error) {
	switch cfg.Catalog.Driver {
	case "csv":
		return storage.NewCSVAdapter(cfg.Catalog.Path, cfg.Catalog.CommaRune()), nop, nil

	case "xlsx":
		return storage.NewXLSXAdapter(cfg.Catalog.Path, cfg.Catalog.Sheet), nop, nil

	case "mysql":
		db, err := sql.Open("mysql", cfg.MySQL.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect mysql: %w", err)
		}
		db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

		pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to ping mysql: %w", err)
		}
		log.Info("connected to mysql")

		src, err := storage.NewMySQLAdapter(db, cfg.MySQL.Table)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		if err := src.EnsureSchema(pingCtx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return src, func() { db.Close() }, nil

	case "s3":
		client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
			Endpoint:     cfg.S3.Endpoint,
			Region:       cfg.S3.Region,
			AccessKey:    cfg.S3.AccessKey,
			SecretKey:    cfg.S3.SecretKey,
			UseSSL:       cfg.S3.UseSSL,
			UsePathStyle: cfg.S3.UsePathStyle,
		})
		if err != nil {
			return nil, nil, err
		}
		return storage.NewS3Adapter(client, cfg.S3.Bucket, cfg.S3.Key, cfg.Catalog.CommaRune(), log.Named("s3")), nop, nil
	}
	return nil, nil, fmt.Errorf("unknown catalog driver %q", cfg.Catalog.Driver)
}

// buildIdempotency returns nil when checkout deduplication is off.
func buildIdempotency(ctx context.Context, cfg *config.Config, log *zap.Logger) (port.IdempotencyStore, func(), error) {
	switch cfg.Orders.Idempotency {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("failed to connect redis: %w", err)
		}
		log.Info("connected to redis")
		return storage.NewRedisAdapter(rdb, cfg.Redis.Prefix, cfg.Orders.IdempotencyTTL), func() { rdb.Close() }, nil
	case "memory":
		return storage.NewMemoryIdempotency(cfg.Orders.IdempotencyTTL), nop, nil
	}
	return nil, nop, nil
}

func buildNotifier(cfg *config.Config, log *zap.Logger) port.Notifier {
	if cfg.Notify.WebhookURL == "" {
		return notify.NewLogNotifier(log.Named("seller"))
	}
	return notify.NewWebhookNotifier(notify.WebhookConfig{
		URL:           cfg.Notify.WebhookURL,
		Token:         cfg.Notify.WebhookToken,
		Timeout:       cfg.Notify.Timeout,
		RatePerMinute: cfg.Notify.RatePerMinute,
		Burst:         cfg.Notify.Burst,
	})
}
