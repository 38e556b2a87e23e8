package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"filevault/internal/blob"
	"filevault/internal/config"
	"filevault/internal/core"
	"filevault/internal/infra/blob/s3"
	"filevault/internal/infra/cache/lru"
	"filevault/internal/infra/cache/redis"
	"filevault/internal/infra/persistence/memory"
	"filevault/internal/infra/persistence/postgres"
	"filevault/internal/infra/persistence/sqlite"
	"filevault/pkg/domain"
)

// app owns every long-lived dependency of a running server.
type app struct {
	svc     *core.Service
	store   domain.MetadataStore
	closers []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*app, error) {
	a := &app{}
	blobs, err := blob.Open(ctx, blob.Options{
		Driver: blob.Driver(cfg.BlobDriver),
		FSRoot: cfg.BlobFSRoot,
		S3: s3.Config{
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			PathStyle:       cfg.S3PathStyle,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	store, err := openMetadata(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	loc, err := cfg.Location()
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	opts := []core.Option{
		core.WithLogger(logger),
		core.WithMetricsRecorder(core.NewPrometheusMetrics(reg)),
		core.WithLocation(loc),
		core.WithMaxUploadBytes(cfg.MaxUploadBytes),
		core.WithUniqueFilenames(cfg.UniqueFilenames),
		core.WithDeleteConcurrency(cfg.DeleteConcurrency),
	}
	switch cfg.CacheDriver {
	case "lru":
		opts = append(opts, core.WithTenantCache(lru.New(cfg.CacheSize, cfg.CacheTTL)))
	case "redis":
		rc := redis.New(redis.Config{
			Addr:     cfg.RedisAddr,
			DB:       cfg.RedisDB,
			Password: cfg.RedisPassword,
			TTL:      cfg.CacheTTL,
		}, logger)
		if err := rc.Ping(ctx); err != nil {
			logger.Warn("tenant cache unreachable, lookups fall through to the store", slog.Any("error", err))
		}
		a.closers = append(a.closers, rc.Close)
		opts = append(opts, core.WithTenantCache(rc))
	}

	a.svc = core.NewService(store, blobs, opts...)
	logger.Info("service ready",
		slog.String("blob_driver", string(blobs.Driver())),
		slog.String("metadata_driver", cfg.MetadataDriver),
		slog.String("cache_driver", cfg.CacheDriver),
	)
	return a, nil
}

func openMetadata(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.MetadataStore, error) {
	switch cfg.MetadataDriver {
	case "postgres":
		if err := postgres.Migrate(cfg.DatabaseURL, logger); err != nil {
			return nil, err
		}
		return postgres.Connect(ctx, cfg.DatabaseURL, logger)
	case "sqlite":
		return sqlite.NewStore(ctx, cfg.SQLitePath)
	case "memory":
		return memory.NewStore(), nil
	default:
		return nil, fmt.Errorf("unknown metadata driver %q", cfg.MetadataDriver)
	}
}
