package main

import (
	"context"
	"fmt"

	"github.com/maneesh/smilewall/internal/config"
	"github.com/maneesh/smilewall/internal/storage"
	"github.com/rs/zerolog"
)

func openBlobStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (storage.BlobStore, error) {
	switch cfg.BlobBackend {
	case "minio":
		logger.Info().Str("endpoint", cfg.MinIOEndpoint).Msg("Connecting to MinIO...")
		return storage.NewMinioStore(ctx,
			cfg.MinIOEndpoint,
			cfg.MinIOAccessKey,
			cfg.MinIOSecretKey,
			cfg.MinIOBucketName,
			cfg.MinIOUseSSL,
			logger,
		)
	case "s3":
		logger.Info().Str("bucket", cfg.S3Bucket).Str("region", cfg.S3Region).Msg("Connecting to S3...")
		return storage.NewS3Store(ctx, storage.S3Options{
			Bucket:       cfg.S3Bucket,
			Region:       cfg.S3Region,
			Endpoint:     cfg.S3Endpoint,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			UsePathStyle: cfg.S3UsePathStyle,
		}, logger)
	case "disk":
		return storage.NewDiskStore(cfg.ImagesDir, logger)
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.BlobBackend)
	}
}

func openDocumentStore(ctx context.Context, cfg *config.Config) (storage.DocumentStore, error) {
	switch cfg.PersistBackend {
	case "mysql":
		return storage.NewTiDBDocumentStore(ctx, cfg.GetDSN())
	case "file":
		return storage.NewFileDocumentStore(cfg.DataDir, cfg.PersistCompress)
	default:
		return nil, fmt.Errorf("unknown persist backend %q", cfg.PersistBackend)
	}
}

func openSnapshotCache(ctx context.Context, cfg *config.Config) (storage.SnapshotCache, error) {
	switch cfg.CacheBackend {
	case "redis":
		return storage.NewRedisCache(ctx, cfg.GetRedisAddr(), cfg.RedisPassword, cfg.RedisDB, cfg.CacheTTL)
	case "memory":
		return storage.NewMemoryCache(cfg.GetCacheSizeBytes(), cfg.CacheTTL), nil
	case "none":
		return storage.NoopCache{}, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}
}
