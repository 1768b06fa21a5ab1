package blobstore

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
)

// StoreType represents the blob storage backend.
type StoreType string

const (
	StoreTypeFS       StoreType = "fs"
	StoreTypeHTTP     StoreType = "http"
	StoreTypeS3       StoreType = "s3"
	StoreTypeGCS      StoreType = "gcs"
	StoreTypeRedis    StoreType = "redis"
	StoreTypePostgres StoreType = "postgres"
	StoreTypeSQLite   StoreType = "sqlite"
	StoreTypeMemory   StoreType = "memory"
)

// Config selects and configures a backend.
type Config struct {
	Type StoreType

	// fs and sqlite
	DataDir string

	// http
	HTTPURL string

	// s3
	S3Bucket   string
	S3Region   string
	S3Endpoint string
	S3Prefix   string

	// gcs
	GCSBucket string
	GCSPrefix string

	// redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// postgres
	DatabaseURL string
}

// New creates the configured backend. The result is not wrapped for retries;
// see NewRetryingStore.
func New(ctx context.Context, cfg Config) (Store, error) {
	storeType := cfg.Type
	if storeType == "" {
		storeType = StoreTypeFS
	}

	switch storeType {
	case StoreTypeFS:
		return NewFileStore(filepath.Join(dataDir(cfg), "blobs"))
	case StoreTypeHTTP:
		if cfg.HTTPURL == "" {
			return nil, fmt.Errorf("BLOB_HTTP_URL is required for http storage")
		}
		return NewHTTPStore(cfg.HTTPURL, nil)
	case StoreTypeS3:
		return newS3Store(ctx, cfg)
	case StoreTypeGCS:
		return newGCSStore(ctx, cfg)
	case StoreTypeRedis:
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("REDIS_ADDR is required for redis storage")
		}
		return NewRedisStore(RedisStoreConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	case StoreTypePostgres:
		return newPostgresStore(ctx, cfg)
	case StoreTypeSQLite:
		db, err := sql.Open("sqlite", filepath.Join(dataDir(cfg), "blobs.db"))
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
		return NewSQLiteStore(db)
	case StoreTypeMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported blob storage type: %s", storeType)
	}
}

func dataDir(cfg Config) string {
	if cfg.DataDir == "" {
		return "data"
	}
	return cfg.DataDir
}

func newS3Store(ctx context.Context, cfg Config) (Store, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("BLOB_S3_BUCKET is required for S3 storage")
	}
	region := cfg.S3Region
	if region == "" {
		region = "us-east-1"
	}
	return NewS3Store(ctx, S3StoreConfig{
		Bucket:   cfg.S3Bucket,
		Region:   region,
		Endpoint: cfg.S3Endpoint,
		Prefix:   cfg.S3Prefix,
	})
}

func newPostgresStore(ctx context.Context, cfg Config) (Store, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for postgres storage")
	}
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	s := NewPostgresStore(db)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}
