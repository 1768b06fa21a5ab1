// Package config loads relay configuration from the environment (12-factor),
// an optional YAML file named by NOSTRUST_CONFIG, and .env files.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/karipov/nostrust/pkg/blobstore"
)

// Key providers.
const (
	KeyProviderSoftware = "software"
	KeyProviderGramine  = "gramine"
)

// Config holds server configuration.
type Config struct {
	Port      string
	LogLevel  string
	LogFormat string
	DataDir   string

	BlobStore       blobstore.StoreType
	BlobHTTPURL     string
	BlobS3Bucket    string
	BlobS3Region    string
	BlobS3Endpoint  string
	BlobS3Prefix    string
	BlobGCSBucket   string
	BlobGCSPrefix   string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	DatabaseURL     string
	BlobTimeout     time.Duration
	BlobMaxTries    uint
	BlobMaxElapsed  time.Duration
	KeyTimeout      time.Duration
	LoadOnStart     bool
	KeyProvider     string
	KeystorePath    string
	GramineDir      string
	AdminJWTSecret  string
	RateLimitRPS    float64
	RateLimitBurst  int
	RelayInfoFile   string
	AdmissionPolicy string
	OTelEnabled     bool
	OTelEndpoint    string
	OTelInsecure    bool
}

var defaults = map[string]any{
	"PORT":                    "8080",
	"LOG_LEVEL":               "INFO",
	"LOG_FORMAT":              "json",
	"DATA_DIR":                "data",
	"BLOB_STORE":              string(blobstore.StoreTypeFS),
	"BLOB_HTTP_URL":           "",
	"BLOB_S3_BUCKET":          "",
	"BLOB_S3_REGION":          "us-east-1",
	"BLOB_S3_ENDPOINT":        "",
	"BLOB_S3_PREFIX":          "",
	"BLOB_GCS_BUCKET":         "",
	"BLOB_GCS_PREFIX":         "",
	"REDIS_ADDR":              "",
	"REDIS_PASSWORD":          "",
	"REDIS_DB":                0,
	"DATABASE_URL":            "",
	"BLOB_TIMEOUT":            "10s",
	"BLOB_MAX_TRIES":          5,
	"BLOB_MAX_ELAPSED":        "1m",
	"KEY_TIMEOUT":             "10s",
	"LOAD_ON_START":           true,
	"KEY_PROVIDER":            KeyProviderSoftware,
	"KEYSTORE_PATH":           "",
	"GRAMINE_ATTESTATION_DIR": "/dev/attestation",
	"ADMIN_JWT_SECRET":        "",
	"RATE_LIMIT_RPS":          20.0,
	"RATE_LIMIT_BURST":        40,
	"RELAY_INFO_FILE":         "",
	"ADMISSION_POLICY":        "",
	"OTEL_ENABLED":            false,
	"OTEL_ENDPOINT":           "localhost:4317",
	"OTEL_INSECURE":           false,
}

// LoadEnvFiles loads .env then .env.local into the process environment.
// Variables already set are not overridden.
func LoadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
}

// Load loads configuration from environment variables, layered over the
// YAML file named by NOSTRUST_CONFIG when set.
func Load() (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()

	if path := v.GetString("NOSTRUST_CONFIG"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		Port:            v.GetString("PORT"),
		LogLevel:        strings.ToUpper(v.GetString("LOG_LEVEL")),
		LogFormat:       strings.ToLower(v.GetString("LOG_FORMAT")),
		DataDir:         v.GetString("DATA_DIR"),
		BlobStore:       blobstore.StoreType(strings.ToLower(v.GetString("BLOB_STORE"))),
		BlobHTTPURL:     v.GetString("BLOB_HTTP_URL"),
		BlobS3Bucket:    v.GetString("BLOB_S3_BUCKET"),
		BlobS3Region:    v.GetString("BLOB_S3_REGION"),
		BlobS3Endpoint:  v.GetString("BLOB_S3_ENDPOINT"),
		BlobS3Prefix:    v.GetString("BLOB_S3_PREFIX"),
		BlobGCSBucket:   v.GetString("BLOB_GCS_BUCKET"),
		BlobGCSPrefix:   v.GetString("BLOB_GCS_PREFIX"),
		RedisAddr:       v.GetString("REDIS_ADDR"),
		RedisPassword:   v.GetString("REDIS_PASSWORD"),
		RedisDB:         v.GetInt("REDIS_DB"),
		DatabaseURL:     v.GetString("DATABASE_URL"),
		BlobTimeout:     v.GetDuration("BLOB_TIMEOUT"),
		BlobMaxTries:    v.GetUint("BLOB_MAX_TRIES"),
		BlobMaxElapsed:  v.GetDuration("BLOB_MAX_ELAPSED"),
		KeyTimeout:      v.GetDuration("KEY_TIMEOUT"),
		LoadOnStart:     v.GetBool("LOAD_ON_START"),
		KeyProvider:     strings.ToLower(v.GetString("KEY_PROVIDER")),
		KeystorePath:    v.GetString("KEYSTORE_PATH"),
		GramineDir:      v.GetString("GRAMINE_ATTESTATION_DIR"),
		AdminJWTSecret:  v.GetString("ADMIN_JWT_SECRET"),
		RateLimitRPS:    v.GetFloat64("RATE_LIMIT_RPS"),
		RateLimitBurst:  v.GetInt("RATE_LIMIT_BURST"),
		RelayInfoFile:   v.GetString("RELAY_INFO_FILE"),
		AdmissionPolicy: v.GetString("ADMISSION_POLICY"),
		OTelEnabled:     v.GetBool("OTEL_ENABLED"),
		OTelEndpoint:    v.GetString("OTEL_ENDPOINT"),
		OTelInsecure:    v.GetBool("OTEL_INSECURE"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the relay cannot start with.
func (c *Config) Validate() error {
	switch c.KeyProvider {
	case KeyProviderSoftware, KeyProviderGramine:
	default:
		return fmt.Errorf("unsupported KEY_PROVIDER %q", c.KeyProvider)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("unsupported LOG_FORMAT %q", c.LogFormat)
	}
	if c.BlobTimeout <= 0 || c.KeyTimeout <= 0 {
		return fmt.Errorf("BLOB_TIMEOUT and KEY_TIMEOUT must be positive")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	return nil
}

// KeystoreFile returns the software keystore path, defaulting under DataDir.
func (c *Config) KeystoreFile() string {
	if c.KeystorePath != "" {
		return c.KeystorePath
	}
	return strings.TrimRight(c.DataDir, "/") + "/keystore.json"
}

// Blob returns the blob store settings.
func (c *Config) Blob() blobstore.Config {
	return blobstore.Config{
		Type:          c.BlobStore,
		DataDir:       c.DataDir,
		HTTPURL:       c.BlobHTTPURL,
		S3Bucket:      c.BlobS3Bucket,
		S3Region:      c.BlobS3Region,
		S3Endpoint:    c.BlobS3Endpoint,
		S3Prefix:      c.BlobS3Prefix,
		GCSBucket:     c.BlobGCSBucket,
		GCSPrefix:     c.BlobGCSPrefix,
		RedisAddr:     c.RedisAddr,
		RedisPassword: c.RedisPassword,
		RedisDB:       c.RedisDB,
		DatabaseURL:   c.DatabaseURL,
	}
}

// Retry returns the blob retry policy.
func (c *Config) Retry() blobstore.RetryConfig {
	r := blobstore.DefaultRetryConfig()
	r.Timeout = c.BlobTimeout
	r.MaxTries = c.BlobMaxTries
	r.MaxElapsed = c.BlobMaxElapsed
	return r
}

// SlogLevel maps LOG_LEVEL onto a slog level. Unknown values mean INFO.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
