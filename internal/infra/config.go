package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"atelier/internal/domain"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	DBMaxConns  int
	DBMinConns  int
	RedisURL    string

	TenantMode      domain.TenantMode
	DefaultTenantID string

	LocalStorageDir     string
	StorageBaseURL      string
	S3Bucket            string
	S3Region            string
	S3AccessKeyID       string
	S3SecretAccessKey   string
	S3Endpoint          string
	S3UsePathStyle      bool
	S3PublicBaseURL     string
	GCSBucket           string
	DefaultProvider     string
	VideoProvider       string
	MaxArtifactSize     int64
	AllowedContentTypes []string
	PresignTTL          time.Duration

	CreditFloor decimal.Decimal

	ProcessingDeadline time.Duration
	WorkerPollInterval time.Duration
	WorkerConcurrency  int
	ReaperInterval     time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	AllowedOrigins   []string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBMaxConns:  getEnvInt("DB_MAX_CONNS", 10),
		DBMinConns:  getEnvInt("DB_MIN_CONNS", 1),
		RedisURL:    os.Getenv("REDIS_URL"),

		TenantMode:      domain.TenantMode(getEnv("TENANT_MODE", string(domain.TenantModeMulti))),
		DefaultTenantID: os.Getenv("DEFAULT_TENANT_ID"),

		LocalStorageDir:     getEnv("LOCAL_STORAGE_DIR", "./data/artifacts"),
		StorageBaseURL:      getEnv("STORAGE_BASE_URL", "http://localhost:8080/files"),
		S3Bucket:            os.Getenv("S3_BUCKET"),
		S3Region:            getEnv("S3_REGION", "us-east-1"),
		S3AccessKeyID:       os.Getenv("S3_ACCESS_KEY_ID"),
		S3SecretAccessKey:   os.Getenv("S3_SECRET_ACCESS_KEY"),
		S3Endpoint:          os.Getenv("S3_ENDPOINT"),
		S3UsePathStyle:      getEnvBool("S3_USE_PATH_STYLE", false),
		S3PublicBaseURL:     os.Getenv("S3_PUBLIC_BASE_URL"),
		GCSBucket:           os.Getenv("GCS_BUCKET"),
		DefaultProvider:     getEnv("DEFAULT_STORAGE_PROVIDER", "local"),
		VideoProvider:       os.Getenv("VIDEO_STORAGE_PROVIDER"),
		MaxArtifactSize:     int64(getEnvInt("MAX_ARTIFACT_SIZE_BYTES", 100<<20)),
		AllowedContentTypes: splitList(getEnv("ALLOWED_CONTENT_TYPES", "image/png,image/jpeg,image/webp,video/mp4,audio/mpeg,audio/wav,text/plain")),
		PresignTTL:          time.Minute * time.Duration(getEnvInt("PRESIGN_TTL_MINUTES", 15)),

		ProcessingDeadline: time.Second * time.Duration(getEnvInt("PROCESSING_DEADLINE_SECONDS", 900)),
		WorkerPollInterval: time.Second * time.Duration(getEnvInt("WORKER_POLL_INTERVAL_SECONDS", 2)),
		WorkerConcurrency:  getEnvInt("WORKER_CONCURRENCY", 4),
		ReaperInterval:     time.Second * time.Duration(getEnvInt("REAPER_INTERVAL_SECONDS", 60)),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
		AllowedOrigins:   splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
	}

	floor, err := decimal.NewFromString(getEnv("CREDIT_FLOOR", "0"))
	if err != nil {
		return nil, fmt.Errorf("CREDIT_FLOOR is not a valid decimal: %w", err)
	}
	cfg.CreditFloor = floor

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	switch cfg.TenantMode {
	case domain.TenantModeSingle:
		if cfg.DefaultTenantID == "" {
			return nil, fmt.Errorf("DEFAULT_TENANT_ID is required in single-tenant mode")
		}
	case domain.TenantModeMulti:
	default:
		return nil, fmt.Errorf("TENANT_MODE must be %q or %q", domain.TenantModeSingle, domain.TenantModeMulti)
	}
	if cfg.MaxArtifactSize <= 0 {
		return nil, fmt.Errorf("MAX_ARTIFACT_SIZE_BYTES must be positive")
	}
	if cfg.DBMaxConns < 1 || cfg.DBMinConns < 0 || cfg.DBMinConns > cfg.DBMaxConns {
		return nil, fmt.Errorf("DB_MIN_CONNS/DB_MAX_CONNS out of range")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
