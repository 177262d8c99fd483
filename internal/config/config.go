// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	DataDir  string // base directory for databases and backup staging
	Port     int
	LogLevel string
	DevMode  bool

	// Market data provider
	MarketDataBaseURL string
	MarketDataAPIKey  string

	// Batch calculation tuning
	LookbackDays       int // regression/correlation lookback window (trading days)
	MinRegressionDays  int // below this the factor regression is flagged limited_history
	MinPairOverlapDays int // minimum overlapping days for a correlation pair

	// Nightly batch schedule (cron expression with seconds field, empty disables)
	BatchSchedule string

	Backup *BackupConfig
}

// BackupConfig holds S3-compatible backup settings. Enabled only when a
// bucket is configured.
type BackupConfig struct {
	Bucket          string
	Endpoint        string // custom endpoint for R2/minio, empty for AWS S3
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Schedule        string // cron expression with seconds field
	Retention       int    // number of backups to keep remotely
}

// Enabled reports whether cloud backups are configured.
func (b *BackupConfig) Enabled() bool {
	return b != nil && b.Bucket != ""
}

// Load reads configuration from environment variables (and .env if present).
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("VANTAGE_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("PORT", 8002),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),

		MarketDataBaseURL: getEnv("MARKET_DATA_URL", "https://api.marketdata.app/v1"),
		MarketDataAPIKey:  getEnv("MARKET_DATA_API_KEY", ""),

		LookbackDays:       getEnvAsInt("LOOKBACK_DAYS", 150),
		MinRegressionDays:  getEnvAsInt("MIN_REGRESSION_DAYS", 30),
		MinPairOverlapDays: getEnvAsInt("MIN_PAIR_OVERLAP_DAYS", 30),

		BatchSchedule: getEnv("BATCH_SCHEDULE", "0 0 2 * * *"), // 02:00 daily

		Backup: &BackupConfig{
			Bucket:          getEnv("BACKUP_S3_BUCKET", ""),
			Endpoint:        getEnv("BACKUP_S3_ENDPOINT", ""),
			Region:          getEnv("BACKUP_S3_REGION", "auto"),
			AccessKeyID:     getEnv("BACKUP_S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("BACKUP_S3_SECRET_ACCESS_KEY", ""),
			Schedule:        getEnv("BACKUP_SCHEDULE", "0 30 3 * * *"), // after the nightly batch
			Retention:       getEnvAsInt("BACKUP_RETENTION", 14),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	if c.LookbackDays < 2 {
		return fmt.Errorf("LOOKBACK_DAYS must be at least 2, got %d", c.LookbackDays)
	}
	if c.MinRegressionDays < 2 {
		return fmt.Errorf("MIN_REGRESSION_DAYS must be at least 2, got %d", c.MinRegressionDays)
	}
	if c.MinPairOverlapDays < 2 {
		return fmt.Errorf("MIN_PAIR_OVERLAP_DAYS must be at least 2, got %d", c.MinPairOverlapDays)
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
