// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir      string  // Base directory for the price database (always absolute)
	Port         int     // HTTP listen port
	LogLevel     string  // debug, info, warn, error
	DevMode      bool    // Disables response compression, enables verbose errors
	RiskFreeRate float64 // Annual risk-free rate used as the default for optimizations

	// Cron schedules (empty string disables the job)
	CacheSweepSchedule   string // e.g. "@every 10m"
	ValidationSchedule   string // e.g. "30 2 * * *" (nightly walk-forward revalidation)
	ValidationSymbolsCSV string // comma-separated symbols for the scheduled validation

	Archive *ArchiveConfig
}

// ArchiveConfig holds S3-compatible storage settings for report archiving.
// Endpoint is optional; when set it points at an S3-compatible service
// (e.g. Cloudflare R2 or MinIO) instead of AWS proper.
type ArchiveConfig struct {
	Enabled         bool
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("QUANT_DATA_DIR", "./data")

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:              absDataDir,
		Port:                 getEnvAsInt("QUANT_PORT", 8002),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		DevMode:              getEnvAsBool("DEV_MODE", false),
		RiskFreeRate:         getEnvAsFloat("RISK_FREE_RATE", 0.05),
		CacheSweepSchedule:   getEnv("CACHE_SWEEP_SCHEDULE", "@every 10m"),
		ValidationSchedule:   getEnv("VALIDATION_SCHEDULE", ""),
		ValidationSymbolsCSV: getEnv("VALIDATION_SYMBOLS", ""),
		Archive:              loadArchiveConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.Archive != nil && c.Archive.Enabled && c.Archive.Bucket == "" {
		return fmt.Errorf("report archiving enabled but ARCHIVE_BUCKET not set")
	}
	return nil
}

// loadArchiveConfig loads S3 archive settings. Archiving is enabled only
// when a bucket is configured.
func loadArchiveConfig() *ArchiveConfig {
	bucket := getEnv("ARCHIVE_BUCKET", "")
	return &ArchiveConfig{
		Enabled:         bucket != "",
		Bucket:          bucket,
		Region:          getEnv("ARCHIVE_REGION", "auto"),
		Endpoint:        getEnv("ARCHIVE_ENDPOINT", ""),
		AccessKeyID:     getEnv("ARCHIVE_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("ARCHIVE_SECRET_ACCESS_KEY", ""),
	}
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
