// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	// Telegram delivery
	TelegramBotToken    string
	TelegramChatID      string // Default admin chat (required)
	TelegramGroupChatID string // Optional separate destination for non-admin alerts

	// Persistence
	DatabasePath string // Path to watch.db; cache.db and mints.db live in the same directory
	DataDir      string // Directory derived from DatabasePath, always absolute

	// Market data
	RateLimitDelay time.Duration // Minimum delay between upstream requests

	// Scheduling
	Timezone *time.Location // IANA zone for anchor-time resolution

	// HTTP server
	Port int

	// Webhook ingest
	HeliusWebhookSecret string

	// Optional streaming ingest
	WSEnabled bool
	WSURL     string

	// Runtime profile
	LogLevel string
	DevMode  bool

	// Backup (optional; backups are disabled when Bucket is empty)
	Backup *BackupConfig
}

// BackupConfig holds S3-compatible backup destination settings
type BackupConfig struct {
	Endpoint    string
	Region      string
	Bucket      string
	AccessKeyID string
	SecretKey   string
	Prefix      string
	KeepCount   int // Number of archives retained during rotation
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dbPath := getEnv("DATABASE_URL", "")
	if dbPath == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	// Always resolve to an absolute path and make sure the directory exists
	absDBPath, err := filepath.Abs(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve database path: %w", err)
	}
	dataDir := filepath.Dir(absDBPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	tzName := getEnv("TIMEZONE", "UTC")
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", tzName, err)
	}

	nodeEnv := getEnv("NODE_ENV", "production")

	cfg := &Config{
		TelegramBotToken:    getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:      getEnv("TELEGRAM_CHAT_ID", ""),
		TelegramGroupChatID: getEnv("TELEGRAM_GROUP_CHAT_ID", ""),
		DatabasePath:        absDBPath,
		DataDir:             dataDir,
		RateLimitDelay:      time.Duration(getEnvAsInt("DEXSCREENER_RATE_LIMIT_MS", 200)) * time.Millisecond,
		Timezone:            loc,
		Port:                getEnvAsInt("HEALTH_CHECK_PORT", 3002),
		HeliusWebhookSecret: getEnv("HELIUS_WEBHOOK_SECRET", ""),
		WSEnabled:           getEnvAsBool("WS_ENABLED", false),
		WSURL:               getEnv("WS_URL", ""),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		DevMode:             nodeEnv != "production",
		Backup:              loadBackupConfig(),
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.TelegramBotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	if c.TelegramChatID == "" {
		return fmt.Errorf("TELEGRAM_CHAT_ID is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("HEALTH_CHECK_PORT out of range: %d", c.Port)
	}
	if c.WSEnabled && c.WSURL == "" {
		return fmt.Errorf("WS_URL is required when WS_ENABLED is set")
	}
	return nil
}

// CacheDBPath returns the path of the snapshot cache database
func (c *Config) CacheDBPath() string {
	return filepath.Join(c.DataDir, "cache.db")
}

// MintsDBPath returns the path of the mint event database
func (c *Config) MintsDBPath() string {
	return filepath.Join(c.DataDir, "mints.db")
}

// GroupChatID returns the destination for non-admin alerts, falling back to
// the admin chat when no group chat is configured.
func (c *Config) GroupChatID() string {
	if c.TelegramGroupChatID != "" {
		return c.TelegramGroupChatID
	}
	return c.TelegramChatID
}

// UpdateFromSettings updates configuration from the settings database.
// This should be called after the watch database is initialized.
// Settings DB values take precedence over environment variables.
func (c *Config) UpdateFromSettings(settingsRepo *SettingsRepository) error {
	// Only use settings DB values when non-empty; env vars remain the fallback
	token, err := settingsRepo.Get("telegram_bot_token")
	if err != nil {
		return fmt.Errorf("failed to get telegram_bot_token from settings: %w", err)
	}
	if token != nil && *token != "" {
		c.TelegramBotToken = *token
	}

	chatID, err := settingsRepo.Get("telegram_chat_id")
	if err != nil {
		return fmt.Errorf("failed to get telegram_chat_id from settings: %w", err)
	}
	if chatID != nil && *chatID != "" {
		c.TelegramChatID = *chatID
	}

	secret, err := settingsRepo.Get("helius_webhook_secret")
	if err != nil {
		return fmt.Errorf("failed to get helius_webhook_secret from settings: %w", err)
	}
	if secret != nil && *secret != "" {
		c.HeliusWebhookSecret = *secret
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

// loadBackupConfig loads the optional S3 backup destination
func loadBackupConfig() *BackupConfig {
	return &BackupConfig{
		Endpoint:    getEnv("BACKUP_S3_ENDPOINT", ""),
		Region:      getEnv("BACKUP_S3_REGION", "auto"),
		Bucket:      getEnv("BACKUP_S3_BUCKET", ""),
		AccessKeyID: getEnv("BACKUP_S3_ACCESS_KEY_ID", ""),
		SecretKey:   getEnv("BACKUP_S3_SECRET_ACCESS_KEY", ""),
		Prefix:      getEnv("BACKUP_S3_PREFIX", "coinwatch"),
		KeepCount:   getEnvAsInt("BACKUP_KEEP_COUNT", 7),
	}
}
