package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Local store backends
const (
	LocalStorePebble = "pebble"
	LocalStoreSQLite = "sqlite"
	LocalStoreMemory = "memory"
)

// Remote store backends
const (
	RemoteStoreNone       = "none"
	RemoteStoreClickHouse = "clickhouse"
	RemoteStoreMemory     = "memory"
)

// Config holds the application configuration
type Config struct {
	Port      string
	LogLevel  string
	LogFormat string // "json" or "console"

	// Persistence configuration
	LocalStore     string
	LocalStorePath string
	RemoteStore    string

	// ClickHouse configuration (required if RemoteStore is clickhouse)
	ClickHouseHost     string
	ClickHousePort     int
	ClickHouseDatabase string
	ClickHouseUser     string
	ClickHousePassword string
	ClickHouseUseTLS   bool

	// Telegram configuration; the bot is disabled without a token
	TelegramToken  string
	AllowedUserIDs []int64

	// Bot mode configuration
	WebhookMode bool   // If true, use webhook mode; if false, use polling mode
	WebhookURL  string // URL for webhook (required if WebhookMode is true)

	MaxUploadBytes int64

	DefaultYearlyGoal  int
	DefaultMonthlyGoal int
}

// BotEnabled reports whether a Telegram token is configured
func (c *Config) BotEnabled() bool {
	return c.TelegramToken != ""
}

// Load reads a .env file if present, then the environment
func Load() (*Config, error) {
	// Missing .env is fine; the environment may already be set
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	config := &Config{
		Port:      getEnv("PORT", "8080"),
		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "json")),
	}

	switch config.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid LOG_LEVEL: %s (expected debug, info, warn or error)", config.LogLevel)
	}
	switch config.LogFormat {
	case "json", "console":
	default:
		return nil, fmt.Errorf("invalid LOG_FORMAT: %s (expected json or console)", config.LogFormat)
	}

	// Local store (default: pebble)
	config.LocalStore = strings.ToLower(getEnv("LOCAL_STORE", LocalStorePebble))
	switch config.LocalStore {
	case LocalStorePebble:
		config.LocalStorePath = getEnv("LOCAL_STORE_PATH", "data/tracker.pebble")
	case LocalStoreSQLite:
		config.LocalStorePath = getEnv("LOCAL_STORE_PATH", "data/tracker.db")
	case LocalStoreMemory:
	default:
		return nil, fmt.Errorf("invalid LOCAL_STORE: %s (expected pebble, sqlite or memory)", config.LocalStore)
	}

	// Remote store (default: none)
	config.RemoteStore = strings.ToLower(getEnv("REMOTE_STORE", RemoteStoreNone))
	switch config.RemoteStore {
	case RemoteStoreNone, RemoteStoreMemory:
	case RemoteStoreClickHouse:
		if err := config.loadClickHouse(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("invalid REMOTE_STORE: %s (expected none, clickhouse or memory)", config.RemoteStore)
	}

	// Telegram Bot Token (optional)
	config.TelegramToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	if config.BotEnabled() {
		ids, err := parseUserIDs(os.Getenv("ALLOWED_USER_IDS"))
		if err != nil {
			return nil, err
		}
		config.AllowedUserIDs = ids

		config.WebhookMode = os.Getenv("WEBHOOK_MODE") == "true"
		if config.WebhookMode {
			config.WebhookURL = strings.TrimRight(os.Getenv("WEBHOOK_URL"), "/")
			if config.WebhookURL == "" {
				return nil, fmt.Errorf("WEBHOOK_URL is required when WEBHOOK_MODE is true")
			}
		}
	}

	maxUpload, err := getPositiveInt("MAX_UPLOAD_BYTES", 10<<20)
	if err != nil {
		return nil, err
	}
	config.MaxUploadBytes = int64(maxUpload)

	if config.DefaultYearlyGoal, err = getPositiveInt("DEFAULT_YEARLY_GOAL", 52); err != nil {
		return nil, err
	}
	if config.DefaultMonthlyGoal, err = getPositiveInt("DEFAULT_MONTHLY_GOAL", 4); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) loadClickHouse() error {
	c.ClickHouseHost = os.Getenv("CLICKHOUSE_HOST")
	if c.ClickHouseHost == "" {
		return fmt.Errorf("CLICKHOUSE_HOST is required when REMOTE_STORE is clickhouse")
	}

	portStr := os.Getenv("CLICKHOUSE_PORT")
	if portStr == "" {
		c.ClickHousePort = 9000 // Default ClickHouse native port
	} else {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("invalid CLICKHOUSE_PORT: %w", err)
		}
		c.ClickHousePort = port
	}

	c.ClickHouseDatabase = getEnv("CLICKHOUSE_DATABASE", "default")
	c.ClickHouseUser = getEnv("CLICKHOUSE_USER", "default")
	c.ClickHousePassword = os.Getenv("CLICKHOUSE_PASSWORD") // Password is optional
	c.ClickHouseUseTLS = os.Getenv("CLICKHOUSE_USE_TLS") == "true"
	return nil
}

// parseUserIDs parses a comma-separated list of Telegram user IDs
func parseUserIDs(value string) ([]int64, error) {
	if strings.TrimSpace(value) == "" {
		return nil, fmt.Errorf("ALLOWED_USER_IDS is required (comma-separated list of Telegram user IDs)")
	}

	var ids []int64
	for _, idStr := range strings.Split(value, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(idStr), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user ID in ALLOWED_USER_IDS: %s", idStr)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// getEnv retrieves environment variable or returns default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getPositiveInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q (expected a positive integer)", key, value)
	}
	return n, nil
}
