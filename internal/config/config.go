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
	DataDir  string // Base directory for the database file (always absolute)
	Port     int
	LogLevel string
	DevMode  bool

	// Alpaca market data credentials. When empty the streaming feed is
	// disabled and prices are served from the REST fallback only.
	AlpacaAPIKey    string
	AlpacaAPISecret string
	AlpacaStreamURL string
	AlpacaDataURL   string

	// RecalcCashOnUpdate controls whether editing a transaction's financial
	// fields re-applies the cash delta. Off by default: an edit then only
	// rewrites the ledger row, matching the historical behavior.
	RecalcCashOnUpdate bool

	// Cache TTLs for the read-through caches.
	UserCacheTTL        time.Duration
	TransactionCacheTTL time.Duration
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("TRACKFOLIO_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:             absDataDir,
		Port:                getEnvAsInt("PORT", 8080),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		DevMode:             getEnvAsBool("DEV_MODE", false),
		AlpacaAPIKey:        getEnv("ALPACA_API_KEY", ""),
		AlpacaAPISecret:     getEnv("ALPACA_API_SECRET", ""),
		AlpacaStreamURL:     getEnv("ALPACA_STREAM_URL", "wss://stream.data.alpaca.markets/v2/iex"),
		AlpacaDataURL:       getEnv("ALPACA_DATA_URL", "https://data.alpaca.markets"),
		RecalcCashOnUpdate:  getEnvAsBool("RECALC_CASH_ON_UPDATE", false),
		UserCacheTTL:        getEnvAsDuration("USER_CACHE_TTL", 5*time.Minute),
		TransactionCacheTTL: getEnvAsDuration("TRANSACTION_CACHE_TTL", 2*time.Minute),
	}

	return cfg, nil
}

// DatabasePath returns the absolute path of the sqlite database file.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "trackfolio.db")
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
