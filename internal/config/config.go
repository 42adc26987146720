package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Port      string
	JWTSecret string
	Database  DatabaseConfig
	Shopify   ShopifyConfig
	Reconcile ReconcileConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
}

// ShopifyConfig holds upstream commerce API configuration
type ShopifyConfig struct {
	ShopURL       string
	AccessToken   string
	APIVersion    string
	WebhookSecret string
}

// ReconcileConfig holds batch reconciliation configuration
type ReconcileConfig struct {
	Interval  time.Duration // 0 disables the background loop
	SinceDays int           // default lookback window for scheduled runs
	PageSize  int           // upstream orders per page
	Pacing    time.Duration // fixed delay between successive upstream calls
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	webhookSecret := os.Getenv("SHOPIFY_WEBHOOK_SECRET")
	if webhookSecret == "" {
		return nil, fmt.Errorf("SHOPIFY_WEBHOOK_SECRET is required")
	}

	return &Config{
		Port:      getEnv("PORT", "3001"),
		JWTSecret: jwtSecret,
		Database: DatabaseConfig{
			Host:     getEnv("PG_HOST", "localhost"),
			Port:     getEnv("PG_PORT", "5432"),
			Username: getEnv("PG_USERNAME", "postgres"),
			Password: os.Getenv("PG_PASSWORD"),
			Database: getEnv("PG_DATABASE", "backorderd"),
		},
		Shopify: ShopifyConfig{
			ShopURL:       os.Getenv("SHOP_URL"),
			AccessToken:   os.Getenv("SHOPIFY_ACCESS_TOKEN"),
			APIVersion:    getEnv("SHOPIFY_API_VERSION", "2025-01"),
			WebhookSecret: webhookSecret,
		},
		Reconcile: ReconcileConfig{
			Interval:  time.Duration(getEnvInt("RECONCILE_INTERVAL_MINUTES", 0)) * time.Minute,
			SinceDays: getEnvInt("RECONCILE_SINCE_DAYS", 7),
			PageSize:  getEnvInt("RECONCILE_PAGE_SIZE", 50),
			Pacing:    time.Duration(getEnvInt("RECONCILE_PACING_MS", 500)) * time.Millisecond,
		},
	}, nil
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable with default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}
