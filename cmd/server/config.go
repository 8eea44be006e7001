package main

import (
	"flag"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/thenexusengine/adslot/internal/ads"
	"github.com/thenexusengine/adslot/internal/analytics"
	"github.com/thenexusengine/adslot/internal/auction"
	adconfig "github.com/thenexusengine/adslot/internal/config"
	"github.com/thenexusengine/adslot/internal/storage"
	"github.com/thenexusengine/adslot/internal/wallet"
)

// ServerConfig holds all server configuration
type ServerConfig struct {
	// Server
	Port           string
	AuctionTimeout time.Duration

	// Database
	DatabaseConfig *storage.DBConfig
	MigrateDB      bool

	// Redis
	RedisURL string

	// Slots is a TOML file of slot overrides; "" uses the built-in table
	SlotsConfigPath string

	// Analytics
	AnalyticsURL string

	// Wallet
	WalletLockTTL   time.Duration
	DefaultCurrency string
	BillOnWin       bool
}

// ParseConfig parses configuration from flags and environment variables
func ParseConfig() *ServerConfig {
	port := flag.String("port", getEnvOrDefault("ADSLOT_PORT", "8000"), "Server port")
	timeout := flag.Duration("auction-timeout",
		getEnvDurationOrDefault("AUCTION_TIMEOUT", adconfig.DefaultAuctionTimeout), "Per-auction deadline")
	slots := flag.String("slots", os.Getenv("SLOTS_CONFIG"), "Slot configuration TOML file")
	flag.Parse()

	cfg := &ServerConfig{
		Port:            *port,
		AuctionTimeout:  *timeout,
		MigrateDB:       getEnvBoolOrDefault("DB_MIGRATE", true),
		RedisURL:        os.Getenv("REDIS_URL"),
		SlotsConfigPath: *slots,
		AnalyticsURL:    os.Getenv("ANALYTICS_URL"),
		WalletLockTTL:   getEnvDurationOrDefault("WALLET_LOCK_TTL", adconfig.WalletLockTTL),
		DefaultCurrency: strings.ToUpper(getEnvOrDefault("WALLET_CURRENCY", adconfig.DefaultCurrency)),
		BillOnWin:       getEnvBoolOrDefault("AUCTION_BILL_ON_WIN", false),
	}

	if dbHost := os.Getenv("DB_HOST"); dbHost != "" {
		cfg.DatabaseConfig = &storage.DBConfig{
			Host:     dbHost,
			Port:     getEnvOrDefault("DB_PORT", "5432"),
			User:     getEnvOrDefault("DB_USER", "adslot"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			Name:     getEnvOrDefault("DB_NAME", "adslot"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
		}
	}

	return cfg
}

// LoadSlotTable returns the configured slot table, the defaults when no file is set
func (c *ServerConfig) LoadSlotTable() (ads.SlotTable, error) {
	if c.SlotsConfigPath == "" {
		return ads.DefaultSlotTable(), nil
	}
	return ads.LoadSlotTable(c.SlotsConfigPath)
}

// ToAuctionConfig converts ServerConfig to auction.Config
func (c *ServerConfig) ToAuctionConfig(slots ads.SlotTable) *auction.Config {
	cfg := auction.DefaultConfig()
	if slots != nil {
		cfg.Slots = slots
	}
	return cfg
}

// ToWalletConfig converts ServerConfig to wallet.Config
func (c *ServerConfig) ToWalletConfig() *wallet.Config {
	cfg := wallet.DefaultConfig()
	if c.DefaultCurrency != "" {
		cfg.DefaultCurrency = c.DefaultCurrency
	}
	return cfg
}

// ToRecorderConfig converts ServerConfig to analytics.RecorderConfig
func (c *ServerConfig) ToRecorderConfig() *analytics.RecorderConfig {
	cfg := analytics.DefaultRecorderConfig()
	cfg.CollectorURL = c.AnalyticsURL
	return cfg
}

// loadEnvFile loads path into the environment without overriding variables
// that are already set. A missing file is not an error.
func loadEnvFile(path string) (bool, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false, nil
	}
	if err := godotenv.Load(path); err != nil {
		return false, err
	}
	return true, nil
}

// getEnvOrDefault returns the environment variable value or a default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBoolOrDefault returns the environment variable as bool or a default
func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvDurationOrDefault parses a duration such as "50ms"; unparseable or
// non-positive values fall back to the default
func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}
