// Package config provides shared configuration constants for the ad-slot service
package config

import "time"

// Server timeout defaults
const (
	// ServerReadTimeout is the maximum duration for reading the entire request
	ServerReadTimeout = 5 * time.Second

	// ServerWriteTimeout is the maximum duration before timing out writes of the response
	ServerWriteTimeout = 10 * time.Second

	// ServerIdleTimeout is the maximum time to wait for the next request when keep-alives are enabled
	ServerIdleTimeout = 120 * time.Second

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout = 30 * time.Second
)

// Request limits
const (
	// MaxRequestBodySize bounds JSON bodies read by handlers (1MB)
	MaxRequestBodySize = 1024 * 1024
)

// Auth defaults
const (
	// AuthCacheTimeout is how long a resolved API key is cached
	AuthCacheTimeout = 5 * time.Minute

	// AuthNegativeCacheTimeout caches unknown keys briefly to spare Redis
	AuthNegativeCacheTimeout = 30 * time.Second
)

// Auction defaults
const (
	// DefaultAuctionTimeout matches page-render SLAs
	DefaultAuctionTimeout = 50 * time.Millisecond

	// DefaultCostRatio is the flat discount applied to a winner's bid
	DefaultCostRatio = 0.8

	// DefaultFanOutThreshold is the candidate count above which scoring runs in parallel
	DefaultFanOutThreshold = 64

	// DefaultMaxConcurrentScorers bounds scoring goroutines per auction
	DefaultMaxConcurrentScorers = 8

	// DefaultSlotCapacity applies to slot types missing from the capacity table
	DefaultSlotCapacity = 1
)

// Wallet defaults
const (
	// DefaultCurrency for wallets and transactions
	DefaultCurrency = "TRY"

	// WalletMaxRetries bounds compare-and-swap retries per transaction
	WalletMaxRetries = 5

	// WalletLockTTL bounds how long a distributed wallet lock may be held
	WalletLockTTL = 2 * time.Second

	// BillingTimeout bounds charging auction winners once the slot is placed
	BillingTimeout = 5 * time.Second
)

// Analytics defaults
const (
	// DefaultEventBufferSize is the number of events buffered before a flush
	DefaultEventBufferSize = 100

	// AnalyticsFlushInterval forces a flush of partially filled buffers
	AnalyticsFlushInterval = 5 * time.Second
)

// Redis defaults
const (
	// RedisPoolSize is the default connection pool size
	RedisPoolSize = 100
)

// Database defaults
const (
	// DBMaxOpenConns bounds open PostgreSQL connections
	DBMaxOpenConns = 50

	// DBMaxIdleConns keeps idle connections warm
	DBMaxIdleConns = 10

	// DBConnMaxLifetime recycles connections periodically
	DBConnMaxLifetime = 10 * time.Minute
)
