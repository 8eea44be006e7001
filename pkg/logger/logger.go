// Package logger provides structured logging for the ad-slot service
package logger

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// serviceName is attached to every log line
const serviceName = "adslot"

// Context keys for correlation IDs
type contextKey string

const (
	// RequestIDKey holds the inbound HTTP request ID
	RequestIDKey contextKey = "request_id"
	// AuctionIDKey holds the auction ID for one slot evaluation
	AuctionIDKey contextKey = "auction_id"
)

// Log is the global logger
var Log zerolog.Logger = zerolog.New(os.Stdout).With().Timestamp().Str("service", serviceName).Logger()

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json or console
	TimeFormat string
	// Output defaults to stdout
	Output io.Writer
}

// DefaultConfig returns configuration from LOG_LEVEL and LOG_FORMAT
func DefaultConfig() Config {
	return Config{
		Level:      getEnv("LOG_LEVEL", "info"),
		Format:     getEnv("LOG_FORMAT", "json"),
		TimeFormat: time.RFC3339,
	}
}

// Init (re)configures the global logger
func Init(cfg Config) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: cfg.TimeFormat, NoColor: cfg.Output != nil}
	}

	Log = zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}

// WithRequestID stores a request ID in the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithAuctionID stores an auction ID in the context
func WithAuctionID(ctx context.Context, auctionID string) context.Context {
	return context.WithValue(ctx, AuctionIDKey, auctionID)
}

// FromContext returns a logger enriched with correlation IDs found in ctx
func FromContext(ctx context.Context) *zerolog.Logger {
	lc := Log.With()
	if id, ok := ctx.Value(RequestIDKey).(string); ok && id != "" {
		lc = lc.Str("request_id", id)
	}
	if id, ok := ctx.Value(AuctionIDKey).(string); ok && id != "" {
		lc = lc.Str("auction_id", id)
	}
	l := lc.Logger()
	return &l
}

// Auction returns a logger for one auction
func Auction(auctionID string) *zerolog.Logger {
	l := Log.With().Str("auction_id", auctionID).Logger()
	return &l
}

// Wallet returns a logger scoped to an advertiser wallet
func Wallet(advertiserID string) *zerolog.Logger {
	l := Log.With().Str("component", "wallet").Str("advertiser_id", advertiserID).Logger()
	return &l
}

// Analytics returns a logger for analytics emission
func Analytics() *zerolog.Logger {
	l := Log.With().Str("component", "analytics").Logger()
	return &l
}

// getEnv returns the environment value or defaultValue when unset or empty
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
