package middleware

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"

	adconfig "github.com/thenexusengine/adslot/internal/config"
)

// RouteLimit caps bodies under a path prefix below the global maximum
type RouteLimit struct {
	Prefix      string
	MaxBodySize int64
}

// SizeLimitConfig holds request size limit configuration
type SizeLimitConfig struct {
	Enabled      bool
	MaxBodySize  int64 // bytes, for routes without their own limit
	MaxURLLength int
	// RouteLimits apply by longest matching prefix
	RouteLimits []RouteLimit
}

// DefaultSizeLimitConfig reads MAX_REQUEST_SIZE and MAX_URL_LENGTH. Wallet
// and reporting bodies are a few fields, so they get far smaller caps than
// auction and event batches.
func DefaultSizeLimitConfig() *SizeLimitConfig {
	maxBody, err := strconv.ParseInt(os.Getenv("MAX_REQUEST_SIZE"), 10, 64)
	if err != nil || maxBody <= 0 {
		maxBody = adconfig.MaxRequestBodySize
	}

	return &SizeLimitConfig{
		Enabled:      true,
		MaxBodySize:  maxBody,
		MaxURLLength: envInt("MAX_URL_LENGTH", 4096),
		RouteLimits: []RouteLimit{
			{Prefix: "/wallets", MaxBodySize: 16 * 1024},
			{Prefix: "/performance", MaxBodySize: 16 * 1024},
			{Prefix: "/bids", MaxBodySize: 16 * 1024},
		},
	}
}

// SizeLimiter rejects long URLs and oversized bodies
type SizeLimiter struct {
	config *SizeLimitConfig
	mu     sync.RWMutex
}

// NewSizeLimiter creates a new size limiter
func NewSizeLimiter(config *SizeLimitConfig) *SizeLimiter {
	if config == nil {
		config = DefaultSizeLimitConfig()
	}
	return &SizeLimiter{config: config}
}

// limitFor returns the body cap for path
func (c *SizeLimitConfig) limitFor(path string) int64 {
	limit, matched := c.MaxBodySize, 0
	for _, rl := range c.RouteLimits {
		if len(rl.Prefix) > matched && strings.HasPrefix(path, rl.Prefix) && rl.MaxBodySize > 0 {
			limit, matched = rl.MaxBodySize, len(rl.Prefix)
		}
	}
	return limit
}

// Middleware returns the size limiting middleware handler
func (sl *SizeLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sl.mu.RLock()
		enabled := sl.config.Enabled
		maxURLLength := sl.config.MaxURLLength
		maxBodySize := sl.config.limitFor(r.URL.Path)
		sl.mu.RUnlock()

		if !enabled {
			next.ServeHTTP(w, r)
			return
		}

		if len(r.URL.RequestURI()) > maxURLLength {
			writeJSONError(w, "URL too long", http.StatusRequestURITooLong)
			return
		}
		if r.ContentLength > maxBodySize {
			writeJSONError(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		// chunked bodies are cut off while being read
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		}

		next.ServeHTTP(w, r)
	})
}

// SetMaxBodySize sets the default max body size
func (sl *SizeLimiter) SetMaxBodySize(size int64) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.config.MaxBodySize = size
}

// SetMaxURLLength sets the max URL length
func (sl *SizeLimiter) SetMaxURLLength(length int) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.config.MaxURLLength = length
}

// SetEnabled enables or disables size limiting
func (sl *SizeLimiter) SetEnabled(enabled bool) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.config.Enabled = enabled
}

// GetConfig returns a copy of the current configuration
func (sl *SizeLimiter) GetConfig() SizeLimitConfig {
	sl.mu.RLock()
	defer sl.mu.RUnlock()
	cfg := *sl.config
	cfg.RouteLimits = append([]RouteLimit(nil), sl.config.RouteLimits...)
	return cfg
}
