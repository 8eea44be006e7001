package middleware

import (
	"math"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond int // per client
	BurstSize         int
	// WalletRequestsPerSecond is a second, tighter bucket for wallet
	// transactions on top of the general one. 0 disables it.
	WalletRequestsPerSecond int
	CleanupInterval         time.Duration // how often idle clients are evicted
	IdleTimeout             time.Duration // eviction age; 0 means one minute
	TrustedProxies          []*net.IPNet  // CIDR ranges of trusted proxies
	TrustXFF                bool          // whether to trust X-Forwarded-For at all
}

// DefaultRateLimitConfig reads RATE_LIMIT_RPS, RATE_LIMIT_BURST,
// RATE_LIMIT_WALLET_RPS and TRUSTED_PROXIES
func DefaultRateLimitConfig() *RateLimitConfig {
	rps := envInt("RATE_LIMIT_RPS", 1000)
	burst := envInt("RATE_LIMIT_BURST", rps*2)
	trusted := parseTrustedProxies(os.Getenv("TRUSTED_PROXIES"))

	// Set RATE_LIMIT_ENABLED=false to disable (development only)
	return &RateLimitConfig{
		Enabled:                 os.Getenv("RATE_LIMIT_ENABLED") != "false",
		RequestsPerSecond:       rps,
		BurstSize:               burst,
		WalletRequestsPerSecond: envInt("RATE_LIMIT_WALLET_RPS", 50),
		CleanupInterval:         time.Minute,
		IdleTimeout:             time.Minute,
		TrustedProxies:          trusted,
		TrustXFF:                len(trusted) > 0,
	}
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// parseTrustedProxies parses comma-separated CIDRs; bare IPs become host routes
func parseTrustedProxies(s string) []*net.IPNet {
	var nets []*net.IPNet
	for _, cidr := range strings.Split(s, ",") {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		if !strings.Contains(cidr, "/") {
			if strings.Contains(cidr, ":") {
				cidr += "/128"
			} else {
				cidr += "/32"
			}
		}
		if _, network, err := net.ParseCIDR(cidr); err == nil {
			nets = append(nets, network)
		}
	}
	return nets
}

// RateLimitMetrics defines the metrics interface for rate limiter
type RateLimitMetrics interface {
	IncRateLimitRejected()
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter limits requests per client with token buckets
type RateLimiter struct {
	config   *RateLimitConfig
	buckets  map[string]*bucket
	mu       sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
	metrics  RateLimitMetrics
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = time.Minute
	}

	rl := &RateLimiter{
		config:  config,
		buckets: make(map[string]*bucket),
		stopCh:  make(chan struct{}),
	}

	if config.CleanupInterval > 0 {
		go rl.cleanup(config.CleanupInterval)
	}
	return rl
}

func (rl *RateLimiter) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.evictIdle(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) evictIdle(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, b := range rl.buckets {
		if now.Sub(b.lastSeen) > rl.config.IdleTimeout {
			delete(rl.buckets, key)
		}
	}
}

// Stop stops the cleanup goroutine. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// isWalletTransaction matches POST /wallets/{id}/transactions, not validation
func isWalletTransaction(r *http.Request) bool {
	return r.Method == http.MethodPost &&
		strings.HasPrefix(r.URL.Path, "/wallets/") &&
		strings.HasSuffix(r.URL.Path, "/transactions")
}

// Middleware returns the rate limiting middleware handler. Authenticated
// requests are limited per client, the rest per IP; Auth must run first.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rl.mu.Lock()
		cfg := *rl.config
		m := rl.metrics
		rl.mu.Unlock()

		if !cfg.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		clientID := ClientIDFromContext(r.Context())
		if clientID == "" {
			clientID = rl.getClientIP(r)
		}

		now := time.Now()
		remaining, ok := rl.take(clientID, cfg.RequestsPerSecond, cfg.BurstSize, now)
		limit := cfg.RequestsPerSecond
		if ok && cfg.WalletRequestsPerSecond > 0 && isWalletTransaction(r) {
			limit = cfg.WalletRequestsPerSecond
			remaining, ok = rl.take("wallet|"+clientID, cfg.WalletRequestsPerSecond, cfg.WalletRequestsPerSecond, now)
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
		if !ok {
			if m != nil {
				m.IncRateLimitRejected()
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter(limit)))
			w.Header().Set("X-RateLimit-Remaining", "0")
			writeJSONError(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

		next.ServeHTTP(w, r)
	})
}

// take spends one token from key's bucket and reports what is left
func (rl *RateLimiter) take(key string, rps, burst int, now time.Time) (int, bool) {
	if burst < 1 {
		burst = 1
	}

	rl.mu.Lock()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
		rl.buckets[key] = b
	} else if b.limiter.Limit() != rate.Limit(rps) || b.limiter.Burst() != burst {
		b.limiter.SetLimitAt(now, rate.Limit(rps))
		b.limiter.SetBurstAt(now, burst)
	}
	b.lastSeen = now
	rl.mu.Unlock()

	if !b.limiter.AllowN(now, 1) {
		return 0, false
	}
	return int(math.Max(0, math.Floor(b.limiter.TokensAt(now)))), true
}

// retryAfter is the whole seconds until one token refills
func retryAfter(rps int) int {
	if rps <= 0 {
		return 1
	}
	return int(math.Max(1, math.Ceil(1/float64(rps))))
}

// getClientIP returns the rightmost untrusted address from X-Forwarded-For
// when the peer is a trusted proxy, otherwise the peer address
func (rl *RateLimiter) getClientIP(r *http.Request) string {
	remoteIP := extractIP(r.RemoteAddr)
	if !rl.config.TrustXFF || !rl.isTrustedProxy(remoteIP) {
		return remoteIP
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			ip := strings.TrimSpace(hops[i])
			if ip != "" && !rl.isTrustedProxy(ip) {
				return ip
			}
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return remoteIP
}

func (rl *RateLimiter) isTrustedProxy(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, network := range rl.config.TrustedProxies {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// extractIP strips the port from host:port, [v6]:port or a bare address
func extractIP(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return strings.Trim(addr, "[]")
}

// SetEnabled enables or disables rate limiting
func (rl *RateLimiter) SetEnabled(enabled bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.config.Enabled = enabled
}

// SetRPS sets the requests per second limit. Existing buckets pick it up on
// their next request.
func (rl *RateLimiter) SetRPS(rps int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.config.RequestsPerSecond = rps
}

// SetBurstSize sets the burst size
func (rl *RateLimiter) SetBurstSize(burst int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.config.BurstSize = burst
}

// SetMetrics sets the metrics interface for the rate limiter
func (rl *RateLimiter) SetMetrics(m RateLimitMetrics) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.metrics = m
}
