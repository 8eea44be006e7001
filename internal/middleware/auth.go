// Package middleware provides HTTP middleware for the ad-slot service
package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	adconfig "github.com/thenexusengine/adslot/internal/config"
)

const (
	// #nosec G101 -- Redis key name, not a credential
	RedisAPIKeysHash = "adslot:api_keys" // hash: api_key -> client_id
)

// RedisClient looks up API keys in a shared hash
type RedisClient interface {
	HGet(ctx context.Context, key, field string) (string, error)
	Ping(ctx context.Context) error
}

type contextKey string

const clientIDKey contextKey = "client_id"

// ClientIDFromContext returns the authenticated client, "" when the request
// was not authenticated
func ClientIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(clientIDKey).(string); ok {
		return id
	}
	return ""
}

// WithClientID returns ctx carrying an authenticated client id
func WithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientIDKey, clientID)
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	Enabled     bool
	APIKeys     map[string]string // key -> client ID (local fallback)
	HeaderName  string            // default X-API-Key
	BypassPaths []string
	UseRedis    bool
	// Scopes restricts a client to path prefixes. Clients without an
	// entry may call every route.
	Scopes map[string][]string
}

// DefaultAuthConfig reads AUTH_ENABLED, API_KEYS and API_KEY_SCOPES
func DefaultAuthConfig() *AuthConfig {
	return &AuthConfig{
		Enabled:     os.Getenv("AUTH_ENABLED") == "true",
		APIKeys:     parseAPIKeys(os.Getenv("API_KEYS")),
		HeaderName:  "X-API-Key",
		BypassPaths: []string{"/health", "/status", "/metrics"},
		UseRedis:    os.Getenv("REDIS_URL") != "" && os.Getenv("AUTH_USE_REDIS") != "false",
		Scopes:      parseScopes(os.Getenv("API_KEY_SCOPES")),
	}
}

// parseAPIKeys reads "key1:client1,key2:client2"; a bare key maps to "default"
func parseAPIKeys(envValue string) map[string]string {
	keys := make(map[string]string)
	for _, pair := range strings.Split(envValue, ",") {
		key, client, hasClient := strings.Cut(strings.TrimSpace(pair), ":")
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if !hasClient {
			client = "default"
		}
		keys[key] = strings.TrimSpace(client)
	}
	return keys
}

// parseScopes reads "page-render:/ads|/events,billing:/wallets"
func parseScopes(envValue string) map[string][]string {
	scopes := make(map[string][]string)
	for _, entry := range strings.Split(envValue, ",") {
		client, prefixes, ok := strings.Cut(strings.TrimSpace(entry), ":")
		if !ok || client == "" {
			continue
		}
		for _, p := range strings.Split(prefixes, "|") {
			if p = strings.TrimSpace(p); p != "" {
				scopes[client] = append(scopes[client], p)
			}
		}
	}
	return scopes
}

// AuthMetrics defines the metrics interface for auth middleware
type AuthMetrics interface {
	IncAuthFailures()
}

// keyCache remembers resolved keys, including misses, for a while
type keyCache struct {
	mu      sync.RWMutex
	entries map[string]cachedKey
	hit     time.Duration
	miss    time.Duration
}

type cachedKey struct {
	clientID  string
	expiresAt time.Time
}

func newKeyCache() *keyCache {
	return &keyCache{
		entries: make(map[string]cachedKey),
		hit:     adconfig.AuthCacheTimeout,
		miss:    adconfig.AuthNegativeCacheTimeout,
	}
}

func (c *keyCache) get(key string, now time.Time) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || now.After(e.expiresAt) {
		return "", false
	}
	return e.clientID, true
}

// put stores clientID for key; "" records an unknown key
func (c *keyCache) put(key, clientID string, now time.Time) {
	ttl := c.hit
	if clientID == "" {
		ttl = c.miss
	}
	c.mu.Lock()
	c.entries[key] = cachedKey{clientID: clientID, expiresAt: now.Add(ttl)}
	c.mu.Unlock()
}

func (c *keyCache) drop(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *keyCache) reset() {
	c.mu.Lock()
	c.entries = make(map[string]cachedKey)
	c.mu.Unlock()
}

// Auth resolves API keys to client ids and enforces client scopes
type Auth struct {
	mu          sync.RWMutex
	config      *AuthConfig
	redisClient RedisClient
	metrics     AuthMetrics
	cache       *keyCache
}

// NewAuth creates a new Auth middleware
func NewAuth(config *AuthConfig) *Auth {
	if config == nil {
		config = DefaultAuthConfig()
	}
	return &Auth{config: config, cache: newKeyCache()}
}

// NewAuthWithRedis creates Auth middleware backed by the shared key hash
func NewAuthWithRedis(config *AuthConfig, redisClient RedisClient) *Auth {
	a := NewAuth(config)
	a.redisClient = redisClient
	return a
}

// SetRedisClient sets the Redis client for API key validation
func (a *Auth) SetRedisClient(client RedisClient) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.redisClient = client
}

// apiKey takes the configured header first, then a bearer token
func apiKey(r *http.Request, header string) string {
	if key := r.Header.Get(header); key != "" {
		return key
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

func hasPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// Middleware returns the authentication middleware handler
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.mu.RLock()
		enabled := a.config.Enabled
		bypass := a.config.BypassPaths
		header := a.config.HeaderName
		a.mu.RUnlock()

		if !enabled || hasPrefix(r.URL.Path, bypass) {
			next.ServeHTTP(w, r)
			return
		}

		key := apiKey(r, header)
		if key == "" {
			a.recordAuthFailure()
			writeJSONError(w, "missing API key", http.StatusUnauthorized)
			return
		}

		clientID, valid := a.validateKey(r.Context(), key)
		if !valid {
			a.recordAuthFailure()
			writeJSONError(w, "invalid API key", http.StatusForbidden)
			return
		}
		if !a.allowed(clientID, r.URL.Path) {
			a.recordAuthFailure()
			log.Warn().Str("client_id", clientID).Str("path", r.URL.Path).Msg("Client outside its scope")
			writeJSONError(w, "route not permitted for this key", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithClientID(r.Context(), clientID)))
	})
}

// allowed reports whether clientID may call path
func (a *Auth) allowed(clientID, path string) bool {
	a.mu.RLock()
	prefixes, scoped := a.config.Scopes[clientID]
	a.mu.RUnlock()
	return !scoped || hasPrefix(path, prefixes)
}

// validateKey resolves key through the cache, then Redis, then the local
// key table
func (a *Auth) validateKey(ctx context.Context, key string) (string, bool) {
	now := time.Now()
	if clientID, found := a.cache.get(key, now); found {
		return clientID, clientID != ""
	}

	a.mu.RLock()
	redisClient := a.redisClient
	useRedis := a.config.UseRedis
	a.mu.RUnlock()

	if useRedis && redisClient != nil {
		clientID, err := redisClient.HGet(ctx, RedisAPIKeysHash, key)
		if err != nil {
			log.Debug().Err(err).Msg("Redis API key lookup failed, falling back to local")
		} else if clientID != "" {
			a.cache.put(key, clientID, now)
			return clientID, true
		}
	}

	clientID := a.lookupLocal(key)
	a.cache.put(key, clientID, now)
	return clientID, clientID != ""
}

func (a *Auth) lookupLocal(key string) string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for candidate, clientID := range a.config.APIKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(candidate)) == 1 {
			return clientID
		}
	}
	return ""
}

// ClearCache forgets every resolved key
func (a *Auth) ClearCache() {
	a.cache.reset()
}

// AddAPIKey adds a new API key at runtime
func (a *Auth) AddAPIKey(key, clientID string) {
	a.mu.Lock()
	if a.config.APIKeys == nil {
		a.config.APIKeys = make(map[string]string)
	}
	a.config.APIKeys[key] = clientID
	a.mu.Unlock()

	a.cache.put(key, clientID, time.Now())
}

// RemoveAPIKey revokes a key immediately
func (a *Auth) RemoveAPIKey(key string) {
	a.mu.Lock()
	delete(a.config.APIKeys, key)
	a.mu.Unlock()

	a.cache.drop(key)
}

// SetScopes replaces the path prefixes clientID may call; nil lifts the
// restriction
func (a *Auth) SetScopes(clientID string, prefixes []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.config.Scopes == nil {
		a.config.Scopes = make(map[string][]string)
	}
	if prefixes == nil {
		delete(a.config.Scopes, clientID)
		return
	}
	a.config.Scopes[clientID] = prefixes
}

// SetEnabled enables or disables authentication
func (a *Auth) SetEnabled(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.config.Enabled = enabled
}

// IsEnabled returns whether authentication is enabled
func (a *Auth) IsEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.config.Enabled
}

// SetMetrics sets the metrics interface for auth middleware
func (a *Auth) SetMetrics(m AuthMetrics) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.metrics = m
}

func (a *Auth) recordAuthFailure() {
	a.mu.RLock()
	m := a.metrics
	a.mu.RUnlock()
	if m != nil {
		m.IncAuthFailures()
	}
}

// writeJSONError writes a JSON error body
func writeJSONError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + message + `"}`))
}
