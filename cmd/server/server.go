package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/thenexusengine/adslot/internal/ads"
	"github.com/thenexusengine/adslot/internal/analytics"
	"github.com/thenexusengine/adslot/internal/auction"
	adconfig "github.com/thenexusengine/adslot/internal/config"
	"github.com/thenexusengine/adslot/internal/endpoints"
	"github.com/thenexusengine/adslot/internal/metrics"
	"github.com/thenexusengine/adslot/internal/middleware"
	"github.com/thenexusengine/adslot/internal/storage"
	"github.com/thenexusengine/adslot/internal/wallet"
	"github.com/thenexusengine/adslot/pkg/logger"
	"github.com/thenexusengine/adslot/pkg/redis"
)

// Server represents the ad-slot server
type Server struct {
	config      *ServerConfig
	httpServer  *http.Server
	registry    *prometheus.Registry
	metrics     *metrics.Metrics
	engine      *auction.Engine
	ledger      *wallet.Ledger
	recorder    *analytics.EventRecorder
	counters    *analytics.CounterStore
	dashboard   *endpoints.Dashboard
	rateLimiter *middleware.RateLimiter
	db          *sql.DB
	adStore     *storage.AdStore
	redisClient *redis.Client
}

// NewServer creates a new server instance
func NewServer(cfg *ServerConfig) (*Server, error) {
	s := &Server{
		config: cfg,
	}

	if err := s.initialize(); err != nil {
		return nil, err
	}

	return s, nil
}

// initialize sets up all server components
func (s *Server) initialize() error {
	log := logger.Log

	log.Info().
		Str("port", s.config.Port).
		Dur("auction_timeout", s.config.AuctionTimeout).
		Str("currency", s.config.DefaultCurrency).
		Bool("bill_on_win", s.config.BillOnWin).
		Msg("Initializing ad-slot server")

	// Each server owns its registry so several can coexist in one process
	s.registry = prometheus.NewRegistry()
	s.metrics = metrics.NewMetrics("adslot", s.registry)

	if err := s.initDatabase(); err != nil {
		// Database failures are non-fatal, log and continue
		log.Warn().Err(err).Msg("Database initialization failed, continuing with reduced functionality")
	}

	if err := s.initRedis(); err != nil {
		// Redis failures are non-fatal, log and continue
		log.Warn().Err(err).Msg("Redis initialization failed, continuing with reduced functionality")
	}

	s.initMiddleware()

	if err := s.initEngine(); err != nil {
		s.rateLimiter.Stop()
		s.closeStores()
		return err
	}
	s.initLedger()
	s.initAnalytics()

	s.initHandlers()

	return nil
}

// initDatabase opens PostgreSQL and applies the schema
func (s *Server) initDatabase() error {
	log := logger.Log

	if s.config.DatabaseConfig == nil {
		log.Info().Msg("DB_HOST not set, database-backed features disabled")
		return nil
	}

	db, err := storage.NewDBConnection(*s.config.DatabaseConfig)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to connect to PostgreSQL, database-backed features disabled")
		return err
	}

	if s.config.MigrateDB {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := storage.Migrate(ctx, db); err != nil {
			db.Close()
			return err
		}
		log.Info().Msg("Database schema applied")
	}

	s.db = db
	s.adStore = storage.NewAdStore(db)
	log.Info().Str("host", s.config.DatabaseConfig.Host).Msg("PostgreSQL connected")
	return nil
}

// initRedis initializes Redis client
func (s *Server) initRedis() error {
	log := logger.Log

	if s.config.RedisURL == "" {
		log.Info().Msg("REDIS_URL not set, Redis-backed features disabled")
		return nil
	}

	client, err := redis.New(s.config.RedisURL)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to connect to Redis")
		return err
	}
	s.redisClient = client

	log.Info().Msg("Redis client initialized")
	return nil
}

// initMiddleware initializes middleware that needs a shutdown hook
func (s *Server) initMiddleware() {
	s.rateLimiter = middleware.NewRateLimiter(middleware.DefaultRateLimitConfig())
	s.rateLimiter.SetMetrics(s.metrics)
	logger.Log.Info().Msg("Middleware initialized")
}

// initEngine builds the slot table and the auction engine. A bad slot file
// is fatal; a database that cannot list slots is not.
func (s *Server) initEngine() error {
	log := logger.Log

	slots, err := s.config.LoadSlotTable()
	if err != nil {
		return err
	}

	if s.db != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		overrides, err := storage.NewSlotStore(s.db).List(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to load slots from database, using file configuration")
		} else {
			slots = slots.Merge(overrides)
			log.Info().Int("count", len(overrides)).Msg("Slots loaded from PostgreSQL")
		}
	}

	s.engine = auction.New(s.config.ToAuctionConfig(slots), nil)
	s.engine.SetMetrics(s.metrics)

	log.Info().Int("slot_types", len(slots)).Msg("Auction engine initialized")
	return nil
}

// initLedger picks the wallet store and lock in order of durability:
// PostgreSQL, then Redis, then process memory
func (s *Server) initLedger() {
	log := logger.Log

	var store wallet.Store
	backend := "memory"
	switch {
	case s.db != nil:
		store = storage.NewWalletStore(s.db)
		backend = "postgres"
	case s.redisClient != nil:
		store = wallet.NewRedisStore(s.redisClient)
		backend = "redis"
	default:
		store = wallet.NewMemoryStore()
	}

	var locker wallet.Locker
	if s.redisClient != nil {
		locker = wallet.NewRedisLocker(s.redisClient, s.config.WalletLockTTL)
	} else {
		locker = wallet.NewLocalLocker()
	}

	s.ledger = wallet.NewLedger(store, locker, s.config.ToWalletConfig())
	s.ledger.SetMetrics(s.metrics)

	if backend == "memory" {
		log.Warn().Msg("Wallets are held in memory and will not survive a restart")
	}
	log.Info().Str("backend", backend).Bool("distributed_lock", s.redisClient != nil).Msg("Wallet ledger initialized")
}

// initAnalytics starts the event recorder. Redis counters back both the
// recorder sink and the per-ad performance reports.
func (s *Server) initAnalytics() {
	cfg := s.config.ToRecorderConfig()
	cfg.Breaker.OnStateChange = func(from, to analytics.State) {
		s.metrics.SetAnalyticsCircuitState(string(to))
		logger.Log.Warn().Str("from", string(from)).Str("to", string(to)).Msg("Analytics circuit breaker changed state")
	}

	var sink analytics.Sink
	if s.redisClient != nil {
		s.counters = analytics.NewCounterStore(s.redisClient)
		sink = s.counters
	}

	s.recorder = analytics.NewEventRecorder(cfg, sink)
	s.recorder.SetMetrics(s.metrics)

	logger.Log.Info().
		Str("collector", s.config.AnalyticsURL).
		Bool("redis_counters", s.counters != nil).
		Msg("Analytics recorder started")
}

// initHandlers initializes HTTP handlers and builds the handler chain
func (s *Server) initHandlers() {
	s.dashboard = endpoints.NewDashboard()

	auctionHandler := endpoints.NewAuctionHandler(s.engine, s.config.AuctionTimeout)
	auctionHandler.SetEventRecorder(s.recorder)
	auctionHandler.SetDashboard(s.dashboard)
	if s.adStore != nil {
		auctionHandler.SetCandidateSource(s.adStore)
	}
	if s.config.BillOnWin {
		auctionHandler.SetBiller(wallet.NewBiller(s.ledger, s.config.DefaultCurrency))
	}

	var counters endpoints.CounterReader
	if s.counters != nil {
		counters = s.counters
	}

	// Setup routes
	mux := http.NewServeMux()
	mux.Handle("POST /ads/auction", auctionHandler)
	endpoints.NewWalletHandler(s.ledger).Register(mux)
	endpoints.NewPerformanceHandler(counters).Register(mux)
	mux.Handle("POST /events", endpoints.NewEventsHandler(s.recorder))
	mux.Handle("/status", endpoints.NewStatusHandler())
	mux.Handle("/health", healthHandler())
	mux.Handle("/health/ready", readyHandler(s.redisClient, s.db))

	// Prometheus metrics endpoint
	mux.Handle("/metrics", metrics.HandlerFor(s.registry))

	// Admin endpoints
	mux.Handle("GET /admin/dashboard", s.dashboard)
	mux.HandleFunc("GET /admin/analytics", s.analyticsHandler)

	handler := s.buildHandler(mux)

	s.httpServer = &http.Server{
		Addr:         ":" + s.config.Port,
		Handler:      handler,
		ReadTimeout:  adconfig.ServerReadTimeout,
		WriteTimeout: adconfig.ServerWriteTimeout,
		IdleTimeout:  adconfig.ServerIdleTimeout,
	}
}

// buildHandler builds the middleware chain
func (s *Server) buildHandler(mux *http.ServeMux) http.Handler {
	log := logger.Log

	security := middleware.NewSecurity(nil)
	auth := middleware.NewAuth(middleware.DefaultAuthConfig())
	sizeLimiter := middleware.NewSizeLimiter(middleware.DefaultSizeLimitConfig())
	gzipMiddleware := middleware.NewGzip(middleware.DefaultGzipConfig())

	auth.SetMetrics(s.metrics)
	if s.redisClient != nil {
		auth.SetRedisClient(s.redisClient)
		log.Info().Msg("Redis client set for auth middleware")
	}

	log.Info().
		Bool("security_headers_enabled", security.GetConfig().Enabled).
		Bool("auth_enabled", auth.IsEnabled()).
		Bool("rate_limiting_enabled", s.rateLimiter != nil).
		Msg("Middleware chain built")

	// Security -> Logging -> Size Limit -> Auth -> Rate Limit -> Gzip -> Metrics -> mux
	handler := http.Handler(mux)
	handler = s.metrics.Middleware(handler)
	handler = gzipMiddleware.Middleware(handler)
	handler = s.rateLimiter.Middleware(handler)
	handler = auth.Middleware(handler)
	handler = sizeLimiter.Middleware(handler)
	handler = loggingMiddleware(handler)
	handler = security.Middleware(handler)

	return handler
}

// analyticsHandler returns event recorder stats
func (s *Server) analyticsHandler(w http.ResponseWriter, r *http.Request) {
	stats := s.recorder.Stats()
	response := map[string]interface{}{
		"recorder": stats,
		"breaker": map[string]interface{}{
			"state":    stats.BreakerState,
			"rejected": s.recorder.Breaker().Rejected(),
		},
		"collector_enabled": s.config.AnalyticsURL != "",
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.Log.Error().Err(err).Msg("failed to encode analytics stats")
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log := logger.Log
	log.Info().Str("addr", s.httpServer.Addr).Msg("Server listening")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown performs graceful shutdown
func (s *Server) Shutdown(ctx context.Context) error {
	log := logger.Log
	log.Info().Msg("Starting graceful shutdown")

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	err := s.httpServer.Shutdown(ctx)

	// Flush after the listener drains so in-flight auctions are recorded
	if s.recorder != nil {
		if cerr := s.recorder.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("Error flushing event recorder")
		} else {
			log.Info().Msg("Event recorder flushed")
		}
	}

	s.closeStores()

	if err != nil {
		return err
	}
	log.Info().Msg("Server stopped gracefully")
	return nil
}

// closeStores releases the Redis and PostgreSQL connections
func (s *Server) closeStores() {
	log := logger.Log
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing Redis client")
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing database")
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs HTTP requests with structured logging
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}
		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(wrapped, r.WithContext(logger.WithRequestID(r.Context(), requestID)))

		duration := time.Since(start)

		event := logger.Log.Info()
		if wrapped.statusCode >= 400 {
			event = logger.Log.Warn()
		}
		if wrapped.statusCode >= 500 {
			event = logger.Log.Error()
		}

		event.
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.statusCode).
			Dur("duration_ms", duration).
			Str("remote_addr", r.RemoteAddr).
			Str("user_agent", r.UserAgent()).
			Msg("HTTP request")
	})
}

// healthHandler returns a simple liveness check
func healthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := map[string]interface{}{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"version":   "1.0.0",
			"slotTypes": len(ads.KnownSlotTypes()),
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(health); err != nil {
			logger.Log.Error().Err(err).Msg("failed to encode health response")
		}
	})
}

// pinger checks one dependency
type pinger func(ctx context.Context) error

// checkDependency reports one dependency, "disabled" when p is nil
func checkDependency(ctx context.Context, p pinger) (map[string]interface{}, bool) {
	if p == nil {
		return map[string]interface{}{"status": "disabled"}, true
	}
	if err := p(ctx); err != nil {
		return map[string]interface{}{"status": "unhealthy", "error": err.Error()}, false
	}
	return map[string]interface{}{"status": "healthy"}, true
}

// readyHandler returns a readiness check with dependency verification
func readyHandler(redisClient *redis.Client, db *sql.DB) http.Handler {
	var redisPing, dbPing pinger
	if redisClient != nil {
		redisPing = redisClient.Ping
	}
	if db != nil {
		dbPing = db.PingContext
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := make(map[string]interface{})
		allHealthy := true

		var ok bool
		checks["redis"], ok = checkDependency(ctx, redisPing)
		allHealthy = allHealthy && ok
		checks["postgres"], ok = checkDependency(ctx, dbPing)
		allHealthy = allHealthy && ok

		status := http.StatusOK
		if !allHealthy {
			status = http.StatusServiceUnavailable
		}

		response := map[string]interface{}{
			"ready":     allHealthy,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"checks":    checks,
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := json.NewEncoder(w).Encode(response); err != nil {
			logger.Log.Error().Err(err).Msg("failed to encode readiness response")
		}
	})
}

// generateRequestID creates a unique request ID
func generateRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return time.Now().Format("20060102150405.000000000")
	}
	return hex.EncodeToString(b)
}
