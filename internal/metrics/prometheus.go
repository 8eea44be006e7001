// Package metrics provides Prometheus metrics for the ad-slot service
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Request metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Auction metrics
	AuctionsTotal     *prometheus.CounterVec
	AuctionDuration   *prometheus.HistogramVec
	AuctionCandidates *prometheus.HistogramVec
	AuctionWinners    *prometheus.HistogramVec
	AdsExcluded       *prometheus.CounterVec
	AuctionTimeouts   *prometheus.CounterVec

	// Wallet metrics
	WalletTransactions *prometheus.CounterVec
	WalletAmount       *prometheus.CounterVec

	// Analytics metrics
	AnalyticsEvents       *prometheus.CounterVec
	AnalyticsDropped      prometheus.Counter
	AnalyticsDeliveries   *prometheus.CounterVec
	AnalyticsCircuitState prometheus.Gauge

	// System metrics
	RateLimitRejected prometheus.Counter
	AuthFailures      prometheus.Counter
}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// registers with the default Prometheus registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "adslot"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		// Request metrics
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being served",
			},
		),

		// Auction metrics
		AuctionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auctions_total",
				Help:      "Total number of auctions",
			},
			[]string{"status", "slot_type"},
		),
		AuctionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "auction_duration_seconds",
				Help:      "Auction duration in seconds",
				Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
			},
			[]string{"slot_type"},
		),
		AuctionCandidates: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "auction_candidates",
				Help:      "Number of candidate ads per auction",
				Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
			[]string{"slot_type"},
		),
		AuctionWinners: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "auction_winners",
				Help:      "Number of winning ads per auction",
				Buckets:   []float64{0, 1, 2, 3, 4, 5},
			},
			[]string{"slot_type"},
		),
		AdsExcluded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ads_excluded_total",
				Help:      "Ads excluded from auctions by reason",
			},
			[]string{"slot_type", "reason"},
		),
		AuctionTimeouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auction_timeouts_total",
				Help:      "Auctions abandoned because the deadline passed",
			},
			[]string{"slot_type"},
		),

		// Wallet metrics
		WalletTransactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wallet_transactions_total",
				Help:      "Wallet transactions by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		WalletAmount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wallet_amount_total",
				Help:      "Sum of applied wallet transaction amounts by type",
			},
			[]string{"type"},
		),

		// Analytics metrics
		AnalyticsEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "analytics_events_total",
				Help:      "Analytics events recorded by type",
			},
			[]string{"event_type"},
		),
		AnalyticsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "analytics_events_dropped_total",
				Help:      "Analytics events dropped because the flush queue was full",
			},
		),
		AnalyticsDeliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "analytics_deliveries_total",
				Help:      "Batch deliveries to the analytics collector",
			},
			[]string{"status"},
		),
		AnalyticsCircuitState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "analytics_circuit_breaker_state",
				Help:      "Analytics collector circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
		),

		// System metrics
		RateLimitRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_rejected_total",
				Help:      "Total requests rejected due to rate limiting",
			},
		),
		AuthFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_failures_total",
				Help:      "Total authentication failures",
			},
		),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.AuctionsTotal,
		m.AuctionDuration,
		m.AuctionCandidates,
		m.AuctionWinners,
		m.AdsExcluded,
		m.AuctionTimeouts,
		m.WalletTransactions,
		m.WalletAmount,
		m.AnalyticsEvents,
		m.AnalyticsDropped,
		m.AnalyticsDeliveries,
		m.AnalyticsCircuitState,
		m.RateLimitRejected,
		m.AuthFailures,
	)

	return m
}

// Handler returns the Prometheus HTTP handler for the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor returns the Prometheus HTTP handler for g
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Middleware returns HTTP middleware that records request metrics. The path
// label is the matched route pattern so ids in URLs do not blow up cardinality;
// it must wrap the ServeMux directly.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.RequestsInFlight.Inc()
		defer m.RequestsInFlight.Dec()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(wrapped.statusCode)
		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}

		m.RequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		m.RequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
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

// RecordAuction records a completed auction
func (m *Metrics) RecordAuction(slotType string, candidates, winners int, duration time.Duration) {
	status := "filled"
	if winners == 0 {
		status = "unfilled"
	}
	m.AuctionsTotal.WithLabelValues(status, slotType).Inc()
	m.AuctionDuration.WithLabelValues(slotType).Observe(duration.Seconds())
	m.AuctionCandidates.WithLabelValues(slotType).Observe(float64(candidates))
	m.AuctionWinners.WithLabelValues(slotType).Observe(float64(winners))
}

// RecordExclusion records an ad excluded from an auction
func (m *Metrics) RecordExclusion(slotType, reason string) {
	m.AdsExcluded.WithLabelValues(slotType, reason).Inc()
}

// RecordAuctionTimeout records an auction cut short by its deadline
func (m *Metrics) RecordAuctionTimeout(slotType string) {
	m.AuctionsTotal.WithLabelValues("timeout", slotType).Inc()
	m.AuctionTimeouts.WithLabelValues(slotType).Inc()
}

// RecordWalletTransaction records a wallet transaction attempt. Amounts are
// only summed for applied transactions.
func (m *Metrics) RecordWalletTransaction(txType, outcome string, amount float64) {
	m.WalletTransactions.WithLabelValues(txType, outcome).Inc()
	if outcome == "applied" {
		m.WalletAmount.WithLabelValues(txType).Add(amount)
	}
}

// RecordAnalyticsEvent records a buffered analytics event
func (m *Metrics) RecordAnalyticsEvent(eventType string) {
	m.AnalyticsEvents.WithLabelValues(eventType).Inc()
}

// RecordAnalyticsDropped records events lost to a full queue
func (m *Metrics) RecordAnalyticsDropped(count int) {
	m.AnalyticsDropped.Add(float64(count))
}

// RecordAnalyticsDelivery records one collector delivery attempt
func (m *Metrics) RecordAnalyticsDelivery(success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.AnalyticsDeliveries.WithLabelValues(status).Inc()
}

// SetAnalyticsCircuitState sets the collector circuit breaker state metric
func (m *Metrics) SetAnalyticsCircuitState(state string) {
	var value float64
	switch state {
	case "closed":
		value = 0
	case "open":
		value = 1
	case "half-open":
		value = 2
	}
	m.AnalyticsCircuitState.Set(value)
}

// IncRateLimitRejected increments the rate limit rejected counter
// Implements middleware.RateLimitMetrics interface
func (m *Metrics) IncRateLimitRejected() {
	m.RateLimitRejected.Inc()
}

// IncAuthFailures increments the auth failures counter
// Implements middleware.AuthMetrics interface
func (m *Metrics) IncAuthFailures() {
	m.AuthFailures.Inc()
}
