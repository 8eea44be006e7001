package endpoints

import (
	"context"
	"net/http"

	"github.com/thenexusengine/adslot/internal/bidadvisor"
	"github.com/thenexusengine/adslot/internal/performance"
	"github.com/thenexusengine/adslot/pkg/logger"
)

// CounterReader returns the recorded totals for an ad
type CounterReader interface {
	Counters(ctx context.Context, adID string) (performance.Counters, error)
}

// AdReport is the body of GET /performance/ads/{adId}
type AdReport struct {
	AdID string `json:"adId"`
	performance.Report
}

// PerformanceHandler serves reporting, budget and bid advice endpoints
type PerformanceHandler struct {
	counters CounterReader
}

// NewPerformanceHandler creates a new performance handler. counters may be
// nil, in which case per-ad reports are unavailable.
func NewPerformanceHandler(counters CounterReader) *PerformanceHandler {
	return &PerformanceHandler{counters: counters}
}

// Register adds the reporting routes to mux
func (h *PerformanceHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /performance/report", h.Report)
	mux.HandleFunc("GET /performance/ads/{adId}", h.AdReport)
	mux.HandleFunc("POST /performance/budget", h.Budget)
	mux.HandleFunc("POST /bids/recommend", h.RecommendBid)
}

// Report handles POST /performance/report
func (h *PerformanceHandler) Report(w http.ResponseWriter, r *http.Request) {
	var c performance.Counters
	if err := decodeBody(r, &c); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if c.Impressions < 0 || c.Clicks < 0 || c.Conversions < 0 || c.Spend < 0 || c.Revenue < 0 {
		writeError(w, "counters must not be negative", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, performance.GenerateReport(c))
}

// AdReport handles GET /performance/ads/{adId}
func (h *PerformanceHandler) AdReport(w http.ResponseWriter, r *http.Request) {
	if h.counters == nil {
		writeError(w, "ad counters are not configured", http.StatusServiceUnavailable)
		return
	}
	adID := r.PathValue("adId")

	c, err := h.counters.Counters(r.Context(), adID)
	if err != nil {
		logger.FromContext(r.Context()).Error().Err(err).Str("ad_id", adID).Msg("Failed to read ad counters")
		writeError(w, "Failed to read ad counters", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, AdReport{AdID: adID, Report: performance.GenerateReport(c)})
}

// Budget handles POST /performance/budget
func (h *PerformanceHandler) Budget(w http.ResponseWriter, r *http.Request) {
	var b performance.Budget
	if err := decodeBody(r, &b); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if b.Total < 0 || b.Used < 0 {
		writeError(w, "budget amounts must not be negative", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, performance.BudgetUtilization(b))
}

// RecommendBid handles POST /bids/recommend
func (h *PerformanceHandler) RecommendBid(w http.ResponseWriter, r *http.Request) {
	var in bidadvisor.Input
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	rec, err := bidadvisor.Recommend(in)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
