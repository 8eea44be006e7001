package endpoints

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/thenexusengine/adslot/internal/ads"
	"github.com/thenexusengine/adslot/internal/analytics"
	"github.com/thenexusengine/adslot/internal/auction"
	"github.com/thenexusengine/adslot/internal/config"
	"github.com/thenexusengine/adslot/internal/wallet"
	"github.com/thenexusengine/adslot/pkg/logger"
)

// CandidateSource loads the ads competing for a slot when the caller sends none
type CandidateSource interface {
	ListCandidates(ctx context.Context, slotType ads.SlotType) ([]*ads.Ad, error)
}

// EventRecorder buffers analytics events
type EventRecorder interface {
	Record(e analytics.Event)
	RecordImpressions(auctionID string, actx *ads.AuctionContext, winners []ads.BiddingResult)
}

// WinnerBiller charges winners for their placement
type WinnerBiller interface {
	Charge(ctx context.Context, winners []ads.BiddingResult) ([]wallet.Charge, error)
}

// AuctionResponse is the body of POST /ads/auction
type AuctionResponse struct {
	AuctionID string              `json:"auctionId,omitempty"`
	SlotType  ads.SlotType        `json:"slotType"`
	Filled    bool                `json:"filled"`
	Capacity  int                 `json:"capacity"`
	Winners   []ads.BiddingResult `json:"winners"`
	Excluded  []auction.Exclusion `json:"excluded,omitempty"`
	TimedOut  bool                `json:"timedOut,omitempty"`
}

// AuctionHandler handles POST /ads/auction
type AuctionHandler struct {
	engine     *auction.Engine
	timeout    time.Duration
	candidates CandidateSource
	events     EventRecorder
	biller     WinnerBiller
	dashboard  *Dashboard
}

// NewAuctionHandler creates a new auction handler. A non-positive timeout
// uses the default auction deadline.
func NewAuctionHandler(engine *auction.Engine, timeout time.Duration) *AuctionHandler {
	if timeout <= 0 {
		timeout = config.DefaultAuctionTimeout
	}
	return &AuctionHandler{engine: engine, timeout: timeout}
}

// SetCandidateSource sets where ads come from when a request omits them
func (h *AuctionHandler) SetCandidateSource(s CandidateSource) {
	h.candidates = s
}

// SetEventRecorder sets the recorder for winner impressions and spend
func (h *AuctionHandler) SetEventRecorder(r EventRecorder) {
	h.events = r
}

// SetBiller enables charging winners as soon as they are placed
func (h *AuctionHandler) SetBiller(b WinnerBiller) {
	h.biller = b
}

// SetDashboard enables recording auctions on d
func (h *AuctionHandler) SetDashboard(d *Dashboard) {
	h.dashboard = d
}

// ServeHTTP handles the auction request
func (h *AuctionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req auction.Request
	if err := decodeBody(r, &req); err != nil {
		logger.FromContext(r.Context()).Warn().Err(err).Msg("Invalid auction request")
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Context == nil {
		writeError(w, "context: required", http.StatusBadRequest)
		return
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if req.Ads == nil {
		if h.candidates == nil {
			writeError(w, "ads: required", http.StatusBadRequest)
			return
		}
		loaded, err := h.candidates.ListCandidates(ctx, req.Context.SlotType)
		if err != nil {
			if ctx.Err() != nil {
				h.writeUnfilled(w, req.Context, start, err)
				return
			}
			logger.FromContext(ctx).Error().Err(err).Str("slot_type", string(req.Context.SlotType)).Msg("Failed to load candidate ads")
			writeError(w, "Failed to load candidate ads", http.StatusServiceUnavailable)
			return
		}
		req.Ads = loaded
	}

	result, err := h.engine.Run(ctx, &req)
	if err != nil {
		switch {
		case errors.Is(err, ads.ErrInvalidInput):
			writeError(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			h.writeUnfilled(w, req.Context, start, err)
		default:
			logger.FromContext(ctx).Error().Err(err).Msg("Auction failed")
			writeError(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	if h.events != nil && result.Filled() {
		h.events.RecordImpressions(result.AuctionID, req.Context, result.Winners)
	}
	if h.biller != nil && result.Filled() {
		h.bill(r.Context(), result)
	}
	if h.dashboard != nil {
		winners := make([]string, len(result.Winners))
		for i, w := range result.Winners {
			winners[i] = w.AdID
		}
		h.dashboard.LogAuction(AuctionLog{
			AuctionID: result.AuctionID,
			SlotType:  string(result.SlotType),
			Ads:       len(req.Ads),
			Winners:   winners,
			Excluded:  len(result.Excluded),
			Duration:  time.Since(start).Microseconds(),
			Filled:    result.Filled(),
		})
	}

	writeJSON(w, http.StatusOK, AuctionResponse{
		AuctionID: result.AuctionID,
		SlotType:  result.SlotType,
		Filled:    result.Filled(),
		Capacity:  result.Capacity,
		Winners:   result.Winners,
		Excluded:  result.Excluded,
	})
}

// bill charges winners. Billing never fails the placement; the slot already
// rendered. Charges outlive a client that hangs up, bounded by BillingTimeout.
func (h *AuctionHandler) bill(reqCtx context.Context, result *auction.Result) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(reqCtx), config.BillingTimeout)
	defer cancel()

	charges, err := h.biller.Charge(ctx, result.Winners)
	if err != nil {
		logger.Auction(result.AuctionID).Warn().Err(err).Msg("Failed to bill auction winners")
	}
	if h.events == nil {
		return
	}
	for _, c := range charges {
		if c.Err != nil || c.Receipt == nil {
			continue
		}
		h.events.Record(analytics.Event{
			Type:         analytics.EventSpend,
			AdID:         c.AdID,
			CampaignID:   c.Receipt.Transaction.CampaignID,
			AdvertiserID: c.AdvertiserID,
			AuctionID:    result.AuctionID,
			SlotType:     string(result.SlotType),
			Amount:       c.Receipt.Transaction.Amount.InexactFloat64(),
		})
	}
}

// writeUnfilled renders an empty slot when the auction missed its deadline
func (h *AuctionHandler) writeUnfilled(w http.ResponseWriter, actx *ads.AuctionContext, start time.Time, err error) {
	if h.dashboard != nil {
		h.dashboard.LogAuction(AuctionLog{
			SlotType: string(actx.SlotType),
			Winners:  []string{},
			Duration: time.Since(start).Microseconds(),
			TimedOut: true,
		})
	}

	logger.Log.Warn().
		Err(err).
		Str("slot_type", string(actx.SlotType)).
		Dur("timeout", h.timeout).
		Msg("Auction timed out, rendering unfilled slot")

	writeJSON(w, http.StatusOK, AuctionResponse{
		SlotType: actx.SlotType,
		Filled:   false,
		Capacity: h.engine.MaxAdsForSlot(actx.SlotType),
		Winners:  []ads.BiddingResult{},
		TimedOut: true,
	})
}
