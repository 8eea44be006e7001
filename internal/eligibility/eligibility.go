// Package eligibility decides whether an ad may compete for a slot
package eligibility

import (
	"strings"

	"github.com/thenexusengine/adslot/internal/ads"
)

// Exclusion reasons, one per check in evaluation order
const (
	ReasonNotActiveStatus  = "Ad status is not ACTIVE"
	ReasonInactive         = "Ad is not active"
	ReasonNotApproved      = "Ad is not approved"
	ReasonBelowMinimum     = "Bid amount below minimum"
	ReasonBelowReserve     = "Bid amount below reserve price"
	ReasonAboveMaximum     = "Bid amount exceeds maximum bid"
	ReasonCategoryMismatch = "Category not targeted by slot"
	ReasonKeywordMismatch  = "Search query does not match slot keywords"
)

// Result of an eligibility check. Ineligibility is a normal outcome, not an error.
type Result struct {
	Eligible bool   `json:"eligible"`
	Reason   string `json:"reason,omitempty"`
}

func eligible() Result { return Result{Eligible: true} }

func excluded(reason string) Result { return Result{Reason: reason} }

// Filter checks ads against slot configuration
type Filter struct {
	slots ads.SlotTable
}

// New creates a filter over the given slot table; nil uses the built-in table
func New(slots ads.SlotTable) *Filter {
	if slots == nil {
		slots = ads.DefaultSlotTable()
	}
	return &Filter{slots: slots}
}

// Slot returns the configuration the filter uses for t
func (f *Filter) Slot(t ads.SlotType) ads.Slot {
	return f.slots.Lookup(t)
}

// CheckContext checks ad against the slot named by the request
func (f *Filter) CheckContext(ad *ads.Ad, ctx *ads.AuctionContext) Result {
	return Check(ad, f.slots.Lookup(ctx.SlotType), ctx)
}

// Check runs the eligibility checks in order; the first failure wins
func Check(ad *ads.Ad, slot ads.Slot, ctx *ads.AuctionContext) Result {
	if ad.Status != ads.StatusActive {
		return excluded(ReasonNotActiveStatus)
	}
	if !ad.IsActive {
		return excluded(ReasonInactive)
	}
	if !ad.IsApproved {
		return excluded(ReasonNotApproved)
	}

	if ad.BidAmount < slot.MinBidAmount {
		return excluded(ReasonBelowMinimum)
	}
	if slot.ReservePrice != nil && ad.BidAmount < *slot.ReservePrice {
		return excluded(ReasonBelowReserve)
	}
	if ad.MaxBidAmount != nil && ad.BidAmount > *ad.MaxBidAmount {
		return excluded(ReasonAboveMaximum)
	}

	if len(slot.TargetCategories) > 0 && !containsFold(slot.TargetCategories, ctx.CategoryID) {
		return excluded(ReasonCategoryMismatch)
	}
	if len(slot.TargetKeywords) > 0 && !KeywordsMatch(slot.TargetKeywords, ctx.SearchQuery) {
		return excluded(ReasonKeywordMismatch)
	}

	return eligible()
}

// KeywordsMatch reports whether any keyword and any query word contain one
// another, case-insensitively. An empty query never matches.
func KeywordsMatch(keywords []string, query string) bool {
	words := ads.Words(query)
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		for _, w := range words {
			if strings.Contains(w, kw) || strings.Contains(kw, w) {
				return true
			}
		}
	}
	return false
}

func containsFold(list []string, v string) bool {
	if v == "" {
		return false
	}
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}
