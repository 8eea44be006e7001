// Package ads defines the data model shared by the auction engine, the
// eligibility filter and the quality scorer.
package ads

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrInvalidInput marks inputs rejected at the system boundary
var ErrInvalidInput = errors.New("invalid input")

// ValidationError describes a rejected field
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid input: %s - %s", e.Field, e.Reason)
}

// Is reports ErrInvalidInput so callers can use errors.Is
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// AdStatus is the campaign-management lifecycle state of an ad
type AdStatus string

const (
	StatusActive        AdStatus = "ACTIVE"
	StatusPaused        AdStatus = "PAUSED"
	StatusDraft         AdStatus = "DRAFT"
	StatusPendingReview AdStatus = "PENDING_REVIEW"
	StatusRejected      AdStatus = "REJECTED"
	StatusCompleted     AdStatus = "COMPLETED"
)

// DeviceType of the requesting client
type DeviceType string

const (
	DeviceDesktop DeviceType = "desktop"
	DeviceMobile  DeviceType = "mobile"
	DeviceTablet  DeviceType = "tablet"
)

// IsMobile reports whether the device gets mobile multipliers
func (d DeviceType) IsMobile() bool {
	return strings.EqualFold(string(d), string(DeviceMobile))
}

func (d DeviceType) valid() bool {
	switch DeviceType(strings.ToLower(string(d))) {
	case "", DeviceDesktop, DeviceMobile, DeviceTablet:
		return true
	}
	return false
}

// Location of the requesting client
type Location struct {
	Country string `json:"country,omitempty"` // ISO 3166-1 alpha-2
	Region  string `json:"region,omitempty"`
	City    string `json:"city,omitempty"`
}

// Ad is one advertisement competing for slots. Read-only during an auction.
type Ad struct {
	ID             string   `json:"id"`
	CampaignID     string   `json:"campaignId"`
	AdvertiserID   string   `json:"advertiserId,omitempty"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	LandingPageURL string   `json:"landingPageUrl"`
	BidAmount      float64  `json:"bidAmount"`
	MaxBidAmount   *float64 `json:"maxBidAmount,omitempty"`
	// QualityScore is a precomputed score kept by campaign management.
	// When nil the auction computes one.
	QualityScore *float64 `json:"qualityScore,omitempty"`
	Status       AdStatus `json:"status"`
	IsActive     bool     `json:"isActive"`
	IsApproved   bool     `json:"isApproved"`
	Impressions  int64    `json:"impressions"`
	Clicks       int64    `json:"clicks"`
	Conversions  int64    `json:"conversions"`
}

// Validate checks the invariants an ad must hold before entering an auction
func (a *Ad) Validate() error {
	if a == nil {
		return &ValidationError{Field: "ad", Reason: "nil ad"}
	}
	if a.ID == "" {
		return &ValidationError{Field: "ad.id", Reason: "required"}
	}
	if math.IsNaN(a.BidAmount) || math.IsInf(a.BidAmount, 0) {
		return &ValidationError{Field: "ad.bidAmount", Reason: "must be a finite number"}
	}
	if a.BidAmount <= 0 {
		return &ValidationError{Field: "ad.bidAmount", Reason: "must be positive"}
	}
	// A max below the bid is left to the eligibility filter, which excludes the ad
	if a.MaxBidAmount != nil && (math.IsNaN(*a.MaxBidAmount) || math.IsInf(*a.MaxBidAmount, 0)) {
		return &ValidationError{Field: "ad.maxBidAmount", Reason: "must be a finite number"}
	}
	if a.QualityScore != nil {
		q := *a.QualityScore
		if math.IsNaN(q) || q < 0 || q > 10 {
			return &ValidationError{Field: "ad.qualityScore", Reason: "must be within [0, 10]"}
		}
	}
	if a.Impressions < 0 || a.Clicks < 0 || a.Conversions < 0 {
		return &ValidationError{Field: "ad.counters", Reason: "must not be negative"}
	}
	return nil
}

// AuctionContext is the per-request value object for one slot auction
type AuctionContext struct {
	SlotType       SlotType   `json:"slotType"`
	Position       int        `json:"position"` // 1-based
	SearchQuery    string     `json:"searchQuery,omitempty"`
	SearchCategory string     `json:"searchCategory,omitempty"`
	ProductID      string     `json:"productId,omitempty"`
	CategoryID     string     `json:"categoryId,omitempty"`
	DeviceType     DeviceType `json:"deviceType,omitempty"`
	Location       *Location  `json:"location,omitempty"`
	SessionID      string     `json:"sessionId,omitempty"`
}

// Validate checks required context fields
func (c *AuctionContext) Validate() error {
	if c == nil {
		return &ValidationError{Field: "context", Reason: "nil context"}
	}
	if c.SlotType == "" {
		return &ValidationError{Field: "context.slotType", Reason: "required"}
	}
	if c.Position < 1 {
		return &ValidationError{Field: "context.position", Reason: "must be >= 1"}
	}
	if !c.DeviceType.valid() {
		return &ValidationError{Field: "context.deviceType", Reason: fmt.Sprintf("unknown device type %q", c.DeviceType)}
	}
	return nil
}

// Country returns the request country or ""
func (c *AuctionContext) Country() string {
	if c.Location == nil {
		return ""
	}
	return c.Location.Country
}

// BiddingResult is one winning ad in an auction. Never mutated after creation.
type BiddingResult struct {
	AdID           string  `json:"adId"`
	CampaignID     string  `json:"campaignId"`
	AdvertiserID   string  `json:"advertiserId,omitempty"`
	BidAmount      float64 `json:"bidAmount"`
	QualityScore   float64 `json:"qualityScore"`
	RelevanceScore float64 `json:"relevanceScore"`
	FinalScore     float64 `json:"finalScore"`
	Position       int     `json:"position"`
	Cost           float64 `json:"cost"`
	IsWinner       bool    `json:"isWinner"`
}

// Words lowercases s and splits it into words, trimming punctuation
func Words(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	words := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, ".,;:!?\"'()[]{}")
		if f != "" {
			words = append(words, f)
		}
	}
	return words
}
