// Package auction ranks competing ads for one slot request
package auction

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/thenexusengine/adslot/internal/ads"
	"github.com/thenexusengine/adslot/internal/config"
	"github.com/thenexusengine/adslot/internal/eligibility"
	"github.com/thenexusengine/adslot/internal/quality"
	"github.com/thenexusengine/adslot/pkg/logger"
)

// ReasonDegenerateScore excludes ads whose final score is NaN, infinite or negative
const ReasonDegenerateScore = "Degenerate final score"

// MetricsRecorder receives auction outcomes
type MetricsRecorder interface {
	RecordAuction(slotType string, candidates, winners int, duration time.Duration)
	RecordExclusion(slotType, reason string)
	RecordAuctionTimeout(slotType string)
}

// Config holds engine configuration
type Config struct {
	// Slots supplies capacity and eligibility constraints per slot type
	Slots ads.SlotTable

	// CostRatio is the share of the bid a winner pays
	CostRatio float64

	// PositionStep raises the final score per position below the first
	PositionStep float64
	// MobileBoost multiplies the final score on mobile devices
	MobileBoost float64
	// BoostedCountry gets LocationBoost applied (ISO 3166-1 alpha-2)
	BoostedCountry string
	LocationBoost  float64

	// FanOutThreshold is the candidate count above which scoring runs in parallel
	FanOutThreshold int
	// MaxConcurrentScorers bounds scoring goroutines per auction
	MaxConcurrentScorers int
}

// DefaultConfig returns the standard multipliers and the built-in slot table
func DefaultConfig() *Config {
	return &Config{
		Slots:                ads.DefaultSlotTable(),
		CostRatio:            config.DefaultCostRatio,
		PositionStep:         0.1,
		MobileBoost:          1.1,
		BoostedCountry:       "TR",
		LocationBoost:        1.05,
		FanOutThreshold:      config.DefaultFanOutThreshold,
		MaxConcurrentScorers: config.DefaultMaxConcurrentScorers,
	}
}

// validateConfig applies defaults for values that would break the
// cost <= bid or monotonic score invariants
func validateConfig(cfg *Config) *Config {
	defaults := DefaultConfig()

	if cfg.Slots == nil {
		cfg.Slots = defaults.Slots
	}

	// A winner must never pay more than it bid
	if cfg.CostRatio <= 0 || cfg.CostRatio > 1 || math.IsNaN(cfg.CostRatio) {
		cfg.CostRatio = defaults.CostRatio
	}

	if cfg.PositionStep < 0 {
		cfg.PositionStep = defaults.PositionStep
	}

	// Multipliers must stay positive or the score stops increasing in the bid
	if cfg.MobileBoost <= 0 {
		cfg.MobileBoost = defaults.MobileBoost
	}
	if cfg.LocationBoost <= 0 {
		cfg.LocationBoost = defaults.LocationBoost
	}

	if cfg.FanOutThreshold <= 0 {
		cfg.FanOutThreshold = defaults.FanOutThreshold
	}
	if cfg.MaxConcurrentScorers <= 0 {
		cfg.MaxConcurrentScorers = defaults.MaxConcurrentScorers
	}

	return cfg
}

// Engine runs slot auctions. It holds no per-auction state and is safe for
// concurrent use.
type Engine struct {
	config  *Config
	scorer  *quality.Scorer
	filter  *eligibility.Filter
	metrics MetricsRecorder

	metricsMu sync.RWMutex
}

// New creates an engine. A nil scorer gets the default. Eligibility and
// capacity both read cfg.Slots.
func New(cfg *Config, scorer *quality.Scorer) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg = validateConfig(cfg)

	if scorer == nil {
		scorer = quality.NewScorer(nil)
	}
	return &Engine{
		config: cfg,
		scorer: scorer,
		filter: eligibility.New(cfg.Slots),
	}
}

// SetMetrics sets the metrics recorder
func (e *Engine) SetMetrics(m MetricsRecorder) {
	e.metricsMu.Lock()
	defer e.metricsMu.Unlock()
	e.metrics = m
}

func (e *Engine) recorder() MetricsRecorder {
	e.metricsMu.RLock()
	defer e.metricsMu.RUnlock()
	return e.metrics
}

// Config returns the engine configuration
func (e *Engine) Config() *Config {
	return e.config
}

// Request is one slot auction
type Request struct {
	Context *ads.AuctionContext `json:"context"`
	Ads     []*ads.Ad           `json:"ads"`
}

// Exclusion records why a candidate did not compete
type Exclusion struct {
	AdID   string `json:"adId"`
	Reason string `json:"reason"`
}

// Result of one auction. Winners are ordered by descending final score.
type Result struct {
	AuctionID string              `json:"auctionId"`
	SlotType  ads.SlotType        `json:"slotType"`
	Capacity  int                 `json:"capacity"`
	Winners   []ads.BiddingResult `json:"winners"`
	Excluded  []Exclusion         `json:"excluded,omitempty"`
}

// Filled reports whether any ad won the slot
func (r *Result) Filled() bool {
	return len(r.Winners) > 0
}

// MaxAdsForSlot returns the capacity configured for a slot type
func (e *Engine) MaxAdsForSlot(t ads.SlotType) int {
	return e.config.Slots.Lookup(t).Capacity
}

// FinalScore combines bid, quality and relevance with the contextual multipliers
func (e *Engine) FinalScore(bid, qualityScore, relevanceScore float64, ctx *ads.AuctionContext) float64 {
	positionFactor := 1 + float64(ctx.Position-1)*e.config.PositionStep

	deviceFactor := 1.0
	if ctx.DeviceType.IsMobile() {
		deviceFactor = e.config.MobileBoost
	}

	locationFactor := 1.0
	if country := ctx.Country(); country != "" && strings.EqualFold(country, e.config.BoostedCountry) {
		locationFactor = e.config.LocationBoost
	}

	return bid * qualityScore * relevanceScore * positionFactor * deviceFactor * locationFactor
}

// Cost is what a winner pays: a flat share of its own bid
func (e *Engine) Cost(bid float64) float64 {
	return bid * e.config.CostRatio
}

// RelevanceScore maps keyword relevance onto a multiplier in [1, 2]. A request
// with no search signal leaves every ad at 1.
func RelevanceScore(ad *ads.Ad, ctx *ads.AuctionContext) float64 {
	return 1 + quality.Relevance(ad, ctx)/quality.MaxRelevance
}

// candidate is the per-ad working state; index keeps input order for the
// stable sort and for the exclusion list
type candidate struct {
	index  int
	ad     *ads.Ad
	reason string
	result ads.BiddingResult
}

// Run executes one auction. Invalid ads or context are a hard error; an
// ineligible or degenerate ad is only excluded. When ctx is done before
// ranking completes Run returns ctx.Err() and the slot should render unfilled.
func (e *Engine) Run(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()

	if req == nil {
		return nil, &ads.ValidationError{Field: "request", Reason: "nil request"}
	}
	actx := req.Context
	if err := actx.Validate(); err != nil {
		return nil, err
	}
	for _, ad := range req.Ads {
		if err := ad.Validate(); err != nil {
			return nil, err
		}
	}

	auctionID := uuid.NewString()
	log := logger.Auction(auctionID)
	slot := e.filter.Slot(actx.SlotType)
	capacity := e.MaxAdsForSlot(actx.SlotType)
	m := e.recorder()

	candidates := make([]candidate, len(req.Ads))
	for i, ad := range req.Ads {
		candidates[i] = candidate{index: i, ad: ad}
		if res := eligibility.Check(ad, slot, actx); !res.Eligible {
			candidates[i].reason = res.Reason
		}
	}

	if err := e.score(ctx, candidates, actx); err != nil {
		if m != nil {
			m.RecordAuctionTimeout(string(actx.SlotType))
		}
		log.Warn().
			Err(err).
			Str("slot_type", string(actx.SlotType)).
			Int("candidates", len(candidates)).
			Msg("auction abandoned before ranking")
		return nil, err
	}

	ranked := make([]ads.BiddingResult, 0, len(candidates))
	var excluded []Exclusion
	for _, c := range candidates {
		if c.reason != "" {
			excluded = append(excluded, Exclusion{AdID: c.ad.ID, Reason: c.reason})
			if c.reason == ReasonDegenerateScore {
				log.Warn().
					Str("ad_id", c.ad.ID).
					Float64("bid", c.ad.BidAmount).
					Float64("final_score", c.result.FinalScore).
					Msg("ad excluded with degenerate score")
			} else {
				log.Debug().
					Str("ad_id", c.ad.ID).
					Str("reason", c.reason).
					Msg("ad excluded")
			}
			if m != nil {
				m.RecordExclusion(string(actx.SlotType), c.reason)
			}
			continue
		}
		ranked = append(ranked, c.result)
	}

	// Equal scores keep input order
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].FinalScore > ranked[j].FinalScore
	})

	winners := ranked
	if len(winners) > capacity {
		winners = winners[:capacity]
	}
	for i := range winners {
		winners[i].Position = actx.Position + i
		winners[i].IsWinner = true
	}

	result := &Result{
		AuctionID: auctionID,
		SlotType:  actx.SlotType,
		Capacity:  capacity,
		Winners:   winners,
		Excluded:  excluded,
	}

	if m != nil {
		m.RecordAuction(string(actx.SlotType), len(req.Ads), len(winners), time.Since(start))
	}
	log.Debug().
		Str("slot_type", string(actx.SlotType)).
		Int("candidates", len(req.Ads)).
		Int("excluded", len(excluded)).
		Int("winners", len(winners)).
		Dur("duration", time.Since(start)).
		Msg("auction complete")

	return result, nil
}

// score fills in the bidding result of every eligible candidate. Large
// candidate sets are scored in parallel; each goroutine writes only its own
// slice element.
func (e *Engine) score(ctx context.Context, candidates []candidate, actx *ads.AuctionContext) error {
	if len(candidates) <= e.config.FanOutThreshold {
		for i := range candidates {
			if err := ctx.Err(); err != nil {
				return err
			}
			e.scoreOne(&candidates[i], actx)
		}
		return ctx.Err()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.MaxConcurrentScorers)

	chunk := (len(candidates) + e.config.MaxConcurrentScorers - 1) / e.config.MaxConcurrentScorers
	for lo := 0; lo < len(candidates); lo += chunk {
		hi := lo + chunk
		if hi > len(candidates) {
			hi = len(candidates)
		}
		part := candidates[lo:hi]
		g.Go(func() error {
			for i := range part {
				if err := gctx.Err(); err != nil {
					return err
				}
				e.scoreOne(&part[i], actx)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (e *Engine) scoreOne(c *candidate, actx *ads.AuctionContext) {
	if c.reason != "" {
		return
	}
	ad := c.ad

	var q float64
	if ad.QualityScore != nil {
		q = *ad.QualityScore
	} else {
		q = e.scorer.Score(ad, actx).Total
	}
	rel := RelevanceScore(ad, actx)
	final := e.FinalScore(ad.BidAmount, q, rel, actx)

	c.result = ads.BiddingResult{
		AdID:           ad.ID,
		CampaignID:     ad.CampaignID,
		AdvertiserID:   ad.AdvertiserID,
		BidAmount:      ad.BidAmount,
		QualityScore:   q,
		RelevanceScore: rel,
		FinalScore:     final,
		Cost:           e.Cost(ad.BidAmount),
	}

	// a zero quality score yields 0, which still ranks
	if final < 0 || math.IsNaN(final) || math.IsInf(final, 0) {
		c.reason = ReasonDegenerateScore
	}
}
