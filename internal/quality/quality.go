// Package quality computes a 0-10 quality score for an ad in the context of
// one auction request
package quality

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/thenexusengine/adslot/internal/ads"
)

// Term ceilings. Their sum is the raw maximum the total is rescaled against.
const (
	MaxRelevance   = 3.0
	MaxExpectedCTR = 3.0
	MaxLandingPage = 3.0
	MaxAdFormat    = 1.0

	rawMax   = MaxRelevance + MaxExpectedCTR + MaxLandingPage + MaxAdFormat
	maxScore = 10.0
)

// Config holds the tunable factors of the scorer
type Config struct {
	// PositionDecay lowers expected CTR per position below the first
	PositionDecay float64
	// MinPositionFactor floors the position factor
	MinPositionFactor float64
	// MobileCTRFactor boosts expected CTR on mobile devices
	MobileCTRFactor float64
	// CTRScale converts a CTR fraction into score points
	CTRScale float64
	// MaxURLLength is the exclusive bound for the short-URL credit
	MaxURLLength int
	// LandingCredit is awarded per satisfied landing-page heuristic
	LandingCredit float64

	TitleMinLen, TitleMaxLen             int
	DescriptionMinLen, DescriptionMaxLen int
}

// DefaultConfig returns the standard scoring factors
func DefaultConfig() *Config {
	return &Config{
		PositionDecay:     0.2,
		MinPositionFactor: 0.1,
		MobileCTRFactor:   1.2,
		CTRScale:          10,
		MaxURLLength:      100,
		LandingCredit:     0.5,
		TitleMinLen:       10,
		TitleMaxLen:       60,
		DescriptionMinLen: 20,
		DescriptionMaxLen: 160,
	}
}

// Breakdown is the per-term result of scoring one ad
type Breakdown struct {
	Relevance   float64 `json:"relevance"`
	ExpectedCTR float64 `json:"expectedCtr"`
	LandingPage float64 `json:"landingPage"`
	AdFormat    float64 `json:"adFormat"`
	Total       float64 `json:"total"`
}

// Scorer computes quality scores. It holds no mutable state.
type Scorer struct {
	config *Config
}

// NewScorer creates a scorer; nil config uses defaults
func NewScorer(config *Config) *Scorer {
	if config == nil {
		config = DefaultConfig()
	}
	return &Scorer{config: config}
}

// Score returns the quality breakdown of ad for the request ctx
func (s *Scorer) Score(ad *ads.Ad, ctx *ads.AuctionContext) Breakdown {
	b := Breakdown{
		Relevance:   Relevance(ad, ctx),
		ExpectedCTR: s.expectedCTR(ad, ctx),
		LandingPage: s.landingPage(ad.LandingPageURL),
		AdFormat:    s.adFormat(ad),
	}
	sum := b.Relevance + b.ExpectedCTR + b.LandingPage + b.AdFormat
	b.Total = clamp(sum/rawMax*maxScore, 0, maxScore)
	return b
}

// Relevance scores keyword overlap between the search query and the ad copy.
// Title matches weigh twice as much as description matches; a search inside
// the request's own category earns one extra point.
func Relevance(ad *ads.Ad, ctx *ads.AuctionContext) float64 {
	score := 0.0

	queryWords := ads.Words(ctx.SearchQuery)
	if len(queryWords) > 0 {
		title := wordSet(ad.Title)
		desc := wordSet(ad.Description)

		var titleHits, descHits int
		for _, w := range queryWords {
			if _, ok := title[w]; ok {
				titleHits++
			}
			if _, ok := desc[w]; ok {
				descHits++
			}
		}
		n := float64(len(queryWords))
		score += float64(titleHits)/n*2 + float64(descHits)/n
	}

	if ctx.SearchCategory != "" && ctx.SearchCategory == ctx.CategoryID {
		score++
	}

	return math.Min(score, MaxRelevance)
}

func (s *Scorer) expectedCTR(ad *ads.Ad, ctx *ads.AuctionContext) float64 {
	if ad.Impressions <= 0 {
		return 0
	}
	historical := float64(ad.Clicks) / float64(ad.Impressions)

	positionFactor := math.Max(s.config.MinPositionFactor, 1-float64(ctx.Position-1)*s.config.PositionDecay)
	deviceFactor := 1.0
	if ctx.DeviceType.IsMobile() {
		deviceFactor = s.config.MobileCTRFactor
	}

	return clamp(historical*positionFactor*deviceFactor*s.config.CTRScale, 0, MaxExpectedCTR)
}

// landingPage awards a fixed credit per heuristic. An empty URL earns nothing.
func (s *Scorer) landingPage(rawURL string) float64 {
	if rawURL == "" {
		return 0
	}
	credit := s.config.LandingCredit
	score := 0.0

	if strings.HasPrefix(strings.ToLower(rawURL), "https://") {
		score += credit
	}
	if len(rawURL) < s.config.MaxURLLength {
		score += credit
	}
	if strings.Contains(strings.ToLower(rawURL), "www.") {
		score += credit
	}
	if !strings.Contains(rawURL, "?") {
		score += credit
	}
	// mobile friendliness is not measured yet, every page gets the credit
	score += credit

	return math.Min(score, MaxLandingPage)
}

func (s *Scorer) adFormat(ad *ads.Ad) float64 {
	score := 0.0
	if n := utf8.RuneCountInString(ad.Title); n >= s.config.TitleMinLen && n <= s.config.TitleMaxLen {
		score += 0.5
	}
	if n := utf8.RuneCountInString(ad.Description); n >= s.config.DescriptionMinLen && n <= s.config.DescriptionMaxLen {
		score += 0.5
	}
	return math.Min(score, MaxAdFormat)
}

func wordSet(s string) map[string]struct{} {
	words := ads.Words(s)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
