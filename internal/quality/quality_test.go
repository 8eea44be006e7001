package quality

import (
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/thenexusengine/adslot/internal/ads"
)

const epsilon = 1e-9

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < epsilon
}

func headphonesAd() *ads.Ad {
	return &ads.Ad{
		ID:             "ad-1",
		Title:          "Wireless Bluetooth Headphones",
		Description:    "Premium noise cancelling headphones with long battery",
		LandingPageURL: "https://www.shop.com/headphones",
		BidAmount:      1,
		Impressions:    1000,
		Clicks:         50,
	}
}

func TestScorer_Score_FullBreakdown(t *testing.T) {
	scorer := NewScorer(nil)
	ctx := &ads.AuctionContext{
		SlotType:       ads.SlotSearchTop,
		Position:       1,
		SearchQuery:    "wireless headphones",
		SearchCategory: "electronics",
		CategoryID:     "electronics",
		DeviceType:     ads.DeviceDesktop,
	}

	b := scorer.Score(headphonesAd(), ctx)

	if !approxEqual(b.Relevance, 3) {
		t.Errorf("expected relevance capped at 3, got %v", b.Relevance)
	}
	if !approxEqual(b.ExpectedCTR, 0.5) {
		t.Errorf("expected CTR term 0.5, got %v", b.ExpectedCTR)
	}
	if !approxEqual(b.LandingPage, 2.5) {
		t.Errorf("expected landing page 2.5, got %v", b.LandingPage)
	}
	if !approxEqual(b.AdFormat, 1) {
		t.Errorf("expected ad format 1, got %v", b.AdFormat)
	}
	if !approxEqual(b.Total, 7) {
		t.Errorf("expected total 7, got %v", b.Total)
	}
}

func TestRelevance(t *testing.T) {
	ad := headphonesAd()

	tests := []struct {
		name     string
		ctx      *ads.AuctionContext
		expected float64
	}{
		{
			name:     "no query no category",
			ctx:      &ads.AuctionContext{Position: 1},
			expected: 0,
		},
		{
			name:     "title and description match",
			ctx:      &ads.AuctionContext{Position: 1, SearchQuery: "Wireless Headphones"},
			expected: 2.5,
		},
		{
			name:     "description only",
			ctx:      &ads.AuctionContext{Position: 1, SearchQuery: "battery"},
			expected: 1,
		},
		{
			name:     "half the query in the title",
			ctx:      &ads.AuctionContext{Position: 1, SearchQuery: "bluetooth speaker"},
			expected: 1,
		},
		{
			name:     "category match only",
			ctx:      &ads.AuctionContext{Position: 1, SearchCategory: "audio", CategoryID: "audio"},
			expected: 1,
		},
		{
			name:     "empty category does not count as a match",
			ctx:      &ads.AuctionContext{Position: 1, SearchCategory: "", CategoryID: ""},
			expected: 0,
		},
		{
			name:     "capped at three",
			ctx:      &ads.AuctionContext{Position: 1, SearchQuery: "headphones", SearchCategory: "a", CategoryID: "a"},
			expected: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Relevance(ad, tt.ctx); !approxEqual(got, tt.expected) {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestScorer_ExpectedCTR(t *testing.T) {
	scorer := NewScorer(nil)

	tests := []struct {
		name        string
		impressions int64
		clicks      int64
		position    int
		device      ads.DeviceType
		expected    float64
	}{
		{name: "no impressions", impressions: 0, clicks: 0, position: 1, expected: 0},
		{name: "first position desktop", impressions: 1000, clicks: 50, position: 1, device: ads.DeviceDesktop, expected: 0.5},
		{name: "third position mobile", impressions: 1000, clicks: 50, position: 3, device: ads.DeviceMobile, expected: 0.05 * 0.6 * 1.2 * 10},
		{name: "deep position floors at 0.1", impressions: 1000, clicks: 50, position: 10, expected: 0.05 * 0.1 * 10},
		{name: "capped at three", impressions: 1000, clicks: 900, position: 1, expected: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ad := &ads.Ad{Impressions: tt.impressions, Clicks: tt.clicks}
			ctx := &ads.AuctionContext{Position: tt.position, DeviceType: tt.device}
			if got := scorer.expectedCTR(ad, ctx); !approxEqual(got, tt.expected) {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestScorer_LandingPage(t *testing.T) {
	scorer := NewScorer(nil)

	tests := []struct {
		name     string
		url      string
		expected float64
	}{
		{name: "empty", url: "", expected: 0},
		{name: "all heuristics", url: "https://www.shop.com/p", expected: 2.5},
		{name: "plain http", url: "http://www.shop.com/p", expected: 2.0},
		{name: "no www", url: "https://shop.com/p", expected: 2.0},
		{name: "query string", url: "https://www.shop.com/p?id=1", expected: 2.0},
		{name: "long url", url: "https://www.shop.com/" + strings.Repeat("a", 100), expected: 2.0},
		{name: "worst case", url: "http://shop.com/?" + strings.Repeat("a", 100), expected: 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := scorer.landingPage(tt.url); !approxEqual(got, tt.expected) {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestScorer_AdFormat(t *testing.T) {
	scorer := NewScorer(nil)

	tests := []struct {
		name        string
		title       string
		description string
		expected    float64
	}{
		{name: "both in range", title: strings.Repeat("t", 10), description: strings.Repeat("d", 160), expected: 1},
		{name: "title too short", title: "short", description: strings.Repeat("d", 20), expected: 0.5},
		{name: "title too long", title: strings.Repeat("t", 61), description: strings.Repeat("d", 20), expected: 0.5},
		{name: "description too long", title: strings.Repeat("t", 60), description: strings.Repeat("d", 161), expected: 0.5},
		{name: "neither", title: "", description: "", expected: 0},
		{name: "multibyte runes counted as characters", title: strings.Repeat("ü", 10), description: strings.Repeat("ş", 20), expected: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ad := &ads.Ad{Title: tt.title, Description: tt.description}
			if got := scorer.adFormat(ad); !approxEqual(got, tt.expected) {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestScorer_Score_AlwaysWithinBounds(t *testing.T) {
	scorer := NewScorer(nil)
	rng := rand.New(rand.NewSource(42))
	vocabulary := []string{"phone", "case", "cheap", "laptop", "bag", "shoes", "red", "fast"}

	randomText := func(n int) string {
		words := make([]string, n)
		for i := range words {
			words[i] = vocabulary[rng.Intn(len(vocabulary))]
		}
		return strings.Join(words, " ")
	}

	for i := 0; i < 2000; i++ {
		impressions := rng.Int63n(10000)
		var clicks int64
		if impressions > 0 {
			clicks = rng.Int63n(impressions + 1)
		}
		ad := &ads.Ad{
			Title:          randomText(rng.Intn(12)),
			Description:    randomText(rng.Intn(40)),
			LandingPageURL: "https://www.example.com/" + randomText(rng.Intn(30)),
			Impressions:    impressions,
			Clicks:         clicks,
		}
		device := ads.DeviceDesktop
		if rng.Intn(2) == 0 {
			device = ads.DeviceMobile
		}
		ctx := &ads.AuctionContext{
			Position:       1 + rng.Intn(10),
			SearchQuery:    randomText(rng.Intn(5)),
			SearchCategory: "c",
			CategoryID:     []string{"c", "d"}[rng.Intn(2)],
			DeviceType:     device,
		}

		b := scorer.Score(ad, ctx)
		if b.Total < 0 || b.Total > 10 || math.IsNaN(b.Total) {
			t.Fatalf("score out of bounds: %+v", b)
		}
	}
}

func TestScorer_Score_Deterministic(t *testing.T) {
	scorer := NewScorer(DefaultConfig())
	ctx := &ads.AuctionContext{Position: 2, SearchQuery: "bluetooth", DeviceType: ads.DeviceMobile}

	first := scorer.Score(headphonesAd(), ctx)
	for i := 0; i < 10; i++ {
		if got := scorer.Score(headphonesAd(), ctx); got != first {
			t.Fatalf("expected identical breakdowns, got %+v and %+v", first, got)
		}
	}
}
