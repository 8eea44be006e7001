package bidadvisor

import (
	"math"
	"strings"
	"testing"
)

func TestRecommend(t *testing.T) {
	tests := []struct {
		name       string
		in         Input
		bid        float64
		confidence Confidence
		reasons    []string
	}{
		{
			name:       "no adjustments",
			in:         Input{CurrentBid: 2, QualityScore: 5, Competition: CompetitionMedium, History: History{Impressions: 1000, Clicks: 20}},
			bid:        2,
			confidence: ConfidenceMedium,
			reasons:    []string{defaultReasoning},
		},
		{
			name:       "high quality high competition",
			in:         Input{CurrentBid: 1, QualityScore: 8, Competition: CompetitionHigh, History: History{Impressions: 1000, Clicks: 20}},
			bid:        1.32,
			confidence: ConfidenceMedium,
			reasons:    []string{"High quality", "High competition"},
		},
		{
			name:       "low quality low competition",
			in:         Input{CurrentBid: 10, QualityScore: 3, Competition: CompetitionLow, History: History{Impressions: 1000, Clicks: 20}},
			bid:        8.1,
			confidence: ConfidenceMedium,
			reasons:    []string{"Low quality", "Low competition"},
		},
		{
			name: "strong CTR",
			in: Input{CurrentBid: 1, QualityScore: 5, Competition: CompetitionMedium,
				History: History{Impressions: 1000, Clicks: 60}},
			bid:        1.1,
			confidence: ConfidenceHigh,
			reasons:    []string{"Strong historical CTR"},
		},
		{
			name: "weak CTR after every other adjustment",
			in: Input{CurrentBid: 2.5, QualityScore: 9, Competition: CompetitionHigh,
				History: History{Impressions: 1000, Clicks: 5}},
			bid:        2.64,
			confidence: ConfidenceHigh,
			reasons:    []string{"High quality", "High competition", "Weak historical CTR"},
		},
		{
			name:       "no history counts as weak CTR",
			in:         Input{CurrentBid: 10, QualityScore: 5, Competition: CompetitionMedium},
			bid:        8,
			confidence: ConfidenceHigh,
			reasons:    []string{"Weak historical CTR"},
		},
		{
			name:       "lowercase competition",
			in:         Input{CurrentBid: 1, QualityScore: 5, Competition: "high", History: History{Impressions: 1000, Clicks: 20}},
			bid:        1.2,
			confidence: ConfidenceMedium,
			reasons:    []string{"High competition"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := Recommend(tt.in)
			if err != nil {
				t.Fatalf("Recommend failed: %v", err)
			}
			if math.Abs(rec.RecommendedBid-tt.bid) > 1e-9 {
				t.Errorf("expected bid %v, got %v", tt.bid, rec.RecommendedBid)
			}
			if rec.Confidence != tt.confidence {
				t.Errorf("expected confidence %s, got %s", tt.confidence, rec.Confidence)
			}

			// reasons appear in evaluation order
			last := -1
			for _, want := range tt.reasons {
				idx := strings.Index(rec.Reasoning, want)
				if idx < 0 {
					t.Fatalf("expected reasoning to contain %q, got %q", want, rec.Reasoning)
				}
				if idx < last {
					t.Errorf("expected %q after earlier reasons in %q", want, rec.Reasoning)
				}
				last = idx
			}
		})
	}
}

func TestRecommend_RoundsToCents(t *testing.T) {
	rec, err := Recommend(Input{CurrentBid: 1.234, QualityScore: 8, Competition: CompetitionHigh,
		History: History{Impressions: 500, Clicks: 10}})
	if err != nil {
		t.Fatalf("Recommend failed: %v", err)
	}
	// 1.234 * 1.1 * 1.2 = 1.62888
	if rec.RecommendedBid != 1.63 {
		t.Errorf("expected 1.63, got %v", rec.RecommendedBid)
	}
}

func TestRecommend_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		in   Input
	}{
		{name: "zero bid", in: Input{CurrentBid: 0, QualityScore: 5}},
		{name: "NaN bid", in: Input{CurrentBid: math.NaN(), QualityScore: 5}},
		{name: "quality above 10", in: Input{CurrentBid: 1, QualityScore: 11}},
		{name: "unknown competition", in: Input{CurrentBid: 1, QualityScore: 5, Competition: "EXTREME"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Recommend(tt.in); err == nil {
				t.Error("expected error")
			}
		})
	}
}
