// Package bidadvisor recommends bid changes from quality, competition and
// historical click-through
package bidadvisor

import (
	"fmt"
	"math"
	"strings"
)

// Competition is the level of competition for a slot or keyword
type Competition string

const (
	CompetitionLow    Competition = "LOW"
	CompetitionMedium Competition = "MEDIUM"
	CompetitionHigh   Competition = "HIGH"
)

// Confidence of a recommendation
type Confidence string

const (
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceHigh   Confidence = "HIGH"
)

// History is an ad's recorded performance
type History struct {
	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
	Conversions int64   `json:"conversions"`
	Spend       float64 `json:"spend"`
}

// CTR returns the click-through rate in percent, 0 without impressions
func (h History) CTR() float64 {
	if h.Impressions <= 0 {
		return 0
	}
	return float64(h.Clicks) / float64(h.Impressions) * 100
}

// Input to a recommendation
type Input struct {
	CurrentBid   float64     `json:"currentBid"`
	QualityScore float64     `json:"qualityScore"`
	Competition  Competition `json:"competitionLevel"`
	History      History     `json:"performanceHistory"`
}

// Recommendation is the advised bid
type Recommendation struct {
	RecommendedBid float64    `json:"recommendedBid"`
	Reasoning      string     `json:"reasoning"`
	Confidence     Confidence `json:"confidence"`
}

const defaultReasoning = "Current bid is well balanced for this quality and competition level."

// Recommend applies the adjustment chain to the current bid: quality, then
// competition, then historical CTR. Reasoning lists every applied adjustment
// in that order.
func Recommend(in Input) (Recommendation, error) {
	if math.IsNaN(in.CurrentBid) || math.IsInf(in.CurrentBid, 0) || in.CurrentBid <= 0 {
		return Recommendation{}, fmt.Errorf("bidadvisor: current bid must be a positive number, got %v", in.CurrentBid)
	}
	if math.IsNaN(in.QualityScore) || in.QualityScore < 0 || in.QualityScore > 10 {
		return Recommendation{}, fmt.Errorf("bidadvisor: quality score must be within [0, 10], got %v", in.QualityScore)
	}

	competition := Competition(strings.ToUpper(string(in.Competition)))
	switch competition {
	case CompetitionLow, CompetitionMedium, CompetitionHigh:
	case "":
		competition = CompetitionMedium
	default:
		return Recommendation{}, fmt.Errorf("bidadvisor: unknown competition level %q", in.Competition)
	}

	bid := in.CurrentBid
	confidence := ConfidenceMedium
	var reasons []string

	switch {
	case in.QualityScore > 7:
		bid *= 1.1
		reasons = append(reasons, "High quality score allows a higher bid.")
	case in.QualityScore < 4:
		bid *= 0.9
		reasons = append(reasons, "Low quality score; improve ad quality before raising bids.")
	}

	switch competition {
	case CompetitionLow:
		bid *= 0.9
		reasons = append(reasons, "Low competition allows a lower bid.")
	case CompetitionHigh:
		bid *= 1.2
		reasons = append(reasons, "High competition requires a higher bid to win placements.")
	}

	// no impressions means a CTR of 0, which counts as weak
	switch ctr := in.History.CTR(); {
	case ctr > 5:
		bid *= 1.1
		confidence = ConfidenceHigh
		reasons = append(reasons, "Strong historical CTR supports a higher bid.")
	case ctr < 1:
		bid *= 0.8
		confidence = ConfidenceHigh
		reasons = append(reasons, "Weak historical CTR suggests lowering the bid.")
	}

	reasoning := defaultReasoning
	if len(reasons) > 0 {
		reasoning = strings.Join(reasons, " ")
	}

	return Recommendation{
		RecommendedBid: roundToCents(bid),
		Reasoning:      reasoning,
		Confidence:     confidence,
	}, nil
}

// roundToCents rounds a price to 2 decimal places
func roundToCents(price float64) float64 {
	return math.Round(price*100) / 100.0
}
