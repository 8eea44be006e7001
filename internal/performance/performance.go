// Package performance derives advertising rates from raw counters and turns
// them into reports and budget status
package performance

// Counters are the raw totals recorded for an ad or campaign
type Counters struct {
	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
	Conversions int64   `json:"conversions"`
	Spend       float64 `json:"spend"`
	Revenue     float64 `json:"revenue"`
}

// Metrics are counters plus derived rates. Every rate is 0 when its
// denominator is 0.
type Metrics struct {
	Counters
	CTR  float64 `json:"ctr"` // percent
	CPC  float64 `json:"cpc"`
	CPM  float64 `json:"cpm"`
	CPA  float64 `json:"cpa"`
	ROAS float64 `json:"roas"`
}

// Compute derives the rates for c
func Compute(c Counters) Metrics {
	return Metrics{
		Counters: c,
		CTR:      ratio(float64(c.Clicks), float64(c.Impressions)) * 100,
		CPC:      ratio(c.Spend, float64(c.Clicks)),
		CPM:      ratio(c.Spend, float64(c.Impressions)) * 1000,
		CPA:      ratio(c.Spend, float64(c.Conversions)),
		ROAS:     ratio(c.Revenue, c.Spend),
	}
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

// BudgetStatus classifies budget utilization
type BudgetStatus string

const (
	BudgetExhausted   BudgetStatus = "EXHAUSTED"
	BudgetOverBudget  BudgetStatus = "OVER_BUDGET"
	BudgetOnTrack     BudgetStatus = "ON_TRACK"
	BudgetUnderBudget BudgetStatus = "UNDER_BUDGET"
)

// onTrackPercent is the utilization above which a budget is on track
const onTrackPercent = 80

// Budget is a campaign budget snapshot. Remaining is the stored remainder
// kept by the budget owner; when nil it is reported as Total - Used.
type Budget struct {
	Total     float64  `json:"totalBudget"`
	Used      float64  `json:"usedAmount"`
	Remaining *float64 `json:"remainingAmount,omitempty"`
}

// Utilization is the status of a budget
type Utilization struct {
	TotalBudget        float64      `json:"totalBudget"`
	UsedAmount         float64      `json:"usedAmount"`
	RemainingAmount    float64      `json:"remainingAmount"`
	UtilizationPercent float64      `json:"utilizationPercent"`
	Status             BudgetStatus `json:"status"`
}

// BudgetUtilization computes utilization percent and status. A stored
// remainder at or below zero is EXHAUSTED regardless of the percentage. A
// derived remainder only marks the budget EXHAUSTED while usage has not
// passed the total, so overspend reports OVER_BUDGET.
func BudgetUtilization(b Budget) Utilization {
	remaining := b.Total - b.Used
	exhausted := remaining <= 0 && b.Used <= b.Total
	if b.Remaining != nil {
		remaining = *b.Remaining
		exhausted = remaining <= 0
	}

	u := Utilization{
		TotalBudget:        b.Total,
		UsedAmount:         b.Used,
		RemainingAmount:    remaining,
		UtilizationPercent: ratio(b.Used, b.Total) * 100,
	}

	switch {
	case exhausted:
		u.Status = BudgetExhausted
	case u.UtilizationPercent > 100:
		u.Status = BudgetOverBudget
	case u.UtilizationPercent > onTrackPercent:
		u.Status = BudgetOnTrack
	default:
		u.Status = BudgetUnderBudget
	}
	return u
}
