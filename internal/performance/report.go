package performance

// Report thresholds
const (
	strongCTR     = 5.0
	weakCTR       = 1.0
	expensiveCPC  = 2.0
	excellentROAS = 4.0
	breakEvenROAS = 1.0
	expensiveCPA  = 50.0
)

// Report is the qualitative summary of a set of counters
type Report struct {
	Metrics         Metrics  `json:"metrics"`
	Insights        []string `json:"insights"`
	Recommendations []string `json:"recommendations"`
}

// GenerateReport computes metrics for c and appends insights and
// recommendations keyed on fixed thresholds. Rates without a denominator are
// 0, so an ad with no traffic reads as low CTR and negative return.
func GenerateReport(c Counters) Report {
	m := Compute(c)
	r := Report{
		Metrics:         m,
		Insights:        []string{},
		Recommendations: []string{},
	}

	switch {
	case m.CTR > strongCTR:
		r.Insights = append(r.Insights, "High CTR indicates strong relevance between ads and audience")
	case m.CTR < weakCTR:
		r.Insights = append(r.Insights, "Low CTR suggests a relevance issue between ads and audience")
		r.Recommendations = append(r.Recommendations, "Improve ad titles and descriptions to better match search intent")
	}

	if m.CPC > expensiveCPC {
		r.Insights = append(r.Insights, "High CPC indicates competitive keywords")
		r.Recommendations = append(r.Recommendations, "Target long-tail keywords or improve quality score to lower click costs")
	}

	switch {
	case m.ROAS > excellentROAS:
		r.Insights = append(r.Insights, "Excellent return on ad spend")
	case m.ROAS < breakEvenROAS:
		r.Insights = append(r.Insights, "Negative return on ad spend")
		r.Recommendations = append(r.Recommendations, "Review targeting and landing pages, or pause underperforming ads")
	}

	if m.CPA > expensiveCPA {
		r.Recommendations = append(r.Recommendations, "Optimize the conversion funnel to reduce cost per acquisition")
	}

	return r
}
