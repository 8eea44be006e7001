package performance

import (
	"math"
	"strings"
	"testing"
)

func floatPtr(v float64) *float64 { return &v }

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestCompute(t *testing.T) {
	m := Compute(Counters{Impressions: 2000, Clicks: 50, Conversions: 5, Spend: 100, Revenue: 450})

	checks := []struct {
		name     string
		got      float64
		expected float64
	}{
		{"ctr", m.CTR, 2.5},
		{"cpc", m.CPC, 2},
		{"cpm", m.CPM, 50},
		{"cpa", m.CPA, 20},
		{"roas", m.ROAS, 4.5},
	}
	for _, c := range checks {
		if !approxEqual(c.got, c.expected) {
			t.Errorf("%s: expected %v, got %v", c.name, c.expected, c.got)
		}
	}
	if m.Impressions != 2000 || m.Revenue != 450 {
		t.Errorf("expected counters carried through, got %+v", m.Counters)
	}
}

func TestCompute_ZeroDenominators(t *testing.T) {
	tests := []struct {
		name string
		c    Counters
	}{
		{name: "all zero", c: Counters{}},
		{name: "spend without traffic", c: Counters{Spend: 10, Revenue: 5}},
		{name: "revenue without spend", c: Counters{Impressions: 10, Clicks: 1, Revenue: 100}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Compute(tt.c)
			for _, v := range []float64{m.CTR, m.CPC, m.CPM, m.CPA, m.ROAS} {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					t.Fatalf("expected finite rates, got %+v", m)
				}
			}
			if tt.c.Impressions == 0 && (m.CTR != 0 || m.CPM != 0) {
				t.Errorf("expected zero CTR and CPM, got %v/%v", m.CTR, m.CPM)
			}
			if tt.c.Clicks == 0 && m.CPC != 0 {
				t.Errorf("expected zero CPC, got %v", m.CPC)
			}
			if tt.c.Conversions == 0 && m.CPA != 0 {
				t.Errorf("expected zero CPA, got %v", m.CPA)
			}
			if tt.c.Spend == 0 && m.ROAS != 0 {
				t.Errorf("expected zero ROAS, got %v", m.ROAS)
			}
		})
	}
}

func TestBudgetUtilization(t *testing.T) {
	tests := []struct {
		name    string
		budget  Budget
		status  BudgetStatus
		percent float64
	}{
		{name: "on track at 85%", budget: Budget{Total: 1000, Used: 850}, status: BudgetOnTrack, percent: 85},
		{name: "exhausted", budget: Budget{Total: 1000, Used: 1000, Remaining: floatPtr(0)}, status: BudgetExhausted, percent: 100},
		{name: "over budget with stored remainder", budget: Budget{Total: 1000, Used: 1100, Remaining: floatPtr(50)}, status: BudgetOverBudget, percent: 110},
		{name: "overspend without stored remainder", budget: Budget{Total: 1000, Used: 1100}, status: BudgetOverBudget, percent: 110},
		{name: "spent exactly the total", budget: Budget{Total: 1000, Used: 1000}, status: BudgetExhausted, percent: 100},
		{name: "stored remainder exhausted while over", budget: Budget{Total: 1000, Used: 1100, Remaining: floatPtr(0)}, status: BudgetExhausted, percent: 110},
		{name: "exactly 80% is under budget", budget: Budget{Total: 1000, Used: 800}, status: BudgetUnderBudget, percent: 80},
		{name: "under budget", budget: Budget{Total: 1000, Used: 100}, status: BudgetUnderBudget, percent: 10},
		{name: "zero budget", budget: Budget{Total: 0, Used: 0}, status: BudgetExhausted, percent: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := BudgetUtilization(tt.budget)
			if u.Status != tt.status {
				t.Errorf("expected status %s, got %s", tt.status, u.Status)
			}
			if !approxEqual(u.UtilizationPercent, tt.percent) {
				t.Errorf("expected %v%%, got %v%%", tt.percent, u.UtilizationPercent)
			}
		})
	}
}

func containsText(list []string, substr string) bool {
	for _, s := range list {
		if strings.Contains(strings.ToLower(s), substr) {
			return true
		}
	}
	return false
}

func TestGenerateReport(t *testing.T) {
	tests := []struct {
		name            string
		counters        Counters
		insights        []string
		recommendations int
	}{
		{
			name:            "strong campaign",
			counters:        Counters{Impressions: 1000, Clicks: 80, Conversions: 10, Spend: 100, Revenue: 600},
			insights:        []string{"strong relevance", "excellent"},
			recommendations: 0,
		},
		{
			name:            "weak campaign",
			counters:        Counters{Impressions: 10000, Clicks: 50, Conversions: 1, Spend: 150, Revenue: 20},
			insights:        []string{"relevance issue", "competitive keywords", "negative"},
			recommendations: 4,
		},
		{
			name:            "no traffic reads as low CTR and negative return",
			counters:        Counters{},
			insights:        []string{"relevance issue", "negative"},
			recommendations: 2,
		},
		{
			name:            "expensive acquisition only",
			counters:        Counters{Impressions: 1000, Clicks: 30, Conversions: 1, Spend: 60, Revenue: 150},
			insights:        nil,
			recommendations: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := GenerateReport(tt.counters)

			if len(r.Insights) != len(tt.insights) {
				t.Fatalf("expected %d insights, got %v", len(tt.insights), r.Insights)
			}
			for _, want := range tt.insights {
				if !containsText(r.Insights, want) {
					t.Errorf("expected insight containing %q, got %v", want, r.Insights)
				}
			}
			if len(r.Recommendations) != tt.recommendations {
				t.Errorf("expected %d recommendations, got %v", tt.recommendations, r.Recommendations)
			}
		})
	}
}
