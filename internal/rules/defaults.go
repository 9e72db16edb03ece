package rules

import "github.com/opensource-finance/kestrel/internal/domain"

func limit(v float64) *float64 { return &v }

// DefaultRules returns the seed alert rules stored on first start. Each
// rule fails when its sub-score reaches a level that on its own warrants
// review; the composite rule mirrors the decision threshold.
func DefaultRules() []*domain.RuleConfig {
	return []*domain.RuleConfig{
		{
			ID:          "composite-risk",
			Name:        "Composite risk",
			Description: "Weighted composite of all sub-scores",
			Version:     "1.0.0",
			Expression:  domain.MetricComposite,
			Bands: []domain.RuleBand{
				{UpperLimit: limit(0.5), SubRuleRef: domain.RuleOutcomePass, Reason: "composite risk low"},
				{LowerLimit: limit(0.5), UpperLimit: limit(0.7), SubRuleRef: domain.RuleOutcomeReview, Reason: "composite risk elevated"},
				{LowerLimit: limit(0.7), SubRuleRef: domain.RuleOutcomeFail, Reason: "composite risk high"},
			},
			Weight:  2.0,
			Enabled: true,
		},
		{
			ID:          "late-night-trading",
			Name:        "Late-night trading",
			Description: "Most activity happens between 22:00 and 05:00",
			Version:     "1.0.0",
			Expression:  domain.MetricLateNight,
			Bands: []domain.RuleBand{
				{UpperLimit: limit(0.6), SubRuleRef: domain.RuleOutcomePass, Reason: "daytime trading"},
				{LowerLimit: limit(0.6), SubRuleRef: domain.RuleOutcomeFail, Reason: "majority of transactions at night"},
			},
			Weight:  1.0,
			Enabled: true,
		},
		{
			ID:          "velocity-abuse",
			Name:        "Velocity abuse",
			Description: "Bursts of transactions minutes apart with enough history to matter",
			Version:     "1.0.0",
			Expression:  domain.MetricVelocityAbuse + ` >= 0.5 && transaction_count >= 20`,
			Bands: []domain.RuleBand{
				{UpperLimit: limit(1), SubRuleRef: domain.RuleOutcomePass, Reason: "normal pacing"},
				{LowerLimit: limit(1), SubRuleRef: domain.RuleOutcomeFail, Reason: "rapid-fire transactions"},
			},
			Weight:  1.0,
			Enabled: true,
		},
		{
			ID:          "mule-concentration",
			Name:        "Customer concentration",
			Description: "Few customers and devices account for most of the volume",
			Version:     "1.0.0",
			Expression:  `(` + domain.MetricCustomerConcentration + ` + ` + domain.MetricDeviceSwitching + `) / 2.0`,
			Bands: []domain.RuleBand{
				{UpperLimit: limit(0.5), SubRuleRef: domain.RuleOutcomePass, Reason: "diverse customer base"},
				{LowerLimit: limit(0.5), UpperLimit: limit(0.75), SubRuleRef: domain.RuleOutcomeReview, Reason: "concentrated customer base"},
				{LowerLimit: limit(0.75), SubRuleRef: domain.RuleOutcomeFail, Reason: "volume driven by a handful of customers"},
			},
			Weight:  1.0,
			Enabled: true,
		},
		{
			ID:          "round-amounts",
			Name:        "Round amounts",
			Description: "Share of transactions at exact multiples of 100",
			Version:     "1.0.0",
			Expression:  domain.MetricRoundAmount,
			Bands: []domain.RuleBand{
				{UpperLimit: limit(0.3), SubRuleRef: domain.RuleOutcomePass, Reason: "organic amounts"},
				{LowerLimit: limit(0.3), SubRuleRef: domain.RuleOutcomeReview, Reason: "many round amounts"},
			},
			Weight:  0.5,
			Enabled: true,
		},
		{
			ID:          "sudden-spike",
			Name:        "Sudden spike",
			Description: "One day far above the merchant's normal volume",
			Version:     "1.0.0",
			Expression:  domain.MetricSuddenSpike,
			Bands: []domain.RuleBand{
				{UpperLimit: limit(0.8), SubRuleRef: domain.RuleOutcomePass, Reason: "steady volume"},
				{LowerLimit: limit(0.8), SubRuleRef: domain.RuleOutcomeFail, Reason: "extreme daily volume spike"},
			},
			Weight:  1.0,
			Enabled: true,
		},
	}
}
