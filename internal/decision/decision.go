// Package decision aggregates the composite risk score and alert rule
// results into a single alert decision for a merchant.
package decision

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// EngineVersion is recorded on every assessment.
const EngineVersion = "kestrel-1.0"

// Processor aggregates rule results and produces a final decision.
type Processor struct {
	// Composite score at or above which a merchant is flagged ALRT
	AlertThreshold float64

	// Weight configuration for rule aggregation
	UseWeightedScoring bool

	now func() time.Time
}

// NewProcessor creates a processor with the given alert threshold.
// A non-positive threshold falls back to 0.7.
func NewProcessor(threshold float64) *Processor {
	if threshold <= 0 {
		threshold = 0.7
	}
	return &Processor{
		AlertThreshold:     threshold,
		UseWeightedScoring: true,
		now:                time.Now,
	}
}

// Input contains all data needed for a decision.
type Input struct {
	TraceID     string
	Metrics     *domain.RiskMetrics
	RuleResults []domain.RuleResult
	StartTime   time.Time
	ScoringMs   int64
}

// Process evaluates the composite score and rule results.
// A merchant is alerted when the composite reaches the threshold or any
// rule fails.
func (p *Processor) Process(input *Input) *domain.RiskAssessment {
	start := p.now()
	m := input.Metrics

	agg := p.aggregate(input.RuleResults)

	a := &domain.RiskAssessment{
		ID:          uuid.New().String(),
		MerchantID:  m.MerchantID,
		MetricsID:   m.ID,
		Score:       m.CompositeRiskScore,
		RuleScore:   agg.AggregateScore,
		Timestamp:   start.UTC(),
		RuleResults: input.RuleResults,
	}

	overThreshold := m.CompositeRiskScore >= p.AlertThreshold
	if overThreshold || agg.HasCriticalFailure {
		a.Status = domain.StatusAlert
	} else {
		a.Status = domain.StatusNoAlert
	}

	if overThreshold {
		a.Reasons = append(a.Reasons, fmt.Sprintf("composite risk score %.2f at or above %.2f", m.CompositeRiskScore, p.AlertThreshold))
	}
	a.Reasons = append(a.Reasons, Reasons(input.RuleResults)...)

	totalMs := int64(0)
	if !input.StartTime.IsZero() {
		totalMs = p.now().Sub(input.StartTime).Milliseconds()
	}

	a.Metadata = domain.AssessmentMetadata{
		TraceID:        input.TraceID,
		RulesEvaluated: len(input.RuleResults),
		ScoringMs:      input.ScoringMs,
		DecisionMs:     p.now().Sub(start).Milliseconds(),
		TotalMs:        totalMs,
		EngineVersion:  EngineVersion,
	}

	return a
}

// AggregateResult holds the aggregated rule scoring results.
type AggregateResult struct {
	AggregateScore     float64
	TotalWeight        float64
	RulesTriggered     int
	HasCriticalFailure bool
}

// aggregate computes the weighted aggregate score from rule results.
// Rules that failed to evaluate do not contribute.
func (p *Processor) aggregate(results []domain.RuleResult) *AggregateResult {
	agg := &AggregateResult{}

	for _, r := range results {
		if r.SubRuleRef == domain.RuleOutcomeError {
			continue
		}

		weight := r.Weight
		if weight <= 0 {
			weight = 1.0
		}

		switch r.SubRuleRef {
		case domain.RuleOutcomeFail:
			agg.HasCriticalFailure = true
			agg.RulesTriggered++
		case domain.RuleOutcomeReview:
			agg.RulesTriggered++
		}

		if p.UseWeightedScoring {
			agg.AggregateScore += r.Score * weight
			agg.TotalWeight += weight
		} else {
			agg.AggregateScore += r.Score
			agg.TotalWeight += 1.0
		}
	}

	if agg.TotalWeight > 0 {
		agg.AggregateScore = agg.AggregateScore / agg.TotalWeight
	}

	return agg
}

// ShouldAlert returns true if the assessment should trigger an alert.
func ShouldAlert(a *domain.RiskAssessment) bool {
	return a.Status == domain.StatusAlert
}

// Reasons extracts human-readable reasons from failed and review rules.
func Reasons(results []domain.RuleResult) []string {
	var reasons []string
	for _, r := range results {
		if r.SubRuleRef == domain.RuleOutcomeFail || r.SubRuleRef == domain.RuleOutcomeReview {
			if r.Reason != "" {
				reasons = append(reasons, r.RuleID+": "+r.Reason)
			}
		}
	}
	return reasons
}
