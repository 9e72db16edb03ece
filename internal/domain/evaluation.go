package domain

import (
	"time"
)

// RiskAssessment is the alerting decision taken on top of a RiskMetrics record.
type RiskAssessment struct {
	ID         string    `json:"id"`
	MerchantID string    `json:"merchantId"`
	MetricsID  string    `json:"metricsId"`
	Status     string    `json:"status"` // "ALRT" or "NALT"
	Score      float64   `json:"score"`
	RuleScore  float64   `json:"ruleScore"`
	Timestamp  time.Time `json:"timestamp"`

	RuleResults []RuleResult `json:"ruleResults,omitempty"`
	Reasons     []string     `json:"reasons,omitempty"`

	Metadata AssessmentMetadata `json:"metadata"`
}

// AssessmentMetadata contains processing information.
type AssessmentMetadata struct {
	TraceID        string `json:"traceId"`
	RulesEvaluated int    `json:"rulesEvaluated"`
	ScoringMs      int64  `json:"scoringMs"`
	DecisionMs     int64  `json:"decisionMs"`
	TotalMs        int64  `json:"totalMs"`
	EngineVersion  string `json:"engineVersion"`
}

// Decision status constants
const (
	StatusAlert   = "ALRT" // Alert - merchant needs review
	StatusNoAlert = "NALT" // No alert
)
