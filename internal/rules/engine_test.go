package rules

import (
	"context"
	"fmt"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func metrics(composite float64) *domain.RiskMetrics {
	return &domain.RiskMetrics{
		ID:                 "rm-1",
		MerchantID:         "M1000001",
		TransactionCount:   40,
		LateNightScore:     0.1,
		VelocityAbuseScore: 0.2,
		CompositeRiskScore: composite,
	}
}

func TestEngineCreation(t *testing.T) {
	engine, err := NewEngine(5)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	defer engine.Close()

	if engine.RulesCount() != 0 {
		t.Errorf("expected 0 rules, got %d", engine.RulesCount())
	}

	results, err := engine.EvaluateAll(context.Background(), metrics(0.5))
	if err != nil || results != nil {
		t.Errorf("expected no results without rules, got %v, %v", results, err)
	}
}

func TestLoadRule(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	tests := []struct {
		name       string
		expression string
		wantErr    bool
	}{
		{"double", "late_night_score", false},
		{"bool", "composite_risk_score > 0.7", false},
		{"int", "transaction_count", false},
		{"merchant", `merchant_id == "M1000001"`, false},
		{"invalid syntax", "this is not valid CEL !!!", true},
		{"unknown variable", "amount > 100.0", true},
		{"string result", "merchant_id", true},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := &domain.RuleConfig{
				ID:         fmt.Sprintf("rule-%d", i),
				Expression: tt.expression,
				Enabled:    true,
			}
			err := engine.LoadRule(rule)
			if tt.wantErr && err == nil {
				t.Errorf("expected error for %q", tt.expression)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}

	if engine.RulesCount() != 4 {
		t.Errorf("expected 4 loaded rules, got %d", engine.RulesCount())
	}
}

func TestValidateRuleDoesNotLoad(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	if err := engine.ValidateRule(&domain.RuleConfig{ID: "v", Expression: "round_amount_score"}); err != nil {
		t.Fatalf("ValidateRule failed: %v", err)
	}
	if engine.RulesCount() != 0 {
		t.Error("ValidateRule must not load the rule")
	}
	if err := engine.ValidateRule(nil); err == nil {
		t.Error("expected error for nil rule")
	}
	if err := engine.ValidateRule(&domain.RuleConfig{Expression: "round_amount_score"}); err == nil {
		t.Error("expected error for rule without id")
	}
}

func TestEvaluateBands(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	low, high := 0.5, 0.7
	engine.LoadRule(&domain.RuleConfig{
		ID:         "composite",
		Expression: "composite_risk_score",
		Bands: []domain.RuleBand{
			{UpperLimit: &low, SubRuleRef: domain.RuleOutcomePass, Reason: "low"},
			{LowerLimit: &low, UpperLimit: &high, SubRuleRef: domain.RuleOutcomeReview, Reason: "elevated"},
			{LowerLimit: &high, SubRuleRef: domain.RuleOutcomeFail, Reason: "high"},
		},
		Weight:  1,
		Enabled: true,
	})

	tests := []struct {
		composite float64
		want      string
	}{
		{0.1, domain.RuleOutcomePass},
		{0.5, domain.RuleOutcomeReview},
		{0.69, domain.RuleOutcomeReview},
		{0.7, domain.RuleOutcomeFail},
		{1.0, domain.RuleOutcomeFail},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%.2f", tt.composite), func(t *testing.T) {
			results, err := engine.EvaluateAll(context.Background(), metrics(tt.composite))
			if err != nil {
				t.Fatalf("EvaluateAll failed: %v", err)
			}
			if results[0].SubRuleRef != tt.want {
				t.Errorf("expected %s, got %s", tt.want, results[0].SubRuleRef)
			}
			if results[0].Score != tt.composite {
				t.Errorf("expected score %.2f, got %.2f", tt.composite, results[0].Score)
			}
		})
	}
}

func TestEvaluateBooleanRule(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	one := 1.0
	engine.LoadRule(&domain.RuleConfig{
		ID:         "busy-and-fast",
		Expression: "velocity_abuse_score >= 0.2 && transaction_count >= 20",
		Bands: []domain.RuleBand{
			{LowerLimit: &one, SubRuleRef: domain.RuleOutcomeFail, Reason: "fast"},
		},
		Enabled: true,
	})

	ctx := context.Background()
	m := metrics(0.3)

	results, _ := engine.EvaluateAll(ctx, m)
	if results[0].Score != 1.0 || results[0].SubRuleRef != domain.RuleOutcomeFail {
		t.Errorf("expected fail with score 1, got %s %.1f", results[0].SubRuleRef, results[0].Score)
	}

	m.TransactionCount = 5
	results, _ = engine.EvaluateAll(ctx, m)
	if results[0].Score != 0 || results[0].SubRuleRef != domain.RuleOutcomePass {
		t.Errorf("expected pass with score 0, got %s %.1f", results[0].SubRuleRef, results[0].Score)
	}
}

func TestEvaluationError(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	engine.LoadRule(&domain.RuleConfig{
		ID:         "div",
		Expression: "transaction_count / (transaction_count - 40)",
		Enabled:    true,
	})

	results, err := engine.EvaluateAll(context.Background(), metrics(0))
	if err != nil {
		t.Fatalf("EvaluateAll failed: %v", err)
	}
	if results[0].SubRuleRef != domain.RuleOutcomeError {
		t.Errorf("expected .err for division by zero, got %s", results[0].SubRuleRef)
	}
}

func TestParallelExecutionOrdered(t *testing.T) {
	engine, _ := NewEngine(3)
	defer engine.Close()

	for i := 9; i >= 0; i-- {
		engine.LoadRule(&domain.RuleConfig{
			ID:         fmt.Sprintf("rule-%d", i),
			Expression: "composite_risk_score > 0.0",
			Weight:     1.0,
			Enabled:    true,
		})
	}

	results, err := engine.EvaluateAll(context.Background(), metrics(0.4))
	if err != nil {
		t.Fatalf("parallel evaluation failed: %v", err)
	}
	if len(results) != 10 {
		t.Fatalf("expected 10 results, got %d", len(results))
	}
	for i, r := range results {
		if r.RuleID != fmt.Sprintf("rule-%d", i) {
			t.Errorf("result %d out of order: %s", i, r.RuleID)
		}
		if r.Score != 1.0 {
			t.Errorf("rule %d: expected score 1.0, got %.2f", i, r.Score)
		}
	}
}

func TestReloadRules(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	engine.LoadRule(&domain.RuleConfig{ID: "old", Expression: "late_night_score", Enabled: true})

	err := engine.ReloadRules([]*domain.RuleConfig{
		{ID: "a", Expression: "round_amount_score", Enabled: true},
		{ID: "b", Expression: "sudden_spike_score", Enabled: false},
	})
	if err != nil {
		t.Fatalf("ReloadRules failed: %v", err)
	}

	loaded := engine.GetLoadedRules()
	if len(loaded) != 1 || loaded[0].ID != "a" {
		t.Fatalf("expected only rule a, got %d rules", len(loaded))
	}

	err = engine.ReloadRules([]*domain.RuleConfig{{ID: "broken", Expression: "nope(", Enabled: true}})
	if err == nil {
		t.Fatal("expected compile error")
	}
	if engine.RulesCount() != 1 {
		t.Error("failed reload must keep the previous rules")
	}
}

func TestRuleResultMetadata(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	engine.LoadRule(&domain.RuleConfig{
		ID:         "meta-test",
		Expression: "composite_risk_score",
		Weight:     0.75,
		Enabled:    true,
	})

	results, _ := engine.EvaluateAll(context.Background(), metrics(0.2))

	if results[0].RuleID != "meta-test" {
		t.Errorf("expected RuleID 'meta-test', got '%s'", results[0].RuleID)
	}
	if results[0].MerchantID != "M1000001" {
		t.Errorf("expected MerchantID 'M1000001', got '%s'", results[0].MerchantID)
	}
	if results[0].Weight != 0.75 {
		t.Errorf("expected Weight 0.75, got %.2f", results[0].Weight)
	}
	if results[0].ProcessMs < 0 {
		t.Error("ProcessMs should be non-negative")
	}
}

func TestDefaultRulesCompile(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	defaults := DefaultRules()
	if err := engine.LoadRules(defaults); err != nil {
		t.Fatalf("default rules do not compile: %v", err)
	}
	if engine.RulesCount() != len(defaults) {
		t.Errorf("expected %d rules, got %d", len(defaults), engine.RulesCount())
	}

	clean := &domain.RiskMetrics{MerchantID: "M1000001", TransactionCount: 100}
	results, _ := engine.EvaluateAll(context.Background(), clean)
	for _, r := range results {
		if r.SubRuleRef != domain.RuleOutcomePass {
			t.Errorf("rule %s: expected pass for a clean merchant, got %s", r.RuleID, r.SubRuleRef)
		}
	}

	risky := &domain.RiskMetrics{
		MerchantID:                 "M1000002",
		TransactionCount:           100,
		LateNightScore:             0.9,
		VelocityAbuseScore:         0.8,
		CustomerConcentrationScore: 1,
		DeviceSwitchingScore:       1,
		CompositeRiskScore:         0.8,
	}
	results, _ = engine.EvaluateAll(context.Background(), risky)
	failed := 0
	for _, r := range results {
		if r.SubRuleRef == domain.RuleOutcomeFail {
			failed++
		}
	}
	if failed != 4 {
		t.Errorf("expected 4 failing rules for a risky merchant, got %d", failed)
	}
}
