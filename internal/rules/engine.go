// Package rules provides the CEL-Go based alert rule engine. Rules are
// expressions over the sub-scores of a RiskMetrics record.
package rules

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine is the CEL-based rule evaluation engine.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
	maxWorkers    int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.RuleConfig
	Program cel.Program
}

// scoreVariables are the double-typed variables every rule can reference.
var scoreVariables = []string{
	domain.MetricLateNight,
	domain.MetricSuddenSpike,
	domain.MetricVelocityAbuse,
	domain.MetricDeviceSwitching,
	domain.MetricLocationHopping,
	domain.MetricPaymentCycling,
	domain.MetricRoundAmount,
	domain.MetricCustomerConcentration,
	domain.MetricComposite,
}

// NewEngine creates a new rule evaluation engine.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	opts := make([]cel.EnvOption, 0, len(scoreVariables)+2)
	for _, name := range scoreVariables {
		opts = append(opts, cel.Variable(name, cel.DoubleType))
	}
	opts = append(opts,
		cel.Variable("transaction_count", cel.IntType),
		cel.Variable("merchant_id", cel.StringType),
	)

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
		maxWorkers:    maxWorkers,
	}, nil
}

// ValidateRule compiles and validates a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(cfg *domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.compiledRules[cfg.ID] = compiled
	return nil
}

// LoadRules compiles and loads every enabled rule.
func (e *Engine) LoadRules(configs []*domain.RuleConfig) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// activation builds the CEL variables for one metrics record.
func activation(m *domain.RiskMetrics) map[string]any {
	vars := make(map[string]any, len(scoreVariables)+2)
	for name, v := range m.SubScores() {
		vars[name] = v
	}
	vars[domain.MetricComposite] = m.CompositeRiskScore
	vars["transaction_count"] = int64(m.TransactionCount)
	vars["merchant_id"] = m.MerchantID
	return vars
}

// EvaluateAll evaluates all loaded rules against m in parallel. Results
// are ordered by rule ID.
func (e *Engine) EvaluateAll(ctx context.Context, m *domain.RiskMetrics) ([]domain.RuleResult, error) {
	if m == nil {
		return nil, fmt.Errorf("risk metrics are required")
	}

	rules := e.sortedRules()
	if len(rules) == 0 {
		return nil, nil
	}

	vars := activation(m)

	results := make([]domain.RuleResult, len(rules))
	var wg sync.WaitGroup

	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx] = e.evaluateRule(r, vars, m.MerchantID)
		}(i, rule)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// evaluateRule evaluates a single rule and returns the result.
func (e *Engine) evaluateRule(rule *CompiledRule, vars map[string]any, merchantID string) domain.RuleResult {
	start := time.Now()

	result := domain.RuleResult{
		RuleID:     rule.Config.ID,
		MerchantID: merchantID,
		Weight:     rule.Config.Weight,
	}

	out, _, err := rule.Program.Eval(vars)
	if err != nil {
		result.SubRuleRef = domain.RuleOutcomeError
		result.Reason = fmt.Sprintf("evaluation error: %v", err)
		result.ProcessMs = time.Since(start).Milliseconds()
		return result
	}

	result.Score = toScore(out)
	result.SubRuleRef, result.Reason = matchBand(result.Score, rule.Config.Bands)
	result.ProcessMs = time.Since(start).Milliseconds()

	return result
}

// toScore converts a CEL value to a numeric score.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}

// matchBand finds the first band with lower <= score < upper. A nil lower
// is 0 and a nil upper is unbounded.
func matchBand(score float64, bands []domain.RuleBand) (string, string) {
	for _, band := range bands {
		lower := 0.0
		if band.LowerLimit != nil {
			lower = *band.LowerLimit
		}
		if score < lower {
			continue
		}
		if band.UpperLimit == nil || score < *band.UpperLimit {
			return band.SubRuleRef, band.Reason
		}
	}

	return domain.RuleOutcomePass, "no matching band"
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// ReloadRules replaces all loaded rules. On error the previous set stays loaded.
func (e *Engine) ReloadRules(configs []*domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledRule)

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		newRules[cfg.ID] = compiled
	}

	e.compiledRules = newRules
	return nil
}

// GetLoadedRules returns the currently loaded rule configurations ordered by ID.
func (e *Engine) GetLoadedRules() []*domain.RuleConfig {
	rules := e.sortedRules()
	configs := make([]*domain.RuleConfig, len(rules))
	for i, r := range rules {
		configs[i] = r.Config
	}
	return configs
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) sortedRules() []*CompiledRule {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	slices.SortFunc(rules, func(a, b *CompiledRule) int {
		return strings.Compare(a.Config.ID, b.Config.ID)
	})
	return rules
}

func (e *Engine) compileRule(cfg *domain.RuleConfig) (*CompiledRule, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("rule id is required")
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("rule %s: expression must return bool, int, or double, got %s", cfg.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}
