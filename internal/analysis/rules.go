package analysis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// ListRules returns the rules currently loaded in the engine.
func (s *Service) ListRules() []*domain.RuleConfig {
	return s.rules.GetLoadedRules()
}

// CreateRule validates, stores and loads an alert rule.
func (s *Service) CreateRule(ctx context.Context, rule *domain.RuleConfig) error {
	if rule == nil {
		return domain.NewConfigurationError("rule", "is required")
	}
	if rule.Version == "" {
		rule.Version = "1.0.0"
	}
	if err := s.rules.ValidateRule(rule); err != nil {
		return domain.NewConfigurationError("expression", "%v", err)
	}

	if err := s.repo.SaveRuleConfig(ctx, rule); err != nil {
		return fmt.Errorf("failed to save rule: %w", err)
	}

	if rule.Enabled {
		if err := s.rules.LoadRule(rule); err != nil {
			return fmt.Errorf("failed to load rule: %w", err)
		}
	}

	slog.Info("rule created", "rule_id", rule.ID, "version", rule.Version, "enabled", rule.Enabled)
	return nil
}

// ReloadRules replaces the loaded rules with the enabled rules in storage.
// It returns the number of rules loaded.
func (s *Service) ReloadRules(ctx context.Context) (int, error) {
	configs, err := s.repo.ListRuleConfigs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list rules: %w", err)
	}
	if err := s.rules.ReloadRules(configs); err != nil {
		return 0, fmt.Errorf("failed to reload rules: %w", err)
	}

	count := s.rules.RulesCount()
	slog.Info("rules reloaded", "count", count)
	return count, nil
}

// SeedDefaultRules stores the built-in rules when storage holds none.
// It reports whether anything was written.
func (s *Service) SeedDefaultRules(ctx context.Context) (bool, error) {
	existing, err := s.repo.ListRuleConfigs(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to list rules: %w", err)
	}
	if len(existing) > 0 {
		return false, nil
	}

	defaults := rules.DefaultRules()
	for _, rule := range defaults {
		if err := s.repo.SaveRuleConfig(ctx, rule); err != nil {
			return false, fmt.Errorf("failed to seed rule %s: %w", rule.ID, err)
		}
	}

	slog.Info("seeded default rules", "count", len(defaults))
	return true, nil
}
