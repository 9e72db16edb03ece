package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// RiskResult is one scored merchant with its alert decision.
type RiskResult struct {
	Metrics    *domain.RiskMetrics    `json:"metrics"`
	Assessment *domain.RiskAssessment `json:"assessment"`
}

// lookback resolves a requested window length; 0 selects the default.
func (s *Service) lookback(days int) (int, error) {
	if days == 0 {
		return s.scoringCfg.LookbackDays, nil
	}
	if days < 1 || days > s.scoringCfg.MaxLookbackDays {
		return 0, domain.NewConfigurationError("lookback_days", "must be between 1 and %d, got %d", s.scoringCfg.MaxLookbackDays, days)
	}
	return days, nil
}

// CalculateRisk scores merchantID over the last lookbackDays, evaluates the
// alert rules, stores the metrics and announces the outcome.
func (s *Service) CalculateRisk(ctx context.Context, merchantID string, lookbackDays int) (res *RiskResult, err error) {
	ctx, span := tracer.Start(ctx, "analysis.CalculateRisk", trace.WithAttributes(
		attribute.String("merchant_id", merchantID),
		attribute.Int("lookback_days", lookbackDays),
	))
	defer func() { endSpan(span, err) }()

	start := time.Now()
	defer func() {
		metrics.RiskComputationDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.RiskComputationsTotal.WithLabelValues("error").Inc()
		}
	}()

	days, err := s.lookback(lookbackDays)
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.GetMerchant(ctx, merchantID); err != nil {
		return nil, err
	}

	window := scoring.Lookback(s.now(), days)
	history, err := s.repo.GetMerchantTransactions(ctx, merchantID, domain.TransactionFilter{
		Since: window.Start,
		Until: window.End,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	m := s.scorer.Score(merchantID, history, window)
	if err := s.validator.ValidateRiskMetrics(m); err != nil {
		return nil, err
	}
	scoringMs := time.Since(start).Milliseconds()

	var results []domain.RuleResult
	if s.rules != nil {
		results, err = s.rules.EvaluateAll(ctx, m)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate rules: %w", err)
		}
	}

	assessment := s.processor.Process(&decision.Input{
		TraceID:     span.SpanContext().TraceID().String(),
		Metrics:     m,
		RuleResults: results,
		StartTime:   start,
		ScoringMs:   scoringMs,
	})

	if err := s.repo.SaveRiskMetrics(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to save risk metrics: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.SetRiskMetrics(ctx, m, s.metricsTTL); err != nil {
			slog.Warn("failed to cache risk metrics", "merchant_id", merchantID, "error", err)
		}
	}

	res = &RiskResult{Metrics: m, Assessment: assessment}

	metrics.RiskComputationsTotal.WithLabelValues(assessment.Status).Inc()
	metrics.CompositeRiskScore.Observe(m.CompositeRiskScore)
	span.SetAttributes(
		attribute.Float64("composite_risk_score", m.CompositeRiskScore),
		attribute.String("status", assessment.Status),
	)

	if decision.ShouldAlert(assessment) {
		s.raiseAlert(ctx, res)
	}
	s.publish(ctx, domain.TopicRiskScored, res)

	slog.Debug("risk calculated",
		"merchant_id", merchantID,
		"transactions", m.TransactionCount,
		"composite", m.CompositeRiskScore,
		"status", assessment.Status,
	)

	return res, nil
}

// raiseAlert records a Risk Alert timeline event and publishes the alert.
func (s *Service) raiseAlert(ctx context.Context, res *RiskResult) {
	m := res.Metrics
	event := &domain.TimelineEvent{
		ID:         uuid.New().String(),
		MerchantID: m.MerchantID,
		EventType:  domain.EventRiskAlert,
		Timestamp:  m.Timestamp,
		Severity:   domain.SeverityHigh,
		CreatedAt:  s.now(),
		Details: map[string]any{
			"metrics_id":           m.ID,
			"composite_risk_score": m.CompositeRiskScore,
			"reasons":              res.Assessment.Reasons,
		},
	}
	if err := s.repo.SaveTimelineEvents(ctx, []*domain.TimelineEvent{event}); err != nil {
		slog.Error("failed to record risk alert", "merchant_id", m.MerchantID, "error", err)
	}

	metrics.AlertsTotal.Inc()
	metrics.TimelineEventsTotal.WithLabelValues(event.EventType, string(event.Severity)).Inc()
	s.publish(ctx, domain.TopicRiskAlert, res)

	slog.Info("merchant risk alert",
		"merchant_id", m.MerchantID,
		"composite", m.CompositeRiskScore,
		"reasons", len(res.Assessment.Reasons),
	)
}

// LatestRisk returns the most recent metrics for a merchant, preferring the
// cache and filling it on a miss.
func (s *Service) LatestRisk(ctx context.Context, merchantID string) (*domain.RiskMetrics, error) {
	if s.cache != nil {
		m, err := s.cache.GetRiskMetrics(ctx, merchantID)
		if err != nil {
			slog.Warn("risk cache lookup failed", "merchant_id", merchantID, "error", err)
		} else if m != nil {
			return m, nil
		}
	}

	m, err := s.repo.GetLatestRiskMetrics(ctx, merchantID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetRiskMetrics(ctx, m, s.metricsTTL); err != nil {
			slog.Warn("failed to cache risk metrics", "merchant_id", merchantID, "error", err)
		}
	}
	return m, nil
}

// RiskHistory lists stored metrics for a merchant computed in the last days.
func (s *Service) RiskHistory(ctx context.Context, merchantID string, days int) ([]*domain.RiskMetrics, error) {
	days, err := s.lookback(days)
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.GetMerchant(ctx, merchantID); err != nil {
		return nil, err
	}
	return s.repo.ListRiskMetrics(ctx, merchantID, s.now().AddDate(0, 0, -days))
}

// ScoreAll scores every stored merchant, returning the results that
// succeeded. Individual failures are logged and skipped.
func (s *Service) ScoreAll(ctx context.Context, merchantIDs []string, lookbackDays int) []*RiskResult {
	out := make([]*RiskResult, 0, len(merchantIDs))
	for _, id := range merchantIDs {
		if ctx.Err() != nil {
			break
		}
		res, err := s.CalculateRisk(ctx, id, lookbackDays)
		if err != nil {
			if !errors.Is(err, repository.ErrNotFound) {
				slog.Warn("failed to score merchant", "merchant_id", id, "error", err)
			}
			continue
		}
		out = append(out, res)
	}
	return out
}
