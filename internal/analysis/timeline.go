package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/summary"
)

// TimelineDetectedEvent is published after detected events are stored.
type TimelineDetectedEvent struct {
	MerchantID string    `json:"merchantId"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Events     int       `json:"events"`
}

// GenerateSummaries recomputes and stores the daily summaries of a merchant
// between start and end.
func (s *Service) GenerateSummaries(ctx context.Context, merchantID string, start, end time.Time) (out []*domain.TransactionSummary, err error) {
	ctx, span := tracer.Start(ctx, "analysis.GenerateSummaries", trace.WithAttributes(
		attribute.String("merchant_id", merchantID),
	))
	defer func() { endSpan(span, err) }()

	if err := checkRange(start, end, 0); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetMerchant(ctx, merchantID); err != nil {
		return nil, err
	}

	history, err := s.repo.GetMerchantTransactions(ctx, merchantID, domain.TransactionFilter{Since: start, Until: end})
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	out = summary.ForMerchant(merchantID, history, domain.TimeRange{Start: start, End: end})
	if err := s.repo.SaveSummaries(ctx, out); err != nil {
		return nil, fmt.Errorf("failed to save summaries: %w", err)
	}

	slog.Debug("summaries generated", "merchant_id", merchantID, "days", len(out))
	return out, nil
}

// ListSummaries returns stored daily summaries of a merchant.
func (s *Service) ListSummaries(ctx context.Context, merchantID string, r domain.TimeRange) ([]*domain.TransactionSummary, error) {
	if !r.Start.IsZero() && !r.End.IsZero() && r.End.Before(r.Start) {
		return nil, domain.NewConfigurationError("range", "end must not be before start")
	}
	return s.repo.ListSummaries(ctx, merchantID, r)
}

// DetectTimelineEvents scans a merchant's transactions between start and
// end, stores the anomalies found and returns them. A non-empty eventType
// keeps only events of that type.
func (s *Service) DetectTimelineEvents(ctx context.Context, merchantID string, start, end time.Time, eventType string) (events []*domain.TimelineEvent, err error) {
	ctx, span := tracer.Start(ctx, "analysis.DetectTimelineEvents", trace.WithAttributes(
		attribute.String("merchant_id", merchantID),
		attribute.String("event_type", eventType),
	))
	defer func() { endSpan(span, err) }()

	if err := checkRange(start, end, s.timelineCfg.MaxRangeDays); err != nil {
		return nil, err
	}
	if eventType != "" && !detectableEventType(eventType) {
		return nil, domain.NewConfigurationError("event_type", "unknown event type %q", eventType)
	}
	if _, err := s.repo.GetMerchant(ctx, merchantID); err != nil {
		return nil, err
	}

	history, err := s.repo.GetMerchantTransactions(ctx, merchantID, domain.TransactionFilter{Since: start, Until: end})
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	for _, e := range s.detector.Detect(history) {
		if eventType == "" || e.EventType == eventType {
			events = append(events, e)
		}
	}

	if err := s.repo.SaveTimelineEvents(ctx, events); err != nil {
		return nil, fmt.Errorf("failed to save timeline events: %w", err)
	}
	for _, e := range events {
		metrics.TimelineEventsTotal.WithLabelValues(e.EventType, string(e.Severity)).Inc()
	}
	span.SetAttributes(attribute.Int("events", len(events)))

	if len(events) > 0 {
		s.publish(ctx, domain.TopicTimelineDetected, TimelineDetectedEvent{
			MerchantID: merchantID,
			Start:      start,
			End:        end,
			Events:     len(events),
		})
	}

	slog.Debug("timeline events detected", "merchant_id", merchantID, "events", len(events))
	return events, nil
}

// ListTimelineEvents returns stored events, newest first.
func (s *Service) ListTimelineEvents(ctx context.Context, filter domain.TimelineFilter) ([]*domain.TimelineEvent, error) {
	switch filter.Severity {
	case "", domain.SeverityLow, domain.SeverityMedium, domain.SeverityHigh:
	default:
		return nil, domain.NewConfigurationError("severity", "must be LOW, MEDIUM or HIGH, got %q", filter.Severity)
	}
	return s.repo.ListTimelineEvents(ctx, filter)
}

// MarkEventProcessed flags a stored event as handled.
func (s *Service) MarkEventProcessed(ctx context.Context, eventID string) error {
	return s.repo.MarkTimelineEventProcessed(ctx, eventID)
}

func detectableEventType(t string) bool {
	switch t {
	case domain.EventRoundAmount, domain.EventLateNight, domain.EventTransactionSpike, domain.EventDailyVolumeSpike:
		return true
	}
	return false
}
