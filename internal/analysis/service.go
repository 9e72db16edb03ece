// Package analysis orchestrates dataset generation, risk scoring,
// summarization and timeline detection on top of the storage, cache and
// event bus backends.
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/dataset"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/generator"
	"github.com/opensource-finance/kestrel/internal/inject"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/random"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/timeline"
	"github.com/opensource-finance/kestrel/internal/validation"
)

var tracer = otel.Tracer("kestrel-analysis")

// Service is the application layer shared by the HTTP API, the async
// worker and the CLIs.
type Service struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	rules     *rules.Engine
	processor *decision.Processor
	scorer    *scoring.Engine
	detector  *timeline.Detector
	validator *validation.Validator
	catalog   *domain.Catalog

	genCfg      domain.GeneratorConfig
	scoringCfg  domain.ScoringConfig
	timelineCfg domain.TimelineConfig
	metricsTTL  time.Duration

	now func() time.Time
}

// New wires a Service from configuration and backends.
func New(cfg *domain.Config, repo domain.Repository, cache domain.Cache, eventBus domain.EventBus, engine *rules.Engine) (*Service, error) {
	scorer, err := scoring.NewEngine(cfg.Scoring)
	if err != nil {
		return nil, fmt.Errorf("failed to create scoring engine: %w", err)
	}

	catalog := domain.DefaultCatalog()

	return &Service{
		repo:        repo,
		cache:       cache,
		bus:         eventBus,
		rules:       engine,
		processor:   decision.NewProcessor(cfg.Scoring.AlertThreshold),
		scorer:      scorer,
		detector:    timeline.NewDetector(cfg.Timeline),
		validator:   validation.New(catalog),
		catalog:     catalog,
		genCfg:      cfg.Generator,
		scoringCfg:  cfg.Scoring,
		timelineCfg: cfg.Timeline,
		metricsTTL:  cfg.Cache.MetricsTTL,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// WithClock overrides the time source for generation, scoring and detection.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	s.scorer.WithClock(now)
	s.detector.WithClock(now)
	return s
}

// Rules returns the alert rule engine.
func (s *Service) Rules() *rules.Engine {
	return s.rules
}

// GenerateRequest asks for a new labeled dataset.
type GenerateRequest struct {
	MerchantCount int              `json:"merchant_count"`
	FraudFraction float64          `json:"fraud_fraction"`
	Patterns      []inject.Pattern `json:"patterns,omitempty"`
	Days          int              `json:"days,omitempty"`

	// Seed replays a previous dataset; nil draws a fresh seed.
	Seed *uint64 `json:"seed,omitempty"`
}

// GenerateResult describes a stored dataset.
type GenerateResult struct {
	DatasetID string           `json:"dataset_id"`
	Seed      uint64           `json:"seed"`
	Dataset   *dataset.Dataset `json:"-"`
}

// GenerateDataset composes a labeled dataset, validates every record,
// stores it and announces it on the bus.
func (s *Service) GenerateDataset(ctx context.Context, req GenerateRequest) (res *GenerateResult, err error) {
	ctx, span := tracer.Start(ctx, "analysis.GenerateDataset", trace.WithAttributes(
		attribute.Int("merchant_count", req.MerchantCount),
		attribute.Float64("fraud_fraction", req.FraudFraction),
	))
	defer func() { endSpan(span, err) }()

	if s.genCfg.MaxMerchants > 0 && req.MerchantCount > s.genCfg.MaxMerchants {
		return nil, domain.NewConfigurationError("merchant_count", "must not exceed %d, got %d", s.genCfg.MaxMerchants, req.MerchantCount)
	}

	src := random.NewFromTime()
	if req.Seed != nil {
		src = random.New(*req.Seed)
	}

	gen := generator.New(s.catalog, src, s.genCfg).WithClock(s.now)
	composer := dataset.NewComposer(gen, inject.New(s.catalog, src), src)

	ds, err := composer.Compose(dataset.Request{
		MerchantCount: req.MerchantCount,
		FraudFraction: req.FraudFraction,
		Patterns:      req.Patterns,
		Transactions:  generator.TransactionOptions{Days: req.Days},
	})
	if err != nil {
		return nil, err
	}

	txs, err := s.validator.ValidateBatch(ds.Merchants, ds.Transactions)
	if err != nil {
		return nil, err
	}
	ds.Transactions = txs

	if err := s.checkMerchantIDs(ctx, ds.Merchants); err != nil {
		return nil, err
	}

	if err := s.repo.SaveMerchants(ctx, ds.Merchants); err != nil {
		return nil, fmt.Errorf("failed to save merchants: %w", err)
	}
	if err := s.repo.SaveTransactions(ctx, ds.Transactions); err != nil {
		return nil, fmt.Errorf("failed to save transactions: %w", err)
	}

	res = &GenerateResult{
		DatasetID: uuid.New().String(),
		Seed:      src.Seed(),
		Dataset:   ds,
	}

	metrics.DatasetsGeneratedTotal.Inc()
	metrics.RecordsGeneratedTotal.WithLabelValues("merchant").Add(float64(len(ds.Merchants)))
	metrics.RecordsGeneratedTotal.WithLabelValues("transaction").Add(float64(len(ds.Transactions)))
	for _, l := range ds.Labels {
		metrics.PatternInjectionsTotal.WithLabelValues(string(l.Pattern)).Inc()
	}

	merchantIDs := make([]string, len(ds.Merchants))
	for i, m := range ds.Merchants {
		merchantIDs[i] = m.MerchantID
	}
	s.publish(ctx, domain.TopicDatasetGenerated, domain.DatasetGeneratedEvent{
		DatasetID:        res.DatasetID,
		MerchantIDs:      merchantIDs,
		TransactionCount: len(ds.Transactions),
		FraudMerchants:   len(ds.Labels),
	})

	slog.Info("dataset generated",
		"dataset_id", res.DatasetID,
		"seed", res.Seed,
		"merchants", len(ds.Merchants),
		"transactions", len(ds.Transactions),
		"fraud_merchants", len(ds.Labels),
	)

	return res, nil
}

// checkMerchantIDs rejects a batch that reuses the ID of a different stored
// merchant, which would mix two datasets' histories under one ID. A stored
// merchant with the same identity (a replayed seed) is allowed.
func (s *Service) checkMerchantIDs(ctx context.Context, merchants []*domain.Merchant) error {
	byID := make(map[string]*domain.Merchant, len(merchants))
	ids := make([]string, len(merchants))
	for i, m := range merchants {
		byID[m.MerchantID] = m
		ids[i] = m.MerchantID
	}

	existing, err := s.repo.GetMerchants(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to load existing merchants: %w", err)
	}

	for _, old := range existing {
		m := byID[old.MerchantID]
		if m == nil {
			continue
		}
		if old.BusinessName != m.BusinessName || old.BankAccount != m.BankAccount {
			return domain.NewConfigurationError("seed",
				"merchant %s is already stored for another dataset, retry with a different seed", m.MerchantID)
		}
	}
	return nil
}

// publish sends an event without failing the caller; the bus is a
// notification channel and stored data is the source of truth.
func (s *Service) publish(ctx context.Context, topic string, v any) {
	if s.bus == nil {
		return
	}
	if err := bus.PublishJSON(ctx, s.bus, topic, v); err != nil {
		slog.Warn("failed to publish event", "topic", topic, "error", err)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// checkRange validates a [start, end] request window.
func checkRange(start, end time.Time, maxDays int) error {
	if start.IsZero() || end.IsZero() {
		return domain.NewConfigurationError("range", "start and end are required")
	}
	if !end.After(start) {
		return domain.NewConfigurationError("range", "end must be after start")
	}
	if maxDays > 0 && end.Sub(start) > time.Duration(maxDays)*24*time.Hour {
		return domain.NewConfigurationError("range", "must not exceed %d days", maxDays)
	}
	return nil
}
