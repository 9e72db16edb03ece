// Package worker scores merchants asynchronously from EventBus messages.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/analysis"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// Scorer computes and stores risk for one merchant.
type Scorer interface {
	CalculateRisk(ctx context.Context, merchantID string, lookbackDays int) (*analysis.RiskResult, error)
}

// job is one merchant to score.
type job struct {
	topic        string
	merchantID   string
	lookbackDays int
	traceID      string
}

// Worker consumes risk requests and dataset announcements and scores the
// named merchants on a bounded pool.
type Worker struct {
	bus    domain.EventBus
	scorer Scorer

	jobs          chan job
	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
	mu            sync.Mutex
}

// Config holds worker configuration.
type Config struct {
	// WorkerCount is the number of concurrent scoring goroutines
	WorkerCount int

	// ScoreGenerated scores every merchant of a newly generated dataset
	ScoreGenerated bool
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, scorer Scorer) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		scorer: scorer,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the pool and subscribes to the worker topics.
func (w *Worker) Start(cfg Config) error {
	count := cfg.WorkerCount
	if count <= 0 {
		count = 1
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.jobs != nil {
		return fmt.Errorf("worker already started")
	}
	w.jobs = make(chan job, count*4)

	topics := []struct {
		name    string
		handler domain.MessageHandler
	}{
		{domain.TopicRiskRequested, w.handleRiskRequest},
	}
	if cfg.ScoreGenerated {
		topics = append(topics, struct {
			name    string
			handler domain.MessageHandler
		}{domain.TopicDatasetGenerated, w.handleDatasetGenerated})
	}

	// No goroutine starts until every subscription is in place.
	for _, topic := range topics {
		sub, err := w.bus.Subscribe(w.ctx, topic.name, topic.handler)
		if err != nil {
			for _, s := range w.subscriptions {
				s.Unsubscribe()
			}
			w.subscriptions = nil
			w.jobs = nil
			return fmt.Errorf("subscribe %s: %w", topic.name, err)
		}
		w.subscriptions = append(w.subscriptions, sub)
	}

	for range count {
		w.wg.Add(1)
		go w.run()
	}

	slog.Info("workers started",
		"worker_count", count,
		"subscriptions", len(w.subscriptions),
	)
	return nil
}

func (w *Worker) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case j := <-w.jobs:
			w.process(j)
		}
	}
}

// enqueue blocks until a pool slot frees up or the worker stops.
func (w *Worker) enqueue(ctx context.Context, j job) error {
	select {
	case w.jobs <- j:
		return nil
	case <-w.ctx.Done():
		return w.ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) handleRiskRequest(ctx context.Context, msg *domain.Message) error {
	var req domain.RiskRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		metrics.WorkerJobsTotal.WithLabelValues(msg.Topic, "invalid").Inc()
		slog.Error("failed to parse risk request",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if req.MerchantID == "" {
		metrics.WorkerJobsTotal.WithLabelValues(msg.Topic, "invalid").Inc()
		return fmt.Errorf("risk request %s has no merchant id", msg.ID)
	}

	traceID := req.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	return w.enqueue(ctx, job{
		topic:        msg.Topic,
		merchantID:   req.MerchantID,
		lookbackDays: req.LookbackDays,
		traceID:      traceID,
	})
}

func (w *Worker) handleDatasetGenerated(ctx context.Context, msg *domain.Message) error {
	var event domain.DatasetGeneratedEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		metrics.WorkerJobsTotal.WithLabelValues(msg.Topic, "invalid").Inc()
		slog.Error("failed to parse dataset event",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	slog.Debug("scoring generated dataset",
		"dataset_id", event.DatasetID,
		"merchants", len(event.MerchantIDs),
	)

	for _, id := range event.MerchantIDs {
		if err := w.enqueue(ctx, job{topic: msg.Topic, merchantID: id, traceID: event.DatasetID}); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) process(j job) {
	start := time.Now()

	res, err := w.scorer.CalculateRisk(w.ctx, j.merchantID, j.lookbackDays)
	if err != nil {
		metrics.WorkerJobsTotal.WithLabelValues(j.topic, "error").Inc()
		slog.Error("risk job failed",
			"merchant_id", j.merchantID,
			"trace_id", j.traceID,
			"error", err,
		)
		return
	}

	metrics.WorkerJobsTotal.WithLabelValues(j.topic, "ok").Inc()
	slog.Info("merchant scored",
		"merchant_id", j.merchantID,
		"trace_id", j.traceID,
		"status", res.Assessment.Status,
		"score", res.Metrics.CompositeRiskScore,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// Stop unsubscribes and waits for in-flight jobs to finish. Queued jobs
// that have not started are dropped.
func (w *Worker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.cancel()
	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	QueuedJobs        int      `json:"queuedJobs"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		QueuedJobs:        len(w.jobs),
	}
}
