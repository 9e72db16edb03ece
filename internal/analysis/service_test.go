package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
)

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	svc  *Service
	repo domain.Repository
	bus  *bus.ChannelBus

	mu     sync.Mutex
	topics map[string][][]byte
}

func newTestEnv(t *testing.T, mutate func(*domain.Config)) *testEnv {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-analysis-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	cfg := domain.DefaultConfig()
	cfg.Repository.SQLitePath = tmpPath
	if mutate != nil {
		mutate(cfg)
	}

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	c, err := cache.New(cfg.Cache)
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	engine, err := rules.NewEngine(4)
	if err != nil {
		t.Fatalf("failed to create rule engine: %v", err)
	}

	svc, err := New(cfg, repo, c, eventBus, engine)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	svc.WithClock(func() time.Time { return testNow })

	env := &testEnv{svc: svc, repo: repo, bus: eventBus, topics: make(map[string][][]byte)}
	for _, topic := range []string{
		domain.TopicDatasetGenerated,
		domain.TopicRiskScored,
		domain.TopicRiskAlert,
		domain.TopicTimelineDetected,
	} {
		_, err := eventBus.Subscribe(context.Background(), topic, func(ctx context.Context, msg *domain.Message) error {
			env.mu.Lock()
			env.topics[msg.Topic] = append(env.topics[msg.Topic], msg.Payload)
			env.mu.Unlock()
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe %s: %v", topic, err)
		}
	}
	return env
}

func (e *testEnv) published(topic string) [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][]byte(nil), e.topics[topic]...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timeout waiting for condition")
}

func testMerchant(id string) *domain.Merchant {
	return &domain.Merchant{
		MerchantID:        id,
		BusinessName:      "Acme Traders",
		BusinessType:      "Retail",
		RegistrationDate:  time.Date(2022, 1, 15, 0, 0, 0, 0, time.UTC),
		BusinessModel:     domain.BusinessModelOnline,
		ProductCategory:   "Retail",
		AverageTicketSize: 950.25,
		RegisteredAddress: "12 Market Road, Pune 411001",
		City:              "Pune",
		State:             "Maharashtra",
		ReportedRevenue:   1500000,
		EmployeeCount:     12,
		BankAccount:       "12345678",
	}
}

// nightTrader seeds a merchant whose every transaction is a round amount
// sent between 01:00 and 02:00 by the same customer and device.
func nightTrader(t *testing.T, repo domain.Repository, id string) {
	t.Helper()
	ctx := context.Background()

	if err := repo.SaveMerchants(ctx, []*domain.Merchant{testMerchant(id)}); err != nil {
		t.Fatalf("save merchant: %v", err)
	}

	var txs []*domain.Transaction
	for i := range 30 {
		day := testNow.AddDate(0, 0, -1-i%5)
		txs = append(txs, &domain.Transaction{
			TransactionID:      fmt.Sprintf("TX%s%04d", id, i),
			MerchantID:         id,
			ReceiverMerchantID: "M9999999",
			Timestamp:          time.Date(day.Year(), day.Month(), day.Day(), 1, i, 0, 0, time.UTC),
			Amount:             float64(1000 * (1 + i%3)),
			PaymentMethod:      "UPI",
			Status:             domain.StatusSuccess,
			Platform:           "Web",
			ProductCategory:    "Retail",
			CustomerID:         "customer-0001",
			DeviceID:           "device-0001",
			CustomerLocation:   "Pune",
		})
	}
	if err := repo.SaveTransactions(ctx, txs); err != nil {
		t.Fatalf("save transactions: %v", err)
	}
}

func TestGenerateDataset(t *testing.T) {
	ctx := context.Background()

	t.Run("StoresAndPublishes", func(t *testing.T) {
		env := newTestEnv(t, nil)
		seed := uint64(42)

		res, err := env.svc.GenerateDataset(ctx, GenerateRequest{
			MerchantCount: 10,
			FraudFraction: 0.2,
			Days:          3,
			Seed:          &seed,
		})
		if err != nil {
			t.Fatalf("GenerateDataset failed: %v", err)
		}
		if res.Seed != 42 || res.DatasetID == "" {
			t.Errorf("unexpected result header: %+v", res)
		}
		if len(res.Dataset.Labels) != 2 {
			t.Errorf("expected 2 fraud merchants, got %d", len(res.Dataset.Labels))
		}

		stored, err := env.repo.ListMerchants(ctx, 0, 100)
		if err != nil {
			t.Fatalf("ListMerchants failed: %v", err)
		}
		if len(stored) != 10 {
			t.Errorf("expected 10 stored merchants, got %d", len(stored))
		}

		txs, err := env.repo.ListTransactions(ctx, 0, len(res.Dataset.Transactions)+10)
		if err != nil {
			t.Fatalf("ListTransactions failed: %v", err)
		}
		if len(txs) != len(res.Dataset.Transactions) {
			t.Errorf("expected %d stored transactions, got %d", len(res.Dataset.Transactions), len(txs))
		}

		waitFor(t, func() bool { return len(env.published(domain.TopicDatasetGenerated)) == 1 })
		var event domain.DatasetGeneratedEvent
		if err := json.Unmarshal(env.published(domain.TopicDatasetGenerated)[0], &event); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if event.DatasetID != res.DatasetID || len(event.MerchantIDs) != 10 || event.FraudMerchants != 2 {
			t.Errorf("unexpected event: %+v", event)
		}
	})

	t.Run("SeedReplays", func(t *testing.T) {
		seed := uint64(7)
		req := GenerateRequest{MerchantCount: 5, FraudFraction: 0.4, Days: 2, Seed: &seed}

		a, err := newTestEnv(t, nil).svc.GenerateDataset(ctx, req)
		if err != nil {
			t.Fatalf("first run failed: %v", err)
		}
		b, err := newTestEnv(t, nil).svc.GenerateDataset(ctx, req)
		if err != nil {
			t.Fatalf("second run failed: %v", err)
		}

		for i := range a.Dataset.Merchants {
			if a.Dataset.Merchants[i].MerchantID != b.Dataset.Merchants[i].MerchantID {
				t.Fatalf("merchant %d differs: %s vs %s", i, a.Dataset.Merchants[i].MerchantID, b.Dataset.Merchants[i].MerchantID)
			}
		}
		if len(a.Dataset.Transactions) != len(b.Dataset.Transactions) {
			t.Errorf("transaction counts differ: %d vs %d", len(a.Dataset.Transactions), len(b.Dataset.Transactions))
		}
	})

	t.Run("SeedReplaysIntoSameStore", func(t *testing.T) {
		env := newTestEnv(t, nil)
		seed := uint64(7)
		req := GenerateRequest{MerchantCount: 5, FraudFraction: 0.4, Days: 2, Seed: &seed}

		a, err := env.svc.GenerateDataset(ctx, req)
		if err != nil {
			t.Fatalf("first run failed: %v", err)
		}
		if _, err := env.svc.GenerateDataset(ctx, req); err != nil {
			t.Fatalf("replay into the same store failed: %v", err)
		}

		stored, err := env.repo.ListTransactions(ctx, 0, 0)
		if err != nil {
			t.Fatalf("list transactions: %v", err)
		}
		if len(stored) != len(a.Dataset.Transactions) {
			t.Errorf("expected %d stored transactions after replay, got %d", len(a.Dataset.Transactions), len(stored))
		}
	})

	t.Run("RejectsMerchantIDOfAnotherDataset", func(t *testing.T) {
		seed := uint64(7)
		req := GenerateRequest{MerchantCount: 5, FraudFraction: 0.4, Days: 2, Seed: &seed}

		a, err := newTestEnv(t, nil).svc.GenerateDataset(ctx, req)
		if err != nil {
			t.Fatalf("generate: %v", err)
		}

		env := newTestEnv(t, nil)
		taken := testMerchant(a.Dataset.Merchants[0].MerchantID)
		if err := env.repo.SaveMerchants(ctx, []*domain.Merchant{taken}); err != nil {
			t.Fatalf("save merchant: %v", err)
		}

		_, err = env.svc.GenerateDataset(ctx, req)
		if !errors.Is(err, domain.ErrConfiguration) {
			t.Fatalf("expected configuration error, got %v", err)
		}

		got, err := env.repo.GetMerchant(ctx, taken.MerchantID)
		if err != nil {
			t.Fatalf("get merchant: %v", err)
		}
		if got.BusinessName != taken.BusinessName {
			t.Errorf("stored merchant was overwritten: %q", got.BusinessName)
		}
	})

	t.Run("RejectsTooManyMerchants", func(t *testing.T) {
		env := newTestEnv(t, func(cfg *domain.Config) { cfg.Generator.MaxMerchants = 5 })

		_, err := env.svc.GenerateDataset(ctx, GenerateRequest{MerchantCount: 6, FraudFraction: 0.1})
		if !errors.Is(err, domain.ErrConfiguration) {
			t.Errorf("expected configuration error, got %v", err)
		}
	})

	t.Run("RejectsBadFraction", func(t *testing.T) {
		env := newTestEnv(t, nil)

		_, err := env.svc.GenerateDataset(ctx, GenerateRequest{MerchantCount: 5, FraudFraction: 1.5})
		if !errors.Is(err, domain.ErrConfiguration) {
			t.Errorf("expected configuration error, got %v", err)
		}
	})
}

func TestCalculateRisk(t *testing.T) {
	ctx := context.Background()

	t.Run("UnknownMerchant", func(t *testing.T) {
		env := newTestEnv(t, nil)

		_, err := env.svc.CalculateRisk(ctx, "M1000001", 30)
		if !errors.Is(err, repository.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("LookbackBounds", func(t *testing.T) {
		env := newTestEnv(t, nil)
		nightTrader(t, env.repo, "M1000001")

		for _, days := range []int{-1, 366} {
			_, err := env.svc.CalculateRisk(ctx, "M1000001", days)
			if !errors.Is(err, domain.ErrConfiguration) {
				t.Errorf("lookback %d: expected configuration error, got %v", days, err)
			}
		}
	})

	t.Run("NoHistoryScoresZero", func(t *testing.T) {
		env := newTestEnv(t, nil)
		if err := env.repo.SaveMerchants(ctx, []*domain.Merchant{testMerchant("M1000002")}); err != nil {
			t.Fatalf("save merchant: %v", err)
		}

		res, err := env.svc.CalculateRisk(ctx, "M1000002", 0)
		if err != nil {
			t.Fatalf("CalculateRisk failed: %v", err)
		}
		if res.Metrics.TransactionCount != 0 || res.Metrics.CompositeRiskScore != 0 {
			t.Errorf("expected empty metrics, got %+v", res.Metrics)
		}
		if res.Assessment.Status != domain.StatusNoAlert {
			t.Errorf("expected NALT, got %s", res.Assessment.Status)
		}
		if got := res.Metrics.WindowEnd.Sub(res.Metrics.WindowStart); got != 30*24*time.Hour {
			t.Errorf("expected default 30 day window, got %v", got)
		}
	})

	t.Run("AlertsAndPersists", func(t *testing.T) {
		env := newTestEnv(t, nil)
		if err := env.svc.Rules().LoadRules(rules.DefaultRules()); err != nil {
			t.Fatalf("load rules: %v", err)
		}
		nightTrader(t, env.repo, "M1000003")

		res, err := env.svc.CalculateRisk(ctx, "M1000003", 30)
		if err != nil {
			t.Fatalf("CalculateRisk failed: %v", err)
		}
		if res.Metrics.TransactionCount != 30 {
			t.Errorf("expected 30 transactions scored, got %d", res.Metrics.TransactionCount)
		}
		if res.Metrics.LateNightScore != 1 {
			t.Errorf("expected late-night score 1, got %.2f", res.Metrics.LateNightScore)
		}
		if res.Assessment.Status != domain.StatusAlert {
			t.Fatalf("expected ALRT, got %s (reasons %v)", res.Assessment.Status, res.Assessment.Reasons)
		}
		if res.Assessment.Metadata.RulesEvaluated != 6 {
			t.Errorf("expected 6 rules evaluated, got %d", res.Assessment.Metadata.RulesEvaluated)
		}

		stored, err := env.repo.GetLatestRiskMetrics(ctx, "M1000003")
		if err != nil {
			t.Fatalf("GetLatestRiskMetrics failed: %v", err)
		}
		if stored.ID != res.Metrics.ID {
			t.Errorf("expected stored metrics %s, got %s", res.Metrics.ID, stored.ID)
		}

		alerts, err := env.repo.ListTimelineEvents(ctx, domain.TimelineFilter{
			MerchantID: "M1000003",
			EventType:  domain.EventRiskAlert,
		})
		if err != nil {
			t.Fatalf("ListTimelineEvents failed: %v", err)
		}
		if len(alerts) != 1 || alerts[0].Severity != domain.SeverityHigh {
			t.Errorf("expected one HIGH risk alert event, got %d", len(alerts))
		}

		waitFor(t, func() bool {
			return len(env.published(domain.TopicRiskAlert)) == 1 && len(env.published(domain.TopicRiskScored)) == 1
		})
	})
}

func TestLatestRisk(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	nightTrader(t, env.repo, "M1000004")

	if _, err := env.svc.LatestRisk(ctx, "M1000004"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before scoring, got %v", err)
	}

	res, err := env.svc.CalculateRisk(ctx, "M1000004", 30)
	if err != nil {
		t.Fatalf("CalculateRisk failed: %v", err)
	}

	latest, err := env.svc.LatestRisk(ctx, "M1000004")
	if err != nil {
		t.Fatalf("LatestRisk failed: %v", err)
	}
	if latest.ID != res.Metrics.ID {
		t.Errorf("expected %s, got %s", res.Metrics.ID, latest.ID)
	}

	history, err := env.svc.RiskHistory(ctx, "M1000004", 7)
	if err != nil {
		t.Fatalf("RiskHistory failed: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("expected 1 history entry, got %d", len(history))
	}
}

func TestSummaries(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	nightTrader(t, env.repo, "M1000005")

	start, end := testNow.AddDate(0, 0, -10), testNow

	out, err := env.svc.GenerateSummaries(ctx, "M1000005", start, end)
	if err != nil {
		t.Fatalf("GenerateSummaries failed: %v", err)
	}
	if len(out) != 5 {
		t.Fatalf("expected 5 daily summaries, got %d", len(out))
	}
	total := 0
	for _, s := range out {
		total += s.TransactionCount
		if s.UniqueCustomers != 1 {
			t.Errorf("expected a single customer on %s, got %d", s.Date.Format(time.DateOnly), s.UniqueCustomers)
		}
	}
	if total != 30 {
		t.Errorf("expected 30 summarized transactions, got %d", total)
	}

	// Recomputing replaces rather than duplicates.
	if _, err := env.svc.GenerateSummaries(ctx, "M1000005", start, end); err != nil {
		t.Fatalf("second GenerateSummaries failed: %v", err)
	}
	stored, err := env.svc.ListSummaries(ctx, "M1000005", domain.TimeRange{Start: start, End: end})
	if err != nil {
		t.Fatalf("ListSummaries failed: %v", err)
	}
	if len(stored) != 5 {
		t.Errorf("expected 5 stored summaries, got %d", len(stored))
	}

	if _, err := env.svc.GenerateSummaries(ctx, "M1000005", end, start); !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("expected configuration error for inverted range, got %v", err)
	}
}

func TestDetectTimelineEvents(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	nightTrader(t, env.repo, "M1000006")

	start, end := testNow.AddDate(0, 0, -10), testNow

	t.Run("FiltersByType", func(t *testing.T) {
		events, err := env.svc.DetectTimelineEvents(ctx, "M1000006", start, end, domain.EventRoundAmount)
		if err != nil {
			t.Fatalf("DetectTimelineEvents failed: %v", err)
		}
		if len(events) != 30 {
			t.Fatalf("expected 30 round amount events, got %d", len(events))
		}
		for _, e := range events {
			if e.EventType != domain.EventRoundAmount || e.Severity != domain.SeverityLow {
				t.Errorf("unexpected event %s/%s", e.EventType, e.Severity)
			}
		}
		waitFor(t, func() bool { return len(env.published(domain.TopicTimelineDetected)) == 1 })
	})

	t.Run("AllTypes", func(t *testing.T) {
		events, err := env.svc.DetectTimelineEvents(ctx, "M1000006", start, end, "")
		if err != nil {
			t.Fatalf("DetectTimelineEvents failed: %v", err)
		}
		late := 0
		for _, e := range events {
			if e.EventType == domain.EventLateNight {
				late++
			}
		}
		if late != 30 {
			t.Errorf("expected 30 late-night events, got %d", late)
		}
	})

	t.Run("ListAndProcess", func(t *testing.T) {
		listed, err := env.svc.ListTimelineEvents(ctx, domain.TimelineFilter{
			MerchantID: "M1000006",
			Severity:   domain.SeverityMedium,
			Limit:      5,
		})
		if err != nil {
			t.Fatalf("ListTimelineEvents failed: %v", err)
		}
		if len(listed) != 5 {
			t.Fatalf("expected 5 events, got %d", len(listed))
		}
		if err := env.svc.MarkEventProcessed(ctx, listed[0].ID); err != nil {
			t.Errorf("MarkEventProcessed failed: %v", err)
		}
		if err := env.svc.MarkEventProcessed(ctx, "missing"); !errors.Is(err, repository.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("InvalidRequests", func(t *testing.T) {
		tests := []struct {
			name       string
			start, end time.Time
			eventType  string
		}{
			{"inverted range", end, start, ""},
			{"range too long", testNow.AddDate(0, 0, -91), testNow, ""},
			{"unknown type", start, end, "Moon Phase"},
			{"alerts are not detected", start, end, domain.EventRiskAlert},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := env.svc.DetectTimelineEvents(ctx, "M1000006", tt.start, tt.end, tt.eventType)
				if !errors.Is(err, domain.ErrConfiguration) {
					t.Errorf("expected configuration error, got %v", err)
				}
			})
		}

		if _, err := env.svc.ListTimelineEvents(ctx, domain.TimelineFilter{Severity: "SEVERE"}); !errors.Is(err, domain.ErrConfiguration) {
			t.Errorf("expected configuration error for severity, got %v", err)
		}
	})
}

func TestRulesManagement(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	seeded, err := env.svc.SeedDefaultRules(ctx)
	if err != nil || !seeded {
		t.Fatalf("expected defaults seeded, got %v / %v", seeded, err)
	}
	if seeded, _ := env.svc.SeedDefaultRules(ctx); seeded {
		t.Error("second seed should be a no-op")
	}

	count, err := env.svc.ReloadRules(ctx)
	if err != nil {
		t.Fatalf("ReloadRules failed: %v", err)
	}
	if count != len(rules.DefaultRules()) {
		t.Errorf("expected %d rules, got %d", len(rules.DefaultRules()), count)
	}

	custom := &domain.RuleConfig{
		ID:         "payment-cycling",
		Name:       "Payment cycling",
		Expression: domain.MetricPaymentCycling,
		Bands: []domain.RuleBand{
			{SubRuleRef: domain.RuleOutcomeReview, Reason: "cycling"},
		},
		Weight:  1.0,
		Enabled: true,
	}
	if err := env.svc.CreateRule(ctx, custom); err != nil {
		t.Fatalf("CreateRule failed: %v", err)
	}
	if custom.Version != "1.0.0" {
		t.Errorf("expected default version, got %s", custom.Version)
	}
	if len(env.svc.ListRules()) != count+1 {
		t.Errorf("expected %d loaded rules, got %d", count+1, len(env.svc.ListRules()))
	}

	bad := &domain.RuleConfig{ID: "broken", Expression: "no_such_variable > 1", Enabled: true}
	if err := env.svc.CreateRule(ctx, bad); !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("expected configuration error, got %v", err)
	}
}
