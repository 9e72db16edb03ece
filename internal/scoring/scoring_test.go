package scoring

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/generator"
	"github.com/opensource-finance/kestrel/internal/inject"
	"github.com/opensource-finance/kestrel/internal/random"
)

const merchant = "M1234567"

var base = time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(domain.DefaultScoringConfig())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return e
}

// tx builds a unique, otherwise unremarkable transaction offset from base.
func tx(i int, offset time.Duration) *domain.Transaction {
	return &domain.Transaction{
		TransactionID:      fmt.Sprintf("TXN%012X", i),
		MerchantID:         merchant,
		ReceiverMerchantID: "M7654321",
		Timestamp:          base.Add(offset),
		Amount:             123.45 + float64(i),
		PaymentMethod:      "UPI",
		Status:             domain.StatusSuccess,
		CustomerID:         fmt.Sprintf("cust-%d", i),
		DeviceID:           fmt.Sprintf("dev-%d", i),
		CustomerLocation:   "Pune",
	}
}

func spread(n int, gap time.Duration) []*domain.Transaction {
	txs := make([]*domain.Transaction, n)
	for i := range txs {
		txs[i] = tx(i, time.Duration(i)*gap)
	}
	return txs
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestNewEngineRejectsUnbalancedWeights(t *testing.T) {
	cfg := domain.DefaultScoringConfig()
	cfg.Weights.LateNight = 0.5

	_, err := NewEngine(cfg)
	var cfgErr *domain.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if cfgErr.Field != "weights" {
		t.Errorf("expected field weights, got %q", cfgErr.Field)
	}

	cfg.Weights = domain.DefaultRiskWeights()
	cfg.Weights.LateNight += 0.005
	if _, err := NewEngine(cfg); err != nil {
		t.Errorf("weights within tolerance rejected: %v", err)
	}
}

func TestScoreEmptyHistory(t *testing.T) {
	e := newTestEngine(t)

	for name, history := range map[string][]*domain.Transaction{
		"nil":            nil,
		"other merchant": {{MerchantID: "M0000001", Timestamp: base, Amount: 10}},
	} {
		t.Run(name, func(t *testing.T) {
			m := e.Score(merchant, history, domain.TimeRange{})
			if m.TransactionCount != 0 {
				t.Errorf("expected 0 transactions, got %d", m.TransactionCount)
			}
			for k, v := range m.SubScores() {
				if v != 0 {
					t.Errorf("%s = %v, expected 0", k, v)
				}
			}
			if m.CompositeRiskScore != 0 {
				t.Errorf("composite = %v, expected 0", m.CompositeRiskScore)
			}
			if m.ID == "" || m.MerchantID != merchant {
				t.Error("metrics missing identity fields")
			}
		})
	}
}

func TestSubScores(t *testing.T) {
	e := newTestEngine(t)

	t.Run("LateNight", func(t *testing.T) {
		txs := spread(4, time.Hour)
		txs[0].Timestamp = time.Date(2025, 5, 1, 23, 10, 0, 0, time.UTC)
		txs[1].Timestamp = time.Date(2025, 5, 2, 3, 0, 0, 0, time.UTC)
		txs[2].Timestamp = time.Date(2025, 5, 2, 12, 0, 0, 0, time.UTC)
		txs[3].Timestamp = time.Date(2025, 5, 2, 21, 59, 0, 0, time.UTC)
		if got := e.Score(merchant, txs, domain.TimeRange{}).LateNightScore; !approx(got, 0.5) {
			t.Errorf("expected 0.5, got %v", got)
		}
	})

	t.Run("LateNightWindowWithoutWrap", func(t *testing.T) {
		cfg := domain.DefaultScoringConfig()
		cfg.NightStartHour, cfg.NightEndHour = 0, 5
		early, err := NewEngine(cfg)
		if err != nil {
			t.Fatalf("NewEngine failed: %v", err)
		}

		txs := spread(4, time.Hour)
		txs[0].Timestamp = time.Date(2025, 5, 2, 3, 0, 0, 0, time.UTC)
		txs[1].Timestamp = time.Date(2025, 5, 2, 5, 59, 0, 0, time.UTC)
		txs[2].Timestamp = time.Date(2025, 5, 2, 12, 0, 0, 0, time.UTC)
		txs[3].Timestamp = time.Date(2025, 5, 2, 23, 0, 0, 0, time.UTC)
		if got := early.Score(merchant, txs, domain.TimeRange{}).LateNightScore; !approx(got, 0.5) {
			t.Errorf("expected 0.5 for a 0-5 window, got %v", got)
		}
	})

	t.Run("RoundAmount", func(t *testing.T) {
		txs := spread(4, time.Hour)
		txs[0].Amount = 100
		txs[1].Amount = 250
		txs[2].Amount = 1200
		txs[3].Amount = 33.5
		if got := e.Score(merchant, txs, domain.TimeRange{}).RoundAmountScore; !approx(got, 0.5) {
			t.Errorf("expected 0.5, got %v", got)
		}
	})

	t.Run("Velocity", func(t *testing.T) {
		txs := []*domain.Transaction{
			tx(0, 0),
			tx(1, 2*time.Minute),
			tx(2, 10*time.Minute),
			tx(3, 12*time.Minute),
		}
		if got := e.Score(merchant, txs, domain.TimeRange{}).VelocityAbuseScore; !approx(got, 2.0/3) {
			t.Errorf("expected 2/3, got %v", got)
		}
	})

	t.Run("DeviceSwitching", func(t *testing.T) {
		unique := spread(5, time.Hour)
		if got := e.Score(merchant, unique, domain.TimeRange{}).DeviceSwitchingScore; got != 0 {
			t.Errorf("unique devices: expected 0, got %v", got)
		}
		shared := spread(5, time.Hour)
		for _, tx := range shared {
			tx.DeviceID = "dev-shared"
		}
		if got := e.Score(merchant, shared, domain.TimeRange{}).DeviceSwitchingScore; got != 1 {
			t.Errorf("single device: expected 1, got %v", got)
		}
	})

	t.Run("LocationHopping", func(t *testing.T) {
		home := spread(6, time.Hour)
		if got := e.Score(merchant, home, domain.TimeRange{}).LocationHoppingScore; got != 0 {
			t.Errorf("single location: expected 0, got %v", got)
		}
		hopping := spread(6, time.Hour)
		for i, tx := range hopping {
			tx.CustomerLocation = fmt.Sprintf("city-%d", i)
		}
		if got := e.Score(merchant, hopping, domain.TimeRange{}).LocationHoppingScore; !approx(got, 1) {
			t.Errorf("all distinct locations: expected 1, got %v", got)
		}
	})

	t.Run("PaymentCycling", func(t *testing.T) {
		methods := []string{"UPI", "Credit Card", "Net Banking", "UPI"}
		rapid := spread(4, 10*time.Minute)
		slow := spread(4, 3*time.Hour)
		for i := range methods {
			rapid[i].PaymentMethod = methods[i]
			slow[i].PaymentMethod = methods[i]
		}
		if got := e.Score(merchant, rapid, domain.TimeRange{}).PaymentCyclingScore; !approx(got, 1) {
			t.Errorf("rapid switching: expected 1, got %v", got)
		}
		if got := e.Score(merchant, slow, domain.TimeRange{}).PaymentCyclingScore; got != 0 {
			t.Errorf("slow switching: expected 0, got %v", got)
		}
	})

	t.Run("CustomerConcentration", func(t *testing.T) {
		unique := spread(5, time.Hour)
		if got := e.Score(merchant, unique, domain.TimeRange{}).CustomerConcentrationScore; got != 0 {
			t.Errorf("unique customers: expected 0, got %v", got)
		}
		single := spread(5, time.Hour)
		for _, tx := range single {
			tx.CustomerID = "cust-whale"
		}
		if got := e.Score(merchant, single, domain.TimeRange{}).CustomerConcentrationScore; got != 1 {
			t.Errorf("single customer: expected 1, got %v", got)
		}
		skewed := spread(5, time.Hour)
		for _, tx := range skewed[:4] {
			tx.CustomerID = "cust-whale"
		}
		got := e.Score(merchant, skewed, domain.TimeRange{}).CustomerConcentrationScore
		if !approx(got, 0.3) {
			t.Errorf("4:1 split: expected Gini 0.3, got %v", got)
		}
	})

	t.Run("SuddenSpike", func(t *testing.T) {
		flat := spread(20, time.Hour)
		for _, tx := range flat {
			tx.Amount = 100
		}
		if got := e.Score(merchant, flat, domain.TimeRange{}).SuddenSpikeScore; got != 0 {
			t.Errorf("constant amounts: expected 0, got %v", got)
		}
		flat[7].Amount = 10000
		if got := e.Score(merchant, flat, domain.TimeRange{}).SuddenSpikeScore; got != 1 {
			t.Errorf("single outlier: expected 1, got %v", got)
		}
		if got := e.Score(merchant, flat[:1], domain.TimeRange{}).SuddenSpikeScore; got != 0 {
			t.Errorf("single transaction: expected 0, got %v", got)
		}
	})
}

func TestScoreWindowAndOwnership(t *testing.T) {
	e := newTestEngine(t)
	txs := spread(10, 24*time.Hour)
	txs[3].MerchantID = "M0000009"
	txs[4].ReceiverMerchantID = merchant
	txs[4].MerchantID = "M0000008"

	window := domain.TimeRange{Start: base.Add(24 * time.Hour), End: base.Add(7 * 24 * time.Hour)}
	m := e.Score(merchant, txs, window)

	// Days 1..7 minus the two transactions this merchant did not send.
	if m.TransactionCount != 5 {
		t.Errorf("expected 5 transactions in window, got %d", m.TransactionCount)
	}
	if !m.WindowStart.Equal(window.Start) || !m.WindowEnd.Equal(window.End) {
		t.Errorf("window not recorded: %v - %v", m.WindowStart, m.WindowEnd)
	}
}

func TestScoreDoesNotMutateInput(t *testing.T) {
	e := newTestEngine(t)
	txs := []*domain.Transaction{tx(0, 3*time.Hour), tx(1, time.Hour), tx(2, 2*time.Hour)}
	snapshot := make([]domain.Transaction, len(txs))
	order := make([]*domain.Transaction, len(txs))
	for i, tx := range txs {
		snapshot[i] = *tx
		order[i] = tx
	}

	e.Score(merchant, txs, domain.TimeRange{})

	for i := range txs {
		if txs[i] != order[i] {
			t.Fatal("history was reordered")
		}
		if *txs[i] != snapshot[i] {
			t.Fatalf("transaction %d was modified", i)
		}
	}
}

func TestCompositeUsesWeights(t *testing.T) {
	e := newTestEngine(t)
	txs := spread(6, 2*time.Minute)
	for _, tx := range txs {
		tx.DeviceID = "dev-shared"
		tx.Amount = 500
	}
	m := e.Score(merchant, txs, domain.TimeRange{})
	want := domain.DefaultRiskWeights().Composite(m)
	if !approx(m.CompositeRiskScore, want) {
		t.Errorf("composite %v, expected %v", m.CompositeRiskScore, want)
	}
	// velocity 1, device 1, round 1
	if !approx(m.CompositeRiskScore, 0.15+0.10+0.10) {
		t.Errorf("composite %v, expected 0.35", m.CompositeRiskScore)
	}
}

func TestInjectedPatternsRaiseScores(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	src := random.New(42)
	gen := generator.New(domain.DefaultCatalog(), src, domain.DefaultGeneratorConfig()).
		WithClock(func() time.Time { return now })
	merchants, err := gen.GenerateMerchants(5)
	if err != nil {
		t.Fatalf("GenerateMerchants failed: %v", err)
	}
	history, err := gen.GenerateTransactions(merchants, generator.TransactionOptions{Days: 30})
	if err != nil {
		t.Fatalf("GenerateTransactions failed: %v", err)
	}
	target := merchants[0].MerchantID
	injector := inject.New(domain.DefaultCatalog(), src)
	e := newTestEngine(t)
	baseline := e.Score(target, history, domain.TimeRange{}).SubScores()

	// velocity_abuse and payment_method_cycling are not listed. The baseline
	// already spaces a merchant's transactions randomly and draws methods
	// uniformly, so re-timing or re-drawing a fraction of them moves those
	// sub-scores up or down about equally often.
	tests := []struct {
		pattern inject.Pattern
		prob    float64
		metric  string
	}{
		{inject.LateNightTrading, 0.3, domain.MetricLateNight},
		{inject.SuddenSpike, 0.1, domain.MetricSuddenSpike},
		{inject.DeviceSwitching, 0.3, domain.MetricDeviceSwitching},
		{inject.LocationHopping, 0.3, domain.MetricLocationHopping},
		{inject.RoundAmount, 0.3, domain.MetricRoundAmount},
		{inject.CustomerConcentration, 0.3, domain.MetricCustomerConcentration},
	}

	for _, tt := range tests {
		t.Run(string(tt.pattern), func(t *testing.T) {
			injected, affected := injector.Inject(history, tt.pattern, inject.DefaultConfig(tt.pattern).WithProbability(tt.prob))
			if affected == 0 {
				t.Fatal("injection affected nothing")
			}
			got := e.Score(target, injected, domain.TimeRange{}).SubScores()[tt.metric]
			if got <= baseline[tt.metric] {
				t.Errorf("%s: injected %v not above baseline %v", tt.metric, got, baseline[tt.metric])
			}
		})
	}
}

func TestLookback(t *testing.T) {
	end := time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)
	w := Lookback(end, 30)
	if !w.Start.Equal(time.Date(2025, 5, 31, 0, 0, 0, 0, time.UTC)) || !w.End.Equal(end) {
		t.Errorf("unexpected window %v - %v", w.Start, w.End)
	}
}
