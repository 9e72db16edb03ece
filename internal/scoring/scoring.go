// Package scoring computes per-merchant risk indicators from transaction
// history. Scoring is pure: it reads only observable transaction fields,
// never the injected ground-truth flags, and never mutates its input.
package scoring

import (
	"math"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/amount"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// weightTolerance is how far the weight sum may drift from 1.
const weightTolerance = 0.01

// Engine scores merchant histories. It is safe for concurrent use.
type Engine struct {
	cfg domain.ScoringConfig
	now func() time.Time
}

// NewEngine validates cfg and returns an Engine.
func NewEngine(cfg domain.ScoringConfig) (*Engine, error) {
	if !cfg.Weights.Balanced(weightTolerance) {
		return nil, domain.NewConfigurationError("weights", "must sum to 1 (±%.2f), got %.4f", weightTolerance, cfg.Weights.Sum())
	}
	if cfg.SpikeZSpan <= 0 {
		return nil, domain.NewConfigurationError("spike_z_span", "must be positive, got %v", cfg.SpikeZSpan)
	}
	if cfg.NightStartHour < 0 || cfg.NightStartHour > 23 || cfg.NightEndHour < 0 || cfg.NightEndHour > 23 {
		return nil, domain.NewConfigurationError("night_hours", "must be within [0, 23], got %d-%d", cfg.NightStartHour, cfg.NightEndHour)
	}
	return &Engine{
		cfg: cfg,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

// WithClock overrides the computation timestamp source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Config returns the engine configuration.
func (e *Engine) Config() domain.ScoringConfig {
	return e.cfg
}

// Lookback returns the window of the days before end.
func Lookback(end time.Time, days int) domain.TimeRange {
	return domain.TimeRange{Start: end.AddDate(0, 0, -days), End: end}
}

// Score computes RiskMetrics for merchantID over the transactions it sent
// inside window. A zero window includes everything. Too little data yields
// zero scores rather than an error.
func (e *Engine) Score(merchantID string, history []*domain.Transaction, window domain.TimeRange) *domain.RiskMetrics {
	txs := e.filter(merchantID, history, window)

	m := &domain.RiskMetrics{
		ID:               uuid.New().String(),
		MerchantID:       merchantID,
		Timestamp:        e.now(),
		WindowStart:      window.Start,
		WindowEnd:        window.End,
		TransactionCount: len(txs),
	}
	if len(txs) == 0 {
		return m
	}
	if m.WindowStart.IsZero() {
		m.WindowStart = txs[0].Timestamp
	}
	if m.WindowEnd.IsZero() {
		m.WindowEnd = txs[len(txs)-1].Timestamp
	}

	m.LateNightScore = e.lateNight(txs)
	m.SuddenSpikeScore = e.suddenSpike(txs)
	m.VelocityAbuseScore = e.velocity(txs)
	m.DeviceSwitchingScore = repetition(txs, func(tx *domain.Transaction) string { return tx.DeviceID })
	m.LocationHoppingScore = entropy(txs, func(tx *domain.Transaction) string { return tx.CustomerLocation })
	m.PaymentCyclingScore = e.paymentCycling(txs)
	m.RoundAmountScore = e.roundAmount(txs)
	m.CustomerConcentrationScore = concentration(txs)
	m.CompositeRiskScore = e.cfg.Weights.Composite(m)

	return m
}

// filter narrows history to merchantID's sent transactions in window,
// ordered by timestamp. The returned slice shares no backing array with
// history.
func (e *Engine) filter(merchantID string, history []*domain.Transaction, window domain.TimeRange) []*domain.Transaction {
	var out []*domain.Transaction
	for _, tx := range history {
		if tx == nil || tx.MerchantID != merchantID {
			continue
		}
		if !window.Start.IsZero() && tx.Timestamp.Before(window.Start) {
			continue
		}
		if !window.End.IsZero() && tx.Timestamp.After(window.End) {
			continue
		}
		out = append(out, tx)
	}
	slices.SortStableFunc(out, func(a, b *domain.Transaction) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return out
}

func (e *Engine) lateNight(txs []*domain.Transaction) float64 {
	count := 0
	for _, tx := range txs {
		if domain.InNightWindow(tx.Timestamp.Hour(), e.cfg.NightStartHour, e.cfg.NightEndHour) {
			count++
		}
	}
	return float64(count) / float64(len(txs))
}

// suddenSpike scores the largest amount z-score against the merchant's own
// distribution.
func (e *Engine) suddenSpike(txs []*domain.Transaction) float64 {
	if len(txs) < 2 {
		return 0
	}
	var sum float64
	for _, tx := range txs {
		sum += tx.Amount
	}
	mean := sum / float64(len(txs))

	var sq, peak float64
	for _, tx := range txs {
		d := tx.Amount - mean
		sq += d * d
		peak = math.Max(peak, tx.Amount)
	}
	sigma := math.Sqrt(sq / float64(len(txs)))
	if sigma == 0 {
		return 0
	}

	z := (peak - mean) / sigma
	return clamp((z - e.cfg.SpikeZFloor) / e.cfg.SpikeZSpan)
}

func (e *Engine) velocity(txs []*domain.Transaction) float64 {
	if len(txs) < 2 {
		return 0
	}
	rapid := 0
	for i := 1; i < len(txs); i++ {
		if txs[i].Timestamp.Sub(txs[i-1].Timestamp) <= e.cfg.VelocityWindow {
			rapid++
		}
	}
	return float64(rapid) / float64(len(txs)-1)
}

func (e *Engine) paymentCycling(txs []*domain.Transaction) float64 {
	if len(txs) < 2 {
		return 0
	}
	switches := 0
	for i := 1; i < len(txs); i++ {
		if txs[i].PaymentMethod != txs[i-1].PaymentMethod &&
			txs[i].Timestamp.Sub(txs[i-1].Timestamp) <= e.cfg.CyclingWindow {
			switches++
		}
	}
	return float64(switches) / float64(len(txs)-1)
}

func (e *Engine) roundAmount(txs []*domain.Transaction) float64 {
	count := 0
	for _, tx := range txs {
		if amount.IsRound(tx.Amount, e.cfg.RoundDenomination) {
			count++
		}
	}
	return float64(count) / float64(len(txs))
}

// repetition is (n - distinct) / (n - 1): 0 when every value is unique,
// 1 when a single value repeats throughout.
func repetition(txs []*domain.Transaction, key func(*domain.Transaction) string) float64 {
	if len(txs) < 2 {
		return 0
	}
	distinct := len(counts(txs, key))
	return float64(len(txs)-distinct) / float64(len(txs)-1)
}

// entropy is the Shannon entropy of key normalized by ln n.
func entropy(txs []*domain.Transaction, key func(*domain.Transaction) string) float64 {
	if len(txs) < 2 {
		return 0
	}
	n := float64(len(txs))
	var h float64
	for _, c := range counts(txs, key) {
		p := float64(c) / n
		h -= p * math.Log(p)
	}
	return clamp(h / math.Log(n))
}

// concentration is the Gini coefficient of per-customer transaction counts.
func concentration(txs []*domain.Transaction) float64 {
	if len(txs) < 2 {
		return 0
	}
	byCustomer := counts(txs, func(tx *domain.Transaction) string { return tx.CustomerID })
	if len(byCustomer) == 1 {
		return 1
	}

	values := make([]float64, 0, len(byCustomer))
	for _, c := range byCustomer {
		values = append(values, float64(c))
	}
	slices.Sort(values)

	var weighted, total float64
	for i, v := range values {
		weighted += float64(i+1) * v
		total += v
	}
	k := float64(len(values))
	return clamp((2*weighted)/(k*total) - (k+1)/k)
}

func counts(txs []*domain.Transaction, key func(*domain.Transaction) string) map[string]int {
	out := make(map[string]int)
	for _, tx := range txs {
		out[key(tx)]++
	}
	return out
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
