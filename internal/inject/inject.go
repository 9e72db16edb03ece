// Package inject mutates copies of transaction batches so they exhibit one
// of eight named fraud patterns, setting the ground-truth risk flags.
package inject

import (
	"slices"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/amount"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/random"
)

// Pattern names a fraud behaviour.
type Pattern string

const (
	LateNightTrading      Pattern = "late_night_trading"
	SuddenSpike           Pattern = "sudden_spike"
	CustomerConcentration Pattern = "customer_concentration"
	VelocityAbuse         Pattern = "velocity_abuse"
	DeviceSwitching       Pattern = "device_switching"
	LocationHopping       Pattern = "location_hopping"
	PaymentMethodCycling  Pattern = "payment_method_cycling"
	RoundAmount           Pattern = "round_amount"
)

// AllPatterns returns every known pattern in a stable order.
func AllPatterns() []Pattern {
	return []Pattern{
		LateNightTrading, SuddenSpike, CustomerConcentration, VelocityAbuse,
		DeviceSwitching, LocationHopping, PaymentMethodCycling, RoundAmount,
	}
}

// Valid reports whether p is a known pattern.
func (p Pattern) Valid() bool {
	return slices.Contains(AllPatterns(), p)
}

// ParsePattern resolves a pattern name, failing with a ConfigurationError.
func ParsePattern(name string) (Pattern, error) {
	p := Pattern(strings.TrimSpace(strings.ToLower(name)))
	if !p.Valid() {
		return "", domain.NewConfigurationError("pattern", "unknown fraud pattern %q", name)
	}
	return p, nil
}

// Config parameterizes one injection call.
type Config struct {
	// Probability is the independent per-transaction chance of mutation.
	Probability float64 `json:"probability"`

	// Multiplier scales amounts for SuddenSpike.
	Multiplier float64 `json:"multiplier,omitempty"`

	// PoolSize is the number of replacement values for the pooled patterns.
	PoolSize int `json:"poolSize,omitempty"`

	// MinShift and MaxShift bound the VelocityAbuse timestamp shift.
	MinShift time.Duration `json:"minShift,omitempty"`
	MaxShift time.Duration `json:"maxShift,omitempty"`

	// Denomination is the rounding unit for RoundAmount.
	Denomination float64 `json:"denomination,omitempty"`

	// NightEndHour is the last hour LateNightTrading may draw.
	NightEndHour int `json:"nightEndHour,omitempty"`
}

// DefaultConfig returns the standard parameters for p.
func DefaultConfig(p Pattern) Config {
	cfg := Config{
		Multiplier:   5,
		MinShift:     30 * time.Second,
		MaxShift:     300 * time.Second,
		Denomination: 100,
		NightEndHour: 5,
	}
	switch p {
	case LateNightTrading:
		cfg.Probability = 0.10
	case SuddenSpike:
		cfg.Probability = 0.05
	case CustomerConcentration:
		cfg.Probability = 0.20
		cfg.PoolSize = 3
	case VelocityAbuse:
		cfg.Probability = 0.15
	case DeviceSwitching:
		cfg.Probability = 0.10
		cfg.PoolSize = 3
	case LocationHopping:
		cfg.Probability = 0.10
		cfg.PoolSize = 5
	case PaymentMethodCycling:
		cfg.Probability = 0.15
	case RoundAmount:
		cfg.Probability = 0.10
	}
	return cfg
}

// WithProbability returns a copy of cfg using probability p.
func (c Config) WithProbability(p float64) Config {
	c.Probability = p
	return c
}

// Injector applies patterns using the reference catalog and a seeded Source.
type Injector struct {
	catalog *domain.Catalog
	src     *random.Source
}

// New creates an Injector.
func New(catalog *domain.Catalog, src *random.Source) *Injector {
	if catalog == nil {
		catalog = domain.DefaultCatalog()
	}
	return &Injector{catalog: catalog, src: src}
}

// Inject returns a deep copy of txs with pattern applied to a Bernoulli
// subset, and the number of transactions mutated. The input is never
// modified. An unknown pattern returns the unchanged copy.
func (i *Injector) Inject(txs []*domain.Transaction, pattern Pattern, cfg Config) ([]*domain.Transaction, int) {
	out := domain.CloneTransactions(txs)
	mutate := i.mutator(pattern, cfg)
	if mutate == nil {
		return out, 0
	}

	affected := 0
	for _, tx := range out {
		if i.src.Bernoulli(cfg.Probability) {
			mutate(tx)
			affected++
		}
	}
	return out, affected
}

// mutator builds the per-transaction mutation for pattern. Replacement
// pools are drawn here, once per call.
func (i *Injector) mutator(pattern Pattern, cfg Config) func(*domain.Transaction) {
	def := DefaultConfig(pattern)
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = def.PoolSize
	}

	switch pattern {
	case LateNightTrading:
		end := cfg.NightEndHour
		if end <= 0 || end > 23 {
			end = def.NightEndHour
		}
		return func(tx *domain.Transaction) {
			ts := tx.Timestamp
			tx.Timestamp = time.Date(ts.Year(), ts.Month(), ts.Day(),
				i.src.IntBetween(0, end), ts.Minute(), ts.Second(), ts.Nanosecond(), ts.Location())
			tx.TimeFlag = true
		}

	case SuddenSpike:
		m := cfg.Multiplier
		if m <= 0 {
			m = def.Multiplier
		}
		return func(tx *domain.Transaction) {
			tx.Amount *= m
			tx.AmountFlag = true
		}

	case CustomerConcentration:
		pool := i.uuidPool(cfg.PoolSize)
		return func(tx *domain.Transaction) {
			tx.CustomerID = random.Pick(i.src, pool)
		}

	case VelocityAbuse:
		lo, hi := cfg.MinShift, cfg.MaxShift
		if lo <= 0 || hi < lo {
			lo, hi = def.MinShift, def.MaxShift
		}
		return func(tx *domain.Transaction) {
			shift := i.src.IntBetween(int(lo/time.Second), int(hi/time.Second))
			tx.Timestamp = tx.Timestamp.Add(time.Duration(shift) * time.Second)
			tx.VelocityFlag = true
		}

	case DeviceSwitching:
		pool := i.uuidPool(cfg.PoolSize)
		return func(tx *domain.Transaction) {
			tx.DeviceID = random.Pick(i.src, pool)
			tx.DeviceFlag = true
		}

	case LocationHopping:
		pool := make([]string, cfg.PoolSize)
		for k := range pool {
			pool[k] = i.src.Faker().City()
		}
		return func(tx *domain.Transaction) {
			tx.CustomerLocation = random.Pick(i.src, pool)
		}

	case PaymentMethodCycling:
		return func(tx *domain.Transaction) {
			tx.PaymentMethod = random.Pick(i.src, i.catalog.PaymentMethods)
		}

	case RoundAmount:
		denom := cfg.Denomination
		if denom <= 0 {
			denom = def.Denomination
		}
		return func(tx *domain.Transaction) {
			rounded := amount.Round(tx.Amount, denom)
			if rounded <= 0 {
				rounded = denom
			}
			tx.Amount = rounded
			tx.AmountFlag = true
		}
	}

	return nil
}

func (i *Injector) uuidPool(n int) []string {
	pool := make([]string, n)
	for k := range pool {
		pool[k] = i.src.UUID().String()
	}
	return pool
}
