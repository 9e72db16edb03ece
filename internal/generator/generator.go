// Package generator produces synthetic merchants and normal transaction
// traffic between them.
package generator

import (
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/amount"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/random"
)

const (
	minMerchantID = 1000000
	maxMerchantID = 9999999

	maxBusinessNameLen = 100
	minBusinessNameLen = 5
)

// Generator draws every field from cfg using the supplied Source.
type Generator struct {
	catalog *domain.Catalog
	src     *random.Source
	cfg     domain.GeneratorConfig
	now     func() time.Time
}

// New creates a Generator. A nil catalog or zero config falls back to the defaults.
func New(catalog *domain.Catalog, src *random.Source, cfg domain.GeneratorConfig) *Generator {
	if catalog == nil {
		catalog = domain.DefaultCatalog()
	}
	if cfg == (domain.GeneratorConfig{}) {
		cfg = domain.DefaultGeneratorConfig()
	}
	return &Generator{
		catalog: catalog,
		src:     src,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the generation anchor time.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// GenerateMerchants returns count merchants with unique IDs.
func (g *Generator) GenerateMerchants(count int) ([]*domain.Merchant, error) {
	if count < 1 {
		return nil, domain.NewConfigurationError("merchant_count", "must be positive, got %d", count)
	}
	if count > maxMerchantID-minMerchantID+1 {
		return nil, domain.NewConfigurationError("merchant_count", "exceeds the merchant id space (%d)", count)
	}

	now := g.now()
	seen := make(map[string]struct{}, count)
	merchants := make([]*domain.Merchant, 0, count)

	for len(merchants) < count {
		id := fmt.Sprintf("M%d", g.src.IntBetween(minMerchantID, maxMerchantID))
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		merchants = append(merchants, g.merchant(id, now))
	}

	return merchants, nil
}

func (g *Generator) merchant(id string, now time.Time) *domain.Merchant {
	f := g.src.Faker()
	city := f.City()
	state := f.State()

	years := g.cfg.RegistrationYears
	if years <= 0 {
		years = 5
	}
	earliest := now.AddDate(-years, 0, 0)
	registered := earliest.Add(time.Duration(g.src.Float64() * float64(now.Sub(earliest))))

	return &domain.Merchant{
		MerchantID:        id,
		BusinessName:      businessName(f.Company()),
		BusinessType:      random.Pick(g.src, g.catalog.BusinessTypes),
		RegistrationDate:  registered.Truncate(time.Second),
		BusinessModel:     random.Pick(g.src, g.catalog.BusinessModels),
		ProductCategory:   random.Pick(g.src, g.catalog.BusinessTypes),
		AverageTicketSize: amount.Cents(g.src.Uniform(g.cfg.TicketSize.Min, g.cfg.TicketSize.Max)),
		GSTStatus:         g.src.Bool(),
		EPFORegistered:    g.src.Bool(),
		RegisteredAddress: fmt.Sprintf("%s, %s, %s %s", f.Street(), city, state, f.Zip()),
		City:              city,
		State:             state,
		ReportedRevenue:   amount.Cents(g.src.Uniform(g.cfg.Revenue.Min, g.cfg.Revenue.Max)),
		EmployeeCount:     g.src.IntBetween(g.cfg.Employees.Min, g.cfg.Employees.Max),
		BankAccount:       g.src.Digits(8),
	}
}

func businessName(name string) string {
	if len(name) > maxBusinessNameLen {
		name = strings.TrimSpace(name[:maxBusinessNameLen])
	}
	if len(name) < minBusinessNameLen {
		name += " Trading"
	}
	return name
}

// TransactionOptions parameterizes GenerateTransactions. Zero fields take
// the generator's configured defaults.
type TransactionOptions struct {
	Days        int
	DailyVolume domain.IntRange
	Amount      domain.FloatRange
}

// Validate checks the fields that are set. Zero fields are left for the
// generator's defaults.
func (o TransactionOptions) Validate() error {
	if o.Days < 0 {
		return domain.NewConfigurationError("days", "must be positive, got %d", o.Days)
	}
	if o.DailyVolume != (domain.IntRange{}) && (o.DailyVolume.Min < 0 || o.DailyVolume.Max < o.DailyVolume.Min) {
		return domain.NewConfigurationError("daily_volume", "invalid range [%d, %d]", o.DailyVolume.Min, o.DailyVolume.Max)
	}
	if o.Amount != (domain.FloatRange{}) && (o.Amount.Min <= 0 || o.Amount.Max < o.Amount.Min) {
		return domain.NewConfigurationError("amount", "invalid range [%.2f, %.2f]", o.Amount.Min, o.Amount.Max)
	}
	return nil
}

func (g *Generator) resolve(opts TransactionOptions) (TransactionOptions, error) {
	if opts.Days == 0 {
		opts.Days = g.cfg.Days
	}
	if opts.DailyVolume == (domain.IntRange{}) {
		opts.DailyVolume = g.cfg.DailyVolume
	}
	if opts.Amount == (domain.FloatRange{}) {
		opts.Amount = g.cfg.Amount
	}

	if opts.Days < 1 {
		return opts, domain.NewConfigurationError("days", "must be positive, got %d", opts.Days)
	}
	return opts, opts.Validate()
}

// GenerateTransactions simulates opts.Days days of normal traffic between merchants.
func (g *Generator) GenerateTransactions(merchants []*domain.Merchant, opts TransactionOptions) ([]*domain.Transaction, error) {
	if len(merchants) < 2 {
		return nil, domain.NewConfigurationError("merchants", "at least 2 merchants are required, got %d", len(merchants))
	}
	opts, err := g.resolve(opts)
	if err != nil {
		return nil, err
	}

	now := g.now()
	minActive := g.cfg.MinActiveMerchants
	if minActive < 2 {
		minActive = 2
	}
	minActive = min(minActive, len(merchants))

	expected := opts.Days * (opts.DailyVolume.Min + opts.DailyVolume.Max) / 2
	txs := make([]*domain.Transaction, 0, expected)
	ids := make(map[string]struct{}, expected)

	for day := 0; day < opts.Days; day++ {
		active := g.src.Sample(len(merchants), g.src.IntBetween(minActive, len(merchants)))
		volume := g.src.IntBetween(opts.DailyVolume.Min, opts.DailyVolume.Max)
		date := now.AddDate(0, 0, -day)

		for i := 0; i < volume; i++ {
			s := g.src.IntN(len(active))
			r := g.src.IntN(len(active) - 1)
			if r >= s {
				r++
			}
			sender := merchants[active[s]]
			receiver := merchants[active[r]]

			txs = append(txs, &domain.Transaction{
				TransactionID:      g.transactionID(ids),
				MerchantID:         sender.MerchantID,
				ReceiverMerchantID: receiver.MerchantID,
				Timestamp:          g.timestamp(date, now),
				Amount:             amount.Cents(g.src.Uniform(opts.Amount.Min, opts.Amount.Max)),
				PaymentMethod:      random.Pick(g.src, g.catalog.PaymentMethods),
				Status:             random.Pick(g.src, g.catalog.Statuses),
				Platform:           random.Pick(g.src, g.catalog.Platforms),
				ProductCategory:    sender.ProductCategory,
				CustomerID:         g.src.UUID().String(),
				DeviceID:           g.src.UUID().String(),
				CustomerLocation:   sender.City,
			})
		}
	}

	return txs, nil
}

func (g *Generator) transactionID(seen map[string]struct{}) string {
	for {
		hex := strings.ReplaceAll(g.src.UUID().String(), "-", "")
		id := "TXN" + strings.ToUpper(hex[:12])
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			return id
		}
	}
}

// timestamp places a transaction inside business hours on date. A time
// that would land after now moves back one day.
func (g *Generator) timestamp(date, now time.Time) time.Time {
	start, end := g.cfg.BusinessHourStart, g.cfg.BusinessHourEnd
	if end < start {
		start, end = 9, 17
	}
	ts := time.Date(date.Year(), date.Month(), date.Day(),
		g.src.IntBetween(start, end), g.src.IntN(60), g.src.IntN(60), 0, time.UTC)
	if ts.After(now) {
		ts = ts.AddDate(0, 0, -1)
	}
	return ts
}
