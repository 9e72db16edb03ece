// Package dataset composes labeled datasets: normal traffic from the
// generator with fraud patterns injected into a subset of merchants.
package dataset

import (
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/generator"
	"github.com/opensource-finance/kestrel/internal/inject"
	"github.com/opensource-finance/kestrel/internal/random"
)

const (
	minInjectProbability = 0.05
	maxInjectProbability = 0.20
)

// Request describes a dataset to compose.
type Request struct {
	MerchantCount int     `json:"merchant_count"`
	FraudFraction float64 `json:"fraud_fraction"`

	// Patterns restricts the patterns drawn for fraud merchants. Empty means all.
	Patterns []inject.Pattern `json:"patterns,omitempty"`

	Transactions generator.TransactionOptions `json:"-"`
}

// Label is the ground truth for one fraud merchant.
type Label struct {
	MerchantID  string         `json:"merchant_id"`
	Pattern     inject.Pattern `json:"pattern"`
	Probability float64        `json:"probability"`
	Affected    int            `json:"affected"`
}

// Dataset is a composed batch with its fraud labels.
type Dataset struct {
	Merchants    []*domain.Merchant    `json:"merchants"`
	Transactions []*domain.Transaction `json:"transactions"`
	Labels       []Label               `json:"labels"`
}

// FraudMerchantIDs returns the labeled merchant IDs.
func (d *Dataset) FraudMerchantIDs() []string {
	ids := make([]string, len(d.Labels))
	for i, l := range d.Labels {
		ids[i] = l.MerchantID
	}
	return ids
}

// LabelFor returns the label of merchantID, if it was selected for fraud.
func (d *Dataset) LabelFor(merchantID string) (Label, bool) {
	for _, l := range d.Labels {
		if l.MerchantID == merchantID {
			return l, true
		}
	}
	return Label{}, false
}

// Composer ties generation and injection to one Source.
type Composer struct {
	gen      *generator.Generator
	injector *inject.Injector
	src      *random.Source
}

// NewComposer creates a Composer. gen and injector should share src so a
// seed replays the whole dataset.
func NewComposer(gen *generator.Generator, injector *inject.Injector, src *random.Source) *Composer {
	return &Composer{gen: gen, injector: injector, src: src}
}

// Validate checks req without doing any work.
func (r Request) Validate() error {
	if r.MerchantCount < 1 {
		return domain.NewConfigurationError("merchant_count", "must be positive, got %d", r.MerchantCount)
	}
	if r.MerchantCount < 2 {
		return domain.NewConfigurationError("merchant_count", "at least 2 merchants are required to exchange transactions, got %d", r.MerchantCount)
	}
	if math.IsNaN(r.FraudFraction) || r.FraudFraction < 0 || r.FraudFraction > 1 {
		return domain.NewConfigurationError("fraud_fraction", "must be within [0, 1], got %v", r.FraudFraction)
	}
	for _, p := range r.Patterns {
		if !p.Valid() {
			return domain.NewConfigurationError("patterns", "unknown fraud pattern %q", p)
		}
	}
	return r.Transactions.Validate()
}

// Compose generates merchants and traffic, then injects one pattern into
// the sent transactions of round(count × fraction) merchants.
func (c *Composer) Compose(req Request) (*Dataset, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	merchants, err := c.gen.GenerateMerchants(req.MerchantCount)
	if err != nil {
		return nil, err
	}
	txs, err := c.gen.GenerateTransactions(merchants, req.Transactions)
	if err != nil {
		return nil, err
	}

	patterns := req.Patterns
	if len(patterns) == 0 {
		patterns = inject.AllPatterns()
	}

	fraudCount := int(math.Round(float64(len(merchants)) * req.FraudFraction))
	selected := c.src.Sample(len(merchants), fraudCount)

	// Index each merchant's sent transactions so injected copies can be
	// spliced back at their original positions.
	positions := make(map[string][]int, len(merchants))
	for i, tx := range txs {
		positions[tx.MerchantID] = append(positions[tx.MerchantID], i)
	}

	labels := make([]Label, 0, fraudCount)
	for _, idx := range selected {
		m := merchants[idx]
		pattern := random.Pick(c.src, patterns)
		prob := c.src.Uniform(minInjectProbability, maxInjectProbability)

		pos := positions[m.MerchantID]
		sent := make([]*domain.Transaction, len(pos))
		for k, p := range pos {
			sent[k] = txs[p]
		}

		injected, affected := c.injector.Inject(sent, pattern, inject.DefaultConfig(pattern).WithProbability(prob))
		for k, p := range pos {
			txs[p] = injected[k]
		}

		labels = append(labels, Label{
			MerchantID:  m.MerchantID,
			Pattern:     pattern,
			Probability: prob,
			Affected:    affected,
		})
	}

	return &Dataset{Merchants: merchants, Transactions: txs, Labels: labels}, nil
}
