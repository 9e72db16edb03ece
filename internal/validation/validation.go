// Package validation checks merchants, transactions and risk metrics
// against the record schema before they reach storage.
package validation

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"unicode/utf8"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Schema bounds.
const (
	maxAmount    = 1_000_000
	maxEmployees = 1_000_000
)

// Validator checks records against the reference catalog.
type Validator struct {
	catalog *domain.Catalog
}

// New creates a Validator. A nil catalog uses the defaults.
func New(catalog *domain.Catalog) *Validator {
	if catalog == nil {
		catalog = domain.DefaultCatalog()
	}
	return &Validator{catalog: catalog}
}

// fields accumulates diagnostics for one record.
type fields []domain.FieldError

func (f *fields) add(field, msg string, value any) {
	*f = append(*f, domain.FieldError{Field: field, Message: msg, Value: value})
}

func (f *fields) length(field, value string, lo, hi int) {
	n := utf8.RuneCountInString(value)
	switch {
	case n < lo:
		f.add(field, fmt.Sprintf("must be at least %d characters", lo), value)
	case hi > 0 && n > hi:
		f.add(field, fmt.Sprintf("must be at most %d characters", hi), value)
	}
}

func (f *fields) merchantID(field, value string) {
	if !domain.ValidMerchantID(value) {
		f.add(field, "must match M followed by 7 digits", value)
	}
}

func (f *fields) positive(field string, value float64) {
	if math.IsNaN(value) || value <= 0 {
		f.add(field, "must be greater than 0", value)
	}
}

func (f *fields) unit(field string, value float64) {
	if math.IsNaN(value) || value < 0 || value > 1 {
		f.add(field, "must be within [0, 1]", value)
	}
}

func (f fields) err(record, id string) error {
	if len(f) == 0 {
		return nil
	}
	return &domain.ValidationError{Record: record, ID: id, Fields: f}
}

// ValidateMerchant returns nil or a *domain.ValidationError listing every
// failing field.
func (v *Validator) ValidateMerchant(m *domain.Merchant) error {
	if m == nil {
		return &domain.ValidationError{Record: "merchant", Fields: []domain.FieldError{{Field: "merchant", Message: "is required"}}}
	}

	var f fields
	f.merchantID("merchant_id", m.MerchantID)
	f.length("business_name", m.BusinessName, 5, 100)
	f.length("business_type", m.BusinessType, 3, 0)
	if !v.catalog.HasBusinessModel(m.BusinessModel) {
		f.add("business_model", "must be one of Online, Offline, Hybrid", m.BusinessModel)
	}
	if m.RegistrationDate.IsZero() {
		f.add("registration_date", "is required", nil)
	}
	f.positive("average_ticket_size", m.AverageTicketSize)
	f.length("registered_address", m.RegisteredAddress, 10, 200)
	f.length("city", m.City, 2, 50)
	f.length("state", m.State, 2, 50)
	f.positive("reported_revenue", m.ReportedRevenue)
	if m.EmployeeCount <= 0 || m.EmployeeCount >= maxEmployees {
		f.add("employee_count", fmt.Sprintf("must be within (0, %d)", maxEmployees), m.EmployeeCount)
	}
	f.length("bank_account", m.BankAccount, 8, 20)

	return f.err("merchant", m.MerchantID)
}

// ValidateTransaction returns a normalized copy of tx, with the legacy
// "completed" status mapped to "success", or a *domain.ValidationError.
func (v *Validator) ValidateTransaction(tx *domain.Transaction) (*domain.Transaction, error) {
	if tx == nil {
		return nil, &domain.ValidationError{Record: "transaction", Fields: []domain.FieldError{{Field: "transaction", Message: "is required"}}}
	}

	out := tx.Clone()
	out.Status = out.Status.Normalize()

	var f fields
	f.length("transaction_id", out.TransactionID, 8, 50)
	f.merchantID("merchant_id", out.MerchantID)
	f.merchantID("receiver_merchant_id", out.ReceiverMerchantID)
	if out.MerchantID != "" && out.MerchantID == out.ReceiverMerchantID {
		f.add("receiver_merchant_id", "must differ from merchant_id", out.ReceiverMerchantID)
	}
	if out.Timestamp.IsZero() {
		f.add("timestamp", "is required", nil)
	}
	if math.IsNaN(out.Amount) || out.Amount <= 0 || out.Amount >= maxAmount {
		f.add("amount", fmt.Sprintf("must be within (0, %d)", maxAmount), out.Amount)
	}
	f.length("payment_method", out.PaymentMethod, 3, 50)
	if !v.catalog.HasStatus(out.Status) {
		f.add("status", "must be one of success, failed, pending", tx.Status)
	}
	f.length("customer_location", out.CustomerLocation, 2, 100)
	f.length("customer_id", out.CustomerID, 8, 0)
	f.length("device_id", out.DeviceID, 8, 0)

	if err := f.err("transaction", out.TransactionID); err != nil {
		return nil, err
	}
	return out, nil
}

// ValidateRiskMetrics checks that every score lies in [0, 1].
func (v *Validator) ValidateRiskMetrics(m *domain.RiskMetrics) error {
	if m == nil {
		return &domain.ValidationError{Record: "risk_metrics", Fields: []domain.FieldError{{Field: "risk_metrics", Message: "is required"}}}
	}

	var f fields
	f.merchantID("merchant_id", m.MerchantID)
	scores := m.SubScores()
	for _, name := range slices.Sorted(maps.Keys(scores)) {
		f.unit(name, scores[name])
	}
	f.unit(domain.MetricComposite, m.CompositeRiskScore)
	if m.TransactionCount < 0 {
		f.add("transaction_count", "must not be negative", m.TransactionCount)
	}

	return f.err("risk_metrics", m.ID)
}

// ValidateBatch validates every merchant and transaction, returning the
// normalized transactions or the first error found.
func (v *Validator) ValidateBatch(merchants []*domain.Merchant, txs []*domain.Transaction) ([]*domain.Transaction, error) {
	for _, m := range merchants {
		if err := v.ValidateMerchant(m); err != nil {
			return nil, err
		}
	}
	out := make([]*domain.Transaction, len(txs))
	for i, tx := range txs {
		n, err := v.ValidateTransaction(tx)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}
