// Package summary aggregates transaction history into per-merchant daily
// summaries.
package summary

import (
	"cmp"
	"math"
	"slices"
	"time"

	"github.com/opensource-finance/kestrel/internal/amount"
	"github.com/opensource-finance/kestrel/internal/domain"
)

type dayKey struct {
	merchant string
	day      time.Time
}

type accumulator struct {
	count     int
	total     float64
	max       float64
	min       float64
	customers map[string]struct{}
	methods   map[string]struct{}
}

// Day truncates t to the start of its UTC calendar day.
func Day(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// Summarize returns one summary per (sender merchant, UTC day), sorted by
// merchant then day.
func Summarize(history []*domain.Transaction) []*domain.TransactionSummary {
	acc := make(map[dayKey]*accumulator)
	for _, tx := range history {
		if tx == nil {
			continue
		}
		k := dayKey{merchant: tx.MerchantID, day: Day(tx.Timestamp)}
		a := acc[k]
		if a == nil {
			a = &accumulator{
				max:       math.Inf(-1),
				min:       math.Inf(1),
				customers: make(map[string]struct{}),
				methods:   make(map[string]struct{}),
			}
			acc[k] = a
		}
		a.count++
		a.total += tx.Amount
		a.max = math.Max(a.max, tx.Amount)
		a.min = math.Min(a.min, tx.Amount)
		a.customers[tx.CustomerID] = struct{}{}
		a.methods[tx.PaymentMethod] = struct{}{}
	}

	out := make([]*domain.TransactionSummary, 0, len(acc))
	for k, a := range acc {
		out = append(out, &domain.TransactionSummary{
			MerchantID:           k.merchant,
			Date:                 k.day,
			TransactionCount:     a.count,
			TotalVolume:          amount.Cents(a.total),
			AverageAmount:        amount.Cents(a.total / float64(a.count)),
			MaxAmount:            a.max,
			MinAmount:            a.min,
			UniqueCustomers:      len(a.customers),
			UniquePaymentMethods: len(a.methods),
		})
	}

	slices.SortFunc(out, func(a, b *domain.TransactionSummary) int {
		if c := cmp.Compare(a.MerchantID, b.MerchantID); c != 0 {
			return c
		}
		return a.Date.Compare(b.Date)
	})
	return out
}

// ForMerchant summarizes only merchantID's transactions inside r.
func ForMerchant(merchantID string, history []*domain.Transaction, r domain.TimeRange) []*domain.TransactionSummary {
	var own []*domain.Transaction
	for _, tx := range history {
		if tx == nil || tx.MerchantID != merchantID {
			continue
		}
		if !r.Start.IsZero() && tx.Timestamp.Before(r.Start) {
			continue
		}
		if !r.End.IsZero() && tx.Timestamp.After(r.End) {
			continue
		}
		own = append(own, tx)
	}
	return Summarize(own)
}
