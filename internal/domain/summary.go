package domain

import "time"

// TransactionSummary aggregates one merchant's activity on one UTC day.
// Summaries are derived data; recomputing one replaces the stored row.
type TransactionSummary struct {
	MerchantID           string    `json:"merchant_id"`
	Date                 time.Time `json:"date"`
	TransactionCount     int       `json:"transaction_count"`
	TotalVolume          float64   `json:"total_volume"`
	AverageAmount        float64   `json:"average_amount"`
	MaxAmount            float64   `json:"max_amount"`
	MinAmount            float64   `json:"min_amount"`
	UniqueCustomers      int       `json:"unique_customers"`
	UniquePaymentMethods int       `json:"unique_payment_methods"`
}

// TimeRange is an optional [Start, End] bound. Zero values leave a side open.
type TimeRange struct {
	Start time.Time
	End   time.Time
}
