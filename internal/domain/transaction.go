package domain

import (
	"time"
)

// TransactionStatus is the settlement state of a transaction.
type TransactionStatus string

const (
	StatusSuccess TransactionStatus = "success"
	StatusFailed  TransactionStatus = "failed"
	StatusPending TransactionStatus = "pending"

	// StatusLegacyCompleted is accepted on input and stored as StatusSuccess.
	StatusLegacyCompleted TransactionStatus = "completed"
)

// Normalize maps the legacy "completed" value to "success".
func (s TransactionStatus) Normalize() TransactionStatus {
	if s == StatusLegacyCompleted {
		return StatusSuccess
	}
	return s
}

// Transaction is a directed payment between two merchants.
// The four risk flags are ground truth written by pattern injection only;
// scoring and timeline detection never read them.
type Transaction struct {
	TransactionID      string            `json:"transaction_id"`
	MerchantID         string            `json:"merchant_id"`
	ReceiverMerchantID string            `json:"receiver_merchant_id"`
	Timestamp          time.Time         `json:"timestamp"`
	Amount             float64           `json:"amount"`
	PaymentMethod      string            `json:"payment_method"`
	Status             TransactionStatus `json:"status"`
	Platform           string            `json:"platform"`
	ProductCategory    string            `json:"product_category"`
	CustomerID         string            `json:"customer_id"`
	DeviceID           string            `json:"device_id"`
	CustomerLocation   string            `json:"customer_location"`

	VelocityFlag bool `json:"velocity_flag"`
	AmountFlag   bool `json:"amount_flag"`
	TimeFlag     bool `json:"time_flag"`
	DeviceFlag   bool `json:"device_flag"`
}

// Clone returns an independent copy of the transaction.
func (t *Transaction) Clone() *Transaction {
	c := *t
	return &c
}

// Flagged reports whether any risk flag is set.
func (t *Transaction) Flagged() bool {
	return t.VelocityFlag || t.AmountFlag || t.TimeFlag || t.DeviceFlag
}

// CloneTransactions deep-copies a batch.
func CloneTransactions(txs []*Transaction) []*Transaction {
	out := make([]*Transaction, len(txs))
	for i, tx := range txs {
		out[i] = tx.Clone()
	}
	return out
}

// TransactionFilter narrows a merchant's transaction history.
// Zero Since/Until leave that side of the range open.
type TransactionFilter struct {
	Since  time.Time
	Until  time.Time
	Offset int
	Limit  int
}
