// Package domain defines the core types and interfaces for Kestrel.
package domain

import (
	"regexp"
	"time"
)

// BusinessModel describes how a merchant trades.
type BusinessModel string

const (
	BusinessModelOnline  BusinessModel = "Online"
	BusinessModelOffline BusinessModel = "Offline"
	BusinessModelHybrid  BusinessModel = "Hybrid"
)

var merchantIDPattern = regexp.MustCompile(`^M[0-9]{7}$`)

// ValidMerchantID reports whether id has the fixed "M" + 7 digits format.
func ValidMerchantID(id string) bool {
	return merchantIDPattern.MatchString(id)
}

// Merchant is a synthetic business profile.
// It is created once by the generator and never mutated afterwards.
type Merchant struct {
	MerchantID        string        `json:"merchant_id"`
	BusinessName      string        `json:"business_name"`
	BusinessType      string        `json:"business_type"`
	RegistrationDate  time.Time     `json:"registration_date"`
	BusinessModel     BusinessModel `json:"business_model"`
	ProductCategory   string        `json:"product_category"`
	AverageTicketSize float64       `json:"average_ticket_size"`
	GSTStatus         bool          `json:"gst_status"`
	EPFORegistered    bool          `json:"epfo_registered"`
	RegisteredAddress string        `json:"registered_address"`
	City              string        `json:"city"`
	State             string        `json:"state"`
	ReportedRevenue   float64       `json:"reported_revenue"`
	EmployeeCount     int           `json:"employee_count"`
	BankAccount       string        `json:"bank_account"`
}
