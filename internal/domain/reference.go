package domain

import "slices"

// Catalog holds the reference enumerations consumed by generation and
// validation. Build one with DefaultCatalog and pass it explicitly; a
// Catalog is never modified after construction.
type Catalog struct {
	BusinessTypes  []string
	PaymentMethods []string
	Platforms      []string
	BusinessModels []BusinessModel
	Statuses       []TransactionStatus
}

// DefaultCatalog returns a fresh copy of the standard reference tables.
func DefaultCatalog() *Catalog {
	return &Catalog{
		BusinessTypes: []string{
			"Electronics", "Fashion", "Food & Beverage", "Retail",
			"Technology", "Services", "Healthcare", "Education",
			"Entertainment", "Automotive", "Real Estate", "Construction",
			"Manufacturing", "Agriculture", "Logistics", "Travel & Tourism",
			"Financial Services", "Consulting", "Media", "Telecommunications",
			"Energy", "Mining", "Pharmaceuticals", "E-commerce",
			"Sports & Recreation", "Beauty & Wellness",
		},
		PaymentMethods: []string{
			"Credit Card", "Debit Card", "Net Banking",
			"UPI", "Cash", "Mobile Wallet",
			"Cryptocurrency", "Bank Transfer", "RTGS",
			"NEFT", "Check", "Digital Wallet",
			"QR Code Payment", "Contactless Card",
			"Buy Now Pay Later", "EMI", "Gift Card",
			"Prepaid Card",
		},
		Platforms: []string{
			"Web", "Mobile", "POS",
			"Mobile App", "Desktop App", "API Integration",
			"Social Media", "Marketplace", "Smart TV",
			"IoT Device", "Kiosk", "Voice Assistant",
			"Chat Bot", "WhatsApp", "Telegram",
		},
		BusinessModels: []BusinessModel{
			BusinessModelOnline, BusinessModelOffline, BusinessModelHybrid,
		},
		Statuses: []TransactionStatus{
			StatusSuccess, StatusFailed, StatusPending,
		},
	}
}

// HasBusinessModel reports whether m is a known business model.
func (c *Catalog) HasBusinessModel(m BusinessModel) bool {
	return slices.Contains(c.BusinessModels, m)
}

// HasStatus reports whether s is a known (already normalized) status.
func (c *Catalog) HasStatus(s TransactionStatus) bool {
	return slices.Contains(c.Statuses, s)
}
