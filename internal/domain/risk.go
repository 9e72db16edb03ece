package domain

import (
	"math"
	"time"
)

// Sub-score names as they appear in JSON, CEL rules and metrics labels.
const (
	MetricLateNight             = "late_night_score"
	MetricSuddenSpike           = "sudden_spike_score"
	MetricVelocityAbuse         = "velocity_abuse_score"
	MetricDeviceSwitching       = "device_switching_score"
	MetricLocationHopping       = "location_hopping_score"
	MetricPaymentCycling        = "payment_cycling_score"
	MetricRoundAmount           = "round_amount_score"
	MetricCustomerConcentration = "customer_concentration_score"
	MetricComposite             = "composite_risk_score"
)

// RiskMetrics is one risk computation for one merchant over one window.
type RiskMetrics struct {
	ID               string    `json:"id"`
	MerchantID       string    `json:"merchant_id"`
	Timestamp        time.Time `json:"timestamp"`
	WindowStart      time.Time `json:"window_start"`
	WindowEnd        time.Time `json:"window_end"`
	TransactionCount int       `json:"transaction_count"`

	LateNightScore             float64 `json:"late_night_score"`
	SuddenSpikeScore           float64 `json:"sudden_spike_score"`
	VelocityAbuseScore         float64 `json:"velocity_abuse_score"`
	DeviceSwitchingScore       float64 `json:"device_switching_score"`
	LocationHoppingScore       float64 `json:"location_hopping_score"`
	PaymentCyclingScore        float64 `json:"payment_cycling_score"`
	RoundAmountScore           float64 `json:"round_amount_score"`
	CustomerConcentrationScore float64 `json:"customer_concentration_score"`

	CompositeRiskScore float64 `json:"composite_risk_score"`
}

// SubScores returns the eight sub-scores keyed by metric name.
func (m *RiskMetrics) SubScores() map[string]float64 {
	return map[string]float64{
		MetricLateNight:             m.LateNightScore,
		MetricSuddenSpike:           m.SuddenSpikeScore,
		MetricVelocityAbuse:         m.VelocityAbuseScore,
		MetricDeviceSwitching:       m.DeviceSwitchingScore,
		MetricLocationHopping:       m.LocationHoppingScore,
		MetricPaymentCycling:        m.PaymentCyclingScore,
		MetricRoundAmount:           m.RoundAmountScore,
		MetricCustomerConcentration: m.CustomerConcentrationScore,
	}
}

// RiskWeights are the composite weights of the eight sub-scores.
type RiskWeights struct {
	LateNight             float64 `json:"late_night"`
	SuddenSpike           float64 `json:"sudden_spike"`
	VelocityAbuse         float64 `json:"velocity_abuse"`
	DeviceSwitching       float64 `json:"device_switching"`
	LocationHopping       float64 `json:"location_hopping"`
	PaymentCycling        float64 `json:"payment_cycling"`
	RoundAmount           float64 `json:"round_amount"`
	CustomerConcentration float64 `json:"customer_concentration"`
}

// DefaultRiskWeights returns the standard composite weighting.
func DefaultRiskWeights() RiskWeights {
	return RiskWeights{
		LateNight:             0.15,
		SuddenSpike:           0.15,
		VelocityAbuse:         0.15,
		DeviceSwitching:       0.10,
		LocationHopping:       0.10,
		PaymentCycling:        0.10,
		RoundAmount:           0.10,
		CustomerConcentration: 0.15,
	}
}

// Sum returns the total weight.
func (w RiskWeights) Sum() float64 {
	return w.LateNight + w.SuddenSpike + w.VelocityAbuse + w.DeviceSwitching +
		w.LocationHopping + w.PaymentCycling + w.RoundAmount + w.CustomerConcentration
}

// Balanced reports whether the weights sum to 1 within tolerance.
func (w RiskWeights) Balanced(tolerance float64) bool {
	return math.Abs(w.Sum()-1) <= tolerance
}

// Composite applies the weights to m and clamps the result to [0,1].
func (w RiskWeights) Composite(m *RiskMetrics) float64 {
	score := m.LateNightScore*w.LateNight +
		m.SuddenSpikeScore*w.SuddenSpike +
		m.VelocityAbuseScore*w.VelocityAbuse +
		m.DeviceSwitchingScore*w.DeviceSwitching +
		m.LocationHoppingScore*w.LocationHopping +
		m.PaymentCyclingScore*w.PaymentCycling +
		m.RoundAmountScore*w.RoundAmount +
		m.CustomerConcentrationScore*w.CustomerConcentration
	return math.Max(0, math.Min(1, score))
}
