package domain

import "time"

// Severity grades a timeline event.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Timeline event types.
const (
	EventRoundAmount      = "Round Amount Transaction"
	EventLateNight        = "Late-Night Transaction"
	EventTransactionSpike = "Sudden Transaction Spike"
	EventDailyVolumeSpike = "Daily Volume Spike"
	EventRiskAlert        = "Risk Alert"
)

// TimelineEvent is one detected anomaly. Events are append-only; only
// Processed changes after creation.
type TimelineEvent struct {
	ID         string         `json:"id"`
	MerchantID string         `json:"merchant_id"`
	EventType  string         `json:"event_type"`
	Timestamp  time.Time      `json:"timestamp"`
	Details    map[string]any `json:"details"`
	Severity   Severity       `json:"severity"`
	CreatedAt  time.Time      `json:"created_at"`
	Processed  bool           `json:"processed"`
}

// TimelineFilter selects timeline events. Empty fields match everything.
type TimelineFilter struct {
	MerchantID string
	EventType  string
	Severity   Severity
	Since      time.Time
	Until      time.Time
	Limit      int
}

// TimelineConfig holds detection thresholds.
type TimelineConfig struct {
	RoundDenomination float64 `json:"roundDenomination"`

	// Late-night window, inclusive at both ends; see InNightWindow.
	NightStartHour int `json:"nightStartHour"`
	NightEndHour   int `json:"nightEndHour"`

	SpikeMinTransactions int     `json:"spikeMinTransactions"`
	SpikeZThreshold      float64 `json:"spikeZThreshold"`
	SpikeHighZ           float64 `json:"spikeHighZ"`

	DailyTrailingDays int     `json:"dailyTrailingDays"`
	DailyMinHistory   int     `json:"dailyMinHistory"`
	DailyStdDevs      float64 `json:"dailyStdDevs"`

	// MaxRangeDays bounds a single detection request.
	MaxRangeDays int `json:"maxRangeDays"`
}

// DefaultTimelineConfig returns the standard detection thresholds.
func DefaultTimelineConfig() TimelineConfig {
	return TimelineConfig{
		RoundDenomination:    100,
		NightStartHour:       22,
		NightEndHour:         5,
		SpikeMinTransactions: 10,
		SpikeZThreshold:      2.5,
		SpikeHighZ:           3.0,
		DailyTrailingDays:    7,
		DailyMinHistory:      3,
		DailyStdDevs:         3.0,
		MaxRangeDays:         90,
	}
}

// IsLateNight reports whether hour falls in the configured night window.
func (c TimelineConfig) IsLateNight(hour int) bool {
	return InNightWindow(hour, c.NightStartHour, c.NightEndHour)
}

// InNightWindow reports whether hour lies in [start, end]. A window with
// start > end wraps past midnight (22-5 covers 22..23 and 0..5).
func InNightWindow(hour, start, end int) bool {
	if start <= end {
		return hour >= start && hour <= end
	}
	return hour >= start || hour <= end
}
