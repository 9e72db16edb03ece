// Package timeline detects notable events in a merchant's transaction
// history: round amounts, late-night activity, hourly count spikes and
// daily volume spikes.
package timeline

import (
	"maps"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/amount"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/summary"
)

// Detector runs every event detector over a history.
type Detector struct {
	cfg domain.TimelineConfig
	now func() time.Time
}

// NewDetector creates a Detector. A zero config uses the defaults.
func NewDetector(cfg domain.TimelineConfig) *Detector {
	if cfg == (domain.TimelineConfig{}) {
		cfg = domain.DefaultTimelineConfig()
	}
	return &Detector{
		cfg: cfg,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the CreatedAt source.
func (d *Detector) WithClock(now func() time.Time) *Detector {
	d.now = now
	return d
}

// Detect returns the events found in history, grouped by sender merchant
// and ordered by timestamp. Injected risk flags are never consulted.
func (d *Detector) Detect(history []*domain.Transaction) []*domain.TimelineEvent {
	byMerchant := make(map[string][]*domain.Transaction)
	for _, tx := range history {
		if tx != nil {
			byMerchant[tx.MerchantID] = append(byMerchant[tx.MerchantID], tx)
		}
	}

	created := d.now()
	var events []*domain.TimelineEvent
	for _, merchantID := range slices.Sorted(maps.Keys(byMerchant)) {
		txs := byMerchant[merchantID]
		var found []*domain.TimelineEvent
		found = append(found, d.roundAmounts(txs)...)
		found = append(found, d.lateNight(txs)...)
		found = append(found, d.hourlySpikes(merchantID, txs)...)
		found = append(found, d.dailyVolumeSpikes(merchantID, txs)...)

		slices.SortStableFunc(found, func(a, b *domain.TimelineEvent) int {
			return a.Timestamp.Compare(b.Timestamp)
		})
		events = append(events, found...)
	}

	for _, e := range events {
		e.ID = uuid.New().String()
		e.CreatedAt = created
		e.Processed = false
	}
	return events
}

func (d *Detector) roundAmounts(txs []*domain.Transaction) []*domain.TimelineEvent {
	var out []*domain.TimelineEvent
	for _, tx := range txs {
		if !amount.IsRound(tx.Amount, d.cfg.RoundDenomination) {
			continue
		}
		out = append(out, &domain.TimelineEvent{
			MerchantID: tx.MerchantID,
			EventType:  domain.EventRoundAmount,
			Timestamp:  tx.Timestamp,
			Severity:   domain.SeverityLow,
			Details: map[string]any{
				"amount":         tx.Amount,
				"transaction_id": tx.TransactionID,
				"payment_method": tx.PaymentMethod,
			},
		})
	}
	return out
}

func (d *Detector) lateNight(txs []*domain.Transaction) []*domain.TimelineEvent {
	var out []*domain.TimelineEvent
	for _, tx := range txs {
		hour := tx.Timestamp.Hour()
		if !d.cfg.IsLateNight(hour) {
			continue
		}
		out = append(out, &domain.TimelineEvent{
			MerchantID: tx.MerchantID,
			EventType:  domain.EventLateNight,
			Timestamp:  tx.Timestamp,
			Severity:   domain.SeverityMedium,
			Details: map[string]any{
				"amount":         tx.Amount,
				"transaction_id": tx.TransactionID,
				"hour":           hour,
			},
		})
	}
	return out
}

// hourlySpikes flags clock hours whose transaction count is an outlier
// among the merchant's active hours.
func (d *Detector) hourlySpikes(merchantID string, txs []*domain.Transaction) []*domain.TimelineEvent {
	if len(txs) < d.cfg.SpikeMinTransactions {
		return nil
	}

	counts := make(map[time.Time]int)
	for _, tx := range txs {
		counts[tx.Timestamp.UTC().Truncate(time.Hour)]++
	}
	values := make([]float64, 0, len(counts))
	for _, c := range counts {
		values = append(values, float64(c))
	}
	mean, std := meanStd(values)
	if std == 0 {
		return nil
	}

	var out []*domain.TimelineEvent
	for _, hour := range slices.SortedFunc(maps.Keys(counts), time.Time.Compare) {
		count := counts[hour]
		z := (float64(count) - mean) / std
		if z <= d.cfg.SpikeZThreshold {
			continue
		}
		severity := domain.SeverityMedium
		if z > d.cfg.SpikeHighZ {
			severity = domain.SeverityHigh
		}
		out = append(out, &domain.TimelineEvent{
			MerchantID: merchantID,
			EventType:  domain.EventTransactionSpike,
			Timestamp:  hour,
			Severity:   severity,
			Details: map[string]any{
				"transaction_count": count,
				"normal_average":    round2(mean),
				"z_score":           round2(z),
				"hourly_threshold":  round2(mean + d.cfg.SpikeZThreshold*std),
			},
		})
	}
	return out
}

// dailyVolumeSpikes compares each day's volume against the trailing days
// before it.
func (d *Detector) dailyVolumeSpikes(merchantID string, txs []*domain.Transaction) []*domain.TimelineEvent {
	days := summary.Summarize(txs)
	trailing := time.Duration(d.cfg.DailyTrailingDays) * 24 * time.Hour

	var out []*domain.TimelineEvent
	for i, day := range days {
		var prior []float64
		for _, prev := range days[:i] {
			if day.Date.Sub(prev.Date) <= trailing {
				prior = append(prior, prev.TotalVolume)
			}
		}
		if len(prior) < d.cfg.DailyMinHistory {
			continue
		}
		mean, std := meanStd(prior)
		if std == 0 {
			continue
		}
		z := (day.TotalVolume - mean) / std
		if z <= d.cfg.DailyStdDevs {
			continue
		}
		severity := domain.SeverityMedium
		if z >= 2*d.cfg.DailyStdDevs {
			severity = domain.SeverityHigh
		}
		out = append(out, &domain.TimelineEvent{
			MerchantID: merchantID,
			EventType:  domain.EventDailyVolumeSpike,
			Timestamp:  day.Date,
			Severity:   severity,
			Details: map[string]any{
				"total_volume":      day.TotalVolume,
				"transaction_count": day.TransactionCount,
				"trailing_average":  round2(mean),
				"z_score":           round2(z),
				"daily_threshold":   round2(mean + d.cfg.DailyStdDevs*std),
			},
		})
	}
	return out
}

// meanStd returns the mean and population standard deviation.
func meanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	if len(values) < 2 {
		return mean, 0
	}
	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
