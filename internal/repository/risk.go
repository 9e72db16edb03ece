package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const riskMetricsColumns = `
	id, merchant_id, timestamp, window_start, window_end, transaction_count,
	late_night_score, sudden_spike_score, velocity_abuse_score,
	device_switching_score, location_hopping_score, payment_cycling_score,
	round_amount_score, customer_concentration_score, composite_risk_score
`

// SaveRiskMetrics stores one risk computation.
func (r *SQLRepository) SaveRiskMetrics(ctx context.Context, m *domain.RiskMetrics) error {
	if m == nil || m.ID == "" || m.MerchantID == "" {
		return fmt.Errorf("%w: risk metrics need an id and merchant", ErrInvalidInput)
	}

	query := `INSERT INTO risk_metrics (` + riskMetricsColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		m.ID, m.MerchantID, m.Timestamp.UTC(), m.WindowStart.UTC(), m.WindowEnd.UTC(), m.TransactionCount,
		m.LateNightScore, m.SuddenSpikeScore, m.VelocityAbuseScore,
		m.DeviceSwitchingScore, m.LocationHoppingScore, m.PaymentCyclingScore,
		m.RoundAmountScore, m.CustomerConcentrationScore, m.CompositeRiskScore,
	)
	return err
}

func scanRiskMetrics(s scanner) (*domain.RiskMetrics, error) {
	var m domain.RiskMetrics
	if err := s.Scan(
		&m.ID, &m.MerchantID, &m.Timestamp, &m.WindowStart, &m.WindowEnd, &m.TransactionCount,
		&m.LateNightScore, &m.SuddenSpikeScore, &m.VelocityAbuseScore,
		&m.DeviceSwitchingScore, &m.LocationHoppingScore, &m.PaymentCyclingScore,
		&m.RoundAmountScore, &m.CustomerConcentrationScore, &m.CompositeRiskScore,
	); err != nil {
		return nil, err
	}
	m.Timestamp = m.Timestamp.UTC()
	m.WindowStart = m.WindowStart.UTC()
	m.WindowEnd = m.WindowEnd.UTC()
	return &m, nil
}

// GetLatestRiskMetrics returns the most recent computation for a merchant.
func (r *SQLRepository) GetLatestRiskMetrics(ctx context.Context, merchantID string) (*domain.RiskMetrics, error) {
	query := `SELECT ` + riskMetricsColumns + ` FROM risk_metrics WHERE merchant_id = ? ORDER BY timestamp DESC LIMIT 1`

	m, err := scanRiskMetrics(r.db.QueryRowContext(ctx, r.rebind(query), merchantID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ListRiskMetrics returns computations since the given time, newest first.
func (r *SQLRepository) ListRiskMetrics(ctx context.Context, merchantID string, since time.Time) ([]*domain.RiskMetrics, error) {
	query := `SELECT ` + riskMetricsColumns + ` FROM risk_metrics WHERE merchant_id = ? AND timestamp >= ? ORDER BY timestamp DESC`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), merchantID, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []*domain.RiskMetrics
	for rows.Next() {
		m, err := scanRiskMetrics(rows)
		if err != nil {
			return nil, err
		}
		history = append(history, m)
	}

	return history, rows.Err()
}

// SaveSummaries upserts daily summaries keyed on merchant and date, so
// recomputing a day replaces the stored row.
func (r *SQLRepository) SaveSummaries(ctx context.Context, summaries []*domain.TransactionSummary) error {
	if len(summaries) == 0 {
		return nil
	}

	query := `
		INSERT INTO transaction_summaries (
			merchant_id, date, txn_count, total_volume, avg_amount,
			max_amount, min_amount, unique_customers, unique_payment_methods
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(merchant_id, date) DO UPDATE SET
			txn_count = excluded.txn_count,
			total_volume = excluded.total_volume,
			avg_amount = excluded.avg_amount,
			max_amount = excluded.max_amount,
			min_amount = excluded.min_amount,
			unique_customers = excluded.unique_customers,
			unique_payment_methods = excluded.unique_payment_methods
	`

	return r.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, r.rebind(query))
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, s := range summaries {
			if _, err := stmt.ExecContext(ctx,
				s.MerchantID, s.Date.UTC(), s.TransactionCount, s.TotalVolume, s.AverageAmount,
				s.MaxAmount, s.MinAmount, s.UniqueCustomers, s.UniquePaymentMethods,
			); err != nil {
				return fmt.Errorf("save summary %s %s: %w", s.MerchantID, s.Date.Format(time.DateOnly), err)
			}
		}
		return nil
	})
}

// ListSummaries returns a merchant's daily summaries inside rng, oldest first.
func (r *SQLRepository) ListSummaries(ctx context.Context, merchantID string, rng domain.TimeRange) ([]*domain.TransactionSummary, error) {
	where := []string{"merchant_id = ?"}
	args := []any{merchantID}
	if !rng.Start.IsZero() {
		where = append(where, "date >= ?")
		args = append(args, rng.Start.UTC())
	}
	if !rng.End.IsZero() {
		where = append(where, "date <= ?")
		args = append(args, rng.End.UTC())
	}

	query := `
		SELECT merchant_id, date, txn_count, total_volume, avg_amount,
			   max_amount, min_amount, unique_customers, unique_payment_methods
		FROM transaction_summaries
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY date
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.TransactionSummary
	for rows.Next() {
		var s domain.TransactionSummary
		if err := rows.Scan(
			&s.MerchantID, &s.Date, &s.TransactionCount, &s.TotalVolume, &s.AverageAmount,
			&s.MaxAmount, &s.MinAmount, &s.UniqueCustomers, &s.UniquePaymentMethods,
		); err != nil {
			return nil, err
		}
		s.Date = s.Date.UTC()
		out = append(out, &s)
	}

	return out, rows.Err()
}

// SaveTimelineEvents appends events in one transaction.
func (r *SQLRepository) SaveTimelineEvents(ctx context.Context, events []*domain.TimelineEvent) error {
	if len(events) == 0 {
		return nil
	}

	query := `
		INSERT INTO timeline_events (
			id, merchant_id, event_type, timestamp, details, severity, created_at, processed
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	return r.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, r.rebind(query))
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, e := range events {
			details, err := json.Marshal(e.Details)
			if err != nil {
				return fmt.Errorf("encode details for event %s: %w", e.ID, err)
			}
			if _, err := stmt.ExecContext(ctx,
				e.ID, e.MerchantID, e.EventType, e.Timestamp.UTC(), string(details),
				string(e.Severity), e.CreatedAt.UTC(), boolToInt(e.Processed),
			); err != nil {
				return fmt.Errorf("save timeline event %s: %w", e.ID, err)
			}
		}
		return nil
	})
}

// ListTimelineEvents returns events matching filter, newest first.
func (r *SQLRepository) ListTimelineEvents(ctx context.Context, filter domain.TimelineFilter) ([]*domain.TimelineEvent, error) {
	var where []string
	var args []any
	if filter.MerchantID != "" {
		where = append(where, "merchant_id = ?")
		args = append(args, filter.MerchantID)
	}
	if filter.EventType != "" {
		where = append(where, "event_type = ?")
		args = append(args, filter.EventType)
	}
	if filter.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, string(filter.Severity))
	}
	if !filter.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		where = append(where, "timestamp <= ?")
		args = append(args, filter.Until.UTC())
	}

	query := `SELECT id, merchant_id, event_type, timestamp, details, severity, created_at, processed FROM timeline_events`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY timestamp DESC, id` + page(0, filter.Limit)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.TimelineEvent
	for rows.Next() {
		var e domain.TimelineEvent
		var details, severity string
		var processed int

		if err := rows.Scan(
			&e.ID, &e.MerchantID, &e.EventType, &e.Timestamp, &details, &severity, &e.CreatedAt, &processed,
		); err != nil {
			return nil, err
		}

		e.Timestamp = e.Timestamp.UTC()
		e.CreatedAt = e.CreatedAt.UTC()
		e.Severity = domain.Severity(severity)
		e.Processed = processed == 1
		if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
			return nil, fmt.Errorf("failed to parse details for event %s: %w", e.ID, err)
		}
		events = append(events, &e)
	}

	return events, rows.Err()
}

// MarkTimelineEventProcessed sets the processed flag, the only mutable
// field of an event.
func (r *SQLRepository) MarkTimelineEventProcessed(ctx context.Context, eventID string) error {
	query := `UPDATE timeline_events SET processed = 1 WHERE id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), eventID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// SaveRuleConfig stores a rule configuration, replacing the same version.
func (r *SQLRepository) SaveRuleConfig(ctx context.Context, rule *domain.RuleConfig) error {
	if rule == nil || rule.ID == "" || rule.Version == "" {
		return fmt.Errorf("%w: rule needs an id and version", ErrInvalidInput)
	}

	bands, err := json.Marshal(rule.Bands)
	if err != nil {
		return fmt.Errorf("encode bands: %w", err)
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO rule_configs (
			id, name, description, version, expression, bands, weight, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			bands = excluded.bands,
			weight = excluded.weight,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description,
		rule.Version, rule.Expression, string(bands), rule.Weight, boolToInt(rule.Enabled),
		now, now,
	)
	return err
}

// ListRuleConfigs retrieves all enabled rule configurations.
func (r *SQLRepository) ListRuleConfigs(ctx context.Context) ([]*domain.RuleConfig, error) {
	query := `
		SELECT id, name, description, version, expression, bands, weight, enabled
		FROM rule_configs
		WHERE enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.RuleConfig
	for rows.Next() {
		var cfg domain.RuleConfig
		var bands string
		var description sql.NullString
		var enabled int

		if err := rows.Scan(
			&cfg.ID, &cfg.Name, &description,
			&cfg.Version, &cfg.Expression, &bands, &cfg.Weight, &enabled,
		); err != nil {
			return nil, err
		}

		cfg.Description = description.String
		cfg.Enabled = enabled == 1
		if err := json.Unmarshal([]byte(bands), &cfg.Bands); err != nil {
			return nil, fmt.Errorf("failed to parse bands for rule %s: %w", cfg.ID, err)
		}
		configs = append(configs, &cfg)
	}

	return configs, rows.Err()
}
