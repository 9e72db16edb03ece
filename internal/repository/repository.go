// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// inClauseChunk bounds the bind parameters of one IN query.
const inClauseChunk = 500

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

var _ domain.Repository = (*SQLRepository)(nil)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New opens the configured database, applies the schema and rewrites
// legacy transaction statuses left by older datasets.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	db, err := open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	n, err := repo.NormalizeLegacyStatuses(context.Background())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to normalize legacy statuses: %w", err)
	}
	if n > 0 {
		slog.Info("normalized legacy transaction statuses", "rows", n)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// inTx runs fn inside a database transaction.
func (r *SQLRepository) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// SaveMerchants stores merchants in one transaction. An existing merchant
// with the same ID is replaced.
func (r *SQLRepository) SaveMerchants(ctx context.Context, merchants []*domain.Merchant) error {
	if len(merchants) == 0 {
		return nil
	}

	query := `
		INSERT INTO merchants (
			merchant_id, business_name, business_type, registration_date,
			business_model, product_category, average_ticket_size, gst_status,
			epfo_registered, registered_address, city, state,
			reported_revenue, employee_count, bank_account
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(merchant_id) DO UPDATE SET
			business_name = excluded.business_name,
			business_type = excluded.business_type,
			registration_date = excluded.registration_date,
			business_model = excluded.business_model,
			product_category = excluded.product_category,
			average_ticket_size = excluded.average_ticket_size,
			gst_status = excluded.gst_status,
			epfo_registered = excluded.epfo_registered,
			registered_address = excluded.registered_address,
			city = excluded.city,
			state = excluded.state,
			reported_revenue = excluded.reported_revenue,
			employee_count = excluded.employee_count,
			bank_account = excluded.bank_account
	`

	return r.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, r.rebind(query))
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, m := range merchants {
			if _, err := stmt.ExecContext(ctx,
				m.MerchantID, m.BusinessName, m.BusinessType, m.RegistrationDate.UTC(),
				string(m.BusinessModel), m.ProductCategory, m.AverageTicketSize, boolToInt(m.GSTStatus),
				boolToInt(m.EPFORegistered), m.RegisteredAddress, m.City, m.State,
				m.ReportedRevenue, m.EmployeeCount, m.BankAccount,
			); err != nil {
				return fmt.Errorf("save merchant %s: %w", m.MerchantID, err)
			}
		}
		return nil
	})
}

const merchantColumns = `
	merchant_id, business_name, business_type, registration_date,
	business_model, product_category, average_ticket_size, gst_status,
	epfo_registered, registered_address, city, state,
	reported_revenue, employee_count, bank_account
`

func scanMerchant(s scanner) (*domain.Merchant, error) {
	var m domain.Merchant
	var model string
	var gst, epfo int

	if err := s.Scan(
		&m.MerchantID, &m.BusinessName, &m.BusinessType, &m.RegistrationDate,
		&model, &m.ProductCategory, &m.AverageTicketSize, &gst,
		&epfo, &m.RegisteredAddress, &m.City, &m.State,
		&m.ReportedRevenue, &m.EmployeeCount, &m.BankAccount,
	); err != nil {
		return nil, err
	}

	m.BusinessModel = domain.BusinessModel(model)
	m.GSTStatus = gst == 1
	m.EPFORegistered = epfo == 1
	m.RegistrationDate = m.RegistrationDate.UTC()
	return &m, nil
}

// GetMerchant retrieves a merchant by ID.
func (r *SQLRepository) GetMerchant(ctx context.Context, merchantID string) (*domain.Merchant, error) {
	query := `SELECT ` + merchantColumns + ` FROM merchants WHERE merchant_id = ?`

	m, err := scanMerchant(r.db.QueryRowContext(ctx, r.rebind(query), merchantID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// GetMerchants returns the stored merchants among ids, in no particular
// order. Unknown IDs are skipped.
func (r *SQLRepository) GetMerchants(ctx context.Context, ids []string) ([]*domain.Merchant, error) {
	var merchants []*domain.Merchant

	for chunk := range slices.Chunk(ids, inClauseChunk) {
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(chunk)), ", ")
		query := `SELECT ` + merchantColumns + ` FROM merchants WHERE merchant_id IN (` + placeholders + `)`

		rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			m, err := scanMerchant(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			merchants = append(merchants, m)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}

	return merchants, nil
}

// ListMerchants pages through merchants ordered by ID.
func (r *SQLRepository) ListMerchants(ctx context.Context, offset, limit int) ([]*domain.Merchant, error) {
	if offset < 0 || limit < 0 {
		return nil, fmt.Errorf("%w: offset and limit must not be negative", ErrInvalidInput)
	}

	query := `SELECT ` + merchantColumns + ` FROM merchants ORDER BY merchant_id` + page(offset, limit)

	rows, err := r.db.QueryContext(ctx, r.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var merchants []*domain.Merchant
	for rows.Next() {
		m, err := scanMerchant(rows)
		if err != nil {
			return nil, err
		}
		merchants = append(merchants, m)
	}

	return merchants, rows.Err()
}

// SaveTransactions stores transactions in one transaction. An existing
// transaction with the same ID is replaced, so replaying a seed is idempotent.
func (r *SQLRepository) SaveTransactions(ctx context.Context, txs []*domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	query := `
		INSERT INTO transactions (
			transaction_id, merchant_id, receiver_merchant_id, timestamp,
			amount, payment_method, status, platform, product_category,
			customer_id, device_id, customer_location,
			velocity_flag, amount_flag, time_flag, device_flag
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(transaction_id) DO UPDATE SET
			merchant_id = excluded.merchant_id,
			receiver_merchant_id = excluded.receiver_merchant_id,
			timestamp = excluded.timestamp,
			amount = excluded.amount,
			payment_method = excluded.payment_method,
			status = excluded.status,
			platform = excluded.platform,
			product_category = excluded.product_category,
			customer_id = excluded.customer_id,
			device_id = excluded.device_id,
			customer_location = excluded.customer_location,
			velocity_flag = excluded.velocity_flag,
			amount_flag = excluded.amount_flag,
			time_flag = excluded.time_flag,
			device_flag = excluded.device_flag
	`

	return r.inTx(ctx, func(dbtx *sql.Tx) error {
		stmt, err := dbtx.PrepareContext(ctx, r.rebind(query))
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, tx := range txs {
			if _, err := stmt.ExecContext(ctx,
				tx.TransactionID, tx.MerchantID, tx.ReceiverMerchantID, tx.Timestamp.UTC(),
				tx.Amount, tx.PaymentMethod, string(tx.Status.Normalize()), tx.Platform, tx.ProductCategory,
				tx.CustomerID, tx.DeviceID, tx.CustomerLocation,
				boolToInt(tx.VelocityFlag), boolToInt(tx.AmountFlag), boolToInt(tx.TimeFlag), boolToInt(tx.DeviceFlag),
			); err != nil {
				return fmt.Errorf("save transaction %s: %w", tx.TransactionID, err)
			}
		}
		return nil
	})
}

const transactionColumns = `
	transaction_id, merchant_id, receiver_merchant_id, timestamp,
	amount, payment_method, status, platform, product_category,
	customer_id, device_id, customer_location,
	velocity_flag, amount_flag, time_flag, device_flag
`

func scanTransaction(s scanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var status string
	var velocity, amt, tm, device int

	if err := s.Scan(
		&tx.TransactionID, &tx.MerchantID, &tx.ReceiverMerchantID, &tx.Timestamp,
		&tx.Amount, &tx.PaymentMethod, &status, &tx.Platform, &tx.ProductCategory,
		&tx.CustomerID, &tx.DeviceID, &tx.CustomerLocation,
		&velocity, &amt, &tm, &device,
	); err != nil {
		return nil, err
	}

	tx.Timestamp = tx.Timestamp.UTC()
	tx.Status = domain.TransactionStatus(status).Normalize()
	tx.VelocityFlag = velocity == 1
	tx.AmountFlag = amt == 1
	tx.TimeFlag = tm == 1
	tx.DeviceFlag = device == 1
	return &tx, nil
}

func (r *SQLRepository) queryTransactions(ctx context.Context, query string, args ...any) ([]*domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}

	return txs, rows.Err()
}

// GetTransaction retrieves a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE transaction_id = ?`

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, r.rebind(query), txID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// ListTransactions pages through all transactions ordered by time.
func (r *SQLRepository) ListTransactions(ctx context.Context, offset, limit int) ([]*domain.Transaction, error) {
	if offset < 0 || limit < 0 {
		return nil, fmt.Errorf("%w: offset and limit must not be negative", ErrInvalidInput)
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions ORDER BY timestamp, transaction_id` + page(offset, limit)
	return r.queryTransactions(ctx, query)
}

// GetMerchantTransactions returns the transactions merchantID sent,
// oldest first, narrowed by filter.
func (r *SQLRepository) GetMerchantTransactions(ctx context.Context, merchantID string, filter domain.TransactionFilter) ([]*domain.Transaction, error) {
	if merchantID == "" {
		return nil, fmt.Errorf("%w: merchantID is required", ErrInvalidInput)
	}
	if filter.Offset < 0 || filter.Limit < 0 {
		return nil, fmt.Errorf("%w: offset and limit must not be negative", ErrInvalidInput)
	}

	var where []string
	args := []any{merchantID}
	where = append(where, "merchant_id = ?")
	if !filter.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		where = append(where, "timestamp <= ?")
		args = append(args, filter.Until.UTC())
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE ` +
		strings.Join(where, " AND ") +
		` ORDER BY timestamp, transaction_id` + page(filter.Offset, filter.Limit)

	return r.queryTransactions(ctx, query, args...)
}

// NormalizeLegacyStatuses rewrites stored "completed" statuses to "success".
func (r *SQLRepository) NormalizeLegacyStatuses(ctx context.Context) (int64, error) {
	query := `UPDATE transactions SET status = ? WHERE status = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		string(domain.StatusSuccess), string(domain.StatusLegacyCompleted))
	if err != nil {
		return 0, fmt.Errorf("normalize statuses: %w", err)
	}
	return result.RowsAffected()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

// page renders a LIMIT/OFFSET clause. A zero limit means no limit.
func page(offset, limit int) string {
	switch {
	case limit > 0:
		return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	case offset > 0:
		// PostgreSQL accepts OFFSET alone; SQLite needs a LIMIT.
		return fmt.Sprintf(" LIMIT %d OFFSET %d", int64(1)<<62, offset)
	default:
		return ""
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Stats returns connection pool statistics.
func (r *SQLRepository) Stats() sql.DBStats {
	return r.db.Stats()
}
