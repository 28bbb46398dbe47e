package invoicing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/comptoir-erp/comptoir/internal/platform/db"
	"github.com/comptoir-erp/comptoir/internal/shared"
)

// Repository persists invoices and payments in PostgreSQL. All money columns
// are NUMERIC and converted through shared decimal helpers, never floats.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations a settlement needs.
type TxRepository interface {
	LockCustomer(ctx context.Context, customerID int64) error
	ListOutstandingForUpdate(ctx context.Context, customerID int64) ([]Invoice, error)
	GetInvoiceForUpdate(ctx context.Context, invoiceID int64) (Invoice, error)
	// SumPayments recomputes the invoice's paid amount from its payment rows.
	SumPayments(ctx context.Context, invoiceID int64) (decimal.Decimal, error)
	InsertPayment(ctx context.Context, p Payment) (int64, error)
	UpdateInvoicePaid(ctx context.Context, invoiceID int64, paid decimal.Decimal, status InvoiceStatus) error
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx runs fn inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const invoiceColumns = `id, number, customer_id, total_amount, paid_amount, status, issue_date, due_date, created_at, updated_at`

func scanInvoice(row pgx.Row) (Invoice, error) {
	var (
		inv   Invoice
		total pgtype.Numeric
		paid  pgtype.Numeric
	)
	err := row.Scan(&inv.ID, &inv.Number, &inv.CustomerID, &total, &paid, &inv.Status,
		&inv.IssueDate, &inv.DueDate, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return Invoice{}, err
	}
	if inv.TotalAmount, err = shared.NumericToDecimal(total); err != nil {
		return Invoice{}, err
	}
	if inv.PaidAmount, err = shared.NumericToDecimal(paid); err != nil {
		return Invoice{}, err
	}
	return inv, nil
}

// CreateInvoice inserts a new invoice with a generated number.
func (r *Repository) CreateInvoice(ctx context.Context, input InvoiceInput) (Invoice, error) {
	total, err := shared.DecimalToNumeric(input.TotalAmount)
	if err != nil {
		return Invoice{}, err
	}
	var seq int64
	if err := r.pool.QueryRow(ctx, `SELECT nextval('invoice_number_seq')`).Scan(&seq); err != nil {
		return Invoice{}, err
	}
	number := fmt.Sprintf("INV-%06d", seq)
	now := time.Now().UTC()
	row := r.pool.QueryRow(ctx, `
		INSERT INTO invoices (number, customer_id, total_amount, paid_amount, status, issue_date, due_date, created_at, updated_at)
		VALUES ($1, $2, $3, 0, $4, $5, $6, $7, $7)
		RETURNING `+invoiceColumns+`
	`, number, input.CustomerID, total, input.Status, input.IssueDate, input.DueDate, now)
	return scanInvoice(row)
}

// GetInvoice loads one invoice.
func (r *Repository) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	inv, err := scanInvoice(r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, ErrInvoiceNotFound
		}
		return Invoice{}, err
	}
	return inv, nil
}

// ListInvoices returns invoices matching filter, oldest issue date first.
func (r *Repository) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, int, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM invoices WHERE 1=1`
	args := []interface{}{}
	argCount := 0
	if filter.CustomerID != nil {
		argCount++
		cond := ` AND customer_id = $` + strconv.Itoa(argCount)
		query += cond
		countQuery += cond
		args = append(args, *filter.CustomerID)
	}
	if filter.Status != "" {
		argCount++
		cond := ` AND status = $` + strconv.Itoa(argCount)
		query += cond
		countQuery += cond
		args = append(args, filter.Status)
	}

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += ` ORDER BY issue_date ASC, id ASC`
	if filter.Limit > 0 {
		argCount++
		query += ` LIMIT $` + strconv.Itoa(argCount)
		args = append(args, filter.Limit)
		argCount++
		query += ` OFFSET $` + strconv.Itoa(argCount)
		args = append(args, filter.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var invoices []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, total, rows.Err()
}

// ListPayments returns an invoice's payments, oldest first.
func (r *Repository) ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, invoice_id, amount, method, reference, paid_at, created_by
		FROM invoice_payments
		WHERE invoice_id = $1
		ORDER BY paid_at ASC, id ASC
	`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []Payment
	for rows.Next() {
		var (
			p      Payment
			amount pgtype.Numeric
		)
		if err := rows.Scan(&p.ID, &p.InvoiceID, &amount, &p.Method, &p.Reference, &p.PaidAt, &p.CreatedBy); err != nil {
			return nil, err
		}
		if p.Amount, err = shared.NumericToDecimal(amount); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// Aging buckets outstanding invoices by days overdue.
func (r *Repository) Aging(ctx context.Context, asOf time.Time) ([]AgingBucket, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT
			CASE
				WHEN $1::date <= due_date THEN 'current'
				WHEN $1::date - due_date <= 30 THEN '1-30'
				WHEN $1::date - due_date <= 60 THEN '31-60'
				WHEN $1::date - due_date <= 90 THEN '61-90'
				ELSE '90+'
			END AS bucket,
			SUM(total_amount - paid_amount),
			COUNT(*)
		FROM invoices
		WHERE status NOT IN ('paid', 'cancelled') AND total_amount > paid_amount
		GROUP BY 1
	`, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	order := map[string]int{"current": 0, "1-30": 1, "31-60": 2, "61-90": 3, "90+": 4}
	buckets := make([]AgingBucket, 5)
	for label, idx := range order {
		buckets[idx] = AgingBucket{Label: label, Outstanding: decimal.Zero}
	}
	for rows.Next() {
		var (
			label       string
			outstanding pgtype.Numeric
			count       int
		)
		if err := rows.Scan(&label, &outstanding, &count); err != nil {
			return nil, err
		}
		amount, err := shared.NumericToDecimal(outstanding)
		if err != nil {
			return nil, err
		}
		buckets[order[label]] = AgingBucket{Label: label, Outstanding: amount, Count: count}
	}
	return buckets, rows.Err()
}

// CustomerStats aggregates a customer's billing position from invoices.
func (r *Repository) CustomerStats(ctx context.Context, customerID int64) (CustomerStats, error) {
	var (
		stats  CustomerStats
		billed pgtype.Numeric
		paid   pgtype.Numeric
	)
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(total_amount), 0), COALESCE(SUM(paid_amount), 0)
		FROM invoices
		WHERE customer_id = $1 AND status <> 'cancelled'
	`, customerID).Scan(&stats.InvoiceCount, &billed, &paid)
	if err != nil {
		return CustomerStats{}, err
	}
	stats.CustomerID = customerID
	if stats.TotalBilled, err = shared.NumericToDecimal(billed); err != nil {
		return CustomerStats{}, err
	}
	if stats.TotalPaid, err = shared.NumericToDecimal(paid); err != nil {
		return CustomerStats{}, err
	}
	stats.Outstanding = stats.TotalBilled.Sub(stats.TotalPaid)
	return stats, nil
}

func (t *txRepo) LockCustomer(ctx context.Context, customerID int64) error {
	var id int64
	err := t.tx.QueryRow(ctx, `SELECT id FROM customers WHERE id = $1 FOR UPDATE`, customerID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrCustomerNotFound
		}
		return err
	}
	return nil
}

func (t *txRepo) ListOutstandingForUpdate(ctx context.Context, customerID int64) ([]Invoice, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE customer_id = $1
		  AND status NOT IN ('paid', 'cancelled')
		  AND total_amount > paid_amount
		ORDER BY issue_date ASC, id ASC
		FOR UPDATE
	`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

func (t *txRepo) GetInvoiceForUpdate(ctx context.Context, invoiceID int64) (Invoice, error) {
	inv, err := scanInvoice(t.tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 FOR UPDATE`, invoiceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, ErrInvoiceNotFound
		}
		return Invoice{}, err
	}
	return inv, nil
}

func (t *txRepo) SumPayments(ctx context.Context, invoiceID int64) (decimal.Decimal, error) {
	var sum pgtype.Numeric
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM invoice_payments WHERE invoice_id = $1
	`, invoiceID).Scan(&sum)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return shared.NumericToDecimal(sum)
}

func (t *txRepo) InsertPayment(ctx context.Context, p Payment) (int64, error) {
	amount, err := shared.DecimalToNumeric(p.Amount)
	if err != nil {
		return 0, err
	}
	at := p.PaidAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	var id int64
	err = t.tx.QueryRow(ctx, `
		INSERT INTO invoice_payments (invoice_id, amount, method, reference, paid_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, p.InvoiceID, amount, p.Method, p.Reference, at, p.CreatedBy).Scan(&id)
	return id, err
}

func (t *txRepo) UpdateInvoicePaid(ctx context.Context, invoiceID int64, paid decimal.Decimal, status InvoiceStatus) error {
	amount, err := shared.DecimalToNumeric(paid)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE invoices SET paid_amount = $1, status = $2, updated_at = $3 WHERE id = $4
	`, amount, status, time.Now().UTC(), invoiceID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}
