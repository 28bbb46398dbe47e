package transfers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/comptoir-erp/comptoir/internal/inventory"
	"github.com/comptoir-erp/comptoir/internal/platform/db"
)

// Repository persists transfers and their stock effects in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations a transition needs.
type TxRepository interface {
	InsertTransfer(ctx context.Context, t Transfer) (Transfer, error)
	GetTransferForUpdate(ctx context.Context, id int64) (Transfer, error)
	GetLines(ctx context.Context, transferID int64) ([]TransferLine, error)
	ReplaceLines(ctx context.Context, transferID int64, lines []LineInput) error
	UpdateLineSent(ctx context.Context, lineID, quantity int64) error
	UpdateLineReceived(ctx context.Context, lineID, quantity int64) error
	UpdateTransferStatus(ctx context.Context, id int64, status Status, note string) error
	LockStock(ctx context.Context, storeID, productID int64) (int64, bool, error)
	SetStock(ctx context.Context, storeID, productID, quantity int64) error
	InsertMovement(ctx context.Context, m inventory.StockMovement) error
	DeleteMovementsByReference(ctx context.Context, reference string) error
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

// Get loads one transfer with its lines.
func (r *Repository) Get(ctx context.Context, id int64) (Transfer, error) {
	var t Transfer
	err := r.pool.QueryRow(ctx, `
		SELECT id, number, source_store_id, dest_store_id, transfer_date, status, note, created_by,
		       created_at, updated_at, dispatched_at, received_at, cancelled_at
		FROM stock_transfers
		WHERE id = $1
	`, id).Scan(&t.ID, &t.Number, &t.SourceStoreID, &t.DestStoreID, &t.TransferDate, &t.Status, &t.Note, &t.CreatedBy,
		&t.CreatedAt, &t.UpdatedAt, &t.DispatchedAt, &t.ReceivedAt, &t.CancelledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transfer{}, ErrTransferNotFound
		}
		return Transfer{}, err
	}
	lines, err := scanLines(ctx, r.pool, id)
	if err != nil {
		return Transfer{}, err
	}
	t.Lines = lines
	return t, nil
}

// List returns transfers without lines, newest first.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Transfer, int, error) {
	query := `
		SELECT id, number, source_store_id, dest_store_id, transfer_date, status, note, created_by,
		       created_at, updated_at, dispatched_at, received_at, cancelled_at
		FROM stock_transfers
		WHERE 1=1
	`
	countQuery := `SELECT COUNT(*) FROM stock_transfers WHERE 1=1`
	args := []interface{}{}
	argCount := 0
	if filter.Status != "" {
		argCount++
		cond := ` AND status = $` + strconv.Itoa(argCount)
		query += cond
		countQuery += cond
		args = append(args, filter.Status)
	}
	if filter.StoreID != nil {
		argCount++
		cond := ` AND (source_store_id = $` + strconv.Itoa(argCount) + ` OR dest_store_id = $` + strconv.Itoa(argCount) + `)`
		query += cond
		countQuery += cond
		args = append(args, *filter.StoreID)
	}

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += ` ORDER BY created_at DESC, id DESC`
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

	var result []Transfer
	for rows.Next() {
		var t Transfer
		if err := rows.Scan(&t.ID, &t.Number, &t.SourceStoreID, &t.DestStoreID, &t.TransferDate, &t.Status, &t.Note, &t.CreatedBy,
			&t.CreatedAt, &t.UpdatedAt, &t.DispatchedAt, &t.ReceivedAt, &t.CancelledAt); err != nil {
			return nil, 0, err
		}
		result = append(result, t)
	}
	return result, total, rows.Err()
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func scanLines(ctx context.Context, q queryer, transferID int64) ([]TransferLine, error) {
	rows, err := q.Query(ctx, `
		SELECT id, transfer_id, product_id, quantity_requested, quantity_sent, quantity_received
		FROM stock_transfer_lines
		WHERE transfer_id = $1
		ORDER BY id ASC
	`, transferID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []TransferLine
	for rows.Next() {
		var l TransferLine
		if err := rows.Scan(&l.ID, &l.TransferID, &l.ProductID, &l.QuantityRequested, &l.QuantitySent, &l.QuantityReceived); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (t *txRepo) InsertTransfer(ctx context.Context, transfer Transfer) (Transfer, error) {
	var seq int64
	if err := t.tx.QueryRow(ctx, `SELECT nextval('stock_transfer_number_seq')`).Scan(&seq); err != nil {
		return Transfer{}, err
	}
	transfer.Number = fmt.Sprintf("TRF-%06d", seq)
	now := time.Now().UTC()
	err := t.tx.QueryRow(ctx, `
		INSERT INTO stock_transfers (number, source_store_id, dest_store_id, transfer_date, status, note, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		RETURNING id, created_at, updated_at
	`, transfer.Number, transfer.SourceStoreID, transfer.DestStoreID, transfer.TransferDate, transfer.Status, transfer.Note, transfer.CreatedBy, now).
		Scan(&transfer.ID, &transfer.CreatedAt, &transfer.UpdatedAt)
	if err != nil {
		return Transfer{}, err
	}
	return transfer, nil
}

func (t *txRepo) GetTransferForUpdate(ctx context.Context, id int64) (Transfer, error) {
	var transfer Transfer
	err := t.tx.QueryRow(ctx, `
		SELECT id, number, source_store_id, dest_store_id, transfer_date, status, note, created_by,
		       created_at, updated_at, dispatched_at, received_at, cancelled_at
		FROM stock_transfers
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&transfer.ID, &transfer.Number, &transfer.SourceStoreID, &transfer.DestStoreID, &transfer.TransferDate,
		&transfer.Status, &transfer.Note, &transfer.CreatedBy, &transfer.CreatedAt, &transfer.UpdatedAt,
		&transfer.DispatchedAt, &transfer.ReceivedAt, &transfer.CancelledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transfer{}, ErrTransferNotFound
		}
		return Transfer{}, err
	}
	return transfer, nil
}

func (t *txRepo) GetLines(ctx context.Context, transferID int64) ([]TransferLine, error) {
	return scanLines(ctx, t.tx, transferID)
}

func (t *txRepo) ReplaceLines(ctx context.Context, transferID int64, lines []LineInput) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM stock_transfer_lines WHERE transfer_id = $1`, transferID); err != nil {
		return err
	}
	for _, line := range lines {
		_, err := t.tx.Exec(ctx, `
			INSERT INTO stock_transfer_lines (transfer_id, product_id, quantity_requested, quantity_sent, quantity_received)
			VALUES ($1, $2, $3, 0, 0)
		`, transferID, line.ProductID, line.QuantityRequested)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *txRepo) UpdateLineSent(ctx context.Context, lineID, quantity int64) error {
	_, err := t.tx.Exec(ctx, `UPDATE stock_transfer_lines SET quantity_sent = $1 WHERE id = $2`, quantity, lineID)
	return err
}

func (t *txRepo) UpdateLineReceived(ctx context.Context, lineID, quantity int64) error {
	_, err := t.tx.Exec(ctx, `UPDATE stock_transfer_lines SET quantity_received = $1 WHERE id = $2`, quantity, lineID)
	return err
}

func (t *txRepo) UpdateTransferStatus(ctx context.Context, id int64, status Status, note string) error {
	now := time.Now().UTC()
	var stampColumn string
	switch status {
	case StatusInTransit:
		stampColumn = "dispatched_at"
	case StatusReceived:
		stampColumn = "received_at"
	case StatusCancelled:
		stampColumn = "cancelled_at"
	}
	query := `UPDATE stock_transfers SET status = $1, updated_at = $2`
	args := []interface{}{status, now}
	argCount := 2
	if stampColumn != "" {
		argCount++
		query += `, ` + stampColumn + ` = $` + strconv.Itoa(argCount)
		args = append(args, now)
	}
	if note != "" {
		argCount++
		query += `, note = $` + strconv.Itoa(argCount)
		args = append(args, note)
	}
	argCount++
	query += ` WHERE id = $` + strconv.Itoa(argCount)
	args = append(args, id)

	tag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransferNotFound
	}
	return nil
}

func (t *txRepo) LockStock(ctx context.Context, storeID, productID int64) (int64, bool, error) {
	var qty int64
	err := t.tx.QueryRow(ctx, `
		SELECT quantity FROM stocks WHERE store_id = $1 AND product_id = $2 FOR UPDATE
	`, storeID, productID).Scan(&qty)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return qty, true, nil
}

func (t *txRepo) SetStock(ctx context.Context, storeID, productID, quantity int64) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO stocks (product_id, store_id, quantity, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (product_id, store_id)
		DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = EXCLUDED.updated_at
	`, productID, storeID, quantity, time.Now().UTC())
	return err
}

func (t *txRepo) InsertMovement(ctx context.Context, m inventory.StockMovement) error {
	at := m.CreatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO stock_movements (product_id, store_id, quantity, type, reference, note, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, m.ProductID, m.StoreID, m.Quantity, m.Type, m.Reference, m.Note, m.CreatedBy, at)
	return err
}

func (t *txRepo) DeleteMovementsByReference(ctx context.Context, reference string) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM stock_movements WHERE reference = $1`, reference)
	return err
}
