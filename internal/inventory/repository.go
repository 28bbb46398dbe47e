package inventory

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/comptoir-erp/comptoir/internal/platform/db"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	GetStockForUpdate(ctx context.Context, storeID, productID int64) (Stock, error)
	UpsertStock(ctx context.Context, stock Stock) error
	InsertMovement(ctx context.Context, movement StockMovement) (int64, error)
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

// ListStocks returns stock levels joined with product and store names.
func (r *Repository) ListStocks(ctx context.Context, filter StockFilter) ([]StockLevel, error) {
	query := `
		SELECT s.id, s.product_id, s.store_id, s.quantity, s.updated_at,
		       p.reference, p.name, st.name
		FROM stocks s
		INNER JOIN products p ON p.id = s.product_id
		INNER JOIN stores st ON st.id = s.store_id
		WHERE 1=1
	`
	args := []interface{}{}
	argCount := 0
	if filter.StoreID != nil {
		argCount++
		query += ` AND s.store_id = $` + strconv.Itoa(argCount)
		args = append(args, *filter.StoreID)
	}
	if filter.ProductID != nil {
		argCount++
		query += ` AND s.product_id = $` + strconv.Itoa(argCount)
		args = append(args, *filter.ProductID)
	}
	query += ` ORDER BY st.name ASC, p.name ASC`
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
		return nil, err
	}
	defer rows.Close()
	return scanStockLevels(rows)
}

// ListLowStock returns stock rows at or below threshold, lowest first.
func (r *Repository) ListLowStock(ctx context.Context, threshold int64) ([]StockLevel, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT s.id, s.product_id, s.store_id, s.quantity, s.updated_at,
		       p.reference, p.name, st.name
		FROM stocks s
		INNER JOIN products p ON p.id = s.product_id
		INNER JOIN stores st ON st.id = s.store_id
		WHERE s.quantity <= $1
		ORDER BY s.quantity ASC, st.name ASC, p.name ASC
	`, threshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStockLevels(rows)
}

func scanStockLevels(rows pgx.Rows) ([]StockLevel, error) {
	var levels []StockLevel
	for rows.Next() {
		var lvl StockLevel
		if err := rows.Scan(&lvl.ID, &lvl.ProductID, &lvl.StoreID, &lvl.Quantity, &lvl.UpdatedAt,
			&lvl.ProductReference, &lvl.ProductName, &lvl.StoreName); err != nil {
			return nil, err
		}
		levels = append(levels, lvl)
	}
	return levels, rows.Err()
}

// ListMovements returns movement records, newest first.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]StockMovement, error) {
	query := `
		SELECT id, product_id, store_id, quantity, type, reference, note, created_by, created_at
		FROM stock_movements
		WHERE 1=1
	`
	args := []interface{}{}
	argCount := 0
	if filter.StoreID != nil {
		argCount++
		query += ` AND store_id = $` + strconv.Itoa(argCount)
		args = append(args, *filter.StoreID)
	}
	if filter.ProductID != nil {
		argCount++
		query += ` AND product_id = $` + strconv.Itoa(argCount)
		args = append(args, *filter.ProductID)
	}
	if filter.Reference != "" {
		argCount++
		query += ` AND reference = $` + strconv.Itoa(argCount)
		args = append(args, filter.Reference)
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
		return nil, err
	}
	defer rows.Close()

	var movements []StockMovement
	for rows.Next() {
		var m StockMovement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.StoreID, &m.Quantity, &m.Type,
			&m.Reference, &m.Note, &m.CreatedBy, &m.CreatedAt); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func (t *txRepo) GetStockForUpdate(ctx context.Context, storeID, productID int64) (Stock, error) {
	var s Stock
	err := t.tx.QueryRow(ctx, `
		SELECT id, product_id, store_id, quantity, updated_at
		FROM stocks
		WHERE store_id = $1 AND product_id = $2
		FOR UPDATE
	`, storeID, productID).Scan(&s.ID, &s.ProductID, &s.StoreID, &s.Quantity, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Stock{ProductID: productID, StoreID: storeID}, ErrStockNotFound
		}
		return Stock{}, err
	}
	return s, nil
}

func (t *txRepo) UpsertStock(ctx context.Context, stock Stock) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO stocks (product_id, store_id, quantity, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (product_id, store_id)
		DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = EXCLUDED.updated_at
	`, stock.ProductID, stock.StoreID, stock.Quantity, time.Now().UTC())
	return err
}

func (t *txRepo) InsertMovement(ctx context.Context, movement StockMovement) (int64, error) {
	at := movement.CreatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO stock_movements (product_id, store_id, quantity, type, reference, note, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, movement.ProductID, movement.StoreID, movement.Quantity, movement.Type,
		movement.Reference, movement.Note, movement.CreatedBy, at).Scan(&id)
	return id, err
}
