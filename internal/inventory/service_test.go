package inventory

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	stocks    map[string]Stock
	movements []StockMovement
	nextID    int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{stocks: make(map[string]Stock)}
}

func stockKey(storeID, productID int64) string {
	return fmt.Sprintf("%d:%d", storeID, productID)
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) ListStocks(ctx context.Context, filter StockFilter) ([]StockLevel, error) {
	var levels []StockLevel
	for _, s := range r.stocks {
		if filter.StoreID != nil && s.StoreID != *filter.StoreID {
			continue
		}
		if filter.ProductID != nil && s.ProductID != *filter.ProductID {
			continue
		}
		levels = append(levels, StockLevel{Stock: s})
	}
	return levels, nil
}

func (r *memoryRepo) ListLowStock(ctx context.Context, threshold int64) ([]StockLevel, error) {
	var levels []StockLevel
	for _, s := range r.stocks {
		if s.Quantity <= threshold {
			levels = append(levels, StockLevel{Stock: s})
		}
	}
	return levels, nil
}

func (r *memoryRepo) ListMovements(ctx context.Context, filter MovementFilter) ([]StockMovement, error) {
	result := make([]StockMovement, len(r.movements))
	copy(result, r.movements)
	return result, nil
}

func (tx *memoryTx) GetStockForUpdate(ctx context.Context, storeID, productID int64) (Stock, error) {
	if s, ok := tx.repo.stocks[stockKey(storeID, productID)]; ok {
		return s, nil
	}
	return Stock{ProductID: productID, StoreID: storeID}, ErrStockNotFound
}

func (tx *memoryTx) UpsertStock(ctx context.Context, stock Stock) error {
	tx.repo.stocks[stockKey(stock.StoreID, stock.ProductID)] = stock
	return nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, movement StockMovement) (int64, error) {
	tx.repo.nextID++
	movement.ID = tx.repo.nextID
	tx.repo.movements = append(tx.repo.movements, movement)
	return movement.ID, nil
}

func TestPostAdjustmentCreatesStockRow(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	movement, err := svc.PostAdjustment(ctx, AdjustmentInput{StoreID: 1, ProductID: 7, Quantity: 25, Note: "initial count"})
	require.NoError(t, err)
	require.Equal(t, MovementAdjustment, movement.Type)
	require.EqualValues(t, 25, movement.Quantity)

	stock := repo.stocks[stockKey(1, 7)]
	require.EqualValues(t, 25, stock.Quantity)
	require.Len(t, repo.movements, 1)
}

func TestPostAdjustmentAccumulates(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	_, err := svc.PostAdjustment(ctx, AdjustmentInput{StoreID: 1, ProductID: 7, Quantity: 10})
	require.NoError(t, err)
	_, err = svc.PostAdjustment(ctx, AdjustmentInput{StoreID: 1, ProductID: 7, Quantity: -4})
	require.NoError(t, err)

	require.EqualValues(t, 6, repo.stocks[stockKey(1, 7)].Quantity)
	require.Len(t, repo.movements, 2)
}

func TestPostAdjustmentNegativeStockGuard(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	_, err := svc.PostAdjustment(ctx, AdjustmentInput{StoreID: 1, ProductID: 7, Quantity: 3})
	require.NoError(t, err)

	_, err = svc.PostAdjustment(ctx, AdjustmentInput{StoreID: 1, ProductID: 7, Quantity: -5})
	require.ErrorIs(t, err, ErrNegativeStock)

	require.EqualValues(t, 3, repo.stocks[stockKey(1, 7)].Quantity)
	require.Len(t, repo.movements, 1)
}

func TestPostAdjustmentValidation(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	_, err := svc.PostAdjustment(ctx, AdjustmentInput{StoreID: 0, ProductID: 1, Quantity: 1})
	require.Error(t, err)

	_, err = svc.PostAdjustment(ctx, AdjustmentInput{StoreID: 1, ProductID: 1, Quantity: 0})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.PostAdjustment(ctx, AdjustmentInput{StoreID: 1, ProductID: 1, Quantity: 1, RefID: "not-a-uuid"})
	require.Error(t, err)
}

func TestLowStockThresholdClamped(t *testing.T) {
	repo := newMemoryRepo()
	repo.stocks[stockKey(1, 1)] = Stock{StoreID: 1, ProductID: 1, Quantity: 0}
	repo.stocks[stockKey(1, 2)] = Stock{StoreID: 1, ProductID: 2, Quantity: 9}
	svc := NewService(repo, nil, nil)

	levels, err := svc.LowStock(context.Background(), -3)
	require.NoError(t, err)
	require.Len(t, levels, 1)
}
