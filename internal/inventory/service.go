package inventory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/comptoir-erp/comptoir/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListStocks(ctx context.Context, filter StockFilter) ([]StockLevel, error)
	ListLowStock(ctx context.Context, threshold int64) ([]StockLevel, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]StockMovement, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates inventory operations.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, idem *shared.IdempotencyStore) *Service {
	return &Service{repo: repo, audit: audit, idempotency: idem}
}

// PostAdjustment applies a manual stock correction. The quantity is a signed
// delta; a resulting negative on-hand quantity is rejected.
func (s *Service) PostAdjustment(ctx context.Context, input AdjustmentInput) (StockMovement, error) {
	if input.StoreID == 0 || input.ProductID == 0 {
		return StockMovement{}, errors.New("inventory: store and product required")
	}
	if input.Quantity == 0 {
		return StockMovement{}, ErrInvalidQuantity
	}
	var idemKey string
	if input.RefID != "" {
		if _, err := uuid.Parse(input.RefID); err != nil {
			return StockMovement{}, errors.New("inventory: ref id must be a valid uuid")
		}
		if s.idempotency != nil {
			idemKey = fmt.Sprintf("adjustment:%d:%d:%s", input.StoreID, input.ProductID, input.RefID)
			if err := s.idempotency.CheckAndInsert(ctx, idemKey, "inventory"); err != nil {
				return StockMovement{}, err
			}
		}
	}

	var movement StockMovement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		stock, err := tx.GetStockForUpdate(ctx, input.StoreID, input.ProductID)
		if err != nil && !errors.Is(err, ErrStockNotFound) {
			return err
		}
		next := stock.Quantity + input.Quantity
		if next < 0 {
			return ErrNegativeStock
		}
		stock.Quantity = next
		if err := tx.UpsertStock(ctx, stock); err != nil {
			return err
		}
		movement = StockMovement{
			ProductID: input.ProductID,
			StoreID:   input.StoreID,
			Quantity:  input.Quantity,
			Type:      MovementAdjustment,
			Reference: input.RefID,
			Note:      input.Note,
			CreatedBy: input.ActorID,
			CreatedAt: time.Now().UTC(),
		}
		id, err := tx.InsertMovement(ctx, movement)
		if err != nil {
			return err
		}
		movement.ID = id
		return nil
	})
	if err != nil {
		if idemKey != "" {
			_ = s.idempotency.Delete(ctx, idemKey)
		}
		return StockMovement{}, err
	}

	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   "inventory.adjustment",
			Entity:   "stock_movement",
			EntityID: strconv.FormatInt(movement.ID, 10),
			Meta: map[string]any{
				"store_id":   input.StoreID,
				"product_id": input.ProductID,
				"quantity":   input.Quantity,
				"note":       input.Note,
			},
		})
	}
	return movement, nil
}

// GetStockLevels lists on-hand quantities with product and store names.
func (s *Service) GetStockLevels(ctx context.Context, filter StockFilter) ([]StockLevel, error) {
	return s.repo.ListStocks(ctx, filter)
}

// LowStock lists stock rows at or below threshold.
func (s *Service) LowStock(ctx context.Context, threshold int64) ([]StockLevel, error) {
	if threshold < 0 {
		threshold = 0
	}
	return s.repo.ListLowStock(ctx, threshold)
}

// ListMovements lists movement history, newest first.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) ([]StockMovement, error) {
	return s.repo.ListMovements(ctx, filter)
}
