package transfers

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/comptoir-erp/comptoir/internal/inventory"
	"github.com/comptoir-erp/comptoir/internal/observability"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Transfer, error)
	List(ctx context.Context, filter ListFilter) ([]Transfer, int, error)
}

// Notifier enqueues transfer transition notifications. Nil-safe by contract.
type Notifier interface {
	NotifyTransfer(ctx context.Context, transferID int64, number string, action string) error
}

// Service drives the transfer lifecycle. All stock mutations happen inside
// one transaction per transition, with stock rows locked in a stable
// (store id, product id) order before any read.
type Service struct {
	repo     RepositoryPort
	logger   *slog.Logger
	notifier Notifier
	metrics  *observability.Metrics
}

// NewService builds Service. notifier and metrics may be nil.
func NewService(repo RepositoryPort, logger *slog.Logger, notifier Notifier, metrics *observability.Metrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger, notifier: notifier, metrics: metrics}
}

// stockKey identifies one stock row.
type stockKey struct {
	StoreID   int64
	ProductID int64
}

// stockState is the locked, in-transaction view of one stock row.
type stockState struct {
	Quantity int64
	Found    bool
}

// lockStocks acquires row locks on every key in ascending (store, product)
// order and returns the locked quantities. Ordering prevents deadlocks when
// two transitions touch overlapping rows.
func lockStocks(ctx context.Context, tx TxRepository, keys []stockKey) (map[stockKey]stockState, error) {
	uniq := make(map[stockKey]struct{}, len(keys))
	ordered := make([]stockKey, 0, len(keys))
	for _, k := range keys {
		if _, ok := uniq[k]; ok {
			continue
		}
		uniq[k] = struct{}{}
		ordered = append(ordered, k)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].StoreID != ordered[j].StoreID {
			return ordered[i].StoreID < ordered[j].StoreID
		}
		return ordered[i].ProductID < ordered[j].ProductID
	})

	states := make(map[stockKey]stockState, len(ordered))
	for _, k := range ordered {
		qty, found, err := tx.LockStock(ctx, k.StoreID, k.ProductID)
		if err != nil {
			return nil, err
		}
		states[k] = stockState{Quantity: qty, Found: found}
	}
	return states, nil
}

// Create opens a new draft transfer.
func (s *Service) Create(ctx context.Context, input CreateInput) (Transfer, error) {
	if input.SourceStoreID <= 0 || input.DestStoreID <= 0 {
		return Transfer{}, ErrStoreRequired
	}
	if input.SourceStoreID == input.DestStoreID {
		return Transfer{}, ErrSameStore
	}
	if len(input.Lines) == 0 {
		return Transfer{}, ErrNoLines
	}
	for _, line := range input.Lines {
		if line.ProductID <= 0 || line.QuantityRequested <= 0 {
			return Transfer{}, ErrNoLines
		}
	}

	transferDate := input.TransferDate
	if transferDate.IsZero() {
		transferDate = time.Now().UTC()
	}

	var created Transfer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		transfer, err := tx.InsertTransfer(ctx, Transfer{
			SourceStoreID: input.SourceStoreID,
			DestStoreID:   input.DestStoreID,
			TransferDate:  transferDate,
			Status:        StatusDraft,
			Note:          input.Note,
			CreatedBy:     input.ActorID,
		})
		if err != nil {
			return err
		}
		if err := tx.ReplaceLines(ctx, transfer.ID, input.Lines); err != nil {
			return err
		}
		created = transfer
		return nil
	})
	if err != nil {
		return Transfer{}, err
	}
	return s.repo.Get(ctx, created.ID)
}

// Get loads one transfer with lines.
func (s *Service) Get(ctx context.Context, id int64) (Transfer, error) {
	return s.repo.Get(ctx, id)
}

// List returns transfers matching filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Transfer, int, error) {
	return s.repo.List(ctx, filter)
}

// Update replaces lines and note. Only draft transfers accept updates; any
// other status reports the blocking status so the caller can cancel and
// recreate instead.
func (s *Service) Update(ctx context.Context, id int64, input UpdateInput) (Transfer, error) {
	if len(input.Lines) == 0 {
		return Transfer{}, ErrNoLines
	}
	for _, line := range input.Lines {
		if line.ProductID <= 0 || line.QuantityRequested <= 0 {
			return Transfer{}, ErrNoLines
		}
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		transfer, err := tx.GetTransferForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !transfer.Status.CanEdit() {
			return &LockedError{Status: transfer.Status}
		}
		if err := tx.ReplaceLines(ctx, id, input.Lines); err != nil {
			return err
		}
		return tx.UpdateTransferStatus(ctx, id, StatusDraft, input.Note)
	})
	if err != nil {
		return Transfer{}, err
	}
	return s.repo.Get(ctx, id)
}

// Dispatch moves a draft transfer to in_transit, decrementing source stock
// by each line's sent quantity. Sent quantities default to requested and may
// never drive source stock negative.
func (s *Service) Dispatch(ctx context.Context, id int64, input DispatchInput) (Transfer, error) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		transfer, err := tx.GetTransferForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if transfer.Status != StatusDraft {
			return &LockedError{Status: transfer.Status}
		}
		lines, err := tx.GetLines(ctx, id)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return ErrNoLines
		}

		keys := make([]stockKey, 0, len(lines))
		for _, line := range lines {
			keys = append(keys, stockKey{StoreID: transfer.SourceStoreID, ProductID: line.ProductID})
		}
		stocks, err := lockStocks(ctx, tx, keys)
		if err != nil {
			return err
		}

		for _, line := range lines {
			sent := line.QuantityRequested
			if v, ok := input.SentQuantities[line.ID]; ok {
				sent = v
			}
			if sent <= 0 {
				return ErrNoLines
			}
			key := stockKey{StoreID: transfer.SourceStoreID, ProductID: line.ProductID}
			state := stocks[key]
			if state.Quantity < sent {
				return &StockShortfallError{
					ProductID: line.ProductID,
					StoreID:   transfer.SourceStoreID,
					Current:   state.Quantity,
					Required:  sent,
				}
			}
			state.Quantity -= sent
			stocks[key] = state

			if err := tx.SetStock(ctx, key.StoreID, key.ProductID, state.Quantity); err != nil {
				return err
			}
			if err := tx.UpdateLineSent(ctx, line.ID, sent); err != nil {
				return err
			}
			if err := tx.InsertMovement(ctx, inventory.StockMovement{
				ProductID: line.ProductID,
				StoreID:   transfer.SourceStoreID,
				Quantity:  -sent,
				Type:      inventory.MovementTransfer,
				Reference: transfer.Number,
				CreatedBy: input.ActorID,
			}); err != nil {
				return err
			}
		}
		return tx.UpdateTransferStatus(ctx, id, StatusInTransit, "")
	})
	s.observe("dispatch", err)
	if err != nil {
		return Transfer{}, err
	}
	transfer, err := s.repo.Get(ctx, id)
	if err != nil {
		return Transfer{}, err
	}
	s.notify(ctx, transfer, "dispatched")
	return transfer, nil
}

// Receive moves an in_transit transfer to received, incrementing destination
// stock by each line's received quantity. Received quantities default to the
// sent quantity.
func (s *Service) Receive(ctx context.Context, id int64, input ReceiveInput) (Transfer, error) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		transfer, err := tx.GetTransferForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if transfer.Status != StatusInTransit {
			return &LockedError{Status: transfer.Status}
		}
		lines, err := tx.GetLines(ctx, id)
		if err != nil {
			return err
		}

		keys := make([]stockKey, 0, len(lines))
		for _, line := range lines {
			keys = append(keys, stockKey{StoreID: transfer.DestStoreID, ProductID: line.ProductID})
		}
		stocks, err := lockStocks(ctx, tx, keys)
		if err != nil {
			return err
		}

		for _, line := range lines {
			received := line.QuantitySent
			if v, ok := input.ReceivedQuantities[line.ID]; ok {
				received = v
			}
			if received < 0 {
				return ErrNoLines
			}
			key := stockKey{StoreID: transfer.DestStoreID, ProductID: line.ProductID}
			state := stocks[key]
			state.Quantity += received
			state.Found = true
			stocks[key] = state

			if err := tx.SetStock(ctx, key.StoreID, key.ProductID, state.Quantity); err != nil {
				return err
			}
			if err := tx.UpdateLineReceived(ctx, line.ID, received); err != nil {
				return err
			}
			if received == 0 {
				continue
			}
			if err := tx.InsertMovement(ctx, inventory.StockMovement{
				ProductID: line.ProductID,
				StoreID:   transfer.DestStoreID,
				Quantity:  received,
				Type:      inventory.MovementTransfer,
				Reference: transfer.Number,
				CreatedBy: input.ActorID,
			}); err != nil {
				return err
			}
		}
		return tx.UpdateTransferStatus(ctx, id, StatusReceived, "")
	})
	s.observe("receive", err)
	if err != nil {
		return Transfer{}, err
	}
	transfer, err := s.repo.Get(ctx, id)
	if err != nil {
		return Transfer{}, err
	}
	s.notify(ctx, transfer, "received")
	return transfer, nil
}

// Cancel terminates the transfer from any non-cancelled state and reverses
// its stock effects exactly. An in_transit cancellation restores source stock
// by the sent quantity. A received cancellation moves the received quantity
// back from destination to source; in-transit loss is never reintroduced.
// Movements recorded for the transfer are deleted as part of the reversal.
func (s *Service) Cancel(ctx context.Context, id int64, actorID int64) (Transfer, error) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		transfer, err := tx.GetTransferForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if transfer.Status == StatusCancelled {
			return ErrAlreadyCancelled
		}
		lines, err := tx.GetLines(ctx, id)
		if err != nil {
			return err
		}

		switch transfer.Status {
		case StatusDraft:
			// no stock effects to reverse

		case StatusInTransit:
			keys := make([]stockKey, 0, len(lines))
			for _, line := range lines {
				keys = append(keys, stockKey{StoreID: transfer.SourceStoreID, ProductID: line.ProductID})
			}
			stocks, err := lockStocks(ctx, tx, keys)
			if err != nil {
				return err
			}
			for _, line := range lines {
				key := stockKey{StoreID: transfer.SourceStoreID, ProductID: line.ProductID}
				state := stocks[key]
				state.Quantity += line.QuantitySent
				stocks[key] = state
				if err := tx.SetStock(ctx, key.StoreID, key.ProductID, state.Quantity); err != nil {
					return err
				}
			}
			if err := tx.DeleteMovementsByReference(ctx, transfer.Number); err != nil {
				return err
			}

		case StatusReceived:
			keys := make([]stockKey, 0, 2*len(lines))
			for _, line := range lines {
				keys = append(keys,
					stockKey{StoreID: transfer.SourceStoreID, ProductID: line.ProductID},
					stockKey{StoreID: transfer.DestStoreID, ProductID: line.ProductID},
				)
			}
			stocks, err := lockStocks(ctx, tx, keys)
			if err != nil {
				return err
			}
			for _, line := range lines {
				received := line.QuantityReceived
				destKey := stockKey{StoreID: transfer.DestStoreID, ProductID: line.ProductID}
				srcKey := stockKey{StoreID: transfer.SourceStoreID, ProductID: line.ProductID}

				dest := stocks[destKey]
				if dest.Quantity < received {
					return &StockShortfallError{
						ProductID: line.ProductID,
						StoreID:   transfer.DestStoreID,
						Current:   dest.Quantity,
						Required:  received,
						Reverse:   true,
					}
				}
				dest.Quantity -= received
				stocks[destKey] = dest

				src := stocks[srcKey]
				src.Quantity += received
				stocks[srcKey] = src

				if err := tx.SetStock(ctx, destKey.StoreID, destKey.ProductID, dest.Quantity); err != nil {
					return err
				}
				if err := tx.SetStock(ctx, srcKey.StoreID, srcKey.ProductID, src.Quantity); err != nil {
					return err
				}
			}
			if err := tx.DeleteMovementsByReference(ctx, transfer.Number); err != nil {
				return err
			}
		}
		return tx.UpdateTransferStatus(ctx, id, StatusCancelled, "")
	})
	s.observe("cancel", err)
	if err != nil {
		return Transfer{}, err
	}
	transfer, err := s.repo.Get(ctx, id)
	if err != nil {
		return Transfer{}, err
	}
	s.notify(ctx, transfer, "cancelled")
	return transfer, nil
}

func (s *Service) observe(action string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.metrics.ObserveTransferTransition(action, outcome)
}

func (s *Service) notify(ctx context.Context, transfer Transfer, action string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyTransfer(ctx, transfer.ID, transfer.Number, action); err != nil {
		s.logger.Warn("transfer notification enqueue failed",
			slog.Int64("transfer_id", transfer.ID),
			slog.String("action", action),
			slog.Any("error", err))
	}
}
