package transfers

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/comptoir-erp/comptoir/internal/inventory"
)

type memoryRepo struct {
	transfers map[int64]Transfer
	lines     map[int64][]TransferLine
	stocks    map[string]int64
	movements []inventory.StockMovement
	nextID    int64
	nextLine  int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		transfers: make(map[int64]Transfer),
		lines:     make(map[int64][]TransferLine),
		stocks:    make(map[string]int64),
	}
}

func skey(storeID, productID int64) string {
	return fmt.Sprintf("%d:%d", storeID, productID)
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Transfer, error) {
	t, ok := r.transfers[id]
	if !ok {
		return Transfer{}, ErrTransferNotFound
	}
	lines := make([]TransferLine, len(r.lines[id]))
	copy(lines, r.lines[id])
	t.Lines = lines
	return t, nil
}

func (r *memoryRepo) List(ctx context.Context, filter ListFilter) ([]Transfer, int, error) {
	var result []Transfer
	for _, t := range r.transfers {
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		result = append(result, t)
	}
	return result, len(result), nil
}

func (tx *memoryTx) InsertTransfer(ctx context.Context, t Transfer) (Transfer, error) {
	tx.repo.nextID++
	t.ID = tx.repo.nextID
	t.Number = fmt.Sprintf("TRF-%06d", t.ID)
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	tx.repo.transfers[t.ID] = t
	return t, nil
}

func (tx *memoryTx) GetTransferForUpdate(ctx context.Context, id int64) (Transfer, error) {
	t, ok := tx.repo.transfers[id]
	if !ok {
		return Transfer{}, ErrTransferNotFound
	}
	return t, nil
}

func (tx *memoryTx) GetLines(ctx context.Context, transferID int64) ([]TransferLine, error) {
	lines := make([]TransferLine, len(tx.repo.lines[transferID]))
	copy(lines, tx.repo.lines[transferID])
	return lines, nil
}

func (tx *memoryTx) ReplaceLines(ctx context.Context, transferID int64, inputs []LineInput) error {
	var lines []TransferLine
	for _, in := range inputs {
		tx.repo.nextLine++
		lines = append(lines, TransferLine{
			ID:                tx.repo.nextLine,
			TransferID:        transferID,
			ProductID:         in.ProductID,
			QuantityRequested: in.QuantityRequested,
		})
	}
	tx.repo.lines[transferID] = lines
	return nil
}

func (tx *memoryTx) UpdateLineSent(ctx context.Context, lineID, quantity int64) error {
	for tid, lines := range tx.repo.lines {
		for i := range lines {
			if lines[i].ID == lineID {
				tx.repo.lines[tid][i].QuantitySent = quantity
				return nil
			}
		}
	}
	return ErrTransferNotFound
}

func (tx *memoryTx) UpdateLineReceived(ctx context.Context, lineID, quantity int64) error {
	for tid, lines := range tx.repo.lines {
		for i := range lines {
			if lines[i].ID == lineID {
				tx.repo.lines[tid][i].QuantityReceived = quantity
				return nil
			}
		}
	}
	return ErrTransferNotFound
}

func (tx *memoryTx) UpdateTransferStatus(ctx context.Context, id int64, status Status, note string) error {
	t, ok := tx.repo.transfers[id]
	if !ok {
		return ErrTransferNotFound
	}
	t.Status = status
	if note != "" {
		t.Note = note
	}
	t.UpdatedAt = time.Now()
	tx.repo.transfers[id] = t
	return nil
}

func (tx *memoryTx) LockStock(ctx context.Context, storeID, productID int64) (int64, bool, error) {
	qty, ok := tx.repo.stocks[skey(storeID, productID)]
	return qty, ok, nil
}

func (tx *memoryTx) SetStock(ctx context.Context, storeID, productID, quantity int64) error {
	tx.repo.stocks[skey(storeID, productID)] = quantity
	return nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, m inventory.StockMovement) error {
	tx.repo.movements = append(tx.repo.movements, m)
	return nil
}

func (tx *memoryTx) DeleteMovementsByReference(ctx context.Context, reference string) error {
	var kept []inventory.StockMovement
	for _, m := range tx.repo.movements {
		if m.Reference != reference {
			kept = append(kept, m)
		}
	}
	tx.repo.movements = kept
	return nil
}

func newTestService(repo *memoryRepo) *Service {
	return NewService(repo, nil, nil, nil)
}

func createDraft(t *testing.T, svc *Service, lines ...LineInput) Transfer {
	t.Helper()
	transfer, err := svc.Create(context.Background(), CreateInput{
		SourceStoreID: 1,
		DestStoreID:   2,
		Lines:         lines,
	})
	require.NoError(t, err)
	require.Equal(t, StatusDraft, transfer.Status)
	return transfer
}

func TestCreateValidation(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{SourceStoreID: 1, DestStoreID: 1, Lines: []LineInput{{ProductID: 1, QuantityRequested: 1}}})
	require.ErrorIs(t, err, ErrSameStore)

	_, err = svc.Create(ctx, CreateInput{SourceStoreID: 1, DestStoreID: 2})
	require.ErrorIs(t, err, ErrNoLines)

	_, err = svc.Create(ctx, CreateInput{SourceStoreID: 0, DestStoreID: 2, Lines: []LineInput{{ProductID: 1, QuantityRequested: 1}}})
	require.ErrorIs(t, err, ErrStoreRequired)
}

func TestDispatchMovesSourceStock(t *testing.T) {
	repo := newMemoryRepo()
	repo.stocks[skey(1, 10)] = 100
	svc := newTestService(repo)
	ctx := context.Background()

	transfer := createDraft(t, svc, LineInput{ProductID: 10, QuantityRequested: 30})

	updated, err := svc.Dispatch(ctx, transfer.ID, DispatchInput{})
	require.NoError(t, err)
	require.Equal(t, StatusInTransit, updated.Status)
	require.EqualValues(t, 70, repo.stocks[skey(1, 10)])
	require.EqualValues(t, 30, updated.Lines[0].QuantitySent)
	require.Len(t, repo.movements, 1)
	require.EqualValues(t, -30, repo.movements[0].Quantity)
	require.Equal(t, updated.Number, repo.movements[0].Reference)
}

func TestDispatchInsufficientStock(t *testing.T) {
	repo := newMemoryRepo()
	repo.stocks[skey(1, 10)] = 5
	svc := newTestService(repo)
	ctx := context.Background()

	transfer := createDraft(t, svc, LineInput{ProductID: 10, QuantityRequested: 30})

	_, err := svc.Dispatch(ctx, transfer.ID, DispatchInput{})
	require.ErrorIs(t, err, ErrInsufficientSourceStock)

	var shortfall *StockShortfallError
	require.ErrorAs(t, err, &shortfall)
	require.EqualValues(t, 10, shortfall.ProductID)
	require.EqualValues(t, 1, shortfall.StoreID)
	require.EqualValues(t, 5, shortfall.Current)
	require.EqualValues(t, 30, shortfall.Required)

	require.EqualValues(t, 5, repo.stocks[skey(1, 10)])
	got, err := repo.Get(ctx, transfer.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, got.Status)
}

func TestDispatchPartialSentQuantity(t *testing.T) {
	repo := newMemoryRepo()
	repo.stocks[skey(1, 10)] = 40
	svc := newTestService(repo)
	ctx := context.Background()

	transfer := createDraft(t, svc, LineInput{ProductID: 10, QuantityRequested: 50})
	lineID := transfer.Lines[0].ID

	updated, err := svc.Dispatch(ctx, transfer.ID, DispatchInput{SentQuantities: map[int64]int64{lineID: 40}})
	require.NoError(t, err)
	require.EqualValues(t, 40, updated.Lines[0].QuantitySent)
	require.EqualValues(t, 0, repo.stocks[skey(1, 10)])
}

func TestReceiveIncrementsDestination(t *testing.T) {
	repo := newMemoryRepo()
	repo.stocks[skey(1, 10)] = 100
	svc := newTestService(repo)
	ctx := context.Background()

	transfer := createDraft(t, svc, LineInput{ProductID: 10, QuantityRequested: 30})
	_, err := svc.Dispatch(ctx, transfer.ID, DispatchInput{})
	require.NoError(t, err)

	updated, err := svc.Receive(ctx, transfer.ID, ReceiveInput{})
	require.NoError(t, err)
	require.Equal(t, StatusReceived, updated.Status)
	require.EqualValues(t, 30, updated.Lines[0].QuantityReceived)
	require.EqualValues(t, 30, repo.stocks[skey(2, 10)])
	require.Len(t, repo.movements, 2)
}

func TestUpdateLockedAfterDispatch(t *testing.T) {
	repo := newMemoryRepo()
	repo.stocks[skey(1, 10)] = 100
	svc := newTestService(repo)
	ctx := context.Background()

	transfer := createDraft(t, svc, LineInput{ProductID: 10, QuantityRequested: 30})
	_, err := svc.Dispatch(ctx, transfer.ID, DispatchInput{})
	require.NoError(t, err)

	_, err = svc.Update(ctx, transfer.ID, UpdateInput{Lines: []LineInput{{ProductID: 10, QuantityRequested: 99}}})
	require.ErrorIs(t, err, ErrTransferLocked)

	var locked *LockedError
	require.ErrorAs(t, err, &locked)
	require.Equal(t, StatusInTransit, locked.Status)

	got, err := repo.Get(ctx, transfer.ID)
	require.NoError(t, err)
	require.EqualValues(t, 30, got.Lines[0].QuantityRequested)
}

func TestCancelDraftNoStockEffects(t *testing.T) {
	repo := newMemoryRepo()
	repo.stocks[skey(1, 10)] = 100
	svc := newTestService(repo)
	ctx := context.Background()

	transfer := createDraft(t, svc, LineInput{ProductID: 10, QuantityRequested: 30})

	updated, err := svc.Cancel(ctx, transfer.ID, 0)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, updated.Status)
	require.EqualValues(t, 100, repo.stocks[skey(1, 10)])
}

func TestCancelInTransitRestoresSourceExactly(t *testing.T) {
	repo := newMemoryRepo()
	repo.stocks[skey(1, 10)] = 100
	svc := newTestService(repo)
	ctx := context.Background()

	transfer := createDraft(t, svc, LineInput{ProductID: 10, QuantityRequested: 30})
	_, err := svc.Dispatch(ctx, transfer.ID, DispatchInput{})
	require.NoError(t, err)
	require.EqualValues(t, 70, repo.stocks[skey(1, 10)])

	updated, err := svc.Cancel(ctx, transfer.ID, 0)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, updated.Status)
	require.EqualValues(t, 100, repo.stocks[skey(1, 10)])
	require.Empty(t, repo.movements)
}

func TestCancelReceivedUsesReceivedNotSent(t *testing.T) {
	repo := newMemoryRepo()
	repo.stocks[skey(1, 10)] = 100
	svc := newTestService(repo)
	ctx := context.Background()

	transfer := createDraft(t, svc, LineInput{ProductID: 10, QuantityRequested: 50})
	_, err := svc.Dispatch(ctx, transfer.ID, DispatchInput{})
	require.NoError(t, err)
	require.EqualValues(t, 50, repo.stocks[skey(1, 10)])

	lineID := transfer.Lines[0].ID
	_, err = svc.Receive(ctx, transfer.ID, ReceiveInput{ReceivedQuantities: map[int64]int64{lineID: 48}})
	require.NoError(t, err)
	require.EqualValues(t, 48, repo.stocks[skey(2, 10)])

	updated, err := svc.Cancel(ctx, transfer.ID, 0)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, updated.Status)

	// the 2 lost in transit stay lost
	require.EqualValues(t, 98, repo.stocks[skey(1, 10)])
	require.EqualValues(t, 0, repo.stocks[skey(2, 10)])
	require.Empty(t, repo.movements)
}

func TestCancelReceivedInsufficientDestinationStock(t *testing.T) {
	repo := newMemoryRepo()
	repo.stocks[skey(1, 10)] = 100
	svc := newTestService(repo)
	ctx := context.Background()

	transfer := createDraft(t, svc, LineInput{ProductID: 10, QuantityRequested: 30})
	_, err := svc.Dispatch(ctx, transfer.ID, DispatchInput{})
	require.NoError(t, err)
	_, err = svc.Receive(ctx, transfer.ID, ReceiveInput{})
	require.NoError(t, err)

	// destination sold part of the received goods before cancellation
	repo.stocks[skey(2, 10)] = 20

	_, err = svc.Cancel(ctx, transfer.ID, 0)
	require.ErrorIs(t, err, ErrInsufficientStockToReverse)

	var shortfall *StockShortfallError
	require.ErrorAs(t, err, &shortfall)
	require.EqualValues(t, 10, shortfall.ProductID)
	require.EqualValues(t, 2, shortfall.StoreID)
	require.EqualValues(t, 20, shortfall.Current)
	require.EqualValues(t, 30, shortfall.Required)

	got, err := repo.Get(ctx, transfer.ID)
	require.NoError(t, err)
	require.Equal(t, StatusReceived, got.Status)
}

func TestCancelTwice(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	transfer := createDraft(t, svc, LineInput{ProductID: 10, QuantityRequested: 1})
	_, err := svc.Cancel(ctx, transfer.ID, 0)
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, transfer.ID, 0)
	require.ErrorIs(t, err, ErrAlreadyCancelled)
}

func TestDispatchFromNonDraftLocked(t *testing.T) {
	repo := newMemoryRepo()
	repo.stocks[skey(1, 10)] = 100
	svc := newTestService(repo)
	ctx := context.Background()

	transfer := createDraft(t, svc, LineInput{ProductID: 10, QuantityRequested: 10})
	_, err := svc.Dispatch(ctx, transfer.ID, DispatchInput{})
	require.NoError(t, err)

	_, err = svc.Dispatch(ctx, transfer.ID, DispatchInput{})
	require.ErrorIs(t, err, ErrTransferLocked)
	require.EqualValues(t, 90, repo.stocks[skey(1, 10)])
}
