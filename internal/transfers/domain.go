package transfers

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a stock transfer.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusInTransit Status = "in_transit"
	StatusReceived  Status = "received"
	StatusCancelled Status = "cancelled"
)

// IsValid reports whether the status is a known state.
func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusInTransit, StatusReceived, StatusCancelled:
		return true
	}
	return false
}

// CanEdit reports whether transfer lines may still be modified.
func (s Status) CanEdit() bool {
	return s == StatusDraft
}

// CanCancel reports whether the transfer may still be cancelled.
func (s Status) CanCancel() bool {
	return s != StatusCancelled
}

// Transfer moves stock from one store to another through a strict
// draft, in_transit, received lifecycle. Cancellation is terminal.
type Transfer struct {
	ID            int64          `json:"id"`
	Number        string         `json:"number"`
	SourceStoreID int64          `json:"source_store_id"`
	DestStoreID   int64          `json:"dest_store_id"`
	TransferDate  time.Time      `json:"transfer_date"`
	Status        Status         `json:"status"`
	Note          string         `json:"note"`
	CreatedBy     int64          `json:"created_by"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DispatchedAt  *time.Time     `json:"dispatched_at,omitempty"`
	ReceivedAt    *time.Time     `json:"received_at,omitempty"`
	CancelledAt   *time.Time     `json:"cancelled_at,omitempty"`
	Lines         []TransferLine `json:"lines,omitempty"`
}

// TransferLine carries the three quantities of one product on a transfer.
// Requested is set at draft time, sent at dispatch, received at receipt.
type TransferLine struct {
	ID                int64 `json:"id"`
	TransferID        int64 `json:"transfer_id"`
	ProductID         int64 `json:"product_id"`
	QuantityRequested int64 `json:"quantity_requested"`
	QuantitySent      int64 `json:"quantity_sent"`
	QuantityReceived  int64 `json:"quantity_received"`
}

// LineInput describes one requested line at create or update time.
type LineInput struct {
	ProductID         int64 `json:"product_id" validate:"required,gt=0"`
	QuantityRequested int64 `json:"quantity_requested" validate:"required,gt=0"`
}

// CreateInput describes a new draft transfer.
type CreateInput struct {
	SourceStoreID int64
	DestStoreID   int64
	TransferDate  time.Time
	Note          string
	Lines         []LineInput
	ActorID       int64
}

// UpdateInput replaces the draft's lines and note.
type UpdateInput struct {
	Note    string
	Lines   []LineInput
	ActorID int64
}

// DispatchInput sets per-line sent quantities, keyed by line id.
// Lines absent from the map dispatch their requested quantity.
type DispatchInput struct {
	SentQuantities map[int64]int64
	ActorID        int64
}

// ReceiveInput sets per-line received quantities, keyed by line id.
// Lines absent from the map receive their sent quantity.
type ReceiveInput struct {
	ReceivedQuantities map[int64]int64
	ActorID            int64
}

// ListFilter narrows transfer listings.
type ListFilter struct {
	Status  Status
	StoreID *int64
	Limit   int
	Offset  int
}

var (
	ErrTransferNotFound = errors.New("transfers: transfer not found")
	// ErrTransferLocked indicates the transfer left draft and can no longer be edited.
	ErrTransferLocked = errors.New("transfers: transfer is locked")
	// ErrAlreadyCancelled indicates a cancel on an already cancelled transfer.
	ErrAlreadyCancelled = errors.New("transfers: transfer already cancelled")
	// ErrInsufficientSourceStock indicates dispatch would drive source stock negative.
	ErrInsufficientSourceStock = errors.New("transfers: insufficient source stock")
	// ErrInsufficientStockToReverse indicates cancellation would drive destination stock negative.
	ErrInsufficientStockToReverse = errors.New("transfers: insufficient stock to reverse")
	ErrSameStore                  = errors.New("transfers: source and destination must differ")
	ErrStoreRequired              = errors.New("transfers: source and destination stores required")
	ErrNoLines                    = errors.New("transfers: at least one line with a positive quantity required")
)

// LockedError reports the current status blocking an edit or transition.
type LockedError struct {
	Status Status
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("transfers: transfer is locked in status %q", e.Status)
}

func (e *LockedError) Unwrap() error { return ErrTransferLocked }

// StockShortfallError reports the exact shortfall blocking a stock mutation.
type StockShortfallError struct {
	ProductID int64
	StoreID   int64
	Current   int64
	Required  int64
	Reverse   bool
}

func (e *StockShortfallError) Error() string {
	if e.Reverse {
		return fmt.Sprintf("transfers: cannot reverse product %d at store %d: have %d, need %d",
			e.ProductID, e.StoreID, e.Current, e.Required)
	}
	return fmt.Sprintf("transfers: insufficient stock for product %d at store %d: have %d, need %d",
		e.ProductID, e.StoreID, e.Current, e.Required)
}

func (e *StockShortfallError) Unwrap() error {
	if e.Reverse {
		return ErrInsufficientStockToReverse
	}
	return ErrInsufficientSourceStock
}
