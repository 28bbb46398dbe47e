package invoicing

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus is the billing state of an invoice.
type InvoiceStatus string

const (
	StatusDraft     InvoiceStatus = "draft"
	StatusSent      InvoiceStatus = "sent"
	StatusPaid      InvoiceStatus = "paid"
	StatusOverdue   InvoiceStatus = "overdue"
	StatusCancelled InvoiceStatus = "cancelled"
)

// IsValid reports whether the status is a known state.
func (s InvoiceStatus) IsValid() bool {
	switch s {
	case StatusDraft, StatusSent, StatusPaid, StatusOverdue, StatusCancelled:
		return true
	}
	return false
}

// IsOutstanding reports whether the invoice can still receive payments.
func (s InvoiceStatus) IsOutstanding() bool {
	return s != StatusPaid && s != StatusCancelled
}

// Invoice is a customer receivable. PaidAmount is derived from the sum of
// its payments and verified against it on every settlement write.
type Invoice struct {
	ID          int64           `json:"id"`
	Number      string          `json:"number"`
	CustomerID  int64           `json:"customer_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	PaidAmount  decimal.Decimal `json:"paid_amount"`
	Status      InvoiceStatus   `json:"status"`
	IssueDate   time.Time       `json:"issue_date"`
	DueDate     time.Time       `json:"due_date"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Outstanding is the invoice's unpaid balance.
func (i Invoice) Outstanding() decimal.Decimal {
	return i.TotalAmount.Sub(i.PaidAmount)
}

// Payment is the immutable ledger record of one allocation.
type Payment struct {
	ID        int64           `json:"id"`
	InvoiceID int64           `json:"invoice_id"`
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method"`
	Reference string          `json:"reference"`
	PaidAt    time.Time       `json:"paid_at"`
	CreatedBy int64           `json:"created_by"`
}

// Allocation is one (invoice, amount) pair produced by a settlement.
type Allocation struct {
	InvoiceID     int64           `json:"invoice_id"`
	InvoiceNumber string          `json:"invoice_number"`
	Amount        decimal.Decimal `json:"amount"`
}

// SettlementResult reports where a payment went. The unapplied remainder is
// whatever the customer's outstanding debt could not absorb; it is never
// applied anywhere and the caller decides what to do with it.
type SettlementResult struct {
	Applied            []Allocation    `json:"applied"`
	UnappliedRemainder decimal.Decimal `json:"unapplied_remainder"`
}

// InvoiceInput describes a new invoice.
type InvoiceInput struct {
	CustomerID  int64
	TotalAmount decimal.Decimal
	Status      InvoiceStatus
	IssueDate   time.Time
	DueDate     time.Time
	ActorID     int64
}

// InvoiceFilter narrows invoice listings.
type InvoiceFilter struct {
	CustomerID *int64
	Status     InvoiceStatus
	Limit      int
	Offset     int
}

// AgingBucket is one receivables aging band.
type AgingBucket struct {
	Label       string          `json:"label"`
	Outstanding decimal.Decimal `json:"outstanding"`
	Count       int             `json:"count"`
}

// CustomerStats summarises a customer's billing position.
type CustomerStats struct {
	CustomerID   int64           `json:"customer_id"`
	InvoiceCount int             `json:"invoice_count"`
	TotalBilled  decimal.Decimal `json:"total_billed"`
	TotalPaid    decimal.Decimal `json:"total_paid"`
	Outstanding  decimal.Decimal `json:"outstanding"`
}

var (
	// ErrInvalidAmount indicates a non-positive payment amount.
	ErrInvalidAmount = errors.New("invoicing: payment amount must be positive")
	// ErrAmountExceedsBalance indicates a single-invoice payment larger than the outstanding balance.
	ErrAmountExceedsBalance = errors.New("invoicing: amount exceeds outstanding balance")
	ErrInvoiceNotFound       = errors.New("invoicing: invoice not found")
	ErrCustomerNotFound      = errors.New("invoicing: customer not found")
	ErrInvoiceNotOutstanding = errors.New("invoicing: invoice is not outstanding")
)
