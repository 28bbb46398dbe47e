package invoicing

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/comptoir-erp/comptoir/internal/observability"
	"github.com/comptoir-erp/comptoir/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	CreateInvoice(ctx context.Context, input InvoiceInput) (Invoice, error)
	GetInvoice(ctx context.Context, id int64) (Invoice, error)
	ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, int, error)
	ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error)
	Aging(ctx context.Context, asOf time.Time) ([]AgingBucket, error)
	CustomerStats(ctx context.Context, customerID int64) (CustomerStats, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Notifier enqueues payment receipt notifications. Nil-safe by contract.
type Notifier interface {
	NotifyPaymentReceipt(ctx context.Context, customerID int64, invoiceNumbers []string, amount decimal.Decimal) error
}

// Service coordinates invoicing and debt settlement.
type Service struct {
	repo     RepositoryPort
	logger   *slog.Logger
	audit    AuditPort
	stats    *StatsCache
	notifier Notifier
	metrics  *observability.Metrics
}

// NewService builds Service. audit, stats, notifier and metrics may be nil.
func NewService(repo RepositoryPort, logger *slog.Logger, audit AuditPort, stats *StatsCache, notifier Notifier, metrics *observability.Metrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger, audit: audit, stats: stats, notifier: notifier, metrics: metrics}
}

// CreateInvoice opens a new invoice for a customer.
func (s *Service) CreateInvoice(ctx context.Context, input InvoiceInput) (Invoice, error) {
	if input.CustomerID <= 0 {
		return Invoice{}, ErrCustomerNotFound
	}
	if input.TotalAmount.Sign() <= 0 {
		return Invoice{}, ErrInvalidAmount
	}
	if input.Status == "" {
		input.Status = StatusSent
	}
	if !input.Status.IsValid() || input.Status == StatusPaid || input.Status == StatusCancelled {
		return Invoice{}, ErrInvoiceNotOutstanding
	}
	if input.IssueDate.IsZero() {
		input.IssueDate = time.Now().UTC()
	}
	if input.DueDate.IsZero() {
		input.DueDate = input.IssueDate.AddDate(0, 0, 30)
	}
	invoice, err := s.repo.CreateInvoice(ctx, input)
	if err != nil {
		return Invoice{}, err
	}
	s.invalidateStats(ctx, input.CustomerID)
	return invoice, nil
}

// GetInvoice loads one invoice.
func (s *Service) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	return s.repo.GetInvoice(ctx, id)
}

// ListInvoices returns invoices matching filter.
func (s *Service) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, int, error) {
	return s.repo.ListInvoices(ctx, filter)
}

// ListPayments returns the payments recorded against one invoice.
func (s *Service) ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error) {
	return s.repo.ListPayments(ctx, invoiceID)
}

// RecordPayment applies a payment to a single invoice. The amount may not
// exceed the invoice's outstanding balance; use SettleCustomerDebt to spread
// a payment across a customer's invoices.
func (s *Service) RecordPayment(ctx context.Context, invoiceID int64, amount decimal.Decimal, method, reference string, actorID int64) (Invoice, error) {
	if amount.Sign() <= 0 {
		return Invoice{}, ErrInvalidAmount
	}
	var customerID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		invoice, err := tx.GetInvoiceForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if !invoice.Status.IsOutstanding() {
			return ErrInvoiceNotOutstanding
		}
		customerID = invoice.CustomerID
		paid, err := tx.SumPayments(ctx, invoiceID)
		if err != nil {
			return err
		}
		balance := invoice.TotalAmount.Sub(paid)
		if amount.GreaterThan(balance) {
			return ErrAmountExceedsBalance
		}
		if _, err := tx.InsertPayment(ctx, Payment{
			InvoiceID: invoiceID,
			Amount:    amount,
			Method:    method,
			Reference: reference,
			PaidAt:    time.Now().UTC(),
			CreatedBy: actorID,
		}); err != nil {
			return err
		}
		newPaid := paid.Add(amount)
		status := invoice.Status
		if newPaid.Equal(invoice.TotalAmount) {
			status = StatusPaid
		}
		return tx.UpdateInvoicePaid(ctx, invoiceID, newPaid, status)
	})
	if err != nil {
		return Invoice{}, err
	}
	s.invalidateStats(ctx, customerID)
	s.recordAudit(ctx, actorID, "invoicing.payment", invoiceID, map[string]any{"amount": amount.String()})
	return s.repo.GetInvoice(ctx, invoiceID)
}

// SettleCustomerDebt distributes one payment across the customer's
// outstanding invoices, oldest issue date first, ids ascending on ties.
// The customer row and every candidate invoice are locked before any
// balance is read. Each step recomputes the invoice balance from its
// persisted payments so earlier allocations in the same call are seen.
// Whatever the debt cannot absorb is returned as the unapplied remainder.
// The sum of allocations plus the remainder always equals the payment.
func (s *Service) SettleCustomerDebt(ctx context.Context, customerID int64, amount decimal.Decimal, actorID int64) (SettlementResult, error) {
	if amount.Sign() <= 0 {
		s.observeSettlement("invalid")
		return SettlementResult{}, ErrInvalidAmount
	}

	var result SettlementResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockCustomer(ctx, customerID); err != nil {
			return err
		}
		invoices, err := tx.ListOutstandingForUpdate(ctx, customerID)
		if err != nil {
			return err
		}

		remaining := amount
		applied := make([]Allocation, 0, len(invoices))
		now := time.Now().UTC()

		for _, invoice := range invoices {
			if remaining.Sign() == 0 {
				break
			}
			paid, err := tx.SumPayments(ctx, invoice.ID)
			if err != nil {
				return err
			}
			balance := invoice.TotalAmount.Sub(paid)
			allocation := decimal.Min(remaining, balance)
			if allocation.Sign() <= 0 {
				continue
			}
			if _, err := tx.InsertPayment(ctx, Payment{
				InvoiceID: invoice.ID,
				Amount:    allocation,
				Method:    "settlement",
				PaidAt:    now,
				CreatedBy: actorID,
			}); err != nil {
				return err
			}
			newPaid := paid.Add(allocation)
			status := invoice.Status
			if newPaid.Equal(invoice.TotalAmount) {
				status = StatusPaid
			}
			if err := tx.UpdateInvoicePaid(ctx, invoice.ID, newPaid, status); err != nil {
				return err
			}
			applied = append(applied, Allocation{
				InvoiceID:     invoice.ID,
				InvoiceNumber: invoice.Number,
				Amount:        allocation,
			})
			remaining = remaining.Sub(allocation)
		}

		result = SettlementResult{Applied: applied, UnappliedRemainder: remaining}
		return nil
	})
	if err != nil {
		s.observeSettlement("error")
		return SettlementResult{}, err
	}
	s.observeSettlement("ok")
	s.invalidateStats(ctx, customerID)

	appliedTotal := amount.Sub(result.UnappliedRemainder)
	s.recordAudit(ctx, actorID, "invoicing.settlement", customerID, map[string]any{
		"amount":    amount.String(),
		"applied":   appliedTotal.String(),
		"remainder": result.UnappliedRemainder.String(),
	})
	if s.notifier != nil && len(result.Applied) > 0 {
		numbers := make([]string, 0, len(result.Applied))
		for _, a := range result.Applied {
			numbers = append(numbers, a.InvoiceNumber)
		}
		if err := s.notifier.NotifyPaymentReceipt(ctx, customerID, numbers, appliedTotal); err != nil {
			s.logger.Warn("payment receipt enqueue failed",
				slog.Int64("customer_id", customerID),
				slog.Any("error", err))
		}
	}
	return result, nil
}

// Aging buckets all outstanding receivables by days overdue.
func (s *Service) Aging(ctx context.Context) ([]AgingBucket, error) {
	return s.repo.Aging(ctx, time.Now().UTC())
}

// Stats returns the customer's billing summary, cached when a cache is wired.
func (s *Service) Stats(ctx context.Context, customerID int64) (CustomerStats, error) {
	if s.stats == nil {
		return s.repo.CustomerStats(ctx, customerID)
	}
	return s.stats.Get(ctx, customerID, func(ctx context.Context) (CustomerStats, error) {
		return s.repo.CustomerStats(ctx, customerID)
	})
}

func (s *Service) observeSettlement(outcome string) {
	s.metrics.ObserveSettlement(outcome)
}

func (s *Service) invalidateStats(ctx context.Context, customerID int64) {
	if s.stats == nil {
		return
	}
	if err := s.stats.Invalidate(ctx, customerID); err != nil {
		s.logger.Warn("stats invalidation failed", slog.Int64("customer_id", customerID), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	entity := "invoice"
	if action == "invoicing.settlement" {
		entity = "customer"
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
	})
}
