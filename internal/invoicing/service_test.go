package invoicing

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	invoices  map[int64]Invoice
	payments  []Payment
	nextID    int64
	nextPayID int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{invoices: make(map[int64]Invoice)}
}

func (r *memoryRepo) addInvoice(customerID int64, total string, issueDate string) Invoice {
	r.nextID++
	amount := decimal.RequireFromString(total)
	issued, _ := time.Parse("2006-01-02", issueDate)
	inv := Invoice{
		ID:          r.nextID,
		Number:      "INV-" + issueDate,
		CustomerID:  customerID,
		TotalAmount: amount,
		PaidAmount:  decimal.Zero,
		Status:      StatusSent,
		IssueDate:   issued,
		DueDate:     issued.AddDate(0, 0, 30),
	}
	r.invoices[inv.ID] = inv
	return inv
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) CreateInvoice(ctx context.Context, input InvoiceInput) (Invoice, error) {
	r.nextID++
	inv := Invoice{
		ID:          r.nextID,
		CustomerID:  input.CustomerID,
		TotalAmount: input.TotalAmount,
		PaidAmount:  decimal.Zero,
		Status:      input.Status,
		IssueDate:   input.IssueDate,
		DueDate:     input.DueDate,
	}
	r.invoices[inv.ID] = inv
	return inv, nil
}

func (r *memoryRepo) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	inv, ok := r.invoices[id]
	if !ok {
		return Invoice{}, ErrInvoiceNotFound
	}
	return inv, nil
}

func (r *memoryRepo) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, int, error) {
	var result []Invoice
	for _, inv := range r.invoices {
		result = append(result, inv)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, len(result), nil
}

func (r *memoryRepo) ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error) {
	var result []Payment
	for _, p := range r.payments {
		if p.InvoiceID == invoiceID {
			result = append(result, p)
		}
	}
	return result, nil
}

func (r *memoryRepo) Aging(ctx context.Context, asOf time.Time) ([]AgingBucket, error) {
	return nil, nil
}

func (r *memoryRepo) CustomerStats(ctx context.Context, customerID int64) (CustomerStats, error) {
	stats := CustomerStats{CustomerID: customerID, TotalBilled: decimal.Zero, TotalPaid: decimal.Zero}
	for _, inv := range r.invoices {
		if inv.CustomerID != customerID || inv.Status == StatusCancelled {
			continue
		}
		stats.InvoiceCount++
		stats.TotalBilled = stats.TotalBilled.Add(inv.TotalAmount)
		stats.TotalPaid = stats.TotalPaid.Add(inv.PaidAmount)
	}
	stats.Outstanding = stats.TotalBilled.Sub(stats.TotalPaid)
	return stats, nil
}

func (tx *memoryTx) LockCustomer(ctx context.Context, customerID int64) error {
	return nil
}

func (tx *memoryTx) ListOutstandingForUpdate(ctx context.Context, customerID int64) ([]Invoice, error) {
	var result []Invoice
	for _, inv := range tx.repo.invoices {
		if inv.CustomerID != customerID || !inv.Status.IsOutstanding() {
			continue
		}
		if inv.TotalAmount.GreaterThan(inv.PaidAmount) {
			result = append(result, inv)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].IssueDate.Equal(result[j].IssueDate) {
			return result[i].IssueDate.Before(result[j].IssueDate)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (tx *memoryTx) GetInvoiceForUpdate(ctx context.Context, invoiceID int64) (Invoice, error) {
	return tx.repo.GetInvoice(ctx, invoiceID)
}

func (tx *memoryTx) SumPayments(ctx context.Context, invoiceID int64) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, p := range tx.repo.payments {
		if p.InvoiceID == invoiceID {
			sum = sum.Add(p.Amount)
		}
	}
	return sum, nil
}

func (tx *memoryTx) InsertPayment(ctx context.Context, p Payment) (int64, error) {
	tx.repo.nextPayID++
	p.ID = tx.repo.nextPayID
	tx.repo.payments = append(tx.repo.payments, p)
	return p.ID, nil
}

func (tx *memoryTx) UpdateInvoicePaid(ctx context.Context, invoiceID int64, paid decimal.Decimal, status InvoiceStatus) error {
	inv, ok := tx.repo.invoices[invoiceID]
	if !ok {
		return ErrInvoiceNotFound
	}
	inv.PaidAmount = paid
	inv.Status = status
	tx.repo.invoices[invoiceID] = inv
	return nil
}

func newTestService(repo *memoryRepo) *Service {
	return NewService(repo, nil, nil, nil, nil, nil)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestSettleRejectsNonPositiveAmount(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()

	_, err := svc.SettleCustomerDebt(ctx, 1, decimal.Zero, 0)
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.SettleCustomerDebt(ctx, 1, dec("-10"), 0)
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestSettleOldestFirstPartial(t *testing.T) {
	repo := newMemoryRepo()
	inv1 := repo.addInvoice(1, "50000", "2026-01-05")
	inv2 := repo.addInvoice(1, "80000", "2026-02-05")
	inv3 := repo.addInvoice(1, "70000", "2026-03-05")
	inv4 := repo.addInvoice(1, "60000", "2026-04-05")
	svc := newTestService(repo)

	result, err := svc.SettleCustomerDebt(context.Background(), 1, dec("60000"), 0)
	require.NoError(t, err)

	require.Len(t, result.Applied, 2)
	require.Equal(t, inv1.ID, result.Applied[0].InvoiceID)
	require.True(t, result.Applied[0].Amount.Equal(dec("50000")))
	require.Equal(t, inv2.ID, result.Applied[1].InvoiceID)
	require.True(t, result.Applied[1].Amount.Equal(dec("10000")))
	require.True(t, result.UnappliedRemainder.IsZero())

	require.Equal(t, StatusPaid, repo.invoices[inv1.ID].Status)
	require.True(t, repo.invoices[inv2.ID].Outstanding().Equal(dec("70000")))
	require.Equal(t, StatusSent, repo.invoices[inv2.ID].Status)
	require.True(t, repo.invoices[inv3.ID].PaidAmount.IsZero())
	require.True(t, repo.invoices[inv4.ID].PaidAmount.IsZero())
}

func TestSettleOverpaymentReturnsRemainder(t *testing.T) {
	repo := newMemoryRepo()
	repo.addInvoice(1, "150000.25", "2026-01-05")
	repo.addInvoice(1, "120000.50", "2026-02-05")
	repo.addInvoice(1, "133100.25", "2026-03-05")
	svc := newTestService(repo)

	// total outstanding 403101, paid 488066, leftover 84965
	result, err := svc.SettleCustomerDebt(context.Background(), 1, dec("488066"), 0)
	require.NoError(t, err)

	require.Len(t, result.Applied, 3)
	require.True(t, result.UnappliedRemainder.Equal(dec("84965")))
	for _, inv := range repo.invoices {
		require.Equal(t, StatusPaid, inv.Status)
		require.True(t, inv.PaidAmount.Equal(inv.TotalAmount))
	}
}

func TestSettleConservation(t *testing.T) {
	repo := newMemoryRepo()
	repo.addInvoice(1, "19.99", "2026-01-05")
	repo.addInvoice(1, "45.01", "2026-01-06")
	repo.addInvoice(1, "103.37", "2026-01-07")
	svc := newTestService(repo)

	payment := dec("100.15")
	result, err := svc.SettleCustomerDebt(context.Background(), 1, payment, 0)
	require.NoError(t, err)

	applied := decimal.Zero
	for _, a := range result.Applied {
		applied = applied.Add(a.Amount)
	}
	require.True(t, applied.Add(result.UnappliedRemainder).Equal(payment))

	for _, inv := range repo.invoices {
		require.True(t, inv.PaidAmount.GreaterThanOrEqual(decimal.Zero))
		require.True(t, inv.PaidAmount.LessThanOrEqual(inv.TotalAmount))
	}
}

func TestSettleSuccessiveCallsSeeFreshBalances(t *testing.T) {
	repo := newMemoryRepo()
	inv := repo.addInvoice(1, "100", "2026-01-05")
	svc := newTestService(repo)
	ctx := context.Background()

	first, err := svc.SettleCustomerDebt(ctx, 1, dec("60"), 0)
	require.NoError(t, err)
	require.True(t, first.UnappliedRemainder.IsZero())
	require.Equal(t, StatusSent, repo.invoices[inv.ID].Status)

	second, err := svc.SettleCustomerDebt(ctx, 1, dec("60"), 0)
	require.NoError(t, err)
	require.Len(t, second.Applied, 1)
	require.True(t, second.Applied[0].Amount.Equal(dec("40")))
	require.True(t, second.UnappliedRemainder.Equal(dec("20")))
	require.Equal(t, StatusPaid, repo.invoices[inv.ID].Status)
	require.True(t, repo.invoices[inv.ID].PaidAmount.Equal(dec("100")))
}

func TestSettleSkipsCancelledAndPaid(t *testing.T) {
	repo := newMemoryRepo()
	cancelled := repo.addInvoice(1, "100", "2026-01-01")
	c := repo.invoices[cancelled.ID]
	c.Status = StatusCancelled
	repo.invoices[cancelled.ID] = c
	open := repo.addInvoice(1, "50", "2026-01-02")
	svc := newTestService(repo)

	result, err := svc.SettleCustomerDebt(context.Background(), 1, dec("80"), 0)
	require.NoError(t, err)
	require.Len(t, result.Applied, 1)
	require.Equal(t, open.ID, result.Applied[0].InvoiceID)
	require.True(t, result.UnappliedRemainder.Equal(dec("30")))
	require.True(t, repo.invoices[cancelled.ID].PaidAmount.IsZero())
}

func TestSettleNoOutstandingDebt(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	result, err := svc.SettleCustomerDebt(context.Background(), 1, dec("500"), 0)
	require.NoError(t, err)
	require.Empty(t, result.Applied)
	require.True(t, result.UnappliedRemainder.Equal(dec("500")))
}

func TestRecordPayment(t *testing.T) {
	repo := newMemoryRepo()
	inv := repo.addInvoice(1, "200", "2026-01-05")
	svc := newTestService(repo)
	ctx := context.Background()

	updated, err := svc.RecordPayment(ctx, inv.ID, dec("150"), "cash", "", 0)
	require.NoError(t, err)
	require.True(t, updated.PaidAmount.Equal(dec("150")))
	require.Equal(t, StatusSent, updated.Status)

	_, err = svc.RecordPayment(ctx, inv.ID, dec("60"), "cash", "", 0)
	require.ErrorIs(t, err, ErrAmountExceedsBalance)

	updated, err = svc.RecordPayment(ctx, inv.ID, dec("50"), "cash", "", 0)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, updated.Status)
	require.True(t, updated.PaidAmount.Equal(updated.TotalAmount))

	_, err = svc.RecordPayment(ctx, inv.ID, dec("1"), "cash", "", 0)
	require.ErrorIs(t, err, ErrInvoiceNotOutstanding)
}

func TestCreateInvoiceValidation(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.CreateInvoice(ctx, InvoiceInput{CustomerID: 0, TotalAmount: dec("10")})
	require.ErrorIs(t, err, ErrCustomerNotFound)

	_, err = svc.CreateInvoice(ctx, InvoiceInput{CustomerID: 1, TotalAmount: decimal.Zero})
	require.ErrorIs(t, err, ErrInvalidAmount)

	inv, err := svc.CreateInvoice(ctx, InvoiceInput{CustomerID: 1, TotalAmount: dec("10")})
	require.NoError(t, err)
	require.Equal(t, StatusSent, inv.Status)
	require.False(t, inv.DueDate.IsZero())
}
