package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTransferNotify notifies store staff about a transfer transition.
	TaskTransferNotify = "transfer:notify"
	// TaskPaymentReceipt acknowledges a settled payment to the customer.
	TaskPaymentReceipt = "invoice:payment_receipt"
)

// TransferNotifyPayload describes a transfer transition event.
type TransferNotifyPayload struct {
	TransferID int64  `json:"transfer_id"`
	Number     string `json:"number"`
	Action     string `json:"action"`
}

// PaymentReceiptPayload describes a settled payment batch.
type PaymentReceiptPayload struct {
	CustomerID     int64    `json:"customer_id"`
	InvoiceNumbers []string `json:"invoice_numbers"`
	Amount         string   `json:"amount"`
}

// NewTransferNotifyTask constructs an Asynq task.
func NewTransferNotifyTask(payload TransferNotifyPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTransferNotify, data), nil
}

// NewPaymentReceiptTask constructs an Asynq task.
func NewPaymentReceiptTask(payload PaymentReceiptPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPaymentReceipt, data), nil
}

// HandleTransferNotifyTask processes TaskTransferNotify tasks.
// TODO: deliver through the store messaging channel once one is provisioned.
func HandleTransferNotifyTask(ctx context.Context, t *asynq.Task) error {
	var payload TransferNotifyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	slog.Info("transfer notification",
		slog.Int64("transfer_id", payload.TransferID),
		slog.String("number", payload.Number),
		slog.String("action", payload.Action))
	return nil
}

// HandlePaymentReceiptTask processes TaskPaymentReceipt tasks.
func HandlePaymentReceiptTask(ctx context.Context, t *asynq.Task) error {
	var payload PaymentReceiptPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	slog.Info("payment receipt",
		slog.Int64("customer_id", payload.CustomerID),
		slog.Int("invoices", len(payload.InvoiceNumbers)),
		slog.String("amount", payload.Amount))
	return nil
}

// TransferNotifier adapts Client to the transfers service port.
type TransferNotifier struct {
	client *Client
}

// NewTransferNotifier wraps client; a nil client yields a no-op notifier.
func NewTransferNotifier(client *Client) *TransferNotifier {
	return &TransferNotifier{client: client}
}

// NotifyTransfer enqueues a transfer transition notification.
func (n *TransferNotifier) NotifyTransfer(ctx context.Context, transferID int64, number string, action string) error {
	if n == nil || n.client == nil {
		return nil
	}
	task, err := NewTransferNotifyTask(TransferNotifyPayload{
		TransferID: transferID,
		Number:     number,
		Action:     action,
	})
	if err != nil {
		return err
	}
	_, err = n.client.Enqueue(ctx, task)
	return err
}

// PaymentNotifier adapts Client to the invoicing service port.
type PaymentNotifier struct {
	client *Client
}

// NewPaymentNotifier wraps client; a nil client yields a no-op notifier.
func NewPaymentNotifier(client *Client) *PaymentNotifier {
	return &PaymentNotifier{client: client}
}

// NotifyPaymentReceipt enqueues a payment receipt notification.
func (n *PaymentNotifier) NotifyPaymentReceipt(ctx context.Context, customerID int64, invoiceNumbers []string, amount decimal.Decimal) error {
	if n == nil || n.client == nil {
		return nil
	}
	task, err := NewPaymentReceiptTask(PaymentReceiptPayload{
		CustomerID:     customerID,
		InvoiceNumbers: invoiceNumbers,
		Amount:         amount.String(),
	})
	if err != nil {
		return err
	}
	_, err = n.client.Enqueue(ctx, task)
	return err
}
