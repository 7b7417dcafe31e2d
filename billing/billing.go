/*
Package billing implements the billing-cycle collaborator.

PURPOSE:
  Reads APPROVED supervised entries by trainee and month to produce client
  invoices, flips those entries to BILLED, and - when an invoice is paid -
  records the trainee payment and settles the supervisor's monthly
  commission aggregate.

  The core engine (package fieldwork) never generates invoices itself;
  this package is the external collaborator of that contract.

KEY TYPES (this file):
  Invoice:        one per trainee per month
  TraineePayment: a recorded client payment against an invoice
  Store:          persistence surface, layered on fieldwork.Store

SEE ALSO:
  - cycle.go: invoice generation, payment, settlement
  - fieldwork/payments.go: the aggregate settlement primitive
*/
package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/fieldwork-engine/fieldwork"
)

type InvoiceID string

type InvoiceStatus string

const (
	InvoiceDraft InvoiceStatus = "DRAFT"
	InvoiceSent  InvoiceStatus = "SENT"
	InvoicePaid  InvoiceStatus = "PAID"
)

// Invoice bills a trainee (the client) for a month of approved supervised
// hours. AmountDue is the sum of amountBilled over the entries invoiced.
type Invoice struct {
	ID         InvoiceID
	TraineeID  fieldwork.TraineeID
	Month      fieldwork.Month
	AmountDue  decimal.Decimal
	AmountPaid decimal.Decimal
	Status     InvoiceStatus
	IssuedAt   time.Time
	SentAt     *time.Time
	PaidAt     *time.Time
}

// PaymentMethod is how a trainee payment arrived.
type PaymentMethod string

const (
	PayCheck    PaymentMethod = "CHECK"
	PayCard     PaymentMethod = "CARD"
	PayTransfer PaymentMethod = "TRANSFER"
)

// TraineePayment records money received from a trainee.
type TraineePayment struct {
	ID        string
	TraineeID fieldwork.TraineeID
	InvoiceID InvoiceID
	Date      time.Time
	Amount    decimal.Decimal
	Method    PaymentMethod
	Notes     string
}

// =============================================================================
// STORE - Invoice persistence, layered on the core store
// =============================================================================

// Store is the invoice-side persistence surface. Implementations embed a
// fieldwork.Store so billing units of work can touch entries, aggregates,
// and invoices in one transaction.
type Store interface {
	fieldwork.Store

	// InvoiceByID returns fieldwork.ErrNotFound when missing.
	InvoiceByID(ctx context.Context, id InvoiceID) (*Invoice, error)

	// InvoiceForMonth returns the trainee's invoice for a month, or
	// fieldwork.ErrNotFound. At most one exists per (trainee, month).
	InvoiceForMonth(ctx context.Context, traineeID fieldwork.TraineeID, m fieldwork.Month) (*Invoice, error)

	InsertInvoice(ctx context.Context, inv *Invoice) error
	UpdateInvoice(ctx context.Context, inv *Invoice) error

	InsertTraineePayment(ctx context.Context, p *TraineePayment) error
}
