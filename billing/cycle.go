/*
cycle.go - Invoice generation, payment, and commission settlement

FLOW:
  GenerateMonth: for every ACTIVE trainee with APPROVED supervised hours in
  the month, create one SENT invoice for the sum of amountBilled and flip
  those entries APPROVED -> BILLED. Trainees already invoiced this month
  are skipped, so the run is safe to repeat.

  MarkPaid: record the trainee payment, mark the invoice PAID, then settle
  the supervisor's commission on the paid amount against the invoice
  month's aggregate (balanceDue down, paid counters up). A trainee with no
  supervisor settles nothing.

ATOMICITY:
  Each trainee's invoice + entry flips commit as one unit; MarkPaid's
  invoice update, payment record, and aggregate settlement likewise. The
  core TxStore is the transaction boundary; the store view is asserted to
  the billing Store surface inside the unit of work.
*/
package billing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/fieldwork-engine/fieldwork"
)

// Cycle runs the billing side of the system.
type Cycle struct {
	Store    fieldwork.TxStore // must also implement billing.Store
	Rates    fieldwork.RateResolver
	Settings fieldwork.SettingsSource
	Audit    fieldwork.AuditSink

	NewID func() InvoiceID
	Now   func() time.Time
}

func NewCycle(store fieldwork.TxStore, settings fieldwork.SettingsSource, audit fieldwork.AuditSink) *Cycle {
	if audit == nil {
		audit = fieldwork.NopAudit{}
	}
	return &Cycle{
		Store:    store,
		Settings: settings,
		Audit:    audit,
		NewID:    func() InvoiceID { return InvoiceID(fmt.Sprintf("inv-%d", time.Now().UnixNano())) },
		Now:      time.Now,
	}
}

// GenerateMonth creates invoices for every active trainee with approved
// supervised hours in the month. Returns the number of invoices created.
func (c *Cycle) GenerateMonth(ctx context.Context, actor fieldwork.Identity, m fieldwork.Month) (int, error) {
	if !actor.CanManageInvoices() {
		return 0, fmt.Errorf("role %s cannot generate invoices: %w", actor.Role, fieldwork.ErrUnauthorized)
	}

	trainees, err := c.Store.ActiveTrainees(ctx)
	if err != nil {
		return 0, &fieldwork.PersistenceError{Op: "list trainees", Err: err}
	}

	created := 0
	for i := range trainees {
		trainee := trainees[i]
		made, err := c.invoiceTrainee(ctx, trainee.ID, m)
		if err != nil {
			return created, err
		}
		if made != nil {
			created++
			c.emit(ctx, fieldwork.AuditEvent{
				At: c.Now().UTC(), ActorID: actor.UserID,
				Entity: "Invoice", EntityID: string(made.ID), Action: "BILL",
				After: map[string]string{
					"trainee":   string(trainee.ID),
					"month":     m.String(),
					"amountDue": made.AmountDue.StringFixed(2),
				},
			})
		}
	}
	return created, nil
}

// invoiceTrainee creates one invoice and flips its entries, atomically.
// Returns nil without error when the trainee has nothing to invoice or is
// already invoiced for the month.
func (c *Cycle) invoiceTrainee(ctx context.Context, traineeID fieldwork.TraineeID, m fieldwork.Month) (*Invoice, error) {
	var made *Invoice

	err := c.Store.WithTx(ctx, func(s fieldwork.Store) error {
		bs, ok := s.(Store)
		if !ok {
			return fieldwork.ErrStoreRequired
		}

		if _, err := bs.InvoiceForMonth(ctx, traineeID, m); err == nil {
			return nil // already invoiced
		} else if !errors.Is(err, fieldwork.ErrNotFound) {
			return &fieldwork.PersistenceError{Op: "invoice lookup", Err: err}
		}

		entries, err := bs.SupervisedForMonth(ctx, traineeID, m, fieldwork.StatusApproved)
		if err != nil {
			return &fieldwork.PersistenceError{Op: "approved entries", Err: err}
		}
		if len(entries) == 0 {
			return nil
		}

		total := decimal.Zero
		for i := range entries {
			if entries[i].AmountBilled != nil {
				total = total.Add(*entries[i].AmountBilled)
			}
		}

		now := c.Now().UTC()
		inv := &Invoice{
			ID:        c.NewID(),
			TraineeID: traineeID,
			Month:     m,
			AmountDue: total,
			Status:    InvoiceSent,
			IssuedAt:  now,
			SentAt:    &now,
		}
		if err := bs.InsertInvoice(ctx, inv); err != nil {
			return &fieldwork.PersistenceError{Op: "insert invoice", Err: err}
		}

		for i := range entries {
			if _, err := fieldwork.MarkBilled(ctx, bs, entries[i].ID); err != nil {
				return err
			}
		}

		made = inv
		return nil
	})
	return made, err
}

// MarkPaid records a client payment against an invoice and settles the
// supervisor's commission for the invoice month.
func (c *Cycle) MarkPaid(ctx context.Context, actor fieldwork.Identity, id InvoiceID, amount decimal.Decimal, method PaymentMethod) (*Invoice, error) {
	if !actor.CanManageInvoices() {
		return nil, fmt.Errorf("role %s cannot record payments: %w", actor.Role, fieldwork.ErrUnauthorized)
	}
	if !amount.IsPositive() {
		return nil, &fieldwork.ValidationError{Field: "amount", Message: "payment must be positive"}
	}

	cfg, err := c.Settings.Current(ctx)
	if err != nil {
		return nil, &fieldwork.PersistenceError{Op: "settings", Err: err}
	}

	now := c.Now().UTC()
	var inv *Invoice

	err = c.Store.WithTx(ctx, func(s fieldwork.Store) error {
		bs, ok := s.(Store)
		if !ok {
			return fieldwork.ErrStoreRequired
		}

		var err error
		inv, err = bs.InvoiceByID(ctx, id)
		if err != nil {
			return err
		}
		if inv.Status == InvoicePaid {
			return &fieldwork.ValidationError{Field: "invoice", Message: "invoice already paid"}
		}

		inv.Status = InvoicePaid
		inv.AmountPaid = amount
		inv.PaidAt = &now
		if err := bs.UpdateInvoice(ctx, inv); err != nil {
			return &fieldwork.PersistenceError{Op: "update invoice", Err: err}
		}

		if err := bs.InsertTraineePayment(ctx, &TraineePayment{
			ID:        fmt.Sprintf("pay-%d", now.UnixNano()),
			TraineeID: inv.TraineeID,
			InvoiceID: inv.ID,
			Date:      now,
			Amount:    amount,
			Method:    method,
			Notes:     fmt.Sprintf("payment for invoice %s", inv.ID),
		}); err != nil {
			return &fieldwork.PersistenceError{Op: "insert payment", Err: err}
		}

		// Commission settlement for the supervising professional.
		trainee, err := bs.TraineeByID(ctx, inv.TraineeID)
		if err != nil {
			return err
		}
		if trainee.SupervisorID == "" {
			return nil
		}
		supervisor, err := bs.SupervisorByID(ctx, trainee.SupervisorID)
		if err != nil {
			return err
		}

		card := c.Rates.Resolve(trainee, supervisor, cfg)
		commission := amount.Mul(card.CommissionPct)
		return fieldwork.SettlePay(ctx, bs, supervisor.ID, trainee.ID, inv.Month, commission, now)
	})
	if err != nil {
		return nil, err
	}

	c.emit(ctx, fieldwork.AuditEvent{
		At: now, ActorID: actor.UserID,
		Entity: "Invoice", EntityID: string(id), Action: "PAY",
		After: map[string]string{"amountPaid": amount.StringFixed(2)},
	})
	return inv, nil
}

func (c *Cycle) emit(ctx context.Context, ev fieldwork.AuditEvent) {
	if err := c.Audit.Append(ctx, ev); err != nil {
		log.Printf("audit append failed: %v", err)
	}
}
