/*
payments.go - Monthly payment aggregate maintenance

PURPOSE:
  MonthlyPaymentAggregate is derived state: a per (supervisor, trainee,
  month) running balance of what the supervisor is owed. It is created
  lazily on first approval and only ever mutated here, inside the same
  unit of work as the status change that justifies the mutation.

OPERATIONS:
  applyPay    approval:  amountDue += pay, balance recomputed
  reversePay  rejection of a previously approved entry: amountDue -= pay
  settlePay   invoice payment: totalPaid += amount, balance recomputed

INVARIANT:
  BalanceDue == max(0, AmountDue - TotalPaid). Reversals of pay that was
  never applied are rejected rather than clamped silently.
*/
package fieldwork

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// rebalance recomputes BalanceDue from the invariant.
func rebalance(a *MonthlyPaymentAggregate) {
	balance := a.AmountDue.Sub(a.TotalPaid)
	if balance.IsNegative() {
		balance = decimal.Zero
	}
	a.BalanceDue = balance
}

// applyPay increments the month's aggregate by a supervisor pay amount,
// creating the row when absent.
func applyPay(ctx context.Context, s AggregateStore, supervisorID SupervisorID, traineeID TraineeID, m Month, pay decimal.Decimal, now time.Time) error {
	agg, err := s.Aggregate(ctx, supervisorID, traineeID, m)
	if errors.Is(err, ErrNotFound) {
		agg = &MonthlyPaymentAggregate{
			SupervisorID: supervisorID,
			TraineeID:    traineeID,
			Month:        m,
		}
	} else if err != nil {
		return &PersistenceError{Op: "load aggregate", Err: err}
	}

	agg.AmountDue = agg.AmountDue.Add(pay)
	rebalance(agg)
	agg.UpdatedAt = now

	if err := s.UpsertAggregate(ctx, agg); err != nil {
		return &PersistenceError{Op: "upsert aggregate", Err: err}
	}
	return nil
}

// reversePay removes a previously applied supervisor pay amount. The
// aggregate must exist and must have at least that much due; anything else
// means the caller is reversing pay that was never applied.
func reversePay(ctx context.Context, s AggregateStore, supervisorID SupervisorID, traineeID TraineeID, m Month, pay decimal.Decimal, now time.Time) error {
	agg, err := s.Aggregate(ctx, supervisorID, traineeID, m)
	if errors.Is(err, ErrNotFound) {
		return &ValidationError{Field: "aggregate", Message: "no aggregate to reverse against"}
	} else if err != nil {
		return &PersistenceError{Op: "load aggregate", Err: err}
	}

	if agg.AmountDue.LessThan(pay) {
		return &ValidationError{Field: "aggregate", Message: "reversal exceeds amount due"}
	}

	agg.AmountDue = agg.AmountDue.Sub(pay)
	rebalance(agg)
	agg.UpdatedAt = now

	if err := s.UpsertAggregate(ctx, agg); err != nil {
		return &PersistenceError{Op: "upsert aggregate", Err: err}
	}
	return nil
}

// SettlePay records a payment against the month's aggregate: balance down,
// paid counters up. Creates a fully-settled row when absent, matching the
// case where commission is settled before any approval this month.
func SettlePay(ctx context.Context, s AggregateStore, supervisorID SupervisorID, traineeID TraineeID, m Month, amount decimal.Decimal, now time.Time) error {
	if amount.IsNegative() {
		return &ValidationError{Field: "amount", Message: "settlement must not be negative"}
	}

	agg, err := s.Aggregate(ctx, supervisorID, traineeID, m)
	if errors.Is(err, ErrNotFound) {
		agg = &MonthlyPaymentAggregate{
			SupervisorID: supervisorID,
			TraineeID:    traineeID,
			Month:        m,
			AmountDue:    amount,
		}
	} else if err != nil {
		return &PersistenceError{Op: "load aggregate", Err: err}
	}

	agg.PaidThisMonth = agg.PaidThisMonth.Add(amount)
	agg.TotalPaid = agg.TotalPaid.Add(amount)
	rebalance(agg)
	agg.UpdatedAt = now

	if err := s.UpsertAggregate(ctx, agg); err != nil {
		return &PersistenceError{Op: "upsert aggregate", Err: err}
	}
	return nil
}
