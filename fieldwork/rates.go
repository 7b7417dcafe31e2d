// rates.go - Billing rate resolution at approval time.
//
// Rates are resolved at the moment an entry transitions to APPROVED, never
// at submission time, so rate changes between submission and approval are
// honored. Re-approval after rejection resolves again from scratch.
package fieldwork

import (
	"github.com/shopspring/decimal"
)

// RateCard is the resolved pricing for one approval.
type RateCard struct {
	HourlyRate    decimal.Decimal // client billing rate, from the trainee
	CommissionPct decimal.Decimal // supervisor's cut, fraction of billed
}

// RateResolver produces the RateCard for a supervised entry.
type RateResolver struct{}

// Resolve picks the hourly rate from the trainee profile (zero if unset -
// a valid, if degenerate, outcome) and the commission from the supervisor
// profile, falling back to the settings default (0.54 out of the box).
func (RateResolver) Resolve(trainee *TraineeProfile, supervisor *SupervisorProfile, cfg Settings) RateCard {
	card := RateCard{
		HourlyRate:    trainee.HourlyRate,
		CommissionPct: cfg.DefaultCommission,
	}
	if supervisor != nil && supervisor.CommissionPct != nil {
		card.CommissionPct = *supervisor.CommissionPct
	}
	return card
}

// Bill computes the derived monetary fields for an entry's hours.
func (c RateCard) Bill(hours decimal.Decimal) (amountBilled, supervisorPay decimal.Decimal) {
	amountBilled = hours.Mul(c.HourlyRate)
	supervisorPay = amountBilled.Mul(c.CommissionPct)
	return amountBilled, supervisorPay
}
