/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

AMOUNTS:
  Hours and money travel as decimal strings ("2.5", "150.00"), never as
  JSON numbers. Parsing happens in handlers; DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"github.com/warp/fieldwork-engine/billing"
	"github.com/warp/fieldwork-engine/fieldwork"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// SubmitHoursRequest is the body for POST /api/hours.
type SubmitHoursRequest struct {
	Kind      string `json:"kind"` // "independent" or "supervised"
	TraineeID string `json:"traineeId,omitempty"`
	Date      string `json:"date"`      // YYYY-MM-DD
	StartTime string `json:"startTime"` // HH:MM, optional
	Hours     string `json:"hours"`
	Setting   string `json:"setting"`
	Activity  string `json:"activity"`
	Format    string `json:"format,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

// SubmitHoursResponse reports the admitted entry and any compliance warning.
type SubmitHoursResponse struct {
	EntryID string `json:"entryId"`
	Warning string `json:"warning,omitempty"`
}

// RejectRequest carries the mandatory rejection reason.
type RejectRequest struct {
	Reason string `json:"reason"`
}

// EntryDTO represents a supervised hour entry in API responses.
type EntryDTO struct {
	ID            string `json:"id"`
	TraineeID     string `json:"traineeId"`
	SupervisorID  string `json:"supervisorId"`
	Date          string `json:"date"`
	Hours         string `json:"hours"`
	Setting       string `json:"setting"`
	Activity      string `json:"activity"`
	Format        string `json:"format"`
	Status        string `json:"status"`
	AmountBilled  string `json:"amountBilled,omitempty"`
	SupervisorPay string `json:"supervisorPay,omitempty"`
	RejectReason  string `json:"rejectReason,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

// MonthSummaryDTO is a trainee's month at a glance.
type MonthSummaryDTO struct {
	TraineeID       string     `json:"traineeId"`
	Month           string     `json:"month"`
	TotalHours      string     `json:"totalHours"`
	RestrictedHours string     `json:"restrictedHours"`
	Cap             string     `json:"cap"`
	Remaining       string     `json:"remaining"`
	Entries         []EntryDTO `json:"entries"`
}

// AggregateDTO represents a monthly payment aggregate.
type AggregateDTO struct {
	SupervisorID  string `json:"supervisorId"`
	TraineeID     string `json:"traineeId"`
	Month         string `json:"month"`
	AmountDue     string `json:"amountDue"`
	BalanceDue    string `json:"balanceDue"`
	PaidThisMonth string `json:"paidThisMonth"`
	TotalPaid     string `json:"totalPaid"`
}

// GenerateInvoicesRequest is the body for POST /api/invoices/generate.
type GenerateInvoicesRequest struct {
	Month string `json:"month"` // YYYY-MM
}

type GenerateInvoicesResponse struct {
	Created int `json:"created"`
}

// PayInvoiceRequest records a client payment against an invoice.
type PayInvoiceRequest struct {
	Amount string `json:"amount"`
	Method string `json:"method"` // CHECK, CARD, TRANSFER
}

// InvoiceDTO represents an invoice in API responses.
type InvoiceDTO struct {
	ID         string `json:"id"`
	TraineeID  string `json:"traineeId"`
	Month      string `json:"month"`
	AmountDue  string `json:"amountDue"`
	AmountPaid string `json:"amountPaid"`
	Status     string `json:"status"`
}

// CreateTraineeRequest onboards a trainee profile.
type CreateTraineeRequest struct {
	ID           string `json:"id,omitempty"`
	UserID       string `json:"userId"`
	Name         string `json:"name"`
	Track        string `json:"track"` // BCBA or BCaBA
	SupervisorID string `json:"supervisorId,omitempty"`
	HourlyRate   string `json:"hourlyRate,omitempty"`
}

// TraineeDTO represents a trainee profile in API responses.
type TraineeDTO struct {
	ID           string `json:"id"`
	UserID       string `json:"userId"`
	Name         string `json:"name"`
	Track        string `json:"track"`
	SupervisorID string `json:"supervisorId,omitempty"`
	HourlyRate   string `json:"hourlyRate"`
	Status       string `json:"status"`
}

// CreateSupervisorRequest onboards a supervisor profile.
type CreateSupervisorRequest struct {
	ID            string `json:"id,omitempty"`
	UserID        string `json:"userId"`
	Name          string `json:"name"`
	CommissionPct string `json:"commissionPct,omitempty"`
	MaxTrainees   int    `json:"maxTrainees,omitempty"`
}

// SupervisorDTO represents a supervisor profile in API responses.
type SupervisorDTO struct {
	ID            string `json:"id"`
	UserID        string `json:"userId"`
	Name          string `json:"name"`
	CommissionPct string `json:"commissionPct,omitempty"`
	MaxTrainees   int    `json:"maxTrainees"`
}

// UpdateRateRequest mutates a trainee's hourly billing rate.
type UpdateRateRequest struct {
	HourlyRate string `json:"hourlyRate"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toEntryDTO(e *fieldwork.SupervisedHourEntry) EntryDTO {
	dto := EntryDTO{
		ID:           string(e.ID),
		TraineeID:    string(e.TraineeID),
		SupervisorID: string(e.SupervisorID),
		Date:         e.Date.Format("2006-01-02"),
		Hours:        e.Hours.String(),
		Setting:      string(e.Setting),
		Activity:     string(e.Activity),
		Format:       string(e.Format),
		Status:       string(e.Status),
		RejectReason: e.RejectReason,
		Notes:        e.Notes,
	}
	if e.AmountBilled != nil {
		dto.AmountBilled = e.AmountBilled.StringFixed(2)
	}
	if e.SupervisorPay != nil {
		dto.SupervisorPay = e.SupervisorPay.StringFixed(2)
	}
	return dto
}

func toAggregateDTO(a *fieldwork.MonthlyPaymentAggregate) AggregateDTO {
	return AggregateDTO{
		SupervisorID:  string(a.SupervisorID),
		TraineeID:     string(a.TraineeID),
		Month:         a.Month.String(),
		AmountDue:     a.AmountDue.StringFixed(2),
		BalanceDue:    a.BalanceDue.StringFixed(2),
		PaidThisMonth: a.PaidThisMonth.StringFixed(2),
		TotalPaid:     a.TotalPaid.StringFixed(2),
	}
}

func toInvoiceDTO(inv *billing.Invoice) InvoiceDTO {
	return InvoiceDTO{
		ID:         string(inv.ID),
		TraineeID:  string(inv.TraineeID),
		Month:      inv.Month.String(),
		AmountDue:  inv.AmountDue.StringFixed(2),
		AmountPaid: inv.AmountPaid.StringFixed(2),
		Status:     string(inv.Status),
	}
}

func toTraineeDTO(t *fieldwork.TraineeProfile) TraineeDTO {
	return TraineeDTO{
		ID:           string(t.ID),
		UserID:       string(t.UserID),
		Name:         t.Name,
		Track:        string(t.Track),
		SupervisorID: string(t.SupervisorID),
		HourlyRate:   t.HourlyRate.StringFixed(2),
		Status:       string(t.Status),
	}
}

func toSupervisorDTO(sp *fieldwork.SupervisorProfile) SupervisorDTO {
	dto := SupervisorDTO{
		ID:          string(sp.ID),
		UserID:      string(sp.UserID),
		Name:        sp.Name,
		MaxTrainees: sp.MaxTrainees,
	}
	if sp.CommissionPct != nil {
		dto.CommissionPct = sp.CommissionPct.String()
	}
	return dto
}
