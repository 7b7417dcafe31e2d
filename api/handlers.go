/*
handlers.go - HTTP API handlers for the hours ledger and approval engine

PURPOSE:
  Exposes the engine via REST. Handles HTTP request/response, JSON
  serialization, and delegates to domain logic.

ENDPOINTS:
  Hours:
    POST   /api/hours                     Submit an hour entry
    POST   /api/hours/{id}/approve        Approve a supervised entry
    POST   /api/hours/{id}/reject         Reject (reason required)
    POST   /api/hours/{id}/revert         REJECTED -> PENDING (top tier)

  Trainees:
    POST   /api/trainees                  Onboard a trainee
    GET    /api/trainees/{id}/summary     Month summary (?month=YYYY-MM)
    GET    /api/trainees/{id}/invoice     Invoice for month (?month=YYYY-MM)
    PATCH  /api/trainees/{id}/rate        Update billing rate (top tier)
    DELETE /api/trainees/{id}             Remove (fails when entries exist)

  Supervisors:
    POST   /api/supervisors               Onboard a supervisor
    GET    /api/supervisors/{id}/payments Monthly aggregates (?month=YYYY-MM)

  Billing:
    POST   /api/invoices/generate         Invoice a month's approved hours
    POST   /api/invoices/{id}/pay         Record a client payment

ERROR HANDLING:
  Domain errors map onto HTTP status by sentinel:
  - 400: validation errors
  - 401: missing/invalid token (auth.go)
  - 403: capability denied
  - 404: entry/profile not found
  - 409: illegal status transition, referenced trainee
  - 422: monthly cap exceeded
  - 500: persistence and unknown errors

SEE ALSO:
  - dto.go: Request/response data structures
  - auth.go: Identity resolution
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/fieldwork-engine/billing"
	"github.com/warp/fieldwork-engine/fieldwork"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Backend is the persistence surface the API needs: the transactional core
// store plus the invoice extension.
type Backend interface {
	fieldwork.TxStore
	billing.Store
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     Backend
	Ledger    *fieldwork.HourLedger
	Approvals *fieldwork.ApprovalService
	Billing   *billing.Cycle
	Settings  fieldwork.SettingsSource
}

// NewHandler wires the domain services over one backend.
func NewHandler(store Backend, settings fieldwork.SettingsSource, audit fieldwork.AuditSink) *Handler {
	return &Handler{
		Store:     store,
		Ledger:    fieldwork.NewHourLedger(store, settings, audit),
		Approvals: fieldwork.NewApprovalService(store, settings, audit),
		Billing:   billing.NewCycle(store, settings, audit),
		Settings:  settings,
	}
}

// =============================================================================
// HOUR ENDPOINTS
// =============================================================================

// SubmitHours admits a new hour entry.
// POST /api/hours
func (h *Handler) SubmitHours(w http.ResponseWriter, r *http.Request) {
	actor, ok := identityFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "No identity", nil)
		return
	}

	var req SubmitHoursRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}
	hours, err := decimal.NewFromString(req.Hours)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid hours value", err)
		return
	}

	result, err := h.Ledger.Submit(r.Context(), actor, fieldwork.Submission{
		Kind:      fieldwork.EntryKind(req.Kind),
		TraineeID: fieldwork.TraineeID(req.TraineeID),
		Date:      date,
		StartTime: req.StartTime,
		Hours:     hours,
		Setting:   fieldwork.SettingCategory(req.Setting),
		Activity:  fieldwork.ActivityCategory(req.Activity),
		Format:    fieldwork.SupervisionFormat(req.Format),
		Notes:     req.Notes,
	})
	if err != nil {
		writeDomainError(w, "Failed to submit hours", err)
		return
	}

	writeJSON(w, http.StatusCreated, SubmitHoursResponse{
		EntryID: string(result.EntryID),
		Warning: result.Warning,
	})
}

// ApproveEntry drives PENDING/REJECTED -> APPROVED.
// POST /api/hours/{id}/approve
func (h *Handler) ApproveEntry(w http.ResponseWriter, r *http.Request) {
	actor, ok := identityFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "No identity", nil)
		return
	}

	entry, err := h.Approvals.Approve(r.Context(), actor, fieldwork.EntryID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to approve entry", err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(entry))
}

// RejectEntry drives PENDING/APPROVED -> REJECTED.
// POST /api/hours/{id}/reject
func (h *Handler) RejectEntry(w http.ResponseWriter, r *http.Request) {
	actor, ok := identityFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "No identity", nil)
		return
	}

	var req RejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	entry, err := h.Approvals.Reject(r.Context(), actor, fieldwork.EntryID(chi.URLParam(r, "id")), req.Reason)
	if err != nil {
		writeDomainError(w, "Failed to reject entry", err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(entry))
}

// RevertEntry drives REJECTED -> PENDING.
// POST /api/hours/{id}/revert
func (h *Handler) RevertEntry(w http.ResponseWriter, r *http.Request) {
	actor, ok := identityFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "No identity", nil)
		return
	}

	entry, err := h.Approvals.RevertToPending(r.Context(), actor, fieldwork.EntryID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to revert entry", err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(entry))
}

// =============================================================================
// TRAINEE ENDPOINTS
// =============================================================================

// CreateTrainee onboards a trainee profile.
// POST /api/trainees
func (h *Handler) CreateTrainee(w http.ResponseWriter, r *http.Request) {
	actor, ok := identityFrom(r)
	if !ok || !actor.CanManageInvoices() {
		writeError(w, http.StatusForbidden, "Office role required", nil)
		return
	}

	var req CreateTraineeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.UserID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "userId and name are required", nil)
		return
	}

	track := fieldwork.CertTrack(req.Track)
	if track != fieldwork.TrackBCBA && track != fieldwork.TrackBCaBA {
		writeError(w, http.StatusBadRequest, "track must be BCBA or BCaBA", nil)
		return
	}

	rate := decimal.Zero
	if req.HourlyRate != "" {
		var err error
		rate, err = decimal.NewFromString(req.HourlyRate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid hourlyRate", err)
			return
		}
	}

	id := req.ID
	if id == "" {
		id = newProfileID("trn")
	}
	trainee := &fieldwork.TraineeProfile{
		ID:           fieldwork.TraineeID(id),
		UserID:       fieldwork.UserID(req.UserID),
		Name:         req.Name,
		Track:        track,
		SupervisorID: fieldwork.SupervisorID(req.SupervisorID),
		HourlyRate:   rate,
		Status:       fieldwork.ProfileActive,
	}
	if err := h.Store.SaveTrainee(r.Context(), trainee); err != nil {
		writeDomainError(w, "Failed to create trainee", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTraineeDTO(trainee))
}

// DeleteTrainee removes a trainee without entries.
// DELETE /api/trainees/{id}
func (h *Handler) DeleteTrainee(w http.ResponseWriter, r *http.Request) {
	actor, ok := identityFrom(r)
	if !ok || !actor.CanManageInvoices() {
		writeError(w, http.StatusForbidden, "Office role required", nil)
		return
	}

	err := h.Store.DeleteTrainee(r.Context(), fieldwork.TraineeID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to delete trainee", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TraineeMonthSummary reports totals, cap headroom, and entries for a month.
// GET /api/trainees/{id}/summary?month=YYYY-MM
func (h *Handler) TraineeMonthSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	traineeID := fieldwork.TraineeID(chi.URLParam(r, "id"))

	m, err := monthParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid month (use YYYY-MM)", err)
		return
	}

	trainee, err := h.Store.TraineeByID(ctx, traineeID)
	if err != nil {
		writeDomainError(w, "Failed to load trainee", err)
		return
	}

	totals, err := h.Store.MonthlyHours(ctx, traineeID, m)
	if err != nil {
		writeDomainError(w, "Failed to sum hours", err)
		return
	}

	entries, err := h.Store.SupervisedForMonth(ctx, traineeID, m, "")
	if err != nil {
		writeDomainError(w, "Failed to list entries", err)
		return
	}

	cfg, err := h.Settings.Current(ctx)
	if err != nil {
		writeDomainError(w, "Failed to load settings", err)
		return
	}
	limit := cfg.CapFor(trainee, m)
	remaining := limit.Sub(totals.Total)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}

	dtos := make([]EntryDTO, 0, len(entries))
	for i := range entries {
		dtos = append(dtos, toEntryDTO(&entries[i]))
	}

	writeJSON(w, http.StatusOK, MonthSummaryDTO{
		TraineeID:       string(traineeID),
		Month:           m.String(),
		TotalHours:      totals.Total.String(),
		RestrictedHours: totals.Restricted.String(),
		Cap:             limit.String(),
		Remaining:       remaining.String(),
		Entries:         dtos,
	})
}

// TraineeInvoice returns the trainee's invoice for a month.
// GET /api/trainees/{id}/invoice?month=YYYY-MM
func (h *Handler) TraineeInvoice(w http.ResponseWriter, r *http.Request) {
	m, err := monthParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid month (use YYYY-MM)", err)
		return
	}

	inv, err := h.Store.InvoiceForMonth(r.Context(), fieldwork.TraineeID(chi.URLParam(r, "id")), m)
	if err != nil {
		writeDomainError(w, "Failed to load invoice", err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(inv))
}

// UpdateTraineeRate mutates a trainee's hourly billing rate.
// PATCH /api/trainees/{id}/rate
func (h *Handler) UpdateTraineeRate(w http.ResponseWriter, r *http.Request) {
	actor, ok := identityFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "No identity", nil)
		return
	}

	var req UpdateRateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	rate, err := decimal.NewFromString(req.HourlyRate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid hourlyRate", err)
		return
	}

	trainee, err := fieldwork.UpdateTraineeRate(r.Context(), h.Store, actor, fieldwork.TraineeID(chi.URLParam(r, "id")), rate)
	if err != nil {
		writeDomainError(w, "Failed to update rate", err)
		return
	}
	writeJSON(w, http.StatusOK, toTraineeDTO(trainee))
}

// =============================================================================
// SUPERVISOR ENDPOINTS
// =============================================================================

// CreateSupervisor onboards a supervisor profile.
// POST /api/supervisors
func (h *Handler) CreateSupervisor(w http.ResponseWriter, r *http.Request) {
	actor, ok := identityFrom(r)
	if !ok || !actor.CanManageInvoices() {
		writeError(w, http.StatusForbidden, "Office role required", nil)
		return
	}

	var req CreateSupervisorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.UserID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "userId and name are required", nil)
		return
	}

	var pct *decimal.Decimal
	if req.CommissionPct != "" {
		d, err := decimal.NewFromString(req.CommissionPct)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid commissionPct", err)
			return
		}
		pct = &d
	}

	id := req.ID
	if id == "" {
		id = newProfileID("sup")
	}
	supervisor := &fieldwork.SupervisorProfile{
		ID:            fieldwork.SupervisorID(id),
		UserID:        fieldwork.UserID(req.UserID),
		Name:          req.Name,
		CommissionPct: pct,
		MaxTrainees:   req.MaxTrainees,
	}
	if err := h.Store.SaveSupervisor(r.Context(), supervisor); err != nil {
		writeDomainError(w, "Failed to create supervisor", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSupervisorDTO(supervisor))
}

// SupervisorPayments lists a supervisor's monthly payment aggregates.
// GET /api/supervisors/{id}/payments?month=YYYY-MM
func (h *Handler) SupervisorPayments(w http.ResponseWriter, r *http.Request) {
	m, err := monthParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid month (use YYYY-MM)", err)
		return
	}

	aggs, err := h.Store.AggregatesForSupervisor(r.Context(), fieldwork.SupervisorID(chi.URLParam(r, "id")), m)
	if err != nil {
		writeDomainError(w, "Failed to list aggregates", err)
		return
	}

	dtos := make([]AggregateDTO, 0, len(aggs))
	for i := range aggs {
		dtos = append(dtos, toAggregateDTO(&aggs[i]))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// BILLING ENDPOINTS
// =============================================================================

// GenerateInvoices runs the billing cycle for a month.
// POST /api/invoices/generate
func (h *Handler) GenerateInvoices(w http.ResponseWriter, r *http.Request) {
	actor, ok := identityFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "No identity", nil)
		return
	}

	var req GenerateInvoicesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	m, err := fieldwork.ParseMonth(req.Month)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid month (use YYYY-MM)", err)
		return
	}

	created, err := h.Billing.GenerateMonth(r.Context(), actor, m)
	if err != nil {
		writeDomainError(w, "Failed to generate invoices", err)
		return
	}
	writeJSON(w, http.StatusOK, GenerateInvoicesResponse{Created: created})
}

// PayInvoice records a client payment and settles the supervisor commission.
// POST /api/invoices/{id}/pay
func (h *Handler) PayInvoice(w http.ResponseWriter, r *http.Request) {
	actor, ok := identityFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "No identity", nil)
		return
	}

	var req PayInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	inv, err := h.Billing.MarkPaid(r.Context(), actor,
		billing.InvoiceID(chi.URLParam(r, "id")), amount, billing.PaymentMethod(req.Method))
	if err != nil {
		writeDomainError(w, "Failed to record payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(inv))
}

// =============================================================================
// HELPERS
// =============================================================================

// monthParam reads ?month=YYYY-MM, defaulting to the current month.
func monthParam(r *http.Request) (fieldwork.Month, error) {
	raw := r.URL.Query().Get("month")
	if raw == "" {
		return fieldwork.MonthOf(time.Now().UTC()), nil
	}
	return fieldwork.ParseMonth(raw)
}

func newProfileID(prefix string) string {
	return prefix + "-" + time.Now().UTC().Format("20060102150405.000000000")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain sentinels onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	var limitErr *fieldwork.LimitExceededError
	var transitionErr *fieldwork.TransitionError

	switch {
	case errors.Is(err, fieldwork.ErrUnauthorized):
		writeError(w, http.StatusForbidden, message, err)
	case errors.As(err, &limitErr):
		writeError(w, http.StatusUnprocessableEntity, message, err)
	case errors.As(err, &transitionErr),
		errors.Is(err, fieldwork.ErrTraineeReferenced):
		writeError(w, http.StatusConflict, message, err)
	case fieldwork.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, fieldwork.ErrValidation),
		errors.Is(err, fieldwork.ErrSupervisorNotAssigned):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
