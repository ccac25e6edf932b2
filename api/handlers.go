/*
handlers.go - HTTP API handlers for the booking engine

PURPOSE:
  Exposes the booking service via REST API. Handles HTTP request/response,
  JSON serialization, and delegates every decision to booking.Service.

ENDPOINTS:
  Inventory:
    POST   /api/purchases                      Credit purchased shares
    GET    /api/securities                     List ledger rows
    GET    /api/securities/{id}                Get one ledger row

  Counterparties:
    POST   /api/counterparties                 Register a buyer (issues CL-00001)
    GET    /api/counterparties/{id}            Get a buyer

  Bookings:
    GET    /api/bookings                       List (?security_id, ?counterparty_id, ?approval)
    POST   /api/bookings                       Create (pending)
    GET    /api/bookings/{id}                  Get
    POST   /api/bookings/{id}/approve          Approve and reserve
    POST   /api/bookings/{id}/reject           Reject
    POST   /api/bookings/{id}/loss/approve     Approve the loss gate
    POST   /api/bookings/{id}/loss/reject      Reject the loss gate (cascades)
    POST   /api/bookings/{id}/confirm          Counterparty accepts
    POST   /api/bookings/{id}/decline          Counterparty declines
    POST   /api/bookings/{id}/payments         Record a payment
    POST   /api/bookings/{id}/void             Void before transfer
    POST   /api/bookings/{id}/transfer         Confirm transfer and settle
    POST   /api/bookings/{id}/commission/paid  Mark commission paid
    GET    /api/bookings/{id}/payables         Commission payables
    GET    /api/bookings/{id}/refunds          Refund liabilities
    GET    /api/bookings/{id}/audit            Audit trail

ACTOR:
  X-Actor-ID and X-Actor-Role request headers identify the caller. The role
  is checked by the service's PermissionChecker; the handlers never decide
  authorization themselves.

ERROR HANDLING:
  Errors are returned as JSON with a status derived from engine.KindOf:
  - 400: Validation errors, invalid input
  - 403: Permission denied
  - 404: Resource not found
  - 409: Illegal transition, insufficient inventory, concurrent modification
  - 500: Invariant violations, settlement configuration, internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/warp/booking-engine/booking"
	"github.com/warp/booking-engine/engine"
)

// Actor headers.
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// AuditReader lists audit entries. Both stores implement it.
type AuditReader interface {
	ListAudit(ctx context.Context, id booking.BookingID) ([]booking.AuditEntry, error)
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *booking.Service
	Audit   AuditReader
	log     zerolog.Logger

	// Track the most recently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler on top of svc.
func NewHandler(svc *booking.Service, audit AuditReader, log zerolog.Logger) *Handler {
	return &Handler{
		Service: svc,
		Audit:   audit,
		log:     log.With().Str("component", "api").Logger(),
	}
}

// =============================================================================
// INVENTORY HANDLERS
// =============================================================================

// ReceivePurchase credits purchased shares.
// POST /api/purchases
func (h *Handler) ReceivePurchase(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req PurchaseRequest
	if !decodeBody(w, r, &req) {
		return
	}

	inv, err := h.Service.ReceivePurchase(r.Context(), actor, engine.SecurityID(req.SecurityID), req.Quantity, req.UnitCost)
	if err != nil {
		h.writeServiceError(w, r, "Failed to receive purchase", err)
		return
	}
	writeJSON(w, http.StatusCreated, toInventoryDTO(inv))
}

// ListInventory returns every ledger row.
// GET /api/securities
func (h *Handler) ListInventory(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Service.ListInventory(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "Failed to list inventory", err)
		return
	}
	dtos := make([]InventoryDTO, len(rows))
	for i, inv := range rows {
		dtos[i] = toInventoryDTO(inv)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetInventory returns one ledger row.
// GET /api/securities/{id}
func (h *Handler) GetInventory(w http.ResponseWriter, r *http.Request) {
	inv, err := h.Service.GetInventory(r.Context(), engine.SecurityID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, r, "Failed to get inventory", err)
		return
	}
	writeJSON(w, http.StatusOK, toInventoryDTO(inv))
}

// =============================================================================
// COUNTERPARTY HANDLERS
// =============================================================================

// RegisterCounterparty registers a buyer.
// POST /api/counterparties
func (h *Handler) RegisterCounterparty(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req CreateCounterpartyRequest
	if !decodeBody(w, r, &req) {
		return
	}

	c, err := h.Service.RegisterCounterparty(r.Context(), actor, req.Name)
	if err != nil {
		h.writeServiceError(w, r, "Failed to register counterparty", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCounterpartyDTO(c))
}

// GetCounterparty returns a buyer.
// GET /api/counterparties/{id}
func (h *Handler) GetCounterparty(w http.ResponseWriter, r *http.Request) {
	c, err := h.Service.GetCounterparty(r.Context(), booking.CounterpartyID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, r, "Failed to get counterparty", err)
		return
	}
	writeJSON(w, http.StatusOK, toCounterpartyDTO(c))
}

// =============================================================================
// BOOKING HANDLERS
// =============================================================================

// ListBookings returns bookings matching the query filters.
// GET /api/bookings
func (h *Handler) ListBookings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := booking.Filter{
		SecurityID:     engine.SecurityID(q.Get("security_id")),
		CounterpartyID: booking.CounterpartyID(q.Get("counterparty_id")),
		Approval:       booking.ApprovalStatus(q.Get("approval")),
	}

	bookings, err := h.Service.ListBookings(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, "Failed to list bookings", err)
		return
	}
	dtos := make([]BookingDTO, len(bookings))
	for i, b := range bookings {
		dtos[i] = toBookingDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateBooking records a pending booking.
// POST /api/bookings
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req CreateBookingRequest
	if !decodeBody(w, r, &req) {
		return
	}

	b, err := h.Service.CreateBooking(r.Context(), actor, booking.CreateRequest{
		SecurityID:     engine.SecurityID(req.SecurityID),
		CounterpartyID: booking.CounterpartyID(req.CounterpartyID),
		AgentID:        req.AgentID,
		ReferrerID:     req.ReferrerID,
		Quantity:       req.Quantity,
		UnitPrice:      req.UnitPrice,
	})
	if err != nil {
		h.writeServiceError(w, r, "Failed to create booking", err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookingDTO(b))
}

// GetBooking returns a booking.
// GET /api/bookings/{id}
func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	b, err := h.Service.GetBooking(r.Context(), bookingID(r))
	if err != nil {
		h.writeServiceError(w, r, "Failed to get booking", err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(b))
}

// ApproveBooking handles POST /api/bookings/{id}/approve.
func (h *Handler) ApproveBooking(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, "Failed to approve booking", true, h.Service.ApproveBooking)
}

// RejectBooking handles POST /api/bookings/{id}/reject.
func (h *Handler) RejectBooking(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, "Failed to reject booking", false, h.Service.ApproveBooking)
}

// ApproveLoss handles POST /api/bookings/{id}/loss/approve.
func (h *Handler) ApproveLoss(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, "Failed to approve loss", true, h.Service.ApproveLoss)
}

// RejectLoss handles POST /api/bookings/{id}/loss/reject.
func (h *Handler) RejectLoss(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, "Failed to reject loss", false, h.Service.ApproveLoss)
}

// ConfirmBooking handles POST /api/bookings/{id}/confirm.
func (h *Handler) ConfirmBooking(w http.ResponseWriter, r *http.Request) {
	h.confirm(w, r, true)
}

// DeclineBooking handles POST /api/bookings/{id}/decline.
func (h *Handler) DeclineBooking(w http.ResponseWriter, r *http.Request) {
	h.confirm(w, r, false)
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request, accept bool) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	res, err := h.Service.ConfirmBooking(r.Context(), actor, bookingID(r), accept)
	if err != nil {
		h.writeServiceError(w, r, "Failed to confirm booking", err)
		return
	}

	// A booking still behind a gate is not an error, but nothing changed.
	status := http.StatusOK
	if res.Outcome == booking.ConfirmPendingApproval || res.Outcome == booking.ConfirmPendingLossApproval {
		status = http.StatusAccepted
	}
	writeJSON(w, status, ConfirmResponse{Outcome: string(res.Outcome), Booking: toBookingDTO(res.Booking)})
}

// RecordPayment handles POST /api/bookings/{id}/payments.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req PaymentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	b, err := h.Service.RecordPayment(r.Context(), actor, bookingID(r), req.Amount)
	if err != nil {
		h.writeServiceError(w, r, "Failed to record payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(b))
}

// VoidBooking handles POST /api/bookings/{id}/void.
func (h *Handler) VoidBooking(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req VoidRequest
	if !decodeBody(w, r, &req) {
		return
	}

	b, err := h.Service.VoidBooking(r.Context(), actor, bookingID(r), req.Reason)
	if err != nil {
		h.writeServiceError(w, r, "Failed to void booking", err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(b))
}

// ConfirmTransfer handles POST /api/bookings/{id}/transfer.
func (h *Handler) ConfirmTransfer(w http.ResponseWriter, r *http.Request) {
	h.terminal(w, r, "Failed to confirm transfer", h.Service.ConfirmTransfer)
}

// MarkCommissionPaid handles POST /api/bookings/{id}/commission/paid.
func (h *Handler) MarkCommissionPaid(w http.ResponseWriter, r *http.Request) {
	h.terminal(w, r, "Failed to mark commission paid", h.Service.MarkCommissionPaid)
}

// ListPayables handles GET /api/bookings/{id}/payables.
func (h *Handler) ListPayables(w http.ResponseWriter, r *http.Request) {
	ps, err := h.Service.ListPayables(r.Context(), bookingID(r))
	if err != nil {
		h.writeServiceError(w, r, "Failed to list payables", err)
		return
	}
	writeJSON(w, http.StatusOK, toPayableDTOs(ps))
}

// ListRefunds handles GET /api/bookings/{id}/refunds.
func (h *Handler) ListRefunds(w http.ResponseWriter, r *http.Request) {
	rs, err := h.Service.ListRefunds(r.Context(), bookingID(r))
	if err != nil {
		h.writeServiceError(w, r, "Failed to list refunds", err)
		return
	}
	writeJSON(w, http.StatusOK, toRefundDTOs(rs))
}

// ListAudit handles GET /api/bookings/{id}/audit.
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	id := bookingID(r)
	if _, err := h.Service.GetBooking(r.Context(), id); err != nil {
		h.writeServiceError(w, r, "Failed to get booking", err)
		return
	}
	entries, err := h.Audit.ListAudit(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "Failed to list audit entries", err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditDTOs(entries))
}

// =============================================================================
// SHARED HANDLER SHAPES
// =============================================================================

type decision func(ctx context.Context, actor booking.Actor, id booking.BookingID, accept bool) (booking.Booking, error)

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, message string, accept bool, fn decision) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	b, err := fn(r.Context(), actor, bookingID(r), accept)
	if err != nil {
		h.writeServiceError(w, r, message, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(b))
}

type transition func(ctx context.Context, actor booking.Actor, id booking.BookingID) (booking.Booking, error)

func (h *Handler) terminal(w http.ResponseWriter, r *http.Request, message string, fn transition) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	b, err := fn(r.Context(), actor, bookingID(r))
	if err != nil {
		h.writeServiceError(w, r, message, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(b))
}

// =============================================================================
// HELPERS
// =============================================================================

func bookingID(r *http.Request) booking.BookingID {
	return booking.BookingID(chi.URLParam(r, "id"))
}

// actor reads the caller from the request headers.
func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (booking.Actor, bool) {
	id := strings.TrimSpace(r.Header.Get(HeaderActorID))
	role := booking.Role(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderActorRole))))
	if id == "" {
		writeError(w, http.StatusBadRequest, "Missing "+HeaderActorID+" header", nil)
		return booking.Actor{}, false
	}
	switch role {
	case booking.RoleAdmin, booking.RoleManager, booking.RoleAgent, booking.RoleViewer:
	case "":
		role = booking.RoleViewer
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown role %q", role), nil)
		return booking.Actor{}, false
	}
	return booking.Actor{ID: id, Role: role}, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
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

// writeServiceError maps a service error to its HTTP status.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, message string, err error) {
	kind := engine.KindOf(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		h.log.Error().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("kind", string(kind)).
			Err(err).
			Msg(message)
	}
	writeJSON(w, status, ErrorResponse{Error: message, Code: string(kind), Details: err.Error()})
}

func statusFor(kind engine.Kind) int {
	switch kind {
	case engine.KindValidation:
		return http.StatusBadRequest
	case engine.KindPermissionDenied:
		return http.StatusForbidden
	case engine.KindNotFound:
		return http.StatusNotFound
	case engine.KindInvalidTransition, engine.KindInsufficientInventory, engine.KindConcurrentModification:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
