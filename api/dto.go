/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Decimal amounts are serialized as JSON strings ("27.50") and accepted as
  strings or numbers.

VALIDATION:
  Validation is done by the booking service, not in DTOs. DTOs are pure
  data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/booking-engine/booking"
	"github.com/warp/booking-engine/engine"
)

// =============================================================================
// INVENTORY
// =============================================================================

// InventoryDTO represents a ledger row in API responses.
type InventoryDTO struct {
	SecurityID      string          `json:"security_id"`
	Available       int64           `json:"available"`
	Blocked         int64           `json:"blocked"`
	Total           int64           `json:"total"`
	WeightedAvgCost decimal.Decimal `json:"weighted_avg_cost"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// PurchaseRequest is the body of POST /api/purchases.
type PurchaseRequest struct {
	SecurityID string          `json:"security_id"`
	Quantity   int64           `json:"quantity"`
	UnitCost   decimal.Decimal `json:"unit_cost"`
}

func toInventoryDTO(inv engine.Inventory) InventoryDTO {
	return InventoryDTO{
		SecurityID:      string(inv.SecurityID),
		Available:       inv.Available,
		Blocked:         inv.Blocked,
		Total:           inv.Total(),
		WeightedAvgCost: inv.WeightedAvgCost,
		UpdatedAt:       inv.UpdatedAt,
	}
}

// =============================================================================
// COUNTERPARTIES
// =============================================================================

// CounterpartyDTO represents a registered buyer.
type CounterpartyDTO struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateCounterpartyRequest is the body of POST /api/counterparties.
type CreateCounterpartyRequest struct {
	Name string `json:"name"`
}

func toCounterpartyDTO(c booking.Counterparty) CounterpartyDTO {
	return CounterpartyDTO{
		ID:        string(c.ID),
		Code:      c.Code,
		Name:      c.Name,
		CreatedAt: c.CreatedAt,
	}
}

// =============================================================================
// BOOKINGS
// =============================================================================

// BookingDTO represents a booking in API responses.
type BookingDTO struct {
	ID                 string          `json:"id"`
	Number             string          `json:"number"`
	SecurityID         string          `json:"security_id"`
	CounterpartyID     string          `json:"counterparty_id"`
	AgentID            string          `json:"agent_id"`
	ReferrerID         string          `json:"referrer_id,omitempty"`
	Quantity           int64           `json:"quantity"`
	UnitCost           decimal.Decimal `json:"unit_cost"`
	UnitPrice          decimal.Decimal `json:"unit_price"`
	AmountDue          decimal.Decimal `json:"amount_due"`
	AmountPaid         decimal.Decimal `json:"amount_paid"`
	PaymentComplete    bool            `json:"payment_complete"`
	ApprovalStatus     string          `json:"approval_status"`
	IsLoss             bool            `json:"is_loss"`
	LossApprovalStatus string          `json:"loss_approval_status"`
	ConfirmationStatus string          `json:"confirmation_status"`
	Voided             bool            `json:"voided"`
	VoidReason         string          `json:"void_reason,omitempty"`
	Transferred        bool            `json:"transferred"`
	CommissionStatus   string          `json:"commission_status"`
	Version            int64           `json:"version"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// CreateBookingRequest is the body of POST /api/bookings.
type CreateBookingRequest struct {
	SecurityID     string          `json:"security_id"`
	CounterpartyID string          `json:"counterparty_id"`
	AgentID        string          `json:"agent_id,omitempty"`
	ReferrerID     string          `json:"referrer_id,omitempty"`
	Quantity       int64           `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
}

// PaymentRequest is the body of POST /api/bookings/{id}/payments.
type PaymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// VoidRequest is the body of POST /api/bookings/{id}/void.
type VoidRequest struct {
	Reason string `json:"reason"`
}

// ConfirmResponse is returned by the confirm and decline endpoints.
type ConfirmResponse struct {
	Outcome string     `json:"outcome"`
	Booking BookingDTO `json:"booking"`
}

func toBookingDTO(b booking.Booking) BookingDTO {
	return BookingDTO{
		ID:                 string(b.ID),
		Number:             b.Number,
		SecurityID:         string(b.SecurityID),
		CounterpartyID:     string(b.CounterpartyID),
		AgentID:            b.AgentID,
		ReferrerID:         b.ReferrerID,
		Quantity:           b.Quantity,
		UnitCost:           b.UnitCost,
		UnitPrice:          b.UnitPrice,
		AmountDue:          b.AmountDue(),
		AmountPaid:         b.AmountPaid,
		PaymentComplete:    b.PaymentComplete(),
		ApprovalStatus:     string(b.ApprovalStatus),
		IsLoss:             b.IsLoss,
		LossApprovalStatus: string(b.LossApprovalStatus),
		ConfirmationStatus: string(b.ConfirmationStatus),
		Voided:             b.Voided,
		VoidReason:         b.VoidReason,
		Transferred:        b.Transferred,
		CommissionStatus:   string(b.CommissionStatus),
		Version:            b.Version,
		CreatedAt:          b.CreatedAt,
		UpdatedAt:          b.UpdatedAt,
	}
}

// =============================================================================
// SETTLEMENT RECORDS
// =============================================================================

// PayableDTO represents a commission share.
type PayableDTO struct {
	ID        string          `json:"id"`
	BookingID string          `json:"booking_id"`
	PayeeID   string          `json:"payee_id"`
	Role      string          `json:"role"`
	Amount    decimal.Decimal `json:"amount"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

// RefundDTO represents money owed back to a counterparty.
type RefundDTO struct {
	ID             string          `json:"id"`
	BookingID      string          `json:"booking_id"`
	CounterpartyID string          `json:"counterparty_id"`
	Amount         decimal.Decimal `json:"amount"`
	Status         string          `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
}

// AuditEntryDTO represents one audit log line.
type AuditEntryDTO struct {
	ID         string    `json:"id"`
	At         time.Time `json:"at"`
	ActorID    string    `json:"actor_id"`
	ActorRole  string    `json:"actor_role"`
	Action     string    `json:"action"`
	BookingID  string    `json:"booking_id,omitempty"`
	SecurityID string    `json:"security_id,omitempty"`
	Outcome    string    `json:"outcome"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Error      string    `json:"error,omitempty"`
}

func toPayableDTOs(ps []booking.Payable) []PayableDTO {
	dtos := make([]PayableDTO, len(ps))
	for i, p := range ps {
		dtos[i] = PayableDTO{
			ID:        p.ID,
			BookingID: string(p.BookingID),
			PayeeID:   p.PayeeID,
			Role:      string(p.Role),
			Amount:    p.Amount,
			Status:    string(p.Status),
			CreatedAt: p.CreatedAt,
		}
	}
	return dtos
}

func toRefundDTOs(rs []booking.RefundLiability) []RefundDTO {
	dtos := make([]RefundDTO, len(rs))
	for i, r := range rs {
		dtos[i] = RefundDTO{
			ID:             r.ID,
			BookingID:      string(r.BookingID),
			CounterpartyID: string(r.CounterpartyID),
			Amount:         r.Amount,
			Status:         string(r.Status),
			CreatedAt:      r.CreatedAt,
		}
	}
	return dtos
}

func toAuditDTOs(es []booking.AuditEntry) []AuditEntryDTO {
	dtos := make([]AuditEntryDTO, len(es))
	for i, e := range es {
		dtos[i] = AuditEntryDTO{
			ID:         e.ID,
			At:         e.At,
			ActorID:    e.ActorID,
			ActorRole:  string(e.ActorRole),
			Action:     string(e.Action),
			BookingID:  string(e.BookingID),
			SecurityID: string(e.SecurityID),
			Outcome:    string(e.Outcome),
			ErrorKind:  string(e.ErrorKind),
			Error:      e.Error,
		}
	}
	return dtos
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// LoadScenarioRequest is the body of POST /api/scenarios/load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}
