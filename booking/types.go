/*
Package booking implements the sale-booking lifecycle on top of the engine.

PURPOSE:
  A booking is the intent to sell a quantity of one security to a
  counterparty. Its status is five small, independent enums plus the void
  and transfer flags. Legal combinations are enforced by the guards in
  machine.go and driven by Service (service.go).

STATUS AXES:
  approval      pending → approved | rejected
  loss approval not_required | pending → approved | rejected
  confirmation  pending → accepted | declined
  commission    pending → calculated → paid
  flags         voided (terminal), transferred (terminal)

LIFECYCLE:
  ┌────────┐ approve  ┌──────────┐ pay in full  ┌─────────────┐
  │pending │ ───────▶ │ approved │ ───────────▶ │ transferred │ (settled)
  └────────┘          └──────────┘              └─────────────┘
       │ reject             │ void / loss reject
       ▼                    ▼
  ┌──────────┐        ┌──────────┐
  │ rejected │        │  voided  │ (+ refund liability if paid)
  └──────────┘        └──────────┘

SEE ALSO:
  - machine.go:    transition guards
  - settlement.go: profit and commission split
  - service.go:    operation entry points
*/
package booking

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/booking-engine/engine"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type BookingID string

type CounterpartyID string

// =============================================================================
// STATUS AXES
// =============================================================================

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

type LossApprovalStatus string

const (
	LossNotRequired LossApprovalStatus = "not_required"
	LossPending     LossApprovalStatus = "pending"
	LossApproved    LossApprovalStatus = "approved"
	LossRejected    LossApprovalStatus = "rejected"
)

type ConfirmationStatus string

const (
	ConfirmationPending  ConfirmationStatus = "pending"
	ConfirmationAccepted ConfirmationStatus = "accepted"
	ConfirmationDeclined ConfirmationStatus = "declined"
)

type CommissionStatus string

const (
	CommissionPending    CommissionStatus = "pending"
	CommissionCalculated CommissionStatus = "calculated"
	CommissionPaid       CommissionStatus = "paid"
)

// =============================================================================
// BOOKING
// =============================================================================

// Booking is a sale intent against one security.
type Booking struct {
	ID             BookingID
	Number         string // BK-2026-00001
	SecurityID     engine.SecurityID
	CounterpartyID CounterpartyID
	AgentID        string // employee executing the sale
	ReferrerID     string // optional introducer

	Quantity  int64
	UnitCost  decimal.Decimal // weighted-average cost snapshot at creation
	UnitPrice decimal.Decimal

	ApprovalStatus     ApprovalStatus
	IsLoss             bool
	LossApprovalStatus LossApprovalStatus
	ConfirmationStatus ConfirmationStatus
	Voided             bool
	VoidReason         string
	Transferred        bool
	AmountPaid         decimal.Decimal
	CommissionStatus   CommissionStatus

	// Version increases by one on every committed transition.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AmountDue is the full sale value, Quantity × UnitPrice.
func (b Booking) AmountDue() decimal.Decimal {
	return b.UnitPrice.Mul(decimal.NewFromInt(b.Quantity))
}

// PaymentComplete reports whether the booking has been paid in full.
func (b Booking) PaymentComplete() bool {
	return b.AmountPaid.GreaterThanOrEqual(b.AmountDue())
}

// HoldsReservation reports whether this booking's quantity currently sits in
// the blocked pool.
func (b Booking) HoldsReservation() bool {
	return b.ApprovalStatus == ApprovalApproved && !b.Voided && !b.Transferred
}

// Profit is (UnitPrice − UnitCost) × Quantity. Negative for loss bookings.
func (b Booking) Profit() decimal.Decimal {
	return b.UnitPrice.Sub(b.UnitCost).Mul(decimal.NewFromInt(b.Quantity))
}

// =============================================================================
// COUNTERPARTY
// =============================================================================

// Counterparty is a buyer registered with a sequential client code.
type Counterparty struct {
	ID        CounterpartyID
	Code      string // CL-00001
	Name      string
	CreatedAt time.Time
}

// =============================================================================
// SETTLEMENT RECORDS
// =============================================================================

type LiabilityStatus string

const (
	LiabilityPending LiabilityStatus = "pending"
	LiabilityPaid    LiabilityStatus = "paid"
)

// RefundLiability is money owed back to a counterparty after a void.
type RefundLiability struct {
	ID             string
	BookingID      BookingID
	CounterpartyID CounterpartyID
	Amount         decimal.Decimal
	Status         LiabilityStatus
	CreatedAt      time.Time
}

type PayeeRole string

const (
	PayeeAgent    PayeeRole = "agent"
	PayeeReferral PayeeRole = "referral"
)

// Payable is a commission share owed after transfer.
type Payable struct {
	ID        string
	BookingID BookingID
	PayeeID   string
	Role      PayeeRole
	Amount    decimal.Decimal
	Status    LiabilityStatus
	CreatedAt time.Time
}
