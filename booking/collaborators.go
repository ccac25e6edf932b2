/*
collaborators.go - Capabilities injected into the booking service

PURPOSE:
  Authorization, notification delivery and audit logging are external
  concerns. The service receives them as interfaces at construction time and
  never reaches for globals, so the state machine is testable on its own.

CALL ORDER PER OPERATION:
  1. PermissionChecker.Check   before any read or write
  2. ... transition ...
  3. NotificationSink.Notify   only after a successful commit (errors logged)
  4. AuditSink.Record          always, success or failure (errors logged)

SEE ALSO:
  - notify/dispatcher.go: asynchronous NotificationSink
  - store/sqlite/sqlite.go: persistent AuditSink
*/
package booking

import (
	"context"
	"time"

	"github.com/warp/booking-engine/engine"
)

// =============================================================================
// AUTHORIZATION
// =============================================================================

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleAgent   Role = "agent"
	RoleViewer  Role = "viewer"
)

// Actor is whoever drives an operation.
type Actor struct {
	ID   string
	Role Role
}

// SystemActor is used by seeders and background jobs.
var SystemActor = Actor{ID: "system", Role: RoleAdmin}

type Action string

const (
	ActionReceivePurchase    Action = "receive_purchase"
	ActionRegisterClient     Action = "register_counterparty"
	ActionCreateBooking      Action = "create_booking"
	ActionApproveBooking     Action = "approve_booking"
	ActionApproveLoss        Action = "approve_loss"
	ActionConfirmBooking     Action = "confirm_booking"
	ActionRecordPayment      Action = "record_payment"
	ActionVoidBooking        Action = "void_booking"
	ActionConfirmTransfer    Action = "confirm_transfer"
	ActionMarkCommissionPaid Action = "mark_commission_paid"
)

// PermissionChecker decides whether actor may perform action. A refusal
// must be returned as an error wrapping engine.ErrPermissionDenied.
type PermissionChecker interface {
	Check(ctx context.Context, actor Actor, action Action) error
}

// PermissionFunc adapts a function to PermissionChecker.
type PermissionFunc func(ctx context.Context, actor Actor, action Action) error

func (f PermissionFunc) Check(ctx context.Context, actor Actor, action Action) error {
	return f(ctx, actor, action)
}

// AllowAll permits everything.
var AllowAll PermissionChecker = PermissionFunc(func(context.Context, Actor, Action) error { return nil })

// RolePolicy is a static role → allowed actions table.
type RolePolicy map[Role]map[Action]bool

// DefaultRolePolicy: admins do everything, managers run the approval gates
// and settlement, agents drive intake and client-facing steps.
func DefaultRolePolicy() RolePolicy {
	agent := map[Action]bool{
		ActionRegisterClient: true,
		ActionCreateBooking:  true,
		ActionConfirmBooking: true,
		ActionRecordPayment:  true,
	}
	manager := map[Action]bool{
		ActionReceivePurchase:    true,
		ActionApproveBooking:     true,
		ActionApproveLoss:        true,
		ActionVoidBooking:        true,
		ActionConfirmTransfer:    true,
		ActionMarkCommissionPaid: true,
	}
	for a := range agent {
		manager[a] = true
	}
	return RolePolicy{
		RoleAgent:   agent,
		RoleManager: manager,
	}
}

func (p RolePolicy) Check(_ context.Context, actor Actor, action Action) error {
	if actor.Role == RoleAdmin {
		return nil
	}
	if p[actor.Role][action] {
		return nil
	}
	return &engine.PermissionDeniedError{
		ActorID: actor.ID,
		Role:    string(actor.Role),
		Action:  string(action),
	}
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

type EventType string

const (
	EventPurchaseReceived     EventType = "inventory.credited"
	EventCounterpartyCreated  EventType = "counterparty.registered"
	EventBookingCreated       EventType = "booking.created"
	EventBookingApproved      EventType = "booking.approved"
	EventBookingRejected      EventType = "booking.rejected"
	EventLossApproved         EventType = "booking.loss_approved"
	EventLossRejected         EventType = "booking.loss_rejected"
	EventBookingConfirmed     EventType = "booking.confirmed"
	EventBookingDeclined      EventType = "booking.declined"
	EventPaymentRecorded      EventType = "booking.payment_recorded"
	EventBookingVoided        EventType = "booking.voided"
	EventRefundOwed           EventType = "booking.refund_owed"
	EventTransferConfirmed    EventType = "booking.transferred"
	EventCommissionCalculated EventType = "booking.commission_calculated"
	EventCommissionPaid       EventType = "booking.commission_paid"
)

// Event is emitted after a successful transition.
type Event struct {
	ID            string
	Type          EventType
	BookingID     BookingID
	BookingNumber string
	SecurityID    engine.SecurityID
	At            time.Time
	Payload       map[string]any
}

// NotificationSink receives events, fire-and-forget.
type NotificationSink interface {
	Notify(ctx context.Context, evt Event) error
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Event) error { return nil }

// NopNotifier discards events.
var NopNotifier NotificationSink = nopNotifier{}

// =============================================================================
// AUDIT
// =============================================================================

type AuditOutcome string

const (
	AuditSuccess AuditOutcome = "success"
	AuditFailure AuditOutcome = "failure"
)

// AuditEntry records who attempted what, and how it ended.
type AuditEntry struct {
	ID         string
	At         time.Time
	ActorID    string
	ActorRole  Role
	Action     Action
	BookingID  BookingID
	SecurityID engine.SecurityID
	Outcome    AuditOutcome
	ErrorKind  engine.Kind
	Error      string
}

// AuditSink stores audit entries. Append-only.
type AuditSink interface {
	Record(ctx context.Context, entry AuditEntry) error
}

type nopAudit struct{}

func (nopAudit) Record(context.Context, AuditEntry) error { return nil }

// NopAudit discards audit entries.
var NopAudit AuditSink = nopAudit{}
