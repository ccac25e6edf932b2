/*
machine.go - Transition guards for the booking state machine

PURPOSE:
  One pure function per operation. Each takes the current booking, checks
  that the transition is legal and returns the booking as it must look after
  the transition. No I/O happens here; the service decides when ledger
  operations run and commits the result with a compare-and-set.

ILLEGAL COMBINATIONS:
  voided+transferred     void requires !transferred, transfer requires !voided
  approved w/o inventory approval is only committed after Reserve succeeded
  confirmed behind gate  confirmation requires approval and cleared loss gate

SEE ALSO:
  - service.go: drives these guards and the ledger saga
*/
package booking

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/booking-engine/engine"
)

// ConfirmOutcome is the result of a confirmation attempt. The two pending
// outcomes are not errors: the booking is simply not eligible yet.
type ConfirmOutcome string

const (
	ConfirmPendingApproval     ConfirmOutcome = "pending_approval"
	ConfirmPendingLossApproval ConfirmOutcome = "pending_loss_approval"
	ConfirmAccepted            ConfirmOutcome = "accepted"
	ConfirmDeclined            ConfirmOutcome = "declined"
)

func illegal(op string, b Booking, axis, current, reason string) error {
	return &engine.StateTransitionError{
		Operation: op,
		EntityID:  string(b.ID),
		Axis:      axis,
		Current:   current,
		Reason:    reason,
	}
}

func requireLive(op string, b Booking) error {
	if b.Voided {
		return illegal(op, b, "voided", "true", "booking is voided")
	}
	if b.Transferred {
		return illegal(op, b, "transferred", "true", "booking is already transferred")
	}
	return nil
}

// planApproval: pending → approved | rejected.
func planApproval(b Booking, accept bool) (Booking, error) {
	const op = "approve"
	if err := requireLive(op, b); err != nil {
		return b, err
	}
	if b.ApprovalStatus != ApprovalPending {
		return b, illegal(op, b, "approval_status", string(b.ApprovalStatus), "already processed")
	}
	if accept {
		b.ApprovalStatus = ApprovalApproved
	} else {
		b.ApprovalStatus = ApprovalRejected
	}
	return b, nil
}

// planLossDecision settles the loss gate. Rejection cascades to the approval
// axis; release reports whether reserved quantity must go back to available.
func planLossDecision(b Booking, accept bool) (next Booking, release bool, err error) {
	const op = "approve loss for"
	if !b.IsLoss {
		return b, false, illegal(op, b, "is_loss", "false", "not a loss booking")
	}
	if b.LossApprovalStatus != LossPending {
		return b, false, illegal(op, b, "loss_approval_status", string(b.LossApprovalStatus), "already processed")
	}
	if err := requireLive(op, b); err != nil {
		return b, false, err
	}
	if b.ApprovalStatus == ApprovalRejected {
		return b, false, illegal(op, b, "approval_status", string(b.ApprovalStatus), "booking is rejected")
	}

	if accept {
		b.LossApprovalStatus = LossApproved
		return b, false, nil
	}
	release = b.HoldsReservation()
	b.LossApprovalStatus = LossRejected
	b.ApprovalStatus = ApprovalRejected
	return b, release, nil
}

// confirmEligibility reports the gate blocking confirmation, or "" when the
// booking may be confirmed.
func confirmEligibility(b Booking) ConfirmOutcome {
	if b.ApprovalStatus != ApprovalApproved {
		return ConfirmPendingApproval
	}
	if b.IsLoss && b.LossApprovalStatus != LossApproved {
		return ConfirmPendingLossApproval
	}
	return ""
}

// planConfirmation records the counterparty's answer. A booking still behind
// a gate comes back unchanged with a pending outcome.
func planConfirmation(b Booking, accept bool) (Booking, ConfirmOutcome, error) {
	const op = "confirm"
	if b.Voided {
		return b, "", illegal(op, b, "voided", "true", "booking is voided")
	}
	if b.ApprovalStatus == ApprovalRejected {
		return b, "", illegal(op, b, "approval_status", string(b.ApprovalStatus), "booking is rejected")
	}
	if gate := confirmEligibility(b); gate != "" {
		return b, gate, nil
	}
	if b.ConfirmationStatus != ConfirmationPending {
		return b, "", illegal(op, b, "confirmation_status", string(b.ConfirmationStatus), "already processed")
	}
	if accept {
		b.ConfirmationStatus = ConfirmationAccepted
		return b, ConfirmAccepted, nil
	}
	b.ConfirmationStatus = ConfirmationDeclined
	return b, ConfirmDeclined, nil
}

// planPayment adds amount to AmountPaid.
func planPayment(b Booking, amount decimal.Decimal) (Booking, error) {
	const op = "record payment for"
	if !amount.IsPositive() {
		return b, engine.Invalid("amount", "must be positive")
	}
	if err := requireLive(op, b); err != nil {
		return b, err
	}
	if b.ApprovalStatus != ApprovalApproved {
		return b, illegal(op, b, "approval_status", string(b.ApprovalStatus), "booking is not approved")
	}
	b.AmountPaid = b.AmountPaid.Add(amount)
	return b, nil
}

// planVoid cancels an approved, untransferred booking. The returned refund
// flag is true when money was already collected.
func planVoid(b Booking, reason string) (Booking, bool, error) {
	const op = "void"
	if strings.TrimSpace(reason) == "" {
		return b, false, engine.Invalid("reason", "is required")
	}
	if b.Voided {
		return b, false, illegal(op, b, "voided", "true", "already voided")
	}
	if b.Transferred {
		return b, false, illegal(op, b, "transferred", "true", "already transferred")
	}
	if b.ApprovalStatus != ApprovalApproved {
		return b, false, illegal(op, b, "approval_status", string(b.ApprovalStatus), "booking is not approved")
	}
	b.Voided = true
	b.VoidReason = reason
	return b, b.AmountPaid.IsPositive(), nil
}

// planTransfer is the one-way terminal step.
func planTransfer(b Booking) (Booking, error) {
	const op = "confirm transfer for"
	if b.Transferred {
		return b, illegal(op, b, "transferred", "true", "already transferred")
	}
	if b.Voided {
		return b, illegal(op, b, "voided", "true", "booking is voided")
	}
	if b.ApprovalStatus != ApprovalApproved {
		return b, illegal(op, b, "approval_status", string(b.ApprovalStatus), "booking is not approved")
	}
	if b.IsLoss && b.LossApprovalStatus != LossApproved {
		return b, illegal(op, b, "loss_approval_status", string(b.LossApprovalStatus), "loss approval outstanding")
	}
	if !b.PaymentComplete() {
		return b, illegal(op, b, "amount_paid", b.AmountPaid.String(), "payment incomplete, due "+b.AmountDue().String())
	}
	b.Transferred = true
	b.CommissionStatus = CommissionCalculated
	return b, nil
}

// planCommissionPaid closes the commission axis.
func planCommissionPaid(b Booking) (Booking, error) {
	const op = "mark commission paid for"
	if !b.Transferred {
		return b, illegal(op, b, "transferred", "false", "booking is not transferred")
	}
	if b.CommissionStatus != CommissionCalculated {
		return b, illegal(op, b, "commission_status", string(b.CommissionStatus), "already processed")
	}
	b.CommissionStatus = CommissionPaid
	return b, nil
}
