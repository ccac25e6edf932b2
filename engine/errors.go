/*
errors.go - Centralized error types for the booking engine

PURPOSE:
  All error kinds in one place so every layer (store, reservation engine,
  booking state machine, HTTP adapter) branches on the same values.

ERROR KINDS:
  validation            Malformed or missing input. Never retried.
  insufficient_inventory Reservation guard failed. Caller may resubmit later.
  invalid_transition    Transition illegal for the current booking status.
  not_found             Referenced entity absent.
  permission_denied     Surfaced from the injected permission check.
  concurrent_modification Booking changed underneath the caller (CAS lost).
  invariant_violation   A ledger guard that can only fail on a caller bug.
  settlement_config     Commission configuration could not be applied.

USAGE:
  Structured errors unwrap to their sentinel:

    var insufficient *engine.InsufficientInventoryError
    if errors.As(err, &insufficient) { ... }
    if errors.Is(err, engine.ErrInsufficientInventory) { ... }

  The HTTP adapter maps KindOf(err) to status codes; the core never does.

SEE ALSO:
  - reservation.go: returns inventory and invariant errors
  - booking/machine.go: returns StateTransitionError
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed or missing input.
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientInventory is returned when a reservation guard fails.
	ErrInsufficientInventory = errors.New("insufficient inventory")

	// ErrInvalidStateTransition is returned when a transition is not legal
	// for the booking's current status.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrPermissionDenied is returned by permission checkers.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrConcurrentModification is returned when optimistic locking detects
	// that another transition committed first.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrInvariantViolation is returned when a release or consume guard
	// fails. It always indicates a caller bug.
	ErrInvariantViolation = errors.New("ledger invariant violation")

	// ErrSettlementConfig is returned when the commission configuration is
	// malformed.
	ErrSettlementConfig = errors.New("invalid settlement configuration")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes a single invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid is shorthand for a ValidationError.
func Invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// InsufficientInventoryError provides details about a failed reservation.
type InsufficientInventoryError struct {
	SecurityID SecurityID
	Available  int64
	Requested  int64
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("insufficient inventory for %s: available %d, requested %d",
		e.SecurityID, e.Available, e.Requested)
}

func (e *InsufficientInventoryError) Unwrap() error { return ErrInsufficientInventory }

// StateTransitionError reports an illegal transition together with the
// status that blocked it.
type StateTransitionError struct {
	Operation string // e.g. "void"
	EntityID  string
	Axis      string // status axis that blocked the transition
	Current   string // current value of that axis
	Reason    string
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("cannot %s %s: %s (%s=%s)",
		e.Operation, e.EntityID, e.Reason, e.Axis, e.Current)
}

func (e *StateTransitionError) Unwrap() error { return ErrInvalidStateTransition }

// NotFoundError names the missing entity.
type NotFoundError struct {
	Kind string // "security", "booking", "counterparty"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// PermissionDeniedError names the actor and the refused action.
type PermissionDeniedError struct {
	ActorID string
	Role    string
	Action  string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("actor %q (role %q) may not %s", e.ActorID, e.Role, e.Action)
}

func (e *PermissionDeniedError) Unwrap() error { return ErrPermissionDenied }

// InvariantError reports a failed release/consume guard.
type InvariantError struct {
	SecurityID SecurityID
	Operation  string
	Blocked    int64
	Requested  int64
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s on %s: blocked %d, requested %d",
		e.Operation, e.SecurityID, e.Blocked, e.Requested)
}

func (e *InvariantError) Unwrap() error { return ErrInvariantViolation }

// SettlementConfigError names the offending commission setting.
type SettlementConfigError struct {
	Setting string
	Message string
}

func (e *SettlementConfigError) Error() string {
	return fmt.Sprintf("settlement config %s: %s", e.Setting, e.Message)
}

func (e *SettlementConfigError) Unwrap() error { return ErrSettlementConfig }

// =============================================================================
// ERROR KINDS
// =============================================================================

// Kind is a transport-neutral classification of an error.
type Kind string

const (
	KindNone                   Kind = ""
	KindValidation             Kind = "validation"
	KindInsufficientInventory  Kind = "insufficient_inventory"
	KindInvalidTransition      Kind = "invalid_transition"
	KindNotFound               Kind = "not_found"
	KindPermissionDenied       Kind = "permission_denied"
	KindConcurrentModification Kind = "concurrent_modification"
	KindInvariantViolation     Kind = "invariant_violation"
	KindSettlementConfig       Kind = "settlement_config"
	KindInternal               Kind = "internal"
)

// KindOf classifies err. Unknown errors are internal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrInsufficientInventory):
		return KindInsufficientInventory
	case errors.Is(err, ErrInvalidStateTransition):
		return KindInvalidTransition
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, ErrConcurrentModification):
		return KindConcurrentModification
	case errors.Is(err, ErrInvariantViolation):
		return KindInvariantViolation
	case errors.Is(err, ErrSettlementConfig):
		return KindSettlementConfig
	default:
		return KindInternal
	}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if resubmitting the same request might succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrInsufficientInventory)
}

// IsClientError returns true if the error is due to the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientInventory) ||
		errors.Is(err, ErrInvalidStateTransition) ||
		errors.Is(err, ErrPermissionDenied)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
