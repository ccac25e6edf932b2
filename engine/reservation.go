/*
reservation.go - The only writer of inventory quantities

PURPOSE:
  Validates arguments and forwards the four ledger operations to the
  LedgerStore, where guard and mutation happen as one atomic step.

NOT IDEMPOTENT:
  Calling Reserve twice reserves twice. The booking state machine checks
  booking status first and invokes each operation exactly once per
  transition.

INVARIANT FAILURES:
  Release and Consume can only fail their guard if a caller released or
  consumed quantity it never reserved. Those failures are logged at error
  level and returned as InvariantError; quantities are never clamped.

SEE ALSO:
  - store.go:            LedgerStore contract
  - booking/service.go:  the saga that drives these operations
*/
package engine

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ReservationEngine moves quantity between ledger pools.
type ReservationEngine struct {
	store LedgerStore
	log   zerolog.Logger
}

// NewReservationEngine returns an engine writing through store.
func NewReservationEngine(store LedgerStore, log zerolog.Logger) *ReservationEngine {
	return &ReservationEngine{
		store: store,
		log:   log.With().Str("component", "reservation").Logger(),
	}
}

// Credit records a purchase of qty units at unitCost.
func (e *ReservationEngine) Credit(ctx context.Context, security SecurityID, qty int64, unitCost decimal.Decimal) (Inventory, error) {
	if err := validateSecurity(security); err != nil {
		return Inventory{}, err
	}
	if qty <= 0 {
		return Inventory{}, Invalid("quantity", "must be positive")
	}
	if unitCost.IsNegative() {
		return Inventory{}, Invalid("unit_cost", "must not be negative")
	}

	cur, err := e.store.GetInventory(ctx, security)
	switch {
	case err == nil:
		if err := cur.CheckCredit(qty); err != nil {
			return Inventory{}, err
		}
	case !errors.Is(err, ErrNotFound):
		return Inventory{}, err
	}

	inv, err := e.store.Credit(ctx, security, qty, unitCost)
	if err != nil {
		return Inventory{}, err
	}
	e.log.Debug().
		Str("security", string(security)).
		Int64("qty", qty).
		Str("unit_cost", unitCost.String()).
		Str("wac", inv.WeightedAvgCost.String()).
		Int64("available", inv.Available).
		Msg("inventory credited")
	return inv, nil
}

// Reserve moves qty from available to blocked. Fails closed with
// InsufficientInventoryError.
func (e *ReservationEngine) Reserve(ctx context.Context, security SecurityID, qty int64) (Inventory, error) {
	if err := validateMove(security, qty); err != nil {
		return Inventory{}, err
	}

	inv, err := e.store.Reserve(ctx, security, qty)
	if err != nil {
		if errors.Is(err, ErrInsufficientInventory) {
			e.log.Info().
				Str("security", string(security)).
				Int64("qty", qty).
				Err(err).
				Msg("reservation refused")
		}
		return Inventory{}, err
	}
	e.log.Debug().
		Str("security", string(security)).
		Int64("qty", qty).
		Int64("available", inv.Available).
		Int64("blocked", inv.Blocked).
		Msg("inventory reserved")
	return inv, nil
}

// Release returns qty from blocked to available.
func (e *ReservationEngine) Release(ctx context.Context, security SecurityID, qty int64) (Inventory, error) {
	if err := validateMove(security, qty); err != nil {
		return Inventory{}, err
	}

	inv, err := e.store.Release(ctx, security, qty)
	if err != nil {
		e.invariant(err, "release", security, qty)
		return Inventory{}, err
	}
	e.log.Debug().
		Str("security", string(security)).
		Int64("qty", qty).
		Int64("available", inv.Available).
		Int64("blocked", inv.Blocked).
		Msg("inventory released")
	return inv, nil
}

// Consume permanently removes qty from blocked.
func (e *ReservationEngine) Consume(ctx context.Context, security SecurityID, qty int64) (Inventory, error) {
	if err := validateMove(security, qty); err != nil {
		return Inventory{}, err
	}

	inv, err := e.store.Consume(ctx, security, qty)
	if err != nil {
		e.invariant(err, "consume", security, qty)
		return Inventory{}, err
	}
	e.log.Debug().
		Str("security", string(security)).
		Int64("qty", qty).
		Int64("blocked", inv.Blocked).
		Msg("inventory consumed")
	return inv, nil
}

// Inventory returns the current ledger row for security.
func (e *ReservationEngine) Inventory(ctx context.Context, security SecurityID) (Inventory, error) {
	if err := validateSecurity(security); err != nil {
		return Inventory{}, err
	}
	return e.store.GetInventory(ctx, security)
}

// Inventories returns every ledger row.
func (e *ReservationEngine) Inventories(ctx context.Context) ([]Inventory, error) {
	return e.store.ListInventory(ctx)
}

func (e *ReservationEngine) invariant(err error, op string, security SecurityID, qty int64) {
	if !errors.Is(err, ErrInvariantViolation) {
		return
	}
	e.log.Error().
		Str("security", string(security)).
		Str("op", op).
		Int64("qty", qty).
		Err(err).
		Msg("ledger invariant violated")
}

func validateSecurity(security SecurityID) error {
	if security == "" {
		return Invalid("security_id", "is required")
	}
	return nil
}

func validateMove(security SecurityID, qty int64) error {
	if err := validateSecurity(security); err != nil {
		return err
	}
	if qty <= 0 {
		return Invalid("quantity", "must be positive")
	}
	return nil
}
