/*
store.go - Persistence contract for the inventory ledger and sequences

PURPOSE:
  Defines the interface between the reservation engine and the database.
  Every quantity mutation is a single guarded step in the store: the check
  and the write cannot be separated by another caller.

GUARDS:
  Reserve: UPDATE ... WHERE available >= qty
  Release: UPDATE ... WHERE blocked   >= qty
  Consume: UPDATE ... WHERE blocked   >= qty

  A failed guard never mutates the row. Reserve reports
  InsufficientInventoryError; Release/Consume report InvariantError.

SERIALIZATION:
  Operations on the same security are linearized. Operations on different
  securities must not contend with each other: no store-wide lock.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: conditional UPDATE ... RETURNING
  - engine/store/memory.go: one mutex per security

SEE ALSO:
  - reservation.go: validated entry points on top of LedgerStore
  - sequence.go:    identifier generation on top of SequenceStore
*/
package engine

import (
	"context"

	"github.com/shopspring/decimal"
)

// LedgerStore persists inventory rows.
type LedgerStore interface {
	// Credit adds qty to available and recomputes the weighted-average
	// cost. Creates the row on the first credit of a security.
	Credit(ctx context.Context, security SecurityID, qty int64, unitCost decimal.Decimal) (Inventory, error)

	// Reserve moves qty from available to blocked if available >= qty.
	Reserve(ctx context.Context, security SecurityID, qty int64) (Inventory, error)

	// Release moves qty from blocked back to available if blocked >= qty.
	Release(ctx context.Context, security SecurityID, qty int64) (Inventory, error)

	// Consume removes qty from blocked if blocked >= qty.
	Consume(ctx context.Context, security SecurityID, qty int64) (Inventory, error)

	// GetInventory returns the row or a NotFoundError.
	GetInventory(ctx context.Context, security SecurityID) (Inventory, error)

	// ListInventory returns all rows ordered by security.
	ListInventory(ctx context.Context) ([]Inventory, error)
}

// SequenceStore persists monotonic counters.
type SequenceStore interface {
	// NextSequence atomically increments the counter for key (creating it
	// at 1) and returns the new value.
	NextSequence(ctx context.Context, key string) (int64, error)
}
