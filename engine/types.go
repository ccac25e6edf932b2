/*
Package engine provides the inventory core of the booking system.

PURPOSE:
  Holds the share inventory ledger, the reservation engine that is the only
  writer of ledger quantities, and the sequence generator used for
  human-readable identifiers. Booking lifecycle rules live in the booking
  package on top of this one.

KEY CONCEPTS IN THIS FILE (types.go):
  - SecurityID: identifies one fungible security (one ledger row each)
  - Inventory:  available / blocked quantity plus weighted-average cost
  - WeightedAverage: cost basis recomputation on purchase credit

POOLS:
  ┌───────────┐  Reserve   ┌─────────┐  Consume
  │ Available │ ─────────▶ │ Blocked │ ─────────▶ (gone, transferred)
  └───────────┘ ◀───────── └─────────┘
        ▲          Release
        │ Credit (purchase)

CONSERVATION:
  Available + Blocked only grows on Credit and only shrinks on Consume.
  Any number of Reserve/Release round trips leaves the total unchanged.

SEE ALSO:
  - reservation.go: the four guarded operations
  - store.go:       persistence contract for the ledger and sequences
  - sequence.go:    identifier generation
*/
package engine

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// SecurityID identifies a security. One inventory row exists per security.
type SecurityID string

// =============================================================================
// INVENTORY - One ledger row per security
// =============================================================================

// Inventory is the ledger row for a single security.
//
// INVARIANTS:
//   - Available >= 0 and Blocked >= 0 at all times.
//   - WeightedAvgCost >= 0.
type Inventory struct {
	SecurityID      SecurityID
	Available       int64
	Blocked         int64
	WeightedAvgCost decimal.Decimal
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Total returns the quantity still held (available plus blocked).
func (i Inventory) Total() int64 {
	return i.Available + i.Blocked
}

// CheckCredit rejects a credit of qty that would push the row's total past
// math.MaxInt64. Reserve and Release keep the total fixed, so bounding the
// total bounds both pools.
func (i Inventory) CheckCredit(qty int64) error {
	if qty > math.MaxInt64-i.Total() {
		return Invalid("quantity", "would overflow available")
	}
	return nil
}

// WeightedAverage computes the cost basis after crediting qty units at
// unitCost onto availableBefore units held at costBefore.
//
//	(availableBefore*costBefore + qty*unitCost) / (availableBefore + qty)
//
// Blocked units do not take part in the average.
func WeightedAverage(availableBefore int64, costBefore decimal.Decimal, qty int64, unitCost decimal.Decimal) decimal.Decimal {
	held := decimal.NewFromInt(availableBefore)
	added := decimal.NewFromInt(qty)
	denominator := held.Add(added)
	if denominator.IsZero() {
		return decimal.Zero
	}
	return held.Mul(costBefore).Add(added.Mul(unitCost)).Div(denominator)
}
