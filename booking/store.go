package booking

import (
	"context"

	"github.com/warp/booking-engine/engine"
)

// Effects are records committed atomically with a booking update.
type Effects struct {
	Refunds  []RefundLiability
	Payables []Payable

	// SettlePayables marks every pending payable of the booking as paid.
	SettlePayables bool
}

// Filter narrows ListBookings. Zero values match everything.
type Filter struct {
	SecurityID     engine.SecurityID
	CounterpartyID CounterpartyID
	Approval       ApprovalStatus
}

// Store persists bookings and the records hanging off them.
//
// UpdateBooking is a compare-and-set: it commits b only if the stored
// version still equals expectedVersion, bumps the version, and writes the
// effects in the same atomic step. A lost race returns
// engine.ErrConcurrentModification.
type Store interface {
	InsertBooking(ctx context.Context, b Booking) error
	GetBooking(ctx context.Context, id BookingID) (Booking, error)
	ListBookings(ctx context.Context, filter Filter) ([]Booking, error)
	UpdateBooking(ctx context.Context, b Booking, expectedVersion int64, fx Effects) (Booking, error)

	ListRefunds(ctx context.Context, id BookingID) ([]RefundLiability, error)
	ListPayables(ctx context.Context, id BookingID) ([]Payable, error)

	InsertCounterparty(ctx context.Context, c Counterparty) error
	GetCounterparty(ctx context.Context, id CounterpartyID) (Counterparty, error)
}
