package booking_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/booking-engine/booking"
	"github.com/warp/booking-engine/engine"
	"github.com/warp/booking-engine/engine/store"
	"github.com/warp/booking-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const acme = engine.SecurityID("ACME")

var (
	manager = booking.Actor{ID: "mgr-1", Role: booking.RoleManager}
	agent   = booking.Actor{ID: "agent-1", Role: booking.RoleAgent}
	viewer  = booking.Actor{ID: "viewer-1", Role: booking.RoleViewer}
)

func fixedClock() time.Time {
	return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []booking.Event
	err    error
}

func (n *recordingNotifier) Notify(_ context.Context, evt booking.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, evt)
	return n.err
}

func (n *recordingNotifier) types() []booking.EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]booking.EventType, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Type)
	}
	return out
}

// backend is everything a service needs from storage.
type backend interface {
	engine.LedgerStore
	engine.SequenceStore
	booking.Store
	booking.AuditSink
	ListAudit(ctx context.Context, id booking.BookingID) ([]booking.AuditEntry, error)
}

func openSQLite(t *testing.T, path string) backend {
	t.Helper()
	s, err := sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// backends lists every store the service runs on.
var backends = []struct {
	name string
	open func(t *testing.T) backend
}{
	{"memory", func(t *testing.T) backend { return store.NewMemory() }},
	{"sqlite_in_memory", func(t *testing.T) backend { return openSQLite(t, ":memory:") }},
	{"sqlite_file", func(t *testing.T) backend { return openSQLite(t, filepath.Join(t.TempDir(), "booking.db")) }},
}

// eachBackend runs fn once per store against a fresh fixture.
func eachBackend(t *testing.T, fn func(t *testing.T, f *fixture)) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			fn(t, newFixtureOn(t, b.open(t)))
		})
	}
}

type fixture struct {
	svc      *booking.Service
	db       backend
	notifier *recordingNotifier
	buyer    booking.Counterparty
}

type option func(*booking.Config)

func withStore(s booking.Store) option {
	return func(c *booking.Config) { c.Store = s }
}

func newFixture(t *testing.T, opts ...option) *fixture {
	t.Helper()
	return newFixtureOn(t, store.NewMemory(), opts...)
}

func newFixtureOn(t *testing.T, db backend, opts ...option) *fixture {
	t.Helper()
	notifier := &recordingNotifier{}
	cfg := booking.Config{
		Store:        db,
		Reservations: engine.NewReservationEngine(db, zerolog.Nop()),
		Sequencer:    engine.NewSequencer(db),
		Permissions:  booking.DefaultRolePolicy(),
		Notifier:     notifier,
		Audit:        db,
		Commission:   booking.DefaultCommissionPolicy(),
		Clock:        fixedClock,
		Logger:       zerolog.Nop(),
	}
	for _, o := range opts {
		o(&cfg)
	}
	svc, err := booking.NewService(cfg)
	require.NoError(t, err)

	f := &fixture{svc: svc, db: db, notifier: notifier}
	f.buyer, err = svc.RegisterCounterparty(context.Background(), agent, "Acme Buyer")
	require.NoError(t, err)
	return f
}

func (f *fixture) stock(t *testing.T, qty int64, cost string) {
	t.Helper()
	_, err := f.svc.ReceivePurchase(context.Background(), manager, acme, qty, decimal.RequireFromString(cost))
	require.NoError(t, err)
}

func (f *fixture) create(t *testing.T, qty int64, price string) booking.Booking {
	t.Helper()
	b, err := f.svc.CreateBooking(context.Background(), agent, booking.CreateRequest{
		SecurityID:     acme,
		CounterpartyID: f.buyer.ID,
		ReferrerID:     "referrer-1",
		Quantity:       qty,
		UnitPrice:      decimal.RequireFromString(price),
	})
	require.NoError(t, err)
	return b
}

func (f *fixture) inventory(t *testing.T) engine.Inventory {
	t.Helper()
	inv, err := f.svc.GetInventory(context.Background(), acme)
	require.NoError(t, err)
	return inv
}

// =============================================================================
// CONSTRUCTION AND INTAKE
// =============================================================================

func TestNewService_RequiresCollaborators(t *testing.T) {
	_, err := booking.NewService(booking.Config{})
	assert.Error(t, err)
}

func TestRegisterCounterparty_SequentialCodes(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "CL-00001", f.buyer.Code)

	c, err := f.svc.RegisterCounterparty(context.Background(), agent, "  Second Buyer ")
	require.NoError(t, err)
	assert.Equal(t, "CL-00002", c.Code)
	assert.Equal(t, "Second Buyer", c.Name)

	_, err = f.svc.RegisterCounterparty(context.Background(), agent, " ")
	assert.ErrorIs(t, err, engine.ErrValidation)
}

func TestCreateBooking_Defaults(t *testing.T) {
	f := newFixture(t)
	f.stock(t, 1000, "25")

	b := f.create(t, 100, "27.50")

	assert.Equal(t, "BK-2026-00001", b.Number)
	assert.Equal(t, booking.ApprovalPending, b.ApprovalStatus)
	assert.Equal(t, booking.LossNotRequired, b.LossApprovalStatus)
	assert.Equal(t, booking.ConfirmationPending, b.ConfirmationStatus)
	assert.Equal(t, booking.CommissionPending, b.CommissionStatus)
	assert.Equal(t, "agent-1", b.AgentID, "agent defaults to the acting user")
	assert.True(t, decimal.NewFromInt(25).Equal(b.UnitCost))
	assert.Equal(t, int64(1), b.Version)

	// Nothing is reserved before approval
	inv := f.inventory(t)
	assert.Equal(t, int64(1000), inv.Available)
	assert.Equal(t, int64(0), inv.Blocked)
}

func TestCreateBooking_Rejections(t *testing.T) {
	f := newFixture(t)
	f.stock(t, 100, "25")
	ctx := context.Background()

	req := booking.CreateRequest{SecurityID: acme, CounterpartyID: f.buyer.ID, Quantity: 101, UnitPrice: decimal.NewFromInt(30)}
	_, err := f.svc.CreateBooking(ctx, agent, req)
	assert.ErrorIs(t, err, engine.ErrInsufficientInventory)

	req.Quantity = 10
	req.CounterpartyID = "ghost"
	_, err = f.svc.CreateBooking(ctx, agent, req)
	assert.ErrorIs(t, err, engine.ErrNotFound)

	req.CounterpartyID = f.buyer.ID
	req.SecurityID = "NOPE"
	_, err = f.svc.CreateBooking(ctx, agent, req)
	assert.ErrorIs(t, err, engine.ErrNotFound)

	req.SecurityID = acme
	req.UnitPrice = decimal.Zero
	_, err = f.svc.CreateBooking(ctx, agent, req)
	assert.ErrorIs(t, err, engine.ErrValidation)
}

func TestCreateBooking_ConcurrentNumbersUnique(t *testing.T) {
	// GIVEN: Five agents creating bookings at the same time
	f := newFixture(t)
	f.stock(t, 1000, "25")

	numbers := make([]string, 5)
	var wg sync.WaitGroup
	for i := range numbers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := f.svc.CreateBooking(context.Background(), agent, booking.CreateRequest{
				SecurityID: acme, CounterpartyID: f.buyer.ID, Quantity: 10, UnitPrice: decimal.NewFromInt(30),
			})
			if assert.NoError(t, err) {
				numbers[i] = b.Number
			}
		}(i)
	}
	wg.Wait()

	// THEN: Numbers 1..5 are each issued exactly once
	sort.Strings(numbers)
	want := make([]string, 5)
	for i := range want {
		want[i] = fmt.Sprintf("BK-2026-%05d", i+1)
	}
	assert.Equal(t, want, numbers)
}

// =============================================================================
// APPROVAL AND RESERVATION
// =============================================================================

func TestApproveBooking_ReservesQuantity(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		f.stock(t, 1000, "25")
		b := f.create(t, 100, "27.50")

		b, err := f.svc.ApproveBooking(context.Background(), manager, b.ID, true)
		require.NoError(t, err)
		assert.Equal(t, booking.ApprovalApproved, b.ApprovalStatus)
		assert.Equal(t, int64(2), b.Version)

		inv := f.inventory(t)
		assert.Equal(t, int64(900), inv.Available)
		assert.Equal(t, int64(100), inv.Blocked)
	})
}

func TestApproveBooking_RejectReservesNothing(t *testing.T) {
	f := newFixture(t)
	f.stock(t, 1000, "25")
	b := f.create(t, 100, "27.50")

	b, err := f.svc.ApproveBooking(context.Background(), manager, b.ID, false)
	require.NoError(t, err)
	assert.Equal(t, booking.ApprovalRejected, b.ApprovalStatus)
	assert.Equal(t, int64(1000), f.inventory(t).Available)
}

func TestApproveBooking_ContentionOneRefused(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		// GIVEN: 1000 available and two pending bookings of 600
		f.stock(t, 1000, "25")
		first := f.create(t, 600, "30")
		second := f.create(t, 600, "30")

		// WHEN: Both are approved concurrently
		errs := make([]error, 2)
		var wg sync.WaitGroup
		for i, id := range []booking.BookingID{first.ID, second.ID} {
			wg.Add(1)
			go func(i int, id booking.BookingID) {
				defer wg.Done()
				_, errs[i] = f.svc.ApproveBooking(context.Background(), manager, id, true)
			}(i, id)
		}
		wg.Wait()

		// THEN: Exactly one is approved; the other stays pending
		approved, refused := 0, 0
		for _, err := range errs {
			if err == nil {
				approved++
				continue
			}
			require.ErrorIs(t, err, engine.ErrInsufficientInventory)
			refused++
		}
		assert.Equal(t, 1, approved)
		assert.Equal(t, 1, refused)

		pending, err := f.svc.ListBookings(context.Background(), booking.Filter{Approval: booking.ApprovalPending})
		require.NoError(t, err)
		assert.Len(t, pending, 1)

		inv := f.inventory(t)
		assert.Equal(t, int64(400), inv.Available)
		assert.Equal(t, int64(600), inv.Blocked)
	})
}

func TestApproveBooking_ConcurrentSameBookingReservesOnce(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		f.stock(t, 1000, "25")
		b := f.create(t, 100, "30")

		const callers = 8
		errs := make([]error, callers)
		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = f.svc.ApproveBooking(context.Background(), manager, b.ID, true)
			}(i)
		}
		wg.Wait()

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
				continue
			}
			kind := engine.KindOf(err)
			assert.Contains(t, []engine.Kind{engine.KindInvalidTransition, engine.KindConcurrentModification}, kind)
		}
		assert.Equal(t, 1, wins)

		// Losers that had already reserved were compensated
		inv := f.inventory(t)
		assert.Equal(t, int64(900), inv.Available)
		assert.Equal(t, int64(100), inv.Blocked)
	})
}

// conflictingStore loses every compare-and-set while fail is set.
type conflictingStore struct {
	*store.Memory
	fail bool
}

func (s *conflictingStore) UpdateBooking(ctx context.Context, b booking.Booking, v int64, fx booking.Effects) (booking.Booking, error) {
	if s.fail {
		return booking.Booking{}, fmt.Errorf("injected: %w", engine.ErrConcurrentModification)
	}
	return s.Memory.UpdateBooking(ctx, b, v, fx)
}

func TestApproveBooking_LostCommitCompensatesReservation(t *testing.T) {
	// GIVEN: A store whose booking commit always loses
	mem := store.NewMemory()
	cs := &conflictingStore{Memory: mem}
	svc, err := booking.NewService(booking.Config{
		Store:        cs,
		Reservations: engine.NewReservationEngine(mem, zerolog.Nop()),
		Sequencer:    engine.NewSequencer(mem),
		Clock:        fixedClock,
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)
	ctx := context.Background()
	_, err = svc.ReceivePurchase(ctx, manager, acme, 1000, decimal.NewFromInt(25))
	require.NoError(t, err)
	buyer, err := svc.RegisterCounterparty(ctx, agent, "Buyer")
	require.NoError(t, err)
	b, err := svc.CreateBooking(ctx, agent, booking.CreateRequest{
		SecurityID: acme, CounterpartyID: buyer.ID, Quantity: 100, UnitPrice: decimal.NewFromInt(30),
	})
	require.NoError(t, err)

	// WHEN: Approving
	cs.fail = true
	_, err = svc.ApproveBooking(ctx, manager, b.ID, true)

	// THEN: The caller sees the conflict and the reservation was undone
	assert.ErrorIs(t, err, engine.ErrConcurrentModification)
	inv, err := mem.GetInventory(ctx, acme)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), inv.Available)
	assert.Equal(t, int64(0), inv.Blocked)

	stored, err := mem.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.ApprovalPending, stored.ApprovalStatus)
}

// =============================================================================
// VOID AND REFUND
// =============================================================================

func TestVoidBooking_ReturnsStockAndOwesRefund(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		// GIVEN: 1000 in stock, booking of 100 approved and paid 2750
		ctx := context.Background()
		f.stock(t, 1000, "25")
		b := f.create(t, 100, "27.50")
		_, err := f.svc.ApproveBooking(ctx, manager, b.ID, true)
		require.NoError(t, err)
		assert.Equal(t, int64(900), f.inventory(t).Available)
		_, err = f.svc.RecordPayment(ctx, agent, b.ID, decimal.NewFromInt(2750))
		require.NoError(t, err)

		// WHEN: The booking is voided
		b, err = f.svc.VoidBooking(ctx, manager, b.ID, "counterparty withdrew")
		require.NoError(t, err)

		// THEN: Stock is back to 1000 and a refund of 2750 is owed
		assert.True(t, b.Voided)
		inv := f.inventory(t)
		assert.Equal(t, int64(1000), inv.Available)
		assert.Equal(t, int64(0), inv.Blocked)

		refunds, err := f.svc.ListRefunds(ctx, b.ID)
		require.NoError(t, err)
		require.Len(t, refunds, 1)
		assert.True(t, decimal.NewFromInt(2750).Equal(refunds[0].Amount))
		assert.Equal(t, f.buyer.ID, refunds[0].CounterpartyID)
		assert.Equal(t, booking.LiabilityPending, refunds[0].Status)

		assert.Contains(t, f.notifier.types(), booking.EventRefundOwed)
	})
}

func TestVoidBooking_UnpaidNoRefund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stock(t, 1000, "25")
	b := f.create(t, 100, "27.50")
	_, err := f.svc.ApproveBooking(ctx, manager, b.ID, true)
	require.NoError(t, err)

	_, err = f.svc.VoidBooking(ctx, manager, b.ID, "changed mind")
	require.NoError(t, err)

	refunds, err := f.svc.ListRefunds(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, refunds)
}

func TestVoidBooking_TwiceRejected(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		f.stock(t, 1000, "25")
		b := f.create(t, 100, "27.50")
		_, err := f.svc.ApproveBooking(ctx, manager, b.ID, true)
		require.NoError(t, err)
		_, err = f.svc.VoidBooking(ctx, manager, b.ID, "first")
		require.NoError(t, err)

		_, err = f.svc.VoidBooking(ctx, manager, b.ID, "second")
		assert.ErrorIs(t, err, engine.ErrInvalidStateTransition)

		// Released exactly once
		inv := f.inventory(t)
		assert.Equal(t, int64(1000), inv.Available)
		assert.Equal(t, int64(0), inv.Blocked)
	})
}

// =============================================================================
// LOSS GATE
// =============================================================================

func TestLossBooking_ConfirmationBlockedUntilLossApproved(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		// GIVEN: Cost 100, price 90
		ctx := context.Background()
		f.stock(t, 500, "100")
		b := f.create(t, 10, "90")
		assert.True(t, b.IsLoss)
		assert.Equal(t, booking.LossPending, b.LossApprovalStatus)

		// WHEN: Confirming before approval
		res, err := f.svc.ConfirmBooking(ctx, agent, b.ID, true)
		require.NoError(t, err)
		assert.Equal(t, booking.ConfirmPendingApproval, res.Outcome)
		assert.Equal(t, int64(1), res.Booking.Version, "pending outcomes do not write")

		// AND: After approval, still behind the loss gate
		_, err = f.svc.ApproveBooking(ctx, manager, b.ID, true)
		require.NoError(t, err)
		res, err = f.svc.ConfirmBooking(ctx, agent, b.ID, true)
		require.NoError(t, err)
		assert.Equal(t, booking.ConfirmPendingLossApproval, res.Outcome)
		assert.Equal(t, booking.ConfirmationPending, res.Booking.ConfirmationStatus)

		// THEN: Once the loss is approved, confirmation goes through
		_, err = f.svc.ApproveLoss(ctx, manager, b.ID, true)
		require.NoError(t, err)
		res, err = f.svc.ConfirmBooking(ctx, agent, b.ID, true)
		require.NoError(t, err)
		assert.Equal(t, booking.ConfirmAccepted, res.Outcome)
		assert.Equal(t, booking.ConfirmationAccepted, res.Booking.ConfirmationStatus)
	})
}

func TestLossRejection_CascadesReleasesAndRefunds(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		// GIVEN: An approved, partly paid loss booking
		ctx := context.Background()
		f.stock(t, 500, "100")
		b := f.create(t, 10, "90")
		_, err := f.svc.ApproveBooking(ctx, manager, b.ID, true)
		require.NoError(t, err)
		_, err = f.svc.RecordPayment(ctx, agent, b.ID, decimal.NewFromInt(300))
		require.NoError(t, err)
		assert.Equal(t, int64(10), f.inventory(t).Blocked)

		// WHEN: The loss is rejected
		b, err = f.svc.ApproveLoss(ctx, manager, b.ID, false)
		require.NoError(t, err)

		// THEN: Booking rejected, stock released, payment owed back
		assert.Equal(t, booking.ApprovalRejected, b.ApprovalStatus)
		assert.Equal(t, booking.LossRejected, b.LossApprovalStatus)
		inv := f.inventory(t)
		assert.Equal(t, int64(500), inv.Available)
		assert.Equal(t, int64(0), inv.Blocked)

		refunds, err := f.svc.ListRefunds(ctx, b.ID)
		require.NoError(t, err)
		require.Len(t, refunds, 1)
		assert.True(t, decimal.NewFromInt(300).Equal(refunds[0].Amount))
	})
}

func TestApproveLoss_NotALossBooking(t *testing.T) {
	f := newFixture(t)
	f.stock(t, 100, "10")
	b := f.create(t, 10, "20")

	_, err := f.svc.ApproveLoss(context.Background(), manager, b.ID, true)
	assert.ErrorIs(t, err, engine.ErrInvalidStateTransition)
}

// =============================================================================
// TRANSFER AND SETTLEMENT
// =============================================================================

func TestConfirmTransfer_SettlesAndConsumes(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		f.stock(t, 1000, "25")
		b := f.create(t, 100, "27.50")
		_, err := f.svc.ApproveBooking(ctx, manager, b.ID, true)
		require.NoError(t, err)

		// GIVEN: Partial payment only
		_, err = f.svc.RecordPayment(ctx, agent, b.ID, decimal.NewFromInt(1000))
		require.NoError(t, err)
		_, err = f.svc.ConfirmTransfer(ctx, manager, b.ID)
		require.ErrorIs(t, err, engine.ErrInvalidStateTransition)

		// WHEN: Paid in full and transferred
		_, err = f.svc.RecordPayment(ctx, agent, b.ID, decimal.NewFromInt(1750))
		require.NoError(t, err)
		b, err = f.svc.ConfirmTransfer(ctx, manager, b.ID)
		require.NoError(t, err)

		// THEN: Quantity consumed, commission split 75/25 with the referrer
		assert.True(t, b.Transferred)
		assert.Equal(t, booking.CommissionCalculated, b.CommissionStatus)
		inv := f.inventory(t)
		assert.Equal(t, int64(900), inv.Available)
		assert.Equal(t, int64(0), inv.Blocked)

		payables, err := f.svc.ListPayables(ctx, b.ID)
		require.NoError(t, err)
		require.Len(t, payables, 2)
		byRole := map[booking.PayeeRole]booking.Payable{}
		for _, p := range payables {
			byRole[p.Role] = p
		}
		assert.True(t, decimal.NewFromInt(75).Equal(byRole[booking.PayeeAgent].Amount))
		assert.Equal(t, "agent-1", byRole[booking.PayeeAgent].PayeeID)
		assert.True(t, decimal.NewFromInt(25).Equal(byRole[booking.PayeeReferral].Amount))

		types := f.notifier.types()
		assert.Contains(t, types, booking.EventTransferConfirmed)
		assert.Contains(t, types, booking.EventCommissionCalculated)
	})
}

func TestConfirmTransfer_TerminalIsIdempotentlyRefused(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		f.stock(t, 1000, "25")
		b := f.create(t, 100, "27.50")
		_, err := f.svc.ApproveBooking(ctx, manager, b.ID, true)
		require.NoError(t, err)
		_, err = f.svc.RecordPayment(ctx, agent, b.ID, b.AmountDue())
		require.NoError(t, err)
		_, err = f.svc.ConfirmTransfer(ctx, manager, b.ID)
		require.NoError(t, err)

		// WHEN: Transfer is retried and a void attempted
		_, err = f.svc.ConfirmTransfer(ctx, manager, b.ID)
		assert.ErrorIs(t, err, engine.ErrInvalidStateTransition)
		_, err = f.svc.VoidBooking(ctx, manager, b.ID, "too late")
		assert.ErrorIs(t, err, engine.ErrInvalidStateTransition)

		// THEN: Consumed once, settled once
		inv := f.inventory(t)
		assert.Equal(t, int64(900), inv.Total())
		payables, err := f.svc.ListPayables(ctx, b.ID)
		require.NoError(t, err)
		assert.Len(t, payables, 2)
	})
}

func TestMarkCommissionPaid(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		f.stock(t, 1000, "25")
		b := f.create(t, 100, "27.50")
		_, err := f.svc.ApproveBooking(ctx, manager, b.ID, true)
		require.NoError(t, err)

		_, err = f.svc.MarkCommissionPaid(ctx, manager, b.ID)
		assert.ErrorIs(t, err, engine.ErrInvalidStateTransition)

		_, err = f.svc.RecordPayment(ctx, agent, b.ID, b.AmountDue())
		require.NoError(t, err)
		_, err = f.svc.ConfirmTransfer(ctx, manager, b.ID)
		require.NoError(t, err)

		b, err = f.svc.MarkCommissionPaid(ctx, manager, b.ID)
		require.NoError(t, err)
		assert.Equal(t, booking.CommissionPaid, b.CommissionStatus)

		payables, err := f.svc.ListPayables(ctx, b.ID)
		require.NoError(t, err)
		for _, p := range payables {
			assert.Equal(t, booking.LiabilityPaid, p.Status)
		}
	})
}

// =============================================================================
// PERMISSIONS, AUDIT, NOTIFICATIONS
// =============================================================================

func TestPermissionDenied_NothingChangesAndIsAudited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stock(t, 1000, "25")
	b := f.create(t, 100, "27.50")

	// WHEN: An agent tries to approve and a viewer tries to void
	_, err := f.svc.ApproveBooking(ctx, agent, b.ID, true)
	require.ErrorIs(t, err, engine.ErrPermissionDenied)
	_, err = f.svc.VoidBooking(ctx, viewer, b.ID, "nope")
	require.ErrorIs(t, err, engine.ErrPermissionDenied)

	// THEN: The booking and ledger are untouched
	stored, err := f.svc.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.ApprovalPending, stored.ApprovalStatus)
	assert.Equal(t, int64(1000), f.inventory(t).Available)

	// AND: Both refusals are in the audit log
	entries, err := f.db.ListAudit(ctx, b.ID)
	require.NoError(t, err)
	var denied []booking.AuditEntry
	for _, e := range entries {
		if e.Outcome == booking.AuditFailure {
			denied = append(denied, e)
		}
	}
	require.Len(t, denied, 2)
	assert.Equal(t, booking.ActionApproveBooking, denied[0].Action)
	assert.Equal(t, engine.KindPermissionDenied, denied[0].ErrorKind)
	assert.Equal(t, "agent-1", denied[0].ActorID)
	assert.Equal(t, booking.ActionVoidBooking, denied[1].Action)
	assert.Equal(t, booking.RoleViewer, denied[1].ActorRole)
}

func TestPermissionChecker_PlainErrorsAreWrapped(t *testing.T) {
	deny := booking.PermissionFunc(func(context.Context, booking.Actor, booking.Action) error {
		return errors.New("directory says no")
	})
	mem := store.NewMemory()
	svc, err := booking.NewService(booking.Config{
		Store:        mem,
		Reservations: engine.NewReservationEngine(mem, zerolog.Nop()),
		Sequencer:    engine.NewSequencer(mem),
		Permissions:  deny,
	})
	require.NoError(t, err)

	_, err = svc.ReceivePurchase(context.Background(), manager, acme, 10, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, engine.ErrPermissionDenied)
	assert.Contains(t, err.Error(), "directory says no")
}

func TestAudit_SuccessCarriesActorAndSecurity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stock(t, 1000, "25")
	b := f.create(t, 100, "27.50")
	_, err := f.svc.ApproveBooking(ctx, manager, b.ID, true)
	require.NoError(t, err)

	entries, err := f.db.ListAudit(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, booking.ActionCreateBooking, entries[0].Action)
	assert.Equal(t, booking.ActionApproveBooking, entries[1].Action)
	for _, e := range entries {
		assert.Equal(t, booking.AuditSuccess, e.Outcome)
		assert.Equal(t, acme, e.SecurityID)
		assert.True(t, fixedClock().Equal(e.At))
		assert.NotEmpty(t, e.ID)
	}
}

func TestNotifications_OnlyAfterSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stock(t, 100, "25")
	b := f.create(t, 100, "27.50")
	_, err := f.svc.ApproveBooking(ctx, manager, b.ID, true)
	require.NoError(t, err)

	// A refused operation emits nothing
	before := len(f.notifier.types())
	_, err = f.svc.ApproveBooking(ctx, manager, b.ID, true)
	require.Error(t, err)
	assert.Len(t, f.notifier.types(), before)

	assert.Equal(t, []booking.EventType{
		booking.EventCounterpartyCreated,
		booking.EventPurchaseReceived,
		booking.EventBookingCreated,
		booking.EventBookingApproved,
	}, f.notifier.types())
}

func TestNotifications_FailureDoesNotFailOperation(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("broker down")
	f.stock(t, 100, "25")

	b := f.create(t, 10, "30")
	_, err := f.svc.ApproveBooking(context.Background(), manager, b.ID, true)
	assert.NoError(t, err)
}

func TestQueries_UnknownBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.GetBooking(ctx, "missing")
	assert.ErrorIs(t, err, engine.ErrNotFound)
	_, err = f.svc.ListPayables(ctx, "missing")
	assert.ErrorIs(t, err, engine.ErrNotFound)
	_, err = f.svc.ListRefunds(ctx, "missing")
	assert.ErrorIs(t, err, engine.ErrNotFound)
	_, err = f.svc.GetBooking(ctx, "")
	assert.ErrorIs(t, err, engine.ErrValidation)
}
