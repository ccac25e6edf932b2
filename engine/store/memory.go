// Package store provides in-process implementations of the engine and
// booking storage interfaces.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/booking-engine/booking"
	"github.com/warp/booking-engine/engine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements engine.LedgerStore, engine.SequenceStore, booking.Store
// and booking.AuditSink.
//
// Ledger rows carry their own mutex; the row map lock is held only to find
// or create a row, so operations on different securities never wait on each
// other. Sequences are atomic counters.
type Memory struct {
	rowsMu sync.Mutex
	rows   map[engine.SecurityID]*ledgerRow

	seqMu sync.Mutex
	seqs  map[string]*atomic.Int64

	mu             sync.RWMutex
	bookings       map[booking.BookingID]booking.Booking
	numbers        map[string]booking.BookingID
	refunds        map[booking.BookingID][]booking.RefundLiability
	payables       map[booking.BookingID][]booking.Payable
	counterparties map[booking.CounterpartyID]booking.Counterparty
	codes          map[string]booking.CounterpartyID

	auditMu sync.Mutex
	audit   []booking.AuditEntry

	now func() time.Time
}

type ledgerRow struct {
	mu  sync.Mutex
	inv engine.Inventory
}

func NewMemory() *Memory {
	return &Memory{
		rows:           make(map[engine.SecurityID]*ledgerRow),
		seqs:           make(map[string]*atomic.Int64),
		bookings:       make(map[booking.BookingID]booking.Booking),
		numbers:        make(map[string]booking.BookingID),
		refunds:        make(map[booking.BookingID][]booking.RefundLiability),
		payables:       make(map[booking.BookingID][]booking.Payable),
		counterparties: make(map[booking.CounterpartyID]booking.Counterparty),
		codes:          make(map[string]booking.CounterpartyID),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// =============================================================================
// LEDGER (engine.LedgerStore)
// =============================================================================

// row returns the ledger row for security, creating it when create is set.
func (m *Memory) row(security engine.SecurityID, create bool) (*ledgerRow, bool) {
	m.rowsMu.Lock()
	defer m.rowsMu.Unlock()

	r, ok := m.rows[security]
	if !ok && create {
		now := m.now()
		r = &ledgerRow{inv: engine.Inventory{
			SecurityID:      security,
			WeightedAvgCost: decimal.Zero,
			CreatedAt:       now,
			UpdatedAt:       now,
		}}
		m.rows[security] = r
		ok = true
	}
	return r, ok
}

func (m *Memory) Credit(_ context.Context, security engine.SecurityID, qty int64, unitCost decimal.Decimal) (engine.Inventory, error) {
	r, _ := m.row(security, true)
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.inv.CheckCredit(qty); err != nil {
		return engine.Inventory{}, err
	}
	r.inv.WeightedAvgCost = engine.WeightedAverage(r.inv.Available, r.inv.WeightedAvgCost, qty, unitCost)
	r.inv.Available += qty
	r.inv.UpdatedAt = m.now()
	return r.inv, nil
}

func (m *Memory) Reserve(_ context.Context, security engine.SecurityID, qty int64) (engine.Inventory, error) {
	r, ok := m.row(security, false)
	if !ok {
		return engine.Inventory{}, &engine.NotFoundError{Kind: "security", ID: string(security)}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inv.Available < qty {
		return engine.Inventory{}, &engine.InsufficientInventoryError{
			SecurityID: security,
			Available:  r.inv.Available,
			Requested:  qty,
		}
	}
	r.inv.Available -= qty
	r.inv.Blocked += qty
	r.inv.UpdatedAt = m.now()
	return r.inv, nil
}

func (m *Memory) Release(_ context.Context, security engine.SecurityID, qty int64) (engine.Inventory, error) {
	return m.drainBlocked(security, qty, "release", true)
}

func (m *Memory) Consume(_ context.Context, security engine.SecurityID, qty int64) (engine.Inventory, error) {
	return m.drainBlocked(security, qty, "consume", false)
}

// drainBlocked removes qty from blocked, returning it to available when
// restore is set.
func (m *Memory) drainBlocked(security engine.SecurityID, qty int64, op string, restore bool) (engine.Inventory, error) {
	r, ok := m.row(security, false)
	if !ok {
		return engine.Inventory{}, &engine.NotFoundError{Kind: "security", ID: string(security)}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inv.Blocked < qty {
		return engine.Inventory{}, &engine.InvariantError{
			SecurityID: security,
			Operation:  op,
			Blocked:    r.inv.Blocked,
			Requested:  qty,
		}
	}
	r.inv.Blocked -= qty
	if restore {
		r.inv.Available += qty
	}
	r.inv.UpdatedAt = m.now()
	return r.inv, nil
}

func (m *Memory) GetInventory(_ context.Context, security engine.SecurityID) (engine.Inventory, error) {
	r, ok := m.row(security, false)
	if !ok {
		return engine.Inventory{}, &engine.NotFoundError{Kind: "security", ID: string(security)}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inv, nil
}

func (m *Memory) ListInventory(_ context.Context) ([]engine.Inventory, error) {
	m.rowsMu.Lock()
	rows := make([]*ledgerRow, 0, len(m.rows))
	for _, r := range m.rows {
		rows = append(rows, r)
	}
	m.rowsMu.Unlock()

	result := make([]engine.Inventory, 0, len(rows))
	for _, r := range rows {
		r.mu.Lock()
		result = append(result, r.inv)
		r.mu.Unlock()
	}
	sort.Slice(result, func(i, j int) bool { return result[i].SecurityID < result[j].SecurityID })
	return result, nil
}

// =============================================================================
// SEQUENCES (engine.SequenceStore)
// =============================================================================

func (m *Memory) NextSequence(_ context.Context, key string) (int64, error) {
	m.seqMu.Lock()
	c, ok := m.seqs[key]
	if !ok {
		c = new(atomic.Int64)
		m.seqs[key] = c
	}
	m.seqMu.Unlock()
	return c.Add(1), nil
}

// =============================================================================
// BOOKINGS (booking.Store)
// =============================================================================

func (m *Memory) InsertBooking(_ context.Context, b booking.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.bookings[b.ID]; exists {
		return fmt.Errorf("booking %s already exists", b.ID)
	}
	if _, exists := m.numbers[b.Number]; exists {
		return fmt.Errorf("booking number %s already issued", b.Number)
	}
	m.bookings[b.ID] = b
	m.numbers[b.Number] = b.ID
	return nil
}

func (m *Memory) GetBooking(_ context.Context, id booking.BookingID) (booking.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.bookings[id]
	if !ok {
		return booking.Booking{}, &engine.NotFoundError{Kind: "booking", ID: string(id)}
	}
	return b, nil
}

func (m *Memory) ListBookings(_ context.Context, f booking.Filter) ([]booking.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []booking.Booking
	for _, b := range m.bookings {
		if f.SecurityID != "" && b.SecurityID != f.SecurityID {
			continue
		}
		if f.CounterpartyID != "" && b.CounterpartyID != f.CounterpartyID {
			continue
		}
		if f.Approval != "" && b.ApprovalStatus != f.Approval {
			continue
		}
		result = append(result, b)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Number < result[j].Number })
	return result, nil
}

// UpdateBooking commits b and fx if the stored version equals
// expectedVersion.
func (m *Memory) UpdateBooking(_ context.Context, b booking.Booking, expectedVersion int64, fx booking.Effects) (booking.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.bookings[b.ID]
	if !ok {
		return booking.Booking{}, &engine.NotFoundError{Kind: "booking", ID: string(b.ID)}
	}
	if stored.Version != expectedVersion {
		return booking.Booking{}, fmt.Errorf("booking %s at version %d, expected %d: %w",
			b.ID, stored.Version, expectedVersion, engine.ErrConcurrentModification)
	}

	b.Version = expectedVersion + 1
	m.bookings[b.ID] = b
	if len(fx.Refunds) > 0 {
		m.refunds[b.ID] = append(m.refunds[b.ID], fx.Refunds...)
	}
	if len(fx.Payables) > 0 {
		m.payables[b.ID] = append(m.payables[b.ID], fx.Payables...)
	}
	if fx.SettlePayables {
		for i := range m.payables[b.ID] {
			m.payables[b.ID][i].Status = booking.LiabilityPaid
		}
	}
	return b, nil
}

func (m *Memory) ListRefunds(_ context.Context, id booking.BookingID) ([]booking.RefundLiability, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]booking.RefundLiability(nil), m.refunds[id]...), nil
}

func (m *Memory) ListPayables(_ context.Context, id booking.BookingID) ([]booking.Payable, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]booking.Payable(nil), m.payables[id]...), nil
}

func (m *Memory) InsertCounterparty(_ context.Context, c booking.Counterparty) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.counterparties[c.ID]; exists {
		return fmt.Errorf("counterparty %s already exists", c.ID)
	}
	if _, exists := m.codes[c.Code]; exists {
		return fmt.Errorf("client code %s already issued", c.Code)
	}
	m.counterparties[c.ID] = c
	m.codes[c.Code] = c.ID
	return nil
}

func (m *Memory) GetCounterparty(_ context.Context, id booking.CounterpartyID) (booking.Counterparty, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.counterparties[id]
	if !ok {
		return booking.Counterparty{}, &engine.NotFoundError{Kind: "counterparty", ID: string(id)}
	}
	return c, nil
}

// =============================================================================
// AUDIT (booking.AuditSink)
// =============================================================================

func (m *Memory) Record(_ context.Context, e booking.AuditEntry) error {
	m.auditMu.Lock()
	defer m.auditMu.Unlock()
	m.audit = append(m.audit, e)
	return nil
}

// ListAudit returns entries oldest first, limited to one booking when id is
// set.
func (m *Memory) ListAudit(_ context.Context, id booking.BookingID) ([]booking.AuditEntry, error) {
	m.auditMu.Lock()
	defer m.auditMu.Unlock()

	var result []booking.AuditEntry
	for _, e := range m.audit {
		if id == "" || e.BookingID == id {
			result = append(result, e)
		}
	}
	return result, nil
}
