/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements every persistence interface of the booking engine using SQLite.
  In production the same patterns apply to PostgreSQL; only minor SQL dialect
  differences.

INTERFACES IMPLEMENTED:
  engine.LedgerStore:   inventory rows
  engine.SequenceStore: monotonic counters
  booking.Store:        bookings, counterparties, refunds, payables
  booking.AuditSink:    append-only audit log

GUARDED UPDATES:
  Ledger moves are one conditional statement each. The guard and the write
  cannot be separated by another connection:

    UPDATE inventory SET available = available - ?, blocked = blocked + ?
    WHERE security_id = ? AND available >= ?
    RETURNING ...

  No row returned means the guard failed (or the row does not exist) and
  nothing was written.

SEQUENCES:
  INSERT ... ON CONFLICT(key) DO UPDATE SET value = value + 1 RETURNING value

BOOKING WRITES:
  Compare-and-set on version inside an IMMEDIATE transaction, together with
  any refunds or payables the transition produces.

KEY TABLES:
  inventory:          one row per security, quantities + WAC (TEXT decimal)
  sequences:          key → last issued value
  counterparties:     buyers with unique client codes
  bookings:           booking records, unique number, version counter
  refund_liabilities: money owed back after a void
  payables:           commission shares owed after transfer
  audit_log:          every attempted operation

CONCURRENCY:
  No Go-level locking. SQLite serializes writers, busy_timeout makes
  contending writers wait instead of failing, and _txlock=immediate takes the
  write lock at BEGIN so read-then-write transactions cannot interleave.

USAGE:
  store, err := sqlite.New("./data/booking.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - engine/store.go: ledger and sequence contracts
  - booking/store.go: booking persistence contract
  - engine/store/memory.go: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/booking-engine/booking"
	"github.com/warp/booking-engine/engine"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS inventory (
		security_id TEXT PRIMARY KEY,
		available INTEGER NOT NULL DEFAULT 0 CHECK (available >= 0),
		blocked INTEGER NOT NULL DEFAULT 0 CHECK (blocked >= 0),
		weighted_avg_cost TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sequences (
		key TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS counterparties (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY,
		number TEXT NOT NULL UNIQUE,
		security_id TEXT NOT NULL REFERENCES inventory(security_id),
		counterparty_id TEXT NOT NULL REFERENCES counterparties(id),
		agent_id TEXT NOT NULL DEFAULT '',
		referrer_id TEXT NOT NULL DEFAULT '',
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		unit_cost TEXT NOT NULL,
		unit_price TEXT NOT NULL,
		approval_status TEXT NOT NULL,
		is_loss BOOLEAN NOT NULL DEFAULT FALSE,
		loss_approval_status TEXT NOT NULL,
		confirmation_status TEXT NOT NULL,
		voided BOOLEAN NOT NULL DEFAULT FALSE,
		void_reason TEXT NOT NULL DEFAULT '',
		transferred BOOLEAN NOT NULL DEFAULT FALSE,
		amount_paid TEXT NOT NULL DEFAULT '0',
		commission_status TEXT NOT NULL,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK (NOT (voided AND transferred))
	);

	CREATE INDEX IF NOT EXISTS idx_bookings_security
		ON bookings(security_id);
	CREATE INDEX IF NOT EXISTS idx_bookings_counterparty
		ON bookings(counterparty_id);
	CREATE INDEX IF NOT EXISTS idx_bookings_approval
		ON bookings(approval_status);

	CREATE TABLE IF NOT EXISTS refund_liabilities (
		id TEXT PRIMARY KEY,
		booking_id TEXT NOT NULL REFERENCES bookings(id),
		counterparty_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_refunds_booking
		ON refund_liabilities(booking_id);

	CREATE TABLE IF NOT EXISTS payables (
		id TEXT PRIMARY KEY,
		booking_id TEXT NOT NULL REFERENCES bookings(id),
		payee_id TEXT NOT NULL,
		role TEXT NOT NULL,
		amount TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payables_booking
		ON payables(booking_id);

	-- Audit log (append-only)
	CREATE TABLE IF NOT EXISTS audit_log (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		at TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		actor_role TEXT NOT NULL,
		action TEXT NOT NULL,
		booking_id TEXT NOT NULL DEFAULT '',
		security_id TEXT NOT NULL DEFAULT '',
		outcome TEXT NOT NULL,
		error_kind TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_audit_booking
		ON audit_log(booking_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LEDGER (engine.LedgerStore interface)
// =============================================================================

const inventoryColumns = `security_id, available, blocked, weighted_avg_cost, created_at, updated_at`

// Credit adds qty to available and recomputes the weighted-average cost.
// The read and the write share one immediate transaction.
func (s *Store) Credit(ctx context.Context, security engine.SecurityID, qty int64, unitCost decimal.Decimal) (engine.Inventory, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return engine.Inventory{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var (
		cur     engine.Inventory
		wacText string
	)
	err = tx.QueryRowContext(ctx,
		"SELECT available, blocked, weighted_avg_cost FROM inventory WHERE security_id = ?", security,
	).Scan(&cur.Available, &cur.Blocked, &wacText)
	wac := decimal.Zero
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return engine.Inventory{}, fmt.Errorf("failed to read inventory: %w", err)
	default:
		if wac, err = decimal.NewFromString(wacText); err != nil {
			return engine.Inventory{}, fmt.Errorf("corrupt weighted_avg_cost for %s: %w", security, err)
		}
	}
	// SQLite promotes an overflowing integer sum to REAL.
	if err := cur.CheckCredit(qty); err != nil {
		return engine.Inventory{}, err
	}

	newWAC := engine.WeightedAverage(cur.Available, wac, qty, unitCost)
	now := s.now().Format(time.RFC3339Nano)

	inv, err := scanInventory(tx.QueryRowContext(ctx, `
		INSERT INTO inventory (security_id, available, blocked, weighted_avg_cost, created_at, updated_at)
		VALUES (?, ?, 0, ?, ?, ?)
		ON CONFLICT(security_id) DO UPDATE SET
			available = available + excluded.available,
			weighted_avg_cost = excluded.weighted_avg_cost,
			updated_at = excluded.updated_at
		RETURNING `+inventoryColumns,
		security, qty, newWAC.String(), now, now,
	))
	if err != nil {
		return engine.Inventory{}, fmt.Errorf("failed to credit inventory: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return engine.Inventory{}, fmt.Errorf("failed to commit credit: %w", err)
	}
	return inv, nil
}

// Reserve moves qty from available to blocked in one guarded statement.
func (s *Store) Reserve(ctx context.Context, security engine.SecurityID, qty int64) (engine.Inventory, error) {
	inv, err := scanInventory(s.db.QueryRowContext(ctx, `
		UPDATE inventory
		SET available = available - ?, blocked = blocked + ?, updated_at = ?
		WHERE security_id = ? AND available >= ?
		RETURNING `+inventoryColumns,
		qty, qty, s.now().Format(time.RFC3339Nano), security, qty,
	))
	if errors.Is(err, sql.ErrNoRows) {
		cur, gerr := s.GetInventory(ctx, security)
		if gerr != nil {
			return engine.Inventory{}, gerr
		}
		return engine.Inventory{}, &engine.InsufficientInventoryError{
			SecurityID: security,
			Available:  cur.Available,
			Requested:  qty,
		}
	}
	if err != nil {
		return engine.Inventory{}, fmt.Errorf("failed to reserve inventory: %w", err)
	}
	return inv, nil
}

// Release moves qty from blocked back to available.
func (s *Store) Release(ctx context.Context, security engine.SecurityID, qty int64) (engine.Inventory, error) {
	now := s.now().Format(time.RFC3339Nano)
	return s.drainBlocked(ctx, security, qty, "release", `
		UPDATE inventory
		SET blocked = blocked - ?, available = available + ?, updated_at = ?
		WHERE security_id = ? AND blocked >= ?
		RETURNING `+inventoryColumns,
		qty, qty, now, security, qty)
}

// Consume permanently removes qty from blocked.
func (s *Store) Consume(ctx context.Context, security engine.SecurityID, qty int64) (engine.Inventory, error) {
	now := s.now().Format(time.RFC3339Nano)
	return s.drainBlocked(ctx, security, qty, "consume", `
		UPDATE inventory
		SET blocked = blocked - ?, updated_at = ?
		WHERE security_id = ? AND blocked >= ?
		RETURNING `+inventoryColumns,
		qty, now, security, qty)
}

func (s *Store) drainBlocked(ctx context.Context, security engine.SecurityID, qty int64, op, query string, args ...any) (engine.Inventory, error) {
	inv, err := scanInventory(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		cur, gerr := s.GetInventory(ctx, security)
		if gerr != nil {
			return engine.Inventory{}, gerr
		}
		return engine.Inventory{}, &engine.InvariantError{
			SecurityID: security,
			Operation:  op,
			Blocked:    cur.Blocked,
			Requested:  qty,
		}
	}
	if err != nil {
		return engine.Inventory{}, fmt.Errorf("failed to %s inventory: %w", op, err)
	}
	return inv, nil
}

// GetInventory returns the ledger row for security.
func (s *Store) GetInventory(ctx context.Context, security engine.SecurityID) (engine.Inventory, error) {
	inv, err := scanInventory(s.db.QueryRowContext(ctx,
		"SELECT "+inventoryColumns+" FROM inventory WHERE security_id = ?", security,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return engine.Inventory{}, &engine.NotFoundError{Kind: "security", ID: string(security)}
	}
	if err != nil {
		return engine.Inventory{}, fmt.Errorf("failed to get inventory: %w", err)
	}
	return inv, nil
}

// ListInventory returns all ledger rows ordered by security.
func (s *Store) ListInventory(ctx context.Context) ([]engine.Inventory, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+inventoryColumns+" FROM inventory ORDER BY security_id")
	if err != nil {
		return nil, fmt.Errorf("failed to query inventory: %w", err)
	}
	defer rows.Close()

	var result []engine.Inventory
	for rows.Next() {
		inv, err := scanInventory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan inventory: %w", err)
		}
		result = append(result, inv)
	}
	return result, rows.Err()
}

// =============================================================================
// SEQUENCES (engine.SequenceStore interface)
// =============================================================================

// NextSequence increments and returns the counter in a single statement.
func (s *Store) NextSequence(ctx context.Context, key string) (int64, error) {
	var value int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO sequences (key, value) VALUES (?, 1)
		ON CONFLICT(key) DO UPDATE SET value = value + 1
		RETURNING value`, key,
	).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("failed to advance sequence: %w", err)
	}
	return value, nil
}

// =============================================================================
// BOOKINGS (booking.Store interface)
// =============================================================================

const bookingColumns = `id, number, security_id, counterparty_id, agent_id, referrer_id,
	quantity, unit_cost, unit_price, approval_status, is_loss, loss_approval_status,
	confirmation_status, voided, void_reason, transferred, amount_paid,
	commission_status, version, created_at, updated_at`

// InsertBooking stores a new booking.
func (s *Store) InsertBooking(ctx context.Context, b booking.Booking) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Number, b.SecurityID, b.CounterpartyID, b.AgentID, b.ReferrerID,
		b.Quantity, b.UnitCost.String(), b.UnitPrice.String(), b.ApprovalStatus, b.IsLoss,
		b.LossApprovalStatus, b.ConfirmationStatus, b.Voided, b.VoidReason, b.Transferred,
		b.AmountPaid.String(), b.CommissionStatus, b.Version,
		b.CreatedAt.Format(time.RFC3339Nano), b.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("booking %s (%s) already exists: %w", b.ID, b.Number, err)
		}
		return fmt.Errorf("failed to insert booking: %w", err)
	}
	return nil
}

// GetBooking returns a booking by ID.
func (s *Store) GetBooking(ctx context.Context, id booking.BookingID) (booking.Booking, error) {
	b, err := scanBooking(s.db.QueryRowContext(ctx,
		"SELECT "+bookingColumns+" FROM bookings WHERE id = ?", id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return booking.Booking{}, &engine.NotFoundError{Kind: "booking", ID: string(id)}
	}
	if err != nil {
		return booking.Booking{}, fmt.Errorf("failed to get booking: %w", err)
	}
	return b, nil
}

// ListBookings returns bookings matching f ordered by number.
func (s *Store) ListBookings(ctx context.Context, f booking.Filter) ([]booking.Booking, error) {
	var (
		where []string
		args  []any
	)
	if f.SecurityID != "" {
		where = append(where, "security_id = ?")
		args = append(args, f.SecurityID)
	}
	if f.CounterpartyID != "" {
		where = append(where, "counterparty_id = ?")
		args = append(args, f.CounterpartyID)
	}
	if f.Approval != "" {
		where = append(where, "approval_status = ?")
		args = append(args, f.Approval)
	}

	query := "SELECT " + bookingColumns + " FROM bookings"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY number ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	var result []booking.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

// UpdateBooking commits b and its effects if the stored version still equals
// expectedVersion.
func (s *Store) UpdateBooking(ctx context.Context, b booking.Booking, expectedVersion int64, fx booking.Effects) (booking.Booking, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return booking.Booking{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE bookings SET
			approval_status = ?, loss_approval_status = ?, confirmation_status = ?,
			voided = ?, void_reason = ?, transferred = ?, amount_paid = ?,
			commission_status = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		b.ApprovalStatus, b.LossApprovalStatus, b.ConfirmationStatus,
		b.Voided, b.VoidReason, b.Transferred, b.AmountPaid.String(),
		b.CommissionStatus, b.UpdatedAt.Format(time.RFC3339Nano),
		b.ID, expectedVersion,
	)
	if err != nil {
		return booking.Booking{}, fmt.Errorf("failed to update booking: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return booking.Booking{}, fmt.Errorf("failed to update booking: %w", err)
	}
	if n == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM bookings WHERE id = ?", b.ID).Scan(&exists); err != nil {
			return booking.Booking{}, fmt.Errorf("failed to check booking: %w", err)
		}
		if exists == 0 {
			return booking.Booking{}, &engine.NotFoundError{Kind: "booking", ID: string(b.ID)}
		}
		return booking.Booking{}, fmt.Errorf("booking %s, expected version %d: %w",
			b.ID, expectedVersion, engine.ErrConcurrentModification)
	}

	for _, r := range fx.Refunds {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO refund_liabilities (id, booking_id, counterparty_id, amount, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			r.ID, r.BookingID, r.CounterpartyID, r.Amount.String(), r.Status, r.CreatedAt.Format(time.RFC3339Nano),
		); err != nil {
			return booking.Booking{}, fmt.Errorf("failed to insert refund liability: %w", err)
		}
	}
	for _, p := range fx.Payables {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO payables (id, booking_id, payee_id, role, amount, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.BookingID, p.PayeeID, p.Role, p.Amount.String(), p.Status, p.CreatedAt.Format(time.RFC3339Nano),
		); err != nil {
			return booking.Booking{}, fmt.Errorf("failed to insert payable: %w", err)
		}
	}
	if fx.SettlePayables {
		if _, err := tx.ExecContext(ctx,
			"UPDATE payables SET status = ? WHERE booking_id = ? AND status = ?",
			booking.LiabilityPaid, b.ID, booking.LiabilityPending,
		); err != nil {
			return booking.Booking{}, fmt.Errorf("failed to settle payables: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return booking.Booking{}, fmt.Errorf("failed to commit booking update: %w", err)
	}
	b.Version = expectedVersion + 1
	return b, nil
}

// ListRefunds returns the refund liabilities of a booking.
func (s *Store) ListRefunds(ctx context.Context, id booking.BookingID) ([]booking.RefundLiability, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, booking_id, counterparty_id, amount, status, created_at
		FROM refund_liabilities WHERE booking_id = ? ORDER BY created_at, id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query refunds: %w", err)
	}
	defer rows.Close()

	var result []booking.RefundLiability
	for rows.Next() {
		var (
			r         booking.RefundLiability
			amount    string
			createdAt string
		)
		if err := rows.Scan(&r.ID, &r.BookingID, &r.CounterpartyID, &amount, &r.Status, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan refund: %w", err)
		}
		if r.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("corrupt refund amount: %w", err)
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		result = append(result, r)
	}
	return result, rows.Err()
}

// ListPayables returns the commission payables of a booking.
func (s *Store) ListPayables(ctx context.Context, id booking.BookingID) ([]booking.Payable, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, booking_id, payee_id, role, amount, status, created_at
		FROM payables WHERE booking_id = ? ORDER BY role, id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query payables: %w", err)
	}
	defer rows.Close()

	var result []booking.Payable
	for rows.Next() {
		var (
			p         booking.Payable
			amount    string
			createdAt string
		)
		if err := rows.Scan(&p.ID, &p.BookingID, &p.PayeeID, &p.Role, &amount, &p.Status, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan payable: %w", err)
		}
		if p.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("corrupt payable amount: %w", err)
		}
		p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		result = append(result, p)
	}
	return result, rows.Err()
}

// =============================================================================
// COUNTERPARTIES
// =============================================================================

// InsertCounterparty stores a new counterparty.
func (s *Store) InsertCounterparty(ctx context.Context, c booking.Counterparty) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO counterparties (id, code, name, created_at) VALUES (?, ?, ?, ?)",
		c.ID, c.Code, c.Name, c.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("counterparty %s (%s) already exists: %w", c.ID, c.Code, err)
		}
		return fmt.Errorf("failed to insert counterparty: %w", err)
	}
	return nil
}

// GetCounterparty returns a counterparty by ID.
func (s *Store) GetCounterparty(ctx context.Context, id booking.CounterpartyID) (booking.Counterparty, error) {
	var (
		c         booking.Counterparty
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, code, name, created_at FROM counterparties WHERE id = ?", id,
	).Scan(&c.ID, &c.Code, &c.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return booking.Counterparty{}, &engine.NotFoundError{Kind: "counterparty", ID: string(id)}
	}
	if err != nil {
		return booking.Counterparty{}, fmt.Errorf("failed to get counterparty: %w", err)
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return c, nil
}

// =============================================================================
// AUDIT LOG (booking.AuditSink interface)
// =============================================================================

// Record appends an audit entry.
func (s *Store) Record(ctx context.Context, e booking.AuditEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, at, actor_id, actor_role, action, booking_id, security_id, outcome, error_kind, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.At.Format(time.RFC3339Nano), e.ActorID, e.ActorRole, e.Action,
		e.BookingID, e.SecurityID, e.Outcome, e.ErrorKind, e.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

// ListAudit returns audit entries oldest first, limited to one booking when
// id is set.
func (s *Store) ListAudit(ctx context.Context, id booking.BookingID) ([]booking.AuditEntry, error) {
	query := `SELECT id, at, actor_id, actor_role, action, booking_id, security_id, outcome, error_kind, error
		FROM audit_log`
	var args []any
	if id != "" {
		query += " WHERE booking_id = ?"
		args = append(args, id)
	}
	query += " ORDER BY seq ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var result []booking.AuditEntry
	for rows.Next() {
		var (
			e  booking.AuditEntry
			at string
		)
		if err := rows.Scan(&e.ID, &at, &e.ActorID, &e.ActorRole, &e.Action,
			&e.BookingID, &e.SecurityID, &e.Outcome, &e.ErrorKind, &e.Error); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		result = append(result, e)
	}
	return result, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanInventory(row scanner) (engine.Inventory, error) {
	var (
		inv                  engine.Inventory
		wac                  string
		createdAt, updatedAt string
	)
	if err := row.Scan(&inv.SecurityID, &inv.Available, &inv.Blocked, &wac, &createdAt, &updatedAt); err != nil {
		return engine.Inventory{}, err
	}
	var err error
	if inv.WeightedAvgCost, err = decimal.NewFromString(wac); err != nil {
		return engine.Inventory{}, fmt.Errorf("corrupt weighted_avg_cost: %w", err)
	}
	inv.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	inv.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return inv, nil
}

func scanBooking(row scanner) (booking.Booking, error) {
	var (
		b                         booking.Booking
		unitCost, unitPrice, paid string
		createdAt, updatedAt      string
	)
	err := row.Scan(
		&b.ID, &b.Number, &b.SecurityID, &b.CounterpartyID, &b.AgentID, &b.ReferrerID,
		&b.Quantity, &unitCost, &unitPrice, &b.ApprovalStatus, &b.IsLoss, &b.LossApprovalStatus,
		&b.ConfirmationStatus, &b.Voided, &b.VoidReason, &b.Transferred, &paid,
		&b.CommissionStatus, &b.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		return booking.Booking{}, err
	}
	if b.UnitCost, err = decimal.NewFromString(unitCost); err != nil {
		return booking.Booking{}, fmt.Errorf("corrupt unit_cost: %w", err)
	}
	if b.UnitPrice, err = decimal.NewFromString(unitPrice); err != nil {
		return booking.Booking{}, fmt.Errorf("corrupt unit_price: %w", err)
	}
	if b.AmountPaid, err = decimal.NewFromString(paid); err != nil {
		return booking.Booking{}, fmt.Errorf("corrupt amount_paid: %w", err)
	}
	b.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	b.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return b, nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
