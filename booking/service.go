/*
service.go - Operation entry points for purchases, clients and bookings

PURPOSE:
  Service is the only way bookings change. Every mutating operation follows
  the same shape:

    1. permission check
    2. load the booking and run the pure guard from machine.go
    3. apply ledger and booking writes in saga order
    4. notify (after commit only)
    5. audit (always, via defer)

SAGA ORDER:
  Operations that take stock (approve) reserve first and then commit the
  booking with a compare-and-set. If the commit loses, the reservation is
  compensated with Release.

  Operations that give stock back or consume it (void, loss rejection,
  transfer) commit the booking first, with refunds or payables in the same
  atomic write, and then apply the ledger step. That step can only fail when
  the ledger invariant is already broken; the failure is logged at error
  level and returned as engine.InvariantError.

    approve:   Reserve ──▶ CAS ──(lost)──▶ Release
    void:      CAS+refund ──▶ Release
    transfer:  Settle ──▶ CAS+payables ──▶ Consume

CONCURRENCY:
  No locks here. Ledger serialization lives in the LedgerStore, booking
  serialization in the Store's version check. A caller that loses a race
  receives engine.ErrConcurrentModification and may resubmit.

SEE ALSO:
  - machine.go:        transition guards
  - settlement.go:     commission split
  - collaborators.go:  permission, notification and audit interfaces
*/
package booking

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/warp/booking-engine/engine"
)

const (
	DefaultNumberPrefix = "BK"
	DefaultClientPrefix = "CL"
)

// Config wires a Service. Store, Reservations and Sequencer are required;
// everything else has a default.
type Config struct {
	Store        Store
	Reservations *engine.ReservationEngine
	Sequencer    *engine.Sequencer

	Permissions PermissionChecker
	Notifier    NotificationSink
	Audit       AuditSink
	Commission  CommissionPolicy

	NumberPrefix string
	ClientPrefix string

	Clock  func() time.Time
	NewID  func() string
	Logger zerolog.Logger
}

// Service drives the booking lifecycle.
type Service struct {
	store        Store
	reservations *engine.ReservationEngine
	sequencer    *engine.Sequencer
	permissions  PermissionChecker
	notifier     NotificationSink
	audit        AuditSink
	commission   CommissionPolicy
	numberPrefix string
	clientPrefix string
	clock        func() time.Time
	newID        func() string
	log          zerolog.Logger
}

// NewService validates cfg and fills defaults.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("booking: store is required")
	}
	if cfg.Reservations == nil {
		return nil, errors.New("booking: reservation engine is required")
	}
	if cfg.Sequencer == nil {
		return nil, errors.New("booking: sequencer is required")
	}

	s := &Service{
		store:        cfg.Store,
		reservations: cfg.Reservations,
		sequencer:    cfg.Sequencer,
		permissions:  cfg.Permissions,
		notifier:     cfg.Notifier,
		audit:        cfg.Audit,
		commission:   cfg.Commission,
		numberPrefix: cfg.NumberPrefix,
		clientPrefix: cfg.ClientPrefix,
		clock:        cfg.Clock,
		newID:        cfg.NewID,
		log:          cfg.Logger.With().Str("component", "booking").Logger(),
	}
	if s.permissions == nil {
		s.permissions = AllowAll
	}
	if s.notifier == nil {
		s.notifier = NopNotifier
	}
	if s.audit == nil {
		s.audit = NopAudit
	}
	if s.numberPrefix == "" {
		s.numberPrefix = DefaultNumberPrefix
	}
	if s.clientPrefix == "" {
		s.clientPrefix = DefaultClientPrefix
	}
	if s.clock == nil {
		s.clock = func() time.Time { return time.Now().UTC() }
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s, nil
}

// =============================================================================
// PURCHASES AND CLIENTS
// =============================================================================

// ReceivePurchase credits purchased shares into the ledger.
func (s *Service) ReceivePurchase(ctx context.Context, actor Actor, security engine.SecurityID, qty int64, unitCost decimal.Decimal) (inv engine.Inventory, err error) {
	rec := s.track(ctx, actor, ActionReceivePurchase, "")
	rec.entry.SecurityID = security
	defer func() { rec.finish(err) }()

	if err = s.authorize(ctx, actor, ActionReceivePurchase); err != nil {
		return engine.Inventory{}, err
	}
	inv, err = s.reservations.Credit(ctx, security, qty, unitCost)
	if err != nil {
		return engine.Inventory{}, err
	}

	s.emit(ctx, Event{
		Type:       EventPurchaseReceived,
		SecurityID: security,
		Payload: map[string]any{
			"quantity":  qty,
			"unit_cost": unitCost.String(),
			"available": inv.Available,
			"wac":       inv.WeightedAvgCost.String(),
		},
	})
	return inv, nil
}

// RegisterCounterparty issues the next client code and stores the buyer.
func (s *Service) RegisterCounterparty(ctx context.Context, actor Actor, name string) (c Counterparty, err error) {
	rec := s.track(ctx, actor, ActionRegisterClient, "")
	defer func() { rec.finish(err) }()

	if err = s.authorize(ctx, actor, ActionRegisterClient); err != nil {
		return Counterparty{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Counterparty{}, engine.Invalid("name", "is required")
	}

	n, err := s.sequencer.Next(ctx, engine.ClientSequenceKey())
	if err != nil {
		return Counterparty{}, err
	}
	c = Counterparty{
		ID:        CounterpartyID(s.newID()),
		Code:      engine.FormatClientCode(s.clientPrefix, n),
		Name:      name,
		CreatedAt: s.clock(),
	}
	if err = s.store.InsertCounterparty(ctx, c); err != nil {
		return Counterparty{}, err
	}

	s.emit(ctx, Event{
		Type:    EventCounterpartyCreated,
		Payload: map[string]any{"counterparty_id": string(c.ID), "code": c.Code},
	})
	return c, nil
}

// =============================================================================
// BOOKING LIFECYCLE
// =============================================================================

// CreateRequest is the input to CreateBooking. AgentID defaults to the
// acting user.
type CreateRequest struct {
	SecurityID     engine.SecurityID
	CounterpartyID CounterpartyID
	AgentID        string
	ReferrerID     string
	Quantity       int64
	UnitPrice      decimal.Decimal
}

func (r CreateRequest) validate() error {
	switch {
	case r.SecurityID == "":
		return engine.Invalid("security_id", "is required")
	case r.CounterpartyID == "":
		return engine.Invalid("counterparty_id", "is required")
	case r.Quantity <= 0:
		return engine.Invalid("quantity", "must be positive")
	case !r.UnitPrice.IsPositive():
		return engine.Invalid("unit_price", "must be positive")
	}
	return nil
}

// CreateBooking records a pending sale intent. The inventory check is
// advisory and nothing is reserved until approval.
func (s *Service) CreateBooking(ctx context.Context, actor Actor, req CreateRequest) (b Booking, err error) {
	rec := s.track(ctx, actor, ActionCreateBooking, "")
	rec.entry.SecurityID = req.SecurityID
	defer func() { rec.finish(err) }()

	if err = s.authorize(ctx, actor, ActionCreateBooking); err != nil {
		return Booking{}, err
	}
	if err = req.validate(); err != nil {
		return Booking{}, err
	}
	if _, err = s.store.GetCounterparty(ctx, req.CounterpartyID); err != nil {
		return Booking{}, err
	}

	inv, err := s.reservations.Inventory(ctx, req.SecurityID)
	if err != nil {
		return Booking{}, err
	}
	if inv.Available < req.Quantity {
		return Booking{}, &engine.InsufficientInventoryError{
			SecurityID: req.SecurityID,
			Available:  inv.Available,
			Requested:  req.Quantity,
		}
	}

	now := s.clock()
	period := strconv.Itoa(now.Year())
	n, err := s.sequencer.Next(ctx, engine.BookingSequenceKey(period))
	if err != nil {
		return Booking{}, err
	}

	agent := req.AgentID
	if agent == "" {
		agent = actor.ID
	}
	b = Booking{
		ID:                 BookingID(s.newID()),
		Number:             engine.FormatBookingNumber(s.numberPrefix, period, n),
		SecurityID:         req.SecurityID,
		CounterpartyID:     req.CounterpartyID,
		AgentID:            agent,
		ReferrerID:         req.ReferrerID,
		Quantity:           req.Quantity,
		UnitCost:           inv.WeightedAvgCost,
		UnitPrice:          req.UnitPrice,
		ApprovalStatus:     ApprovalPending,
		IsLoss:             req.UnitPrice.LessThan(inv.WeightedAvgCost),
		LossApprovalStatus: LossNotRequired,
		ConfirmationStatus: ConfirmationPending,
		AmountPaid:         decimal.Zero,
		CommissionStatus:   CommissionPending,
		Version:            1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if b.IsLoss {
		b.LossApprovalStatus = LossPending
	}
	rec.entry.BookingID = b.ID

	if err = s.store.InsertBooking(ctx, b); err != nil {
		return Booking{}, err
	}

	s.emit(ctx, s.bookingEvent(EventBookingCreated, b, map[string]any{
		"quantity":   b.Quantity,
		"unit_price": b.UnitPrice.String(),
		"is_loss":    b.IsLoss,
	}))
	return b, nil
}

// ApproveBooking accepts or rejects a pending booking. Acceptance reserves
// the quantity first; if inventory is short the booking stays pending.
func (s *Service) ApproveBooking(ctx context.Context, actor Actor, id BookingID, accept bool) (b Booking, err error) {
	rec := s.track(ctx, actor, ActionApproveBooking, id)
	defer func() { rec.finish(err) }()

	cur, err := s.load(ctx, actor, ActionApproveBooking, id, rec)
	if err != nil {
		return Booking{}, err
	}
	next, err := planApproval(cur, accept)
	if err != nil {
		return Booking{}, err
	}

	if !accept {
		b, err = s.commit(ctx, cur, next, Effects{})
		if err != nil {
			return Booking{}, err
		}
		s.emit(ctx, s.bookingEvent(EventBookingRejected, b, nil))
		return b, nil
	}

	if _, err = s.reservations.Reserve(ctx, cur.SecurityID, cur.Quantity); err != nil {
		return Booking{}, err
	}
	b, err = s.commit(ctx, cur, next, Effects{})
	if err != nil {
		s.compensateReserve(ctx, cur, err)
		return Booking{}, err
	}

	s.emit(ctx, s.bookingEvent(EventBookingApproved, b, map[string]any{"quantity": b.Quantity}))
	return b, nil
}

// ApproveLoss settles the loss gate. Rejection also rejects the booking and
// returns any reserved quantity; money already collected becomes a refund
// liability.
func (s *Service) ApproveLoss(ctx context.Context, actor Actor, id BookingID, accept bool) (b Booking, err error) {
	rec := s.track(ctx, actor, ActionApproveLoss, id)
	defer func() { rec.finish(err) }()

	cur, err := s.load(ctx, actor, ActionApproveLoss, id, rec)
	if err != nil {
		return Booking{}, err
	}
	next, release, err := planLossDecision(cur, accept)
	if err != nil {
		return Booking{}, err
	}

	var fx Effects
	if !accept && cur.AmountPaid.IsPositive() {
		fx.Refunds = []RefundLiability{s.refundFor(cur)}
	}

	b, err = s.commit(ctx, cur, next, fx)
	if err != nil {
		return Booking{}, err
	}
	if release {
		if _, err = s.reservations.Release(ctx, b.SecurityID, b.Quantity); err != nil {
			s.afterCommitFailure(b, "loss rejection", err)
			return b, err
		}
	}

	if accept {
		s.emit(ctx, s.bookingEvent(EventLossApproved, b, nil))
		return b, nil
	}
	s.emit(ctx, s.bookingEvent(EventLossRejected, b, map[string]any{"released": release}))
	s.emitRefunds(ctx, b, fx.Refunds)
	return b, nil
}

// ConfirmResult carries the outcome of ConfirmBooking. Pending outcomes
// leave the booking unchanged.
type ConfirmResult struct {
	Outcome ConfirmOutcome
	Booking Booking
}

// ConfirmBooking records the counterparty's acceptance or decline.
func (s *Service) ConfirmBooking(ctx context.Context, actor Actor, id BookingID, accept bool) (res ConfirmResult, err error) {
	rec := s.track(ctx, actor, ActionConfirmBooking, id)
	defer func() { rec.finish(err) }()

	cur, err := s.load(ctx, actor, ActionConfirmBooking, id, rec)
	if err != nil {
		return ConfirmResult{}, err
	}
	next, outcome, err := planConfirmation(cur, accept)
	if err != nil {
		return ConfirmResult{}, err
	}
	if outcome == ConfirmPendingApproval || outcome == ConfirmPendingLossApproval {
		return ConfirmResult{Outcome: outcome, Booking: cur}, nil
	}

	b, err := s.commit(ctx, cur, next, Effects{})
	if err != nil {
		return ConfirmResult{}, err
	}

	evt := EventBookingConfirmed
	if outcome == ConfirmDeclined {
		evt = EventBookingDeclined
	}
	s.emit(ctx, s.bookingEvent(evt, b, nil))
	return ConfirmResult{Outcome: outcome, Booking: b}, nil
}

// RecordPayment adds amount to the booking's paid total.
func (s *Service) RecordPayment(ctx context.Context, actor Actor, id BookingID, amount decimal.Decimal) (b Booking, err error) {
	rec := s.track(ctx, actor, ActionRecordPayment, id)
	defer func() { rec.finish(err) }()

	cur, err := s.load(ctx, actor, ActionRecordPayment, id, rec)
	if err != nil {
		return Booking{}, err
	}
	next, err := planPayment(cur, amount)
	if err != nil {
		return Booking{}, err
	}
	b, err = s.commit(ctx, cur, next, Effects{})
	if err != nil {
		return Booking{}, err
	}

	s.emit(ctx, s.bookingEvent(EventPaymentRecorded, b, map[string]any{
		"amount":           amount.String(),
		"amount_paid":      b.AmountPaid.String(),
		"amount_due":       b.AmountDue().String(),
		"payment_complete": b.PaymentComplete(),
	}))
	return b, nil
}

// VoidBooking cancels an approved booking before transfer and returns its
// quantity to available.
func (s *Service) VoidBooking(ctx context.Context, actor Actor, id BookingID, reason string) (b Booking, err error) {
	rec := s.track(ctx, actor, ActionVoidBooking, id)
	defer func() { rec.finish(err) }()

	cur, err := s.load(ctx, actor, ActionVoidBooking, id, rec)
	if err != nil {
		return Booking{}, err
	}
	next, refund, err := planVoid(cur, reason)
	if err != nil {
		return Booking{}, err
	}

	var fx Effects
	if refund {
		fx.Refunds = []RefundLiability{s.refundFor(cur)}
	}
	b, err = s.commit(ctx, cur, next, fx)
	if err != nil {
		return Booking{}, err
	}
	if _, err = s.reservations.Release(ctx, b.SecurityID, b.Quantity); err != nil {
		s.afterCommitFailure(b, "void", err)
		return b, err
	}

	s.emit(ctx, s.bookingEvent(EventBookingVoided, b, map[string]any{"reason": b.VoidReason}))
	s.emitRefunds(ctx, b, fx.Refunds)
	return b, nil
}

// ConfirmTransfer settles a fully paid booking: the reserved quantity is
// consumed and commission payables are created. Settlement is computed
// before anything is written.
func (s *Service) ConfirmTransfer(ctx context.Context, actor Actor, id BookingID) (b Booking, err error) {
	rec := s.track(ctx, actor, ActionConfirmTransfer, id)
	defer func() { rec.finish(err) }()

	cur, err := s.load(ctx, actor, ActionConfirmTransfer, id, rec)
	if err != nil {
		return Booking{}, err
	}
	next, err := planTransfer(cur)
	if err != nil {
		return Booking{}, err
	}
	settlement, err := Settle(cur, s.commission, s.clock(), s.newID)
	if err != nil {
		return Booking{}, err
	}

	b, err = s.commit(ctx, cur, next, Effects{Payables: settlement.Payables})
	if err != nil {
		return Booking{}, err
	}
	if _, err = s.reservations.Consume(ctx, b.SecurityID, b.Quantity); err != nil {
		s.afterCommitFailure(b, "transfer", err)
		return b, err
	}

	s.emit(ctx, s.bookingEvent(EventTransferConfirmed, b, map[string]any{"quantity": b.Quantity}))
	s.emit(ctx, s.bookingEvent(EventCommissionCalculated, b, map[string]any{
		"profit":         settlement.Profit.String(),
		"pool":           settlement.Pool.String(),
		"agent_share":    settlement.AgentShare.String(),
		"referral_share": settlement.ReferralShare.String(),
	}))
	return b, nil
}

// MarkCommissionPaid closes the commission axis and every pending payable.
func (s *Service) MarkCommissionPaid(ctx context.Context, actor Actor, id BookingID) (b Booking, err error) {
	rec := s.track(ctx, actor, ActionMarkCommissionPaid, id)
	defer func() { rec.finish(err) }()

	cur, err := s.load(ctx, actor, ActionMarkCommissionPaid, id, rec)
	if err != nil {
		return Booking{}, err
	}
	next, err := planCommissionPaid(cur)
	if err != nil {
		return Booking{}, err
	}
	b, err = s.commit(ctx, cur, next, Effects{SettlePayables: true})
	if err != nil {
		return Booking{}, err
	}

	s.emit(ctx, s.bookingEvent(EventCommissionPaid, b, nil))
	return b, nil
}

// =============================================================================
// QUERIES
// =============================================================================

func (s *Service) GetBooking(ctx context.Context, id BookingID) (Booking, error) {
	if id == "" {
		return Booking{}, engine.Invalid("booking_id", "is required")
	}
	return s.store.GetBooking(ctx, id)
}

func (s *Service) ListBookings(ctx context.Context, filter Filter) ([]Booking, error) {
	return s.store.ListBookings(ctx, filter)
}

func (s *Service) GetCounterparty(ctx context.Context, id CounterpartyID) (Counterparty, error) {
	return s.store.GetCounterparty(ctx, id)
}

func (s *Service) GetInventory(ctx context.Context, security engine.SecurityID) (engine.Inventory, error) {
	return s.reservations.Inventory(ctx, security)
}

func (s *Service) ListInventory(ctx context.Context) ([]engine.Inventory, error) {
	return s.reservations.Inventories(ctx)
}

func (s *Service) ListPayables(ctx context.Context, id BookingID) ([]Payable, error) {
	if _, err := s.GetBooking(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListPayables(ctx, id)
}

func (s *Service) ListRefunds(ctx context.Context, id BookingID) ([]RefundLiability, error) {
	if _, err := s.GetBooking(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListRefunds(ctx, id)
}

// =============================================================================
// INTERNALS
// =============================================================================

func (s *Service) authorize(ctx context.Context, actor Actor, action Action) error {
	if err := s.permissions.Check(ctx, actor, action); err != nil {
		if !errors.Is(err, engine.ErrPermissionDenied) {
			return fmt.Errorf("%w: %v", engine.ErrPermissionDenied, err)
		}
		return err
	}
	return nil
}

// load authorizes and fetches the booking an operation works on.
func (s *Service) load(ctx context.Context, actor Actor, action Action, id BookingID, rec *auditRecord) (Booking, error) {
	if err := s.authorize(ctx, actor, action); err != nil {
		return Booking{}, err
	}
	if id == "" {
		return Booking{}, engine.Invalid("booking_id", "is required")
	}
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return Booking{}, err
	}
	rec.entry.SecurityID = b.SecurityID
	return b, nil
}

// commit writes next if cur is still the stored version.
func (s *Service) commit(ctx context.Context, cur, next Booking, fx Effects) (Booking, error) {
	next.UpdatedAt = s.clock()
	return s.store.UpdateBooking(ctx, next, cur.Version, fx)
}

func (s *Service) compensateReserve(ctx context.Context, b Booking, cause error) {
	// The caller's context may already be cancelled; the release must still
	// run or the quantity stays blocked.
	cctx := context.WithoutCancel(ctx)
	if _, err := s.reservations.Release(cctx, b.SecurityID, b.Quantity); err != nil {
		s.log.Error().
			Str("booking_id", string(b.ID)).
			Str("security", string(b.SecurityID)).
			Int64("qty", b.Quantity).
			AnErr("cause", cause).
			Err(err).
			Msg("failed to compensate reservation")
		return
	}
	s.log.Warn().
		Str("booking_id", string(b.ID)).
		Int64("qty", b.Quantity).
		AnErr("cause", cause).
		Msg("reservation compensated after failed commit")
}

func (s *Service) afterCommitFailure(b Booking, op string, err error) {
	s.log.Error().
		Str("booking_id", string(b.ID)).
		Str("booking_number", b.Number).
		Str("security", string(b.SecurityID)).
		Str("op", op).
		Err(err).
		Msg("ledger step failed after booking commit")
}

func (s *Service) refundFor(b Booking) RefundLiability {
	return RefundLiability{
		ID:             s.newID(),
		BookingID:      b.ID,
		CounterpartyID: b.CounterpartyID,
		Amount:         b.AmountPaid,
		Status:         LiabilityPending,
		CreatedAt:      s.clock(),
	}
}

func (s *Service) bookingEvent(t EventType, b Booking, payload map[string]any) Event {
	return Event{
		Type:          t,
		BookingID:     b.ID,
		BookingNumber: b.Number,
		SecurityID:    b.SecurityID,
		Payload:       payload,
	}
}

func (s *Service) emitRefunds(ctx context.Context, b Booking, refunds []RefundLiability) {
	for _, r := range refunds {
		s.emit(ctx, s.bookingEvent(EventRefundOwed, b, map[string]any{
			"refund_id":       r.ID,
			"counterparty_id": string(r.CounterpartyID),
			"amount":          r.Amount.String(),
		}))
	}
}

// emit delivers evt. Failures are logged and never reach the caller.
func (s *Service) emit(ctx context.Context, evt Event) {
	evt.ID = s.newID()
	evt.At = s.clock()
	if err := s.notifier.Notify(ctx, evt); err != nil {
		s.log.Warn().
			Str("event", string(evt.Type)).
			Str("booking_id", string(evt.BookingID)).
			Err(err).
			Msg("notification failed")
	}
}

// auditRecord collects one audit entry across an operation.
type auditRecord struct {
	s     *Service
	ctx   context.Context
	entry AuditEntry
}

func (s *Service) track(ctx context.Context, actor Actor, action Action, id BookingID) *auditRecord {
	return &auditRecord{
		s:   s,
		ctx: ctx,
		entry: AuditEntry{
			ActorID:   actor.ID,
			ActorRole: actor.Role,
			Action:    action,
			BookingID: id,
		},
	}
}

func (r *auditRecord) finish(err error) {
	r.entry.ID = r.s.newID()
	r.entry.At = r.s.clock()
	r.entry.Outcome = AuditSuccess
	if err != nil {
		r.entry.Outcome = AuditFailure
		r.entry.ErrorKind = engine.KindOf(err)
		r.entry.Error = err.Error()
	}
	if aerr := r.s.audit.Record(context.WithoutCancel(r.ctx), r.entry); aerr != nil {
		r.s.log.Warn().
			Str("action", string(r.entry.Action)).
			Str("booking_id", string(r.entry.BookingID)).
			Err(aerr).
			Msg("audit record failed")
	}
}
