/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that drive the booking service through
	realistic flows. Every step goes through booking.Service as SystemActor,
	so the ledger, audit log and notifications see exactly what a real
	client would produce.

AVAILABLE SCENARIOS:

	void-refund:     1000 shares, booking of 100 approved, paid 2750, voided
	                 (stock returns to 1000, refund liability of 2750)
	full-settlement: booking paid in full and transferred, with a referrer
	                 (commission payables for agent and referral)
	loss-gate:       booking below cost waiting on loss approval
	contention:      two approvals of 600 against 1000 available

HOW SCENARIOS WORK:
 1. Credit a purchase for a scenario-specific security
 2. Register a counterparty
 3. Create and progress bookings through the service

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "void-refund"}

NOTE:

	Scenarios are additive. Loading one twice credits its security again and
	creates new bookings; nothing is reset.

SEE ALSO:
  - handlers.go: Handler context
  - booking/service.go: the operations each step calls
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/warp/booking-engine/booking"
	"github.com/warp/booking-engine/engine"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "void-refund",
		Name:        "Void With Refund",
		Description: "Approved and paid booking voided: stock returns and a refund liability is owed",
		Category:    "lifecycle",
	},
	{
		ID:          "full-settlement",
		Name:        "Full Settlement",
		Description: "Booking paid in full and transferred, commission split with a referrer",
		Category:    "lifecycle",
	},
	{
		ID:          "loss-gate",
		Name:        "Loss Gate",
		Description: "Booking priced below cost, confirmation blocked until loss approval",
		Category:    "approval",
	},
	{
		ID:          "contention",
		Name:        "Reservation Contention",
		Description: "Two approvals of 600 against 1000 available: one reserves, one is refused",
		Category:    "inventory",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the most recently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario runs a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ctx := r.Context()
	var (
		summary map[string]any
		err     error
	)
	switch req.ScenarioID {
	case "void-refund":
		summary, err = h.loadVoidRefundScenario(ctx)
	case "full-settlement":
		summary, err = h.loadFullSettlementScenario(ctx)
	case "loss-gate":
		summary, err = h.loadLossGateScenario(ctx)
	case "contention":
		summary, err = h.loadContentionScenario(ctx)
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}
	if err != nil {
		h.writeServiceError(w, r, fmt.Sprintf("Failed to load scenario %s", req.ScenarioID), err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()

	summary["status"] = "loaded"
	summary["scenario"] = req.ScenarioID
	writeJSON(w, http.StatusOK, summary)
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

var system = booking.SystemActor

// seed credits stock and registers a buyer for a scenario.
func (h *Handler) seed(ctx context.Context, security engine.SecurityID, qty int64, cost string, buyer string) (booking.Counterparty, error) {
	if _, err := h.Service.ReceivePurchase(ctx, system, security, qty, decimal.RequireFromString(cost)); err != nil {
		return booking.Counterparty{}, err
	}
	return h.Service.RegisterCounterparty(ctx, system, buyer)
}

func (h *Handler) loadVoidRefundScenario(ctx context.Context) (map[string]any, error) {
	const security = engine.SecurityID("DEMO-VOID")
	buyer, err := h.seed(ctx, security, 1000, "25.00", "Void Demo Buyer")
	if err != nil {
		return nil, err
	}

	b, err := h.Service.CreateBooking(ctx, system, booking.CreateRequest{
		SecurityID:     security,
		CounterpartyID: buyer.ID,
		Quantity:       100,
		UnitPrice:      decimal.RequireFromString("27.50"),
	})
	if err != nil {
		return nil, err
	}
	if _, err = h.Service.ApproveBooking(ctx, system, b.ID, true); err != nil {
		return nil, err
	}
	if _, err = h.Service.RecordPayment(ctx, system, b.ID, decimal.RequireFromString("2750")); err != nil {
		return nil, err
	}
	if b, err = h.Service.VoidBooking(ctx, system, b.ID, "counterparty withdrew"); err != nil {
		return nil, err
	}

	return map[string]any{"booking_id": string(b.ID), "booking_number": b.Number}, nil
}

func (h *Handler) loadFullSettlementScenario(ctx context.Context) (map[string]any, error) {
	const security = engine.SecurityID("DEMO-SETTLE")
	buyer, err := h.seed(ctx, security, 1000, "25.00", "Settlement Demo Buyer")
	if err != nil {
		return nil, err
	}

	b, err := h.Service.CreateBooking(ctx, system, booking.CreateRequest{
		SecurityID:     security,
		CounterpartyID: buyer.ID,
		AgentID:        "agent-demo",
		ReferrerID:     "referrer-demo",
		Quantity:       100,
		UnitPrice:      decimal.RequireFromString("27.50"),
	})
	if err != nil {
		return nil, err
	}
	steps := []func() error{
		func() error { _, err := h.Service.ApproveBooking(ctx, system, b.ID, true); return err },
		func() error { _, err := h.Service.ConfirmBooking(ctx, system, b.ID, true); return err },
		func() error { _, err := h.Service.RecordPayment(ctx, system, b.ID, b.AmountDue()); return err },
		func() error { _, err := h.Service.ConfirmTransfer(ctx, system, b.ID); return err },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}

	return map[string]any{"booking_id": string(b.ID), "booking_number": b.Number}, nil
}

func (h *Handler) loadLossGateScenario(ctx context.Context) (map[string]any, error) {
	const security = engine.SecurityID("DEMO-LOSS")
	buyer, err := h.seed(ctx, security, 500, "100", "Loss Demo Buyer")
	if err != nil {
		return nil, err
	}

	b, err := h.Service.CreateBooking(ctx, system, booking.CreateRequest{
		SecurityID:     security,
		CounterpartyID: buyer.ID,
		Quantity:       10,
		UnitPrice:      decimal.RequireFromString("90"),
	})
	if err != nil {
		return nil, err
	}
	if _, err = h.Service.ApproveBooking(ctx, system, b.ID, true); err != nil {
		return nil, err
	}
	res, err := h.Service.ConfirmBooking(ctx, system, b.ID, true)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"booking_id":     string(b.ID),
		"booking_number": b.Number,
		"confirm":        string(res.Outcome),
	}, nil
}

func (h *Handler) loadContentionScenario(ctx context.Context) (map[string]any, error) {
	const security = engine.SecurityID("DEMO-CONTENTION")
	buyer, err := h.seed(ctx, security, 1000, "25.00", "Contention Demo Buyer")
	if err != nil {
		return nil, err
	}

	var ids []booking.BookingID
	for i := 0; i < 2; i++ {
		b, err := h.Service.CreateBooking(ctx, system, booking.CreateRequest{
			SecurityID:     security,
			CounterpartyID: buyer.ID,
			Quantity:       600,
			UnitPrice:      decimal.RequireFromString("30"),
		})
		if err != nil {
			return nil, err
		}
		ids = append(ids, b.ID)
	}

	refused := 0
	for _, id := range ids {
		_, err := h.Service.ApproveBooking(ctx, system, id, true)
		switch {
		case errors.Is(err, engine.ErrInsufficientInventory):
			refused++
		case err != nil:
			return nil, err
		}
	}

	return map[string]any{"approved": len(ids) - refused, "refused": refused}, nil
}
