/*
settlement.go - Profit and commission split at transfer

PURPOSE:
  Computes, once, what a transferred booking earned and who is owed a share.
  It is a pure function of booking fields and the commission policy; the
  service persists the payables in the same write that sets transferred, so
  the terminal flag never exists without its settlement.

FORMULA:
  profit    = (price − cost) × quantity
  pool      = profit × PoolPercent / 100                  (profit > 0 only)
  referral  = pool × min(ReferralPercent, ReferralCapPercent) / 100
              (only when the booking has a referrer)
  agent     = pool − referral

EXAMPLE:
  qty 100, cost 25, price 27.50 → profit 250
  PoolPercent 40              → pool 100
  ReferralPercent 30, cap 25  → referral 25, agent 75

SEE ALSO:
  - factory/commission.go: JSON configuration for CommissionPolicy
*/
package booking

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/booking-engine/engine"
)

var hundred = decimal.NewFromInt(100)

// CommissionPolicy configures the profit split. Percentages are 0–100.
type CommissionPolicy struct {
	PoolPercent        decimal.Decimal
	ReferralPercent    decimal.Decimal
	ReferralCapPercent decimal.Decimal
}

// DefaultCommissionPolicy pays 40% of profit as commission, with a referral
// share of 25% of the pool.
func DefaultCommissionPolicy() CommissionPolicy {
	return CommissionPolicy{
		PoolPercent:        decimal.NewFromInt(40),
		ReferralPercent:    decimal.NewFromInt(25),
		ReferralCapPercent: decimal.NewFromInt(25),
	}
}

// Validate rejects percentages outside [0, 100].
func (p CommissionPolicy) Validate() error {
	checks := []struct {
		name  string
		value decimal.Decimal
	}{
		{"pool_percent", p.PoolPercent},
		{"referral_percent", p.ReferralPercent},
		{"referral_cap_percent", p.ReferralCapPercent},
	}
	for _, c := range checks {
		if c.value.IsNegative() || c.value.GreaterThan(hundred) {
			return &engine.SettlementConfigError{Setting: c.name, Message: "must be between 0 and 100, got " + c.value.String()}
		}
	}
	return nil
}

// effectiveReferralPercent applies the cap.
func (p CommissionPolicy) effectiveReferralPercent() decimal.Decimal {
	return decimal.Min(p.ReferralPercent, p.ReferralCapPercent)
}

// Settlement is the computed outcome for one booking.
type Settlement struct {
	Profit        decimal.Decimal
	Pool          decimal.Decimal
	AgentShare    decimal.Decimal
	ReferralShare decimal.Decimal
	Payables      []Payable
}

// Settle computes the settlement for b. newID supplies payable IDs.
func Settle(b Booking, policy CommissionPolicy, at time.Time, newID func() string) (Settlement, error) {
	if err := policy.Validate(); err != nil {
		return Settlement{}, err
	}

	s := Settlement{
		Profit:        b.Profit(),
		Pool:          decimal.Zero,
		AgentShare:    decimal.Zero,
		ReferralShare: decimal.Zero,
	}
	if !s.Profit.IsPositive() {
		return s, nil
	}

	s.Pool = s.Profit.Mul(policy.PoolPercent).Div(hundred).Round(2)
	if b.ReferrerID != "" {
		s.ReferralShare = s.Pool.Mul(policy.effectiveReferralPercent()).Div(hundred).Round(2)
	}
	s.AgentShare = s.Pool.Sub(s.ReferralShare)

	if s.AgentShare.IsPositive() {
		if b.AgentID == "" {
			return Settlement{}, &engine.SettlementConfigError{Setting: "agent_id", Message: "booking has no executing agent to pay"}
		}
		s.Payables = append(s.Payables, Payable{
			ID:        newID(),
			BookingID: b.ID,
			PayeeID:   b.AgentID,
			Role:      PayeeAgent,
			Amount:    s.AgentShare,
			Status:    LiabilityPending,
			CreatedAt: at,
		})
	}
	if s.ReferralShare.IsPositive() {
		s.Payables = append(s.Payables, Payable{
			ID:        newID(),
			BookingID: b.ID,
			PayeeID:   b.ReferrerID,
			Role:      PayeeReferral,
			Amount:    s.ReferralShare,
			Status:    LiabilityPending,
			CreatedAt: at,
		})
	}
	return s, nil
}
