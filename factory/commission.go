/*
Package factory provides JSON to Go commission policy conversion.

PURPOSE:
  Converts a JSON commission definition into booking.CommissionPolicy. Sales
  management can change the split without a release: the server reads the
  file named by COMMISSION_CONFIG at startup.

JSON SCHEMA:
  {
    "pool_percent": "40",
    "referral_percent": "30",
    "referral_cap_percent": "25"
  }

  Percentages may be JSON strings or numbers. Omitted fields take the
  default policy's value.

VALIDATION:
  Every percentage must lie in [0, 100]. Violations are returned as
  engine.SettlementConfigError so a bad file fails at startup.

USAGE:
  f := factory.NewCommissionFactory()
  policy, err := f.ParseCommission(jsonString)
  policy, err := f.LoadCommissionFile("./config/commission.json")

SEE ALSO:
  - booking/settlement.go: CommissionPolicy and the split it drives
*/
package factory

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/warp/booking-engine/booking"
	"github.com/warp/booking-engine/engine"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// CommissionJSON is the JSON representation of a commission policy.
type CommissionJSON struct {
	PoolPercent        *decimal.Decimal `json:"pool_percent,omitempty"`
	ReferralPercent    *decimal.Decimal `json:"referral_percent,omitempty"`
	ReferralCapPercent *decimal.Decimal `json:"referral_cap_percent,omitempty"`
}

// =============================================================================
// COMMISSION FACTORY
// =============================================================================

// CommissionFactory converts JSON commission definitions to policies.
type CommissionFactory struct {
	defaults booking.CommissionPolicy
}

// NewCommissionFactory creates a factory whose omitted fields fall back to
// booking.DefaultCommissionPolicy.
func NewCommissionFactory() *CommissionFactory {
	return &CommissionFactory{defaults: booking.DefaultCommissionPolicy()}
}

// ParseCommission parses a JSON string into a validated CommissionPolicy.
func (f *CommissionFactory) ParseCommission(jsonStr string) (booking.CommissionPolicy, error) {
	var cj CommissionJSON
	if err := json.Unmarshal([]byte(jsonStr), &cj); err != nil {
		return booking.CommissionPolicy{}, &engine.SettlementConfigError{
			Setting: "json",
			Message: fmt.Sprintf("failed to parse commission JSON: %v", err),
		}
	}
	return f.FromJSON(cj)
}

// LoadCommissionFile reads and parses a commission policy file.
func (f *CommissionFactory) LoadCommissionFile(path string) (booking.CommissionPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return booking.CommissionPolicy{}, fmt.Errorf("failed to read commission config: %w", err)
	}
	return f.ParseCommission(string(data))
}

// FromJSON converts CommissionJSON to a validated CommissionPolicy.
func (f *CommissionFactory) FromJSON(cj CommissionJSON) (booking.CommissionPolicy, error) {
	policy := f.defaults
	if cj.PoolPercent != nil {
		policy.PoolPercent = *cj.PoolPercent
	}
	if cj.ReferralPercent != nil {
		policy.ReferralPercent = *cj.ReferralPercent
	}
	if cj.ReferralCapPercent != nil {
		policy.ReferralCapPercent = *cj.ReferralCapPercent
	}

	if err := policy.Validate(); err != nil {
		return booking.CommissionPolicy{}, err
	}
	return policy, nil
}

// ToJSON renders a policy in the file format.
func ToJSON(p booking.CommissionPolicy) CommissionJSON {
	return CommissionJSON{
		PoolPercent:        &p.PoolPercent,
		ReferralPercent:    &p.ReferralPercent,
		ReferralCapPercent: &p.ReferralCapPercent,
	}
}
