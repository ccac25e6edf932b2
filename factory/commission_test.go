package factory_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/booking-engine/booking"
	"github.com/warp/booking-engine/engine"
	"github.com/warp/booking-engine/factory"
)

func TestParseCommission_FullPolicy(t *testing.T) {
	f := factory.NewCommissionFactory()

	p, err := f.ParseCommission(`{"pool_percent": "50", "referral_percent": 30, "referral_cap_percent": "20.5"}`)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(50).Equal(p.PoolPercent))
	assert.True(t, decimal.NewFromInt(30).Equal(p.ReferralPercent))
	assert.True(t, decimal.RequireFromString("20.5").Equal(p.ReferralCapPercent))
}

func TestParseCommission_OmittedFieldsUseDefaults(t *testing.T) {
	f := factory.NewCommissionFactory()
	def := booking.DefaultCommissionPolicy()

	p, err := f.ParseCommission(`{"pool_percent": "10"}`)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(10).Equal(p.PoolPercent))
	assert.True(t, def.ReferralPercent.Equal(p.ReferralPercent))
	assert.True(t, def.ReferralCapPercent.Equal(p.ReferralCapPercent))

	p, err = f.ParseCommission(`{}`)
	require.NoError(t, err)
	assert.True(t, def.PoolPercent.Equal(p.PoolPercent))
}

func TestParseCommission_Errors(t *testing.T) {
	f := factory.NewCommissionFactory()
	cases := map[string]string{
		"json":                 `{"pool_percent": `,
		"pool_percent":         `{"pool_percent": "120"}`,
		"referral_cap_percent": `{"referral_cap_percent": -5}`,
	}
	for setting, input := range cases {
		t.Run(setting, func(t *testing.T) {
			_, err := f.ParseCommission(input)
			var cfgErr *engine.SettlementConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, setting, cfgErr.Setting)
		})
	}
}

func TestLoadCommissionFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commission.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"pool_percent": "35"}`), 0o600))

	p, err := factory.NewCommissionFactory().LoadCommissionFile(path)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(35).Equal(p.PoolPercent))

	_, err = factory.NewCommissionFactory().LoadCommissionFile(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestToJSON_ParsesBack(t *testing.T) {
	original := booking.CommissionPolicy{
		PoolPercent:        decimal.NewFromInt(45),
		ReferralPercent:    decimal.NewFromInt(20),
		ReferralCapPercent: decimal.NewFromInt(15),
	}
	data, err := json.Marshal(factory.ToJSON(original))
	require.NoError(t, err)

	p, err := factory.NewCommissionFactory().ParseCommission(string(data))
	require.NoError(t, err)
	assert.True(t, original.PoolPercent.Equal(p.PoolPercent))
	assert.True(t, original.ReferralCapPercent.Equal(p.ReferralCapPercent))
}
