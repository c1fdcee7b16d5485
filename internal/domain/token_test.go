package domain

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleToken = `{
	"mint": "7GCihgDB8fe6KNjn2MYtkzZcRjQy3t9GHdC8uHYmW2hr",
	"name": "Popcat",
	"symbol": "POPCAT",
	"amm": "raydium_amm",
	"usd_price": 0.42,
	"total_liquidity_usd": "$1,250,000.50",
	"bonding_curve_progress": "0.75",
	"total_buys_1h": 120,
	"total_sells_1h": 80,
	"price_percent_change_24h": -3.5,
	"dexPaid": true,
	"created_at": "2024-05-01T12:00:00Z",
	"unknown_field": {"nested": 1}
}`

func TestDecodeToken(t *testing.T) {
	tok, err := DecodeToken([]byte(sampleToken))
	require.NoError(t, err)

	assert.Equal(t, "7GCihgDB8fe6KNjn2MYtkzZcRjQy3t9GHdC8uHYmW2hr", tok.Mint)
	assert.Equal(t, "POPCAT", tok.Symbol)
	assert.Equal(t, "raydium_amm", tok.AMM)
	assert.True(t, tok.DexPaid)
	assert.InDelta(t, 0.42, tok.USDPrice.Float(), 1e-12)
	assert.InDelta(t, 1250000.50, tok.LiquidityUSD.Float(), 1e-9)
	assert.InDelta(t, 0.75, tok.BondingCurveProgress.Float(), 1e-12)
	assert.InDelta(t, 200, tok.Window(Window1h).Txns().Float(), 1e-12)
	assert.InDelta(t, -3.5, tok.Window(Window24h).PriceChangePct.Float(), 1e-12)
	assert.True(t, tok.SOLPrice.Absent())
	assert.Equal(t, int64(1714564800000), tok.CreatedAtMillis())
}

func TestDecodeToken_MissingMint(t *testing.T) {
	_, err := DecodeToken([]byte(`{"name":"no id","usd_price":1}`))
	assert.True(t, errors.Is(err, ErrMissingMint))

	_, err = DecodeToken([]byte(`[1,2,3]`))
	assert.Error(t, err)
}

func TestDecodeToken_WrongTypesDegrade(t *testing.T) {
	tok, err := DecodeToken([]byte(`{"mint":"m1","name":42,"usd_price":{"x":1},"total_holders":"n/a"}`))
	require.NoError(t, err)

	assert.Equal(t, "", tok.Name)
	assert.False(t, tok.USDPrice.Valid())
	assert.False(t, tok.USDPrice.Absent())
	assert.False(t, tok.Holders.Valid())
	assert.Equal(t, math.Inf(-1), tok.Holders.SortValue())
	assert.Equal(t, 0.0, tok.Holders.Float())
}

func TestToken_Equal(t *testing.T) {
	a, err := DecodeToken([]byte(`{"mint":"m1","usd_price":1,"total_liquidity_usd":10}`))
	require.NoError(t, err)
	// Same content, different key order and textual representation.
	b, err := DecodeToken([]byte(`{"total_liquidity_usd":"10","usd_price":1.0,"mint":"m1"}`))
	require.NoError(t, err)
	c, err := DecodeToken([]byte(`{"mint":"m1","usd_price":2}`))
	require.NoError(t, err)

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestToken_Field(t *testing.T) {
	tok, err := DecodeToken([]byte(sampleToken))
	require.NoError(t, err)

	v, ok := tok.Field("usd_price")
	require.True(t, ok)
	assert.InDelta(t, 0.42, v.Float(), 1e-12)

	v, ok = tok.Field("total_buys_1h")
	require.True(t, ok)
	assert.InDelta(t, 120, v.Float(), 1e-12)

	_, ok = tok.Field("total_buys_2h")
	assert.False(t, ok)
	_, ok = tok.Field("name")
	assert.False(t, ok)
}

func TestToken_MarshalRoundTripKeepsEquality(t *testing.T) {
	tok, err := DecodeToken([]byte(sampleToken))
	require.NoError(t, err)

	data, err := json.Marshal(tok)
	require.NoError(t, err)

	back, err := DecodeToken(data)
	require.NoError(t, err)
	assert.True(t, tok.Equal(back))
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in     string
		want   float64
		valid  bool
		absent bool
	}{
		{"1,234.5", 1234.5, true, false},
		{" $ 12 ", 12, true, false},
		{"", 0, false, true},
		{"abc", 0, false, false},
		{"NaN", 0, false, false},
	}
	for _, tc := range tests {
		n := ParseNumber(tc.in)
		assert.Equal(t, tc.valid, n.Valid(), tc.in)
		assert.Equal(t, tc.absent, n.Absent(), tc.in)
		assert.Equal(t, tc.want, n.Float(), tc.in)
	}
}

func TestDecodeTrade(t *testing.T) {
	raw := `{
		"trade_data": {
			"Trade": {
				"Buy":  {"Amount": "1500.5", "PriceInUSD": "0.01", "Currency": {"Symbol": "POP", "MintAddress": "m1"}},
				"Sell": {"Amount": "0.1", "PriceInUSD": "150", "Currency": {"Symbol": "WSOL"}}
			},
			"Transaction": {"Signature": "sig1"},
			"Block": {"Time": "2024-05-01T12:00:00Z"}
		}
	}`

	tr, err := DecodeTrade([]byte(raw), "")
	require.NoError(t, err)

	assert.Equal(t, "sig1", tr.Signature)
	assert.Equal(t, TradeSideBuy, tr.Side)
	assert.Equal(t, "m1", tr.Mint)
	assert.InDelta(t, 1500.5, tr.Amount.Float(), 1e-9)
	assert.InDelta(t, 15.005, tr.TotalUSD(), 1e-9)
	assert.Equal(t, int64(1714564800000), tr.Timestamp)
}

func TestVenueName(t *testing.T) {
	assert.Equal(t, "Bonk", VenueName("raydium_launchpad"))
	assert.Equal(t, "mystery", VenueName("mystery"))
	assert.Len(t, VenueIDs(), len(Venues))
}

func TestMevMode_MevProtection(t *testing.T) {
	assert.Equal(t, 0, MevOff.MevProtection())
	assert.Equal(t, 1, MevReduced.MevProtection())
	assert.Equal(t, 1, MevOn.MevProtection())
}
