package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMissingMint is returned when a token object carries no mint.
var ErrMissingMint = errors.New("token has no mint")

// Window is one of the fixed aggregation windows published by the feed.
type Window int

// Aggregation windows.
const (
	Window5m Window = iota
	Window1h
	Window6h
	Window24h
	windowCount
)

var windowSuffixes = [windowCount]string{"5m", "1h", "6h", "24h"}

// Windows lists all aggregation windows in ascending length.
var Windows = []Window{Window5m, Window1h, Window6h, Window24h}

// String returns the wire suffix ("5m", "1h", "6h", "24h").
func (w Window) String() string {
	if w < 0 || w >= windowCount {
		return ""
	}
	return windowSuffixes[w]
}

// ParseWindow maps a wire suffix to a Window.
func ParseWindow(s string) (Window, bool) {
	for i, suffix := range windowSuffixes {
		if suffix == s {
			return Window(i), true
		}
	}
	return 0, false
}

// WindowStats holds per-window trading activity.
type WindowStats struct {
	BuyVolume      Number
	SellVolume     Number
	Buys           Number
	Sells          Number
	Buyers         Number
	Sellers        Number
	UniqueWallets  Number
	PriceChangePct Number
}

// Volume is buy plus sell volume.
func (w WindowStats) Volume() Number { return w.BuyVolume.Add(w.SellVolume) }

// Txns is buy plus sell count.
func (w WindowStats) Txns() Number { return w.Buys.Add(w.Sells) }

// Token is one instrument's full market snapshot as pushed by the stream.
// A Token is replaced wholesale on every observation; it is comparable with == and
// two tokens are equal iff every field is equal.
type Token struct {
	Mint        string
	Name        string
	Symbol      string
	Logo        string
	URI         string
	AMM         string
	PairAddress string
	DexPaid     bool

	Decimals                   Number
	TotalSupply                Number
	USDPrice                   Number
	SOLPrice                   Number
	LiquidityUSD               Number
	FullyDilutedValue          Number
	TotalFullyDilutedValuation Number
	Holders                    Number
	Snipers                    Number
	BondingCurveProgress       Number
	GlobalFeesPaid             Number

	CreatedAt string
	UpdatedAt string

	Stats [windowCount]WindowStats
}

// Equal reports structural equality over the full schema.
func (t Token) Equal(o Token) bool { return t == o }

// Window returns the stats for w.
func (t Token) Window(w Window) WindowStats {
	if w < 0 || w >= windowCount {
		return WindowStats{}
	}
	return t.Stats[w]
}

// CreatedAtMillis parses CreatedAt. Returns 0 when missing or malformed.
func (t Token) CreatedAtMillis() int64 {
	if t.CreatedAt == "" {
		return 0
	}
	ts, err := time.Parse(time.RFC3339Nano, t.CreatedAt)
	if err != nil {
		return 0
	}
	return ts.UnixMilli()
}

var scalarFields = map[string]func(*Token) *Number{
	"decimals":                      func(t *Token) *Number { return &t.Decimals },
	"total_supply":                  func(t *Token) *Number { return &t.TotalSupply },
	"usd_price":                     func(t *Token) *Number { return &t.USDPrice },
	"sol_price":                     func(t *Token) *Number { return &t.SOLPrice },
	"total_liquidity_usd":           func(t *Token) *Number { return &t.LiquidityUSD },
	"fully_diluted_value":           func(t *Token) *Number { return &t.FullyDilutedValue },
	"total_fully_diluted_valuation": func(t *Token) *Number { return &t.TotalFullyDilutedValuation },
	"total_holders":                 func(t *Token) *Number { return &t.Holders },
	"total_snipers":                 func(t *Token) *Number { return &t.Snipers },
	"bonding_curve_progress":        func(t *Token) *Number { return &t.BondingCurveProgress },
	"global_fees_paid":              func(t *Token) *Number { return &t.GlobalFeesPaid },
}

var windowFields = map[string]func(*WindowStats) *Number{
	"total_buy_volume":     func(w *WindowStats) *Number { return &w.BuyVolume },
	"total_sell_volume":    func(w *WindowStats) *Number { return &w.SellVolume },
	"total_buys":           func(w *WindowStats) *Number { return &w.Buys },
	"total_sells":          func(w *WindowStats) *Number { return &w.Sells },
	"total_buyers":         func(w *WindowStats) *Number { return &w.Buyers },
	"total_sellers":        func(w *WindowStats) *Number { return &w.Sellers },
	"unique_wallets":       func(w *WindowStats) *Number { return &w.UniqueWallets },
	"price_percent_change": func(w *WindowStats) *Number { return &w.PriceChangePct },
}

var stringFields = map[string]func(*Token) *string{
	"mint":         func(t *Token) *string { return &t.Mint },
	"name":         func(t *Token) *string { return &t.Name },
	"symbol":       func(t *Token) *string { return &t.Symbol },
	"logo":         func(t *Token) *string { return &t.Logo },
	"uri":          func(t *Token) *string { return &t.URI },
	"amm":          func(t *Token) *string { return &t.AMM },
	"pair_address": func(t *Token) *string { return &t.PairAddress },
	"created_at":   func(t *Token) *string { return &t.CreatedAt },
	"updated_at":   func(t *Token) *string { return &t.UpdatedAt },
}

// numberField resolves a wire field name to its slot. Windowed names carry a window suffix
// ("total_buys_1h").
func (t *Token) numberField(name string) *Number {
	if get, ok := scalarFields[name]; ok {
		return get(t)
	}
	i := strings.LastIndexByte(name, '_')
	if i <= 0 {
		return nil
	}
	w, ok := ParseWindow(name[i+1:])
	if !ok {
		return nil
	}
	get, ok := windowFields[name[:i]]
	if !ok {
		return nil
	}
	return get(&t.Stats[w])
}

// Field returns the numeric field with the given wire name.
func (t Token) Field(name string) (Number, bool) {
	p := t.numberField(name)
	if p == nil {
		return Number{}, false
	}
	return *p, true
}

// DecodeToken decodes one token object. Unknown keys are ignored; a value of the wrong
// JSON type for a string field is ignored, for a numeric field it decodes as invalid.
func DecodeToken(data []byte) (Token, error) {
	var t Token
	if err := json.Unmarshal(data, &t); err != nil {
		return Token{}, err
	}
	if t.Mint == "" {
		return Token{}, ErrMissingMint
	}
	return t, nil
}

// UnmarshalJSON decodes the feed's flat wire representation.
func (t *Token) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return fmt.Errorf("token: expected object")
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("token: %w", err)
	}

	var out Token
	for key, value := range raw {
		if get, ok := stringFields[key]; ok {
			var s string
			if json.Unmarshal(value, &s) == nil {
				*get(&out) = s
			}
			continue
		}
		if key == "dexPaid" {
			var b bool
			if json.Unmarshal(value, &b) == nil {
				out.DexPaid = b
			}
			continue
		}
		if p := out.numberField(key); p != nil {
			if err := p.UnmarshalJSON(value); err != nil {
				return fmt.Errorf("token field %s: %w", key, err)
			}
		}
	}
	*t = out
	return nil
}

// MarshalJSON encodes the token with the same keys the feed uses.
func (t Token) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(stringFields)+len(scalarFields)+len(windowFields)*int(windowCount)+1)
	for key, get := range stringFields {
		if v := *get(&t); v != "" || key == "mint" {
			out[key] = v
		}
	}
	out["dexPaid"] = t.DexPaid
	for key, get := range scalarFields {
		out[key] = *get(&t)
	}
	for prefix, get := range windowFields {
		for _, w := range Windows {
			out[prefix+"_"+w.String()] = *get(&t.Stats[w])
		}
	}
	return json.Marshal(out)
}
