package view

import (
	"math"

	"token-stream-lab/internal/domain"
)

// Derived sort keys. Windowed keys use the filter's timeframe.
const (
	KeyVolume    = "volume"
	KeyTxns      = "txns"
	KeyBuys      = "buys"
	KeySells     = "sells"
	KeyMarketCap = "market_cap"
	KeyLiquidity = "liquidity"
	KeyAge       = "age"
)

var derivedKeys = map[string]func(domain.Token, domain.Window) domain.Number{
	KeyVolume:    volume,
	KeyTxns:      txns,
	KeyBuys:      func(t domain.Token, w domain.Window) domain.Number { return t.Window(w).Buys },
	KeySells:     func(t domain.Token, w domain.Window) domain.Number { return t.Window(w).Sells },
	KeyMarketCap: marketCap,
	KeyLiquidity: liquidity,
	KeyAge: func(t domain.Token, _ domain.Window) domain.Number {
		ms := t.CreatedAtMillis()
		if ms == 0 {
			return domain.Number{}
		}
		// Newer tokens are younger: larger created-at means smaller age.
		return domain.Num(-float64(ms))
	},
}

// SortValue coerces a token's field to a float for ordering. Unknown keys and
// absent or unparsable values yield -Inf.
func SortValue(t domain.Token, key string, window domain.Window) float64 {
	if fn, ok := derivedKeys[key]; ok {
		return fn(t, window).SortValue()
	}
	if n, ok := t.Field(key); ok {
		return n.SortValue()
	}
	return math.Inf(-1)
}

// IsSortKey reports whether key names a sortable field.
func IsSortKey(key string) bool {
	if _, ok := derivedKeys[key]; ok {
		return true
	}
	_, ok := domain.Token{}.Field(key)
	return ok
}
