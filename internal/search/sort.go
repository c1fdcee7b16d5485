package search

import (
	"slices"

	"token-stream-lab/internal/domain"
)

// SortOption orders search results. All orders are descending.
type SortOption string

const (
	SortTime      SortOption = "time" // keep server order
	SortMarketCap SortOption = "market_cap"
	SortVolume1h  SortOption = "volume_1h"
	SortLiquidity SortOption = "liquidity"
)

// ParseSortOption returns SortTime for unknown values.
func ParseSortOption(s string) SortOption {
	switch o := SortOption(s); o {
	case SortMarketCap, SortVolume1h, SortLiquidity:
		return o
	}
	return SortTime
}

// SortResults returns a sorted copy of tokens. Ties keep server order.
func SortResults(tokens []domain.Token, opt SortOption) []domain.Token {
	out := slices.Clone(tokens)

	var value func(domain.Token) float64
	switch opt {
	case SortMarketCap:
		value = func(t domain.Token) float64 {
			if v := t.TotalFullyDilutedValuation.Float(); v != 0 {
				return v
			}
			return t.FullyDilutedValue.Float()
		}
	case SortVolume1h:
		value = func(t domain.Token) float64 { return t.Window(domain.Window1h).Volume().Float() }
	case SortLiquidity:
		value = func(t domain.Token) float64 { return t.LiquidityUSD.Float() }
	default:
		return out
	}

	slices.SortStableFunc(out, func(a, b domain.Token) int {
		va, vb := value(a), value(b)
		switch {
		case va > vb:
			return -1
		case va < vb:
			return 1
		}
		return 0
	})
	return out
}
