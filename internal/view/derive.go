// Package view derives the filtered, sorted row-set shown to users.
// Everything here is pure: inputs are never mutated.
package view

import (
	"slices"
	"strings"
	"unicode"

	"token-stream-lab/internal/domain"
)

// Derive returns the tokens that pass filter, ordered by sort. Without a sort key the
// input order is kept. The result is a new slice; tokens is not modified.
func Derive(tokens []domain.Token, filter domain.FilterConfig, sort domain.SortConfig) []domain.Token {
	m := newMatcher(filter)

	out := make([]domain.Token, 0, len(tokens))
	for _, t := range tokens {
		if m.match(t) {
			out = append(out, t)
		}
	}

	if sort.Key == "" {
		return out
	}

	window := timeframe(filter.Timeframe)
	desc := sort.Direction != domain.SortAsc
	slices.SortStableFunc(out, func(a, b domain.Token) int {
		va := SortValue(a, sort.Key, window)
		vb := SortValue(b, sort.Key, window)
		c := compareFloat(va, vb)
		if desc {
			return -c
		}
		return c
	})
	return out
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func timeframe(s string) domain.Window {
	if w, ok := domain.ParseWindow(s); ok {
		return w
	}
	return domain.Window24h
}

// matcher is a FilterConfig compiled for repeated evaluation.
type matcher struct {
	venues  map[string]struct{}
	include []string
	exclude []string
	dexPaid bool
	window  domain.Window
	bounds  []bound
}

type bound struct {
	value    func(domain.Token, domain.Window) domain.Number
	min, max *float64
}

func newMatcher(f domain.FilterConfig) matcher {
	m := matcher{
		include: Keywords(f.SearchKeywords),
		exclude: Keywords(f.ExcludeKeywords),
		dexPaid: f.DexPaid,
		window:  timeframe(f.Timeframe),
	}
	if len(f.AMMs) > 0 {
		m.venues = make(map[string]struct{}, len(f.AMMs))
		for _, id := range f.AMMs {
			m.venues[id] = struct{}{}
		}
	}

	candidates := []bound{
		{value: holders, min: f.TopHoldersMin, max: f.TopHoldersMax},
		{value: liquidity, min: f.LiquidityMin, max: f.LiquidityMax},
		{value: volume, min: f.VolumeMin, max: f.VolumeMax},
		{value: marketCap, min: f.MarketCapMin, max: f.MarketCapMax},
		{value: txns, min: f.TxnsMin, max: f.TxnsMax},
	}
	for _, b := range candidates {
		if b.min != nil || b.max != nil {
			m.bounds = append(m.bounds, b)
		}
	}
	return m
}

func (m matcher) match(t domain.Token) bool {
	if m.venues != nil {
		if _, ok := m.venues[t.AMM]; !ok {
			return false
		}
	}
	if m.dexPaid && !t.DexPaid {
		return false
	}
	for _, b := range m.bounds {
		v := b.value(t, m.window).Float()
		if b.min != nil && v < *b.min {
			return false
		}
		if b.max != nil && v > *b.max {
			return false
		}
	}
	if len(m.include) > 0 || len(m.exclude) > 0 {
		name := strings.ToLower(t.Name)
		symbol := strings.ToLower(t.Symbol)
		if len(m.include) > 0 && !containsAny(name, symbol, m.include) {
			return false
		}
		if containsAny(name, symbol, m.exclude) {
			return false
		}
	}
	return true
}

func containsAny(name, symbol string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(name, k) || strings.Contains(symbol, k) {
			return true
		}
	}
	return false
}

// Keywords splits a free-text keyword list on commas and whitespace, lower-cased.
func Keywords(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	out := fields[:0]
	for _, f := range fields {
		out = append(out, strings.ToLower(f))
	}
	return out
}

func holders(t domain.Token, _ domain.Window) domain.Number { return t.Holders }
func liquidity(t domain.Token, _ domain.Window) domain.Number { return t.LiquidityUSD }
func marketCap(t domain.Token, _ domain.Window) domain.Number { return t.FullyDilutedValue }
func volume(t domain.Token, w domain.Window) domain.Number { return t.Window(w).Volume() }
func txns(t domain.Token, w domain.Window) domain.Number { return t.Window(w).Txns() }
