package view

import "token-stream-lab/internal/domain"

// Bucket groups tokens by bonding curve progress.
type Bucket string

// Pulse buckets.
const (
	BucketNone         Bucket = ""
	BucketNewPairs     Bucket = "new_pairs"
	BucketFinalStretch Bucket = "final_stretch"
	BucketMigrated     Bucket = "migrated"
)

// Bonding progress thresholds. Both bounds of the final stretch are exclusive, so
// a token at exactly FinalStretchThreshold is in no bucket.
const (
	FinalStretchThreshold = 0.6
	MigratedThreshold     = 0.85
)

// PulseBucket classifies t by bonding progress. Tokens without a usable progress
// value belong to no bucket.
func PulseBucket(t domain.Token) Bucket {
	if !t.BondingCurveProgress.Valid() {
		return BucketNone
	}
	p := t.BondingCurveProgress.Float()
	switch {
	case p >= MigratedThreshold:
		return BucketMigrated
	case p > FinalStretchThreshold:
		return BucketFinalStretch
	case p < FinalStretchThreshold:
		return BucketNewPairs
	default:
		return BucketNone
	}
}

// Pulse splits tokens into the three buckets, keeping input order within each.
func Pulse(tokens []domain.Token) map[Bucket][]domain.Token {
	out := map[Bucket][]domain.Token{
		BucketNewPairs:     {},
		BucketFinalStretch: {},
		BucketMigrated:     {},
	}
	for _, t := range tokens {
		if b := PulseBucket(t); b != BucketNone {
			out[b] = append(out[b], t)
		}
	}
	return out
}

// PulseRow is a token with its display values.
type PulseRow struct {
	Mint      string  `json:"mint"`
	Name      string  `json:"name"`
	Symbol    string  `json:"symbol"`
	Logo      string  `json:"logo,omitempty"`
	Venue     string  `json:"venue"`
	Progress  float64 `json:"progress"`
	Price     string  `json:"price"`
	MarketCap string  `json:"marketCap"`
	Liquidity string  `json:"liquidity"`
	Volume    string  `json:"volume"`
	Holders   string  `json:"holders"`
}

// NewPulseRow renders t with volume taken over w.
func NewPulseRow(t domain.Token, w domain.Window) PulseRow {
	return PulseRow{
		Mint:      t.Mint,
		Name:      t.Name,
		Symbol:    t.Symbol,
		Logo:      t.Logo,
		Venue:     domain.VenueName(t.AMM),
		Progress:  t.BondingCurveProgress.Float(),
		Price:     FormatSmartNumber(t.USDPrice),
		MarketCap: FormatSmartNumber(t.FullyDilutedValue),
		Liquidity: FormatSmartNumber(t.LiquidityUSD),
		Volume:    FormatSmartNumber(t.Window(w).Volume()),
		Holders:   FormatSmartNumber(t.Holders),
	}
}

// PulseBoard is the three pulse columns.
type PulseBoard struct {
	NewPairs     []PulseRow `json:"newPairs"`
	FinalStretch []PulseRow `json:"finalStretch"`
	Migrated     []PulseRow `json:"migrated"`
}

// BuildPulse fills the new pairs column from the new-pairs feed as delivered and
// the other two columns by bucketing all.
func BuildPulse(newPairs, all []domain.Token, w domain.Window) PulseBoard {
	buckets := Pulse(all)
	return PulseBoard{
		NewPairs:     pulseRows(newPairs, w),
		FinalStretch: pulseRows(buckets[BucketFinalStretch], w),
		Migrated:     pulseRows(buckets[BucketMigrated], w),
	}
}

func pulseRows(tokens []domain.Token, w domain.Window) []PulseRow {
	rows := make([]PulseRow, len(tokens))
	for i, t := range tokens {
		rows[i] = NewPulseRow(t, w)
	}
	return rows
}
