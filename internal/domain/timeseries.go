package domain

// PricePoint is one sample of a token's market state, taken when a reconciled
// collection is published. Corresponds to the price_points table in ClickHouse.
type PricePoint struct {
	Mint         string  `json:"mint"`
	TimestampMs  int64   `json:"timestampMs"` // Unix milliseconds
	PriceUSD     float64 `json:"priceUsd"`
	LiquidityUSD float64 `json:"liquidityUsd"`
	MarketCapUSD float64 `json:"marketCapUsd"`
	Volume24h    float64 `json:"volume24h"`
	Holders      int64   `json:"holders"`
}

// PricePointOf samples t at ts. Absent and invalid values are recorded as 0.
func PricePointOf(t Token, ts int64) PricePoint {
	return PricePoint{
		Mint:         t.Mint,
		TimestampMs:  ts,
		PriceUSD:     t.USDPrice.Float(),
		LiquidityUSD: t.LiquidityUSD.Float(),
		MarketCapUSD: t.FullyDilutedValue.Float(),
		Volume24h:    t.Window(Window24h).Volume().Float(),
		Holders:      int64(t.Holders.Float()),
	}
}
