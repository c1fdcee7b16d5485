package domain

// FilterConfig is the user's view filter. JSON keys match the persisted dashboard format.
// Nil bounds are unset and impose no constraint.
type FilterConfig struct {
	Protocols       []string `json:"protocols"`
	AMMs            []string `json:"amms"`
	SearchKeywords  string   `json:"searchKeywords"`
	ExcludeKeywords string   `json:"excludeKeywords"`
	DexPaid         bool     `json:"dexPaid"`
	Timeframe       string   `json:"timeframe,omitempty"`

	TopHoldersMin *float64 `json:"topHoldersMin,omitempty"`
	TopHoldersMax *float64 `json:"topHoldersMax,omitempty"`
	LiquidityMin  *float64 `json:"liquidityMin,omitempty"`
	LiquidityMax  *float64 `json:"liquidityMax,omitempty"`
	VolumeMin     *float64 `json:"volumeMin,omitempty"`
	VolumeMax     *float64 `json:"volumeMax,omitempty"`
	MarketCapMin  *float64 `json:"marketCapMin,omitempty"`
	MarketCapMax  *float64 `json:"marketCapMax,omitempty"`
	TxnsMin       *float64 `json:"txnsMin,omitempty"`
	TxnsMax       *float64 `json:"txnsMax,omitempty"`
}

// DefaultFilterConfig includes every known venue and sets no bounds.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		Protocols: []string{},
		AMMs:      VenueIDs(),
		Timeframe: Window24h.String(),
	}
}

// Sort directions.
const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

// SortConfig selects at most one sort key. An empty Key keeps arrival order.
type SortConfig struct {
	Key       string `json:"key"`
	Direction string `json:"direction"`
}

// MevMode is the MEV protection level attached to an order.
type MevMode string

// MEV protection levels.
const (
	MevOff     MevMode = "off"
	MevReduced MevMode = "reduced"
	MevOn      MevMode = "on"
)

// IsValid reports whether m is a known mode.
func (m MevMode) IsValid() bool {
	switch m {
	case MevOff, MevReduced, MevOn:
		return true
	}
	return false
}
