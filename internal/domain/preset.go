package domain

import "fmt"

// Preset names.
const (
	PresetP1 = "P1"
	PresetP2 = "P2"
	PresetP3 = "P3"
)

// PresetNames lists the quick-buy presets in display order.
var PresetNames = []string{PresetP1, PresetP2, PresetP3}

// Preset holds the fee and protection settings for one quick-buy slot.
type Preset struct {
	MaxSlippage float64 `json:"maxSlippage"`
	Priority    float64 `json:"priority"`
	Bribe       float64 `json:"bribe"`
	MevMode     MevMode `json:"mevMode"`
	AutoFee     bool    `json:"autoFee"`
	MaxFee      float64 `json:"maxFee"`
}

// DefaultPreset is the value every slot starts with.
func DefaultPreset() Preset {
	return Preset{
		MaxSlippage: 0.2,
		Priority:    0.001,
		Bribe:       0.05,
		MevMode:     MevOff,
	}
}

// Validate rejects negative fees and unknown MEV modes.
func (p Preset) Validate() error {
	if !p.MevMode.IsValid() {
		return fmt.Errorf("unknown mev mode %q", p.MevMode)
	}
	if p.MaxSlippage < 0 || p.Priority < 0 || p.Bribe < 0 || p.MaxFee < 0 {
		return fmt.Errorf("preset fees must not be negative")
	}
	return nil
}

// QuickBuySettings is the persisted quick-buy state.
type QuickBuySettings struct {
	Presets      map[string]Preset `json:"presets"`
	ActivePreset string            `json:"activePreset"`
}

// DefaultQuickBuySettings returns P1..P3 at defaults with P1 active.
func DefaultQuickBuySettings() QuickBuySettings {
	s := QuickBuySettings{
		Presets:      make(map[string]Preset, len(PresetNames)),
		ActivePreset: PresetP1,
	}
	for _, name := range PresetNames {
		s.Presets[name] = DefaultPreset()
	}
	return s
}

// Active returns the active preset, or the default when it is missing.
func (s QuickBuySettings) Active() Preset {
	if p, ok := s.Presets[s.ActivePreset]; ok {
		return p
	}
	return DefaultPreset()
}

// MevProtection is the flag the order API expects: 0 when off, 1 for any
// protection level.
func (m MevMode) MevProtection() int {
	if m == MevOff || m == "" {
		return 0
	}
	return 1
}
