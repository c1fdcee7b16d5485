package view

import (
	"math"
	"strconv"
	"strings"

	"token-stream-lab/internal/domain"
)

var abbreviations = []struct {
	value  float64
	suffix string
}{
	{1e12, "T"},
	{1e9, "B"},
	{1e6, "M"},
	{1e3, "K"},
}

// FormatSmartNumber renders a market value for display: 1234567 => "1.23M",
// 1000 => "1K", 0.0054321 => "0.0054", 12.5 => "12.50". Absent and invalid
// values render as "-".
func FormatSmartNumber(n domain.Number) string {
	if !n.Valid() {
		return "-"
	}
	v := n.Float()
	abs := math.Abs(v)

	for _, a := range abbreviations {
		if abs >= a.value {
			s := strconv.FormatFloat(v/a.value, 'f', 2, 64)
			return strings.TrimSuffix(s, ".00") + a.suffix
		}
	}

	if abs > 0 && abs < 0.01 {
		// Two significant digits.
		digits := 1 - int(math.Floor(math.Log10(abs)))
		return strconv.FormatFloat(v, 'f', digits, 64)
	}

	return strconv.FormatFloat(v, 'f', 2, 64)
}
