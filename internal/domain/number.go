package domain

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

type numberState uint8

const (
	numberAbsent numberState = iota
	numberValid
	numberInvalid
)

// Number is a market value as delivered by the feed.
// It is either a finite float, absent (null or missing), or invalid (present but unparsable).
// The zero value is absent. Number is comparable with ==.
type Number struct {
	v     float64
	state numberState
}

// Num returns a valid Number. NaN and infinities yield an invalid Number.
func Num(v float64) Number {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Number{state: numberInvalid}
	}
	return Number{v: v, state: numberValid}
}

// InvalidNumber returns a Number that was present but could not be parsed.
func InvalidNumber() Number {
	return Number{state: numberInvalid}
}

// ParseNumber parses text, stripping currency symbols, thousands separators and whitespace.
// Empty text is absent; anything else that does not parse is invalid.
func ParseNumber(s string) Number {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '$', ',', ' ', '\t', '\n', '\r':
			return -1
		}
		return r
	}, s)
	if cleaned == "" {
		return Number{}
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return InvalidNumber()
	}
	return Num(v)
}

// Valid reports whether the value is a finite number.
func (n Number) Valid() bool { return n.state == numberValid }

// Absent reports whether the feed omitted the value.
func (n Number) Absent() bool { return n.state == numberAbsent }

// Float returns the value for arithmetic; absent and invalid values are 0.
func (n Number) Float() float64 {
	if n.state != numberValid {
		return 0
	}
	return n.v
}

// SortValue returns the value for ordering; absent and invalid values are -Inf.
func (n Number) SortValue() float64 {
	if n.state != numberValid {
		return math.Inf(-1)
	}
	return n.v
}

// Add sums two numbers. The result is absent only when both operands are absent.
func (n Number) Add(o Number) Number {
	if n.state == numberAbsent && o.state == numberAbsent {
		return Number{}
	}
	return Num(n.Float() + o.Float())
}

func (n Number) String() string {
	switch n.state {
	case numberValid:
		return strconv.FormatFloat(n.v, 'f', -1, 64)
	case numberInvalid:
		return "invalid"
	default:
		return "absent"
	}
}

// UnmarshalJSON accepts numbers, numeric strings and null.
// Other JSON types decode to an invalid Number rather than failing the enclosing object.
func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*n = Number{}
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			*n = InvalidNumber()
			return nil
		}
		*n = ParseNumber(s)
	default:
		v, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			*n = InvalidNumber()
			return nil
		}
		*n = Num(v)
	}
	return nil
}

// MarshalJSON writes valid values as JSON numbers and everything else as null.
func (n Number) MarshalJSON() ([]byte, error) {
	if n.state != numberValid {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, n.v, 'f', -1, 64), nil
}
