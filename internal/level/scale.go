// Package level converts between the canonical 0-100 brightness level and the
// representations linked devices use: an arbitrary numeric variable range and
// a pair of relays.
package level

import (
	"math"
	"strconv"
	"strings"
)

// Bounds of the canonical brightness level.
const (
	Min = 0
	Max = 100
)

// smallRange is the widest span still treated as a fractional scale.
const smallRange = 10

// Scale describes the numeric range of a linked variable.
type Scale struct {
	Min     float64
	Max     float64
	IsFloat bool
}

// DefaultScale is the 0-100 integer scale used when a configured range is unusable.
var DefaultScale = Scale{Min: 0, Max: 100, IsFloat: false}

// Span returns Max - Min.
func (s Scale) Span() float64 {
	return s.Max - s.Min
}

// ParseScale builds a Scale from the configured bound strings.
// Empty strings fall back to "0" and "100". The second return value is false
// when the bounds could not be parsed or min >= max, in which case DefaultScale
// is returned.
func ParseScale(minStr, maxStr string) (Scale, bool) {
	minStr = strings.TrimSpace(minStr)
	maxStr = strings.TrimSpace(maxStr)
	if minStr == "" {
		minStr = "0"
	}
	if maxStr == "" {
		maxStr = "100"
	}

	lo, err := strconv.ParseFloat(minStr, 64)
	if err != nil {
		return DefaultScale, false
	}
	hi, err := strconv.ParseFloat(maxStr, 64)
	if err != nil {
		return DefaultScale, false
	}
	if lo >= hi {
		return DefaultScale, false
	}

	hasDecimal := strings.Contains(minStr, ".") || strings.Contains(maxStr, ".")
	return Scale{
		Min:     lo,
		Max:     hi,
		IsFloat: hasDecimal || hi-lo <= smallRange,
	}, true
}

// Conversion is the result of mapping a variable value onto the level range.
type Conversion struct {
	Level   int
	Clamped bool
	// Value is the input after clamping into [Min, Max].
	Value float64
}

// ToLevel parses a variable value and maps it onto 0-100.
// Out-of-range values are clamped and reported through Conversion.Clamped.
// ok is false when the value is not numeric.
//
// Rounding is half away from zero: a rescaled 50.5 becomes 51.
func (s Scale) ToLevel(value string) (conv Conversion, ok bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || math.IsNaN(v) {
		return Conversion{}, false
	}
	return s.FloatToLevel(v), true
}

// FloatToLevel is ToLevel for an already numeric value.
func (s Scale) FloatToLevel(v float64) Conversion {
	clamped := false
	if v < s.Min {
		v = s.Min
		clamped = true
	} else if v > s.Max {
		v = s.Max
		clamped = true
	}

	// Multiply before dividing so exact ties stay exact.
	scaled := (v - s.Min) * Max / s.Span()
	return Conversion{
		Level:   int(math.Round(scaled)),
		Clamped: clamped,
		Value:   v,
	}
}

// ToVariable maps a level onto the scale and renders it the way the linked
// variable stores it: an integer string for integer scales, two decimals for
// fractional scales spanning at most 10 and one decimal otherwise.
// Trailing zeros are dropped but at least one decimal digit is kept ("0.7", "5.0").
func (s Scale) ToVariable(lvl int) string {
	lvl = Clamp(lvl)
	v := float64(lvl)*s.Span()/Max + s.Min

	if !s.IsFloat {
		return strconv.FormatInt(int64(math.Round(v)), 10)
	}

	decimals := 1
	if s.Span() <= smallRange {
		decimals = 2
	}
	return formatDecimal(roundTo(v, decimals))
}

// Clamp limits a level to [Min, Max].
func Clamp(lvl int) int {
	if lvl < Min {
		return Min
	}
	if lvl > Max {
		return Max
	}
	return lvl
}

func roundTo(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}

func formatDecimal(v float64) string {
	if v == 0 {
		// Avoid "-0.0"
		v = 0
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
