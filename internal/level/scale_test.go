package level

import (
	"math"
	"strconv"
	"testing"
)

func TestParseScale(t *testing.T) {
	tests := []struct {
		name      string
		min, max  string
		want      Scale
		wantValid bool
	}{
		{"small range is float", "0", "1", Scale{0, 1, true}, true},
		{"percent range is integer", "0", "100", Scale{0, 100, false}, true},
		{"decimal point forces float", "0.0", "100", Scale{0, 100, true}, true},
		{"range of exactly ten is float", "0", "10", Scale{0, 10, true}, true},
		{"range of eleven is integer", "0", "11", Scale{0, 11, false}, true},
		{"negative bounds", "-50", "50", Scale{-50, 50, false}, true},
		{"empty strings use defaults", "", "", Scale{0, 100, false}, true},
		{"min equal to max", "5", "5", DefaultScale, false},
		{"min above max", "10", "0", DefaultScale, false},
		{"unparsable min", "low", "100", DefaultScale, false},
		{"unparsable max", "0", "high", DefaultScale, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, valid := ParseScale(tt.min, tt.max)
			if got != tt.want || valid != tt.wantValid {
				t.Errorf("ParseScale(%q, %q) = %+v, %v, want %+v, %v", tt.min, tt.max, got, valid, tt.want, tt.wantValid)
			}
		})
	}
}

func TestScaleToLevel(t *testing.T) {
	tests := []struct {
		name        string
		scale       Scale
		value       string
		wantLevel   int
		wantClamped bool
		wantValue   float64
		wantOK      bool
	}{
		{"mid of unit range", Scale{0, 1, true}, "0.5", 50, false, 0.5, true},
		{"integer range", Scale{0, 100, false}, "42", 42, false, 42, true},
		{"offset range", Scale{10, 20, true}, "15", 50, false, 15, true},
		{"below min clamps", Scale{0, 10, true}, "-3", 0, true, 0, true},
		{"above max clamps", Scale{0, 10, true}, "12.5", 100, true, 10, true},
		{"whitespace is ignored", Scale{0, 100, false}, " 7 ", 7, false, 7, true},
		{"not numeric", Scale{0, 100, false}, "ON", 0, false, 0, false},
		{"empty", Scale{0, 100, false}, "", 0, false, 0, false},
		{"nan", Scale{0, 100, false}, "NaN", 0, false, 0, false},
		// Ties round half away from zero.
		{"tie 0.5 rounds up", Scale{0, 200, false}, "1", 1, false, 1, true},
		{"tie 2.5 rounds up", Scale{0, 200, false}, "5", 3, false, 5, true},
		{"tie 50.5 rounds up", Scale{0, 200, false}, "101", 51, false, 101, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.scale.ToLevel(tt.value)
			if ok != tt.wantOK {
				t.Fatalf("ToLevel(%q) ok = %v, want %v", tt.value, ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if got.Level != tt.wantLevel {
				t.Errorf("ToLevel(%q).Level = %d, want %d", tt.value, got.Level, tt.wantLevel)
			}
			if got.Clamped != tt.wantClamped {
				t.Errorf("ToLevel(%q).Clamped = %v, want %v", tt.value, got.Clamped, tt.wantClamped)
			}
			if got.Value != tt.wantValue {
				t.Errorf("ToLevel(%q).Value = %v, want %v", tt.value, got.Value, tt.wantValue)
			}
		})
	}
}

func TestScaleToVariable(t *testing.T) {
	tests := []struct {
		name  string
		scale Scale
		level int
		want  string
	}{
		{"unit range two decimals", Scale{0, 1, true}, 70, "0.7"},
		{"unit range keeps hundredths", Scale{0, 1, true}, 33, "0.33"},
		{"unit range zero", Scale{0, 1, true}, 0, "0.0"},
		{"unit range full", Scale{0, 1, true}, 100, "1.0"},
		{"ten range", Scale{0, 10, true}, 55, "5.5"},
		{"wide float range one decimal", Scale{0, 100, true}, 33, "33.0"},
		{"wide float keeps tenth", Scale{0, 255, true}, 50, "127.5"},
		{"wide float rounds to tenth", Scale{0, 12.34, true}, 33, "4.1"},
		{"integer range", Scale{0, 100, false}, 42, "42"},
		{"integer rounding", Scale{0, 255, false}, 50, "128"},
		{"integer negative", Scale{-50, 50, false}, 25, "-25"},
		{"level above 100 clamps", Scale{0, 100, false}, 150, "100"},
		{"level below 0 clamps", Scale{0, 100, false}, -5, "0"},
		{"negative float zero", Scale{-1, 1, true}, 50, "0.0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.scale.ToVariable(tt.level); got != tt.want {
				t.Errorf("ToVariable(%d) = %q, want %q", tt.level, got, tt.want)
			}
		})
	}
}

// quantum is the resolution ToVariable renders at for a scale.
func quantum(s Scale) float64 {
	if !s.IsFloat {
		return 1
	}
	if s.Span() <= smallRange {
		return 0.01
	}
	return 0.1
}

func TestRoundTrip(t *testing.T) {
	exact := []struct {
		name     string
		min, max string
	}{
		{"percent", "0", "100"},
		{"unit float", "0", "1"},
		{"ten float", "0", "10"},
		{"decimal percent", "0.0", "100"},
		{"byte range", "0", "255"},
		{"thousand", "0", "1000"},
		{"signed", "-50", "50"},
		{"offset float", "10", "20"},
	}

	for _, tt := range exact {
		t.Run(tt.name, func(t *testing.T) {
			s, ok := ParseScale(tt.min, tt.max)
			if !ok {
				t.Fatalf("ParseScale(%q, %q) invalid", tt.min, tt.max)
			}
			for lvl := Min; lvl <= Max; lvl++ {
				v := s.ToVariable(lvl)
				conv, ok := s.ToLevel(v)
				if !ok {
					t.Fatalf("ToLevel(%q) not numeric", v)
				}
				if conv.Level != lvl {
					t.Errorf("round trip level %d via %q = %d", lvl, v, conv.Level)
				}
			}
		})
	}

	// Scales coarser than one level per unit lose precision. The error stays
	// within half a rendered unit expressed in levels, rounded up.
	coarse := []struct {
		name     string
		min, max string
	}{
		{"twenty", "0", "20"},
		{"fifty", "0", "50"},
		{"tiny float", "0", "0.5"},
	}

	for _, tt := range coarse {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := ParseScale(tt.min, tt.max)
			tolerance := int(math.Ceil(50 * quantum(s) / s.Span()))
			for lvl := Min; lvl <= Max; lvl++ {
				v := s.ToVariable(lvl)
				conv, _ := s.ToLevel(v)
				if d := conv.Level - lvl; d > tolerance || d < -tolerance {
					t.Errorf("round trip level %d via %q = %d, tolerance %d", lvl, v, conv.Level, tolerance)
				}
			}
		})
	}
}

func TestToVariableParses(t *testing.T) {
	s := Scale{0, 1, true}
	for lvl := Min; lvl <= Max; lvl++ {
		if _, err := strconv.ParseFloat(s.ToVariable(lvl), 64); err != nil {
			t.Fatalf("ToVariable(%d) = %q is not a number", lvl, s.ToVariable(lvl))
		}
	}
}
