package level

import "testing"

func TestRelayPairLevel(t *testing.T) {
	tests := []struct {
		pair RelayPair
		want int
	}{
		{RelayPair{false, false}, 0},
		{RelayPair{true, false}, 33},
		{RelayPair{false, true}, 66},
		{RelayPair{true, true}, 100},
	}

	for _, tt := range tests {
		if got := tt.pair.Level(); got != tt.want {
			t.Errorf("%+v.Level() = %d, want %d", tt.pair, got, tt.want)
		}
		if got := PairForLevel(tt.pair.Level()); got != tt.pair {
			t.Errorf("PairForLevel(%d) = %+v, want %+v", tt.pair.Level(), got, tt.pair)
		}
	}
}

func TestQuantizeBreakpoints(t *testing.T) {
	tests := []struct {
		level int
		want  int
	}{
		{-10, 0},
		{0, 0},
		{16, 0},
		{17, 33},
		{33, 33},
		{49, 33},
		{50, 66},
		{66, 66},
		{83, 66},
		{84, 100},
		{99, 100},
		{100, 100},
		{150, 100},
	}

	for _, tt := range tests {
		if got := Quantize(tt.level); got != tt.want {
			t.Errorf("Quantize(%d) = %d, want %d", tt.level, got, tt.want)
		}
		if got := PairForLevel(tt.level).Level(); got != tt.want {
			t.Errorf("PairForLevel(%d).Level() = %d, want %d", tt.level, got, tt.want)
		}
	}
}

func TestSpeedIndex(t *testing.T) {
	tests := []struct {
		level int
		want  int
	}{
		{0, 0},
		{32, 0},
		{33, 1},
		{65, 1},
		{66, 2},
		{98, 2},
		{99, 3},
		{100, 3},
	}

	for _, tt := range tests {
		if got := SpeedIndex(tt.level); got != tt.want {
			t.Errorf("SpeedIndex(%d) = %d, want %d", tt.level, got, tt.want)
		}
	}
}

func TestSpeedLevelRoundTrip(t *testing.T) {
	for idx := 0; idx <= MaxSpeedIndex; idx++ {
		lvl := SpeedLevel(idx)
		if got := SpeedIndex(lvl); got != idx {
			t.Errorf("SpeedIndex(SpeedLevel(%d)) = %d", idx, got)
		}
		if got := Quantize(lvl); got != lvl {
			t.Errorf("SpeedLevel(%d) = %d is not a relay level", idx, lvl)
		}
	}

	if got := SpeedLevel(7); got != RelayHigh {
		t.Errorf("SpeedLevel(7) = %d, want %d", got, RelayHigh)
	}
	if got := SpeedName(-1); got != "off" {
		t.Errorf("SpeedName(-1) = %q, want off", got)
	}
	if got := SpeedName(2); got != "medium" {
		t.Errorf("SpeedName(2) = %q, want medium", got)
	}
}
