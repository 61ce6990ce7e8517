package level

// The four levels a relay pair can produce.
const (
	RelayOff    = 0
	RelayLow    = 33
	RelayMedium = 66
	RelayHigh   = 100
)

// MaxSpeedIndex is the highest fan speed index (high).
const MaxSpeedIndex = 3

var speedNames = [...]string{"off", "low", "medium", "high"}

// RelayPair is the on/off state of the two relays behind a composite device.
type RelayPair struct {
	Relay1 bool
	Relay2 bool
}

// Level maps the pair onto its level. Relay1 alone is 33 and relay2 alone is 66;
// the table is intentionally not symmetric.
func (p RelayPair) Level() int {
	switch {
	case !p.Relay1 && !p.Relay2:
		return RelayOff
	case p.Relay1 && !p.Relay2:
		return RelayLow
	case !p.Relay1 && p.Relay2:
		return RelayMedium
	default:
		return RelayHigh
	}
}

// Quantize rounds a level to the nearest level a relay pair can produce.
func Quantize(lvl int) int {
	switch {
	case lvl <= 16:
		return RelayOff
	case lvl <= 49:
		return RelayLow
	case lvl <= 83:
		return RelayMedium
	default:
		return RelayHigh
	}
}

// PairForLevel returns the relay states for the nearest producible level.
func PairForLevel(lvl int) RelayPair {
	switch Quantize(lvl) {
	case RelayOff:
		return RelayPair{}
	case RelayLow:
		return RelayPair{Relay1: true}
	case RelayMedium:
		return RelayPair{Relay2: true}
	default:
		return RelayPair{Relay1: true, Relay2: true}
	}
}

// SpeedIndex converts a level to a fan speed index (0=off .. 3=high).
func SpeedIndex(lvl int) int {
	if lvl <= 0 {
		return 0
	}
	idx := Clamp(lvl) / 33
	if idx > MaxSpeedIndex {
		idx = MaxSpeedIndex
	}
	return idx
}

// SpeedLevel converts a fan speed index to the relay level that produces it.
func SpeedLevel(idx int) int {
	switch ClampSpeedIndex(idx) {
	case 0:
		return RelayOff
	case 1:
		return RelayLow
	case 2:
		return RelayMedium
	default:
		return RelayHigh
	}
}

// ClampSpeedIndex limits a speed index to [0, MaxSpeedIndex].
func ClampSpeedIndex(idx int) int {
	if idx < 0 {
		return 0
	}
	if idx > MaxSpeedIndex {
		return MaxSpeedIndex
	}
	return idx
}

// SpeedName returns the display name of a speed index.
func SpeedName(idx int) string {
	return speedNames[ClampSpeedIndex(idx)]
}
