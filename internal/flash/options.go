package flash

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dokzlo13/lighttools/internal/host"
	"github.com/dokzlo13/lighttools/internal/level"
)

var (
	ErrNoDevices      = errors.New("no devices selected for flashing")
	ErrInvalidOptions = errors.New("invalid flash options")
)

// Property bag keys of a flash action.
const (
	PropDeviceList        = "deviceList"
	PropFlashCount        = "flashCount"
	PropFlashDuration     = "flashDuration"
	PropGapDuration       = "gapDuration"
	PropFlashToBrightness = "flashToBrightness"
	PropFlashToMinimum    = "flashToMinimum"
)

// Defaults used when a flash request leaves a parameter out.
type Defaults struct {
	Count    int
	Duration time.Duration
	Gap      time.Duration
}

// DefaultDefaults matches the stock flash action: three half-second flashes.
var DefaultDefaults = Defaults{Count: 3, Duration: 500 * time.Millisecond, Gap: 500 * time.Millisecond}

// Options describes one flash job.
type Options struct {
	Devices  []host.DeviceID
	Count    int
	Duration time.Duration
	Gap      time.Duration
	// MaxLevel and MinLevel override the bright and dark levels of dimmers.
	// Relays and fans are on in the bright phase and off in the dark one.
	MaxLevel *int
	MinLevel *int
}

// Validate checks the options.
func (o Options) Validate() error {
	if len(o.Devices) == 0 {
		return ErrNoDevices
	}
	if o.Count <= 0 {
		return fmt.Errorf("%w: flash count must be positive, got %d", ErrInvalidOptions, o.Count)
	}
	if o.Duration <= 0 {
		return fmt.Errorf("%w: flash duration must be positive, got %s", ErrInvalidOptions, o.Duration)
	}
	if o.Gap < 0 {
		return fmt.Errorf("%w: gap duration must not be negative, got %s", ErrInvalidOptions, o.Gap)
	}
	return nil
}

func (o Options) maxLevel() int {
	if o.MaxLevel == nil {
		return level.Max
	}
	return level.Clamp(*o.MaxLevel)
}

func (o Options) minLevel() int {
	if o.MinLevel == nil {
		return level.Min
	}
	return level.Clamp(*o.MinLevel)
}

// ParseProps builds Options from a flash action property bag. Durations are
// given in seconds. Missing values fall back to d.
func ParseProps(props map[string]string, d Defaults) (Options, error) {
	opts := Options{Count: d.Count, Duration: d.Duration, Gap: d.Gap}

	for _, id := range host.SplitIDs(props[PropDeviceList]) {
		opts.Devices = append(opts.Devices, host.DeviceID(id))
	}

	if s := strings.TrimSpace(props[PropFlashCount]); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return Options{}, fmt.Errorf("%w: flash count %q", ErrInvalidOptions, s)
		}
		opts.Count = n
	}

	var err error
	if opts.Duration, err = parseSeconds(props[PropFlashDuration], opts.Duration); err != nil {
		return Options{}, err
	}
	if opts.Gap, err = parseSeconds(props[PropGapDuration], opts.Gap); err != nil {
		return Options{}, err
	}
	if opts.MaxLevel, err = parseLevel(props[PropFlashToBrightness]); err != nil {
		return Options{}, err
	}
	if opts.MinLevel, err = parseLevel(props[PropFlashToMinimum]); err != nil {
		return Options{}, err
	}

	return opts, opts.Validate()
}

func parseSeconds(s string, fallback time.Duration) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: duration %q", ErrInvalidOptions, s)
	}
	return time.Duration(f * float64(time.Second)), nil
}

func parseLevel(s string) (*int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: level %q", ErrInvalidOptions, s)
	}
	lvl := level.Clamp(int(f))
	return &lvl, nil
}
