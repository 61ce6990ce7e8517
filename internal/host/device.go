// Package host models the home-control server the controllers talk to:
// devices, variables, their read/write primitives and the per-device
// property bag. Registry is the in-process implementation.
package host

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// DeviceID identifies a device.
type DeviceID string

// VariableID identifies a variable.
type VariableID string

// Class is the native device class reported by the server.
type Class string

const (
	ClassDimmer       Class = "dimmer"
	ClassRelay        Class = "relay"
	ClassThermostat   Class = "thermostat"
	ClassSpeedControl Class = "speedcontrol"
	ClassCustom       Class = "custom"
)

// Plugin device types handled by this module's controllers.
const (
	TypeVariableDimmer = "vardimmer"
	TypeScene          = "scene"
	TypeRelayDimmer    = "relay2dimmer"
	TypeRelayFan       = "relay2fan"
	TypeHueLight       = "huelight"
)

// Well-known state keys accepted by UpdateStates.
const (
	StateBrightness   = "brightnessLevel"
	StateOnOff        = "onOffState"
	StateSpeedIndex   = "speedIndex"
	StateSpeedLevel   = "speedLevel"
	StateHVACMode     = "hvacMode"
	StateFanMode      = "fanMode"
	StateCoolSetpoint = "coolSetpoint"
	StateHeatSetpoint = "heatSetpoint"
)

// ClassForType returns the native class a plugin device type presents as.
func ClassForType(deviceType string) (Class, bool) {
	switch deviceType {
	case TypeVariableDimmer, TypeRelayDimmer, TypeHueLight:
		return ClassDimmer, true
	case TypeRelayFan:
		return ClassSpeedControl, true
	case TypeScene:
		return ClassRelay, true
	}
	return "", false
}

// ParseClass validates a class name.
func ParseClass(s string) (Class, error) {
	switch c := Class(strings.ToLower(strings.TrimSpace(s))); c {
	case ClassDimmer, ClassRelay, ClassThermostat, ClassSpeedControl, ClassCustom:
		return c, nil
	case "":
		return ClassCustom, nil
	}
	return "", fmt.Errorf("unknown device class %q", s)
}

// Device is a snapshot of a device's attributes. Values returned by a Reader
// are copies; mutating them has no effect on the server.
type Device struct {
	ID           DeviceID          `json:"id"`
	Name         string            `json:"name"`
	Class        Class             `json:"class"`
	Type         string            `json:"type,omitempty"`
	OnState      bool              `json:"onState"`
	Brightness   int               `json:"brightness"`
	SpeedIndex   int               `json:"speedIndex"`
	SpeedLevel   int               `json:"speedLevel"`
	HVACMode     int               `json:"hvacMode"`
	FanMode      int               `json:"fanMode"`
	CoolSetpoint float64           `json:"coolSetpoint"`
	HeatSetpoint float64           `json:"heatSetpoint"`
	States       map[string]any    `json:"states,omitempty"`
	Props        map[string]string `json:"props,omitempty"`
}

// Label returns the name, or the id when the device has no name.
func (d Device) Label() string {
	if d.Name != "" {
		return d.Name
	}
	return string(d.ID)
}

// Prop returns a property bag value, or "" when unset.
func (d Device) Prop(key string) string {
	return d.Props[key]
}

// IsPlugin reports whether the device is one of this module's composite types.
func (d Device) IsPlugin() bool {
	return d.Type != ""
}

// Clone returns a deep copy.
func (d Device) Clone() Device {
	c := d
	if d.States != nil {
		c.States = make(map[string]any, len(d.States))
		for k, v := range d.States {
			c.States[k] = v
		}
	}
	if d.Props != nil {
		c.Props = make(map[string]string, len(d.Props))
		for k, v := range d.Props {
			c.Props[k] = v
		}
	}
	return c
}

// Variable is a named string value on the server.
type Variable struct {
	ID    VariableID `json:"id"`
	Name  string     `json:"name"`
	Value string     `json:"value"`
}

// Label returns the name, or the id when the variable has no name.
func (v Variable) Label() string {
	if v.Name != "" {
		return v.Name
	}
	return string(v.ID)
}

// Capability is what a device can be captured and restored as.
type Capability int

const (
	CapNone Capability = iota
	CapDimmer
	CapRelay
	CapThermostat
	CapFan
	CapBlind
)

func (c Capability) String() string {
	switch c {
	case CapDimmer:
		return "dimmer"
	case CapRelay:
		return "relay"
	case CapThermostat:
		return "thermostat"
	case CapFan:
		return "fan"
	case CapBlind:
		return "blind"
	default:
		return "none"
	}
}

// Classify maps a device onto its capability. Custom devices count as blinds
// when they expose a state whose key is "position" in any letter case.
func Classify(d Device) Capability {
	switch d.Class {
	case ClassDimmer:
		return CapDimmer
	case ClassRelay:
		return CapRelay
	case ClassThermostat:
		return CapThermostat
	case ClassSpeedControl:
		return CapFan
	}
	if _, _, ok := PositionState(d); ok {
		return CapBlind
	}
	return CapNone
}

// PositionState finds the position state of a blind-like device.
// Keys are matched case-insensitively; with several candidates the
// lexically smallest key wins so the choice is stable.
func PositionState(d Device) (key string, value any, ok bool) {
	var keys []string
	for k := range d.States {
		if strings.EqualFold(k, "position") {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return "", nil, false
	}
	sort.Strings(keys)
	return keys[0], d.States[keys[0]], true
}

// ToFloat converts a loosely typed state value to a number.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// ToInt converts a loosely typed state value to an int, rounding fractions.
func ToInt(v any) (int, bool) {
	f, ok := ToFloat(v)
	if !ok {
		return 0, false
	}
	return int(math.Round(f)), true
}

// ToBool converts a loosely typed state value to a bool.
func ToBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "on", "1", "yes":
			return true, true
		case "false", "off", "0", "no":
			return false, true
		}
		return false, false
	}
	if f, ok := ToFloat(v); ok {
		return f != 0, true
	}
	return false, false
}

// SplitIDs parses a comma separated id list from a property bag value,
// dropping blanks.
func SplitIDs(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
