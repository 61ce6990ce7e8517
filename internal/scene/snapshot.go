// Package scene captures, compares and restores the state of a set of devices
// and variables.
package scene

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dokzlo13/lighttools/internal/host"
)

var (
	ErrNoSnapshot       = errors.New("no saved snapshot")
	ErrMalformed        = errors.New("malformed snapshot")
	ErrEmptySelection   = errors.New("no devices or variables selected")
	ErrNotCapturable    = errors.New("device has no capturable state")
	ErrUnknownKeyPrefix = errors.New("unknown snapshot key prefix")
)

// Kind tags the variant held by a Record.
type Kind string

const (
	KindDimmer     Kind = "dimmer"
	KindRelay      Kind = "relay"
	KindThermostat Kind = "thermostat"
	KindFan        Kind = "fan"
	KindBlind      Kind = "blind"
	KindVariable   Kind = "variable"
)

// Record is the captured state of one entity. Only the fields belonging to
// Kind are meaningful.
type Record struct {
	Kind Kind

	Brightness int  // dimmer
	OnState    bool // dimmer, relay, fan

	HVACMode     int // thermostat
	FanMode      int
	CoolSetpoint float64
	HeatSetpoint float64

	SpeedLevel int // fan

	Position string // blind, as reported; numbers in canonical form

	Value string // variable
}

type recordJSON struct {
	Type         Kind             `json:"type"`
	Brightness   *int             `json:"brightness,omitempty"`
	OnState      *bool            `json:"onState,omitempty"`
	HVACMode     *int             `json:"hvacMode,omitempty"`
	FanMode      *int             `json:"fanMode,omitempty"`
	CoolSetpoint *float64         `json:"coolSetpoint,omitempty"`
	HeatSetpoint *float64         `json:"heatSetpoint,omitempty"`
	SpeedLevel   *int             `json:"speedLevel,omitempty"`
	Position     *json.RawMessage `json:"position,omitempty"`
	Value        *json.RawMessage `json:"value,omitempty"`
}

// MarshalJSON writes only the fields of the record's kind.
func (r Record) MarshalJSON() ([]byte, error) {
	out := recordJSON{Type: r.Kind}
	switch r.Kind {
	case KindDimmer:
		out.Brightness, out.OnState = &r.Brightness, &r.OnState
	case KindRelay:
		out.OnState = &r.OnState
	case KindThermostat:
		out.HVACMode, out.FanMode = &r.HVACMode, &r.FanMode
		out.CoolSetpoint, out.HeatSetpoint = &r.CoolSetpoint, &r.HeatSetpoint
	case KindFan:
		out.SpeedLevel, out.OnState = &r.SpeedLevel, &r.OnState
	case KindBlind:
		raw, err := positionJSON(r.Position)
		if err != nil {
			return nil, err
		}
		out.Position = &raw
	case KindVariable:
		raw, err := json.Marshal(r.Value)
		if err != nil {
			return nil, err
		}
		msg := json.RawMessage(raw)
		out.Value = &msg
	default:
		return nil, fmt.Errorf("unknown record type %q", r.Kind)
	}
	return json.Marshal(out)
}

// UnmarshalJSON validates that every field of the tagged kind is present.
// Variable values of any JSON scalar type are normalized to their string form.
func (r *Record) UnmarshalJSON(data []byte) error {
	var in recordJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	missing := func(field string) error {
		return fmt.Errorf("%s record without %s", in.Type, field)
	}

	rec := Record{Kind: in.Type}
	switch in.Type {
	case KindDimmer:
		if in.Brightness == nil {
			return missing("brightness")
		}
		if in.OnState == nil {
			return missing("onState")
		}
		rec.Brightness, rec.OnState = *in.Brightness, *in.OnState
	case KindRelay:
		if in.OnState == nil {
			return missing("onState")
		}
		rec.OnState = *in.OnState
	case KindThermostat:
		if in.HVACMode == nil || in.FanMode == nil || in.CoolSetpoint == nil || in.HeatSetpoint == nil {
			return missing("modes or setpoints")
		}
		rec.HVACMode, rec.FanMode = *in.HVACMode, *in.FanMode
		rec.CoolSetpoint, rec.HeatSetpoint = *in.CoolSetpoint, *in.HeatSetpoint
	case KindFan:
		if in.SpeedLevel == nil {
			return missing("speedLevel")
		}
		if in.OnState == nil {
			return missing("onState")
		}
		rec.SpeedLevel, rec.OnState = *in.SpeedLevel, *in.OnState
	case KindBlind:
		if in.Position == nil {
			return missing("position")
		}
		v, err := scalarString(*in.Position)
		if err != nil {
			return err
		}
		rec.Position = PositionString(v)
	case KindVariable:
		if in.Value == nil {
			return missing("value")
		}
		v, err := scalarString(*in.Value)
		if err != nil {
			return err
		}
		rec.Value = v
	default:
		return fmt.Errorf("unknown record type %q", in.Type)
	}

	*r = rec
	return nil
}

// PositionString renders a blind position state. Numeric values (including
// numeric strings) get their shortest decimal form so 42.5 and "42.50" compare
// equal; anything else is kept as reported.
func PositionString(v any) string {
	if f, ok := host.ToFloat(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func positionJSON(pos string) (json.RawMessage, error) {
	if f, err := strconv.ParseFloat(pos, 64); err == nil {
		return json.Marshal(f)
	}
	return json.Marshal(pos)
}

func scalarString(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	switch t := v.(type) {
	case nil:
		return "", nil
	case bool:
		return strconv.FormatBool(t), nil
	case float64:
		return string(raw), nil
	}
	return "", fmt.Errorf("variable value must be a scalar, got %s", raw)
}

// KeyKind distinguishes device and variable entries.
type KeyKind string

const (
	KeyDevice   KeyKind = "device"
	KeyVariable KeyKind = "variable"
)

// Key identifies a snapshot entry. Its text form is "device_<id>" or
// "variable_<id>".
type Key struct {
	Kind KeyKind
	ID   string
}

// DeviceKey builds a device entry key.
func DeviceKey(id host.DeviceID) Key { return Key{Kind: KeyDevice, ID: string(id)} }

// VariableKey builds a variable entry key.
func VariableKey(id host.VariableID) Key { return Key{Kind: KeyVariable, ID: string(id)} }

func (k Key) String() string {
	return string(k.Kind) + "_" + k.ID
}

func (k Key) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Key) UnmarshalText(text []byte) error {
	s := string(text)
	for _, kind := range []KeyKind{KeyDevice, KeyVariable} {
		prefix := string(kind) + "_"
		if id, ok := strings.CutPrefix(s, prefix); ok && id != "" {
			*k = Key{Kind: kind, ID: id}
			return nil
		}
	}
	return fmt.Errorf("%q: %w", s, ErrUnknownKeyPrefix)
}

// Snapshot maps entries to their captured records.
type Snapshot map[Key]Record

// Encode serializes the snapshot. Keys are written in sorted order.
func (s Snapshot) Encode() (string, error) {
	if len(s) == 0 {
		return "", ErrEmptySelection
	}
	data, err := json.Marshal(map[Key]Record(s))
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return string(data), nil
}

// Parse decodes a serialized snapshot. An empty string yields ErrNoSnapshot;
// anything undecodable yields ErrMalformed.
func Parse(encoded string) (Snapshot, error) {
	if strings.TrimSpace(encoded) == "" {
		return nil, ErrNoSnapshot
	}

	var m map[Key]Record
	if err := json.Unmarshal([]byte(encoded), &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	for k, r := range m {
		if (k.Kind == KeyVariable) != (r.Kind == KindVariable) {
			return nil, fmt.Errorf("%w: %s holds a %s record", ErrMalformed, k, r.Kind)
		}
	}
	if len(m) == 0 {
		return nil, ErrNoSnapshot
	}
	return Snapshot(m), nil
}

// Capture records the controllable state of a device. Devices without a
// capturable capability return ErrNotCapturable.
func Capture(d host.Device) (Record, error) {
	switch host.Classify(d) {
	case host.CapDimmer:
		return Record{Kind: KindDimmer, Brightness: d.Brightness, OnState: d.OnState}, nil
	case host.CapRelay:
		return Record{Kind: KindRelay, OnState: d.OnState}, nil
	case host.CapThermostat:
		return Record{
			Kind:         KindThermostat,
			HVACMode:     d.HVACMode,
			FanMode:      d.FanMode,
			CoolSetpoint: d.CoolSetpoint,
			HeatSetpoint: d.HeatSetpoint,
		}, nil
	case host.CapFan:
		return Record{Kind: KindFan, SpeedLevel: d.SpeedLevel, OnState: d.OnState}, nil
	case host.CapBlind:
		_, raw, _ := host.PositionState(d)
		return Record{Kind: KindBlind, Position: PositionString(raw)}, nil
	}
	return Record{}, fmt.Errorf("%s: %w", d.Label(), ErrNotCapturable)
}

// Diff lists the fields in which current differs from saved. Records of
// different kinds differ only in their type.
func Diff(saved, current Record) []string {
	if saved.Kind != current.Kind {
		return []string{fmt.Sprintf("type: saved=%s, current=%s", saved.Kind, current.Kind)}
	}

	var diffs []string
	field := func(name string, s, c any) {
		if s != c {
			diffs = append(diffs, fmt.Sprintf("%s: saved=%v, current=%v", name, s, c))
		}
	}

	switch saved.Kind {
	case KindDimmer:
		field("brightness", saved.Brightness, current.Brightness)
		field("onState", saved.OnState, current.OnState)
	case KindRelay:
		field("onState", saved.OnState, current.OnState)
	case KindThermostat:
		field("hvacMode", saved.HVACMode, current.HVACMode)
		field("fanMode", saved.FanMode, current.FanMode)
		field("coolSetpoint", saved.CoolSetpoint, current.CoolSetpoint)
		field("heatSetpoint", saved.HeatSetpoint, current.HeatSetpoint)
	case KindFan:
		field("speedLevel", saved.SpeedLevel, current.SpeedLevel)
		field("onState", saved.OnState, current.OnState)
	case KindBlind:
		field("position", saved.Position, current.Position)
	case KindVariable:
		if saved.Value != current.Value {
			diffs = append(diffs, fmt.Sprintf("value: saved=%q, current=%q", saved.Value, current.Value))
		}
	}
	return diffs
}
