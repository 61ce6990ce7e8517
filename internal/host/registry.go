package host

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lighttools/internal/eventbus"
	"github.com/dokzlo13/lighttools/internal/level"
)

var (
	ErrDeviceNotFound     = errors.New("device not found")
	ErrVariableNotFound   = errors.New("variable not found")
	ErrUnsupportedAction  = errors.New("action not supported by device")
	ErrDuplicateEntity    = errors.New("entity already registered")
	ErrInvalidStateUpdate = errors.New("invalid state update")
)

// Reader reads device and variable attributes.
type Reader interface {
	Device(id DeviceID) (Device, error)
	Variable(id VariableID) (Variable, error)
}

// Writer issues commands. Commands addressed to devices with a registered
// action handler are routed to that handler.
type Writer interface {
	SetBrightness(ctx context.Context, id DeviceID, level int) error
	TurnOn(ctx context.Context, id DeviceID) error
	TurnOff(ctx context.Context, id DeviceID) error
	SetSpeedLevel(ctx context.Context, id DeviceID, level int) error
	SetHVACMode(ctx context.Context, id DeviceID, mode int) error
	SetFanMode(ctx context.Context, id DeviceID, mode int) error
	SetCoolSetpoint(ctx context.Context, id DeviceID, value float64) error
	SetHeatSetpoint(ctx context.Context, id DeviceID, value float64) error
	SetPosition(ctx context.Context, id DeviceID, value float64) error
	SetVariable(ctx context.Context, id VariableID, value string) error
}

// StateUpdater updates the visible state of a device without commanding it.
type StateUpdater interface {
	UpdateStates(id DeviceID, updates ...StateUpdate) error
}

// PropSetter writes a device's persistent property bag.
type PropSetter interface {
	SetProp(id DeviceID, key, value string) error
}

// Host is everything a controller may use.
type Host interface {
	Reader
	Writer
	StateUpdater
	PropSetter
	Devices() []Device
	DevicesOfType(deviceType string) []Device
	Dispatch(ctx context.Context, id DeviceID, action Action) error
}

// StateUpdate is a single key/value state change.
type StateUpdate struct {
	Key   string
	Value any
}

// State builds a StateUpdate.
func State(key string, value any) StateUpdate {
	return StateUpdate{Key: key, Value: value}
}

// Registry is an in-memory Host. Change notifications go to the event bus and
// every mutation is handed to the persister when one is set.
type Registry struct {
	mu        sync.RWMutex
	devices   map[DeviceID]*Device
	variables map[VariableID]*Variable
	handlers  map[string]ActionHandler

	bus       *eventbus.Bus
	persister Persister
}

// Option configures a Registry.
type Option func(*Registry)

// WithBus publishes change events to bus.
func WithBus(bus *eventbus.Bus) Option {
	return func(r *Registry) { r.bus = bus }
}

// WithPersister saves every device and variable change through p.
func WithPersister(p Persister) Option {
	return func(r *Registry) { r.persister = p }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		devices:   make(map[DeviceID]*Device),
		variables: make(map[VariableID]*Variable),
		handlers:  make(map[string]ActionHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddDevice registers a device. Plugin types get their native class filled in.
func (r *Registry) AddDevice(d Device) error {
	if d.ID == "" {
		return fmt.Errorf("device id is required")
	}
	if d.Class == "" {
		if c, ok := ClassForType(d.Type); ok {
			d.Class = c
		} else {
			d.Class = ClassCustom
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.devices[d.ID]; exists {
		return fmt.Errorf("device %s: %w", d.ID, ErrDuplicateEntity)
	}
	c := d.Clone()
	if c.Props == nil {
		c.Props = make(map[string]string)
	}
	if c.States == nil {
		c.States = make(map[string]any)
	}
	r.devices[d.ID] = &c
	return nil
}

// AddVariable registers a variable.
func (r *Registry) AddVariable(v Variable) error {
	if v.ID == "" {
		return fmt.Errorf("variable id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.variables[v.ID]; exists {
		return fmt.Errorf("variable %s: %w", v.ID, ErrDuplicateEntity)
	}
	c := v
	r.variables[v.ID] = &c
	return nil
}

// Handle routes commands for devices of deviceType to h.
func (r *Registry) Handle(deviceType string, h ActionHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[deviceType] = h
}

// Device returns a copy of a device.
func (r *Registry) Device(id DeviceID) (Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[id]
	if !ok {
		return Device{}, fmt.Errorf("%s: %w", id, ErrDeviceNotFound)
	}
	return d.Clone(), nil
}

// Variable returns a copy of a variable.
func (r *Registry) Variable(id VariableID) (Variable, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.variables[id]
	if !ok {
		return Variable{}, fmt.Errorf("%s: %w", id, ErrVariableNotFound)
	}
	return *v, nil
}

// Devices returns copies of all devices ordered by id.
func (r *Registry) Devices() []Device {
	return r.devicesWhere(func(*Device) bool { return true })
}

// DevicesOfType returns copies of devices of one plugin type ordered by id.
func (r *Registry) DevicesOfType(deviceType string) []Device {
	return r.devicesWhere(func(d *Device) bool { return d.Type == deviceType })
}

func (r *Registry) devicesWhere(match func(*Device) bool) []Device {
	r.mu.RLock()
	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		if match(d) {
			out = append(out, d.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Variables returns copies of all variables ordered by id.
func (r *Registry) Variables() []Variable {
	r.mu.RLock()
	out := make([]Variable, 0, len(r.variables))
	for _, v := range r.variables {
		out = append(out, *v)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Dispatch executes an action. Devices whose type has a handler are passed to
// it; everything else gets the native behavior of its class.
func (r *Registry) Dispatch(ctx context.Context, id DeviceID, action Action) error {
	r.mu.RLock()
	d, ok := r.devices[id]
	var h ActionHandler
	var snapshot Device
	if ok {
		h = r.handlers[d.Type]
		snapshot = d.Clone()
	}
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%s: %w", id, ErrDeviceNotFound)
	}
	if h != nil {
		return h.HandleAction(ctx, snapshot, action)
	}
	return r.mutateDevice(id, func(d *Device) error {
		return applyNative(d, action)
	})
}

func applyNative(d *Device, action Action) error {
	switch Classify(*d) {
	case CapDimmer:
		return applyDimmer(d, action)
	case CapRelay:
		return applyRelay(d, action)
	case CapFan:
		return applyFan(d, action)
	case CapBlind:
		return applyBlind(d, action)
	}
	return fmt.Errorf("%s on %s: %w", action, d.Label(), ErrUnsupportedAction)
}

func applyDimmer(d *Device, action Action) error {
	switch action.Kind {
	case ActionTurnOn:
		d.Brightness = level.Max
	case ActionTurnOff:
		d.Brightness = level.Min
	case ActionToggle:
		if d.OnState {
			d.Brightness = level.Min
		} else {
			d.Brightness = level.Max
		}
	case ActionSetBrightness:
		d.Brightness = level.Clamp(action.IntValue())
	case ActionBrightenBy:
		d.Brightness = level.Clamp(d.Brightness + action.IntValue())
	case ActionDimBy:
		d.Brightness = level.Clamp(d.Brightness - action.IntValue())
	default:
		return fmt.Errorf("%s on dimmer %s: %w", action, d.Label(), ErrUnsupportedAction)
	}
	d.OnState = d.Brightness > 0
	return nil
}

func applyRelay(d *Device, action Action) error {
	switch action.Kind {
	case ActionTurnOn:
		d.OnState = true
	case ActionTurnOff:
		d.OnState = false
	case ActionToggle:
		d.OnState = !d.OnState
	default:
		return fmt.Errorf("%s on relay %s: %w", action, d.Label(), ErrUnsupportedAction)
	}
	return nil
}

func applyFan(d *Device, action Action) error {
	switch action.Kind {
	case ActionTurnOn:
		if d.SpeedLevel == 0 {
			setFanLevel(d, level.RelayHigh)
		}
	case ActionTurnOff:
		setFanLevel(d, level.RelayOff)
	case ActionToggle:
		if d.SpeedLevel > 0 {
			setFanLevel(d, level.RelayOff)
		} else {
			setFanLevel(d, level.RelayHigh)
		}
	case ActionSetSpeedLevel:
		setFanLevel(d, level.Clamp(action.IntValue()))
	case ActionSetSpeedIndex:
		setFanLevel(d, level.SpeedLevel(action.IntValue()))
	case ActionIncreaseSpeedIndex:
		setFanLevel(d, level.SpeedLevel(d.SpeedIndex+1))
	case ActionDecreaseSpeedIndex:
		setFanLevel(d, level.SpeedLevel(d.SpeedIndex-1))
	default:
		return fmt.Errorf("%s on fan %s: %w", action, d.Label(), ErrUnsupportedAction)
	}
	return nil
}

func setFanLevel(d *Device, lvl int) {
	d.SpeedLevel = lvl
	d.SpeedIndex = level.SpeedIndex(lvl)
	d.OnState = lvl > 0
}

func applyBlind(d *Device, action Action) error {
	key, _, _ := PositionState(*d)
	switch action.Kind {
	case ActionTurnOn:
		d.States[key] = level.Max
	case ActionTurnOff:
		d.States[key] = level.Min
	case ActionSetBrightness:
		d.States[key] = level.Clamp(action.IntValue())
	default:
		return fmt.Errorf("%s on blind %s: %w", action, d.Label(), ErrUnsupportedAction)
	}
	return nil
}

func (r *Registry) SetBrightness(ctx context.Context, id DeviceID, lvl int) error {
	return r.Dispatch(ctx, id, Action{Kind: ActionSetBrightness, Value: float64(lvl)})
}

func (r *Registry) TurnOn(ctx context.Context, id DeviceID) error {
	return r.Dispatch(ctx, id, Action{Kind: ActionTurnOn})
}

func (r *Registry) TurnOff(ctx context.Context, id DeviceID) error {
	return r.Dispatch(ctx, id, Action{Kind: ActionTurnOff})
}

func (r *Registry) SetSpeedLevel(ctx context.Context, id DeviceID, lvl int) error {
	return r.Dispatch(ctx, id, Action{Kind: ActionSetSpeedLevel, Value: float64(lvl)})
}

func (r *Registry) SetHVACMode(_ context.Context, id DeviceID, mode int) error {
	return r.mutateThermostat(id, func(d *Device) { d.HVACMode = mode })
}

func (r *Registry) SetFanMode(_ context.Context, id DeviceID, mode int) error {
	return r.mutateThermostat(id, func(d *Device) { d.FanMode = mode })
}

func (r *Registry) SetCoolSetpoint(_ context.Context, id DeviceID, value float64) error {
	return r.mutateThermostat(id, func(d *Device) { d.CoolSetpoint = value })
}

func (r *Registry) SetHeatSetpoint(_ context.Context, id DeviceID, value float64) error {
	return r.mutateThermostat(id, func(d *Device) { d.HeatSetpoint = value })
}

// SetPosition moves a blind to an exact position in 0..100. Fractions are kept.
func (r *Registry) SetPosition(_ context.Context, id DeviceID, value float64) error {
	return r.mutateDevice(id, func(d *Device) error {
		key, _, ok := PositionState(*d)
		if !ok {
			return fmt.Errorf("position command on %s: %w", d.Label(), ErrUnsupportedAction)
		}
		d.States[key] = math.Max(level.Min, math.Min(level.Max, value))
		return nil
	})
}

func (r *Registry) mutateThermostat(id DeviceID, fn func(*Device)) error {
	return r.mutateDevice(id, func(d *Device) error {
		if d.Class != ClassThermostat {
			return fmt.Errorf("thermostat command on %s: %w", d.Label(), ErrUnsupportedAction)
		}
		fn(d)
		return nil
	})
}

// SetVariable writes a variable value.
func (r *Registry) SetVariable(_ context.Context, id VariableID, value string) error {
	r.mu.Lock()
	v, ok := r.variables[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%s: %w", id, ErrVariableNotFound)
	}
	old := *v
	v.Value = value
	updated := *v
	r.mu.Unlock()

	if old.Value == updated.Value {
		return nil
	}

	r.saveVariable(updated)
	r.publish(eventbus.EventTypeVariableUpdated, string(id), old, updated)
	return nil
}

// UpdateStates changes the visible state of a device. Well-known keys map onto
// the typed fields; anything else lands in States.
func (r *Registry) UpdateStates(id DeviceID, updates ...StateUpdate) error {
	return r.mutateDevice(id, func(d *Device) error {
		for _, u := range updates {
			if err := applyState(d, u); err != nil {
				return err
			}
		}
		return nil
	})
}

func applyState(d *Device, u StateUpdate) error {
	invalid := func() error {
		return fmt.Errorf("%s=%v on %s: %w", u.Key, u.Value, d.Label(), ErrInvalidStateUpdate)
	}

	switch u.Key {
	case StateBrightness:
		n, ok := ToInt(u.Value)
		if !ok {
			return invalid()
		}
		d.Brightness = level.Clamp(n)
	case StateOnOff:
		b, ok := ToBool(u.Value)
		if !ok {
			return invalid()
		}
		d.OnState = b
	case StateSpeedIndex:
		n, ok := ToInt(u.Value)
		if !ok {
			return invalid()
		}
		d.SpeedIndex = level.ClampSpeedIndex(n)
	case StateSpeedLevel:
		n, ok := ToInt(u.Value)
		if !ok {
			return invalid()
		}
		d.SpeedLevel = level.Clamp(n)
	case StateHVACMode:
		n, ok := ToInt(u.Value)
		if !ok {
			return invalid()
		}
		d.HVACMode = n
	case StateFanMode:
		n, ok := ToInt(u.Value)
		if !ok {
			return invalid()
		}
		d.FanMode = n
	case StateCoolSetpoint:
		f, ok := ToFloat(u.Value)
		if !ok {
			return invalid()
		}
		d.CoolSetpoint = f
	case StateHeatSetpoint:
		f, ok := ToFloat(u.Value)
		if !ok {
			return invalid()
		}
		d.HeatSetpoint = f
	default:
		d.States[u.Key] = u.Value
	}
	return nil
}

// SetProp writes one property bag value. Property writes are persisted but
// do not raise device_updated.
func (r *Registry) SetProp(id DeviceID, key, value string) error {
	r.mu.Lock()
	d, ok := r.devices[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%s: %w", id, ErrDeviceNotFound)
	}
	d.Props[key] = value
	saved := d.Clone()
	r.mu.Unlock()

	r.saveDevice(saved)
	return nil
}

// mutateDevice applies fn to a working copy and commits it only when fn
// succeeds. A change event is published when the device actually changed.
func (r *Registry) mutateDevice(id DeviceID, fn func(*Device) error) error {
	r.mu.Lock()
	d, ok := r.devices[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%s: %w", id, ErrDeviceNotFound)
	}
	old := d.Clone()
	work := d.Clone()
	if err := fn(&work); err != nil {
		r.mu.Unlock()
		return err
	}
	*d = work
	updated := work.Clone()
	r.mu.Unlock()

	if reflect.DeepEqual(old, updated) {
		return nil
	}

	r.saveDevice(updated)
	r.publish(eventbus.EventTypeDeviceUpdated, string(id), old, updated)
	return nil
}

func (r *Registry) publish(t eventbus.EventType, id string, old, updated any) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{
		Type:   t,
		Source: "host",
		Data: map[string]any{
			"id":  id,
			"old": old,
			"new": updated,
		},
	})
}

func (r *Registry) saveDevice(d Device) {
	if r.persister == nil {
		return
	}
	if err := r.persister.SaveDevice(d); err != nil {
		log.Warn().Err(err).Str("device", string(d.ID)).Msg("Failed to persist device")
	}
}

func (r *Registry) saveVariable(v Variable) {
	if r.persister == nil {
		return
	}
	if err := r.persister.SaveVariable(v); err != nil {
		log.Warn().Err(err).Str("variable", string(v.ID)).Msg("Failed to persist variable")
	}
}

// DeviceChange extracts the before/after pair from a device_updated event.
func DeviceChange(e eventbus.Event) (old, updated Device, ok bool) {
	if e.Type != eventbus.EventTypeDeviceUpdated {
		return Device{}, Device{}, false
	}
	old, ok1 := e.Data["old"].(Device)
	updated, ok2 := e.Data["new"].(Device)
	return old, updated, ok1 && ok2
}

// VariableChange extracts the before/after pair from a variable_updated event.
func VariableChange(e eventbus.Event) (old, updated Variable, ok bool) {
	if e.Type != eventbus.EventTypeVariableUpdated {
		return Variable{}, Variable{}, false
	}
	old, ok1 := e.Data["old"].(Variable)
	updated, ok2 := e.Data["new"].(Variable)
	return old, updated, ok1 && ok2
}
