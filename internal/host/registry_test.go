package host

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dokzlo13/lighttools/internal/db"
	"github.com/dokzlo13/lighttools/internal/eventbus"
	"github.com/dokzlo13/lighttools/internal/storage"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		dev  Device
		want Capability
	}{
		{"dimmer", Device{Class: ClassDimmer}, CapDimmer},
		{"relay", Device{Class: ClassRelay}, CapRelay},
		{"thermostat", Device{Class: ClassThermostat}, CapThermostat},
		{"fan", Device{Class: ClassSpeedControl}, CapFan},
		{"blind lower", Device{Class: ClassCustom, States: map[string]any{"position": 10}}, CapBlind},
		{"blind mixed case", Device{Class: ClassCustom, States: map[string]any{"Position": 10}}, CapBlind},
		{"custom sensor", Device{Class: ClassCustom, States: map[string]any{"temperature": 21}}, CapNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.dev); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNativeDimmer(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	r.AddDevice(Device{ID: "lamp", Class: ClassDimmer})

	steps := []struct {
		action Action
		level  int
		on     bool
	}{
		{Action{Kind: ActionTurnOn}, 100, true},
		{Action{Kind: ActionSetBrightness, Value: 40}, 40, true},
		{Action{Kind: ActionDimBy, Value: 50}, 0, false},
		{Action{Kind: ActionBrightenBy, Value: 25}, 25, true},
		{Action{Kind: ActionSetBrightness, Value: 150}, 100, true},
		{Action{Kind: ActionToggle}, 0, false},
	}

	for i, s := range steps {
		if err := r.Dispatch(ctx, "lamp", s.action); err != nil {
			t.Fatalf("step %d: Dispatch(%v) error = %v", i, s.action, err)
		}
		d, _ := r.Device("lamp")
		if d.Brightness != s.level || d.OnState != s.on {
			t.Errorf("step %d: after %v brightness=%d on=%v, want %d %v", i, s.action, d.Brightness, d.OnState, s.level, s.on)
		}
	}

	err := r.Dispatch(ctx, "lamp", Action{Kind: ActionSetSpeedIndex, Value: 1})
	if !errors.Is(err, ErrUnsupportedAction) {
		t.Errorf("Dispatch(setSpeedIndex) on dimmer error = %v, want ErrUnsupportedAction", err)
	}
}

func TestNativeFanAndBlind(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	r.AddDevice(Device{ID: "fan", Class: ClassSpeedControl})
	r.AddDevice(Device{ID: "blind", Class: ClassCustom, States: map[string]any{"Position": 0}})

	r.SetSpeedLevel(ctx, "fan", 66)
	fan, _ := r.Device("fan")
	if fan.SpeedIndex != 2 || fan.SpeedLevel != 66 || !fan.OnState {
		t.Errorf("fan after SetSpeedLevel(66) = index %d level %d on %v", fan.SpeedIndex, fan.SpeedLevel, fan.OnState)
	}
	r.Dispatch(ctx, "fan", Action{Kind: ActionIncreaseSpeedIndex})
	fan, _ = r.Device("fan")
	if fan.SpeedIndex != 3 || fan.SpeedLevel != 100 {
		t.Errorf("fan after increase = index %d level %d, want 3 100", fan.SpeedIndex, fan.SpeedLevel)
	}

	if err := r.SetBrightness(ctx, "blind", 70); err != nil {
		t.Fatalf("SetBrightness(blind) error = %v", err)
	}
	blind, _ := r.Device("blind")
	if blind.States["Position"] != 70 {
		t.Errorf("blind position = %v, want 70", blind.States["Position"])
	}

	if err := r.SetPosition(ctx, "blind", 33.5); err != nil {
		t.Fatalf("SetPosition(blind) error = %v", err)
	}
	blind, _ = r.Device("blind")
	if blind.States["Position"] != 33.5 {
		t.Errorf("blind position = %v, want 33.5", blind.States["Position"])
	}
	if err := r.SetPosition(ctx, "fan", 10); !errors.Is(err, ErrUnsupportedAction) {
		t.Errorf("SetPosition(fan) error = %v, want ErrUnsupportedAction", err)
	}
}

func TestDispatchRoutesToHandler(t *testing.T) {
	r := NewRegistry()
	r.AddDevice(Device{ID: "vd", Type: TypeVariableDimmer})

	var got Action
	var gotDev Device
	r.Handle(TypeVariableDimmer, ActionHandlerFunc(func(ctx context.Context, dev Device, a Action) error {
		gotDev, got = dev, a
		return nil
	}))

	if err := r.SetBrightness(context.Background(), "vd", 30); err != nil {
		t.Fatalf("SetBrightness() error = %v", err)
	}
	if got.Kind != ActionSetBrightness || got.IntValue() != 30 {
		t.Errorf("handler got %v, want setBrightness(30)", got)
	}
	if gotDev.Class != ClassDimmer {
		t.Errorf("plugin device class = %q, want dimmer", gotDev.Class)
	}
}

func TestThermostatAndVariables(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	r.AddDevice(Device{ID: "tstat", Class: ClassThermostat})
	r.AddDevice(Device{ID: "lamp", Class: ClassDimmer})
	r.AddVariable(Variable{ID: "v1", Value: "0"})

	r.SetHVACMode(ctx, "tstat", 2)
	r.SetCoolSetpoint(ctx, "tstat", 24.5)
	d, _ := r.Device("tstat")
	if d.HVACMode != 2 || d.CoolSetpoint != 24.5 {
		t.Errorf("thermostat = mode %d cool %v", d.HVACMode, d.CoolSetpoint)
	}
	if err := r.SetHVACMode(ctx, "lamp", 1); !errors.Is(err, ErrUnsupportedAction) {
		t.Errorf("SetHVACMode(dimmer) error = %v, want ErrUnsupportedAction", err)
	}

	r.SetVariable(ctx, "v1", "0.5")
	v, _ := r.Variable("v1")
	if v.Value != "0.5" {
		t.Errorf("Variable() = %q, want 0.5", v.Value)
	}
	if _, err := r.Variable("missing"); !errors.Is(err, ErrVariableNotFound) {
		t.Errorf("Variable(missing) error = %v", err)
	}
}

func TestUpdateStates(t *testing.T) {
	r := NewRegistry()
	r.AddDevice(Device{ID: "vd", Type: TypeVariableDimmer})

	err := r.UpdateStates("vd", State(StateBrightness, 42), State(StateOnOff, true), State("note", "x"))
	if err != nil {
		t.Fatalf("UpdateStates() error = %v", err)
	}
	d, _ := r.Device("vd")
	if d.Brightness != 42 || !d.OnState || d.States["note"] != "x" {
		t.Errorf("device = %+v", d)
	}

	err = r.UpdateStates("vd", State(StateBrightness, 10), State(StateSpeedIndex, "fast"))
	if !errors.Is(err, ErrInvalidStateUpdate) {
		t.Fatalf("UpdateStates(bad) error = %v, want ErrInvalidStateUpdate", err)
	}
	d, _ = r.Device("vd")
	if d.Brightness != 42 {
		t.Errorf("failed update was partially applied: brightness = %d", d.Brightness)
	}
}

func TestEventsOnlyOnChange(t *testing.T) {
	bus := eventbus.NewWithConfig(1, 16)
	defer bus.Close(context.Background())

	events := make(chan eventbus.Event, 8)
	bus.Subscribe(eventbus.EventTypeDeviceUpdated, func(e eventbus.Event) { events <- e })

	r := NewRegistry(WithBus(bus))
	r.AddDevice(Device{ID: "lamp", Class: ClassDimmer})

	ctx := context.Background()
	r.SetBrightness(ctx, "lamp", 50)
	r.SetBrightness(ctx, "lamp", 50)

	select {
	case e := <-events:
		old, updated, ok := DeviceChange(e)
		if !ok || old.Brightness != 0 || updated.Brightness != 50 {
			t.Errorf("DeviceChange() = %v %v %v", old.Brightness, updated.Brightness, ok)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no device_updated event")
	}

	select {
	case e := <-events:
		t.Errorf("unexpected second event %+v", e.Data)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRestore(t *testing.T) {
	database, err := db.Open(filepath.Join(t.TempDir(), "host.db"))
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	defer database.Close()
	p := NewStorePersister(storage.NewStore(database.DB))

	ctx := context.Background()
	first := NewRegistry(WithPersister(p))
	first.AddDevice(Device{ID: "scene", Type: TypeScene, Props: map[string]string{"sceneDevices": "a"}})
	first.AddDevice(Device{ID: "lamp", Class: ClassDimmer})
	first.AddVariable(Variable{ID: "v1", Value: "0"})
	first.SetProp("scene", "savedStates", `{"x":1}`)
	first.SetBrightness(ctx, "lamp", 35)
	first.SetVariable(ctx, "v1", "0.35")

	second := NewRegistry(WithPersister(p))
	second.AddDevice(Device{ID: "scene", Name: "Evening", Type: TypeScene, Props: map[string]string{"sceneDevices": "a,b"}})
	second.AddDevice(Device{ID: "lamp", Class: ClassDimmer})
	second.AddVariable(Variable{ID: "v1", Value: "0"})
	if err := second.Restore(); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	scene, _ := second.Device("scene")
	if scene.Prop("savedStates") != `{"x":1}` {
		t.Errorf("savedStates = %q, want persisted value", scene.Prop("savedStates"))
	}
	if scene.Prop("sceneDevices") != "a,b" || scene.Name != "Evening" {
		t.Errorf("configured fields did not override: %+v", scene)
	}
	lamp, _ := second.Device("lamp")
	if lamp.Brightness != 35 || !lamp.OnState {
		t.Errorf("lamp = %d %v, want 35 on", lamp.Brightness, lamp.OnState)
	}
	v, _ := second.Variable("v1")
	if v.Value != "0.35" {
		t.Errorf("v1 = %q, want 0.35", v.Value)
	}
}
