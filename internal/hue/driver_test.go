package hue

import (
	"context"
	"errors"
	"testing"

	"github.com/amimof/huego"

	"github.com/dokzlo13/lighttools/internal/host"
)

type fakeBridge struct {
	lights []huego.Light
	writes map[int]huego.State
	err    error
}

func (f *fakeBridge) GetLightsContext(ctx context.Context) ([]huego.Light, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.lights, nil
}

func (f *fakeBridge) SetLightStateContext(ctx context.Context, id int, state huego.State) (*huego.Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.writes == nil {
		f.writes = make(map[int]huego.State)
	}
	f.writes[id] = state
	return &huego.Response{}, nil
}

func TestBriConversion(t *testing.T) {
	tests := []struct {
		bri   uint8
		level int
	}{
		{254, 100},
		{127, 50},
		{1, 0},
		{0, 0},
	}
	for _, tt := range tests {
		if got := BriToLevel(tt.bri); got != tt.level {
			t.Errorf("BriToLevel(%d) = %d, want %d", tt.bri, got, tt.level)
		}
	}

	levels := []struct {
		level int
		bri   uint8
	}{
		{100, 254},
		{50, 127},
		{0, 1},
		{150, 254},
	}
	for _, tt := range levels {
		if got := LevelToBri(tt.level); got != tt.bri {
			t.Errorf("LevelToBri(%d) = %d, want %d", tt.level, got, tt.bri)
		}
	}
}

func newDriverFixture(t *testing.T) (*Driver, *fakeBridge, *host.Registry) {
	t.Helper()
	bridge := &fakeBridge{lights: []huego.Light{
		{ID: 1, Name: "Desk", State: &huego.State{On: true, Bri: 127, Reachable: true}},
		{ID: 2, Name: "Hall", State: &huego.State{On: false, Bri: 200}},
	}}
	reg := host.NewRegistry()
	d := NewDriver(bridge, reg)
	reg.Handle(host.TypeHueLight, d)

	if err := d.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	return d, bridge, reg
}

func TestSyncRegistersLights(t *testing.T) {
	_, _, reg := newDriverFixture(t)

	desk, err := reg.Device(DeviceID(1))
	if err != nil {
		t.Fatalf("Device(hue-1) error = %v", err)
	}
	if desk.Class != host.ClassDimmer || desk.Type != host.TypeHueLight {
		t.Errorf("desk class/type = %s/%s", desk.Class, desk.Type)
	}
	if !desk.OnState || desk.Brightness != 50 || desk.Name != "Desk" {
		t.Errorf("desk = %+v", desk)
	}

	hall, _ := reg.Device(DeviceID(2))
	if hall.OnState || hall.Brightness != 0 {
		t.Errorf("hall = on %v, brightness %d, want off at 0", hall.OnState, hall.Brightness)
	}
}

func TestSyncPushesChanges(t *testing.T) {
	d, bridge, reg := newDriverFixture(t)

	bridge.lights[1].State = &huego.State{On: true, Bri: 254, Reachable: true}
	if err := d.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	hall, _ := reg.Device(DeviceID(2))
	if !hall.OnState || hall.Brightness != 100 {
		t.Errorf("hall = on %v, brightness %d, want on at 100", hall.OnState, hall.Brightness)
	}
	if hall.States["reachable"] != true {
		t.Errorf("reachable = %v, want true", hall.States["reachable"])
	}

	bridge.err = errors.New("bridge offline")
	if err := d.Sync(context.Background()); err == nil {
		t.Error("Sync() with failing bridge returned no error")
	}
}

func TestSyncForgetsVanishedLights(t *testing.T) {
	d, bridge, reg := newDriverFixture(t)
	ctx := context.Background()

	desk := bridge.lights[0]
	bridge.lights = bridge.lights[1:]
	if err := d.Sync(ctx); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	got, _ := reg.Device(DeviceID(1))
	if got.States["reachable"] != false {
		t.Errorf("vanished light reachable = %v, want false", got.States["reachable"])
	}
	if _, ok := d.seen.Get(DeviceID(1)); ok {
		t.Error("vanished light still cached")
	}

	// While gone, the light is changed locally; its return is pushed in full.
	reg.UpdateStates(DeviceID(1), host.State(host.StateBrightness, 5))
	bridge.lights = append(bridge.lights, desk)
	if err := d.Sync(ctx); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	got, _ = reg.Device(DeviceID(1))
	if got.Brightness != 50 || got.States["reachable"] != true {
		t.Errorf("returned light = brightness %d reachable %v, want 50 true", got.Brightness, got.States["reachable"])
	}
}

func TestHandleAction(t *testing.T) {
	_, bridge, reg := newDriverFixture(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		action  host.Action
		wantOn  bool
		wantBri uint8
		wantLvl int
	}{
		{"set brightness", host.Action{Kind: host.ActionSetBrightness, Value: 30}, true, 76, 30},
		{"brighten", host.Action{Kind: host.ActionBrightenBy, Value: 20}, true, 127, 50},
		{"turn off", host.Action{Kind: host.ActionTurnOff}, false, 0, 0},
		{"toggle on", host.Action{Kind: host.ActionToggle}, true, 254, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := reg.Dispatch(ctx, DeviceID(1), tt.action); err != nil {
				t.Fatalf("Dispatch() error = %v", err)
			}
			w := bridge.writes[1]
			if w.On != tt.wantOn || w.Bri != tt.wantBri {
				t.Errorf("write = on %v bri %d, want on %v bri %d", w.On, w.Bri, tt.wantOn, tt.wantBri)
			}
			dev, _ := reg.Device(DeviceID(1))
			if dev.Brightness != tt.wantLvl || dev.OnState != tt.wantOn {
				t.Errorf("device = on %v brightness %d, want on %v brightness %d", dev.OnState, dev.Brightness, tt.wantOn, tt.wantLvl)
			}
		})
	}

	err := reg.Dispatch(ctx, DeviceID(1), host.Action{Kind: host.ActionSetSpeedIndex, Value: 1})
	if !errors.Is(err, host.ErrUnsupportedAction) {
		t.Errorf("Dispatch(setSpeedIndex) error = %v, want ErrUnsupportedAction", err)
	}
}
