package relaypair

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dokzlo13/lighttools/internal/eventbus"
	"github.com/dokzlo13/lighttools/internal/flash"
	"github.com/dokzlo13/lighttools/internal/host"
	"github.com/dokzlo13/lighttools/internal/reconcile"
)

const testDelay = 30 * time.Millisecond

func newFixture(t *testing.T, deviceType string) (*host.Registry, *Controller) {
	t.Helper()
	r := host.NewRegistry()
	r.AddDevice(host.Device{ID: "r1", Name: "Relay 1", Class: host.ClassRelay})
	r.AddDevice(host.Device{ID: "r2", Name: "Relay 2", Class: host.ClassRelay})
	r.AddDevice(host.Device{
		ID:    "pair",
		Name:  "Pair",
		Type:  deviceType,
		Props: map[string]string{PropRelay1: "r1", PropRelay2: "r2"},
	})
	c := NewController(r, reconcile.NewState(), testDelay, nil)
	r.Handle(host.TypeRelayDimmer, c)
	r.Handle(host.TypeRelayFan, c)
	t.Cleanup(c.Close)
	return r, c
}

func relays(t *testing.T, r *host.Registry) (bool, bool) {
	t.Helper()
	d1, _ := r.Device("r1")
	d2, _ := r.Device("r2")
	return d1.OnState, d2.OnState
}

func waitRelays(t *testing.T, r *host.Registry, want1, want2 bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if on1, on2 := relays(t, r); on1 == want1 && on2 == want2 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	on1, on2 := relays(t, r)
	t.Fatalf("relays = %v %v, want %v %v", on1, on2, want1, want2)
}

func TestDimmerCommands(t *testing.T) {
	ctx := context.Background()
	r, c := newFixture(t, host.TypeRelayDimmer)

	tests := []struct {
		action host.Action
		level  int
		r1, r2 bool
	}{
		{host.Action{Kind: host.ActionSetBrightness, Value: 40}, 33, true, false},
		{host.Action{Kind: host.ActionBrightenBy, Value: 30}, 66, false, true},
		{host.Action{Kind: host.ActionBrightenBy, Value: 60}, 100, true, true},
		{host.Action{Kind: host.ActionDimBy, Value: 200}, 0, false, false},
		{host.Action{Kind: host.ActionToggle}, 100, true, true},
		{host.Action{Kind: host.ActionTurnOff}, 0, false, false},
	}

	for _, tt := range tests {
		if err := r.Dispatch(ctx, "pair", tt.action); err != nil {
			t.Fatalf("Dispatch(%v) error = %v", tt.action, err)
		}
		d, _ := r.Device("pair")
		if d.Brightness != tt.level || d.OnState != (tt.level > 0) {
			t.Errorf("after %v visible level = %d on=%v, want %d", tt.action, d.Brightness, d.OnState, tt.level)
		}
		waitRelays(t, r, tt.r1, tt.r2)
		if c.HasPending("pair") {
			t.Errorf("write still pending after relays settled")
		}
	}
}

func TestVisibleStateBeforeRelays(t *testing.T) {
	ctx := context.Background()
	r := host.NewRegistry()
	r.AddDevice(host.Device{ID: "r1", Class: host.ClassRelay})
	r.AddDevice(host.Device{ID: "r2", Class: host.ClassRelay})
	r.AddDevice(host.Device{ID: "pair", Type: host.TypeRelayDimmer, Props: map[string]string{PropRelay1: "r1", PropRelay2: "r2"}})
	c := NewController(r, reconcile.NewState(), time.Hour, nil)
	defer c.Close()
	r.Handle(host.TypeRelayDimmer, c)

	r.TurnOn(ctx, "pair")

	d, _ := r.Device("pair")
	if d.Brightness != 100 {
		t.Errorf("visible level = %d, want 100 immediately", d.Brightness)
	}
	if on1, on2 := relays(t, r); on1 || on2 {
		t.Error("relays written before the delay elapsed")
	}
	if !c.HasPending("pair") {
		t.Error("no pending relay write")
	}
}

func TestNewerCommandSupersedesPendingWrite(t *testing.T) {
	ctx := context.Background()
	r, _ := newFixture(t, host.TypeRelayDimmer)

	r.TurnOn(ctx, "pair")
	r.SetBrightness(ctx, "pair", 33)

	waitRelays(t, r, true, false)
	time.Sleep(3 * testDelay)
	if on1, on2 := relays(t, r); !on1 || on2 {
		t.Errorf("stale write landed: relays = %v %v, want true false", on1, on2)
	}
}

func TestFanCommands(t *testing.T) {
	ctx := context.Background()
	r, _ := newFixture(t, host.TypeRelayFan)

	tests := []struct {
		action host.Action
		index  int
		level  int
	}{
		{host.Action{Kind: host.ActionTurnOn}, 3, 100},
		{host.Action{Kind: host.ActionDecreaseSpeedIndex}, 2, 66},
		{host.Action{Kind: host.ActionDecreaseSpeedIndex}, 1, 33},
		{host.Action{Kind: host.ActionSetSpeedIndex, Value: 7}, 3, 100},
		{host.Action{Kind: host.ActionSetSpeedLevel, Value: 60}, 2, 66},
		{host.Action{Kind: host.ActionToggle}, 0, 0},
		{host.Action{Kind: host.ActionIncreaseSpeedIndex}, 1, 33},
	}

	for _, tt := range tests {
		if err := r.Dispatch(ctx, "pair", tt.action); err != nil {
			t.Fatalf("Dispatch(%v) error = %v", tt.action, err)
		}
		d, _ := r.Device("pair")
		if d.SpeedIndex != tt.index || d.SpeedLevel != tt.level {
			t.Errorf("after %v speed = %d/%d, want %d/%d", tt.action, d.SpeedIndex, d.SpeedLevel, tt.index, tt.level)
		}
	}

	if err := r.Dispatch(ctx, "pair", host.Action{Kind: host.ActionBrightenBy, Value: 1}); !errors.Is(err, host.ErrUnsupportedAction) {
		t.Errorf("BrightenBy on fan error = %v, want ErrUnsupportedAction", err)
	}
}

func TestUnconfigured(t *testing.T) {
	r := host.NewRegistry()
	r.AddDevice(host.Device{ID: "pair", Type: host.TypeRelayDimmer, Props: map[string]string{PropRelay1: "r1"}})
	c := NewController(r, reconcile.NewState(), testDelay, nil)
	r.Handle(host.TypeRelayDimmer, c)

	if err := r.TurnOn(context.Background(), "pair"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("TurnOn() error = %v, want ErrNotConfigured", err)
	}
	if err := c.Reconcile(context.Background()); err != nil {
		t.Errorf("Reconcile() error = %v", err)
	}
}

func TestReconcilePicksUpRelayChanges(t *testing.T) {
	ctx := context.Background()
	r, c := newFixture(t, host.TypeRelayFan)
	d, _ := r.Device("pair")
	c.Start(ctx, d)

	// Relays toggled outside the composite device.
	r.TurnOn(ctx, "r2")
	if err := c.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	d, _ = r.Device("pair")
	if d.SpeedIndex != 2 || d.SpeedLevel != 66 || !d.OnState {
		t.Errorf("fan = %d/%d on=%v, want medium", d.SpeedIndex, d.SpeedLevel, d.OnState)
	}
	if d.States["speedIndex.ui"] != "medium" {
		t.Errorf("speed name = %v, want medium", d.States["speedIndex.ui"])
	}

	// No relay change: visible state is left alone.
	r.UpdateStates("pair", host.State(host.StateSpeedLevel, 10))
	c.Reconcile(ctx)
	d, _ = r.Device("pair")
	if d.SpeedLevel != 10 {
		t.Errorf("Reconcile() rewrote state without a relay change: level = %d", d.SpeedLevel)
	}
}

func TestRelayUpdatedEvent(t *testing.T) {
	ctx := context.Background()
	bus := eventbus.NewWithConfig(1, 16)
	defer bus.Close(ctx)

	r := host.NewRegistry(host.WithBus(bus))
	r.AddDevice(host.Device{ID: "r1", Class: host.ClassRelay})
	r.AddDevice(host.Device{ID: "r2", Class: host.ClassRelay})
	r.AddDevice(host.Device{ID: "pair", Type: host.TypeRelayDimmer, Props: map[string]string{PropRelay1: "r1", PropRelay2: "r2"}})
	c := NewController(r, reconcile.NewState(), testDelay, nil)
	defer c.Close()
	bus.Subscribe(eventbus.EventTypeDeviceUpdated, c.RelayUpdated)

	r.TurnOn(ctx, "r1")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if d, _ := r.Device("pair"); d.Brightness == 33 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("relay event did not update the composite dimmer to 33")
}

func TestFlashDrivesRelaysImmediately(t *testing.T) {
	bus := eventbus.NewWithConfig(1, 64)
	r := host.NewRegistry(host.WithBus(bus))
	r.AddDevice(host.Device{ID: "r1", Class: host.ClassRelay})
	r.AddDevice(host.Device{ID: "r2", Class: host.ClassRelay})
	r.AddDevice(host.Device{ID: "pair", Type: host.TypeRelayDimmer, Props: map[string]string{PropRelay1: "r1", PropRelay2: "r2"}})

	seq := flash.New(r, nil, nil)
	// The delay outlasts the whole sequence, so only immediate writes move the relays.
	c := NewController(r, reconcile.NewState(), time.Hour, seq)
	defer c.Close()
	r.Handle(host.TypeRelayDimmer, c)

	var (
		mu      sync.Mutex
		history []bool
	)
	bus.Subscribe(eventbus.EventTypeDeviceUpdated, func(e eventbus.Event) {
		if _, d, ok := host.DeviceChange(e); ok && d.ID == "r1" {
			mu.Lock()
			history = append(history, d.OnState)
			mu.Unlock()
		}
	})

	job, err := seq.Start(flash.Options{Devices: []host.DeviceID{"pair"}, Count: 2, Duration: 20 * time.Millisecond, Gap: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	select {
	case <-job.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("flash job did not finish")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	bus.Close(ctx)

	mu.Lock()
	got := append([]bool(nil), history...)
	mu.Unlock()
	want := []bool{true, false, true, false}
	if len(got) != len(want) {
		t.Fatalf("relay 1 transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("relay 1 transitions = %v, want %v", got, want)
		}
	}
	if c.HasPending("pair") {
		t.Error("relay write still pending after flash")
	}
	if on1, on2 := relays(t, r); on1 || on2 {
		t.Errorf("relays = %v %v after flash, want both off", on1, on2)
	}

	// Outside a flash the delay applies again.
	if err := r.TurnOn(context.Background(), "pair"); err != nil {
		t.Fatalf("TurnOn() error = %v", err)
	}
	if !c.HasPending("pair") {
		t.Error("TurnOn() outside a flash was not delayed")
	}
}
