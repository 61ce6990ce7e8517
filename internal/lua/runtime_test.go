package lua

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dokzlo13/lighttools/internal/actions"
	"github.com/dokzlo13/lighttools/internal/flash"
	"github.com/dokzlo13/lighttools/internal/host"
	"github.com/dokzlo13/lighttools/internal/scene"
)

type fakeScenes struct {
	saved []host.DeviceID
}

func (f *fakeScenes) SaveState(id host.DeviceID) (scene.Snapshot, error) {
	f.saved = append(f.saved, id)
	return scene.Snapshot{scene.DeviceKey("lamp"): {}}, nil
}

func (f *fakeScenes) CompareState(id host.DeviceID) (scene.Report, error) {
	return scene.Report{Items: []scene.ItemResult{
		{Name: "lamp", Matches: true},
		{Name: "plug", Differences: []string{"onOffState: saved=on, current=off"}},
	}}, nil
}

type fixture struct {
	host    *host.Registry
	flash   *flash.Sequencer
	scenes  *fakeScenes
	runtime *Runtime
}

func newFixture(t *testing.T, script string) *fixture {
	t.Helper()

	h := host.NewRegistry()
	h.AddDevice(host.Device{ID: "lamp", Name: "Lamp", Class: host.ClassDimmer, Brightness: 20, OnState: true})
	h.AddDevice(host.Device{ID: "plug", Name: "Plug", Class: host.ClassRelay})
	h.AddVariable(host.Variable{ID: "mode", Value: "day"})

	seq := flash.New(h, nil, nil)
	reg := actions.NewRegistry()
	inv := actions.NewInvoker(reg, nil, func(ctx context.Context, source string, run func(string, map[string]any) error) *actions.Context {
		return actions.NewContext(ctx, source, h, seq, run)
	})
	scenes := &fakeScenes{}

	rt := NewRuntime(RuntimeDeps{
		Registry:      reg,
		Invoker:       inv,
		Host:          h,
		Flash:         seq,
		FlashDefaults: flash.Defaults{Count: 1, Duration: 20 * time.Millisecond},
		Scenes:        scenes,
	})
	if err := rt.LoadString(script); err != nil {
		t.Fatalf("LoadString() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go rt.Run(ctx)
	t.Cleanup(func() {
		cancel()
		rt.Close()
	})

	return &fixture{host: h, flash: seq, scenes: scenes, runtime: rt}
}

func TestActionGroupsDriveDevicesAndVariables(t *testing.T) {
	f := newFixture(t, `
		local action = require("action")
		local devices = require("devices")
		local variables = require("variables")
		local log = require("log")

		action.define("evening", function(ctx, args)
			log.info("Evening", {source = ctx.source})
			assert(devices.set_brightness("lamp", args.level or 40))
			assert(devices.turn_on("plug"))
			local lamp = devices.get("lamp")
			assert(variables.set("mode", "evening:" .. lamp.brightness))
		end)

		action.define("wrapper", function(ctx, args)
			assert(ctx.run("evening", {level = 70}))
		end)
	`)
	ctx := context.Background()

	if err := f.runtime.InvokeThroughLua(ctx, "evening", nil, "api"); err != nil {
		t.Fatalf("InvokeThroughLua(evening) error = %v", err)
	}
	if v, _ := f.host.Variable("mode"); v.Value != "evening:40" {
		t.Errorf("mode = %q, want evening:40", v.Value)
	}
	if d, _ := f.host.Device("plug"); !d.OnState {
		t.Error("plug not turned on")
	}

	if err := f.runtime.InvokeThroughLua(ctx, "wrapper", nil, "api"); err != nil {
		t.Fatalf("InvokeThroughLua(wrapper) error = %v", err)
	}
	if d, _ := f.host.Device("lamp"); d.Brightness != 70 {
		t.Errorf("lamp brightness = %d, want 70", d.Brightness)
	}
}

func TestLuaErrorsAreReturned(t *testing.T) {
	f := newFixture(t, `
		local action = require("action")
		local devices = require("devices")

		action.define("broken", function(ctx, args)
			error("kaboom")
		end)

		action.define("missing_device", function(ctx, args)
			local ok, err = devices.turn_on("nope")
			if not ok then error(err) end
		end)
	`)
	ctx := context.Background()

	if err := f.runtime.InvokeThroughLua(ctx, "broken", nil, "api"); err == nil || !strings.Contains(err.Error(), "kaboom") {
		t.Errorf("InvokeThroughLua(broken) error = %v, want kaboom", err)
	}
	if err := f.runtime.InvokeThroughLua(ctx, "missing_device", nil, "api"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("InvokeThroughLua(missing_device) error = %v, want device not found", err)
	}
	if err := f.runtime.InvokeThroughLua(ctx, "undefined", nil, "api"); !errors.Is(err, actions.ErrNotFound) {
		t.Errorf("InvokeThroughLua(undefined) error = %v, want ErrNotFound", err)
	}
}

func TestRunActionGroupIsAsync(t *testing.T) {
	f := newFixture(t, `
		local action = require("action")
		local variables = require("variables")

		action.define("scene_on", function(ctx, args)
			variables.set("mode", ctx.source)
		end)
	`)

	if err := f.runtime.RunActionGroup(context.Background(), "scene_on"); err != nil {
		t.Fatalf("RunActionGroup() error = %v", err)
	}
	if err := f.runtime.RunActionGroup(context.Background(), "nope"); !errors.Is(err, actions.ErrNotFound) {
		t.Errorf("RunActionGroup(nope) error = %v, want ErrNotFound", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if v, _ := f.host.Variable("mode"); v.Value == "scene" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("action group did not run")
}

func TestFlashAndScenesModules(t *testing.T) {
	f := newFixture(t, `
		local action = require("action")
		local flash = require("flash")
		local scenes = require("scenes")
		local variables = require("variables")

		action.define("alert", function(ctx, args)
			local id, err = flash.start({devices = {"lamp"}, count = 2, duration = 0.02, gap = 0, max = 90})
			assert(id, err)
			assert(flash.is_flashing("lamp"))
			local n = flash.cancel_all()
			variables.set("mode", "cancelled:" .. n)
		end)

		action.define("bad_flash", function(ctx, args)
			local id, err = flash.start({devices = {}})
			variables.set("mode", tostring(err))
		end)

		action.define("scene_check", function(ctx, args)
			assert(scenes.save("movie") == 1)
			local report = scenes.compare("movie")
			variables.set("mode", tostring(report.matches) .. ":" .. #report.items .. ":" .. report.items[2].differences[1])
		end)
	`)
	ctx := context.Background()

	if err := f.runtime.InvokeThroughLua(ctx, "alert", nil, "api"); err != nil {
		t.Fatalf("InvokeThroughLua(alert) error = %v", err)
	}
	if v, _ := f.host.Variable("mode"); v.Value != "cancelled:1" {
		t.Errorf("mode = %q, want cancelled:1", v.Value)
	}
	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	f.flash.Wait(waitCtx)
	if d, _ := f.host.Device("lamp"); d.Brightness != 20 {
		t.Errorf("lamp brightness after cancel = %d, want 20", d.Brightness)
	}

	f.runtime.InvokeThroughLua(ctx, "bad_flash", nil, "api")
	if v, _ := f.host.Variable("mode"); !strings.Contains(v.Value, flash.ErrNoDevices.Error()) {
		t.Errorf("mode = %q, want the no-devices error", v.Value)
	}

	if err := f.runtime.InvokeThroughLua(ctx, "scene_check", nil, "api"); err != nil {
		t.Fatalf("InvokeThroughLua(scene_check) error = %v", err)
	}
	if v, _ := f.host.Variable("mode"); v.Value != "false:2:onOffState: saved=on, current=off" {
		t.Errorf("mode = %q", v.Value)
	}
	if len(f.scenes.saved) != 1 || f.scenes.saved[0] != "movie" {
		t.Errorf("saved scenes = %v, want [movie]", f.scenes.saved)
	}
}

func TestClosedRuntimeRejectsWork(t *testing.T) {
	f := newFixture(t, `require("action").define("noop", function() end)`)
	f.runtime.Close()

	if err := f.runtime.InvokeThroughLua(context.Background(), "noop", nil, "api"); !errors.Is(err, ErrRuntimeClosed) {
		t.Errorf("InvokeThroughLua() after Close error = %v, want ErrRuntimeClosed", err)
	}
}
