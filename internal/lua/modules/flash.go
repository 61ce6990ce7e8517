package modules

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/lighttools/internal/actions"
	"github.com/dokzlo13/lighttools/internal/flash"
	"github.com/dokzlo13/lighttools/internal/host"
)

// script option name -> flash property
var flashOptionProps = map[string]string{
	"devices":  flash.PropDeviceList,
	"count":    flash.PropFlashCount,
	"duration": flash.PropFlashDuration,
	"gap":      flash.PropGapDuration,
	"max":      flash.PropFlashToBrightness,
	"min":      flash.PropFlashToMinimum,
}

// FlashModule lets scripts start and cancel flash sequences
type FlashModule struct {
	flash    actions.FlashControl
	defaults flash.Defaults
}

// NewFlashModule creates a new flash module
func NewFlashModule(fc actions.FlashControl, defaults flash.Defaults) *FlashModule {
	return &FlashModule{flash: fc, defaults: defaults}
}

// Loader is the module loader for Lua
func (m *FlashModule) Loader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "start", L.NewFunction(m.start))
	L.SetField(mod, "cancel_all", L.NewFunction(m.cancelAll))
	L.SetField(mod, "is_flashing", L.NewFunction(m.isFlashing))

	L.Push(mod)
	return 1
}

// start({devices={...}, count=3, duration=0.5, gap=0.5, max=100, min=0})
// -> job id or nil, error. Durations are seconds.
func (m *FlashModule) start(L *lua.LState) int {
	opts := LuaTableToMap(L.CheckTable(1))

	args := make(map[string]any, len(opts))
	for k, v := range opts {
		if prop, ok := flashOptionProps[k]; ok {
			args[prop] = v
		}
	}

	parsed, err := flash.ParseProps(actions.PropsFromArgs(args), m.defaults)
	if err != nil {
		return pushError(L, err)
	}
	job, err := m.flash.Start(parsed)
	if err != nil {
		return pushError(L, err)
	}
	L.Push(lua.LString(job.ID))
	return 1
}

// cancel_all() -> number of signalled jobs
func (m *FlashModule) cancelAll(L *lua.LState) int {
	L.Push(lua.LNumber(m.flash.CancelAll()))
	return 1
}

// is_flashing(id) -> bool
func (m *FlashModule) isFlashing(L *lua.LState) int {
	L.Push(lua.LBool(m.flash.IsFlashing(host.DeviceID(L.CheckString(1)))))
	return 1
}
