package modules

import (
	"context"

	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/lighttools/internal/host"
)

// DevicesModule exposes the device host to Lua
type DevicesModule struct {
	host host.Host
}

// NewDevicesModule creates a new devices module
func NewDevicesModule(h host.Host) *DevicesModule {
	return &DevicesModule{host: h}
}

// Loader is the module loader for Lua
func (m *DevicesModule) Loader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "get", L.NewFunction(m.get))
	L.SetField(mod, "list", L.NewFunction(m.list))
	L.SetField(mod, "dispatch", L.NewFunction(m.dispatch))
	L.SetField(mod, "turn_on", L.NewFunction(m.simple(host.ActionTurnOn)))
	L.SetField(mod, "turn_off", L.NewFunction(m.simple(host.ActionTurnOff)))
	L.SetField(mod, "toggle", L.NewFunction(m.simple(host.ActionToggle)))
	L.SetField(mod, "set_brightness", L.NewFunction(m.valued(host.ActionSetBrightness)))
	L.SetField(mod, "set_speed_level", L.NewFunction(m.valued(host.ActionSetSpeedLevel)))

	L.Push(mod)
	return 1
}

func luaContext(L *lua.LState) context.Context {
	if ctx := L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// get(id) -> device table or nil, error
func (m *DevicesModule) get(L *lua.LState) int {
	d, err := m.host.Device(host.DeviceID(L.CheckString(1)))
	if err != nil {
		return pushError(L, err)
	}
	L.Push(DeviceToTable(L, d))
	return 1
}

// list([type]) -> array of device tables, optionally only one plugin type
func (m *DevicesModule) list(L *lua.LState) int {
	var devices []host.Device
	if t := L.OptString(1, ""); t != "" {
		devices = m.host.DevicesOfType(t)
	} else {
		devices = m.host.Devices()
	}

	tbl := L.NewTable()
	for i, d := range devices {
		tbl.RawSetInt(i+1, DeviceToTable(L, d))
	}
	L.Push(tbl)
	return 1
}

// dispatch(id, action, [value]) -> true or nil, error
func (m *DevicesModule) dispatch(L *lua.LState) int {
	id := host.DeviceID(L.CheckString(1))
	kind, err := host.ParseActionKind(L.CheckString(2))
	if err != nil {
		return pushError(L, err)
	}
	return m.do(L, id, host.Action{Kind: kind, Value: float64(L.OptNumber(3, 0))})
}

func (m *DevicesModule) simple(kind host.ActionKind) lua.LGFunction {
	return func(L *lua.LState) int {
		return m.do(L, host.DeviceID(L.CheckString(1)), host.Action{Kind: kind})
	}
}

func (m *DevicesModule) valued(kind host.ActionKind) lua.LGFunction {
	return func(L *lua.LState) int {
		return m.do(L, host.DeviceID(L.CheckString(1)), host.Action{Kind: kind, Value: float64(L.CheckNumber(2))})
	}
}

func (m *DevicesModule) do(L *lua.LState, id host.DeviceID, action host.Action) int {
	if err := m.host.Dispatch(luaContext(L), id, action); err != nil {
		return pushError(L, err)
	}
	L.Push(lua.LTrue)
	return 1
}
