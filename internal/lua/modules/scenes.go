package modules

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/lighttools/internal/host"
	"github.com/dokzlo13/lighttools/internal/scene"
)

// SceneControl saves and compares scene snapshots
type SceneControl interface {
	SaveState(id host.DeviceID) (scene.Snapshot, error)
	CompareState(id host.DeviceID) (scene.Report, error)
}

// ScenesModule exposes scene save and compare to Lua
type ScenesModule struct {
	scenes SceneControl
}

// NewScenesModule creates a new scenes module
func NewScenesModule(sc SceneControl) *ScenesModule {
	return &ScenesModule{scenes: sc}
}

// Loader is the module loader for Lua
func (m *ScenesModule) Loader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "save", L.NewFunction(m.save))
	L.SetField(mod, "compare", L.NewFunction(m.compare))

	L.Push(mod)
	return 1
}

// save(id) -> number of captured entries or nil, error
func (m *ScenesModule) save(L *lua.LState) int {
	snap, err := m.scenes.SaveState(host.DeviceID(L.CheckString(1)))
	if err != nil {
		return pushError(L, err)
	}
	L.Push(lua.LNumber(len(snap)))
	return 1
}

// compare(id) -> {matches=bool, items={{name=, matches=, differences={}, error=}}}
func (m *ScenesModule) compare(L *lua.LState) int {
	report, err := m.scenes.CompareState(host.DeviceID(L.CheckString(1)))
	if err != nil {
		return pushError(L, err)
	}

	items := L.NewTable()
	for i, it := range report.Items {
		item := L.NewTable()
		L.SetField(item, "name", lua.LString(it.Name))
		L.SetField(item, "matches", lua.LBool(it.Matches))
		L.SetField(item, "differences", GoToLuaValue(L, it.Differences))
		if it.Error != "" {
			L.SetField(item, "error", lua.LString(it.Error))
		}
		items.RawSetInt(i+1, item)
	}

	result := L.NewTable()
	L.SetField(result, "matches", lua.LBool(report.Matches()))
	L.SetField(result, "items", items)
	L.Push(result)
	return 1
}
