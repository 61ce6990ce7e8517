package modules

import (
	"time"

	lua "github.com/yuin/gopher-lua"
)

// UtilsModule provides utility functions to Lua
type UtilsModule struct{}

// NewUtilsModule creates a new utils module
func NewUtilsModule() *UtilsModule {
	return &UtilsModule{}
}

// Loader is the module loader for Lua
func (m *UtilsModule) Loader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "sleep", L.NewFunction(m.sleep))
	L.SetField(mod, "now", L.NewFunction(m.now))

	L.Push(mod)
	return 1
}

// sleep(ms) - Sleep for specified milliseconds, cut short when the
// invocation is cancelled. Returns false if it was interrupted.
func (m *UtilsModule) sleep(L *lua.LState) int {
	d := time.Duration(L.CheckInt(1)) * time.Millisecond

	ctx := L.Context()
	if ctx == nil {
		time.Sleep(d)
		L.Push(lua.LTrue)
		return 1
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		L.Push(lua.LTrue)
	case <-ctx.Done():
		L.Push(lua.LFalse)
	}
	return 1
}

// now() - Unix time in seconds with fractions
func (m *UtilsModule) now(L *lua.LState) int {
	L.Push(lua.LNumber(float64(time.Now().UnixNano()) / float64(time.Second)))
	return 1
}
