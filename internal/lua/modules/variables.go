package modules

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/lighttools/internal/host"
)

// VariablesModule exposes host variables to Lua
type VariablesModule struct {
	host host.Host
}

// NewVariablesModule creates a new variables module
func NewVariablesModule(h host.Host) *VariablesModule {
	return &VariablesModule{host: h}
}

// Loader is the module loader for Lua
func (m *VariablesModule) Loader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "get", L.NewFunction(m.get))
	L.SetField(mod, "set", L.NewFunction(m.set))

	L.Push(mod)
	return 1
}

// get(id) -> string value or nil, error
func (m *VariablesModule) get(L *lua.LState) int {
	v, err := m.host.Variable(host.VariableID(L.CheckString(1)))
	if err != nil {
		return pushError(L, err)
	}
	L.Push(lua.LString(v.Value))
	return 1
}

// set(id, value) -> true or nil, error. Numbers and booleans are stored in
// their string form.
func (m *VariablesModule) set(L *lua.LState) int {
	id := host.VariableID(L.CheckString(1))
	value := L.CheckAny(2)

	var s string
	switch v := value.(type) {
	case lua.LString:
		s = string(v)
	case lua.LNumber, lua.LBool:
		s = v.String()
	default:
		L.ArgError(2, "string, number or boolean expected")
		return 0
	}

	if err := m.host.SetVariable(luaContext(L), id, s); err != nil {
		return pushError(L, err)
	}
	L.Push(lua.LTrue)
	return 1
}
