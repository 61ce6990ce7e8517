package modules

import (
	"context"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/lighttools/internal/actions"
)

// ActionModule provides action.define() and action.run() to Lua.
//
// The *lua.LState is captured when an action is defined. That is safe because
// all Lua execution is single-threaded through the Runtime worker and the
// LState lives as long as the Runtime.
type ActionModule struct {
	registry *actions.Registry
	invoker  *actions.Invoker
}

// NewActionModule creates a new action module.
func NewActionModule(registry *actions.Registry, invoker *actions.Invoker) *ActionModule {
	return &ActionModule{
		registry: registry,
		invoker:  invoker,
	}
}

// Loader is the module loader for Lua
func (m *ActionModule) Loader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "define", L.NewFunction(m.define))
	L.SetField(mod, "run", L.NewFunction(m.run))
	L.SetField(mod, "exists", L.NewFunction(m.exists))

	L.Push(mod)
	return 1
}

// define(name, function(ctx, args)) - Define an action group
func (m *ActionModule) define(L *lua.LState) int {
	name := L.CheckString(1)
	fn := L.CheckFunction(2)

	if err := m.registry.Register(&luaAction{L: L, name: name, fn: fn}); err != nil {
		L.RaiseError("failed to register action: %s", err.Error())
		return 0
	}
	log.Debug().Str("action", name).Msg("Lua action defined")
	return 0
}

// run(name, args) - Run an action now, returns true or nil, error
func (m *ActionModule) run(L *lua.LState) int {
	name := L.CheckString(1)
	args := LuaTableToMap(L.OptTable(2, L.NewTable()))

	// L has no context while the script is loading
	ctx := L.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	log.Debug().Str("action", name).Msg("Running action from Lua")
	if err := m.invoker.InvokeWithSource(ctx, name, args, "lua"); err != nil {
		return pushError(L, err)
	}
	L.Push(lua.LTrue)
	return 1
}

// exists(name) -> bool
func (m *ActionModule) exists(L *lua.LState) int {
	L.Push(lua.LBool(m.invoker.HasAction(L.CheckString(1))))
	return 1
}

// luaAction wraps a Lua function as an action group
type luaAction struct {
	L    *lua.LState
	name string
	fn   *lua.LFunction
}

func (a *luaAction) Name() string           { return a.name }
func (a *luaAction) Origin() actions.Origin { return actions.OriginScript }

func (a *luaAction) Execute(ctx *actions.Context, args map[string]any) error {
	a.L.SetContext(ctx.Ctx())

	ctxTable := a.L.NewTable()
	a.L.SetField(ctxTable, "action", lua.LString(a.name))
	a.L.SetField(ctxTable, "source", lua.LString(ctx.Source()))
	a.L.SetField(ctxTable, "run", a.L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		if err := ctx.RunAction(name, LuaTableToMap(L.OptTable(2, L.NewTable()))); err != nil {
			return pushError(L, err)
		}
		L.Push(lua.LTrue)
		return 1
	}))

	a.L.Push(a.fn)
	a.L.Push(ctxTable)
	a.L.Push(MapToLuaTable(a.L, args))

	return a.L.PCall(2, 0, nil)
}
