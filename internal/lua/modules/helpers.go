package modules

import (
	"fmt"
	"sort"

	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/lighttools/internal/host"
)

// LuaToGo converts a Lua value to a Go value
func LuaToGo(v lua.LValue) any {
	switch val := v.(type) {
	case lua.LString:
		return string(val)
	case lua.LNumber:
		return float64(val)
	case lua.LBool:
		return bool(val)
	case *lua.LTable:
		// Array if every key is a positive number
		isArray := true
		maxIdx := 0
		val.ForEach(func(k, _ lua.LValue) {
			if num, ok := k.(lua.LNumber); ok && int(num) > 0 {
				if int(num) > maxIdx {
					maxIdx = int(num)
				}
			} else {
				isArray = false
			}
		})

		if isArray && maxIdx > 0 {
			arr := make([]any, maxIdx)
			val.ForEach(func(k, v lua.LValue) {
				arr[int(k.(lua.LNumber))-1] = LuaToGo(v)
			})
			return arr
		}

		obj := make(map[string]any)
		val.ForEach(func(k, v lua.LValue) {
			obj[lua.LVAsString(k)] = LuaToGo(v)
		})
		return obj
	case *lua.LNilType:
		return nil
	default:
		return v.String()
	}
}

// GoToLuaValue converts a Go value to a Lua value
func GoToLuaValue(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []string:
		tbl := L.NewTable()
		for i, item := range val {
			tbl.RawSetInt(i+1, lua.LString(item))
		}
		return tbl
	case []any:
		tbl := L.NewTable()
		for i, item := range val {
			tbl.RawSetInt(i+1, GoToLuaValue(L, item))
		}
		return tbl
	case map[string]any:
		return MapToLuaTable(L, val)
	case map[string]string:
		tbl := L.NewTable()
		for k, v := range val {
			tbl.RawSetString(k, lua.LString(v))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprintf("%v", v))
	}
}

// MapToLuaTable converts a Go map to a Lua table
func MapToLuaTable(L *lua.LState, m map[string]any) *lua.LTable {
	tbl := L.NewTable()
	for k, v := range m {
		L.SetField(tbl, k, GoToLuaValue(L, v))
	}
	return tbl
}

// LuaTableToMap converts a Lua table to a Go map
func LuaTableToMap(tbl *lua.LTable) map[string]any {
	m := make(map[string]any)
	tbl.ForEach(func(k, v lua.LValue) {
		if ks, ok := k.(lua.LString); ok {
			m[string(ks)] = LuaToGo(v)
		}
	})
	return m
}

// DeviceToTable renders a device the way scripts see it
func DeviceToTable(L *lua.LState, d host.Device) *lua.LTable {
	tbl := L.NewTable()
	L.SetField(tbl, "id", lua.LString(d.ID))
	L.SetField(tbl, "name", lua.LString(d.Label()))
	L.SetField(tbl, "class", lua.LString(d.Class))
	L.SetField(tbl, "type", lua.LString(d.Type))
	L.SetField(tbl, "capability", lua.LString(host.Classify(d).String()))
	L.SetField(tbl, "on", lua.LBool(d.OnState))
	L.SetField(tbl, "brightness", lua.LNumber(d.Brightness))
	L.SetField(tbl, "speed_index", lua.LNumber(d.SpeedIndex))
	L.SetField(tbl, "speed_level", lua.LNumber(d.SpeedLevel))

	if host.Classify(d) == host.CapThermostat {
		L.SetField(tbl, "hvac_mode", lua.LNumber(d.HVACMode))
		L.SetField(tbl, "fan_mode", lua.LNumber(d.FanMode))
		L.SetField(tbl, "cool_setpoint", lua.LNumber(d.CoolSetpoint))
		L.SetField(tbl, "heat_setpoint", lua.LNumber(d.HeatSetpoint))
	}

	states := L.NewTable()
	keys := make([]string, 0, len(d.States))
	for k := range d.States {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		L.SetField(states, k, GoToLuaValue(L, d.States[k]))
	}
	L.SetField(tbl, "states", states)
	return tbl
}

// pushError pushes the (nil, message) pair scripts check for
func pushError(L *lua.LState, err error) int {
	L.Push(lua.LNil)
	L.Push(lua.LString(err.Error()))
	return 2
}
