package lua

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// GoToLua converts a Go value to a Lua value. Slices become sequences and
// maps with string keys become tables; anything else is formatted as a string.
func GoToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case []string:
		tbl := L.CreateTable(len(val), 0)
		for _, s := range val {
			tbl.Append(lua.LString(s))
		}
		return tbl
	case []any:
		tbl := L.CreateTable(len(val), 0)
		for _, item := range val {
			tbl.Append(GoToLua(L, item))
		}
		return tbl
	case map[string]string:
		tbl := L.CreateTable(0, len(val))
		for k, s := range val {
			tbl.RawSetString(k, lua.LString(s))
		}
		return tbl
	case map[string]any:
		tbl := L.CreateTable(0, len(val))
		for k, item := range val {
			tbl.RawSetString(k, GoToLua(L, item))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprint(val))
	}
}

// LuaToGo converts a Lua value to a Go value. Tables with a non-empty array
// part become []any, other tables map[string]any.
func LuaToGo(v lua.LValue) any {
	switch val := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(val)
	case lua.LString:
		return string(val)
	case lua.LNumber:
		f := float64(val)
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case *lua.LTable:
		if n := val.Len(); n > 0 {
			out := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, LuaToGo(val.RawGetInt(i)))
			}
			return out
		}
		out := make(map[string]any)
		val.ForEach(func(k, item lua.LValue) {
			out[lua.LVAsString(k)] = LuaToGo(item)
		})
		return out
	default:
		return val.String()
	}
}
