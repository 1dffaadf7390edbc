package lua

import (
	"encoding/json"

	lua "github.com/yuin/gopher-lua"
)

// JSONService is the json module
type JSONService struct{}

func NewJSONService() *JSONService {
	return &JSONService{}
}

// Register installs the json global in L
//
//	local tbl, err = json.decode(s)
//	local s, err = json.encode(tbl)
func (s *JSONService) Register(L *lua.LState) {
	mod := L.NewTable()
	L.SetField(mod, "decode", L.NewFunction(func(L *lua.LState) int {
		var v any
		if err := json.Unmarshal([]byte(L.CheckString(1)), &v); err != nil {
			return pushError(L, "invalid json: %v", err)
		}
		L.Push(GoToLua(L, v))
		return 1
	}))
	L.SetField(mod, "encode", L.NewFunction(func(L *lua.LState) int {
		b, err := json.Marshal(LuaToGo(L.CheckAny(1)))
		if err != nil {
			return pushError(L, "cannot encode: %v", err)
		}
		L.Push(lua.LString(b))
		return 1
	}))
	L.SetGlobal("json", mod)
}
