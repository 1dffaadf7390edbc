package lua

import (
	lua "github.com/yuin/gopher-lua"
)

// ConfigSource supplies values to scripts through config.get
type ConfigSource interface {
	Get(key string) (any, bool)
}

// MapConfigSource is a ConfigSource over a fixed map
type MapConfigSource map[string]any

// NewMapConfigSource wraps values. A nil map behaves as empty.
func NewMapConfigSource(values map[string]any) MapConfigSource {
	return MapConfigSource(values)
}

func (m MapConfigSource) Get(key string) (any, bool) {
	v, ok := m[key]
	return v, ok
}

// ConfigService is the config module
type ConfigService struct {
	source ConfigSource
}

func NewConfigService(source ConfigSource) *ConfigService {
	if source == nil {
		source = MapConfigSource(nil)
	}
	return &ConfigService{source: source}
}

// Register installs the config global in L
//
//	local v = config.get("api_url")
//	local v = config.get("timeout", 10)
func (s *ConfigService) Register(L *lua.LState) {
	mod := L.NewTable()
	L.SetField(mod, "get", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(1)
		if v, ok := s.source.Get(key); ok {
			L.Push(GoToLua(L, v))
			return 1
		}
		if L.GetTop() >= 2 {
			L.Push(L.Get(2))
			return 1
		}
		L.Push(lua.LNil)
		return 1
	}))
	L.SetGlobal("config", mod)
}
