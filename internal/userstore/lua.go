package userstore

import (
	"context"
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"

	luaservices "github.com/project-kessel/userinfo/internal/lua"
)

// LuaStoreConfig configures a scripted user store
type LuaStoreConfig struct {
	// Script must define fetch_claims(user_id, claim_uris). It returns a
	// table of claim URI -> value, or nil when the user does not exist.
	// A value may be a string or a sequence of strings.
	//
	//   function fetch_claims(user_id, claim_uris)
	//     local resp = http.get(config.get("api_url") .. "/users/" .. user_id)
	//     if resp.status == 404 then return nil end
	//     return json.decode(resp.body)
	//   end
	Script string

	// ConfigSource backs config.get; nil means empty
	ConfigSource luaservices.ConfigSource

	HTTPConfig luaservices.HTTPServiceConfig

	Realm RealmConfig
}

// LuaStore reads users by running a Lua script
type LuaStore struct {
	script    string
	config    luaservices.ConfigSource
	http      luaservices.HTTPServiceConfig
	separator string
}

// NewLuaStore validates the script and creates the store
func NewLuaStore(cfg LuaStoreConfig) (*LuaStore, error) {
	if cfg.Script == "" {
		return nil, fmt.Errorf("script is required")
	}

	L := lua.NewState()
	defer L.Close()
	if err := L.DoString(cfg.Script); err != nil {
		return nil, fmt.Errorf("failed to load script: %w", err)
	}
	if L.GetGlobal("fetch_claims").Type() != lua.LTFunction {
		return nil, fmt.Errorf("script must define a 'fetch_claims' function")
	}

	return &LuaStore{
		script:    cfg.Script,
		config:    cfg.ConfigSource,
		http:      cfg.HTTPConfig,
		separator: cfg.Realm.Separator(),
	}, nil
}

func (s *LuaStore) UserClaimValues(ctx context.Context, userID string, claimURIs []string) (map[string]string, error) {
	L := lua.NewState()
	defer L.Close()
	L.SetContext(ctx)

	luaservices.NewHTTPService(ctx, s.http).Register(L)
	luaservices.NewConfigService(s.config).Register(L)
	luaservices.NewJSONService().Register(L)

	if err := L.DoString(s.script); err != nil {
		return nil, fmt.Errorf("failed to load script: %w", err)
	}

	if err := L.CallByParam(lua.P{
		Fn:      L.GetGlobal("fetch_claims"),
		NRet:    1,
		Protect: true,
	}, lua.LString(userID), luaservices.GoToLua(L, claimURIs)); err != nil {
		return nil, fmt.Errorf("script execution failed: %w", err)
	}

	ret := L.Get(-1)
	L.Pop(1)

	switch v := ret.(type) {
	case *lua.LNilType:
		return nil, ErrUserNotFound
	case *lua.LTable:
		return s.claimValues(v, claimURIs)
	default:
		return nil, fmt.Errorf("fetch_claims must return a table or nil, got %s", ret.Type())
	}
}

func (s *LuaStore) claimValues(tbl *lua.LTable, claimURIs []string) (map[string]string, error) {
	out := make(map[string]string, len(claimURIs))
	for _, uri := range claimURIs {
		switch v := tbl.RawGetString(uri).(type) {
		case *lua.LNilType:
		case lua.LString, lua.LNumber, lua.LBool:
			out[uri] = v.String()
		case *lua.LTable:
			values := make([]string, 0, v.Len())
			for i := 1; i <= v.Len(); i++ {
				values = append(values, lua.LVAsString(v.RawGetInt(i)))
			}
			out[uri] = strings.Join(values, s.separator)
		default:
			return nil, fmt.Errorf("claim %s has unsupported type %s", uri, v.Type())
		}
	}
	return out, nil
}
