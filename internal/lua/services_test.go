package lua

import (
	"testing"

	lua "github.com/yuin/gopher-lua"
)

func TestConfigService(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	NewConfigService(NewMapConfigSource(map[string]any{
		"api_url": "https://users.example.org",
		"claims":  []string{"email", "name"},
	})).Register(L)

	got := runScript(t, L, `
		return config.get("api_url") .. "|" .. config.get("missing", "fallback") .. "|" .. config.get("claims")[2] .. "|" .. tostring(config.get("nope"))
	`)
	if lua.LVAsString(got) != "https://users.example.org|fallback|name|nil" {
		t.Errorf("unexpected result %q", lua.LVAsString(got))
	}
}

func TestJSONService(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	NewJSONService().Register(L)

	got := runScript(t, L, `
		local v = json.decode('{"email":"a@example.org","groups":["admin","dev"]}')
		return v.email .. ":" .. v.groups[2] .. ":" .. json.encode({name = "alice"})
	`)
	if lua.LVAsString(got) != `a@example.org:dev:{"name":"alice"}` {
		t.Errorf("unexpected result %q", lua.LVAsString(got))
	}

	got = runScript(t, L, `
		local v, err = json.decode("{not json")
		return v == nil and err ~= nil
	`)
	if got != lua.LTrue {
		t.Error("expected decode error")
	}
}

func TestLuaToGo(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	got := runScript(t, L, `return {name = "alice", age = 30, ratio = 0.5, tags = {"a", "b"}}`)
	m, ok := LuaToGo(got).(map[string]any)
	if !ok {
		t.Fatalf("expected map, got %T", LuaToGo(got))
	}
	if m["name"] != "alice" || m["age"] != int64(30) || m["ratio"] != 0.5 {
		t.Errorf("unexpected conversion %v", m)
	}
	tags, ok := m["tags"].([]any)
	if !ok || len(tags) != 2 || tags[0] != "a" {
		t.Errorf("unexpected tags %v", m["tags"])
	}
}
