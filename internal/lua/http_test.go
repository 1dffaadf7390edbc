package lua

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	lua "github.com/yuin/gopher-lua"
)

func runScript(t *testing.T, L *lua.LState, script string) lua.LValue {
	t.Helper()
	if err := L.DoString(script); err != nil {
		t.Fatalf("script execution failed: %v", err)
	}
	ret := L.Get(-1)
	L.Pop(1)
	return ret
}

func TestHTTPService_Get(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if r.Header.Get("X-Tenant") != "example.org" {
			t.Errorf("expected X-Tenant header, got %q", r.Header.Get("X-Tenant"))
		}
		w.Header().Set("X-Reply", "yes")
		_, _ = w.Write([]byte(`{"email":"alice@example.org"}`))
	}))
	defer server.Close()

	L := lua.NewState()
	defer L.Close()
	NewHTTPService(context.Background(), HTTPServiceConfig{Timeout: 5 * time.Second}).Register(L)

	got := runScript(t, L, `
		local resp = http.get("`+server.URL+`", {["X-Tenant"] = "example.org"})
		return resp.status .. ":" .. resp.headers["X-Reply"] .. ":" .. resp.body
	`)
	if lua.LVAsString(got) != `200:yes:{"email":"alice@example.org"}` {
		t.Errorf("unexpected result %q", lua.LVAsString(got))
	}
}

func TestHTTPService_PostAndRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(r.Method))
	}))
	defer server.Close()

	L := lua.NewState()
	defer L.Close()
	NewHTTPService(context.Background(), HTTPServiceConfig{}).Register(L)

	got := runScript(t, L, `
		local a = http.post("`+server.URL+`", "body")
		local b = http.request("put", "`+server.URL+`")
		return a.status .. a.body .. b.body
	`)
	if lua.LVAsString(got) != "201POSTPUT" {
		t.Errorf("unexpected result %q", lua.LVAsString(got))
	}
}

func TestHTTPService_RequestOption(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.Header.Get("Authorization")))
	}))
	defer server.Close()

	t.Run("applied to every request", func(t *testing.T) {
		L := lua.NewState()
		defer L.Close()
		NewHTTPService(context.Background(), HTTPServiceConfig{
			RequestOption: func(r *http.Request) error {
				r.Header.Set("Authorization", "Bearer svc")
				return nil
			},
		}).Register(L)

		got := runScript(t, L, `return http.get("`+server.URL+`").body`)
		if lua.LVAsString(got) != "Bearer svc" {
			t.Errorf("expected injected credentials, got %q", lua.LVAsString(got))
		}
	})

	t.Run("failure returns nil and message", func(t *testing.T) {
		L := lua.NewState()
		defer L.Close()
		NewHTTPService(context.Background(), HTTPServiceConfig{
			RequestOption: func(r *http.Request) error { return errors.New("no credentials") },
		}).Register(L)

		got := runScript(t, L, `
			local resp, err = http.get("`+server.URL+`")
			if resp == nil then return err end
			return "unexpected"
		`)
		if lua.LVAsString(got) != "request option failed: no credentials" {
			t.Errorf("unexpected error message %q", lua.LVAsString(got))
		}
	})
}

func TestHTTPService_CancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	L := lua.NewState()
	defer L.Close()
	NewHTTPService(ctx, HTTPServiceConfig{}).Register(L)

	got := runScript(t, L, `
		local resp, err = http.get("`+server.URL+`")
		return resp == nil and err ~= nil
	`)
	if got != lua.LTrue {
		t.Error("expected request to fail with a cancelled context")
	}
}
