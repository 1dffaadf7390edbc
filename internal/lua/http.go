// Package lua exposes host services to Lua scripts that extend the service,
// such as scripted user stores.
package lua

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// RequestOption modifies an outgoing request, for example to add credentials
type RequestOption func(*http.Request) error

// HTTPServiceConfig configures the http module available to scripts
type HTTPServiceConfig struct {
	// Timeout bounds each request (default 30s)
	Timeout time.Duration

	// RequestOption runs on every request before it is sent
	RequestOption RequestOption

	// Transport defaults to http.DefaultTransport
	Transport http.RoundTripper

	// MaxBodyBytes limits how much of a response body is read (default 1MiB)
	MaxBodyBytes int64
}

// HTTPService is the http module: http.get, http.post and http.request.
// Requests are bound to the context the service was created with.
type HTTPService struct {
	ctx     context.Context
	client  *http.Client
	option  RequestOption
	maxBody int64
}

// NewHTTPService creates an http module whose requests use ctx
func NewHTTPService(ctx context.Context, cfg HTTPServiceConfig) *HTTPService {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Transport == nil {
		cfg.Transport = http.DefaultTransport
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return &HTTPService{
		ctx:     ctx,
		client:  &http.Client{Timeout: cfg.Timeout, Transport: cfg.Transport},
		option:  cfg.RequestOption,
		maxBody: cfg.MaxBodyBytes,
	}
}

// Register installs the http global in L
//
//	local resp, err = http.get(url, headers)
//	local resp, err = http.post(url, body, headers)
//	local resp, err = http.request(method, url, body, headers)
//
// resp is {status=number, body=string, headers=table}.
func (s *HTTPService) Register(L *lua.LState) {
	mod := L.NewTable()
	L.SetField(mod, "get", L.NewFunction(func(L *lua.LState) int {
		return s.call(L, http.MethodGet, L.CheckString(1), "", 2)
	}))
	L.SetField(mod, "post", L.NewFunction(func(L *lua.LState) int {
		return s.call(L, http.MethodPost, L.CheckString(1), L.CheckString(2), 3)
	}))
	L.SetField(mod, "request", L.NewFunction(func(L *lua.LState) int {
		return s.call(L, strings.ToUpper(L.CheckString(1)), L.CheckString(2), L.OptString(3, ""), 4)
	}))
	L.SetGlobal("http", mod)
}

func (s *HTTPService) call(L *lua.LState, method, url, body string, headersArg int) int {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(s.ctx, method, url, reader)
	if err != nil {
		return pushError(L, "failed to create request: %v", err)
	}
	for k, v := range headersFrom(L, headersArg) {
		req.Header.Set(k, v)
	}
	if s.option != nil {
		if err := s.option(req); err != nil {
			return pushError(L, "request option failed: %v", err)
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return pushError(L, "request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	b, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBody))
	if err != nil {
		return pushError(L, "failed to read body: %v", err)
	}

	tbl := L.NewTable()
	L.SetField(tbl, "status", lua.LNumber(resp.StatusCode))
	L.SetField(tbl, "body", lua.LString(b))
	headers := L.NewTable()
	for k := range resp.Header {
		L.SetField(headers, k, lua.LString(resp.Header.Get(k)))
	}
	L.SetField(tbl, "headers", headers)
	L.Push(tbl)
	return 1
}

func headersFrom(L *lua.LState, arg int) map[string]string {
	headers := make(map[string]string)
	if L.GetTop() < arg {
		return headers
	}
	tbl, ok := L.Get(arg).(*lua.LTable)
	if !ok {
		return headers
	}
	tbl.ForEach(func(k, v lua.LValue) {
		if k.Type() == lua.LTString && v.Type() == lua.LTString {
			headers[k.String()] = v.String()
		}
	})
	return headers
}

func pushError(L *lua.LState, format string, args ...any) int {
	L.Push(lua.LNil)
	L.Push(lua.LString(fmt.Sprintf(format, args...)))
	return 2
}
