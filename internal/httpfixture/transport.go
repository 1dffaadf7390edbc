package httpfixture

import (
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Transport implements http.RoundTripper using a FixtureProvider
type Transport struct {
	provider FixtureProvider
	fallback http.RoundTripper
	strict   bool
}

// TransportConfig configures the fixture transport
type TransportConfig struct {
	Provider FixtureProvider

	// Fallback handles requests the provider has no fixture for
	Fallback http.RoundTripper

	// Strict fails requests without a fixture instead of using Fallback
	Strict bool
}

// NewTransport creates a new fixture transport
func NewTransport(cfg TransportConfig) *Transport {
	return &Transport{
		provider: cfg.Provider,
		fallback: cfg.Fallback,
		strict:   cfg.Strict,
	}
}

// Client returns an http.Client that uses the transport
func (t *Transport) Client() *http.Client {
	return &http.Client{Transport: t}
}

// RoundTrip implements http.RoundTripper
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if fixture := t.provider.GetFixture(req); fixture != nil {
		return fixture.response(req), nil
	}

	if t.strict || t.fallback == nil {
		return nil, fmt.Errorf("no fixture provided for request: %s %s", req.Method, req.URL)
	}
	return t.fallback.RoundTrip(req)
}

func (f *Fixture) response(req *http.Request) *http.Response {
	status := f.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	resp := &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Header:        make(http.Header),
		Body:          io.NopCloser(strings.NewReader(f.Body)),
		ContentLength: int64(len(f.Body)),
		Request:       req,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
	}
	for key, value := range f.Headers {
		resp.Header.Set(key, value)
	}
	return resp
}
