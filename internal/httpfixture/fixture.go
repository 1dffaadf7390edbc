// Package httpfixture serves canned HTTP responses from an http.RoundTripper
// so JWKS fetches and Lua http calls can be tested without a network.
package httpfixture

import "net/http"

// Fixture is a canned HTTP response
type Fixture struct {
	StatusCode int
	Headers    map[string]string
	Body       string
}

// FixtureProvider returns the fixture for a request, or nil when it has none
type FixtureProvider interface {
	GetFixture(req *http.Request) *Fixture
}

// FixtureFunc adapts a function to FixtureProvider
type FixtureFunc func(req *http.Request) *Fixture

func (f FixtureFunc) GetFixture(req *http.Request) *Fixture {
	return f(req)
}

// Routes serves fixtures keyed by "METHOD URL"; a key of just the URL
// matches any method.
type Routes map[string]*Fixture

func (r Routes) GetFixture(req *http.Request) *Fixture {
	url := req.URL.String()
	if f, ok := r[req.Method+" "+url]; ok {
		return f
	}
	return r[url]
}

// Providers tries each provider in order
type Providers []FixtureProvider

func (p Providers) GetFixture(req *http.Request) *Fixture {
	for _, provider := range p {
		if f := provider.GetFixture(req); f != nil {
			return f
		}
	}
	return nil
}
