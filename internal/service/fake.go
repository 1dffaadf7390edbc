package service

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/project-kessel/userinfo/internal/claims"
	"github.com/project-kessel/userinfo/internal/keys"
	"github.com/project-kessel/userinfo/internal/token"
	"github.com/project-kessel/userinfo/internal/trust"
)

// FakeObserver is a test double that implements ApplicationObserver.
// It records all probe creations for later assertion in tests.
type FakeObserver struct {
	t *testing.T

	// All probes created across all observer methods
	Probes []*FakeProbe
}

// NewFakeObserver creates a new fake observer for testing
func NewFakeObserver(t *testing.T) *FakeObserver {
	return &FakeObserver{t: t, Probes: []*FakeProbe{}}
}

func (o *FakeObserver) newProbe(method string, args map[string]any) *FakeProbe {
	probe := &FakeProbe{t: o.t, StartMethod: method, StartArgs: args}
	o.Probes = append(o.Probes, probe)
	return probe
}

// ClaimResolutionStarted implements ClaimResolutionObserver
func (o *FakeObserver) ClaimResolutionStarted(ctx context.Context, result *token.ValidationResult) (context.Context, ClaimResolutionProbe) {
	return ctx, o.newProbe("ClaimResolutionStarted", map[string]any{"result": result})
}

// UserInfoRequestStarted implements UserInfoObserver
func (o *FakeObserver) UserInfoRequestStarted(ctx context.Context) (context.Context, UserInfoProbe) {
	return ctx, o.newProbe("UserInfoRequestStarted", map[string]any{})
}

// AuthzCheckStarted implements AuthzCheckObserver
func (o *FakeObserver) AuthzCheckStarted(ctx context.Context) (context.Context, AuthzCheckProbe) {
	return ctx, o.newProbe("AuthzCheckStarted", map[string]any{})
}

// AssertProbeCount verifies the expected number of probes were created
func (o *FakeObserver) AssertProbeCount(expected int) {
	o.t.Helper()
	if len(o.Probes) != expected {
		o.t.Errorf("expected %d probe(s), got %d", expected, len(o.Probes))
	}
}

// ProbesStartedWith returns the probes created by startMethod, in order
func (o *FakeObserver) ProbesStartedWith(startMethod string) []*FakeProbe {
	var out []*FakeProbe
	for _, p := range o.Probes {
		if p.StartMethod == startMethod {
			out = append(out, p)
		}
	}
	return out
}

// AssertSingleProbe asserts that exactly one probe was created with the given start method.
// Returns the probe for further sequence assertions.
func (o *FakeObserver) AssertSingleProbe(startMethod string) *FakeProbe {
	o.t.Helper()

	probes := o.ProbesStartedWith(startMethod)
	if len(probes) != 1 {
		o.t.Fatalf("expected 1 probe started with %s, got %d", startMethod, len(probes))
		return nil
	}
	return probes[0]
}

// FakeProbe implements all probe interfaces and records method calls
type FakeProbe struct {
	t *testing.T

	StartMethod string
	StartArgs   map[string]any

	calls []probeCall
}

type probeCall struct {
	methodName string
	args       []any
}

func (p *FakeProbe) recordCall(method string, args ...any) {
	p.calls = append(p.calls, probeCall{methodName: method, args: args})
}

// Called reports whether method was recorded
func (p *FakeProbe) Called(method string) bool {
	for _, c := range p.calls {
		if c.methodName == method {
			return true
		}
	}
	return false
}

// Args returns the arguments of the first call to method
func (p *FakeProbe) Args(method string) []any {
	for _, c := range p.calls {
		if c.methodName == method {
			return c.args
		}
	}
	return nil
}

// ClaimResolutionProbe methods
func (p *FakeProbe) CacheHit(attributes int) {
	p.recordCall("CacheHit", attributes)
}

func (p *FakeProbe) CacheMiss() {
	p.recordCall("CacheMiss")
}

func (p *FakeProbe) CacheLookupFailed(err error) {
	p.recordCall("CacheLookupFailed", err)
}

func (p *FakeProbe) FederatedUserSkipped(user *token.AuthenticatedUser) {
	p.recordCall("FederatedUserSkipped", user)
}

func (p *FakeProbe) ClaimsRequested(clientID string, claimURIs []string) {
	p.recordCall("ClaimsRequested", clientID, claimURIs)
}

func (p *FakeProbe) UserNotFound(userID string, err error) {
	p.recordCall("UserNotFound", userID, err)
}

func (p *FakeProbe) UserStoreFailed(err error) {
	p.recordCall("UserStoreFailed", err)
}

func (p *FakeProbe) SubjectDefaulted(subject string) {
	p.recordCall("SubjectDefaulted", subject)
}

func (p *FakeProbe) ClaimsResolved(c claims.Claims) {
	p.recordCall("ClaimsResolved", c)
}

func (p *FakeProbe) ResolutionFailed(err error) {
	p.recordCall("ResolutionFailed", err)
}

// UserInfoProbe methods
func (p *FakeProbe) TokenValidationSucceeded(result *token.ValidationResult) {
	p.recordCall("TokenValidationSucceeded", result)
}

func (p *FakeProbe) TokenValidationFailed(err error) {
	p.recordCall("TokenValidationFailed", err)
}

func (p *FakeProbe) ResponseSigned(keyID keys.KeyID) {
	p.recordCall("ResponseSigned", keyID)
}

func (p *FakeProbe) SigningFailed(err error) {
	p.recordCall("SigningFailed", err)
}

// AuthzCheckProbe methods
func (p *FakeProbe) SubjectCredentialExtracted(cred trust.Credential) {
	p.recordCall("SubjectCredentialExtracted", cred)
}

func (p *FakeProbe) SubjectCredentialExtractionFailed(err error) {
	p.recordCall("SubjectCredentialExtractionFailed", err)
}

func (p *FakeProbe) SubjectValidationSucceeded(result *token.ValidationResult) {
	p.recordCall("SubjectValidationSucceeded", result)
}

func (p *FakeProbe) SubjectValidationFailed(err error) {
	p.recordCall("SubjectValidationFailed", err)
}

func (p *FakeProbe) ClaimsForwarded(header string, names []string) {
	p.recordCall("ClaimsForwarded", header, names)
}

func (p *FakeProbe) ClaimResolutionFailed(err error) {
	p.recordCall("ClaimResolutionFailed", err)
}

// End is common to all probes
func (p *FakeProbe) End() {
	p.recordCall("End")
}

// AssertProbeSequence verifies the exact sequence of probe method calls.
// Accepts either strings (method names) or ProbeMatcher functions.
func (p *FakeProbe) AssertProbeSequence(expected ...any) {
	p.t.Helper()
	if len(p.calls) != len(expected) {
		p.t.Errorf("expected %d probe calls, got %d", len(expected), len(p.calls))
		p.t.Logf("actual probe calls: %v", p.methodNames())
		return
	}
	for i, exp := range expected {
		call := p.calls[i]
		switch e := exp.(type) {
		case string:
			if call.methodName != e {
				p.t.Errorf("probe call %d: expected method %s, got %s", i, e, call.methodName)
			}
		case ProbeMatcher:
			if !e(call) {
				p.t.Errorf("probe call %d: matcher failed for %s %v", i, call.methodName, call.args)
			}
		default:
			p.t.Errorf("invalid expected type at position %d: %T", i, exp)
		}
	}
}

func (p *FakeProbe) methodNames() []string {
	names := make([]string, len(p.calls))
	for i, call := range p.calls {
		names[i] = call.methodName
	}
	return names
}

// ProbeMatcher is a function that matches against a probe call
type ProbeMatcher func(probeCall) bool

// ProbeCall creates a matcher that checks probe method name and optionally arguments.
// Arguments can be concrete values (compared with reflect.DeepEqual) or ArgumentMatcher instances.
func ProbeCall(method string, args ...any) ProbeMatcher {
	return func(call probeCall) bool {
		if call.methodName != method {
			return false
		}
		if len(args) == 0 {
			return true
		}
		if len(args) != len(call.args) {
			return false
		}
		for i, expected := range args {
			if matcher, ok := expected.(ArgumentMatcher); ok {
				if !matcher.Matches(call.args[i]) {
					return false
				}
			} else if !reflect.DeepEqual(expected, call.args[i]) {
				return false
			}
		}
		return true
	}
}

// ArgumentMatcher allows flexible matching of probe arguments
type ArgumentMatcher interface {
	Matches(actual any) bool
}

// ErrorContaining creates a matcher that checks if an error's message contains a substring
type ErrorContaining string

func (e ErrorContaining) Matches(actual any) bool {
	err, ok := actual.(error)
	if !ok || err == nil {
		return false
	}
	return strings.Contains(err.Error(), string(e))
}

type anyErrorMatcher struct{}

// AnyError returns a matcher that matches any non-nil error
func AnyError() ArgumentMatcher {
	return anyErrorMatcher{}
}

func (anyErrorMatcher) Matches(actual any) bool {
	err, ok := actual.(error)
	return ok && err != nil
}

type anyMatcher struct{}

// Any matches every argument
func Any() ArgumentMatcher {
	return anyMatcher{}
}

func (anyMatcher) Matches(any) bool { return true }
