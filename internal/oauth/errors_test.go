package oauth

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorConstructors(t *testing.T) {
	cause := errors.New("boom")

	tests := []struct {
		name     string
		err      *Error
		kind     Kind
		code     string
		hasCause bool
	}{
		{"client message", NewClientError("bad"), KindClient, "", false},
		{"client code", NewClientErrorCode("c1", "bad"), KindClient, "c1", false},
		{"client cause", WrapClientError("bad", cause), KindClient, "", true},
		{"client code cause", WrapClientErrorCode("c1", "bad", cause), KindClient, "c1", true},
		{"runtime", NewRuntimeError("misconfigured"), KindRuntime, "", false},
		{"runtime cause", WrapRuntimeError("misconfigured", cause), KindRuntime, "", true},
		{"registration code", NewRegistrationError("r1", "failed"), KindRegistration, "r1", false},
		{"registration cause", WrapRegistrationError("failed", cause), KindRegistration, "", true},
		{"registration code cause", WrapRegistrationErrorCode("r1", "failed", cause), KindRegistration, "r1", true},
		{"userinfo", NewUserInfoError(CodeServerError, "failed", cause), KindUserInfo, CodeServerError, true},
		{"invalid token", NewInvalidTokenError("inactive", nil), KindInvalidToken, CodeInvalidToken, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, tt.err.Kind)
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.hasCause, errors.Is(tt.err, cause))
		})
	}
}

func TestErrorIs(t *testing.T) {
	err := fmt.Errorf("resolving: %w", NewUserInfoError(CodeInvalidUserDomain, "invalid user domain", nil))

	assert.True(t, IsKind(err, KindUserInfo))
	assert.False(t, IsKind(err, KindClient))
	assert.True(t, errors.Is(err, &Error{Kind: KindUserInfo, Code: CodeInvalidUserDomain}))
	assert.False(t, errors.Is(err, &Error{Kind: KindUserInfo, Code: CodeServerError}))
	assert.Equal(t, KindUserInfo, KindOf(err))
	assert.Equal(t, KindServer, KindOf(errors.New("plain")))
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "bad request", NewClientError("bad request").Error())
	assert.Equal(t, "c1", NewClientErrorCode("c1", "").Error())
	assert.Equal(t, "failed: boom", WrapRuntimeError("failed", errors.New("boom")).Error())
}

func TestResponseFor(t *testing.T) {
	t.Run("invalid token has no trace id", func(t *testing.T) {
		resp, status := ResponseFor(NewInvalidTokenError("Access token is not ACTIVE", nil), "trace-1")
		assert.Equal(t, 401, status)
		assert.Equal(t, CodeInvalidToken, resp.Error)
		assert.Empty(t, resp.TraceID)
	})

	t.Run("userinfo failure carries trace id", func(t *testing.T) {
		resp, status := ResponseFor(NewUserInfoError("", "Error while retrieving claims", errors.New("db down")), "trace-2")
		assert.Equal(t, 500, status)
		assert.Equal(t, CodeServerError, resp.Error)
		assert.Equal(t, "trace-2", resp.TraceID)
		assert.NotContains(t, resp.ErrorDescription, "db down")
	})

	t.Run("unknown error is a server error", func(t *testing.T) {
		resp, status := ResponseFor(errors.New("secret detail"), "trace-3")
		require.Equal(t, 500, status)
		assert.Equal(t, CodeServerError, resp.Error)
		assert.NotContains(t, resp.ErrorDescription, "secret")
	})

	t.Run("client error defaults code", func(t *testing.T) {
		resp, status := ResponseFor(NewClientError("missing token"), "trace-4")
		assert.Equal(t, 400, status)
		assert.Equal(t, CodeInvalidRequest, resp.Error)
	})
}
