// Package oauth holds the endpoint-facing error model: a tagged error kind
// carrying a code, a description and an optional cause, plus the JSON error
// response returned to API clients.
package oauth

import (
	"errors"
	"fmt"
)

// Kind classifies an endpoint-facing error
type Kind int

const (
	// KindServer is an unexpected internal failure
	KindServer Kind = iota
	// KindClient is a client-caused registration or request error
	KindClient
	// KindRuntime is an environment or misconfiguration error
	KindRuntime
	// KindRegistration is a client registration failure
	KindRegistration
	// KindUserInfo is a failure while assembling the UserInfo response
	KindUserInfo
	// KindInvalidToken means the presented access token is not usable
	KindInvalidToken
)

func (k Kind) String() string {
	switch k {
	case KindClient:
		return "client"
	case KindRuntime:
		return "runtime"
	case KindRegistration:
		return "registration"
	case KindUserInfo:
		return "userinfo"
	case KindInvalidToken:
		return "invalid_token"
	default:
		return "server"
	}
}

// Standard error codes
const (
	CodeInvalidRequest       = "invalid_request"
	CodeInvalidToken         = "invalid_token"
	CodeInsufficientScope    = "insufficient_scope"
	CodeInvalidClient        = "invalid_client"
	CodeInvalidClientMeta    = "invalid_client_metadata"
	CodeServerError          = "server_error"
	CodeInvalidUserDomain    = "invalid_user_domain"
	CodeRegistrationFailed   = "registration_failed"
	CodeConfigurationInvalid = "configuration_error"
)

// Error is an endpoint-facing error
type Error struct {
	Kind        Kind
	Code        string
	Description string
	Err         error
}

func (e *Error) Error() string {
	msg := e.Description
	if msg == "" {
		msg = e.Code
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind. When target carries a code,
// the codes must match as well.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// KindOf returns the kind of the outermost *Error in err's chain,
// or KindServer when there is none.
func KindOf(err error) Kind {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return KindServer
}

// IsKind reports whether err's chain holds an *Error of kind
func IsKind(err error, kind Kind) bool {
	return errors.Is(err, &Error{Kind: kind})
}

// NewClientError creates a client error with no code
func NewClientError(message string) *Error {
	return &Error{Kind: KindClient, Description: message}
}

// NewClientErrorCode creates a client error with a code
func NewClientErrorCode(code, message string) *Error {
	return &Error{Kind: KindClient, Code: code, Description: message}
}

// WrapClientError creates a client error with a cause
func WrapClientError(message string, cause error) *Error {
	return &Error{Kind: KindClient, Description: message, Err: cause}
}

// WrapClientErrorCode creates a client error with a code and a cause
func WrapClientErrorCode(code, message string, cause error) *Error {
	return &Error{Kind: KindClient, Code: code, Description: message, Err: cause}
}

// NewRuntimeError creates a runtime error
func NewRuntimeError(description string) *Error {
	return &Error{Kind: KindRuntime, Description: description}
}

// WrapRuntimeError creates a runtime error with a cause
func WrapRuntimeError(description string, cause error) *Error {
	return &Error{Kind: KindRuntime, Description: description, Err: cause}
}

// NewRegistrationError creates a registration error with a code
func NewRegistrationError(code, message string) *Error {
	return &Error{Kind: KindRegistration, Code: code, Description: message}
}

// WrapRegistrationError creates a registration error with a cause
func WrapRegistrationError(message string, cause error) *Error {
	return &Error{Kind: KindRegistration, Description: message, Err: cause}
}

// WrapRegistrationErrorCode creates a registration error with a code and a cause
func WrapRegistrationErrorCode(code, message string, cause error) *Error {
	return &Error{Kind: KindRegistration, Code: code, Description: message, Err: cause}
}

// NewUserInfoError creates a UserInfo endpoint error
func NewUserInfoError(code, description string, cause error) *Error {
	return &Error{Kind: KindUserInfo, Code: code, Description: description, Err: cause}
}

// NewInvalidTokenError creates an invalid_token error
func NewInvalidTokenError(description string, cause error) *Error {
	return &Error{Kind: KindInvalidToken, Code: CodeInvalidToken, Description: description, Err: cause}
}
