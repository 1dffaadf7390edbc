// Package trust validates bearer access tokens presented to the UserInfo
// endpoint and the ext_authz check.
package trust

import (
	"context"
	"errors"
	"strings"

	"github.com/lestrrat-go/jwx/v3/jws"
	"github.com/lestrrat-go/jwx/v3/jwt"

	"github.com/project-kessel/userinfo/internal/token"
)

// Common validation errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// Validator validates a credential and describes the token it carries
type Validator interface {
	// Validate returns the validation result, or an error wrapping
	// ErrInvalidToken or ErrExpiredToken when the token is not usable
	Validate(ctx context.Context, credential Credential) (*token.ValidationResult, error)

	// CredentialTypes returns the credential types this validator handles
	CredentialTypes() []CredentialType
}

// CredentialType indicates the type of credential
type CredentialType string

const (
	CredentialTypeBearer CredentialType = "bearer"
	CredentialTypeJWT    CredentialType = "jwt"
)

// Credential is the material presented for validation
type Credential interface {
	Type() CredentialType
}

// BearerCredential is an opaque bearer token
type BearerCredential struct {
	Token string
}

func (c *BearerCredential) Type() CredentialType {
	return CredentialTypeBearer
}

// JWTCredential is a bearer token that parses as a signed JWT
type JWTCredential struct {
	BearerCredential
	Algorithm string
	KeyID     string

	// IssuerIdentity is the unverified iss claim
	IssuerIdentity string
}

func (c *JWTCredential) Type() CredentialType {
	return CredentialTypeJWT
}

// tokenOf returns the raw token of bearer-style credentials
func tokenOf(credential Credential) (string, bool) {
	switch cred := credential.(type) {
	case *BearerCredential:
		return cred.Token, true
	case *JWTCredential:
		return cred.Token, true
	default:
		return "", false
	}
}

// ParseCredential classifies a raw bearer token. Tokens with a parseable JWS
// header become a JWTCredential; everything else is an opaque bearer token.
// No signature is verified here.
func ParseCredential(raw string) Credential {
	bearer := BearerCredential{Token: raw}
	if strings.Count(raw, ".") != 2 {
		return &bearer
	}

	msg, err := jws.Parse([]byte(raw))
	if err != nil || len(msg.Signatures()) == 0 {
		return &bearer
	}

	cred := &JWTCredential{BearerCredential: bearer}
	headers := msg.Signatures()[0].ProtectedHeaders()
	if alg, ok := headers.Algorithm(); ok {
		cred.Algorithm = alg.String()
	}
	if kid, ok := headers.KeyID(); ok {
		cred.KeyID = kid
	}
	if insecure, err := jwt.ParseInsecure([]byte(raw)); err == nil {
		if iss, ok := insecure.Issuer(); ok {
			cred.IssuerIdentity = iss
		}
	}
	return cred
}
