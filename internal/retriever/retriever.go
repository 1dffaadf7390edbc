// Package retriever turns cached grant attributes into the claims returned
// by the UserInfo endpoint.
package retriever

import (
	"context"

	"github.com/project-kessel/userinfo/internal/claims"
	"github.com/project-kessel/userinfo/internal/grantcache"
)

// Retriever maps cached user attributes into claims
type Retriever interface {
	ClaimsMap(ctx context.Context, attrs []grantcache.Attribute) (claims.Claims, error)
}

// Default names each claim by the service provider's remote claim URI.
// Multi-valued attributes become string arrays.
type Default struct {
	separator string
}

// NewDefault creates a retriever splitting values on separator
func NewDefault(separator string) *Default {
	if separator == "" {
		separator = claims.DefaultMultiAttributeSeparator
	}
	return &Default{separator: separator}
}

func (r *Default) ClaimsMap(ctx context.Context, attrs []grantcache.Attribute) (claims.Claims, error) {
	out := make(claims.Claims, len(attrs))
	for _, a := range attrs {
		name := a.Claim.RemoteClaim.URI
		if name == "" {
			name = a.Claim.LocalClaim.URI
		}
		if name == "" {
			continue
		}
		out[name] = claims.ValueOf(a.Value, r.separator)
	}
	return out, nil
}
