// Package dialect holds claim dialect metadata: how claim URIs of an
// external dialect such as OIDC correspond to local claim URIs.
package dialect

import (
	"context"
	"fmt"
	"sync"
)

// OIDC is the dialect of claims returned to OpenID Connect relying parties
const OIDC = "http://wso2.org/oidc/claim"

// DefaultTenant holds dialects shared by every tenant
const DefaultTenant = "carbon.super"

// Mapping relates a claim of a dialect to a local claim
type Mapping struct {
	ClaimURI      string `koanf:"claim_uri"`
	LocalClaimURI string `koanf:"local_claim_uri"`
}

// Handler reads dialect metadata
type Handler interface {
	// MappingsToLocal returns local claim URI -> dialect claim URI for
	// every claim of dialect visible in tenantDomain.
	MappingsToLocal(ctx context.Context, dialect, tenantDomain string) (map[string]string, error)
}

// MemoryHandler keeps dialect mappings in memory. A tenant's own mappings
// override those of DefaultTenant for the same local claim.
type MemoryHandler struct {
	mu       sync.RWMutex
	dialects map[string]map[string][]Mapping // tenant -> dialect -> mappings
}

// NewMemoryHandler creates an empty handler
func NewMemoryHandler() *MemoryHandler {
	return &MemoryHandler{dialects: make(map[string]map[string][]Mapping)}
}

// Add registers mappings for dialect in tenantDomain ("" means DefaultTenant)
func (h *MemoryHandler) Add(tenantDomain, dialect string, mappings ...Mapping) {
	if tenantDomain == "" {
		tenantDomain = DefaultTenant
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	byDialect, ok := h.dialects[tenantDomain]
	if !ok {
		byDialect = make(map[string][]Mapping)
		h.dialects[tenantDomain] = byDialect
	}
	byDialect[dialect] = append(byDialect[dialect], mappings...)
}

func (h *MemoryHandler) MappingsToLocal(ctx context.Context, dialect, tenantDomain string) (map[string]string, error) {
	if dialect == "" {
		return nil, fmt.Errorf("dialect is required")
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]string)
	for _, m := range h.dialects[DefaultTenant][dialect] {
		out[m.LocalClaimURI] = m.ClaimURI
	}
	if tenantDomain != "" && tenantDomain != DefaultTenant {
		for _, m := range h.dialects[tenantDomain][dialect] {
			out[m.LocalClaimURI] = m.ClaimURI
		}
	}
	return out, nil
}

// StandardOIDC returns the default mappings between common local claims and
// standard OIDC claim names.
func StandardOIDC() []Mapping {
	return []Mapping{
		{ClaimURI: "sub", LocalClaimURI: "http://wso2.org/claims/userid"},
		{ClaimURI: "preferred_username", LocalClaimURI: "http://wso2.org/claims/username"},
		{ClaimURI: "email", LocalClaimURI: "http://wso2.org/claims/emailaddress"},
		{ClaimURI: "given_name", LocalClaimURI: "http://wso2.org/claims/givenname"},
		{ClaimURI: "family_name", LocalClaimURI: "http://wso2.org/claims/lastname"},
		{ClaimURI: "phone_number", LocalClaimURI: "http://wso2.org/claims/mobile"},
		{ClaimURI: "groups", LocalClaimURI: "http://wso2.org/claims/groups"},
		{ClaimURI: "roles", LocalClaimURI: "http://wso2.org/claims/role"},
	}
}
