// Package userstore reads user attributes from the user stores of a tenant.
// A tenant's realm holds a primary store and any number of secondary stores,
// each identified by a user store domain.
package userstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/project-kessel/userinfo/internal/claims"
)

// PrimaryDomain names the default user store of a realm
const PrimaryDomain = "PRIMARY"

// ErrUserNotFound is returned when the user does not exist in the store
var ErrUserNotFound = errors.New("user not found")

// Manager reads claim values of users in one user store
type Manager interface {
	// UserClaimValues returns claim URI -> raw value for the requested claims
	// that the user has. Multi-valued attributes are joined with the store's
	// multi attribute separator.
	UserClaimValues(ctx context.Context, userID string, claimURIs []string) (map[string]string, error)
}

// RealmConfig configures a user store within a realm
type RealmConfig struct {
	// MultiAttributeSeparator joins the values of multi-valued attributes.
	// Blank means claims.DefaultMultiAttributeSeparator.
	MultiAttributeSeparator string
}

// Separator returns the effective multi attribute separator
func (c RealmConfig) Separator() string {
	if strings.TrimSpace(c.MultiAttributeSeparator) == "" {
		return claims.DefaultMultiAttributeSeparator
	}
	return c.MultiAttributeSeparator
}

// Realm is the set of user stores of a tenant
type Realm interface {
	// Manager returns the store for domain. The primary store is returned for
	// an empty domain.
	Manager(domain string) (Manager, error)

	// Config returns the configuration of the store for domain
	Config(domain string) (RealmConfig, error)
}

// Realms resolves the realm of a tenant
type Realms interface {
	// Realm returns the realm of tenantDomain, or nil if the tenant has none
	Realm(ctx context.Context, tenantDomain string) (Realm, error)
}

// ExtractDomain returns the user store domain prefix of name ("DOMAIN/user"),
// or PrimaryDomain when there is none.
func ExtractDomain(name string) string {
	if i := strings.Index(name, "/"); i > 0 {
		return strings.ToUpper(name[:i])
	}
	return PrimaryDomain
}

type store struct {
	manager Manager
	config  RealmConfig
}

// StaticRealm is a Realm over a fixed set of stores
type StaticRealm struct {
	stores map[string]store
}

// NewStaticRealm creates a realm whose primary store is primary
func NewStaticRealm(primary Manager, cfg RealmConfig) *StaticRealm {
	return &StaticRealm{stores: map[string]store{
		PrimaryDomain: {manager: primary, config: cfg},
	}}
}

// WithSecondary adds a secondary store under domain
func (r *StaticRealm) WithSecondary(domain string, m Manager, cfg RealmConfig) *StaticRealm {
	r.stores[strings.ToUpper(domain)] = store{manager: m, config: cfg}
	return r
}

func (r *StaticRealm) lookup(domain string) (store, error) {
	if domain == "" {
		domain = PrimaryDomain
	}
	s, ok := r.stores[strings.ToUpper(domain)]
	if !ok || s.manager == nil {
		return store{}, fmt.Errorf("unable to retrieve user store manager for domain %s", domain)
	}
	return s, nil
}

func (r *StaticRealm) Manager(domain string) (Manager, error) {
	s, err := r.lookup(domain)
	if err != nil {
		return nil, err
	}
	return s.manager, nil
}

func (r *StaticRealm) Config(domain string) (RealmConfig, error) {
	s, err := r.lookup(domain)
	if err != nil {
		return RealmConfig{}, err
	}
	return s.config, nil
}

// RealmRegistry maps tenants to realms
type RealmRegistry struct {
	mu     sync.RWMutex
	realms map[string]Realm
}

func NewRealmRegistry() *RealmRegistry {
	return &RealmRegistry{realms: make(map[string]Realm)}
}

// Register sets the realm of tenantDomain
func (r *RealmRegistry) Register(tenantDomain string, realm Realm) {
	r.mu.Lock()
	r.realms[tenantDomain] = realm
	r.mu.Unlock()
}

func (r *RealmRegistry) Realm(ctx context.Context, tenantDomain string) (Realm, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	realm, ok := r.realms[tenantDomain]
	if !ok {
		return nil, nil
	}
	return realm, nil
}
