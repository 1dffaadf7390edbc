package sp

import (
	"context"
	"fmt"
	"sync"
)

// DefaultTenant is the tenant used when a registration names none
const DefaultTenant = "carbon.super"

// MemoryRegistry holds registrations and service providers in memory
type MemoryRegistry struct {
	mu        sync.RWMutex
	apps      map[string]*App
	providers map[string]*ServiceProvider // keyed by tenant/name
}

// NewMemoryRegistry creates an empty registry
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		apps:      make(map[string]*App),
		providers: make(map[string]*ServiceProvider),
	}
}

// AddServiceProvider registers s under its tenant
func (r *MemoryRegistry) AddServiceProvider(s *ServiceProvider) {
	tenant := s.TenantDomain
	if tenant == "" {
		tenant = DefaultTenant
	}
	r.mu.Lock()
	r.providers[providerKey(tenant, s.Name)] = s
	r.mu.Unlock()
}

// AddApp registers an OAuth client. The app's service provider must already
// be registered in the app's tenant.
func (r *MemoryRegistry) AddApp(a *App) error {
	tenant := a.TenantDomain
	if tenant == "" {
		tenant = DefaultTenant
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[providerKey(tenant, a.ServiceProvider)]; !ok {
		return fmt.Errorf("app %s: service provider %q not found in tenant %s", a.ClientID, a.ServiceProvider, tenant)
	}
	cp := *a
	cp.TenantDomain = tenant
	r.apps[a.ClientID] = &cp
	return nil
}

func (r *MemoryRegistry) AppByClientID(ctx context.Context, clientID string) (*App, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.apps[clientID]
	if !ok {
		return nil, fmt.Errorf("%w: cannot find an application associated with the given consumer key: %s", ErrInvalidClient, clientID)
	}
	return a, nil
}

func (r *MemoryRegistry) ServiceProvider(ctx context.Context, clientID, tenantDomain string) (*ServiceProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.apps[clientID]
	if !ok || a.TenantDomain != tenantDomain {
		return nil, fmt.Errorf("%w: no application %s in tenant %s", ErrInvalidClient, clientID, tenantDomain)
	}
	s, ok := r.providers[providerKey(tenantDomain, a.ServiceProvider)]
	if !ok {
		return nil, fmt.Errorf("service provider %q not found in tenant %s", a.ServiceProvider, tenantDomain)
	}
	return s, nil
}

func providerKey(tenant, name string) string {
	return tenant + "/" + name
}
