package backend

import (
	"context"
	"sync"

	"github.com/systmms/signctl/internal/ctlerrors"
)

// Registry maps a tenant id to the SignBackend instance currently serving
// it. Rotation contexts and incident failover hold the tenant id rather
// than a backend pointer, so swapping a tenant's backend (HSM failover to
// KMS, say) is a registry mutation with no other component aware it
// happened (spec.md §9, "Backend polymorphism").
type Registry struct {
	mu    sync.RWMutex
	byTen map[string]SignBackend
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byTen: make(map[string]SignBackend)}
}

// Set assigns the backend instance that should serve tenantID.
func (r *Registry) Set(tenantID string, b SignBackend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byTen[tenantID] = b
}

// Get returns the backend currently serving tenantID.
func (r *Registry) Get(tenantID string) (SignBackend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.byTen[tenantID]
	if !ok {
		return nil, ctlerrors.New(ctlerrors.NotFound, "backend.Registry.Get", "no backend registered for tenant").WithTenant(tenantID)
	}
	return b, nil
}

// ResolveBackend returns the backend currently serving tenantID. Its
// signature does not match the resolver interfaces of the rotation engine,
// evidence builder or health monitor; cmd/signctld adapts Registry to each
// of them.
func (r *Registry) ResolveBackend(_ context.Context, tenantID string) (SignBackend, error) {
	return r.Get(tenantID)
}
