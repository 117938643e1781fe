package main

import (
	"context"

	"github.com/systmms/signctl/internal/backend"
	"github.com/systmms/signctl/internal/ctlerrors"
	"github.com/systmms/signctl/internal/evidence"
	"github.com/systmms/signctl/internal/rotationengine"
	"github.com/systmms/signctl/internal/store"
)

// rotationBackendResolver adapts backend.Registry to
// rotationengine.BackendResolver. The two ResolveBackend methods are
// structurally identical except for return type, which Go's interface
// satisfaction treats as a mismatch, so a one-line forwarding method is
// the whole adapter.
type rotationBackendResolver struct {
	reg *backend.Registry
}

func (r rotationBackendResolver) ResolveBackend(ctx context.Context, tenantID string) (rotationengine.SignBackend, error) {
	return r.reg.ResolveBackend(ctx, tenantID)
}

// evidenceBackendResolver is the same adapter shape for the evidence
// pack builder's narrow SignBackend (sign, pubkey, kind only).
type evidenceBackendResolver struct {
	reg *backend.Registry
}

func (r evidenceBackendResolver) ResolveBackend(ctx context.Context, tenantID string) (evidence.SignBackend, error) {
	b, err := r.reg.ResolveBackend(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return backendKindAdapter{b}, nil
}

// backendKindAdapter narrows backend.SignBackend's BackendKind() Kind to
// the string the evidence package compares against "hsm"/"kms".
type backendKindAdapter struct {
	backend.SignBackend
}

func (b backendKindAdapter) BackendKind() string {
	return string(b.SignBackend.BackendKind())
}

// healthBackendResolver adapts backend.Registry plus the policy store to
// health.BackendResolver's three-value signature: the monitor needs a
// key id to probe alongside the backend, which Registry alone doesn't
// track, so this resolver consults the tenant's policy for its primary
// key.
type healthBackendResolver struct {
	reg   *backend.Registry
	store store.Store
}

func (r healthBackendResolver) ResolveBackend(ctx context.Context, tenantID string) (backend.SignBackend, string, error) {
	const op = "main.healthBackendResolver.ResolveBackend"

	b, err := r.reg.Get(tenantID)
	if err != nil {
		return nil, "", err
	}
	p, err := r.store.GetPolicy(ctx, tenantID)
	if err != nil {
		return nil, "", err
	}
	if p.Key.KeyID == "" {
		return nil, "", ctlerrors.New(ctlerrors.NotFound, op, "tenant policy has no key to probe").WithTenant(tenantID)
	}
	return b, p.Key.KeyID, nil
}

// provisionerResolver adapts backend.Registry to
// rotationengine.ProvisionerResolver by type-asserting the resolved
// backend against KeyProvisioner. Only backend.Software currently
// implements provisioning; KMS and HSM backends return
// BackendUnavailable until a provisioning path for them exists.
type provisionerResolver struct {
	reg *backend.Registry
}

func (r provisionerResolver) ResolveProvisioner(ctx context.Context, tenantID string) (rotationengine.KeyProvisioner, error) {
	const op = "main.provisionerResolver.ResolveProvisioner"

	b, err := r.reg.Get(tenantID)
	if err != nil {
		return nil, err
	}
	kp, ok := b.(rotationengine.KeyProvisioner)
	if !ok {
		return nil, ctlerrors.New(ctlerrors.BackendUnavailable, op, "backend does not support key provisioning").WithTenant(tenantID)
	}
	return kp, nil
}

// registryFailover implements incident.BackendFailover by reassigning a
// tenant's registry entry to a standby backend. A peer standby isn't
// part of this deployment's topology, so FailoverToPeer fails closed
// until a replica registry entry is wired in.
type registryFailover struct {
	registry   *backend.Registry
	kmsStandby backend.SignBackend
}

func (f *registryFailover) FailoverToKMS(_ context.Context, tenantID string) error {
	if f.kmsStandby == nil {
		return ctlerrors.New(ctlerrors.BackendUnavailable, "main.registryFailover.FailoverToKMS", "no kms standby backend configured").WithTenant(tenantID)
	}
	f.registry.Set(tenantID, f.kmsStandby)
	return nil
}

func (f *registryFailover) FailoverToPeer(_ context.Context, tenantID string) error {
	return ctlerrors.New(ctlerrors.BackendUnavailable, "main.registryFailover.FailoverToPeer", "no peer backend configured for this tenant").WithTenant(tenantID)
}
