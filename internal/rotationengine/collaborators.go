package rotationengine

import "context"

// KeyProvisioner creates a new key handle within a tenant's signing
// backend and produces a CSR for it. It is kept separate from
// backend.SignBackend because spec.md §6's capability boundary names
// exactly sign/pubkey/metadata/health/kind; minting a new handle is a
// backend-admin operation kept outside that signing capability. Of the
// three backend kinds only backend.Software implements it; KMS and HSM
// have no ProvisionKey or GenerateCSR.
type KeyProvisioner interface {
	ProvisionKey(ctx context.Context, tenantID string) (handle string, err error)
	GenerateCSR(ctx context.Context, handle, commonName string) (csrPEM string, err error)
}

// CertAuthority is the external collaborator that turns a CSR into an
// issued certificate chain (spec.md §4.2 "Submits the CSR to the
// configured CA (external collaborator)").
type CertAuthority interface {
	IssueCertificate(ctx context.Context, tenantID, csrPEM string) (certPEM string, chainPEM []string, err error)
}

// BackendResolver maps a tenant to the SignBackend currently serving it.
// Narrower than health.BackendResolver (no key id) since the rotation
// engine addresses keys by handle, not by a resolver-supplied id.
type BackendResolver interface {
	ResolveBackend(ctx context.Context, tenantID string) (SignBackend, error)
}

// SignBackend is the narrow slice of backend.SignBackend the rotation
// engine calls: signing the canary and post-cutover test digests. Kept as
// a local interface so this package doesn't import internal/backend just
// to name a type its callers already satisfy structurally.
type SignBackend interface {
	SignES256(ctx context.Context, handle string, digest []byte) ([]byte, error)
	PubKeyPEM(ctx context.Context, handle string) (string, error)
}

// ProvisionerResolver maps a tenant to the KeyProvisioner that can mint a
// new handle for it — ordinarily the same concrete value as the tenant's
// BackendResolver result when that backend is a backend.Software, the one
// backend kind that implements both.
type ProvisionerResolver interface {
	ResolveProvisioner(ctx context.Context, tenantID string) (KeyProvisioner, error)
}

// CanaryRecord is one row of the evidence pack's canary CSV, derived from
// a CanaryResult. Kept local (rather than importing internal/evidence)
// for the same reason as the rest of this file.
type CanaryRecord struct {
	AssetURL  string
	OldHash   string
	NewHash   string
	VerifyURL string
	Status    string
}

// EvidencePackInputs is everything the Completed phase has gathered about
// a finished rotation that the evidence pack builder needs.
type EvidencePackInputs struct {
	TenantID     string
	RotationDate string
	OldKeyHandle string
	NewKeyHandle string
	CSRPEM       string
	CertPEM      string
	CertChain    []string
	Canary       []CanaryRecord
}

// EvidenceBuilder is the narrow slice of the evidence package the engine
// calls from the Completed phase, kept as an interface (rather than a
// direct import of internal/evidence) so tests can substitute a
// recording fake without depending on the filesystem.
type EvidenceBuilder interface {
	BuildPack(ctx context.Context, in EvidencePackInputs) (packHash string, err error)
}
