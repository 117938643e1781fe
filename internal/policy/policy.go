// Package policy defines the per-tenant signing policy document, its
// validation rules, and the canonical hash that binds a policy version to
// the evidence produced under it.
package policy

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/systmms/signctl/internal/ctlerrors"
)

// Algorithm enumerates the signing algorithms a policy may request. Only
// ECDSA-P256 is currently backed by a SignBackend implementation.
type Algorithm string

// AlgorithmES256 is the sole supported algorithm: ECDSA over the P-256
// curve with SHA-256 digests.
const AlgorithmES256 Algorithm = "ES256"

// TSAProfile is an opaque tag describing which timestamping-authority
// profile a tenant's signatures should carry. It does not select a
// backend or algorithm; it is forwarded to the signer as-is.
type TSAProfile string

const (
	TSAProfileStandard    TSAProfile = "standard"
	TSAProfileLowLatency  TSAProfile = "low-latency"
	TSAProfileCheap       TSAProfile = "cheap"
)

// KeyRef identifies the signing key a policy governs: which backend holds
// it, the opaque handle the backend resolves it by, and the certificate
// chain currently bound to that handle. A policy carries exactly one key.
type KeyRef struct {
	KeyID             string    `json:"key_id"`
	Algorithm         Algorithm `json:"algorithm"`
	BackendKind       string    `json:"backend_kind"`
	Provider          string    `json:"provider,omitempty"`
	Handle            string    `json:"handle,omitempty"`
	CertChain         []string  `json:"cert_chain,omitempty"`
	NotBefore         time.Time `json:"not_before"`
	NotAfter          time.Time `json:"not_after"`
	RotateEveryDays   int       `json:"rotate_every_days"`
	MaxIssuancePer24h int       `json:"max_issuance_per_24h,omitempty"`
	SignEnabled       bool      `json:"sign_enabled"`
}

// Policy is the full signing policy document for one tenant.
type Policy struct {
	TenantID            string            `json:"tenant_id"`
	Version             int               `json:"version"`
	TSAProfile          TSAProfile        `json:"tsa_profile,omitempty"`
	EmbedAllowedOrigins []string          `json:"embed_allowed_origins,omitempty"`
	Key                 KeyRef            `json:"key"`
	AssertionsAllow     []string          `json:"assertions_allow,omitempty"`
	AssertionsDeny      []string          `json:"assertions_deny,omitempty"`
	Labels              map[string]string `json:"labels,omitempty"`
	PolicyHash          string            `json:"policy_hash,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// schema guards against structurally malformed policy documents before
// the field-level invariant checks below run.
var schema = gojsonschema.NewStringLoader(`{
	"type": "object",
	"required": ["tenant_id", "key"],
	"properties": {
		"tenant_id": {"type": "string", "minLength": 1},
		"version": {"type": "integer"},
		"tsa_profile": {"type": "string", "enum": ["standard", "low-latency", "cheap"]},
		"embed_allowed_origins": {"type": "array", "items": {"type": "string"}},
		"key": {
			"type": "object",
			"required": ["key_id", "algorithm", "backend_kind", "not_before", "not_after", "rotate_every_days"],
			"properties": {
				"key_id": {"type": "string", "minLength": 1},
				"algorithm": {"type": "string"},
				"backend_kind": {"type": "string", "minLength": 1},
				"rotate_every_days": {"type": "integer"},
				"sign_enabled": {"type": "boolean"}
			}
		}
	}
}`)

// ValidateSchema checks the raw policy document against its JSON schema,
// independent of the domain-level invariants enforced by Validate.
func ValidateSchema(raw []byte) error {
	result, err := gojsonschema.Validate(schema, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return ctlerrors.Wrap(ctlerrors.InvalidInput, "policy.ValidateSchema", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return ctlerrors.New(ctlerrors.InvalidInput, "policy.ValidateSchema", fmt.Sprintf("%v", msgs))
	}
	return nil
}

// Validate enforces the domain invariants a policy must satisfy before it
// can be stored: a supported algorithm, a sane key validity window, a
// rotation cadence within bounds, and non-overlapping assertion lists.
func (p *Policy) Validate(now time.Time) error {
	const op = "policy.Validate"

	if p.TenantID == "" {
		return ctlerrors.New(ctlerrors.InvalidInput, op, "tenant_id is required")
	}
	if p.Key.KeyID == "" {
		return ctlerrors.New(ctlerrors.InvalidInput, op, "a signing key is required").WithTenant(p.TenantID)
	}
	if p.TSAProfile != "" {
		switch p.TSAProfile {
		case TSAProfileStandard, TSAProfileLowLatency, TSAProfileCheap:
		default:
			return ctlerrors.New(ctlerrors.InvalidInput, op, fmt.Sprintf("unknown tsa_profile %q", p.TSAProfile)).WithTenant(p.TenantID)
		}
	}
	if p.Key.RotateEveryDays < 30 || p.Key.RotateEveryDays > 365 {
		return ctlerrors.New(ctlerrors.Policy, op, "rotate_every_days must be between 30 and 365").WithTenant(p.TenantID)
	}
	if p.Key.Algorithm != AlgorithmES256 {
		return ctlerrors.New(ctlerrors.Policy, op, fmt.Sprintf("unsupported algorithm %q for key %q", p.Key.Algorithm, p.Key.KeyID)).WithTenant(p.TenantID)
	}
	if !p.Key.NotBefore.Before(p.Key.NotAfter) {
		return ctlerrors.New(ctlerrors.Policy, op, fmt.Sprintf("key %q: not_before must precede not_after", p.Key.KeyID)).WithTenant(p.TenantID)
	}
	if p.Key.NotBefore.After(now.AddDate(0, 0, 30)) {
		return ctlerrors.New(ctlerrors.Policy, op, fmt.Sprintf("key %q: not_before may not be more than 30 days in the future", p.Key.KeyID)).WithTenant(p.TenantID)
	}

	if overlap := intersect(p.AssertionsAllow, p.AssertionsDeny); len(overlap) > 0 {
		return ctlerrors.New(ctlerrors.Policy, op, fmt.Sprintf("assertions_allow and assertions_deny overlap: %v", overlap)).WithTenant(p.TenantID)
	}

	return nil
}

func intersect(a, b []string) []string {
	set := make(map[string]struct{}, len(a))
	for _, v := range a {
		set[v] = struct{}{}
	}
	var out []string
	for _, v := range b {
		if _, ok := set[v]; ok {
			out = append(out, v)
		}
	}
	return out
}

// canonical is the field-ordered projection of Policy used to compute
// PolicyHash. policy_hash is elided since the hash can never depend on its
// own value; created_at/updated_at are elided since they track storage
// bookkeeping, not policy content.
type canonical struct {
	TenantID            string            `json:"tenant_id"`
	Version             int               `json:"version"`
	TSAProfile          TSAProfile        `json:"tsa_profile,omitempty"`
	EmbedAllowedOrigins []string          `json:"embed_allowed_origins,omitempty"`
	Key                 KeyRef            `json:"key"`
	AssertionsAllow     []string          `json:"assertions_allow,omitempty"`
	AssertionsDeny      []string          `json:"assertions_deny,omitempty"`
	Labels              map[string]string `json:"labels,omitempty"`
}

// ComputeHash returns the canonical "sha256:<hex>" digest of the policy,
// independent of map or field ordering introduced during marshaling.
func (p *Policy) ComputeHash() (string, error) {
	c := canonical{
		TenantID:            p.TenantID,
		Version:             p.Version,
		TSAProfile:          p.TSAProfile,
		EmbedAllowedOrigins: p.EmbedAllowedOrigins,
		Key:                 p.Key,
		AssertionsAllow:     p.AssertionsAllow,
		AssertionsDeny:      p.AssertionsDeny,
		Labels:              p.Labels,
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(c); err != nil {
		return "", ctlerrors.Wrap(ctlerrors.Crypto, "policy.ComputeHash", err)
	}

	sum := sha256.Sum256(buf.Bytes())
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// Seal computes and stores the canonical hash on the policy, returning it.
func (p *Policy) Seal() (string, error) {
	hash, err := p.ComputeHash()
	if err != nil {
		return "", err
	}
	p.PolicyHash = hash
	return hash, nil
}

// VerifyHash reports whether the policy's stored PolicyHash matches its
// current content, catching silent tampering or stale cache entries.
func (p *Policy) VerifyHash() (bool, error) {
	hash, err := p.ComputeHash()
	if err != nil {
		return false, err
	}
	return hash == p.PolicyHash, nil
}
