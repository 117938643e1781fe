package evidence

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"time"

	"github.com/systmms/signctl/internal/rotationengine"
)

// attestationDigest is the fixed digest an attestation self-check signs,
// distinct from the rotation engine's post-cutover check digest so the
// two can never be confused in an audit trail.
var attestationDigest = sha256.Sum256([]byte("signctl/evidence/attestation-check"))

type verificationResult struct {
	Verified  bool   `json:"verified"`
	Method    string `json:"method"`
	CheckedAt string `json:"checked_at"`
}

// attestationDoc is 03-attestation.json's schema: stable across backend
// kinds so downstream auditors can diff packs across rotations.
type attestationDoc struct {
	BackendKind  string             `json:"backend_kind"`
	KeyID        string             `json:"key_id"`
	Verification verificationResult `json:"verification"`
}

// attestation builds 03-attestation.json, present only when the pack is
// configured to include it and the tenant's backend kind is HSM or KMS
// (Software backends have no device/vendor identity to attest to).
func (b *Builder) attestation(ctx context.Context, in rotationengine.EvidencePackInputs) (attestationDoc, bool) {
	if b.resolver == nil {
		return attestationDoc{}, false
	}

	be, err := b.resolver.ResolveBackend(ctx, in.TenantID)
	if err != nil {
		b.log.WithTenant(in.TenantID).Warnw("attestation skipped: backend unavailable", "error", err)
		return attestationDoc{}, false
	}

	kind := be.BackendKind()
	if kind != "hsm" && kind != "kms" {
		return attestationDoc{}, false
	}

	sig, err := be.SignES256(ctx, in.NewKeyHandle, attestationDigest[:])
	verified := false
	if err == nil {
		if pubPEM, perr := be.PubKeyPEM(ctx, in.NewKeyHandle); perr == nil {
			verified, _ = verifyDER(pubPEM, attestationDigest[:], sig)
		}
	} else {
		b.log.WithTenant(in.TenantID).Warnw("attestation self-check sign failed", "error", err)
	}

	return attestationDoc{
		BackendKind: kind,
		KeyID:       in.NewKeyHandle,
		Verification: verificationResult{
			Verified:  verified,
			Method:    "sign_es256 self-check",
			CheckedAt: time.Now().UTC().Format(time.RFC3339),
		},
	}, true
}

func verifyDER(pubPEM string, digest, sig []byte) (bool, error) {
	block, _ := pem.Decode([]byte(pubPEM))
	if block == nil {
		return false, errors.New("evidence: invalid PEM public key")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return false, err
	}
	ecdsaPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return false, errors.New("evidence: public key is not ECDSA")
	}
	return ecdsa.VerifyASN1(ecdsaPub, digest, sig), nil
}
