// Package backend defines the SignBackend capability interface that
// abstracts over software keys, cloud KMS, and HSM-backed signing, and
// provides the software, KMS and HSM implementations.
package backend

import (
	"context"
	"time"
)

// Kind identifies which concrete SignBackend implementation is in use.
type Kind string

const (
	KindSoftware Kind = "software"
	KindKMS      Kind = "kms"
	KindHSM      Kind = "hsm"
)

// KeyMetadata describes a signing key without exposing key material.
type KeyMetadata struct {
	KeyID       string
	BackendKind Kind
	CreatedAt   time.Time
	PublicKeyPEM string
}

// HealthStatus reports whether a backend can currently sign.
type HealthStatus struct {
	Healthy   bool
	LatencyMS int64
	Detail    string
}

// SignBackend is the capability interface every key custody backend
// implements. All operations are scoped to a single key by KeyID: a
// backend may multiplex many tenants' keys behind one SignBackend value.
type SignBackend interface {
	// SignES256 produces a DER-encoded ECDSA-P256/SHA-256 signature over
	// digest, which must already be the 32-byte SHA-256 hash of the
	// message.
	SignES256(ctx context.Context, keyID string, digest []byte) ([]byte, error)

	// PubKeyPEM returns the PEM-encoded public key for keyID.
	PubKeyPEM(ctx context.Context, keyID string) (string, error)

	// KeyMetadata returns descriptive, non-secret metadata for keyID.
	KeyMetadata(ctx context.Context, keyID string) (KeyMetadata, error)

	// HealthCheck reports whether the backend can sign right now.
	HealthCheck(ctx context.Context) (HealthStatus, error)

	// BackendKind identifies the concrete implementation for audit trails
	// and evidence pack attestation.
	BackendKind() Kind
}
