package backend

import (
	"context"
	"time"

	"github.com/systmms/signctl/internal/ctlerrors"
)

// PKCS11Session is the narrow slice of a PKCS11 session signctl needs from
// an HSM. It is an interface rather than a concrete binding so the
// production adapter (whichever vendor's cgo wrapper a deployment picks)
// can satisfy it without this package taking a cgo dependency.
type PKCS11Session interface {
	SignECDSA(keyLabel string, digest []byte) (der []byte, err error)
	PublicKeyDER(keyLabel string) ([]byte, error)
	KeyCreatedAt(keyLabel string) (time.Time, error)
	Ping() error
}

// HSM is a SignBackend backed by an on-premises or cloud HSM reachable
// through a PKCS11 session. KeyID values are PKCS11 key labels.
type HSM struct {
	session PKCS11Session
}

// NewHSM wraps an already-opened PKCS11 session.
func NewHSM(session PKCS11Session) *HSM {
	return &HSM{session: session}
}

func (b *HSM) SignES256(_ context.Context, keyID string, digest []byte) ([]byte, error) {
	if err := requireDigest(digest); err != nil {
		return nil, err
	}

	der, err := b.session.SignECDSA(keyID, digest)
	if err != nil {
		return nil, ctlerrors.Wrap(ctlerrors.BackendUnavailable, "backend.HSM.SignES256", err).WithRotation(keyID)
	}
	return der, nil
}

func (b *HSM) PubKeyPEM(_ context.Context, keyID string) (string, error) {
	der, err := b.session.PublicKeyDER(keyID)
	if err != nil {
		return "", ctlerrors.Wrap(ctlerrors.BackendUnavailable, "backend.HSM.PubKeyPEM", err).WithRotation(keyID)
	}
	return derToPEM(der), nil
}

func (b *HSM) KeyMetadata(_ context.Context, keyID string) (KeyMetadata, error) {
	created, err := b.session.KeyCreatedAt(keyID)
	if err != nil {
		return KeyMetadata{}, ctlerrors.Wrap(ctlerrors.BackendUnavailable, "backend.HSM.KeyMetadata", err).WithRotation(keyID)
	}
	return KeyMetadata{KeyID: keyID, BackendKind: KindHSM, CreatedAt: created}, nil
}

func (b *HSM) HealthCheck(_ context.Context) (HealthStatus, error) {
	start := time.Now()
	err := b.session.Ping()
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return HealthStatus{Healthy: false, LatencyMS: latency, Detail: err.Error()}, nil
	}
	return HealthStatus{Healthy: true, LatencyMS: latency, Detail: "hsm reachable"}, nil
}

func (b *HSM) BackendKind() Kind {
	return KindHSM
}
