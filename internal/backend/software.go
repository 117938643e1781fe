package backend

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"sync"
	"time"

	"github.com/awnumar/memguard"

	"github.com/systmms/signctl/internal/ctlerrors"
)

// Software is a SignBackend whose private key material lives only in
// process memory, protected by memguard so it never lands in a core dump
// or gets paged to swap. It exists for development and for tenants whose
// policy doesn't require a cloud KMS or HSM.
type Software struct {
	mu   sync.RWMutex
	keys map[string]*memguard.Enclave
	pub  map[string]*ecdsa.PublicKey
	meta map[string]KeyMetadata
}

// NewSoftware returns an empty Software backend.
func NewSoftware() *Software {
	return &Software{
		keys: make(map[string]*memguard.Enclave),
		pub:  make(map[string]*ecdsa.PublicKey),
		meta: make(map[string]KeyMetadata),
	}
}

// GenerateKey creates a new ECDSA-P256 key for keyID, sealing the private
// key into a memguard enclave. It is the software-backend analogue of a
// KMS CreateKey call.
func (b *Software) GenerateKey(keyID string) error {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return ctlerrors.Wrap(ctlerrors.Crypto, "backend.Software.GenerateKey", err)
	}

	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return ctlerrors.Wrap(ctlerrors.Crypto, "backend.Software.GenerateKey", err)
	}

	buf := memguard.NewBufferFromBytes(der)
	enclave := buf.Seal()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.keys[keyID] = enclave
	b.pub[keyID] = &priv.PublicKey
	b.meta[keyID] = KeyMetadata{KeyID: keyID, BackendKind: KindSoftware, CreatedAt: time.Now()}
	return nil
}

func (b *Software) privateKey(keyID string) (*ecdsa.PrivateKey, error) {
	b.mu.RLock()
	enclave, ok := b.keys[keyID]
	b.mu.RUnlock()
	if !ok {
		return nil, ctlerrors.New(ctlerrors.NotFound, "backend.Software", "no such key").WithRotation(keyID)
	}

	buf, err := enclave.Open()
	if err != nil {
		return nil, ctlerrors.Wrap(ctlerrors.Crypto, "backend.Software", err)
	}
	defer buf.Destroy()

	key, err := x509.ParsePKCS8PrivateKey(buf.Bytes())
	if err != nil {
		return nil, ctlerrors.Wrap(ctlerrors.Crypto, "backend.Software", err)
	}
	priv, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, ctlerrors.New(ctlerrors.Crypto, "backend.Software", "key is not ECDSA")
	}
	return priv, nil
}

func (b *Software) SignES256(_ context.Context, keyID string, digest []byte) ([]byte, error) {
	if err := requireDigest(digest); err != nil {
		return nil, err
	}

	priv, err := b.privateKey(keyID)
	if err != nil {
		return nil, err
	}

	r, s, err := ecdsa.Sign(rand.Reader, priv, digest)
	if err != nil {
		return nil, ctlerrors.Wrap(ctlerrors.Crypto, "backend.Software.SignES256", err)
	}
	return encodeDER(r, s)
}

func (b *Software) PubKeyPEM(_ context.Context, keyID string) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	pub, ok := b.pub[keyID]
	if !ok {
		return "", ctlerrors.New(ctlerrors.NotFound, "backend.Software.PubKeyPEM", "no such key").WithRotation(keyID)
	}

	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", ctlerrors.Wrap(ctlerrors.Crypto, "backend.Software.PubKeyPEM", err)
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

func (b *Software) KeyMetadata(_ context.Context, keyID string) (KeyMetadata, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	m, ok := b.meta[keyID]
	if !ok {
		return KeyMetadata{}, ctlerrors.New(ctlerrors.NotFound, "backend.Software.KeyMetadata", "no such key").WithRotation(keyID)
	}
	return m, nil
}

// ProvisionKey generates a fresh ECDSA-P256 key and returns its handle.
// It implements rotationengine.KeyProvisioner for the software backend;
// the handle is tenantID followed by "-" and the current UTC time in
// 20060102T150405 form.
func (b *Software) ProvisionKey(_ context.Context, tenantID string) (string, error) {
	handle := tenantID + "-" + time.Now().UTC().Format("20060102T150405")
	if err := b.GenerateKey(handle); err != nil {
		return "", err
	}
	return handle, nil
}

// GenerateCSR produces a PKCS#10 certificate signing request for handle,
// self-signed over its own private key as CSRs require, with commonName
// as the request subject.
func (b *Software) GenerateCSR(_ context.Context, handle, commonName string) (string, error) {
	priv, err := b.privateKey(handle)
	if err != nil {
		return "", err
	}

	template := &x509.CertificateRequest{
		Subject:            pkix.Name{CommonName: commonName},
		SignatureAlgorithm: x509.ECDSAWithSHA256,
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, template, priv)
	if err != nil {
		return "", ctlerrors.Wrap(ctlerrors.Crypto, "backend.Software.GenerateCSR", err)
	}

	block := &pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

func (b *Software) HealthCheck(_ context.Context) (HealthStatus, error) {
	return HealthStatus{Healthy: true, LatencyMS: 0, Detail: "in-process"}, nil
}

func (b *Software) BackendKind() Kind {
	return KindSoftware
}
