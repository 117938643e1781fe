// Package ca implements a self-signed internal certificate authority that
// the rotation engine submits tenant CSRs to when no external CA is
// configured, following the same template-and-sign shape the teacher's
// certificate adapter uses for its self-signed handler.
package ca

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"time"

	"github.com/systmms/signctl/internal/ctlerrors"
)

// SelfSigned issues certificates against an in-process root, signed with
// its own ECDSA key. It exists for development and single-node
// deployments; production deployments are expected to swap in an
// external CertAuthority collaborator.
type SelfSigned struct {
	rootKey  *ecdsa.PrivateKey
	rootCert *x509.Certificate
	rootPEM  string
	validFor time.Duration
}

// NewSelfSigned mints a fresh root key and self-signed root certificate
// valid for rootValidity, used to sign every CSR this instance issues
// for validFor.
func NewSelfSigned(rootValidity, validFor time.Duration) (*SelfSigned, error) {
	const op = "ca.NewSelfSigned"

	rootKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, ctlerrors.Wrap(ctlerrors.Crypto, op, err)
	}

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{CommonName: "signctl internal root"},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(rootValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &rootKey.PublicKey, rootKey)
	if err != nil {
		return nil, ctlerrors.Wrap(ctlerrors.Crypto, op, err)
	}
	rootCert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, ctlerrors.Wrap(ctlerrors.Crypto, op, err)
	}

	rootPEM := string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))

	return &SelfSigned{
		rootKey:  rootKey,
		rootCert: rootCert,
		rootPEM:  rootPEM,
		validFor: validFor,
	}, nil
}

// IssueCertificate implements rotationengine.CertAuthority: it parses the
// PEM-encoded CSR, verifies its self-signature, and signs a leaf
// certificate over the root. The returned chain is the root certificate
// alone.
func (s *SelfSigned) IssueCertificate(_ context.Context, tenantID, csrPEM string) (string, []string, error) {
	const op = "ca.SelfSigned.IssueCertificate"

	block, _ := pem.Decode([]byte(csrPEM))
	if block == nil || block.Type != "CERTIFICATE REQUEST" {
		return "", nil, ctlerrors.New(ctlerrors.InvalidInput, op, "csr is not a PEM certificate request").WithTenant(tenantID)
	}
	csr, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return "", nil, ctlerrors.Wrap(ctlerrors.InvalidInput, op, err).WithTenant(tenantID)
	}
	if err := csr.CheckSignature(); err != nil {
		return "", nil, ctlerrors.Wrap(ctlerrors.InvalidInput, op, err).WithTenant(tenantID)
	}

	template := &x509.Certificate{
		SerialNumber:       big.NewInt(time.Now().UnixNano()),
		Subject:            csr.Subject,
		NotBefore:          time.Now().Add(-time.Minute),
		NotAfter:           time.Now().Add(s.validFor),
		KeyUsage:           x509.KeyUsageDigitalSignature,
		ExtKeyUsage:        []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		SignatureAlgorithm: x509.ECDSAWithSHA256,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, s.rootCert, csr.PublicKey, s.rootKey)
	if err != nil {
		return "", nil, ctlerrors.Wrap(ctlerrors.Crypto, op, err).WithTenant(tenantID)
	}

	certPEM := string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
	return certPEM, []string{s.rootPEM}, nil
}

// RootPEM returns the PEM-encoded root certificate, for operators who
// need to distribute trust for the internal CA out of band.
func (s *SelfSigned) RootPEM() string { return s.rootPEM }
