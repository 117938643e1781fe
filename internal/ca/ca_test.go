package ca_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/signctl/internal/ca"
)

func generateCSR(t *testing.T, commonName string) string {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.CertificateRequest{
		Subject:            pkix.Name{CommonName: commonName},
		SignatureAlgorithm: x509.ECDSAWithSHA256,
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, template, priv)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der}))
}

func TestSelfSignedIssueCertificateRoundTrips(t *testing.T) {
	authority, err := ca.NewSelfSigned(365*24*time.Hour, 30*24*time.Hour)
	require.NoError(t, err)

	csrPEM := generateCSR(t, "acme-key-1")

	certPEM, chain, err := authority.IssueCertificate(context.Background(), "acme", csrPEM)
	require.NoError(t, err)
	require.Len(t, chain, 1)
	assert.Equal(t, authority.RootPEM(), chain[0])

	leafBlock, _ := pem.Decode([]byte(certPEM))
	require.NotNil(t, leafBlock)
	leaf, err := x509.ParseCertificate(leafBlock.Bytes)
	require.NoError(t, err)
	assert.Equal(t, "acme-key-1", leaf.Subject.CommonName)

	rootBlock, _ := pem.Decode([]byte(authority.RootPEM()))
	root, err := x509.ParseCertificate(rootBlock.Bytes)
	require.NoError(t, err)

	pool := x509.NewCertPool()
	pool.AddCert(root)
	_, err = leaf.Verify(x509.VerifyOptions{Roots: pool, KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}})
	assert.NoError(t, err, "leaf certificate must chain to the issued root")
}

func TestSelfSignedIssueCertificateRejectsMalformedCSR(t *testing.T) {
	authority, err := ca.NewSelfSigned(365*24*time.Hour, 30*24*time.Hour)
	require.NoError(t, err)

	_, _, err = authority.IssueCertificate(context.Background(), "acme", "not a pem csr")
	assert.Error(t, err)
}

func TestSelfSignedIssueCertificateRejectsTamperedCSRSignature(t *testing.T) {
	authority, err := ca.NewSelfSigned(365*24*time.Hour, 30*24*time.Hour)
	require.NoError(t, err)

	csrPEM := generateCSR(t, "acme-key-1")
	block, _ := pem.Decode([]byte(csrPEM))
	block.Bytes[len(block.Bytes)-1] ^= 0xFF
	tampered := string(pem.EncodeToMemory(block))

	_, _, err = authority.IssueCertificate(context.Background(), "acme", tampered)
	assert.Error(t, err)
}
