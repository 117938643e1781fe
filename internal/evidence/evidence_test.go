package evidence_test

import (
	"archive/zip"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/signctl/internal/config"
	"github.com/systmms/signctl/internal/evidence"
	"github.com/systmms/signctl/internal/policy"
	"github.com/systmms/signctl/internal/rotationengine"
	"github.com/systmms/signctl/internal/store"
)

type fakeBackend struct {
	kind    string
	priv    *ecdsa.PrivateKey
	pubPEM  string
	signErr error
}

func newFakeBackend(t *testing.T, kind string) *fakeBackend {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	pubPEM := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))

	return &fakeBackend{kind: kind, priv: priv, pubPEM: pubPEM}
}

func (f *fakeBackend) SignES256(_ context.Context, _ string, digest []byte) ([]byte, error) {
	if f.signErr != nil {
		return nil, f.signErr
	}
	return ecdsa.SignASN1(rand.Reader, f.priv, digest)
}

func (f *fakeBackend) PubKeyPEM(_ context.Context, _ string) (string, error) {
	return f.pubPEM, nil
}

func (f *fakeBackend) BackendKind() string { return f.kind }

type fakeResolver struct {
	backend *fakeBackend
}

func (r *fakeResolver) ResolveBackend(_ context.Context, _ string) (evidence.SignBackend, error) {
	return r.backend, nil
}

func seedPolicy(t *testing.T, s store.Store, tenantID, newHandle string) {
	t.Helper()
	p := &policy.Policy{
		TenantID: tenantID,
		Key: policy.KeyRef{
			KeyID:           tenantID + "-key-1",
			Algorithm:       policy.AlgorithmES256,
			BackendKind:     "software",
			Handle:          newHandle,
			NotBefore:       time.Now().Add(-time.Hour),
			NotAfter:        time.Now().Add(365 * 24 * time.Hour),
			RotateEveryDays: 90,
			SignEnabled:     true,
		},
	}
	_, err := p.Seal()
	require.NoError(t, err)
	require.NoError(t, s.UpsertPolicy(context.Background(), p))
}

func baseInputs(tenantID string) rotationengine.EvidencePackInputs {
	return rotationengine.EvidencePackInputs{
		TenantID:     tenantID,
		RotationDate: "2025-09-01",
		OldKeyHandle: "sw-old-handle",
		NewKeyHandle: "sw-new-handle",
		CSRPEM:       "-----BEGIN CERTIFICATE REQUEST-----\nZmFrZQ==\n-----END CERTIFICATE REQUEST-----\n",
		CertPEM:      "-----BEGIN CERTIFICATE-----\nZmFrZQ==\n-----END CERTIFICATE-----\n",
		CertChain:    []string{"-----BEGIN CERTIFICATE-----\nY2hhaW4=\n-----END CERTIFICATE-----\n"},
		Canary: []rotationengine.CanaryRecord{
			{AssetURL: "https://example.com/a", OldHash: "aa", NewHash: "bb", VerifyURL: "https://example.com/a", Status: "pass"},
			{AssetURL: "https://example.com/b", OldHash: "cc", NewHash: "dd", VerifyURL: "https://example.com/b", Status: "fail"},
		},
	}
}

func TestBuildPackWritesExpectedFiles(t *testing.T) {
	dir := t.TempDir()
	s := store.NewMemStore()
	seedPolicy(t, s, "acme", "sw-new-handle")

	cfg := config.EvidenceConfig{OutputDirectory: dir}
	b := evidence.NewBuilder(cfg, s, nil, nil)

	hash, err := b.BuildPack(context.Background(), baseInputs("acme"))
	require.NoError(t, err)
	assert.Contains(t, hash, "sha256:")

	packDir := filepath.Join(dir, "acme", "2025-09-01")
	for _, name := range []string{
		"00-policy.json",
		"01-pre-fingerprint.txt",
		"02-csr.pem",
		"02a-new-cert.pem",
		"02b-chain.pem",
		"04-canary.csv",
		"05-rotation-statement.pdf",
		"06-digests.sha256",
		"07-pack.json",
	} {
		_, statErr := os.Stat(filepath.Join(packDir, name))
		assert.NoError(t, statErr, "expected %s to exist", name)
	}

	_, err = os.Stat(filepath.Join(packDir, "03-attestation.json"))
	assert.True(t, os.IsNotExist(err), "attestation should be absent when not configured")

	_, err = os.Stat(packDir + ".zip")
	assert.NoError(t, err, "expected zip archive alongside the pack directory")
}

func TestBuildPackIsDeterministicExcludingAttestation(t *testing.T) {
	dir1, dir2 := t.TempDir(), t.TempDir()

	// Both builders read the same stored policy snapshot.
	s := store.NewMemStore()
	seedPolicy(t, s, "acme", "sw-new-handle")

	b1 := evidence.NewBuilder(config.EvidenceConfig{OutputDirectory: dir1}, s, nil, nil)
	b2 := evidence.NewBuilder(config.EvidenceConfig{OutputDirectory: dir2}, s, nil, nil)

	in := baseInputs("acme")
	hash1, err := b1.BuildPack(context.Background(), in)
	require.NoError(t, err)
	hash2, err := b2.BuildPack(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, hash1, hash2)
}

func TestBuildPackIncludesAttestationForHSMBackend(t *testing.T) {
	dir := t.TempDir()
	s := store.NewMemStore()
	seedPolicy(t, s, "acme", "sw-new-handle")

	resolver := &fakeResolver{backend: newFakeBackend(t, "hsm")}
	cfg := config.EvidenceConfig{OutputDirectory: dir, IncludeAttestation: true}
	b := evidence.NewBuilder(cfg, s, resolver, nil)

	_, err := b.BuildPack(context.Background(), baseInputs("acme"))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "acme", "2025-09-01", "03-attestation.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"backend_kind": "hsm"`)
	assert.Contains(t, string(data), `"verified": true`)
}

func TestBuildPackSkipsAttestationForSoftwareBackend(t *testing.T) {
	dir := t.TempDir()
	s := store.NewMemStore()
	seedPolicy(t, s, "acme", "sw-new-handle")

	resolver := &fakeResolver{backend: newFakeBackend(t, "software")}
	cfg := config.EvidenceConfig{OutputDirectory: dir, IncludeAttestation: true}
	b := evidence.NewBuilder(cfg, s, resolver, nil)

	_, err := b.BuildPack(context.Background(), baseInputs("acme"))
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(dir, "acme", "2025-09-01", "03-attestation.json"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestBuildPackSignsWhenConfigured(t *testing.T) {
	dir := t.TempDir()
	s := store.NewMemStore()
	seedPolicy(t, s, "acme", "sw-new-handle")

	resolver := &fakeResolver{backend: newFakeBackend(t, "kms")}
	cfg := config.EvidenceConfig{OutputDirectory: dir, SignWithOpsKey: true, OpsKeyID: "ops-key-1"}
	b := evidence.NewBuilder(cfg, s, resolver, nil)

	_, err := b.BuildPack(context.Background(), baseInputs("acme"))
	require.NoError(t, err)

	sig, err := os.ReadFile(filepath.Join(dir, "acme", "2025-09-01", "07-pack.signature"))
	require.NoError(t, err)
	assert.NotEmpty(t, sig)
}

func TestBuildPackZipContainsAllFiles(t *testing.T) {
	dir := t.TempDir()
	s := store.NewMemStore()
	seedPolicy(t, s, "acme", "sw-new-handle")

	b := evidence.NewBuilder(config.EvidenceConfig{OutputDirectory: dir}, s, nil, nil)
	_, err := b.BuildPack(context.Background(), baseInputs("acme"))
	require.NoError(t, err)

	zr, err := zip.OpenReader(filepath.Join(dir, "acme", "2025-09-01.zip"))
	require.NoError(t, err)
	defer zr.Close()

	assert.GreaterOrEqual(t, len(zr.File), 8)
}

func TestBuildPackRejectsMissingOutputDirectory(t *testing.T) {
	s := store.NewMemStore()
	seedPolicy(t, s, "acme", "sw-new-handle")

	b := evidence.NewBuilder(config.EvidenceConfig{}, s, nil, nil)
	_, err := b.BuildPack(context.Background(), baseInputs("acme"))
	assert.Error(t, err)
}
