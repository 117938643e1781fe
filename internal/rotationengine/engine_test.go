package rotationengine_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/signctl/internal/config"
	"github.com/systmms/signctl/internal/logging"
	"github.com/systmms/signctl/internal/policy"
	"github.com/systmms/signctl/internal/rotationengine"
	"github.com/systmms/signctl/internal/store"
)

type fakeBackend struct {
	priv      *ecdsa.PrivateKey
	pubPEM    string
	signCount int
	// failAt, when non-zero, makes the failAt-th SignES256 call (1-indexed
	// across the whole rotation) return an error — used to fail exactly
	// at PostCutoverValidation without also failing the earlier canary
	// signs, which share the same method.
	failAt int
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	pubPEM := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
	return &fakeBackend{priv: priv, pubPEM: pubPEM}
}

func (f *fakeBackend) SignES256(_ context.Context, _ string, digest []byte) ([]byte, error) {
	f.signCount++
	if f.failAt != 0 && f.signCount == f.failAt {
		return nil, assertErr("backend offline")
	}
	return ecdsa.SignASN1(rand.Reader, f.priv, digest)
}

func (f *fakeBackend) PubKeyPEM(_ context.Context, _ string) (string, error) {
	return f.pubPEM, nil
}

type fakeResolver struct {
	backend *fakeBackend
}

func (r *fakeResolver) ResolveBackend(context.Context, string) (rotationengine.SignBackend, error) {
	return r.backend, nil
}

type fakeProvisioner struct {
	handle string
}

func (p *fakeProvisioner) ProvisionKey(context.Context, string) (string, error) {
	return p.handle, nil
}

func (p *fakeProvisioner) GenerateCSR(context.Context, string, string) (string, error) {
	return "-----BEGIN CERTIFICATE REQUEST-----\nZmFrZQ==\n-----END CERTIFICATE REQUEST-----\n", nil
}

type fakeProvisionerResolver struct {
	provisioner *fakeProvisioner
}

func (r *fakeProvisionerResolver) ResolveProvisioner(context.Context, string) (rotationengine.KeyProvisioner, error) {
	return r.provisioner, nil
}

type fakeCA struct{}

func (fakeCA) IssueCertificate(context.Context, string, string) (string, []string, error) {
	return "-----BEGIN CERTIFICATE-----\nZmFrZQ==\n-----END CERTIFICATE-----\n",
		[]string{"-----BEGIN CERTIFICATE-----\nY2hhaW4=\n-----END CERTIFICATE-----\n"}, nil
}

type fakeScheduler struct {
	calls int
}

func (f *fakeScheduler) ScheduleNext(context.Context, string, string, time.Time) error {
	f.calls++
	return nil
}

type fakeEvidenceBuilder struct {
	calls  int
	inputs rotationengine.EvidencePackInputs
}

func (f *fakeEvidenceBuilder) BuildPack(_ context.Context, in rotationengine.EvidencePackInputs) (string, error) {
	f.calls++
	f.inputs = in
	return "sha256:deadbeef", nil
}

func seedPolicy(t *testing.T, s store.Store, tenantID, oldHandle string) {
	t.Helper()
	p := &policy.Policy{
		TenantID: tenantID,
		Key: policy.KeyRef{
			KeyID:           tenantID + "-key-1",
			Algorithm:       policy.AlgorithmES256,
			BackendKind:     "software",
			Handle:          oldHandle,
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

func newTestEngine(t *testing.T, be *fakeBackend) (*rotationengine.Engine, store.Store) {
	t.Helper()
	s := store.NewMemStore()
	seedPolicy(t, s, "acme", "sw-old-handle")

	cfg := config.RotationConfig{CanaryCount: 3, RollbackEnabled: true}
	e := rotationengine.NewEngine(
		s,
		&fakeResolver{backend: be},
		&fakeProvisionerResolver{provisioner: &fakeProvisioner{handle: "sw-new-handle"}},
		fakeCA{},
		rotationengine.FixtureSampler{Assets: []rotationengine.CanaryAsset{
			{URL: "https://example.com/a"},
			{URL: "https://example.com/b"},
			{URL: "https://example.com/c"},
		}},
		cfg,
		logging.Nop(),
	)
	return e, s
}

func TestExecuteRotationHappyPath(t *testing.T) {
	be := newFakeBackend(t)
	e, s := newTestEngine(t, be)

	evidence := &fakeEvidenceBuilder{}
	sched := &fakeScheduler{}
	e.SetEvidenceBuilder(evidence)
	e.SetScheduler(sched)

	ctx := context.Background()
	rotationID, err := e.PlanRotation(ctx, "acme", time.Now(), false)
	require.NoError(t, err)

	require.NoError(t, e.ExecuteRotation(ctx, rotationID))

	rec, err := s.GetRotation(ctx, rotationID)
	require.NoError(t, err)
	assert.Equal(t, string(rotationengine.PhaseCompleted), rec.Phase)

	p, err := s.GetPolicy(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "sw-new-handle", p.Key.Handle)

	assert.Equal(t, 1, evidence.calls)
	assert.Equal(t, "sw-new-handle", evidence.inputs.NewKeyHandle)
	assert.Equal(t, "sw-old-handle", evidence.inputs.OldKeyHandle)
	assert.Equal(t, 1, sched.calls)
}

func TestExecuteRotationRollsBackOnPostCutoverFailure(t *testing.T) {
	be := newFakeBackend(t)
	e, s := newTestEngine(t, be)

	ctx := context.Background()
	rotationID, err := e.PlanRotation(ctx, "acme", time.Now(), false)
	require.NoError(t, err)

	be.failAt = 4 // 3 canary signs + the PostCutoverValidation sign

	require.NoError(t, e.ExecuteRotation(ctx, rotationID))

	rec, err := s.GetRotation(ctx, rotationID)
	require.NoError(t, err)
	assert.Equal(t, string(rotationengine.PhaseRolledBack), rec.Phase)

	p, err := s.GetPolicy(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "sw-old-handle", p.Key.Handle, "rollback should restore the previous handle")
}

func TestExecuteRotationFailsWhenRollbackDisabled(t *testing.T) {
	be := newFakeBackend(t)
	s := store.NewMemStore()
	seedPolicy(t, s, "acme", "sw-old-handle")

	cfg := config.RotationConfig{CanaryCount: 3, RollbackEnabled: false}
	e := rotationengine.NewEngine(
		s,
		&fakeResolver{backend: be},
		&fakeProvisionerResolver{provisioner: &fakeProvisioner{handle: "sw-new-handle"}},
		fakeCA{},
		rotationengine.FixtureSampler{Assets: []rotationengine.CanaryAsset{{URL: "https://example.com/a"}}},
		cfg,
		logging.Nop(),
	)

	ctx := context.Background()
	rotationID, err := e.PlanRotation(ctx, "acme", time.Now(), false)
	require.NoError(t, err)

	be.failAt = 2 // 1 canary sign (single fixture asset) + the PostCutoverValidation sign

	err = e.ExecuteRotation(ctx, rotationID)
	assert.Error(t, err)

	rec, err := s.GetRotation(ctx, rotationID)
	require.NoError(t, err)
	assert.Equal(t, string(rotationengine.PhaseFailed), rec.Phase)
}

// recordingSampler reports the count each Sample call asked for.
type recordingSampler struct {
	counts chan int
}

func (s recordingSampler) Sample(_ context.Context, _ string, count int) ([]rotationengine.CanaryAsset, error) {
	s.counts <- count
	return []rotationengine.CanaryAsset{{URL: "https://example.com/a"}}, nil
}

func TestTriggerEmergencyRotationUsesReducedCanaryCount(t *testing.T) {
	be := newFakeBackend(t)
	s := store.NewMemStore()
	seedPolicy(t, s, "acme", "sw-old-handle")

	sampler := recordingSampler{counts: make(chan int, 1)}
	cfg := config.RotationConfig{CanaryCount: 50, RollbackEnabled: true}
	e := rotationengine.NewEngine(
		s,
		&fakeResolver{backend: be},
		&fakeProvisionerResolver{provisioner: &fakeProvisioner{handle: "sw-new-handle"}},
		fakeCA{},
		sampler,
		cfg,
		logging.Nop(),
	)

	rotationID, err := e.TriggerEmergencyRotation(context.Background(), "acme", "suspected key compromise")
	require.NoError(t, err)
	assert.NotEmpty(t, rotationID)

	select {
	case count := <-sampler.counts:
		assert.Equal(t, 10, count, "emergency rotations cap the canary count at 10")
	case <-time.After(5 * time.Second):
		t.Fatal("emergency rotation never reached canary sampling")
	}
}

func TestContextForResumesFromPersistedPhase(t *testing.T) {
	be := newFakeBackend(t)
	s := store.NewMemStore()
	seedPolicy(t, s, "acme", "sw-old-handle")

	cfg := config.RotationConfig{CanaryCount: 3, RollbackEnabled: true}
	e1 := rotationengine.NewEngine(
		s,
		&fakeResolver{backend: be},
		&fakeProvisionerResolver{provisioner: &fakeProvisioner{handle: "sw-new-handle"}},
		fakeCA{},
		rotationengine.FixtureSampler{Assets: []rotationengine.CanaryAsset{{URL: "https://example.com/a"}}},
		cfg,
		logging.Nop(),
	)

	ctx := context.Background()
	rotationID, err := e1.PlanRotation(ctx, "acme", time.Now(), false)
	require.NoError(t, err)

	// Simulate a process restart: a fresh Engine with no in-memory active
	// map, pointed at the same store, must resume from the persisted
	// Scheduled phase rather than erroring on an unknown rotation.
	e2 := rotationengine.NewEngine(
		s,
		&fakeResolver{backend: be},
		&fakeProvisionerResolver{provisioner: &fakeProvisioner{handle: "sw-new-handle"}},
		fakeCA{},
		rotationengine.FixtureSampler{Assets: []rotationengine.CanaryAsset{{URL: "https://example.com/a"}}},
		cfg,
		logging.Nop(),
	)
	require.NoError(t, e2.ExecuteRotation(ctx, rotationID))

	rec, err := s.GetRotation(ctx, rotationID)
	require.NoError(t, err)
	assert.Equal(t, string(rotationengine.PhaseCompleted), rec.Phase)
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

func assertErr(msg string) error { return simpleErr(msg) }
