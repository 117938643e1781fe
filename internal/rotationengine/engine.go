package rotationengine

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/systmms/signctl/internal/config"
	"github.com/systmms/signctl/internal/ctlerrors"
	"github.com/systmms/signctl/internal/logging"
	"github.com/systmms/signctl/internal/notify"
	"github.com/systmms/signctl/internal/store"
)

// postCutoverTestDigest is the fixed SHA-256 digest every rotation signs
// through the new key during PostCutoverValidation, per spec.md §4.2.
var postCutoverTestDigest = sha256.Sum256([]byte("signctl/rotation-engine/post-cutover-check"))

// NewScheduler is the narrow collaborator the Completed phase uses to
// auto-schedule the tenant's next rotation, avoiding a rotationengine ->
// scheduler import cycle (the scheduler already depends on the engine to
// dispatch due rotations).
type NewScheduler interface {
	ScheduleNext(ctx context.Context, tenantID, keyID string, next time.Time) error
}

// Engine drives the rotation state machine described in spec.md §4.2,
// owning the in-memory map of live Contexts the same way
// pkg/rotation/engine.go owns its strategy/storage state, generalized
// from a pluggable-strategy secret rotator into the spec's fixed
// CSR -> issue -> canary -> cutover pipeline.
type Engine struct {
	store        store.Store
	resolver     BackendResolver
	provisioners ProvisionerResolver
	ca           CertAuthority
	sampler      CanarySampler
	evidence     EvidenceBuilder
	scheduler    NewScheduler
	notifier     *notify.Manager
	cfg          config.RotationConfig
	log          *logging.Logger

	mu     sync.RWMutex
	active map[string]*Context
}

// NewEngine builds an Engine. notifier, evidence, and scheduler may be
// nil; the corresponding side effects are skipped.
func NewEngine(
	st store.Store,
	resolver BackendResolver,
	provisioners ProvisionerResolver,
	ca CertAuthority,
	sampler CanarySampler,
	cfg config.RotationConfig,
	log *logging.Logger,
) *Engine {
	if log == nil {
		log = logging.Nop()
	}
	return &Engine{
		store:        st,
		resolver:     resolver,
		provisioners: provisioners,
		ca:           ca,
		sampler:      sampler,
		cfg:          cfg,
		log:          log,
		active:       make(map[string]*Context),
	}
}

// SetNotifier wires the notification manager used for optional webhook
// events on completion and failure.
func (e *Engine) SetNotifier(n *notify.Manager) { e.notifier = n }

// SetEvidenceBuilder wires the REP builder invoked from the Completed
// phase.
func (e *Engine) SetEvidenceBuilder(b EvidenceBuilder) { e.evidence = b }

// SetScheduler wires the collaborator used to auto-schedule the tenant's
// next rotation after Completed.
func (e *Engine) SetScheduler(s NewScheduler) { e.scheduler = s }

// PlanRotation records a new rotation for tenantID against its current
// policy key and returns the rotation_id the caller (scheduler or
// operator) will later pass to ExecuteRotation.
func (e *Engine) PlanRotation(ctx context.Context, tenantID string, scheduledTime time.Time, emergency bool) (string, error) {
	const op = "rotationengine.PlanRotation"

	p, err := e.store.GetPolicy(ctx, tenantID)
	if err != nil {
		return "", ctlerrors.Wrap(ctlerrors.BackendUnavailable, op, err).WithTenant(tenantID)
	}
	if p.Key.KeyID == "" {
		return "", ctlerrors.New(ctlerrors.Policy, op, "tenant has no signing key to rotate").WithTenant(tenantID)
	}
	key := p.Key

	rotationID := uuid.NewString()
	now := time.Now()

	rec := &store.RotationRecord{
		RotationID:   rotationID,
		TenantID:     tenantID,
		KeyID:        key.KeyID,
		Phase:        string(PhaseScheduled),
		ScheduledFor: scheduledTime,
		Emergency:    emergency,
	}
	if err := e.store.ScheduleRotation(ctx, rec); err != nil {
		return "", ctlerrors.Wrap(ctlerrors.BackendUnavailable, op, err).WithTenant(tenantID)
	}

	rc := &Context{
		RotationID:    rotationID,
		TenantID:      tenantID,
		ScheduledTime: scheduledTime,
		Emergency:     emergency,
		Phase:         PhaseScheduled,
		OldKeyHandle:  key.Handle,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	e.mu.Lock()
	e.active[rotationID] = rc
	e.mu.Unlock()

	return rotationID, nil
}

// TriggerEmergencyRotation implements incident.RotationTrigger: it plans
// and immediately executes a rotation with reduced canary count and no
// approval gate (spec.md §4.2 "Emergency rotation is the same state
// machine with reduced canary_count..."), running ExecuteRotation in the
// background so the incident engine's auto-response path never blocks on
// a full rotation.
func (e *Engine) TriggerEmergencyRotation(ctx context.Context, tenantID, reason string) (string, error) {
	rotationID, err := e.PlanRotation(ctx, tenantID, time.Now(), true)
	if err != nil {
		return "", err
	}

	e.log.WithTenant(tenantID).WithRotation(rotationID).Infow("emergency rotation triggered", "reason", reason)

	go func() {
		bgCtx := context.Background()
		if err := e.ExecuteRotation(bgCtx, rotationID); err != nil {
			e.log.WithTenant(tenantID).WithRotation(rotationID).Errorw("emergency rotation failed", "error", err)
		}
	}()

	return rotationID, nil
}

// contextFor returns the live Context for rotationID, reconstructing a
// fresh one from the persisted RotationRecord if the engine process
// restarted since the rotation was planned (spec.md §4.2's retry-safety
// requirement: "the engine resumes from the persisted phase").
func (e *Engine) contextFor(ctx context.Context, rotationID string) (*Context, error) {
	e.mu.RLock()
	rc, ok := e.active[rotationID]
	e.mu.RUnlock()
	if ok {
		return rc, nil
	}

	rec, err := e.store.GetRotation(ctx, rotationID)
	if err != nil {
		return nil, err
	}

	p, err := e.store.GetPolicy(ctx, rec.TenantID)
	if err != nil {
		return nil, err
	}
	var oldHandle string
	if p.Key.KeyID == rec.KeyID {
		oldHandle = p.Key.Handle
	}

	rc = &Context{
		RotationID:    rotationID,
		TenantID:      rec.TenantID,
		ScheduledTime: rec.ScheduledFor,
		Emergency:     rec.Emergency,
		Phase:         Phase(rec.Phase),
		OldKeyHandle:  oldHandle,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}

	e.mu.Lock()
	e.active[rotationID] = rc
	e.mu.Unlock()
	return rc, nil
}

// ExecuteRotation resumes rotationID from its persisted phase and drives
// it forward until it reaches a terminal phase. Re-running it after a
// crash mid-phase is safe: every phase is idempotent or guarded by the
// store's per-tenant linearization (spec.md §8 round-trip property).
func (e *Engine) ExecuteRotation(ctx context.Context, rotationID string) error {
	rc, err := e.contextFor(ctx, rotationID)
	if err != nil {
		return err
	}

	for !rc.Phase.IsTerminal() {
		next, stepErr := e.step(ctx, rc)
		if stepErr != nil {
			rc.Error = stepErr.Error()
			next = PhaseFailed
			e.log.WithTenant(rc.TenantID).WithRotation(rc.RotationID).Errorw("rotation phase failed", "phase", rc.Phase, "error", stepErr)
		}

		if transErr := checkTransition("rotationengine.ExecuteRotation", rc.Phase, next); transErr != nil {
			rc.Error = transErr.Error()
			next = PhaseFailed
			stepErr = transErr
		}

		rc.Phase = next
		rc.touch()

		if persistErr := e.store.UpdateRotationPhase(ctx, rotationID, string(next)); persistErr != nil {
			e.log.WithTenant(rc.TenantID).WithRotation(rotationID).Errorw("failed to persist rotation phase", "phase", next, "error", persistErr)
		}

		if next == PhaseFailed {
			e.onFailed(ctx, rc)
			return stepErr
		}
		if next == PhaseRolledBack {
			e.onRolledBack(ctx, rc)
			return nil
		}
		if next == PhaseCompleted {
			e.onCompleted(ctx, rc)
			return nil
		}
	}
	return nil
}

// step executes the work for rc's current phase and returns the phase to
// transition to next.
func (e *Engine) step(ctx context.Context, rc *Context) (Phase, error) {
	switch rc.Phase {
	case PhaseScheduled:
		return e.prepare(ctx, rc)
	case PhasePreparing:
		return e.generateCSR(ctx, rc)
	case PhaseGeneratingCSR:
		return e.issueCertificate(ctx, rc)
	case PhaseIssuingCertificate:
		return e.canaryTest(ctx, rc)
	case PhaseCanaryTesting:
		return e.readyForCutover(ctx, rc)
	case PhaseReadyForCutover:
		return e.cutOver(ctx, rc)
	case PhaseCuttingOver:
		return PhasePostCutoverValidation, nil
	case PhasePostCutoverValidation:
		return e.postCutoverValidate(ctx, rc)
	default:
		return PhaseFailed, ctlerrors.New(ctlerrors.StateMachine, "rotationengine.step", "no work defined for phase "+string(rc.Phase)).
			WithTenant(rc.TenantID).WithRotation(rc.RotationID)
	}
}

// prepare is the Preparing transition: reject a rotation running more
// than 7 days before its scheduled time; a late run is permitted but
// logged; verify the current key is reachable.
func (e *Engine) prepare(ctx context.Context, rc *Context) (Phase, error) {
	const op = "rotationengine.Preparing"

	earliest := rc.ScheduledTime.Add(-7 * 24 * time.Hour)
	now := time.Now()
	if now.Before(earliest) {
		return rc.Phase, ctlerrors.New(ctlerrors.InvalidInput, op, "rotation window has not opened: more than 7 days before scheduled time").
			WithTenant(rc.TenantID).WithRotation(rc.RotationID)
	}
	if now.After(rc.ScheduledTime) {
		e.log.WithTenant(rc.TenantID).WithRotation(rc.RotationID).Warnw("rotation starting after its scheduled time", "scheduled", rc.ScheduledTime)
	}

	be, err := e.resolver.ResolveBackend(ctx, rc.TenantID)
	if err != nil {
		return rc.Phase, ctlerrors.Wrap(ctlerrors.BackendUnavailable, op, err).WithTenant(rc.TenantID).WithRotation(rc.RotationID)
	}
	if _, err := be.PubKeyPEM(ctx, rc.OldKeyHandle); err != nil {
		return rc.Phase, ctlerrors.Wrap(ctlerrors.BackendUnavailable, op, err).WithTenant(rc.TenantID).WithRotation(rc.RotationID)
	}

	return PhasePreparing, nil
}

// generateCSR is the GeneratingCSR transition: provision a new key handle
// and produce a CSR for it.
func (e *Engine) generateCSR(ctx context.Context, rc *Context) (Phase, error) {
	const op = "rotationengine.GeneratingCSR"

	provisioner, err := e.provisioners.ResolveProvisioner(ctx, rc.TenantID)
	if err != nil {
		return rc.Phase, ctlerrors.Wrap(ctlerrors.BackendUnavailable, op, err).WithTenant(rc.TenantID).WithRotation(rc.RotationID)
	}

	handle, err := provisioner.ProvisionKey(ctx, rc.TenantID)
	if err != nil {
		return rc.Phase, ctlerrors.Wrap(ctlerrors.BackendUnavailable, op, err).WithTenant(rc.TenantID).WithRotation(rc.RotationID)
	}

	csr, err := provisioner.GenerateCSR(ctx, handle, rc.TenantID)
	if err != nil {
		return rc.Phase, ctlerrors.Wrap(ctlerrors.Crypto, op, err).WithTenant(rc.TenantID).WithRotation(rc.RotationID)
	}

	rc.NewKeyHandle = handle
	rc.CSRPEM = csr
	return PhaseGeneratingCSR, nil
}

// issueCertificate is the IssuingCertificate transition: submit the CSR
// to the configured CA and store the returned chain.
func (e *Engine) issueCertificate(ctx context.Context, rc *Context) (Phase, error) {
	const op = "rotationengine.IssuingCertificate"

	if e.ca == nil {
		return rc.Phase, ctlerrors.New(ctlerrors.BackendUnavailable, op, "no certificate authority configured").
			WithTenant(rc.TenantID).WithRotation(rc.RotationID)
	}

	certPEM, chainPEM, err := e.ca.IssueCertificate(ctx, rc.TenantID, rc.CSRPEM)
	if err != nil {
		return rc.Phase, ctlerrors.Wrap(ctlerrors.BackendUnavailable, op, err).WithTenant(rc.TenantID).WithRotation(rc.RotationID)
	}

	rc.NewCertPEM = certPEM
	rc.CertChain = chainPEM
	return PhaseIssuingCertificate, nil
}

// canaryCount returns the configured sample size, or 3 when none is
// configured. canaryTest caps it at 10 for emergency rotations.
func (e *Engine) canaryCount() int {
	if e.cfg.CanaryCount <= 0 {
		return 3
	}
	return e.cfg.CanaryCount
}

// canaryTest is the CanaryTesting transition: sign a sample of assets
// with the new handle and check both that the new signature verifies
// under the new public key and that the asset's old signature still
// verifies under the old public key (spec.md §9: the source's
// unconditional-true check is a defect to fix here).
func (e *Engine) canaryTest(ctx context.Context, rc *Context) (Phase, error) {
	const op = "rotationengine.CanaryTesting"

	count := e.canaryCount()
	if rc.Emergency && count > 10 {
		count = 10
	}

	if e.sampler == nil {
		return rc.Phase, ctlerrors.New(ctlerrors.BackendUnavailable, op, "no canary sampler configured").
			WithTenant(rc.TenantID).WithRotation(rc.RotationID)
	}
	assets, err := e.sampler.Sample(ctx, rc.TenantID, count)
	if err != nil {
		return rc.Phase, ctlerrors.Wrap(ctlerrors.BackendUnavailable, op, err).WithTenant(rc.TenantID).WithRotation(rc.RotationID)
	}

	be, err := e.resolver.ResolveBackend(ctx, rc.TenantID)
	if err != nil {
		return rc.Phase, ctlerrors.Wrap(ctlerrors.BackendUnavailable, op, err).WithTenant(rc.TenantID).WithRotation(rc.RotationID)
	}

	newPub, err := be.PubKeyPEM(ctx, rc.NewKeyHandle)
	if err != nil {
		return rc.Phase, ctlerrors.Wrap(ctlerrors.Crypto, op, err).WithTenant(rc.TenantID).WithRotation(rc.RotationID)
	}
	oldPub, err := be.PubKeyPEM(ctx, rc.OldKeyHandle)
	if err != nil {
		return rc.Phase, ctlerrors.Wrap(ctlerrors.Crypto, op, err).WithTenant(rc.TenantID).WithRotation(rc.RotationID)
	}

	deadline, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	results := make([]CanaryResult, 0, len(assets))
	for _, asset := range assets {
		result := e.canaryOne(deadline, be, rc.NewKeyHandle, newPub, oldPub, asset)
		results = append(results, result)
	}
	rc.CanaryResults = results

	var verified int
	for _, r := range results {
		if r.Verified {
			verified++
		}
	}

	e.log.WithTenant(rc.TenantID).WithRotation(rc.RotationID).Infow("canary testing complete",
		"verified", verified, "total", len(results))

	return PhaseCanaryTesting, nil
}

func (e *Engine) canaryOne(ctx context.Context, be SignBackend, newHandle, newPubPEM, oldPubPEM string, asset CanaryAsset) CanaryResult {
	digest := sha256.Sum256([]byte(asset.URL))

	start := time.Now()
	newSig, err := be.SignES256(ctx, newHandle, digest[:])
	timing := time.Since(start).Milliseconds()
	if err != nil {
		return CanaryResult{URL: asset.URL, OldSig: asset.OldSig, TimingMS: timing, Error: err.Error()}
	}

	newOK, err := verifyDER(newPubPEM, digest[:], newSig)
	if err != nil {
		return CanaryResult{URL: asset.URL, OldSig: asset.OldSig, NewSig: newSig, TimingMS: timing, Error: err.Error()}
	}

	oldOK := true
	if len(asset.OldSig) > 0 {
		oldOK, err = verifyDER(oldPubPEM, digest[:], asset.OldSig)
		if err != nil {
			oldOK = false
		}
	}

	return CanaryResult{
		URL:      asset.URL,
		OldSig:   asset.OldSig,
		NewSig:   newSig,
		Verified: newOK && oldOK,
		TimingMS: timing,
	}
}

// canarySuccessThreshold is the minimum verified/total ratio required to
// proceed past CanaryTesting (spec.md §4.2 and §8 boundary behavior: 0.95
// proceeds, below fails).
const canarySuccessThreshold = 0.95

// readyForCutover is the ReadyForCutover gate: proceed only if at least
// 95% of canary samples verified.
func (e *Engine) readyForCutover(ctx context.Context, rc *Context) (Phase, error) {
	const op = "rotationengine.ReadyForCutover"

	total := len(rc.CanaryResults)
	if total == 0 {
		return rc.Phase, ctlerrors.New(ctlerrors.StateMachine, op, "no canary results to evaluate").
			WithTenant(rc.TenantID).WithRotation(rc.RotationID)
	}

	var verified int
	for _, r := range rc.CanaryResults {
		if r.Verified {
			verified++
		}
	}

	ratio := float64(verified) / float64(total)
	if ratio < canarySuccessThreshold {
		return rc.Phase, ctlerrors.New(ctlerrors.Crypto, op, fmt.Sprintf("canary success ratio %.4f below threshold %.2f", ratio, canarySuccessThreshold)).
			WithTenant(rc.TenantID).WithRotation(rc.RotationID)
	}

	return PhaseReadyForCutover, nil
}

// cutOver is the CuttingOver transition: atomically swap the tenant's key
// handle and certificate chain and recompute policy_hash.
func (e *Engine) cutOver(ctx context.Context, rc *Context) (Phase, error) {
	const op = "rotationengine.CuttingOver"
	start := time.Now()

	p, err := e.store.GetPolicy(ctx, rc.TenantID)
	if err != nil {
		return rc.Phase, ctlerrors.Wrap(ctlerrors.BackendUnavailable, op, err).WithTenant(rc.TenantID).WithRotation(rc.RotationID)
	}

	if p.Key.Handle != rc.OldKeyHandle {
		return rc.Phase, ctlerrors.New(ctlerrors.Conflict, op, "old key handle no longer present on policy; concurrent mutation?").
			WithTenant(rc.TenantID).WithRotation(rc.RotationID)
	}

	rc.previousKey = p.Key

	p.Key.Handle = rc.NewKeyHandle
	if len(rc.CertChain) > 0 {
		p.Key.CertChain = rc.CertChain
	}

	if _, err := p.Seal(); err != nil {
		return rc.Phase, ctlerrors.Wrap(ctlerrors.Crypto, op, err).WithTenant(rc.TenantID).WithRotation(rc.RotationID)
	}
	if err := e.store.UpsertPolicy(ctx, p); err != nil {
		return rc.Phase, ctlerrors.Wrap(ctlerrors.BackendUnavailable, op, err).WithTenant(rc.TenantID).WithRotation(rc.RotationID)
	}

	rc.CutoverMetrics.CutoverDurationMS = time.Since(start).Milliseconds()
	return PhaseCuttingOver, nil
}

// postCutoverValidate is the PostCutoverValidation transition: sign the
// fixed test digest through the new policy. On failure, roll back to the
// previous handle if enabled; otherwise fail.
func (e *Engine) postCutoverValidate(ctx context.Context, rc *Context) (Phase, error) {
	const op = "rotationengine.PostCutoverValidation"

	be, err := e.resolver.ResolveBackend(ctx, rc.TenantID)
	if err != nil {
		return e.failOrRollback(ctx, rc, ctlerrors.Wrap(ctlerrors.BackendUnavailable, op, err))
	}

	sig, err := be.SignES256(ctx, rc.NewKeyHandle, postCutoverTestDigest[:])
	if err != nil {
		return e.failOrRollback(ctx, rc, ctlerrors.Wrap(ctlerrors.Crypto, op, err))
	}

	pubPEM, err := be.PubKeyPEM(ctx, rc.NewKeyHandle)
	if err != nil {
		return e.failOrRollback(ctx, rc, ctlerrors.Wrap(ctlerrors.Crypto, op, err))
	}

	ok, err := verifyDER(pubPEM, postCutoverTestDigest[:], sig)
	if err != nil || !ok {
		return e.failOrRollback(ctx, rc, ctlerrors.New(ctlerrors.Crypto, op, "post-cutover signature failed to verify").
			WithTenant(rc.TenantID).WithRotation(rc.RotationID))
	}

	return PhaseCompleted, nil
}

// failOrRollback implements PostCutoverValidation's failure branch: if
// rollback is enabled, restore the prior key handle through the same
// atomic store path and move to RolledBack; otherwise Failed.
func (e *Engine) failOrRollback(ctx context.Context, rc *Context, cause error) (Phase, error) {
	if !e.cfg.RollbackEnabled {
		return PhaseFailed, cause
	}

	p, err := e.store.GetPolicy(ctx, rc.TenantID)
	if err != nil {
		return PhaseFailed, cause
	}
	if p.Key.Handle == rc.NewKeyHandle {
		p.Key = rc.previousKey
	}
	if _, err := p.Seal(); err == nil {
		_ = e.store.UpsertPolicy(ctx, p)
	}

	e.log.WithTenant(rc.TenantID).WithRotation(rc.RotationID).Warnw("post-cutover validation failed, rolled back", "cause", cause)
	return PhaseRolledBack, nil
}

// onFailed marks the tenant's non-terminal calendar entry Failed so a
// rotation that errors out of the state machine doesn't leave the
// calendar stuck InProgress forever (spec.md §8 scenario S2).
func (e *Engine) onFailed(ctx context.Context, rc *Context) {
	entries, err := e.store.GetCalendarEntries(ctx, rc.TenantID)
	if err == nil {
		for _, entry := range entries {
			if !entry.IsTerminal() {
				entry.Status = store.CalendarStatusFailed
				if uerr := e.store.UpsertCalendarEntry(ctx, entry); uerr != nil {
					e.log.WithTenant(rc.TenantID).WithRotation(rc.RotationID).Errorw("failed to mark calendar entry failed", "error", uerr)
				}
				break
			}
		}
	}

	e.publish(notify.EventTypeFailed, rc, notify.StatusFailure)
}

// onRolledBack marks the tenant's non-terminal calendar entry Failed, same
// as onFailed: a rollback is still a rotation that did not reach
// Completed, and the calendar has no separate rolled-back status.
func (e *Engine) onRolledBack(ctx context.Context, rc *Context) {
	entries, err := e.store.GetCalendarEntries(ctx, rc.TenantID)
	if err == nil {
		for _, entry := range entries {
			if !entry.IsTerminal() {
				entry.Status = store.CalendarStatusFailed
				if uerr := e.store.UpsertCalendarEntry(ctx, entry); uerr != nil {
					e.log.WithTenant(rc.TenantID).WithRotation(rc.RotationID).Errorw("failed to mark calendar entry failed after rollback", "error", uerr)
				}
				break
			}
		}
	}

	e.publish(notify.EventTypeRollback, rc, notify.StatusRolledBack)
}

// onCompleted finalizes a successful rotation: marks the calendar entry
// Completed (the source's defect this spec fixes per spec.md §9), emits
// an evidence pack, sends the completion notification, and auto-schedules
// the tenant's next rotation.
func (e *Engine) onCompleted(ctx context.Context, rc *Context) {
	entries, err := e.store.GetCalendarEntries(ctx, rc.TenantID)
	if err == nil {
		for _, entry := range entries {
			if !entry.IsTerminal() {
				entry.Status = store.CalendarStatusCompleted
				if uerr := e.store.UpsertCalendarEntry(ctx, entry); uerr != nil {
					e.log.WithTenant(rc.TenantID).WithRotation(rc.RotationID).Errorw("failed to mark calendar entry completed", "error", uerr)
				}
				break
			}
		}
	}

	if e.evidence != nil {
		rotationDate := time.Now().UTC().Format("2006-01-02")
		inputs := EvidencePackInputs{
			TenantID:     rc.TenantID,
			RotationDate: rotationDate,
			OldKeyHandle: rc.previousKey.Handle,
			NewKeyHandle: rc.NewKeyHandle,
			CSRPEM:       rc.CSRPEM,
			CertPEM:      rc.NewCertPEM,
			CertChain:    rc.CertChain,
			Canary:       canaryRecords(rc.CanaryResults),
		}
		if _, err := e.evidence.BuildPack(ctx, inputs); err != nil {
			e.log.WithTenant(rc.TenantID).WithRotation(rc.RotationID).Errorw("evidence pack build failed", "error", err)
		}
	}

	e.publish(notify.EventTypeCompleted, rc, notify.StatusSuccess)

	if e.scheduler != nil {
		p, err := e.store.GetPolicy(ctx, rc.TenantID)
		if err == nil && p.Key.KeyID != "" {
			next := time.Now().AddDate(0, 0, p.Key.RotateEveryDays)
			keyID := p.Key.KeyID
			if err := e.scheduler.ScheduleNext(ctx, rc.TenantID, keyID, next); err != nil {
				e.log.WithTenant(rc.TenantID).Errorw("failed to auto-schedule next rotation", "error", err)
			}
		}
	}
}

// canaryRecords projects CanaryTesting results into the evidence pack's
// CSV row shape: a hex digest standing in for each signature rather than
// the raw bytes, since the evidence file records what was checked, not
// the key material itself.
func canaryRecords(results []CanaryResult) []CanaryRecord {
	rows := make([]CanaryRecord, 0, len(results))
	for _, r := range results {
		status := "fail"
		if r.Verified {
			status = "pass"
		}
		rows = append(rows, CanaryRecord{
			AssetURL:  r.URL,
			OldHash:   hexDigest(r.OldSig),
			NewHash:   hexDigest(r.NewSig),
			VerifyURL: r.URL,
			Status:    status,
		})
	}
	return rows
}

func hexDigest(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	sum := sha256.Sum256(b)
	return fmt.Sprintf("%x", sum)
}

func (e *Engine) publish(t notify.EventType, rc *Context, status notify.RotationStatus) {
	if e.notifier == nil {
		return
	}
	e.notifier.Send(notify.Event{
		Type:       t,
		TenantID:   rc.TenantID,
		RotationID: rc.RotationID,
		Status:     status,
		Timestamp:  time.Now(),
	})
}
