// Package incident implements the control plane's incident lifecycle and
// automated-response table: detection, pause/resume of signing, emergency
// rotation triggering, backend failover, and the mass re-sign threshold
// gate.
package incident

import (
	"context"
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

// Type enumerates the incident classifications the health monitor and
// backend faults can raise.
type Type string

const (
	TypeKeyCompromise    Type = "KeyCompromise"
	TypeHSMFailure       Type = "HSMFailure"
	TypeBackendOutage    Type = "BackendOutage"
	TypePolicyViolation  Type = "PolicyViolation"
	TypeSecurityAlert    Type = "SecurityAlert"
	TypeComplianceFailure Type = "ComplianceFailure"
)

// Severity orders incidents for the automated-response table.
type Severity string

const (
	SeverityLow      Severity = "Low"
	SeverityMedium   Severity = "Medium"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"
)

// Status values for the incident lifecycle: Active -> Investigating ->
// (Rotating|Resigning) -> Resolved -> Closed.
const (
	StatusActive        = "Active"
	StatusInvestigating = "Investigating"
	StatusRotating      = "Rotating"
	StatusResigning     = "Resigning"
	StatusResolved      = "Resolved"
	StatusClosed        = "Closed"
)

// RotationTrigger lets the incident engine force an out-of-band rotation
// without depending on the rotation engine package directly.
type RotationTrigger interface {
	TriggerEmergencyRotation(ctx context.Context, tenantID, reason string) (rotationID string, err error)
}

// BackendFailover lets the incident engine move a tenant's signing traffic
// to a backup backend without owning backend wiring itself.
type BackendFailover interface {
	FailoverToKMS(ctx context.Context, tenantID string) error
	FailoverToPeer(ctx context.Context, tenantID string) error
}

// AssetInventory resolves the blast radius of a mass re-sign and carries
// out the re-sign once the threshold gate clears. Enumerating and
// re-signing affected assets is entirely outside the incident engine's
// ownership; it only decides whether the count clears the gate.
type AssetInventory interface {
	AffectedAssetCount(ctx context.Context, tenantID, incidentID string) (int, error)
	MassResign(ctx context.Context, tenantID, incidentID string) error
}

// ErrInventoryUnconfigured is returned by the default AssetInventory when
// no real collaborator has been wired in.
var ErrInventoryUnconfigured = ctlerrors.New(ctlerrors.BackendUnavailable, "incident.MassResign", "no asset inventory collaborator configured")

type unconfiguredInventory struct{}

func (unconfiguredInventory) AffectedAssetCount(context.Context, string, string) (int, error) {
	return 0, ErrInventoryUnconfigured
}

func (unconfiguredInventory) MassResign(context.Context, string, string) error {
	return ErrInventoryUnconfigured
}

// Engine owns the live active-incident counters and drives detection,
// response, and resolution against the Store.
type Engine struct {
	store    store.Store
	notifier *notify.Manager
	cfg      config.IncidentConfig
	log      *logging.Logger

	rotation  RotationTrigger
	failover  BackendFailover
	inventory AssetInventory

	mu     sync.RWMutex
	active map[string]int
}

// NewEngine builds an Engine. notifier may be nil, in which case incident
// lifecycle events are not published anywhere.
func NewEngine(st store.Store, notifier *notify.Manager, cfg config.IncidentConfig, log *logging.Logger) *Engine {
	if log == nil {
		log = logging.Nop()
	}
	return &Engine{
		store:     st,
		notifier:  notifier,
		cfg:       cfg,
		log:       log,
		inventory: unconfiguredInventory{},
		active:    make(map[string]int),
	}
}

// SetRotationTrigger wires the collaborator used for emergency rotations.
func (e *Engine) SetRotationTrigger(t RotationTrigger) { e.rotation = t }

// SetBackendFailover wires the collaborator used for HSM/peer failover.
func (e *Engine) SetBackendFailover(f BackendFailover) { e.failover = f }

// SetAssetInventory wires the collaborator used for mass re-sign sizing
// and execution. Without one, mass re-sign attempts fail closed.
func (e *Engine) SetAssetInventory(inv AssetInventory) {
	if inv == nil {
		inv = unconfiguredInventory{}
	}
	e.inventory = inv
}

// ActiveIncidentCount returns the number of open incidents tracked for
// tenantID since process start.
func (e *Engine) ActiveIncidentCount(tenantID string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.active[tenantID]
}

// DetectIncident creates and persists an incident, updates the tenant's
// active counter, and fires the automated-response table for (typ,
// severity).
func (e *Engine) DetectIncident(ctx context.Context, tenantID string, typ Type, severity Severity, description string, affectedKeys []string) (*store.IncidentRecord, error) {
	const op = "incident.DetectIncident"
	now := time.Now()

	inc := &store.IncidentRecord{
		IncidentID:   uuid.NewString(),
		TenantID:     tenantID,
		Type:         string(typ),
		Severity:     string(severity),
		Status:       StatusActive,
		Detail:       description,
		AffectedKeys: affectedKeys,
		Metadata:     map[string]string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := e.store.CreateIncident(ctx, inc); err != nil {
		return nil, ctlerrors.Wrap(ctlerrors.BackendUnavailable, op, err).WithTenant(tenantID)
	}

	e.mu.Lock()
	e.active[tenantID]++
	e.mu.Unlock()

	e.log.WithTenant(tenantID).WithIncident(inc.IncidentID).Infow("incident detected",
		"type", typ, "severity", severity)

	e.publish(notify.EventTypeIncidentOpened, inc)
	e.respond(ctx, inc)

	return inc, nil
}

// respond fires the automated-response table for inc and persists
// whatever state the response produced (metadata, status, flags).
func (e *Engine) respond(ctx context.Context, inc *store.IncidentRecord) {
	switch Type(inc.Type) {
	case TypeKeyCompromise:
		e.pauseSigningQuiet(ctx, inc)
		e.triggerEmergencyRotation(ctx, inc, "key compromise detected")

	case TypeHSMFailure:
		if e.failover != nil {
			if err := e.failover.FailoverToKMS(ctx, inc.TenantID); err == nil {
				inc.Metadata["failover"] = "kms"
				break
			}
			e.log.WithTenant(inc.TenantID).WithIncident(inc.IncidentID).Warnw("kms failover unavailable")
		}
		e.triggerEmergencyRotation(ctx, inc, "hsm failure with no kms failover")

	case TypeBackendOutage:
		if e.failover != nil {
			if err := e.failover.FailoverToPeer(ctx, inc.TenantID); err != nil {
				e.log.WithTenant(inc.TenantID).WithIncident(inc.IncidentID).Warnw("peer failover failed", "error", err)
			} else {
				inc.Metadata["failover"] = "peer"
			}
		}

	case TypePolicyViolation:
		if isHighOrAbove(Severity(inc.Severity)) {
			e.pauseSigningQuiet(ctx, inc)
			inc.Metadata["compliance_report"] = "pending"
		}

	case TypeSecurityAlert:
		if isHighOrAbove(Severity(inc.Severity)) {
			e.triggerEmergencyRotation(ctx, inc, "security alert")
		}
		e.attemptMassResign(ctx, inc)

	case TypeComplianceFailure:
		inc.Metadata["compliance_report"] = "pending"
		inc.EscalationLevel++
	}

	if isHighOrAbove(Severity(inc.Severity)) && e.cfg.EmergencyRotationEnabled {
		e.triggerEmergencyRotation(ctx, inc, fmt.Sprintf("severity %s", inc.Severity))
	}

	if err := e.store.UpdateIncident(ctx, inc); err != nil {
		e.log.WithTenant(inc.TenantID).WithIncident(inc.IncidentID).Errorw("failed to persist incident response", "error", err)
	}
}

func (e *Engine) pauseSigningQuiet(ctx context.Context, inc *store.IncidentRecord) {
	if err := e.PauseSigning(ctx, inc.TenantID); err != nil {
		e.log.WithTenant(inc.TenantID).WithIncident(inc.IncidentID).Errorw("pause_signing failed", "error", err)
	}
}

// triggerEmergencyRotation is idempotent per incident: once
// AutoRotationTriggered is set, further calls are no-ops.
func (e *Engine) triggerEmergencyRotation(ctx context.Context, inc *store.IncidentRecord, reason string) {
	if inc.AutoRotationTriggered {
		return
	}
	if e.rotation == nil {
		e.log.WithTenant(inc.TenantID).WithIncident(inc.IncidentID).Warnw("no rotation trigger configured, skipping emergency rotation", "reason", reason)
		return
	}
	e.pauseSigningQuiet(ctx, inc)

	rotationID, err := e.rotation.TriggerEmergencyRotation(ctx, inc.TenantID, reason)
	if err != nil {
		e.log.WithTenant(inc.TenantID).WithIncident(inc.IncidentID).Errorw("emergency rotation failed to start", "error", err)
		return
	}
	inc.AutoRotationTriggered = true
	inc.Status = StatusRotating
	inc.Metadata["emergency_rotation_id"] = rotationID
}

// attemptMassResign checks the affected-asset count against
// mass_resign_threshold and, if it clears the gate, delegates the
// re-sign to the asset inventory collaborator.
func (e *Engine) attemptMassResign(ctx context.Context, inc *store.IncidentRecord) {
	count, err := e.inventory.AffectedAssetCount(ctx, inc.TenantID, inc.IncidentID)
	if err != nil {
		e.log.WithTenant(inc.TenantID).WithIncident(inc.IncidentID).Warnw("cannot assess mass re-sign blast radius", "error", err)
		return
	}
	if count > e.cfg.MassResignThreshold {
		inc.Metadata["mass_resign_blocked"] = fmt.Sprintf("%d assets exceeds threshold %d", count, e.cfg.MassResignThreshold)
		return
	}

	inc.MassResignInProgress = true
	inc.Status = StatusResigning
	if err := e.inventory.MassResign(ctx, inc.TenantID, inc.IncidentID); err != nil {
		inc.MassResignInProgress = false
		e.log.WithTenant(inc.TenantID).WithIncident(inc.IncidentID).Errorw("mass re-sign failed", "error", err)
		return
	}
	inc.Metadata["mass_resign_completed"] = "true"
}

// PauseSigning sets sign_enabled=false on the tenant's policy and
// recomputes policy_hash. Idempotent.
func (e *Engine) PauseSigning(ctx context.Context, tenantID string) error {
	return e.setSignEnabled(ctx, tenantID, false)
}

// ResumeSigning re-enables signing for the tenant. Idempotent.
func (e *Engine) ResumeSigning(ctx context.Context, tenantID string) error {
	return e.setSignEnabled(ctx, tenantID, true)
}

func (e *Engine) setSignEnabled(ctx context.Context, tenantID string, enabled bool) error {
	const op = "incident.setSignEnabled"

	p, err := e.store.GetPolicy(ctx, tenantID)
	if err != nil {
		return ctlerrors.Wrap(ctlerrors.BackendUnavailable, op, err).WithTenant(tenantID)
	}
	if p.Key.SignEnabled == enabled {
		return nil
	}

	p.Key.SignEnabled = enabled
	if _, err := p.Seal(); err != nil {
		return ctlerrors.Wrap(ctlerrors.Crypto, op, err).WithTenant(tenantID)
	}
	if err := e.store.UpsertPolicy(ctx, p); err != nil {
		return ctlerrors.Wrap(ctlerrors.BackendUnavailable, op, err).WithTenant(tenantID)
	}
	return nil
}

// ResolveIncident transitions an incident to Resolved, writes note to
// metadata, and decrements the tenant's active incident counter.
// Resolving an already-resolved or closed incident is a no-op.
func (e *Engine) ResolveIncident(ctx context.Context, incidentID, note string) error {
	const op = "incident.ResolveIncident"

	inc, err := e.store.GetIncident(ctx, incidentID)
	if err != nil {
		return ctlerrors.Wrap(ctlerrors.BackendUnavailable, op, err).WithIncident(incidentID)
	}
	if inc.Status == StatusResolved || inc.Status == StatusClosed {
		return nil
	}

	if inc.Metadata == nil {
		inc.Metadata = map[string]string{}
	}
	inc.Metadata["resolution_note"] = note
	inc.Status = StatusResolved
	now := time.Now()
	inc.ResolvedAt = &now

	if err := e.store.UpdateIncident(ctx, inc); err != nil {
		return ctlerrors.Wrap(ctlerrors.BackendUnavailable, op, err).WithIncident(incidentID)
	}

	e.mu.Lock()
	if e.active[inc.TenantID] > 0 {
		e.active[inc.TenantID]--
	}
	e.mu.Unlock()

	e.log.WithTenant(inc.TenantID).WithIncident(incidentID).Infow("incident resolved", "note", note)
	e.publish(notify.EventTypeIncidentResolved, inc)

	return nil
}

func (e *Engine) publish(t notify.EventType, inc *store.IncidentRecord) {
	if e.notifier == nil {
		return
	}

	meta := make(map[string]string, len(inc.Metadata)+2)
	for k, v := range inc.Metadata {
		meta[k] = v
	}
	meta["severity"] = inc.Severity
	meta["incident_type"] = inc.Type

	var keyID string
	if len(inc.AffectedKeys) > 0 {
		keyID = inc.AffectedKeys[0]
	}

	e.notifier.Send(notify.Event{
		Type:       t,
		TenantID:   inc.TenantID,
		KeyID:      keyID,
		IncidentID: inc.IncidentID,
		Timestamp:  time.Now(),
		Metadata:   meta,
	})
}

func isHighOrAbove(s Severity) bool {
	return s == SeverityHigh || s == SeverityCritical
}
