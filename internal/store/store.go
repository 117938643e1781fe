// Package store defines the persistence boundary for tenant policies,
// rotation schedules, and incidents, with a lib/pq-backed SQL
// implementation and an in-memory implementation for tests and
// single-node deployments.
package store

import (
	"context"
	"time"

	"github.com/systmms/signctl/internal/policy"
)

// RotationRecord is a scheduled or in-flight rotation as persisted by the
// store. The rotation engine owns Phase transitions; the store only
// records them.
type RotationRecord struct {
	RotationID   string
	TenantID     string
	KeyID        string
	Phase        string
	ScheduledFor time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	Emergency    bool
	FailureNote  string
}

// IncidentRecord is a persisted incident report.
type IncidentRecord struct {
	IncidentID           string
	TenantID             string
	Type                 string
	Severity             string
	Status               string
	Detail               string
	AffectedKeys         []string
	EscalationLevel      int
	AutoRotationTriggered bool
	MassResignInProgress bool
	RollbackAvailable    bool
	Metadata             map[string]string
	CreatedAt            time.Time
	UpdatedAt            time.Time
	ResolvedAt           *time.Time
}

// Calendar entry status values. At most one non-terminal entry may exist
// per tenant at any time (spec.md §3, "Rotation calendar entry").
const (
	CalendarStatusScheduled  = "Scheduled"
	CalendarStatusInProgress = "InProgress"
	CalendarStatusCompleted  = "Completed"
	CalendarStatusFailed     = "Failed"
	CalendarStatusCancelled  = "Cancelled"
)

// CalendarEntry marks when a tenant key is next due for rotation, used by
// the scheduler to partition due/warning/overdue work without re-deriving
// it from policy on every tick. RotationWindowStart/End and DueAt track
// the same instant from two angles: DueAt is the scheduled_rotation date
// the scheduler compares "now" against, RotationWindowStart is when the
// Rotation Engine's Preparing phase is first allowed to run against it.
type CalendarEntry struct {
	TenantID            string
	KeyID               string
	DueAt               time.Time
	RotationWindowStart time.Time
	RotationWindowEnd   time.Time
	Owner               string
	ApprovalRequired    bool
	Status              string
	CreatedAt           time.Time
}

// IsTerminal reports whether the entry is in a terminal calendar status.
func (e *CalendarEntry) IsTerminal() bool {
	switch e.Status {
	case CalendarStatusCompleted, CalendarStatusFailed, CalendarStatusCancelled:
		return true
	default:
		return false
	}
}

// Store is the persistence boundary every control-plane component reads
// and writes through. Implementations must make UpsertPolicy and
// ScheduleRotation safe under concurrent callers for the same tenant.
type Store interface {
	UpsertPolicy(ctx context.Context, p *policy.Policy) error
	GetPolicy(ctx context.Context, tenantID string) (*policy.Policy, error)
	ListTenants(ctx context.Context) ([]string, error)

	ScheduleRotation(ctx context.Context, r *RotationRecord) error
	GetRotation(ctx context.Context, rotationID string) (*RotationRecord, error)
	UpdateRotationPhase(ctx context.Context, rotationID, phase string) error
	GetUpcomingRotations(ctx context.Context, before time.Time) ([]*RotationRecord, error)
	CountActiveRotations(ctx context.Context, tenantID string) (int, error)

	UpsertCalendarEntry(ctx context.Context, e *CalendarEntry) error
	GetCalendarEntries(ctx context.Context, tenantID string) ([]*CalendarEntry, error)
	ListCalendarEntries(ctx context.Context) ([]*CalendarEntry, error)

	CreateIncident(ctx context.Context, inc *IncidentRecord) error
	UpdateIncidentStatus(ctx context.Context, incidentID, status string) error
	UpdateIncident(ctx context.Context, inc *IncidentRecord) error
	GetIncident(ctx context.Context, incidentID string) (*IncidentRecord, error)
	ListOpenIncidents(ctx context.Context, tenantID string) ([]*IncidentRecord, error)
}
