package store

import (
	"context"
	"sync"
	"time"

	"github.com/systmms/signctl/internal/ctlerrors"
	"github.com/systmms/signctl/internal/policy"
)

// MemStore is an in-process Store backed by RWMutex-guarded maps. It is
// the reference implementation used by package tests and by single-node
// deployments that don't need durability across restarts.
type MemStore struct {
	mu         sync.RWMutex
	policies   map[string]*policy.Policy
	rotations  map[string]*RotationRecord
	calendar   map[string][]*CalendarEntry
	incidents  map[string]*IncidentRecord
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		policies:  make(map[string]*policy.Policy),
		rotations: make(map[string]*RotationRecord),
		calendar:  make(map[string][]*CalendarEntry),
		incidents: make(map[string]*IncidentRecord),
	}
}

func (s *MemStore) UpsertPolicy(_ context.Context, p *policy.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	now := time.Now()
	if existing, ok := s.policies[p.TenantID]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	s.policies[p.TenantID] = &cp
	return nil
}

func (s *MemStore) GetPolicy(_ context.Context, tenantID string) (*policy.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[tenantID]
	if !ok {
		return nil, ctlerrors.New(ctlerrors.NotFound, "store.GetPolicy", "no policy for tenant").WithTenant(tenantID)
	}
	cp := *p
	return &cp, nil
}

func (s *MemStore) ListTenants(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.policies))
	for t := range s.policies {
		out = append(out, t)
	}
	return out, nil
}

func (s *MemStore) ScheduleRotation(_ context.Context, r *RotationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.RotationID == "" {
		return ctlerrors.New(ctlerrors.InvalidInput, "store.ScheduleRotation", "rotation_id is required")
	}
	cp := *r
	s.rotations[r.RotationID] = &cp
	return nil
}

func (s *MemStore) GetRotation(_ context.Context, rotationID string) (*RotationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rotations[rotationID]
	if !ok {
		return nil, ctlerrors.New(ctlerrors.NotFound, "store.GetRotation", "no such rotation").WithRotation(rotationID)
	}
	cp := *r
	return &cp, nil
}

func (s *MemStore) UpdateRotationPhase(_ context.Context, rotationID, phase string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rotations[rotationID]
	if !ok {
		return ctlerrors.New(ctlerrors.NotFound, "store.UpdateRotationPhase", "no such rotation").WithRotation(rotationID)
	}
	r.Phase = phase
	now := time.Now()
	if phase == "Preparing" && r.StartedAt == nil {
		r.StartedAt = &now
	}
	if phase == "Completed" || phase == "Failed" || phase == "RolledBack" {
		r.CompletedAt = &now
	}
	return nil
}

func (s *MemStore) GetUpcomingRotations(_ context.Context, before time.Time) ([]*RotationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*RotationRecord
	for _, r := range s.rotations {
		if r.ScheduledFor.Before(before) && r.Phase != "Completed" && r.Phase != "RolledBack" {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemStore) CountActiveRotations(_ context.Context, tenantID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, r := range s.rotations {
		if r.TenantID != tenantID {
			continue
		}
		switch r.Phase {
		case "", "Scheduled", "Completed", "Failed", "RolledBack":
			continue
		default:
			count++
		}
	}
	return count, nil
}

func (s *MemStore) UpsertCalendarEntry(_ context.Context, e *CalendarEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.Status == "" {
		e.Status = CalendarStatusScheduled
	}

	entries := s.calendar[e.TenantID]
	for i, existing := range entries {
		if existing.KeyID == e.KeyID {
			cp := *e
			if cp.CreatedAt.IsZero() {
				cp.CreatedAt = existing.CreatedAt
			}
			entries[i] = &cp
			s.calendar[e.TenantID] = entries
			return nil
		}
	}

	for _, existing := range entries {
		if !existing.IsTerminal() {
			return ctlerrors.New(ctlerrors.Conflict, "store.UpsertCalendarEntry",
				"tenant already has a non-terminal rotation calendar entry").WithTenant(e.TenantID)
		}
	}

	cp := *e
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.calendar[e.TenantID] = append(entries, &cp)
	return nil
}

func (s *MemStore) GetCalendarEntries(_ context.Context, tenantID string) ([]*CalendarEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.calendar[tenantID]
	out := make([]*CalendarEntry, len(entries))
	for i, e := range entries {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

func (s *MemStore) ListCalendarEntries(_ context.Context) ([]*CalendarEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*CalendarEntry
	for _, entries := range s.calendar {
		for _, e := range entries {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemStore) CreateIncident(_ context.Context, inc *IncidentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inc.IncidentID == "" {
		return ctlerrors.New(ctlerrors.InvalidInput, "store.CreateIncident", "incident_id is required")
	}
	cp := *inc
	s.incidents[inc.IncidentID] = &cp
	return nil
}

func (s *MemStore) UpdateIncidentStatus(_ context.Context, incidentID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.incidents[incidentID]
	if !ok {
		return ctlerrors.New(ctlerrors.NotFound, "store.UpdateIncidentStatus", "no such incident").WithIncident(incidentID)
	}
	inc.Status = status
	inc.UpdatedAt = time.Now()
	if status == "Resolved" || status == "Closed" {
		now := time.Now()
		inc.ResolvedAt = &now
	}
	return nil
}

func (s *MemStore) UpdateIncident(_ context.Context, inc *IncidentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.incidents[inc.IncidentID]; !ok {
		return ctlerrors.New(ctlerrors.NotFound, "store.UpdateIncident", "no such incident").WithIncident(inc.IncidentID)
	}
	cp := *inc
	cp.UpdatedAt = time.Now()
	s.incidents[inc.IncidentID] = &cp
	return nil
}

func (s *MemStore) GetIncident(_ context.Context, incidentID string) (*IncidentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inc, ok := s.incidents[incidentID]
	if !ok {
		return nil, ctlerrors.New(ctlerrors.NotFound, "store.GetIncident", "no such incident").WithIncident(incidentID)
	}
	cp := *inc
	return &cp, nil
}

func (s *MemStore) ListOpenIncidents(_ context.Context, tenantID string) ([]*IncidentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*IncidentRecord
	for _, inc := range s.incidents {
		if tenantID != "" && inc.TenantID != tenantID {
			continue
		}
		if inc.Status == "Resolved" || inc.Status == "Closed" {
			continue
		}
		cp := *inc
		out = append(out, &cp)
	}
	return out, nil
}
