package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"

	"github.com/systmms/signctl/internal/ctlerrors"
	"github.com/systmms/signctl/internal/policy"
)

// SQLStore is a Store backed by PostgreSQL via database/sql and lib/pq.
type SQLStore struct {
	db *sql.DB
}

// OpenSQLStore opens a connection pool against dsn, the lib/pq connection
// string. Schema setup is handled separately by RunMigrations.
func OpenSQLStore(dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, ctlerrors.Wrap(ctlerrors.BackendUnavailable, "store.OpenSQLStore", err)
	}
	if err := db.Ping(); err != nil {
		return nil, ctlerrors.Wrap(ctlerrors.BackendUnavailable, "store.OpenSQLStore", err)
	}
	return &SQLStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// NewSQLStoreForTesting wraps an already-open *sql.DB, letting package
// tests drive SQLStore against a go-sqlmock double instead of a live
// PostgreSQL instance.
func NewSQLStoreForTesting(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) UpsertPolicy(ctx context.Context, p *policy.Policy) error {
	keyJSON, err := json.Marshal(p.Key)
	if err != nil {
		return ctlerrors.Wrap(ctlerrors.InvalidInput, "store.UpsertPolicy", err)
	}
	labelsJSON, err := json.Marshal(p.Labels)
	if err != nil {
		return ctlerrors.Wrap(ctlerrors.InvalidInput, "store.UpsertPolicy", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO policies (tenant_id, version, tsa_profile, embed_allowed_origins, key, assertions_allow, assertions_deny, labels, policy_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant_id) DO UPDATE SET
			version = EXCLUDED.version,
			tsa_profile = EXCLUDED.tsa_profile,
			embed_allowed_origins = EXCLUDED.embed_allowed_origins,
			key = EXCLUDED.key,
			assertions_allow = EXCLUDED.assertions_allow,
			assertions_deny = EXCLUDED.assertions_deny,
			labels = EXCLUDED.labels,
			policy_hash = EXCLUDED.policy_hash,
			updated_at = now()
	`, p.TenantID, p.Version, string(p.TSAProfile), pq.Array(p.EmbedAllowedOrigins), keyJSON, pq.Array(p.AssertionsAllow), pq.Array(p.AssertionsDeny), labelsJSON, p.PolicyHash)
	if err != nil {
		return ctlerrors.Wrap(ctlerrors.BackendUnavailable, "store.UpsertPolicy", err).WithTenant(p.TenantID)
	}
	return nil
}

func (s *SQLStore) GetPolicy(ctx context.Context, tenantID string) (*policy.Policy, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT version, tsa_profile, embed_allowed_origins, key, assertions_allow, assertions_deny, labels, policy_hash, created_at, updated_at
		FROM policies WHERE tenant_id = $1
	`, tenantID)

	var (
		p                   policy.Policy
		keyJSON             []byte
		labelsJSON          []byte
		tsaProfile          sql.NullString
		embedAllowedOrigins pq.StringArray
		assertionsAllow     pq.StringArray
		assertionsDeny      pq.StringArray
	)
	p.TenantID = tenantID

	if err := row.Scan(&p.Version, &tsaProfile, pq.Array(&embedAllowedOrigins), &keyJSON, pq.Array(&assertionsAllow), pq.Array(&assertionsDeny), &labelsJSON, &p.PolicyHash, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ctlerrors.New(ctlerrors.NotFound, "store.GetPolicy", "no policy for tenant").WithTenant(tenantID)
		}
		return nil, ctlerrors.Wrap(ctlerrors.BackendUnavailable, "store.GetPolicy", err).WithTenant(tenantID)
	}

	if err := json.Unmarshal(keyJSON, &p.Key); err != nil {
		return nil, ctlerrors.Wrap(ctlerrors.Fatal, "store.GetPolicy", err).WithTenant(tenantID)
	}
	if len(labelsJSON) > 0 {
		if err := json.Unmarshal(labelsJSON, &p.Labels); err != nil {
			return nil, ctlerrors.Wrap(ctlerrors.Fatal, "store.GetPolicy", err).WithTenant(tenantID)
		}
	}
	p.TSAProfile = policy.TSAProfile(tsaProfile.String)
	p.EmbedAllowedOrigins = []string(embedAllowedOrigins)
	p.AssertionsAllow = []string(assertionsAllow)
	p.AssertionsDeny = []string(assertionsDeny)

	return &p, nil
}

func (s *SQLStore) ListTenants(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tenant_id FROM policies ORDER BY tenant_id`)
	if err != nil {
		return nil, ctlerrors.Wrap(ctlerrors.BackendUnavailable, "store.ListTenants", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var tenantID string
		if err := rows.Scan(&tenantID); err != nil {
			return nil, ctlerrors.Wrap(ctlerrors.Fatal, "store.ListTenants", err)
		}
		out = append(out, tenantID)
	}
	return out, rows.Err()
}

func (s *SQLStore) ScheduleRotation(ctx context.Context, r *RotationRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rotations (rotation_id, tenant_id, key_id, phase, scheduled_for, emergency)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (rotation_id) DO UPDATE SET phase = EXCLUDED.phase
	`, r.RotationID, r.TenantID, r.KeyID, r.Phase, r.ScheduledFor, r.Emergency)
	if err != nil {
		return ctlerrors.Wrap(ctlerrors.BackendUnavailable, "store.ScheduleRotation", err).WithTenant(r.TenantID).WithRotation(r.RotationID)
	}
	return nil
}

func (s *SQLStore) GetRotation(ctx context.Context, rotationID string) (*RotationRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT rotation_id, tenant_id, key_id, phase, scheduled_for, started_at, completed_at, emergency, failure_note
		FROM rotations WHERE rotation_id = $1
	`, rotationID)

	var r RotationRecord
	if err := row.Scan(&r.RotationID, &r.TenantID, &r.KeyID, &r.Phase, &r.ScheduledFor, &r.StartedAt, &r.CompletedAt, &r.Emergency, &r.FailureNote); err != nil {
		if err == sql.ErrNoRows {
			return nil, ctlerrors.New(ctlerrors.NotFound, "store.GetRotation", "no such rotation").WithRotation(rotationID)
		}
		return nil, ctlerrors.Wrap(ctlerrors.BackendUnavailable, "store.GetRotation", err).WithRotation(rotationID)
	}
	return &r, nil
}

func (s *SQLStore) UpdateRotationPhase(ctx context.Context, rotationID, phase string) error {
	var startedClause string
	if phase == "Preparing" {
		startedClause = ", started_at = COALESCE(started_at, now())"
	}
	if phase == "Completed" || phase == "Failed" || phase == "RolledBack" {
		startedClause = ", completed_at = now()"
	}
	_, err := s.db.ExecContext(ctx, `UPDATE rotations SET phase = $1`+startedClause+` WHERE rotation_id = $2`, phase, rotationID)
	if err != nil {
		return ctlerrors.Wrap(ctlerrors.BackendUnavailable, "store.UpdateRotationPhase", err).WithRotation(rotationID)
	}
	return nil
}

func (s *SQLStore) GetUpcomingRotations(ctx context.Context, before time.Time) ([]*RotationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rotation_id, tenant_id, key_id, phase, scheduled_for, started_at, completed_at, emergency, failure_note
		FROM rotations
		WHERE scheduled_for < $1 AND phase NOT IN ('Completed', 'RolledBack')
	`, before)
	if err != nil {
		return nil, ctlerrors.Wrap(ctlerrors.BackendUnavailable, "store.GetUpcomingRotations", err)
	}
	defer rows.Close()

	var out []*RotationRecord
	for rows.Next() {
		var r RotationRecord
		if err := rows.Scan(&r.RotationID, &r.TenantID, &r.KeyID, &r.Phase, &r.ScheduledFor, &r.StartedAt, &r.CompletedAt, &r.Emergency, &r.FailureNote); err != nil {
			return nil, ctlerrors.Wrap(ctlerrors.Fatal, "store.GetUpcomingRotations", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *SQLStore) CountActiveRotations(ctx context.Context, tenantID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM rotations
		WHERE tenant_id = $1 AND phase NOT IN ('', 'Scheduled', 'Completed', 'Failed', 'RolledBack')
	`, tenantID).Scan(&count)
	if err != nil {
		return 0, ctlerrors.Wrap(ctlerrors.BackendUnavailable, "store.CountActiveRotations", err).WithTenant(tenantID)
	}
	return count, nil
}

func (s *SQLStore) UpsertCalendarEntry(ctx context.Context, e *CalendarEntry) error {
	if e.Status == "" {
		e.Status = CalendarStatusScheduled
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ctlerrors.Wrap(ctlerrors.BackendUnavailable, "store.UpsertCalendarEntry", err).WithTenant(e.TenantID)
	}
	defer tx.Rollback() //nolint:errcheck

	var conflicting int
	err = tx.QueryRowContext(ctx, `
		SELECT count(*) FROM rotation_calendar
		WHERE tenant_id = $1 AND key_id <> $2 AND status NOT IN ('Completed', 'Failed', 'Cancelled')
	`, e.TenantID, e.KeyID).Scan(&conflicting)
	if err != nil {
		return ctlerrors.Wrap(ctlerrors.BackendUnavailable, "store.UpsertCalendarEntry", err).WithTenant(e.TenantID)
	}
	if conflicting > 0 {
		return ctlerrors.New(ctlerrors.Conflict, "store.UpsertCalendarEntry",
			"tenant already has a non-terminal rotation calendar entry").WithTenant(e.TenantID)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO rotation_calendar (tenant_id, key_id, due_at, window_start, window_end, owner, approval_required, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (tenant_id, key_id) DO UPDATE SET
			due_at = EXCLUDED.due_at,
			window_start = EXCLUDED.window_start,
			window_end = EXCLUDED.window_end,
			owner = EXCLUDED.owner,
			approval_required = EXCLUDED.approval_required,
			status = EXCLUDED.status
	`, e.TenantID, e.KeyID, e.DueAt, e.RotationWindowStart, e.RotationWindowEnd, e.Owner, e.ApprovalRequired, e.Status)
	if err != nil {
		return ctlerrors.Wrap(ctlerrors.BackendUnavailable, "store.UpsertCalendarEntry", err).WithTenant(e.TenantID)
	}

	if err := tx.Commit(); err != nil {
		return ctlerrors.Wrap(ctlerrors.BackendUnavailable, "store.UpsertCalendarEntry", err).WithTenant(e.TenantID)
	}
	return nil
}

func (s *SQLStore) GetCalendarEntries(ctx context.Context, tenantID string) ([]*CalendarEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, key_id, due_at, window_start, window_end, owner, approval_required, status, created_at
		FROM rotation_calendar WHERE tenant_id = $1
	`, tenantID)
	if err != nil {
		return nil, ctlerrors.Wrap(ctlerrors.BackendUnavailable, "store.GetCalendarEntries", err).WithTenant(tenantID)
	}
	defer rows.Close()

	var out []*CalendarEntry
	for rows.Next() {
		var e CalendarEntry
		if err := rows.Scan(&e.TenantID, &e.KeyID, &e.DueAt, &e.RotationWindowStart, &e.RotationWindowEnd, &e.Owner, &e.ApprovalRequired, &e.Status, &e.CreatedAt); err != nil {
			return nil, ctlerrors.Wrap(ctlerrors.Fatal, "store.GetCalendarEntries", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *SQLStore) ListCalendarEntries(ctx context.Context) ([]*CalendarEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, key_id, due_at, window_start, window_end, owner, approval_required, status, created_at
		FROM rotation_calendar
	`)
	if err != nil {
		return nil, ctlerrors.Wrap(ctlerrors.BackendUnavailable, "store.ListCalendarEntries", err)
	}
	defer rows.Close()

	var out []*CalendarEntry
	for rows.Next() {
		var e CalendarEntry
		if err := rows.Scan(&e.TenantID, &e.KeyID, &e.DueAt, &e.RotationWindowStart, &e.RotationWindowEnd, &e.Owner, &e.ApprovalRequired, &e.Status, &e.CreatedAt); err != nil {
			return nil, ctlerrors.Wrap(ctlerrors.Fatal, "store.ListCalendarEntries", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *SQLStore) CreateIncident(ctx context.Context, inc *IncidentRecord) error {
	metadata, err := json.Marshal(inc.Metadata)
	if err != nil {
		return ctlerrors.Wrap(ctlerrors.InvalidInput, "store.CreateIncident", err).WithIncident(inc.IncidentID)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO incidents (incident_id, tenant_id, type, severity, status, detail,
			affected_keys, escalation_level, auto_rotation_triggered, mass_resign_in_progress,
			rollback_available, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
	`, inc.IncidentID, inc.TenantID, inc.Type, inc.Severity, inc.Status, inc.Detail,
		pq.Array(inc.AffectedKeys), inc.EscalationLevel, inc.AutoRotationTriggered,
		inc.MassResignInProgress, inc.RollbackAvailable, metadata, inc.CreatedAt)
	if err != nil {
		return ctlerrors.Wrap(ctlerrors.BackendUnavailable, "store.CreateIncident", err).WithIncident(inc.IncidentID)
	}
	return nil
}

func (s *SQLStore) UpdateIncidentStatus(ctx context.Context, incidentID, status string) error {
	var resolvedClause string
	if status == "Resolved" || status == "Closed" {
		resolvedClause = ", resolved_at = now()"
	}
	_, err := s.db.ExecContext(ctx, `UPDATE incidents SET status = $1, updated_at = now()`+resolvedClause+` WHERE incident_id = $2`, status, incidentID)
	if err != nil {
		return ctlerrors.Wrap(ctlerrors.BackendUnavailable, "store.UpdateIncidentStatus", err).WithIncident(incidentID)
	}
	return nil
}

func (s *SQLStore) UpdateIncident(ctx context.Context, inc *IncidentRecord) error {
	metadata, err := json.Marshal(inc.Metadata)
	if err != nil {
		return ctlerrors.Wrap(ctlerrors.InvalidInput, "store.UpdateIncident", err).WithIncident(inc.IncidentID)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE incidents SET status = $1, detail = $2, affected_keys = $3, escalation_level = $4,
			auto_rotation_triggered = $5, mass_resign_in_progress = $6, rollback_available = $7,
			metadata = $8, resolved_at = $9, updated_at = now()
		WHERE incident_id = $10
	`, inc.Status, inc.Detail, pq.Array(inc.AffectedKeys), inc.EscalationLevel,
		inc.AutoRotationTriggered, inc.MassResignInProgress, inc.RollbackAvailable,
		metadata, inc.ResolvedAt, inc.IncidentID)
	if err != nil {
		return ctlerrors.Wrap(ctlerrors.BackendUnavailable, "store.UpdateIncident", err).WithIncident(inc.IncidentID)
	}
	return nil
}

func scanIncident(row interface{ Scan(...interface{}) error }) (*IncidentRecord, error) {
	var inc IncidentRecord
	var metadata []byte
	err := row.Scan(&inc.IncidentID, &inc.TenantID, &inc.Type, &inc.Severity, &inc.Status, &inc.Detail,
		pq.Array(&inc.AffectedKeys), &inc.EscalationLevel, &inc.AutoRotationTriggered,
		&inc.MassResignInProgress, &inc.RollbackAvailable, &metadata, &inc.CreatedAt, &inc.UpdatedAt, &inc.ResolvedAt)
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &inc.Metadata); err != nil {
			return nil, err
		}
	}
	return &inc, nil
}

const incidentColumns = `incident_id, tenant_id, type, severity, status, detail,
	affected_keys, escalation_level, auto_rotation_triggered, mass_resign_in_progress,
	rollback_available, metadata, created_at, updated_at, resolved_at`

func (s *SQLStore) GetIncident(ctx context.Context, incidentID string) (*IncidentRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE incident_id = $1`, incidentID)

	inc, err := scanIncident(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ctlerrors.New(ctlerrors.NotFound, "store.GetIncident", "no such incident").WithIncident(incidentID)
		}
		return nil, ctlerrors.Wrap(ctlerrors.BackendUnavailable, "store.GetIncident", err).WithIncident(incidentID)
	}
	return inc, nil
}

func (s *SQLStore) ListOpenIncidents(ctx context.Context, tenantID string) ([]*IncidentRecord, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE status NOT IN ('Resolved', 'Closed')`
	args := []interface{}{}
	if tenantID != "" {
		query += ` AND tenant_id = $1`
		args = append(args, tenantID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ctlerrors.Wrap(ctlerrors.BackendUnavailable, "store.ListOpenIncidents", err)
	}
	defer rows.Close()

	var out []*IncidentRecord
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, ctlerrors.Wrap(ctlerrors.Fatal, "store.ListOpenIncidents", err)
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}
