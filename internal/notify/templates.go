package notify

import (
	"bytes"
	"fmt"
	"text/template"
	"time"
)

// TemplateData carries the fields needed to render a plain-text
// notification body for any lifecycle event.
type TemplateData struct {
	// TenantID is the tenant whose key custody is affected.
	TenantID string

	// KeyID is the signing key affected.
	KeyID string

	// Reason explains why the event occurred.
	Reason string

	// TargetVersion is the key handle being rolled back to.
	TargetVersion string

	// FailedVersion is the key handle that failed.
	FailedVersion string

	// Trigger indicates what caused the event (automatic, manual).
	Trigger string

	// User is who initiated a manual action.
	User string

	// Duration is how long the operation took.
	Duration time.Duration

	// Attempts is the number of attempts made.
	Attempts int

	// Error contains error details if the operation failed.
	Error string

	// Timestamp is when the event occurred.
	Timestamp time.Time

	// Status is the outcome status (Succeeded, Failed).
	Status string

	// IncidentID identifies the incident this event concerns, if any.
	IncidentID string

	// IncidentType is the incident category (KeyCompromise, HSMFailure, ...).
	IncidentType string

	// Severity is the incident severity (critical, high, medium, low).
	Severity string

	// NextSteps provides recommendations for what to do next.
	NextSteps string
}

// eventTemplateSet holds the one text template used to render a given
// EventType's notification body.
type eventTemplateSet struct {
	Started          *template.Template
	Completed        *template.Template
	Failed           *template.Template
	Rollback         *template.Template
	IncidentOpened   *template.Template
	IncidentResolved *template.Template
}

var templates = eventTemplateSet{
	Started:          template.Must(template.New("rotation_started").Parse(rotationStartedTemplate)),
	Completed:        template.Must(template.New("rotation_completed").Parse(rotationCompletedTemplate)),
	Failed:           template.Must(template.New("rotation_failed").Parse(rotationFailedTemplate)),
	Rollback:         template.Must(template.New("rotation_rollback").Parse(rotationRollbackTemplate)),
	IncidentOpened:   template.Must(template.New("incident_opened").Parse(incidentOpenedTemplate)),
	IncidentResolved: template.Must(template.New("incident_resolved").Parse(incidentResolvedTemplate)),
}

const rotationStartedTemplate = `Rotation Started

Tenant:   {{.TenantID}}
Key:      {{.KeyID}}
Trigger:  {{.Trigger}}
{{if .User}}Initiated by: {{.User}}{{end}}

A key rotation has begun for this tenant.`

const rotationCompletedTemplate = `Rotation Completed Successfully

Tenant:    {{.TenantID}}
Key:       {{.KeyID}}
Duration:  {{.Duration}}
Trigger:   {{.Trigger}}
{{if .User}}Initiated by: {{.User}}{{end}}

The signing key has been rotated to {{.TargetVersion}}.`

const rotationFailedTemplate = `Rotation Failed

Tenant:    {{.TenantID}}
Key:       {{.KeyID}}
Duration:  {{.Duration}}
Attempts:  {{.Attempts}}
Trigger:   {{.Trigger}}

Error: {{.Error}}

{{.NextSteps}}`

const rotationRollbackTemplate = `Rollback {{.Status}}

Tenant:      {{.TenantID}}
Key:         {{.KeyID}}
Duration:    {{.Duration}}
Attempts:    {{.Attempts}}
Trigger:     {{.Trigger}}
{{if .User}}Initiated by: {{.User}}{{end}}

Rolled back from {{.FailedVersion}} to {{.TargetVersion}}

Reason: {{.Reason}}
{{if .Error}}Error:  {{.Error}}
{{end}}
{{.NextSteps}}`

const incidentOpenedTemplate = `Custody Incident Opened

Tenant:    {{.TenantID}}
Key:       {{.KeyID}}
Incident:  {{.IncidentID}}
Type:      {{.IncidentType}}
Severity:  {{.Severity}}

{{.Reason}}

{{.NextSteps}}`

const incidentResolvedTemplate = `Custody Incident Resolved

Tenant:    {{.TenantID}}
Key:       {{.KeyID}}
Incident:  {{.IncidentID}}
Type:      {{.IncidentType}}

{{.Reason}}`

// NextStepsRotationFailed provides recommendations after a failed rotation
// that could not roll back.
const NextStepsRotationFailed = `Next Steps:
- Check the backend and certificate authority for the affected tenant
- Review rotation logs for this tenant and key
- Consider triggering a manual rotation once the root cause is fixed`

// NextStepsRollbackSuccess provides recommendations after a successful rollback.
const NextStepsRollbackSuccess = `Next Steps:
- The signing key has been restored to the previous version
- Monitor signing health for the next 15-30 minutes
- Investigate the root cause of the failed rotation
- Consider disabling automatic rotation until the issue is resolved`

// NextStepsRollbackFailure provides recommendations after a failed rollback.
const NextStepsRollbackFailure = `Next Steps:
- Manual intervention is required, the key may be in an inconsistent state
- Check signing logs and health metrics immediately
- Contact the on-call team and open an incident if one is not already open`

// NextStepsIncidentOpened provides recommendations when an incident opens.
const NextStepsIncidentOpened = `Next Steps:
- Review the incident in the operator console
- Confirm whether automatic mitigation (rotation, failover) has engaged
- Escalate to the on-call signing custodian if the severity is critical`

// RenderEvent renders the appropriate plain-text template for event.Type,
// falling back to the generic rotation-started framing for event types
// with no dedicated template.
func RenderEvent(event Event) (string, error) {
	data := NewTemplateDataFromEvent(event)

	var tmpl *template.Template
	switch event.Type {
	case EventTypeStarted:
		tmpl = templates.Started
	case EventTypeCompleted:
		tmpl = templates.Completed
	case EventTypeFailed:
		if data.NextSteps == "" {
			data.NextSteps = NextStepsRotationFailed
		}
		tmpl = templates.Failed
	case EventTypeRollback:
		if data.NextSteps == "" {
			data.NextSteps = GetNextSteps(event.Status == StatusRolledBack)
		}
		tmpl = templates.Rollback
	case EventTypeIncidentOpened:
		data.NextSteps = NextStepsIncidentOpened
		tmpl = templates.IncidentOpened
	case EventTypeIncidentResolved:
		tmpl = templates.IncidentResolved
	default:
		tmpl = templates.Started
	}

	return renderTemplate(tmpl, data)
}

// renderTemplate renders a template with the given data.
func renderTemplate(tmpl *template.Template, data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template: %w", err)
	}
	return buf.String(), nil
}

// FormatDuration formats a duration for human reading.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
	return fmt.Sprintf("%.1fh", d.Hours())
}

// GetNextSteps returns appropriate next steps based on the rollback result.
func GetNextSteps(success bool) string {
	if success {
		return NextStepsRollbackSuccess
	}
	return NextStepsRollbackFailure
}

// NewTemplateDataFromEvent creates TemplateData from an Event.
func NewTemplateDataFromEvent(event Event) TemplateData {
	data := TemplateData{
		TenantID:      event.TenantID,
		KeyID:         event.KeyID,
		TargetVersion: event.NewVersion,
		FailedVersion: event.PreviousVersion,
		User:          event.InitiatedBy,
		Duration:      event.Duration,
		Timestamp:     event.Timestamp,
		IncidentID:    event.IncidentID,
	}

	if event.Metadata != nil {
		if reason, ok := event.Metadata["reason"]; ok {
			data.Reason = reason
		}
		if trigger, ok := event.Metadata["trigger"]; ok {
			data.Trigger = trigger
		} else {
			data.Trigger = "automatic"
		}
		if attempts, ok := event.Metadata["attempts"]; ok {
			fmt.Sscanf(attempts, "%d", &data.Attempts)
		}
		if t, ok := event.Metadata["incident_type"]; ok {
			data.IncidentType = t
		}
		if sev, ok := event.Metadata["severity"]; ok {
			data.Severity = sev
		}
	}

	switch {
	case event.Status == StatusRolledBack:
		data.Status = "Succeeded"
	case event.Status == StatusFailure:
		data.Status = "Failed"
	default:
		data.Status = "Succeeded"
	}

	if event.Error != nil {
		data.Error = event.Error.Error()
	}

	return data
}
