package notify

import (
	"time"
)

// EventType represents the kind of lifecycle event being notified.
type EventType string

const (
	// EventTypeStarted indicates a rotation has started.
	EventTypeStarted EventType = "started"

	// EventTypeCompleted indicates a rotation has completed successfully.
	EventTypeCompleted EventType = "completed"

	// EventTypeFailed indicates a rotation has failed.
	EventTypeFailed EventType = "failed"

	// EventTypeRollback indicates a rollback has occurred.
	EventTypeRollback EventType = "rollback"

	// EventTypeIncidentOpened indicates an incident has been opened.
	EventTypeIncidentOpened EventType = "incident_opened"

	// EventTypeIncidentResolved indicates an incident has been resolved.
	EventTypeIncidentResolved EventType = "incident_resolved"
)

// RotationStatus represents the outcome status of a rotation.
type RotationStatus string

const (
	// StatusSuccess indicates the rotation completed successfully.
	StatusSuccess RotationStatus = "success"

	// StatusFailure indicates the rotation failed.
	StatusFailure RotationStatus = "failure"

	// StatusRolledBack indicates the rotation was rolled back.
	StatusRolledBack RotationStatus = "rolled_back"
)

// Event is the notification envelope for rotation and incident lifecycle
// transitions: an event, a tenant, the rotation or incident it concerns,
// a timestamp, and a free-form detail payload.
type Event struct {
	// Type is the kind of event (started, completed, failed, rollback,
	// incident_opened, incident_resolved).
	Type EventType

	// TenantID identifies the tenant whose key custody is affected.
	TenantID string

	// KeyID identifies the signing key affected, if any.
	KeyID string

	// Strategy is the rotation phase or response strategy used.
	Strategy string

	// Status is the outcome status (success, failure, rolled_back).
	Status RotationStatus

	// Error contains the error if the rotation or response failed.
	Error error

	// Duration is how long the operation took.
	Duration time.Duration

	// Metadata contains additional detail about the event.
	Metadata map[string]string

	// Timestamp is when the event occurred.
	Timestamp time.Time

	// RotationID is the rotation this event concerns, if any.
	RotationID string

	// IncidentID is the incident this event concerns, if any.
	IncidentID string

	// PreviousVersion is the key version before rotation.
	PreviousVersion string

	// NewVersion is the key version after rotation.
	NewVersion string

	// InitiatedBy indicates who or what initiated the event.
	InitiatedBy string
}

// AllEventTypes returns all valid event types.
func AllEventTypes() []EventType {
	return []EventType{
		EventTypeStarted,
		EventTypeCompleted,
		EventTypeFailed,
		EventTypeRollback,
		EventTypeIncidentOpened,
		EventTypeIncidentResolved,
	}
}
