// Package notify dispatches rotation and incident lifecycle events to
// operator-facing channels (Slack, PagerDuty, webhook, email) through a
// priority-aware async queue.
package notify

import (
	"context"
	"time"
)

// drainTimeout bounds how long a single queued event gets to finish
// delivering once the manager is shutting down.
const drainTimeout = 5 * time.Second

// NotificationProvider defines the interface for sending notifications.
type NotificationProvider interface {
	// Name returns the provider name (e.g., "slack", "email", "pagerduty", "webhook").
	Name() string

	// Send sends a notification for the given event.
	Send(ctx context.Context, event Event) error

	// SupportsEvent returns true if this provider handles the given event type.
	SupportsEvent(eventType EventType) bool

	// Validate checks if the provider configuration is valid.
	Validate(ctx context.Context) error
}

// EventPriority classifies an EventType for queueing purposes.
type EventPriority string

const (
	// PriorityCritical events page on-call attention: a rotation failed,
	// a rollback was triggered, or an incident just opened.
	PriorityCritical EventPriority = "critical"

	// PriorityRoutine events are informational progress updates.
	PriorityRoutine EventPriority = "routine"
)

// Priority classifies an event type so the Manager can route it to the
// critical or routine queue. Failed rotations, rollbacks, and newly
// opened incidents are custody-impacting and must not wait behind a
// burst of routine started/completed chatter.
func Priority(t EventType) EventPriority {
	switch t {
	case EventTypeFailed, EventTypeRollback, EventTypeIncidentOpened:
		return PriorityCritical
	default:
		return PriorityRoutine
	}
}
