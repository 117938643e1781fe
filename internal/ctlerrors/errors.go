// Package ctlerrors defines the typed error taxonomy shared by every
// control-plane component: policy store, rotation engine, scheduler,
// incident engine, and evidence pack builder.
package ctlerrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for programmatic handling, independent of its
// human-readable message.
type Kind string

const (
	// InvalidInput rejects an operation before any state change.
	InvalidInput Kind = "invalid_input"
	// NotFound indicates an absent record; not itself a failure.
	NotFound Kind = "not_found"
	// Conflict means the caller must re-read and retry with observed state.
	Conflict Kind = "conflict"
	// BackendUnavailable marks a transient fault in a SignBackend or store.
	BackendUnavailable Kind = "backend_unavailable"
	// Policy marks a validation or runtime compliance rejection.
	Policy Kind = "policy"
	// Crypto marks a signature or key-extraction failure.
	Crypto Kind = "crypto"
	// StateMachine marks an invalid rotation transition or timeout.
	StateMachine Kind = "state_machine"
	// Fatal marks persistent storage corruption; engines stop accepting work.
	Fatal Kind = "fatal"
)

// Error is the typed wrapper every component returns for a non-nil failure.
// It always carries a Kind for classification, an Op describing which
// operation failed, and the identifiers relevant to the failure so an
// operator never has to grep logs to find out which tenant broke.
type Error struct {
	Kind       Kind
	Op         string
	TenantID   string
	RotationID string
	IncidentID string
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Message)
	if e.TenantID != "" {
		msg = fmt.Sprintf("%s (tenant=%s)", msg, e.TenantID)
	}
	if e.RotationID != "" {
		msg = fmt.Sprintf("%s (rotation=%s)", msg, e.RotationID)
	}
	if e.IncidentID != "" {
		msg = fmt.Sprintf("%s (incident=%s)", msg, e.IncidentID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match two *Error values by Kind, which is what callers
// need when comparing against a sentinel built with New.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// New constructs a typed Error.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap constructs a typed Error around an underlying cause.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: err.Error(), Err: err}
}

// WithTenant attaches a tenant id and returns the same error for chaining.
func (e *Error) WithTenant(tenantID string) *Error {
	e.TenantID = tenantID
	return e
}

// WithRotation attaches a rotation id and returns the same error for chaining.
func (e *Error) WithRotation(rotationID string) *Error {
	e.RotationID = rotationID
	return e
}

// WithIncident attaches an incident id and returns the same error for chaining.
func (e *Error) WithIncident(incidentID string) *Error {
	e.IncidentID = incidentID
	return e
}

// KindOf extracts the Kind from err, defaulting to Fatal for errors that
// were never classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Fatal
}

// IsNotFound reports whether err represents an absent record.
func IsNotFound(err error) bool {
	return KindOf(err) == NotFound
}

// IsConflict reports whether err represents a concurrent-write conflict.
func IsConflict(err error) bool {
	return KindOf(err) == Conflict
}

// IsRetryable reports whether the failure is a transient backend fault
// safe to retry locally.
func IsRetryable(err error) bool {
	return KindOf(err) == BackendUnavailable
}
