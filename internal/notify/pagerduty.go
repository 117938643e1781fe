package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// PagerDuty Events API v2 endpoint
const pagerDutyAPIURL = "https://events.pagerduty.com/v2/enqueue"

// PagerDutySeverity represents PagerDuty incident severity levels.
type PagerDutySeverity string

const (
	SeverityCritical PagerDutySeverity = "critical"
	SeverityError    PagerDutySeverity = "error"
	SeverityWarning  PagerDutySeverity = "warning"
	SeverityInfo     PagerDutySeverity = "info"
)

// PagerDutyConfig holds configuration for PagerDuty notifications.
type PagerDutyConfig struct {
	// IntegrationKey is the PagerDuty Events API v2 integration key.
	IntegrationKey string

	// ServiceID is the PagerDuty service ID (optional, for reference).
	ServiceID string

	// Severity is the default incident severity: critical, error, warning, info.
	// Defaults to "error" if empty.
	Severity string

	// Events specifies which rotation events trigger notifications.
	// If empty, all events are sent.
	Events []string

	// AutoResolve indicates whether to auto-resolve incidents on successful completion.
	AutoResolve bool
}

// PagerDutyProvider sends rotation notifications to PagerDuty.
type PagerDutyProvider struct {
	config PagerDutyConfig
	client *http.Client
	apiURL string
}

// NewPagerDutyProvider creates a new PagerDuty notification provider.
func NewPagerDutyProvider(config PagerDutyConfig) *PagerDutyProvider {
	return &PagerDutyProvider{
		config: config,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		apiURL: pagerDutyAPIURL,
	}
}

// Name returns the provider name.
func (p *PagerDutyProvider) Name() string {
	return "pagerduty"
}

// SupportsEvent returns true if this provider handles the given event type.
func (p *PagerDutyProvider) SupportsEvent(eventType EventType) bool {
	// If no events are configured, support all
	if len(p.config.Events) == 0 {
		return true
	}

	eventStr := string(eventType)
	for _, e := range p.config.Events {
		if strings.EqualFold(e, eventStr) {
			return true
		}
	}
	return false
}

// Validate checks if the provider configuration is valid.
func (p *PagerDutyProvider) Validate(ctx context.Context) error {
	if p.config.IntegrationKey == "" {
		return fmt.Errorf("integration key is required")
	}

	// Validate severity if set
	if p.config.Severity != "" {
		switch strings.ToLower(p.config.Severity) {
		case "critical", "error", "warning", "info":
			// Valid
		default:
			return fmt.Errorf("invalid severity: %s (must be critical, error, warning, or info)", p.config.Severity)
		}
	}

	return nil
}

// Send sends a PagerDuty event for the given rotation event.
func (p *PagerDutyProvider) Send(ctx context.Context, event Event) error {
	action := p.determineAction(event)

	// A completed-rotation resolve is gated by AutoResolve since not every
	// deployment wants a page auto-cleared on rotation success. An
	// incident resolution always clears its page: the incident record is
	// the source of truth here, not the rotation outcome.
	if action == "resolve" && event.Type != EventTypeIncidentResolved && !p.config.AutoResolve {
		return nil
	}

	payload := p.buildPayload(event, action)

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal PagerDuty payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send PagerDuty notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("PagerDuty returned status %d", resp.StatusCode)
	}

	return nil
}

// determineAction returns the PagerDuty event action for the event. A
// closed incident always resolves its page regardless of AutoResolve,
// since leaving a page open after the incident record itself has closed
// would desynchronize the two systems of record.
func (p *PagerDutyProvider) determineAction(event Event) string {
	switch event.Type {
	case EventTypeIncidentResolved:
		return "resolve"
	case EventTypeCompleted:
		if event.Status == StatusSuccess {
			return "resolve"
		}
		return "trigger"
	case EventTypeFailed, EventTypeRollback, EventTypeIncidentOpened:
		return "trigger"
	default:
		return "trigger"
	}
}

// buildPayload creates the PagerDuty Events API v2 payload.
func (p *PagerDutyProvider) buildPayload(event Event, action string) map[string]interface{} {
	payload := map[string]interface{}{
		"routing_key":  p.config.IntegrationKey,
		"event_action": action,
		"dedup_key":    p.buildDedupKey(event),
	}

	// Add payload details for trigger/acknowledge actions
	if action != "resolve" {
		payload["payload"] = p.buildEventPayload(event)
	} else {
		// For resolve, still include minimal payload
		payload["payload"] = map[string]interface{}{
			"summary":  p.buildSummary(event),
			"severity": p.getSeverity(event),
			"source":   "signctl-custody",
		}
	}

	return payload
}

// buildEventPayload creates the payload section for PagerDuty events.
func (p *PagerDutyProvider) buildEventPayload(event Event) map[string]interface{} {
	summary := p.buildSummary(event)

	customDetails := map[string]interface{}{
		"tenant_id": event.TenantID,
		"key_id":    event.KeyID,
		"event_type":  string(event.Type),
		"status":      string(event.Status),
		"timestamp":   event.Timestamp.Format(time.RFC3339),
	}

	if event.Strategy != "" {
		customDetails["strategy"] = event.Strategy
	}

	if event.Duration > 0 {
		customDetails["duration"] = event.Duration.String()
	}

	if event.Error != nil {
		customDetails["error"] = event.Error.Error()
	}

	// Add metadata
	for k, v := range event.Metadata {
		customDetails[k] = v
	}

	payload := map[string]interface{}{
		"summary":        summary,
		"severity":       p.getSeverity(event),
		"source":         "signctl-custody",
		"custom_details": customDetails,
	}

	// Add timestamp if available
	if !event.Timestamp.IsZero() {
		payload["timestamp"] = event.Timestamp.Format(time.RFC3339)
	}

	return payload
}

// buildSummary creates a human-readable summary for the PagerDuty incident.
func (p *PagerDutyProvider) buildSummary(event Event) string {
	var action string
	switch event.Type {
	case EventTypeStarted:
		action = "rotation started"
	case EventTypeCompleted:
		if event.Status == StatusSuccess {
			action = "rotation completed successfully"
		} else {
			action = "rotation completed with warnings"
		}
	case EventTypeFailed:
		action = "rotation failed"
	case EventTypeRollback:
		action = "rotation rolled back"
	case EventTypeIncidentOpened:
		action = fmt.Sprintf("custody incident opened (%s)", incidentTypeOrDefault(event))
	case EventTypeIncidentResolved:
		action = "custody incident resolved"
	default:
		action = "event"
	}

	summary := fmt.Sprintf("signctl %s: tenant %s, key %s", action, event.TenantID, event.KeyID)

	if event.Error != nil {
		summary = fmt.Sprintf("%s - %s", summary, event.Error.Error())
	}

	// Truncate to PagerDuty's limit (1024 chars)
	if len(summary) > 1024 {
		summary = summary[:1021] + "..."
	}

	return summary
}

// incidentTypeOrDefault reads the incident type out of event metadata,
// falling back to a generic label when the publisher didn't set one.
func incidentTypeOrDefault(event Event) string {
	if t, ok := event.Metadata["incident_type"]; ok && t != "" {
		return t
	}
	return "unspecified"
}

// buildDedupKey creates a deduplication key for the event so that related
// lifecycle transitions (trigger, resolve) for the same rotation or
// incident are grouped on the same PagerDuty page.
func (p *PagerDutyProvider) buildDedupKey(event Event) string {
	parts := []string{"signctl", event.TenantID, event.KeyID}

	switch {
	case event.IncidentID != "":
		parts = append(parts, "incident", event.IncidentID)
	case event.RotationID != "":
		parts = append(parts, "rotation", event.RotationID)
	}

	return strings.Join(parts, "-")
}

// getSeverity maps the event to a PagerDuty severity. Incident events
// carry their own severity in metadata (incident.go publishes it there);
// everything else falls back to the provider's configured default.
func (p *PagerDutyProvider) getSeverity(event Event) string {
	if sev, ok := event.Metadata["severity"]; ok && sev != "" {
		switch strings.ToLower(sev) {
		case "critical":
			return string(SeverityCritical)
		case "high":
			return string(SeverityError)
		case "medium":
			return string(SeverityWarning)
		case "low":
			return string(SeverityInfo)
		}
	}

	if p.config.Severity != "" {
		return strings.ToLower(p.config.Severity)
	}
	return string(SeverityError)
}

// PagerDutyNotificationConfig mirrors the config package type for internal use.
type PagerDutyNotificationConfig struct {
	IntegrationKey string
	ServiceID      string
	Severity       string
	Events         []string
	AutoResolve    bool
}

// CreatePagerDutyProvider creates a PagerDuty provider from config notification settings.
func CreatePagerDutyProvider(config *PagerDutyNotificationConfig) (*PagerDutyProvider, error) {
	if config == nil {
		return nil, fmt.Errorf("pagerduty config is nil")
	}

	pdConfig := PagerDutyConfig{
		IntegrationKey: config.IntegrationKey,
		ServiceID:      config.ServiceID,
		Severity:       config.Severity,
		Events:         config.Events,
		AutoResolve:    config.AutoResolve,
	}

	provider := NewPagerDutyProvider(pdConfig)
	if err := provider.Validate(context.Background()); err != nil {
		return nil, err
	}

	return provider, nil
}
