// Package health implements the periodic backend health probing and
// anomaly/compliance classification that feeds the incident engine.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/systmms/signctl/internal/backend"
	"github.com/systmms/signctl/internal/config"
	"github.com/systmms/signctl/internal/incident"
	"github.com/systmms/signctl/internal/logging"
	"github.com/systmms/signctl/internal/store"
)

// sampleCapacity is the bounded per-tenant ring buffer size.
const sampleCapacity = 100

// Sample is one health-probe observation for a tenant.
type Sample struct {
	Timestamp           time.Time
	Healthy             bool
	LatencyMS           int64
	SignaturesPerMinute float64
	ErrorRate           float64
}

// ring is a fixed-capacity circular buffer of Samples.
type ring struct {
	buf  []Sample
	next int
	size int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Sample, capacity)}
}

func (r *ring) add(s Sample) {
	r.buf[r.next] = s
	r.next = (r.next + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
}

// snapshot returns the samples currently held, oldest first.
func (r *ring) snapshot() []Sample {
	out := make([]Sample, r.size)
	start := r.next - r.size
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}

// Telemetry is the per-tenant signing activity collected from an external
// metrics source for one probe tick.
type Telemetry struct {
	SignaturesPerMinute float64
	ErrorRate           float64
	SignaturesLastHour  int
}

// TelemetrySource collects signing-activity telemetry for a tenant. The
// monitor has no opinion on where this data comes from (Prometheus query,
// in-process counters, a sidecar) — it only consumes the result.
type TelemetrySource interface {
	Collect(ctx context.Context, tenantID string) (Telemetry, error)
}

// BackendResolver maps a tenant to the SignBackend currently serving it
// and the key id whose health should be probed.
type BackendResolver interface {
	ResolveBackend(ctx context.Context, tenantID string) (backend.SignBackend, string, error)
}

// IncidentDetector is the narrow slice of incident.Engine the monitor
// needs, so tests can fake it without standing up a real Engine.
type IncidentDetector interface {
	DetectIncident(ctx context.Context, tenantID string, typ incident.Type, severity incident.Severity, description string, affectedKeys []string) (*store.IncidentRecord, error)
}

// Monitor runs the periodic health-check loop described in the incident
// engine's health monitor contract: probe, classify anomalies, classify
// compliance violations, feed detect_incident.
type Monitor struct {
	cfg       config.MonitorConfig
	store     store.Store
	resolver  BackendResolver
	telemetry TelemetrySource
	detector  IncidentDetector
	log       *logging.Logger

	mu      sync.RWMutex
	buffers map[string]*ring

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor builds a Monitor. log may be nil.
func NewMonitor(cfg config.MonitorConfig, st store.Store, resolver BackendResolver, telemetry TelemetrySource, detector IncidentDetector, log *logging.Logger) *Monitor {
	if log == nil {
		log = logging.Nop()
	}
	return &Monitor{
		cfg:       cfg,
		store:     st,
		resolver:  resolver,
		telemetry: telemetry,
		detector:  detector,
		log:       log,
		buffers:   make(map[string]*ring),
	}
}

// Start begins the background probe loop. It returns immediately; call
// Stop to shut the loop down.
func (m *Monitor) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	interval := time.Duration(m.cfg.HealthCheckIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}

	go m.loop(loopCtx, interval)
}

// Stop cancels the probe loop and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

func (m *Monitor) loop(ctx context.Context, interval time.Duration) {
	defer close(m.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick runs one probe-and-classify pass over every tenant in the store.
// It is exported so a caller (or a test) can drive a deterministic pass
// without waiting on the ticker.
func (m *Monitor) Tick(ctx context.Context) {
	tenants, err := m.store.ListTenants(ctx)
	if err != nil {
		m.log.Errorw("health monitor failed to list tenants", "error", err)
		return
	}

	for _, tenantID := range tenants {
		m.probeTenant(ctx, tenantID)
	}
}

func (m *Monitor) probeTenant(ctx context.Context, tenantID string) {
	be, keyID, err := m.resolver.ResolveBackend(ctx, tenantID)
	if err != nil {
		m.log.WithTenant(tenantID).Warnw("cannot resolve backend for health probe", "error", err)
		return
	}

	start := time.Now()
	status, healthErr := be.HealthCheck(ctx)
	latency := status.LatencyMS
	if latency == 0 {
		latency = time.Since(start).Milliseconds()
	}
	healthy := healthErr == nil && status.Healthy

	telemetry := Telemetry{}
	if m.telemetry != nil {
		if t, err := m.telemetry.Collect(ctx, tenantID); err == nil {
			telemetry = t
		} else {
			m.log.WithTenant(tenantID).Warnw("telemetry collection failed", "error", err)
		}
	}

	sample := Sample{
		Timestamp:           time.Now(),
		Healthy:             healthy,
		LatencyMS:           latency,
		SignaturesPerMinute: telemetry.SignaturesPerMinute,
		ErrorRate:           telemetry.ErrorRate,
	}

	m.mu.Lock()
	buf, ok := m.buffers[tenantID]
	if !ok {
		buf = newRing(sampleCapacity)
		m.buffers[tenantID] = buf
	}
	baseline := computeBaseline(buf.snapshot())
	buf.add(sample)
	m.mu.Unlock()

	if m.cfg.AnomalyDetectionEnabled {
		m.classifyAnomalies(ctx, tenantID, keyID, be, sample, baseline)
	}
	if m.cfg.ComplianceMonitoring {
		m.classifyCompliance(ctx, tenantID, keyID, telemetry)
	}
}

// baseline is the historical mean computed over a tenant's ring buffer
// before the current sample is folded in.
type baseline struct {
	meanLatencyMS float64
	meanErrorRate float64
	healthyRatio  float64
	count         int
}

func computeBaseline(samples []Sample) baseline {
	if len(samples) == 0 {
		return baseline{}
	}
	var latencySum, errSum float64
	healthyCount := 0
	for _, s := range samples {
		latencySum += float64(s.LatencyMS)
		errSum += s.ErrorRate
		if s.Healthy {
			healthyCount++
		}
	}
	n := float64(len(samples))
	return baseline{
		meanLatencyMS: latencySum / n,
		meanErrorRate: errSum / n,
		healthyRatio:  float64(healthyCount) / n,
		count:         len(samples),
	}
}

func (m *Monitor) classifyAnomalies(ctx context.Context, tenantID, keyID string, be backend.SignBackend, sample Sample, base baseline) {
	isHSM := be.BackendKind() == backend.KindHSM

	if !sample.Healthy {
		typ, sev := backendFailureClassification(isHSM)
		m.detect(ctx, tenantID, typ, sev, "backend health check failed", keyID)
		return
	}

	if base.count >= 3 && base.healthyRatio < m.cfg.BackendHealthThreshold {
		typ, sev := backendFailureClassification(isHSM)
		m.detect(ctx, tenantID, typ, sev, fmt.Sprintf("healthy ratio %.2f below threshold %.2f", base.healthyRatio, m.cfg.BackendHealthThreshold), keyID)
		return
	}

	if base.count >= 3 && base.meanLatencyMS > 0 && float64(sample.LatencyMS) > 3*base.meanLatencyMS {
		m.detect(ctx, tenantID, incident.TypeBackendOutage, incident.SeverityMedium,
			fmt.Sprintf("latency %dms exceeds 3x baseline %.0fms", sample.LatencyMS, base.meanLatencyMS), keyID)
	}

	if sample.ErrorRate > m.cfg.ErrorRateThreshold {
		typ, sev := backendFailureClassification(isHSM)
		m.detect(ctx, tenantID, typ, sev, fmt.Sprintf("error rate %.4f exceeds threshold %.4f", sample.ErrorRate, m.cfg.ErrorRateThreshold), keyID)
	}

	if sample.SignaturesPerMinute < m.cfg.SignatureRateThreshold {
		m.detect(ctx, tenantID, incident.TypeBackendOutage, incident.SeverityLow,
			fmt.Sprintf("signature rate %.2f/min below threshold %.2f/min", sample.SignaturesPerMinute, m.cfg.SignatureRateThreshold), keyID)
	}
}

// backendFailureClassification maps a generic backend health failure to
// an incident type: HSM failures get their own type, everything else is
// a backend outage.
func backendFailureClassification(isHSM bool) (incident.Type, incident.Severity) {
	if isHSM {
		return incident.TypeHSMFailure, incident.SeverityHigh
	}
	return incident.TypeBackendOutage, incident.SeverityHigh
}

func (m *Monitor) classifyCompliance(ctx context.Context, tenantID, keyID string, telemetry Telemetry) {
	p, err := m.store.GetPolicy(ctx, tenantID)
	if err != nil {
		m.log.WithTenant(tenantID).Warnw("cannot load policy for compliance check", "error", err)
		return
	}

	now := time.Now()
	k := p.Key
	daysLeft := k.NotAfter.Sub(now).Hours() / 24
	switch {
	case daysLeft < 7:
		m.detect(ctx, tenantID, incident.TypePolicyViolation, incident.SeverityHigh,
			fmt.Sprintf("key %s certificate expires in %.1f days", k.KeyID, daysLeft), k.KeyID)
	case daysLeft < 30:
		m.detect(ctx, tenantID, incident.TypePolicyViolation, incident.SeverityMedium,
			fmt.Sprintf("key %s certificate expires in %.1f days", k.KeyID, daysLeft), k.KeyID)
	}
	var maxIssuancePer24h int
	if k.KeyID == keyID {
		maxIssuancePer24h = k.MaxIssuancePer24h
	}

	if maxIssuancePer24h > 0 {
		hourlyLimit := float64(maxIssuancePer24h) / 24
		if float64(telemetry.SignaturesLastHour) > hourlyLimit {
			m.detect(ctx, tenantID, incident.TypeComplianceFailure, incident.SeverityMedium,
				fmt.Sprintf("issued %d signatures in the last hour, exceeding hourly allowance %.1f", telemetry.SignaturesLastHour, hourlyLimit), keyID)
		}
	}
}

func (m *Monitor) detect(ctx context.Context, tenantID string, typ incident.Type, sev incident.Severity, description, keyID string) {
	if m.detector == nil {
		m.log.WithTenant(tenantID).Warnw("no incident detector configured, dropping symptom", "type", typ, "description", description)
		return
	}
	var affected []string
	if keyID != "" {
		affected = []string{keyID}
	}
	if _, err := m.detector.DetectIncident(ctx, tenantID, typ, sev, description, affected); err != nil {
		m.log.WithTenant(tenantID).Errorw("failed to record detected incident", "error", err, "type", typ)
	}
}
