// Package metrics exposes the Prometheus counters and gauges the rotation
// engine, scheduler, incident engine, and health monitor record against,
// following the same lazily-registered package-level vars the teacher
// uses for its own rotation/health metrics.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rotationStartedTotal   *prometheus.CounterVec
	rotationCompletedTotal *prometheus.CounterVec
	rotationDuration       *prometheus.HistogramVec
	rollbackTotal          *prometheus.CounterVec
	canarySuccessRatio     *prometheus.GaugeVec

	schedulerDueGauge      prometheus.Gauge
	schedulerWarningGauge  prometheus.Gauge
	schedulerOverdueGauge  prometheus.Gauge
	schedulerTenantsGauge  prometheus.Gauge
	schedulerTickDuration  prometheus.Histogram

	incidentOpenedTotal      *prometheus.CounterVec
	incidentAutoResponseTotal *prometheus.CounterVec
	incidentOpenGauge        *prometheus.GaugeVec

	healthCheckDuration *prometheus.HistogramVec
	healthCheckStatus   *prometheus.GaugeVec

	once       sync.Once
	registered bool
)

// Init registers every metric exactly once. Call it during startup if
// Prometheus metrics are enabled; every Record* call below is a no-op
// until it has run, so components can call Record* unconditionally.
func Init() {
	once.Do(func() {
		rotationStartedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signctl_rotation_started_total",
				Help: "Total number of key rotations started, by tenant and emergency flag.",
			},
			[]string{"tenant_id", "emergency"},
		)

		rotationCompletedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signctl_rotation_completed_total",
				Help: "Total number of key rotations completed, by tenant and outcome.",
			},
			[]string{"tenant_id", "outcome"},
		)

		rotationDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signctl_rotation_duration_seconds",
				Help:    "Wall-clock duration of a rotation from Scheduled to a terminal phase.",
				Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"tenant_id"},
		)

		rollbackTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signctl_rollback_total",
				Help: "Total number of rotations rolled back after a failed post-cutover validation.",
			},
			[]string{"tenant_id"},
		)

		canarySuccessRatio = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "signctl_canary_success_ratio",
				Help: "Fraction of canary samples that verified on the most recent rotation's canary pass.",
			},
			[]string{"tenant_id"},
		)

		schedulerDueGauge = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "signctl_scheduler_due_rotations",
			Help: "Number of rotation calendar entries currently due.",
		})
		schedulerWarningGauge = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "signctl_scheduler_warning_rotations",
			Help: "Number of rotation calendar entries inside the advance-warning window.",
		})
		schedulerOverdueGauge = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "signctl_scheduler_overdue_rotations",
			Help: "Number of rotation calendar entries past their due date and not yet dispatched.",
		})
		schedulerTenantsGauge = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "signctl_scheduler_tenants_total",
			Help: "Total number of tenants with a calendar entry tracked by the scheduler.",
		})
		schedulerTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "signctl_scheduler_tick_duration_seconds",
			Help:    "Duration of one scheduler partition-and-dispatch pass.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
		})

		incidentOpenedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signctl_incident_opened_total",
				Help: "Total number of incidents opened, by type and severity.",
			},
			[]string{"type", "severity"},
		)
		incidentAutoResponseTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signctl_incident_auto_response_total",
				Help: "Total number of automated incident responses taken, by response kind.",
			},
			[]string{"response"},
		)
		incidentOpenGauge = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "signctl_incident_open",
				Help: "Number of currently open incidents, by tenant.",
			},
			[]string{"tenant_id"},
		)

		healthCheckDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signctl_health_check_duration_seconds",
				Help:    "Duration of a backend health probe.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"tenant_id"},
		)
		healthCheckStatus = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "signctl_health_check_status",
				Help: "Current backend health status (1=healthy, 0=unhealthy), by tenant.",
			},
			[]string{"tenant_id"},
		)

		registered = true
	})
}

// RecordRotationStarted increments the started counter.
func RecordRotationStarted(tenantID string, emergency bool) {
	if !registered {
		return
	}
	rotationStartedTotal.WithLabelValues(tenantID, boolLabel(emergency)).Inc()
}

// RecordRotationCompleted increments the completed counter and observes
// the rotation's wall-clock duration.
func RecordRotationCompleted(tenantID, outcome string, durationSeconds float64) {
	if !registered {
		return
	}
	rotationCompletedTotal.WithLabelValues(tenantID, outcome).Inc()
	rotationDuration.WithLabelValues(tenantID).Observe(durationSeconds)
}

// RecordRollback increments the rollback counter for tenantID.
func RecordRollback(tenantID string) {
	if !registered {
		return
	}
	rollbackTotal.WithLabelValues(tenantID).Inc()
}

// RecordCanarySuccessRatio sets the gauge for a tenant's most recent
// canary pass.
func RecordCanarySuccessRatio(tenantID string, ratio float64) {
	if !registered {
		return
	}
	canarySuccessRatio.WithLabelValues(tenantID).Set(ratio)
}

// RecordSchedulerTick sets the partition gauges and observes one tick's
// duration.
func RecordSchedulerTick(due, warning, overdue, tenants int, durationSeconds float64) {
	if !registered {
		return
	}
	schedulerDueGauge.Set(float64(due))
	schedulerWarningGauge.Set(float64(warning))
	schedulerOverdueGauge.Set(float64(overdue))
	schedulerTenantsGauge.Set(float64(tenants))
	schedulerTickDuration.Observe(durationSeconds)
}

// RecordIncidentOpened increments the opened counter and the open-incident
// gauge for tenantID.
func RecordIncidentOpened(tenantID, incidentType, severity string) {
	if !registered {
		return
	}
	incidentOpenedTotal.WithLabelValues(incidentType, severity).Inc()
	incidentOpenGauge.WithLabelValues(tenantID).Inc()
}

// RecordIncidentResolved decrements the open-incident gauge for tenantID.
func RecordIncidentResolved(tenantID string) {
	if !registered {
		return
	}
	incidentOpenGauge.WithLabelValues(tenantID).Dec()
}

// RecordAutoResponse increments the automated-response counter for
// response.
func RecordAutoResponse(response string) {
	if !registered {
		return
	}
	incidentAutoResponseTotal.WithLabelValues(response).Inc()
}

// RecordHealthCheck observes a probe's duration and sets the health
// status gauge for tenantID.
func RecordHealthCheck(tenantID string, healthy bool, durationSeconds float64) {
	if !registered {
		return
	}
	healthCheckDuration.WithLabelValues(tenantID).Observe(durationSeconds)
	value := 0.0
	if healthy {
		value = 1.0
	}
	healthCheckStatus.WithLabelValues(tenantID).Set(value)
}

// IsRegistered reports whether Init has run.
func IsRegistered() bool {
	return registered
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
