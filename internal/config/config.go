// Package config loads and validates the control plane's operator-facing
// YAML configuration: rotation defaults, scheduler cadence, incident
// response thresholds, health monitor thresholds, and evidence pack
// output settings.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document for a signctld deployment.
type Config struct {
	Rotation      RotationConfig     `yaml:"rotation"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Incident      IncidentConfig     `yaml:"incident"`
	Monitor       MonitorConfig      `yaml:"monitor"`
	Evidence      EvidenceConfig     `yaml:"evidence"`
	Notifications NotificationConfig `yaml:"notifications,omitempty"`
	Store         StoreConfig        `yaml:"store"`
}

// RotationConfig holds the defaults applied to a rotation unless a
// tenant's policy overrides them.
type RotationConfig struct {
	ApprovalRequired      bool   `yaml:"approval_required"`
	CanaryCount           int    `yaml:"canary_count"`
	CutoverTimeoutMinutes int    `yaml:"cutover_timeout_minutes"`
	RollbackEnabled       bool   `yaml:"rollback_enabled"`
	NotificationWebhook   string `yaml:"notification_webhook,omitempty"`

	// CanaryAssetSourceURL, when set, points the canary sampler at an
	// HTTP endpoint returning the tenant's signed-asset inventory. Left
	// empty, rotations run with zero canary assets available.
	CanaryAssetSourceURL string `yaml:"canary_asset_source_url,omitempty"`

	// RootValidityDays and LeafValidityDays bound the internal
	// self-signed CA's root and per-rotation leaf certificate lifetimes.
	RootValidityDays int `yaml:"root_validity_days,omitempty"`
	LeafValidityDays int `yaml:"leaf_validity_days,omitempty"`
}

// SchedulerConfig controls the background tick loop that schedules due
// rotations.
type SchedulerConfig struct {
	CheckIntervalSeconds   int  `yaml:"check_interval_seconds"`
	RotationWindowDays     int  `yaml:"rotation_window_days"`
	AdvanceWarningDays     int  `yaml:"advance_warning_days"`
	MaxConcurrentRotations int  `yaml:"max_concurrent_rotations"`
	AutoApproveRotations   bool `yaml:"auto_approve_rotations"`
}

// IncidentConfig controls incident detection and auto-response behavior.
type IncidentConfig struct {
	AutoEscalate             bool   `yaml:"auto_escalate"`
	EmergencyRotationEnabled bool   `yaml:"emergency_rotation_enabled"`
	MassResignThreshold      int    `yaml:"mass_resign_threshold"`
	ComplianceReporting      bool   `yaml:"compliance_reporting"`
	NotificationWebhook      string `yaml:"notification_webhook,omitempty"`
	RollbackTimeoutMinutes   int    `yaml:"rollback_timeout_minutes"`
}

// MonitorConfig controls the health monitor's polling cadence and
// anomaly-detection thresholds.
type MonitorConfig struct {
	HealthCheckIntervalSeconds int     `yaml:"health_check_interval_seconds"`
	AnomalyDetectionEnabled    bool    `yaml:"anomaly_detection_enabled"`
	ComplianceMonitoring       bool    `yaml:"compliance_monitoring"`
	BackendHealthThreshold     float64 `yaml:"backend_health_threshold"`
	SignatureRateThreshold     float64 `yaml:"signature_rate_threshold"`
	ErrorRateThreshold         float64 `yaml:"error_rate_threshold"`
}

// EvidenceConfig controls how the rotation evidence pack builder writes
// its output.
type EvidenceConfig struct {
	OutputDirectory    string `yaml:"output_directory"`
	IncludeAttestation bool   `yaml:"include_attestation"`
	CanaryCount        int    `yaml:"canary_count"`
	SignWithOpsKey     bool   `yaml:"sign_with_ops_key"`
	OpsKeyID           string `yaml:"ops_key_id,omitempty"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	// Driver selects the store implementation: "postgres" or "memory".
	Driver string `yaml:"driver"`

	// DSN is the lib/pq connection string, used when Driver is "postgres".
	DSN string `yaml:"dsn,omitempty"`

	// MigrationsPath is accepted in configuration but nothing reads it:
	// store.RunMigrations always applies the migrations embedded in the
	// binary.
	MigrationsPath string `yaml:"migrations_path,omitempty"`
}

// Default returns the configuration applied when no file is supplied,
// matching the invariant defaults named in the policy model.
func Default() *Config {
	return &Config{
		Rotation: RotationConfig{
			ApprovalRequired:      true,
			CanaryCount:           3,
			CutoverTimeoutMinutes: 15,
			RollbackEnabled:       true,
			RootValidityDays:      3650,
			LeafValidityDays:      397,
		},
		Scheduler: SchedulerConfig{
			CheckIntervalSeconds:   60,
			RotationWindowDays:     7,
			AdvanceWarningDays:     14,
			MaxConcurrentRotations: 5,
			AutoApproveRotations:   false,
		},
		Incident: IncidentConfig{
			AutoEscalate:             true,
			EmergencyRotationEnabled: true,
			MassResignThreshold:      1000,
			ComplianceReporting:      true,
			RollbackTimeoutMinutes:   30,
		},
		Monitor: MonitorConfig{
			HealthCheckIntervalSeconds: 30,
			AnomalyDetectionEnabled:    true,
			ComplianceMonitoring:       true,
			BackendHealthThreshold:     0.99,
			SignatureRateThreshold:     0.5,
			ErrorRateThreshold:         0.05,
		},
		Evidence: EvidenceConfig{
			OutputDirectory:    "./evidence",
			IncludeAttestation: true,
			CanaryCount:        3,
		},
		Store: StoreConfig{
			Driver: "memory",
		},
	}
}

// Load reads and validates a configuration file at path, filling in
// defaults for any field left unset.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field invariants that defaulting alone can't
// enforce.
func (c *Config) Validate() error {
	if c.Rotation.CanaryCount < 0 {
		return fmt.Errorf("rotation.canary_count must be non-negative")
	}
	if c.Scheduler.CheckIntervalSeconds <= 0 {
		return fmt.Errorf("scheduler.check_interval_seconds must be positive")
	}
	if c.Scheduler.MaxConcurrentRotations <= 0 {
		return fmt.Errorf("scheduler.max_concurrent_rotations must be positive")
	}
	if c.Incident.MassResignThreshold < 0 {
		return fmt.Errorf("incident.mass_resign_threshold must be non-negative")
	}
	switch c.Store.Driver {
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required when store.driver is postgres")
		}
	case "memory", "":
		// no additional requirements
	default:
		return fmt.Errorf("store.driver %q is not recognized", c.Store.Driver)
	}
	return nil
}
