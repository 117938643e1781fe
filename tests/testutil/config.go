// Package testutil provides test utilities and helpers shared across the
// control plane's package tests: configuration builders, fixture loaders,
// environment-variable helpers, a capturing test logger, and assertion
// helpers.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/systmms/signctl/internal/config"
)

// TestConfigBuilder provides a fluent API for building test Config values
// without hand-writing YAML strings.
type TestConfigBuilder struct {
	config  *config.Config
	tempDir string
	t       *testing.T
}

// NewTestConfig creates a new TestConfigBuilder seeded with config.Default().
func NewTestConfig(t *testing.T) *TestConfigBuilder {
	t.Helper()

	return &TestConfigBuilder{
		config:  config.Default(),
		tempDir: t.TempDir(),
		t:       t,
	}
}

// WithRotation overrides the rotation defaults section.
func (b *TestConfigBuilder) WithRotation(r config.RotationConfig) *TestConfigBuilder {
	b.t.Helper()
	b.config.Rotation = r
	return b
}

// WithScheduler overrides the scheduler section.
func (b *TestConfigBuilder) WithScheduler(s config.SchedulerConfig) *TestConfigBuilder {
	b.t.Helper()
	b.config.Scheduler = s
	return b
}

// WithIncident overrides the incident section.
func (b *TestConfigBuilder) WithIncident(i config.IncidentConfig) *TestConfigBuilder {
	b.t.Helper()
	b.config.Incident = i
	return b
}

// WithMonitor overrides the health monitor section.
func (b *TestConfigBuilder) WithMonitor(m config.MonitorConfig) *TestConfigBuilder {
	b.t.Helper()
	b.config.Monitor = m
	return b
}

// WithStore overrides the store section.
func (b *TestConfigBuilder) WithStore(s config.StoreConfig) *TestConfigBuilder {
	b.t.Helper()
	b.config.Store = s
	return b
}

// Build returns the built in-memory Config.
func (b *TestConfigBuilder) Build() *config.Config {
	b.t.Helper()
	return b.config
}

// Write writes the configuration to a temporary file and returns its path.
func (b *TestConfigBuilder) Write() string {
	b.t.Helper()

	path := filepath.Join(b.tempDir, "signctl.yaml")
	data, err := yaml.Marshal(b.config)
	if err != nil {
		b.t.Fatalf("Failed to marshal test config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		b.t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

// WriteTestConfig writes a raw YAML string to a temporary file and returns
// its path, for tests exercising hand-written configuration documents.
func WriteTestConfig(t *testing.T, yamlContent string) string {
	t.Helper()

	tempDir := t.TempDir()
	path := filepath.Join(tempDir, "signctl.yaml")

	if err := os.WriteFile(path, []byte(yamlContent), 0o600); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

// LoadTestConfig loads a Config from a file path, failing the test on error.
func LoadTestConfig(t *testing.T, path string) *config.Config {
	t.Helper()

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}
