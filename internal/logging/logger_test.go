package logging

import (
	"testing"
)

func TestSecretRedaction(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "secret is redacted", input: "my-secret-password", expected: "[REDACTED]"},
		{name: "empty secret is still redacted", input: "", expected: "[REDACTED]"},
		{name: "complex secret is redacted", input: "password123!@#", expected: "[REDACTED]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Secret(tt.input).String()
			if result != tt.expected {
				t.Errorf("Secret(%q).String() = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestLoggerSecretRedaction(t *testing.T) {
	secret := "super-secret-password"
	if got := Secret(secret).String(); got != "[REDACTED]" {
		t.Errorf("Expected [REDACTED], got %s", got)
	}
	if got := Secret(secret).GoString(); got != "[REDACTED]" {
		t.Errorf("Expected [REDACTED] for GoString, got %s", got)
	}
}

func TestNewBuildsUsableLogger(t *testing.T) {
	prod := New(false)
	debug := New(true)

	if prod == nil {
		t.Fatal("Failed to create production logger")
	}
	if debug == nil {
		t.Fatal("Failed to create debug logger")
	}

	debug.Info("info message")
	debug.Warnw("warn message", "k", "v")
	debug.Errorw("error message", "k", "v")
	debug.Debugf("debug %s", "message")
}

func TestWithContextHelpers(t *testing.T) {
	logger := Nop()

	tenantLogger := logger.WithTenant("acme")
	rotationLogger := tenantLogger.WithRotation("rot-1")
	incidentLogger := rotationLogger.WithIncident("inc-1")

	if incidentLogger == nil {
		t.Fatal("expected chained logger")
	}
	incidentLogger.Info("chained context logger works")
}

func TestRedactFunction(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		secrets  []string
		expected string
	}{
		{
			name:     "single secret redacted",
			input:    "The password is secret123",
			secrets:  []string{"secret123"},
			expected: "The password is [REDACTED]",
		},
		{
			name:     "multiple secrets redacted",
			input:    "User admin1 with password secret123 and API key abc123",
			secrets:  []string{"admin1", "secret123", "abc123"},
			expected: "User [REDACTED] with password [REDACTED] and API key [REDACTED]",
		},
		{
			name:     "no secrets to redact",
			input:    "This has no secrets",
			secrets:  []string{},
			expected: "This has no secrets",
		},
		{
			name:     "empty secret ignored",
			input:    "This has no secrets",
			secrets:  []string{""},
			expected: "This has no secrets",
		},
		{
			name:     "short secret ignored",
			input:    "Short secret: ab",
			secrets:  []string{"ab"},
			expected: "Short secret: ab",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Redact(tt.input, tt.secrets)
			if result != tt.expected {
				t.Errorf("Redact() = %q, want %q", result, tt.expected)
			}
		})
	}
}
