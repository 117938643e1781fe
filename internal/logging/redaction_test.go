package logging_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/systmms/signctl/internal/logging"
)

func TestSecretTypeString(t *testing.T) {
	t.Parallel()

	secretValue := "test-secret-value"
	secret := logging.Secret(secretValue)

	assert.Equal(t, "[REDACTED]", secret.String())
	assert.NotContains(t, secret.String(), secretValue)
}

func TestSecretGoString(t *testing.T) {
	t.Parallel()

	secretValue := "test-gostring-secret"
	secret := logging.Secret(secretValue)

	assert.Equal(t, "[REDACTED]", secret.GoString())
	assert.NotContains(t, secret.GoString(), secretValue)
}

func TestEmptySecretRedaction(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "[REDACTED]", logging.Secret("").String())
}

func TestSecretInterpolationNeverLeaksValue(t *testing.T) {
	t.Parallel()

	secretValue := "super-secret-password-12345"
	secret := logging.Secret(secretValue)

	rendered := secret.String() + " " + secret.GoString()
	assert.NotContains(t, rendered, secretValue)
}

func TestRedactFunction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		secrets  []string
		expected string
	}{
		{
			name:     "single_secret",
			input:    "password is secret123",
			secrets:  []string{"secret123"},
			expected: "password is [REDACTED]",
		},
		{
			name:     "multiple_secrets",
			input:    "user:admin1 password:secret123 token:xyz789",
			secrets:  []string{"admin1", "secret123", "xyz789"},
			expected: "user:[REDACTED] password:[REDACTED] token:[REDACTED]",
		},
		{
			name:     "no_secrets",
			input:    "public information",
			secrets:  []string{},
			expected: "public information",
		},
		{
			name:     "short_secrets_not_redacted",
			input:    "value is abc",
			secrets:  []string{"abc"},
			expected: "value is abc",
		},
		{
			name:     "empty_secret_ignored",
			input:    "value is test",
			secrets:  []string{""},
			expected: "value is test",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			result := logging.Redact(tt.input, tt.secrets)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestRedactCountsAllOccurrences(t *testing.T) {
	t.Parallel()

	secrets := []string{"password-123", "api-key-456", "token-789"}
	input := "Credentials: password=password-123, api_key=api-key-456, token=token-789"

	output := logging.Redact(input, secrets)

	assert.Equal(t, 3, strings.Count(output, "[REDACTED]"))
	for _, s := range secrets {
		assert.NotContains(t, output, s)
	}
}

func TestLoggerWithContextChaining(t *testing.T) {
	t.Parallel()

	logger := logging.Nop().WithTenant("acme").WithRotation("rot-1").WithIncident("inc-1")
	logger.Infow("chained context logger works")
}
