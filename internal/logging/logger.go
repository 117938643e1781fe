// Package logging provides the structured logger shared by every
// control-plane component, built on go.uber.org/zap.
package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap.SugaredLogger with the field conventions the control
// plane uses everywhere: tenant_id, rotation_id, incident_id.
type Logger struct {
	*zap.SugaredLogger
}

// New builds a Logger. debug selects development-style console encoding
// with debug level enabled; otherwise the logger emits JSON at info level,
// the shape an operator's log pipeline expects in production.
func New(debug bool) *Logger {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	base, err := cfg.Build()
	if err != nil {
		// zap's own config builder failing means stderr is unusable; fall
		// back to a no-op core rather than panic on a logging concern.
		base = zap.NewNop()
	}
	return &Logger{base.Sugar()}
}

// Nop returns a Logger that discards everything, for tests that don't
// care about log output.
func Nop() *Logger {
	return &Logger{zap.NewNop().Sugar()}
}

// WithTenant returns a child logger annotated with tenant_id.
func (l *Logger) WithTenant(tenantID string) *Logger {
	return &Logger{l.SugaredLogger.With("tenant_id", tenantID)}
}

// WithRotation returns a child logger annotated with rotation_id.
func (l *Logger) WithRotation(rotationID string) *Logger {
	return &Logger{l.SugaredLogger.With("rotation_id", rotationID)}
}

// WithIncident returns a child logger annotated with incident_id.
func (l *Logger) WithIncident(incidentID string) *Logger {
	return &Logger{l.SugaredLogger.With("incident_id", incidentID)}
}

// Sync flushes any buffered log entries; call on shutdown.
func (l *Logger) Sync() error {
	return l.SugaredLogger.Sync()
}

// Secret represents a value that must never reach a log line unredacted.
type Secret string

// String implements fmt.Stringer, always returning a redacted value.
func (s Secret) String() string {
	return "[REDACTED]"
}

// GoString implements fmt.GoStringer for %#v formatting.
func (s Secret) GoString() string {
	return "[REDACTED]"
}

// Redact replaces any occurrence of the given secrets in s with [REDACTED].
// Secrets shorter than 4 characters are skipped to avoid mangling
// incidental substrings.
func Redact(s string, secrets []string) string {
	result := s
	for _, secret := range secrets {
		if secret != "" && len(secret) > 3 {
			result = strings.ReplaceAll(result, secret, "[REDACTED]")
		}
	}
	return result
}
