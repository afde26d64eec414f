package config_test

import (
	"log/slog"
	"os"
	"testing"

	"github.com/sentinel-audit/sentinel/pkg/config"
	"github.com/stretchr/testify/assert"
)

// TestLoad_Defaults verifies that Load() returns sensible defaults when no
// environment variables are set: redaction on, logging at info level.
func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SENTINEL_REDACT_PII", "")
	t.Setenv("SENTINEL_LOG_LEVEL", "")
	os.Unsetenv("SENTINEL_REDACT_PII")
	os.Unsetenv("SENTINEL_LOG_LEVEL")

	cfg := config.Load()

	assert.True(t, cfg.RedactPII)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

// TestLoad_Overrides verifies that environment variables correctly override
// the defaults.
func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SENTINEL_REDACT_PII", "false")
	t.Setenv("SENTINEL_LOG_LEVEL", "DEBUG")

	cfg := config.Load()

	assert.False(t, cfg.RedactPII)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

// TestLoad_RedactTruthyValues checks the recognized truthy spellings.
func TestLoad_RedactTruthyValues(t *testing.T) {
	for _, v := range []string{"1", "true", "TRUE", " True "} {
		t.Setenv("SENTINEL_REDACT_PII", v)
		cfg := config.Load()
		assert.True(t, cfg.RedactPII, "expected %q to enable redaction", v)
	}
}
