package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/arbiter/pkg/config"
)

var envKeys = []string{
	"ARBITER_CONFIG", "ARBITER_SECRET_KEY", "ARBITER_MASTER_SECRET", "ARBITER_KEY_LABEL",
	"ARBITER_POLICY_PATH", "ARBITER_TICKET_TTL", "ARBITER_ENFORCE_DISPUTE_WINDOW",
	"ARBITER_ANALYZER", "OPENAI_API_KEY", "OPENAI_MODEL", "OPENAI_BASE_URL",
	"ANTHROPIC_API_KEY", "ANTHROPIC_MODEL", "ANTHROPIC_BASE_URL",
	"ARBITER_ANALYZER_MAX_ATTEMPTS", "ARBITER_ANALYZER_RPS", "ARBITER_NONCE_STORE",
	"ARBITER_TRUSTED_KEYS", "LOG_LEVEL", "LOG_FORMAT", "OTEL_EXPORTER_OTLP_ENDPOINT",
	"OTEL_EXPORTER_OTLP_INSECURE", "ARBITER_ENV",
}

func cleanEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

// Load must boot with safe defaults when nothing is configured.
func TestLoad_Defaults(t *testing.T) {
	cleanEnv(t)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 24*time.Hour, cfg.TicketTTL)
	assert.True(t, cfg.EnforceDisputeWindow)
	assert.Equal(t, config.AnalyzerAdvisory, cfg.Analyzer)
	assert.Equal(t, uint(3), cfg.AnalyzerMaxAttempts)
	assert.Equal(t, "memory", cfg.NonceStore)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Empty(t, cfg.SecretKey)

	assert.Error(t, cfg.Validate(), "no key material configured")
}

func TestLoad_Overrides(t *testing.T) {
	cleanEnv(t)
	t.Setenv("ARBITER_SECRET_KEY", "00aa")
	t.Setenv("ARBITER_TICKET_TTL", "2h")
	t.Setenv("ARBITER_ENFORCE_DISPUTE_WINDOW", "false")
	t.Setenv("ARBITER_ANALYZER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-x")
	t.Setenv("OPENAI_MODEL", "local-model")
	t.Setenv("ARBITER_ANALYZER_MAX_ATTEMPTS", "5")
	t.Setenv("ARBITER_ANALYZER_RPS", "0.5")
	t.Setenv("ARBITER_NONCE_STORE", "sqlite:/tmp/nonces.db")
	t.Setenv("ARBITER_TRUSTED_KEYS", " aa , bb ,")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "00aa", cfg.SecretKey)
	assert.Equal(t, 2*time.Hour, cfg.TicketTTL)
	assert.False(t, cfg.EnforceDisputeWindow)
	assert.Equal(t, "sk-x", cfg.OpenAI.APIKey)
	assert.Equal(t, "local-model", cfg.OpenAI.Model)
	assert.Equal(t, uint(5), cfg.AnalyzerMaxAttempts)
	assert.Equal(t, 0.5, cfg.AnalyzerRPS)
	assert.Equal(t, []string{"aa", "bb"}, cfg.TrustedKeys)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_BadValues(t *testing.T) {
	for key, val := range map[string]string{
		"ARBITER_TICKET_TTL":             "a day",
		"ARBITER_ENFORCE_DISPUTE_WINDOW": "maybe",
		"ARBITER_ANALYZER_MAX_ATTEMPTS":  "-1",
		"ARBITER_ANALYZER_RPS":           "fast",
		"OTEL_EXPORTER_OTLP_INSECURE":    "yes please",
	} {
		t.Run(key, func(t *testing.T) {
			cleanEnv(t)
			t.Setenv(key, val)
			_, err := config.Load()
			assert.ErrorContains(t, err, key)
		})
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	cleanEnv(t)
	path := filepath.Join(t.TempDir(), "arbiter.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
key_label: arbiter-eu
ticket_ttl: 6h
analyzer: anthropic
anthropic:
  model: file-model
nonce_store: redis:localhost:6379
log_format: text
`), 0o600))
	t.Setenv("ARBITER_CONFIG", path)
	t.Setenv("ANTHROPIC_MODEL", "env-model")
	t.Setenv("ANTHROPIC_API_KEY", "ak")
	t.Setenv("ARBITER_MASTER_SECRET", "0123456789abcdef0123456789abcdef")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "arbiter-eu", cfg.KeyLabel)
	assert.Equal(t, 6*time.Hour, cfg.TicketTTL)
	assert.Equal(t, config.AnalyzerAnthropic, cfg.Analyzer)
	assert.Equal(t, "env-model", cfg.Anthropic.Model)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.NoError(t, cfg.Validate())

	t.Setenv("ARBITER_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err = config.Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *config.Config {
		c := config.Default()
		c.SecretKey = "00"
		return c
	}
	require.NoError(t, base().Validate())

	cases := map[string]func(*config.Config){
		"both keys":       func(c *config.Config) { c.MasterSecret = "x" },
		"zero ttl":        func(c *config.Config) { c.TicketTTL = 0 },
		"unknown backend": func(c *config.Config) { c.Analyzer = "oracle" },
		"openai no key":   func(c *config.Config) { c.Analyzer = config.AnalyzerOpenAI },
		"zero attempts":   func(c *config.Config) { c.AnalyzerMaxAttempts = 0 },
		"bad nonce store": func(c *config.Config) { c.NonceStore = "mongo:x" },
		"bad log format":  func(c *config.Config) { c.LogFormat = "xml" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base()
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestParseNonceStore(t *testing.T) {
	kind, target, err := config.ParseNonceStore("postgres:postgres://u@h/db?sslmode=disable")
	require.NoError(t, err)
	assert.Equal(t, "postgres", kind)
	assert.Equal(t, "postgres://u@h/db?sslmode=disable", target)

	kind, _, err = config.ParseNonceStore("")
	require.NoError(t, err)
	assert.Equal(t, "memory", kind)

	for _, bad := range []string{"sqlite:", "sqlite", "etcd:host"} {
		_, _, err := config.ParseNonceStore(bad)
		assert.Error(t, err, bad)
	}
}
