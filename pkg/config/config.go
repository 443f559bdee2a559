// Package config loads arbiter settings from the environment, optionally
// layered over a YAML file named by ARBITER_CONFIG.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Analyzer backends.
const (
	AnalyzerAdvisory  = "advisory"
	AnalyzerStatic    = "static"
	AnalyzerOpenAI    = "openai"
	AnalyzerAnthropic = "anthropic"
)

// Provider holds credentials and endpoint for one analyzer backend.
type Provider struct {
	APIKey  string `yaml:"-"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// Config is the complete arbiter configuration. Secrets are never read from
// the YAML file.
type Config struct {
	SecretKey    string `yaml:"-"`
	MasterSecret string `yaml:"-"`
	KeyLabel     string `yaml:"key_label"`

	PolicyPath           string        `yaml:"policy_path"` // comma-separated; highest version is active
	TicketTTL            time.Duration `yaml:"ticket_ttl"`
	EnforceDisputeWindow bool          `yaml:"enforce_dispute_window"`

	Analyzer            string   `yaml:"analyzer"`
	OpenAI              Provider `yaml:"openai"`
	Anthropic           Provider `yaml:"anthropic"`
	AnalyzerMaxAttempts uint     `yaml:"analyzer_max_attempts"`
	AnalyzerRPS         float64  `yaml:"analyzer_rps"`

	NonceStore   string   `yaml:"nonce_store"`
	TrustedKeys  []string `yaml:"trusted_keys"`
	LogLevel     string   `yaml:"log_level"`
	LogFormat    string   `yaml:"log_format"`
	OTLPEndpoint string   `yaml:"otlp_endpoint"`
	OTLPInsecure bool     `yaml:"otlp_insecure"`
	Environment  string   `yaml:"environment"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		KeyLabel:             "arbiter",
		TicketTTL:            24 * time.Hour,
		EnforceDisputeWindow: true,
		Analyzer:             AnalyzerAdvisory,
		AnalyzerMaxAttempts:  3,
		AnalyzerRPS:          1,
		NonceStore:           "memory",
		LogLevel:             "INFO",
		LogFormat:            "json",
		Environment:          "development",
	}
}

// Load builds the configuration: defaults, then the ARBITER_CONFIG file if
// set, then environment variables.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv("ARBITER_CONFIG"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.overlayEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) overlayEnv() error {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	str("ARBITER_SECRET_KEY", &c.SecretKey)
	str("ARBITER_MASTER_SECRET", &c.MasterSecret)
	str("ARBITER_KEY_LABEL", &c.KeyLabel)
	str("ARBITER_POLICY_PATH", &c.PolicyPath)
	str("ARBITER_ANALYZER", &c.Analyzer)
	str("OPENAI_API_KEY", &c.OpenAI.APIKey)
	str("OPENAI_MODEL", &c.OpenAI.Model)
	str("OPENAI_BASE_URL", &c.OpenAI.BaseURL)
	str("ANTHROPIC_API_KEY", &c.Anthropic.APIKey)
	str("ANTHROPIC_MODEL", &c.Anthropic.Model)
	str("ANTHROPIC_BASE_URL", &c.Anthropic.BaseURL)
	str("ARBITER_NONCE_STORE", &c.NonceStore)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &c.OTLPEndpoint)
	str("ARBITER_ENV", &c.Environment)

	if v := os.Getenv("ARBITER_TRUSTED_KEYS"); v != "" {
		c.TrustedKeys = nil
		for _, k := range strings.Split(v, ",") {
			if k = strings.TrimSpace(k); k != "" {
				c.TrustedKeys = append(c.TrustedKeys, k)
			}
		}
	}
	if v := os.Getenv("ARBITER_TICKET_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: ARBITER_TICKET_TTL: %w", err)
		}
		c.TicketTTL = d
	}
	if v := os.Getenv("ARBITER_ENFORCE_DISPUTE_WINDOW"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: ARBITER_ENFORCE_DISPUTE_WINDOW: %w", err)
		}
		c.EnforceDisputeWindow = b
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_INSECURE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: OTEL_EXPORTER_OTLP_INSECURE: %w", err)
		}
		c.OTLPInsecure = b
	}
	if v := os.Getenv("ARBITER_ANALYZER_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("config: ARBITER_ANALYZER_MAX_ATTEMPTS: %w", err)
		}
		c.AnalyzerMaxAttempts = uint(n)
	}
	if v := os.Getenv("ARBITER_ANALYZER_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: ARBITER_ANALYZER_RPS: %w", err)
		}
		c.AnalyzerRPS = f
	}
	return nil
}

// Validate checks settings needed to issue tickets. Verification-only
// commands do not call it.
func (c *Config) Validate() error {
	var errs []error
	if c.SecretKey == "" && c.MasterSecret == "" {
		errs = append(errs, errors.New("one of ARBITER_SECRET_KEY or ARBITER_MASTER_SECRET is required"))
	}
	if c.SecretKey != "" && c.MasterSecret != "" {
		errs = append(errs, errors.New("ARBITER_SECRET_KEY and ARBITER_MASTER_SECRET are mutually exclusive"))
	}
	if c.TicketTTL <= 0 {
		errs = append(errs, fmt.Errorf("ticket ttl must be positive, got %s", c.TicketTTL))
	}
	switch c.Analyzer {
	case AnalyzerAdvisory, AnalyzerStatic:
	case AnalyzerOpenAI:
		if c.OpenAI.APIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required for the openai analyzer"))
		}
	case AnalyzerAnthropic:
		if c.Anthropic.APIKey == "" {
			errs = append(errs, errors.New("ANTHROPIC_API_KEY is required for the anthropic analyzer"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown analyzer %q", c.Analyzer))
	}
	if c.AnalyzerMaxAttempts == 0 {
		errs = append(errs, errors.New("analyzer max attempts must be at least 1"))
	}
	if c.AnalyzerRPS < 0 {
		errs = append(errs, fmt.Errorf("analyzer rps must not be negative, got %v", c.AnalyzerRPS))
	}
	if _, _, err := ParseNonceStore(c.NonceStore); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// ParseNonceStore splits a nonce store locator into backend and target:
// "memory", "sqlite:<path>", "postgres:<dsn>" or "redis:<addr>", where addr
// may also be a redis:// or rediss:// URL.
func ParseNonceStore(s string) (kind, target string, err error) {
	if s == "" || s == "memory" {
		return "memory", "", nil
	}
	kind, target, ok := strings.Cut(s, ":")
	if !ok || target == "" {
		return "", "", fmt.Errorf("nonce store %q: want memory, sqlite:<path>, postgres:<dsn> or redis:<addr>", s)
	}
	switch kind {
	case "sqlite", "postgres", "redis":
		return kind, target, nil
	default:
		return "", "", fmt.Errorf("nonce store %q: unknown backend %q", s, kind)
	}
}
