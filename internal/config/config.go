package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/joelkehle/greenlight/internal/llm"
)

const DefaultPath = "greenlight.yaml"

// Duration reads "90s" style strings from YAML.
type Duration struct{ time.Duration }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }

type ServerConfig struct {
	Addr       string `yaml:"addr"`
	AdminToken string `yaml:"admin_token"`
	// RateLimit uses the "<limit>-<period>" form, e.g. "10-M". Empty disables it.
	RateLimit string `yaml:"rate_limit"`
}

type LLMConfig struct {
	Provider       string   `yaml:"provider"`
	BaseURL        string   `yaml:"base_url"`
	APIKey         string   `yaml:"api_key"`
	OrganizationID string   `yaml:"organization_id"`
	Model          string   `yaml:"model"`
	RetryCount     int      `yaml:"retry_count"`
	BackoffFactor  Duration `yaml:"backoff_factor"`
	// Timeout caps each HTTP request to the provider. Zero leaves it unset.
	Timeout Duration `yaml:"timeout"`
}

type AnalysisConfig struct {
	Tokenizer      string   `yaml:"tokenizer"`
	MaxTokens      int      `yaml:"max_tokens"`
	MaxWords       int      `yaml:"max_words"`
	Attempts       int      `yaml:"attempts"`
	AttemptTimeout Duration `yaml:"attempt_timeout"`
	// CallTimeout bounds the recency check and the compile request.
	CallTimeout   Duration `yaml:"call_timeout"`
	Backoff       Duration `yaml:"backoff"`
	ReferenceYear int      `yaml:"reference_year"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type ReportConfig struct {
	ChromePath string `yaml:"chrome_path"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	LLM       LLMConfig       `yaml:"llm"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Store     StoreConfig     `yaml:"store"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
	Report    ReportConfig    `yaml:"report"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080", RateLimit: "10-M"},
		LLM: LLMConfig{
			Provider:      "openai",
			Model:         "gpt-4",
			RetryCount:    llm.DefaultRetryCount,
			BackoffFactor: Duration{llm.DefaultBackoff},
		},
		Analysis: AnalysisConfig{
			Tokenizer:      "gpt-4",
			MaxTokens:      3000,
			Attempts:       3,
			AttemptTimeout: Duration{60 * time.Second},
			CallTimeout:    Duration{60 * time.Second},
			Backoff:        Duration{time.Second},
		},
		Store:     StoreConfig{Path: "greenlight.db"},
		Telemetry: TelemetryConfig{ServiceName: "greenlight"},
		Log:       LogConfig{Level: "info"},
	}
}

// Load layers the YAML file, a .env file and the process environment over
// the defaults. An empty path reads DefaultPath when it exists.
func Load(path string) (*Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("LLM_PROVIDER", &c.LLM.Provider)
	str("LLM_MODEL", &c.LLM.Model)
	switch strings.ToLower(c.LLM.Provider) {
	case "anthropic":
		str("ANTHROPIC_API_KEY", &c.LLM.APIKey)
		str("ANTHROPIC_BASE_URL", &c.LLM.BaseURL)
	default:
		str("OPENAI_API_KEY", &c.LLM.APIKey)
		str("OPENAI_BASE_URL", &c.LLM.BaseURL)
		str("OPENAI_ORG_ID", &c.LLM.OrganizationID)
	}
	str("GREENLIGHT_ADDR", &c.Server.Addr)
	str("GREENLIGHT_ADMIN_TOKEN", &c.Server.AdminToken)
	str("GREENLIGHT_RATE_LIMIT", &c.Server.RateLimit)
	str("GREENLIGHT_DB_PATH", &c.Store.Path)
	str("GREENLIGHT_LOG_LEVEL", &c.Log.Level)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Telemetry.OTLPEndpoint)
	str("OTEL_SERVICE_NAME", &c.Telemetry.ServiceName)
	str("CHROME_PATH", &c.Report.ChromePath)
	if v := strings.TrimSpace(getenv("GREENLIGHT_LOG_JSON")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("GREENLIGHT_LOG_JSON: %w", err)
		}
		c.Log.JSON = b
	}
	for key, dst := range map[string]*int{
		"GREENLIGHT_MAX_WORDS":      &c.Analysis.MaxWords,
		"GREENLIGHT_MAX_TOKENS":     &c.Analysis.MaxTokens,
		"GREENLIGHT_REFERENCE_YEAR": &c.Analysis.ReferenceYear,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks settings every command needs.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LLM.Provider) {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("llm.provider must be openai or anthropic, got %q", c.LLM.Provider)
	}
	if c.Analysis.MaxTokens <= 0 {
		return fmt.Errorf("analysis.max_tokens must be positive")
	}
	if c.Analysis.MaxWords < 0 {
		return fmt.Errorf("analysis.max_words must not be negative")
	}
	if c.Analysis.Attempts <= 0 {
		return fmt.Errorf("analysis.attempts must be positive")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	return nil
}

// ValidateLLM checks the settings needed to reach the completion endpoint.
func (c *Config) ValidateLLM() error {
	anthropic := strings.EqualFold(c.LLM.Provider, "anthropic")
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		setting := "OPENAI_API_KEY"
		if anthropic {
			setting = "ANTHROPIC_API_KEY"
		}
		return &llm.ConfigError{Setting: "API key", Hint: "Please set " + setting + " in the environment or .env file."}
	}
	if !anthropic && strings.TrimSpace(c.LLM.BaseURL) == "" {
		return &llm.ConfigError{Setting: "API base URL", Hint: "Please set OPENAI_BASE_URL in the environment or .env file."}
	}
	return nil
}
