package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joelkehle/greenlight/internal/llm"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 3000, cfg.Analysis.MaxTokens)
	assert.Equal(t, 60*time.Second, cfg.Analysis.AttemptTimeout.Duration)
	assert.Equal(t, 60*time.Second, cfg.Analysis.CallTimeout.Duration)
	assert.Zero(t, cfg.LLM.Timeout.Duration)
	assert.Equal(t, "openai", cfg.LLM.Provider)
}

func TestLoadYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := writeFile(t, dir, "custom.yaml", `
server:
  addr: ":9090"
  admin_token: from-file
llm:
  base_url: https://llm.internal
  backoff_factor: 250ms
analysis:
  max_words: 1000
  attempt_timeout: 45s
  reference_year: 2024
`)
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("GREENLIGHT_ADMIN_TOKEN", "from-env")
	t.Setenv("GREENLIGHT_MAX_TOKENS", "1500")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "from-env", cfg.Server.AdminToken)
	assert.Equal(t, "https://llm.internal", cfg.LLM.BaseURL)
	assert.Equal(t, "sk-env", cfg.LLM.APIKey)
	assert.Equal(t, 250*time.Millisecond, cfg.LLM.BackoffFactor.Duration)
	assert.Equal(t, 1000, cfg.Analysis.MaxWords)
	assert.Equal(t, 1500, cfg.Analysis.MaxTokens)
	assert.Equal(t, 45*time.Second, cfg.Analysis.AttemptTimeout.Duration)
	assert.Equal(t, 2024, cfg.Analysis.ReferenceYear)
	require.NoError(t, cfg.ValidateLLM())
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeFile(t, dir, ".env", "GREENLIGHT_DB_PATH=from-dotenv.db\n")
	t.Cleanup(func() { os.Unsetenv("GREENLIGHT_DB_PATH") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv.db", cfg.Store.Path)
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := writeFile(t, dir, "bad.yaml", "llm:\n  provider: carrier-pigeon\n")
	_, err := Load(path)
	assert.ErrorContains(t, err, "llm.provider")

	t.Setenv("GREENLIGHT_MAX_WORDS", "lots")
	_, err = Load("")
	assert.ErrorContains(t, err, "GREENLIGHT_MAX_WORDS")
}

func TestValidateLLMReportsMissingSettings(t *testing.T) {
	cfg := Default()
	err := cfg.ValidateLLM()
	var cfgErr *llm.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), "API key not set")

	cfg.LLM.APIKey = "sk"
	err = cfg.ValidateLLM()
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), "API base URL not set")

	cfg.LLM.Provider = "anthropic"
	assert.NoError(t, cfg.ValidateLLM())
}
