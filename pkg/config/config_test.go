package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "streamloop.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "auto", cfg.Provider.Name)
	assert.Equal(t, 1, cfg.Agent.FetchConcurrency)
	assert.Equal(t, 100*time.Millisecond, cfg.Agent.ThrottleInterval)
}

func TestLoadYAMLWithEnvOverrides(t *testing.T) {
	t.Setenv("STREAMLOOP_TEST_KEY", "sk-file")
	t.Setenv("STREAMLOOP_MODEL", "gpt-4o")
	t.Setenv("STREAMLOOP_FETCH_CONCURRENCY", "4")

	path := writeFile(t, `
provider:
  name: openai
  api_key: ${STREAMLOOP_TEST_KEY}
  model: gpt-4o-mini
  temperature: 0.2
agent:
  system_prompt: "You help {{user}}."
  throttle_interval: 250ms
resources:
  mcp_servers:
    docs: http://localhost:9000/mcp
storage:
  path: /tmp/history.db
log_level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.Provider.Name)
	assert.Equal(t, "sk-file", cfg.Provider.APIKey)
	assert.Equal(t, "gpt-4o", cfg.Provider.Model)
	assert.InDelta(t, 0.2, cfg.Provider.Temperature, 1e-6)
	assert.Equal(t, "You help {{user}}.", cfg.Agent.SystemPrompt)
	assert.Equal(t, 250*time.Millisecond, cfg.Agent.ThrottleInterval)
	assert.Equal(t, 4, cfg.Agent.FetchConcurrency)
	assert.Equal(t, map[string]string{"docs": "http://localhost:9000/mcp"}, cfg.Resources.MCPServers)
	assert.Equal(t, "/tmp/history.db", cfg.Storage.Path)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "provider: [unclosed"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "provider:\n  name: cohere\n"))
	assert.ErrorContains(t, err, "unknown provider")
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.Provider.Temperature = 3
	cfg.Agent.FetchConcurrency = 0
	cfg.LogLevel = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "temperature")
	assert.ErrorContains(t, err, "fetch_concurrency")
	assert.ErrorContains(t, err, "log level")
}

func TestEnvHelpersIgnoreGarbage(t *testing.T) {
	t.Setenv("STREAMLOOP_X", "nope")
	assert.Equal(t, 7, envInt("STREAMLOOP_X", 7))
	assert.Equal(t, time.Second, envDuration("STREAMLOOP_X", time.Second))
	assert.True(t, envBool("STREAMLOOP_X", true))
	assert.InDelta(t, 0.5, envFloat("STREAMLOOP_X", 0.5), 1e-6)
}
