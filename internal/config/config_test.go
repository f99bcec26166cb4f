package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "LLM_API_KEY",
		"CHATDECK_PROVIDER", "CHATDECK_MODEL", "CHATDECK_MAX_TOKENS",
		"CHATDECK_STORAGE_BACKEND", "CHATDECK_STORAGE_PATH", "CHATDECK_LOG_LEVEL",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	t.Setenv("HOME", t.TempDir())
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	return writeConfigAs(t, "config.yaml", body)
}

func writeConfigAs(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "echo", cfg.Provider)
	assert.Equal(t, "duckdb", cfg.Storage.Backend)
	assert.Equal(t, "chats.duckdb", filepath.Base(cfg.Storage.Path))
	assert.Equal(t, 4096, cfg.MaxTokens)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
provider: deepseek
model: deepseek-chat
system_prompt: Answer briefly.
max_tokens: 512
providers:
  deepseek:
    api_key: sk-file
storage:
  backend: sqlite
log:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "deepseek", cfg.Provider)
	assert.Equal(t, "deepseek-chat", cfg.Model)
	assert.Equal(t, "Answer briefly.", cfg.SystemPrompt)
	assert.Equal(t, 512, cfg.MaxTokens)
	assert.Equal(t, "sk-file", cfg.GetProviderConfig("deepseek").APIKey)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, "chats.db", filepath.Base(cfg.Storage.Path))
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadTOMLFile(t *testing.T) {
	clearEnv(t)
	path := writeConfigAs(t, "config.toml", `
provider = "ollama"
max_tokens = 256

[providers.ollama]
base_url = "http://gpu-box:11434/v1"
max_retries = -1
requests_per_second = 2.5

[storage]
backend = "file"
path = "/tmp/chats.json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ollama", cfg.Provider)
	assert.Equal(t, 256, cfg.MaxTokens)
	pc := cfg.GetProviderConfig("ollama")
	assert.Equal(t, "http://gpu-box:11434/v1", pc.BaseURL)
	assert.Equal(t, -1, pc.MaxRetries)
	assert.Equal(t, 2.5, pc.RequestsPerSecond)
	assert.Equal(t, "file", cfg.Storage.Backend)
	assert.Equal(t, "/tmp/chats.json", cfg.Storage.Path)
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "provider: openai\nstorage:\n  backend: sqlite\n")

	t.Setenv("CHATDECK_PROVIDER", "anthropic")
	t.Setenv("CHATDECK_STORAGE_BACKEND", "file")
	t.Setenv("CHATDECK_STORAGE_PATH", "/tmp/chats.json")
	t.Setenv("CHATDECK_LOG_LEVEL", "warn")
	t.Setenv("LLM_API_KEY", "sk-generic")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.Provider)
	assert.Equal(t, "file", cfg.Storage.Backend)
	assert.Equal(t, "/tmp/chats.json", cfg.Storage.Path)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "sk-generic", cfg.GetProviderConfig("anthropic").APIKey)
}

func TestProviderDetectedFromKeys(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-openai")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.Provider)
	assert.Equal(t, "sk-openai", cfg.GetProviderConfig("openai").APIKey)
	assert.Equal(t, ProviderConfig{}, cfg.GetProviderConfig("groq"))
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "provider: [unclosed"))
	assert.Error(t, err)

	t.Setenv("CHATDECK_MAX_TOKENS", "lots")
	_, err = Load("")
	assert.Error(t, err)
}
