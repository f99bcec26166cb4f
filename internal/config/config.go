// Package config loads chatdeck settings. Sources, highest priority first:
//  1. command line flags (applied by the caller)
//  2. environment: CHATDECK_* plus ANTHROPIC_API_KEY, OPENAI_API_KEY, LLM_API_KEY
//  3. the config file (--config, or ~/.config/chatdeck/config.yaml); a
//     .toml extension selects TOML
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every chatdeck environment variable
const EnvPrefix = "CHATDECK"

// ProviderConfig holds credentials and endpoint for one provider
type ProviderConfig struct {
	APIKey  string `yaml:"api_key" toml:"api_key"`
	BaseURL string `yaml:"base_url" toml:"base_url"`
	Model   string `yaml:"model" toml:"model"`

	// MaxRetries for failed requests; 0 uses the default, negative disables
	MaxRetries        int     `yaml:"max_retries" toml:"max_retries"`
	RequestsPerSecond float64 `yaml:"requests_per_second" toml:"requests_per_second"`
}

// StorageConfig selects where sessions are persisted
type StorageConfig struct {
	// Backend: "duckdb" (default) | "sqlite" | "file" | "memory"
	Backend string `yaml:"backend" toml:"backend"`
	Path    string `yaml:"path" toml:"path"`
}

// LogConfig controls the log file
type LogConfig struct {
	Level string `yaml:"level" toml:"level"`
	File  string `yaml:"file" toml:"file"`
}

// Config is the complete chatdeck configuration. Environment names are
// derived from field names, e.g. CHATDECK_STORAGE_BACKEND.
type Config struct {
	// Provider names the LLM backend; empty picks one from available keys
	Provider string `yaml:"provider" toml:"provider"`

	// Model overrides the provider's default model
	Model string `yaml:"model" toml:"model"`

	SystemPrompt string `yaml:"system_prompt" toml:"system_prompt" split_words:"true"`
	MaxTokens    int    `yaml:"max_tokens" toml:"max_tokens" split_words:"true"`

	Providers map[string]*ProviderConfig `yaml:"providers" toml:"providers" ignored:"true"`

	Storage StorageConfig `yaml:"storage" toml:"storage"`
	Log     LogConfig     `yaml:"log" toml:"log"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		MaxTokens: 4096,
		Providers: make(map[string]*ProviderConfig),
		Storage:   StorageConfig{Backend: "duckdb"},
		Log:       LogConfig{Level: "info"},
	}
}

// DefaultPath returns ~/.config/chatdeck/config.yaml
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "chatdeck", "config.yaml")
}

// Load reads the config file, then applies environment overrides.
// A missing file is fine unless configPath was given explicitly.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	explicit := configPath != ""
	if !explicit {
		configPath = DefaultPath()
	}

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case err == nil:
			if err := decodeFile(configPath, data, cfg); err != nil {
				return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
			}
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load environment config: %w", err)
	}
	applyKeyOverrides(cfg)

	if cfg.Providers == nil {
		cfg.Providers = make(map[string]*ProviderConfig)
	}
	if cfg.Provider == "" {
		cfg.Provider = detectProvider(cfg)
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "duckdb"
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = DefaultStoragePath(cfg.Storage.Backend)
	}

	return cfg, nil
}

func decodeFile(path string, data []byte, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return toml.Unmarshal(data, cfg)
	}
	return yaml.Unmarshal(data, cfg)
}

// GetProviderConfig returns the settings for name, empty if unset
func (c *Config) GetProviderConfig(name string) ProviderConfig {
	if pc, ok := c.Providers[name]; ok && pc != nil {
		return *pc
	}
	return ProviderConfig{}
}

// DefaultStoragePath returns the data file for a backend under
// ~/.local/share/chatdeck
func DefaultStoragePath(backend string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	dir := filepath.Join(home, ".local", "share", "chatdeck")
	switch backend {
	case "sqlite":
		return filepath.Join(dir, "chats.db")
	case "file":
		return filepath.Join(dir, "chats.json")
	case "memory":
		return ""
	default:
		return filepath.Join(dir, "chats.duckdb")
	}
}

func applyKeyOverrides(cfg *Config) {
	setKey := func(provider, key string) {
		if key == "" {
			return
		}
		if cfg.Providers == nil {
			cfg.Providers = make(map[string]*ProviderConfig)
		}
		if cfg.Providers[provider] == nil {
			cfg.Providers[provider] = &ProviderConfig{}
		}
		cfg.Providers[provider].APIKey = key
	}

	setKey("anthropic", os.Getenv("ANTHROPIC_API_KEY"))
	setKey("openai", os.Getenv("OPENAI_API_KEY"))

	// generic key applies to whichever provider is selected
	if cfg.Provider != "" {
		setKey(cfg.Provider, os.Getenv("LLM_API_KEY"))
	}
}

// detectProvider picks the first provider that has a key, else echo
func detectProvider(cfg *Config) string {
	for _, name := range []string{"anthropic", "openai"} {
		if pc := cfg.Providers[name]; pc != nil && pc.APIKey != "" {
			return name
		}
	}
	return "echo"
}
