// ABOUTME: Configuration loading and parsing for assist-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete assist-gateway configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Model      ModelConfig      `yaml:"model"`
	Tools      ToolsConfig      `yaml:"tools"`
	Generation GenerationConfig `yaml:"generation"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ModelConfig holds the model provider configuration
type ModelConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	Default      string `yaml:"default"`
	TitleModel   string `yaml:"title_model"`
	SystemPrompt string `yaml:"system_prompt"`
}

// ToolsConfig holds tool execution configuration
type ToolsConfig struct {
	ExaAPIKey string `yaml:"exa_api_key"`

	Timeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	TimeoutRaw string `yaml:"timeout"`
}

// GenerationConfig holds generation session timing configuration
type GenerationConfig struct {
	IdleTimeout  time.Duration `yaml:"-"`
	ReplayWindow time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	IdleTimeoutRaw  string `yaml:"idle_timeout"`
	ReplayWindowRaw string `yaml:"replay_window"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultPath returns the configuration file path to use: the
// ASSIST_CONFIG environment variable if set, ./config.yaml if present,
// then ~/.config/assist/gateway.yaml.
func DefaultPath() string {
	if path := os.Getenv("ASSIST_CONFIG"); path != "" {
		return path
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".config", "assist", "gateway.yaml")
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in values that have sensible fallbacks.
func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8080"
	}
	if c.Model.Default == "" {
		c.Model.Default = "gpt-4o-mini"
	}
	if c.Model.TitleModel == "" {
		c.Model.TitleModel = c.Model.Default
	}
	if c.Tools.Timeout == 0 {
		c.Tools.Timeout = 30 * time.Second
	}
	if c.Generation.IdleTimeout == 0 {
		c.Generation.IdleTimeout = 60 * time.Second
	}
	if c.Generation.ReplayWindow == 0 {
		c.Generation.ReplayWindow = 15 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Model.APIKey == "" {
		return fmt.Errorf("model.api_key is required")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Tools.TimeoutRaw != "" {
		cfg.Tools.Timeout, err = time.ParseDuration(cfg.Tools.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing tools.timeout %q: %w", cfg.Tools.TimeoutRaw, err)
		}
	}

	if cfg.Generation.IdleTimeoutRaw != "" {
		cfg.Generation.IdleTimeout, err = time.ParseDuration(cfg.Generation.IdleTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing generation.idle_timeout %q: %w", cfg.Generation.IdleTimeoutRaw, err)
		}
	}

	if cfg.Generation.ReplayWindowRaw != "" {
		cfg.Generation.ReplayWindow, err = time.ParseDuration(cfg.Generation.ReplayWindowRaw)
		if err != nil {
			return fmt.Errorf("parsing generation.replay_window %q: %w", cfg.Generation.ReplayWindowRaw, err)
		}
	}

	return nil
}
