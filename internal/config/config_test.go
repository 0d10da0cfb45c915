// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, duration parsing, and defaults

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

database:
  path: "./test.db"

model:
  api_key: "sk-test"
  base_url: "https://example.com/v1"
  default: "gpt-4o"
  title_model: "gpt-4o-mini"
  system_prompt: "You are a helpful assistant."

tools:
  exa_api_key: "exa-test"
  timeout: "10s"

generation:
  idle_timeout: "90s"
  replay_window: "20s"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}
	if cfg.Model.APIKey != "sk-test" {
		t.Errorf("Model.APIKey = %q, want %q", cfg.Model.APIKey, "sk-test")
	}
	if cfg.Model.BaseURL != "https://example.com/v1" {
		t.Errorf("Model.BaseURL = %q, want %q", cfg.Model.BaseURL, "https://example.com/v1")
	}
	if cfg.Model.Default != "gpt-4o" {
		t.Errorf("Model.Default = %q, want %q", cfg.Model.Default, "gpt-4o")
	}
	if cfg.Tools.ExaAPIKey != "exa-test" {
		t.Errorf("Tools.ExaAPIKey = %q, want %q", cfg.Tools.ExaAPIKey, "exa-test")
	}
	if cfg.Tools.Timeout != 10*time.Second {
		t.Errorf("Tools.Timeout = %v, want %v", cfg.Tools.Timeout, 10*time.Second)
	}
	if cfg.Generation.IdleTimeout != 90*time.Second {
		t.Errorf("Generation.IdleTimeout = %v, want %v", cfg.Generation.IdleTimeout, 90*time.Second)
	}
	if cfg.Generation.ReplayWindow != 20*time.Second {
		t.Errorf("Generation.ReplayWindow = %v, want %v", cfg.Generation.ReplayWindow, 20*time.Second)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
}

func TestLoad_Defaults(t *testing.T) {
	configPath := writeConfig(t, `
database:
  path: "./test.db"

model:
  api_key: "sk-test"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != ":8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, ":8080")
	}
	if cfg.Model.Default != "gpt-4o-mini" {
		t.Errorf("Model.Default = %q, want %q", cfg.Model.Default, "gpt-4o-mini")
	}
	if cfg.Model.TitleModel != "gpt-4o-mini" {
		t.Errorf("Model.TitleModel = %q, want default model %q", cfg.Model.TitleModel, "gpt-4o-mini")
	}
	if cfg.Tools.Timeout != 30*time.Second {
		t.Errorf("Tools.Timeout = %v, want %v", cfg.Tools.Timeout, 30*time.Second)
	}
	if cfg.Generation.IdleTimeout != 60*time.Second {
		t.Errorf("Generation.IdleTimeout = %v, want %v", cfg.Generation.IdleTimeout, 60*time.Second)
	}
	if cfg.Generation.ReplayWindow != 15*time.Second {
		t.Errorf("Generation.ReplayWindow = %v, want %v", cfg.Generation.ReplayWindow, 15*time.Second)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "text")
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_ASSIST_API_KEY", "sk-from-env")

	configPath := writeConfig(t, `
database:
  path: "./test.db"

model:
  api_key: "${TEST_ASSIST_API_KEY}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Model.APIKey != "sk-from-env" {
		t.Errorf("Model.APIKey = %q, want %q", cfg.Model.APIKey, "sk-from-env")
	}
}

func TestLoad_UnsetEnvVarBecomesEmpty(t *testing.T) {
	configPath := writeConfig(t, `
database:
  path: "./test.db"

model:
  api_key: "${DEFINITELY_NOT_SET_ASSIST_VAR}"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected validation error for empty api_key, got nil")
	}
	if !strings.Contains(err.Error(), "model.api_key") {
		t.Errorf("error = %v, want mention of model.api_key", err)
	}
}

func TestLoad_MissingDatabasePath(t *testing.T) {
	configPath := writeConfig(t, `
model:
  api_key: "sk-test"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
	if !strings.Contains(err.Error(), "database.path") {
		t.Errorf("error = %v, want mention of database.path", err)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, `
database:
  path: "./test.db"

model:
  api_key: "sk-test"

generation:
  idle_timeout: "not-a-duration"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected duration parse error, got nil")
	}
	if !strings.Contains(err.Error(), "idle_timeout") {
		t.Errorf("error = %v, want mention of idle_timeout", err)
	}
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	configPath := writeConfig(t, `
database:
  path: "./test.db"

model:
  api_key: "sk-test"

logging:
  level: "verbose"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
	if !strings.Contains(err.Error(), "logging.level") {
		t.Errorf("error = %v, want mention of logging.level", err)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	configPath := writeConfig(t, "server: [not: valid")

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected parse error, got nil")
	}
}

func TestDefaultPath_EnvOverride(t *testing.T) {
	t.Setenv("ASSIST_CONFIG", "/etc/assist/gateway.yaml")
	if got := DefaultPath(); got != "/etc/assist/gateway.yaml" {
		t.Errorf("DefaultPath() = %q, want env override", got)
	}
}
