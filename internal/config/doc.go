// Package config handles configuration loading for assist-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from ASSIST_CONFIG environment variable
//  2. ./config.yaml (current directory)
//  3. ~/.config/assist/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	model:
//	  api_key: "${OPENAI_API_KEY}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	generation:
//	  idle_timeout: "60s"
//	  replay_window: "15s"
//	tools:
//	  timeout: "30s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: ":8080"
//
// Database settings:
//
//	database:
//	  path: "/var/lib/assist/gateway.db"
//
// Model provider settings:
//
//	model:
//	  api_key: "${OPENAI_API_KEY}"
//	  base_url: ""            # optional, for compatible providers
//	  default: "gpt-4o-mini"
//	  title_model: "gpt-4o-mini"
//	  system_prompt: "You are a helpful assistant."
//
// Tool settings:
//
//	tools:
//	  exa_api_key: "${EXA_API_KEY}"
//	  timeout: "30s"
//
// Logging settings:
//
//	logging:
//	  level: "info"    # debug, info, warn, error
//	  format: "text"   # text, json
package config
