// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config defines the groundcheck configuration object.
//
// A Config is built once at process start (defaults, then the YAML file,
// then GROUNDCHECK_* environment overrides, then Validate) and is passed
// explicitly to the services that need it. Nothing below the binaries reads
// the environment.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/AleutianAI/groundcheck/pkg/logging"
	"github.com/AleutianAI/groundcheck/pkg/telemetry"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete groundcheck configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	LLM       LLMConfig        `yaml:"llm"`
	Pipeline  PipelineConfig   `yaml:"pipeline"`
	Guard     GuardConfig      `yaml:"guard"`
	Logging   LoggingConfig    `yaml:"logging"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// ServerConfig configures the HTTP service.
type ServerConfig struct {
	// Port is the listen port.
	Port int `yaml:"port"`

	// GinMode is "debug", "release" or "test".
	GinMode string `yaml:"gin_mode"`

	// KnowledgeFile is an optional server-side context served by /v1/ask.
	// It is reloaded when the file changes.
	KnowledgeFile string `yaml:"knowledge_file"`

	// RateLimitRPS enables per-client rate limiting when > 0.
	RateLimitRPS float64 `yaml:"rate_limit_rps"`

	// RateLimitBurst is the token bucket size. Defaults to 2x RPS.
	RateLimitBurst int `yaml:"rate_limit_burst"`

	// AllowedOrigins for CORS. "*" allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// AuditCapacity keeps the last N answer outcomes in memory and serves
	// them on GET /v1/audit. 0 disables the audit trail.
	AuditCapacity int `yaml:"audit_capacity"`
}

// LLMConfig selects and configures the model backend.
type LLMConfig struct {
	// Backend is "gemini", "openai", "anthropic" or "ollama".
	Backend string `yaml:"backend"`

	// Model is the default model; requests may override it. Empty selects
	// DefaultModel(Backend).
	Model string `yaml:"model"`

	// BaseURL overrides the provider endpoint (Ollama server, proxies).
	BaseURL string `yaml:"base_url"`

	// APIKeyEnv names an extra environment variable tried before the
	// backend's standard ones.
	APIKeyEnv string `yaml:"api_key_env"`

	// SecretsDir is searched for {backend}_api_key files.
	SecretsDir string `yaml:"secrets_dir"`
}

// PipelineConfig holds the Responder/Validator generation settings.
type PipelineConfig struct {
	// Temperature is the default sampling temperature in [0,1].
	Temperature float32 `yaml:"temperature"`

	// ResponderMaxTokens caps the draft length.
	ResponderMaxTokens int `yaml:"responder_max_tokens"`

	// ValidatorMaxTokens caps the verdict length.
	ValidatorMaxTokens int `yaml:"validator_max_tokens"`

	// StageTimeout bounds each backend round trip.
	StageTimeout time.Duration `yaml:"stage_timeout"`

	// Locale selects the refusal sentence: "en" or "ko".
	Locale string `yaml:"locale"`

	// Mode is "blocking" (validated answers) or "advisory" (draft returned,
	// verdict shown alongside).
	Mode string `yaml:"mode"`
}

// GuardConfig configures the sensitive-content guard.
type GuardConfig struct {
	Enabled bool `yaml:"enabled"`

	// Block lists the classifications that reject a request.
	Block []string `yaml:"block"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir"`
}

// Logger converts the section to a logging.Config for service.
func (l LoggingConfig) Logger(service string) (logging.Config, error) {
	level, err := logging.ParseLevel(l.Level)
	if err != nil {
		return logging.Config{}, invalid("logging.level: %v", err)
	}
	return logging.Config{
		Level:   level,
		LogDir:  l.Dir,
		Service: service,
		JSON:    l.JSON,
	}, nil
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            12310,
			GinMode:         "release",
			AllowedOrigins:  []string{"*"},
			MaxBodyBytes:    1 << 20,
			ShutdownTimeout: 10 * time.Second,
		},
		LLM: LLMConfig{
			Backend:    "gemini",
			SecretsDir: "/run/secrets",
		},
		Pipeline: PipelineConfig{
			Temperature:        0.2,
			ResponderMaxTokens: 512,
			ValidatorMaxTokens: 1024,
			StageTimeout:       60 * time.Second,
			Locale:             "en",
			Mode:               "blocking",
		},
		Guard: GuardConfig{
			Enabled: true,
			Block:   []string{"secret"},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// DefaultModel returns the model used when none is configured.
func DefaultModel(backend string) string {
	switch backend {
	case "openai":
		return "gpt-4o-mini"
	case "anthropic":
		return "claude-3-5-sonnet-20240620"
	case "ollama":
		return "gpt-oss"
	default:
		return "gemini-2.5-flash"
	}
}

var (
	validBackends = []string{"gemini", "openai", "anthropic", "ollama"}
	validLocales  = []string{"en", "ko"}
	validModes    = []string{"blocking", "advisory"}
	validGinModes = []string{"debug", "release", "test"}
)

// Validate reports the first invalid setting, wrapped in ErrInvalid.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return invalid("server.port %d out of range", c.Server.Port)
	}
	if !slices.Contains(validGinModes, c.Server.GinMode) {
		return invalid("server.gin_mode %q must be one of %s", c.Server.GinMode, strings.Join(validGinModes, ", "))
	}
	if c.Server.RateLimitRPS < 0 {
		return invalid("server.rate_limit_rps must not be negative")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return invalid("server.max_body_bytes must be positive")
	}
	if c.Server.AuditCapacity < 0 {
		return invalid("server.audit_capacity must not be negative")
	}
	if !slices.Contains(validBackends, c.LLM.Backend) {
		return invalid("llm.backend %q must be one of %s", c.LLM.Backend, strings.Join(validBackends, ", "))
	}
	if strings.TrimSpace(c.LLM.Model) == "" {
		return invalid("llm.model is required")
	}
	if c.Pipeline.Temperature < 0 || c.Pipeline.Temperature > 1 {
		return invalid("pipeline.temperature %.2f outside [0,1]", c.Pipeline.Temperature)
	}
	if c.Pipeline.ResponderMaxTokens <= 0 || c.Pipeline.ValidatorMaxTokens <= 0 {
		return invalid("pipeline max tokens must be positive")
	}
	if c.Pipeline.StageTimeout <= 0 {
		return invalid("pipeline.stage_timeout must be positive")
	}
	if !slices.Contains(validLocales, c.Pipeline.Locale) {
		return invalid("pipeline.locale %q must be one of %s", c.Pipeline.Locale, strings.Join(validLocales, ", "))
	}
	if !slices.Contains(validModes, c.Pipeline.Mode) {
		return invalid("pipeline.mode %q must be one of %s", c.Pipeline.Mode, strings.Join(validModes, ", "))
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

