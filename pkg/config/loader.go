// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LookupFunc reads one environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// DefaultPath returns ~/.groundcheck/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".groundcheck", "config.yaml")
}

// Load builds a Config from defaults, the YAML file at path, and the
// environment, then validates it.
//
// A missing file at DefaultPath() is ignored; a missing file anywhere else
// is an error because the caller asked for it explicitly. lookup defaults to
// os.LookupEnv.
func Load(path string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist) && path == DefaultPath():
		default:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	cfg.finalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// WriteDefault writes the default configuration to path, creating parent
// directories. It refuses to overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	cfg := Default()
	cfg.finalize()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// finalize fills values derived from other settings.
func (c *Config) finalize() {
	c.LLM.Backend = strings.ToLower(strings.TrimSpace(c.LLM.Backend))
	if strings.TrimSpace(c.LLM.Model) == "" {
		c.LLM.Model = DefaultModel(c.LLM.Backend)
	}
	if c.Server.RateLimitRPS > 0 && c.Server.RateLimitBurst <= 0 {
		c.Server.RateLimitBurst = int(c.Server.RateLimitRPS*2) + 1
	}
	c.Pipeline.Locale = strings.ToLower(strings.TrimSpace(c.Pipeline.Locale))
	c.Pipeline.Mode = strings.ToLower(strings.TrimSpace(c.Pipeline.Mode))
}

// =============================================================================
// Environment Overrides
// =============================================================================

type envBinding struct {
	keys  []string
	apply func(c *Config, v string) error
}

// envBindings lists every supported override, applied in order. When several
// keys are listed the first one set wins. Provider-specific names
// (VITE_GEMINI_MODEL, OLLAMA_BASE_URL, ...) only fill values that are still
// empty and only for their own backend, so existing deployments keep working.
var envBindings = []envBinding{
	{[]string{"GROUNDCHECK_PORT", "PORT"}, func(c *Config, v string) error { return setInt(&c.Server.Port, v) }},
	{[]string{"GROUNDCHECK_GIN_MODE", "GIN_MODE"}, func(c *Config, v string) error { c.Server.GinMode = v; return nil }},
	{[]string{"GROUNDCHECK_KNOWLEDGE_FILE"}, func(c *Config, v string) error { c.Server.KnowledgeFile = v; return nil }},
	{[]string{"GROUNDCHECK_RATE_LIMIT_RPS"}, func(c *Config, v string) error { return setFloat64(&c.Server.RateLimitRPS, v) }},
	{[]string{"GROUNDCHECK_RATE_LIMIT_BURST"}, func(c *Config, v string) error { return setInt(&c.Server.RateLimitBurst, v) }},
	{[]string{"GROUNDCHECK_AUDIT_CAPACITY"}, func(c *Config, v string) error { return setInt(&c.Server.AuditCapacity, v) }},
	{[]string{"GROUNDCHECK_ALLOWED_ORIGINS"}, func(c *Config, v string) error { c.Server.AllowedOrigins = splitList(v); return nil }},
	{[]string{"GROUNDCHECK_BACKEND"}, func(c *Config, v string) error { c.LLM.Backend = v; return nil }},
	{[]string{"GROUNDCHECK_MODEL"}, func(c *Config, v string) error { c.LLM.Model = v; return nil }},
	{[]string{"GROUNDCHECK_BASE_URL"}, func(c *Config, v string) error { c.LLM.BaseURL = v; return nil }},
	{[]string{"VITE_GEMINI_MODEL"}, forBackend("gemini", func(c *Config, v string) { setIfEmpty(&c.LLM.Model, v) })},
	{[]string{"VITE_GEMINI_API_HOST"}, forBackend("gemini", func(c *Config, v string) { setIfEmpty(&c.LLM.BaseURL, v) })},
	{[]string{"OLLAMA_BASE_URL"}, forBackend("ollama", func(c *Config, v string) { setIfEmpty(&c.LLM.BaseURL, v) })},
	{[]string{"OLLAMA_MODEL"}, forBackend("ollama", func(c *Config, v string) { setIfEmpty(&c.LLM.Model, v) })},
	{[]string{"OPENAI_MODEL"}, forBackend("openai", func(c *Config, v string) { setIfEmpty(&c.LLM.Model, v) })},
	{[]string{"CLAUDE_MODEL"}, forBackend("anthropic", func(c *Config, v string) { setIfEmpty(&c.LLM.Model, v) })},
	{[]string{"GROUNDCHECK_API_KEY_ENV"}, func(c *Config, v string) error { c.LLM.APIKeyEnv = v; return nil }},
	{[]string{"GROUNDCHECK_SECRETS_DIR"}, func(c *Config, v string) error { c.LLM.SecretsDir = v; return nil }},
	{[]string{"GROUNDCHECK_TEMPERATURE"}, func(c *Config, v string) error { return setFloat32(&c.Pipeline.Temperature, v) }},
	{[]string{"GROUNDCHECK_STAGE_TIMEOUT"}, func(c *Config, v string) error { return setDuration(&c.Pipeline.StageTimeout, v) }},
	{[]string{"GROUNDCHECK_LOCALE"}, func(c *Config, v string) error { c.Pipeline.Locale = v; return nil }},
	{[]string{"GROUNDCHECK_MODE"}, func(c *Config, v string) error { c.Pipeline.Mode = v; return nil }},
	{[]string{"GROUNDCHECK_GUARD_ENABLED"}, func(c *Config, v string) error { return setBool(&c.Guard.Enabled, v) }},
	{[]string{"GROUNDCHECK_LOG_LEVEL"}, func(c *Config, v string) error { c.Logging.Level = v; return nil }},
	{[]string{"GROUNDCHECK_LOG_JSON"}, func(c *Config, v string) error { return setBool(&c.Logging.JSON, v) }},
	{[]string{"GROUNDCHECK_LOG_DIR"}, func(c *Config, v string) error { c.Logging.Dir = v; return nil }},
	{[]string{"OTEL_TRACES_EXPORTER"}, func(c *Config, v string) error { c.Telemetry.TraceExporter = v; return nil }},
	{[]string{"OTEL_METRICS_EXPORTER"}, func(c *Config, v string) error { c.Telemetry.MetricExporter = v; return nil }},
	{[]string{"OTEL_EXPORTER_OTLP_ENDPOINT"}, func(c *Config, v string) error { c.Telemetry.OTLPEndpoint = v; return nil }},
}

func forBackend(backend string, set func(c *Config, v string)) func(c *Config, v string) error {
	return func(c *Config, v string) error {
		if strings.EqualFold(strings.TrimSpace(c.LLM.Backend), backend) {
			set(c, v)
		}
		return nil
	}
}

func setIfEmpty(dst *string, v string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = v
	}
}

func applyEnv(cfg *Config, lookup LookupFunc) error {
	for _, b := range envBindings {
		for _, key := range b.keys {
			v, ok := lookup(key)
			v = strings.TrimSpace(v)
			if !ok || v == "" {
				continue
			}
			if err := b.apply(cfg, v); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
			}
			break
		}
	}
	return nil
}

func setInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("not an integer: %q", v)
	}
	*dst = n
	return nil
}

func setFloat64(dst *float64, v string) error {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("not a number: %q", v)
	}
	*dst = f
	return nil
}

func setFloat32(dst *float32, v string) error {
	f, err := strconv.ParseFloat(v, 32)
	if err != nil {
		return fmt.Errorf("not a number: %q", v)
	}
	*dst = float32(f)
	return nil
}

func setBool(dst *bool, v string) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("not a boolean: %q", v)
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, v string) error {
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("not a duration: %q", v)
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
