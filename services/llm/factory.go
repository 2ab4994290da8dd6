// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

var knownBackends = map[string]struct{}{
	"gemini":    {},
	"openai":    {},
	"anthropic": {},
	"ollama":    {},
}

// Backends returns the supported backend names, sorted.
func Backends() []string {
	names := make([]string, 0, len(knownBackends))
	for name := range knownBackends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type BackendConfig struct {
	Backend    string
	BaseURL    string
	Credential *Credential
	HTTPClient *http.Client
}

// NewGenerator builds the client for cfg.Backend. Keyed backends fail with
// ErrMissingAPIKey when no credential is supplied.
func NewGenerator(ctx context.Context, cfg BackendConfig) (Generator, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if _, ok := knownBackends[backend]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
	if backend == "ollama" {
		return NewOllamaClient(cfg.BaseURL, cfg.HTTPClient), nil
	}

	apiKey, err := cfg.Credential.Reveal()
	if err != nil {
		return nil, fmt.Errorf("%s backend: %w", backend, err)
	}
	switch backend {
	case "gemini":
		return NewGeminiClient(ctx, apiKey, cfg.BaseURL, cfg.HTTPClient)
	case "openai":
		return NewOpenAIClient(apiKey, cfg.BaseURL, cfg.HTTPClient)
	default:
		return NewAnthropicClient(apiKey, cfg.BaseURL, cfg.HTTPClient)
	}
}
