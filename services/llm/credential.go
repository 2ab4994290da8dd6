// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/awnumar/memguard"
)

// Credential holds an API key sealed in a memguard enclave. The plaintext
// only exists while a client is being constructed.
type Credential struct {
	enclave *memguard.Enclave
	source  string
}

// NewCredential seals secret. source describes where it came from (an env var
// name or file path) and is safe to log.
func NewCredential(secret, source string) *Credential {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil
	}
	return &Credential{
		enclave: memguard.NewEnclave([]byte(secret)),
		source:  source,
	}
}

func (c *Credential) Source() string {
	if c == nil {
		return ""
	}
	return c.source
}

// Reveal returns a copy of the secret.
func (c *Credential) Reveal() (string, error) {
	if c == nil || c.enclave == nil {
		return "", ErrMissingAPIKey
	}
	buf, err := c.enclave.Open()
	if err != nil {
		return "", fmt.Errorf("open credential: %w", err)
	}
	defer buf.Destroy()
	return string(buf.Bytes()), nil
}

type CredentialOptions struct {
	// ExtraEnv is tried before the backend's standard variables.
	ExtraEnv string
	// SecretsDir holds {backend}_api_key files (Podman/Docker secrets).
	SecretsDir string
	Lookup     func(key string) (string, bool)
	ReadFile   func(path string) ([]byte, error)
}

// credentialEnv lists the variables tried for each backend, preferred first.
var credentialEnv = map[string][]string{
	"gemini":    {"GROUNDCHECK_API_KEY", "VITE_GEMINI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY"},
	"openai":    {"GROUNDCHECK_API_KEY", "OPENAI_API_KEY"},
	"anthropic": {"GROUNDCHECK_API_KEY", "ANTHROPIC_API_KEY"},
}

func RequiresAPIKey(backend string) bool {
	_, ok := credentialEnv[backend]
	return ok
}

// CredentialEnvNames returns the variables ResolveCredential consults.
func CredentialEnvNames(backend, extra string) []string {
	var names []string
	if extra != "" {
		names = append(names, extra)
	}
	return append(names, credentialEnv[backend]...)
}

// ResolveCredential finds the API key for backend. Backends that need no key
// return (nil, nil). A missing key wraps ErrMissingAPIKey and names every
// place that was checked.
func ResolveCredential(backend string, opts CredentialOptions) (*Credential, error) {
	if !RequiresAPIKey(backend) {
		if _, known := knownBackends[backend]; !known {
			return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
		}
		return nil, nil
	}
	if opts.Lookup == nil {
		opts.Lookup = os.LookupEnv
	}
	if opts.ReadFile == nil {
		opts.ReadFile = os.ReadFile
	}

	names := CredentialEnvNames(backend, opts.ExtraEnv)
	for _, name := range names {
		if v, ok := opts.Lookup(name); ok {
			if cred := NewCredential(v, name); cred != nil {
				return cred, nil
			}
		}
	}

	checked := strings.Join(names, ", ")
	if opts.SecretsDir != "" {
		path := filepath.Join(opts.SecretsDir, backend+"_api_key")
		if data, err := opts.ReadFile(path); err == nil {
			if cred := NewCredential(string(data), path); cred != nil {
				return cred, nil
			}
		}
		checked += ", " + path
	}
	return nil, fmt.Errorf("%w for %s backend (checked %s)", ErrMissingAPIKey, backend, checked)
}
