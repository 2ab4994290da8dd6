// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Mock Server Helpers
// =============================================================================

// capturedRequest records what a mock provider received.
type capturedRequest struct {
	Path   string
	Header http.Header
	Body   map[string]any
}

// newMockProvider returns a server that records each request and replies
// with status and body.
func newMockProvider(t *testing.T, status int, body string) (*httptest.Server, *[]capturedRequest) {
	t.Helper()
	var seen []capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		req := capturedRequest{Path: r.URL.Path, Header: r.Header.Clone()}
		_ = json.Unmarshal(raw, &req.Body)
		seen = append(seen, req)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

// =============================================================================
// Anthropic
// =============================================================================

func TestAnthropicClient_Generate(t *testing.T) {
	srv, seen := newMockProvider(t, http.StatusOK,
		`{"content":[{"type":"text","text":"  The store opens at 9am.  "}]}`)

	client, err := NewAnthropicClient("sk-ant-test", srv.URL, srv.Client())
	require.NoError(t, err)

	out, err := client.Generate(context.Background(), "be grounded", "When?", GenerationConfig{
		Model:           "claude-test",
		Temperature:     Float32(0.2),
		MaxOutputTokens: Int(256),
	})
	require.NoError(t, err)
	assert.Equal(t, "The store opens at 9am.", out)

	require.Len(t, *seen, 1)
	got := (*seen)[0]
	assert.Equal(t, "/messages", got.Path)
	assert.Equal(t, "sk-ant-test", got.Header.Get("x-api-key"))
	assert.Equal(t, anthropicAPIVersion, got.Header.Get("anthropic-version"))
	assert.Equal(t, "claude-test", got.Body["model"])
	assert.EqualValues(t, 256, got.Body["max_tokens"])
	system := got.Body["system"].([]any)[0].(map[string]any)
	assert.Equal(t, "be grounded", system["text"])
	assert.Nil(t, system["cache_control"])
}

func TestAnthropicClient_CachesLongSystemPrompt(t *testing.T) {
	srv, seen := newMockProvider(t, http.StatusOK, `{"content":[{"type":"text","text":"ok"}]}`)
	client, err := NewAnthropicClient("k", srv.URL, srv.Client())
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), strings.Repeat("ctx ", 400), "q", GenerationConfig{Model: "m"})
	require.NoError(t, err)
	system := (*seen)[0].Body["system"].([]any)[0].(map[string]any)
	assert.Equal(t, map[string]any{"type": "ephemeral"}, system["cache_control"])
}

func TestAnthropicClient_StatusError(t *testing.T) {
	srv, _ := newMockProvider(t, http.StatusTooManyRequests, `{"error":{"type":"rate_limit","message":"slow down"}}`)
	client, err := NewAnthropicClient("k", srv.URL, srv.Client())
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), "s", "u", GenerationConfig{Model: "m"})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
	assert.Equal(t, "Anthropic", statusErr.Provider)
}

func TestAnthropicClient_EmptyResponse(t *testing.T) {
	srv, _ := newMockProvider(t, http.StatusOK, `{"content":[]}`)
	client, err := NewAnthropicClient("k", srv.URL, srv.Client())
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), "s", "u", GenerationConfig{Model: "m"})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestAnthropicClient_WithAPIKey(t *testing.T) {
	srv, seen := newMockProvider(t, http.StatusOK, `{"content":[{"type":"text","text":"ok"}]}`)
	client, err := NewAnthropicClient("server-key", srv.URL, srv.Client())
	require.NoError(t, err)

	keyed, err := client.WithAPIKey(context.Background(), "caller-key")
	require.NoError(t, err)
	_, err = keyed.Generate(context.Background(), "s", "u", GenerationConfig{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "caller-key", (*seen)[0].Header.Get("x-api-key"))
}

// =============================================================================
// OpenAI
// =============================================================================

func TestOpenAIClient_Generate(t *testing.T) {
	srv, seen := newMockProvider(t, http.StatusOK,
		`{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"{\"grounded\":true}"},"finish_reason":"stop"}]}`)

	client, err := NewOpenAIClient("sk-test", srv.URL, srv.Client())
	require.NoError(t, err)

	out, err := client.Generate(context.Background(), "validate", "payload", GenerationConfig{
		Model:          "gpt-test",
		Temperature:    Float32(0.1),
		ResponseFormat: FormatStructured,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"grounded":true}`, out)

	got := (*seen)[0]
	assert.Equal(t, "/chat/completions", got.Path)
	assert.Equal(t, "Bearer sk-test", got.Header.Get("Authorization"))
	assert.Equal(t, map[string]any{"type": "json_object"}, got.Body["response_format"])
	msgs := got.Body["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "payload", msgs[1].(map[string]any)["content"])
}

func TestOpenAIClient_ZeroTemperatureIsSent(t *testing.T) {
	srv, seen := newMockProvider(t, http.StatusOK,
		`{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"{}"},"finish_reason":"stop"}]}`)
	client, err := NewOpenAIClient("sk-test", srv.URL, srv.Client())
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), "validate", "payload", GenerationConfig{
		Model:          "gpt-test",
		Temperature:    Float32(0),
		ResponseFormat: FormatStructured,
	})
	require.NoError(t, err)

	temp, ok := (*seen)[0].Body["temperature"]
	require.True(t, ok, "temperature must be present in the request body")
	assert.InDelta(t, 0, temp.(float64), 1e-6)

	_, err = client.Generate(context.Background(), "s", "u", GenerationConfig{Model: "gpt-test"})
	require.NoError(t, err)
	_, ok = (*seen)[1].Body["temperature"]
	assert.False(t, ok, "unset temperature should be left to the provider")
}

func TestOpenAIClient_StatusError(t *testing.T) {
	srv, _ := newMockProvider(t, http.StatusUnauthorized,
		`{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	client, err := NewOpenAIClient("sk-test", srv.URL, srv.Client())
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), "s", "u", GenerationConfig{Model: "m"})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
}

func TestOpenAIClient_NoChoices(t *testing.T) {
	srv, _ := newMockProvider(t, http.StatusOK, `{"id":"x","choices":[]}`)
	client, err := NewOpenAIClient("sk-test", srv.URL, srv.Client())
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), "s", "u", GenerationConfig{Model: "m"})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

// =============================================================================
// Gemini
// =============================================================================

func TestGeminiClient_Generate(t *testing.T) {
	srv, seen := newMockProvider(t, http.StatusOK,
		`{"candidates":[{"content":{"role":"model","parts":[{"text":"Bicycles are not mentioned."}]}}]}`)

	client, err := NewGeminiClient(context.Background(), "AIza-test", srv.URL, srv.Client())
	require.NoError(t, err)

	out, err := client.Generate(context.Background(), "sys", "user", GenerationConfig{
		Model:          "gemini-test",
		TopK:           Int(40),
		ResponseFormat: FormatStructured,
	})
	require.NoError(t, err)
	assert.Equal(t, "Bicycles are not mentioned.", out)

	require.Len(t, *seen, 1)
	got := (*seen)[0]
	assert.True(t, strings.HasSuffix(got.Path, "models/gemini-test:generateContent"), got.Path)
	gen := got.Body["generationConfig"].(map[string]any)
	assert.Equal(t, "application/json", gen["responseMimeType"])
	assert.EqualValues(t, 40, gen["topK"])
}

func TestGeminiClient_ErrorStatus(t *testing.T) {
	srv, _ := newMockProvider(t, http.StatusInternalServerError,
		`{"error":{"code":500,"message":"backend exploded","status":"INTERNAL"}}`)
	client, err := NewGeminiClient(context.Background(), "AIza-test", srv.URL, srv.Client())
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), "s", "u", GenerationConfig{Model: "m"})
	require.Error(t, err)
}

// =============================================================================
// Ollama
// =============================================================================

func TestOllamaClient_Generate(t *testing.T) {
	srv, seen := newMockProvider(t, http.StatusOK,
		`{"model":"llama","created_at":"2025-01-01T00:00:00Z","message":{"role":"assistant","content":"Hello there"},"done":true}`)

	client := NewOllamaClient(srv.URL, srv.Client())
	out, err := client.Generate(context.Background(), "sys", "hi", GenerationConfig{Model: "llama"})
	require.NoError(t, err)
	assert.Equal(t, "Hello there", out)

	require.Len(t, *seen, 1)
	assert.Equal(t, "/api/chat", (*seen)[0].Path)
	assert.Equal(t, "llama", (*seen)[0].Body["model"])
}

// =============================================================================
// Factory and credentials
// =============================================================================

func TestNewGenerator(t *testing.T) {
	ctx := context.Background()

	_, err := NewGenerator(ctx, BackendConfig{Backend: "bard"})
	assert.ErrorIs(t, err, ErrUnknownBackend)

	_, err = NewGenerator(ctx, BackendConfig{Backend: "openai"})
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	gen, err := NewGenerator(ctx, BackendConfig{Backend: "ollama"})
	require.NoError(t, err)
	assert.IsType(t, &OllamaClient{}, gen)

	gen, err = NewGenerator(ctx, BackendConfig{Backend: " Anthropic ", Credential: NewCredential("k", "test")})
	require.NoError(t, err)
	_, keyed := gen.(KeyedGenerator)
	assert.True(t, keyed)
}

func TestBackends(t *testing.T) {
	assert.Equal(t, []string{"anthropic", "gemini", "ollama", "openai"}, Backends())
}

func TestResolveCredential(t *testing.T) {
	env := func(vars map[string]string) func(string) (string, bool) {
		return func(k string) (string, bool) {
			v, ok := vars[k]
			return v, ok
		}
	}
	noFile := func(string) ([]byte, error) { return nil, errors.New("no file") }

	t.Run("gemini falls back through env names in order", func(t *testing.T) {
		cred, err := ResolveCredential("gemini", CredentialOptions{
			Lookup:   env(map[string]string{"GEMINI_API_KEY": "g-key", "GOOGLE_API_KEY": "google-key"}),
			ReadFile: noFile,
		})
		require.NoError(t, err)
		assert.Equal(t, "GEMINI_API_KEY", cred.Source())
		key, err := cred.Reveal()
		require.NoError(t, err)
		assert.Equal(t, "g-key", key)
	})

	t.Run("blank values are skipped", func(t *testing.T) {
		cred, err := ResolveCredential("gemini", CredentialOptions{
			Lookup:   env(map[string]string{"VITE_GEMINI_API_KEY": "  ", "GOOGLE_API_KEY": "google-key"}),
			ReadFile: noFile,
		})
		require.NoError(t, err)
		assert.Equal(t, "GOOGLE_API_KEY", cred.Source())
	})

	t.Run("extra env wins", func(t *testing.T) {
		cred, err := ResolveCredential("openai", CredentialOptions{
			ExtraEnv: "MY_KEY",
			Lookup:   env(map[string]string{"MY_KEY": "mine", "OPENAI_API_KEY": "theirs"}),
			ReadFile: noFile,
		})
		require.NoError(t, err)
		assert.Equal(t, "MY_KEY", cred.Source())
	})

	t.Run("secrets dir fallback", func(t *testing.T) {
		cred, err := ResolveCredential("anthropic", CredentialOptions{
			SecretsDir: "/run/secrets",
			Lookup:     env(nil),
			ReadFile: func(path string) ([]byte, error) {
				if path == "/run/secrets/anthropic_api_key" {
					return []byte("file-key\n"), nil
				}
				return nil, errors.New("missing")
			},
		})
		require.NoError(t, err)
		key, err := cred.Reveal()
		require.NoError(t, err)
		assert.Equal(t, "file-key", key)
	})

	t.Run("missing key names every place checked", func(t *testing.T) {
		_, err := ResolveCredential("gemini", CredentialOptions{
			SecretsDir: "/run/secrets",
			Lookup:     env(nil),
			ReadFile:   noFile,
		})
		require.ErrorIs(t, err, ErrMissingAPIKey)
		for _, name := range []string{"VITE_GEMINI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY", "/run/secrets/gemini_api_key"} {
			assert.Contains(t, err.Error(), name)
		}
	})

	t.Run("ollama needs no key", func(t *testing.T) {
		cred, err := ResolveCredential("ollama", CredentialOptions{Lookup: env(nil)})
		require.NoError(t, err)
		assert.Nil(t, cred)
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, err := ResolveCredential("bard", CredentialOptions{Lookup: env(nil)})
		assert.ErrorIs(t, err, ErrUnknownBackend)
	})
}

func TestStatusError_TruncatesBody(t *testing.T) {
	err := &StatusError{Provider: "OpenAI", StatusCode: 500, Body: strings.Repeat("x", 1000)}
	assert.Less(t, len(err.Error()), 400)
	assert.True(t, strings.HasSuffix(err.Error(), "..."))
}
