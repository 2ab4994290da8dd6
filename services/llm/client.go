package llm

import (
	"context"
	"errors"
	"fmt"
)

type ResponseFormat string

const (
	FormatText       ResponseFormat = "text"
	FormatStructured ResponseFormat = "structured" // provider JSON mode
)

type GenerationConfig struct {
	Model           string
	Temperature     *float32
	TopK            *int
	TopP            *float32
	MaxOutputTokens *int
	ResponseFormat  ResponseFormat
}

// Generator is the single capability the pipeline needs from a model backend:
// one system instruction, one user turn, one text reply.
type Generator interface {
	Generate(ctx context.Context, systemInstruction, userText string, cfg GenerationConfig) (string, error)
}

// KeyedGenerator is implemented by backends that can be re-created with a
// caller supplied API key.
type KeyedGenerator interface {
	Generator
	WithAPIKey(ctx context.Context, apiKey string) (Generator, error)
}

var (
	ErrMissingAPIKey  = errors.New("llm: missing API key")
	ErrUnknownBackend = errors.New("llm: unknown backend")
	ErrEmptyResponse  = errors.New("llm: empty response")
)

// StatusError is a non-success HTTP status from a provider.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error %d: %s", e.Provider, e.StatusCode, truncate(e.Body, 300))
}

// GeneratorFunc adapts a function to Generator. Handy for stubs.
type GeneratorFunc func(ctx context.Context, systemInstruction, userText string, cfg GenerationConfig) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, systemInstruction, userText string, cfg GenerationConfig) (string, error) {
	return f(ctx, systemInstruction, userText, cfg)
}

func Float32(v float32) *float32 { return &v }
func Int(v int) *int             { return &v }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
