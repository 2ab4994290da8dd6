package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const ollamaDefaultURL = "http://localhost:11434"

var ollamaTracer = otel.Tracer("groundcheck.llm.ollama")

// OllamaClient runs against a local Ollama server. It needs no API key.
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewOllamaClient(baseURL string, httpClient *http.Client) *OllamaClient {
	if baseURL == "" {
		baseURL = ollamaDefaultURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	slog.Info("Initializing Ollama client", "base_url", baseURL)
	return &OllamaClient{baseURL: baseURL, httpClient: httpClient}
}

// Generate implements Generator
func (o *OllamaClient) Generate(ctx context.Context, systemInstruction, userText string, cfg GenerationConfig) (string, error) {
	ctx, span := ollamaTracer.Start(ctx, "OllamaClient.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", cfg.Model))

	clientOpts := []ollama.Option{
		ollama.WithServerURL(o.baseURL),
		ollama.WithHTTPClient(o.httpClient),
		ollama.WithModel(cfg.Model),
	}
	if cfg.ResponseFormat == FormatStructured {
		clientOpts = append(clientOpts, ollama.WithFormat("json"))
	}
	model, err := ollama.New(clientOpts...)
	if err != nil {
		return "", fmt.Errorf("create ollama client: %w", err)
	}

	var callOpts []llms.CallOption
	if cfg.Temperature != nil {
		callOpts = append(callOpts, llms.WithTemperature(float64(*cfg.Temperature)))
	}
	if cfg.TopP != nil {
		callOpts = append(callOpts, llms.WithTopP(float64(*cfg.TopP)))
	}
	if cfg.TopK != nil {
		callOpts = append(callOpts, llms.WithTopK(*cfg.TopK))
	}
	if cfg.MaxOutputTokens != nil {
		callOpts = append(callOpts, llms.WithMaxTokens(*cfg.MaxOutputTokens))
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemInstruction),
		llms.TextParts(llms.ChatMessageTypeHuman, userText),
	}
	resp, err := model.GenerateContent(ctx, messages, callOpts...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ollama chat failed")
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("ollama: no choices: %w", ErrEmptyResponse)
	}
	text := strings.TrimSpace(resp.Choices[0].Content)
	if text == "" {
		return "", fmt.Errorf("ollama: %w", ErrEmptyResponse)
	}
	return text, nil
}
