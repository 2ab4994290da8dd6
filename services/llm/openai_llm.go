package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var openaiTracer = otel.Tracer("groundcheck.llm.openai")

type OpenAIClient struct {
	client     *openai.Client
	baseURL    string
	httpClient *http.Client
}

func NewOpenAIClient(apiKey, baseURL string, httpClient *http.Client) (*OpenAIClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrMissingAPIKey
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	slog.Info("Initializing OpenAI client", "base_url", cfg.BaseURL)
	return &OpenAIClient{
		client:     openai.NewClientWithConfig(cfg),
		baseURL:    baseURL,
		httpClient: httpClient,
	}, nil
}

func (o *OpenAIClient) WithAPIKey(_ context.Context, apiKey string) (Generator, error) {
	return NewOpenAIClient(apiKey, o.baseURL, o.httpClient)
}

// Generate implements Generator
func (o *OpenAIClient) Generate(ctx context.Context, systemInstruction, userText string, cfg GenerationConfig) (string, error) {
	ctx, span := openaiTracer.Start(ctx, "OpenAIClient.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", cfg.Model))

	req := openai.ChatCompletionRequest{
		Model: cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemInstruction},
			{Role: openai.ChatMessageRoleUser, Content: userText},
		},
	}
	if cfg.Temperature != nil {
		req.Temperature = *cfg.Temperature
		// A zero float32 is dropped by omitempty and the API would fall back
		// to its default of 1.0.
		if req.Temperature == 0 {
			req.Temperature = math.SmallestNonzeroFloat32
		}
	}
	if cfg.TopP != nil {
		req.TopP = *cfg.TopP
	}
	if cfg.MaxOutputTokens != nil {
		req.MaxCompletionTokens = *cfg.MaxOutputTokens
	}
	if cfg.ResponseFormat == FormatStructured {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "chat completion failed")
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", &StatusError{Provider: "OpenAI", StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
		}
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: no choices: %w", ErrEmptyResponse)
	}
	slog.Debug("Received response from OpenAI", "finish_reason", resp.Choices[0].FinishReason)

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("openai: %w", ErrEmptyResponse)
	}
	return text, nil
}
