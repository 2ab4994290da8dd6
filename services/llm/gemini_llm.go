// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/genai"
)

var geminiTracer = otel.Tracer("groundcheck.llm.gemini")

type GeminiClient struct {
	client     *genai.Client
	baseURL    string
	httpClient *http.Client
}

// NewGeminiClient talks to the Gemini API (generativelanguage.googleapis.com
// unless baseURL is set).
func NewGeminiClient(ctx context.Context, apiKey, baseURL string, httpClient *http.Client) (*GeminiClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrMissingAPIKey
	}
	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: strings.TrimSuffix(baseURL, "/") + "/"}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	slog.Info("Initializing Gemini client", "base_url", baseURL)
	return &GeminiClient{client: client, baseURL: baseURL, httpClient: httpClient}, nil
}

func (g *GeminiClient) WithAPIKey(ctx context.Context, apiKey string) (Generator, error) {
	return NewGeminiClient(ctx, apiKey, g.baseURL, g.httpClient)
}

// Generate implements Generator
func (g *GeminiClient) Generate(ctx context.Context, systemInstruction, userText string, cfg GenerationConfig) (string, error) {
	ctx, span := geminiTracer.Start(ctx, "GeminiClient.Generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", cfg.Model),
		attribute.String("llm.response_format", string(cfg.ResponseFormat)),
	)

	gc := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: systemInstruction}},
		},
		Temperature: cfg.Temperature,
		TopP:        cfg.TopP,
	}
	if cfg.TopK != nil {
		gc.TopK = genai.Ptr(float32(*cfg.TopK))
	}
	if cfg.MaxOutputTokens != nil {
		gc.MaxOutputTokens = int32(*cfg.MaxOutputTokens)
	}
	if cfg.ResponseFormat == FormatStructured {
		gc.ResponseMIMEType = "application/json"
	}

	resp, err := g.client.Models.GenerateContent(ctx,
		cfg.Model,
		[]*genai.Content{
			{Parts: []*genai.Part{{Text: userText}}, Role: "user"},
		},
		gc,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate content failed")
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return "", &StatusError{Provider: "Gemini", StatusCode: apiErr.Code, Body: apiErr.Message}
		}
		return "", fmt.Errorf("gemini generate content: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		span.SetStatus(codes.Error, "empty response")
		return "", fmt.Errorf("gemini: %w", ErrEmptyResponse)
	}
	return text, nil
}
