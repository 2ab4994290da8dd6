// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command orchestrator starts the groundcheck HTTP server.
//
// This is the entry point for the container image. It reads configuration
// from environment variables only; no config file is consulted.
//
// # Environment Variables
//
//   - GROUNDCHECK_PORT / PORT: HTTP server port (default: 12310)
//   - GROUNDCHECK_BACKEND: gemini, openai, anthropic, ollama (default: gemini)
//   - GROUNDCHECK_MODEL: default model for the backend
//   - GROUNDCHECK_API_KEY, GEMINI_API_KEY, OPENAI_API_KEY, ANTHROPIC_API_KEY:
//     backend credential, or a file under GROUNDCHECK_SECRETS_DIR
//   - GROUNDCHECK_KNOWLEDGE_FILE: text file served by POST /v1/ask
//   - OTEL_TRACES_EXPORTER / OTEL_EXPORTER_OTLP_ENDPOINT: tracing
//
// # Usage
//
//	go build -o orchestrator ./cmd/orchestrator
//	GEMINI_API_KEY=... ./orchestrator
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AleutianAI/groundcheck/pkg/config"
	"github.com/AleutianAI/groundcheck/pkg/logging"
	"github.com/AleutianAI/groundcheck/pkg/telemetry"
	"github.com/AleutianAI/groundcheck/services/orchestrator"
)

func main() {
	cfg, err := config.Load("", os.LookupEnv)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logCfg, err := cfg.Logging.Logger("orchestrator")
	if err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}
	logCfg.JSON = true
	logger := logging.New(logCfg)
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		log.Fatalf("Failed to initialize telemetry: %v", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Error("Telemetry shutdown failed", "error", err)
		}
	}()

	svc, err := orchestrator.New(cfg, &orchestrator.Options{Logger: logger.Slog()})
	if err != nil {
		slog.Error("Failed to create orchestrator", "error", err)
		os.Exit(1)
	}
	if err := svc.Run(ctx); err != nil {
		slog.Error("Orchestrator error", "error", err)
		os.Exit(1)
	}
}
