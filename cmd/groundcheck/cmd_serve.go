// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/groundcheck/pkg/telemetry"
	"github.com/AleutianAI/groundcheck/pkg/ux"
	"github.com/AleutianAI/groundcheck/services/orchestrator"
	"github.com/AleutianAI/groundcheck/services/pipeline"
	"github.com/spf13/cobra"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		port          int
		knowledgeFile string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP service",
		Long: `Starts the HTTP service on the configured port. Endpoints:

  POST /api/chat, POST /v1/answer   answer from the request's context
  POST /v1/ask                      answer from the server knowledge file
  GET  /v1/answer/ws                websocket with per-stage events
  GET  /v1/config                   non-secret configuration summary
  GET  /health, GET /metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if knowledgeFile != "" {
				cfg.Server.KnowledgeFile = knowledgeFile
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("%w: %w", pipeline.ErrConfiguration, err)
			}

			ctx := cmd.Context()
			shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
			if err != nil {
				return fmt.Errorf("%w: telemetry: %w", pipeline.ErrConfiguration, err)
			}
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTelemetry(flushCtx); err != nil {
					slog.Warn("Telemetry shutdown failed", "error", err)
				}
			}()

			svc, err := orchestrator.New(cfg, a.orchestratorOptions())
			if err != nil {
				return err
			}
			ux.Info(fmt.Sprintf("Listening on :%d (%s, %s)", cfg.Server.Port, cfg.LLM.Backend, cfg.LLM.Model))
			return svc.Run(ctx)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Listen port (overrides config)")
	cmd.Flags().StringVar(&knowledgeFile, "knowledge-file", "", "Text file served by POST /v1/ask")
	return cmd
}
