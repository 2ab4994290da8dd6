// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package orchestrator wires the grounded answer pipeline behind an HTTP
// service.
//
// The orchestrator coordinates the model backend, the content guard, the
// knowledge store and the observability middleware, and owns the HTTP
// server's lifecycle.
//
// # Usage
//
//	cfg, err := config.Load(config.DefaultPath(), nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := orchestrator.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//	if err := svc.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/AleutianAI/groundcheck/pkg/config"
	"github.com/AleutianAI/groundcheck/pkg/extensions"
	"github.com/AleutianAI/groundcheck/services/llm"
	"github.com/AleutianAI/groundcheck/services/orchestrator/datatypes"
	"github.com/AleutianAI/groundcheck/services/orchestrator/handlers"
	"github.com/AleutianAI/groundcheck/services/orchestrator/knowledge"
	"github.com/AleutianAI/groundcheck/services/orchestrator/middleware"
	"github.com/AleutianAI/groundcheck/services/orchestrator/observability"
	"github.com/AleutianAI/groundcheck/services/orchestrator/routes"
	"github.com/AleutianAI/groundcheck/services/pipeline"
	"github.com/AleutianAI/groundcheck/services/policy_engine"
	"github.com/AleutianAI/groundcheck/services/policy_engine/enforcement"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service is the orchestrator lifecycle.
//
// # Thread Safety
//
// Router and Summary are safe for concurrent use. Run should be called at
// most once.
type Service interface {
	// Run serves HTTP until ctx is cancelled, then shuts down gracefully
	// within the configured shutdown timeout. It also drives the knowledge
	// file watcher.
	Run(ctx context.Context) error

	// Router returns the configured gin engine, mainly for tests.
	Router() *gin.Engine

	// Summary reports the effective non-secret settings.
	Summary() datatypes.ConfigSummary
}

// Options replace parts of the default wiring.
type Options struct {
	// Generator bypasses backend construction and credential lookup.
	Generator llm.Generator

	// Registerer receives the HTTP metrics. Defaults to
	// prometheus.DefaultRegisterer, which /metrics serves.
	Registerer prometheus.Registerer

	// Lookup reads credential environment variables. Defaults to os.LookupEnv.
	Lookup config.LookupFunc

	// Logger is passed to the pipeline. Defaults to slog.Default().
	Logger *slog.Logger

	// Extensions replace the default hooks. A nil AuditLogger falls back to
	// an in-memory ring when server.audit_capacity > 0, otherwise auditing
	// is off.
	Extensions extensions.Options
}

// =============================================================================
// Implementation
// =============================================================================

type service struct {
	config     config.Config
	opts       Options
	router     *gin.Engine
	generator  llm.Generator
	credential *llm.Credential
	guard      *policy_engine.PolicyEngine
	pipeline   *pipeline.Pipeline
	knowledge  *knowledge.Store
	metrics    *observability.HTTPMetrics
	audit      extensions.AuditLogger
}

// New builds the service from cfg.
//
// # Description
//
// Validates cfg, resolves the backend credential, builds the content guard
// and the pipeline, loads the knowledge file and registers the routes.
//
// # Outputs
//
//   - Service: ready to Run
//   - error: wraps pipeline.ErrConfiguration when the configuration or the
//     credential is unusable
func New(cfg config.Config, opts *Options) (Service, error) {
	s, err := newCore(cfg, opts)
	if err != nil {
		return nil, err
	}

	s.knowledge, err = knowledge.NewStore(cfg.Server.KnowledgeFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", pipeline.ErrConfiguration, err)
	}

	s.metrics = observability.NewHTTPMetrics(s.opts.Registerer)
	s.knowledge.OnReload(func(knowledge.Snapshot) { s.metrics.KnowledgeReloaded() })
	s.audit = s.opts.Extensions.AuditLogger
	if s.audit == nil && cfg.Server.AuditCapacity > 0 {
		s.audit = extensions.NewMemoryAuditLogger(cfg.Server.AuditCapacity)
	}
	s.initRouter()

	slog.Info("Orchestrator initialized",
		"backend", cfg.LLM.Backend,
		"model", cfg.LLM.Model,
		"mode", cfg.Pipeline.Mode,
		"locale", cfg.Pipeline.Locale,
		"guard", s.guard != nil,
		"knowledge_file", cfg.Server.KnowledgeFile)
	return s, nil
}

// NewPipeline builds the same pipeline New serves, without the HTTP layer.
// The CLI uses it for one-shot and batch runs.
func NewPipeline(cfg config.Config, opts *Options) (*pipeline.Pipeline, error) {
	s, err := newCore(cfg, opts)
	if err != nil {
		return nil, err
	}
	return s.pipeline, nil
}

// newCore validates cfg and builds the backend, the guard and the pipeline.
func newCore(cfg config.Config, opts *Options) (*service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", pipeline.ErrConfiguration, err)
	}
	s := &service{config: cfg}
	if opts != nil {
		s.opts = *opts
	}
	if s.opts.Registerer == nil {
		s.opts.Registerer = prometheus.DefaultRegisterer
	}
	if s.opts.Logger == nil {
		s.opts.Logger = slog.Default()
	}

	if err := s.initGenerator(); err != nil {
		return nil, err
	}
	if err := s.initGuard(); err != nil {
		return nil, err
	}

	p, err := pipeline.New(pipeline.Config{
		Generator:          s.generator,
		DefaultModel:       cfg.LLM.Model,
		Temperature:        cfg.Pipeline.Temperature,
		ResponderMaxTokens: cfg.Pipeline.ResponderMaxTokens,
		ValidatorMaxTokens: cfg.Pipeline.ValidatorMaxTokens,
		StageTimeout:       cfg.Pipeline.StageTimeout,
		Locale:             pipeline.Locale(cfg.Pipeline.Locale),
		Mode:               pipeline.Mode(cfg.Pipeline.Mode),
		Guard:              s.pipelineGuard(),
		Logger:             s.opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	s.pipeline = p
	return s, nil
}

func (s *service) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		if err := s.knowledge.Start(ctx); err != nil {
			slog.Warn("Knowledge file watcher stopped", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(s.config.Server.Port),
		Handler: s.router,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting orchestrator server", "port", s.config.Server.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Shutting down orchestrator server", "timeout", s.config.Server.ShutdownTimeout)
	shutdownCtx, stop := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if s.audit != nil {
		if err := s.audit.Flush(shutdownCtx); err != nil {
			slog.Warn("Audit flush failed", "error", err)
		}
	}
	return nil
}

func (s *service) Router() *gin.Engine {
	return s.router
}

func (s *service) Summary() datatypes.ConfigSummary {
	summary := datatypes.ConfigSummary{
		Backend:     s.config.LLM.Backend,
		Model:       s.pipeline.DefaultModel(),
		KeyLoaded:   s.credential != nil || !llm.RequiresAPIKey(s.config.LLM.Backend) || s.opts.Generator != nil,
		KeySource:   s.credential.Source(),
		Locale:      s.config.Pipeline.Locale,
		Mode:        s.config.Pipeline.Mode,
		Temperature: s.config.Pipeline.Temperature,
		GuardBlocks: []string{},
	}
	if s.guard != nil {
		summary.GuardBlocks = s.guard.Blocked()
		summary.PolicyHash = enforcement.PolicyHash()
	}
	if snap := s.knowledge.Current(); snap != nil {
		summary.KnowledgeLoaded = snap.Text != ""
		summary.KnowledgeVersion = snap.Version
	}
	return summary
}

// =============================================================================
// Initialization Helpers
// =============================================================================

func (s *service) initGenerator() error {
	if s.opts.Generator != nil {
		s.generator = s.opts.Generator
		return nil
	}

	backend := s.config.LLM.Backend
	cred, err := llm.ResolveCredential(backend, llm.CredentialOptions{
		ExtraEnv:   s.config.LLM.APIKeyEnv,
		SecretsDir: s.config.LLM.SecretsDir,
		Lookup:     s.opts.Lookup,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", pipeline.ErrConfiguration, err)
	}
	s.credential = cred

	gen, err := llm.NewGenerator(context.Background(), llm.BackendConfig{
		Backend:    backend,
		BaseURL:    s.config.LLM.BaseURL,
		Credential: cred,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", pipeline.ErrConfiguration, err)
	}
	s.generator = gen
	slog.Info("Using LLM backend", "backend", backend, "key_source", cred.Source())
	return nil
}

func (s *service) initGuard() error {
	if !s.config.Guard.Enabled {
		return nil
	}
	engine, err := policy_engine.NewPolicyEngine(s.config.Guard.Block...)
	if err != nil {
		return fmt.Errorf("%w: content guard: %w", pipeline.ErrConfiguration, err)
	}
	s.guard = engine
	return nil
}

// pipelineGuard avoids handing the pipeline a typed nil interface.
func (s *service) pipelineGuard() pipeline.Guard {
	if s.guard == nil {
		return nil
	}
	return s.guard
}

// initRouter installs middleware in order: panic recovery, request ID, CORS,
// tracing, metrics, then the optional rate limiter.
func (s *service) initRouter() {
	gin.SetMode(s.config.Server.GinMode)
	s.router = gin.New()
	s.router.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.CORS(s.config.Server.AllowedOrigins),
		otelgin.Middleware(s.config.Telemetry.ServiceName),
		s.metrics.Middleware(),
	)
	if s.config.Server.RateLimitRPS > 0 {
		s.router.Use(middleware.RateLimit(s.config.Server.RateLimitRPS, s.config.Server.RateLimitBurst, func() {
			s.metrics.RecordError(observability.ErrorCodeRateLimited)
		}))
	}

	deps := handlers.Deps{
		Pipeline:     s.pipeline,
		Knowledge:    s.knowledge,
		Metrics:      s.metrics,
		MaxBodyBytes: s.config.Server.MaxBodyBytes,
		Audit:        s.audit,
	}
	routes.SetupRoutes(s.router, deps, handlers.NewUpgrader(s.config.Server.AllowedOrigins), s.Summary)
}

var _ Service = (*service)(nil)
