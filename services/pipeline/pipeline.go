// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pipeline answers a question from a caller-supplied context in two
// backend calls: a responder drafts the answer, then a validator checks the
// draft against the context and the pipeline reconciles the two.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/groundcheck/pkg/telemetry"
	"github.com/AleutianAI/groundcheck/services/llm"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultTemperature  float32 = 0.2
	MaxTemperature      float32 = 1
	ValidatorMaxTemp    float32 = 0.3
	DefaultStageTimeout         = 60 * time.Second
)

// State is the position of one Answer call in its lifecycle. Transitions
// only move forward: AwaitingDraft, AwaitingVerdict, then Resolved or Failed.
type State string

const (
	StateAwaitingDraft   State = "awaiting_draft"
	StateAwaitingVerdict State = "awaiting_verdict"
	StateResolved        State = "resolved"
	StateFailed          State = "failed"
)

// Event is delivered to an Observer on every state transition.
type Event struct {
	State   State
	Mode    Mode     // set once options are resolved
	Draft   string   // set from AwaitingVerdict on
	Verdict *Verdict // set on Resolved
	Final   string   // set on Resolved
	Err     error    // set on Failed
}

// Observer receives state transitions. It runs synchronously on the calling
// goroutine and cannot change the outcome.
type Observer func(Event)

// Guard screens inputs before any backend call. A non-nil error rejects the
// request as an input error.
type Guard interface {
	Screen(field, text string) error
}

// Result is the outcome of a resolved Answer call.
type Result struct {
	Draft   string
	Verdict Verdict
	Final   string
	// Raw is the validator's unparsed reply.
	Raw    string
	Mode   Mode
	Locale Locale
	Model  string
	State  State
}

type Config struct {
	Generator          llm.Generator
	DefaultModel       string
	Temperature        float32
	ResponderMaxTokens int
	ValidatorMaxTokens int
	StageTimeout       time.Duration
	Locale             Locale
	Mode               Mode
	Guard              Guard
	Logger             *slog.Logger
}

// Pipeline is safe for concurrent use. It holds no per-request state.
type Pipeline struct {
	cfg     Config
	prompts *PromptBuilder
	metrics *pipelineMetrics
	logger  *slog.Logger
}

// New checks cfg and fills defaults. A missing generator or model is a
// configuration error.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Generator == nil {
		return nil, configError("", "no model backend configured", nil)
	}
	if strings.TrimSpace(cfg.DefaultModel) == "" {
		return nil, configError("", "no default model configured", nil)
	}
	if cfg.Temperature < 0 || cfg.Temperature > MaxTemperature {
		return nil, configError("", fmt.Sprintf("default temperature %.2f outside [0,1]", cfg.Temperature), nil)
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = DefaultStageTimeout
	}
	if cfg.Locale == "" {
		cfg.Locale = LocaleEnglish
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeBlocking
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	prompts, err := NewPromptBuilder()
	if err != nil {
		return nil, configError("", "prompt templates", err)
	}
	return &Pipeline{
		cfg:     cfg,
		prompts: prompts,
		metrics: newPipelineMetrics(),
		logger:  cfg.Logger,
	}, nil
}

// DefaultModel is the model used when Options.Model is empty.
func (p *Pipeline) DefaultModel() string { return p.cfg.DefaultModel }

// call is one request's settings after Options are merged with defaults.
type call struct {
	gen         llm.Generator
	model       string
	temperature float32
	locale      Locale
	mode        Mode
}

func (p *Pipeline) resolve(ctx context.Context, opts Options) (call, error) {
	c := call{
		gen:         p.cfg.Generator,
		model:       strings.TrimSpace(opts.Model),
		temperature: p.cfg.Temperature,
		locale:      p.cfg.Locale,
		mode:        p.cfg.Mode,
	}
	if c.model == "" {
		c.model = p.cfg.DefaultModel
	}
	if opts.Temperature != nil {
		t := *opts.Temperature
		if t < 0 || t > MaxTemperature || t != t {
			return call{}, inputError(fmt.Sprintf("temperature must be within [0,1], got %v", t))
		}
		c.temperature = t
	}
	if opts.Locale != "" {
		l, err := ParseLocale(string(opts.Locale))
		if err != nil {
			return call{}, inputError(err.Error())
		}
		c.locale = l
	}
	if opts.Mode != "" {
		m, err := ParseMode(string(opts.Mode))
		if err != nil {
			return call{}, inputError(err.Error())
		}
		c.mode = m
	}
	if key := strings.TrimSpace(opts.APIKey); key != "" {
		keyed, ok := p.cfg.Generator.(llm.KeyedGenerator)
		if !ok {
			return call{}, configError("", "backend does not accept a per-request API key", nil)
		}
		gen, err := keyed.WithAPIKey(ctx, key)
		if err != nil {
			return call{}, configError("", "per-request API key rejected", err)
		}
		c.gen = gen
	}
	return c, nil
}

// checkInputs trims and screens question and context.
func (p *Pipeline) checkInputs(question, contextText string) (string, string, error) {
	question = strings.TrimSpace(question)
	contextText = strings.TrimSpace(contextText)
	if question == "" {
		return "", "", inputError("Missing question")
	}
	if contextText == "" {
		return "", "", inputError("Missing context")
	}
	if p.cfg.Guard != nil {
		for _, in := range []struct{ field, text string }{{"question", question}, {"context", contextText}} {
			if err := p.cfg.Guard.Screen(in.field, in.text); err != nil {
				return "", "", &Error{Kind: ErrInput, Stage: StageInput, Message: "blocked by content guard", Err: err}
			}
		}
	}
	return question, contextText, nil
}

// Answer runs the responder then the validator and reconciles the two. On
// success the returned Result is in StateResolved. Any error leaves no final
// answer; in particular a validator failure never promotes the draft.
func (p *Pipeline) Answer(ctx context.Context, question, contextText string, opts Options, observe Observer) (*Result, error) {
	ctx, span := telemetry.StartSpan(ctx, instrumentationName, "Pipeline.Answer")
	defer span.End()

	emit := func(e Event) {
		if observe != nil {
			observe(e)
		}
	}
	fail := func(err error) (*Result, error) {
		telemetry.RecordError(span, err)
		p.metrics.observeFailure(ctx, err)
		emit(Event{State: StateFailed, Err: err})
		return nil, err
	}

	question, contextText, err := p.checkInputs(question, contextText)
	if err != nil {
		return fail(err)
	}
	c, err := p.resolve(ctx, opts)
	if err != nil {
		return fail(err)
	}
	span.SetAttributes(
		attribute.String("pipeline.model", c.model),
		attribute.String("pipeline.mode", string(c.mode)),
		attribute.Int("pipeline.context_length", len(contextText)),
	)
	logger := p.logger.With("model", c.model, "mode", string(c.mode))

	emit(Event{State: StateAwaitingDraft, Mode: c.mode})
	draft, err := p.respond(ctx, c, question, contextText)
	if err != nil {
		logger.Warn("responder failed", "stage", StageResponder, "error", err)
		return fail(err)
	}

	emit(Event{State: StateAwaitingVerdict, Mode: c.mode, Draft: draft})
	verdict, raw, err := p.validate(ctx, c, question, contextText, draft)
	if err != nil {
		logger.Warn("validator failed", "stage", StageValidator, "error", err)
		return fail(err)
	}

	res := &Result{
		Draft:   draft,
		Verdict: verdict,
		Final:   Reconcile(draft, verdict, c.mode, c.locale),
		Raw:     raw,
		Mode:    c.mode,
		Locale:  c.locale,
		Model:   c.model,
		State:   StateResolved,
	}
	p.metrics.observeResult(ctx, res)
	span.SetAttributes(
		attribute.Bool("pipeline.grounded", verdict.Grounded),
		attribute.Bool("pipeline.fallback", verdict.Fallback),
	)
	telemetry.SetSpanOK(span)
	logger.Info("answer resolved",
		"grounded", verdict.Grounded,
		"fallback", verdict.Fallback,
		"issues", len(verdict.Issues),
		"draft_length", len(draft),
		"final_is_draft", res.Final == draft)
	emit(Event{State: StateResolved, Mode: c.mode, Draft: draft, Verdict: &res.Verdict, Final: res.Final})
	return res, nil
}

// Reconcile picks the final answer. Advisory mode always keeps the draft.
// Otherwise a grounded draft stands, and an ungrounded one is replaced by the
// validator's correction or, failing that, the refusal sentence.
func Reconcile(draft string, v Verdict, mode Mode, locale Locale) string {
	if mode == ModeAdvisory || v.Grounded {
		return draft
	}
	if v.CorrectedAnswer != nil && strings.TrimSpace(*v.CorrectedAnswer) != "" {
		return *v.CorrectedAnswer
	}
	return locale.Refusal()
}

// generate runs one backend call under the stage timeout and maps every
// failure to an upstream error.
func (p *Pipeline) generate(ctx context.Context, stage Stage, c call, system, user string, gc llm.GenerationConfig) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.StageTimeout)
	defer cancel()

	start := time.Now()
	text, err := c.gen.Generate(ctx, system, user, gc)
	if err == nil && strings.TrimSpace(text) == "" {
		err = llm.ErrEmptyResponse
	}
	p.metrics.observeStage(ctx, stage, c.model, start, err)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%s stage timed out after %s: %w", stage, p.cfg.StageTimeout, err)
		}
		return "", upstreamError(stage, err)
	}
	return strings.TrimSpace(text), nil
}
