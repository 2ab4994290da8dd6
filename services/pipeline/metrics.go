// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/AleutianAI/groundcheck/services/pipeline"

// pipelineMetrics are recorded through the global MeterProvider, so they
// reach whichever exporter telemetry.Init installed.
type pipelineMetrics struct {
	stageDuration metric.Float64Histogram
	verdicts      metric.Int64Counter
	fallbacks     metric.Int64Counter
	failures      metric.Int64Counter
}

func newPipelineMetrics() *pipelineMetrics {
	meter := otel.Meter(instrumentationName)
	m := &pipelineMetrics{}
	var err, errs error

	m.stageDuration, err = meter.Float64Histogram("groundcheck.stage.duration",
		metric.WithDescription("Duration of one backend call per pipeline stage"),
		metric.WithUnit("s"))
	errs = errors.Join(errs, err)
	m.verdicts, err = meter.Int64Counter("groundcheck.verdicts",
		metric.WithDescription("Resolved answers by verdict label and mode"))
	errs = errors.Join(errs, err)
	m.fallbacks, err = meter.Int64Counter("groundcheck.validator.fallbacks",
		metric.WithDescription("Validator replies that could not be parsed"))
	errs = errors.Join(errs, err)
	m.failures, err = meter.Int64Counter("groundcheck.failures",
		metric.WithDescription("Failed answers by error kind and stage"))
	errs = errors.Join(errs, err)

	if errs != nil {
		slog.Warn("pipeline metrics partially unavailable", "error", errs)
	}
	return m
}

func (m *pipelineMetrics) observeStage(ctx context.Context, stage Stage, model string, start time.Time, err error) {
	if m.stageDuration == nil {
		return
	}
	m.stageDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
		attribute.String("stage", string(stage)),
		attribute.String("model", model),
		attribute.Bool("error", err != nil),
	))
}

func (m *pipelineMetrics) observeResult(ctx context.Context, res *Result) {
	if m.verdicts != nil {
		m.verdicts.Add(ctx, 1, metric.WithAttributes(
			attribute.String("verdict", res.Verdict.Label()),
			attribute.String("mode", string(res.Mode)),
		))
	}
	if res.Verdict.Fallback && m.fallbacks != nil {
		m.fallbacks.Add(ctx, 1)
	}
}

func (m *pipelineMetrics) observeFailure(ctx context.Context, err error) {
	if m.failures == nil {
		return
	}
	kind, stage := "unknown", ""
	var pe *Error
	if errors.As(err, &pe) {
		kind, stage = pe.Kind.Error(), string(pe.Stage)
	}
	m.failures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("stage", stage),
	))
}
