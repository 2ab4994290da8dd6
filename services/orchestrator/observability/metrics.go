// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the HTTP service.
//
// # Description
//
// Metrics cover:
//   - Request counters and latency by route, method, and status
//   - Answers by verdict label and mode
//   - Errors by code
//   - Active websocket streams
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const metricsNamespace = "groundcheck"

const httpSubsystem = "http"

// ErrorCode labels ErrorsTotal. The same strings are sent to clients in the
// "code" field of error bodies.
type ErrorCode string

const (
	ErrorCodeInvalidJSON   ErrorCode = "invalid_json"
	ErrorCodeInvalidInput  ErrorCode = "invalid_input"
	ErrorCodeConfiguration ErrorCode = "configuration_error"
	ErrorCodeUpstream      ErrorCode = "upstream_error"
	ErrorCodeMethod        ErrorCode = "method_not_allowed"
	ErrorCodeRateLimited   ErrorCode = "rate_limited"
	ErrorCodeInternal      ErrorCode = "server_error"
)

// HTTPMetrics holds the service's Prometheus collectors.
//
// # Fields
//
//   - RequestsTotal: requests by route, method, and status code
//   - RequestDurationSeconds: request latency by route and method
//   - AnswersTotal: resolved answers by verdict ("approve"/"revise") and mode
//   - ErrorsTotal: error responses by code
//   - ActiveStreams: open websocket connections
//   - KnowledgeReloads: knowledge file reloads that changed the content
type HTTPMetrics struct {
	RequestsTotal          *prometheus.CounterVec
	RequestDurationSeconds *prometheus.HistogramVec
	AnswersTotal           *prometheus.CounterVec
	ErrorsTotal            *prometheus.CounterVec
	ActiveStreams          prometheus.Gauge
	KnowledgeReloads       prometheus.Counter
}

// NewHTTPMetrics creates and registers the collectors with reg.
//
// # Description
//
// Production code passes prometheus.DefaultRegisterer so the collectors show
// up on /metrics next to the OpenTelemetry exporter's. Tests pass a fresh
// prometheus.NewRegistry() so several services can coexist.
//
// # Limitations
//
//   - Panics if the same registry is used twice (duplicate registration).
func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	factory := promauto.With(reg)
	return &HTTPMetrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: httpSubsystem,
				Name:      "requests_total",
				Help:      "Total HTTP requests by route, method and status",
			},
			[]string{"route", "method", "status"},
		),
		RequestDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: httpSubsystem,
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"route", "method"},
		),
		AnswersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "answers_total",
				Help:      "Resolved answers by verdict and mode",
			},
			[]string{"verdict", "mode"},
		),
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "errors_total",
				Help:      "Error responses by code",
			},
			[]string{"code"},
		),
		ActiveStreams: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "active_streams",
				Help:      "Open websocket answer streams",
			},
		),
		KnowledgeReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "knowledge_reloads_total",
				Help:      "Knowledge file reloads that changed the content",
			},
		),
	}
}

// =============================================================================
// Recording Helpers
// =============================================================================

// Middleware records RequestsTotal and RequestDurationSeconds. Unmatched
// routes are labelled "unmatched" to keep cardinality bounded.
func (m *HTTPMetrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		m.RequestsTotal.WithLabelValues(route, method, strconv.Itoa(c.Writer.Status())).Inc()
		m.RequestDurationSeconds.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
	}
}

func (m *HTTPMetrics) RecordAnswer(verdict, mode string) {
	if m == nil {
		return
	}
	m.AnswersTotal.WithLabelValues(verdict, mode).Inc()
}

func (m *HTTPMetrics) RecordError(code ErrorCode) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(string(code)).Inc()
}

func (m *HTTPMetrics) StreamStarted() {
	if m != nil {
		m.ActiveStreams.Inc()
	}
}

func (m *HTTPMetrics) StreamEnded() {
	if m != nil {
		m.ActiveStreams.Dec()
	}
}

func (m *HTTPMetrics) KnowledgeReloaded() {
	if m != nil {
		m.KnowledgeReloads.Inc()
	}
}
