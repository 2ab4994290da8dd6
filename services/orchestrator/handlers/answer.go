// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/groundcheck/pkg/extensions"
	"github.com/AleutianAI/groundcheck/services/orchestrator/datatypes"
	"github.com/AleutianAI/groundcheck/services/orchestrator/knowledge"
	"github.com/AleutianAI/groundcheck/services/orchestrator/middleware"
	"github.com/AleutianAI/groundcheck/services/orchestrator/observability"
	"github.com/AleutianAI/groundcheck/services/pipeline"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var answerTracer = otel.Tracer("groundcheck.orchestrator.handlers")

// Answerer is the part of *pipeline.Pipeline the handlers need.
type Answerer interface {
	Answer(ctx context.Context, question, contextText string, opts pipeline.Options, observe pipeline.Observer) (*pipeline.Result, error)
}

// Deps are shared by every handler.
type Deps struct {
	Pipeline     Answerer
	Knowledge    *knowledge.Store
	Metrics      *observability.HTTPMetrics
	MaxBodyBytes int64
	// Audit receives one event per pipeline call. Nil disables auditing.
	Audit extensions.AuditLogger
}

// errRequestTooLarge is reported when the body exceeds MaxBodyBytes.
var errRequestTooLarge = errors.New("request body too large")

// =============================================================================
// Health and preflight
// =============================================================================

func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleOptions answers CORS preflight. The CORS middleware has already set
// the Access-Control headers.
func HandleOptions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// MethodNotAllowed is installed as the router's NoMethod handler. It lists the
// methods registered for the path in the Allow header.
func MethodNotAllowed(engine *gin.Engine, m *observability.HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		var allowed []string
		for _, r := range engine.Routes() {
			if r.Path == c.Request.URL.Path {
				allowed = append(allowed, r.Method)
			}
		}
		if len(allowed) > 0 {
			c.Header("Allow", strings.Join(allowed, ", "))
		}
		writeError(c, m, http.StatusMethodNotAllowed, observability.ErrorCodeMethod, "Method not allowed")
	}
}

// HandleConfig reports the effective non-secret settings.
func HandleConfig(summary func() datatypes.ConfigSummary) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, summary())
	}
}

// =============================================================================
// Answer endpoints
// =============================================================================

// HandleAnswer serves POST /api/chat and POST /v1/answer.
func HandleAnswer(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := answerTracer.Start(c.Request.Context(), "HandleAnswer")
		defer span.End()

		var req datatypes.AnswerRequest
		if err := decodeBody(c, deps.MaxBodyBytes, &req); err != nil {
			span.RecordError(err)
			respondDecodeError(c, deps.Metrics, err)
			return
		}
		if err := req.Validate(); err != nil {
			span.RecordError(err)
			writeError(c, deps.Metrics, http.StatusBadRequest, observability.ErrorCodeInvalidInput, validationMessage(err))
			return
		}
		runAnswer(ctx, c, deps, req)
	}
}

// HandleAsk serves POST /v1/ask against the current knowledge snapshot.
func HandleAsk(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := answerTracer.Start(c.Request.Context(), "HandleAsk")
		defer span.End()

		var req datatypes.AskRequest
		if err := decodeBody(c, deps.MaxBodyBytes, &req); err != nil {
			span.RecordError(err)
			respondDecodeError(c, deps.Metrics, err)
			return
		}
		if err := req.Validate(); err != nil {
			span.RecordError(err)
			writeError(c, deps.Metrics, http.StatusBadRequest, observability.ErrorCodeInvalidInput, validationMessage(err))
			return
		}

		// One snapshot per request so a reload cannot change the context
		// between the responder and validator calls.
		var contextText string
		if snap := deps.Knowledge.Current(); snap != nil {
			contextText = snap.Text
			span.SetAttributes(attribute.String("knowledge.version", snap.Version))
		}
		runAnswer(ctx, c, deps, req.AnswerRequest(contextText))
	}
}

func runAnswer(ctx context.Context, c *gin.Context, deps Deps, req datatypes.AnswerRequest) {
	requestID := middleware.GetRequestID(c)
	start := time.Now()
	res, err := deps.Pipeline.Answer(ctx, req.Question, req.Context, req.Options(), nil)
	recordAudit(ctx, deps, auditOutcome(c.FullPath(), requestID, time.Since(start), res, err))
	if err != nil {
		respondError(c, deps.Metrics, err)
		return
	}
	deps.Metrics.RecordAnswer(res.Verdict.Label(), string(res.Mode))
	slog.Info("answer served",
		"request_id", requestID,
		"grounded", res.Verdict.Grounded,
		"fallback", res.Verdict.Fallback,
		"mode", string(res.Mode))
	c.JSON(http.StatusOK, datatypes.NewAnswerResponse(res, requestID))
}

// =============================================================================
// Decoding and error mapping
// =============================================================================

// decodeBody reads a JSON object into dst. An empty body decodes as {} so the
// pipeline reports the missing field.
func decodeBody(c *gin.Context, limit int64, dst any) error {
	body := c.Request.Body
	if limit > 0 {
		body = http.MaxBytesReader(c.Writer, body, limit)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errRequestTooLarge
		}
		return err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}

func respondDecodeError(c *gin.Context, m *observability.HTTPMetrics, err error) {
	if errors.Is(err, errRequestTooLarge) {
		writeError(c, m, http.StatusBadRequest, observability.ErrorCodeInvalidInput, "Request body too large")
		return
	}
	writeError(c, m, http.StatusBadRequest, observability.ErrorCodeInvalidJSON, "Invalid JSON")
}

// ErrorStatus maps a pipeline error to its HTTP status, error code and
// client message.
func ErrorStatus(err error) (int, observability.ErrorCode, string) {
	var pe *pipeline.Error
	errors.As(err, &pe)

	switch {
	case errors.Is(err, pipeline.ErrInput):
		msg := err.Error()
		if pe != nil {
			msg = pe.Message
			if pe.Err != nil {
				msg += ": " + pe.Err.Error()
			}
		}
		return http.StatusBadRequest, observability.ErrorCodeInvalidInput, msg
	case errors.Is(err, pipeline.ErrConfiguration):
		return http.StatusInternalServerError, observability.ErrorCodeConfiguration, err.Error()
	case errors.Is(err, pipeline.ErrUpstream):
		return http.StatusInternalServerError, observability.ErrorCodeUpstream, err.Error()
	}
	return http.StatusInternalServerError, observability.ErrorCodeInternal, "Server error"
}

func respondError(c *gin.Context, m *observability.HTTPMetrics, err error) {
	status, code, msg := ErrorStatus(err)
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	slog.Log(c.Request.Context(), level, "answer failed",
		"request_id", middleware.GetRequestID(c),
		"code", string(code),
		"error", err)
	writeError(c, m, status, code, msg)
}

func writeError(c *gin.Context, m *observability.HTTPMetrics, status int, code observability.ErrorCode, msg string) {
	m.RecordError(code)
	c.AbortWithStatusJSON(status, datatypes.ErrorResponse{
		Error:     msg,
		Code:      string(code),
		RequestID: middleware.GetRequestID(c),
	})
}

// validationMessage names the first failing field, e.g.
// "Invalid temperature: must satisfy lte=1".
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		return "Invalid " + strings.ToLower(fe.Field()) + ": must satisfy " + rule
	}
	return "Invalid request: " + err.Error()
}
