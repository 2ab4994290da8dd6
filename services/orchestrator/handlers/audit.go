// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/AleutianAI/groundcheck/pkg/extensions"
	"github.com/AleutianAI/groundcheck/services/orchestrator/observability"
	"github.com/AleutianAI/groundcheck/services/pipeline"
	"github.com/AleutianAI/groundcheck/services/policy_engine"
	"github.com/gin-gonic/gin"
)

const maxAuditLimit = 1000

// auditOutcome builds the audit event for one pipeline call. The event holds
// no question, context or answer text.
func auditOutcome(route, requestID string, elapsed time.Duration, res *pipeline.Result, err error) extensions.AuditEvent {
	ev := extensions.AuditEvent{
		RequestID: requestID,
		Route:     route,
		Metadata:  map[string]any{"duration_ms": elapsed.Milliseconds()},
	}
	if err != nil {
		_, code, _ := ErrorStatus(err)
		ev.EventType = extensions.EventAnswerFailed
		ev.Outcome = string(code)
		var blocked *policy_engine.BlockedError
		if errors.As(err, &blocked) {
			ev.EventType = extensions.EventAnswerBlocked
			ev.Metadata["classification"] = blocked.Finding.ClassificationName
			ev.Metadata["field"] = blocked.Finding.Field
			if blocked.Class != "" {
				ev.Metadata["top_classification"] = blocked.Class
			}
		}
		return ev
	}

	ev.EventType = extensions.EventAnswerResolved
	ev.Outcome = res.Verdict.Label()
	if res.Verdict.Fallback {
		ev.Outcome = "fallback"
	}
	ev.Metadata["model"] = res.Model
	ev.Metadata["mode"] = string(res.Mode)
	ev.Metadata["issues"] = len(res.Verdict.Issues)
	if res.Verdict.Confidence != nil {
		ev.Metadata["confidence"] = *res.Verdict.Confidence
	}
	return ev
}

// recordAudit logs the outcome even when the client has gone away.
func recordAudit(ctx context.Context, deps Deps, ev extensions.AuditEvent) {
	if deps.Audit == nil {
		return
	}
	if err := deps.Audit.Log(context.WithoutCancel(ctx), ev); err != nil {
		slog.Warn("audit log failed", "request_id", ev.RequestID, "error", err)
	}
}

// HandleAudit serves GET /v1/audit?limit=N&outcome=X&type=Y, newest first.
func HandleAudit(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter := extensions.AuditFilter{
			Outcome: c.Query("outcome"),
			Limit:   100,
		}
		if types := c.QueryArray("type"); len(types) > 0 {
			filter.EventTypes = types
		}
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > maxAuditLimit {
				writeError(c, deps.Metrics, http.StatusBadRequest, observability.ErrorCodeInvalidInput,
					"limit must be between 1 and "+strconv.Itoa(maxAuditLimit))
				return
			}
			filter.Limit = n
		}

		events, err := deps.Audit.Query(c.Request.Context(), filter)
		if err != nil {
			slog.Error("audit query failed", "error", err)
			writeError(c, deps.Metrics, http.StatusInternalServerError, observability.ErrorCodeInternal, "Server error")
			return
		}
		c.JSON(http.StatusOK, gin.H{"events": events})
	}
}
