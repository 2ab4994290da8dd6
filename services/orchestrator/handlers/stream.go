// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/AleutianAI/groundcheck/services/orchestrator/datatypes"
	"github.com/AleutianAI/groundcheck/services/orchestrator/middleware"
	"github.com/AleutianAI/groundcheck/services/orchestrator/observability"
	"github.com/AleutianAI/groundcheck/services/pipeline"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	streamWriteTimeout = 10 * time.Second
	streamReadBuffer   = 64 * 1024
	streamWriteBuffer  = 64 * 1024
)

// Stream event types.
const (
	EventState  = "state"
	EventResult = "result"
	EventError  = "error"
)

// NewUpgrader accepts same-host requests and origins in allowedOrigins. An
// empty list or "*" accepts any origin.
func NewUpgrader(allowedOrigins []string) *websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*")
	return &websocket.Upgrader{
		ReadBufferSize:  streamReadBuffer,
		WriteBufferSize: streamWriteBuffer,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if allowAll || origin == "" {
				return true
			}
			return slices.Contains(allowedOrigins, origin)
		},
	}
}

// HandleAnswerStream serves GET /v1/answer/ws. Each text message on the
// socket is an AnswerRequest. The server replies with "state" events as the
// pipeline moves forward and ends each request with one "result" or "error"
// event. The draft is only sent ahead of the verdict in advisory mode.
func HandleAnswerStream(deps Deps, upgrader *websocket.Upgrader) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Warn("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()
		if deps.MaxBodyBytes > 0 {
			ws.SetReadLimit(deps.MaxBodyBytes)
		}

		deps.Metrics.StreamStarted()
		defer deps.Metrics.StreamEnded()

		requestID := middleware.GetRequestID(c)
		log := slog.With("request_id", requestID)
		log.Info("answer stream opened")

		for {
			_, msg, err := ws.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Warn("answer stream read failed", "error", err)
				}
				return
			}

			var req datatypes.AnswerRequest
			if err := json.Unmarshal(msg, &req); err != nil {
				if sendErr := sendStreamError(ws, deps.Metrics, requestID, observability.ErrorCodeInvalidJSON, "Invalid JSON"); sendErr != nil {
					return
				}
				continue
			}
			if err := req.Validate(); err != nil {
				if sendErr := sendStreamError(ws, deps.Metrics, requestID, observability.ErrorCodeInvalidInput, validationMessage(err)); sendErr != nil {
					return
				}
				continue
			}

			var writeErr error
			observe := func(e pipeline.Event) {
				if writeErr != nil {
					return
				}
				switch e.State {
				case pipeline.StateAwaitingDraft, pipeline.StateAwaitingVerdict:
					ev := datatypes.StageEvent{Type: EventState, State: string(e.State)}
					if e.State == pipeline.StateAwaitingVerdict && e.Mode == pipeline.ModeAdvisory {
						ev.Draft = e.Draft
					}
					writeErr = writeEvent(ws, ev)
				}
			}

			start := time.Now()
			res, err := deps.Pipeline.Answer(c.Request.Context(), req.Question, req.Context, req.Options(), observe)
			recordAudit(c.Request.Context(), deps, auditOutcome(c.FullPath(), requestID, time.Since(start), res, err))
			if writeErr != nil {
				log.Warn("answer stream write failed", "error", writeErr)
				return
			}
			if err != nil {
				status, code, text := ErrorStatus(err)
				log.Warn("streamed answer failed", "status", status, "code", string(code), "error", err)
				if sendErr := sendStreamError(ws, deps.Metrics, requestID, code, text); sendErr != nil {
					return
				}
				continue
			}

			deps.Metrics.RecordAnswer(res.Verdict.Label(), string(res.Mode))
			resp := datatypes.NewAnswerResponse(res, requestID)
			if err := writeEvent(ws, datatypes.StageEvent{Type: EventResult, State: string(res.State), Result: &resp}); err != nil {
				log.Warn("answer stream write failed", "error", err)
				return
			}
		}
	}
}

func writeEvent(ws *websocket.Conn, ev datatypes.StageEvent) error {
	if err := ws.SetWriteDeadline(time.Now().Add(streamWriteTimeout)); err != nil {
		return err
	}
	return ws.WriteJSON(ev)
}

func sendStreamError(ws *websocket.Conn, m *observability.HTTPMetrics, requestID string, code observability.ErrorCode, msg string) error {
	m.RecordError(code)
	err := writeEvent(ws, datatypes.StageEvent{
		Type:  EventError,
		State: string(pipeline.StateFailed),
		Error: &datatypes.ErrorResponse{Error: msg, Code: string(code), RequestID: requestID},
	})
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		slog.Warn("answer stream write failed", "error", err)
	}
	return err
}
