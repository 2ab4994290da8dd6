// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"
)

// Audit event types.
const (
	EventAnswerResolved = "answer.resolved"
	EventAnswerFailed   = "answer.failed"
	EventAnswerBlocked  = "answer.blocked"
)

// AuditEvent records the outcome of one request.
//
// Events never carry the question, the context, or any answer text. Only
// the verdict and request metadata are kept.
//
// Example:
//
//	event := AuditEvent{
//	    EventType: EventAnswerResolved,
//	    RequestID: requestID,
//	    Outcome:   "approve",
//	    Metadata: map[string]any{
//	        "model":       "gemini-2.0-flash",
//	        "mode":        "blocking",
//	        "duration_ms": 840,
//	    },
//	}
type AuditEvent struct {
	// EventType is one of the Event* constants.
	EventType string `json:"eventType"`

	// Timestamp is set to time.Now().UTC() by Log when zero.
	Timestamp time.Time `json:"timestamp"`

	RequestID string `json:"requestId,omitempty"`

	// Route is the endpoint that served the request.
	Route string `json:"route,omitempty"`

	// Outcome is the verdict label ("approve", "revise"), "fallback" for an
	// unreadable validator reply, or the error kind on failure.
	Outcome string `json:"outcome"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// AuditFilter selects events. Zero fields match everything.
type AuditFilter struct {
	EventTypes []string
	Outcome    string

	// Since is the earliest timestamp included.
	Since time.Time

	// Limit caps the result. Zero means no cap.
	Limit int
}

func (f AuditFilter) matches(e AuditEvent) bool {
	if len(f.EventTypes) > 0 && !slices.Contains(f.EventTypes, e.EventType) {
		return false
	}
	if f.Outcome != "" && f.Outcome != e.Outcome {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

// AuditLogger records audit events.
//
// Log must return quickly; it runs on the request path after the response
// has been decided.
type AuditLogger interface {
	Log(ctx context.Context, event AuditEvent) error

	// Query returns matching events, newest first.
	Query(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)

	// Flush persists anything buffered. Call before shutdown.
	Flush(ctx context.Context) error
}

// =============================================================================
// No-op
// =============================================================================

// NopAuditLogger discards all events.
type NopAuditLogger struct{}

func (l *NopAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	return nil
}

// Query always returns an empty slice.
func (l *NopAuditLogger) Query(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	return []AuditEvent{}, nil
}

func (l *NopAuditLogger) Flush(ctx context.Context) error {
	return nil
}

var _ AuditLogger = (*NopAuditLogger)(nil)

// =============================================================================
// In-memory ring
// =============================================================================

// MemoryAuditLogger keeps the most recent events in a fixed-size ring.
//
// # Description
//
// Once capacity events have been logged, each new event overwrites the
// oldest. Nothing survives a restart. Suitable for a single instance that
// wants to inspect recent verdicts through /v1/audit.
//
// # Thread Safety
//
// Safe for concurrent use.
type MemoryAuditLogger struct {
	mu     sync.RWMutex
	events []AuditEvent
	next   int
	full   bool
	now    func() time.Time
}

// NewMemoryAuditLogger returns a ring holding up to capacity events. A
// capacity below 1 is raised to 1.
func NewMemoryAuditLogger(capacity int) *MemoryAuditLogger {
	if capacity < 1 {
		capacity = 1
	}
	return &MemoryAuditLogger{
		events: make([]AuditEvent, capacity),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (l *MemoryAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now()
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.events[l.next] = event
	l.next = (l.next + 1) % len(l.events)
	if l.next == 0 {
		l.full = true
	}
	return nil
}

func (l *MemoryAuditLogger) Query(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := l.next
	if l.full {
		n = len(l.events)
	}
	out := []AuditEvent{}
	for i := 0; i < n; i++ {
		// Walk backwards from the newest entry.
		idx := (l.next - 1 - i + len(l.events)) % len(l.events)
		e := l.events[idx]
		if !filter.matches(e) {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// Flush is a no-op; events live only in memory.
func (l *MemoryAuditLogger) Flush(ctx context.Context) error {
	return nil
}

// Len reports how many events are held.
func (l *MemoryAuditLogger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.full {
		return len(l.events)
	}
	return l.next
}

var _ AuditLogger = (*MemoryAuditLogger)(nil)
