// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// ============================================================================
// Options Tests
// ============================================================================

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	if _, ok := opts.AuditLogger.(*NopAuditLogger); !ok {
		t.Errorf("DefaultOptions().AuditLogger = %T, want *NopAuditLogger", opts.AuditLogger)
	}
}

func TestOptions_WithAudit(t *testing.T) {
	original := DefaultOptions()
	ring := NewMemoryAuditLogger(4)

	withRing := original.WithAudit(ring)
	if withRing.AuditLogger != ring {
		t.Error("WithAudit should install the given logger")
	}
	if _, ok := original.AuditLogger.(*NopAuditLogger); !ok {
		t.Error("WithAudit must not modify the receiver")
	}
	if _, ok := withRing.WithAudit(nil).AuditLogger.(*NopAuditLogger); !ok {
		t.Error("WithAudit(nil) should fall back to the no-op logger")
	}
}

// ============================================================================
// NopAuditLogger Tests
// ============================================================================

func TestNopAuditLogger(t *testing.T) {
	l := &NopAuditLogger{}
	ctx := context.Background()

	if err := l.Log(ctx, AuditEvent{EventType: EventAnswerResolved}); err != nil {
		t.Errorf("Log: %v", err)
	}
	events, err := l.Query(ctx, AuditFilter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if events == nil || len(events) != 0 {
		t.Errorf("Query = %v, want empty non-nil slice", events)
	}
	if err := l.Flush(ctx); err != nil {
		t.Errorf("Flush: %v", err)
	}
}

// ============================================================================
// MemoryAuditLogger Tests
// ============================================================================

func logN(t *testing.T, l AuditLogger, n int, outcome string) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := l.Log(context.Background(), AuditEvent{
			EventType: EventAnswerResolved,
			RequestID: fmt.Sprintf("req-%d", i),
			Outcome:   outcome,
		})
		if err != nil {
			t.Fatalf("Log: %v", err)
		}
	}
}

func TestMemoryAuditLogger_NewestFirst(t *testing.T) {
	l := NewMemoryAuditLogger(10)
	logN(t, l, 3, "approve")

	events, err := l.Query(context.Background(), AuditFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	for i, want := range []string{"req-2", "req-1", "req-0"} {
		if events[i].RequestID != want {
			t.Errorf("events[%d] = %s, want %s", i, events[i].RequestID, want)
		}
		if events[i].Timestamp.IsZero() {
			t.Errorf("events[%d] has no timestamp", i)
		}
	}
}

func TestMemoryAuditLogger_Wraps(t *testing.T) {
	l := NewMemoryAuditLogger(3)
	logN(t, l, 5, "approve")

	if l.Len() != 3 {
		t.Errorf("Len = %d, want 3", l.Len())
	}
	events, _ := l.Query(context.Background(), AuditFilter{})
	if len(events) != 3 || events[0].RequestID != "req-4" || events[2].RequestID != "req-2" {
		t.Errorf("unexpected ring contents: %+v", events)
	}
}

func TestMemoryAuditLogger_Filter(t *testing.T) {
	l := NewMemoryAuditLogger(10)
	ctx := context.Background()
	logN(t, l, 2, "approve")
	_ = l.Log(ctx, AuditEvent{EventType: EventAnswerFailed, Outcome: "upstream"})
	_ = l.Log(ctx, AuditEvent{EventType: EventAnswerBlocked, Outcome: "input"})
	logN(t, l, 1, "revise")

	tests := []struct {
		name   string
		filter AuditFilter
		want   int
	}{
		{"all", AuditFilter{}, 5},
		{"outcome", AuditFilter{Outcome: "approve"}, 2},
		{"types", AuditFilter{EventTypes: []string{EventAnswerFailed, EventAnswerBlocked}}, 2},
		{"limit", AuditFilter{Limit: 2}, 2},
		{"future", AuditFilter{Since: time.Now().Add(time.Hour)}, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			events, err := l.Query(ctx, tc.filter)
			if err != nil {
				t.Fatal(err)
			}
			if len(events) != tc.want {
				t.Errorf("got %d events, want %d", len(events), tc.want)
			}
		})
	}
}

func TestMemoryAuditLogger_CopiesMetadata(t *testing.T) {
	l := NewMemoryAuditLogger(2)
	meta := map[string]any{"model": "m1"}
	_ = l.Log(context.Background(), AuditEvent{EventType: EventAnswerResolved, Metadata: meta})
	meta["model"] = "changed"

	events, _ := l.Query(context.Background(), AuditFilter{})
	if events[0].Metadata["model"] != "m1" {
		t.Errorf("stored metadata changed with caller's map: %v", events[0].Metadata)
	}
}

func TestMemoryAuditLogger_CanceledContext(t *testing.T) {
	l := NewMemoryAuditLogger(2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := l.Log(ctx, AuditEvent{}); err == nil {
		t.Error("Log should fail on a canceled context")
	}
	if _, err := l.Query(ctx, AuditFilter{}); err == nil {
		t.Error("Query should fail on a canceled context")
	}
	if l.Len() != 0 {
		t.Error("nothing should have been stored")
	}
}

func TestMemoryAuditLogger_Concurrent(t *testing.T) {
	l := NewMemoryAuditLogger(50)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_ = l.Log(context.Background(), AuditEvent{EventType: EventAnswerResolved})
				_, _ = l.Query(context.Background(), AuditFilter{Limit: 5})
			}
		}()
	}
	wg.Wait()
	if l.Len() != 50 {
		t.Errorf("Len = %d, want 50", l.Len())
	}
}
