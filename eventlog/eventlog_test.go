package eventlog

import (
	"context"
	"testing"
	"time"

	"github.com/praxisworks/actuator/core"
	"github.com/praxisworks/actuator/kv"
)

func sampleEvent(eventType, trace string, ts time.Time) Event {
	return Event{
		EventType:       eventType,
		TenantID:        "t1",
		AccountID:       "a1",
		TraceID:         trace,
		DecisionTraceID: "decision-1",
		Timestamp:       ts,
		Data:            map[string]interface{}{"action_intent_id": "ai_1"},
	}
}

func TestAppendFillsDefaults(t *testing.T) {
	l := New(kv.NewMemoryStore(), &core.NoOpLogger{})
	ctx := context.Background()

	event := sampleEvent(EventExecutionStarted, "trace-1", time.Time{})
	if err := l.Append(ctx, event); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	events, err := l.ByTrace(ctx, "trace-1")
	if err != nil {
		t.Fatalf("ByTrace failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].EventID == "" {
		t.Error("append must assign an event id")
	}
	if events[0].Timestamp.IsZero() {
		t.Error("append must stamp the event")
	}
	if events[0].DecisionTraceID != "decision-1" {
		t.Errorf("decision trace = %q", events[0].DecisionTraceID)
	}
}

func TestAppendDuplicateEventID(t *testing.T) {
	l := New(kv.NewMemoryStore(), &core.NoOpLogger{})
	ctx := context.Background()

	event := sampleEvent(EventActionExecuted, "trace-1", time.Now().UTC())
	event.EventID = "evt_fixed"
	if err := l.Append(ctx, event); err != nil {
		t.Fatalf("first Append failed: %v", err)
	}
	// Redelivery of the same event id is silently absorbed.
	if err := l.Append(ctx, event); err != nil {
		t.Fatalf("duplicate Append failed: %v", err)
	}

	events, err := l.ByTrace(ctx, "trace-1")
	if err != nil {
		t.Fatalf("ByTrace failed: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("got %d events, want 1", len(events))
	}
}

func TestByTraceOrder(t *testing.T) {
	l := New(kv.NewMemoryStore(), &core.NoOpLogger{})
	ctx := context.Background()
	base := time.Now().UTC()

	for i, eventType := range []string{EventExecutionStarted, EventActionExecuted} {
		if err := l.Append(ctx, sampleEvent(eventType, "trace-1", base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	// A different trace stays out of the result.
	if err := l.Append(ctx, sampleEvent(EventActionFailed, "trace-2", base)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	events, err := l.ByTrace(ctx, "trace-1")
	if err != nil {
		t.Fatalf("ByTrace failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].EventType != EventExecutionStarted || events[1].EventType != EventActionExecuted {
		t.Errorf("order wrong: %s, %s", events[0].EventType, events[1].EventType)
	}
}

func TestByTenantWindow(t *testing.T) {
	l := New(kv.NewMemoryStore(), &core.NoOpLogger{})
	ctx := context.Background()
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if err := l.Append(ctx, sampleEvent(EventActionExecuted, "trace-1", base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	// Half-open window keeps the middle event only.
	events, err := l.ByTenant(ctx, "t1", base.Add(30*time.Minute), base.Add(90*time.Minute), 10)
	if err != nil {
		t.Fatalf("ByTenant failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if !events[0].Timestamp.Equal(base.Add(time.Hour)) {
		t.Errorf("timestamp = %s", events[0].Timestamp)
	}

	// Unknown tenant returns nothing.
	events, err = l.ByTenant(ctx, "t2", time.Time{}, time.Time{}, 10)
	if err != nil {
		t.Fatalf("ByTenant failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("got %d events for unknown tenant", len(events))
	}
}

func TestByTenantWindowPagesPastFilteredEvents(t *testing.T) {
	l := New(kv.NewMemoryStore(), &core.NoOpLogger{})
	ctx := context.Background()
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	// One in-window event, then enough newer out-of-window events to fill
	// the first index page on their own.
	if err := l.Append(ctx, sampleEvent(EventActionExecuted, "trace-old", base)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	for i := 1; i <= 3; i++ {
		if err := l.Append(ctx, sampleEvent(EventActionExecuted, "trace-new", base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	events, err := l.ByTenant(ctx, "t1", base.Add(-time.Minute), base.Add(30*time.Minute), 2)
	if err != nil {
		t.Fatalf("ByTenant failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want the in-window event past the first page", len(events))
	}
	if !events[0].Timestamp.Equal(base) {
		t.Errorf("timestamp = %s, want %s", events[0].Timestamp, base)
	}
}
