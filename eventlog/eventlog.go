// Package eventlog provides the append-only audit trail for the execution
// pipeline. Records are immutable, keyed for single-trace lookup and
// tenant+time-range scans, and carry both the execution trace id and the
// originating decision trace id when available.
package eventlog

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/praxisworks/actuator/core"
	"github.com/praxisworks/actuator/kv"
)

// Event types appended by the pipeline.
const (
	EventExecutionStarted     = "EXECUTION_STARTED"
	EventActionExecuted       = "ACTION_EXECUTED"
	EventActionFailed         = "ACTION_FAILED"
	EventIdempotencyCollision = "IDEMPOTENCY_COLLISION"
)

// Secondary index names.
const (
	indexByTrace  = "event_by_trace"
	indexByTenant = "event_by_tenant"
)

// Event is a single append-only audit record. TraceID is the execution
// trace; DecisionTraceID correlates back to the proposal when known.
type Event struct {
	EventID         string                 `json:"event_id"`
	EventType       string                 `json:"event_type"`
	TenantID        string                 `json:"tenant_id"`
	AccountID       string                 `json:"account_id"`
	TraceID         string                 `json:"trace_id"`
	DecisionTraceID string                 `json:"decision_trace_id,omitempty"`
	Timestamp       time.Time              `json:"timestamp"`
	Data            map[string]interface{} `json:"data,omitempty"`
}

// Log appends and reads audit events. Appends are best-effort: failures are
// logged and surfaced, but callers are expected to continue.
type Log struct {
	store  kv.Store
	logger core.Logger
}

// New creates an event log over the given store.
func New(store kv.Store, logger core.Logger) *Log {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Log{store: store, logger: logger}
}

func eventKey(e *Event) kv.Key {
	return kv.Key{
		PK: fmt.Sprintf("TENANT#%s#TRACE#%s", e.TenantID, e.TraceID),
		SK: eventSK(*e),
	}
}

// Append writes an event with a unique per-call id. No ordering across
// writers is assumed. Transient storage failures are retried briefly; the
// final error is logged and returned, and callers treat it as best-effort.
func (l *Log) Append(ctx context.Context, event Event) error {
	if event.EventID == "" {
		event.EventID = core.NewEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	attrs, err := kv.EncodeAttributes(event)
	if err != nil {
		l.logger.Error("Failed to encode audit event", map[string]interface{}{
			"event_type": event.EventType,
			"trace_id":   event.TraceID,
			"error":      err.Error(),
		})
		return err
	}

	item := kv.Item{
		Key:        eventKey(&event),
		Attributes: attrs,
		Indexes: []kv.IndexEntry{
			{Index: indexByTrace, PK: "TRACE#" + event.TraceID, SK: eventSK(event)},
			{Index: indexByTenant, PK: "TENANT#" + event.TenantID, SK: eventSK(event)},
		},
	}

	backoff := retry.WithMaxRetries(2, retry.NewFibonacci(100*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if putErr := l.store.PutConditional(ctx, item, kv.NotExists()); putErr != nil {
			if core.IsConditionFailed(putErr) {
				// Duplicate event id; the record is already there.
				return nil
			}
			return retry.RetryableError(putErr)
		}
		return nil
	})
	if err != nil {
		l.logger.Warn("Audit event append failed", map[string]interface{}{
			"event_type": event.EventType,
			"tenant_id":  event.TenantID,
			"trace_id":   event.TraceID,
			"error":      err.Error(),
		})
		return err
	}
	return nil
}

func eventSK(event Event) string {
	return "TS#" + event.Timestamp.UTC().Format(time.RFC3339Nano) + "#" + event.EventID
}

// ByTrace returns all events for one trace in timestamp order.
func (l *Log) ByTrace(ctx context.Context, traceID string) ([]Event, error) {
	items, err := l.store.QueryIndex(ctx, indexByTrace, "TRACE#"+traceID, kv.QueryOptions{Forward: true})
	if err != nil {
		return nil, err
	}
	return decodeEvents(items)
}

// ByTenant returns events for a tenant within [from, to), newest first. The
// index is paged until the window yields limit events; out-of-window records
// on a page never shrink the result.
func (l *Log) ByTenant(ctx context.Context, tenantID string, from, to time.Time, limit int) ([]Event, error) {
	pageSize := limit
	if pageSize <= 0 {
		pageSize = 100
	}

	var events []Event
	cursor := ""
	for {
		opts := kv.QueryOptions{
			SKPrefix:   "TS#",
			Forward:    false,
			Limit:      pageSize,
			StartAfter: cursor,
		}
		items, err := l.store.QueryIndex(ctx, indexByTenant, "TENANT#"+tenantID, opts)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			return events, nil
		}
		page, err := decodeEvents(items)
		if err != nil {
			return nil, err
		}
		for _, e := range page {
			if !from.IsZero() && e.Timestamp.Before(from) {
				continue
			}
			if !to.IsZero() && !e.Timestamp.Before(to) {
				continue
			}
			events = append(events, e)
			if limit > 0 && len(events) >= limit {
				return events, nil
			}
		}
		if len(items) < pageSize {
			return events, nil
		}
		cursor = items[len(items)-1].SK
	}
}

func decodeEvents(items []kv.Item) ([]Event, error) {
	events := make([]Event, 0, len(items))
	for _, item := range items {
		var e Event
		if err := kv.DecodeAttributes(item.Attributes, &e); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}
