package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/praxisworks/actuator/core"
)

// Call types. Execution calls fail fast on an open circuit; perception calls
// defer and come back after the retry hint.
const (
	CallTypeExecution  = "phase4_execution"
	CallTypePerception = "phase5_perception"
)

// defaultRetryAfter is the hint returned when capacity is exhausted or the
// circuit denies a perception call without a better estimate.
const defaultRetryAfter = 30 * time.Second

// SLORecorder receives one observation per tool call.
type SLORecorder interface {
	Success(toolName, connectorID, tenantID string, latency time.Duration)
	Failure(toolName, connectorID, tenantID, errorClass string, latency time.Duration)
}

type noopSLO struct{}

func (noopSLO) Success(string, string, string, time.Duration)         {}
func (noopSLO) Failure(string, string, string, string, time.Duration) {}

// Request identifies one guarded tool call.
type Request struct {
	ToolName   string
	TenantID   string
	CallType   string
	ErrorClass func(error) string // optional classifier for metric dimensions
}

// Result carries either a value or a deferral. Deferred is only ever true for
// perception calls; execution calls surface open circuits as errors.
type Result[T any] struct {
	Value      T
	Deferred   bool
	RetryAfter time.Duration
}

// Wrapper combines the persisted circuit breaker, the per-connector limiter
// and SLO metric emission around tool-gateway calls.
type Wrapper struct {
	breaker    *Breaker
	limiter    *Limiter
	slo        SLORecorder
	logger     core.Logger
	retryAfter time.Duration
	now        func() time.Time
}

// NewWrapper assembles the resilience wrapper. A nil slo disables metric
// emission; retryAfter <= 0 uses the 30s default.
func NewWrapper(breaker *Breaker, limiter *Limiter, slo SLORecorder, logger core.Logger, retryAfter time.Duration) *Wrapper {
	if slo == nil {
		slo = noopSLO{}
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if retryAfter <= 0 {
		retryAfter = defaultRetryAfter
	}
	return &Wrapper{
		breaker:    breaker,
		limiter:    limiter,
		slo:        slo,
		logger:     logger,
		retryAfter: retryAfter,
		now:        time.Now,
	}
}

// Invoke runs fn behind the breaker and limiter for the tool's connector.
//
// The limiter slot is claimed before the breaker is consulted: AllowRequest
// can claim the circuit's single half-open probe, and a probe claimed by a
// call that never runs fn would pin the circuit HALF_OPEN until its state
// record expires. An open circuit fails an execution call with ErrCircuitOpen
// and defers a perception call with the remaining cooldown as the retry hint.
// Exhausted connector capacity defers both call types. Every completed fn
// call records a breaker and SLO observation.
func Invoke[T any](ctx context.Context, w *Wrapper, req Request, fn func(context.Context) (T, error)) (Result[T], error) {
	var zero Result[T]
	connectorID := DeriveConnector(req.ToolName)

	release, ok := w.limiter.TryAcquire(connectorID)
	if !ok {
		w.logger.Warn("Tool call deferred by connector capacity", map[string]interface{}{
			"tool_name":    req.ToolName,
			"connector_id": connectorID,
			"tenant_id":    req.TenantID,
		})
		return Result[T]{Deferred: true, RetryAfter: w.retryAfter}, nil
	}
	defer release()

	allowed, remaining, err := w.breaker.AllowRequest(ctx, connectorID)
	if err != nil {
		return zero, err
	}
	if !allowed {
		if req.CallType == CallTypeExecution {
			return zero, fmt.Errorf("connector %s circuit is open: %w", connectorID, core.ErrCircuitOpen)
		}
		retryAfter := remaining
		if retryAfter <= 0 {
			retryAfter = w.retryAfter
		}
		w.logger.Warn("Tool call deferred by open circuit", map[string]interface{}{
			"tool_name":    req.ToolName,
			"connector_id": connectorID,
			"tenant_id":    req.TenantID,
			"retry_after":  retryAfter.String(),
		})
		return Result[T]{Deferred: true, RetryAfter: retryAfter}, nil
	}

	start := w.now()
	value, err := fn(ctx)
	latency := w.now().Sub(start)

	if err != nil {
		if berr := w.breaker.RecordFailure(ctx, connectorID); berr != nil {
			w.logger.Error("Failed to record circuit failure", map[string]interface{}{
				"connector_id": connectorID,
				"error":        berr.Error(),
			})
		}
		class := "UNKNOWN"
		if req.ErrorClass != nil {
			class = req.ErrorClass(err)
		}
		w.slo.Failure(req.ToolName, connectorID, req.TenantID, class, latency)
		return zero, err
	}

	if berr := w.breaker.RecordSuccess(ctx, connectorID); berr != nil {
		w.logger.Error("Failed to record circuit success", map[string]interface{}{
			"connector_id": connectorID,
			"error":        berr.Error(),
		})
	}
	w.slo.Success(req.ToolName, connectorID, req.TenantID, latency)
	return Result[T]{Value: value}, nil
}
