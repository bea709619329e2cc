package telemetry

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/praxisworks/actuator/core"
)

// Tool-call SLO metric names.
const (
	MetricToolLatencyMS = "tool_latency_ms"
	MetricToolSuccess   = "tool_success"
	MetricToolError     = "tool_error"
)

// OTelMetrics implements core.Metrics over the instrument cache. Emission
// failures are logged and dropped; metrics never fail a request.
type OTelMetrics struct {
	instruments *MetricInstruments
	logger      core.Logger
}

// NewOTelMetrics creates a core.Metrics backed by the named meter.
func NewOTelMetrics(meterName string, logger core.Logger) *OTelMetrics {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &OTelMetrics{instruments: NewMetricInstruments(meterName), logger: logger}
}

// Counter increments a named counter with string dimensions.
func (m *OTelMetrics) Counter(name string, value int64, dims map[string]string) {
	opts := []metric.AddOption{metric.WithAttributes(toAttributes(dims)...)}
	if err := m.instruments.RecordCounter(context.Background(), name, value, opts...); err != nil {
		m.logger.Warn("Metric emission failed", map[string]interface{}{
			"metric": name,
			"error":  err.Error(),
		})
	}
}

// Histogram records a named distribution value with string dimensions.
func (m *OTelMetrics) Histogram(name string, value float64, dims map[string]string) {
	opts := []metric.RecordOption{metric.WithAttributes(toAttributes(dims)...)}
	if err := m.instruments.RecordHistogram(context.Background(), name, value, opts...); err != nil {
		m.logger.Warn("Metric emission failed", map[string]interface{}{
			"metric": name,
			"error":  err.Error(),
		})
	}
}

func toAttributes(dims map[string]string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(dims))
	for k, v := range dims {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}

// SLOEmitter records one latency observation and one success or error count
// per tool call.
//
// tenant_id is a high-cardinality dimension, so it is attached to every
// error but only to a small sample of successes. Errors are where per-tenant
// attribution pays for its cardinality.
type SLOEmitter struct {
	metrics    core.Metrics
	sampleRate float64
	mu         sync.Mutex
	rng        *rand.Rand
}

// NewSLOEmitter creates the emitter. sampleRate is the fraction of successes
// carrying tenant_id, clamped to [0, 1]; a negative value selects the 1%
// default.
func NewSLOEmitter(metrics core.Metrics, sampleRate float64) *SLOEmitter {
	if metrics == nil {
		metrics = &core.NoOpMetrics{}
	}
	if sampleRate < 0 {
		sampleRate = 0.01
	}
	if sampleRate > 1 {
		sampleRate = 1
	}
	return &SLOEmitter{
		metrics:    metrics,
		sampleRate: sampleRate,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Success records a successful tool call.
func (e *SLOEmitter) Success(toolName, connectorID, tenantID string, latency time.Duration) {
	dims := map[string]string{
		"tool_name":    toolName,
		"connector_id": connectorID,
	}
	if e.sample() {
		dims["tenant_id"] = tenantID
	}
	e.metrics.Histogram(MetricToolLatencyMS, float64(latency.Milliseconds()), dims)
	e.metrics.Counter(MetricToolSuccess, 1, dims)
}

// Failure records a failed tool call. tenant_id is always attached.
func (e *SLOEmitter) Failure(toolName, connectorID, tenantID, errorClass string, latency time.Duration) {
	dims := map[string]string{
		"tool_name":    toolName,
		"connector_id": connectorID,
		"tenant_id":    tenantID,
		"error_class":  errorClass,
	}
	e.metrics.Histogram(MetricToolLatencyMS, float64(latency.Milliseconds()), dims)
	e.metrics.Counter(MetricToolError, 1, dims)
}

func (e *SLOEmitter) sample() bool {
	if e.sampleRate <= 0 {
		return false
	}
	if e.sampleRate >= 1 {
		return true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rng.Float64() < e.sampleRate
}
