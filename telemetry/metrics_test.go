package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedMetric struct {
	name  string
	value float64
	dims  map[string]string
}

type captureMetrics struct {
	counters   []capturedMetric
	histograms []capturedMetric
}

func (c *captureMetrics) Counter(name string, value int64, dims map[string]string) {
	c.counters = append(c.counters, capturedMetric{name, float64(value), dims})
}

func (c *captureMetrics) Histogram(name string, value float64, dims map[string]string) {
	c.histograms = append(c.histograms, capturedMetric{name, value, dims})
}

func TestSLOEmitterSuccessUnsampled(t *testing.T) {
	sink := &captureMetrics{}
	e := NewSLOEmitter(sink, 0)

	e.Success("internal.create_task", "internal", "t1", 250*time.Millisecond)

	require.Len(t, sink.histograms, 1)
	require.Len(t, sink.counters, 1)

	latency := sink.histograms[0]
	assert.Equal(t, MetricToolLatencyMS, latency.name)
	assert.Equal(t, 250.0, latency.value)
	assert.Equal(t, "internal.create_task", latency.dims["tool_name"])
	assert.Equal(t, "internal", latency.dims["connector_id"])
	assert.NotContains(t, latency.dims, "tenant_id")

	count := sink.counters[0]
	assert.Equal(t, MetricToolSuccess, count.name)
	assert.NotContains(t, count.dims, "tenant_id")
}

func TestSLOEmitterSuccessFullySampled(t *testing.T) {
	sink := &captureMetrics{}
	e := NewSLOEmitter(sink, 1)

	e.Success("internal.create_task", "internal", "t1", time.Second)

	require.Len(t, sink.counters, 1)
	assert.Equal(t, "t1", sink.counters[0].dims["tenant_id"])
	assert.Equal(t, "t1", sink.histograms[0].dims["tenant_id"])
}

func TestSLOEmitterFailureAlwaysAttributed(t *testing.T) {
	sink := &captureMetrics{}
	e := NewSLOEmitter(sink, 0)

	e.Failure("crm.create_task", "crm_salesforce", "t1", "DOWNSTREAM", 1500*time.Millisecond)

	require.Len(t, sink.histograms, 1)
	require.Len(t, sink.counters, 1)

	count := sink.counters[0]
	assert.Equal(t, MetricToolError, count.name)
	assert.Equal(t, "t1", count.dims["tenant_id"])
	assert.Equal(t, "DOWNSTREAM", count.dims["error_class"])
	assert.Equal(t, "crm_salesforce", count.dims["connector_id"])

	assert.Equal(t, 1500.0, sink.histograms[0].value)
}

func TestSLOEmitterClampsSampleRate(t *testing.T) {
	sink := &captureMetrics{}

	// Negative selects the default; above one saturates.
	assert.Equal(t, 0.01, NewSLOEmitter(sink, -1).sampleRate)
	assert.Equal(t, 1.0, NewSLOEmitter(sink, 3).sampleRate)
	assert.Equal(t, 0.25, NewSLOEmitter(sink, 0.25).sampleRate)
}

func TestMetricInstrumentsCacheReuse(t *testing.T) {
	mi := NewMetricInstruments("actuator-test")

	ctx := context.Background()
	require.NoError(t, mi.RecordCounter(ctx, "tool_success", 1))
	require.NoError(t, mi.RecordCounter(ctx, "tool_success", 1))
	require.NoError(t, mi.RecordHistogram(ctx, "tool_latency_ms", 12.5))

	mi.mu.RLock()
	defer mi.mu.RUnlock()
	assert.Len(t, mi.counters, 1)
	assert.Len(t, mi.histograms, 1)
}
