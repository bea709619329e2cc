package core

// Logger interface - minimal logging interface shared by every component.
// Components tolerate a nil logger; best-effort paths log and continue.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})
}

// Metrics interface - optional metric emission. Implementations must never
// propagate emission failures to callers.
type Metrics interface {
	Counter(name string, value int64, attrs map[string]string)
	Histogram(name string, value float64, attrs map[string]string)
}

// NoOpLogger provides a no-op logger implementation.
type NoOpLogger struct{}

func (n *NoOpLogger) Info(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Error(msg string, fields map[string]interface{}) {}
func (n *NoOpLogger) Warn(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Debug(msg string, fields map[string]interface{}) {}

// NoOpMetrics provides a no-op metrics implementation.
type NoOpMetrics struct{}

func (n *NoOpMetrics) Counter(name string, value int64, attrs map[string]string)     {}
func (n *NoOpMetrics) Histogram(name string, value float64, attrs map[string]string) {}
