package core

import "github.com/google/uuid"

// NewExecutionTraceID generates a fresh execution trace id. This is distinct
// from the decision trace carried on the intent; the two correlate one
// execution lifecycle back to its proposal.
func NewExecutionTraceID() string {
	return "exec-" + uuid.NewString()
}

// NewAttemptID generates a unique id for a single start of an execution.
func NewAttemptID() string {
	return "att-" + uuid.NewString()
}

// NewEventID generates a unique per-append event id.
func NewEventID() string {
	return "evt-" + uuid.NewString()
}
