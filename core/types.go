package core

import "time"

// AttemptStatus is the lifecycle status of an execution attempt.
type AttemptStatus string

const (
	AttemptRunning   AttemptStatus = "RUNNING"
	AttemptSucceeded AttemptStatus = "SUCCEEDED"
	AttemptFailed    AttemptStatus = "FAILED"
	AttemptCancelled AttemptStatus = "CANCELLED"
)

// IsTerminal reports whether the status is one of the terminal states.
func (s AttemptStatus) IsTerminal() bool {
	switch s {
	case AttemptSucceeded, AttemptFailed, AttemptCancelled:
		return true
	}
	return false
}

// OutcomeStatus is the status recorded on an ActionOutcome.
type OutcomeStatus string

const (
	OutcomeSucceeded OutcomeStatus = "SUCCEEDED"
	OutcomeFailed    OutcomeStatus = "FAILED"
	OutcomeRetrying  OutcomeStatus = "RETRYING"
	OutcomeCancelled OutcomeStatus = "CANCELLED"
)

// CompensationStrategy is the registry-declared policy for undoing a side
// effect.
type CompensationStrategy string

const (
	CompensationNone      CompensationStrategy = "NONE"
	CompensationManual    CompensationStrategy = "MANUAL"
	CompensationAutomatic CompensationStrategy = "AUTOMATIC"
)

// CompensationStatus is the progress of compensation for a failed execution.
type CompensationStatus string

const (
	CompensationStatusNone      CompensationStatus = "NONE"
	CompensationStatusPending   CompensationStatus = "PENDING"
	CompensationStatusCompleted CompensationStatus = "COMPLETED"
	CompensationStatusFailed    CompensationStatus = "FAILED"
)

// ErrorClass is the stable failure classification used for alarms and the
// status API. See the taxonomy in the package documentation.
type ErrorClass string

const (
	ErrorClassValidation ErrorClass = "VALIDATION"
	ErrorClassAuth       ErrorClass = "AUTH"
	ErrorClassRateLimit  ErrorClass = "RATE_LIMIT"
	ErrorClassDownstream ErrorClass = "DOWNSTREAM"
	ErrorClassTimeout    ErrorClass = "TIMEOUT"
	ErrorClassUnknown    ErrorClass = "UNKNOWN"
)

// RiskClass grades the blast radius of an action type.
type RiskClass string

const (
	RiskMinimal RiskClass = "MINIMAL"
	RiskLow     RiskClass = "LOW"
	RiskMedium  RiskClass = "MEDIUM"
	RiskHigh    RiskClass = "HIGH"
)

// ApprovalSource identifies who approved an intent.
type ApprovalSource string

const (
	ApprovalHuman  ApprovalSource = "HUMAN"
	ApprovalPolicy ApprovalSource = "POLICY"
)

// ApprovalMetadata records the upstream approval decision on an intent.
// For v1 provenance the proposal and decision ids are the same value.
type ApprovalMetadata struct {
	OriginalProposalID string         `json:"original_proposal_id"`
	OriginalDecisionID string         `json:"original_decision_id"`
	ApprovedBy         string         `json:"approved_by,omitempty"`
	ApprovedAt         time.Time      `json:"approved_at,omitempty"`
	Source             ApprovalSource `json:"source,omitempty"`
}

// ActionIntent is the read-only input to the pipeline: a structured,
// already-approved request to perform a single side-effecting action.
// RegistryVersion pins the tool mapping the intent was approved against;
// a nil value is a validation failure at Start.
type ActionIntent struct {
	ID              string                 `json:"action_intent_id"`
	TenantID        string                 `json:"tenant_id"`
	AccountID       string                 `json:"account_id"`
	ActionType      string                 `json:"action_type"`
	Parameters      map[string]interface{} `json:"parameters"`
	Approval        ApprovalMetadata       `json:"approval"`
	ExpiresAt       time.Time              `json:"expires_at"`
	ExpiresAtEpoch  int64                  `json:"expires_at_epoch"`
	RegistryVersion *int64                 `json:"registry_version"`
	TraceID         string                 `json:"trace_id"` // decision trace, set upstream
}

// Expired reports whether the intent's TTL has passed at the given instant.
func (i *ActionIntent) Expired(now time.Time) bool {
	return i.ExpiresAtEpoch > 0 && i.ExpiresAtEpoch <= now.Unix()
}

// ExternalObjectRef identifies a downstream side effect. Refs are compared
// order-independently for dedupe.
type ExternalObjectRef struct {
	System     string `json:"system"`
	ObjectType string `json:"object_type"`
	ObjectID   string `json:"object_id"`
	ObjectURL  string `json:"object_url,omitempty"`
}

// RefsEqual compares two ref sets as order-independent multisets: every ref
// must appear the same number of times on both sides, so duplicate ids do
// not mask a divergent ref.
func RefsEqual(a, b []ExternalObjectRef) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[ExternalObjectRef]int, len(a))
	for _, r := range a {
		counts[r]++
	}
	for _, r := range b {
		counts[r]--
		if counts[r] < 0 {
			return false
		}
	}
	return true
}

// ExecutionAttempt is the exactly-once start lock for a single intent.
// One record exists per intent; status moves RUNNING -> terminal, or
// terminal -> RUNNING only through an explicit rerun.
type ExecutionAttempt struct {
	IntentID       string        `json:"action_intent_id"`
	TenantID       string        `json:"tenant_id"`
	AccountID      string        `json:"account_id"`
	Status         AttemptStatus `json:"status"`
	AttemptCount   int64         `json:"attempt_count"`
	LastAttemptID  string        `json:"last_attempt_id"`
	IdempotencyKey string        `json:"idempotency_key"`
	StartedAt      time.Time     `json:"started_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	TraceID        string        `json:"trace_id"` // execution trace, fresh per lifecycle
	TTL            int64         `json:"ttl"`      // epoch seconds
	LastErrorClass string        `json:"last_error_class,omitempty"`
}

// ActionOutcome is the immutable terminal record of an execution.
type ActionOutcome struct {
	IntentID               string              `json:"action_intent_id"`
	TenantID               string              `json:"tenant_id"`
	AccountID              string              `json:"account_id"`
	Status                 OutcomeStatus       `json:"status"`
	ExternalObjectRefs     []ExternalObjectRef `json:"external_object_refs,omitempty"`
	ErrorClass             ErrorClass          `json:"error_class,omitempty"`
	ErrorCode              string              `json:"error_code,omitempty"`
	ErrorMessage           string              `json:"error_message,omitempty"`
	ToolName               string              `json:"tool_name"`
	ToolSchemaVersion      string              `json:"tool_schema_version,omitempty"`
	RegistryVersion        int64               `json:"registry_version"`
	ToolRunRef             string              `json:"tool_run_ref"`
	RawResponseArtifactRef string              `json:"raw_response_artifact_ref,omitempty"`
	AttemptCount           int64               `json:"attempt_count"`
	StartedAt              time.Time           `json:"started_at"`
	CompletedAt            time.Time           `json:"completed_at"`
	CompensationStatus     CompensationStatus  `json:"compensation_status"`
	TraceID                string              `json:"trace_id"` // execution trace
}

// TenantConfig is the per-tenant kill-switch configuration. A missing record
// means execution is enabled with no disabled action types.
type TenantConfig struct {
	TenantID            string   `json:"tenant_id"`
	ExecutionEnabled    bool     `json:"execution_enabled"`
	DisabledActionTypes []string `json:"disabled_action_types,omitempty"`
}
