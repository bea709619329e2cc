package execution

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/praxisworks/actuator/core"
)

// maxToolArgumentsBytes caps the serialized tool_arguments payload. Larger
// payloads must travel as an artifact reference.
const maxToolArgumentsBytes = 200 * 1024

// FlexBool tolerates the event-bus habit of flattening absent fields to
// empty strings: null, "" and unrecognized strings all decode as unset,
// "true"/"false" strings coerce to booleans.
type FlexBool struct {
	Set   bool
	Value bool
}

// UnmarshalJSON implements the coercion rules.
func (f *FlexBool) UnmarshalJSON(data []byte) error {
	*f = FlexBool{}
	if string(data) == "null" {
		return nil
	}
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		f.Set, f.Value = true, b
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("expected boolean or string, got %s", data)
	}
	switch s {
	case "true":
		f.Set, f.Value = true, true
	case "false":
		f.Set, f.Value = true, false
	}
	return nil
}

// MarshalJSON emits the boolean when set and null otherwise.
func (f FlexBool) MarshalJSON() ([]byte, error) {
	if !f.Set {
		return []byte("null"), nil
	}
	return json.Marshal(f.Value)
}

// StartInput triggers an execution. AllowRerun is the explicit opt-in for
// restarting a terminal intent; duplicate deliveries leave it unset.
type StartInput struct {
	ActionIntentID              string `json:"action_intent_id"`
	TenantID                    string `json:"tenant_id"`
	AccountID                   string `json:"account_id"`
	AllowRerun                  bool   `json:"allow_rerun,omitempty"`
	OrchestrationTimeoutSeconds int64  `json:"orchestration_timeout_seconds,omitempty"`
}

// StartOutput feeds ValidatePreflight.
type StartOutput struct {
	ActionIntentID  string    `json:"action_intent_id"`
	TenantID        string    `json:"tenant_id"`
	AccountID       string    `json:"account_id"`
	TraceID         string    `json:"trace_id"`
	IdempotencyKey  string    `json:"idempotency_key"`
	RegistryVersion int64     `json:"registry_version"`
	AttemptCount    int64     `json:"attempt_count"`
	StartedAt       time.Time `json:"started_at"`
}

// ValidateInput is the Start output plus optional replay and approval fields.
type ValidateInput struct {
	StartOutput
	ValidationResult string   `json:"validation_result,omitempty"`
	ApprovalSource   string   `json:"approval_source,omitempty"`
	AutoExecuted     FlexBool `json:"auto_executed,omitempty"`
}

// NormalizedApprovalSource returns the approval source when it is a
// recognized value, empty otherwise. Empty strings and unrecognized values
// both mean absent.
func (v *ValidateInput) NormalizedApprovalSource() core.ApprovalSource {
	switch core.ApprovalSource(v.ApprovalSource) {
	case core.ApprovalHuman, core.ApprovalPolicy:
		return core.ApprovalSource(v.ApprovalSource)
	}
	return ""
}

// InvokeInput is the full invocation envelope handed to the tool gateway.
type InvokeInput struct {
	ActionIntentID       string                    `json:"action_intent_id"`
	TenantID             string                    `json:"tenant_id"`
	AccountID            string                    `json:"account_id"`
	TraceID              string                    `json:"trace_id"`
	GatewayURL           string                    `json:"gateway_url"`
	ToolName             string                    `json:"tool_name"`
	ToolArguments        map[string]interface{}    `json:"tool_arguments"`
	ToolSchemaVersion    string                    `json:"tool_schema_version"`
	RegistryVersion      int64                     `json:"registry_version"`
	CompensationStrategy core.CompensationStrategy `json:"compensation_strategy"`
	IdempotencyKey       string                    `json:"idempotency_key"`
	AttemptCount         int64                     `json:"attempt_count"`
	StartedAt            time.Time                 `json:"started_at"`
}

// ToolResponse is the gateway's return envelope.
type ToolResponse struct {
	Success                bool                     `json:"success"`
	ExternalObjectRefs     []core.ExternalObjectRef `json:"external_object_refs,omitempty"`
	ToolRunRef             string                   `json:"tool_run_ref"`
	RawResponseArtifactRef string                   `json:"raw_response_artifact_ref,omitempty"`
	ErrorCode              string                   `json:"error_code,omitempty"`
	ErrorClass             core.ErrorClass          `json:"error_class,omitempty"`
	ErrorMessage           string                   `json:"error_message,omitempty"`
}

// RecordInput merges the invocation envelope with the tool response. The
// orchestrator merges full state into this step, so decoding tolerates
// extra fields.
type RecordInput struct {
	InvokeInput
	Response           ToolResponse            `json:"response"`
	CompensationStatus core.CompensationStatus `json:"compensation_status,omitempty"`
}

// StepError is the classification input attached to a failed step.
type StepError struct {
	Error string `json:"Error,omitempty"`
	Cause string `json:"Cause,omitempty"`
}

// RecordFailureInput carries the failed step's state plus the error shape.
type RecordFailureInput struct {
	ActionIntentID string    `json:"action_intent_id"`
	TenantID       string    `json:"tenant_id"`
	AccountID      string    `json:"account_id"`
	TraceID        string    `json:"trace_id"`
	AttemptCount   int64     `json:"attempt_count,omitempty"`
	StartedAt      time.Time `json:"started_at,omitempty"`
	Err            StepError `json:"error"`
}

// CompensateResult is Compensate's return value. The step never fails; any
// internal error lands here as CompensationStatusFailed.
type CompensateResult struct {
	CompensationStatus core.CompensationStatus `json:"compensation_status"`
	Message            string                  `json:"message,omitempty"`
}

// DecodeStrict parses an envelope rejecting unknown fields.
func DecodeStrict(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &core.ValidationError{Code: core.CodeInvalidEnvelope, Message: "invalid envelope: " + err.Error(), Err: err}
	}
	return nil
}

// DecodeLenient parses an envelope tolerating unknown fields. RecordOutcome
// uses this because the orchestrator merges full state into its input.
func DecodeLenient(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return &core.ValidationError{Code: core.CodeInvalidEnvelope, Message: "invalid envelope: " + err.Error(), Err: err}
	}
	return nil
}

// validateToolArguments enforces the serialized size cap.
func validateToolArguments(args map[string]interface{}) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return &core.ValidationError{Code: core.CodeInvalidEnvelope, Message: "tool_arguments not serializable: " + err.Error(), Err: err}
	}
	if len(raw) > maxToolArgumentsBytes {
		return core.NewValidationError(core.CodeArgumentsTooLarge,
			"tool_arguments is %d bytes, limit is %d; use a raw_response_artifact_ref instead", len(raw), maxToolArgumentsBytes)
	}
	return nil
}
