package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/praxisworks/actuator/core"
	"github.com/praxisworks/actuator/eventlog"
	"github.com/praxisworks/actuator/idempotency"
	"github.com/praxisworks/actuator/registry"
	"github.com/praxisworks/actuator/resilience"
)

// preToolToolName marks outcomes recorded before any tool was selected.
const preToolToolName = "unknown"

// DeferredError asks the orchestration runtime to re-enqueue the step after
// the given delay. It is not a failure.
type DeferredError struct {
	RetryAfter time.Duration
}

func (e *DeferredError) Error() string {
	return fmt.Sprintf("tool invocation deferred; retry after %s", e.RetryAfter)
}

// ExecutorDeps wires the orchestrator to its collaborators.
type ExecutorDeps struct {
	Intents    *IntentStore
	Attempts   *AttemptStore
	Outcomes   *OutcomeStore
	Registry   *registry.Registry
	Dedupe     *idempotency.DedupeStore
	KillSwitch *KillSwitch
	Events     *eventlog.Log
	Gateway    ToolGateway
	Wrapper    *resilience.Wrapper
	Metrics    core.Metrics
	Logger     core.Logger
}

// Executor drives one intent through Start, ValidatePreflight,
// MapActionToTool, InvokeTool and RecordOutcome, with Compensate and
// RecordFailure as the failure branches. It holds no per-intent state; all
// coordination happens through conditional writes, so any worker may run
// any step.
type Executor struct {
	deps                 ExecutorDeps
	gatewayURL           string
	orchestrationTimeout time.Duration
	now                  func() time.Time
}

// NewExecutor creates the orchestrator.
func NewExecutor(deps ExecutorDeps, gatewayURL string, orchestrationTimeout time.Duration) *Executor {
	if deps.Metrics == nil {
		deps.Metrics = &core.NoOpMetrics{}
	}
	if deps.Logger == nil {
		deps.Logger = &core.NoOpLogger{}
	}
	if orchestrationTimeout <= 0 {
		orchestrationTimeout = defaultOrchestrationTimeout
	}
	return &Executor{
		deps:                 deps,
		gatewayURL:           gatewayURL,
		orchestrationTimeout: orchestrationTimeout,
		now:                  time.Now,
	}
}

// SetClock overrides the executor clock. Test hook.
func (e *Executor) SetClock(now func() time.Time) {
	e.now = now
}

// Start validates the trigger, resolves the tool mapping, derives the
// idempotency key and acquires the RUNNING lock. Everything that can fail
// without a lock fails here, before any state is claimed.
func (e *Executor) Start(ctx context.Context, in *StartInput) (*StartOutput, error) {
	if in.ActionIntentID == "" || in.TenantID == "" || in.AccountID == "" {
		return nil, core.NewValidationError(core.CodeInvalidEnvelope, "action_intent_id, tenant_id and account_id are required")
	}

	intent, err := e.deps.Intents.Get(ctx, in.ActionIntentID, in.TenantID, in.AccountID)
	if err != nil {
		return nil, err
	}
	if intent == nil {
		return nil, &core.ValidationError{
			Code:    core.CodeIntentNotFound,
			Message: "action intent " + in.ActionIntentID + " not found",
			Err:     core.ErrIntentNotFound,
		}
	}
	if intent.RegistryVersion == nil {
		return nil, core.NewValidationError(core.CodeMissingRegistryVersion,
			"action intent %s has no registry_version; deterministic execution is impossible", intent.ID)
	}

	entry, err := e.deps.Registry.GetMapping(ctx, intent.ActionType, intent.RegistryVersion)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, &core.ValidationError{
			Code:    core.CodeToolMappingNotFound,
			Message: fmt.Sprintf("no tool mapping for %s version %d", intent.ActionType, *intent.RegistryVersion),
			Err:     core.ErrMappingNotFound,
		}
	}

	// Surface missing-required failures before taking the lock.
	if _, err := registry.MapParameters(entry, intent.Parameters); err != nil {
		return nil, err
	}

	key, err := idempotency.ExecutionKey(intent.TenantID, intent.ID, entry.ToolName, intent.Parameters, *intent.RegistryVersion)
	if err != nil {
		return nil, err
	}

	timeout := e.orchestrationTimeout
	if in.OrchestrationTimeoutSeconds > 0 {
		timeout = time.Duration(in.OrchestrationTimeoutSeconds) * time.Second
	}
	traceID := core.NewExecutionTraceID()

	attempt, err := e.deps.Attempts.StartAttempt(ctx, StartAttemptInput{
		IntentID:             intent.ID,
		TenantID:             intent.TenantID,
		AccountID:            intent.AccountID,
		ExecutionTraceID:     traceID,
		IdempotencyKey:       key,
		OrchestrationTimeout: timeout,
		AllowRerun:           in.AllowRerun,
	})
	if err != nil {
		return nil, err
	}

	// Best-effort; the attempt record is the source of truth.
	_ = e.deps.Events.Append(ctx, eventlog.Event{
		EventType:       eventlog.EventExecutionStarted,
		TenantID:        intent.TenantID,
		AccountID:       intent.AccountID,
		TraceID:         attempt.TraceID,
		DecisionTraceID: intent.TraceID,
		Data: map[string]interface{}{
			"action_intent_id": intent.ID,
			"action_type":      intent.ActionType,
			"idempotency_key":  key,
			"registry_version": *intent.RegistryVersion,
			"attempt_count":    attempt.AttemptCount,
		},
	})

	e.deps.Logger.Info("Execution started", map[string]interface{}{
		"action_intent_id": intent.ID,
		"tenant_id":        intent.TenantID,
		"trace_id":         attempt.TraceID,
		"attempt_count":    attempt.AttemptCount,
	})

	return &StartOutput{
		ActionIntentID:  intent.ID,
		TenantID:        intent.TenantID,
		AccountID:       intent.AccountID,
		TraceID:         attempt.TraceID,
		IdempotencyKey:  key,
		RegistryVersion: *intent.RegistryVersion,
		AttemptCount:    attempt.AttemptCount,
		StartedAt:       attempt.StartedAt,
	}, nil
}

// ValidatePreflight runs the remaining pre-tool checks: provenance, expiry
// and kill switches. It has no side effects; failures route to
// RecordFailure.
func (e *Executor) ValidatePreflight(ctx context.Context, in *ValidateInput) (*ValidateInput, error) {
	intent, err := e.deps.Intents.Get(ctx, in.ActionIntentID, in.TenantID, in.AccountID)
	if err != nil {
		return nil, err
	}
	if intent == nil {
		return nil, &core.ValidationError{
			Code:    core.CodeIntentNotFound,
			Message: "action intent " + in.ActionIntentID + " not found",
			Err:     core.ErrIntentNotFound,
		}
	}
	if intent.Approval.OriginalProposalID != intent.Approval.OriginalDecisionID {
		return nil, core.NewValidationError(core.CodeProvenanceMismatch,
			"proposal id %s does not match decision id %s", intent.Approval.OriginalProposalID, intent.Approval.OriginalDecisionID)
	}
	if intent.Expired(e.now()) {
		return nil, &core.ValidationError{
			Code:    core.CodeIntentExpired,
			Message: "action intent " + intent.ID + " expired at " + intent.ExpiresAt.UTC().Format(time.RFC3339),
			Err:     core.ErrIntentExpired,
		}
	}

	enabled, reason, err := e.deps.KillSwitch.IsExecutionEnabled(ctx, intent.TenantID, intent.ActionType)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, &core.ValidationError{
			Code:    core.CodeKillSwitchActive,
			Message: reason,
			Err:     core.ErrKillSwitchActive,
		}
	}
	return in, nil
}

// MapActionToTool re-reads the intent and builds the invocation envelope the
// gateway expects, embedding the idempotency key and intent id into the tool
// arguments for adapter-level dedupe.
func (e *Executor) MapActionToTool(ctx context.Context, in *ValidateInput) (*InvokeInput, error) {
	intent, err := e.deps.Intents.Get(ctx, in.ActionIntentID, in.TenantID, in.AccountID)
	if err != nil {
		return nil, err
	}
	if intent == nil {
		return nil, &core.ValidationError{
			Code:    core.CodeIntentNotFound,
			Message: "action intent " + in.ActionIntentID + " not found",
			Err:     core.ErrIntentNotFound,
		}
	}

	entry, err := e.deps.Registry.GetMapping(ctx, intent.ActionType, intent.RegistryVersion)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, &core.ValidationError{
			Code:    core.CodeToolMappingNotFound,
			Message: fmt.Sprintf("no tool mapping for %s version %d", intent.ActionType, in.RegistryVersion),
			Err:     core.ErrMappingNotFound,
		}
	}

	args, err := registry.MapParameters(entry, intent.Parameters)
	if err != nil {
		return nil, err
	}
	args["idempotency_key"] = in.IdempotencyKey
	args["action_intent_id"] = intent.ID
	if err := validateToolArguments(args); err != nil {
		return nil, err
	}

	return &InvokeInput{
		ActionIntentID:       intent.ID,
		TenantID:             intent.TenantID,
		AccountID:            intent.AccountID,
		TraceID:              in.TraceID,
		GatewayURL:           e.gatewayURL,
		ToolName:             entry.ToolName,
		ToolArguments:        args,
		ToolSchemaVersion:    entry.ToolSchemaVersion,
		RegistryVersion:      entry.RegistryVersion,
		CompensationStrategy: entry.CompensationStrategy,
		IdempotencyKey:       in.IdempotencyKey,
		AttemptCount:         in.AttemptCount,
		StartedAt:            in.StartedAt,
	}, nil
}

// InvokeTool calls the gateway behind the resilience wrapper. An exhausted
// connector surfaces as a DeferredError for the runtime to re-enqueue; an
// open circuit is a fatal step failure.
func (e *Executor) InvokeTool(ctx context.Context, in *InvokeInput) (*RecordInput, error) {
	res, err := resilience.Invoke(ctx, e.deps.Wrapper, resilience.Request{
		ToolName:   in.ToolName,
		TenantID:   in.TenantID,
		CallType:   resilience.CallTypeExecution,
		ErrorClass: classifyInvokeError,
	}, func(ctx context.Context) (*ToolResponse, error) {
		return e.deps.Gateway.Invoke(ctx, in)
	})
	if err != nil {
		return nil, err
	}
	if res.Deferred {
		return nil, &DeferredError{RetryAfter: res.RetryAfter}
	}
	return &RecordInput{InvokeInput: *in, Response: *res.Value}, nil
}

func classifyInvokeError(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return string(core.ErrorClassTimeout)
	default:
		return string(core.ErrorClassDownstream)
	}
}

// RecordOutcome turns the tool response into the write-once outcome,
// records the external write for dedupe, flips the attempt terminal and
// appends the audit event. An idempotency collision emits its ledger
// record, log and metric here and fails the step.
func (e *Executor) RecordOutcome(ctx context.Context, in *RecordInput) (*core.ActionOutcome, error) {
	status := core.OutcomeFailed
	attemptStatus := core.AttemptFailed
	if in.Response.Success {
		status = core.OutcomeSucceeded
		attemptStatus = core.AttemptSucceeded
	}

	if in.Response.Success && len(in.Response.ExternalObjectRefs) > 0 {
		err := e.deps.Dedupe.RecordExternalWrite(ctx, in.IdempotencyKey, in.Response.ExternalObjectRefs, in.ActionIntentID, in.ToolName)
		var collision *idempotency.CollisionError
		if errors.As(err, &collision) {
			e.emitCollision(ctx, in, collision)
			return nil, err
		}
		if err != nil {
			return nil, err
		}
	}

	compensation := in.CompensationStatus
	if compensation == "" {
		compensation = core.CompensationStatusNone
	}
	outcome := &core.ActionOutcome{
		IntentID:               in.ActionIntentID,
		TenantID:               in.TenantID,
		AccountID:              in.AccountID,
		Status:                 status,
		ExternalObjectRefs:     in.Response.ExternalObjectRefs,
		ErrorClass:             in.Response.ErrorClass,
		ErrorCode:              in.Response.ErrorCode,
		ErrorMessage:           in.Response.ErrorMessage,
		ToolName:               in.ToolName,
		ToolSchemaVersion:      in.ToolSchemaVersion,
		RegistryVersion:        in.RegistryVersion,
		ToolRunRef:             in.Response.ToolRunRef,
		RawResponseArtifactRef: in.Response.RawResponseArtifactRef,
		AttemptCount:           in.AttemptCount,
		StartedAt:              in.StartedAt,
		CompletedAt:            e.now().UTC(),
		CompensationStatus:     compensation,
		TraceID:                in.TraceID,
	}
	recorded, err := e.deps.Outcomes.Record(ctx, outcome)
	if err != nil {
		return nil, err
	}

	if err := e.finishAttempt(ctx, in.ActionIntentID, in.TenantID, in.AccountID, attemptStatus, in.Response.ErrorClass); err != nil {
		return nil, err
	}

	decisionTrace := ""
	if intent, err := e.deps.Intents.Get(ctx, in.ActionIntentID, in.TenantID, in.AccountID); err == nil && intent != nil {
		decisionTrace = intent.TraceID
	}

	eventType := eventlog.EventActionExecuted
	if status == core.OutcomeFailed {
		eventType = eventlog.EventActionFailed
	}
	_ = e.deps.Events.Append(ctx, eventlog.Event{
		EventType:       eventType,
		TenantID:        in.TenantID,
		AccountID:       in.AccountID,
		TraceID:         in.TraceID,
		DecisionTraceID: decisionTrace,
		Data: map[string]interface{}{
			"action_intent_id": in.ActionIntentID,
			"tool_name":        in.ToolName,
			"tool_run_ref":     in.Response.ToolRunRef,
			"status":           string(status),
			"error_class":      string(in.Response.ErrorClass),
			"attempt_count":    in.AttemptCount,
		},
	})

	e.deps.Logger.Info("Outcome recorded", map[string]interface{}{
		"action_intent_id": in.ActionIntentID,
		"tenant_id":        in.TenantID,
		"status":           string(recorded.Status),
		"tool_run_ref":     recorded.ToolRunRef,
	})
	return recorded, nil
}

// finishAttempt flips the lock terminal. A replayed record step finds the
// attempt already in the target status and treats that as done.
func (e *Executor) finishAttempt(ctx context.Context, intentID, tenantID, accountID string, status core.AttemptStatus, errorClass core.ErrorClass) error {
	_, err := e.deps.Attempts.UpdateStatus(ctx, intentID, tenantID, accountID, status, errorClass)
	if err == nil {
		return nil
	}
	var te *TransitionError
	if errors.As(err, &te) {
		current, readErr := e.deps.Attempts.Get(ctx, intentID, tenantID, accountID)
		if readErr == nil && current != nil && current.Status == status {
			return nil
		}
	}
	return err
}

func (e *Executor) emitCollision(ctx context.Context, in *RecordInput, collision *idempotency.CollisionError) {
	e.deps.Logger.Error("Idempotency collision detected", map[string]interface{}{
		"idempotency_key":    collision.Key,
		"action_intent_id":   in.ActionIntentID,
		"recorded_intent_id": collision.RecordedIntentID,
		"tenant_id":          in.TenantID,
		"tool_name":          in.ToolName,
		"recorded_ref_count": len(collision.Existing),
		"incoming_ref_count": len(collision.Incoming),
	})
	e.deps.Metrics.Counter("idempotency_collision", 1, map[string]string{
		"tenant_id":    in.TenantID,
		"tool_name":    in.ToolName,
		"connector_id": resilience.DeriveConnector(in.ToolName),
	})
	_ = e.deps.Events.Append(ctx, eventlog.Event{
		EventType: eventlog.EventIdempotencyCollision,
		TenantID:  in.TenantID,
		AccountID: in.AccountID,
		TraceID:   in.TraceID,
		Data: map[string]interface{}{
			"idempotency_key":    collision.Key,
			"action_intent_id":   in.ActionIntentID,
			"recorded_intent_id": collision.RecordedIntentID,
			"tool_name":          in.ToolName,
		},
	})
}

// Compensate routes a failed execution's side effects to their undo policy.
// AUTOMATIC and MANUAL both report PENDING for now; the automatic rollback
// tool call is routed but not yet implemented. The step never fails: any
// internal error is folded into a FAILED compensation status.
func (e *Executor) Compensate(ctx context.Context, in *RecordInput) (result *CompensateResult) {
	defer func() {
		if r := recover(); r != nil {
			result = &CompensateResult{
				CompensationStatus: core.CompensationStatusFailed,
				Message:            fmt.Sprintf("compensation panicked: %v", r),
			}
		}
	}()

	switch in.CompensationStrategy {
	case core.CompensationAutomatic:
		e.deps.Logger.Info("Automatic compensation routed", map[string]interface{}{
			"action_intent_id": in.ActionIntentID,
			"tool_name":        in.ToolName,
			"ref_count":        len(in.Response.ExternalObjectRefs),
		})
		return &CompensateResult{
			CompensationStatus: core.CompensationStatusPending,
			Message:            "automatic compensation routed; rollback tool invocation pending",
		}
	case core.CompensationManual:
		return &CompensateResult{
			CompensationStatus: core.CompensationStatusPending,
			Message:            "manual compensation required",
		}
	}
	return &CompensateResult{
		CompensationStatus: core.CompensationStatusCompleted,
		Message:            "not supported",
	}
}

// RecordFailure terminates an execution that failed before the tool ran.
// It classifies the error, writes a pre-tool outcome, flips the attempt
// FAILED and appends the audit event.
func (e *Executor) RecordFailure(ctx context.Context, in *RecordFailureInput) (*core.ActionOutcome, error) {
	class := ClassifyError(in.Err.Error, in.Err.Cause)
	code := ""
	message := in.Err.Error
	if message == "" {
		message = in.Err.Cause
	}

	var registryVersion int64
	intent, err := e.deps.Intents.Get(ctx, in.ActionIntentID, in.TenantID, in.AccountID)
	if err != nil {
		return nil, err
	}
	decisionTrace := ""
	if intent != nil {
		decisionTrace = intent.TraceID
	}
	if intent == nil || intent.RegistryVersion == nil {
		class = core.ErrorClassValidation
		code = core.CodeRegistryVersionMissing
		message = fmt.Sprintf("action intent %s has no registry_version; original error: %s", in.ActionIntentID, message)
	} else {
		registryVersion = *intent.RegistryVersion
	}

	outcome := &core.ActionOutcome{
		IntentID:           in.ActionIntentID,
		TenantID:           in.TenantID,
		AccountID:          in.AccountID,
		Status:             core.OutcomeFailed,
		ErrorClass:         class,
		ErrorCode:          code,
		ErrorMessage:       message,
		ToolName:           preToolToolName,
		RegistryVersion:    registryVersion,
		ToolRunRef:         "pre-tool-failure-" + in.ActionIntentID,
		AttemptCount:       in.AttemptCount,
		StartedAt:          in.StartedAt,
		CompletedAt:        e.now().UTC(),
		CompensationStatus: core.CompensationStatusNone,
		TraceID:            in.TraceID,
	}
	recorded, err := e.deps.Outcomes.Record(ctx, outcome)
	if err != nil {
		return nil, err
	}

	// The lock may not exist when Start itself failed; that is fine.
	if err := e.finishAttempt(ctx, in.ActionIntentID, in.TenantID, in.AccountID, core.AttemptFailed, class); err != nil && !core.IsNotFound(err) {
		e.deps.Logger.Warn("Could not mark attempt FAILED", map[string]interface{}{
			"action_intent_id": in.ActionIntentID,
			"error":            err.Error(),
		})
	}

	_ = e.deps.Events.Append(ctx, eventlog.Event{
		EventType:       eventlog.EventActionFailed,
		TenantID:        in.TenantID,
		AccountID:       in.AccountID,
		TraceID:         in.TraceID,
		DecisionTraceID: decisionTrace,
		Data: map[string]interface{}{
			"action_intent_id": in.ActionIntentID,
			"error_class":      string(class),
			"error_code":       code,
			"error_message":    message,
			"pre_tool":         true,
		},
	})

	e.deps.Logger.Warn("Pre-tool failure recorded", map[string]interface{}{
		"action_intent_id": in.ActionIntentID,
		"tenant_id":        in.TenantID,
		"error_class":      string(class),
		"error_code":       code,
	})
	return recorded, nil
}
