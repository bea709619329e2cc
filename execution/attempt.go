package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/praxisworks/actuator/core"
	"github.com/praxisworks/actuator/kv"
)

// attemptTTLBuffer keeps the lock alive beyond the orchestration timeout so
// a mid-backoff retry never finds its own lock reaped.
const attemptTTLBuffer = 15 * time.Minute

// defaultOrchestrationTimeout applies when the caller does not supply one.
const defaultOrchestrationTimeout = time.Hour

func attemptKey(intentID, tenantID, accountID string) kv.Key {
	return kv.Key{PK: tenantAccountPK(tenantID, accountID), SK: "EXECUTION#" + intentID}
}

// TransitionError reports an illegal attempt-status transition. It wraps
// core.ErrConditionFailed: a correctness alarm, never a retryable I/O error.
type TransitionError struct {
	IntentID string
	Target   core.AttemptStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot transition attempt for %s to %s; current status is not RUNNING", e.IntentID, e.Target)
}

func (e *TransitionError) Unwrap() error {
	return core.ErrConditionFailed
}

// AttemptStore owns the execution-attempt lock. The KV store is the
// authority; no in-process mutex participates, so correctness holds on any
// worker topology.
type AttemptStore struct {
	store  kv.Store
	logger core.Logger
	buffer time.Duration
	now    func() time.Time
}

// NewAttemptStore creates the attempt lock over the given store.
func NewAttemptStore(store kv.Store, logger core.Logger) *AttemptStore {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &AttemptStore{store: store, logger: logger, buffer: attemptTTLBuffer, now: time.Now}
}

// SetTTLBuffer overrides the lock TTL buffer. Values below the 15-minute
// floor are ignored.
func (s *AttemptStore) SetTTLBuffer(d time.Duration) {
	if d >= attemptTTLBuffer {
		s.buffer = d
	}
}

// SetClock overrides the lock clock. Test hook.
func (s *AttemptStore) SetClock(now func() time.Time) {
	s.now = now
}

// StartAttemptInput carries everything StartAttempt needs.
type StartAttemptInput struct {
	IntentID             string
	TenantID             string
	AccountID            string
	ExecutionTraceID     string
	IdempotencyKey       string
	OrchestrationTimeout time.Duration // zero selects the default
	AllowRerun           bool
}

// StartAttempt acquires the exclusive RUNNING lock for an intent.
//
// The first start creates the record with a create-if-absent guard. When the
// record already exists: RUNNING fails with ErrExecutionInProgress; a
// terminal status fails with ErrExecutionCompleted unless AllowRerun is set,
// in which case a terminal-gated update flips the record back to RUNNING,
// increments attempt_count and clears last_error_class. A record vanishing
// between the failed create and the follow-up read surfaces as
// ErrRaceCondition - never a silent retry.
func (s *AttemptStore) StartAttempt(ctx context.Context, in StartAttemptInput) (*core.ExecutionAttempt, error) {
	timeout := in.OrchestrationTimeout
	if timeout <= 0 {
		timeout = defaultOrchestrationTimeout
	}
	now := s.now().UTC()
	expires := now.Add(timeout + s.buffer)

	attempt := core.ExecutionAttempt{
		IntentID:       in.IntentID,
		TenantID:       in.TenantID,
		AccountID:      in.AccountID,
		Status:         core.AttemptRunning,
		AttemptCount:   1,
		LastAttemptID:  core.NewAttemptID(),
		IdempotencyKey: in.IdempotencyKey,
		StartedAt:      now,
		UpdatedAt:      now,
		TraceID:        in.ExecutionTraceID,
		TTL:            expires.Unix(),
	}
	attrs, err := kv.EncodeAttributes(attempt)
	if err != nil {
		return nil, err
	}
	key := attemptKey(in.IntentID, in.TenantID, in.AccountID)
	item := kv.Item{Key: key, Attributes: attrs, ExpiresAt: expires}

	err = s.store.PutConditional(ctx, item, kv.NotExists())
	if err == nil {
		return &attempt, nil
	}
	if !core.IsConditionFailed(err) {
		return nil, err
	}

	existing, err := s.Get(ctx, in.IntentID, in.TenantID, in.AccountID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("attempt for %s: %w", in.IntentID, core.ErrRaceCondition)
	}
	if existing.Status == core.AttemptRunning {
		return nil, fmt.Errorf("execution for intent %s already in progress: %w", in.IntentID, core.ErrExecutionInProgress)
	}
	if !in.AllowRerun {
		return nil, fmt.Errorf("execution for intent %s already completed with status %s: %w", in.IntentID, existing.Status, core.ErrExecutionCompleted)
	}

	return s.rerun(ctx, key, existing, attempt, expires)
}

// rerun flips a terminal record back to RUNNING under a terminal-status
// condition, so exactly one rerunner wins.
func (s *AttemptStore) rerun(ctx context.Context, key kv.Key, existing *core.ExecutionAttempt, fresh core.ExecutionAttempt, expires time.Time) (*core.ExecutionAttempt, error) {
	upd := kv.Update{
		Set: map[string]interface{}{
			"status":          string(core.AttemptRunning),
			"attempt_count":   existing.AttemptCount + 1,
			"last_attempt_id": fresh.LastAttemptID,
			"idempotency_key": fresh.IdempotencyKey,
			"started_at":      fresh.StartedAt,
			"updated_at":      fresh.UpdatedAt,
			"trace_id":        fresh.TraceID,
			"ttl":             expires.Unix(),
		},
		Remove:    []string{"last_error_class"},
		ExpiresAt: &expires,
	}
	cond := kv.AttributeIn("status",
		string(core.AttemptSucceeded), string(core.AttemptFailed), string(core.AttemptCancelled))

	item, err := s.store.UpdateConditional(ctx, key, upd, cond)
	if err != nil {
		if core.IsConditionFailed(err) {
			current, readErr := s.Get(ctx, existing.IntentID, existing.TenantID, existing.AccountID)
			if readErr != nil {
				return nil, readErr
			}
			if current == nil {
				return nil, fmt.Errorf("attempt for %s: %w", existing.IntentID, core.ErrRaceCondition)
			}
			return nil, fmt.Errorf("execution for intent %s already in progress: %w", existing.IntentID, core.ErrExecutionInProgress)
		}
		return nil, err
	}

	var updated core.ExecutionAttempt
	if err := kv.DecodeAttributes(item.Attributes, &updated); err != nil {
		return nil, err
	}
	s.logger.Info("Attempt rerun started", map[string]interface{}{
		"action_intent_id": updated.IntentID,
		"attempt_count":    updated.AttemptCount,
		"trace_id":         updated.TraceID,
	})
	return &updated, nil
}

// UpdateStatus moves a RUNNING attempt to a terminal status. errorClass is
// written only when non-empty. A non-RUNNING current status surfaces as a
// TransitionError.
func (s *AttemptStore) UpdateStatus(ctx context.Context, intentID, tenantID, accountID string, status core.AttemptStatus, errorClass core.ErrorClass) (*core.ExecutionAttempt, error) {
	if !status.IsTerminal() {
		return nil, fmt.Errorf("target status %s is not terminal: %w", status, core.ErrInvalidConfiguration)
	}

	set := map[string]interface{}{
		"status":     string(status),
		"updated_at": s.now().UTC(),
	}
	if errorClass != "" {
		set["last_error_class"] = string(errorClass)
	}

	item, err := s.store.UpdateConditional(ctx,
		attemptKey(intentID, tenantID, accountID),
		kv.Update{Set: set},
		kv.AttributeEquals("status", string(core.AttemptRunning)))
	if err != nil {
		if core.IsConditionFailed(err) {
			return nil, &TransitionError{IntentID: intentID, Target: status}
		}
		return nil, err
	}

	var updated core.ExecutionAttempt
	if err := kv.DecodeAttributes(item.Attributes, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// Get returns the attempt record, or nil when absent.
func (s *AttemptStore) Get(ctx context.Context, intentID, tenantID, accountID string) (*core.ExecutionAttempt, error) {
	item, err := s.store.Get(ctx, attemptKey(intentID, tenantID, accountID))
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, nil
	}
	var attempt core.ExecutionAttempt
	if err := kv.DecodeAttributes(item.Attributes, &attempt); err != nil {
		return nil, err
	}
	return &attempt, nil
}
