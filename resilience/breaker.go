package resilience

import (
	"context"
	"time"

	"github.com/praxisworks/actuator/core"
	"github.com/praxisworks/actuator/kv"
)

// Circuit states.
const (
	StateClosed   = "CLOSED"
	StateOpen     = "OPEN"
	StateHalfOpen = "HALF_OPEN"
)

// BreakerState is the persisted per-connector circuit record. The KV store
// is the authority so every worker sees the same circuit.
type BreakerState struct {
	ConnectorID           string    `json:"connector_id"`
	State                 string    `json:"state"`
	FailureCount          int       `json:"failure_count"`
	WindowStartEpoch      int64     `json:"window_start_epoch"`
	OpenUntilEpoch        int64     `json:"open_until_epoch,omitempty"`
	HalfOpenProbeInFlight bool      `json:"half_open_probe_in_flight,omitempty"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// BreakerOptions configure the trip policy.
type BreakerOptions struct {
	FailureThreshold int           // failures within Window that trip OPEN
	Window           time.Duration // failure-counting window
	Cooldown         time.Duration // OPEN duration before a half-open probe
	StateRetention   time.Duration // persisted state TTL
}

// DefaultBreakerOptions returns the production defaults: 5 failures in 60s
// trip OPEN, 30s cooldown, 14-day state retention.
func DefaultBreakerOptions() BreakerOptions {
	return BreakerOptions{
		FailureThreshold: 5,
		Window:           60 * time.Second,
		Cooldown:         30 * time.Second,
		StateRetention:   14 * 24 * time.Hour,
	}
}

// Breaker is a circuit breaker whose state lives in the KV store, one record
// per connector.
type Breaker struct {
	store  kv.Store
	opts   BreakerOptions
	logger core.Logger
	now    func() time.Time
}

// NewBreaker creates a breaker. Zero option fields take defaults.
func NewBreaker(store kv.Store, opts BreakerOptions, logger core.Logger) *Breaker {
	def := DefaultBreakerOptions()
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = def.FailureThreshold
	}
	if opts.Window <= 0 {
		opts.Window = def.Window
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = def.Cooldown
	}
	if opts.StateRetention <= 0 {
		opts.StateRetention = def.StateRetention
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Breaker{store: store, opts: opts, logger: logger, now: time.Now}
}

// SetClock overrides the breaker clock. Test hook.
func (b *Breaker) SetClock(now func() time.Time) {
	b.now = now
}

func breakerKey(connectorID string) kv.Key {
	return kv.Key{PK: "CONNECTOR#" + connectorID, SK: "CIRCUIT"}
}

// AllowRequest decides admission for one call. When the circuit is open the
// second return value is the remaining cooldown, usable as a retry hint.
// Concurrent half-open probes are forbidden: exactly one caller wins the
// probe slot through a conditional update.
func (b *Breaker) AllowRequest(ctx context.Context, connectorID string) (bool, time.Duration, error) {
	state, err := b.read(ctx, connectorID)
	if err != nil {
		return false, 0, err
	}
	if state == nil || state.State == StateClosed {
		return true, 0, nil
	}

	now := b.now()
	switch state.State {
	case StateOpen:
		if now.Unix() < state.OpenUntilEpoch {
			return false, time.Duration(state.OpenUntilEpoch-now.Unix()) * time.Second, nil
		}
		// Cooldown elapsed: move to HALF_OPEN and claim the single probe.
		claimed, err := b.transition(ctx, connectorID, map[string]interface{}{
			"state":                     StateHalfOpen,
			"half_open_probe_in_flight": true,
			"updated_at":                now.UTC(),
		}, kv.AttributeEquals("state", StateOpen))
		if err != nil {
			return false, 0, err
		}
		if !claimed {
			return false, b.opts.Cooldown, nil
		}
		return true, 0, nil
	case StateHalfOpen:
		if state.HalfOpenProbeInFlight {
			return false, b.opts.Cooldown, nil
		}
		claimed, err := b.transition(ctx, connectorID, map[string]interface{}{
			"half_open_probe_in_flight": true,
			"updated_at":                now.UTC(),
		}, kv.Condition{
			Equals: map[string]interface{}{"state": StateHalfOpen, "half_open_probe_in_flight": false},
		})
		if err != nil {
			return false, 0, err
		}
		if !claimed {
			return false, b.opts.Cooldown, nil
		}
		return true, 0, nil
	}
	return true, 0, nil
}

// RecordSuccess closes the circuit and resets the failure window.
func (b *Breaker) RecordSuccess(ctx context.Context, connectorID string) error {
	prev, err := b.read(ctx, connectorID)
	if err != nil {
		return err
	}
	if prev != nil && prev.State != StateClosed {
		b.logger.Info("Circuit closed", map[string]interface{}{
			"connector_id": connectorID,
			"from_state":   prev.State,
		})
	}
	return b.write(ctx, &BreakerState{
		ConnectorID:      connectorID,
		State:            StateClosed,
		FailureCount:     0,
		WindowStartEpoch: b.now().Unix(),
		UpdatedAt:        b.now().UTC(),
	})
}

// RecordFailure counts a failure within the sliding window, tripping the
// circuit OPEN at the threshold. A failed half-open probe reopens
// immediately. Counting is read-modify-write; a lost increment under
// concurrency only delays the trip by one call.
func (b *Breaker) RecordFailure(ctx context.Context, connectorID string) error {
	now := b.now()
	state, err := b.read(ctx, connectorID)
	if err != nil {
		return err
	}
	if state == nil {
		state = &BreakerState{
			ConnectorID:      connectorID,
			State:            StateClosed,
			WindowStartEpoch: now.Unix(),
		}
	}

	if state.State == StateHalfOpen {
		state.State = StateOpen
		state.OpenUntilEpoch = now.Add(b.opts.Cooldown).Unix()
		state.HalfOpenProbeInFlight = false
		state.FailureCount = 0
		state.WindowStartEpoch = now.Unix()
		state.UpdatedAt = now.UTC()
		b.logger.Warn("Circuit reopened after failed probe", map[string]interface{}{
			"connector_id": connectorID,
		})
		return b.write(ctx, state)
	}

	if now.Unix()-state.WindowStartEpoch > int64(b.opts.Window/time.Second) {
		state.FailureCount = 0
		state.WindowStartEpoch = now.Unix()
	}
	state.FailureCount++
	state.UpdatedAt = now.UTC()

	if state.State == StateClosed && state.FailureCount >= b.opts.FailureThreshold {
		state.State = StateOpen
		state.OpenUntilEpoch = now.Add(b.opts.Cooldown).Unix()
		b.logger.Warn("Circuit opened", map[string]interface{}{
			"connector_id":  connectorID,
			"failure_count": state.FailureCount,
			"open_until":    state.OpenUntilEpoch,
		})
	}
	return b.write(ctx, state)
}

// State returns the persisted circuit record, or nil when the connector has
// never recorded activity.
func (b *Breaker) State(ctx context.Context, connectorID string) (*BreakerState, error) {
	return b.read(ctx, connectorID)
}

// ForceState overwrites the circuit record. Operator path.
func (b *Breaker) ForceState(ctx context.Context, connectorID, state string) error {
	s := &BreakerState{
		ConnectorID:      connectorID,
		State:            state,
		WindowStartEpoch: b.now().Unix(),
		UpdatedAt:        b.now().UTC(),
	}
	if state == StateOpen {
		s.OpenUntilEpoch = b.now().Add(b.opts.Cooldown).Unix()
	}
	return b.write(ctx, s)
}

func (b *Breaker) read(ctx context.Context, connectorID string) (*BreakerState, error) {
	item, err := b.store.Get(ctx, breakerKey(connectorID))
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, nil
	}
	var state BreakerState
	if err := kv.DecodeAttributes(item.Attributes, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (b *Breaker) write(ctx context.Context, state *BreakerState) error {
	attrs, err := kv.EncodeAttributes(state)
	if err != nil {
		return err
	}
	item := kv.Item{
		Key:        breakerKey(state.ConnectorID),
		Attributes: attrs,
		ExpiresAt:  b.now().Add(b.opts.StateRetention),
	}
	return b.store.PutConditional(ctx, item, kv.Condition{})
}

// transition applies a guarded update; a failed condition means another
// worker transitioned first.
func (b *Breaker) transition(ctx context.Context, connectorID string, set map[string]interface{}, cond kv.Condition) (bool, error) {
	_, err := b.store.UpdateConditional(ctx, breakerKey(connectorID), kv.Update{Set: set}, cond)
	if err != nil {
		if core.IsConditionFailed(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
