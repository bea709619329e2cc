package idempotency

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/praxisworks/actuator/core"
	"github.com/praxisworks/actuator/kv"
)

// Two item families live under each idempotency key: immutable history
// items (sk = CREATED_AT#<epoch_ms>) and a single best-effort LATEST pointer.
// History is the source of truth; LATEST is purely a read optimization and
// is reconstructible from history.
const (
	latestSK        = "LATEST"
	createdAtPrefix = "CREATED_AT#"
)

// Record is one adapter-layer dedupe entry.
type Record struct {
	IdempotencyKey     string                   `json:"idempotency_key"`
	ExternalObjectRefs []core.ExternalObjectRef `json:"external_object_refs"`
	ActionIntentID     string                   `json:"action_intent_id"`
	ToolName           string                   `json:"tool_name"`
	CreatedAt          time.Time                `json:"created_at"`
	LatestSK           string                   `json:"latest_sk,omitempty"` // set on the LATEST pointer only
}

// CollisionError reports a recorded key re-appearing with a different ref
// set. This is a sev-worthy correctness event, never retried; callers must
// emit a ledger record, structured log and metric when they observe it.
type CollisionError struct {
	Key              string
	Existing         []core.ExternalObjectRef
	Incoming         []core.ExternalObjectRef
	RecordedIntentID string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("idempotency collision on key %s: recorded %d ref(s), incoming %d ref(s) differ", e.Key, len(e.Existing), len(e.Incoming))
}

func (e *CollisionError) Unwrap() error {
	return core.ErrIdempotencyCollision
}

// DedupeStore records external writes per idempotency key.
type DedupeStore struct {
	store     kv.Store
	logger    core.Logger
	retention time.Duration
	now       func() time.Time
}

// NewDedupeStore creates the adapter-layer dedupe store. Retention defaults
// to 7 days.
func NewDedupeStore(store kv.Store, logger core.Logger, retention time.Duration) *DedupeStore {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &DedupeStore{
		store:     store,
		logger:    logger,
		retention: retention,
		now:       time.Now,
	}
}

// SetClock overrides the store clock. Test hook.
func (d *DedupeStore) SetClock(now func() time.Time) {
	d.now = now
}

func dedupePK(key string) string {
	return "IDEMPOTENCY_KEY#" + key
}

// CheckExternalWrite returns the recorded entry for a key, or nil when the
// key has never been recorded. The LATEST pointer is tried first; the
// history range scan is the fallback source of truth.
func (d *DedupeStore) CheckExternalWrite(ctx context.Context, key string) (*Record, error) {
	latest, err := d.store.Get(ctx, kv.Key{PK: dedupePK(key), SK: latestSK})
	if err != nil {
		return nil, err
	}
	if latest != nil {
		var pointer Record
		if err := kv.DecodeAttributes(latest.Attributes, &pointer); err != nil {
			return nil, err
		}
		if pointer.LatestSK == "" {
			return &pointer, nil
		}
		history, err := d.store.Get(ctx, kv.Key{PK: dedupePK(key), SK: pointer.LatestSK})
		if err != nil {
			return nil, err
		}
		if history != nil {
			var rec Record
			if err := kv.DecodeAttributes(history.Attributes, &rec); err != nil {
				return nil, err
			}
			return &rec, nil
		}
		// Pointer is stale; fall through to the history scan.
	}

	items, err := d.store.Query(ctx, dedupePK(key), kv.QueryOptions{SKPrefix: createdAtPrefix, Forward: false, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	var rec Record
	if err := kv.DecodeAttributes(items[0].Attributes, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// RecordExternalWrite records refs for a key. Re-recording identical refs
// (compared order-independently by object id) is a silent no-op; differing
// refs raise a CollisionError and never overwrite. The history write carries
// a create-if-absent guard; the LATEST pointer write is best-effort.
func (d *DedupeStore) RecordExternalWrite(ctx context.Context, key string, refs []core.ExternalObjectRef, intentID, toolName string) error {
	existing, err := d.CheckExternalWrite(ctx, key)
	if err != nil {
		return err
	}
	if existing != nil {
		if core.RefsEqual(existing.ExternalObjectRefs, refs) {
			return nil
		}
		return &CollisionError{Key: key, Existing: existing.ExternalObjectRefs, Incoming: refs, RecordedIntentID: existing.ActionIntentID}
	}

	now := d.now().UTC()
	historySK := createdAtPrefix + strconv.FormatInt(now.UnixMilli(), 10)
	rec := Record{
		IdempotencyKey:     key,
		ExternalObjectRefs: refs,
		ActionIntentID:     intentID,
		ToolName:           toolName,
		CreatedAt:          now,
	}
	attrs, err := kv.EncodeAttributes(rec)
	if err != nil {
		return err
	}
	expires := now.Add(d.retention)
	item := kv.Item{
		Key:        kv.Key{PK: dedupePK(key), SK: historySK},
		Attributes: attrs,
		ExpiresAt:  expires,
	}
	if err := d.store.PutConditional(ctx, item, kv.NotExists()); err != nil {
		if core.IsConditionFailed(err) {
			// Lost a same-millisecond race; re-read and compare.
			winner, checkErr := d.CheckExternalWrite(ctx, key)
			if checkErr != nil {
				return checkErr
			}
			if winner != nil && core.RefsEqual(winner.ExternalObjectRefs, refs) {
				return nil
			}
			if winner != nil {
				return &CollisionError{Key: key, Existing: winner.ExternalObjectRefs, Incoming: refs, RecordedIntentID: winner.ActionIntentID}
			}
		}
		return err
	}

	// Best-effort LATEST pointer. TTL matches the history item so a stale
	// pointer never outlives its target.
	pointer := rec
	pointer.LatestSK = historySK
	pointerAttrs, err := kv.EncodeAttributes(pointer)
	if err == nil {
		pointerItem := kv.Item{
			Key:        kv.Key{PK: dedupePK(key), SK: latestSK},
			Attributes: pointerAttrs,
			ExpiresAt:  expires,
		}
		err = d.store.PutConditional(ctx, pointerItem, kv.Condition{})
	}
	if err != nil {
		d.logger.Warn("LATEST pointer write failed; history item stands", map[string]interface{}{
			"idempotency_key":  key,
			"action_intent_id": intentID,
			"error":            err.Error(),
		})
	}
	return nil
}
