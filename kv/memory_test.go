package kv

import (
	"context"
	"testing"
	"time"

	"github.com/praxisworks/actuator/core"
)

func TestMemoryStore_GetMissing(t *testing.T) {
	store := NewMemoryStore()
	item, err := store.Get(context.Background(), Key{PK: "p", SK: "s"})
	if err != nil {
		t.Fatalf("Get() returned unexpected error: %v", err)
	}
	if item != nil {
		t.Errorf("Get() for missing key = %v, want nil", item)
	}
}

func TestMemoryStore_PutConditionalNotExists(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	item := Item{Key: Key{PK: "p", SK: "s"}, Attributes: map[string]interface{}{"v": "1"}}

	if err := store.PutConditional(ctx, item, NotExists()); err != nil {
		t.Fatalf("first PutConditional failed: %v", err)
	}

	err := store.PutConditional(ctx, item, NotExists())
	if err == nil {
		t.Fatal("second PutConditional should fail")
	}
	if !core.IsConditionFailed(err) {
		t.Errorf("second PutConditional error = %v, want ConditionFailed sentinel", err)
	}
}

func TestMemoryStore_UpdateConditional(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	key := Key{PK: "p", SK: "s"}

	err := store.PutConditional(ctx, Item{
		Key:        key,
		Attributes: map[string]interface{}{"status": "RUNNING", "count": float64(1)},
	}, NotExists())
	if err != nil {
		t.Fatalf("PutConditional failed: %v", err)
	}

	updated, err := store.UpdateConditional(ctx, key, Update{
		Set:    map[string]interface{}{"status": "SUCCEEDED"},
		Remove: []string{"count"},
	}, AttributeEquals("status", "RUNNING"))
	if err != nil {
		t.Fatalf("UpdateConditional failed: %v", err)
	}
	if updated.Attributes["status"] != "SUCCEEDED" {
		t.Errorf("status = %v, want SUCCEEDED", updated.Attributes["status"])
	}
	if _, ok := updated.Attributes["count"]; ok {
		t.Error("count should have been removed")
	}

	// Guard no longer holds.
	_, err = store.UpdateConditional(ctx, key, Update{
		Set: map[string]interface{}{"status": "FAILED"},
	}, AttributeEquals("status", "RUNNING"))
	if !core.IsConditionFailed(err) {
		t.Errorf("update with stale guard error = %v, want ConditionFailed", err)
	}
}

func TestMemoryStore_UpdateMissingItem(t *testing.T) {
	store := NewMemoryStore()

	// An attribute guard cannot hold on an absent item.
	_, err := store.UpdateConditional(context.Background(), Key{PK: "p", SK: "missing"}, Update{
		Set: map[string]interface{}{"status": "FAILED"},
	}, AttributeEquals("status", "RUNNING"))
	if !core.IsConditionFailed(err) {
		t.Errorf("guarded update of missing item error = %v, want ConditionFailed", err)
	}

	// An unconditional update of an absent item is a distinct not-found.
	_, err = store.UpdateConditional(context.Background(), Key{PK: "p", SK: "missing"}, Update{
		Set: map[string]interface{}{"status": "FAILED"},
	}, Condition{})
	if !core.IsNotFound(err) {
		t.Errorf("unconditional update of missing item error = %v, want not-found", err)
	}
}

func TestMemoryStore_AttributeIn(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	key := Key{PK: "p", SK: "s"}

	if err := store.PutConditional(ctx, Item{
		Key:        key,
		Attributes: map[string]interface{}{"status": "FAILED"},
	}, NotExists()); err != nil {
		t.Fatalf("PutConditional failed: %v", err)
	}

	_, err := store.UpdateConditional(ctx, key, Update{
		Set: map[string]interface{}{"status": "RUNNING"},
	}, AttributeIn("status", "SUCCEEDED", "FAILED", "CANCELLED"))
	if err != nil {
		t.Fatalf("UpdateConditional with in-set guard failed: %v", err)
	}
}

func TestMemoryStore_QueryPrefixAndOrder(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, sk := range []string{"OUTCOME#a", "OUTCOME#b", "OUTCOME#c", "EXECUTION#x"} {
		err := store.PutConditional(ctx, Item{
			Key:        Key{PK: "p", SK: sk},
			Attributes: map[string]interface{}{"sk": sk},
		}, NotExists())
		if err != nil {
			t.Fatalf("seed put failed: %v", err)
		}
	}

	forward, err := store.Query(ctx, "p", QueryOptions{SKPrefix: "OUTCOME#", Forward: true})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(forward) != 3 {
		t.Fatalf("Query returned %d items, want 3", len(forward))
	}
	if forward[0].SK != "OUTCOME#a" || forward[2].SK != "OUTCOME#c" {
		t.Errorf("forward order wrong: %s .. %s", forward[0].SK, forward[2].SK)
	}

	reverse, err := store.Query(ctx, "p", QueryOptions{SKPrefix: "OUTCOME#", Forward: false, Limit: 2})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(reverse) != 2 || reverse[0].SK != "OUTCOME#c" || reverse[1].SK != "OUTCOME#b" {
		t.Errorf("reverse page wrong: %+v", reverse)
	}

	// Cursor continues from the last seen sort key.
	next, err := store.Query(ctx, "p", QueryOptions{SKPrefix: "OUTCOME#", Forward: false, Limit: 2, StartAfter: "OUTCOME#b"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(next) != 1 || next[0].SK != "OUTCOME#a" {
		t.Errorf("cursor page wrong: %+v", next)
	}
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()
	store.SetClock(func() time.Time { return now })

	err := store.PutConditional(ctx, Item{
		Key:        Key{PK: "p", SK: "s"},
		Attributes: map[string]interface{}{"v": "1"},
		ExpiresAt:  now.Add(time.Minute),
	}, NotExists())
	if err != nil {
		t.Fatalf("PutConditional failed: %v", err)
	}

	item, err := store.Get(ctx, Key{PK: "p", SK: "s"})
	if err != nil || item == nil {
		t.Fatalf("Get() before expiry = (%v, %v), want item", item, err)
	}

	store.SetClock(func() time.Time { return now.Add(2 * time.Minute) })
	item, err = store.Get(ctx, Key{PK: "p", SK: "s"})
	if err != nil {
		t.Fatalf("Get() after expiry errored: %v", err)
	}
	if item != nil {
		t.Error("Get() after expiry should return nil")
	}
}

func TestMemoryStore_QueryIndex(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	err := store.PutConditional(ctx, Item{
		Key:        Key{PK: "p", SK: "OUTCOME#1"},
		Attributes: map[string]interface{}{"v": "1"},
		Indexes: []IndexEntry{
			{Index: "by_intent", PK: "ACTION_INTENT#1", SK: "COMPLETED_AT#2026"},
		},
	}, NotExists())
	if err != nil {
		t.Fatalf("PutConditional failed: %v", err)
	}

	items, err := store.QueryIndex(ctx, "by_intent", "ACTION_INTENT#1", QueryOptions{Limit: 1})
	if err != nil {
		t.Fatalf("QueryIndex failed: %v", err)
	}
	if len(items) != 1 || items[0].Attributes["v"] != "1" {
		t.Errorf("QueryIndex returned %+v, want the indexed item", items)
	}
}
