package idempotency

import "testing"

func TestCanonicalizeKeyOrderIndependent(t *testing.T) {
	a := map[string]interface{}{
		"title":       "x",
		"description": "y",
		"nested":      map[string]interface{}{"b": 2, "a": 1},
	}
	b := map[string]interface{}{
		"nested":      map[string]interface{}{"a": 1, "b": 2},
		"description": "y",
		"title":       "x",
	}

	ca, err := Canonicalize(a)
	if err != nil {
		t.Fatalf("Canonicalize(a) failed: %v", err)
	}
	cb, err := Canonicalize(b)
	if err != nil {
		t.Fatalf("Canonicalize(b) failed: %v", err)
	}
	if string(ca) != string(cb) {
		t.Errorf("canonical forms differ:\n%s\n%s", ca, cb)
	}
}

func TestCanonicalizeArrayOrderSensitive(t *testing.T) {
	a := map[string]interface{}{"items": []interface{}{"1", "2"}}
	b := map[string]interface{}{"items": []interface{}{"2", "1"}}

	ca, _ := Canonicalize(a)
	cb, _ := Canonicalize(b)
	if string(ca) == string(cb) {
		t.Error("array reordering should change the canonical form")
	}
}

func TestCanonicalizePreservesNullAndNumbers(t *testing.T) {
	v := map[string]interface{}{
		"null_field": nil,
		"big":        float64(9007199254740993),
		"ratio":      0.25,
	}
	c1, err := Canonicalize(v)
	if err != nil {
		t.Fatalf("Canonicalize failed: %v", err)
	}
	c2, _ := Canonicalize(v)
	if string(c1) != string(c2) {
		t.Error("canonicalization must be deterministic")
	}
}

func TestExecutionKeyStability(t *testing.T) {
	params := map[string]interface{}{"title": "x", "description": "y"}
	reordered := map[string]interface{}{"description": "y", "title": "x"}

	k1, err := ExecutionKey("t1", "ai_1", "internal.create_task", params, 1)
	if err != nil {
		t.Fatalf("ExecutionKey failed: %v", err)
	}
	k2, err := ExecutionKey("t1", "ai_1", "internal.create_task", reordered, 1)
	if err != nil {
		t.Fatalf("ExecutionKey failed: %v", err)
	}
	if k1 != k2 {
		t.Error("reordered parameters must produce the same key")
	}
	if len(k1) != 64 {
		t.Errorf("key length = %d, want 64 hex chars", len(k1))
	}

	k3, _ := ExecutionKey("t1", "ai_2", "internal.create_task", params, 1)
	if k3 == k1 {
		t.Error("distinct intents must produce distinct keys")
	}

	k4, _ := ExecutionKey("t1", "ai_1", "internal.create_task", params, 2)
	if k4 == k1 {
		t.Error("distinct registry versions must produce distinct keys")
	}
}

func TestSemanticKeyIgnoresIntent(t *testing.T) {
	params := map[string]interface{}{"title": "x"}
	k1, err := SemanticKey("t1", "crm.create_task", params, 1)
	if err != nil {
		t.Fatalf("SemanticKey failed: %v", err)
	}
	k2, _ := SemanticKey("t1", "crm.create_task", params, 1)
	if k1 != k2 {
		t.Error("semantic key must be stable")
	}
	e1, _ := ExecutionKey("t1", "ai_1", "crm.create_task", params, 1)
	if k1 == e1 {
		t.Error("semantic and execution keys must differ")
	}
}
