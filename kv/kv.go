// Package kv provides the typed key-value facade the pipeline stores are
// built on: conditional writes, composite (pk, sk) keys, secondary indices
// and entity-level TTL. Two implementations exist - a Redis-backed store for
// production and an in-memory store for tests and local development.
//
// Every store above this package relies on core.ErrConditionFailed being
// observable and distinct from generic I/O errors.
package kv

import (
	"bytes"
	"encoding/json"
	"time"
)

// Key is a composite primary key. Neither part may contain '|', which is
// reserved as the internal separator.
type Key struct {
	PK string
	SK string
}

// String renders the key for diagnostics.
func (k Key) String() string {
	return k.PK + "|" + k.SK
}

// IndexEntry projects an item into a named secondary index. Index queries
// resolve back to the primary item.
type IndexEntry struct {
	Index string `json:"index"`
	PK    string `json:"pk"`
	SK    string `json:"sk"`
}

// Item is a stored record: attributes plus optional TTL and secondary-index
// projections.
type Item struct {
	Key
	Attributes map[string]interface{}
	ExpiresAt  time.Time // zero means no expiry
	Indexes    []IndexEntry
}

// Condition guards a conditional write. A nil/zero Condition is
// unconditional. All populated clauses must hold.
type Condition struct {
	// Exists, when set, requires the key to exist (true) or be absent (false).
	Exists *bool
	// Equals requires each named attribute to equal the given value.
	Equals map[string]interface{}
	// In requires each named attribute to be one of the given values.
	In map[string][]interface{}
}

// NotExists is the create-if-absent guard.
func NotExists() Condition {
	exists := false
	return Condition{Exists: &exists}
}

// AttributeEquals guards on a single attribute value.
func AttributeEquals(name string, value interface{}) Condition {
	return Condition{Equals: map[string]interface{}{name: value}}
}

// AttributeIn guards on a single attribute being in a value set.
func AttributeIn(name string, values ...interface{}) Condition {
	return Condition{In: map[string][]interface{}{name: values}}
}

// Update describes a conditional update: SET attributes, REMOVE attributes,
// and optionally replace the TTL and index projections.
type Update struct {
	Set       map[string]interface{}
	Remove    []string
	ExpiresAt *time.Time
	Indexes   []IndexEntry // when non-nil, replaces the item's projections
}

// QueryOptions shape a partition scan.
type QueryOptions struct {
	SKPrefix   string
	Forward    bool   // ascending sk order when true, descending otherwise
	Limit      int    // 0 means no limit
	StartAfter string // exclusive sk cursor for pagination
}

// EncodeAttributes converts an entity into the attribute map stored at the
// item level, via a JSON round trip so stored shapes match wire shapes.
func EncodeAttributes(entity interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(entity)
	if err != nil {
		return nil, err
	}
	var attrs map[string]interface{}
	if err := json.Unmarshal(data, &attrs); err != nil {
		return nil, err
	}
	return attrs, nil
}

// DecodeAttributes converts an attribute map back into a typed entity.
func DecodeAttributes(attrs map[string]interface{}, entity interface{}) error {
	data, err := json.Marshal(attrs)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, entity)
}

// matches evaluates a condition against the current attributes. exists is
// whether the item is present; attrs may be nil when absent.
func (c Condition) matches(exists bool, attrs map[string]interface{}) bool {
	if c.Exists != nil && *c.Exists != exists {
		return false
	}
	if len(c.Equals) > 0 || len(c.In) > 0 {
		if !exists {
			return false
		}
	}
	for name, want := range c.Equals {
		if !jsonEqual(attrs[name], want) {
			return false
		}
	}
	for name, values := range c.In {
		found := false
		for _, want := range values {
			if jsonEqual(attrs[name], want) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// jsonEqual compares two values through their JSON encoding, normalizing
// numeric and typed representations on both sides.
func jsonEqual(a, b interface{}) bool {
	da, errA := json.Marshal(a)
	db, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(da, db)
}

// applyUpdate produces the post-update attribute map.
func applyUpdate(attrs map[string]interface{}, upd Update) map[string]interface{} {
	next := make(map[string]interface{}, len(attrs)+len(upd.Set))
	for k, v := range attrs {
		next[k] = v
	}
	for k, v := range upd.Set {
		next[k] = v
	}
	for _, k := range upd.Remove {
		delete(next, k)
	}
	return next
}
