package kv

import "context"

// Store is the conditional-write key-value contract. Implementations must
// return core.ErrConditionFailed (wrapped) when a condition does not hold,
// and must keep reads for just-written items consistent.
type Store interface {
	// Get returns the item at key, or nil when absent or expired.
	Get(ctx context.Context, key Key) (*Item, error)

	// PutConditional writes the item when the condition holds against the
	// current state of the key.
	PutConditional(ctx context.Context, item Item, cond Condition) error

	// UpdateConditional applies SET/REMOVE mutations when the condition
	// holds, returning the updated item. A missing item fails the condition
	// unless the condition explicitly tolerates absence.
	UpdateConditional(ctx context.Context, key Key, upd Update, cond Condition) (*Item, error)

	// Query scans a partition in sk order.
	Query(ctx context.Context, pk string, opts QueryOptions) ([]Item, error)

	// QueryIndex scans a secondary index partition and resolves primary
	// items. Entries whose primary item has expired are skipped.
	QueryIndex(ctx context.Context, index, pk string, opts QueryOptions) ([]Item, error)

	// Delete removes an item unconditionally. Admin and test path only.
	Delete(ctx context.Context, key Key) error
}
