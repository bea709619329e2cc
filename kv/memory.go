package kv

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/praxisworks/actuator/core"
)

// MemoryStore is an in-memory Store with the same conditional-write
// semantics as the Redis store. Safe for concurrent use; intended for tests
// and local development.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]*memoryItem
	now   func() time.Time
}

type memoryItem struct {
	key       Key
	attrs     map[string]interface{}
	expiresAt time.Time
	indexes   []IndexEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]*memoryItem),
		now:   time.Now,
	}
}

// SetClock overrides the expiry clock. Test hook.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) live(it *memoryItem) bool {
	return it != nil && (it.expiresAt.IsZero() || it.expiresAt.After(s.now()))
}

func (s *MemoryStore) Get(ctx context.Context, key Key) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it := s.items[key.String()]
	if !s.live(it) {
		return nil, nil
	}
	return it.toItem(), nil
}

func (s *MemoryStore) PutConditional(ctx context.Context, item Item, cond Condition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.items[item.Key.String()]
	exists := s.live(existing)
	var attrs map[string]interface{}
	if exists {
		attrs = existing.attrs
	}
	if !cond.matches(exists, attrs) {
		return &core.StoreError{Op: "kv.Put", Key: item.Key.String(), Err: core.ErrConditionFailed}
	}

	s.items[item.Key.String()] = &memoryItem{
		key:       item.Key,
		attrs:     copyAttrs(item.Attributes),
		expiresAt: item.ExpiresAt,
		indexes:   append([]IndexEntry(nil), item.Indexes...),
	}
	return nil
}

func (s *MemoryStore) UpdateConditional(ctx context.Context, key Key, upd Update, cond Condition) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.items[key.String()]
	exists := s.live(existing)
	var attrs map[string]interface{}
	if exists {
		attrs = existing.attrs
	}
	if !cond.matches(exists, attrs) {
		return nil, &core.StoreError{Op: "kv.Update", Key: key.String(), Err: core.ErrConditionFailed}
	}
	if !exists {
		return nil, &core.StoreError{Op: "kv.Update", Key: key.String(), Err: core.ErrItemNotFound}
	}

	next := &memoryItem{
		key:       key,
		attrs:     applyUpdate(attrs, upd),
		expiresAt: existing.expiresAt,
		indexes:   existing.indexes,
	}
	if upd.ExpiresAt != nil {
		next.expiresAt = *upd.ExpiresAt
	}
	if upd.Indexes != nil {
		next.indexes = append([]IndexEntry(nil), upd.Indexes...)
	}
	s.items[key.String()] = next
	return next.toItem(), nil
}

func (s *MemoryStore) Query(ctx context.Context, pk string, opts QueryOptions) ([]Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*memoryItem
	for _, it := range s.items {
		if it.key.PK != pk || !s.live(it) {
			continue
		}
		if opts.SKPrefix != "" && !strings.HasPrefix(it.key.SK, opts.SKPrefix) {
			continue
		}
		matched = append(matched, it)
	}
	sort.Slice(matched, func(i, j int) bool {
		if opts.Forward {
			return matched[i].key.SK < matched[j].key.SK
		}
		return matched[i].key.SK > matched[j].key.SK
	})

	return s.paginate(matched, opts, func(it *memoryItem) string { return it.key.SK }), nil
}

func (s *MemoryStore) QueryIndex(ctx context.Context, index, pk string, opts QueryOptions) ([]Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type indexed struct {
		sk   string
		item *memoryItem
	}
	var matched []indexed
	for _, it := range s.items {
		if !s.live(it) {
			continue
		}
		for _, entry := range it.indexes {
			if entry.Index != index || entry.PK != pk {
				continue
			}
			if opts.SKPrefix != "" && !strings.HasPrefix(entry.SK, opts.SKPrefix) {
				continue
			}
			matched = append(matched, indexed{sk: entry.SK, item: it})
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if opts.Forward {
			return matched[i].sk < matched[j].sk
		}
		return matched[i].sk > matched[j].sk
	})

	items := make([]*memoryItem, len(matched))
	sks := make([]string, len(matched))
	for i, m := range matched {
		items[i] = m.item
		sks[i] = m.sk
	}
	return s.paginateWithSKs(items, sks, opts), nil
}

func (s *MemoryStore) Delete(ctx context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key.String())
	return nil
}

func (s *MemoryStore) paginate(matched []*memoryItem, opts QueryOptions, sortKey func(*memoryItem) string) []Item {
	sks := make([]string, len(matched))
	for i, it := range matched {
		sks[i] = sortKey(it)
	}
	return s.paginateWithSKs(matched, sks, opts)
}

func (s *MemoryStore) paginateWithSKs(matched []*memoryItem, sks []string, opts QueryOptions) []Item {
	out := make([]Item, 0, len(matched))
	for i, it := range matched {
		if opts.StartAfter != "" {
			if opts.Forward && sks[i] <= opts.StartAfter {
				continue
			}
			if !opts.Forward && sks[i] >= opts.StartAfter {
				continue
			}
		}
		out = append(out, *it.toItem())
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out
}

func (it *memoryItem) toItem() *Item {
	return &Item{
		Key:        it.key,
		Attributes: copyAttrs(it.attrs),
		ExpiresAt:  it.expiresAt,
		Indexes:    append([]IndexEntry(nil), it.indexes...),
	}
}

func copyAttrs(attrs map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}

var _ Store = (*MemoryStore)(nil)
