package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/praxisworks/actuator/core"
)

// RedisStore implements Store on Redis. Items live as JSON strings with a
// native key expiry; partitions and secondary indices are sorted sets scanned
// lexically by sort key. Conditional writes run inside optimistic WATCH
// transactions so the check and the mutation are atomic with respect to
// concurrent writers.
type RedisStore struct {
	client    *redis.Client
	namespace string
	logger    core.Logger
}

// watchRetries bounds the optimistic-concurrency retry loop. Contention on a
// single item key is rare (one intent, one writer at a time by design).
const watchRetries = 5

// persistedItem is the JSON shape stored at the item key. ExpiresAtMS is
// carried alongside the native expiry so index scans can drop stale entries.
type persistedItem struct {
	Attributes  map[string]interface{} `json:"attributes"`
	Indexes     []IndexEntry           `json:"indexes,omitempty"`
	ExpiresAtMS int64                  `json:"expires_at_ms,omitempty"`
}

// NewRedisStore connects to Redis and returns a Store rooted at the given
// key namespace.
func NewRedisStore(redisURL, namespace string, logger core.Logger) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", core.ErrInvalidConfiguration)
	}

	opt.PoolSize = 10
	opt.MinIdleConns = 5
	opt.MaxRetries = 3
	opt.MinRetryBackoff = 100 * time.Millisecond
	opt.MaxRetryBackoff = time.Second
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 5 * time.Second
	opt.WriteTimeout = 5 * time.Second

	client := redis.NewClient(opt)

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = client.Ping(ctx).Err()
		cancel()
		if err == nil {
			break
		}
		if i < 2 {
			time.Sleep(time.Duration(i+1) * time.Second)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis after retries: %w", err)
	}

	return NewRedisStoreWithClient(client, namespace, logger), nil
}

// NewRedisStoreWithClient wraps an existing client. Used by tests with
// miniredis.
func NewRedisStoreWithClient(client *redis.Client, namespace string, logger core.Logger) *RedisStore {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &RedisStore{client: client, namespace: namespace, logger: logger}
}

func (s *RedisStore) itemKey(key Key) string {
	return s.namespace + ":item:" + key.PK + "|" + key.SK
}

func (s *RedisStore) partitionKey(pk string) string {
	return s.namespace + ":part:" + pk
}

func (s *RedisStore) indexKey(index, pk string) string {
	return s.namespace + ":gsi:" + index + ":" + pk
}

func (s *RedisStore) Get(ctx context.Context, key Key) (*Item, error) {
	data, err := s.client.Get(ctx, s.itemKey(key)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, &core.StoreError{Op: "kv.Get", Key: key.String(), Err: err}
	}
	return decodeItem(key, data)
}

func (s *RedisStore) PutConditional(ctx context.Context, item Item, cond Condition) error {
	itemKey := s.itemKey(item.Key)
	payload, ttl, err := encodeItem(item)
	if err != nil {
		return &core.StoreError{Op: "kv.Put", Key: item.Key.String(), Err: err}
	}

	txn := func(tx *redis.Tx) error {
		current, prev, err := readCurrent(ctx, tx, itemKey)
		if err != nil {
			return err
		}
		if !cond.matches(current != nil, currentAttrs(current)) {
			return &core.StoreError{Op: "kv.Put", Key: item.Key.String(), Err: core.ErrConditionFailed}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			s.writeItem(ctx, pipe, item.Key, itemKey, payload, ttl, item.Indexes, prev)
			return nil
		})
		return err
	}

	return s.watch(ctx, "kv.Put", item.Key, txn, itemKey)
}

func (s *RedisStore) UpdateConditional(ctx context.Context, key Key, upd Update, cond Condition) (*Item, error) {
	itemKey := s.itemKey(key)
	var updated *Item

	txn := func(tx *redis.Tx) error {
		current, prev, err := readCurrent(ctx, tx, itemKey)
		if err != nil {
			return err
		}
		if !cond.matches(current != nil, currentAttrs(current)) {
			return &core.StoreError{Op: "kv.Update", Key: key.String(), Err: core.ErrConditionFailed}
		}
		if current == nil {
			return &core.StoreError{Op: "kv.Update", Key: key.String(), Err: core.ErrItemNotFound}
		}

		next := Item{
			Key:        key,
			Attributes: applyUpdate(current.Attributes, upd),
			ExpiresAt:  current.ExpiresAt,
			Indexes:    current.Indexes,
		}
		if upd.ExpiresAt != nil {
			next.ExpiresAt = *upd.ExpiresAt
		}
		if upd.Indexes != nil {
			next.Indexes = upd.Indexes
		}
		payload, ttl, err := encodeItem(next)
		if err != nil {
			return &core.StoreError{Op: "kv.Update", Key: key.String(), Err: err}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			s.writeItem(ctx, pipe, key, itemKey, payload, ttl, next.Indexes, prev)
			return nil
		})
		if err == nil {
			updated = &next
		}
		return err
	}

	if err := s.watch(ctx, "kv.Update", key, txn, itemKey); err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *RedisStore) Query(ctx context.Context, pk string, opts QueryOptions) ([]Item, error) {
	members, err := s.scanLex(ctx, s.partitionKey(pk), opts)
	if err != nil {
		return nil, &core.StoreError{Op: "kv.Query", Key: pk, Err: err}
	}

	items := make([]Item, 0, len(members))
	for _, sk := range members {
		item, err := s.Get(ctx, Key{PK: pk, SK: sk})
		if err != nil {
			return nil, err
		}
		if item == nil {
			// Item expired; drop the stale partition entry.
			s.client.ZRem(ctx, s.partitionKey(pk), sk)
			continue
		}
		items = append(items, *item)
		if opts.Limit > 0 && len(items) >= opts.Limit {
			break
		}
	}
	return items, nil
}

func (s *RedisStore) QueryIndex(ctx context.Context, index, pk string, opts QueryOptions) ([]Item, error) {
	gsiKey := s.indexKey(index, pk)
	members, err := s.scanLex(ctx, gsiKey, opts)
	if err != nil {
		return nil, &core.StoreError{Op: "kv.QueryIndex", Key: index + ":" + pk, Err: err}
	}

	items := make([]Item, 0, len(members))
	for _, member := range members {
		// Member layout: isk|primary_pk|primary_sk.
		parts := strings.SplitN(member, "|", 3)
		if len(parts) != 3 {
			s.client.ZRem(ctx, gsiKey, member)
			continue
		}
		item, err := s.Get(ctx, Key{PK: parts[1], SK: parts[2]})
		if err != nil {
			return nil, err
		}
		if item == nil {
			s.client.ZRem(ctx, gsiKey, member)
			continue
		}
		items = append(items, *item)
		if opts.Limit > 0 && len(items) >= opts.Limit {
			break
		}
	}
	return items, nil
}

func (s *RedisStore) Delete(ctx context.Context, key Key) error {
	item, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.itemKey(key))
	pipe.ZRem(ctx, s.partitionKey(key.PK), key.SK)
	if item != nil {
		for _, entry := range item.Indexes {
			pipe.ZRem(ctx, s.indexKey(entry.Index, entry.PK), entry.SK+"|"+key.PK+"|"+key.SK)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return &core.StoreError{Op: "kv.Delete", Key: key.String(), Err: err}
	}
	return nil
}

// watch runs the transaction with bounded optimistic retries.
func (s *RedisStore) watch(ctx context.Context, op string, key Key, txn func(*redis.Tx) error, keys ...string) error {
	var err error
	for i := 0; i < watchRetries; i++ {
		err = s.client.Watch(ctx, txn, keys...)
		if err != redis.TxFailedErr {
			return err
		}
		s.logger.Debug("Optimistic transaction conflict, retrying", map[string]interface{}{
			"operation": op,
			"key":       key.String(),
			"attempt":   i + 1,
		})
	}
	return &core.StoreError{Op: op, Key: key.String(), Err: err}
}

// writeItem stages the item write plus index maintenance on the pipeline.
// prev carries the previous version so superseded index members get removed.
func (s *RedisStore) writeItem(ctx context.Context, pipe redis.Pipeliner, key Key, itemKey, payload string, ttl time.Duration, indexes []IndexEntry, prev *persistedItem) {
	if ttl > 0 {
		pipe.Set(ctx, itemKey, payload, ttl)
	} else {
		pipe.Set(ctx, itemKey, payload, 0)
	}
	pipe.ZAdd(ctx, s.partitionKey(key.PK), &redis.Z{Score: 0, Member: key.SK})

	if prev != nil {
		for _, entry := range prev.Indexes {
			pipe.ZRem(ctx, s.indexKey(entry.Index, entry.PK), entry.SK+"|"+key.PK+"|"+key.SK)
		}
	}
	for _, entry := range indexes {
		pipe.ZAdd(ctx, s.indexKey(entry.Index, entry.PK), &redis.Z{Score: 0, Member: entry.SK + "|" + key.PK + "|" + key.SK})
	}
}

// scanLex reads sorted-set members in lexical sk order with prefix and
// cursor handling.
func (s *RedisStore) scanLex(ctx context.Context, zkey string, opts QueryOptions) ([]string, error) {
	min, max := "-", "+"
	if opts.SKPrefix != "" {
		min = "[" + opts.SKPrefix
		max = "[" + opts.SKPrefix + "\xff"
	}
	if opts.StartAfter != "" {
		if opts.Forward {
			min = "(" + opts.StartAfter
		} else {
			max = "(" + opts.StartAfter
		}
	}

	// Over-fetch to absorb stale entries that resolve to expired items.
	count := int64(0)
	if opts.Limit > 0 {
		count = int64(opts.Limit * 2)
	}
	rangeBy := &redis.ZRangeBy{Min: min, Max: max, Count: count}

	if opts.Forward {
		return s.client.ZRangeByLex(ctx, zkey, rangeBy).Result()
	}
	return s.client.ZRevRangeByLex(ctx, zkey, rangeBy).Result()
}

func readCurrent(ctx context.Context, tx *redis.Tx, itemKey string) (*Item, *persistedItem, error) {
	data, err := tx.Get(ctx, itemKey).Result()
	if err == redis.Nil {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	var p persistedItem
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, nil, err
	}
	item := &Item{Attributes: p.Attributes, Indexes: p.Indexes}
	if p.ExpiresAtMS > 0 {
		item.ExpiresAt = time.UnixMilli(p.ExpiresAtMS)
	}
	return item, &p, nil
}

func currentAttrs(item *Item) map[string]interface{} {
	if item == nil {
		return nil
	}
	return item.Attributes
}

func encodeItem(item Item) (string, time.Duration, error) {
	p := persistedItem{Attributes: item.Attributes, Indexes: item.Indexes}
	var ttl time.Duration
	if !item.ExpiresAt.IsZero() {
		p.ExpiresAtMS = item.ExpiresAt.UnixMilli()
		ttl = time.Until(item.ExpiresAt)
		if ttl <= 0 {
			ttl = time.Millisecond // already past; let Redis reap immediately
		}
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", 0, err
	}
	return string(data), ttl, nil
}

func decodeItem(key Key, data string) (*Item, error) {
	var p persistedItem
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, &core.StoreError{Op: "kv.Get", Key: key.String(), Err: err}
	}
	item := &Item{Key: key, Attributes: p.Attributes, Indexes: p.Indexes}
	if p.ExpiresAtMS > 0 {
		item.ExpiresAt = time.UnixMilli(p.ExpiresAtMS)
	}
	return item, nil
}

var _ Store = (*RedisStore)(nil)
