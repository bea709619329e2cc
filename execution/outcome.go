package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/praxisworks/actuator/core"
	"github.com/praxisworks/actuator/kv"
)

// Secondary index names for outcomes.
const (
	indexOutcomeByIntent = "outcome_by_intent"
	indexOutcomeByTenant = "outcome_by_tenant"
)

// defaultOutcomeRetention keeps terminal records for 90 days.
const defaultOutcomeRetention = 90 * 24 * time.Hour

func outcomeKey(intentID, tenantID, accountID string) kv.Key {
	return kv.Key{PK: tenantAccountPK(tenantID, accountID), SK: "OUTCOME#" + intentID}
}

// OutcomeStore persists the write-once terminal record per intent.
type OutcomeStore struct {
	store     kv.Store
	logger    core.Logger
	retention time.Duration
}

// NewOutcomeStore creates the outcome store. Retention defaults to 90 days.
func NewOutcomeStore(store kv.Store, logger core.Logger, retention time.Duration) *OutcomeStore {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if retention <= 0 {
		retention = defaultOutcomeRetention
	}
	return &OutcomeStore{store: store, logger: logger, retention: retention}
}

// Record writes the outcome with a create-if-absent guard. A second Record
// call returns the existing record: the caller cannot tell whether it
// created or rediscovered the outcome, which is the idempotency the
// pipeline leans on. A record vanishing between the failed create and the
// re-read surfaces as ErrRaceCondition.
func (s *OutcomeStore) Record(ctx context.Context, outcome *core.ActionOutcome) (*core.ActionOutcome, error) {
	if outcome.CompletedAt.IsZero() {
		outcome.CompletedAt = time.Now().UTC()
	}
	expires := outcome.CompletedAt.Add(s.retention)

	attrs, err := kv.EncodeAttributes(outcome)
	if err != nil {
		return nil, err
	}
	key := outcomeKey(outcome.IntentID, outcome.TenantID, outcome.AccountID)
	completedSK := "COMPLETED_AT#" + outcome.CompletedAt.UTC().Format(time.RFC3339Nano)
	item := kv.Item{
		Key:        key,
		Attributes: attrs,
		ExpiresAt:  expires,
		Indexes: []kv.IndexEntry{
			{Index: indexOutcomeByIntent, PK: "ACTION_INTENT#" + outcome.IntentID, SK: completedSK},
			{Index: indexOutcomeByTenant, PK: "TENANT#" + outcome.TenantID, SK: completedSK},
		},
	}

	err = s.store.PutConditional(ctx, item, kv.NotExists())
	if err == nil {
		return outcome, nil
	}
	if !core.IsConditionFailed(err) {
		return nil, err
	}

	existing, err := s.Get(ctx, outcome.IntentID, outcome.TenantID, outcome.AccountID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("outcome for %s: %w", outcome.IntentID, core.ErrRaceCondition)
	}
	return existing, nil
}

// Get returns the outcome for an intent, or nil when absent.
func (s *OutcomeStore) Get(ctx context.Context, intentID, tenantID, accountID string) (*core.ActionOutcome, error) {
	item, err := s.store.Get(ctx, outcomeKey(intentID, tenantID, accountID))
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, nil
	}
	return decodeOutcome(item)
}

// List pages through an account's outcomes. nextToken is the opaque cursor
// from a previous call; the second return value is the cursor for the next
// page, empty when exhausted.
func (s *OutcomeStore) List(ctx context.Context, tenantID, accountID string, limit int, nextToken string) ([]core.ActionOutcome, string, error) {
	if limit <= 0 {
		limit = 50
	}
	items, err := s.store.Query(ctx, tenantAccountPK(tenantID, accountID), kv.QueryOptions{
		SKPrefix:   "OUTCOME#",
		Forward:    false,
		Limit:      limit,
		StartAfter: nextToken,
	})
	if err != nil {
		return nil, "", err
	}

	outcomes := make([]core.ActionOutcome, 0, len(items))
	for _, item := range items {
		outcome, err := decodeOutcome(&item)
		if err != nil {
			return nil, "", err
		}
		outcomes = append(outcomes, *outcome)
	}

	token := ""
	if len(items) == limit {
		token = items[len(items)-1].SK
	}
	return outcomes, token, nil
}

// ListByTenant returns a tenant's outcomes ordered by completion time,
// newest first, via the tenant secondary index.
func (s *OutcomeStore) ListByTenant(ctx context.Context, tenantID string, limit int) ([]core.ActionOutcome, error) {
	items, err := s.store.QueryIndex(ctx, indexOutcomeByTenant, "TENANT#"+tenantID, kv.QueryOptions{
		SKPrefix: "COMPLETED_AT#",
		Forward:  false,
		Limit:    limit,
	})
	if err != nil {
		return nil, err
	}
	outcomes := make([]core.ActionOutcome, 0, len(items))
	for _, item := range items {
		outcome, err := decodeOutcome(&item)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, *outcome)
	}
	return outcomes, nil
}

// GetByIntent resolves an outcome through the intent secondary index,
// without knowing the tenant partition.
func (s *OutcomeStore) GetByIntent(ctx context.Context, intentID string) (*core.ActionOutcome, error) {
	items, err := s.store.QueryIndex(ctx, indexOutcomeByIntent, "ACTION_INTENT#"+intentID, kv.QueryOptions{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return decodeOutcome(&items[0])
}

func decodeOutcome(item *kv.Item) (*core.ActionOutcome, error) {
	var outcome core.ActionOutcome
	if err := kv.DecodeAttributes(item.Attributes, &outcome); err != nil {
		return nil, err
	}
	return &outcome, nil
}
