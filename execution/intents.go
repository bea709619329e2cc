// Package execution contains the durable execution state: the intent read
// path, the exactly-once attempt lock, the write-once outcome store, the
// kill-switch policy, and the state machine that drives one intent from
// Start to a terminal record.
package execution

import (
	"context"

	"github.com/praxisworks/actuator/core"
	"github.com/praxisworks/actuator/kv"
)

func tenantAccountPK(tenantID, accountID string) string {
	return "TENANT#" + tenantID + "#ACCOUNT#" + accountID
}

func intentKey(intentID, tenantID, accountID string) kv.Key {
	return kv.Key{PK: tenantAccountPK(tenantID, accountID), SK: "ACTION_INTENT#" + intentID}
}

// IntentStore reads action intents. Intents are produced by the upstream
// approval pipeline; this is the consumption contract. Put exists for seeds
// and tests.
type IntentStore struct {
	store kv.Store
}

// NewIntentStore creates an intent reader over the given store.
func NewIntentStore(store kv.Store) *IntentStore {
	return &IntentStore{store: store}
}

// Get returns the intent, or nil when absent.
func (s *IntentStore) Get(ctx context.Context, intentID, tenantID, accountID string) (*core.ActionIntent, error) {
	item, err := s.store.Get(ctx, intentKey(intentID, tenantID, accountID))
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, nil
	}
	var intent core.ActionIntent
	if err := kv.DecodeAttributes(item.Attributes, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

// Put writes an intent with a create-if-absent guard; intents are immutable
// inputs and never overwritten.
func (s *IntentStore) Put(ctx context.Context, intent *core.ActionIntent) error {
	attrs, err := kv.EncodeAttributes(intent)
	if err != nil {
		return err
	}
	item := kv.Item{
		Key:        intentKey(intent.ID, intent.TenantID, intent.AccountID),
		Attributes: attrs,
	}
	return s.store.PutConditional(ctx, item, kv.NotExists())
}
