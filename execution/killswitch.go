package execution

import (
	"context"

	"github.com/praxisworks/actuator/core"
	"github.com/praxisworks/actuator/kv"
)

func tenantConfigKey(tenantID string) kv.Key {
	return kv.Key{PK: "TENANT#" + tenantID, SK: "CONFIG"}
}

// KillSwitch evaluates whether execution is enabled for a tenant and action
// type. Precedence: process-wide emergency stop, then the tenant's
// execution_enabled flag, then per-action-type disablement. A missing tenant
// config means enabled with nothing disabled.
type KillSwitch struct {
	store         kv.Store
	logger        core.Logger
	emergencyStop func() bool
}

// NewKillSwitch creates the policy. emergencyStop is read per call so the
// process-wide flag can flip without a restart; nil means never stopped.
func NewKillSwitch(store kv.Store, logger core.Logger, emergencyStop func() bool) *KillSwitch {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if emergencyStop == nil {
		emergencyStop = func() bool { return false }
	}
	return &KillSwitch{store: store, logger: logger, emergencyStop: emergencyStop}
}

// IsExecutionEnabled reports whether execution may proceed. The reason is
// non-empty only when execution is disabled.
func (k *KillSwitch) IsExecutionEnabled(ctx context.Context, tenantID, actionType string) (bool, string, error) {
	if k.emergencyStop() {
		return false, "emergency stop is active", nil
	}

	item, err := k.store.Get(ctx, tenantConfigKey(tenantID))
	if err != nil {
		return false, "", err
	}
	if item == nil {
		return true, "", nil
	}

	var cfg core.TenantConfig
	if err := kv.DecodeAttributes(item.Attributes, &cfg); err != nil {
		return false, "", err
	}
	if !cfg.ExecutionEnabled {
		return false, "execution disabled for tenant " + tenantID, nil
	}
	if actionType != "" {
		for _, disabled := range cfg.DisabledActionTypes {
			if disabled == actionType {
				return false, "action type " + actionType + " disabled for tenant " + tenantID, nil
			}
		}
	}
	return true, "", nil
}

// SetTenantConfig writes the tenant kill-switch configuration. Admin path.
func (k *KillSwitch) SetTenantConfig(ctx context.Context, cfg *core.TenantConfig) error {
	attrs, err := kv.EncodeAttributes(cfg)
	if err != nil {
		return err
	}
	item := kv.Item{Key: tenantConfigKey(cfg.TenantID), Attributes: attrs}
	if err := k.store.PutConditional(ctx, item, kv.Condition{}); err != nil {
		return err
	}
	k.logger.Info("Tenant kill-switch configuration updated", map[string]interface{}{
		"tenant_id":             cfg.TenantID,
		"execution_enabled":     cfg.ExecutionEnabled,
		"disabled_action_types": cfg.DisabledActionTypes,
	})
	return nil
}
