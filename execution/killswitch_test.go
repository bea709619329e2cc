package execution

import (
	"context"
	"testing"

	"github.com/praxisworks/actuator/core"
	"github.com/praxisworks/actuator/kv"
)

func TestKillSwitchDefaultsEnabled(t *testing.T) {
	k := NewKillSwitch(kv.NewMemoryStore(), &core.NoOpLogger{}, nil)
	enabled, reason, err := k.IsExecutionEnabled(context.Background(), "t1", "CREATE_INTERNAL_TASK")
	if err != nil {
		t.Fatalf("IsExecutionEnabled failed: %v", err)
	}
	if !enabled || reason != "" {
		t.Errorf("missing config should mean enabled, got (%v, %q)", enabled, reason)
	}
}

func TestKillSwitchEmergencyStop(t *testing.T) {
	k := NewKillSwitch(kv.NewMemoryStore(), &core.NoOpLogger{}, func() bool { return true })
	enabled, reason, err := k.IsExecutionEnabled(context.Background(), "t1", "")
	if err != nil {
		t.Fatalf("IsExecutionEnabled failed: %v", err)
	}
	if enabled {
		t.Error("emergency stop must disable execution")
	}
	if reason == "" {
		t.Error("disabled result must carry a reason")
	}
}

func TestKillSwitchEmergencyStopReadPerCall(t *testing.T) {
	stop := false
	k := NewKillSwitch(kv.NewMemoryStore(), &core.NoOpLogger{}, func() bool { return stop })
	ctx := context.Background()

	enabled, _, err := k.IsExecutionEnabled(ctx, "t1", "")
	if err != nil {
		t.Fatalf("IsExecutionEnabled failed: %v", err)
	}
	if !enabled {
		t.Fatal("execution must be enabled before the flag flips")
	}

	stop = true
	enabled, _, err = k.IsExecutionEnabled(ctx, "t1", "")
	if err != nil {
		t.Fatalf("IsExecutionEnabled failed: %v", err)
	}
	if enabled {
		t.Error("a flipped flag must disable execution without a restart")
	}

	stop = false
	enabled, _, err = k.IsExecutionEnabled(ctx, "t1", "")
	if err != nil {
		t.Fatalf("IsExecutionEnabled failed: %v", err)
	}
	if !enabled {
		t.Error("clearing the flag must re-enable execution")
	}
}

func TestKillSwitchTenantDisabled(t *testing.T) {
	store := kv.NewMemoryStore()
	k := NewKillSwitch(store, &core.NoOpLogger{}, nil)
	ctx := context.Background()

	err := k.SetTenantConfig(ctx, &core.TenantConfig{TenantID: "t1", ExecutionEnabled: false})
	if err != nil {
		t.Fatalf("SetTenantConfig failed: %v", err)
	}

	enabled, _, err := k.IsExecutionEnabled(ctx, "t1", "CREATE_INTERNAL_TASK")
	if err != nil {
		t.Fatalf("IsExecutionEnabled failed: %v", err)
	}
	if enabled {
		t.Error("tenant flag must disable execution")
	}

	// Other tenants are unaffected.
	enabled, _, err = k.IsExecutionEnabled(ctx, "t2", "CREATE_INTERNAL_TASK")
	if err != nil {
		t.Fatalf("IsExecutionEnabled failed: %v", err)
	}
	if !enabled {
		t.Error("other tenants must stay enabled")
	}
}

func TestKillSwitchActionTypeDisabled(t *testing.T) {
	k := NewKillSwitch(kv.NewMemoryStore(), &core.NoOpLogger{}, nil)
	ctx := context.Background()

	err := k.SetTenantConfig(ctx, &core.TenantConfig{
		TenantID:            "t1",
		ExecutionEnabled:    true,
		DisabledActionTypes: []string{"CREATE_CRM_TASK"},
	})
	if err != nil {
		t.Fatalf("SetTenantConfig failed: %v", err)
	}

	enabled, _, err := k.IsExecutionEnabled(ctx, "t1", "CREATE_CRM_TASK")
	if err != nil {
		t.Fatalf("IsExecutionEnabled failed: %v", err)
	}
	if enabled {
		t.Error("disabled action type must be blocked")
	}

	enabled, _, err = k.IsExecutionEnabled(ctx, "t1", "CREATE_INTERNAL_TASK")
	if err != nil {
		t.Fatalf("IsExecutionEnabled failed: %v", err)
	}
	if !enabled {
		t.Error("other action types must stay enabled")
	}
}
