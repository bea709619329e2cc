package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/praxisworks/actuator/core"
	"github.com/praxisworks/actuator/kv"
)

func newTestRegistry() *Registry {
	return New(kv.NewMemoryStore(), &core.NoOpLogger{})
}

func crmEntry() Entry {
	return Entry{
		ActionType:           "CREATE_CRM_TASK",
		ToolName:             "crm.create_task",
		ToolSchemaVersion:    "v1",
		RiskClass:            core.RiskMedium,
		CompensationStrategy: core.CompensationManual,
		ParameterMapping: map[string]FieldMapping{
			"title": {Transform: TransformPassthrough, Required: true},
		},
	}
}

func TestRegisterAssignsVersions(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	first, err := r.Register(ctx, crmEntry())
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if first.RegistryVersion != 1 {
		t.Errorf("first version = %d, want 1", first.RegistryVersion)
	}

	second, err := r.Register(ctx, crmEntry())
	if err != nil {
		t.Fatalf("second Register failed: %v", err)
	}
	if second.RegistryVersion != 2 {
		t.Errorf("second version = %d, want 2", second.RegistryVersion)
	}
}

func TestGetMappingLatestVersionWins(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	if _, err := r.Register(ctx, crmEntry()); err != nil {
		t.Fatalf("Register v1 failed: %v", err)
	}
	v2 := crmEntry()
	v2.ToolSchemaVersion = "v2"
	if _, err := r.Register(ctx, v2); err != nil {
		t.Fatalf("Register v2 failed: %v", err)
	}

	latest, err := r.GetMapping(ctx, "CREATE_CRM_TASK", nil)
	if err != nil {
		t.Fatalf("GetMapping latest failed: %v", err)
	}
	if latest == nil || latest.RegistryVersion != 2 {
		t.Fatalf("latest = %+v, want version 2", latest)
	}
	if latest.ToolSchemaVersion != "v2" {
		t.Errorf("latest schema = %s, want v2", latest.ToolSchemaVersion)
	}

	one := int64(1)
	pinned, err := r.GetMapping(ctx, "CREATE_CRM_TASK", &one)
	if err != nil {
		t.Fatalf("GetMapping pinned failed: %v", err)
	}
	if pinned == nil || pinned.RegistryVersion != 1 {
		t.Fatalf("pinned = %+v, want version 1", pinned)
	}
}

func TestGetMappingMissing(t *testing.T) {
	r := newTestRegistry()
	entry, err := r.GetMapping(context.Background(), "NO_SUCH_TYPE", nil)
	if err != nil {
		t.Fatalf("GetMapping failed: %v", err)
	}
	if entry != nil {
		t.Errorf("GetMapping for unknown type = %+v, want nil", entry)
	}
}

func TestGetMappingNumericNotLexicographic(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	// Versions 1..10: lexicographic ordering would pick 9 as latest.
	for i := 0; i < 10; i++ {
		if _, err := r.Register(ctx, crmEntry()); err != nil {
			t.Fatalf("Register %d failed: %v", i+1, err)
		}
	}

	latest, err := r.GetMapping(ctx, "CREATE_CRM_TASK", nil)
	if err != nil {
		t.Fatalf("GetMapping failed: %v", err)
	}
	if latest == nil || latest.RegistryVersion != 10 {
		t.Errorf("latest = %+v, want version 10", latest)
	}
}

func TestMapParameters(t *testing.T) {
	entry := &Entry{
		ParameterMapping: map[string]FieldMapping{
			"title":    {Transform: TransformPassthrough, Required: true},
			"owner":    {Target: "assignee", Transform: TransformLowercase},
			"priority": {Transform: TransformUppercase},
		},
	}

	tests := []struct {
		name    string
		params  map[string]interface{}
		want    map[string]interface{}
		wantErr bool
	}{
		{
			name:   "transforms applied",
			params: map[string]interface{}{"title": "Fix it", "owner": "ALICE", "priority": "high", "extra": "dropped"},
			want:   map[string]interface{}{"title": "Fix it", "assignee": "alice", "priority": "HIGH"},
		},
		{
			name:   "optional fields absent",
			params: map[string]interface{}{"title": "Fix it"},
			want:   map[string]interface{}{"title": "Fix it"},
		},
		{
			name:    "required missing",
			params:  map[string]interface{}{"owner": "alice"},
			wantErr: true,
		},
		{
			name:    "required nil",
			params:  map[string]interface{}{"title": nil},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MapParameters(entry, tt.params)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				var ve *core.ValidationError
				if !errors.As(err, &ve) || ve.Code != core.CodeMissingRequiredField {
					t.Errorf("error = %v, want MISSING_REQUIRED_FIELD validation error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("MapParameters failed: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d fields %v, want %d", len(got), got, len(tt.want))
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("field %s = %v, want %v", k, got[k], v)
				}
			}
		})
	}
}

func TestGetMappingSkipsInvalidVersionKeys(t *testing.T) {
	store := kv.NewMemoryStore()
	r := New(store, &core.NoOpLogger{})
	ctx := context.Background()

	if _, err := r.Register(ctx, crmEntry()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	// A corrupt sort key must not win latest-version selection.
	err := store.PutConditional(ctx, kv.Item{
		Key:        kv.Key{PK: "ACTION_TYPE#CREATE_CRM_TASK", SK: "REGISTRY_VERSION#garbage"},
		Attributes: map[string]interface{}{"tool_name": "bogus"},
	}, kv.NotExists())
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	latest, err := r.GetMapping(ctx, "CREATE_CRM_TASK", nil)
	if err != nil {
		t.Fatalf("GetMapping failed: %v", err)
	}
	if latest == nil || latest.RegistryVersion != 1 {
		t.Errorf("latest = %+v, want the valid version 1", latest)
	}
}
