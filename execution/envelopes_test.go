package execution

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/praxisworks/actuator/core"
)

func TestDecodeStrictRejectsUnknownFields(t *testing.T) {
	var in StartInput
	err := DecodeStrict([]byte(`{"action_intent_id":"ai_1","tenant_id":"t1","account_id":"a1","surprise":1}`), &in)
	var ve *core.ValidationError
	if !errors.As(err, &ve) || ve.Code != core.CodeInvalidEnvelope {
		t.Fatalf("error = %v, want INVALID_ENVELOPE", err)
	}
}

func TestDecodeStrictAccepts(t *testing.T) {
	var in StartInput
	err := DecodeStrict([]byte(`{"action_intent_id":"ai_1","tenant_id":"t1","account_id":"a1","allow_rerun":true}`), &in)
	if err != nil {
		t.Fatalf("DecodeStrict failed: %v", err)
	}
	if in.ActionIntentID != "ai_1" || !in.AllowRerun {
		t.Errorf("decoded = %+v", in)
	}
}

func TestDecodeLenientToleratesExtraFields(t *testing.T) {
	var in RecordInput
	payload := `{
		"action_intent_id": "ai_1",
		"tool_name": "internal.create_task",
		"response": {"success": true, "tool_run_ref": "run_1"},
		"orchestrator_internal_state": {"step": 4}
	}`
	if err := DecodeLenient([]byte(payload), &in); err != nil {
		t.Fatalf("DecodeLenient failed: %v", err)
	}
	if !in.Response.Success || in.Response.ToolRunRef != "run_1" {
		t.Errorf("response = %+v", in.Response)
	}
}

func TestFlexBoolCoercion(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		set     bool
		value   bool
		wantErr bool
	}{
		{"null is unset", `null`, false, false, false},
		{"empty string is unset", `""`, false, false, false},
		{"true literal", `true`, true, true, false},
		{"false literal", `false`, true, false, false},
		{"true string coerces", `"true"`, true, true, false},
		{"false string coerces", `"false"`, true, false, false},
		{"garbage string is unset", `"maybe"`, false, false, false},
		{"number rejects", `1`, false, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var f FlexBool
			err := json.Unmarshal([]byte(tt.raw), &f)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if f.Set != tt.set || f.Value != tt.value {
				t.Errorf("FlexBool = %+v, want set=%v value=%v", f, tt.set, tt.value)
			}
		})
	}
}

func TestFlexBoolMarshal(t *testing.T) {
	raw, err := json.Marshal(FlexBool{})
	if err != nil || string(raw) != "null" {
		t.Errorf("unset marshals to %s (%v), want null", raw, err)
	}
	raw, err = json.Marshal(FlexBool{Set: true, Value: true})
	if err != nil || string(raw) != "true" {
		t.Errorf("set marshals to %s (%v), want true", raw, err)
	}
}

func TestValidateToolArgumentsBoundary(t *testing.T) {
	// {"payload":"<filler>"} adds 14 bytes of framing around the filler.
	under := map[string]interface{}{"payload": strings.Repeat("a", 199*1024)}
	if err := validateToolArguments(under); err != nil {
		t.Errorf("199KB payload should pass, got %v", err)
	}

	over := map[string]interface{}{"payload": strings.Repeat("a", 201*1024)}
	err := validateToolArguments(over)
	var ve *core.ValidationError
	if !errors.As(err, &ve) || ve.Code != core.CodeArgumentsTooLarge {
		t.Errorf("201KB payload error = %v, want TOOL_ARGUMENTS_TOO_LARGE", err)
	}
}

func TestNormalizedApprovalSource(t *testing.T) {
	tests := []struct {
		raw  string
		want core.ApprovalSource
	}{
		{"HUMAN", core.ApprovalHuman},
		{"POLICY", core.ApprovalPolicy},
		{"", ""},
		{"ROBOT", ""},
	}
	for _, tt := range tests {
		v := &ValidateInput{ApprovalSource: tt.raw}
		if got := v.NormalizedApprovalSource(); got != tt.want {
			t.Errorf("NormalizedApprovalSource(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}
