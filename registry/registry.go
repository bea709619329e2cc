// Package registry implements the versioned action-type registry: the
// deterministic mapping from (action_type, registry_version) to a tool
// descriptor and its parameter transforms. Entries are immutable once
// written; "latest" always means highest numeric version, never newest
// wall-clock.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/praxisworks/actuator/core"
	"github.com/praxisworks/actuator/kv"
)

// Transform is a parameter value transform applied during mapping.
type Transform string

const (
	TransformPassthrough Transform = "PASSTHROUGH"
	TransformUppercase   Transform = "UPPERCASE"
	TransformLowercase   Transform = "LOWERCASE"
)

// FieldMapping maps one intent parameter to a tool argument.
type FieldMapping struct {
	Target    string    `json:"target" yaml:"target"`
	Transform Transform `json:"transform" yaml:"transform"`
	Required  bool      `json:"required" yaml:"required"`
}

// Entry is one immutable registry row.
type Entry struct {
	ActionType           string                    `json:"action_type" yaml:"action_type"`
	RegistryVersion      int64                     `json:"registry_version" yaml:"registry_version"`
	ToolName             string                    `json:"tool_name" yaml:"tool_name"`
	ToolSchemaVersion    string                    `json:"tool_schema_version" yaml:"tool_schema_version"`
	RequiredScopes       []string                  `json:"required_scopes,omitempty" yaml:"required_scopes"`
	RiskClass            core.RiskClass            `json:"risk_class" yaml:"risk_class"`
	CompensationStrategy core.CompensationStrategy `json:"compensation_strategy" yaml:"compensation_strategy"`
	ParameterMapping     map[string]FieldMapping   `json:"parameter_mapping" yaml:"parameter_mapping"`
}

// Registry reads and writes entries over the KV store.
type Registry struct {
	store  kv.Store
	logger core.Logger
}

// New creates a registry over the given store.
func New(store kv.Store, logger core.Logger) *Registry {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Registry{store: store, logger: logger}
}

const versionPrefix = "REGISTRY_VERSION#"

func entryKey(actionType string, version int64) kv.Key {
	return kv.Key{
		PK: "ACTION_TYPE#" + actionType,
		SK: versionPrefix + strconv.FormatInt(version, 10),
	}
}

// GetMapping returns the entry for (actionType, version). When version is
// nil the partition is scanned and the entry with the numerically greatest
// valid version wins; items with a missing or unparsable version are
// discarded. Returns nil when no entry exists.
func (r *Registry) GetMapping(ctx context.Context, actionType string, version *int64) (*Entry, error) {
	if version != nil {
		item, err := r.store.Get(ctx, entryKey(actionType, *version))
		if err != nil {
			return nil, err
		}
		if item == nil {
			return nil, nil
		}
		return decodeEntry(item)
	}

	items, err := r.store.Query(ctx, "ACTION_TYPE#"+actionType, kv.QueryOptions{SKPrefix: versionPrefix, Forward: true})
	if err != nil {
		return nil, err
	}

	type versioned struct {
		version int64
		item    kv.Item
	}
	var candidates []versioned
	for _, item := range items {
		v, ok := parseVersion(item.SK)
		if !ok {
			r.logger.Warn("Discarding registry item with invalid version", map[string]interface{}{
				"action_type": actionType,
				"sk":          item.SK,
			})
			continue
		}
		candidates = append(candidates, versioned{version: v, item: item})
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].version > candidates[j].version })
	return decodeEntry(&candidates[0].item)
}

// Register writes a new entry, auto-assigning registry_version = max+1 (1
// when the partition is empty). Creation is conditional on absence so a
// concurrent registration of the same version loses cleanly; the caller may
// retry to pick up the next number.
func (r *Registry) Register(ctx context.Context, entry Entry) (*Entry, error) {
	if entry.ActionType == "" || entry.ToolName == "" {
		return nil, core.NewValidationError(core.CodeInvalidEnvelope, "action_type and tool_name are required")
	}

	latest, err := r.GetMapping(ctx, entry.ActionType, nil)
	if err != nil {
		return nil, err
	}
	next := int64(1)
	if latest != nil {
		next = latest.RegistryVersion + 1
	}
	entry.RegistryVersion = next

	attrs, err := kv.EncodeAttributes(entry)
	if err != nil {
		return nil, err
	}
	item := kv.Item{Key: entryKey(entry.ActionType, next), Attributes: attrs}
	if err := r.store.PutConditional(ctx, item, kv.NotExists()); err != nil {
		if core.IsConditionFailed(err) {
			return nil, fmt.Errorf("registry version %d for %s: %w", next, entry.ActionType, core.ErrMappingAlreadyExists)
		}
		return nil, err
	}

	r.logger.Info("Registered action type mapping", map[string]interface{}{
		"action_type":      entry.ActionType,
		"registry_version": next,
		"tool_name":        entry.ToolName,
	})
	return &entry, nil
}

// MapParameters applies the entry's parameter mapping to intent parameters,
// producing the tool arguments. Missing required source fields fail with a
// validation error; extra source fields are dropped.
func MapParameters(entry *Entry, params map[string]interface{}) (map[string]interface{}, error) {
	args := make(map[string]interface{}, len(entry.ParameterMapping))
	for source, mapping := range entry.ParameterMapping {
		value, present := params[source]
		if !present || value == nil {
			if mapping.Required {
				return nil, core.NewValidationError(core.CodeMissingRequiredField,
					"required parameter %q missing for action type %s", source, entry.ActionType)
			}
			continue
		}

		target := mapping.Target
		if target == "" {
			target = source
		}
		switch mapping.Transform {
		case TransformUppercase:
			args[target] = strings.ToUpper(stringify(value))
		case TransformLowercase:
			args[target] = strings.ToLower(stringify(value))
		default: // PASSTHROUGH and unrecognized transforms copy unchanged
			args[target] = value
		}
	}
	return args, nil
}

func parseVersion(sk string) (int64, bool) {
	raw := strings.TrimPrefix(sk, versionPrefix)
	if raw == sk || raw == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

func stringify(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func decodeEntry(item *kv.Item) (*Entry, error) {
	var e Entry
	if err := kv.DecodeAttributes(item.Attributes, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
