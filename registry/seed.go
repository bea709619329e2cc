package registry

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// SeedFile is the YAML shape for admin bootstrap of registry mappings.
// Versions are never listed in seeds; the registry assigns them.
type SeedFile struct {
	Mappings []Entry `yaml:"mappings"`
}

// LoadSeedFile reads mappings from a YAML file and registers each one.
// Registration is skipped when the latest entry for the action type already
// carries the same tool descriptor, so repeated seeding is safe.
func (r *Registry) LoadSeedFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	return r.LoadSeed(ctx, f)
}

// LoadSeed registers mappings read from YAML.
func (r *Registry) LoadSeed(ctx context.Context, src io.Reader) error {
	var seed SeedFile
	if err := yaml.NewDecoder(src).Decode(&seed); err != nil {
		return fmt.Errorf("decode seed: %w", err)
	}

	for _, entry := range seed.Mappings {
		latest, err := r.GetMapping(ctx, entry.ActionType, nil)
		if err != nil {
			return err
		}
		if latest != nil && sameDescriptor(latest, &entry) {
			r.logger.Debug("Seed mapping unchanged, skipping", map[string]interface{}{
				"action_type":      entry.ActionType,
				"registry_version": latest.RegistryVersion,
			})
			continue
		}
		if _, err := r.Register(ctx, entry); err != nil {
			return fmt.Errorf("seed %s: %w", entry.ActionType, err)
		}
	}
	return nil
}

// sameDescriptor compares everything but the assigned version.
func sameDescriptor(a, b *Entry) bool {
	if a.ToolName != b.ToolName ||
		a.ToolSchemaVersion != b.ToolSchemaVersion ||
		a.RiskClass != b.RiskClass ||
		a.CompensationStrategy != b.CompensationStrategy ||
		len(a.RequiredScopes) != len(b.RequiredScopes) ||
		len(a.ParameterMapping) != len(b.ParameterMapping) {
		return false
	}
	for i, scope := range a.RequiredScopes {
		if b.RequiredScopes[i] != scope {
			return false
		}
	}
	for source, mapping := range a.ParameterMapping {
		if b.ParameterMapping[source] != mapping {
			return false
		}
	}
	return true
}
