package config

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/pagefold/extract-cache/internal/keys"
)

// DefaultTypes are the cache types served when no manifest is
// configured.
var DefaultTypes = []string{"document", "ocr", "mime", "table"}

// TypeProfile declares one cache type and its policy overrides. Nil
// override fields inherit the global cache configuration; explicit
// zeroes disable the corresponding policy for this type.
type TypeProfile struct {
	Name       string `yaml:"name"`
	MaxSizeMB  *int64 `yaml:"max_size_mb"`
	MaxAgeDays *int   `yaml:"max_age_days"`
}

// TypesManifest is the parsed YAML manifest of cache types. When a
// manifest is present it replaces the default type set.
type TypesManifest struct {
	Types []TypeProfile `yaml:"types"`
}

// LoadTypes reads and validates a type manifest. Invalid entries are
// logged and excluded; the manifest only fails to load when it cannot
// be parsed or no valid type remains.
func LoadTypes(path string) (TypesManifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return TypesManifest{}, fmt.Errorf("failed to open type manifest: %w", err)
	}
	defer f.Close()

	return parseTypes(f)
}

func parseTypes(r io.Reader) (TypesManifest, error) {
	var manifest TypesManifest

	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&manifest); err != nil {
		return TypesManifest{}, fmt.Errorf("failed to parse type manifest: %w", err)
	}

	valid := make([]TypeProfile, 0, len(manifest.Types))
	seen := make(map[string]bool, len(manifest.Types))
	for _, profile := range manifest.Types {
		if err := validateProfile(profile, seen); err != nil {
			log.Warn().
				Err(err).
				Str("type", profile.Name).
				Msg("ignoring invalid cache type profile")
			continue
		}
		seen[profile.Name] = true
		valid = append(valid, profile)
	}

	if len(valid) == 0 {
		return TypesManifest{}, fmt.Errorf("type manifest declares no valid cache types")
	}

	manifest.Types = valid
	return manifest, nil
}

func validateProfile(profile TypeProfile, seen map[string]bool) error {
	if err := keys.Validate(profile.Name); err != nil {
		return fmt.Errorf("type name unusable as directory name: %w", err)
	}
	if seen[profile.Name] {
		return fmt.Errorf("duplicate cache type %q", profile.Name)
	}
	if profile.MaxSizeMB != nil && *profile.MaxSizeMB < 0 {
		return fmt.Errorf("max_size_mb must not be negative")
	}
	if profile.MaxAgeDays != nil && *profile.MaxAgeDays < 0 {
		return fmt.Errorf("max_age_days must not be negative")
	}
	return nil
}

// Names lists the declared type names in manifest order.
func (m TypesManifest) Names() []string {
	names := make([]string, len(m.Types))
	for i, profile := range m.Types {
		names[i] = profile.Name
	}
	return names
}

// Profile returns the declared profile for name.
func (m TypesManifest) Profile(name string) (TypeProfile, bool) {
	for _, profile := range m.Types {
		if profile.Name == name {
			return profile, true
		}
	}
	return TypeProfile{}, false
}

// EffectiveMaxSizeMB resolves the size quota for this type against the
// global value.
func (p TypeProfile) EffectiveMaxSizeMB(global int64) int64 {
	if p.MaxSizeMB != nil {
		return *p.MaxSizeMB
	}
	return global
}

// EffectiveMaxAgeDays resolves the age limit for this type against the
// global value.
func (p TypeProfile) EffectiveMaxAgeDays(global int) int {
	if p.MaxAgeDays != nil {
		return *p.MaxAgeDays
	}
	return global
}
