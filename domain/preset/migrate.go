package preset

import (
	"github.com/blang/semver"
	jsoniter "github.com/json-iterator/go"

	pkgerrors "github.com/threatcanvas/core/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// transform is a pure per-version-pair migration over the raw document form
type transform func(raw map[string]interface{}) map[string]interface{}

// step migrates a preset from one schema version to the next
type step struct {
	from      semver.Version
	to        semver.Version
	transform transform
}

// Migrator upgrades presets declared against older schema versions to the
// current one. The chain is registered once at construction and never
// mutated; each step is a pure transform, so chained paths compose with
// direct ones.
type Migrator struct {
	steps     []step
	current   semver.Version
	validator *Validator
}

// NewMigrator creates a migrator with the built-in migration chain
func NewMigrator() *Migrator {
	m := &Migrator{
		current:   semver.MustParse(CurrentVersion),
		validator: NewValidator(),
	}

	m.register("1.0.0", "1.1.0", migrateLinksToRelationships)
	m.register("1.1.0", "2.0.0", migratePropertyShorthand)

	return m
}

func (m *Migrator) register(from, to string, t transform) {
	m.steps = append(m.steps, step{
		from:      semver.MustParse(from),
		to:        semver.MustParse(to),
		transform: t,
	})
}

// Migrate parses a raw preset document, reads its declared version, applies
// the migration chain up to the current version, and validates the result.
// An undeclared or unreachable version fails with ErrUnsupportedVersion.
func (m *Migrator) Migrate(raw []byte) (*Preset, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, pkgerrors.ErrParse.WithCause(err)
	}

	declared, _ := doc["version"].(string)
	if declared == "" {
		return nil, pkgerrors.ErrUnsupportedVersion.WithMessage("preset declares no version")
	}

	version, err := semver.Parse(declared)
	if err != nil {
		return nil, pkgerrors.ErrUnsupportedVersion.
			WithMessage("preset version %q is not a semantic version", declared).
			WithCause(err)
	}

	migrated, err := m.apply(doc, version)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(migrated)
	if err != nil {
		return nil, pkgerrors.ErrParse.WithCause(err)
	}

	var p Preset
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, pkgerrors.ErrParse.WithCause(err)
	}

	return m.validator.Validate(&p)
}

// apply walks the chain from the declared version to the current one
func (m *Migrator) apply(doc map[string]interface{}, from semver.Version) (map[string]interface{}, error) {
	if from.EQ(m.current) {
		return doc, nil
	}
	if from.GT(m.current) {
		return nil, pkgerrors.ErrUnsupportedVersion.
			WithMessage("preset version %s is newer than the supported %s", from, m.current).
			WithDetail("declared", from.String())
	}

	version := from
	for !version.EQ(m.current) {
		next, ok := m.next(version)
		if !ok {
			return nil, pkgerrors.ErrUnsupportedVersion.
				WithMessage("no migration path from version %s", version).
				WithDetail("declared", from.String()).
				WithDetail("stuck_at", version.String())
		}

		doc = next.transform(doc)
		doc["version"] = next.to.String()
		version = next.to
	}

	return doc, nil
}

func (m *Migrator) next(from semver.Version) (*step, bool) {
	for i := range m.steps {
		if m.steps[i].from.EQ(from) {
			return &m.steps[i], true
		}
	}
	return nil, false
}

// Supported reports whether a declared version has a path to the current one
func (m *Migrator) Supported(declared string) bool {
	version, err := semver.Parse(declared)
	if err != nil {
		return false
	}
	for !version.EQ(m.current) {
		next, ok := m.next(version)
		if !ok {
			return false
		}
		version = next.to
	}
	return true
}

// migrateLinksToRelationships upgrades 1.0.0 presets, which declared edges as
// a flat "links" list with single "from"/"to" endpoints and no multiplicity,
// to the 1.1.0 "relationships" shape.
func migrateLinksToRelationships(raw map[string]interface{}) map[string]interface{} {
	links, ok := raw["links"].([]interface{})
	if !ok {
		return raw
	}

	relationships := make([]interface{}, 0, len(links))
	for _, item := range links {
		link, ok := item.(map[string]interface{})
		if !ok {
			continue
		}

		rel := map[string]interface{}{
			"id":           link["id"],
			"name":         link["name"],
			"multiplicity": string(ManyToMany),
			"directed":     true,
		}
		if from, ok := link["from"].(string); ok {
			rel["sourceTypes"] = []interface{}{from}
		}
		if to, ok := link["to"].(string); ok {
			rel["targetTypes"] = []interface{}{to}
		}
		relationships = append(relationships, rel)
	}

	delete(raw, "links")
	raw["relationships"] = relationships
	return raw
}

// migratePropertyShorthand upgrades 1.1.0 presets, which allowed node type
// properties to be bare name strings, to the explicit object form.
func migratePropertyShorthand(raw map[string]interface{}) map[string]interface{} {
	nodeTypes, ok := raw["nodeTypes"].([]interface{})
	if !ok {
		return raw
	}

	for _, item := range nodeTypes {
		nt, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		props, ok := nt["properties"].([]interface{})
		if !ok {
			continue
		}

		expanded := make([]interface{}, 0, len(props))
		for _, prop := range props {
			if name, ok := prop.(string); ok {
				expanded = append(expanded, map[string]interface{}{
					"name":     name,
					"type":     string(PropertyString),
					"required": false,
				})
				continue
			}
			expanded = append(expanded, prop)
		}
		nt["properties"] = expanded
	}

	return raw
}
