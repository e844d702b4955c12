package preset

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	pkgerrors "github.com/threatcanvas/core/pkg/errors"
)

var (
	idPattern    = regexp.MustCompile(`^[a-z0-9-]+$`)
	colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
)

// Validator checks preset candidates against the schema's structural and
// cross-field rules. Every violation is collected rather than returned on
// first failure, so callers can present one complete report.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a validator with the preset-specific rules registered
func NewValidator() *Validator {
	v := validator.New()

	// Registration cannot fail for plain func validators; errors here would
	// indicate a programming mistake, not bad input.
	_ = v.RegisterValidation("preset_id", func(fl validator.FieldLevel) bool {
		return idPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("hex_color", func(fl validator.FieldLevel) bool {
		return colorPattern.MatchString(fl.Field().String())
	})

	return &Validator{validate: v}
}

// Validate checks a candidate preset and returns it unchanged on success.
// On failure the returned error is a *pkgerrors.ValidationErrors holding
// every violation found.
func (v *Validator) Validate(candidate *Preset) (*Preset, error) {
	if candidate == nil {
		verrs := pkgerrors.NewValidationErrors()
		verrs.Add("preset", "preset is nil")
		return nil, verrs
	}

	verrs := pkgerrors.NewValidationErrors()

	v.structural(candidate, verrs)
	v.crossField(candidate, verrs)

	if verrs.HasErrors() {
		return nil, verrs
	}
	return candidate, nil
}

// structural runs the tag-driven checks and translates field errors into the
// collected form
func (v *Validator) structural(p *Preset, verrs *pkgerrors.ValidationErrors) {
	err := v.validate.Struct(p)
	if err == nil {
		return
	}

	fieldErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		verrs.Add("preset", err.Error())
		return
	}

	for _, fe := range fieldErrors {
		verrs.Add(fieldPath(fe), fieldMessage(fe))
	}
}

// crossField checks the references between preset sections that struct tags
// cannot express
func (v *Validator) crossField(p *Preset, verrs *pkgerrors.ValidationErrors) {
	declaredNodeTypes := make(map[string]bool, len(p.NodeTypes))
	declaredClasses := make(map[string]bool)
	for i, nt := range p.NodeTypes {
		if declaredNodeTypes[nt.ID] {
			verrs.Addf(fmt.Sprintf("nodeTypes[%d].id", i), "duplicate node type id %q", nt.ID)
		}
		declaredNodeTypes[nt.ID] = true
		declaredClasses[nt.ID] = true
		if nt.Class != "" {
			declaredClasses[nt.Class] = true
		}
	}

	declaredRelationships := make(map[string]bool, len(p.Relationships))
	for i, rel := range p.Relationships {
		path := fmt.Sprintf("relationships[%d]", i)

		if declaredRelationships[rel.ID] {
			verrs.Addf(path+".id", "duplicate relationship id %q", rel.ID)
		}
		declaredRelationships[rel.ID] = true

		for _, src := range rel.SourceTypes {
			if !declaredNodeTypes[src] {
				verrs.Addf(path+".sourceTypes", "source type %q is not a declared node type", src)
			}
		}
		for _, tgt := range rel.TargetTypes {
			if !declaredNodeTypes[tgt] {
				verrs.Addf(path+".targetTypes", "target type %q is not a declared node type", tgt)
			}
		}
	}

	for i, nt := range p.NodeTypes {
		path := fmt.Sprintf("nodeTypes[%d]", i)
		for _, relID := range nt.AllowedIncoming {
			if !declaredRelationships[relID] {
				verrs.Addf(path+".allowedIncoming", "relationship %q is not declared", relID)
			}
		}
		for _, relID := range nt.AllowedOutgoing {
			if !declaredRelationships[relID] {
				verrs.Addf(path+".allowedOutgoing", "relationship %q is not declared", relID)
			}
		}

		seen := make(map[string]bool, len(nt.Properties))
		for j, prop := range nt.Properties {
			if seen[prop.Name] {
				verrs.Addf(fmt.Sprintf("%s.properties[%d].name", path, j),
					"duplicate property %q", prop.Name)
			}
			seen[prop.Name] = true
		}
	}

	for i, style := range p.Styles {
		if style.Selector == "" {
			continue // already reported by the structural pass
		}
		if !declaredNodeTypes[style.Selector] && !declaredRelationships[style.Selector] {
			verrs.Addf(fmt.Sprintf("styles[%d].selector", i),
				"selector %q does not match a declared node or relationship type", style.Selector)
		}
	}

	seenMappings := make(map[string]bool, len(p.Ontology))
	for i, m := range p.Ontology {
		path := fmt.Sprintf("ontology[%d]", i)

		if seenMappings[m.ID] {
			verrs.Addf(path+".id", "duplicate ontology mapping id %q", m.ID)
		}
		seenMappings[m.ID] = true

		if m.Class != "" && !declaredClasses[m.Class] {
			verrs.Addf(path+".class", "class %q is not declared by any node type", m.Class)
		}
		if m.TargetClass != "" && !declaredClasses[m.TargetClass] {
			verrs.Addf(path+".targetClass", "target class %q is not declared by any node type", m.TargetClass)
		}
		if m.Derive != "" && !declaredRelationships[m.Derive] {
			verrs.Addf(path+".derive", "derived relationship %q is not declared", m.Derive)
		}
	}
}

// fieldPath converts a validator namespace like "Preset.NodeTypes[0].ID"
// into the JSON-ish path used in error reports
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if idx := strings.Index(ns, "."); idx >= 0 {
		ns = ns[idx+1:]
	}

	parts := strings.Split(ns, ".")
	for i, part := range parts {
		if part == "" {
			continue
		}
		parts[i] = strings.ToLower(part[:1]) + part[1:]
	}
	return strings.Join(parts, ".")
}

// fieldMessage formats a single field validation error
func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must have at least %s entries", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "preset_id":
		return "must contain only lowercase letters, digits and hyphens"
	case "hex_color":
		return "must be a #rrggbb color"
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}
