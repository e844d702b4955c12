// Package importer converts STIX 2.1 bundles into graph mutations under
// preset validation. The pipeline is parse → validate → map → commit; the
// commit is a single atomic batch so one undo removes the whole import.
package importer

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	pkgerrors "github.com/threatcanvas/core/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RawObject is one STIX object in its raw decoded form. Fields the pipeline
// does not consume stay in the map and are preserved verbatim in the mapped
// node's or edge's property bag.
type RawObject map[string]interface{}

// Type returns the object's "type" field
func (o RawObject) Type() string {
	t, _ := o["type"].(string)
	return t
}

// ID returns the object's "id" field
func (o RawObject) ID() string {
	id, _ := o["id"].(string)
	return id
}

// Name returns the object's "name" field
func (o RawObject) Name() string {
	n, _ := o["name"].(string)
	return n
}

// stringField returns a top-level string field by key
func (o RawObject) stringField(key string) string {
	v, _ := o[key].(string)
	return v
}

// Bundle is a parsed STIX bundle
type Bundle struct {
	Type    string      `json:"type"`
	ID      string      `json:"id"`
	Objects []RawObject `json:"objects"`
}

// Parse deserializes a STIX bundle. Malformed JSON, a missing top-level
// object list, or a wrong bundle type fail immediately with a parse error.
func Parse(data []byte) (*Bundle, error) {
	if len(data) == 0 {
		return nil, pkgerrors.ErrParse.WithMessage("empty bundle input")
	}

	var bundle Bundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, pkgerrors.ErrParse.
			WithMessage("bundle is not valid JSON").
			WithCause(err)
	}

	if bundle.Type != "bundle" {
		return nil, pkgerrors.ErrParse.
			WithMessage("top-level type must be %q, got %q", "bundle", bundle.Type)
	}
	if bundle.Objects == nil {
		return nil, pkgerrors.ErrParse.WithMessage("bundle has no objects list")
	}

	return &bundle, nil
}

// objectValidator checks one object of a known type for required fields
type objectValidator func(o RawObject) error

// validators is the fixed object-type dispatch table. It is built once here
// and never mutated afterwards; an object whose type has no entry produces a
// non-fatal unknown-type warning and is skipped.
var validators = buildValidatorTable()

func buildValidatorTable() map[string]objectValidator {
	table := make(map[string]objectValidator)

	named := []string{
		"attack-pattern",
		"campaign",
		"identity",
		"infrastructure",
		"intrusion-set",
		"malware",
		"threat-actor",
		"tool",
		"vulnerability",
	}
	for _, t := range named {
		table[t] = validateNamedObject
	}

	table["relationship"] = validateRelationship

	return table
}

// validateNamedObject covers the SDO types whose required surface is the
// same: a stable id and a display name.
func validateNamedObject(o RawObject) error {
	if o.ID() == "" {
		return fmt.Errorf("missing required field %q", "id")
	}
	if o.Name() == "" {
		return fmt.Errorf("missing required field %q", "name")
	}
	return nil
}

func validateRelationship(o RawObject) error {
	if o.ID() == "" {
		return fmt.Errorf("missing required field %q", "id")
	}
	for _, field := range []string{"source_ref", "target_ref", "relationship_type"} {
		if o.stringField(field) == "" {
			return fmt.Errorf("missing required field %q", field)
		}
	}
	return nil
}

// ObjectError records a validation failure tagged with the object's position
// in the bundle
type ObjectError struct {
	Index   int    `json:"index"`
	ID      string `json:"id,omitempty"`
	Type    string `json:"type,omitempty"`
	Message string `json:"message"`
}

func (e ObjectError) String() string {
	return fmt.Sprintf("objects[%d] (%s): %s", e.Index, e.Type, e.Message)
}

// Warning records a non-fatal condition; import continues past it
type Warning struct {
	Index   int    `json:"index"`
	Type    string `json:"type,omitempty"`
	Message string `json:"message"`
}

func (w Warning) String() string {
	return fmt.Sprintf("objects[%d]: %s", w.Index, w.Message)
}

// ValidObject is an object that passed its type validator, together with
// its position in the bundle
type ValidObject struct {
	Index  int
	Object RawObject
}

// Scanner is a lazy, restartable sequence of validated objects. Large
// bundles can be walked without materializing the full valid set; errors
// and warnings accumulate as the scan advances.
type Scanner struct {
	objects  []RawObject
	pos      int
	errors   []ObjectError
	warnings []Warning
}

// NewScanner creates a scanner over the bundle's objects
func NewScanner(bundle *Bundle) *Scanner {
	return &Scanner{objects: bundle.Objects}
}

// Next returns the next valid object, skipping past invalid and unknown
// ones while recording errors and warnings. It returns false when the
// bundle is exhausted.
func (s *Scanner) Next() (ValidObject, bool) {
	for s.pos < len(s.objects) {
		idx := s.pos
		obj := s.objects[idx]
		s.pos++

		objType := obj.Type()
		if objType == "" {
			s.errors = append(s.errors, ObjectError{
				Index:   idx,
				ID:      obj.ID(),
				Message: "missing required field \"type\"",
			})
			continue
		}

		validate, known := validators[objType]
		if !known {
			s.warnings = append(s.warnings, Warning{
				Index:   idx,
				Type:    objType,
				Message: fmt.Sprintf("no validator registered for type %q, object skipped", objType),
			})
			continue
		}

		if err := validate(obj); err != nil {
			s.errors = append(s.errors, ObjectError{
				Index:   idx,
				ID:      obj.ID(),
				Type:    objType,
				Message: err.Error(),
			})
			continue
		}

		return ValidObject{Index: idx, Object: obj}, true
	}

	return ValidObject{}, false
}

// Reset restarts the scan from the first object, discarding accumulated
// errors and warnings
func (s *Scanner) Reset() {
	s.pos = 0
	s.errors = nil
	s.warnings = nil
}

// Errors returns the validation errors recorded so far
func (s *Scanner) Errors() []ObjectError {
	return s.errors
}

// Warnings returns the warnings recorded so far
func (s *Scanner) Warnings() []Warning {
	return s.warnings
}

// ValidationResult is the fully drained outcome of validating a bundle
type ValidationResult struct {
	Valid    []ValidObject
	Errors   []ObjectError
	Warnings []Warning
}

// ValidateObjects drains a scanner over the bundle. Validation never aborts
// early: a bad object yields an error entry and the remaining objects are
// still checked.
func ValidateObjects(bundle *Bundle) *ValidationResult {
	scanner := NewScanner(bundle)

	result := &ValidationResult{Valid: make([]ValidObject, 0, len(bundle.Objects))}
	for {
		obj, ok := scanner.Next()
		if !ok {
			break
		}
		result.Valid = append(result.Valid, obj)
	}

	result.Errors = scanner.Errors()
	result.Warnings = scanner.Warnings()
	return result
}
