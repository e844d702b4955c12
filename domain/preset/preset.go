// Package preset defines the declarative schemas that govern a graph
// document: the legal node types, relationship types, styling and ontology
// mappings for a notation. A preset is validated (or migrated) once and is
// immutable for the lifetime of a document session.
package preset

// CurrentVersion is the preset schema version this engine authors and
// migrates towards.
const CurrentVersion = "2.0.0"

// Multiplicity is the cardinality constraint governing how many edges of a
// relationship type may touch a node.
type Multiplicity string

const (
	OneToOne   Multiplicity = "one-to-one"
	OneToMany  Multiplicity = "one-to-many"
	ManyToMany Multiplicity = "many-to-many"
)

// PropertyType is the type tag of a declared node property
type PropertyType string

const (
	PropertyString  PropertyType = "string"
	PropertyNumber  PropertyType = "number"
	PropertyBoolean PropertyType = "boolean"
	PropertyList    PropertyType = "list"
	PropertyObject  PropertyType = "object"
)

// Preset is a versioned schema fixing the legal node/relationship types,
// styling and ontology mappings for a document. Immutable once loaded; the
// migrator produces a new Preset rather than mutating in place.
type Preset struct {
	ID            string                   `json:"id" validate:"required,preset_id"`
	Version       string                   `json:"version" validate:"required"`
	Name          string                   `json:"name" validate:"required"`
	NodeTypes     []NodeTypeDefinition     `json:"nodeTypes" validate:"required,min=1,dive"`
	Relationships []RelationshipDefinition `json:"relationships" validate:"dive"`
	Styles        []StyleRule              `json:"styles,omitempty" validate:"dive"`
	Behavior      BehaviorConfig           `json:"behavior"`
	Ontology      []OntologyMapping        `json:"ontology,omitempty" validate:"dive"`
}

// NodeTypeDefinition declares the shape and constraints for a category of node
type NodeTypeDefinition struct {
	ID         string               `json:"id" validate:"required,preset_id"`
	Name       string               `json:"name" validate:"required"`
	Class      string               `json:"class,omitempty"`
	Properties []PropertyDefinition `json:"properties,omitempty" validate:"dive"`

	// Relationship type ids permitted to terminate at / originate from
	// nodes of this type. Empty means unrestricted.
	AllowedIncoming []string `json:"allowedIncoming,omitempty"`
	AllowedOutgoing []string `json:"allowedOutgoing,omitempty"`
}

// PropertyDefinition declares a typed, optionally required node property
type PropertyDefinition struct {
	Name     string       `json:"name" validate:"required"`
	Type     PropertyType `json:"type" validate:"required,oneof=string number boolean list object"`
	Required bool         `json:"required,omitempty"`
}

// RelationshipDefinition declares the shape and constraints for a category
// of edge
type RelationshipDefinition struct {
	ID           string       `json:"id" validate:"required,preset_id"`
	Name         string       `json:"name" validate:"required"`
	SourceTypes  []string     `json:"sourceTypes" validate:"required,min=1"`
	TargetTypes  []string     `json:"targetTypes" validate:"required,min=1"`
	Multiplicity Multiplicity `json:"multiplicity" validate:"required,oneof=one-to-one one-to-many many-to-many"`
	Directed     bool         `json:"directed"`
}

// StyleRule attaches rendering hints to a declared node or relationship
// type. The engine only validates it; rendering collaborators consume it.
type StyleRule struct {
	Selector  string `json:"selector" validate:"required"`
	Color     string `json:"color,omitempty" validate:"omitempty,hex_color"`
	Shape     string `json:"shape,omitempty" validate:"omitempty,oneof=rectangle ellipse diamond hexagon"`
	LineStyle string `json:"lineStyle,omitempty" validate:"omitempty,oneof=solid dashed dotted"`
}

// BehaviorConfig carries document-wide authoring limits
type BehaviorConfig struct {
	AllowSelfLoops      bool `json:"allowSelfLoops"`
	AllowDuplicateEdges bool `json:"allowDuplicateEdges"`
	MaxNodes            int  `json:"maxNodes,omitempty" validate:"min=0"`
	MaxEdges            int  `json:"maxEdges,omitempty" validate:"min=0"`
}

// OntologyMapping associates a node class with a rule for deriving
// additional relationships. Rules are evaluated by the inference engine as
// pure functions of the current document snapshot.
type OntologyMapping struct {
	ID    string `json:"id" validate:"required,preset_id"`
	Class string `json:"class" validate:"required"`

	// Derive names the relationship type of the derived edges.
	Derive string `json:"derive" validate:"required"`

	// TargetClass selects candidate target nodes by declared class or
	// node-type id.
	TargetClass string `json:"targetClass" validate:"required"`

	// Condition is an optional boolean expression evaluated against the
	// candidate pair; empty means always derive.
	Condition string `json:"condition,omitempty"`

	// SetAttributes are properties stamped onto every derived edge.
	SetAttributes map[string]interface{} `json:"setAttributes,omitempty"`

	// Priority orders rule application; higher priority rules win when two
	// rules derive a conflicting edge between the same node pair.
	Priority int `json:"priority,omitempty"`
}

// NodeType looks up a node type definition by id
func (p *Preset) NodeType(id string) (*NodeTypeDefinition, bool) {
	for i := range p.NodeTypes {
		if p.NodeTypes[i].ID == id {
			return &p.NodeTypes[i], true
		}
	}
	return nil, false
}

// Relationship looks up a relationship definition by id
func (p *Preset) Relationship(id string) (*RelationshipDefinition, bool) {
	for i := range p.Relationships {
		if p.Relationships[i].ID == id {
			return &p.Relationships[i], true
		}
	}
	return nil, false
}

// NodeTypesByClass returns the ids of node types declaring the given class.
// A node type's own id is treated as an implicit class.
func (p *Preset) NodeTypesByClass(class string) []string {
	ids := make([]string, 0)
	for i := range p.NodeTypes {
		if p.NodeTypes[i].Class == class || p.NodeTypes[i].ID == class {
			ids = append(ids, p.NodeTypes[i].ID)
		}
	}
	return ids
}

// AllowsSource reports whether the relationship accepts the node type as a
// source endpoint
func (r *RelationshipDefinition) AllowsSource(nodeTypeID string) bool {
	return containsString(r.SourceTypes, nodeTypeID)
}

// AllowsTarget reports whether the relationship accepts the node type as a
// target endpoint
func (r *RelationshipDefinition) AllowsTarget(nodeTypeID string) bool {
	return containsString(r.TargetTypes, nodeTypeID)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
