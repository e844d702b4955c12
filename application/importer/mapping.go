package importer

import (
	"fmt"

	"github.com/threatcanvas/core/domain/graph"
	"github.com/threatcanvas/core/domain/preset"
)

// Grid spacing for the deterministic insertion-order layout. Real layout is
// a rendering collaborator's concern; the grid only guarantees distinct,
// reproducible positions.
const (
	gridColumns = 8
	gridSpacing = 180.0
)

// TypeMap converts external STIX object types to preset node type ids
type TypeMap map[string]string

// DefaultTypeMap maps each supported STIX type to the identically named
// node type. Presets built for threat modeling declare these ids directly.
func DefaultTypeMap() TypeMap {
	return TypeMap{
		"attack-pattern": "attack-pattern",
		"campaign":       "campaign",
		"identity":       "identity",
		"infrastructure": "infrastructure",
		"intrusion-set":  "intrusion-set",
		"malware":        "malware",
		"threat-actor":   "threat-actor",
		"tool":           "tool",
		"vulnerability":  "vulnerability",
	}
}

// Candidate is the uncommitted outcome of mapping a validated bundle:
// the node/edge set that a single atomic commit will apply.
type Candidate struct {
	Nodes []graph.Node
	Edges []graph.Edge
}

// mapper converts validated objects into a candidate under a preset
type mapper struct {
	preset   *preset.Preset
	typeMap  TypeMap
	nodes    []graph.Node
	edges    []graph.Edge
	byStixID map[string]string // STIX id → node id
	edgeIDs  map[string]bool
	errors   []ObjectError
	warnings []Warning
}

// MapToGraph deterministically converts validated objects into a candidate
// node/edge set. Non-relationship objects map to nodes via the type map;
// relationship objects map to edges through their declared source/target
// reference fields. Relationship objects whose endpoints did not map are
// recorded as errors and skipped so the rest of the candidate stays
// committable.
func MapToGraph(valid []ValidObject, p *preset.Preset, typeMap TypeMap) (*Candidate, []ObjectError, []Warning) {
	if typeMap == nil {
		typeMap = DefaultTypeMap()
	}

	m := &mapper{
		preset:   p,
		typeMap:  typeMap,
		byStixID: make(map[string]string),
		edgeIDs:  make(map[string]bool),
	}

	// Nodes first so relationship endpoints can resolve regardless of
	// object order in the bundle.
	for _, obj := range valid {
		if obj.Object.Type() != "relationship" {
			m.mapNode(obj)
		}
	}
	for _, obj := range valid {
		if obj.Object.Type() == "relationship" {
			m.mapEdge(obj)
		}
	}

	return &Candidate{Nodes: m.nodes, Edges: m.edges}, m.errors, m.warnings
}

func (m *mapper) mapNode(obj ValidObject) {
	stixType := obj.Object.Type()

	nodeTypeID, mapped := m.typeMap[stixType]
	if !mapped {
		m.warnings = append(m.warnings, Warning{
			Index:   obj.Index,
			Type:    stixType,
			Message: fmt.Sprintf("no node type mapping for %q, object skipped", stixType),
		})
		return
	}
	if _, declared := m.preset.NodeType(nodeTypeID); !declared {
		m.warnings = append(m.warnings, Warning{
			Index:   obj.Index,
			Type:    stixType,
			Message: fmt.Sprintf("preset %q does not declare node type %q, object skipped", m.preset.ID, nodeTypeID),
		})
		return
	}

	stixID := obj.Object.ID()
	if _, dup := m.byStixID[stixID]; dup {
		m.errors = append(m.errors, ObjectError{
			Index:   obj.Index,
			ID:      stixID,
			Type:    stixType,
			Message: "duplicate object id in bundle",
		})
		return
	}

	node := graph.Node{
		ID:         stixID,
		TypeID:     nodeTypeID,
		Properties: nodeProperties(obj.Object),
		Position:   gridPosition(len(m.nodes)),
	}

	m.byStixID[stixID] = node.ID
	m.nodes = append(m.nodes, node)
}

func (m *mapper) mapEdge(obj ValidObject) {
	sourceRef := obj.Object.stringField("source_ref")
	targetRef := obj.Object.stringField("target_ref")
	relType := obj.Object.stringField("relationship_type")

	sourceID, ok := m.byStixID[sourceRef]
	if !ok {
		m.errors = append(m.errors, ObjectError{
			Index:   obj.Index,
			ID:      obj.Object.ID(),
			Type:    "relationship",
			Message: fmt.Sprintf("source_ref %q does not resolve to an imported object", sourceRef),
		})
		return
	}
	targetID, ok := m.byStixID[targetRef]
	if !ok {
		m.errors = append(m.errors, ObjectError{
			Index:   obj.Index,
			ID:      obj.Object.ID(),
			Type:    "relationship",
			Message: fmt.Sprintf("target_ref %q does not resolve to an imported object", targetRef),
		})
		return
	}

	if _, declared := m.preset.Relationship(relType); !declared {
		m.warnings = append(m.warnings, Warning{
			Index:   obj.Index,
			Type:    "relationship",
			Message: fmt.Sprintf("preset %q does not declare relationship %q, object skipped", m.preset.ID, relType),
		})
		return
	}

	// A duplicate id is skipped here so the rest of the candidate stays
	// committable; letting it through would reject the whole batch.
	if m.edgeIDs[obj.Object.ID()] {
		m.errors = append(m.errors, ObjectError{
			Index:   obj.Index,
			ID:      obj.Object.ID(),
			Type:    "relationship",
			Message: "duplicate object id in bundle",
		})
		return
	}
	m.edgeIDs[obj.Object.ID()] = true

	m.edges = append(m.edges, graph.Edge{
		ID:         obj.Object.ID(),
		TypeID:     relType,
		SourceID:   sourceID,
		TargetID:   targetID,
		Properties: edgeProperties(obj.Object),
	})
}

// nodeProperties builds the property bag: the display name plus every field
// the pipeline did not consume, preserved verbatim.
func nodeProperties(obj RawObject) map[string]interface{} {
	props := map[string]interface{}{
		"name": obj.Name(),
	}
	for key, value := range obj {
		switch key {
		case "type", "id", "name":
			continue
		}
		props[key] = value
	}
	return props
}

// edgeProperties preserves relationship fields beyond the consumed refs
func edgeProperties(obj RawObject) map[string]interface{} {
	props := make(map[string]interface{})
	for key, value := range obj {
		switch key {
		case "type", "id", "source_ref", "target_ref", "relationship_type":
			continue
		}
		props[key] = value
	}
	if len(props) == 0 {
		return nil
	}
	return props
}

// gridPosition places the i-th mapped node on an insertion-order grid
func gridPosition(i int) graph.Position {
	return graph.Position{
		X: float64(i%gridColumns) * gridSpacing,
		Y: float64(i/gridColumns) * gridSpacing,
	}
}
