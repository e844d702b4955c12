// Package graph holds the canonical document model: typed nodes and edges,
// the exact forward/inverse patches that make up the edit history, and the
// mutations the store accepts.
package graph

// Position is a node's placement on the canvas. The engine treats it as
// opaque data; only rendering collaborators interpret it.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is a typed graph node. TypeID must reference a NodeTypeDefinition in
// the document's active preset.
type Node struct {
	ID         string                 `json:"id"`
	TypeID     string                 `json:"typeId"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	Position   Position               `json:"position"`
}

// Edge is a typed graph edge. TypeID must reference a RelationshipDefinition
// in the document's active preset. Inferred edges are derived by the
// inference engine and never enter the edit history.
type Edge struct {
	ID         string                 `json:"id"`
	TypeID     string                 `json:"typeId"`
	SourceID   string                 `json:"sourceId"`
	TargetID   string                 `json:"targetId"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	Inferred   bool                   `json:"inferred,omitempty"`
}

// Metadata identifies the preset a document was authored under
type Metadata struct {
	PresetID      string `json:"presetId"`
	PresetVersion string `json:"presetVersion"`
	Title         string `json:"title"`
}

// Document is the canonical node/edge state of one authoring session.
// Snapshots handed to readers are deep copies and are never mutated in
// place.
type Document struct {
	Nodes    map[string]Node `json:"nodes"`
	Edges    map[string]Edge `json:"edges"`
	Metadata Metadata        `json:"metadata"`
}

// NewDocument creates an empty document bound to a preset
func NewDocument(presetID, presetVersion, title string) *Document {
	return &Document{
		Nodes: make(map[string]Node),
		Edges: make(map[string]Edge),
		Metadata: Metadata{
			PresetID:      presetID,
			PresetVersion: presetVersion,
			Title:         title,
		},
	}
}

// Clone returns a deep copy of the document
func (d *Document) Clone() *Document {
	clone := &Document{
		Nodes:    make(map[string]Node, len(d.Nodes)),
		Edges:    make(map[string]Edge, len(d.Edges)),
		Metadata: d.Metadata,
	}
	for id, node := range d.Nodes {
		clone.Nodes[id] = node.Clone()
	}
	for id, edge := range d.Edges {
		clone.Edges[id] = edge.Clone()
	}
	return clone
}

// Clone returns a deep copy of the node
func (n Node) Clone() Node {
	c := n
	c.Properties = cloneProperties(n.Properties)
	return c
}

// Clone returns a deep copy of the edge
func (e Edge) Clone() Edge {
	c := e
	c.Properties = cloneProperties(e.Properties)
	return c
}

// EdgesOfType returns the ids of edges of the given relationship type that
// touch the node in the given role.
func (d *Document) EdgesOfType(typeID, nodeID string, incoming bool) []string {
	ids := make([]string, 0)
	for id, edge := range d.Edges {
		if edge.TypeID != typeID {
			continue
		}
		if incoming && edge.TargetID == nodeID {
			ids = append(ids, id)
		}
		if !incoming && edge.SourceID == nodeID {
			ids = append(ids, id)
		}
	}
	return ids
}

// IncidentEdges returns the ids of all edges touching the node
func (d *Document) IncidentEdges(nodeID string) []string {
	ids := make([]string, 0)
	for id, edge := range d.Edges {
		if edge.SourceID == nodeID || edge.TargetID == nodeID {
			ids = append(ids, id)
		}
	}
	return ids
}

// cloneProperties deep-copies a JSON-shaped property map
func cloneProperties(props map[string]interface{}) map[string]interface{} {
	if props == nil {
		return nil
	}
	clone := make(map[string]interface{}, len(props))
	for k, v := range props {
		clone[k] = cloneValue(v)
	}
	return clone
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return cloneProperties(val)
	case []interface{}:
		list := make([]interface{}, len(val))
		for i, item := range val {
			list[i] = cloneValue(item)
		}
		return list
	default:
		return val
	}
}
