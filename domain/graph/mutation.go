package graph

// Mutation is a requested document change. The store validates a mutation
// against the active preset before lowering it to a patch; a rejected
// mutation leaves the document untouched.
type Mutation interface {
	// Label names the mutation for history and logging
	Label() string
}

// AddNode requests insertion of a new node
type AddNode struct {
	Node Node
}

func (m AddNode) Label() string { return "add-node" }

// UpdateNode requests replacement of a node's properties and/or position.
// Nil fields are left unchanged.
type UpdateNode struct {
	ID         string
	Properties map[string]interface{}
	Position   *Position
}

func (m UpdateNode) Label() string { return "update-node" }

// RemoveNode requests removal of a node. Incident edges are cascaded into
// the same history entry.
type RemoveNode struct {
	ID string
}

func (m RemoveNode) Label() string { return "remove-node" }

// AddEdge requests insertion of a new edge
type AddEdge struct {
	Edge Edge
}

func (m AddEdge) Label() string { return "add-edge" }

// UpdateEdge requests replacement of an edge's properties
type UpdateEdge struct {
	ID         string
	Properties map[string]interface{}
}

func (m UpdateEdge) Label() string { return "update-edge" }

// RemoveEdge requests removal of an edge
type RemoveEdge struct {
	ID string
}

func (m RemoveEdge) Label() string { return "remove-edge" }

// Batch applies several mutations atomically, producing exactly one history
// entry. Either every member passes validation and commits, or none do.
type Batch struct {
	Name      string
	Mutations []Mutation
}

func (m Batch) Label() string {
	if m.Name != "" {
		return m.Name
	}
	return "batch"
}
