package graph

// Op is a primitive, directly applicable document change. Mutations are
// lowered to ops by the store after validation; ops carry enough state to be
// inverted exactly.
type Op interface {
	// ApplyTo applies the op to the document in place
	ApplyTo(doc *Document)

	// Invert returns the op that undoes this one, given the document state
	// before this op is applied.
	Invert(before *Document) Op
}

// PutNode inserts or replaces a node
type PutNode struct {
	Node Node `json:"node"`
}

func (op PutNode) ApplyTo(doc *Document) {
	doc.Nodes[op.Node.ID] = op.Node.Clone()
}

func (op PutNode) Invert(before *Document) Op {
	if prev, ok := before.Nodes[op.Node.ID]; ok {
		return PutNode{Node: prev.Clone()}
	}
	return DeleteNode{ID: op.Node.ID}
}

// DeleteNode removes a node by id
type DeleteNode struct {
	ID string `json:"id"`
}

func (op DeleteNode) ApplyTo(doc *Document) {
	delete(doc.Nodes, op.ID)
}

func (op DeleteNode) Invert(before *Document) Op {
	if prev, ok := before.Nodes[op.ID]; ok {
		return PutNode{Node: prev.Clone()}
	}
	return nil
}

// PutEdge inserts or replaces an edge
type PutEdge struct {
	Edge Edge `json:"edge"`
}

func (op PutEdge) ApplyTo(doc *Document) {
	doc.Edges[op.Edge.ID] = op.Edge.Clone()
}

func (op PutEdge) Invert(before *Document) Op {
	if prev, ok := before.Edges[op.Edge.ID]; ok {
		return PutEdge{Edge: prev.Clone()}
	}
	return DeleteEdge{ID: op.Edge.ID}
}

// DeleteEdge removes an edge by id
type DeleteEdge struct {
	ID string `json:"id"`
}

func (op DeleteEdge) ApplyTo(doc *Document) {
	delete(doc.Edges, op.ID)
}

func (op DeleteEdge) Invert(before *Document) Op {
	if prev, ok := before.Edges[op.ID]; ok {
		return PutEdge{Edge: prev.Clone()}
	}
	return nil
}

// Patch is an ordered list of ops applied as one unit
type Patch []Op

// ApplyTo applies every op in order
func (p Patch) ApplyTo(doc *Document) {
	for _, op := range p {
		op.ApplyTo(doc)
	}
}

// Invert builds the exact inverse patch: each op inverted against the state
// it will see when the forward patch runs, emitted in reverse order.
func (p Patch) Invert(before *Document) Patch {
	working := before.Clone()
	inverses := make(Patch, 0, len(p))

	for _, op := range p {
		if inv := op.Invert(working); inv != nil {
			inverses = append(inverses, inv)
		}
		op.ApplyTo(working)
	}

	// Reverse so undo unwinds the ops back to front
	for i, j := 0, len(inverses)-1; i < j; i, j = i+1, j-1 {
		inverses[i], inverses[j] = inverses[j], inverses[i]
	}
	return inverses
}

// HistoryEntry pairs a committed forward patch with its exact inverse.
// Applying Inverse to the post-commit document reproduces the prior document
// structurally; applying Forward again re-commits it.
type HistoryEntry struct {
	Label   string `json:"label"`
	Forward Patch  `json:"-"`
	Inverse Patch  `json:"-"`
}
