package store

import (
	"sort"

	jsoniter "github.com/json-iterator/go"

	"github.com/threatcanvas/core/domain/graph"
	pkgerrors "github.com/threatcanvas/core/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// exportDocument is the wire shape of a document export: a stable, sorted
// view of the node and edge maps.
type exportDocument struct {
	Metadata graph.Metadata `json:"metadata"`
	Nodes    []graph.Node   `json:"nodes"`
	Edges    []graph.Edge   `json:"edges"`
}

// Export serializes the current document. Nodes and edges are emitted in
// sorted id order so identical documents export identically.
func (s *Store) Export() ([]byte, error) {
	doc := s.Snapshot()

	out := exportDocument{
		Metadata: doc.Metadata,
		Nodes:    make([]graph.Node, 0, len(doc.Nodes)),
		Edges:    make([]graph.Edge, 0, len(doc.Edges)),
	}
	for _, id := range sortedNodeIDs(doc) {
		out.Nodes = append(out.Nodes, doc.Nodes[id])
	}
	for _, id := range sortedEdgeIDs(doc) {
		out.Edges = append(out.Edges, doc.Edges[id])
	}

	return json.MarshalIndent(out, "", "  ")
}

// Load replaces the document with a previously exported one. The existing
// content is cleared and the incoming nodes and edges re-validated against
// the active preset as one atomic batch, so a load either fully succeeds
// (one history entry, undoable back to the pre-load document) or changes
// nothing.
func (s *Store) Load(data []byte) (*graph.Document, error) {
	var in exportDocument
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, pkgerrors.ErrParse.WithCause(err)
	}

	if in.Metadata.PresetID != s.preset.ID {
		return nil, pkgerrors.NewDomainError(pkgerrors.ErrorTypeRejection,
			"PRESET_MISMATCH",
			"document was authored under a different preset").
			WithDetail("document_preset", in.Metadata.PresetID).
			WithDetail("active_preset", s.preset.ID)
	}

	batch := graph.Batch{Name: "load-document"}
	// Removing every current node also cascades every current edge.
	for _, id := range sortedNodeIDs(s.Snapshot()) {
		batch.Mutations = append(batch.Mutations, graph.RemoveNode{ID: id})
	}
	for _, node := range in.Nodes {
		batch.Mutations = append(batch.Mutations, graph.AddNode{Node: node})
	}
	for _, edge := range in.Edges {
		batch.Mutations = append(batch.Mutations, graph.AddEdge{Edge: edge})
	}

	// Title is metadata, not history; set it before the batch commits so
	// the returned snapshot carries it, and restore it if the batch is
	// rejected.
	s.mu.Lock()
	prevTitle := s.doc.Metadata.Title
	s.doc.Metadata.Title = in.Metadata.Title
	s.mu.Unlock()

	snapshot, err := s.Apply(batch)
	if err != nil {
		s.mu.Lock()
		s.doc.Metadata.Title = prevTitle
		s.mu.Unlock()
		return nil, err
	}
	return snapshot, nil
}

// sortedNodeIDs returns the document's node ids in lexical order
func sortedNodeIDs(doc *graph.Document) []string {
	ids := make([]string, 0, len(doc.Nodes))
	for id := range doc.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// sortedEdgeIDs returns the document's edge ids in lexical order
func sortedEdgeIDs(doc *graph.Document) []string {
	ids := make([]string, 0, len(doc.Edges))
	for id := range doc.Edges {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
