// Package store implements the graph document store: serialized mutation
// application under preset-derived invariants, with an exact, reversible and
// bounded edit history.
package store

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/threatcanvas/core/domain/events"
	"github.com/threatcanvas/core/domain/graph"
	"github.com/threatcanvas/core/domain/preset"
	pkgerrors "github.com/threatcanvas/core/pkg/errors"
)

// DefaultHistoryDepth bounds the undo stack unless configured otherwise
const DefaultHistoryDepth = 100

// Config carries store tuning knobs
type Config struct {
	// HistoryDepth bounds the undo stack; the oldest entry is evicted
	// first once the bound is exceeded. Zero means DefaultHistoryDepth.
	HistoryDepth int
}

// Store is the single-writer graph document store. Mutation application is
// serialized by a mutex; readers always observe a fully committed snapshot
// because snapshots are deep copies, never the internal document.
type Store struct {
	mu sync.Mutex

	preset    *preset.Preset
	doc       *graph.Document
	undo      []graph.HistoryEntry
	redo      []graph.HistoryEntry
	depth     int
	publisher *events.Publisher
	logger    *zap.Logger
}

// New creates a store holding an empty document bound to a validated preset
func New(p *preset.Preset, title string, cfg Config, publisher *events.Publisher, logger *zap.Logger) *Store {
	depth := cfg.HistoryDepth
	if depth <= 0 {
		depth = DefaultHistoryDepth
	}
	if publisher == nil {
		publisher = events.NewPublisher()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Store{
		preset:    p,
		doc:       graph.NewDocument(p.ID, p.Version, title),
		depth:     depth,
		publisher: publisher,
		logger:    logger,
	}
}

// Preset returns the active preset
func (s *Store) Preset() *preset.Preset {
	return s.preset
}

// Snapshot returns a deep copy of the current document
func (s *Store) Snapshot() *graph.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone()
}

// HistoryLen returns the current undo and redo stack sizes
func (s *Store) HistoryLen() (undo, redo int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.undo), len(s.redo)
}

// Apply validates a mutation against the preset-derived invariants and
// commits it. On success it returns a snapshot of the new document, pushes
// the mutation's inverse onto the undo stack and clears the redo stack. On
// failure the document is unchanged and a typed rejection is returned.
func (s *Store) Apply(m graph.Mutation) (*graph.Document, error) {
	s.mu.Lock()

	patch, err := s.lower(m, s.doc)
	if err != nil {
		s.mu.Unlock()
		s.logger.Debug("mutation rejected",
			zap.String("mutation", m.Label()),
			zap.Error(err))
		if verrs := asValidationErrors(err); verrs != nil {
			s.publisher.Publish(events.NewValidationFailed(verrs))
		}
		return nil, err
	}

	entry := graph.HistoryEntry{
		Label:   m.Label(),
		Forward: patch,
		Inverse: patch.Invert(s.doc),
	}

	next := s.doc.Clone()
	patch.ApplyTo(next)
	s.doc = next

	s.undo = append(s.undo, entry)
	if len(s.undo) > s.depth {
		s.undo = s.undo[1:]
	}
	s.redo = nil

	s.logger.Debug("mutation committed",
		zap.String("mutation", m.Label()),
		zap.Int("nodes", len(s.doc.Nodes)),
		zap.Int("edges", len(s.doc.Edges)))

	snapshot := s.doc.Clone()
	s.mu.Unlock()

	// Published after the lock is released: handlers may call back into
	// the store.
	s.publisher.Publish(events.NewDocumentChanged(snapshot))
	return snapshot, nil
}

// Undo pops the newest history entry and applies its inverse patch
func (s *Store) Undo() (*graph.Document, error) {
	s.mu.Lock()

	if len(s.undo) == 0 {
		s.mu.Unlock()
		return nil, pkgerrors.ErrNothingToUndo
	}

	entry := s.undo[len(s.undo)-1]
	s.undo = s.undo[:len(s.undo)-1]

	next := s.doc.Clone()
	entry.Inverse.ApplyTo(next)
	s.doc = next

	s.redo = append(s.redo, entry)

	snapshot := s.doc.Clone()
	s.mu.Unlock()

	s.publisher.Publish(events.NewDocumentChanged(snapshot))
	return snapshot, nil
}

// Redo re-applies the most recently undone entry's forward patch
func (s *Store) Redo() (*graph.Document, error) {
	s.mu.Lock()

	if len(s.redo) == 0 {
		s.mu.Unlock()
		return nil, pkgerrors.ErrNothingToRedo
	}

	entry := s.redo[len(s.redo)-1]
	s.redo = s.redo[:len(s.redo)-1]

	next := s.doc.Clone()
	entry.Forward.ApplyTo(next)
	s.doc = next

	s.undo = append(s.undo, entry)
	if len(s.undo) > s.depth {
		s.undo = s.undo[1:]
	}

	snapshot := s.doc.Clone()
	s.mu.Unlock()

	s.publisher.Publish(events.NewDocumentChanged(snapshot))
	return snapshot, nil
}

// lower validates a mutation against the given document state and converts
// it to a primitive patch. The document is not modified.
func (s *Store) lower(m graph.Mutation, doc *graph.Document) (graph.Patch, error) {
	switch mut := m.(type) {
	case graph.AddNode:
		return s.lowerAddNode(mut, doc)
	case graph.UpdateNode:
		return s.lowerUpdateNode(mut, doc)
	case graph.RemoveNode:
		return s.lowerRemoveNode(mut, doc)
	case graph.AddEdge:
		return s.lowerAddEdge(mut, doc)
	case graph.UpdateEdge:
		return s.lowerUpdateEdge(mut, doc)
	case graph.RemoveEdge:
		return s.lowerRemoveEdge(mut, doc)
	case graph.Batch:
		return s.lowerBatch(mut, doc)
	default:
		return nil, fmt.Errorf("unsupported mutation type %T", m)
	}
}

func (s *Store) lowerAddNode(m graph.AddNode, doc *graph.Document) (graph.Patch, error) {
	node := m.Node
	if node.ID == "" {
		verrs := pkgerrors.NewValidationErrors()
		verrs.Add("node.id", "is required")
		return nil, verrs
	}
	if _, exists := doc.Nodes[node.ID]; exists {
		return nil, pkgerrors.ErrDuplicateID.WithDetail("node_id", node.ID)
	}

	def, ok := s.preset.NodeType(node.TypeID)
	if !ok {
		return nil, pkgerrors.ErrUndeclaredType.
			WithMessage("node type %q is not declared in preset %q", node.TypeID, s.preset.ID).
			WithDetail("type_id", node.TypeID)
	}

	if err := s.checkProperties(def, node.Properties); err != nil {
		return nil, err
	}

	if max := s.preset.Behavior.MaxNodes; max > 0 && len(doc.Nodes) >= max {
		return nil, pkgerrors.NewDomainError(pkgerrors.ErrorTypeRejection,
			"NODE_LIMIT_EXCEEDED",
			fmt.Sprintf("document is at its declared maximum of %d nodes", max))
	}

	// Cloned so the patch held in history never aliases the caller's maps.
	return graph.Patch{graph.PutNode{Node: node.Clone()}}, nil
}

func (s *Store) lowerUpdateNode(m graph.UpdateNode, doc *graph.Document) (graph.Patch, error) {
	current, ok := doc.Nodes[m.ID]
	if !ok {
		return nil, pkgerrors.ErrNodeNotFound.WithDetail("node_id", m.ID)
	}

	updated := current.Clone()
	if m.Properties != nil {
		updated.Properties = m.Properties
	}
	if m.Position != nil {
		updated.Position = *m.Position
	}

	def, ok := s.preset.NodeType(updated.TypeID)
	if !ok {
		return nil, pkgerrors.ErrUndeclaredType.WithDetail("type_id", updated.TypeID)
	}
	if err := s.checkProperties(def, updated.Properties); err != nil {
		return nil, err
	}

	return graph.Patch{graph.PutNode{Node: updated.Clone()}}, nil
}

func (s *Store) lowerRemoveNode(m graph.RemoveNode, doc *graph.Document) (graph.Patch, error) {
	if _, ok := doc.Nodes[m.ID]; !ok {
		return nil, pkgerrors.ErrNodeNotFound.WithDetail("node_id", m.ID)
	}

	// Incident edges cascade into the same history entry so a single undo
	// restores the node together with its connections.
	patch := make(graph.Patch, 0)
	for _, edgeID := range doc.IncidentEdges(m.ID) {
		patch = append(patch, graph.DeleteEdge{ID: edgeID})
	}
	patch = append(patch, graph.DeleteNode{ID: m.ID})
	return patch, nil
}

func (s *Store) lowerAddEdge(m graph.AddEdge, doc *graph.Document) (graph.Patch, error) {
	edge := m.Edge
	if edge.ID == "" {
		verrs := pkgerrors.NewValidationErrors()
		verrs.Add("edge.id", "is required")
		return nil, verrs
	}
	if edge.Inferred {
		verrs := pkgerrors.NewValidationErrors()
		verrs.Add("edge.inferred", "inferred edges are derived on demand and cannot be stored")
		return nil, verrs
	}
	if _, exists := doc.Edges[edge.ID]; exists {
		return nil, pkgerrors.ErrDuplicateID.WithDetail("edge_id", edge.ID)
	}

	rel, ok := s.preset.Relationship(edge.TypeID)
	if !ok {
		return nil, pkgerrors.ErrUndeclaredType.
			WithMessage("relationship type %q is not declared in preset %q", edge.TypeID, s.preset.ID).
			WithDetail("type_id", edge.TypeID)
	}

	source, ok := doc.Nodes[edge.SourceID]
	if !ok {
		return nil, pkgerrors.ErrDanglingReference.WithDetail("node_id", edge.SourceID)
	}
	target, ok := doc.Nodes[edge.TargetID]
	if !ok {
		return nil, pkgerrors.ErrDanglingReference.WithDetail("node_id", edge.TargetID)
	}

	if !s.preset.Behavior.AllowSelfLoops && edge.SourceID == edge.TargetID {
		return nil, pkgerrors.NewDomainError(pkgerrors.ErrorTypeRejection,
			"SELF_LOOP", "preset forbids edges from a node to itself").
			WithDetail("node_id", edge.SourceID)
	}

	if !rel.AllowsSource(source.TypeID) {
		return nil, pkgerrors.ErrEndpointTypeMismatch.
			WithMessage("relationship %q does not accept source type %q", rel.ID, source.TypeID).
			WithDetail("relationship", rel.ID).
			WithDetail("source_type", source.TypeID)
	}
	if !rel.AllowsTarget(target.TypeID) {
		return nil, pkgerrors.ErrEndpointTypeMismatch.
			WithMessage("relationship %q does not accept target type %q", rel.ID, target.TypeID).
			WithDetail("relationship", rel.ID).
			WithDetail("target_type", target.TypeID)
	}

	if err := s.checkEndpointAllowance(source.TypeID, target.TypeID, rel.ID); err != nil {
		return nil, err
	}

	if !s.preset.Behavior.AllowDuplicateEdges {
		for _, existing := range doc.Edges {
			if existing.TypeID == edge.TypeID &&
				existing.SourceID == edge.SourceID &&
				existing.TargetID == edge.TargetID {
				return nil, pkgerrors.ErrDuplicateID.
					WithMessage("an edge of type %q between these nodes already exists", edge.TypeID)
			}
		}
	}

	if err := checkMultiplicity(rel, edge, doc); err != nil {
		return nil, err
	}

	if max := s.preset.Behavior.MaxEdges; max > 0 && len(doc.Edges) >= max {
		return nil, pkgerrors.NewDomainError(pkgerrors.ErrorTypeRejection,
			"EDGE_LIMIT_EXCEEDED",
			fmt.Sprintf("document is at its declared maximum of %d edges", max))
	}

	return graph.Patch{graph.PutEdge{Edge: edge.Clone()}}, nil
}

func (s *Store) lowerUpdateEdge(m graph.UpdateEdge, doc *graph.Document) (graph.Patch, error) {
	current, ok := doc.Edges[m.ID]
	if !ok {
		return nil, pkgerrors.ErrEdgeNotFound.WithDetail("edge_id", m.ID)
	}

	updated := current.Clone()
	updated.Properties = m.Properties
	return graph.Patch{graph.PutEdge{Edge: updated.Clone()}}, nil
}

func (s *Store) lowerRemoveEdge(m graph.RemoveEdge, doc *graph.Document) (graph.Patch, error) {
	if _, ok := doc.Edges[m.ID]; !ok {
		return nil, pkgerrors.ErrEdgeNotFound.WithDetail("edge_id", m.ID)
	}
	return graph.Patch{graph.DeleteEdge{ID: m.ID}}, nil
}

// lowerBatch validates members in order against a working copy so later
// members see earlier ones; any member failing rejects the whole batch.
func (s *Store) lowerBatch(m graph.Batch, doc *graph.Document) (graph.Patch, error) {
	working := doc.Clone()
	patch := make(graph.Patch, 0, len(m.Mutations))

	for i, member := range m.Mutations {
		part, err := s.lower(member, working)
		if err != nil {
			if de := pkgerrors.GetDomainError(err); de != nil {
				return nil, de.WithDetail("batch_index", i)
			}
			return nil, err
		}
		part.ApplyTo(working)
		patch = append(patch, part...)
	}

	return patch, nil
}

// checkProperties enforces the node type's declared property definitions
func (s *Store) checkProperties(def *preset.NodeTypeDefinition, props map[string]interface{}) error {
	verrs := pkgerrors.NewValidationErrors()

	for _, pd := range def.Properties {
		value, present := props[pd.Name]
		if !present {
			if pd.Required {
				verrs.Addf("properties."+pd.Name, "required by node type %q", def.ID)
			}
			continue
		}
		if !propertyTypeMatches(pd.Type, value) {
			verrs.Addf("properties."+pd.Name, "must be of type %s", pd.Type)
		}
	}

	if verrs.HasErrors() {
		return verrs
	}
	return nil
}

func propertyTypeMatches(t preset.PropertyType, value interface{}) bool {
	switch t {
	case preset.PropertyString:
		_, ok := value.(string)
		return ok
	case preset.PropertyNumber:
		switch value.(type) {
		case float64, float32, int, int64:
			return true
		}
		return false
	case preset.PropertyBoolean:
		_, ok := value.(bool)
		return ok
	case preset.PropertyList:
		_, ok := value.([]interface{})
		return ok
	case preset.PropertyObject:
		_, ok := value.(map[string]interface{})
		return ok
	default:
		return true
	}
}

// checkEndpointAllowance enforces the node types' permitted incoming and
// outgoing relationship lists. An empty list means unrestricted.
func (s *Store) checkEndpointAllowance(sourceTypeID, targetTypeID, relID string) error {
	if def, ok := s.preset.NodeType(sourceTypeID); ok {
		if len(def.AllowedOutgoing) > 0 && !containsString(def.AllowedOutgoing, relID) {
			return pkgerrors.ErrEndpointTypeMismatch.
				WithMessage("node type %q does not permit outgoing %q edges", sourceTypeID, relID).
				WithDetail("node_type", sourceTypeID).
				WithDetail("relationship", relID)
		}
	}
	if def, ok := s.preset.NodeType(targetTypeID); ok {
		if len(def.AllowedIncoming) > 0 && !containsString(def.AllowedIncoming, relID) {
			return pkgerrors.ErrEndpointTypeMismatch.
				WithMessage("node type %q does not permit incoming %q edges", targetTypeID, relID).
				WithDetail("node_type", targetTypeID).
				WithDetail("relationship", relID)
		}
	}
	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// checkMultiplicity enforces the relationship's declared cardinality.
// one-to-one caps both endpoints at one edge of the type; one-to-many lets a
// source fan out but caps each target's in-degree at one.
func checkMultiplicity(rel *preset.RelationshipDefinition, edge graph.Edge, doc *graph.Document) error {
	switch rel.Multiplicity {
	case preset.OneToOne:
		if len(doc.EdgesOfType(rel.ID, edge.SourceID, false)) > 0 {
			return pkgerrors.ErrMultiplicityViolation.
				WithMessage("node %q already has an outgoing %q edge (one-to-one)", edge.SourceID, rel.ID).
				WithDetail("relationship", rel.ID).
				WithDetail("node_id", edge.SourceID)
		}
		if len(doc.EdgesOfType(rel.ID, edge.TargetID, true)) > 0 {
			return pkgerrors.ErrMultiplicityViolation.
				WithMessage("node %q already has an incoming %q edge (one-to-one)", edge.TargetID, rel.ID).
				WithDetail("relationship", rel.ID).
				WithDetail("node_id", edge.TargetID)
		}
	case preset.OneToMany:
		if len(doc.EdgesOfType(rel.ID, edge.TargetID, true)) > 0 {
			return pkgerrors.ErrMultiplicityViolation.
				WithMessage("node %q already has an incoming %q edge (one-to-many)", edge.TargetID, rel.ID).
				WithDetail("relationship", rel.ID).
				WithDetail("node_id", edge.TargetID)
		}
	}
	return nil
}

func asValidationErrors(err error) *pkgerrors.ValidationErrors {
	if verrs, ok := err.(*pkgerrors.ValidationErrors); ok {
		return verrs
	}
	return nil
}
