package importer

import (
	"context"

	"go.uber.org/zap"

	"github.com/threatcanvas/core/application/store"
	"github.com/threatcanvas/core/domain/events"
	"github.com/threatcanvas/core/domain/graph"
)

// Pipeline runs the full import: parse, validate, map, commit. Everything
// before commit is a pure transform over the input; cancellation before
// commit discards the candidate with no document side effects.
type Pipeline struct {
	store     *store.Store
	typeMap   TypeMap
	publisher *events.Publisher
	logger    *zap.Logger
}

// NewPipeline creates an import pipeline bound to a store. A nil typeMap
// selects the default STIX mapping.
func NewPipeline(s *store.Store, typeMap TypeMap, publisher *events.Publisher, logger *zap.Logger) *Pipeline {
	if typeMap == nil {
		typeMap = DefaultTypeMap()
	}
	if publisher == nil {
		publisher = events.NewPublisher()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Pipeline{
		store:     s,
		typeMap:   typeMap,
		publisher: publisher,
		logger:    logger,
	}
}

// Import converts a STIX bundle into the document as one atomic mutation.
// A parse failure or a rejected commit returns an error; per-object
// validation and mapping failures do not — they are reported in the summary
// while the remaining objects are still imported.
func (p *Pipeline) Import(ctx context.Context, data []byte) (*events.ImportSummary, error) {
	bundle, err := Parse(data)
	if err != nil {
		return nil, err
	}

	result := ValidateObjects(bundle)
	candidate, mapErrors, mapWarnings := MapToGraph(result.Valid, p.store.Preset(), p.typeMap)

	summary := &events.ImportSummary{
		ObjectsRead: len(bundle.Objects),
	}
	for _, e := range result.Errors {
		summary.Errors = append(summary.Errors, e.String())
	}
	for _, e := range mapErrors {
		summary.Errors = append(summary.Errors, e.String())
	}
	for _, w := range result.Warnings {
		summary.Warnings = append(summary.Warnings, w.String())
	}
	for _, w := range mapWarnings {
		summary.Warnings = append(summary.Warnings, w.String())
	}

	// Cancellation point: nothing has been applied yet, so there is
	// nothing to roll back.
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if len(candidate.Nodes) > 0 || len(candidate.Edges) > 0 {
		if err := p.Commit(candidate); err != nil {
			return nil, err
		}
		summary.NodesCreated = len(candidate.Nodes)
		summary.EdgesCreated = len(candidate.Edges)
	}

	p.logger.Info("import completed",
		zap.Int("objects_read", summary.ObjectsRead),
		zap.Int("nodes_created", summary.NodesCreated),
		zap.Int("edges_created", summary.EdgesCreated),
		zap.Int("warnings", len(summary.Warnings)),
		zap.Int("errors", len(summary.Errors)))

	p.publisher.Publish(events.NewImportCompleted(*summary))
	return summary, nil
}

// Commit applies the candidate as a single atomic batch producing exactly
// one history entry, so one undo removes the entire import.
func (p *Pipeline) Commit(candidate *Candidate) error {
	batch := graph.Batch{Name: "import-bundle"}
	for _, node := range candidate.Nodes {
		batch.Mutations = append(batch.Mutations, graph.AddNode{Node: node})
	}
	for _, edge := range candidate.Edges {
		batch.Mutations = append(batch.Mutations, graph.AddEdge{Edge: edge})
	}

	_, err := p.store.Apply(batch)
	return err
}
