package store

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threatcanvas/core/domain/events"
	"github.com/threatcanvas/core/domain/graph"
	"github.com/threatcanvas/core/domain/preset"
	pkgerrors "github.com/threatcanvas/core/pkg/errors"
)

// testPreset declares two node types and three relationships with different
// multiplicities, enough to exercise every invariant the store enforces.
func testPreset() *preset.Preset {
	return &preset.Preset{
		ID:      "infra",
		Version: preset.CurrentVersion,
		Name:    "Infrastructure",
		NodeTypes: []preset.NodeTypeDefinition{
			{
				ID:    "component",
				Name:  "Component",
				Class: "workload",
				Properties: []preset.PropertyDefinition{
					{Name: "name", Type: preset.PropertyString, Required: true},
					{Name: "replicas", Type: preset.PropertyNumber},
				},
			},
			{
				ID:   "datastore",
				Name: "Datastore",
				Properties: []preset.PropertyDefinition{
					{Name: "name", Type: preset.PropertyString, Required: true},
				},
			},
		},
		Relationships: []preset.RelationshipDefinition{
			{
				ID:           "depends-on",
				Name:         "Depends On",
				SourceTypes:  []string{"component"},
				TargetTypes:  []string{"datastore"},
				Multiplicity: preset.OneToMany,
				Directed:     true,
			},
			{
				ID:           "paired-with",
				Name:         "Paired With",
				SourceTypes:  []string{"component"},
				TargetTypes:  []string{"component"},
				Multiplicity: preset.OneToOne,
				Directed:     true,
			},
			{
				ID:           "talks-to",
				Name:         "Talks To",
				SourceTypes:  []string{"component"},
				TargetTypes:  []string{"component", "datastore"},
				Multiplicity: preset.ManyToMany,
				Directed:     true,
			},
		},
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(testPreset(), "test document", Config{}, nil, nil)
}

func component(id string) graph.Node {
	return graph.Node{
		ID:         id,
		TypeID:     "component",
		Properties: map[string]interface{}{"name": id},
	}
}

func datastore(id string) graph.Node {
	return graph.Node{
		ID:         id,
		TypeID:     "datastore",
		Properties: map[string]interface{}{"name": id},
	}
}

func edge(id, typeID, src, tgt string) graph.Edge {
	return graph.Edge{ID: id, TypeID: typeID, SourceID: src, TargetID: tgt}
}

func mustApply(t *testing.T, s *Store, m graph.Mutation) *graph.Document {
	t.Helper()
	doc, err := s.Apply(m)
	require.NoError(t, err)
	return doc
}

func TestApplyAddNode(t *testing.T) {
	t.Run("valid node commits and is visible in the snapshot", func(t *testing.T) {
		s := newTestStore(t)

		doc := mustApply(t, s, graph.AddNode{Node: component("api")})

		require.Contains(t, doc.Nodes, "api")
		assert.Equal(t, "component", doc.Nodes["api"].TypeID)

		undo, redo := s.HistoryLen()
		assert.Equal(t, 1, undo)
		assert.Equal(t, 0, redo)
	})

	t.Run("undeclared type is rejected and the document is unchanged", func(t *testing.T) {
		s := newTestStore(t)
		before := s.Snapshot()

		_, err := s.Apply(graph.AddNode{Node: graph.Node{
			ID:         "x",
			TypeID:     "mainframe",
			Properties: map[string]interface{}{"name": "x"},
		}})

		require.Error(t, err)
		assert.ErrorIs(t, err, pkgerrors.ErrUndeclaredType)
		assert.Equal(t, before, s.Snapshot())

		undo, _ := s.HistoryLen()
		assert.Zero(t, undo, "rejected mutations must not enter history")
	})

	t.Run("missing required property is rejected", func(t *testing.T) {
		s := newTestStore(t)

		_, err := s.Apply(graph.AddNode{Node: graph.Node{ID: "x", TypeID: "component"}})

		require.Error(t, err)
		verrs, ok := err.(*pkgerrors.ValidationErrors)
		require.True(t, ok)
		assert.Contains(t, verrs.ToMap(), "properties.name")
	})

	t.Run("property of the wrong type is rejected", func(t *testing.T) {
		s := newTestStore(t)

		_, err := s.Apply(graph.AddNode{Node: graph.Node{
			ID:     "x",
			TypeID: "component",
			Properties: map[string]interface{}{
				"name":     "x",
				"replicas": "three",
			},
		}})

		require.Error(t, err)
	})

	t.Run("duplicate id is rejected", func(t *testing.T) {
		s := newTestStore(t)
		mustApply(t, s, graph.AddNode{Node: component("api")})

		_, err := s.Apply(graph.AddNode{Node: component("api")})

		assert.ErrorIs(t, err, pkgerrors.ErrDuplicateID)
	})
}

func TestApplyAddEdge(t *testing.T) {
	t.Run("dangling endpoint is rejected", func(t *testing.T) {
		s := newTestStore(t)
		mustApply(t, s, graph.AddNode{Node: component("api")})

		_, err := s.Apply(graph.AddEdge{Edge: edge("e1", "depends-on", "api", "nowhere")})

		assert.ErrorIs(t, err, pkgerrors.ErrDanglingReference)
	})

	t.Run("endpoint type must match the relationship declaration", func(t *testing.T) {
		s := newTestStore(t)
		mustApply(t, s, graph.AddNode{Node: datastore("db")})
		mustApply(t, s, graph.AddNode{Node: datastore("cache")})

		_, err := s.Apply(graph.AddEdge{Edge: edge("e1", "depends-on", "db", "cache")})

		assert.ErrorIs(t, err, pkgerrors.ErrEndpointTypeMismatch)
	})

	t.Run("one-to-many caps the target in-degree at one", func(t *testing.T) {
		s := newTestStore(t)
		mustApply(t, s, graph.AddNode{Node: component("api")})
		mustApply(t, s, graph.AddNode{Node: component("worker")})
		mustApply(t, s, graph.AddNode{Node: datastore("db")})
		mustApply(t, s, graph.AddNode{Node: datastore("cache")})
		mustApply(t, s, graph.AddEdge{Edge: edge("e1", "depends-on", "api", "db")})

		// Same source fanning out to a second target is fine.
		mustApply(t, s, graph.AddEdge{Edge: edge("e2", "depends-on", "api", "cache")})

		// A second edge into the already-claimed target is not.
		_, err := s.Apply(graph.AddEdge{Edge: edge("e3", "depends-on", "worker", "db")})
		assert.ErrorIs(t, err, pkgerrors.ErrMultiplicityViolation)
	})

	t.Run("one-to-one caps both endpoints", func(t *testing.T) {
		s := newTestStore(t)
		mustApply(t, s, graph.AddNode{Node: component("a")})
		mustApply(t, s, graph.AddNode{Node: component("b")})
		mustApply(t, s, graph.AddNode{Node: component("c")})
		mustApply(t, s, graph.AddEdge{Edge: edge("e1", "paired-with", "a", "b")})

		_, err := s.Apply(graph.AddEdge{Edge: edge("e2", "paired-with", "a", "c")})
		assert.ErrorIs(t, err, pkgerrors.ErrMultiplicityViolation)

		_, err = s.Apply(graph.AddEdge{Edge: edge("e3", "paired-with", "c", "b")})
		assert.ErrorIs(t, err, pkgerrors.ErrMultiplicityViolation)
	})

	t.Run("self loops are rejected unless the preset allows them", func(t *testing.T) {
		s := newTestStore(t)
		mustApply(t, s, graph.AddNode{Node: component("api")})

		_, err := s.Apply(graph.AddEdge{Edge: edge("e1", "talks-to", "api", "api")})

		require.Error(t, err)
		de := pkgerrors.GetDomainError(err)
		require.NotNil(t, de)
		assert.Equal(t, "SELF_LOOP", de.Code)
	})

	t.Run("duplicate parallel edge of the same type is rejected", func(t *testing.T) {
		s := newTestStore(t)
		mustApply(t, s, graph.AddNode{Node: component("api")})
		mustApply(t, s, graph.AddNode{Node: datastore("db")})
		mustApply(t, s, graph.AddEdge{Edge: edge("e1", "talks-to", "api", "db")})

		_, err := s.Apply(graph.AddEdge{Edge: edge("e2", "talks-to", "api", "db")})

		assert.ErrorIs(t, err, pkgerrors.ErrDuplicateID)
	})

	t.Run("update edge replaces properties and inverts exactly", func(t *testing.T) {
		s := newTestStore(t)
		mustApply(t, s, graph.AddNode{Node: component("api")})
		mustApply(t, s, graph.AddNode{Node: datastore("db")})
		mustApply(t, s, graph.AddEdge{Edge: edge("e1", "depends-on", "api", "db")})
		before := s.Snapshot()

		doc := mustApply(t, s, graph.UpdateEdge{
			ID:         "e1",
			Properties: map[string]interface{}{"latency": "low"},
		})
		assert.Equal(t, "low", doc.Edges["e1"].Properties["latency"])

		after, err := s.Undo()
		require.NoError(t, err)
		assert.Equal(t, before, after)

		_, err = s.Apply(graph.UpdateEdge{ID: "missing"})
		assert.ErrorIs(t, err, pkgerrors.ErrEdgeNotFound)
	})

	t.Run("inferred edges cannot be stored", func(t *testing.T) {
		s := newTestStore(t)
		mustApply(t, s, graph.AddNode{Node: component("api")})
		mustApply(t, s, graph.AddNode{Node: datastore("db")})

		e := edge("e1", "depends-on", "api", "db")
		e.Inferred = true
		_, err := s.Apply(graph.AddEdge{Edge: e})

		require.Error(t, err)
	})
}

func TestUndoRedo(t *testing.T) {
	t.Run("undo restores the exact prior document", func(t *testing.T) {
		s := newTestStore(t)
		mustApply(t, s, graph.AddNode{Node: component("api")})
		before := s.Snapshot()

		mustApply(t, s, graph.AddNode{Node: datastore("db")})
		mustApply(t, s, graph.AddEdge{Edge: edge("e1", "depends-on", "api", "db")})

		_, err := s.Undo()
		require.NoError(t, err)
		after, err := s.Undo()
		require.NoError(t, err)

		assert.Equal(t, before, after)
	})

	t.Run("redo replays the undone mutation", func(t *testing.T) {
		s := newTestStore(t)
		mustApply(t, s, graph.AddNode{Node: component("api")})
		after := s.Snapshot()

		_, err := s.Undo()
		require.NoError(t, err)
		redone, err := s.Redo()
		require.NoError(t, err)

		assert.Equal(t, after, redone)
	})

	t.Run("a new mutation clears the redo stack", func(t *testing.T) {
		s := newTestStore(t)
		mustApply(t, s, graph.AddNode{Node: component("api")})
		_, err := s.Undo()
		require.NoError(t, err)

		mustApply(t, s, graph.AddNode{Node: component("worker")})

		_, err = s.Redo()
		assert.ErrorIs(t, err, pkgerrors.ErrNothingToRedo)
	})

	t.Run("empty stacks report typed errors", func(t *testing.T) {
		s := newTestStore(t)

		_, err := s.Undo()
		assert.ErrorIs(t, err, pkgerrors.ErrNothingToUndo)

		_, err = s.Redo()
		assert.ErrorIs(t, err, pkgerrors.ErrNothingToRedo)
	})

	t.Run("update node undo restores the previous properties and position", func(t *testing.T) {
		s := newTestStore(t)
		mustApply(t, s, graph.AddNode{Node: component("api")})
		before := s.Snapshot()

		mustApply(t, s, graph.UpdateNode{
			ID:         "api",
			Properties: map[string]interface{}{"name": "api", "replicas": 3},
			Position:   &graph.Position{X: 10, Y: 20},
		})

		after, err := s.Undo()
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})

	t.Run("remove node cascade restores node and edges on a single undo", func(t *testing.T) {
		s := newTestStore(t)
		mustApply(t, s, graph.AddNode{Node: component("api")})
		mustApply(t, s, graph.AddNode{Node: datastore("db")})
		mustApply(t, s, graph.AddNode{Node: datastore("cache")})
		mustApply(t, s, graph.AddEdge{Edge: edge("e1", "depends-on", "api", "db")})
		mustApply(t, s, graph.AddEdge{Edge: edge("e2", "depends-on", "api", "cache")})
		before := s.Snapshot()

		doc := mustApply(t, s, graph.RemoveNode{ID: "api"})
		assert.NotContains(t, doc.Nodes, "api")
		assert.Empty(t, doc.Edges, "incident edges must cascade")

		after, err := s.Undo()
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})

	t.Run("history is bounded and evicts the oldest entry first", func(t *testing.T) {
		s := New(testPreset(), "bounded", Config{HistoryDepth: 3}, nil, nil)

		for i := 0; i < 5; i++ {
			mustApply(t, s, graph.AddNode{Node: component(fmt.Sprintf("n%d", i))})
		}

		undo, _ := s.HistoryLen()
		assert.Equal(t, 3, undo)

		// Only the three newest mutations can be undone.
		for i := 0; i < 3; i++ {
			_, err := s.Undo()
			require.NoError(t, err)
		}
		_, err := s.Undo()
		assert.ErrorIs(t, err, pkgerrors.ErrNothingToUndo)

		doc := s.Snapshot()
		assert.Contains(t, doc.Nodes, "n0")
		assert.Contains(t, doc.Nodes, "n1")
		assert.NotContains(t, doc.Nodes, "n2")
	})

	t.Run("history replays committed values, not the caller's live maps", func(t *testing.T) {
		s := newTestStore(t)
		props := map[string]interface{}{"name": "api"}
		mustApply(t, s, graph.AddNode{Node: graph.Node{
			ID:         "api",
			TypeID:     "component",
			Properties: props,
		}})

		props["name"] = "mutated"

		_, err := s.Undo()
		require.NoError(t, err)
		doc, err := s.Redo()
		require.NoError(t, err)

		assert.Equal(t, "api", doc.Nodes["api"].Properties["name"])
	})

	t.Run("subscribers may call back into the store", func(t *testing.T) {
		publisher := events.NewPublisher()
		s := New(testPreset(), "reentrant", Config{}, publisher, nil)

		// The kind of handler a UI hangs off documentChanged: it reads the
		// store again to refresh undo/redo button state.
		var undoDepths []int
		publisher.Subscribe(func(e events.Event) {
			if _, ok := e.(events.DocumentChanged); ok {
				undo, _ := s.HistoryLen()
				s.Snapshot()
				undoDepths = append(undoDepths, undo)
			}
		})

		mustApply(t, s, graph.AddNode{Node: component("api")})
		_, err := s.Undo()
		require.NoError(t, err)
		_, err = s.Redo()
		require.NoError(t, err)

		assert.Equal(t, []int{1, 0, 1}, undoDepths)
	})

	t.Run("snapshots are isolated from later mutations", func(t *testing.T) {
		s := newTestStore(t)
		mustApply(t, s, graph.AddNode{Node: component("api")})
		snap := s.Snapshot()

		mustApply(t, s, graph.UpdateNode{
			ID:         "api",
			Properties: map[string]interface{}{"name": "renamed"},
		})

		assert.Equal(t, "api", snap.Nodes["api"].Properties["name"])
	})
}

func TestApplyBatch(t *testing.T) {
	t.Run("batch commits as one history entry", func(t *testing.T) {
		s := newTestStore(t)

		doc := mustApply(t, s, graph.Batch{
			Name: "seed",
			Mutations: []graph.Mutation{
				graph.AddNode{Node: component("api")},
				graph.AddNode{Node: datastore("db")},
				graph.AddEdge{Edge: edge("e1", "depends-on", "api", "db")},
			},
		})

		assert.Len(t, doc.Nodes, 2)
		assert.Len(t, doc.Edges, 1)

		undo, _ := s.HistoryLen()
		assert.Equal(t, 1, undo)

		after, err := s.Undo()
		require.NoError(t, err)
		assert.Empty(t, after.Nodes)
		assert.Empty(t, after.Edges)
	})

	t.Run("a failing member rejects the whole batch", func(t *testing.T) {
		s := newTestStore(t)
		before := s.Snapshot()

		_, err := s.Apply(graph.Batch{
			Name: "seed",
			Mutations: []graph.Mutation{
				graph.AddNode{Node: component("api")},
				graph.AddEdge{Edge: edge("e1", "depends-on", "api", "missing")},
			},
		})

		require.Error(t, err)
		de := pkgerrors.GetDomainError(err)
		require.NotNil(t, de)
		assert.Equal(t, 1, de.Details["batch_index"])
		assert.Equal(t, before, s.Snapshot())
	})

	t.Run("later members see earlier members", func(t *testing.T) {
		s := newTestStore(t)

		doc := mustApply(t, s, graph.Batch{
			Name: "chain",
			Mutations: []graph.Mutation{
				graph.AddNode{Node: component("api")},
				graph.AddNode{Node: datastore("db")},
				graph.AddEdge{Edge: edge("e1", "depends-on", "api", "db")},
				graph.RemoveEdge{ID: "e1"},
			},
		})

		assert.Empty(t, doc.Edges)
	})
}

func TestBehaviorLimits(t *testing.T) {
	t.Run("max nodes is enforced", func(t *testing.T) {
		p := testPreset()
		p.Behavior.MaxNodes = 1
		s := New(p, "limited", Config{}, nil, nil)

		mustApply(t, s, graph.AddNode{Node: component("a")})
		_, err := s.Apply(graph.AddNode{Node: component("b")})

		require.Error(t, err)
		de := pkgerrors.GetDomainError(err)
		require.NotNil(t, de)
		assert.Equal(t, "NODE_LIMIT_EXCEEDED", de.Code)
	})

	t.Run("self loops allowed when the preset opts in", func(t *testing.T) {
		p := testPreset()
		p.Behavior.AllowSelfLoops = true
		s := New(p, "loops", Config{}, nil, nil)

		mustApply(t, s, graph.AddNode{Node: component("api")})
		doc := mustApply(t, s, graph.AddEdge{Edge: edge("e1", "talks-to", "api", "api")})

		assert.Contains(t, doc.Edges, "e1")
	})
}
