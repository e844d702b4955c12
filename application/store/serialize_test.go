package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threatcanvas/core/domain/graph"
	pkgerrors "github.com/threatcanvas/core/pkg/errors"
)

func TestExportLoad(t *testing.T) {
	t.Run("export then load reproduces the document", func(t *testing.T) {
		src := newTestStore(t)
		mustApply(t, src, graph.AddNode{Node: component("api")})
		mustApply(t, src, graph.AddNode{Node: datastore("db")})
		mustApply(t, src, graph.AddEdge{Edge: edge("e1", "depends-on", "api", "db")})

		data, err := src.Export()
		require.NoError(t, err)

		dst := New(testPreset(), "empty", Config{}, nil, nil)
		doc, err := dst.Load(data)
		require.NoError(t, err)

		assert.Equal(t, src.Snapshot(), doc)
		assert.Equal(t, "test document", doc.Metadata.Title)

		// The whole load is one history entry.
		undo, _ := dst.HistoryLen()
		assert.Equal(t, 1, undo)
	})

	t.Run("load replaces existing content", func(t *testing.T) {
		src := newTestStore(t)
		mustApply(t, src, graph.AddNode{Node: component("api")})
		data, err := src.Export()
		require.NoError(t, err)

		dst := New(testPreset(), "busy", Config{}, nil, nil)
		mustApply(t, dst, graph.AddNode{Node: component("old")})
		mustApply(t, dst, graph.AddNode{Node: datastore("db")})
		mustApply(t, dst, graph.AddEdge{Edge: edge("e0", "depends-on", "old", "db")})
		before := dst.Snapshot()

		doc, err := dst.Load(data)
		require.NoError(t, err)
		assert.Len(t, doc.Nodes, 1)
		assert.Contains(t, doc.Nodes, "api")
		assert.Empty(t, doc.Edges)

		// One undo restores the pre-load node/edge state.
		after, err := dst.Undo()
		require.NoError(t, err)
		assert.Equal(t, before.Nodes, after.Nodes)
		assert.Equal(t, before.Edges, after.Edges)
	})

	t.Run("export is deterministic", func(t *testing.T) {
		s := newTestStore(t)
		mustApply(t, s, graph.AddNode{Node: component("b")})
		mustApply(t, s, graph.AddNode{Node: component("a")})
		mustApply(t, s, graph.AddNode{Node: component("c")})

		first, err := s.Export()
		require.NoError(t, err)
		second, err := s.Export()
		require.NoError(t, err)

		assert.Equal(t, first, second)
	})

	t.Run("load rejects a document from a different preset", func(t *testing.T) {
		other := testPreset()
		other.ID = "other-preset"
		src := New(other, "foreign", Config{}, nil, nil)
		data, err := src.Export()
		require.NoError(t, err)

		dst := newTestStore(t)
		_, err = dst.Load(data)

		require.Error(t, err)
		de := pkgerrors.GetDomainError(err)
		require.NotNil(t, de)
		assert.Equal(t, "PRESET_MISMATCH", de.Code)
	})

	t.Run("load rejects malformed json", func(t *testing.T) {
		s := newTestStore(t)

		_, err := s.Load([]byte("{broken"))

		assert.ErrorIs(t, err, pkgerrors.ErrParse)
	})

	t.Run("load re-validates content against the preset", func(t *testing.T) {
		s := newTestStore(t)

		// A structurally valid export whose edge references a node type the
		// relationship does not accept.
		data := []byte(`{
			"metadata": {"presetId": "infra", "presetVersion": "2.0.0", "title": "bad"},
			"nodes": [
				{"id": "db", "typeId": "datastore", "properties": {"name": "db"}},
				{"id": "cache", "typeId": "datastore", "properties": {"name": "cache"}}
			],
			"edges": [
				{"id": "e1", "typeId": "depends-on", "sourceId": "db", "targetId": "cache"}
			]
		}`)

		_, err := s.Load(data)

		assert.ErrorIs(t, err, pkgerrors.ErrEndpointTypeMismatch)
	})
}
