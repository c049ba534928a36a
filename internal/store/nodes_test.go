package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/weft/pkg/schema"
)

func TestCreateNode_GeneratedIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProject(t, s)

	first, err := s.CreateNode(ctx, p.ID, schema.NodeInput{Type: "text", Title: "Opening Scene"}, CreateNodeOptions{})
	require.NoError(t, err)
	second, err := s.CreateNode(ctx, p.ID, schema.NodeInput{Type: "text", Title: "Opening Scene"}, CreateNodeOptions{})
	require.NoError(t, err)

	assert.Regexp(t, `^n\d+_`, first.Node.ID)
	assert.Regexp(t, `^n\d+_`, second.Node.ID)
	assert.NotEqual(t, first.Node.ID, second.Node.ID)
	assert.Equal(t, "n1_opening-scene", first.Node.ID)
	assert.Equal(t, "n2_opening-scene", second.Node.ID)
}

func TestCreateNode_SequenceSkipsExisting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProject(t, s)

	seedNode(t, s, p.ID, schema.NodeInput{ID: "n7_custom", Type: "text"})
	res, err := s.CreateNode(ctx, p.ID, schema.NodeInput{Type: "text", Title: "next"}, CreateNodeOptions{})
	require.NoError(t, err)
	assert.Equal(t, "n8_next", res.Node.ID)
}

func TestCreateNode_ExplicitIDConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProject(t, s)
	seedNode(t, s, p.ID, schema.NodeInput{ID: "mine", Type: "text"})

	_, err := s.CreateNode(ctx, p.ID, schema.NodeInput{ID: "mine", Type: "text"}, CreateNodeOptions{})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeConflict, schema.ErrCode(err))
}

func TestCreateNode_UnknownProject(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateNode(context.Background(), "ghost", schema.NodeInput{Type: "text"}, CreateNodeOptions{})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, schema.ErrCode(err))
}

func TestCreateNode_PositionSeedsBBox(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProject(t, s)

	t.Run("default extent", func(t *testing.T) {
		res, err := s.CreateNode(ctx, p.ID, schema.NodeInput{Type: "text"},
			CreateNodeOptions{Position: &schema.Point{X: 50, Y: 60}})
		require.NoError(t, err)
		box := res.Node.UI.BBox
		assert.Equal(t, 50.0, box.X1)
		assert.Equal(t, 60.0, box.Y1)
		assert.Equal(t, schema.DefaultNodeWidth, box.Width())
		assert.Equal(t, schema.DefaultNodeHeight, box.Height())
	})

	t.Run("explicit extent preserved", func(t *testing.T) {
		res, err := s.CreateNode(ctx, p.ID, schema.NodeInput{
			Type: "text",
			UI:   map[string]any{"bbox": map[string]any{"x1": 0.0, "y1": 0.0, "x2": 400.0, "y2": 90.0}},
		}, CreateNodeOptions{Position: &schema.Point{X: 10, Y: 20}})
		require.NoError(t, err)
		box := res.Node.UI.BBox
		assert.Equal(t, 10.0, box.X1)
		assert.Equal(t, 20.0, box.Y1)
		assert.Equal(t, 400.0, box.Width())
		assert.Equal(t, 90.0, box.Height())
	})
}

func TestCreateNode_BumpsProjectUpdatedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProject(t, s)

	res, err := s.CreateNode(ctx, p.ID, schema.NodeInput{Type: "text"}, CreateNodeOptions{})
	require.NoError(t, err)

	got, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, res.ProjectUpdatedAt.Unix(), got.UpdatedAt.Unix())
}

func TestUpdateNode_PatchSemantics(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProject(t, s)
	n := seedNode(t, s, p.ID, schema.NodeInput{
		Type: "text", Title: "draft", Content: "hello",
		Metadata: map[string]any{"pinned": true},
	})

	t.Run("value replaces", func(t *testing.T) {
		res, err := s.UpdateNode(ctx, p.ID, n.ID, schema.NodePatch{Title: json.RawMessage(`"final"`)})
		require.NoError(t, err)
		assert.Equal(t, "final", res.Node.Title)
		assert.Equal(t, "hello", res.Node.Content, "omitted fields keep stored values")
	})

	t.Run("null resets", func(t *testing.T) {
		res, err := s.UpdateNode(ctx, p.ID, n.ID, schema.NodePatch{Metadata: json.RawMessage("null")})
		require.NoError(t, err)
		assert.Empty(t, res.Node.Metadata)
	})

	t.Run("unknown node", func(t *testing.T) {
		_, err := s.UpdateNode(ctx, p.ID, "ghost", schema.NodePatch{})
		require.Error(t, err)
		assert.Equal(t, schema.ErrCodeNotFound, schema.ErrCode(err))
	})
}

func TestUpdateNode_TextOperations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProject(t, s)
	n := seedNode(t, s, p.ID, schema.NodeInput{Type: "text", Content: "hello world"})

	res, err := s.UpdateNode(ctx, p.ID, n.ID, schema.NodePatch{
		TextOps: []schema.TextOp{schema.Retain(6), schema.Delete(5), schema.Insert("there")},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello there", res.Node.Content)

	t.Run("out of bounds rolls back", func(t *testing.T) {
		_, err := s.UpdateNode(ctx, p.ID, n.ID, schema.NodePatch{
			TextOps: []schema.TextOp{schema.Retain(999)},
		})
		require.Error(t, err)
		assert.Equal(t, schema.ErrCodeInvalidOperation, schema.ErrCode(err))

		got, err := s.GetNode(ctx, p.ID, n.ID)
		require.NoError(t, err)
		assert.Equal(t, "hello there", got.Content, "failed patch must not change content")
	})
}

func TestUpdateNode_OrphanedPortsDropEdges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProject(t, s)

	gen := seedNode(t, s, p.ID, schema.NodeInput{
		Type: "ai", Title: "gen",
		Config: map[string]any{"ai": map[string]any{"outputs": []any{"out_a", "out_b"}}},
	})
	sink := seedNode(t, s, p.ID, schema.NodeInput{Type: "text", Title: "sink"})

	_, err := s.CreateEdge(ctx, p.ID, schema.EdgeInput{From: gen.ID, To: sink.ID, SourceHandle: "out_a"})
	require.NoError(t, err)
	_, err = s.CreateEdge(ctx, p.ID, schema.EdgeInput{From: gen.ID, To: sink.ID, SourceHandle: "out_b"})
	require.NoError(t, err)

	// Replace the port list, keeping only out_b.
	_, err = s.UpdateNode(ctx, p.ID, gen.ID, schema.NodePatch{
		Config: json.RawMessage(`{"ai":{"outputs":["out_b"]}}`),
	})
	require.NoError(t, err)

	edges, err := s.ListEdges(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "out_b", edges[0].SourceHandle)
}

func TestDeleteNode_Cascade(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProject(t, s)
	a := seedNode(t, s, p.ID, schema.NodeInput{Type: "text", Title: "a"})
	b := seedNode(t, s, p.ID, schema.NodeInput{Type: "text", Title: "b"})
	c := seedNode(t, s, p.ID, schema.NodeInput{Type: "text", Title: "c"})

	for _, e := range []schema.EdgeInput{{From: a.ID, To: b.ID}, {From: b.ID, To: c.ID}, {From: c.ID, To: b.ID}} {
		_, err := s.CreateEdge(ctx, p.ID, e)
		require.NoError(t, err)
	}
	require.NoError(t, s.AppendRun(ctx, p.ID, &schema.Run{NodeID: b.ID, Status: "completed"}))
	require.NoError(t, s.PutAsset(ctx, p.ID, &schema.Asset{NodeID: b.ID, Kind: "export", URI: "file:///b.md"}))

	require.NoError(t, s.DeleteNode(ctx, p.ID, b.ID))

	_, err := s.GetNode(ctx, p.ID, b.ID)
	assert.Equal(t, schema.ErrCodeNotFound, schema.ErrCode(err))

	edges, err := s.ListEdges(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, edges, "no edge touching the node survives, either direction")

	runs, err := s.ListRuns(ctx, p.ID, b.ID)
	require.NoError(t, err)
	assert.Empty(t, runs)
	assets, err := s.ListAssets(ctx, p.ID, b.ID)
	require.NoError(t, err)
	assert.Empty(t, assets)
}

func TestDeleteNode_NotFound(t *testing.T) {
	s := newTestStore(t)
	p := seedProject(t, s)
	err := s.DeleteNode(context.Background(), p.ID, "ghost")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, schema.ErrCode(err))
}

func TestCloneNode_Basic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProject(t, s)
	src := seedNode(t, s, p.ID, schema.NodeInput{
		Type: "ai", Title: "summarizer", Content: "prompt text",
		Config: map[string]any{"ai": map[string]any{"model": "gpt"}},
	})
	out := seedNode(t, s, p.ID, schema.NodeInput{Type: "text", Title: "out"})
	_, err := s.CreateEdge(ctx, p.ID, schema.EdgeInput{From: src.ID, To: out.ID, Label: "result"})
	require.NoError(t, err)

	clone, err := s.CloneNode(ctx, p.ID, src.ID, CloneOptions{})
	require.NoError(t, err)

	assert.Equal(t, src.ID+"_clone_01", clone.ID)
	assert.Equal(t, "summarizer"+CloneTitleSuffix, clone.Title)
	assert.Equal(t, "prompt text", clone.Content)
	assert.Equal(t, src.Config, clone.Config)

	// Outgoing edges copied with metadata preserved.
	require.Len(t, clone.Connections.Outgoing, 1)
	assert.Equal(t, out.ID, clone.Connections.Outgoing[0].To)

	// Source untouched.
	after, err := s.GetNode(ctx, p.ID, src.ID)
	require.NoError(t, err)
	assert.Equal(t, src.Title, after.Title)
	assert.Equal(t, src.Content, after.Content)
}

func TestCloneNode_CounterProbesUpward(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProject(t, s)
	src := seedNode(t, s, p.ID, schema.NodeInput{ID: "base", Type: "text"})

	first, err := s.CloneNode(ctx, p.ID, src.ID, CloneOptions{})
	require.NoError(t, err)
	second, err := s.CloneNode(ctx, p.ID, src.ID, CloneOptions{})
	require.NoError(t, err)

	assert.Equal(t, "base_clone_01", first.ID)
	assert.Equal(t, "base_clone_02", second.ID)
}

func TestCloneNode_SubtreeOneLevel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProject(t, s)
	root := seedNode(t, s, p.ID, schema.NodeInput{ID: "root", Type: "text"})
	child := seedNode(t, s, p.ID, schema.NodeInput{ID: "child", Type: "text"})
	grandchild := seedNode(t, s, p.ID, schema.NodeInput{ID: "grandchild", Type: "text"})
	_, err := s.CreateEdge(ctx, p.ID, schema.EdgeInput{From: root.ID, To: child.ID})
	require.NoError(t, err)
	_, err = s.CreateEdge(ctx, p.ID, schema.EdgeInput{From: child.ID, To: grandchild.ID})
	require.NoError(t, err)

	clone, err := s.CloneNode(ctx, p.ID, root.ID, CloneOptions{IncludeSubtree: true})
	require.NoError(t, err)

	// Direct child cloned and rewired under the top-level clone.
	require.Len(t, clone.Connections.Outgoing, 1)
	childCloneID := clone.Connections.Outgoing[0].To
	assert.Equal(t, "child_clone_01", childCloneID)

	// The cloned child keeps wiring to the original grandchild: only one
	// level is subtree-cloned.
	childClone, err := s.GetNode(ctx, p.ID, childCloneID)
	require.NoError(t, err)
	require.Len(t, childClone.Connections.Outgoing, 1)
	assert.Equal(t, grandchild.ID, childClone.Connections.Outgoing[0].To)

	nodes, err := s.ListNodes(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, nodes, 5, "root, child, grandchild plus two clones")
}

func TestCloneNode_SubtreeOnLeafMatchesPlainClone(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProject(t, s)
	leaf := seedNode(t, s, p.ID, schema.NodeInput{ID: "leaf", Type: "text", Content: "x"})

	clone, err := s.CloneNode(ctx, p.ID, leaf.ID, CloneOptions{IncludeSubtree: true})
	require.NoError(t, err)

	nodes, err := s.ListNodes(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, nodes, 2)
	assert.Empty(t, clone.Connections.Outgoing)
}

func TestCloneNode_NotFound(t *testing.T) {
	s := newTestStore(t)
	p := seedProject(t, s)
	_, err := s.CloneNode(context.Background(), p.ID, "ghost", CloneOptions{})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, schema.ErrCode(err))
}
