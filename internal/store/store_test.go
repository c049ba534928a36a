package store

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/weft/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedProject(t *testing.T, s *LibSQLStore) *schema.Project {
	t.Helper()
	p := &schema.Project{
		ID:    uuid.New().String(),
		Title: "test project",
	}
	require.NoError(t, s.CreateProject(context.Background(), p))
	return p
}

func seedNode(t *testing.T, s *LibSQLStore, projectID string, input schema.NodeInput) *schema.Node {
	t.Helper()
	res, err := s.CreateNode(context.Background(), projectID, input, CreateNodeOptions{})
	require.NoError(t, err)
	return res.Node
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Re-running past the recorded revision is a no-op.
	require.NoError(t, s.Migrate(ctx))

	var applied int
	require.NoError(t, s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM graph_revisions`).Scan(&applied))
	assert.Equal(t, len(revisions), applied)
}

func TestMutationLogging(t *testing.T) {
	s := newTestStore(t)
	p := seedProject(t, s)
	ctx := context.Background()

	var buf bytes.Buffer
	s.SetLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	res, err := s.CreateNode(ctx, p.ID, schema.NodeInput{Type: "text", Title: "scene"}, CreateNodeOptions{})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "node created")
	assert.Contains(t, out, "project_id="+p.ID)
	assert.Contains(t, out, "node_id="+res.Node.ID)
	assert.Contains(t, out, "op=create_node")

	buf.Reset()
	require.NoError(t, s.DeleteNode(ctx, p.ID, res.Node.ID))
	assert.Contains(t, buf.String(), "node deleted")
}

func TestCreateAndGetProject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &schema.Project{
		ID:          uuid.New().String(),
		Title:       "storyboard",
		Description: "a pipeline",
		Settings:    map[string]any{"theme": "dark"},
	}
	require.NoError(t, s.CreateProject(ctx, p))

	got, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "storyboard", got.Title)
	assert.Equal(t, "a pipeline", got.Description)
	assert.Equal(t, "dark", got.Settings["theme"])
}

func TestGetProject_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetProject(context.Background(), "nonexistent")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, schema.ErrCode(err))
}

func TestCreateProject_Conflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProject(t, s)

	err := s.CreateProject(ctx, &schema.Project{ID: p.ID, Title: "again"})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeConflict, schema.ErrCode(err))
}

func TestUpdateProject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProject(t, s)

	title := "renamed"
	require.NoError(t, s.UpdateProject(ctx, p.ID, ProjectUpdate{Title: &title}))

	got, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Title)
	assert.True(t, got.UpdatedAt.After(p.UpdatedAt) || got.UpdatedAt.Equal(p.UpdatedAt))
}

func TestDeleteProject_RemovesGraph(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProject(t, s)
	a := seedNode(t, s, p.ID, schema.NodeInput{Type: "text", Title: "a"})
	b := seedNode(t, s, p.ID, schema.NodeInput{Type: "text", Title: "b"})
	_, err := s.CreateEdge(ctx, p.ID, schema.EdgeInput{From: a.ID, To: b.ID})
	require.NoError(t, err)

	require.NoError(t, s.DeleteProject(ctx, p.ID))

	_, err = s.GetProject(ctx, p.ID)
	assert.Equal(t, schema.ErrCodeNotFound, schema.ErrCode(err))
	nodes, err := s.ListNodes(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestProjectView(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProject(t, s)
	a := seedNode(t, s, p.ID, schema.NodeInput{Type: "text", Title: "a"})
	b := seedNode(t, s, p.ID, schema.NodeInput{Type: "ai", Title: "b"})
	_, err := s.CreateEdge(ctx, p.ID, schema.EdgeInput{From: a.ID, To: b.ID})
	require.NoError(t, err)

	view, err := s.ProjectView(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, view.Project.ID)
	assert.Len(t, view.Nodes, 2)
	assert.Len(t, view.Edges, 1)
}

func TestRunsAndAssets(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProject(t, s)
	n := seedNode(t, s, p.ID, schema.NodeInput{Type: "ai", Title: "gen"})

	require.NoError(t, s.AppendRun(ctx, p.ID, &schema.Run{NodeID: n.ID, Status: "completed", Output: map[string]any{"text": "hi"}}))
	require.NoError(t, s.PutAsset(ctx, p.ID, &schema.Asset{NodeID: n.ID, Kind: "image", URI: "file:///out.png"}))

	runs, err := s.ListRuns(ctx, p.ID, n.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "completed", runs[0].Status)
	assert.Equal(t, "hi", runs[0].Output["text"])

	assets, err := s.ListAssets(ctx, p.ID, n.ID)
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, "image", assets[0].Kind)
}

func TestAppendRun_UnknownNode(t *testing.T) {
	s := newTestStore(t)
	p := seedProject(t, s)
	err := s.AppendRun(context.Background(), p.ID, &schema.Run{NodeID: "ghost", Status: "failed"})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, schema.ErrCode(err))
}
