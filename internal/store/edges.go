package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rendis/weft/pkg/schema"
)

const edgeColumns = `id, from_node, to_node, label, routing, source_handle, target_handle, created_at`

func (s *LibSQLStore) ListEdges(ctx context.Context, projectID string) ([]*schema.Edge, error) {
	return listEdges(ctx, s.db, projectID)
}

func listEdges(ctx context.Context, q dbtx, projectID string) ([]*schema.Edge, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+edgeColumns+` FROM edges WHERE project_id = ? ORDER BY id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEdges(rows)
}

func listEdgesFrom(ctx context.Context, q dbtx, projectID, nodeID string) ([]*schema.Edge, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+edgeColumns+` FROM edges WHERE project_id = ? AND from_node = ? ORDER BY id`,
		projectID, nodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEdges(rows)
}

func collectEdges(rows *sql.Rows) ([]*schema.Edge, error) {
	var edges []*schema.Edge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

func scanEdge(scanner interface{ Scan(dest ...any) error }) (*schema.Edge, error) {
	e := &schema.Edge{}
	var rowID int64
	err := scanner.Scan(&rowID, &e.From, &e.To, &e.Label, &e.Routing,
		&e.SourceHandle, &e.TargetHandle, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.ID = fmt.Sprintf("e%d", rowID)
	return e, nil
}

// CreateEdge connects two nodes. Both endpoints must exist. A second call
// with the same (from, to, source_handle, target_handle) tuple — absent
// handles compare equal — is reported as a duplicate, not an error, and
// inserts nothing.
func (s *LibSQLStore) CreateEdge(ctx context.Context, projectID string, input schema.EdgeInput) (*schema.CreateEdgeResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := getNode(ctx, tx, projectID, input.From); err != nil {
		return nil, err
	}
	if _, err := getNode(ctx, tx, projectID, input.To); err != nil {
		return nil, err
	}

	var existing int64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM edges WHERE project_id = ? AND from_node = ? AND to_node = ?
		 AND source_handle = ? AND target_handle = ?`,
		projectID, input.From, input.To, input.SourceHandle, input.TargetHandle,
	).Scan(&existing)
	switch {
	case err == nil:
		// Benign race: double-click connect. Leave the store untouched.
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit duplicate edge: %w", err)
		}
		view, err := s.ProjectView(ctx, projectID)
		if err != nil {
			return nil, err
		}
		return &schema.CreateEdgeResult{
			Status:  schema.EdgeDuplicate,
			Notice:  fmt.Sprintf("nodes %s and %s are already connected", input.From, input.To),
			Project: view,
		}, nil
	case err != sql.ErrNoRows:
		return nil, err
	}

	if err := insertEdge(ctx, tx, projectID, input); err != nil {
		return nil, err
	}
	if _, err := touchProject(ctx, tx, projectID); err != nil {
		return nil, err
	}
	if err := syncConnections(ctx, tx, projectID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create edge: %w", err)
	}
	s.logOp(ctx, projectID, input.From, "create_edge", "edge created")

	view, err := s.ProjectView(ctx, projectID)
	if err != nil {
		return nil, err
	}
	var created *schema.Edge
	for _, e := range view.Edges {
		if e.From == input.From && e.To == input.To &&
			e.SourceHandle == input.SourceHandle && e.TargetHandle == input.TargetHandle {
			created = e
			break
		}
	}
	return &schema.CreateEdgeResult{Status: schema.EdgeCreated, Edge: created, Project: view}, nil
}

func insertEdge(ctx context.Context, q dbtx, projectID string, input schema.EdgeInput) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO edges (project_id, from_node, to_node, label, routing, source_handle, target_handle)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		projectID, input.From, input.To, input.Label, input.Routing,
		input.SourceHandle, input.TargetHandle,
	)
	if err != nil && isUniqueViolation(err) {
		return schema.NewErrorf(schema.ErrCodeConflict,
			"edge %s -> %s already exists", input.From, input.To)
	}
	return err
}

// DeleteEdge removes every edge between the ordered pair, any handle
// combination included. Removing a non-existent edge is a no-op, not an
// error: bulk node deletions may have cascaded the row away already.
func (s *LibSQLStore) DeleteEdge(ctx context.Context, projectID, from, to string) (*schema.DeleteEdgeResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM edges WHERE project_id = ? AND from_node = ? AND to_node = ?`,
		projectID, from, to)
	if err != nil {
		return nil, err
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}

	result := &schema.DeleteEdgeResult{Status: schema.EdgeDeleted}
	if removed == 0 {
		result.Status = schema.EdgeAbsent
		result.Notice = fmt.Sprintf("no edge %s -> %s to remove", from, to)
	} else {
		if _, err := touchProject(ctx, tx, projectID); err != nil {
			return nil, err
		}
		if err := syncConnections(ctx, tx, projectID); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit delete edge: %w", err)
	}
	if removed > 0 {
		s.logOp(ctx, projectID, from, "delete_edge", "edge deleted")
	}

	view, err := s.ProjectView(ctx, projectID)
	if err != nil {
		return nil, err
	}
	result.Project = view
	return result, nil
}

// syncConnections rewrites every node's cached connection summary from the
// authoritative edges table. Runs inside the mutating transaction so the
// cache can never be observed out of step with the edge set it mirrors.
func syncConnections(ctx context.Context, q dbtx, projectID string) error {
	edges, err := listEdges(ctx, q, projectID)
	if err != nil {
		return err
	}
	ids, err := listNodeIDs(ctx, q, projectID)
	if err != nil {
		return err
	}

	byNode := make(map[string]*schema.Connections, len(ids))
	for _, id := range ids {
		byNode[id] = &schema.Connections{
			Incoming: []schema.IncomingRef{},
			Outgoing: []schema.OutgoingRef{},
		}
	}
	for _, e := range edges {
		if c, ok := byNode[e.To]; ok {
			c.Incoming = append(c.Incoming, schema.IncomingRef{EdgeID: e.ID, From: e.From, Routing: e.Routing})
		}
		if c, ok := byNode[e.From]; ok {
			c.Outgoing = append(c.Outgoing, schema.OutgoingRef{EdgeID: e.ID, To: e.To, Routing: e.Routing})
		}
	}

	for id, conns := range byNode {
		raw, err := json.Marshal(conns)
		if err != nil {
			return fmt.Errorf("marshal connections: %w", err)
		}
		if _, err := q.ExecContext(ctx,
			`UPDATE nodes SET connections = ? WHERE project_id = ? AND id = ?`,
			string(raw), projectID, id); err != nil {
			return err
		}
	}
	return nil
}
