package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/rendis/weft/pkg/schema"
)

// AppendRun records one execution run for a node. Runs are append-only; the
// only way they disappear is the node-deletion cascade.
func (s *LibSQLStore) AppendRun(ctx context.Context, projectID string, run *schema.Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if _, err := getNode(ctx, s.db, projectID, run.NodeID); err != nil {
		return err
	}
	output, err := marshalMapOrDefault(run.Output)
	if err != nil {
		return fmt.Errorf("marshal run output: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, project_id, node_id, status, output) VALUES (?, ?, ?, ?, ?)`,
		run.ID, projectID, run.NodeID, run.Status, string(output),
	)
	return err
}

func (s *LibSQLStore) ListRuns(ctx context.Context, projectID, nodeID string) ([]*schema.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, node_id, status, output, created_at FROM runs
		 WHERE project_id = ? AND node_id = ? ORDER BY created_at DESC`,
		projectID, nodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*schema.Run
	for rows.Next() {
		r := &schema.Run{}
		var output sql.NullString
		if err := rows.Scan(&r.ID, &r.NodeID, &r.Status, &output, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Output = mapOrNil(output)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// PutAsset attaches an external artifact record to a node.
func (s *LibSQLStore) PutAsset(ctx context.Context, projectID string, asset *schema.Asset) error {
	if asset.ID == "" {
		asset.ID = uuid.New().String()
	}
	if _, err := getNode(ctx, s.db, projectID, asset.NodeID); err != nil {
		return err
	}
	metadata, err := marshalMapOrDefault(asset.Metadata)
	if err != nil {
		return fmt.Errorf("marshal asset metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO assets (id, project_id, node_id, kind, uri, metadata) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET kind=excluded.kind, uri=excluded.uri, metadata=excluded.metadata`,
		asset.ID, projectID, asset.NodeID, asset.Kind, asset.URI, string(metadata),
	)
	return err
}

func (s *LibSQLStore) ListAssets(ctx context.Context, projectID, nodeID string) ([]*schema.Asset, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, node_id, kind, uri, metadata, created_at FROM assets
		 WHERE project_id = ? AND node_id = ? ORDER BY created_at DESC`,
		projectID, nodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []*schema.Asset
	for rows.Next() {
		a := &schema.Asset{}
		var metadata sql.NullString
		if err := rows.Scan(&a.ID, &a.NodeID, &a.Kind, &a.URI, &metadata, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Metadata = mapOrNil(metadata)
		assets = append(assets, a)
	}
	return assets, rows.Err()
}
