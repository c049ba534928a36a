package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rendis/weft/pkg/schema"
)

// CreateSubgraph materializes a batch of nodes and wiring edges in a single
// transaction. Edges reference batch nodes by key and pre-existing nodes by
// id; any missing endpoint rolls the whole batch back. This is the write path
// the transformer uses, so a generated subtree either lands completely or not
// at all.
func (s *LibSQLStore) CreateSubgraph(ctx context.Context, projectID string, batch Subgraph) (*SubgraphResult, error) {
	if len(batch.Nodes) == 0 {
		return nil, schema.NewError(schema.ErrCodeInvalidInput, "subgraph has no nodes")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := getProject(ctx, tx, projectID); err != nil {
		return nil, err
	}

	result := &SubgraphResult{ByKey: make(map[string]*schema.Node, len(batch.Nodes))}
	for _, sn := range batch.Nodes {
		if sn.Key == "" {
			return nil, schema.NewError(schema.ErrCodeInvalidInput, "subgraph node without key")
		}
		if _, dup := result.ByKey[sn.Key]; dup {
			return nil, schema.NewErrorf(schema.ErrCodeInvalidInput, "duplicate subgraph key %q", sn.Key)
		}
		pos := sn.Position
		node, err := buildNode(sn.Input, CreateNodeOptions{Position: &pos})
		if err != nil {
			return nil, err
		}
		node.ID, err = resolveNodeID(ctx, tx, projectID, sn.Input.ID, slugSource(sn.Input))
		if err != nil {
			return nil, err
		}
		if err := insertNode(ctx, tx, projectID, node); err != nil {
			return nil, err
		}
		now := time.Now().UTC()
		node.CreatedAt = now
		node.UpdatedAt = now
		result.Nodes = append(result.Nodes, node)
		result.ByKey[sn.Key] = node
	}

	for _, se := range batch.Edges {
		from, err := resolveEndpoint(result.ByKey, se.FromKey, se.FromID)
		if err != nil {
			return nil, err
		}
		to, err := resolveEndpoint(result.ByKey, se.ToKey, se.ToID)
		if err != nil {
			return nil, err
		}
		if se.FromID != "" {
			if _, err := getNode(ctx, tx, projectID, se.FromID); err != nil {
				return nil, err
			}
		}
		if se.ToID != "" {
			if _, err := getNode(ctx, tx, projectID, se.ToID); err != nil {
				return nil, err
			}
		}
		input := schema.EdgeInput{
			From: from, To: to, Label: se.Label, Routing: se.Routing,
			SourceHandle: se.SourceHandle, TargetHandle: se.TargetHandle,
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO edges (project_id, from_node, to_node, label, routing, source_handle, target_handle)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			projectID, input.From, input.To, input.Label, input.Routing,
			input.SourceHandle, input.TargetHandle,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, schema.NewErrorf(schema.ErrCodeConflict,
					"edge %s -> %s already exists", input.From, input.To)
			}
			return nil, err
		}
		rowID, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		result.Edges = append(result.Edges, &schema.Edge{
			ID: fmt.Sprintf("e%d", rowID), From: from, To: to,
			Label: se.Label, Routing: se.Routing,
			SourceHandle: se.SourceHandle, TargetHandle: se.TargetHandle,
			CreatedAt: time.Now().UTC(),
		})
	}

	updatedAt, err := touchProject(ctx, tx, projectID)
	if err != nil {
		return nil, err
	}
	if err := syncConnections(ctx, tx, projectID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit subgraph: %w", err)
	}
	s.logOp(ctx, projectID, "", "create_subgraph", "subgraph created")
	result.ProjectUpdatedAt = updatedAt
	return result, nil
}

func resolveEndpoint(byKey map[string]*schema.Node, key, id string) (string, error) {
	switch {
	case key != "" && id != "":
		return "", schema.NewError(schema.ErrCodeInvalidInput, "edge endpoint has both key and id")
	case key != "":
		node, ok := byKey[key]
		if !ok {
			return "", schema.NewErrorf(schema.ErrCodeInvalidInput, "edge references unknown batch key %q", key)
		}
		return node.ID, nil
	case id != "":
		return id, nil
	default:
		return "", schema.NewError(schema.ErrCodeInvalidInput, "edge endpoint is empty")
	}
}
