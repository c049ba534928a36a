package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/rendis/weft/internal/normalize"
	"github.com/rendis/weft/internal/textpatch"
	"github.com/rendis/weft/pkg/schema"
)

const nodeColumns = `id, type, title, content, content_type, metadata, config, visibility, ui, connections, ai_visible, created_at, updated_at`

// CloneTitleSuffix marks cloned nodes in the UI.
const CloneTitleSuffix = " (clone)"

var nodeSeqPattern = regexp.MustCompile(`^n(\d+)_`)

func (s *LibSQLStore) GetNode(ctx context.Context, projectID, nodeID string) (*schema.Node, error) {
	return getNode(ctx, s.db, projectID, nodeID)
}

func getNode(ctx context.Context, q dbtx, projectID, nodeID string) (*schema.Node, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE project_id = ? AND id = ?`, projectID, nodeID)
	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, notFound("node", nodeID)
	}
	if err != nil {
		return nil, err
	}
	return n, nil
}

func (s *LibSQLStore) ListNodes(ctx context.Context, projectID string) ([]*schema.Node, error) {
	return listNodes(ctx, s.db, projectID)
}

func listNodes(ctx context.Context, q dbtx, projectID string) ([]*schema.Node, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE project_id = ? ORDER BY id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []*schema.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// CreateNode validates the owning project, resolves the node id (caller ids
// must be unique, generated ids follow n<seq>_<slug>), normalizes the canvas
// descriptor and bumps the project's updated_at, all in one transaction.
func (s *LibSQLStore) CreateNode(ctx context.Context, projectID string, input schema.NodeInput, opts CreateNodeOptions) (*NodeResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := getProject(ctx, tx, projectID); err != nil {
		return nil, err
	}

	node, err := buildNode(input, opts)
	if err != nil {
		return nil, err
	}
	node.ID, err = resolveNodeID(ctx, tx, projectID, input.ID, slugSource(input))
	if err != nil {
		return nil, err
	}

	if err := insertNode(ctx, tx, projectID, node); err != nil {
		return nil, err
	}
	updatedAt, err := touchProject(ctx, tx, projectID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create node: %w", err)
	}
	node.CreatedAt = updatedAt
	node.UpdatedAt = updatedAt
	s.logOp(ctx, projectID, node.ID, "create_node", "node created")
	return &NodeResult{Node: node, ProjectUpdatedAt: updatedAt}, nil
}

// buildNode normalizes a creation payload into a persistable node. The
// position hint seeds the bbox top-left, preserving any explicitly supplied
// extent.
func buildNode(input schema.NodeInput, opts CreateNodeOptions) (*schema.Node, error) {
	if input.Type == "" {
		input.Type = "text"
	}
	ui, err := normalize.UI(input.UI)
	if err != nil {
		return nil, err
	}
	if opts.Position != nil {
		w, h := ui.BBox.Width(), ui.BBox.Height()
		ui.BBox = schema.BBox{
			X1: opts.Position.X,
			Y1: opts.Position.Y,
			X2: opts.Position.X + w,
			Y2: opts.Position.Y + h,
		}
	}
	return &schema.Node{
		Type:        input.Type,
		Title:       input.Title,
		Content:     input.Content,
		ContentType: input.ContentType,
		Metadata:    input.Metadata,
		Config:      input.Config,
		Visibility:  input.Visibility,
		UI:          ui,
		AIVisible:   normalize.AIVisible(input.AIVisible),
		Connections: normalize.Connections(input.Connections),
	}, nil
}

// resolveNodeID returns the caller-supplied id after a uniqueness check, or
// mints n<seq>_<slug> with seq one above the highest sequence present in the
// project (collisions probed upward). Runs inside the creation transaction so
// two concurrent creates cannot mint the same sequence.
func resolveNodeID(ctx context.Context, q dbtx, projectID, requested, slugFrom string) (string, error) {
	ids, err := listNodeIDs(ctx, q, projectID)
	if err != nil {
		return "", err
	}
	taken := make(map[string]struct{}, len(ids))
	maxSeq := 0
	for _, id := range ids {
		taken[id] = struct{}{}
		if m := nodeSeqPattern.FindStringSubmatch(id); m != nil {
			var seq int
			fmt.Sscanf(m[1], "%d", &seq)
			if seq > maxSeq {
				maxSeq = seq
			}
		}
	}

	if requested != "" {
		if _, exists := taken[requested]; exists {
			return "", schema.NewErrorf(schema.ErrCodeConflict, "node id %q already in use", requested)
		}
		return requested, nil
	}

	slug := slugify(slugFrom)
	for seq := maxSeq + 1; ; seq++ {
		id := fmt.Sprintf("n%d_%s", seq, slug)
		if _, exists := taken[id]; !exists {
			return id, nil
		}
	}
}

func slugSource(input schema.NodeInput) string {
	if input.Title != "" {
		return input.Title
	}
	return input.Type
}

// slugify reduces a title to a short id-safe fragment.
func slugify(s string) string {
	var sb strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				sb.WriteByte('-')
				lastDash = true
			}
		}
		if sb.Len() >= 24 {
			break
		}
	}
	slug := strings.Trim(sb.String(), "-")
	if slug == "" {
		return "node"
	}
	return slug
}

func listNodeIDs(ctx context.Context, q dbtx, projectID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT id FROM nodes WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateNode merges a partial patch over the stored node: present fields
// replace, explicit nulls reset to the per-field default, omitted fields keep
// the stored value. Text operations, when present, are applied against the
// stored content and discarded. Replacing the ai-config output ports deletes
// every edge bound to a port id absent from the new list.
func (s *LibSQLStore) UpdateNode(ctx context.Context, projectID, nodeID string, patch schema.NodePatch) (*NodeResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	node, err := getNode(ctx, tx, projectID, nodeID)
	if err != nil {
		return nil, err
	}
	oldPorts := aiOutputPorts(node.Config)

	if err := applyPatch(node, patch); err != nil {
		return nil, err
	}

	// Detach wiring left dangling by a port-list replacement.
	if schema.StateOf(patch.Config) != schema.FieldAbsent {
		if orphaned := missingPorts(oldPorts, aiOutputPorts(node.Config)); len(orphaned) > 0 {
			if err := deleteEdgesByHandle(ctx, tx, projectID, orphaned); err != nil {
				return nil, err
			}
		}
	}

	updatedAt, err := touchProject(ctx, tx, projectID)
	if err != nil {
		return nil, err
	}
	node.UpdatedAt = updatedAt
	if err := persistNode(ctx, tx, projectID, node); err != nil {
		return nil, err
	}
	if err := syncConnections(ctx, tx, projectID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update node: %w", err)
	}
	s.logOp(ctx, projectID, nodeID, "update_node", "node updated")

	updated, err := s.GetNode(ctx, projectID, nodeID)
	if err != nil {
		return nil, err
	}
	return &NodeResult{Node: updated, ProjectUpdatedAt: updatedAt}, nil
}

// applyPatch mutates node in place according to tri-state patch semantics.
func applyPatch(node *schema.Node, patch schema.NodePatch) error {
	if err := patchString(patch.Type, &node.Type, "text"); err != nil {
		return err
	}
	if err := patchString(patch.Title, &node.Title, ""); err != nil {
		return err
	}
	if err := patchString(patch.ContentType, &node.ContentType, ""); err != nil {
		return err
	}
	if err := patchMap(patch.Metadata, &node.Metadata); err != nil {
		return err
	}
	if err := patchMap(patch.Config, &node.Config); err != nil {
		return err
	}
	if err := patchMap(patch.Visibility, &node.Visibility); err != nil {
		return err
	}

	// Text operations take precedence over a verbatim content replacement.
	if len(patch.TextOps) > 0 {
		content, err := textpatch.Apply(node.Content, patch.TextOps)
		if err != nil {
			return err
		}
		node.Content = content
	} else if err := patchString(patch.Content, &node.Content, ""); err != nil {
		return err
	}

	ui, err := normalize.MergeUI(node.UI, patch.UI)
	if err != nil {
		return err
	}
	node.UI = ui
	node.Connections = normalize.MergeConnections(node.Connections, patch.Connections)

	switch schema.StateOf(patch.AIVisible) {
	case schema.FieldNull:
		node.AIVisible = true
	case schema.FieldValue:
		var v any
		if err := json.Unmarshal(patch.AIVisible, &v); err != nil {
			return schema.NewError(schema.ErrCodeInvalidInput, "ai_visible is not valid JSON").WithCause(err)
		}
		node.AIVisible = normalize.AIVisible(v)
	}
	return nil
}

func patchString(raw json.RawMessage, target *string, def string) error {
	switch schema.StateOf(raw) {
	case schema.FieldNull:
		*target = def
	case schema.FieldValue:
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return schema.NewError(schema.ErrCodeInvalidInput, "expected a string field").WithCause(err)
		}
		*target = v
	}
	return nil
}

func patchMap(raw json.RawMessage, target *map[string]any) error {
	switch schema.StateOf(raw) {
	case schema.FieldNull:
		*target = nil
	case schema.FieldValue:
		var v map[string]any
		if err := json.Unmarshal(raw, &v); err != nil {
			return schema.NewError(schema.ErrCodeInvalidInput, "expected an object field").WithCause(err)
		}
		*target = v
	}
	return nil
}

// aiOutputPorts extracts the declared output-port ids from a node's ai
// config. Entries may be bare strings or objects carrying an "id".
func aiOutputPorts(config map[string]any) []string {
	ai, ok := config["ai"].(map[string]any)
	if !ok {
		return nil
	}
	outs, ok := ai["outputs"].([]any)
	if !ok {
		return nil
	}
	var ports []string
	for _, entry := range outs {
		switch t := entry.(type) {
		case string:
			if t != "" {
				ports = append(ports, t)
			}
		case map[string]any:
			if id, ok := t["id"].(string); ok && id != "" {
				ports = append(ports, id)
			}
		}
	}
	return ports
}

// missingPorts returns the ids present in old but absent from current.
func missingPorts(old, current []string) []string {
	keep := make(map[string]struct{}, len(current))
	for _, p := range current {
		keep[p] = struct{}{}
	}
	var missing []string
	for _, p := range old {
		if _, ok := keep[p]; !ok {
			missing = append(missing, p)
		}
	}
	return missing
}

func deleteEdgesByHandle(ctx context.Context, q dbtx, projectID string, ports []string) error {
	placeholders := strings.TrimRight(strings.Repeat("?,", len(ports)), ",")
	args := make([]any, 0, 1+2*len(ports))
	args = append(args, projectID)
	for _, p := range ports {
		args = append(args, p)
	}
	for _, p := range ports {
		args = append(args, p)
	}
	_, err := q.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM edges WHERE project_id = ? AND (source_handle IN (%s) OR target_handle IN (%s))`,
		placeholders, placeholders), args...)
	return err
}

// DeleteNode removes the node together with every edge touching it (either
// direction), its execution-run history and its assets, and bumps the
// project's updated_at, all in one transaction.
func (s *LibSQLStore) DeleteNode(ctx context.Context, projectID, nodeID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := getNode(ctx, tx, projectID, nodeID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM edges WHERE project_id = ? AND (from_node = ? OR to_node = ?)`,
		projectID, nodeID, nodeID); err != nil {
		return fmt.Errorf("cascade edges: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM runs WHERE project_id = ? AND node_id = ?`, projectID, nodeID); err != nil {
		return fmt.Errorf("cascade runs: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM assets WHERE project_id = ? AND node_id = ?`, projectID, nodeID); err != nil {
		return fmt.Errorf("cascade assets: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM nodes WHERE project_id = ? AND id = ?`, projectID, nodeID); err != nil {
		return fmt.Errorf("delete node: %w", err)
	}
	if _, err := touchProject(ctx, tx, projectID); err != nil {
		return err
	}
	if err := syncConnections(ctx, tx, projectID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.logOp(ctx, projectID, nodeID, "delete_node", "node deleted")
	return nil
}

// CloneNode deep-copies a node under a fresh <sourceId>_clone_<NN> id, copies
// its outgoing edges, and optionally clones each direct child one level deep.
// The worklist is bounded by opts.MaxNodes; once the budget is exhausted,
// remaining children are wired to their originals instead of being cloned.
func (s *LibSQLStore) CloneNode(ctx context.Context, projectID, sourceID string, opts CloneOptions) (*schema.Node, error) {
	budget := opts.MaxNodes
	if budget <= 0 {
		budget = DefaultCloneMaxNodes
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	source, err := getNode(ctx, tx, projectID, sourceID)
	if err != nil {
		return nil, err
	}
	ids, err := listNodeIDs(ctx, tx, projectID)
	if err != nil {
		return nil, err
	}
	taken := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		taken[id] = struct{}{}
	}

	clone := cloneRow(source, resolveCloneID(taken, sourceID))
	if err := insertNode(ctx, tx, projectID, clone); err != nil {
		return nil, err
	}
	budget--

	outgoing, err := listEdgesFrom(ctx, tx, projectID, sourceID)
	if err != nil {
		return nil, err
	}

	childClones := map[string]string{}
	for _, e := range outgoing {
		target := e.To
		if opts.IncludeSubtree {
			if cloned, ok := childClones[e.To]; ok {
				target = cloned
			} else if budget > 0 {
				child, err := getNode(ctx, tx, projectID, e.To)
				if err != nil {
					return nil, err
				}
				childClone := cloneRow(child, resolveCloneID(taken, child.ID))
				if err := insertNode(ctx, tx, projectID, childClone); err != nil {
					return nil, err
				}
				budget--
				childClones[e.To] = childClone.ID
				target = childClone.ID

				// One level only: the cloned child keeps wiring to its
				// original descendants.
				grandchildEdges, err := listEdgesFrom(ctx, tx, projectID, child.ID)
				if err != nil {
					return nil, err
				}
				for _, ge := range grandchildEdges {
					if err := insertEdge(ctx, tx, projectID, schema.EdgeInput{
						From: childClone.ID, To: ge.To, Label: ge.Label, Routing: ge.Routing,
						SourceHandle: ge.SourceHandle, TargetHandle: ge.TargetHandle,
					}); err != nil {
						return nil, err
					}
				}
			}
		}
		if err := insertEdge(ctx, tx, projectID, schema.EdgeInput{
			From: clone.ID, To: target, Label: e.Label, Routing: e.Routing,
			SourceHandle: e.SourceHandle, TargetHandle: e.TargetHandle,
		}); err != nil {
			return nil, err
		}
	}

	if _, err := touchProject(ctx, tx, projectID); err != nil {
		return nil, err
	}
	if err := syncConnections(ctx, tx, projectID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit clone: %w", err)
	}
	s.logOp(ctx, projectID, clone.ID, "clone_node", "node cloned")
	return s.GetNode(ctx, projectID, clone.ID)
}

// resolveCloneID finds the smallest unused <sourceID>_clone_<NN> id and marks
// it taken.
func resolveCloneID(taken map[string]struct{}, sourceID string) string {
	for n := 1; ; n++ {
		id := fmt.Sprintf("%s_clone_%02d", sourceID, n)
		if _, exists := taken[id]; !exists {
			taken[id] = struct{}{}
			return id
		}
	}
}

// cloneRow deep-copies every field of src except id and title.
func cloneRow(src *schema.Node, id string) *schema.Node {
	return &schema.Node{
		ID:          id,
		Type:        src.Type,
		Title:       src.Title + CloneTitleSuffix,
		Content:     src.Content,
		ContentType: src.ContentType,
		Metadata:    copyMap(src.Metadata),
		Config:      copyMap(src.Config),
		Visibility:  copyMap(src.Visibility),
		UI:          src.UI,
		AIVisible:   src.AIVisible,
		Connections: schema.Connections{Incoming: []schema.IncomingRef{}, Outgoing: []schema.OutgoingRef{}},
	}
}

// copyMap deep-copies a JSON-shaped map through encoding round trip.
func copyMap(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// --- Row plumbing ---

func insertNode(ctx context.Context, q dbtx, projectID string, n *schema.Node) error {
	metadata, config, visibility, ui, connections, err := nodeJSONColumns(n)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO nodes (project_id, id, type, title, content, content_type, metadata, config, visibility, ui, connections, ai_visible)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		projectID, n.ID, n.Type, n.Title, nullStr(n.Content), nullStr(n.ContentType),
		metadata, config, visibility, ui, connections, boolToInt(n.AIVisible),
	)
	if err != nil && isUniqueViolation(err) {
		return schema.NewErrorf(schema.ErrCodeConflict, "node id %q already in use", n.ID)
	}
	return err
}

func persistNode(ctx context.Context, q dbtx, projectID string, n *schema.Node) error {
	metadata, config, visibility, ui, connections, err := nodeJSONColumns(n)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx,
		`UPDATE nodes SET type = ?, title = ?, content = ?, content_type = ?, metadata = ?, config = ?,
		 visibility = ?, ui = ?, connections = ?, ai_visible = ?, updated_at = ?
		 WHERE project_id = ? AND id = ?`,
		n.Type, n.Title, nullStr(n.Content), nullStr(n.ContentType), metadata, config,
		visibility, ui, connections, boolToInt(n.AIVisible), n.UpdatedAt,
		projectID, n.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "node", n.ID)
}

func nodeJSONColumns(n *schema.Node) (metadata, config, visibility, ui, connections string, err error) {
	m, err := marshalMapOrDefault(n.Metadata)
	if err != nil {
		return "", "", "", "", "", fmt.Errorf("marshal metadata: %w", err)
	}
	c, err := marshalMapOrDefault(n.Config)
	if err != nil {
		return "", "", "", "", "", fmt.Errorf("marshal config: %w", err)
	}
	v, err := marshalMapOrDefault(n.Visibility)
	if err != nil {
		return "", "", "", "", "", fmt.Errorf("marshal visibility: %w", err)
	}
	u, err := json.Marshal(n.UI)
	if err != nil {
		return "", "", "", "", "", fmt.Errorf("marshal ui: %w", err)
	}
	conn, err := json.Marshal(n.Connections)
	if err != nil {
		return "", "", "", "", "", fmt.Errorf("marshal connections: %w", err)
	}
	return string(m), string(c), string(v), string(u), string(conn), nil
}

func scanNode(scanner interface{ Scan(dest ...any) error }) (*schema.Node, error) {
	n := &schema.Node{}
	var content, contentType, metadata, config, visibility, connections sql.NullString
	var ui string
	var aiVisible int
	err := scanner.Scan(&n.ID, &n.Type, &n.Title, &content, &contentType,
		&metadata, &config, &visibility, &ui, &connections, &aiVisible,
		&n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, err
	}
	n.Content = content.String
	n.ContentType = contentType.String
	n.Metadata = mapOrNil(metadata)
	n.Config = mapOrNil(config)
	n.Visibility = mapOrNil(visibility)
	if err := json.Unmarshal([]byte(ui), &n.UI); err != nil {
		return nil, fmt.Errorf("unmarshal ui: %w", err)
	}
	n.AIVisible = aiVisible != 0
	n.Connections = schema.Connections{Incoming: []schema.IncomingRef{}, Outgoing: []schema.OutgoingRef{}}
	if connections.Valid && connections.String != "" {
		if err := json.Unmarshal([]byte(connections.String), &n.Connections); err != nil {
			return nil, fmt.Errorf("unmarshal connections: %w", err)
		}
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
