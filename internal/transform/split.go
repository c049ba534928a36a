package transform

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rendis/weft/internal/layout"
	"github.com/rendis/weft/internal/store"
	"github.com/rendis/weft/internal/textpatch"
	"github.com/rendis/weft/pkg/schema"
)

// SplitPreview is the computed segment tree for caller-side confirmation.
// Nothing is persisted.
type SplitPreview struct {
	Segments []*Segment `json:"segments"`
}

// SplitResult summarizes an executed split: the created nodes, a
// serializable snapshot per node for external mirroring, the wiring edges
// and the project's new updated_at.
type SplitResult struct {
	Nodes            []*schema.Node   `json:"nodes"`
	Snapshots        []map[string]any `json:"snapshots"`
	Edges            []*schema.Edge   `json:"edges"`
	ProjectUpdatedAt time.Time        `json:"project_updated_at"`
}

// PreviewSplit computes the segment tree for a source node's content
// without mutating anything.
func (t *Transformer) PreviewSplit(ctx context.Context, projectID, nodeID string, cfg SplitConfig) (*SplitPreview, error) {
	source, err := t.graph.GetNode(ctx, projectID, nodeID)
	if err != nil {
		return nil, err
	}
	segments, err := splitSource(source, cfg)
	if err != nil {
		return nil, err
	}
	return &SplitPreview{Segments: segments}, nil
}

// ExecuteSplit materializes the segment tree as nodes and edges in one
// transaction. Top-level segments fan vertically around the source's
// vertical center to the right of its bounding box; sub-segments fan around
// their parent segment once placed. Each segment wires to its parent
// segment, or to the source node at depth 0.
func (t *Transformer) ExecuteSplit(ctx context.Context, projectID, nodeID string, cfg SplitConfig) (*SplitResult, error) {
	source, err := t.graph.GetNode(ctx, projectID, nodeID)
	if err != nil {
		return nil, err
	}
	segments, err := splitSource(source, cfg)
	if err != nil {
		return nil, err
	}

	batch := store.Subgraph{}
	for _, seg := range segments {
		pos := layout.FanPlacement(source.UI.BBox, seg.Siblings, seg.Order)
		key := segmentKey(seg)
		batch.Nodes = append(batch.Nodes, store.SubgraphNode{
			Key: key,
			Input: schema.NodeInput{
				Type:    "text",
				Title:   seg.Title,
				Content: seg.Content,
			},
			Position: pos,
		})
		batch.Edges = append(batch.Edges, store.SubgraphEdge{FromKey: key, ToID: nodeID})

		parentBox := layout.BoxAt(pos)
		for _, sub := range seg.Children {
			subPos := layout.FanPlacement(parentBox, sub.Siblings, sub.Order)
			subKey := segmentKey(sub)
			batch.Nodes = append(batch.Nodes, store.SubgraphNode{
				Key: subKey,
				Input: schema.NodeInput{
					Type:    "text",
					Title:   sub.Title,
					Content: sub.Content,
				},
				Position: subPos,
			})
			batch.Edges = append(batch.Edges, store.SubgraphEdge{FromKey: subKey, ToKey: key})
		}
	}

	res, err := t.graph.CreateSubgraph(ctx, projectID, batch)
	if err != nil {
		return nil, err
	}

	snapshots := make([]map[string]any, 0, len(res.Nodes))
	for _, n := range res.Nodes {
		snap, err := nodeSnapshot(n)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snap)
	}

	t.log.InfoContext(ctx, "executed text split",
		"project_id", projectID, "node_id", nodeID,
		"segments", len(res.Nodes), "edges", len(res.Edges))

	return &SplitResult{
		Nodes:            res.Nodes,
		Snapshots:        snapshots,
		Edges:            res.Edges,
		ProjectUpdatedAt: res.ProjectUpdatedAt,
	}, nil
}

// CreateContentNode wraps one piece of generated content as a single new
// node wired from the source, placed with the same fan formula as a
// single-segment split. Empty content is only allowed for folder
// placeholders.
func (t *Transformer) CreateContentNode(ctx context.Context, projectID, sourceID, nodeType, content string) (*schema.Node, error) {
	if nodeType == "" {
		nodeType = "text"
	}
	if content == "" && nodeType != "folder" {
		return nil, schema.NewError(schema.ErrCodeInvalidInput, "content node has no content")
	}

	source, err := t.graph.GetNode(ctx, projectID, sourceID)
	if err != nil {
		return nil, err
	}

	title := firstLineTitle(content)
	if title == "" {
		title = "Generated content"
	}
	title = clampTitle(title)

	pos := layout.FanPlacement(source.UI.BBox, 1, 0)
	res, err := t.graph.CreateSubgraph(ctx, projectID, store.Subgraph{
		Nodes: []store.SubgraphNode{{
			Key: "content",
			Input: schema.NodeInput{
				Type:    nodeType,
				Title:   title,
				Content: content,
			},
			Position: pos,
		}},
		Edges: []store.SubgraphEdge{{FromKey: "content", ToID: sourceID}},
	})
	if err != nil {
		return nil, err
	}
	// Re-read so the returned node carries its refreshed connections cache.
	return t.graph.GetNode(ctx, projectID, res.ByKey["content"].ID)
}

// splitSource validates the source and computes its segment tree. Pending
// text operations, if any, are applied to the content first so callers can
// split an edit they have not persisted yet.
func splitSource(source *schema.Node, cfg SplitConfig) ([]*Segment, error) {
	content := source.Content
	if len(cfg.TextOps) > 0 {
		patched, err := textpatch.Apply(content, cfg.TextOps)
		if err != nil {
			return nil, err
		}
		content = patched
	}
	if content == "" {
		return nil, schema.NewError(schema.ErrCodeInvalidInput, "source node has no content to split").
			WithNode(source.ID)
	}
	segments := segmentContent(content, cfg)
	if len(segments) == 0 {
		return nil, schema.NewError(schema.ErrCodeInvalidInput, "delimiter configuration yields no segments").
			WithNode(source.ID)
	}
	return segments, nil
}

func segmentKey(seg *Segment) string {
	return fmt.Sprintf("seg_%s", seg.Path)
}

// nodeSnapshot serializes a node into a plain map for external mirroring.
func nodeSnapshot(n *schema.Node) (map[string]any, error) {
	raw, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("snapshot node %s: %w", n.ID, err)
	}
	var snap map[string]any
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("snapshot node %s: %w", n.ID, err)
	}
	return snap, nil
}
