// Package transform builds new subgraphs from generated content: JSON-tree
// import, recursive text splitting, and a single-node wrapping helper. It
// talks to the graph through a narrow interface so callers can swap the
// concrete store.
package transform

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/itchyny/gojq"

	"github.com/rendis/weft/internal/layout"
	"github.com/rendis/weft/internal/store"
	"github.com/rendis/weft/internal/validation"
	"github.com/rendis/weft/pkg/schema"
)

// maxImportDepth caps tree-import recursion as a runaway-input guard.
// Exceeding it silently stops descending.
const maxImportDepth = 100

// Graph is the slice of the store the transformer needs.
type Graph interface {
	GetNode(ctx context.Context, projectID, nodeID string) (*schema.Node, error)
	CreateSubgraph(ctx context.Context, projectID string, batch store.Subgraph) (*store.SubgraphResult, error)
}

// Transformer materializes generated content as laid-out subgraphs.
// Thread-safe: the jq filter cache is guarded, and all graph writes go
// through single-transaction store calls.
type Transformer struct {
	graph Graph
	valid *validation.TreeSpecValidator
	log   *slog.Logger

	mu      sync.RWMutex
	jqCache map[string]*gojq.Code
}

// New builds a Transformer over the given graph.
func New(graph Graph, log *slog.Logger) (*Transformer, error) {
	valid, err := validation.NewTreeSpecValidator()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Transformer{
		graph:   graph,
		valid:   valid,
		log:     log,
		jqCache: make(map[string]*gojq.Code),
	}, nil
}

// ImportRequest describes a JSON-tree import: raw payload, the anchor node
// the root entries wire to, and an optional jq filter to extract the tree
// from semi-structured JSON before interpretation.
type ImportRequest struct {
	AnchorID string `json:"anchor_id"`
	Payload  []byte `json:"payload"`
	Filter   string `json:"filter,omitempty"`
}

// ImportResult summarizes the materialized subgraph.
type ImportResult struct {
	Nodes            []*schema.Node `json:"nodes"`
	Edges            []*schema.Edge `json:"edges"`
	ProjectUpdatedAt time.Time      `json:"project_updated_at"`
}

// ImportTree validates and materializes a node-tree payload in a single
// transaction. Each entry becomes a node wired to its structural parent;
// root entries wire to the anchor node. Layout steps each depth level right
// of its parent and fans siblings vertically around the parent's row.
func (t *Transformer) ImportTree(ctx context.Context, projectID string, req ImportRequest) (*ImportResult, error) {
	payload := req.Payload
	if req.Filter != "" {
		filtered, err := t.applyFilter(ctx, req.Filter, payload)
		if err != nil {
			return nil, err
		}
		payload = filtered
	}

	if err := t.valid.ValidatePayload(payload); err != nil {
		return nil, err
	}
	specs, err := decodeTreeSpecs(payload)
	if err != nil {
		return nil, err
	}
	if len(specs) == 0 {
		return nil, schema.NewError(schema.ErrCodeInvalidInput, "import payload has no entries")
	}

	anchor, err := t.graph.GetNode(ctx, projectID, req.AnchorID)
	if err != nil {
		return nil, err
	}

	batch := store.Subgraph{}
	anchorPos := schema.Point{X: anchor.UI.BBox.X1, Y: anchor.UI.BBox.Y1}
	for i, spec := range specs {
		collectTreeNodes(&batch, spec, treeParent{key: "", id: req.AnchorID, pos: anchorPos}, 0, i)
	}

	res, err := t.graph.CreateSubgraph(ctx, projectID, batch)
	if err != nil {
		return nil, err
	}

	t.log.InfoContext(ctx, "imported node tree",
		slog.String("project_id", projectID),
		slog.String("anchor_id", req.AnchorID),
		slog.Int("nodes", len(res.Nodes)),
		slog.Int("edges", len(res.Edges)))

	return &ImportResult{
		Nodes:            res.Nodes,
		Edges:            res.Edges,
		ProjectUpdatedAt: res.ProjectUpdatedAt,
	}, nil
}

// treeParent carries where a subtree hangs: either a batch key (a node
// created earlier in the same import) or a pre-existing node id.
type treeParent struct {
	key string
	id  string
	pos schema.Point
}

// collectTreeNodes walks one spec entry, appending its node and parent edge
// to the batch and recursing into children. Depth beyond maxImportDepth is
// silently dropped.
func collectTreeNodes(batch *store.Subgraph, spec *schema.TreeSpec, parent treeParent, depth, index int) {
	if depth >= maxImportDepth {
		return
	}

	pos := layout.TreeChildPlacement(parent.pos, depth, index)
	key := fmt.Sprintf("t%d", len(batch.Nodes))
	nodeType := spec.Type
	if nodeType == "" {
		nodeType = "text"
	}
	title := spec.Title
	if title == "" {
		if line := firstLineTitle(spec.Content); line != "" {
			title = clampTitle(line)
		} else {
			title = fmt.Sprintf("Node %d", len(batch.Nodes)+1)
		}
	}

	batch.Nodes = append(batch.Nodes, store.SubgraphNode{
		Key: key,
		Input: schema.NodeInput{
			Type:    nodeType,
			Title:   title,
			Content: spec.Content,
		},
		Position: pos,
	})

	edge := store.SubgraphEdge{FromKey: key}
	if parent.key != "" {
		edge.ToKey = parent.key
	} else {
		edge.ToID = parent.id
	}
	batch.Edges = append(batch.Edges, edge)

	for i, child := range spec.Children {
		collectTreeNodes(batch, child, treeParent{key: key, pos: pos}, depth+1, i)
	}
}

// decodeTreeSpecs interprets a validated payload: bare array, wrapper with
// "nodes", or a single entry. String entries are content-only leaves.
func decodeTreeSpecs(payload []byte) ([]*schema.TreeSpec, error) {
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, schema.NewError(schema.ErrCodeInvalidInput, "import payload is not valid JSON").WithCause(err)
	}

	switch v := doc.(type) {
	case []any:
		return toTreeSpecs(v)
	case map[string]any:
		if nodes, ok := v["nodes"]; ok {
			arr, ok := nodes.([]any)
			if !ok {
				return nil, schema.NewError(schema.ErrCodeInvalidInput, `"nodes" is not an array`)
			}
			return toTreeSpecs(arr)
		}
		spec, err := toTreeSpec(v)
		if err != nil {
			return nil, err
		}
		return []*schema.TreeSpec{spec}, nil
	default:
		return nil, schema.NewError(schema.ErrCodeInvalidInput, "import payload must be an object or array")
	}
}

func toTreeSpecs(entries []any) ([]*schema.TreeSpec, error) {
	specs := make([]*schema.TreeSpec, 0, len(entries))
	for _, e := range entries {
		switch v := e.(type) {
		case string:
			specs = append(specs, &schema.TreeSpec{Content: v})
		case map[string]any:
			spec, err := toTreeSpec(v)
			if err != nil {
				return nil, err
			}
			specs = append(specs, spec)
		default:
			return nil, schema.NewErrorf(schema.ErrCodeInvalidInput, "tree entry has unsupported type %T", e)
		}
	}
	return specs, nil
}

func toTreeSpec(m map[string]any) (*schema.TreeSpec, error) {
	spec := &schema.TreeSpec{}
	if v, ok := m["type"].(string); ok {
		spec.Type = v
	}
	if v, ok := m["title"].(string); ok {
		spec.Title = v
	}
	if v, ok := m["content"].(string); ok {
		spec.Content = v
	}
	if children, ok := m["children"].([]any); ok {
		kids, err := toTreeSpecs(children)
		if err != nil {
			return nil, err
		}
		spec.Children = kids
	}
	return spec, nil
}

// applyFilter runs a jq expression over the decoded payload and re-encodes
// the first result. Compiled programs are cached per expression.
func (t *Transformer) applyFilter(ctx context.Context, filter string, payload []byte) ([]byte, error) {
	code, err := t.getOrCompileFilter(filter)
	if err != nil {
		return nil, err
	}

	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, schema.NewError(schema.ErrCodeInvalidInput, "import payload is not valid JSON").WithCause(err)
	}

	iter := code.RunWithContext(ctx, doc)
	val, ok := iter.Next()
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidInput, "jq filter %q produced no output", filter)
	}
	if ferr, isErr := val.(error); isErr {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidInput,
			"jq filter failed for %q: %s", filter, ferr.Error()).
			WithCause(ferr).
			WithDetails(map[string]any{"filter": filter})
	}

	out, err := json.Marshal(val)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeInvalidInput, "jq filter output is not serializable").WithCause(err)
	}
	return out, nil
}

// getOrCompileFilter returns a cached compiled filter or compiles and caches
// a new one.
func (t *Transformer) getOrCompileFilter(filter string) (*gojq.Code, error) {
	t.mu.RLock()
	if code, ok := t.jqCache[filter]; ok {
		t.mu.RUnlock()
		return code, nil
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()

	// Double-check after acquiring write lock.
	if code, ok := t.jqCache[filter]; ok {
		return code, nil
	}

	query, err := gojq.Parse(filter)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidInput,
			"jq parse error in %q: %s", filter, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"filter": filter})
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidInput,
			"jq compile error in %q: %s", filter, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"filter": filter})
	}

	t.jqCache[filter] = code
	return code, nil
}
