package store

import (
	"time"

	"github.com/rendis/weft/pkg/schema"
)

// ProjectUpdate specifies mutable fields of a project. Nil fields are left
// untouched.
type ProjectUpdate struct {
	Title       *string         `json:"title,omitempty"`
	Description *string         `json:"description,omitempty"`
	Settings    *map[string]any `json:"settings,omitempty"`
	Schema      *map[string]any `json:"schema,omitempty"`
	OwnerID     *string         `json:"owner_id,omitempty"`
}

// CreateNodeOptions carries optional creation hints.
type CreateNodeOptions struct {
	// Position, when set, seeds the top-left corner of the node's bounding
	// box. An explicitly supplied bbox keeps its extent; otherwise the
	// engine default size applies.
	Position *schema.Point `json:"position,omitempty"`
}

// CloneOptions bounds a clone operation.
type CloneOptions struct {
	// IncludeSubtree also clones each direct child of the source (one level;
	// grandchildren are not cloned transitively).
	IncludeSubtree bool `json:"include_subtree,omitempty"`
	// MaxNodes caps the total number of nodes a single clone call may
	// create. Zero means DefaultCloneMaxNodes.
	MaxNodes int `json:"max_nodes,omitempty"`
}

// DefaultCloneMaxNodes is the clone worklist bound applied when the caller
// does not supply one.
const DefaultCloneMaxNodes = 200

// NodeResult is the outcome of a node mutation: the updated node view and the
// project's bumped updated_at.
type NodeResult struct {
	Node             *schema.Node `json:"node"`
	ProjectUpdatedAt time.Time    `json:"project_updated_at"`
}

// SubgraphNode is one node of a batch insert. Key identifies the node within
// the batch so edges can reference siblings that do not have resolved ids yet.
type SubgraphNode struct {
	Key      string           `json:"key"`
	Input    schema.NodeInput `json:"input"`
	Position schema.Point     `json:"position"`
}

// SubgraphEdge wires two nodes of a batch. Each endpoint is either a batch
// key (a node created by the same call) or the id of a pre-existing node.
type SubgraphEdge struct {
	FromKey      string `json:"from_key,omitempty"`
	FromID       string `json:"from_id,omitempty"`
	ToKey        string `json:"to_key,omitempty"`
	ToID         string `json:"to_id,omitempty"`
	Label        string `json:"label,omitempty"`
	Routing      string `json:"routing,omitempty"`
	SourceHandle string `json:"source_handle,omitempty"`
	TargetHandle string `json:"target_handle,omitempty"`
}

// Subgraph is a batch of nodes and wiring edges materialized in a single
// transaction.
type Subgraph struct {
	Nodes []SubgraphNode `json:"nodes"`
	Edges []SubgraphEdge `json:"edges"`
}

// SubgraphResult reports the created rows of a batch insert.
type SubgraphResult struct {
	Nodes            []*schema.Node          `json:"nodes"`
	ByKey            map[string]*schema.Node `json:"-"`
	Edges            []*schema.Edge          `json:"edges"`
	ProjectUpdatedAt time.Time               `json:"project_updated_at"`
}
