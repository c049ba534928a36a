package schema

import "time"

// Engine-wide layout defaults. The UI treats these as the canonical size of a
// freshly dropped node, so normalization repairs degenerate boxes to them.
const (
	DefaultColor      = "#eeeeee"
	DefaultNodeWidth  = 160.0
	DefaultNodeHeight = 40.0
)

// Project owns a set of nodes and the edges between them.
type Project struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Settings    map[string]any `json:"settings,omitempty"`
	Schema      map[string]any `json:"schema,omitempty"`
	OwnerID     string         `json:"owner_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// BBox is an axis-aligned rectangle on the canvas. Invariant: X2 > X1 && Y2 > Y1.
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Width returns the horizontal extent of the box.
func (b BBox) Width() float64 { return b.X2 - b.X1 }

// Height returns the vertical extent of the box.
func (b BBox) Height() float64 { return b.Y2 - b.Y1 }

// CenterY returns the vertical midpoint of the box.
func (b BBox) CenterY() float64 { return (b.Y1 + b.Y2) / 2 }

// Valid reports whether the box satisfies the bbox invariant.
func (b BBox) Valid() bool { return b.X2 > b.X1 && b.Y2 > b.Y1 }

// Point is a canvas position.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// UI is a node's canvas descriptor: fill color and bounding box.
type UI struct {
	Color string `json:"color"`
	BBox  BBox   `json:"bbox"`
}

// IncomingRef is one entry of a node's derived incoming-connection view.
type IncomingRef struct {
	EdgeID  string `json:"edge_id"`
	From    string `json:"from"`
	Routing string `json:"routing"`
}

// OutgoingRef is one entry of a node's derived outgoing-connection view.
type OutgoingRef struct {
	EdgeID  string `json:"edge_id"`
	To      string `json:"to"`
	Routing string `json:"routing"`
}

// Connections is the per-node summary of incident edges. The edges table is
// the source of truth; this view is assembled on read.
type Connections struct {
	Incoming []IncomingRef `json:"incoming"`
	Outgoing []OutgoingRef `json:"outgoing"`
}

// Node is a single vertex of a project graph.
type Node struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Title       string         `json:"title"`
	Content     string         `json:"content,omitempty"`
	ContentType string         `json:"content_type,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Config      map[string]any `json:"config,omitempty"`
	Visibility  map[string]any `json:"visibility,omitempty"`
	UI          UI             `json:"ui"`
	AIVisible   bool           `json:"ai_visible"`
	Connections Connections    `json:"connections"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Edge is a directed relationship between two nodes of the same project.
// Handles bind the edge to sub-ports on either endpoint; an empty handle
// means the endpoint's default port. A project holds at most one edge per
// (from, to, source_handle, target_handle) tuple.
type Edge struct {
	ID           string    `json:"id"`
	From         string    `json:"from"`
	To           string    `json:"to"`
	Label        string    `json:"label,omitempty"`
	Routing      string    `json:"routing,omitempty"`
	SourceHandle string    `json:"source_handle,omitempty"`
	TargetHandle string    `json:"target_handle,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ProjectView is the full read model of a project: the project row plus all
// of its nodes (with derived connections) and edges.
type ProjectView struct {
	Project *Project `json:"project"`
	Nodes   []*Node  `json:"nodes"`
	Edges   []*Edge  `json:"edges"`
}

// Run is one execution-run record attached to a node (e.g. an AI invocation).
// Runs are cascade-deleted with their node.
type Run struct {
	ID        string         `json:"id"`
	NodeID    string         `json:"node_id"`
	Status    string         `json:"status"`
	Output    map[string]any `json:"output,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Asset is an external artifact (file, rendered image, export) attached to a
// node. Assets are cascade-deleted with their node.
type Asset struct {
	ID        string         `json:"id"`
	NodeID    string         `json:"node_id"`
	Kind      string         `json:"kind"`
	URI       string         `json:"uri"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// TreeSpec is one entry of a recursively nested node-tree import payload.
type TreeSpec struct {
	Type     string      `json:"type,omitempty"`
	Title    string      `json:"title,omitempty"`
	Content  string      `json:"content,omitempty"`
	Children []*TreeSpec `json:"children,omitempty"`
}
