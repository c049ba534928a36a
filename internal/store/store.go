package store

import (
	"context"

	"github.com/rendis/weft/pkg/schema"
)

// Store defines the persistence contract of the graph engine. Every mutating
// operation runs inside one atomic transaction: a partially applied structural
// edit (a node without its required edges, a cascade that missed a table) is
// never observable. All implementations must be safe for concurrent use.
type Store interface {
	// Projects
	CreateProject(ctx context.Context, p *schema.Project) error
	GetProject(ctx context.Context, id string) (*schema.Project, error)
	ListProjects(ctx context.Context) ([]*schema.Project, error)
	UpdateProject(ctx context.Context, id string, update ProjectUpdate) error
	DeleteProject(ctx context.Context, id string) error
	ProjectView(ctx context.Context, id string) (*schema.ProjectView, error)

	// Nodes
	GetNode(ctx context.Context, projectID, nodeID string) (*schema.Node, error)
	ListNodes(ctx context.Context, projectID string) ([]*schema.Node, error)
	CreateNode(ctx context.Context, projectID string, input schema.NodeInput, opts CreateNodeOptions) (*NodeResult, error)
	UpdateNode(ctx context.Context, projectID, nodeID string, patch schema.NodePatch) (*NodeResult, error)
	DeleteNode(ctx context.Context, projectID, nodeID string) error
	CloneNode(ctx context.Context, projectID, sourceID string, opts CloneOptions) (*schema.Node, error)

	// Edges
	CreateEdge(ctx context.Context, projectID string, input schema.EdgeInput) (*schema.CreateEdgeResult, error)
	DeleteEdge(ctx context.Context, projectID, from, to string) (*schema.DeleteEdgeResult, error)
	ListEdges(ctx context.Context, projectID string) ([]*schema.Edge, error)

	// Subgraphs (batch materialization used by the transformer)
	CreateSubgraph(ctx context.Context, projectID string, batch Subgraph) (*SubgraphResult, error)

	// Execution runs and assets (cascade targets of node deletion)
	AppendRun(ctx context.Context, projectID string, run *schema.Run) error
	ListRuns(ctx context.Context, projectID, nodeID string) ([]*schema.Run, error)
	PutAsset(ctx context.Context, projectID string, asset *schema.Asset) error
	ListAssets(ctx context.Context, projectID, nodeID string) ([]*schema.Asset, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
