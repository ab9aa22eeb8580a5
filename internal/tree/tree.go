package tree

import (
	"context"
	"errors"
	"sort"

	"github.com/n3tuk/document-node-lock/internal/model"
)

// ErrNodeNotFound is returned when a node id does not resolve.
var ErrNodeNotFound = errors.New("node not found")

// Reader is the read side of the node tree store. The lock engine only ever
// reads the tree.
type Reader interface {
	// GetNode returns a single node or ErrNodeNotFound.
	GetNode(ctx context.Context, nodeID string) (*model.Node, error)

	// GetChildren returns the direct children of a node ordered by
	// (order, id). A leaf returns an empty slice.
	GetChildren(ctx context.Context, nodeID string) ([]*model.Node, error)

	// GetRootNodes returns the parentless nodes of a document ordered by
	// (order, id). A well-formed document has exactly one.
	GetRootNodes(ctx context.Context, documentID string) ([]*model.Node, error)
}

// sortNodes orders siblings by (order, id).
func sortNodes(nodes []*model.Node) {
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Order != nodes[j].Order {
			return nodes[i].Order < nodes[j].Order
		}
		return nodes[i].ID < nodes[j].ID
	})
}

func cloneNode(n *model.Node) *model.Node {
	c := *n
	if n.ParentID != nil {
		p := *n.ParentID
		c.ParentID = &p
	}
	return &c
}
