package hierarchy

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/n3tuk/document-node-lock/internal/model"
	"github.com/n3tuk/document-node-lock/internal/tree"
)

// Resolver finds the lock, if any, that prevents a tree resource from being
// locked.
type Resolver struct {
	tree   tree.Reader
	logger *zap.Logger
}

// NewResolver creates a Resolver over a node tree.
func NewResolver(reader tree.Reader, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{tree: reader, logger: logger}
}

// lockIndex is the set of active locks of one document.
type lockIndex struct {
	document *model.Lock
	nodes    map[string]*model.Lock
}

func newLockIndex(documentID string, active []*model.Lock) lockIndex {
	idx := lockIndex{nodes: make(map[string]*model.Lock)}
	for _, l := range active {
		if l.DocumentID != documentID || !l.ResourceType.HierarchyAware() {
			continue
		}
		if l.IsDocumentLock() {
			idx.document = l
		} else {
			idx.nodes[l.NodeID] = l
		}
	}
	return idx
}

// FindBlocker checks target against active, the non-expired locks of the
// target's document. Checks run in this order: whole-document lock, the
// target itself, the ancestor chain, then the subtree breadth-first with
// siblings in (order, id) order. The first hit wins. It returns nil when the
// target is lockable.
//
// Owners are not considered: a caller's own lock on an ancestor or
// descendant is still a conflict.
func (r *Resolver) FindBlocker(ctx context.Context, target model.Resource, active []*model.Lock) (*model.Conflict, error) {
	if !target.Type.HierarchyAware() {
		return nil, fmt.Errorf("resource type %q is not tree-aware", target.Type)
	}

	idx := newLockIndex(target.DocumentID, active)

	if idx.document != nil {
		if target.Type == model.ResourceDocument {
			return model.ConflictFor(model.RelationSelf, idx.document), nil
		}
		return model.ConflictFor(model.RelationAncestor, idx.document), nil
	}

	if target.Type == model.ResourceDocument {
		if len(idx.nodes) == 0 {
			return nil, nil
		}
		return r.documentDescendant(ctx, target.DocumentID, idx)
	}

	if l, ok := idx.nodes[target.NodeID]; ok {
		return model.ConflictFor(model.RelationSelf, l), nil
	}

	node, err := r.tree.GetNode(ctx, target.NodeID)
	if err != nil {
		return nil, err
	}
	if node.DocumentID != target.DocumentID {
		return nil, tree.ErrNodeNotFound
	}

	if len(idx.nodes) == 0 {
		return nil, nil
	}

	if c, err := r.ancestor(ctx, node, idx); c != nil || err != nil {
		return c, err
	}

	return r.descendant(ctx, []*model.Node{node}, target.DocumentID, idx, false)
}

// ancestor walks parent links up to the root. A missing parent, a parent in
// another document or a cycle ends the walk as if the root was reached.
func (r *Resolver) ancestor(ctx context.Context, node *model.Node, idx lockIndex) (*model.Conflict, error) {
	visited := map[string]bool{node.ID: true}

	current := node
	for !current.IsRoot() {
		parentID := *current.ParentID
		if visited[parentID] {
			r.logger.Warn("Cycle in node parent chain",
				zap.String("document_id", node.DocumentID),
				zap.String("node_id", parentID),
			)
			return nil, nil
		}
		visited[parentID] = true

		parent, err := r.tree.GetNode(ctx, parentID)
		if errors.Is(err, tree.ErrNodeNotFound) {
			r.logger.Debug("Dangling parent reference",
				zap.String("node_id", current.ID),
				zap.String("parent_id", parentID),
			)
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if parent.DocumentID != node.DocumentID {
			return nil, nil
		}

		if l, ok := idx.nodes[parent.ID]; ok {
			return model.ConflictFor(model.RelationAncestor, l), nil
		}
		current = parent
	}
	return nil, nil
}

// descendant searches breadth-first below start. When checkStart is set the
// start nodes themselves count as descendants.
func (r *Resolver) descendant(ctx context.Context, start []*model.Node, documentID string, idx lockIndex, checkStart bool) (*model.Conflict, error) {
	visited := make(map[string]bool, len(start))
	queue := make([]*model.Node, 0, len(start))
	for _, n := range start {
		if visited[n.ID] {
			continue
		}
		visited[n.ID] = true
		if checkStart {
			if l, ok := idx.nodes[n.ID]; ok {
				return model.ConflictFor(model.RelationDescendant, l), nil
			}
		}
		queue = append(queue, n)
	}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n := queue[0]
		queue = queue[1:]

		children, err := r.tree.GetChildren(ctx, n.ID)
		if err != nil {
			return nil, err
		}
		for _, c := range children {
			if c.DocumentID != documentID || visited[c.ID] {
				continue
			}
			visited[c.ID] = true
			if l, ok := idx.nodes[c.ID]; ok {
				return model.ConflictFor(model.RelationDescendant, l), nil
			}
			queue = append(queue, c)
		}
	}
	return nil, nil
}

// documentDescendant finds a node lock below a whole-document target. Every
// node lock of the document is a descendant; traversal only picks which one
// is reported. Locks on nodes unreachable from a root are reported lowest
// node id first.
func (r *Resolver) documentDescendant(ctx context.Context, documentID string, idx lockIndex) (*model.Conflict, error) {
	roots, err := r.tree.GetRootNodes(ctx, documentID)
	if err != nil {
		return nil, err
	}

	c, err := r.descendant(ctx, roots, documentID, idx, true)
	if c != nil || err != nil {
		return c, err
	}

	ids := make([]string, 0, len(idx.nodes))
	for id := range idx.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	r.logger.Debug("Node lock not reachable from document root",
		zap.String("document_id", documentID),
		zap.String("node_id", ids[0]),
	)
	return model.ConflictFor(model.RelationDescendant, idx.nodes[ids[0]]), nil
}
