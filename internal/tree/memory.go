package tree

import (
	"context"
	"fmt"
	"sync"

	"github.com/n3tuk/document-node-lock/internal/model"
)

// MemoryStore is an in-process node tree. It is used for tests and for the
// embedded single-node mode.
type MemoryStore struct {
	mu    sync.RWMutex
	nodes map[string]*model.Node
}

// NewMemoryStore creates an empty tree store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nodes: make(map[string]*model.Node)}
}

// Put inserts or replaces a node. Parent links are not validated so that
// tests can build orphans.
func (s *MemoryStore) Put(n *model.Node) error {
	if n == nil || n.ID == "" {
		return fmt.Errorf("node id is required")
	}
	if n.DocumentID == "" {
		return fmt.Errorf("document id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[n.ID] = cloneNode(n)
	return nil
}

// Delete removes a node. Children are left in place.
func (s *MemoryStore) Delete(nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nodes, nodeID)
}

// GetNode implements Reader.
func (s *MemoryStore) GetNode(_ context.Context, nodeID string) (*model.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[nodeID]
	if !ok {
		return nil, ErrNodeNotFound
	}
	return cloneNode(n), nil
}

// GetChildren implements Reader.
func (s *MemoryStore) GetChildren(_ context.Context, nodeID string) ([]*model.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	children := make([]*model.Node, 0)
	for _, n := range s.nodes {
		if n.ParentID != nil && *n.ParentID == nodeID {
			children = append(children, cloneNode(n))
		}
	}
	sortNodes(children)
	return children, nil
}

// GetRootNodes implements Reader.
func (s *MemoryStore) GetRootNodes(_ context.Context, documentID string) ([]*model.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	roots := make([]*model.Node, 0, 1)
	for _, n := range s.nodes {
		if n.DocumentID == documentID && n.IsRoot() {
			roots = append(roots, cloneNode(n))
		}
	}
	sortNodes(roots)
	return roots, nil
}
