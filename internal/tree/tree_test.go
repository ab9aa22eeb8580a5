package tree

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/n3tuk/document-node-lock/internal/database"
	"github.com/n3tuk/document-node-lock/internal/model"
)

type writer interface {
	Reader
	put(t *testing.T, n *model.Node)
}

type memoryWriter struct{ *MemoryStore }

func (w memoryWriter) put(t *testing.T, n *model.Node) {
	t.Helper()
	if err := w.Put(n); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
}

type sqlWriter struct{ *SQLStore }

func (w sqlWriter) put(t *testing.T, n *model.Node) {
	t.Helper()
	if err := w.Put(context.Background(), n); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
}

func ptr(s string) *string { return &s }

func stores(t *testing.T) map[string]writer {
	db, err := database.Open(context.Background(), database.Config{
		Driver: database.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "tree.db"),
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return map[string]writer{
		"memory": memoryWriter{NewMemoryStore()},
		"sql":    sqlWriter{NewSQLStore(db)},
	}
}

func seed(t *testing.T, w writer) {
	nodes := []*model.Node{
		{ID: "root", DocumentID: "d1", Type: model.NodeDocument},
		{ID: "h2", DocumentID: "d1", ParentID: ptr("root"), Order: 2, Type: model.NodeHeading},
		{ID: "h1", DocumentID: "d1", ParentID: ptr("root"), Order: 1, Type: model.NodeHeading, Attrs: model.JSONMap{"level": float64(1)}},
		{ID: "p2", DocumentID: "d1", ParentID: ptr("h1"), Order: 0, Type: model.NodeParagraph},
		{ID: "p1", DocumentID: "d1", ParentID: ptr("h1"), Order: 0, Type: model.NodeParagraph, Text: "hello"},
		{ID: "other-root", DocumentID: "d2", Type: model.NodeDocument},
	}
	for _, n := range nodes {
		w.put(t, n)
	}
}

func TestGetNode(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			seed(t, s)
			ctx := context.Background()

			n, err := s.GetNode(ctx, "p1")
			if err != nil {
				t.Fatalf("GetNode() error = %v", err)
			}
			if n.ParentID == nil || *n.ParentID != "h1" {
				t.Errorf("ParentID = %v, want h1", n.ParentID)
			}
			if n.Text != "hello" || n.Type != model.NodeParagraph {
				t.Errorf("node = %+v", n)
			}

			root, err := s.GetNode(ctx, "root")
			if err != nil {
				t.Fatalf("GetNode(root) error = %v", err)
			}
			if !root.IsRoot() {
				t.Error("root.IsRoot() = false")
			}

			h1, err := s.GetNode(ctx, "h1")
			if err != nil {
				t.Fatalf("GetNode(h1) error = %v", err)
			}
			if h1.Attrs["level"] != float64(1) {
				t.Errorf("attrs = %v", h1.Attrs)
			}

			if _, err := s.GetNode(ctx, "missing"); !errors.Is(err, ErrNodeNotFound) {
				t.Errorf("GetNode(missing) error = %v, want ErrNodeNotFound", err)
			}
		})
	}
}

func TestGetChildrenOrdering(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			seed(t, s)
			ctx := context.Background()

			tests := []struct {
				parent string
				want   []string
			}{
				{"root", []string{"h1", "h2"}},
				// equal order falls back to id
				{"h1", []string{"p1", "p2"}},
				{"p1", []string{}},
			}
			for _, tt := range tests {
				children, err := s.GetChildren(ctx, tt.parent)
				if err != nil {
					t.Fatalf("GetChildren(%s) error = %v", tt.parent, err)
				}
				if len(children) != len(tt.want) {
					t.Fatalf("GetChildren(%s) = %d nodes, want %d", tt.parent, len(children), len(tt.want))
				}
				for i, c := range children {
					if c.ID != tt.want[i] {
						t.Errorf("GetChildren(%s)[%d] = %s, want %s", tt.parent, i, c.ID, tt.want[i])
					}
				}
			}
		})
	}
}

func TestGetRootNodes(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			seed(t, s)

			roots, err := s.GetRootNodes(context.Background(), "d1")
			if err != nil {
				t.Fatalf("GetRootNodes() error = %v", err)
			}
			if len(roots) != 1 || roots[0].ID != "root" {
				t.Errorf("GetRootNodes() = %v, want [root]", roots)
			}

			none, err := s.GetRootNodes(context.Background(), "d-none")
			if err != nil {
				t.Fatalf("GetRootNodes() error = %v", err)
			}
			if len(none) != 0 {
				t.Errorf("GetRootNodes(d-none) = %d nodes, want 0", len(none))
			}
		})
	}
}

func TestMemoryStoreIsolation(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Put(&model.Node{ID: "a", DocumentID: "d", ParentID: ptr("x")}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	n, _ := s.GetNode(context.Background(), "a")
	*n.ParentID = "mutated"

	again, _ := s.GetNode(context.Background(), "a")
	if *again.ParentID != "x" {
		t.Errorf("stored node was mutated through a returned copy")
	}

	if err := s.Put(&model.Node{ID: "b"}); err == nil {
		t.Error("Put() without document id should fail")
	}

	s.Delete("a")
	if _, err := s.GetNode(context.Background(), "a"); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("GetNode() after Delete error = %v", err)
	}
}
