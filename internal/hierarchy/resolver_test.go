package hierarchy

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/n3tuk/document-node-lock/internal/model"
	"github.com/n3tuk/document-node-lock/internal/tree"
)

const doc = "doc-1"

func ptr(s string) *string { return &s }

// buildTree creates
//
//	root
//	├── heading1
//	│   ├── paragraph1
//	│   └── paragraph2
//	│       └── list1
//	└── heading2
//	    └── paragraph3
func buildTree(t *testing.T) *tree.MemoryStore {
	t.Helper()
	s := tree.NewMemoryStore()
	nodes := []*model.Node{
		{ID: "root", DocumentID: doc, Type: model.NodeDocument},
		{ID: "heading1", DocumentID: doc, ParentID: ptr("root"), Order: 1, Type: model.NodeHeading},
		{ID: "heading2", DocumentID: doc, ParentID: ptr("root"), Order: 2, Type: model.NodeHeading},
		{ID: "paragraph1", DocumentID: doc, ParentID: ptr("heading1"), Order: 1, Type: model.NodeParagraph},
		{ID: "paragraph2", DocumentID: doc, ParentID: ptr("heading1"), Order: 2, Type: model.NodeParagraph},
		{ID: "list1", DocumentID: doc, ParentID: ptr("paragraph2"), Order: 1, Type: model.NodeList},
		{ID: "paragraph3", DocumentID: doc, ParentID: ptr("heading2"), Order: 1, Type: model.NodeParagraph},
	}
	for _, n := range nodes {
		if err := s.Put(n); err != nil {
			t.Fatalf("Put(%s) error = %v", n.ID, err)
		}
	}
	return s
}

// parents mirrors buildTree for computing expected relations.
var parents = map[string]string{
	"heading1":   "root",
	"heading2":   "root",
	"paragraph1": "heading1",
	"paragraph2": "heading1",
	"list1":      "paragraph2",
	"paragraph3": "heading2",
}

func isAncestor(a, b string) bool {
	for p, ok := parents[b]; ok; p, ok = parents[p] {
		if p == a {
			return true
		}
	}
	return false
}

var lockSeq int

func nodeLock(nodeID, user string) *model.Lock {
	lockSeq++
	return model.NewLock(fmt.Sprintf("lock-%d", lockSeq), "p1", user,
		model.NodeResource(doc, nodeID), time.Now())
}

func docLock(user string) *model.Lock {
	lockSeq++
	return model.NewLock(fmt.Sprintf("lock-%d", lockSeq), "p1", user,
		model.DocumentResource(doc), time.Now())
}

func TestFindBlockerAllPairs(t *testing.T) {
	r := NewResolver(buildTree(t), nil)
	ctx := context.Background()

	ids := []string{"root", "heading1", "heading2", "paragraph1", "paragraph2", "list1", "paragraph3"}

	for _, a := range ids {
		for _, b := range ids {
			if a == b {
				continue
			}
			lock := nodeLock(a, "alice")
			c, err := r.FindBlocker(ctx, model.NodeResource(doc, b), []*model.Lock{lock})
			if err != nil {
				t.Fatalf("FindBlocker(%s) with lock on %s error = %v", b, a, err)
			}

			switch {
			case isAncestor(a, b):
				if c == nil || c.Relation != model.RelationAncestor || c.BlockingNodeID != a {
					t.Errorf("lock on %s, check %s: got %+v, want ancestor %s", a, b, c, a)
				}
			case isAncestor(b, a):
				if c == nil || c.Relation != model.RelationDescendant || c.BlockingNodeID != a {
					t.Errorf("lock on %s, check %s: got %+v, want descendant %s", a, b, c, a)
				}
			default:
				if c != nil {
					t.Errorf("lock on %s, check unrelated %s: got %+v, want none", a, b, c)
				}
			}
		}
	}
}

func TestFindBlockerSelf(t *testing.T) {
	r := NewResolver(buildTree(t), nil)
	lock := nodeLock("paragraph1", "alice")

	c, err := r.FindBlocker(context.Background(), model.NodeResource(doc, "paragraph1"), []*model.Lock{lock})
	if err != nil {
		t.Fatalf("FindBlocker() error = %v", err)
	}
	if c == nil || c.Relation != model.RelationSelf || c.BlockingLockID != lock.ID {
		t.Errorf("FindBlocker() = %+v, want self %s", c, lock.ID)
	}
	if c.OwnerID != "alice" {
		t.Errorf("OwnerID = %s, want alice", c.OwnerID)
	}
}

func TestFindBlockerDocumentLock(t *testing.T) {
	r := NewResolver(buildTree(t), nil)
	ctx := context.Background()
	lock := docLock("alice")
	active := []*model.Lock{lock, nodeLock("paragraph3", "bob")}

	for _, id := range []string{"root", "heading1", "list1", "paragraph3"} {
		c, err := r.FindBlocker(ctx, model.NodeResource(doc, id), active)
		if err != nil {
			t.Fatalf("FindBlocker(%s) error = %v", id, err)
		}
		if c == nil || c.Relation != model.RelationAncestor || c.BlockingLockID != lock.ID {
			t.Errorf("FindBlocker(%s) = %+v, want document lock as ancestor", id, c)
		}
		if c.BlockingNodeID != "" {
			t.Errorf("BlockingNodeID = %s, want empty for document lock", c.BlockingNodeID)
		}
	}

	c, err := r.FindBlocker(ctx, model.DocumentResource(doc), active)
	if err != nil {
		t.Fatalf("FindBlocker(document) error = %v", err)
	}
	if c == nil || c.Relation != model.RelationSelf {
		t.Errorf("FindBlocker(document) = %+v, want self", c)
	}
}

func TestFindBlockerNodeBlocksDocument(t *testing.T) {
	r := NewResolver(buildTree(t), nil)
	ctx := context.Background()

	// paragraph3 sits at depth 2 and list1 at depth 3, so breadth-first
	// reports paragraph3 even though heading1 sorts before heading2.
	active := []*model.Lock{nodeLock("list1", "alice"), nodeLock("paragraph3", "bob")}
	c, err := r.FindBlocker(ctx, model.DocumentResource(doc), active)
	if err != nil {
		t.Fatalf("FindBlocker() error = %v", err)
	}
	if c == nil || c.Relation != model.RelationDescendant || c.BlockingNodeID != "paragraph3" {
		t.Errorf("FindBlocker() = %+v, want descendant paragraph3", c)
	}

	c, err = r.FindBlocker(ctx, model.DocumentResource(doc), []*model.Lock{nodeLock("root", "alice")})
	if err != nil {
		t.Fatalf("FindBlocker() error = %v", err)
	}
	if c == nil || c.Relation != model.RelationDescendant || c.BlockingNodeID != "root" {
		t.Errorf("FindBlocker() = %+v, want descendant root", c)
	}
}

func TestFindBlockerDeterministicOrder(t *testing.T) {
	r := NewResolver(buildTree(t), nil)
	active := []*model.Lock{
		nodeLock("list1", "a"),
		nodeLock("paragraph1", "b"),
		nodeLock("paragraph3", "c"),
	}

	for i := 0; i < 20; i++ {
		c, err := r.FindBlocker(context.Background(), model.NodeResource(doc, "root"), active)
		if err != nil {
			t.Fatalf("FindBlocker() error = %v", err)
		}
		// depth 2 in (order, id) order: paragraph1, paragraph2, paragraph3
		if c == nil || c.BlockingNodeID != "paragraph1" {
			t.Fatalf("run %d: FindBlocker() = %+v, want paragraph1", i, c)
		}
	}
}

func TestFindBlockerIgnoresUnrelatedLocks(t *testing.T) {
	r := NewResolver(buildTree(t), nil)
	active := []*model.Lock{
		model.NewLock("x", "p1", "bob", model.DocumentResource("doc-2"), time.Now()),
		model.NewLock("y", "p1", "bob", model.NodeResource("doc-2", "paragraph1"), time.Now()),
		// A thread named after the document is not the document.
		model.NewLock("z", "p1", "bob", model.ThreadResource(doc), time.Now()),
	}

	for _, target := range []model.Resource{
		model.NodeResource(doc, "paragraph1"),
		model.DocumentResource(doc),
	} {
		c, err := r.FindBlocker(context.Background(), target, active)
		if err != nil {
			t.Fatalf("FindBlocker(%s) error = %v", target.Key(), err)
		}
		if c != nil {
			t.Errorf("FindBlocker(%s) = %+v, want none", target.Key(), c)
		}
	}
}

func TestFindBlockerMalformedTree(t *testing.T) {
	ctx := context.Background()

	t.Run("dangling parent acts as root", func(t *testing.T) {
		s := buildTree(t)
		_ = s.Put(&model.Node{ID: "orphan", DocumentID: doc, ParentID: ptr("deleted"), Type: model.NodeParagraph})
		r := NewResolver(s, nil)

		c, err := r.FindBlocker(ctx, model.NodeResource(doc, "orphan"), []*model.Lock{nodeLock("root", "a")})
		if err != nil {
			t.Fatalf("FindBlocker() error = %v", err)
		}
		if c != nil {
			t.Errorf("FindBlocker() = %+v, want none", c)
		}
	})

	t.Run("orphan lock still blocks the document", func(t *testing.T) {
		s := buildTree(t)
		_ = s.Put(&model.Node{ID: "orphan", DocumentID: doc, ParentID: ptr("deleted"), Type: model.NodeParagraph})
		r := NewResolver(s, nil)

		c, err := r.FindBlocker(ctx, model.DocumentResource(doc), []*model.Lock{nodeLock("orphan", "a")})
		if err != nil {
			t.Fatalf("FindBlocker() error = %v", err)
		}
		if c == nil || c.Relation != model.RelationDescendant || c.BlockingNodeID != "orphan" {
			t.Errorf("FindBlocker() = %+v, want descendant orphan", c)
		}
	})

	t.Run("parent cycle terminates", func(t *testing.T) {
		s := tree.NewMemoryStore()
		_ = s.Put(&model.Node{ID: "a", DocumentID: doc, ParentID: ptr("b")})
		_ = s.Put(&model.Node{ID: "b", DocumentID: doc, ParentID: ptr("a")})
		_ = s.Put(&model.Node{ID: "c", DocumentID: doc})
		r := NewResolver(s, nil)

		c, err := r.FindBlocker(ctx, model.NodeResource(doc, "a"), []*model.Lock{nodeLock("c", "x")})
		if err != nil {
			t.Fatalf("FindBlocker() error = %v", err)
		}
		if c != nil {
			t.Errorf("FindBlocker() = %+v, want none", c)
		}
	})

	t.Run("parent in another document ends walk", func(t *testing.T) {
		s := buildTree(t)
		_ = s.Put(&model.Node{ID: "foreign-root", DocumentID: "doc-2"})
		_ = s.Put(&model.Node{ID: "stray", DocumentID: doc, ParentID: ptr("foreign-root")})
		r := NewResolver(s, nil)

		lock := model.NewLock("x", "p1", "a", model.NodeResource(doc, "foreign-root"), time.Now())
		c, err := r.FindBlocker(ctx, model.NodeResource(doc, "stray"), []*model.Lock{lock})
		if err != nil {
			t.Fatalf("FindBlocker() error = %v", err)
		}
		if c != nil {
			t.Errorf("FindBlocker() = %+v, want none", c)
		}
	})
}

func TestFindBlockerUnknownNode(t *testing.T) {
	r := NewResolver(buildTree(t), nil)

	_, err := r.FindBlocker(context.Background(), model.NodeResource(doc, "nope"), nil)
	if !errors.Is(err, tree.ErrNodeNotFound) {
		t.Errorf("FindBlocker() error = %v, want ErrNodeNotFound", err)
	}

	_, err = r.FindBlocker(context.Background(), model.NodeResource("doc-2", "root"), nil)
	if !errors.Is(err, tree.ErrNodeNotFound) {
		t.Errorf("FindBlocker() for wrong document error = %v, want ErrNodeNotFound", err)
	}
}

func TestFindBlockerRejectsFlatResources(t *testing.T) {
	r := NewResolver(buildTree(t), nil)
	if _, err := r.FindBlocker(context.Background(), model.ThreadResource("t1"), nil); err == nil {
		t.Error("FindBlocker() on thread should fail")
	}
}

// countingReader records how many tree reads a check needed.
type countingReader struct {
	tree.Reader
	children int
}

func (c *countingReader) GetChildren(ctx context.Context, id string) ([]*model.Node, error) {
	c.children++
	return c.Reader.GetChildren(ctx, id)
}

func TestFindBlockerSkipsWalkWithoutLocks(t *testing.T) {
	reader := &countingReader{Reader: buildTree(t)}
	r := NewResolver(reader, nil)

	c, err := r.FindBlocker(context.Background(), model.NodeResource(doc, "root"), nil)
	if err != nil {
		t.Fatalf("FindBlocker() error = %v", err)
	}
	if c != nil {
		t.Errorf("FindBlocker() = %+v, want none", c)
	}
	if reader.children != 0 {
		t.Errorf("GetChildren called %d times, want 0", reader.children)
	}
}
