package model

import (
	"fmt"
	"strings"
)

// ResourceType identifies what kind of thing a lock targets.
type ResourceType string

const (
	// ResourceDocument locks a whole document. The resource id is the document id.
	ResourceDocument ResourceType = "document"
	// ResourceNode locks a single node and, implicitly, its subtree.
	// The resource id has the form "<documentID>/<nodeID>".
	ResourceNode ResourceType = "node"
	// ResourceThread locks an agent chat thread. Only identical-resource
	// conflicts apply.
	ResourceThread ResourceType = "thread"
)

// ResourceClass groups resource types that share conflict rules and an
// expiry window.
type ResourceClass string

const (
	// ClassTree resources take part in ancestor/descendant conflict checks.
	ClassTree ResourceClass = "tree"
	// ClassFlat resources only conflict with a lock on the same resource.
	ClassFlat ResourceClass = "flat"
)

// ResourceClasses lists every class, in a stable order.
var ResourceClasses = []ResourceClass{ClassTree, ClassFlat}

// Valid reports whether t is a known resource type.
func (t ResourceType) Valid() bool {
	switch t {
	case ResourceDocument, ResourceNode, ResourceThread:
		return true
	}
	return false
}

// Class returns the resource class of t.
func (t ResourceType) Class() ResourceClass {
	if t == ResourceThread {
		return ClassFlat
	}
	return ClassTree
}

// HierarchyAware reports whether locks on t are checked against ancestors
// and descendants.
func (t ResourceType) HierarchyAware() bool {
	return t.Class() == ClassTree
}

// Resource is a parsed, addressable lock target.
type Resource struct {
	Type       ResourceType
	DocumentID string
	NodeID     string
	ResourceID string
}

// ParseResource turns the external (type, id) pair into a Resource.
// Node ids are addressed as "<documentID>/<nodeID>".
func ParseResource(rt ResourceType, id string) (Resource, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Resource{}, fmt.Errorf("resource id is required")
	}

	switch rt {
	case ResourceDocument:
		if strings.Contains(id, "/") {
			return Resource{}, fmt.Errorf("document id %q must not contain '/'", id)
		}
		return Resource{Type: rt, DocumentID: id}, nil
	case ResourceNode:
		doc, node, ok := strings.Cut(id, "/")
		if !ok || doc == "" || node == "" || strings.Contains(node, "/") {
			return Resource{}, fmt.Errorf("node id %q must have the form <documentID>/<nodeID>", id)
		}
		return Resource{Type: rt, DocumentID: doc, NodeID: node}, nil
	case ResourceThread:
		return Resource{Type: rt, ResourceID: id}, nil
	default:
		return Resource{}, fmt.Errorf("unknown resource type %q", rt)
	}
}

// NodeResource addresses a single node.
func NodeResource(documentID, nodeID string) Resource {
	return Resource{Type: ResourceNode, DocumentID: documentID, NodeID: nodeID}
}

// DocumentResource addresses a whole document.
func DocumentResource(documentID string) Resource {
	return Resource{Type: ResourceDocument, DocumentID: documentID}
}

// ThreadResource addresses a chat thread.
func ThreadResource(threadID string) Resource {
	return Resource{Type: ResourceThread, ResourceID: threadID}
}

// ID returns the external resource id, the inverse of ParseResource.
func (r Resource) ID() string {
	switch r.Type {
	case ResourceDocument:
		return r.DocumentID
	case ResourceNode:
		return r.DocumentID + "/" + r.NodeID
	default:
		return r.ResourceID
	}
}

// Key is the canonical key of the exact resource. At most one lock row
// exists per key.
func (r Resource) Key() string {
	return string(r.Type) + "/" + r.ID()
}

// Scope is the unit of mutual exclusion for lock mutations. Every tree
// resource of a document shares the document scope so that hierarchy checks
// and inserts are serialized together.
func (r Resource) Scope() string {
	if r.Type.HierarchyAware() {
		return "doc/" + r.DocumentID
	}
	return r.Key()
}

func (r Resource) String() string {
	return r.Key()
}

// ScopeClass returns the resource class of the locks living in scope.
func ScopeClass(scope string) ResourceClass {
	if strings.HasPrefix(scope, "doc/") {
		return ClassTree
	}
	rt, _, _ := strings.Cut(scope, "/")
	return ResourceType(rt).Class()
}
