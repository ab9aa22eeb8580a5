package lockclient

import "github.com/n3tuk/document-node-lock/internal/model"

// Wire types shared with the service.
type (
	Lock         = model.Lock
	Conflict     = model.Conflict
	Relation     = model.Relation
	ResourceType = model.ResourceType
)

const (
	ResourceDocument = model.ResourceDocument
	ResourceNode     = model.ResourceNode
	ResourceThread   = model.ResourceThread
)

// Status is the lock state of a resource as seen by one viewer.
type Status string

const (
	// StatusPending is the state before the first successful lookup.
	StatusPending Status = "pending"
	// StatusAcquired means the viewer holds an active lock on the resource.
	StatusAcquired Status = "acquired"
	// StatusBlocked means someone else holds the resource itself.
	StatusBlocked Status = "blocked"
	// StatusHierarchyConflict means the resource is free but an ancestor or
	// descendant is locked.
	StatusHierarchyConflict Status = "hierarchy-conflict"
	// StatusAvailable means nothing stands in the way of an acquire.
	StatusAvailable Status = "available"
)

// State is a snapshot published by a Session.
type State struct {
	Status Status
	// Lock is the active lock on the resource, if any.
	Lock *Lock
	// Conflict is set for StatusHierarchyConflict.
	Conflict *Conflict
}

// DeriveStatus maps a lookup to a Status. A direct lock wins over a
// hierarchy conflict.
func DeriveStatus(lock *Lock, viewerID string, conflict *Conflict) Status {
	switch {
	case lock != nil && lock.UserID == viewerID:
		return StatusAcquired
	case lock != nil:
		return StatusBlocked
	case conflict != nil:
		return StatusHierarchyConflict
	default:
		return StatusAvailable
	}
}

func (s State) equal(o State) bool {
	if s.Status != o.Status {
		return false
	}
	if (s.Lock == nil) != (o.Lock == nil) {
		return false
	}
	if s.Lock != nil && (s.Lock.ID != o.Lock.ID || s.Lock.LockedAt != o.Lock.LockedAt) {
		return false
	}
	if (s.Conflict == nil) != (o.Conflict == nil) {
		return false
	}
	return s.Conflict == nil || *s.Conflict == *o.Conflict
}
