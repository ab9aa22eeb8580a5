package model

import (
	"time"
)

// Lock is an exclusive editing claim on a resource.
// Tree locks carry DocumentID (and NodeID for node locks); flat locks carry
// ResourceID. The two sets of fields are never mixed.
type Lock struct {
	// ID is the lock identifier handed back to the owner for release/refresh.
	ID string `json:"id"`

	// ProjectID is the project the locked resource belongs to.
	ProjectID string `json:"projectId"`

	// ResourceType is the kind of resource being locked.
	ResourceType ResourceType `json:"resourceType"`

	DocumentID string `json:"documentId,omitempty"`
	NodeID     string `json:"nodeId,omitempty"`
	ResourceID string `json:"resourceId,omitempty"`

	// UserID is the owner of the lock.
	UserID string `json:"userId"`

	// LockedAt is the acquire or last refresh time in epoch milliseconds.
	LockedAt int64 `json:"lockedAt"`
}

// NewLock builds a lock row for r. The targeting fields are filled from r.
func NewLock(id, projectID, userID string, r Resource, at time.Time) *Lock {
	l := &Lock{
		ID:           id,
		ProjectID:    projectID,
		ResourceType: r.Type,
		UserID:       userID,
		LockedAt:     at.UnixMilli(),
	}
	if r.Type.HierarchyAware() {
		l.DocumentID = r.DocumentID
		l.NodeID = r.NodeID
	} else {
		l.ResourceID = r.ResourceID
	}
	return l
}

// Resource returns the resource the lock targets.
func (l *Lock) Resource() Resource {
	return Resource{
		Type:       l.ResourceType,
		DocumentID: l.DocumentID,
		NodeID:     l.NodeID,
		ResourceID: l.ResourceID,
	}
}

// Key returns the canonical resource key.
func (l *Lock) Key() string {
	return l.Resource().Key()
}

// Scope returns the mutation scope of the lock.
func (l *Lock) Scope() string {
	return l.Resource().Scope()
}

// Class returns the resource class of the lock.
func (l *Lock) Class() ResourceClass {
	return l.ResourceType.Class()
}

// IsDocumentLock reports whether the lock covers a whole document.
func (l *Lock) IsDocumentLock() bool {
	return l.ResourceType == ResourceDocument
}

// Time returns LockedAt as a time.Time.
func (l *Lock) Time() time.Time {
	return time.UnixMilli(l.LockedAt)
}

// IsExpired reports whether the lock is older than window at now.
// A lock exactly window old is still active.
func (l *Lock) IsExpired(now time.Time, window time.Duration) bool {
	return now.UnixMilli()-l.LockedAt > window.Milliseconds()
}

// Clone returns a copy of the lock.
func (l *Lock) Clone() *Lock {
	if l == nil {
		return nil
	}
	c := *l
	return &c
}
