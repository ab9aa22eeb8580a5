package model

// AcquireRequest is the body of POST /locks.
type AcquireRequest struct {
	ProjectID    string       `json:"projectId"`
	ResourceType ResourceType `json:"resourceType"`
	ResourceID   string       `json:"resourceId"`
}

// LockResponse is the JSON envelope returned by the lock endpoints.
type LockResponse struct {
	// Status is one of:
	//   - "locked"   when a lock is returned
	//   - "unlocked" when no active lock exists or one was released
	//   - "error"    on failure
	Status string `json:"status"`

	// Code is a stable machine-readable error code, set on failures.
	Code string `json:"code,omitempty"`

	Message string `json:"message,omitempty"`

	Lock *Lock `json:"lock,omitempty"`

	// Conflict is set when an acquire was rejected.
	Conflict *Conflict `json:"conflict,omitempty"`
}

// ConflictResponse is returned by GET .../conflict.
type ConflictResponse struct {
	// Status is "conflict" or "clear".
	Status   string    `json:"status"`
	Conflict *Conflict `json:"conflict,omitempty"`
}

// Error codes used in LockResponse.Code.
const (
	CodeUnauthenticated   = "UNAUTHENTICATED"
	CodeUserNotFound      = "USER_NOT_FOUND"
	CodeResourceLocked    = "RESOURCE_LOCKED"
	CodeHierarchyConflict = "HIERARCHY_CONFLICT"
	CodeNotOwner          = "NOT_OWNER"
	CodeLockNotFound      = "LOCK_NOT_FOUND"
	CodeNotFound          = "NOT_FOUND"
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeInternal          = "INTERNAL"
)
