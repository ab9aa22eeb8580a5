package model

// Relation describes where a blocking lock sits relative to the resource
// being checked.
type Relation string

const (
	RelationSelf       Relation = "self"
	RelationAncestor   Relation = "ancestor"
	RelationDescendant Relation = "descendant"
)

// Conflict is the derived result of a hierarchy check. It is never stored.
type Conflict struct {
	Relation       Relation `json:"relation"`
	BlockingLockID string   `json:"blockingLockId"`
	// BlockingNodeID is empty when the blocker is a whole-document or flat lock.
	BlockingNodeID string `json:"blockingNodeId,omitempty"`
	OwnerID        string `json:"ownerId"`
	OwnerName      string `json:"ownerName,omitempty"`
}

// ConflictFor builds a Conflict pointing at lock l.
func ConflictFor(rel Relation, l *Lock) *Conflict {
	return &Conflict{
		Relation:       rel,
		BlockingLockID: l.ID,
		BlockingNodeID: l.NodeID,
		OwnerID:        l.UserID,
	}
}

// User is a record from the user directory.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}
