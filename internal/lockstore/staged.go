package lockstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/n3tuk/document-node-lock/internal/model"
)

// stagedTx buffers the writes of one Update against a snapshot of the
// scope. Backends that store a scope as one value (memory, Olric, Redis)
// apply the buffered changes once fn succeeds.
type stagedTx struct {
	scope    string
	original map[string]*model.Lock
	current  map[string]*model.Lock
	// idTaken reports whether a lock id is in use in another scope.
	idTaken func(ctx context.Context, id string) (bool, error)
}

func newStagedTx(scope string, rows []*model.Lock, idTaken func(context.Context, string) (bool, error)) *stagedTx {
	tx := &stagedTx{
		scope:    scope,
		original: make(map[string]*model.Lock, len(rows)),
		current:  make(map[string]*model.Lock, len(rows)),
		idTaken:  idTaken,
	}
	for _, l := range rows {
		tx.original[l.ID] = l
		tx.current[l.ID] = l.Clone()
	}
	return tx
}

func (tx *stagedTx) List(ctx context.Context) ([]*model.Lock, error) {
	out := make([]*model.Lock, 0, len(tx.current))
	for _, l := range tx.current {
		out = append(out, l.Clone())
	}
	sortLocks(out)
	return out, nil
}

func (tx *stagedTx) Insert(ctx context.Context, l *model.Lock) error {
	if err := validateInsert(tx.scope, l); err != nil {
		return err
	}
	if _, ok := tx.current[l.ID]; ok {
		return ErrDuplicate
	}
	key := l.Key()
	for _, existing := range tx.current {
		if existing.Key() == key {
			return ErrDuplicate
		}
	}
	if _, ok := tx.original[l.ID]; !ok && tx.idTaken != nil {
		taken, err := tx.idTaken(ctx, l.ID)
		if err != nil {
			return err
		}
		if taken {
			return ErrDuplicate
		}
	}
	tx.current[l.ID] = l.Clone()
	return nil
}

func (tx *stagedTx) Touch(ctx context.Context, id string, lockedAt int64) error {
	l, ok := tx.current[id]
	if !ok {
		return ErrNotFound
	}
	l.LockedAt = lockedAt
	return nil
}

func (tx *stagedTx) Delete(ctx context.Context, id string) error {
	delete(tx.current, id)
	return nil
}

// changes returns the rows added since the snapshot, the ids removed, and
// whether anything at all changed.
func (tx *stagedTx) changes() (added []*model.Lock, removed []string, changed bool) {
	for id, l := range tx.current {
		orig, ok := tx.original[id]
		if !ok {
			added = append(added, l)
			changed = true
			continue
		}
		if *orig != *l {
			changed = true
		}
	}
	for id := range tx.original {
		if _, ok := tx.current[id]; !ok {
			removed = append(removed, id)
			changed = true
		}
	}
	return added, removed, changed
}

// rows returns the current rows in stable order.
func (tx *stagedTx) rows() []*model.Lock {
	out := make([]*model.Lock, 0, len(tx.current))
	for _, l := range tx.current {
		out = append(out, l)
	}
	sortLocks(out)
	return out
}

// scopeDocument is the JSON value a KV backend stores per scope.
type scopeDocument struct {
	Scope string        `json:"scope"`
	Locks []*model.Lock `json:"locks"`
}

func encodeScope(scope string, locks []*model.Lock) (string, error) {
	b, err := json.Marshal(scopeDocument{Scope: scope, Locks: locks})
	if err != nil {
		return "", fmt.Errorf("failed to serialize scope %s: %w", scope, err)
	}
	return string(b), nil
}

func decodeScope(value string) (*scopeDocument, error) {
	var doc scopeDocument
	if err := json.Unmarshal([]byte(value), &doc); err != nil {
		return nil, fmt.Errorf("failed to deserialize scope: %w", err)
	}
	return &doc, nil
}

func encodeLock(l *model.Lock) (string, error) {
	b, err := json.Marshal(l)
	if err != nil {
		return "", fmt.Errorf("failed to serialize lock %s: %w", l.ID, err)
	}
	return string(b), nil
}

func decodeLock(value string) (*model.Lock, error) {
	var l model.Lock
	if err := json.Unmarshal([]byte(value), &l); err != nil {
		return nil, fmt.Errorf("failed to deserialize lock: %w", err)
	}
	return &l, nil
}
