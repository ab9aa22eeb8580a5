package lockstore

import (
	"context"
	"sync"

	"github.com/n3tuk/document-node-lock/internal/model"
)

// MemoryStore keeps lock rows in process. Each scope has its own mutex so
// updates of unrelated documents do not wait on each other.
//
// Lock order is scope mutex, then mu.
type MemoryStore struct {
	mu      sync.Mutex
	mutexes map[string]*sync.Mutex
	// scopes is replaced per scope on every write, never edited in place.
	scopes map[string]map[string]*model.Lock
	ids    map[string]string
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		mutexes: make(map[string]*sync.Mutex),
		scopes:  make(map[string]map[string]*model.Lock),
		ids:     make(map[string]string),
	}
}

func (s *MemoryStore) scopeMutex(scope string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.mutexes[scope]
	if !ok {
		m = &sync.Mutex{}
		s.mutexes[scope] = m
	}
	return m
}

func (s *MemoryStore) snapshot(scope string) []*model.Lock {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := make([]*model.Lock, 0, len(s.scopes[scope]))
	for _, l := range s.scopes[scope] {
		rows = append(rows, l.Clone())
	}
	return rows
}

func (s *MemoryStore) idTaken(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok, nil
}

// Update implements Store.
func (s *MemoryStore) Update(ctx context.Context, scope string, fn func(tx Tx) error) error {
	m := s.scopeMutex(scope)
	m.Lock()
	defer m.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := newStagedTx(scope, s.snapshot(scope), s.idTaken)
	if err := fn(tx); err != nil {
		return err
	}

	added, removed, changed := tx.changes()
	if !changed {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]*model.Lock, len(tx.current))
	for id, l := range tx.current {
		next[id] = l.Clone()
	}
	if len(next) == 0 {
		delete(s.scopes, scope)
	} else {
		s.scopes[scope] = next
	}
	for _, id := range removed {
		delete(s.ids, id)
	}
	for _, l := range added {
		s.ids[l.ID] = scope
	}
	return nil
}

// List implements Store.
func (s *MemoryStore) List(ctx context.Context, scope string) ([]*model.Lock, error) {
	rows := s.snapshot(scope)
	sortLocks(rows)
	return rows, nil
}

// FindByKey implements Store.
func (s *MemoryStore) FindByKey(ctx context.Context, key string) (*model.Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rows := range s.scopes {
		for _, l := range rows {
			if l.Key() == key {
				return l.Clone(), nil
			}
		}
	}
	return nil, ErrNotFound
}

// FindByID implements Store.
func (s *MemoryStore) FindByID(ctx context.Context, id string) (*model.Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scope, ok := s.ids[id]
	if !ok {
		return nil, ErrNotFound
	}
	l, ok := s.scopes[scope][id]
	if !ok {
		return nil, ErrNotFound
	}
	return l.Clone(), nil
}

// DeleteExpired implements Store.
func (s *MemoryStore) DeleteExpired(ctx context.Context, class model.ResourceClass, before int64) (int, error) {
	s.mu.Lock()
	scopes := make([]string, 0, len(s.scopes))
	for scope := range s.scopes {
		if model.ScopeClass(scope) == class {
			scopes = append(scopes, scope)
		}
	}
	s.mu.Unlock()

	deleted := 0
	for _, scope := range scopes {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		err := s.Update(ctx, scope, func(tx Tx) error {
			rows, _ := tx.List(ctx)
			for _, l := range rows {
				if l.LockedAt < before {
					_ = tx.Delete(ctx, l.ID)
					deleted++
				}
			}
			return nil
		})
		if err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}

// Count implements Store.
func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids), nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close(ctx context.Context) error {
	return nil
}
