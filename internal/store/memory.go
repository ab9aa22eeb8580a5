package store

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is a single-process Store. It stands in for Olric when the KV
// lock store is tested.
type MemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]memoryEntry
	mutexes map[string]*memoryMutex
	// released is closed and replaced every time a mutex is released.
	released chan struct{}
	closed   bool
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

type memoryMutex struct {
	token     uint64
	expiresAt time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:      time.Now,
		entries:  make(map[string]memoryEntry),
		mutexes:  make(map[string]*memoryMutex),
		released: make(chan struct{}),
	}
}

// SetClock replaces the time source used for expiry.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Put implements Store.
func (s *MemoryStore) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = e
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrStoreClosed
	}
	e, ok := s.entries[key]
	if !ok {
		return "", ErrKeyNotFound
	}
	if e.expired(s.now()) {
		delete(s.entries, key)
		return "", ErrKeyNotFound
	}
	return e.value, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	delete(s.entries, key)
	return nil
}

// Exists implements Store.
func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Get(ctx, key)
	if err == ErrKeyNotFound {
		return false, nil
	}
	return err == nil, err
}

// Lock implements Store. Waiters are woken whenever any mutex is released.
func (s *MemoryStore) Lock(ctx context.Context, key string, ttl, wait time.Duration) (Unlocker, error) {
	if wait <= 0 {
		wait = 5 * time.Second
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, ErrStoreClosed
		}
		now := s.now()
		m, held := s.mutexes[key]
		if !held || (!m.expiresAt.IsZero() && !now.Before(m.expiresAt)) {
			var token uint64 = 1
			if held {
				token = m.token + 1
			}
			next := &memoryMutex{token: token}
			if ttl > 0 {
				next.expiresAt = now.Add(ttl)
			}
			s.mutexes[key] = next
			s.mu.Unlock()
			return &memoryUnlocker{store: s, key: key, token: token}, nil
		}
		released := s.released
		s.mu.Unlock()

		select {
		case <-released:
		case <-timer.C:
			return nil, ErrLockNotAcquired
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

type memoryUnlocker struct {
	store *MemoryStore
	key   string
	token uint64
}

// Unlock releases the mutex unless it already expired and was taken over.
func (u *memoryUnlocker) Unlock(ctx context.Context) error {
	s := u.store
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.mutexes[u.key]
	if !ok || m.token != u.token {
		return ErrNoSuchLock
	}
	delete(s.mutexes, u.key)
	close(s.released)
	s.released = make(chan struct{})
	return nil
}

// Keys implements Store.
func (s *MemoryStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	now := s.now()
	var keys []string
	for k, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, k)
			continue
		}
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Stats implements Store.
func (s *MemoryStore) Stats(ctx context.Context) (*StoreStats, error) {
	keys, err := s.Keys(ctx, "")
	if err != nil {
		return nil, err
	}
	return &StoreStats{
		ClusterMembers:    1,
		PartitionCount:    1,
		ReplicationFactor: 1,
		TotalKeys:         int64(len(keys)),
	}, nil
}

// Close implements Store.
func (s *MemoryStore) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
