package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrKeyNotFound is returned by Get when the key is absent or expired.
	ErrKeyNotFound = errors.New("key not found")

	// ErrLockNotAcquired is returned by Lock when the key mutex could not be
	// taken before the wait deadline.
	ErrLockNotAcquired = errors.New("key lock not acquired")

	// ErrNoSuchLock is returned by Unlock when the mutex expired and was
	// released or taken by someone else.
	ErrNoSuchLock = errors.New("key lock no longer held")

	// ErrStoreClosed is returned by operations on a closed store.
	ErrStoreClosed = errors.New("store closed")
)

// Store is a distributed key/value store with per-key mutexes. The lock
// table's Olric backend is built on it.
type Store interface {
	// Put stores a value. A zero ttl means the key does not expire.
	Put(ctx context.Context, key, value string, ttl time.Duration) error

	// Get returns the value for key or ErrKeyNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Lock takes a cluster-wide mutex named key, waiting at most wait.
	// The mutex is released automatically after ttl if the holder dies.
	Lock(ctx context.Context, key string, ttl, wait time.Duration) (Unlocker, error)

	// Keys returns every key starting with prefix, in no particular order.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Stats returns cluster and storage statistics.
	Stats(ctx context.Context) (*StoreStats, error)

	// Close shuts the store down. For the embedded Olric server this also
	// leaves the cluster.
	Close(ctx context.Context) error
}

// Unlocker releases a mutex taken with Store.Lock.
type Unlocker interface {
	Unlock(ctx context.Context) error
}

// StoreStats describes the state of the store.
type StoreStats struct {
	// ClusterMembers is the number of live members.
	ClusterMembers int

	// PartitionCount is the number of partitions data is spread over.
	PartitionCount int

	// ReplicationFactor is the number of copies of each partition.
	ReplicationFactor int

	// TotalKeys is the number of keys currently stored.
	TotalKeys int64
}
