package lockstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/n3tuk/document-node-lock/internal/model"
	"github.com/n3tuk/document-node-lock/internal/store"
)

// Key layout in the key/value store.
const (
	kvScopePrefix = "scope|"
	kvIDPrefix    = "lockid|"
	kvMutexPrefix = "mutex|"
)

// KVStore keeps one JSON document per scope in a store.Store, normally the
// embedded Olric DMap. A cluster-wide key mutex guards each scope and a
// lockid index maps lock ids back to their scope.
type KVStore struct {
	kv        store.Store
	logger    *zap.Logger
	retention Retention
	mutexTTL  time.Duration
	wait      time.Duration
}

var _ Store = (*KVStore)(nil)

// KVOptions tunes a KVStore.
type KVOptions struct {
	// Retention sets the TTL written with each scope document.
	Retention Retention
	// MutexTTL bounds how long a crashed writer can hold a scope.
	MutexTTL time.Duration
	// Wait is how long Update waits for the scope mutex.
	Wait time.Duration
}

// NewKVStore creates a lock store on kv. The caller owns kv.
func NewKVStore(kv store.Store, opts KVOptions, logger *zap.Logger) *KVStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MutexTTL <= 0 {
		opts.MutexTTL = 10 * time.Second
	}
	if opts.Wait <= 0 {
		opts.Wait = 5 * time.Second
	}
	return &KVStore{
		kv:        kv,
		logger:    logger,
		retention: opts.Retention,
		mutexTTL:  opts.MutexTTL,
		wait:      opts.Wait,
	}
}

func scopeKey(scope string) string {
	return kvScopePrefix + url.QueryEscape(scope)
}

func scopeFromKey(key string) (string, bool) {
	scope, err := url.QueryUnescape(strings.TrimPrefix(key, kvScopePrefix))
	return scope, err == nil
}

func (s *KVStore) load(ctx context.Context, scope string) ([]*model.Lock, error) {
	value, err := s.kv.Get(ctx, scopeKey(scope))
	if errors.Is(err, store.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read scope %s: %w", scope, err)
	}
	doc, err := decodeScope(value)
	if err != nil {
		return nil, err
	}
	return doc.Locks, nil
}

func (s *KVStore) idTaken(ctx context.Context, id string) (bool, error) {
	return s.kv.Exists(ctx, kvIDPrefix+id)
}

// Update implements Store.
func (s *KVStore) Update(ctx context.Context, scope string, fn func(tx Tx) error) error {
	mu, err := s.kv.Lock(ctx, kvMutexPrefix+scope, s.mutexTTL, s.wait)
	if err != nil {
		if errors.Is(err, store.ErrLockNotAcquired) {
			return fmt.Errorf("%w: %s", ErrConflict, scope)
		}
		return fmt.Errorf("failed to lock scope %s: %w", scope, err)
	}
	defer func() {
		if err := mu.Unlock(context.Background()); err != nil {
			s.logger.Warn("Failed to unlock scope",
				zap.String("scope", scope),
				zap.Error(err),
			)
		}
	}()

	rows, err := s.load(ctx, scope)
	if err != nil {
		return err
	}

	tx := newStagedTx(scope, rows, s.idTaken)
	if err := fn(tx); err != nil {
		return err
	}

	_, removed, changed := tx.changes()
	if !changed {
		return nil
	}
	return s.apply(ctx, scope, tx.rows(), removed)
}

// apply writes the scope document and re-indexes every remaining row, so an
// index entry always carries the same TTL as the scope it points at.
func (s *KVStore) apply(ctx context.Context, scope string, rows []*model.Lock, removed []string) error {
	ttl := s.retention.TTL(scope)

	if len(rows) == 0 {
		if err := s.kv.Delete(ctx, scopeKey(scope)); err != nil {
			return fmt.Errorf("failed to delete scope %s: %w", scope, err)
		}
	} else {
		value, err := encodeScope(scope, rows)
		if err != nil {
			return err
		}
		if err := s.kv.Put(ctx, scopeKey(scope), value, ttl); err != nil {
			return fmt.Errorf("failed to write scope %s: %w", scope, err)
		}
	}

	for _, l := range rows {
		if err := s.kv.Put(ctx, kvIDPrefix+l.ID, scope, ttl); err != nil {
			return fmt.Errorf("failed to index lock %s: %w", l.ID, err)
		}
	}
	for _, id := range removed {
		if err := s.kv.Delete(ctx, kvIDPrefix+id); err != nil {
			return fmt.Errorf("failed to unindex lock %s: %w", id, err)
		}
	}
	return nil
}

// List implements Store.
func (s *KVStore) List(ctx context.Context, scope string) ([]*model.Lock, error) {
	rows, err := s.load(ctx, scope)
	if err != nil {
		return nil, err
	}
	sortLocks(rows)
	return rows, nil
}

// FindByKey implements Store. The key determines the scope, so this is a
// single read.
func (s *KVStore) FindByKey(ctx context.Context, key string) (*model.Lock, error) {
	scope, err := scopeOfKey(key)
	if err != nil {
		return nil, err
	}
	rows, err := s.load(ctx, scope)
	if err != nil {
		return nil, err
	}
	for _, l := range rows {
		if l.Key() == key {
			return l, nil
		}
	}
	return nil, ErrNotFound
}

// FindByID implements Store.
func (s *KVStore) FindByID(ctx context.Context, id string) (*model.Lock, error) {
	scope, err := s.kv.Get(ctx, kvIDPrefix+id)
	if errors.Is(err, store.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read lock index: %w", err)
	}
	rows, err := s.load(ctx, scope)
	if err != nil {
		return nil, err
	}
	for _, l := range rows {
		if l.ID == id {
			return l, nil
		}
	}
	return nil, ErrNotFound
}

func (s *KVStore) scopes(ctx context.Context) ([]string, error) {
	keys, err := s.kv.Keys(ctx, kvScopePrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list scopes: %w", err)
	}
	scopes := make([]string, 0, len(keys))
	for _, k := range keys {
		if scope, ok := scopeFromKey(k); ok {
			scopes = append(scopes, scope)
		}
	}
	return scopes, nil
}

// DeleteExpired implements Store.
func (s *KVStore) DeleteExpired(ctx context.Context, class model.ResourceClass, before int64) (int, error) {
	scopes, err := s.scopes(ctx)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, scope := range scopes {
		if model.ScopeClass(scope) != class {
			continue
		}
		n := 0
		err := s.Update(ctx, scope, func(tx Tx) error {
			n = 0
			rows, _ := tx.List(ctx)
			for _, l := range rows {
				if l.LockedAt < before {
					_ = tx.Delete(ctx, l.ID)
					n++
				}
			}
			return nil
		})
		if err != nil {
			return deleted, err
		}
		deleted += n
	}
	return deleted, nil
}

// Count implements Store.
func (s *KVStore) Count(ctx context.Context) (int, error) {
	scopes, err := s.scopes(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, scope := range scopes {
		rows, err := s.load(ctx, scope)
		if err != nil {
			return 0, err
		}
		total += len(rows)
	}
	return total, nil
}

// Ping implements Store.
func (s *KVStore) Ping(ctx context.Context) error {
	return s.kv.Ping(ctx)
}

// Close implements Store. The key/value store belongs to the caller.
func (s *KVStore) Close(ctx context.Context) error {
	return nil
}

// scopeOfKey derives the scope a resource key lives in.
func scopeOfKey(key string) (string, error) {
	rt, id, ok := strings.Cut(key, "/")
	if !ok {
		return "", fmt.Errorf("malformed resource key %q", key)
	}
	r, err := model.ParseResource(model.ResourceType(rt), id)
	if err != nil {
		return "", err
	}
	return r.Scope(), nil
}
