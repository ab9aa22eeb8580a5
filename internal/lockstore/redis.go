package lockstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/n3tuk/document-node-lock/internal/model"
)

const (
	redisScopePrefix = "locks:"
	redisIDPrefix    = "lockid:"
)

// RedisStore keeps each scope in a Redis hash of lock id to JSON row.
// Updates use WATCH/MULTI and are retried when another writer touched the
// scope first.
type RedisStore struct {
	client     *redis.Client
	logger     *zap.Logger
	retention  Retention
	maxRetries int
	owned      bool
}

var _ Store = (*RedisStore)(nil)

// RedisOptions tunes a RedisStore.
type RedisOptions struct {
	// Retention sets the TTL refreshed on each scope write.
	Retention Retention
	// MaxRetries bounds optimistic retries of one Update.
	MaxRetries int
}

// NewRedisStore creates a lock store on client. The caller owns client.
func NewRedisStore(client *redis.Client, opts RedisOptions, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 16
	}
	return &RedisStore{
		client:     client,
		logger:     logger,
		retention:  opts.Retention,
		maxRetries: opts.MaxRetries,
	}
}

// OpenRedisStore connects to the Redis server at rawURL. The returned store
// closes the connection on Close.
func OpenRedisStore(ctx context.Context, rawURL string, opts RedisOptions, logger *zap.Logger) (*RedisStore, error) {
	ropts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(ropts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	s := NewRedisStore(client, opts, logger)
	s.owned = true
	return s, nil
}

func redisScopeKey(scope string) string {
	return redisScopePrefix + scope
}

func decodeHash(values map[string]string) ([]*model.Lock, error) {
	rows := make([]*model.Lock, 0, len(values))
	for _, v := range values {
		l, err := decodeLock(v)
		if err != nil {
			return nil, err
		}
		rows = append(rows, l)
	}
	sortLocks(rows)
	return rows, nil
}

// Update implements Store.
func (s *RedisStore) Update(ctx context.Context, scope string, fn func(tx Tx) error) error {
	key := redisScopeKey(scope)
	ttl := s.retention.TTL(scope)

	txf := func(rtx *redis.Tx) error {
		values, err := rtx.HGetAll(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("failed to read scope %s: %w", scope, err)
		}
		rows, err := decodeHash(values)
		if err != nil {
			return err
		}

		tx := newStagedTx(scope, rows, func(ctx context.Context, id string) (bool, error) {
			n, err := rtx.Exists(ctx, redisIDPrefix+id).Result()
			return n > 0, err
		})
		if err := fn(tx); err != nil {
			return err
		}

		_, removed, changed := tx.changes()
		if !changed {
			return nil
		}

		fields := make(map[string]interface{}, len(tx.current))
		for id, l := range tx.current {
			v, err := encodeLock(l)
			if err != nil {
				return err
			}
			fields[id] = v
		}

		_, err = rtx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			if len(fields) == 0 {
				p.Del(ctx, key)
			} else {
				if len(removed) > 0 {
					p.HDel(ctx, key, removed...)
				}
				p.HSet(ctx, key, fields)
				if ttl > 0 {
					p.Expire(ctx, key, ttl)
				}
			}
			// Every remaining row is re-indexed so its index entry lives as
			// long as the scope hash.
			for id := range tx.current {
				p.Set(ctx, redisIDPrefix+id, scope, ttl)
			}
			for _, id := range removed {
				p.Del(ctx, redisIDPrefix+id)
			}
			return nil
		})
		return err
	}

	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		s.logger.Debug("Scope changed during update, retrying",
			zap.String("scope", scope),
			zap.Int("attempt", attempt),
		)
	}
	return fmt.Errorf("%w: %s", ErrConflict, scope)
}

// List implements Store.
func (s *RedisStore) List(ctx context.Context, scope string) ([]*model.Lock, error) {
	values, err := s.client.HGetAll(ctx, redisScopeKey(scope)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read scope %s: %w", scope, err)
	}
	return decodeHash(values)
}

// FindByKey implements Store.
func (s *RedisStore) FindByKey(ctx context.Context, key string) (*model.Lock, error) {
	scope, err := scopeOfKey(key)
	if err != nil {
		return nil, err
	}
	rows, err := s.List(ctx, scope)
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
func (s *RedisStore) FindByID(ctx context.Context, id string) (*model.Lock, error) {
	scope, err := s.client.Get(ctx, redisIDPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read lock index: %w", err)
	}

	value, err := s.client.HGet(ctx, redisScopeKey(scope), id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read lock %s: %w", id, err)
	}
	return decodeLock(value)
}

func (s *RedisStore) scopes(ctx context.Context) ([]string, error) {
	var scopes []string
	iter := s.client.Scan(ctx, 0, redisScopePrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		scopes = append(scopes, strings.TrimPrefix(iter.Val(), redisScopePrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan scopes: %w", err)
	}
	return scopes, nil
}

// DeleteExpired implements Store.
func (s *RedisStore) DeleteExpired(ctx context.Context, class model.ResourceClass, before int64) (int, error) {
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
func (s *RedisStore) Count(ctx context.Context) (int, error) {
	scopes, err := s.scopes(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, scope := range scopes {
		n, err := s.client.HLen(ctx, redisScopeKey(scope)).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to count scope %s: %w", scope, err)
		}
		total += int(n)
	}
	return total, nil
}

// Ping implements Store.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close implements Store.
func (s *RedisStore) Close(ctx context.Context) error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
