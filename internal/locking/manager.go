// Package locking implements the lock lifecycle: acquire, release, refresh
// and expiry of resource locks.
package locking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/n3tuk/document-node-lock/internal/hierarchy"
	"github.com/n3tuk/document-node-lock/internal/identity"
	"github.com/n3tuk/document-node-lock/internal/lockstore"
	"github.com/n3tuk/document-node-lock/internal/metrics"
	"github.com/n3tuk/document-node-lock/internal/model"
	"github.com/n3tuk/document-node-lock/internal/tree"
)

// LockManager is the lock API consumed by the HTTP handlers.
type LockManager interface {
	// AcquireLock locks a resource for callerID. Acquiring a resource the
	// caller already holds refreshes the lock and returns it. A lock held by
	// anyone on the resource, an ancestor or a descendant fails with a
	// *LockedError.
	AcquireLock(ctx context.Context, callerID, projectID string, rt model.ResourceType, resourceID string) (*model.Lock, error)

	// ReleaseLock deletes a lock owned by callerID. Releasing a lock that
	// no longer exists succeeds.
	ReleaseLock(ctx context.Context, callerID, lockID string) error

	// RefreshLock bumps the timestamp of a lock owned by callerID.
	RefreshLock(ctx context.Context, callerID, lockID string) (*model.Lock, error)

	// GetLockForResource returns the active lock on exactly this resource,
	// or nil.
	GetLockForResource(ctx context.Context, rt model.ResourceType, resourceID string) (*model.Lock, error)

	// GetHierarchyConflict returns the active ancestor or descendant lock
	// that blocks a tree resource, or nil. A lock on the resource itself is
	// not reported.
	GetHierarchyConflict(ctx context.Context, rt model.ResourceType, resourceID string) (*model.Conflict, error)
}

// Policy holds the expiry window of each resource class.
type Policy struct {
	Windows map[model.ResourceClass]time.Duration
}

// DefaultPolicy expires interactive tree locks after 30 minutes and flat
// locks after two hours.
func DefaultPolicy() Policy {
	return Policy{Windows: map[model.ResourceClass]time.Duration{
		model.ClassTree: 30 * time.Minute,
		model.ClassFlat: 2 * time.Hour,
	}}
}

// Window returns the expiry window of class.
func (p Policy) Window(class model.ResourceClass) time.Duration {
	if w, ok := p.Windows[class]; ok {
		return w
	}
	return DefaultPolicy().Windows[class]
}

// Manager implements LockManager on a lockstore.Store.
type Manager struct {
	store     lockstore.Store
	resolver  *hierarchy.Resolver
	directory identity.Directory
	logger    *zap.Logger
	metrics   *metrics.Metrics
	policy    Policy
	now       func() time.Time
	newID     func() string
}

var _ LockManager = (*Manager)(nil)

// Option configures a Manager.
type Option func(*Manager)

// WithPolicy sets the expiry windows.
func WithPolicy(p Policy) Option {
	return func(m *Manager) { m.policy = p }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithMetrics enables operation metrics.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithIDGenerator replaces the lock id generator.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) { m.newID = fn }
}

// NewManager creates a Manager.
func NewManager(store lockstore.Store, nodes tree.Reader, directory identity.Directory, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		store:     store,
		resolver:  hierarchy.NewResolver(nodes, logger),
		directory: directory,
		logger:    logger,
		policy:    DefaultPolicy(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// errBlocked aborts an Update when a conflict was found.
var errBlocked = errors.New("blocked")

func (m *Manager) observe(op string, start time.Time, err error) {
	if m.metrics == nil {
		return
	}
	m.metrics.RecordLockOperation(op, statusOf(err), time.Since(start))
}

func parseResource(rt model.ResourceType, resourceID string) (model.Resource, error) {
	if !rt.Valid() {
		return model.Resource{}, fmt.Errorf("%w: unknown resource type %q", ErrInvalidResource, rt)
	}
	r, err := model.ParseResource(rt, resourceID)
	if err != nil {
		return model.Resource{}, fmt.Errorf("%w: %v", ErrInvalidResource, err)
	}
	return r, nil
}

// active splits rows into active locks and expired ones.
func (m *Manager) active(rows []*model.Lock, now time.Time) (active, expired []*model.Lock) {
	for _, l := range rows {
		if l.IsExpired(now, m.policy.Window(l.Class())) {
			expired = append(expired, l)
			continue
		}
		active = append(active, l)
	}
	return active, expired
}

func (m *Manager) ownerName(ctx context.Context, userID string) string {
	u, err := m.directory.GetUser(ctx, userID)
	if err != nil {
		m.logger.Debug("Failed to resolve lock owner", zap.String("user_id", userID), zap.Error(err))
		return ""
	}
	return u.DisplayName
}

// AcquireLock implements LockManager.
func (m *Manager) AcquireLock(ctx context.Context, callerID, projectID string, rt model.ResourceType, resourceID string) (lock *model.Lock, err error) {
	defer func(start time.Time) { m.observe("acquire", start, err) }(time.Now())

	callerID = strings.TrimSpace(callerID)
	if callerID == "" {
		return nil, ErrUnauthenticated
	}
	if _, err := m.directory.GetUser(ctx, callerID); err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to resolve caller: %w", err)
	}

	r, err := parseResource(rt, resourceID)
	if err != nil {
		return nil, err
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, fmt.Errorf("%w: project id is required", ErrInvalidResource)
	}

	m.logger.Debug("Attempting to acquire lock",
		zap.String("resource", r.Key()),
		zap.String("user_id", callerID),
	)

	var conflict *model.Conflict
	err = m.store.Update(ctx, r.Scope(), func(tx lockstore.Tx) error {
		lock, conflict = nil, nil
		now := m.now()

		rows, err := tx.List(ctx)
		if err != nil {
			return err
		}
		active, expired := m.active(rows, now)
		for _, l := range expired {
			if l.Key() == r.Key() {
				m.logger.Debug("Replacing expired lock",
					zap.String("lock_id", l.ID),
					zap.String("resource", r.Key()),
					zap.Time("locked_at", l.Time()),
				)
				if err := tx.Delete(ctx, l.ID); err != nil {
					return err
				}
			}
		}

		for _, l := range active {
			if l.Key() != r.Key() {
				continue
			}
			if l.UserID != callerID {
				conflict = model.ConflictFor(model.RelationSelf, l)
				return errBlocked
			}
			if err := tx.Touch(ctx, l.ID, now.UnixMilli()); err != nil {
				return err
			}
			lock = l.Clone()
			lock.LockedAt = now.UnixMilli()
			return nil
		}

		if r.Type.HierarchyAware() {
			c, err := m.resolver.FindBlocker(ctx, r, active)
			if err != nil {
				return err
			}
			if c != nil {
				conflict = c
				return errBlocked
			}
		}

		l := model.NewLock(m.newID(), projectID, callerID, r, now)
		if err := tx.Insert(ctx, l); err != nil {
			return err
		}
		lock = l
		return nil
	})

	if errors.Is(err, errBlocked) {
		conflict.OwnerName = m.ownerName(ctx, conflict.OwnerID)
		if m.metrics != nil {
			m.metrics.RecordLockConflict(string(conflict.Relation))
		}
		m.logger.Debug("Lock conflict",
			zap.String("resource", r.Key()),
			zap.String("relation", string(conflict.Relation)),
			zap.String("blocking_lock_id", conflict.BlockingLockID),
		)
		return nil, &LockedError{Conflict: conflict}
	}
	if errors.Is(err, tree.ErrNodeNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	m.logger.Info("Lock acquired",
		zap.String("lock_id", lock.ID),
		zap.String("resource", r.Key()),
		zap.String("user_id", callerID),
		zap.Time("locked_at", lock.Time()),
	)
	return lock, nil
}

// ReleaseLock implements LockManager.
func (m *Manager) ReleaseLock(ctx context.Context, callerID, lockID string) (err error) {
	defer func(start time.Time) { m.observe("release", start, err) }(time.Now())

	if strings.TrimSpace(callerID) == "" {
		return ErrUnauthenticated
	}

	existing, err := m.store.FindByID(ctx, lockID)
	if errors.Is(err, lockstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to find lock: %w", err)
	}

	err = m.store.Update(ctx, existing.Scope(), func(tx lockstore.Tx) error {
		rows, err := tx.List(ctx)
		if err != nil {
			return err
		}
		for _, l := range rows {
			if l.ID != lockID {
				continue
			}
			if l.UserID != callerID {
				return ErrNotOwner
			}
			return tx.Delete(ctx, l.ID)
		}
		return nil
	})
	if errors.Is(err, ErrNotOwner) {
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}

	m.logger.Info("Lock released",
		zap.String("lock_id", lockID),
		zap.String("user_id", callerID),
	)
	return nil
}

// RefreshLock implements LockManager.
func (m *Manager) RefreshLock(ctx context.Context, callerID, lockID string) (lock *model.Lock, err error) {
	defer func(start time.Time) { m.observe("refresh", start, err) }(time.Now())

	if strings.TrimSpace(callerID) == "" {
		return nil, ErrUnauthenticated
	}

	existing, err := m.store.FindByID(ctx, lockID)
	if errors.Is(err, lockstore.ErrNotFound) {
		return nil, ErrLockNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find lock: %w", err)
	}

	err = m.store.Update(ctx, existing.Scope(), func(tx lockstore.Tx) error {
		lock = nil
		now := m.now()

		rows, err := tx.List(ctx)
		if err != nil {
			return err
		}
		for _, l := range rows {
			if l.ID != lockID {
				continue
			}
			if l.UserID != callerID {
				return ErrNotOwner
			}
			if l.IsExpired(now, m.policy.Window(l.Class())) {
				return ErrLockNotFound
			}
			if err := tx.Touch(ctx, l.ID, now.UnixMilli()); err != nil {
				return err
			}
			lock = l.Clone()
			lock.LockedAt = now.UnixMilli()
			return nil
		}
		return ErrLockNotFound
	})
	if errors.Is(err, ErrNotOwner) || errors.Is(err, ErrLockNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to refresh lock: %w", err)
	}

	m.logger.Debug("Lock refreshed",
		zap.String("lock_id", lockID),
		zap.Time("locked_at", lock.Time()),
	)
	return lock, nil
}

// GetLockForResource implements LockManager. Expired rows read as no lock.
func (m *Manager) GetLockForResource(ctx context.Context, rt model.ResourceType, resourceID string) (lock *model.Lock, err error) {
	defer func(start time.Time) { m.observe("get", start, err) }(time.Now())

	r, err := parseResource(rt, resourceID)
	if err != nil {
		return nil, err
	}

	l, err := m.store.FindByKey(ctx, r.Key())
	if errors.Is(err, lockstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lock: %w", err)
	}
	if l.IsExpired(m.now(), m.policy.Window(l.Class())) {
		return nil, nil
	}
	return l, nil
}

// GetHierarchyConflict implements LockManager.
func (m *Manager) GetHierarchyConflict(ctx context.Context, rt model.ResourceType, resourceID string) (conflict *model.Conflict, err error) {
	defer func(start time.Time) { m.observe("conflict", start, err) }(time.Now())

	r, err := parseResource(rt, resourceID)
	if err != nil {
		return nil, err
	}
	if !r.Type.HierarchyAware() {
		return nil, fmt.Errorf("%w: %s resources have no hierarchy", ErrInvalidResource, r.Type)
	}

	rows, err := m.store.List(ctx, r.Scope())
	if err != nil {
		return nil, fmt.Errorf("failed to list locks: %w", err)
	}
	active, _ := m.active(rows, m.now())

	others := active[:0:0]
	for _, l := range active {
		if l.Key() != r.Key() {
			others = append(others, l)
		}
	}

	c, err := m.resolver.FindBlocker(ctx, r, others)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, nil
	}
	c.OwnerName = m.ownerName(ctx, c.OwnerID)
	return c, nil
}
