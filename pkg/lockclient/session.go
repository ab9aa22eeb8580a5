package lockclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultPollInterval is how often a Session re-reads the lock state.
	DefaultPollInterval = 5 * time.Second
	// DefaultRefreshInterval matches the service's expiry window for
	// document and node locks.
	DefaultRefreshInterval = 30 * time.Minute

	// maxRefreshLead caps how early a refresh is sent.
	maxRefreshLead = time.Minute
)

// SessionConfig describes the resource a Session watches.
type SessionConfig struct {
	ProjectID    string
	ResourceType ResourceType
	ResourceID   string
	// ViewerID is the user the status is derived for.
	ViewerID string

	PollInterval time.Duration
	// RefreshInterval is the keep-alive period while the lock is held. The
	// ticker is armed when the lock is acquired and fires a tenth of the
	// interval early (at most a minute), so a refresh on schedule never
	// arrives after an expiry window of the same length.
	RefreshInterval time.Duration
	Logger          *zap.Logger
}

// refreshPeriod is the ticker period used for interval.
func refreshPeriod(interval time.Duration) time.Duration {
	return interval - min(interval/10, maxRefreshLead)
}

// Session keeps the lock status of one resource current for one viewer.
// A single goroutine polls the service, and refreshes the lock while the
// viewer holds it.
type Session struct {
	client *Client
	cfg    SessionConfig
	logger *zap.Logger

	mu    sync.Mutex
	state State

	updates chan State
	focus   chan struct{}
	poke    chan struct{}
	// arm is signalled when the state turns acquired.
	arm     chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSession starts watching the resource. Close must be called to stop it.
func (c *Client) NewSession(cfg SessionConfig) (*Session, error) {
	if !cfg.ResourceType.Valid() {
		return nil, fmt.Errorf("%w: unknown resource type %q", ErrInvalidRequest, cfg.ResourceType)
	}
	if cfg.ResourceID == "" || cfg.ViewerID == "" {
		return nil, fmt.Errorf("%w: resource id and viewer id are required", ErrInvalidRequest)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		client: c,
		cfg:    cfg,
		logger: cfg.Logger.With(
			zap.String("resource_type", string(cfg.ResourceType)),
			zap.String("resource_id", cfg.ResourceID),
		),
		state:   State{Status: StatusPending},
		updates: make(chan State, 1),
		focus:   make(chan struct{}, 1),
		poke:    make(chan struct{}, 1),
		arm:     make(chan struct{}, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go s.run(ctx)
	return s, nil
}

// State returns the latest snapshot.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Updates delivers state changes. Only the latest unread state is kept.
func (s *Session) Updates() <-chan State {
	return s.updates
}

// Focus asks for an immediate refresh, e.g. when the editor regains focus.
func (s *Session) Focus() {
	signal(s.focus)
}

// Acquire takes the lock for the viewer. A rejection updates the state
// from the returned conflict.
func (s *Session) Acquire(ctx context.Context) (*Lock, error) {
	lock, err := s.client.Acquire(ctx, s.cfg.ProjectID, s.cfg.ResourceType, s.cfg.ResourceID)
	if err != nil {
		var locked *LockedError
		switch {
		case errors.As(err, &locked) && errors.Is(err, ErrHierarchyConflict):
			s.set(State{Status: StatusHierarchyConflict, Conflict: locked.Conflict})
		case errors.Is(err, ErrResourceLocked):
			// The exact resource is held, pick up the lock itself.
			signal(s.poke)
		}
		return nil, err
	}
	s.set(State{Status: DeriveStatus(lock, s.cfg.ViewerID, nil), Lock: lock})
	return lock, nil
}

// Release drops the viewer's lock, if it holds one.
func (s *Session) Release(ctx context.Context) error {
	st := s.State()
	if st.Status != StatusAcquired || st.Lock == nil {
		return nil
	}
	if err := s.client.Release(ctx, st.Lock.ID); err != nil {
		return err
	}
	signal(s.poke)
	return nil
}

// Close stops the session and waits for its goroutine. No request is sent
// after Close returns.
func (s *Session) Close() {
	s.cancel()
	<-s.done
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	poll := time.NewTicker(s.cfg.PollInterval)
	defer poll.Stop()

	period := refreshPeriod(s.cfg.RefreshInterval)
	refresh := time.NewTicker(period)
	refresh.Stop()
	defer refresh.Stop()

	s.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
			s.poll(ctx)
		case <-s.poke:
			s.poll(ctx)
		case <-s.arm:
			refresh.Reset(period)
		case <-refresh.C:
			if s.refresh(ctx) {
				refresh.Reset(period)
			}
		case <-s.focus:
			if s.refresh(ctx) {
				refresh.Reset(period)
			}
		}
	}
}

func (s *Session) poll(ctx context.Context) {
	lock, err := s.client.GetLock(ctx, s.cfg.ResourceType, s.cfg.ResourceID)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("Lock lookup failed", zap.Error(err))
		}
		return
	}

	var conflict *Conflict
	if lock == nil && s.cfg.ResourceType.HierarchyAware() {
		conflict, err = s.client.GetConflict(ctx, s.cfg.ResourceType, s.cfg.ResourceID)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("Conflict lookup failed", zap.Error(err))
			}
			return
		}
	}

	s.set(State{
		Status:   DeriveStatus(lock, s.cfg.ViewerID, conflict),
		Lock:     lock,
		Conflict: conflict,
	})
}

// refresh extends the viewer's lock and reports whether it did. Failures
// are logged and left for the next poll to reconcile.
func (s *Session) refresh(ctx context.Context) bool {
	st := s.State()
	if st.Status != StatusAcquired || st.Lock == nil {
		return false
	}

	lock, err := s.client.Refresh(ctx, st.Lock.ID)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("Lock refresh failed",
				zap.String("lock_id", st.Lock.ID),
				zap.Error(err),
			)
		}
		return false
	}

	s.logger.Debug("Lock refreshed", zap.String("lock_id", lock.ID))
	s.set(State{Status: StatusAcquired, Lock: lock})
	return true
}

func (s *Session) set(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.equal(st) {
		return
	}
	if st.Status == StatusAcquired && s.state.Status != StatusAcquired {
		signal(s.arm)
	}
	s.state = st

	// Replace any unread update with the latest one.
	select {
	case <-s.updates:
	default:
	}
	s.updates <- st
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
