package locking

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/n3tuk/document-node-lock/internal/lockstore"
	"github.com/n3tuk/document-node-lock/internal/metrics"
	"github.com/n3tuk/document-node-lock/internal/model"
)

// Sweeper periodically deletes expired lock rows. Reads already ignore
// expired rows, so sweeping only reclaims storage.
type Sweeper struct {
	store    lockstore.Store
	policy   Policy
	interval time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	stopChan chan struct{}
	doneChan chan struct{}
}

// NewSweeper creates a Sweeper. A nil metrics disables reporting.
func NewSweeper(store lockstore.Store, policy Policy, interval time.Duration, logger *zap.Logger, mt *metrics.Metrics) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		store:    store,
		policy:   policy,
		interval: interval,
		logger:   logger,
		metrics:  mt,
		now:      time.Now,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// SetClock replaces the time source.
func (s *Sweeper) SetClock(now func() time.Time) {
	s.now = now
}

// Start runs the sweep loop in a goroutine.
func (s *Sweeper) Start() {
	s.logger.Info("Starting lock sweeper", zap.Duration("interval", s.interval))
	go s.run()
}

// Stop stops the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	close(s.stopChan)
	<-s.doneChan
}

func (s *Sweeper) run() {
	defer close(s.doneChan)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.interval)
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("Lock sweep failed", zap.Error(err))
			}
			cancel()
		case <-s.stopChan:
			s.logger.Info("Stopping lock sweeper")
			return
		}
	}
}

// Sweep deletes every lock older than its class window and returns how
// many were removed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	total := 0

	for _, class := range model.ResourceClasses {
		before := now.Add(-s.policy.Window(class)).UnixMilli()
		n, err := s.store.DeleteExpired(ctx, class, before)
		total += n
		if s.metrics != nil && n > 0 {
			s.metrics.RecordLocksExpired(string(class), n)
		}
		if err != nil {
			return total, err
		}
		if n > 0 {
			s.logger.Info("Expired locks removed",
				zap.String("class", string(class)),
				zap.Int("count", n),
			)
		}
	}

	if s.metrics != nil {
		if held, err := s.store.Count(ctx); err != nil {
			s.logger.Warn("Failed to count locks", zap.Error(err))
		} else {
			s.metrics.SetLocksHeld(held)
		}
	}
	return total, nil
}
