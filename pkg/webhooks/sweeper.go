package webhooks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/repositories"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var (
	// ErrSweeperAlreadyRunning is returned when starting a running sweeper
	ErrSweeperAlreadyRunning = errors.New("sweeper already running")
)

const (
	// DefaultSweepInterval is how often the sweeper looks for stale subscriptions
	DefaultSweepInterval = time.Hour

	// DefaultRenewalThreshold is the last-ping age beyond which a
	// subscription is renewed. Webhooks expire upstream after seven
	// days, so renewing at six leaves a day of slack.
	DefaultRenewalThreshold = 6 * 24 * time.Hour

	// DefaultItemTimeout bounds one renewal so a stuck upstream call
	// cannot stall the whole sweep
	DefaultItemTimeout = 30 * time.Second

	// sweepLockKey is the distributed lock shared by all instances
	sweepLockKey = "webhooks:sweep"

	// sweepLockTTL must outlast a full sweep
	sweepLockTTL = 10 * time.Minute
)

// sweepLocker keeps concurrent sweeps from overlapping across instances.
type sweepLocker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func() error) error
}

// SweeperConfig holds sweeper timing configuration.
type SweeperConfig struct {
	Interval         time.Duration
	RenewalThreshold time.Duration
	ItemTimeout      time.Duration
}

// Sweeper periodically renews active subscriptions whose last ping is
// older than the renewal threshold. One sweep runs at a time across all
// service instances.
type Sweeper struct {
	manager       *Manager
	subscriptions repositories.SubscriptionRepo
	locker        sweepLocker
	config        SweeperConfig
	logger        ectologger.Logger

	stopCh   chan struct{}
	stoppedC chan struct{}
	running  bool
	mu       sync.RWMutex
}

// NewSweeper creates a new renewal sweeper.
func NewSweeper(
	manager *Manager,
	subscriptions repositories.SubscriptionRepo,
	locker sweepLocker,
	config SweeperConfig,
	logger ectologger.Logger,
) *Sweeper {
	if config.Interval <= 0 {
		config.Interval = DefaultSweepInterval
	}
	if config.RenewalThreshold <= 0 {
		config.RenewalThreshold = DefaultRenewalThreshold
	}
	if config.ItemTimeout <= 0 {
		config.ItemTimeout = DefaultItemTimeout
	}

	return &Sweeper{
		manager:       manager,
		subscriptions: subscriptions,
		locker:        locker,
		config:        config,
		logger:        logger,
		stopCh:        make(chan struct{}),
		stoppedC:      make(chan struct{}),
	}
}

// Start starts the sweep loop.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSweeperAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	s.logger.WithContext(ctx).Infof("Starting renewal sweeper: interval=%s threshold=%s",
		s.config.Interval, s.config.RenewalThreshold)

	go s.sweepLoop(ctx)
	return nil
}

// Stop stops the sweeper. A sweep in progress finishes its current item
// and then exits; it is never interrupted mid-item.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.WithContext(ctx).Info("Stopping renewal sweeper...")
	close(s.stopCh)

	select {
	case <-s.stoppedC:
		s.logger.WithContext(ctx).Info("Renewal sweeper stopped")
	case <-ctx.Done():
		s.logger.WithContext(ctx).Warn("Renewal sweeper shutdown timed out")
		return ctx.Err()
	}

	return nil
}

// IsRunning returns whether the sweep loop is active.
func (s *Sweeper) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Sweeper) sweepLoop(ctx context.Context) {
	defer close(s.stoppedC)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.runSweep(ctx)

	for {
		select {
		case <-s.stopCh:
			s.logger.WithContext(ctx).Debug("Sweep loop stopping")
			return
		case <-ticker.C:
			s.runSweep(ctx)
		}
	}
}

// runSweep runs one sweep under the shared lock. Another instance holding
// the lock means the sweep is already happening and this run is skipped.
func (s *Sweeper) runSweep(ctx context.Context) {
	err := s.locker.WithLock(ctx, sweepLockKey, sweepLockTTL, func() error {
		s.sweep(ctx)
		return nil
	})
	if errors.Is(err, redis.ErrLockNotAcquired) {
		s.logger.WithContext(ctx).Debug("Sweep already running elsewhere, skipping")
		metrics.SweepRuns.WithLabelValues("skipped").Inc()
		return
	}
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Sweep lock error")
		metrics.SweepRuns.WithLabelValues("error").Inc()
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	ctx, span := tracing.StartSpan(ctx, "Sweeper.sweep")
	defer span.End()

	start := time.Now()
	threshold := start.Add(-s.config.RenewalThreshold)

	due, err := s.subscriptions.ListDueForRenewal(ctx, threshold)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to list subscriptions due for renewal")
		metrics.SweepRuns.WithLabelValues("error").Inc()
		return
	}

	if len(due) == 0 {
		s.logger.WithContext(ctx).Debug("No subscriptions due for renewal")
		metrics.SweepRuns.WithLabelValues("empty").Inc()
		return
	}

	s.logger.WithContext(ctx).Infof("Found %d subscriptions due for renewal", len(due))

	renewed := 0
	failed := 0
	for i := range due {
		// Cancellation is honored between items only. An item that
		// has started always runs to completion under its own timeout.
		select {
		case <-s.stopCh:
			s.logger.WithContext(ctx).Infof("Sweep interrupted after %d of %d items", i, len(due))
			metrics.SweepRuns.WithLabelValues("interrupted").Inc()
			return
		case <-ctx.Done():
			metrics.SweepRuns.WithLabelValues("interrupted").Inc()
			return
		default:
		}

		itemCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ItemTimeout)
		err := s.manager.Renew(itemCtx, &due[i])
		cancel()
		if err != nil {
			// Already counted against the subscription; one bad
			// subscription must not stop the rest of the sweep.
			failed++
			continue
		}
		renewed++
	}

	metrics.SweepRuns.WithLabelValues("completed").Inc()
	s.logger.WithContext(ctx).Infof("Sweep completed: renewed=%d failed=%d duration=%s",
		renewed, failed, time.Since(start))
}
