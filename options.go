package dispatch

import (
	"fmt"
	"time"

	"github.com/coregx/dispatch/retry"
)

// Option is a function that configures a Coordinator.
//
// Example:
//
//	coordinator, err := dispatch.NewCoordinator(
//	    dispatch.WithAlertRepositories(alertRepo, catalogRepo),
//	    dispatch.WithNotifier(mailer),
//	    dispatch.WithLogger(logger),
//	    dispatch.WithPool(dispatch.NewPool(64)), // optional
//	)
type Option func(*Coordinator) error

// WithAlertRepositories enables price and stock alert dispatch.
// Both repositories are required and must not be nil: the catalog holds the
// product state that claims re-verify against.
func WithAlertRepositories(alerts AlertRepository, catalog CatalogRepository) Option {
	return func(c *Coordinator) error {
		if alerts == nil {
			return fmt.Errorf("alert repository cannot be nil")
		}
		if catalog == nil {
			return fmt.Errorf("catalog repository cannot be nil")
		}

		c.alerts = alerts
		c.catalog = catalog
		return nil
	}
}

// WithReviewRepository enables delayed review request dispatch.
func WithReviewRepository(jobs ReviewJobRepository) Option {
	return func(c *Coordinator) error {
		if jobs == nil {
			return fmt.Errorf("review job repository cannot be nil")
		}
		c.jobs = jobs
		return nil
	}
}

// WithNotifier sets the outbound transport.
// This is a required option for NewCoordinator.
func WithNotifier(notifier Notifier) Option {
	return func(c *Coordinator) error {
		if notifier == nil {
			return fmt.Errorf("notifier cannot be nil")
		}
		c.notifier = notifier
		return nil
	}
}

// WithContactResolver sets how user references become destinations.
// Without it, candidates addressed to a user instead of a bare contact are
// skipped as invalid.
func WithContactResolver(resolver ContactResolver) Option {
	return func(c *Coordinator) error {
		if resolver == nil {
			return fmt.Errorf("contact resolver cannot be nil")
		}
		c.contacts = resolver
		return nil
	}
}

// WithLogger sets the logger instance for the coordinator.
// Logger is required and must not be nil.
//
// Use NoopLogger for silent operation or implement Logger interface
// to integrate with your logging system.
func WithLogger(logger Logger) Option {
	return func(c *Coordinator) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		c.logger = logger
		return nil
	}
}

// WithObserver sets an optional observer for dispatch events.
// Default is NoOpObserver.
func WithObserver(observer Observer) Option {
	return func(c *Coordinator) error {
		if observer == nil {
			return fmt.Errorf("observer cannot be nil")
		}
		c.observer = observer
		return nil
	}
}

// WithPool sets the worker pool that bounds concurrent Notifier calls.
// Default is NewPool(DefaultWorkers).
func WithPool(pool *Pool) Option {
	return func(c *Coordinator) error {
		if pool == nil {
			return fmt.Errorf("pool cannot be nil")
		}
		c.pool = pool
		return nil
	}
}

// WithClock sets the time source. Tests use it to control "now".
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) error {
		if now == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		c.now = now
		return nil
	}
}

// WithGracePeriod sets how long after delivery a review request is due.
// Must be > 0. Default is 72h.
func WithGracePeriod(grace time.Duration) Option {
	return func(c *Coordinator) error {
		if grace <= 0 {
			return fmt.Errorf("grace period must be > 0, got %v", grace)
		}
		c.grace = grace
		return nil
	}
}

// WithBatchSize sets the page size of candidate selections.
// Must be > 0. Default is DefaultBatchSize. A product change or alert sweep
// walks every page; a review sweep dispatches one page per run.
func WithBatchSize(size int) Option {
	return func(c *Coordinator) error {
		if size <= 0 {
			return fmt.Errorf("batch size must be > 0, got %d", size)
		}
		c.batchSize = size
		return nil
	}
}

// WithSendTimeout bounds every Notifier call. A timed-out send counts as a
// transport failure; the claim stays committed. Zero disables the timeout.
func WithSendTimeout(timeout time.Duration) Option {
	return func(c *Coordinator) error {
		if timeout < 0 {
			return fmt.Errorf("send timeout must be >= 0, got %v", timeout)
		}
		c.sendTimeout = timeout
		return nil
	}
}

// WithRetryStrategy sets how claims and snapshot writes are retried on
// storage errors. Default is retry.DefaultStrategy().
// Sends are never retried.
func WithRetryStrategy(strategy retry.Strategy) Option {
	return func(c *Coordinator) error {
		c.retryStrategy = strategy
		return nil
	}
}
