package dispatch

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/coregx/dispatch/model"
	"github.com/coregx/dispatch/retry"
)

// DefaultBatchSize is the page size of candidate selections.
const DefaultBatchSize = 500

// Coordinator turns triggers into at-most-one notification per alert or
// review job.
//
// For every candidate it renders the payload, claims the row with a single
// conditional write and only then calls the Notifier, so no row is locked
// across a network call. Losing a claim race, a trigger that went stale, or a
// failed send are counted in BatchResult and never returned as errors.
//
// Candidates run concurrently on the injected Pool. The clock is injected as
// well so tests control "now".
//
// Thread safety: Safe for concurrent use. Overlapping batches are resolved by
// the claims.
type Coordinator struct {
	alerts        AlertRepository
	catalog       CatalogRepository
	jobs          ReviewJobRepository
	notifier      Notifier
	contacts      ContactResolver
	logger        Logger
	observer      Observer
	pool          *Pool
	now           func() time.Time
	grace         time.Duration
	batchSize     int
	sendTimeout   time.Duration
	retryStrategy retry.Strategy

	evaluator *ThresholdEvaluator
	scanner   *DueJobScanner
}

// NewCoordinator creates a new coordinator with the provided options.
//
// Required options:
//   - WithAlertRepositories and/or WithReviewRepository
//   - WithNotifier: outbound transport
//   - WithLogger: logger instance
//
// Optional options:
//   - WithContactResolver: resolves user references (default: none, such candidates are skipped as invalid)
//   - WithObserver: event hooks (default: NoOpObserver)
//   - WithPool: bounded worker pool (default: NewPool(DefaultWorkers))
//   - WithClock: time source (default: time.Now)
//   - WithGracePeriod: review request delay (default: 72h)
//   - WithBatchSize: candidates per selection (default: 500)
//   - WithSendTimeout: per-send deadline (default: none)
//   - WithRetryStrategy: claim retry on storage errors (default: retry.DefaultStrategy())
//
// Example:
//
//	coordinator, err := dispatch.NewCoordinator(
//	    dispatch.WithAlertRepositories(alertRepo, catalogRepo),
//	    dispatch.WithReviewRepository(reviewRepo),
//	    dispatch.WithNotifier(mailer),
//	    dispatch.WithLogger(logger),
//	    dispatch.WithSendTimeout(10*time.Second), // optional
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
func NewCoordinator(opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		contacts:      unresolvableContacts{},
		observer:      &NoOpObserver{},
		pool:          NewPool(DefaultWorkers),
		now:           time.Now,
		grace:         model.DefaultReviewGracePeriod,
		batchSize:     DefaultBatchSize,
		retryStrategy: retry.DefaultStrategy(),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply option", err)
		}
	}

	if c.alerts == nil && c.jobs == nil {
		return nil, NewError(ErrCodeConfiguration,
			"AlertRepository or ReviewJobRepository is required (use WithAlertRepositories or WithReviewRepository)")
	}
	if c.notifier == nil {
		return nil, NewError(ErrCodeConfiguration, "Notifier is required (use WithNotifier)")
	}
	if c.logger == nil {
		return nil, NewError(ErrCodeConfiguration, "Logger is required (use WithLogger)")
	}

	if c.alerts != nil {
		c.evaluator = NewThresholdEvaluator(c.alerts, c.batchSize)
	}
	if c.jobs != nil {
		c.scanner = NewDueJobScanner(c.jobs, c.grace, c.batchSize, c.now)
	}

	return c, nil
}

// DispatchAlerts claims and sends the given alerts.
// Alerts that are no longer pending or satisfied are skipped by their claim.
func (c *Coordinator) DispatchAlerts(ctx context.Context, alerts []model.Alert) (BatchResult, error) {
	if c.alerts == nil {
		return BatchResult{}, NewErrorWithCause(ErrCodeConfiguration, "alert dispatch disabled", ErrInvalidConfiguration)
	}
	return c.dispatchAlerts(ctx, nil, alerts), nil
}

func (c *Coordinator) dispatchAlerts(ctx context.Context, change *model.ProductChange, alerts []model.Alert) BatchResult {
	return dispatchAll(ctx, c, &alertTrigger{c: c, change: change}, TriggerAlert, alerts)
}

// DispatchReviewJobs claims and sends the given review jobs against the
// current cutoff (now - grace period).
func (c *Coordinator) DispatchReviewJobs(ctx context.Context, jobs []model.ReviewJob) (BatchResult, error) {
	if c.jobs == nil {
		return BatchResult{}, NewErrorWithCause(ErrCodeConfiguration, "review dispatch disabled", ErrInvalidConfiguration)
	}
	return c.dispatchReviewJobs(ctx, c.scanner.Cutoff(), jobs), nil
}

func (c *Coordinator) dispatchReviewJobs(ctx context.Context, cutoff time.Time, jobs []model.ReviewJob) BatchResult {
	return dispatchAll(ctx, c, &reviewTrigger{c: c, cutoff: cutoff}, TriggerReviewRequest, jobs)
}

// RunReviewSweep sends every review request whose grace period has elapsed.
// It is the scheduled entry point; overlapping sweeps are safe.
func (c *Coordinator) RunReviewSweep(ctx context.Context) (BatchResult, error) {
	if c.jobs == nil {
		return BatchResult{}, NewErrorWithCause(ErrCodeConfiguration, "review dispatch disabled", ErrInvalidConfiguration)
	}

	jobs, cutoff, err := c.scanner.Scan(ctx)
	if err != nil {
		return BatchResult{}, NewErrorWithCause(ErrCodeDatabase, "review sweep failed", err)
	}

	return c.dispatchReviewJobs(ctx, cutoff, jobs), nil
}

// RunAlertSweep dispatches pending alerts that a stored catalog report
// already satisfied but that no trigger delivered: left unclaimed by a
// cancelled batch, deferred while the notifier was unavailable, or cut off by
// a failed page. Alerts created after the satisfying report are not swept;
// they wait for the next real trigger.
func (c *Coordinator) RunAlertSweep(ctx context.Context) (BatchResult, error) {
	if c.alerts == nil {
		return BatchResult{}, NewErrorWithCause(ErrCodeConfiguration, "alert dispatch disabled", ErrInvalidConfiguration)
	}

	var total BatchResult
	var afterID int64
	for ctx.Err() == nil {
		page, err := c.alerts.FindMissed(ctx, afterID, c.batchSize)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return total, NewErrorWithCause(ErrCodeDatabase, "alert sweep failed", err)
		}

		total.Add(c.dispatchAlerts(ctx, nil, page))
		if len(page) < c.batchSize {
			break
		}
		afterID = page[len(page)-1].ID
	}

	return total, nil
}

// Run starts the sweep loop. Every interval it runs the review sweep and the
// alert sweep of the configured triggers, until ctx is canceled.
//
// This method blocks and should typically be run in a goroutine.
// Overlapping with other triggers is safe: the claims decide who sends.
//
// Example:
//
//	go coordinator.Run(ctx, time.Minute)
func (c *Coordinator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.logger.Info("Sweep loop started")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Sweep loop stopped")
			return
		case <-ticker.C:
			if c.jobs != nil {
				c.logSweep(ctx, "Review", c.RunReviewSweep)
			}
			if c.alerts != nil {
				c.logSweep(ctx, "Alert", c.RunAlertSweep)
			}
		}
	}
}

func (c *Coordinator) logSweep(ctx context.Context, name string, sweep func(context.Context) (BatchResult, error)) {
	result, err := sweep(ctx)
	if err != nil {
		c.logger.Errorf("%s sweep failed: %v", name, err)
		return
	}
	if result.Candidates > 0 {
		c.logger.Infof("%s sweep processed: %s", name, result)
	}
}

// GracePeriod returns the configured review request delay.
func (c *Coordinator) GracePeriod() time.Duration {
	return c.grace
}

// claimWithRetry retries a claim on storage errors. The claim is idempotent:
// a retry after a lost response sees AlreadyClaimed at worst.
func (c *Coordinator) claimWithRetry(
	ctx context.Context,
	claim func(ctx context.Context) (model.ClaimResult, error),
) (model.ClaimResult, error) {
	var result model.ClaimResult
	err := c.retryStrategy.Do(ctx, func(ctx context.Context) error {
		r, err := claim(ctx)
		if err != nil {
			if IsNotFound(err) {
				return retry.Permanent(err)
			}
			return err
		}
		result = r
		return nil
	})
	return result, err
}

// destination resolves where a message goes: the bare contact when present,
// otherwise the user's contact for the channel.
func (c *Coordinator) destination(
	ctx context.Context,
	userID sql.NullInt64,
	contact sql.NullString,
	channel model.Channel,
) (string, error) {
	switch {
	case contact.Valid && contact.String != "":
		return contact.String, nil
	case userID.Valid:
		dest, err := c.contacts.ResolveContact(ctx, userID.Int64, channel)
		if err != nil {
			return "", fmt.Errorf("failed to resolve contact for user %d: %w", userID.Int64, err)
		}
		if dest == "" {
			return "", NewError(ErrCodeValidation, fmt.Sprintf("user %d has no %s contact", userID.Int64, channel))
		}
		return dest, nil
	default:
		return "", NewErrorWithCause(ErrCodeValidation, "candidate has no contact", model.ErrMissingContact)
	}
}
