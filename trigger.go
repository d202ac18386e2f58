package dispatch

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/coregx/dispatch/model"
)

// Trigger names, used in logs and metrics labels. TriggerAlert labels a
// batch that may mix price and stock alerts.
const (
	TriggerAlert         = "alert"
	TriggerPriceAlert    = "price_alert"
	TriggerStockAlert    = "stock_alert"
	TriggerReviewRequest = "review_request"
)

// BatchResult counts the outcomes of one dispatch batch.
//
// Races, stale triggers and transport failures are counted here instead of
// being returned as errors: a single bad candidate never aborts a batch.
// Cancelled and Deferred candidates were never claimed and stay pending.
type BatchResult struct {
	Candidates       int `json:"candidates"`
	Claimed          int `json:"claimed"`
	Sent             int `json:"sent"`
	SkippedRaced     int `json:"skippedRaced"`
	SkippedStale     int `json:"skippedStale"`
	FailedTransport  int `json:"failedTransport"`
	FailedValidation int `json:"failedValidation"`
	FailedStorage    int `json:"failedStorage"`
	Cancelled        int `json:"cancelled"`
	Deferred         int `json:"deferred"`
}

// Add accumulates another result into r.
func (r *BatchResult) Add(o BatchResult) {
	r.Candidates += o.Candidates
	r.Claimed += o.Claimed
	r.Sent += o.Sent
	r.SkippedRaced += o.SkippedRaced
	r.SkippedStale += o.SkippedStale
	r.FailedTransport += o.FailedTransport
	r.FailedValidation += o.FailedValidation
	r.FailedStorage += o.FailedStorage
	r.Cancelled += o.Cancelled
	r.Deferred += o.Deferred
}

func (r BatchResult) String() string {
	return fmt.Sprintf("candidates=%d claimed=%d sent=%d raced=%d stale=%d transport_failed=%d invalid=%d storage_failed=%d cancelled=%d deferred=%d",
		r.Candidates, r.Claimed, r.Sent, r.SkippedRaced, r.SkippedStale,
		r.FailedTransport, r.FailedValidation, r.FailedStorage, r.Cancelled, r.Deferred)
}

// batchCounters is the concurrent-safe accumulator behind BatchResult.
type batchCounters struct {
	claimed, sent, raced, stale           atomic.Int64
	transport, validation, storage, abort atomic.Int64
	deferred                              atomic.Int64
}

func (c *batchCounters) result(candidates int) BatchResult {
	return BatchResult{
		Candidates:       candidates,
		Claimed:          int(c.claimed.Load()),
		Sent:             int(c.sent.Load()),
		SkippedRaced:     int(c.raced.Load()),
		SkippedStale:     int(c.stale.Load()),
		FailedTransport:  int(c.transport.Load()),
		FailedValidation: int(c.validation.Load()),
		FailedStorage:    int(c.storage.Load()),
		Cancelled:        int(c.abort.Load()),
		Deferred:         int(c.deferred.Load()),
	}
}

// trigger is a claimable notification source. Alerts and review jobs share
// one dispatch path through it.
type trigger[T any] interface {
	name(item T) string
	key(item T) string
	render(ctx context.Context, item T) (model.Payload, error)
	claim(ctx context.Context, item T, now time.Time) (model.ClaimResult, error)
}

// dispatchAll runs render -> claim -> send for every candidate on the pool.
//
// Render happens first so malformed candidates are never claimed. A claimed
// candidate is always sent, even when ctx is cancelled meanwhile, because the
// claim is final; unclaimed candidates left at cancellation stay pending.
func dispatchAll[T any](ctx context.Context, c *Coordinator, t trigger[T], label string, candidates []T) BatchResult {
	if len(candidates) == 0 {
		return BatchResult{}
	}

	log := withScope(c.logger, "trigger=%s run=%s", label, uuid.NewString())
	log.Debugf("Dispatching %d candidates on %d workers", len(candidates), c.pool.Workers())

	var counters batchCounters
	c.pool.ForEach(ctx, len(candidates), func(ctx context.Context, i int) {
		dispatchOne(ctx, c, t, log, &counters, candidates[i])
	})

	result := counters.result(len(candidates))
	if err := c.observer.BatchCompleted(ctx, label, result); err != nil {
		log.Warnf("Observer failed on batch completion: %v", err)
	}
	return result
}

func dispatchOne[T any](ctx context.Context, c *Coordinator, t trigger[T], log Logger, counters *batchCounters, item T) {
	key := t.key(item)
	name := t.name(item)

	if ctx.Err() != nil {
		counters.abort.Add(1)
		return
	}

	payload, err := t.render(ctx, item)
	if err != nil {
		if IsValidation(err) || IsNotFound(err) {
			counters.validation.Add(1)
			log.Warnf("Skipping malformed candidate %s: %v", key, err)
			return
		}
		counters.storage.Add(1)
		log.Errorf("Failed to render candidate %s: %v", key, err)
		return
	}

	if !notifierReady(c.notifier) {
		counters.deferred.Add(1)
		log.Debugf("Notifier unavailable, leaving %s pending", key)
		return
	}

	result, err := c.claimWithRetry(ctx, func(ctx context.Context) (model.ClaimResult, error) {
		return t.claim(ctx, item, c.now().UTC())
	})
	if err != nil {
		switch {
		case ctx.Err() != nil:
			counters.abort.Add(1)
		case IsNotFound(err):
			// Deleted after evaluation.
			counters.stale.Add(1)
			log.Debugf("Candidate %s vanished before claim", key)
		default:
			counters.storage.Add(1)
			log.Errorf("Failed to claim candidate %s: %v", key, err)
		}
		return
	}

	if err := c.observer.ClaimResolved(ctx, name, result); err != nil {
		log.Warnf("Observer failed on claim: %v", err)
	}

	switch result {
	case model.ClaimAlreadyClaimed:
		counters.raced.Add(1)
		return
	case model.ClaimConditionNoLongerMet:
		counters.stale.Add(1)
		return
	}
	counters.claimed.Add(1)

	sendCtx := context.WithoutCancel(ctx)
	if c.sendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(sendCtx, c.sendTimeout)
		defer cancel()
	}

	if err := c.notifier.Send(sendCtx, payload); err != nil {
		counters.transport.Add(1)
		log.Warnf("Send failed for %s (claim kept): %v", key, err)
		if obsErr := c.observer.SendFailed(ctx, name, key, err); obsErr != nil {
			log.Warnf("Observer failed on send failure: %v", obsErr)
		}
		return
	}

	counters.sent.Add(1)
	log.Debugf("Sent %s to %s", payload.TemplateID, key)
}

// alertTrigger dispatches price and stock alerts.
type alertTrigger struct {
	c      *Coordinator
	change *model.ProductChange
}

func (t *alertTrigger) name(a model.Alert) string {
	if a.SubjectType == model.SubjectPrice {
		return TriggerPriceAlert
	}
	return TriggerStockAlert
}

func (t *alertTrigger) key(a model.Alert) string {
	return fmt.Sprintf("alert:%d", a.ID)
}

func (t *alertTrigger) render(ctx context.Context, a model.Alert) (model.Payload, error) {
	if a.SubjectType == model.SubjectPrice && !a.Threshold.Valid {
		return model.Payload{}, NewError(ErrCodeValidation, "price alert has no threshold")
	}

	destination, err := t.c.destination(ctx, a.UserID, a.Contact, a.Channel)
	if err != nil {
		return model.Payload{}, err
	}

	payload := model.NewPayload(a.Channel, destination, a.TemplateID()).
		With("alertID", a.ID).
		With("productID", a.ProductID).
		With("unsubToken", a.UnsubToken)
	if a.VariantID.Valid {
		payload = payload.With("variantID", a.VariantID.Int64)
	}
	if a.Threshold.Valid {
		payload = payload.With("threshold", a.Threshold.Decimal.String())
	}
	if t.change != nil && t.change.NewPrice != nil {
		payload = payload.With("price", t.change.NewPrice.String())
	}

	if err := payload.Validate(); err != nil {
		return model.Payload{}, NewErrorWithCause(ErrCodeValidation, "invalid alert payload", err)
	}
	return payload, nil
}

func (t *alertTrigger) claim(ctx context.Context, a model.Alert, now time.Time) (model.ClaimResult, error) {
	return t.c.alerts.Claim(ctx, a.ID, now)
}

// reviewTrigger dispatches review requests. cutoff is the delivery bound of
// the scan that produced the candidates.
type reviewTrigger struct {
	c      *Coordinator
	cutoff time.Time
}

func (t *reviewTrigger) name(model.ReviewJob) string {
	return TriggerReviewRequest
}

func (t *reviewTrigger) key(j model.ReviewJob) string {
	return fmt.Sprintf("order:%d", j.OrderID)
}

func (t *reviewTrigger) render(ctx context.Context, j model.ReviewJob) (model.Payload, error) {
	destination, err := t.c.destination(ctx, j.UserID, j.Email, model.ChannelEmail)
	if err != nil {
		return model.Payload{}, err
	}

	payload := model.NewPayload(model.ChannelEmail, destination, model.TemplateReviewRequest).
		With("orderID", j.OrderID).
		With("deliveredAt", j.DeliveredAt.Format(time.RFC3339))

	if err := payload.Validate(); err != nil {
		return model.Payload{}, NewErrorWithCause(ErrCodeValidation, "invalid review payload", err)
	}
	return payload, nil
}

func (t *reviewTrigger) claim(ctx context.Context, j model.ReviewJob, now time.Time) (model.ClaimResult, error) {
	return t.c.jobs.Claim(ctx, j.OrderID, t.cutoff, now)
}
