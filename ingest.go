package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/coregx/dispatch/model"
)

// ReviewRequest is reported by fulfillment when an order is marked delivered.
// Exactly one of UserID and Email addresses the review request.
type ReviewRequest struct {
	OrderID     int64     `json:"orderID"`
	DeliveredAt time.Time `json:"deliveredAt"`
	UserID      int64     `json:"userID,omitempty"`
	Email       string    `json:"email,omitempty"`
}

// ProductChanged records a catalog write and dispatches the alerts it satisfies.
//
// The process:
//  1. Load the previous snapshot (unknown counts as out of stock, no price)
//  2. Upsert the new snapshot, the state claims re-verify against
//  3. Evaluate pending alerts against the change, one page at a time
//  4. Dispatch each page as it is selected
//
// Validation and storage errors are returned; outcomes of individual alerts
// are in the BatchResult. Alerts left unselected by cancellation or a failed
// page stay pending and are picked up by RunAlertSweep.
func (c *Coordinator) ProductChanged(ctx context.Context, change model.ProductChange) (BatchResult, error) {
	if c.alerts == nil {
		return BatchResult{}, NewErrorWithCause(ErrCodeConfiguration, "alert dispatch disabled", ErrInvalidConfiguration)
	}
	if err := validateChange(change); err != nil {
		return BatchResult{}, err
	}

	previous, err := c.catalog.LoadSnapshot(ctx, change.ProductID, change.VariantID)
	if err != nil && !IsNotFound(err) {
		return BatchResult{}, NewErrorWithCause(ErrCodeDatabase, "failed to load product snapshot", err)
	}

	err = c.retryStrategy.Do(ctx, func(ctx context.Context) error {
		return c.catalog.SaveSnapshot(ctx, change, c.now().UTC())
	})
	if err != nil {
		return BatchResult{}, NewErrorWithCause(ErrCodeDatabase, "failed to save product snapshot", err)
	}

	var total BatchResult
	err = c.evaluator.EachPage(ctx, change, previous, func(page []model.Alert) error {
		total.Add(c.dispatchAlerts(ctx, &change, page))
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			c.logger.Warnf("Product change dispatch interrupted (product_id=%d, variant_id=%d), unselected alerts left for the alert sweep: %v",
				change.ProductID, change.VariantID, err)
			return total, nil
		}
		return total, NewErrorWithCause(ErrCodeDatabase, "failed to evaluate alerts", err)
	}

	if total.Candidates == 0 {
		c.logger.Debugf("No alerts satisfied: product_id=%d, variant_id=%d", change.ProductID, change.VariantID)
	}
	return total, nil
}

// ProductsChanged applies several catalog writes in order.
// A failing change is logged and does not stop the others.
func (c *Coordinator) ProductsChanged(ctx context.Context, changes []model.ProductChange) BatchResult {
	var total BatchResult
	for _, change := range changes {
		result, err := c.ProductChanged(ctx, change)
		if err != nil {
			c.logger.Errorf("Failed to apply product change (product_id=%d, variant_id=%d): %v",
				change.ProductID, change.VariantID, err)
			continue
		}
		total.Add(result)
	}
	return total
}

// OrderDelivered creates or re-anchors the review job of an order.
// A job whose request was already sent is left untouched.
func (c *Coordinator) OrderDelivered(ctx context.Context, req ReviewRequest) error {
	if c.jobs == nil {
		return NewErrorWithCause(ErrCodeConfiguration, "review dispatch disabled", ErrInvalidConfiguration)
	}
	if err := validateReviewRequest(req); err != nil {
		return err
	}

	job, err := c.jobs.Load(ctx, req.OrderID)
	switch {
	case err == nil:
		if err := job.Redeliver(req.DeliveredAt); err != nil {
			c.logger.Debugf("Review request for order %d already sent, delivery update ignored", req.OrderID)
			return nil
		}
	case IsNotFound(err):
		job = model.NewReviewJob(req.OrderID, req.DeliveredAt)
	default:
		return NewErrorWithCause(ErrCodeDatabase, "failed to load review job", err)
	}

	job.UserID.Int64, job.UserID.Valid = req.UserID, req.UserID > 0
	job.Email.String, job.Email.Valid = req.Email, req.Email != ""

	if _, err := c.jobs.Save(ctx, job); err != nil {
		return NewErrorWithCause(ErrCodeDatabase, "failed to save review job", err)
	}

	c.logger.Infof("Review request scheduled: order_id=%d, due_at=%s",
		req.OrderID, job.DueAt(c.grace).Format(time.RFC3339))
	return nil
}

func validateChange(change model.ProductChange) error {
	if change.ProductID <= 0 {
		return NewError(ErrCodeValidation, "product id is required")
	}
	if change.VariantID < 0 {
		return NewError(ErrCodeValidation, "variant id must not be negative")
	}
	if change.IsEmpty() {
		return NewError(ErrCodeValidation, "change carries neither price nor stock")
	}
	if change.NewPrice != nil && change.NewPrice.IsNegative() {
		return NewError(ErrCodeValidation, fmt.Sprintf("price must not be negative, got %s", change.NewPrice))
	}
	return nil
}

func validateReviewRequest(req ReviewRequest) error {
	if req.OrderID <= 0 {
		return NewError(ErrCodeValidation, "order id is required")
	}
	if req.DeliveredAt.IsZero() {
		return NewError(ErrCodeValidation, "delivered at is required")
	}
	if (req.UserID > 0) == (req.Email != "") {
		return NewErrorWithCause(ErrCodeValidation, "exactly one of user id or email is required", model.ErrAmbiguousContact)
	}
	if req.Email != "" {
		if err := model.ValidateDestination(model.ChannelEmail, req.Email); err != nil {
			return NewErrorWithCause(ErrCodeValidation, "invalid email", err)
		}
	}
	return nil
}
