package dispatch

import (
	"context"
	"fmt"

	"github.com/coregx/dispatch/model"
)

// ThresholdEvaluator computes the pending alerts satisfied by a catalog change.
// It never mutates anything; the coordinator claims what it returns.
type ThresholdEvaluator struct {
	alerts   AlertRepository
	pageSize int
}

// NewThresholdEvaluator creates an evaluator. pageSize bounds each selection
// query; 0 uses DefaultBatchSize. Every matching alert is returned however
// many pages it takes.
func NewThresholdEvaluator(alerts AlertRepository, pageSize int) *ThresholdEvaluator {
	if pageSize <= 0 {
		pageSize = DefaultBatchSize
	}
	return &ThresholdEvaluator{alerts: alerts, pageSize: pageSize}
}

// Evaluate returns the pending alerts whose condition holds for the new state.
//
//   - price: threshold >= new price.
//   - stock: only on a transition from <= 0 (or unknown) to > 0.
//
// A variant-level change matches product-level alerts and alerts on that
// variant. A product-level change matches product-level alerts only.
func (e *ThresholdEvaluator) Evaluate(
	ctx context.Context,
	change model.ProductChange,
	previous model.ProductSnapshot,
) ([]model.Alert, error) {
	var matched []model.Alert
	err := e.EachPage(ctx, change, previous, func(page []model.Alert) error {
		matched = append(matched, page...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matched, nil
}

// EachPage calls fn with successive pages of the alerts Evaluate would
// return, walking an id cursor. It stops at the first error from the store,
// from fn, or from ctx.
func (e *ThresholdEvaluator) EachPage(
	ctx context.Context,
	change model.ProductChange,
	previous model.ProductSnapshot,
	fn func(page []model.Alert) error,
) error {
	if change.NewPrice != nil {
		price := *change.NewPrice
		err := e.walk(ctx, model.AlertQuery{
			ProductID:   change.ProductID,
			VariantID:   change.VariantID,
			SubjectType: model.SubjectPrice,
			AtPrice:     &price,
		}, fn)
		if err != nil {
			return fmt.Errorf("failed to find price alerts: %w", err)
		}
	}

	if change.Restocked(previous) {
		err := e.walk(ctx, model.AlertQuery{
			ProductID:   change.ProductID,
			VariantID:   change.VariantID,
			SubjectType: model.SubjectStock,
		}, fn)
		if err != nil {
			return fmt.Errorf("failed to find stock alerts: %w", err)
		}
	}

	return nil
}

func (e *ThresholdEvaluator) walk(ctx context.Context, q model.AlertQuery, fn func([]model.Alert) error) error {
	q.Limit = e.pageSize
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := e.alerts.FindPending(ctx, q)
		if err != nil {
			return err
		}
		if len(page) > 0 {
			if err := fn(page); err != nil {
				return err
			}
		}
		if len(page) < q.Limit {
			return nil
		}
		q.AfterID = page[len(page)-1].ID
	}
}
