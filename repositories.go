package dispatch

import (
	"context"
	"time"

	"github.com/coregx/dispatch/model"
)

// AlertRepository defines the persistence interface for price and stock alerts.
//
// Implementations must be safe for concurrent use. Claim is the only
// serialization point of the dispatch path and must be a single conditional
// write.
type AlertRepository interface {
	// Load retrieves an alert by ID.
	// Returns ErrNotFound if not found.
	Load(ctx context.Context, id int64) (model.Alert, error)

	// Save creates a new alert (if ID=0) or updates an existing one.
	// Returns the saved alert with populated ID.
	Save(ctx context.Context, m model.Alert) (model.Alert, error)

	// Delete permanently removes an alert, revoking its unsubscribe token.
	// Returns ErrNotFound when no row was removed.
	Delete(ctx context.Context, id int64) error

	// FindBySelector retrieves the alert whose unsubscribe token has the
	// given selector (model.TokenSelector). Returns ErrNotFound if no live
	// alert holds it.
	FindBySelector(ctx context.Context, selector string) (model.Alert, error)

	// FindByUser retrieves all alerts (pending and notified) of a user.
	// Results are ordered by created_at DESC.
	FindByUser(ctx context.Context, userID int64) ([]model.Alert, error)

	// FindPending selects pending alerts matching the query in one statement.
	// Results are ordered by id ASC. Returns an empty slice if none match.
	FindPending(ctx context.Context, q model.AlertQuery) ([]model.Alert, error)

	// FindMissed selects pending alerts that a stored catalog report already
	// satisfied: stock alerts created before the last restock of a row still
	// in stock, price alerts created before the last price report of a row
	// priced at or below their threshold. Results are ordered by id ASC,
	// starting after afterID.
	FindMissed(ctx context.Context, afterID int64, limit int) ([]model.Alert, error)

	// Claim atomically stamps notified_at if the alert is still pending and
	// its condition still holds against the stored product state.
	// Returns ErrNotFound if the alert does not exist.
	Claim(ctx context.Context, id int64, now time.Time) (model.ClaimResult, error)
}

// ReviewJobRepository defines the persistence interface for delayed review requests.
type ReviewJobRepository interface {
	// Load retrieves the review job of an order.
	// Returns ErrNotFound if not found.
	Load(ctx context.Context, orderID int64) (model.ReviewJob, error)

	// Save creates or updates the job keyed by OrderID.
	// A job whose request was already sent keeps its sent timestamp.
	Save(ctx context.Context, m model.ReviewJob) (model.ReviewJob, error)

	// FindDue finds pending jobs delivered at or before cutoff.
	// Results are ordered by delivered_at ASC (oldest first).
	FindDue(ctx context.Context, cutoff time.Time, limit int) ([]model.ReviewJob, error)

	// Claim atomically stamps review_request_sent_at if the job is pending
	// and was delivered at or before cutoff.
	// Returns ErrNotFound if the order has no job.
	Claim(ctx context.Context, orderID int64, cutoff, now time.Time) (model.ClaimResult, error)
}

// CatalogRepository persists the last known price and stock per product and
// variant. Alert claims re-verify their condition against these rows.
type CatalogRepository interface {
	// LoadSnapshot retrieves the snapshot of a product (variantID=0) or variant.
	// Returns ErrNotFound when nothing is known yet.
	LoadSnapshot(ctx context.Context, productID, variantID int64) (model.ProductSnapshot, error)

	// SaveSnapshot upserts the change; fields absent from the change keep
	// their stored values.
	SaveSnapshot(ctx context.Context, change model.ProductChange, now time.Time) error

	// VariantBelongsTo reports whether the variant is known for the product.
	VariantBelongsTo(ctx context.Context, productID, variantID int64) (bool, error)
}
