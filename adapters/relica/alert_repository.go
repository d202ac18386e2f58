package relica

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coregx/dispatch"
	"github.com/coregx/dispatch/model"
)

// AlertRepository implements dispatch.AlertRepository using Relica.
type AlertRepository struct {
	store
}

// NewAlertRepository creates a new AlertRepository with default table prefix.
func NewAlertRepository(sqlDB *sql.DB, driverName string) *AlertRepository {
	return NewAlertRepositoryWithPrefix(sqlDB, driverName, defaultTablePrefix)
}

// NewAlertRepositoryWithPrefix creates a new AlertRepository with custom table prefix.
func NewAlertRepositoryWithPrefix(sqlDB *sql.DB, driverName, prefix string) *AlertRepository {
	return &AlertRepository{store: newStore(sqlDB, driverName, prefix)}
}

func (r *AlertRepository) tableName() string {
	return r.table("alert")
}

// Load retrieves an alert by ID.
func (r *AlertRepository) Load(ctx context.Context, id int64) (model.Alert, error) {
	var alert model.Alert

	err := r.db.WithContext(ctx).Select("*").
		From(r.tableName()).
		Where("id = ?", id).
		WithContext(ctx).
		One(&alert)

	if errors.Is(err, sql.ErrNoRows) {
		return alert, dispatch.ErrNotFound
	}
	if err != nil {
		return alert, dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to load alert", err)
	}

	return alert, nil
}

// Save creates or updates an alert.
func (r *AlertRepository) Save(ctx context.Context, m model.Alert) (model.Alert, error) {
	if m.ID == 0 {
		err := r.db.WithContext(ctx).Model(&m).Table(r.tableName()).Insert()
		if err != nil {
			return m, dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to insert alert", err)
		}
		return m, nil
	}

	m.UpdatedAt = time.Now().UTC()
	err := r.db.WithContext(ctx).Model(&m).Table(r.tableName()).Update()
	if err != nil {
		return m, dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to update alert", err)
	}

	return m, nil
}

// Delete removes an alert. A second delete of the same id reports ErrNotFound.
func (r *AlertRepository) Delete(ctx context.Context, id int64) error {
	affected, err := r.exec(ctx, "DELETE FROM "+r.tableName()+" WHERE id = ?", id)
	if err != nil {
		return dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to delete alert", err)
	}
	if affected == 0 {
		return dispatch.ErrNotFound
	}
	return nil
}

// FindBySelector retrieves the alert whose unsubscribe token starts with selector.
func (r *AlertRepository) FindBySelector(ctx context.Context, selector string) (model.Alert, error) {
	var alert model.Alert

	err := r.db.WithContext(ctx).Select("*").
		From(r.tableName()).
		Where("unsub_selector = ?", selector).
		WithContext(ctx).
		One(&alert)

	if errors.Is(err, sql.ErrNoRows) {
		return alert, dispatch.ErrNotFound
	}
	if err != nil {
		return alert, dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to find alert by selector", err)
	}

	return alert, nil
}

// FindByUser retrieves all alerts of a user, newest first.
func (r *AlertRepository) FindByUser(ctx context.Context, userID int64) ([]model.Alert, error) {
	var alerts []model.Alert

	err := r.db.WithContext(ctx).Select("*").
		From(r.tableName()).
		Where("user_id = ?", userID).
		OrderBy("created_at DESC").
		Limit(maxSelect).
		WithContext(ctx).
		All(&alerts)

	if err != nil {
		return nil, dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to find alerts by user", err)
	}

	return alerts, nil
}

// FindPending selects pending alerts for one product change in a single query.
func (r *AlertRepository) FindPending(ctx context.Context, q model.AlertQuery) ([]model.Alert, error) {
	var alerts []model.Alert

	where, args := pendingFilter(q)

	err := r.db.WithContext(ctx).Select("*").
		From(r.tableName()).
		Where(where, args...).
		OrderBy("id ASC").
		Limit(selectLimit(q.Limit)).
		WithContext(ctx).
		All(&alerts)

	if err != nil {
		return nil, dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to find pending alerts", err)
	}

	return alerts, nil
}

// FindMissed selects pending alerts a stored catalog report already
// satisfied, id ASC after afterID. See dispatch.AlertRepository.
func (r *AlertRepository) FindMissed(ctx context.Context, afterID int64, limit int) ([]model.Alert, error) {
	var alerts []model.Alert

	err := r.db.WithContext(ctx).Select("*").
		From(r.tableName()).
		Where(r.missedFilter(), afterID, string(model.SubjectPrice), string(model.SubjectStock)).
		OrderBy("id ASC").
		Limit(selectLimit(limit)).
		WithContext(ctx).
		All(&alerts)

	if err != nil {
		return nil, dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to find missed alerts", err)
	}

	return alerts, nil
}

func (r *AlertRepository) missedFilter() string {
	alert := r.tableName()
	return fmt.Sprintf(`notified_at IS NULL AND id > ? AND (
  (subject_type = ? AND EXISTS (SELECT 1 FROM %[2]s ps
     WHERE %[3]s AND ps.price IS NOT NULL AND ps.price <= %[1]s.threshold
       AND ps.price_changed_at >= %[1]s.created_at))
  OR
  (subject_type = ? AND EXISTS (SELECT 1 FROM %[2]s ps
     WHERE %[3]s AND ps.stock > 0
       AND ps.restocked_at >= %[1]s.created_at))
)`, alert, r.table("product_state"), stateScope(alert))
}

// pendingFilter builds the WHERE clause of FindPending.
// A product-level query (VariantID 0) matches product-level alerts only; a
// variant query also matches alerts on that variant.
func pendingFilter(q model.AlertQuery) (string, []interface{}) {
	conds := []string{"product_id = ?", "subject_type = ?", "notified_at IS NULL"}
	args := []interface{}{q.ProductID, string(q.SubjectType)}

	if q.VariantID > 0 {
		conds = append(conds, "(variant_id IS NULL OR variant_id = ?)")
		args = append(args, q.VariantID)
	} else {
		conds = append(conds, "variant_id IS NULL")
	}

	if q.AtPrice != nil {
		conds = append(conds, "threshold IS NOT NULL", "threshold >= ?")
		args = append(args, q.AtPrice.String())
	}

	if q.AfterID > 0 {
		conds = append(conds, "id > ?")
		args = append(args, q.AfterID)
	}

	return strings.Join(conds, " AND "), args
}

// Claim stamps notified_at if the alert is pending and its condition still
// holds against the stored product state. The check and the write are one
// UPDATE statement.
func (r *AlertRepository) Claim(ctx context.Context, id int64, now time.Time) (model.ClaimResult, error) {
	affected, err := r.exec(ctx, r.claimSQL(),
		now, now, id,
		string(model.SubjectPrice),
		string(model.SubjectStock),
	)
	if err != nil {
		return 0, dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to claim alert", err)
	}
	if affected == 1 {
		return model.ClaimClaimed, nil
	}

	// Lost: classify without writing.
	alert, err := r.Load(ctx, id)
	if err != nil {
		return 0, err
	}
	if !alert.IsPending() {
		return model.ClaimAlreadyClaimed, nil
	}
	return model.ClaimConditionNoLongerMet, nil
}

func (r *AlertRepository) claimSQL() string {
	alert := r.tableName()
	state := r.table("product_state")

	scope := stateScope(alert)

	return fmt.Sprintf(`UPDATE %[1]s SET notified_at = ?, updated_at = ?
WHERE id = ? AND notified_at IS NULL AND (
  (subject_type = ? AND EXISTS (SELECT 1 FROM %[2]s ps
     WHERE %[3]s AND ps.price IS NOT NULL AND ps.price <= %[1]s.threshold))
  OR
  (subject_type = ? AND EXISTS (SELECT 1 FROM %[2]s ps
     WHERE %[3]s AND ps.stock > 0))
)`, alert, state, scope)
}

// stateScope joins product_state rows (alias ps) to an alert row. A
// product-level alert is satisfied by any state row of the product, a variant
// alert only by its variant's row.
func stateScope(alert string) string {
	return fmt.Sprintf("ps.product_id = %[1]s.product_id AND (%[1]s.variant_id IS NULL OR ps.variant_id = %[1]s.variant_id)", alert)
}
