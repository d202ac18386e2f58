package relica

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/coregx/dispatch"
	"github.com/coregx/dispatch/model"
)

// ReviewJobRepository implements dispatch.ReviewJobRepository using Relica.
type ReviewJobRepository struct {
	store
}

// NewReviewJobRepository creates a new ReviewJobRepository with default table prefix.
func NewReviewJobRepository(sqlDB *sql.DB, driverName string) *ReviewJobRepository {
	return NewReviewJobRepositoryWithPrefix(sqlDB, driverName, defaultTablePrefix)
}

// NewReviewJobRepositoryWithPrefix creates a new ReviewJobRepository with custom table prefix.
func NewReviewJobRepositoryWithPrefix(sqlDB *sql.DB, driverName, prefix string) *ReviewJobRepository {
	return &ReviewJobRepository{store: newStore(sqlDB, driverName, prefix)}
}

func (r *ReviewJobRepository) tableName() string {
	return r.table("review_job")
}

// Load retrieves the review job of an order.
func (r *ReviewJobRepository) Load(ctx context.Context, orderID int64) (model.ReviewJob, error) {
	var job model.ReviewJob

	err := r.db.WithContext(ctx).Select("*").
		From(r.tableName()).
		Where("order_id = ?", orderID).
		WithContext(ctx).
		One(&job)

	if errors.Is(err, sql.ErrNoRows) {
		return job, dispatch.ErrNotFound
	}
	if err != nil {
		return job, dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to load review job", err)
	}

	return job, nil
}

// Save upserts the job of the order in one statement and returns the stored
// row. The update is guarded by review_request_sent_at IS NULL, so a job that
// was claimed meanwhile keeps its history, and concurrent saves of a new
// order never collide on the unique index.
func (r *ReviewJobRepository) Save(ctx context.Context, m model.ReviewJob) (model.ReviewJob, error) {
	now := time.Now().UTC()
	created := m.CreatedAt
	if created.IsZero() {
		created = now
	}

	_, err := r.exec(ctx, r.upsertSQL(),
		m.OrderID, m.UserID, m.Email, m.DeliveredAt.UTC(), created.UTC(), now)
	if err != nil {
		return m, dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to save review job", err)
	}

	return r.Load(ctx, m.OrderID)
}

func (r *ReviewJobRepository) upsertSQL() string {
	t := r.tableName()
	insert := fmt.Sprintf(`INSERT INTO %s (order_id, user_id, email, delivered_at, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)`, t)

	if r.isMySQL() {
		return insert + ` ON DUPLICATE KEY UPDATE
  delivered_at = IF(review_request_sent_at IS NULL, VALUES(delivered_at), delivered_at),
  user_id = IF(review_request_sent_at IS NULL, VALUES(user_id), user_id),
  email = IF(review_request_sent_at IS NULL, VALUES(email), email),
  updated_at = IF(review_request_sent_at IS NULL, VALUES(updated_at), updated_at)`
	}

	// postgres and sqlite3
	return insert + fmt.Sprintf(` ON CONFLICT (order_id) DO UPDATE SET
  delivered_at = excluded.delivered_at,
  user_id = excluded.user_id,
  email = excluded.email,
  updated_at = excluded.updated_at
WHERE %s.review_request_sent_at IS NULL`, t)
}

// FindDue finds pending jobs delivered at or before cutoff, oldest first.
func (r *ReviewJobRepository) FindDue(ctx context.Context, cutoff time.Time, limit int) ([]model.ReviewJob, error) {
	var jobs []model.ReviewJob

	err := r.db.WithContext(ctx).Select("*").
		From(r.tableName()).
		Where("review_request_sent_at IS NULL AND delivered_at <= ?", cutoff.UTC()).
		OrderBy("delivered_at ASC").
		Limit(selectLimit(limit)).
		WithContext(ctx).
		All(&jobs)

	if err != nil {
		return nil, dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to find due review jobs", err)
	}

	return jobs, nil
}

// Claim stamps review_request_sent_at if the job is pending and was
// delivered at or before cutoff, in one UPDATE statement.
func (r *ReviewJobRepository) Claim(ctx context.Context, orderID int64, cutoff, now time.Time) (model.ClaimResult, error) {
	affected, err := r.exec(ctx,
		"UPDATE "+r.tableName()+
			" SET review_request_sent_at = ?, updated_at = ?"+
			" WHERE order_id = ? AND review_request_sent_at IS NULL AND delivered_at <= ?",
		now, now, orderID, cutoff.UTC())
	if err != nil {
		return 0, dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to claim review job", err)
	}
	if affected == 1 {
		return model.ClaimClaimed, nil
	}

	job, err := r.Load(ctx, orderID)
	if err != nil {
		return 0, err
	}
	if job.IsSent() {
		return model.ClaimAlreadyClaimed, nil
	}
	return model.ClaimConditionNoLongerMet, nil
}
