package model

import (
	"database/sql"
	"time"
)

// DefaultReviewGracePeriod is how long after delivery a review request is due.
const DefaultReviewGracePeriod = 72 * time.Hour

// ReviewJob is the delayed review request attached to a delivered order.
//
// It is created when fulfillment marks the order delivered and is stamped
// exactly once (ReviewRequestSentAt) by the coordinator's claim. The claim
// happens before the send, so a stamped job whose send failed stays stamped.
type ReviewJob struct {
	ID                  int64          `json:"id" db:"id"`
	OrderID             int64          `json:"orderID" db:"order_id"`
	UserID              sql.NullInt64  `json:"userID" db:"user_id"`
	Email               sql.NullString `json:"-" db:"email"`
	DeliveredAt         time.Time      `json:"deliveredAt" db:"delivered_at"`
	ReviewRequestSentAt sql.NullTime   `json:"reviewRequestSentAt" db:"review_request_sent_at"`
	CreatedAt           time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt           time.Time      `json:"updatedAt" db:"updated_at"`
}

// TableName returns the database table name for ReviewJob.
func (j ReviewJob) TableName() string {
	return tablePrefix + "review_job"
}

// NewReviewJob creates a pending review job for a delivered order.
func NewReviewJob(orderID int64, deliveredAt time.Time) ReviewJob {
	now := time.Now().UTC()
	return ReviewJob{
		OrderID:     orderID,
		DeliveredAt: deliveredAt.UTC(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// IsSent reports whether the review request was already claimed.
func (j ReviewJob) IsSent() bool {
	return j.ReviewRequestSentAt.Valid
}

// DueAt returns the earliest time the review request may be sent.
func (j ReviewJob) DueAt(grace time.Duration) time.Time {
	return j.DeliveredAt.Add(grace)
}

// IsDue reports whether the job is pending and past its grace period at now.
func (j ReviewJob) IsDue(now time.Time, grace time.Duration) bool {
	if j.IsSent() {
		return false
	}
	return !j.DueAt(grace).After(now)
}

// Redeliver moves the delivery anchor of a pending job.
// Sent jobs keep their history and return ErrReviewAlreadySent.
func (j *ReviewJob) Redeliver(deliveredAt time.Time) error {
	if j.IsSent() {
		return ErrReviewAlreadySent
	}
	j.DeliveredAt = deliveredAt.UTC()
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkSent performs the single null -> non-null transition in memory.
func (j *ReviewJob) MarkSent(now time.Time) error {
	if j.IsSent() {
		return ErrReviewAlreadySent
	}
	j.ReviewRequestSentAt = sql.NullTime{Time: now, Valid: true}
	j.UpdatedAt = now
	return nil
}
