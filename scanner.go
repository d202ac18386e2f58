package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/coregx/dispatch/model"
)

// DueJobScanner selects review jobs whose grace period has elapsed.
// Overlapping scans are harmless: the claim decides who sends.
type DueJobScanner struct {
	jobs      ReviewJobRepository
	grace     time.Duration
	batchSize int
	now       func() time.Time
}

// NewDueJobScanner creates a scanner. A zero grace uses
// model.DefaultReviewGracePeriod.
func NewDueJobScanner(jobs ReviewJobRepository, grace time.Duration, batchSize int, now func() time.Time) *DueJobScanner {
	if grace <= 0 {
		grace = model.DefaultReviewGracePeriod
	}
	if now == nil {
		now = time.Now
	}
	return &DueJobScanner{jobs: jobs, grace: grace, batchSize: batchSize, now: now}
}

// Cutoff returns the latest delivery time that is due at the current clock.
func (s *DueJobScanner) Cutoff() time.Time {
	return s.now().UTC().Add(-s.grace)
}

// Scan returns pending jobs delivered at or before Cutoff, oldest first.
func (s *DueJobScanner) Scan(ctx context.Context) ([]model.ReviewJob, time.Time, error) {
	cutoff := s.Cutoff()
	jobs, err := s.jobs.FindDue(ctx, cutoff, s.batchSize)
	if err != nil {
		return nil, cutoff, fmt.Errorf("failed to find due review jobs: %w", err)
	}
	return jobs, cutoff, nil
}
