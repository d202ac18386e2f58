package dispatch

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coregx/dispatch/model"
)

// memStore is an in-memory stand-in for the three repositories. Claims take
// the mutex, so the check and the write are one step as in SQL.
type memStore struct {
	mu       sync.Mutex
	nextID   int64
	alerts   map[int64]model.Alert
	jobs     map[int64]model.ReviewJob
	products map[[2]int64]model.ProductSnapshot

	claimCalls atomic.Int64
	claimErr   error
}

func newMemStore() *memStore {
	return &memStore{
		alerts:   make(map[int64]model.Alert),
		jobs:     make(map[int64]model.ReviewJob),
		products: make(map[[2]int64]model.ProductSnapshot),
	}
}

// --- AlertRepository ---

func (s *memStore) Load(_ context.Context, id int64) (model.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return model.Alert{}, ErrNotFound
	}
	return a, nil
}

func (s *memStore) Save(_ context.Context, m model.Alert) (model.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == 0 {
		s.nextID++
		m.ID = s.nextID
	}
	s.alerts[m.ID] = m
	return m, nil
}

func (s *memStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alerts[id]; !ok {
		return ErrNotFound
	}
	delete(s.alerts, id)
	return nil
}

func (s *memStore) FindBySelector(_ context.Context, selector string) (model.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.alerts {
		if a.UnsubSelector == selector {
			return a, nil
		}
	}
	return model.Alert{}, ErrNotFound
}

func (s *memStore) FindByUser(_ context.Context, userID int64) ([]model.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Alert
	for _, a := range s.alerts {
		if a.UserID.Valid && a.UserID.Int64 == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *memStore) FindPending(_ context.Context, q model.AlertQuery) ([]model.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Alert
	for _, a := range s.alerts {
		if a.ProductID != q.ProductID || a.SubjectType != q.SubjectType || !a.IsPending() || a.ID <= q.AfterID {
			continue
		}
		if a.VariantID.Valid && (q.VariantID == 0 || a.VariantID.Int64 != q.VariantID) {
			continue
		}
		if q.AtPrice != nil && (!a.Threshold.Valid || a.Threshold.Decimal.LessThan(*q.AtPrice)) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *memStore) FindMissed(_ context.Context, afterID int64, limit int) ([]model.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Alert
	for _, a := range s.alerts {
		if a.ID > afterID && a.IsPending() && s.reportSatisfied(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) Claim(_ context.Context, id int64, now time.Time) (model.ClaimResult, error) {
	s.claimCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return 0, s.claimErr
	}
	a, ok := s.alerts[id]
	if !ok {
		return 0, ErrNotFound
	}
	if !a.IsPending() {
		return model.ClaimAlreadyClaimed, nil
	}
	if !s.conditionHolds(a) {
		return model.ClaimConditionNoLongerMet, nil
	}
	a.NotifiedAt = sql.NullTime{Time: now, Valid: true}
	a.UpdatedAt = now
	s.alerts[id] = a
	return model.ClaimClaimed, nil
}

func (s *memStore) conditionHolds(a model.Alert) bool {
	return s.anySnapshot(a, func(model.ProductSnapshot) bool { return true })
}

// reportSatisfied is conditionHolds restricted to reports made after the
// alert was created.
func (s *memStore) reportSatisfied(a model.Alert) bool {
	return s.anySnapshot(a, func(snap model.ProductSnapshot) bool {
		reported := snap.RestockedAt
		if a.SubjectType == model.SubjectPrice {
			reported = snap.PriceChangedAt
		}
		return reported.Valid && !reported.Time.Before(a.CreatedAt)
	})
}

func (s *memStore) anySnapshot(a model.Alert, also func(model.ProductSnapshot) bool) bool {
	for key, snap := range s.products {
		if key[0] != a.ProductID {
			continue
		}
		if a.VariantID.Valid && key[1] != a.VariantID.Int64 {
			continue
		}
		switch a.SubjectType {
		case model.SubjectPrice:
			if snap.Price.Valid && a.Threshold.Valid && snap.Price.Decimal.LessThanOrEqual(a.Threshold.Decimal) && also(snap) {
				return true
			}
		case model.SubjectStock:
			if snap.KnownStock() > 0 && also(snap) {
				return true
			}
		}
	}
	return false
}

// --- CatalogRepository ---

func (s *memStore) LoadSnapshot(_ context.Context, productID, variantID int64) (model.ProductSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.products[[2]int64{productID, variantID}]
	if !ok {
		return model.ProductSnapshot{}, ErrNotFound
	}
	return snap, nil
}

func (s *memStore) SaveSnapshot(_ context.Context, change model.ProductChange, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]int64{change.ProductID, change.VariantID}
	s.products[key] = change.Apply(s.products[key], now)
	return nil
}

func (s *memStore) VariantBelongsTo(_ context.Context, productID, variantID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.products[[2]int64{productID, variantID}]
	return ok, nil
}

// jobStore adapts memStore to ReviewJobRepository; the method sets overlap.
type jobStore struct{ *memStore }

func (s jobStore) Load(_ context.Context, orderID int64) (model.ReviewJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[orderID]
	if !ok {
		return model.ReviewJob{}, ErrNotFound
	}
	return j, nil
}

func (s jobStore) Save(_ context.Context, m model.ReviewJob) (model.ReviewJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.jobs[m.OrderID]; ok {
		if existing.IsSent() {
			return existing, nil
		}
		m.ID = existing.ID
	} else {
		s.nextID++
		m.ID = s.nextID
	}
	s.jobs[m.OrderID] = m
	return m, nil
}

func (s jobStore) FindDue(_ context.Context, cutoff time.Time, limit int) ([]model.ReviewJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ReviewJob
	for _, j := range s.jobs {
		if !j.IsSent() && !j.DeliveredAt.After(cutoff) {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeliveredAt.Before(out[j].DeliveredAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s jobStore) Claim(_ context.Context, orderID int64, cutoff, now time.Time) (model.ClaimResult, error) {
	s.claimCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[orderID]
	if !ok {
		return 0, ErrNotFound
	}
	if j.IsSent() {
		return model.ClaimAlreadyClaimed, nil
	}
	if j.DeliveredAt.After(cutoff) {
		return model.ClaimConditionNoLongerMet, nil
	}
	j.ReviewRequestSentAt = sql.NullTime{Time: now, Valid: true}
	s.jobs[orderID] = j
	return model.ClaimClaimed, nil
}

// recordingNotifier records every payload and optionally fails or blocks.
type recordingNotifier struct {
	mu      sync.Mutex
	sent    []model.Payload
	fail    error
	started chan struct{}
	release chan struct{}
}

func (n *recordingNotifier) Send(ctx context.Context, payload model.Payload) error {
	if n.started != nil {
		n.started <- struct{}{}
	}
	if n.release != nil {
		select {
		case <-n.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return n.fail
	}
	n.sent = append(n.sent, payload)
	return nil
}

func (n *recordingNotifier) payloads() []model.Payload {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]model.Payload(nil), n.sent...)
}

// gatedNotifier reports itself unavailable until ready is set.
type gatedNotifier struct {
	recordingNotifier
	ready atomic.Bool
}

func (n *gatedNotifier) Ready() bool { return n.ready.Load() }

// staticContacts resolves every user to "user<id>@example.com".
type staticContacts struct{}

func (staticContacts) ResolveContact(_ context.Context, userID int64, channel model.Channel) (string, error) {
	if channel == model.ChannelSMS {
		return "", NewError(ErrCodeValidation, "no phone on file")
	}
	return "user" + strconv.FormatInt(userID, 10) + "@example.com", nil
}

// fixedClock is a settable clock.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errSMTPDown = errors.New("smtp: 421 service not available")
